package hikers

import (
	"strings"
	"unicode"
)

const (
	fallbackSlug  = "hiker"
	maxSlugLength = 60
)

// Slugify lowercases the name and collapses every run of non-alphanumeric characters into a
// single hyphen.
func Slugify(name string) string {
	var builder strings.Builder
	pendingHyphen := false
	for _, r := range strings.ToLower(name) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			if pendingHyphen && builder.Len() > 0 {
				builder.WriteByte('-')
			}
			pendingHyphen = false
			builder.WriteRune(r)
			continue
		}
		pendingHyphen = true
	}
	slug := builder.String()
	if len(slug) > maxSlugLength {
		slug = strings.TrimRight(slug[:maxSlugLength], "-")
	}
	if slug == "" {
		return fallbackSlug
	}
	return slug
}
