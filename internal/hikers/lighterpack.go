package hikers

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

const lighterpackListPrefix = "/r/"

var lighterpackCodePattern = regexp.MustCompile(`^[A-Za-z0-9]+$`)

// ParseLighterpackCode accepts a bare Lighterpack list code or a pasted share link such as
// https://lighterpack.com/r/abc123 and returns the code. Blank input yields an empty code.
func ParseLighterpackCode(raw string) (string, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return "", nil
	}
	if lighterpackCodePattern.MatchString(value) {
		return value, nil
	}

	parsed, err := url.Parse(value)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return "", fmt.Errorf("%w: lighterpack code %q", ErrInvalidSettings, value)
	}
	host := strings.TrimPrefix(strings.ToLower(parsed.Hostname()), "www.")
	code := strings.TrimSuffix(strings.TrimPrefix(parsed.Path, lighterpackListPrefix), "/")
	if host != "lighterpack.com" || !strings.HasPrefix(parsed.Path, lighterpackListPrefix) || !lighterpackCodePattern.MatchString(code) {
		return "", fmt.Errorf("%w: lighterpack code %q", ErrInvalidSettings, value)
	}
	return code, nil
}
