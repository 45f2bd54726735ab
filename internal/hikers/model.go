package hikers

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/pcttracker/internal/strava"
	"github.com/MarcoPoloResearchLab/pcttracker/internal/trail"
)

// HikeDateLayout is the storage and wire format of hike dates.
const HikeDateLayout = "2006-01-02"

// defaultHikeMonths bounds the sync window when no end date is configured.
const defaultHikeMonths = 6

var (
	// ErrUserNotFound indicates that no hiker matches the lookup.
	ErrUserNotFound = errors.New("hikers: user not found")
	// ErrInvalidHikeDate indicates a malformed or inconsistent hike date.
	ErrInvalidHikeDate = errors.New("hikers: invalid hike date")
	// ErrInvalidSettings indicates rejected settings input other than dates.
	ErrInvalidSettings = errors.New("hikers: invalid settings")
	// ErrInvalidAthlete indicates a token grant without an athlete id.
	ErrInvalidAthlete = errors.New("hikers: invalid athlete")
)

// User is a linked hiker together with their provider credential.
type User struct {
	UserID                string  `gorm:"column:user_id;primaryKey;size:190;not null"`
	StravaAthleteID       int64   `gorm:"column:strava_athlete_id;not null;uniqueIndex"`
	DisplayName           string  `gorm:"column:display_name;size:320;not null;default:''"`
	Slug                  string  `gorm:"column:slug;size:190;not null;uniqueIndex"`
	HikeStartDate         *string `gorm:"column:hike_start_date;size:10"`
	HikeEndDate           *string `gorm:"column:hike_end_date;size:10"`
	Direction             string  `gorm:"column:direction;size:4;not null;default:'NOBO'"`
	LighterpackURL        string  `gorm:"column:lighterpack_url;size:512;not null;default:''"`
	AccessToken           string  `gorm:"column:access_token;size:255;not null;default:''"`
	RefreshToken          string  `gorm:"column:refresh_token;size:255;not null;default:''"`
	TokenExpiresAtSeconds int64   `gorm:"column:token_expires_at_s;not null;default:0"`
	CreatedAtSeconds      int64   `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds      int64   `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (User) TableName() string {
	return "users"
}

// HikeDirection returns the configured direction, defaulting to northbound.
func (u User) HikeDirection() trail.Direction {
	direction, err := trail.ParseDirection(u.Direction)
	if err != nil {
		return trail.DirectionNorthbound
	}
	return direction
}

// Window resolves the sync window from the hike dates. The start date opens the window at UTC
// midnight and an explicit end date closes it at its own midnight, so activities on the end day
// fall outside. Without an end date the window spans six months. No start date yields an open
// window.
func (u User) Window() (strava.Window, error) {
	if u.HikeStartDate == nil || strings.TrimSpace(*u.HikeStartDate) == "" {
		return strava.Window{}, nil
	}
	start, err := ParseHikeDate(*u.HikeStartDate)
	if err != nil {
		return strava.Window{}, err
	}

	end := start.AddDate(0, defaultHikeMonths, 0)
	if u.HikeEndDate != nil && strings.TrimSpace(*u.HikeEndDate) != "" {
		explicitEnd, err := ParseHikeDate(*u.HikeEndDate)
		if err != nil {
			return strava.Window{}, err
		}
		if explicitEnd.Before(start) {
			return strava.Window{}, fmt.Errorf("%w: end %s precedes start %s", ErrInvalidHikeDate, *u.HikeEndDate, *u.HikeStartDate)
		}
		end = explicitEnd
	}
	return strava.Window{After: start, Before: end}, nil
}

// ParseHikeDate parses a YYYY-MM-DD date at UTC midnight.
func ParseHikeDate(raw string) (time.Time, error) {
	parsed, err := time.ParseInLocation(HikeDateLayout, strings.TrimSpace(raw), time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidHikeDate, raw)
	}
	return parsed, nil
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
