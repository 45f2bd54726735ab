// Package hikers manages linked hikers: account linking, hike settings, slugs and the stored
// provider credential.
package hikers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/MarcoPoloResearchLab/pcttracker/internal/credentials"
	"github.com/MarcoPoloResearchLab/pcttracker/internal/strava"
	"github.com/MarcoPoloResearchLab/pcttracker/internal/trail"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxSlugAttempts = 1000

// ServiceConfig describes the dependencies required for hiker management.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service manages hikers and their credentials.
type Service struct {
	db         *gorm.DB
	now        func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewService constructs the hiker service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("hikers: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = NewUUIDProvider()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:         cfg.Database,
		now:        clock,
		idProvider: idProvider,
		logger:     logger,
	}, nil
}

// LinkAthlete creates the hiker for a newly authorized athlete or refreshes the credential of an
// existing one. New hikers get a unique slug, today's date as hike start and a northbound direction.
func (s *Service) LinkAthlete(ctx context.Context, grant strava.TokenGrant) (User, error) {
	if grant.Athlete.ID <= 0 {
		return User{}, ErrInvalidAthlete
	}

	now := s.now().UTC()
	var linked User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing User
		err := tx.Where("strava_athlete_id = ?", grant.Athlete.ID).Take(&existing).Error
		switch {
		case err == nil:
			updates := map[string]interface{}{
				"access_token":       grant.AccessToken,
				"refresh_token":      grant.RefreshToken,
				"token_expires_at_s": grant.ExpiresAt.Unix(),
				"updated_at_s":       now.Unix(),
			}
			if name := normalize(grant.Athlete.DisplayName()); name != "" {
				updates["display_name"] = name
			}
			if err := tx.Model(&User{}).Where("user_id = ?", existing.UserID).Updates(updates).Error; err != nil {
				return err
			}
			return tx.Where("user_id = ?", existing.UserID).Take(&linked).Error
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		userID, err := s.idProvider.NewID()
		if err != nil {
			return err
		}
		displayName := normalize(grant.Athlete.DisplayName())
		slug, err := uniqueSlug(tx, Slugify(displayName))
		if err != nil {
			return err
		}
		startDate := now.Format(HikeDateLayout)
		linked = User{
			UserID:                userID,
			StravaAthleteID:       grant.Athlete.ID,
			DisplayName:           displayName,
			Slug:                  slug,
			HikeStartDate:         &startDate,
			Direction:             trail.DirectionNorthbound.String(),
			AccessToken:           grant.AccessToken,
			RefreshToken:          grant.RefreshToken,
			TokenExpiresAtSeconds: grant.ExpiresAt.Unix(),
			CreatedAtSeconds:      now.Unix(),
			UpdatedAtSeconds:      now.Unix(),
		}
		return tx.Create(&linked).Error
	})
	if err != nil {
		s.logger.Error("link athlete failed", zap.Int64("strava_athlete_id", grant.Athlete.ID), zap.Error(err))
		return User{}, err
	}

	s.logger.Info("athlete linked",
		zap.String("user_id", linked.UserID),
		zap.Int64("strava_athlete_id", linked.StravaAthleteID),
		zap.String("slug", linked.Slug))
	return linked, nil
}

func uniqueSlug(tx *gorm.DB, base string) (string, error) {
	candidate := base
	for attempt := 1; attempt <= maxSlugAttempts; attempt++ {
		var count int64
		if err := tx.Model(&User{}).Where("slug = ?", candidate).Count(&count).Error; err != nil {
			return "", err
		}
		if count == 0 {
			return candidate, nil
		}
		candidate = base + "-" + strconv.Itoa(attempt)
	}
	return "", fmt.Errorf("hikers: no free slug for %q", base)
}

// Settings is the hiker-editable configuration.
type Settings struct {
	StartDate      string
	EndDate        string
	Direction      string
	LighterpackURL string
}

// UpdateSettings validates and stores the hike settings. The start date is required; an end date,
// when set, must not precede it.
func (s *Service) UpdateSettings(ctx context.Context, userID string, settings Settings) (User, error) {
	start, err := ParseHikeDate(settings.StartDate)
	if err != nil {
		return User{}, err
	}
	startValue := start.Format(HikeDateLayout)

	var endValue *string
	if raw := normalize(settings.EndDate); raw != "" {
		end, err := ParseHikeDate(raw)
		if err != nil {
			return User{}, err
		}
		if end.Before(start) {
			return User{}, fmt.Errorf("%w: end %s precedes start %s", ErrInvalidHikeDate, raw, startValue)
		}
		formatted := end.Format(HikeDateLayout)
		endValue = &formatted
	}

	direction := trail.DirectionNorthbound
	if raw := normalize(settings.Direction); raw != "" {
		parsed, err := trail.ParseDirection(raw)
		if err != nil {
			return User{}, fmt.Errorf("%w: %v", ErrInvalidSettings, err)
		}
		direction = parsed
	}

	lighterpack, err := ParseLighterpackCode(settings.LighterpackURL)
	if err != nil {
		return User{}, err
	}

	result := s.db.WithContext(ctx).Model(&User{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"hike_start_date": startValue,
			"hike_end_date":   endValue,
			"direction":       direction.String(),
			"lighterpack_url": lighterpack,
			"updated_at_s":    s.now().UTC().Unix(),
		})
	if result.Error != nil {
		return User{}, result.Error
	}
	return s.Get(ctx, userID)
}

// Get loads a hiker by id.
func (s *Service) Get(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	return user, err
}

// FindBySlug loads a hiker by public slug.
func (s *Service) FindBySlug(ctx context.Context, slug string) (User, error) {
	slug = normalize(slug)
	if slug == "" {
		return User{}, ErrUserNotFound
	}
	var user User
	err := s.db.WithContext(ctx).Where("slug = ?", slug).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, fmt.Errorf("%w: slug %s", ErrUserNotFound, slug)
	}
	return user, err
}

// ListUserIDs returns every hiker id in creation order.
func (s *Service) ListUserIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&User{}).
		Order("created_at_s ASC").
		Order("user_id ASC").
		Pluck("user_id", &ids).Error
	return ids, err
}

// LoadCredential returns the stored token pair of a hiker.
func (s *Service) LoadCredential(ctx context.Context, userID string) (credentials.Credential, error) {
	user, err := s.Get(ctx, userID)
	if err != nil {
		return credentials.Credential{}, err
	}
	return credentials.Credential{
		AccessToken:  user.AccessToken,
		RefreshToken: user.RefreshToken,
		ExpiresAt:    time.Unix(user.TokenExpiresAtSeconds, 0).UTC(),
	}, nil
}

// SaveCredential replaces the stored token pair of a hiker.
func (s *Service) SaveCredential(ctx context.Context, userID string, credential credentials.Credential) error {
	result := s.db.WithContext(ctx).Model(&User{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"access_token":       credential.AccessToken,
			"refresh_token":      credential.RefreshToken,
			"token_expires_at_s": credential.ExpiresAt.Unix(),
			"updated_at_s":       s.now().UTC().Unix(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		// MySQL reports zero rows for an unchanged row; tell that apart from a missing one.
		_, err := s.Get(ctx, userID)
		return err
	}
	return nil
}
