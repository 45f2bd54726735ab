// Package updates stores the short trail updates hikers post to their public page.
package updates

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	// MaxBodyLength is the longest accepted update body in characters.
	MaxBodyLength = 500
	// MaxTitleLength is the longest accepted title in characters.
	MaxTitleLength = 120
)

var (
	// ErrInvalidUpdate indicates rejected update input.
	ErrInvalidUpdate = errors.New("updates: invalid update")
	// ErrUpdateNotFound indicates the update does not exist or belongs to another hiker.
	ErrUpdateNotFound = errors.New("updates: update not found")
)

// TrailUpdate is one hiker post.
type TrailUpdate struct {
	UpdateID         string   `gorm:"column:update_id;primaryKey;size:190;not null" json:"id"`
	UserID           string   `gorm:"column:user_id;size:190;not null;index:idx_trail_updates_user_created,priority:1" json:"user_id"`
	Title            string   `gorm:"column:title;size:255;not null" json:"title"`
	Body             string   `gorm:"column:body;type:text;not null" json:"body"`
	Lat              *float64 `gorm:"column:lat" json:"lat"`
	Lon              *float64 `gorm:"column:lon" json:"lon"`
	CreatedAtSeconds int64    `gorm:"column:created_at_s;not null;index:idx_trail_updates_user_created,priority:2" json:"created_at_s"`
}

// TableName provides the explicit table binding for GORM.
func (TrailUpdate) TableName() string {
	return "trail_updates"
}

// Input is the editable content of an update.
type Input struct {
	Title string
	Body  string
	Lat   *float64
	Lon   *float64
}

// IDProvider issues update identifiers.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies of the update service.
type ServiceConfig struct {
	Database   *gorm.DB
	IDProvider IDProvider
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Service manages trail updates.
type Service struct {
	db         *gorm.DB
	idProvider IDProvider
	clock      func() time.Time
	logger     *zap.Logger
}

// NewService constructs the update service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("updates: database connection required")
	}
	if cfg.IDProvider == nil {
		return nil, fmt.Errorf("updates: id provider required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: cfg.Database, idProvider: cfg.IDProvider, clock: clock, logger: logger}, nil
}

// Create stores a new update for the hiker.
func (s *Service) Create(ctx context.Context, userID string, input Input) (TrailUpdate, error) {
	normalized, err := validate(input)
	if err != nil {
		return TrailUpdate{}, err
	}
	updateID, err := s.idProvider.NewID()
	if err != nil {
		return TrailUpdate{}, err
	}
	update := TrailUpdate{
		UpdateID:         updateID,
		UserID:           userID,
		Title:            normalized.Title,
		Body:             normalized.Body,
		Lat:              normalized.Lat,
		Lon:              normalized.Lon,
		CreatedAtSeconds: s.clock().UTC().Unix(),
	}
	if err := s.db.WithContext(ctx).Create(&update).Error; err != nil {
		s.logger.Error("trail update insert failed", zap.String("user_id", userID), zap.Error(err))
		return TrailUpdate{}, err
	}
	return update, nil
}

// Edit replaces the content of an update owned by the hiker.
func (s *Service) Edit(ctx context.Context, userID, updateID string, input Input) error {
	normalized, err := validate(input)
	if err != nil {
		return err
	}
	result := s.db.WithContext(ctx).Model(&TrailUpdate{}).
		Where("update_id = ? AND user_id = ?", updateID, userID).
		Updates(map[string]interface{}{
			"title": normalized.Title,
			"body":  normalized.Body,
			"lat":   normalized.Lat,
			"lon":   normalized.Lon,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return s.ensureOwned(ctx, userID, updateID)
	}
	return nil
}

// Delete removes an update owned by the hiker.
func (s *Service) Delete(ctx context.Context, userID, updateID string) error {
	result := s.db.WithContext(ctx).
		Where("update_id = ? AND user_id = ?", updateID, userID).
		Delete(&TrailUpdate{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrUpdateNotFound, updateID)
	}
	return nil
}

// List returns the hiker's updates, newest first.
func (s *Service) List(ctx context.Context, userID string) ([]TrailUpdate, error) {
	updates := []TrailUpdate{}
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at_s DESC").
		Order("update_id DESC").
		Find(&updates).Error
	return updates, err
}

func (s *Service) ensureOwned(ctx context.Context, userID, updateID string) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&TrailUpdate{}).
		Where("update_id = ? AND user_id = ?", updateID, userID).
		Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("%w: %s", ErrUpdateNotFound, updateID)
	}
	return nil
}

func validate(input Input) (Input, error) {
	title := strings.TrimSpace(input.Title)
	body := strings.TrimSpace(input.Body)
	if title == "" || body == "" {
		return Input{}, fmt.Errorf("%w: title and body are required", ErrInvalidUpdate)
	}
	if utf8.RuneCountInString(title) > MaxTitleLength {
		return Input{}, fmt.Errorf("%w: title exceeds %d characters", ErrInvalidUpdate, MaxTitleLength)
	}
	if utf8.RuneCountInString(body) > MaxBodyLength {
		return Input{}, fmt.Errorf("%w: body exceeds %d characters", ErrInvalidUpdate, MaxBodyLength)
	}
	if (input.Lat == nil) != (input.Lon == nil) {
		return Input{}, fmt.Errorf("%w: lat and lon must be set together", ErrInvalidUpdate)
	}
	if input.Lat != nil {
		lat, lon := *input.Lat, *input.Lon
		if math.IsNaN(lat) || math.IsNaN(lon) || math.Abs(lat) > 90 || math.Abs(lon) > 180 {
			return Input{}, fmt.Errorf("%w: coordinates out of range", ErrInvalidUpdate)
		}
	}
	return Input{Title: title, Body: body, Lat: input.Lat, Lon: input.Lon}, nil
}
