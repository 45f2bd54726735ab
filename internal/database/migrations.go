package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/pcttracker/internal/hikers"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationLighterpackCodes = "2025-06-01_lighterpack_links_to_codes"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	migrations := []migrationDefinition{
		{name: migrationLighterpackCodes, apply: lighterpackCodes},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		logger.Info("database migration applied", zap.String("migration", migration.name))
	}
	return nil
}

// lighterpack_url first held whole share links; it now holds the bare list code. Links that do not
// reduce to a code are cleared.
func lighterpackCodes(db *gorm.DB) error {
	var rows []struct {
		UserID         string `gorm:"column:user_id"`
		LighterpackURL string `gorm:"column:lighterpack_url"`
	}
	if err := db.Model(&hikers.User{}).
		Select("user_id", "lighterpack_url").
		Where("lighterpack_url <> ''").
		Find(&rows).Error; err != nil {
		return err
	}

	for _, row := range rows {
		code, err := hikers.ParseLighterpackCode(row.LighterpackURL)
		if err != nil {
			code = ""
		}
		if code == row.LighterpackURL {
			continue
		}
		if err := db.Model(&hikers.User{}).
			Where("user_id = ?", row.UserID).
			Update("lighterpack_url", code).Error; err != nil {
			return err
		}
	}
	return nil
}
