package database

import (
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/pcttracker/internal/hikers"
	"github.com/MarcoPoloResearchLab/pcttracker/internal/tracker"
	"github.com/MarcoPoloResearchLab/pcttracker/internal/updates"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// Supported drivers.
const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

const sqliteBusyTimeoutPragma = "_pragma=busy_timeout(5000)"

// Options selects the database backend.
type Options struct {
	Driver string
	// Path is the SQLite file.
	Path string
	// DSN is the MySQL data source name.
	DSN string
}

// Open establishes a connection for the configured driver and performs schema migrations.
func Open(options Options, logger *zap.Logger) (*gorm.DB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		db     *gorm.DB
		err    error
		target string
	)
	switch strings.ToLower(strings.TrimSpace(options.Driver)) {
	case DriverSQLite, "":
		if strings.TrimSpace(options.Path) == "" {
			return nil, fmt.Errorf("database path is required")
		}
		db, err = openSQLite(options.Path)
		target = options.Path
	case DriverMySQL:
		if strings.TrimSpace(options.DSN) == "" {
			return nil, fmt.Errorf("database dsn is required")
		}
		db, err = gorm.Open(mysql.Open(options.DSN), &gorm.Config{})
		target = DriverMySQL
	default:
		return nil, fmt.Errorf("unsupported database driver %q", options.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := Migrate(db, logger); err != nil {
		return nil, err
	}

	logger.Info("database initialized", zap.String("driver", options.Driver), zap.String("target", target))
	return db, nil
}

// Migrate brings the schema up to date.
func Migrate(db *gorm.DB, logger *zap.Logger) error {
	if err := db.AutoMigrate(
		&hikers.User{},
		&tracker.Activity{},
		&tracker.SyncState{},
		&tracker.LatestPosition{},
		&updates.TrailUpdate{},
		&migrationRecord{},
	); err != nil {
		return err
	}
	return applyMigrations(db, logger)
}

func openSQLite(path string) (*gorm.DB, error) {
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?" + sqliteBusyTimeoutPragma
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}
