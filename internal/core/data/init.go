// Package data persists the results of completed long-sum sessions.
package data

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrDisabled is returned by Open when no database engine is configured.
var ErrDisabled = errors.New("data: no database engine configured")

// Options selects and locates the database.
type Options struct {
	// Engine is sqlite or postgres.
	Engine string
	// Dir is the directory a relative sqlite Filename is resolved against.
	Dir      string
	Filename string
	// DSN is the postgres connection string.
	DSN   string
	Debug bool
}

// Open connects to the configured database and migrates the schema.
func Open(opts Options) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(opts.Engine) {
	case "":
		return nil, ErrDisabled
	case "sqlite":
		path := opts.Filename
		if !filepath.IsAbs(path) {
			path = filepath.Join(opts.Dir, path)
		}
		dialector = sqlite.Open(path)
	case "postgres":
		dialector = postgres.Open(opts.DSN)
	default:
		return nil, fmt.Errorf("unsupported database engine: %s", opts.Engine)
	}

	// By default only log errors but enable full SQL query prints-to-console with debug mode
	log := logger.Default.LogMode(logger.Error)
	if opts.Debug {
		log = logger.Default.LogMode(logger.Info)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: log})
	if err != nil {
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}

	if err := db.AutoMigrate(&SessionResult{}); err != nil {
		return nil, fmt.Errorf("error auto migrating db: %w", err)
	}
	return db, nil
}

func Shutdown(db *gorm.DB) error {
	database, err := db.DB()
	if err != nil {
		return fmt.Errorf("error while getting current connection: %w", err)
	}
	if err := database.Close(); err != nil {
		return fmt.Errorf("error while closing database connection: %w", err)
	}
	return nil
}
