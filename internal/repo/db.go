// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file contains database bootstrapping helpers for the
// hosted Postgres database and the pure-Go SQLite driver used in development
// and tests, plus schema migrations.
package repo

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/tbourn/bookshelvz-backend/internal/domain"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = gorm.ErrRecordNotFound

// IsPostgresDSN reports whether dsn addresses a Postgres server.
func IsPostgresDSN(dsn string) bool {
	low := strings.ToLower(strings.TrimSpace(dsn))
	return strings.HasPrefix(low, "postgres://") || strings.HasPrefix(low, "postgresql://") || strings.Contains(low, "host=")
}

// Open connects to Postgres for postgres:// URLs and to SQLite otherwise,
// installs the OpenTelemetry tracing plugin, and applies pool settings.
func Open(dsn string) (*gorm.DB, error) {
	if IsPostgresDSN(dsn) {
		return OpenPostgres(dsn)
	}
	return OpenSQLite(dsn)
}

// OpenPostgres opens a Postgres connection with prepared statements enabled.
func OpenPostgres(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		PrepareStmt:    true,
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}
	if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
		return nil, err
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(20)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}
	return db, nil
}

// OpenSQLite opens (or creates) a SQLite database and applies PRAGMAs.
func OpenSQLite(path string) (*gorm.DB, error) {
	// Fail early if parent directory does not exist (instead of sqlite "out of memory (14)" on Windows).
	if !strings.HasPrefix(path, "file:") {
		if dir := filepath.Dir(path); dir != "." {
			if _, err := os.Stat(dir); err != nil {
				return nil, err
			}
		}
	}

	db, err := gorm.Open(sqlite.Open(withForeignKeys(path)), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
		return nil, err
	}

	// PRAGMAs
	db.Exec("PRAGMA journal_mode=WAL;")
	db.Exec("PRAGMA synchronous=NORMAL;")
	db.Exec("PRAGMA foreign_keys=ON;")
	db.Exec("PRAGMA busy_timeout=5000;")

	// Pool
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}

	return db, nil
}

// withForeignKeys enables foreign key enforcement on every pooled connection,
// not only the one that runs the PRAGMA below.
func withForeignKeys(dsn string) string {
	if strings.Contains(dsn, "foreign_keys") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=foreign_keys(1)"
}

// AutoMigrate creates or updates every table the API reads or writes.
func AutoMigrate(db *gorm.DB) error {
	if err := db.SetupJoinTable(&domain.Book{}, "Categories", &domain.BookCategory{}); err != nil {
		return err
	}
	return db.AutoMigrate(
		&domain.Category{},
		&domain.Book{},
		&domain.BookCategory{},
		&domain.UserProfile{},
		&domain.Credential{},
		&domain.Order{},
		&domain.OrderItem{},
		&domain.ReadingProgress{},
		&domain.Bookmark{},
		&domain.Review{},
		&domain.Wishlist{},
		&domain.Idempotency{},
	)
}

// Ping checks connectivity with a bounded deadline.
func Ping(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return sqlDB.PingContext(ctx)
}
