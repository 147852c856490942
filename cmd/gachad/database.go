package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/MarkoPoloResearchLab/fanpoints/internal/app"
	"github.com/MarkoPoloResearchLab/fanpoints/internal/config"
	"github.com/MarkoPoloResearchLab/fanpoints/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/fanpoints/internal/store/memstore"
	"github.com/MarkoPoloResearchLab/fanpoints/internal/store/pgstore"
	"github.com/MarkoPoloResearchLab/fanpoints/pkg/ledger"
	"github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5/pgxpool"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	driverPostgres = "postgres"
	driverSQLite   = "sqlite"
	driverMemory   = "memory"
	memoryURL      = "memory://"
)

// backend is a storage backend that can also record circle membership.
type backend interface {
	app.Backend
	AddCircleMember(ctx context.Context, circleID ledger.CircleID, userID ledger.UserID) error
}

func openBackend(ctx context.Context, databaseURL string, storeDriver string) (backend, func() error, error) {
	driver, sqlitePath, err := resolveDriver(databaseURL)
	if err != nil {
		return nil, nil, err
	}
	if driver == driverMemory {
		return memstore.New(), func() error { return nil }, nil
	}
	if storeDriver == config.StoreDriverPgx {
		if driver != driverPostgres {
			return nil, nil, fmt.Errorf("store driver %s requires postgres, got %s", config.StoreDriverPgx, driver)
		}
		pool, err := pgxpool.New(ctx, databaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("pgx pool: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("pgx ping: %w", err)
		}
		return pgstore.New(pool), func() error { pool.Close(); return nil }, nil
	}

	gormDB, cleanup, err := openDatabase(ctx, driver, databaseURL, sqlitePath)
	if err != nil {
		return nil, nil, err
	}
	store := gormstore.New(gormDB)
	if err := prepareSchema(ctx, store, driver); err != nil {
		_ = cleanup()
		return nil, nil, err
	}
	return store, cleanup, nil
}

func openDatabase(ctx context.Context, driver string, dsn string, sqlitePath string) (*gorm.DB, func() error, error) {
	var (
		db  *gorm.DB
		err error
	)
	cfg := &gorm.Config{}
	switch driver {
	case driverPostgres:
		db, err = gorm.Open(postgres.Open(dsn), cfg)
	case driverSQLite:
		db, err = gorm.Open(sqlite.Open(sqlitePath), cfg)
	default:
		return nil, nil, fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err != nil {
		return nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, err
	}
	if driver == driverSQLite {
		// sqlite allows a single writer
		sqlDB.SetMaxOpenConns(1)
	}
	cleanup := func() error { return sqlDB.Close() }
	return db.WithContext(ctx), cleanup, nil
}

func resolveDriver(dsn string) (string, string, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == memoryURL {
		return driverMemory, "", nil
	}
	if config.IsPostgresURL(trimmed) {
		return driverPostgres, "", nil
	}
	if strings.HasPrefix(trimmed, "sqlite://") {
		u, err := url.Parse(trimmed)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := u.Path
		if path == "" {
			path = u.Host
		}
		if path == "" || path == "/" {
			path = "fanpoints.db"
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return driverSQLite, sqlitePath, err
	}
	if trimmed == "" {
		return "", "", fmt.Errorf("database url is required")
	}
	// Treat everything else as a direct sqlite path.
	sqlitePath, err := normalizeSQLitePath(trimmed)
	return driverSQLite, sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if strings.HasPrefix(path, "/") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		return path, nil
	}
	abs := filepath.Join(".", path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	return abs, nil
}

// prepareSchema auto-migrates sqlite; postgres schemas come from `gachad migrate`.
func prepareSchema(ctx context.Context, store *gormstore.Store, driver string) error {
	if driver != driverSQLite {
		return nil
	}
	if err := store.AutoMigrate(ctx); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
