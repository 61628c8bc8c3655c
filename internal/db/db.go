// Package db provides database connection management and schema migrations.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"

	apperrors "github.com/Whitemarmot/cinq-offline/internal/errors"
)

// DB wraps the sql.DB with offline-store configuration.
type DB struct {
	*sql.DB
}

var (
	openMu sync.Mutex
	opened = make(map[string]*DB)
)

// Open opens the offline database under dataDir and applies pending
// migrations. It is idempotent and single-flight: concurrent and repeated
// callers for the same directory receive the same ready handle. A failure
// to open or migrate is reported as STORAGE_UNAVAILABLE.
//
// The database is opened with:
// - WAL mode for concurrent reads alongside the single writer
// - foreign key constraints enabled
func Open(dataDir string) (*DB, error) {
	openMu.Lock()
	defer openMu.Unlock()

	if db, ok := opened[dataDir]; ok {
		return db, nil
	}

	db, err := open(dataDir)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorageUnavailable, "failed to open offline store", err)
	}

	if err := Migrate(db.DB); err != nil {
		db.DB.Close()
		return nil, apperrors.Wrap(apperrors.ErrStorageUnavailable, "failed to migrate offline store", err)
	}

	opened[dataDir] = db
	return db, nil
}

// open opens the raw SQLite handle without migrating.
func open(dataDir string) (*DB, error) {
	dsn := dataDir
	if dataDir != ":memory:" {
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "cinq-offline.db")
	}

	// Open database with modernc.org/sqlite (pure Go, no CGO)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite doesn't support multiple writers
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return &DB{db}, nil
}

// Close closes the database connection and releases the shared handle.
func (db *DB) Close() error {
	openMu.Lock()
	for dir, shared := range opened {
		if shared == db {
			delete(opened, dir)
		}
	}
	openMu.Unlock()
	return db.DB.Close()
}
