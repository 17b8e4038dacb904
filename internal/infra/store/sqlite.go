// Package store persists NAS connection descriptors in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/rs/zerolog/log"
)

const (
	// CurrentSchemaVersion is the current database schema version.
	CurrentSchemaVersion = "1"

	// DefaultDBFile is the database file name inside the data directory.
	DefaultDBFile = "connections.db"
)

// ErrNotOpen is returned by operations on a closed database.
var ErrNotOpen = errors.New("database not open")

// DB represents the SQLite connection database.
type DB struct {
	mu   sync.RWMutex
	db   *sql.DB
	path string
}

// NewDB creates a new database instance. An empty path selects DefaultDBFile
// in the working directory.
func NewDB(path string) *DB {
	if path == "" {
		path = DefaultDBFile
	}
	return &DB{path: path}
}

// Path returns the database file path.
func (d *DB) Path() string {
	return d.path
}

// Open opens the database and initializes the schema.
func (d *DB) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(d.path), 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite3", d.path+"?_journal=WAL&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	d.db = db

	if err := d.initSchema(); err != nil {
		d.db.Close()
		d.db = nil
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	log.Info().Str("path", d.path).Msg("Connection database opened")
	return nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.db != nil {
		err := d.db.Close()
		d.db = nil
		return err
	}
	return nil
}

// SchemaVersion returns the stored schema version.
func (d *DB) SchemaVersion() (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.db == nil {
		return "", ErrNotOpen
	}
	return d.getMeta("schema_version")
}

func (d *DB) initSchema() error {
	currentVersion, _ := d.getMeta("schema_version")

	if currentVersion == "" {
		if err := d.createSchema(); err != nil {
			return err
		}
		return d.setMeta("schema_version", CurrentSchemaVersion)
	}

	if currentVersion != CurrentSchemaVersion {
		log.Info().
			Str("current", currentVersion).
			Str("target", CurrentSchemaVersion).
			Msg("Migrating connection schema")
		return d.setMeta("schema_version", CurrentSchemaVersion)
	}

	return nil
}

func (d *DB) createSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS nas_connections (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		address TEXT NOT NULL UNIQUE,
		broadcast_address TEXT NOT NULL,
		api_key TEXT NOT NULL,
		base_url TEXT NOT NULL,
		mac_address TEXT,
		wake_on_lan_port INTEGER NOT NULL DEFAULT 9,
		is_active INTEGER NOT NULL DEFAULT 0,
		created_at TEXT DEFAULT CURRENT_TIMESTAMP,
		updated_at TEXT DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS store_meta (
		key TEXT PRIMARY KEY,
		value TEXT,
		updated_at TEXT DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_nas_connections_active ON nas_connections(is_active);
	`

	if _, err := d.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	log.Info().Msg("Connection schema created")
	return nil
}

func (d *DB) setMeta(key, value string) error {
	now := time.Now().Format(time.RFC3339)
	_, err := d.db.Exec(`
		INSERT INTO store_meta (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = ?, updated_at = ?
	`, key, value, now, value, now)
	return err
}

func (d *DB) getMeta(key string) (string, error) {
	var value string
	err := d.db.QueryRow("SELECT value FROM store_meta WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// handle returns the underlying sql.DB, or ErrNotOpen.
func (d *DB) handle() (*sql.DB, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.db == nil {
		return nil, ErrNotOpen
	}
	return d.db, nil
}

// Ping verifies the database is open and reachable.
func (d *DB) Ping(ctx context.Context) error {
	db, err := d.handle()
	if err != nil {
		return err
	}
	return db.PingContext(ctx)
}
