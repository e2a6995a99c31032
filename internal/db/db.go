package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/hpungsan/sugya/internal/config"
)

// CurrentSchemaVersion is the latest schema version.
// Bump this when adding migrations.
const CurrentSchemaVersion = 1

// Dialect selects placeholder style and DDL.
type Dialect int

const (
	SQLite Dialect = iota
	Postgres
)

func (d Dialect) String() string {
	if d == Postgres {
		return "postgres"
	}
	return "sqlite"
}

// Init initializes the SQLite database at baseDir/sugya.db.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.sugya.
func Init(baseDir string) (*sql.DB, error) {
	// Create base directory with restricted permissions
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	// Explicit chmod (best-effort, may not work on all platforms)
	_ = os.Chmod(baseDir, 0700)

	if err := ensureExportsDir(baseDir); err != nil {
		return nil, err
	}

	// Open database with pragmas in connection string (applies to all connections)
	dbPath := filepath.Join(baseDir, "sugya.db")
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Verify WAL mode is active
	if err := verifyWALMode(db); err != nil {
		db.Close()
		return nil, err
	}

	// Run migrations (this creates the file if it doesn't exist)
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	// Set file permissions after file exists (best-effort)
	_ = os.Chmod(dbPath, 0600)

	return db, nil
}

// OpenPostgres connects to databaseURL through pgx and applies the schema.
// baseDir still hosts the exports directory.
func OpenPostgres(ctx context.Context, baseDir, databaseURL string) (*sql.DB, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	if err := ensureExportsDir(baseDir); err != nil {
		return nil, err
	}

	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := migratePostgres(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Open picks the backend from cfg: Postgres when database_url is set, the
// SQLite file in baseDir otherwise.
func Open(ctx context.Context, baseDir string, cfg *config.Config) (*sql.DB, Dialect, error) {
	var (
		db      *sql.DB
		dialect Dialect
		err     error
	)
	if cfg != nil && cfg.DatabaseURL != "" {
		db, err = OpenPostgres(ctx, baseDir, cfg.DatabaseURL)
		dialect = Postgres
	} else {
		db, err = Init(baseDir)
		dialect = SQLite
	}
	if err != nil {
		return nil, dialect, err
	}
	ConfigurePool(db, cfg)
	return db, dialect, nil
}

// ConfigurePool applies connection pool settings from config.
// Only sets limits if explicitly configured (non-zero values).
func ConfigurePool(db *sql.DB, cfg *config.Config) {
	if cfg == nil {
		return
	}
	if cfg.DBMaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	}
	if cfg.DBMaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	}
}

func ensureExportsDir(baseDir string) error {
	exportsDir := filepath.Join(baseDir, "exports")
	if err := os.MkdirAll(exportsDir, 0700); err != nil {
		return fmt.Errorf("failed to create exports directory: %w", err)
	}
	_ = os.Chmod(exportsDir, 0700)
	return nil
}

const sqliteSchemaV1 = `
CREATE TABLE IF NOT EXISTS trees (
  id                  TEXT PRIMARY KEY,
  title               TEXT NOT NULL,
  source_text         TEXT NOT NULL,
  hebrew_text         TEXT NOT NULL DEFAULT '',
  hebrew_translation  TEXT,
  translation         TEXT NOT NULL DEFAULT '',
  user_notes_keywords TEXT NOT NULL DEFAULT '',
  created_at          INTEGER NOT NULL,
  updated_at          INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS branches (
  id                  TEXT PRIMARY KEY,
  tree_id             TEXT NOT NULL REFERENCES trees(id),
  position            INTEGER NOT NULL,
  author              TEXT NOT NULL DEFAULT '',
  work_title          TEXT NOT NULL DEFAULT '',
  publication_details TEXT NOT NULL DEFAULT '',
  year                INTEGER,
  reference_text      TEXT NOT NULL DEFAULT '',
  user_notes          TEXT NOT NULL DEFAULT '',
  category            TEXT,
  keywords_json       TEXT,
  harvested_at        INTEGER,
  merged_from_json    TEXT,
  created_at          INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_branches_tree_position
ON branches(tree_id, position);

CREATE INDEX IF NOT EXISTS idx_trees_created
ON trees(created_at, id);
`

const postgresSchemaV1 = `
CREATE TABLE IF NOT EXISTS trees (
  id                  TEXT PRIMARY KEY,
  title               TEXT NOT NULL,
  source_text         TEXT NOT NULL,
  hebrew_text         TEXT NOT NULL DEFAULT '',
  hebrew_translation  TEXT,
  translation         TEXT NOT NULL DEFAULT '',
  user_notes_keywords TEXT NOT NULL DEFAULT '',
  created_at          BIGINT NOT NULL,
  updated_at          BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS branches (
  id                  TEXT PRIMARY KEY,
  tree_id             TEXT NOT NULL REFERENCES trees(id),
  position            INTEGER NOT NULL,
  author              TEXT NOT NULL DEFAULT '',
  work_title          TEXT NOT NULL DEFAULT '',
  publication_details TEXT NOT NULL DEFAULT '',
  year                INTEGER,
  reference_text      TEXT NOT NULL DEFAULT '',
  user_notes          TEXT NOT NULL DEFAULT '',
  category            TEXT,
  keywords_json       TEXT,
  harvested_at        BIGINT,
  merged_from_json    TEXT,
  created_at          BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_branches_tree_position
ON branches(tree_id, position);

CREATE INDEX IF NOT EXISTS idx_trees_created
ON trees(created_at, id);

CREATE TABLE IF NOT EXISTS schema_version (
  version INTEGER NOT NULL
);
`

// migrate applies schema migrations based on user_version.
func migrate(db *sql.DB) error {
	version, err := GetUserVersion(db)
	if err != nil {
		return err
	}

	// Migration 0 -> 1: trees and branches
	if version < 1 {
		if _, err := db.Exec(sqliteSchemaV1); err != nil {
			return fmt.Errorf("migration 1 failed: %w", err)
		}
		if err := SetUserVersion(db, 1); err != nil {
			return err
		}
	}

	// Future migrations go here:
	// if version < 2 { ... }

	return nil
}

// migratePostgres mirrors migrate with a schema_version table, since Postgres
// has no user_version pragma.
func migratePostgres(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, postgresSchemaV1); err != nil {
		return fmt.Errorf("migration 1 failed: %w", err)
	}

	var version int
	err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	if err != nil {
		return fmt.Errorf("failed to read schema_version: %w", err)
	}
	if version < 1 {
		if _, err := db.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (1)"); err != nil {
			return fmt.Errorf("failed to set schema_version: %w", err)
		}
	}
	return nil
}

// verifyWALMode checks that WAL mode is active (set via connection string).
func verifyWALMode(db *sql.DB) error {
	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode;").Scan(&journalMode); err != nil {
		return fmt.Errorf("failed to verify journal mode: %w", err)
	}
	if journalMode != "wal" {
		return fmt.Errorf("expected WAL mode, got %s", journalMode)
	}
	return nil
}

// GetUserVersion returns the current schema version (user_version pragma).
func GetUserVersion(db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get user_version: %w", err)
	}
	return version, nil
}

// SetUserVersion sets the schema version (user_version pragma).
func SetUserVersion(db *sql.DB, version int) error {
	_, err := db.Exec(fmt.Sprintf("PRAGMA user_version=%d", version))
	if err != nil {
		return fmt.Errorf("failed to set user_version: %w", err)
	}
	return nil
}
