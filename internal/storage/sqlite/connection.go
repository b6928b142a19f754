// Package sqlite is the system of record: tenants, sites, employees, work
// cards, day entries, the extraction job queue and portal upload links. One
// connection with WAL and a busy timeout serves all stores.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ternarybob/arbor"
	_ "modernc.org/sqlite"

	"github.com/kardex-io/kardex/internal/common"
)

// DB manages the SQLite database connection.
type DB struct {
	db     *sql.DB
	logger arbor.ILogger
	config *common.DatabaseConfig
}

// NewDB opens the database, applies pragmas and runs migrations.
func NewDB(logger arbor.ILogger, config *common.DatabaseConfig) (*DB, error) {
	path := databasePath(config.URL)

	if dir := databaseDir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// modernc.org/sqlite registers under "sqlite" (not "sqlite3").
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &DB{
		db:     db,
		logger: logger,
		config: config,
	}

	if err := s.configure(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Info().Str("path", path).Msg("SQLite database initialized")
	return s, nil
}

// databasePath normalizes the configured URL to something sql.Open accepts:
// a bare filesystem path, a file: DSN (passed through), or a sqlite://
// prefix (stripped).
func databasePath(url string) string {
	if strings.HasPrefix(url, "sqlite://") {
		return strings.TrimPrefix(url, "sqlite://")
	}
	return url
}

// databaseDir returns the directory to create for a path, or "" when the
// database is in-memory.
func databaseDir(path string) string {
	if path == ":memory:" || strings.Contains(path, "mode=memory") {
		return ""
	}
	p := strings.TrimPrefix(path, "file:")
	if idx := strings.IndexByte(p, '?'); idx >= 0 {
		p = p[:idx]
	}
	if p == "" || p == ":memory:" {
		return ""
	}
	return filepath.Dir(p)
}

// configure applies pragmas. Foreign keys are ON: every table here is
// relational state other tables depend on.
func (s *DB) configure() error {
	pragmas := []string{
		fmt.Sprintf("PRAGMA cache_size = -%d", s.config.CacheSizeMB*1024), // negative for KB
		fmt.Sprintf("PRAGMA busy_timeout = %d", s.config.BusyTimeoutMS),
		"PRAGMA foreign_keys = ON",
		"PRAGMA synchronous = NORMAL",
	}

	if s.config.WALMode {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}

	for _, pragma := range pragmas {
		if _, err := s.db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}

	return nil
}

// DB returns the underlying database connection.
func (s *DB) DB() *sql.DB {
	return s.db
}

// Close closes the database connection.
func (s *DB) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// BeginTx starts a new transaction.
func (s *DB) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, nil)
}

// Ping verifies the database connection.
func (s *DB) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
