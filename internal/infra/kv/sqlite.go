package kv

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/cockroachdb/errors"
	_ "modernc.org/sqlite" // SQLite driver
)

const (
	appName    = "tunequeue"
	dbFileName = "tunequeue.db"
)

// SQLite is a Store backed by a single-table SQLite database.
type SQLite struct {
	db   *sql.DB
	path string
}

// DefaultPath returns the database location under the XDG data directory.
func DefaultPath() (string, error) {
	return xdg.DataFile(filepath.Join(appName, dbFileName))
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string) (*SQLite, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, errors.Wrap(err, "failed to resolve data path")
		}
		path = p
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create data directory")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	// One writer keeps SQLITE_BUSY out of the picture.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS kv (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to initialize schema")
	}

	return &SQLite{db: db, path: path}, nil
}

// Path returns the database file location.
func (s *SQLite) Path() string { return s.path }

// Get returns the values present for keys; absent keys are omitted.
func (s *SQLite) Get(ctx context.Context, keys ...string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")

	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM kv WHERE key IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query keys")
	}
	defer rows.Close()

	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, errors.Wrap(err, "failed to scan row")
		}
		out[k] = v
	}
	return out, errors.Wrap(rows.Err(), "failed to read rows")
}

// Set upserts all entries in one transaction.
func (s *SQLite) Set(ctx context.Context, entries map[string]string) error {
	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO kv (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for k, v := range entries {
			if _, err := stmt.ExecContext(ctx, k, v); err != nil {
				return errors.Wrapf(err, "failed to write key %q", k)
			}
		}
		return nil
	})
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// withTx executes fn within a transaction, rolling back on error.
func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if err := fn(tx); err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(), "failed to commit")
}

var _ Store = (*SQLite)(nil)
