// Package sqlitedao is the reference adapter implementation: a SQLite
// database standing in for the remote service, storing entity rows as
// JSON documents and assigning integer primary keys on create. It exists
// both as a usable local backend and as the worked example of writing an
// adapter against the session contract.
package sqlitedao

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Store owns the SQLite database shared by the DAOs of all entity types.
// WAL mode allows concurrent reads while the single writer works.
type Store struct {
	db *sql.DB
}

// Open creates or opens a SQLite database at the given path and applies
// pragmas and schema. Idempotent. Use ":memory:" for tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite supports one writer at a time; a single pooled connection
	// avoids SQLITE_BUSY under the commit scheduler's concurrency
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// nextKey allocates the next integer key for a type.
func (s *Store) nextKey(ctx context.Context, typeName string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sequences (type, next) VALUES (?, 1)
		ON CONFLICT(type) DO UPDATE SET next = next + 1
	`, typeName); err != nil {
		return 0, fmt.Errorf("allocate key for %s: %w", typeName, err)
	}
	var next int64
	if err := tx.QueryRowContext(ctx,
		`SELECT next FROM sequences WHERE type = ?`, typeName).Scan(&next); err != nil {
		return 0, fmt.Errorf("read key for %s: %w", typeName, err)
	}
	return next, tx.Commit()
}

func (s *Store) readDoc(ctx context.Context, typeName, key string) (string, error) {
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM entities WHERE type = ? AND key = ?`, typeName, key).Scan(&doc)
	return doc, err
}

func (s *Store) writeDoc(ctx context.Context, typeName, key, doc string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entities (type, key, doc) VALUES (?, ?, ?)
		ON CONFLICT(type, key) DO UPDATE SET doc = excluded.doc
	`, typeName, key, doc)
	return err
}

func (s *Store) deleteDoc(ctx context.Context, typeName, key string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM entities WHERE type = ? AND key = ?`, typeName, key)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
