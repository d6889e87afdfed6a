// Package store is the SQL persistence layer: KeyUsers, their explicit
// SigningConditions, pending Requests, one-shot ConnectionTokens,
// Token/Policy/PolicyRule bundles, and the audit Log. It never decides
// authorization; it only records and atomically mutates the rows the
// ACL evaluator and pending queue read.
package store

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps the single SQLite database backing the daemon. SQLite
// only allows one writer at a time, so writes are serialized by the
// driver's own connection pool rather than an in-process lock.
type Store struct {
	db *sqlx.DB
}

func Open(path string) (*Store, error) {
	db, err := sqlx.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping sqlite database: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate applies every embedded schema file in lexical order. Each
// file is idempotent (CREATE ... IF NOT EXISTS), so re-running Migrate
// against an already-migrated database is a no-op.
func (s *Store) Migrate() error {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	for _, entry := range entries {
		data, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.Exec(string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

func isNoRows(err error) bool {
	return err == sql.ErrNoRows
}
