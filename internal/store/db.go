// Package store is the durable sqlite-backed state of the triage daemon:
// synced conversations, cached messages, participants, bulk-send jobs and
// small user-state scalars.
package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the sqlite connection for teletriage.db.
type DB struct {
	*sql.DB
}

// Open connects to the sqlite database at path with WAL journaling, a 5s
// busy timeout and foreign keys enforced, and pings it before returning.
func Open(path string) (*DB, error) {
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &DB{db}, nil
}
