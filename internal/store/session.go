package store

import "database/sql"

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// Session executes store operations, either autocommitted over the bare
// connection or inside a transaction. It is the unit of consistency for all
// persisted writes.
type Session struct {
	q dbtx
}

// Session returns an autocommit session.
func (db *DB) Session() *Session {
	return &Session{q: db.DB}
}

// Tx is a Session bound to a transaction.
type Tx struct {
	Session
	tx *sql.Tx
}

// BeginTx starts a transaction-backed session.
func (db *DB) BeginTx() (*Tx, error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, err
	}
	return &Tx{Session: Session{q: tx}, tx: tx}, nil
}

// Commit commits the transaction.
func (t *Tx) Commit() error { return t.tx.Commit() }

// Rollback rolls the transaction back. Safe after Commit.
func (t *Tx) Rollback() error { return t.tx.Rollback() }
