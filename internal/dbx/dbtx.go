// Package dbx provides tiny DB abstractions shared by repositories:
// a minimal interface (DBTX) implemented by both *sql.DB and *sql.Tx,
// a helper to run functions inside a transaction, and the Transactor
// seam used by services.
package dbx

import (
	"context"
	"database/sql"
)

// DBTX is the subset of database/sql used by our repos.
// Both *sql.DB and *sql.Tx satisfy this interface.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// WithTx begins a transaction, runs fn with a transactional handle, and then
// commits on success or rolls back on error/panic. Panics are rethrown.
//
// Typical use:
//
//	err := dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
//	    // use tx instead of db
//	    _, err := tx.ExecContext(ctx, "UPDATE ...")
//	    return err
//	})
func WithTx(ctx context.Context, db *sql.DB, opts *sql.TxOptions, fn func(ctx context.Context, tx DBTX) error) (err error) {
	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	err = fn(ctx, tx)
	return err
}

// Transactor hands out the non-transactional handle and runs units of work
// atomically. Services depend on it instead of *sql.DB so they can run on
// top of stores that have no SQL connection at all.
type Transactor interface {
	// DB returns the handle for reads and single statements.
	DB() DBTX
	// WithTx runs fn as one atomic unit.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx DBTX) error) error
}

// SQLTransactor is a Transactor over *sql.DB.
type SQLTransactor struct {
	db *sql.DB
}

// NewSQLTransactor wraps db.
func NewSQLTransactor(db *sql.DB) *SQLTransactor {
	return &SQLTransactor{db: db}
}

// DB returns the underlying pool.
func (t *SQLTransactor) DB() DBTX { return t.db }

// WithTx runs fn inside a database transaction, see WithTx.
func (t *SQLTransactor) WithTx(ctx context.Context, fn func(ctx context.Context, tx DBTX) error) error {
	return WithTx(ctx, t.db, nil, fn)
}

// MemoryTransactor runs units of work against in-memory repositories. When fn
// fails it runs the compensations the repositories recorded on the MemoryTx,
// newest first. Units of work are not serialized against each other.
type MemoryTransactor struct{}

// NewMemoryTransactor returns a MemoryTransactor.
func NewMemoryTransactor() *MemoryTransactor {
	return &MemoryTransactor{}
}

// DB returns nil. Memory repositories ignore the handle outside a transaction.
func (t *MemoryTransactor) DB() DBTX { return nil }

// WithTx calls fn with a fresh *MemoryTx and undoes its writes on error or panic.
func (t *MemoryTransactor) WithTx(ctx context.Context, fn func(ctx context.Context, tx DBTX) error) (err error) {
	tx := &MemoryTx{}
	defer func() {
		if p := recover(); p != nil {
			tx.rollback()
			panic(p)
		}
		if err != nil {
			tx.rollback()
		}
	}()

	return fn(ctx, tx)
}

// MemoryTx is the handle MemoryTransactor passes to fn. The embedded DBTX is
// nil; memory repositories type-assert the handle and call OnRollback instead
// of issuing SQL.
type MemoryTx struct {
	DBTX
	undo []func()
}

// OnRollback registers f to run if the transaction fails.
func (tx *MemoryTx) OnRollback(f func()) {
	tx.undo = append(tx.undo, f)
}

func (tx *MemoryTx) rollback() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
}
