// Package sessionstore keeps the CLI session between runs in a local SQLite
// file. Only the refresh token and the owner are stored; access tokens are
// short-lived and obtained again on resume.
package sessionstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/stockauth/internal/dbx"
	"github.com/pressly/goose/v3"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

type Session struct {
	UserID       string
	Email        string
	RefreshToken string
}

type Store interface {
	// Load returns nil, nil when nothing is saved.
	Load(ctx context.Context) (*Session, error)
	Save(ctx context.Context, s *Session) error
	Clear(ctx context.Context) error
	Close() error
}

type SQLiteStore struct {
	db   *sql.DB
	conn dbx.DBTX
}

// Open opens or creates the session file at path and applies migrations.
func Open(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate session store: %w", err)
	}

	return &SQLiteStore{db: db, conn: db}, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, "migrations")
}

func (s *SQLiteStore) Load(ctx context.Context) (*Session, error) {
	var out Session
	err := s.conn.QueryRowContext(ctx,
		`SELECT user_id, email, refresh_token FROM session WHERE id = 1`,
	).Scan(&out.UserID, &out.Email, &out.RefreshToken)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	return &out, nil
}

func (s *SQLiteStore) Save(ctx context.Context, sess *Session) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO session (id, user_id, email, refresh_token, updated_at)
		VALUES (1, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
		  user_id = excluded.user_id,
		  email = excluded.email,
		  refresh_token = excluded.refresh_token,
		  updated_at = excluded.updated_at
	`, sess.UserID, sess.Email, sess.RefreshToken)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM session`); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Nop is used when persistence is disabled.
type Nop struct{}

func (Nop) Load(context.Context) (*Session, error) { return nil, nil }
func (Nop) Save(context.Context, *Session) error    { return nil }
func (Nop) Clear(context.Context) error             { return nil }
func (Nop) Close() error                            { return nil }
