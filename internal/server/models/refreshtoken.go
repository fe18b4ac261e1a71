// Package models defines server-side data models persisted in the database.
package models

import "time"

// RefreshToken is the stored metadata of one issued refresh token.
// The plaintext secret is never kept; TokenHash is a salted one-way hash of it.
//
// TokenHash never changes after creation and Revoked only moves from false
// to true. Rotation creates a new record instead of rewriting an old one.
type RefreshToken struct {
	ID        string
	UserID    string
	TokenHash string
	CreatedAt time.Time
	ExpiresAt time.Time
	Revoked   bool
}

// Active reports whether the record may still be matched against a
// presented token at the given moment.
func (t *RefreshToken) Active(now time.Time) bool {
	return !t.Revoked && now.Before(t.ExpiresAt)
}
