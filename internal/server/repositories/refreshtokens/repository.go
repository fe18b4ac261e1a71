// Package refreshtokens declares the server-side repository contract for
// refresh-token records and implements presentation matching on top of it.
package refreshtokens

import (
	"context"
	"time"

	"github.com/dmitrijs2005/stockauth/internal/server/models"
)

// Repository persists refresh-token records. Records are never deleted;
// the only mutation is flipping Revoked to true.
//
// Implementations wrap infrastructure failures with common.ErrStoreUnavailable.
type Repository interface {
	// Create inserts a new, non-revoked record.
	Create(ctx context.Context, token *models.RefreshToken) error

	// Get returns the record with the given id or common.ErrorNotFound.
	Get(ctx context.Context, id string) (*models.RefreshToken, error)

	// ListActive returns records that are not revoked and expire after now,
	// newest first. A non-empty userID restricts the result to that user.
	ListActive(ctx context.Context, userID string, now time.Time) ([]*models.RefreshToken, error)

	// RevokeActive revokes the record only if it is still active at now.
	// It reports whether this call performed the transition, so of several
	// concurrent callers at most one observes true.
	RevokeActive(ctx context.Context, id string, now time.Time) (bool, error)

	// RevokeByID revokes the record if it is not revoked yet. Revoking an
	// already revoked or unknown record is a no-op. Returns rows changed.
	RevokeByID(ctx context.Context, id string) (int64, error)

	// RevokeByUser revokes every non-revoked record of the user.
	RevokeByUser(ctx context.Context, userID string) (int64, error)
}
