package users

import (
	"context"

	"github.com/dmitrijs2005/stockauth/internal/server/models"
)

// Repository is the user directory. Lookups return common.ErrorNotFound for
// absent users; infrastructure failures wrap common.ErrStoreUnavailable.
type Repository interface {
	// Create stores user; a taken email yields common.ErrorAlreadyExists.
	Create(ctx context.Context, user *models.User) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
}
