// Package repomanager hands out repositories bound to a database handle, so
// services can run the same code against the pool or inside a transaction.
package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/stockauth/internal/dbx"
	"github.com/dmitrijs2005/stockauth/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/stockauth/internal/server/repositories/users"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	RefreshTokens(db dbx.DBTX) refreshtokens.Repository
}
