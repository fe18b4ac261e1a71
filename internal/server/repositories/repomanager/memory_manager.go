package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/stockauth/internal/dbx"
	"github.com/dmitrijs2005/stockauth/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/stockauth/internal/server/repositories/users"
)

// MemoryRepositoryManager hands out process-local repositories. Pair it with
// dbx.MemoryTransactor: given a *dbx.MemoryTx it returns views whose writes
// roll back with the transaction.
type MemoryRepositoryManager struct {
	users  *users.MemoryRepository
	tokens *refreshtokens.MemoryRepository
}

func NewMemoryRepositoryManager() *MemoryRepositoryManager {
	return &MemoryRepositoryManager{
		users:  users.NewMemoryRepository(),
		tokens: refreshtokens.NewMemoryRepository(),
	}
}

func (m *MemoryRepositoryManager) Users(dbx.DBTX) users.Repository {
	return m.users
}

func (m *MemoryRepositoryManager) RefreshTokens(db dbx.DBTX) refreshtokens.Repository {
	if tx, ok := db.(*dbx.MemoryTx); ok {
		return m.tokens.InTx(tx)
	}
	return m.tokens
}

// RunMigrations is a no-op; there is no schema.
func (m *MemoryRepositoryManager) RunMigrations(context.Context, *sql.DB) error {
	return nil
}
