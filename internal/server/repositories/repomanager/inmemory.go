package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/contractvault/internal/dbx"
	"github.com/dmitrijs2005/contractvault/internal/server/repositories/audits"
	"github.com/dmitrijs2005/contractvault/internal/server/repositories/contracts"
)

// InMemoryRepositoryManager hands out the same in-memory repositories
// regardless of the DBTX it is given.
type InMemoryRepositoryManager struct {
	ContractsRepo *contracts.MemoryRepository
	AuditsRepo    *audits.MemoryRepository
}

func NewInMemoryRepositoryManager() *InMemoryRepositoryManager {
	return &InMemoryRepositoryManager{
		ContractsRepo: contracts.NewMemoryRepository(),
		AuditsRepo:    audits.NewMemoryRepository(),
	}
}

func (m *InMemoryRepositoryManager) RunMigrations(context.Context, *sql.DB, *sql.DB) error {
	return nil
}

func (m *InMemoryRepositoryManager) Contracts(dbx.DBTX) contracts.Repository { return m.ContractsRepo }
func (m *InMemoryRepositoryManager) Audits(dbx.DBTX) audits.Repository       { return m.AuditsRepo }
