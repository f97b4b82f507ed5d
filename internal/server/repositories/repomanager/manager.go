package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/contractvault/internal/dbx"
	"github.com/dmitrijs2005/contractvault/internal/server/repositories/audits"
	"github.com/dmitrijs2005/contractvault/internal/server/repositories/contracts"
)

type RepositoryManager interface {
	RunMigrations(ctx context.Context, contractsDB, auditDB *sql.DB) error
	Contracts(db dbx.DBTX) contracts.Repository
	Audits(db dbx.DBTX) audits.Repository
}
