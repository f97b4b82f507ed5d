// Package repomanager provides a concrete RepositoryManager for PostgreSQL,
// wiring together repository constructors and database migrations (via goose)
// for the contract database and the separate audit database.
package repomanager

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/dmitrijs2005/contractvault/internal/dbx"
	"github.com/dmitrijs2005/contractvault/internal/server/migrations"
	"github.com/dmitrijs2005/contractvault/internal/server/repositories/audits"
	"github.com/dmitrijs2005/contractvault/internal/server/repositories/contracts"
)

// PostgresRepositoryManager vends PostgreSQL-backed repository implementations
// and exposes a schema migration hook.
type PostgresRepositoryManager struct{}

// Contracts returns a contracts.Repository bound to the provided DBTX.
func (m *PostgresRepositoryManager) Contracts(db dbx.DBTX) contracts.Repository {
	return contracts.NewPostgresRepository(db)
}

// Audits returns an audits.Repository bound to the provided DBTX. The handle
// must belong to the audit database.
func (m *PostgresRepositoryManager) Audits(db dbx.DBTX) audits.Repository {
	return audits.NewPostgresRepository(db)
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations applies the embedded migrations: the contracts set to
// contractsDB, then the audit set to auditDB.
func (m *PostgresRepositoryManager) RunMigrations(ctx context.Context, contractsDB, auditDB *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	if err := gooseUpContext(ctx, contractsDB, migrations.ContractsDir); err != nil {
		return fmt.Errorf("contracts migrations: %w", err)
	}
	if err := gooseUpContext(ctx, auditDB, migrations.AuditDir); err != nil {
		return fmt.Errorf("audit migrations: %w", err)
	}
	return nil
}

// NewPostgresRepositoryManager constructs a PostgreSQL-backed RepositoryManager.
func NewPostgresRepositoryManager() RepositoryManager {
	return &PostgresRepositoryManager{}
}
