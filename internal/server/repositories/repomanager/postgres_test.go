package repomanager

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/contractvault/internal/server/repositories/audits"
	"github.com/dmitrijs2005/contractvault/internal/server/repositories/contracts"
)

func newDB(t *testing.T) *sql.DB {
	t.Helper()
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func stubGoose(t *testing.T, fn func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error) {
	t.Helper()
	orig := gooseUpContext
	gooseUpContext = fn
	t.Cleanup(func() { gooseUpContext = orig })
}

func TestFactories_ReturnConcreteRepos(t *testing.T) {
	db := newDB(t)
	m := NewPostgresRepositoryManager()

	assert.IsType(t, &contracts.PostgresRepository{}, m.Contracts(db))
	assert.IsType(t, &audits.PostgresRepository{}, m.Audits(db))
}

func TestRunMigrations_EachSetToItsDatabase(t *testing.T) {
	contractsDB, auditDB := newDB(t), newDB(t)

	applied := map[string]*sql.DB{}
	var order []string
	stubGoose(t, func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		applied[dir] = db
		order = append(order, dir)
		return nil
	})

	m := &PostgresRepositoryManager{}
	require.NoError(t, m.RunMigrations(context.Background(), contractsDB, auditDB))

	assert.Equal(t, []string{"contracts", "audit"}, order)
	assert.Same(t, contractsDB, applied["contracts"])
	assert.Same(t, auditDB, applied["audit"])
}

func TestRunMigrations_Error(t *testing.T) {
	contractsDB, auditDB := newDB(t), newDB(t)

	stubGoose(t, func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		if dir == "audit" {
			return errors.New("boom")
		}
		return nil
	})

	m := &PostgresRepositoryManager{}
	err := m.RunMigrations(context.Background(), contractsDB, auditDB)
	require.EqualError(t, err, "audit migrations: boom")
}
