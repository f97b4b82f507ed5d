package migrations

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrations_Embedded(t *testing.T) {
	for _, dir := range []string{ContractsDir, AuditDir} {
		files, err := fs.Glob(Migrations, dir+"/*.sql")
		require.NoError(t, err)
		require.NotEmpty(t, files, dir)

		for _, f := range files {
			b, err := fs.ReadFile(Migrations, f)
			require.NoError(t, err)
			assert.Contains(t, string(b), "-- +goose Up", f)
			assert.Contains(t, string(b), "-- +goose Down", f)
		}
	}
}

func TestAuditMigration_GuardsRetention(t *testing.T) {
	b, err := fs.ReadFile(Migrations, "audit/00001_create_integrity_audit_records.sql")
	require.NoError(t, err)
	sql := string(b)

	assert.Contains(t, sql, "UNIQUE (entity_type, entity_id)")
	assert.Contains(t, sql, "BEFORE UPDATE OR DELETE ON integrity_audit_records")
	assert.True(t, strings.Contains(sql, "retention_until cannot decrease"))
}
