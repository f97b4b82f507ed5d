// Package migrations embeds the goose SQL migrations for both databases:
// contracts/ for the primary database and audit/ for the integrity ledger.
package migrations

import "embed"

const (
	ContractsDir = "contracts"
	AuditDir     = "audit"
)

//go:embed contracts/*.sql audit/*.sql
var Migrations embed.FS
