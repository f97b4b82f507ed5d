package audits

import (
	"context"
	"time"

	"github.com/dmitrijs2005/contractvault/internal/server/models"
)

// Repository is the integrity ledger. It intentionally has no way to delete a
// record or to change its archived fields or retention horizon.
type Repository interface {
	// Insert stores rec unless a record for the same entity exists. It
	// reports whether a row was written.
	Insert(ctx context.Context, rec *models.AuditRecord) (bool, error)
	Get(ctx context.Context, entityType, entityID string) (*models.AuditRecord, error)
	RecordVerification(ctx context.Context, id string, at time.Time) error
	RecordViolation(ctx context.Context, id string, at time.Time, kind models.ViolationKind) error
	// ListRetained pages through records whose retention has not expired,
	// ordered by id, starting after afterID.
	ListRetained(ctx context.Context, now time.Time, afterID string, limit int) ([]*models.AuditRecord, error)
}
