package audits

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/contractvault/internal/common"
	"github.com/dmitrijs2005/contractvault/internal/server/models"
)

// MemoryRepository is an in-process ledger with the same insert-once and
// counter semantics as the Postgres one.
type MemoryRepository struct {
	mu   sync.Mutex
	rows map[string]*models.AuditRecord // by id
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{rows: make(map[string]*models.AuditRecord)}
}

func (r *MemoryRepository) Insert(ctx context.Context, rec *models.AuditRecord) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.rows {
		if existing.EntityType == rec.EntityType && existing.EntityID == rec.EntityID {
			return false, nil
		}
	}
	cp := *rec
	r.rows[rec.ID] = &cp
	return true, nil
}

func (r *MemoryRepository) Get(ctx context.Context, entityType, entityID string) (*models.AuditRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.rows {
		if rec.EntityType == entityType && rec.EntityID == entityID {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r *MemoryRepository) RecordVerification(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.rows[id]
	if !ok {
		return common.ErrorNotFound
	}
	rec.VerificationCount++
	rec.LastVerifiedAt = at.UTC()
	return nil
}

func (r *MemoryRepository) RecordViolation(ctx context.Context, id string, at time.Time, kind models.ViolationKind) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.rows[id]
	if !ok {
		return common.ErrorNotFound
	}
	rec.ViolationCount++
	rec.LastViolationAt = at.UTC()
	rec.LastViolationKind = kind
	return nil
}

func (r *MemoryRepository) ListRetained(ctx context.Context, now time.Time, afterID string, limit int) ([]*models.AuditRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.AuditRecord
	for _, rec := range r.rows {
		if rec.RetentionUntil.After(now) && rec.ID > afterID {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
