package contracts

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/contractvault/internal/common"
	"github.com/dmitrijs2005/contractvault/internal/server/models"
)

// MemoryRepository is an in-process Repository with the same guard
// semantics as the Postgres one. It has no transactions: writes are visible
// immediately and are not rolled back.
type MemoryRepository struct {
	mu    sync.Mutex
	rows  map[string]*models.Contract
	clock func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{rows: make(map[string]*models.Contract), clock: time.Now}
}

func (r *MemoryRepository) Create(ctx context.Context, c *models.Contract) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[c.ID]; ok {
		return common.ErrorImmutable
	}
	now := r.clock().UTC()
	c.Status = models.StatusDraft
	c.CreatedAt, c.UpdatedAt = now, now
	cp := *c
	r.rows[c.ID] = &cp
	return nil
}

// Put stores c as-is, bypassing lifecycle guards. Used to seed fixtures.
func (r *MemoryRepository) Put(c *models.Contract) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *c
	r.rows[c.ID] = &cp
}

func (r *MemoryRepository) GetByID(ctx context.Context, id string) (*models.Contract, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.rows[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *MemoryRepository) GetForUpdate(ctx context.Context, id string) (*models.Contract, error) {
	return r.GetByID(ctx, id)
}

func (r *MemoryRepository) update(id string, fn func(c *models.Contract) bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.rows[id]
	if !ok || !fn(c) {
		return common.ErrorImmutable
	}
	c.UpdatedAt = r.clock().UTC()
	return nil
}

func (r *MemoryRepository) SetDocument(ctx context.Context, id string, doc Document) error {
	return r.update(id, func(c *models.Contract) bool {
		if c.DocumentHash != "" || c.Status != models.StatusDraft {
			return false
		}
		c.DocumentHash, c.DocumentDisk, c.DocumentPath, c.DocumentEncrypted = doc.Hash, doc.Disk, doc.Path, doc.Encrypted
		c.Status = models.StatusAwaitingSignature
		return true
	})
}

func (r *MemoryRepository) SetSignature(ctx context.Context, id string, sig models.Signature, status models.Status) error {
	return r.update(id, func(c *models.Contract) bool {
		if c.Signature(sig.Party).Signed() || c.IsLocked {
			return false
		}
		if c.Status != models.StatusAwaitingSignature && c.Status != models.StatusPartiallySigned {
			return false
		}
		sig.SignedAt = sig.SignedAt.UTC()
		c.SetSignature(sig.Party, sig)
		c.Status = status
		return true
	})
}

func (r *MemoryRepository) Lock(ctx context.Context, id string, seal string, deadline time.Time) error {
	return r.update(id, func(c *models.Contract) bool {
		if c.CompositeSeal != "" || !c.FullySigned() {
			return false
		}
		c.CompositeSeal, c.IsLocked, c.RetractionDeadline = seal, true, deadline.UTC()
		c.Status = models.StatusSigned
		return true
	})
}

func (r *MemoryRepository) SetArchived(ctx context.Context, id string, disk, path string, at time.Time) error {
	return r.update(id, func(c *models.Contract) bool {
		if !c.IsLocked || c.Archived() {
			return false
		}
		c.ArchiveDisk, c.ArchivePath, c.ArchivedAt = disk, path, at.UTC()
		c.Status = models.StatusArchived
		return true
	})
}

func (r *MemoryRepository) SetStatus(ctx context.Context, id string, from, to models.Status) error {
	return r.update(id, func(c *models.Contract) bool {
		if c.Status != from || c.IsLocked {
			return false
		}
		c.Status = to
		return true
	})
}

func (r *MemoryRepository) ListPendingArchival(ctx context.Context, limit int) ([]*models.Contract, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Contract
	for _, c := range r.rows {
		if c.IsLocked && !c.Archived() {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
