package contracts

import (
	"context"
	"time"

	"github.com/dmitrijs2005/contractvault/internal/server/models"
)

// Document is the interim location and hash of a freshly sealed document.
type Document struct {
	Disk      string
	Path      string
	Hash      string
	Encrypted bool
}

type Repository interface {
	Create(ctx context.Context, c *models.Contract) error
	GetByID(ctx context.Context, id string) (*models.Contract, error)
	// GetForUpdate must run inside a transaction; it row-locks the contract.
	GetForUpdate(ctx context.Context, id string) (*models.Contract, error)
	SetDocument(ctx context.Context, id string, doc Document) error
	SetSignature(ctx context.Context, id string, sig models.Signature, status models.Status) error
	Lock(ctx context.Context, id string, seal string, deadline time.Time) error
	SetArchived(ctx context.Context, id string, disk, path string, at time.Time) error
	SetStatus(ctx context.Context, id string, from, to models.Status) error
	ListPendingArchival(ctx context.Context, limit int) ([]*models.Contract, error)
}
