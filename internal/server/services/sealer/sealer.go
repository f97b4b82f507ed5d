// Package sealer turns a rendered contract document into an encrypted,
// hash-bound object on the primary disk.
package sealer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/contractvault/internal/common"
	"github.com/dmitrijs2005/contractvault/internal/cryptox"
	"github.com/dmitrijs2005/contractvault/internal/ids"
	"github.com/dmitrijs2005/contractvault/internal/logging"
	"github.com/dmitrijs2005/contractvault/internal/server/config"
	"github.com/dmitrijs2005/contractvault/internal/server/metrics"
	"github.com/dmitrijs2005/contractvault/internal/server/models"
	"github.com/dmitrijs2005/contractvault/internal/server/repositories/contracts"
	"github.com/dmitrijs2005/contractvault/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/contractvault/internal/server/storage"
)

var (
	ErrAlreadySealed = errors.New("contract already sealed")
	ErrNotDraft      = errors.New("contract is not a draft")
	ErrNotSealed     = errors.New("contract has no sealed document")
	ErrHashMismatch  = errors.New("document hash mismatch")
)

// Renderer produces the plaintext legal document for a contract.
type Renderer interface {
	Render(ctx context.Context, c *models.Contract) ([]byte, error)
}

// SealedDocument describes where a sealed document was written.
type SealedDocument struct {
	ContractID string
	Disk       string
	Path       string
	Hash       string
	Size       int
	// Fallback is set when the primary disk was unavailable. Such documents
	// are picked up again by archival.
	Fallback bool
}

type Service struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	cipher      *cryptox.Cipher
	disks       *storage.Registry
	primary     storage.Disk
	fallback    storage.Disk
	timeout     time.Duration
	log         logging.Logger
	metrics     *metrics.Metrics
	now         func() time.Time
}

// NewService wires the sealer. The primary disk must be registered; the
// fallback disk is optional.
func NewService(db *sql.DB, m repomanager.RepositoryManager, cipher *cryptox.Cipher, disks *storage.Registry,
	cfg *config.Config, log logging.Logger, mx *metrics.Metrics) (*Service, error) {
	primary, err := disks.Disk(config.DiskPrimary)
	if err != nil {
		return nil, err
	}
	fallback, _ := disks.Disk(config.DiskFallback)

	return &Service{
		db:          db,
		repomanager: m,
		cipher:      cipher,
		disks:       disks,
		primary:     primary,
		fallback:    fallback,
		timeout:     cfg.StorageTimeout,
		log:         log.With("module", "sealer"),
		metrics:     mx,
		now:         time.Now,
	}, nil
}

// ObjectPath is the interim storage key for a sealed document.
func ObjectPath(contractID string, at time.Time) string {
	at = at.UTC()
	return fmt.Sprintf("contracts/%04d/%02d/%s/%s.enc", at.Year(), int(at.Month()), contractID, ids.NewAt(at))
}

// Seal renders, hashes, encrypts and stores the document for a DRAFT
// contract, then records its location and hash once.
func (s *Service) Seal(ctx context.Context, contractID string, r Renderer) (*SealedDocument, error) {
	repo := s.repomanager.Contracts(s.db)

	c, err := repo.GetByID(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if c.Sealed() {
		return nil, ErrAlreadySealed
	}
	if c.Status != models.StatusDraft {
		return nil, fmt.Errorf("%w: %s", ErrNotDraft, c.Status)
	}

	plaintext, err := r.Render(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("render: %w", err)
	}
	defer cryptox.WipeByteArray(plaintext)

	hash := cryptox.SHA256Hex(plaintext)

	sealed, err := s.cipher.Encrypt(plaintext)
	if err != nil {
		s.log.Critical(ctx, "document encryption failed", "contract_id", c.ID)
		return nil, fmt.Errorf("encrypt: %w", err)
	}

	path := ObjectPath(c.ID, s.now())
	disk, usedFallback, err := s.write(ctx, c.ID, path, sealed)
	if err != nil {
		return nil, err
	}

	doc := contracts.Document{Disk: disk.Name(), Path: path, Hash: hash, Encrypted: true}
	if err := repo.SetDocument(ctx, c.ID, doc); err != nil {
		if errors.Is(err, common.ErrorImmutable) {
			return nil, ErrAlreadySealed
		}
		return nil, err
	}

	s.log.Info(ctx, "contract sealed",
		"contract_id", c.ID, "disk", disk.Name(), "path", path, "hash_prefix", hash[:16])

	return &SealedDocument{
		ContractID: c.ID,
		Disk:       disk.Name(),
		Path:       path,
		Hash:       hash,
		Size:       len(sealed),
		Fallback:   usedFallback,
	}, nil
}

func (s *Service) write(ctx context.Context, contractID, path string, data []byte) (storage.Disk, bool, error) {
	err := s.put(ctx, s.primary, path, data)
	if err == nil {
		s.metrics.Seals.WithLabelValues("primary", "ok").Inc()
		return s.primary, false, nil
	}
	s.metrics.Seals.WithLabelValues("primary", "error").Inc()

	if s.fallback == nil {
		return nil, false, fmt.Errorf("store sealed document: %w", err)
	}

	if ferr := s.put(ctx, s.fallback, path, data); ferr != nil {
		s.metrics.Seals.WithLabelValues("fallback", "error").Inc()
		return nil, false, fmt.Errorf("store sealed document: %w", errors.Join(err, ferr))
	}
	s.metrics.Seals.WithLabelValues("fallback", "ok").Inc()

	s.log.Warn(ctx, "primary disk unavailable, sealed document written to fallback",
		"contract_id", contractID,
		"disk", s.fallback.Name(),
		"path", path,
		"requires_rearchival", true,
		"error", err,
	)
	return s.fallback, true, nil
}

func (s *Service) put(ctx context.Context, d storage.Disk, path string, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return d.Put(ctx, path, data)
}

// Plaintext reads the contract's sealed bytes from their current location
// and decrypts them. Authentication failures are returned as
// cryptox.ErrDecryptionFailed; a plaintext that no longer matches the
// recorded document hash as ErrHashMismatch.
func (s *Service) Plaintext(ctx context.Context, c *models.Contract) ([]byte, error) {
	disk, path := c.StoredLocation()
	if path == "" {
		return nil, ErrNotSealed
	}

	sctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	sealed, err := s.disks.Get(sctx, disk, path)
	if err != nil {
		return nil, err
	}

	plaintext, err := s.cipher.Decrypt(sealed)
	if err != nil {
		s.log.Critical(ctx, "sealed document failed to decrypt", "contract_id", c.ID, "disk", disk, "path", path)
		return nil, err
	}
	if cryptox.SHA256Hex(plaintext) != c.DocumentHash {
		cryptox.WipeByteArray(plaintext)
		s.log.Critical(ctx, "sealed document does not match its hash", "contract_id", c.ID, "disk", disk, "path", path)
		return nil, ErrHashMismatch
	}
	return plaintext, nil
}
