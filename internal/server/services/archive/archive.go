// Package archive moves locked contracts onto the WORM disk, records them in
// the detached integrity ledger and verifies them against it.
//
// Verification has two layers. The ciphertext hash catches any change to
// the stored object; the plaintext hash, checked after decryption, catches
// a document that was already wrong when it was archived.
package archive

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/contractvault/internal/common"
	"github.com/dmitrijs2005/contractvault/internal/cryptox"
	"github.com/dmitrijs2005/contractvault/internal/logging"
	"github.com/dmitrijs2005/contractvault/internal/server/alerts"
	"github.com/dmitrijs2005/contractvault/internal/server/config"
	"github.com/dmitrijs2005/contractvault/internal/server/metrics"
	"github.com/dmitrijs2005/contractvault/internal/server/models"
	"github.com/dmitrijs2005/contractvault/internal/server/repositories/audits"
	"github.com/dmitrijs2005/contractvault/internal/server/repositories/contracts"
	"github.com/dmitrijs2005/contractvault/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/contractvault/internal/server/storage"
	"github.com/dmitrijs2005/contractvault/internal/timex"
)

var (
	ErrArchivalFailed      = errors.New("archival failed")
	ErrNotLocked           = errors.New("contract is not locked")
	ErrDocumentUnavailable = errors.New("document unavailable, under review")
)

const hashPrefixLen = 16

type Service struct {
	contractsDB    *sql.DB
	auditDB        *sql.DB
	repomanager    repomanager.RepositoryManager
	cipher         *cryptox.Cipher
	disks          *storage.Registry
	worm           storage.Disk
	alerts         *alerts.Sink
	retentionYears int
	timeout        time.Duration
	pageSize       int
	log            logging.Logger
	metrics        *metrics.Metrics
	now            func() time.Time
}

// NewService wires the archiver. The WORM disk must be registered.
func NewService(contractsDB, auditDB *sql.DB, m repomanager.RepositoryManager, cipher *cryptox.Cipher,
	disks *storage.Registry, sink *alerts.Sink, cfg *config.Config, log logging.Logger, mx *metrics.Metrics) (*Service, error) {
	worm, err := disks.Disk(config.DiskWORM)
	if err != nil {
		return nil, err
	}

	pageSize := cfg.SweepPageSize
	if pageSize <= 0 {
		pageSize = 100
	}

	return &Service{
		contractsDB:    contractsDB,
		auditDB:        auditDB,
		repomanager:    m,
		cipher:         cipher,
		disks:          disks,
		worm:           worm,
		alerts:         sink,
		retentionYears: max(cfg.RetentionYears, models.RetentionYears),
		timeout:        cfg.StorageTimeout,
		pageSize:       pageSize,
		log:            log.With("module", "archive"),
		metrics:        mx,
		now:            time.Now,
	}, nil
}

func (s *Service) contracts() contracts.Repository { return s.repomanager.Contracts(s.contractsDB) }
func (s *Service) audits() audits.Repository       { return s.repomanager.Audits(s.auditDB) }

// ObjectPath is the WORM storage key for an archived document. It is fixed
// per contract so a retried archival finds the object a failed attempt left.
func ObjectPath(contractID string) string {
	return fmt.Sprintf("archive/%s.enc", contractID)
}

// Archive copies the sealed bytes of a locked contract to the WORM disk,
// records them in the ledger and marks the contract ARCHIVED. Archiving an
// already archived contract returns the existing ledger record.
func (s *Service) Archive(ctx context.Context, c *models.Contract) (*models.AuditRecord, error) {
	if !c.IsLocked {
		return nil, ErrNotLocked
	}

	rec, err := s.audits().Get(ctx, common.EntityContract, c.ID)
	switch {
	case err == nil:
		if err := s.markArchived(ctx, c, rec); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrArchivalFailed, err)
		}
		return rec, nil
	case !errors.Is(err, common.ErrorNotFound):
		return nil, fmt.Errorf("%w: audit lookup: %w", ErrArchivalFailed, err)
	}

	rec, err = s.archive(ctx, c)
	if err != nil {
		s.metrics.Archivals.WithLabelValues("error").Inc()
		s.log.Error(ctx, "archival failed", "contract_id", c.ID, "error", err)
		return nil, err
	}
	s.metrics.Archivals.WithLabelValues("ok").Inc()
	return rec, nil
}

func (s *Service) archive(ctx context.Context, c *models.Contract) (*models.AuditRecord, error) {
	if c.DocumentPath == "" {
		return nil, fmt.Errorf("%w: no sealed document", ErrArchivalFailed)
	}

	sealed, err := s.get(ctx, c.DocumentDisk, c.DocumentPath)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s/%s: %w", ErrArchivalFailed, c.DocumentDisk, c.DocumentPath, err)
	}

	plaintext, err := s.cipher.Decrypt(sealed)
	if err != nil {
		s.log.Critical(ctx, "sealed document failed to decrypt before archival",
			"contract_id", c.ID, "disk", c.DocumentDisk, "path", c.DocumentPath)
		return nil, fmt.Errorf("%w: %w", ErrArchivalFailed, err)
	}
	match := cryptox.SHA256Hex(plaintext) == c.DocumentHash
	cryptox.WipeByteArray(plaintext)
	if !match {
		s.log.Critical(ctx, "sealed document does not match its hash, refusing to archive",
			"contract_id", c.ID, "disk", c.DocumentDisk, "path", c.DocumentPath)
		return nil, fmt.Errorf("%w: document hash mismatch", ErrArchivalFailed)
	}

	now := s.now().UTC()
	path := ObjectPath(c.ID)

	if err := s.writeOnce(ctx, c.ID, path, sealed); err != nil {
		return nil, fmt.Errorf("%w: write %s/%s: %w", ErrArchivalFailed, s.worm.Name(), path, err)
	}

	rec := &models.AuditRecord{
		ID:             uuid.NewString(),
		EntityType:     common.EntityContract,
		EntityID:       c.ID,
		Disk:           s.worm.Name(),
		Path:           path,
		PlaintextHash:  c.DocumentHash,
		CiphertextHash: cryptox.SHA256Hex(sealed),
		SizeBytes:      int64(len(sealed)),
		ArchivedAt:     now,
		RetentionUntil: timex.AddYears(now, s.retentionYears),
	}

	inserted, err := s.audits().Insert(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("%w: insert audit record: %w", ErrArchivalFailed, err)
	}
	if !inserted {
		// a concurrent archival recorded first; its copy is authoritative
		s.log.Warn(ctx, "contract archived concurrently, keeping existing record", "contract_id", c.ID)
		if rec, err = s.audits().Get(ctx, common.EntityContract, c.ID); err != nil {
			return nil, fmt.Errorf("%w: audit lookup: %w", ErrArchivalFailed, err)
		}
	}

	if err := s.markArchived(ctx, c, rec); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrArchivalFailed, err)
	}

	s.log.Info(ctx, "contract archived",
		"contract_id", c.ID,
		"disk", rec.Disk,
		"path", rec.Path,
		"ciphertext_hash_prefix", rec.CiphertextHash[:hashPrefixLen],
		"retention_until", rec.RetentionUntil,
	)
	return rec, nil
}

// writeOnce puts sealed at path unless an earlier attempt already stored the
// same bytes there. A different object under the path is never replaced.
func (s *Service) writeOnce(ctx context.Context, contractID, path string, sealed []byte) error {
	existing, err := s.get(ctx, s.worm.Name(), path)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return err
	case bytes.Equal(existing, sealed):
		s.log.Info(ctx, "reusing archived object from an earlier attempt", "contract_id", contractID, "path", path)
		return nil
	default:
		s.log.Critical(ctx, "archive path holds a different object", "contract_id", contractID, "path", path)
		return storage.ErrObjectLocked
	}

	pctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	err = s.worm.Put(pctx, path, sealed)
	if errors.Is(err, storage.ErrObjectLocked) {
		// lost a race with a concurrent archival; accept identical bytes
		if existing, gerr := s.get(ctx, s.worm.Name(), path); gerr == nil && bytes.Equal(existing, sealed) {
			return nil
		}
	}
	return err
}

func (s *Service) markArchived(ctx context.Context, c *models.Contract, rec *models.AuditRecord) error {
	err := s.contracts().SetArchived(ctx, c.ID, rec.Disk, rec.Path, rec.ArchivedAt)
	if err != nil && !errors.Is(err, common.ErrorImmutable) {
		return fmt.Errorf("mark archived: %w", err)
	}
	c.ArchiveDisk, c.ArchivePath, c.ArchivedAt = rec.Disk, rec.Path, rec.ArchivedAt
	c.Status = models.StatusArchived
	return nil
}

func (s *Service) get(ctx context.Context, disk, path string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.disks.Get(ctx, disk, path)
}

// Verify checks the archived document of a contract against its ledger
// record, records the outcome and raises an alert for anything but VALID.
//
// The error is non-nil only when the ledger could not be read or the
// outcome could not be recorded; in the latter case the result is still
// returned.
func (s *Service) Verify(ctx context.Context, contractID string) (*models.VerificationResult, error) {
	res, plaintext, err := s.verify(ctx, contractID)
	cryptox.WipeByteArray(plaintext)
	return res, err
}

func (s *Service) verify(ctx context.Context, contractID string) (*models.VerificationResult, []byte, error) {
	rec, err := s.audits().Get(ctx, common.EntityContract, contractID)
	if errors.Is(err, common.ErrorNotFound) {
		res := &models.VerificationResult{
			EntityType: common.EntityContract,
			EntityID:   contractID,
			Status:     models.VerificationError,
			Kind:       models.ViolationMissingAuditRecord,
			Detail:     "no integrity record",
			CheckedAt:  s.now().UTC(),
		}
		s.metrics.Verifications.WithLabelValues(string(res.Status)).Inc()
		s.alerts.Violation(ctx, *res)
		return res, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("audit lookup: %w", err)
	}
	return s.verifyRecord(ctx, rec)
}

func (s *Service) verifyRecord(ctx context.Context, rec *models.AuditRecord) (*models.VerificationResult, []byte, error) {
	res, plaintext := s.check(ctx, rec)
	s.metrics.Verifications.WithLabelValues(string(res.Status)).Inc()

	repo := s.audits()
	if res.Valid() {
		if err := repo.RecordVerification(ctx, rec.ID, res.CheckedAt); err != nil {
			return res, plaintext, fmt.Errorf("record verification: %w", err)
		}
		return res, plaintext, nil
	}

	s.alerts.Violation(ctx, *res)
	if err := repo.RecordViolation(ctx, rec.ID, res.CheckedAt, res.Kind); err != nil {
		return res, nil, fmt.Errorf("record violation: %w", err)
	}
	return res, nil, nil
}

// check runs both integrity layers. The plaintext is returned only for a
// VALID result.
func (s *Service) check(ctx context.Context, rec *models.AuditRecord) (*models.VerificationResult, []byte) {
	res := &models.VerificationResult{
		EntityType: rec.EntityType,
		EntityID:   rec.EntityID,
		Status:     models.VerificationValid,
		CheckedAt:  s.now().UTC(),
	}
	fail := func(status models.VerificationStatus, kind models.ViolationKind, detail string) (*models.VerificationResult, []byte) {
		res.Status, res.Kind, res.Detail = status, kind, detail
		return res, nil
	}

	sealed, err := s.get(ctx, rec.Disk, rec.Path)
	if err != nil {
		return fail(models.VerificationError, models.ViolationStorageError, err.Error())
	}

	if got := cryptox.SHA256Hex(sealed); got != rec.CiphertextHash {
		return fail(models.VerificationTampered, models.ViolationEncryptedHashMismatch,
			fmt.Sprintf("ciphertext hash %s, recorded %s", got[:hashPrefixLen], prefix(rec.CiphertextHash)))
	}

	plaintext, err := s.cipher.Decrypt(sealed)
	if err != nil {
		return fail(models.VerificationError, models.ViolationDecryptionError, err.Error())
	}

	if got := cryptox.SHA256Hex(plaintext); got != rec.PlaintextHash {
		cryptox.WipeByteArray(plaintext)
		return fail(models.VerificationCorrupted, models.ViolationPlaintextHashMismatch,
			fmt.Sprintf("plaintext hash %s, recorded %s", got[:hashPrefixLen], prefix(rec.PlaintextHash)))
	}
	return res, plaintext
}

// Open verifies an archived document and returns its plaintext. Any
// outcome other than VALID yields ErrDocumentUnavailable.
func (s *Service) Open(ctx context.Context, contractID string) ([]byte, error) {
	res, plaintext, err := s.verify(ctx, contractID)
	if err != nil && res == nil {
		return nil, err
	}
	if err != nil {
		s.log.Error(ctx, "verification outcome not recorded", "contract_id", contractID, "error", err)
	}
	if !res.Valid() {
		return nil, ErrDocumentUnavailable
	}
	return plaintext, nil
}

// Sweep verifies every ledger record still under retention. A failing
// record never stops the sweep.
func (s *Service) Sweep(ctx context.Context) (*models.SweepReport, error) {
	rep := &models.SweepReport{StartedAt: s.now().UTC()}
	repo := s.audits()

	after := ""
	for {
		recs, err := repo.ListRetained(ctx, rep.StartedAt, after, s.pageSize)
		if err != nil {
			return rep, fmt.Errorf("list retained: %w", err)
		}

		for _, rec := range recs {
			if err := ctx.Err(); err != nil {
				return rep, err
			}
			res, plaintext, err := s.verifyRecord(ctx, rec)
			cryptox.WipeByteArray(plaintext)
			if err != nil {
				s.log.Error(ctx, "verification outcome not recorded", "entity_id", rec.EntityID, "error", err)
			}
			rep.Add(*res)
		}

		if len(recs) < s.pageSize {
			break
		}
		after = recs[len(recs)-1].ID
	}

	rep.FinishedAt = s.now().UTC()
	s.metrics.SweepDuration.Observe(rep.FinishedAt.Sub(rep.StartedAt).Seconds())
	s.alerts.SweepSummary(ctx, rep)
	return rep, nil
}

// RetryPending archives locked contracts that have no WORM copy yet. It
// returns how many were archived; failures are joined into the error.
func (s *Service) RetryPending(ctx context.Context) (int, error) {
	pending, err := s.contracts().ListPendingArchival(ctx, s.pageSize)
	if err != nil {
		return 0, fmt.Errorf("list pending: %w", err)
	}

	var (
		n    int
		errs []error
	)
	for _, c := range pending {
		if _, err := s.Archive(ctx, c); err != nil {
			errs = append(errs, fmt.Errorf("contract %s: %w", c.ID, err))
			continue
		}
		n++
	}

	if len(pending) > 0 {
		s.log.Info(ctx, "pending archivals retried", "pending", len(pending), "archived", n)
	}
	return n, errors.Join(errs...)
}

// Report summarises the ledger entry of a contract for operators.
func (s *Service) Report(ctx context.Context, contractID string) (*models.IntegrityReport, error) {
	c, err := s.contracts().GetByID(ctx, contractID)
	if err != nil {
		return nil, err
	}
	rec, err := s.audits().Get(ctx, common.EntityContract, contractID)
	if err != nil {
		return nil, err
	}

	r := &models.IntegrityReport{
		ContractID:        c.ID,
		Reference:         c.Reference,
		Status:            c.Status,
		PlaintextHash:     prefix(rec.PlaintextHash),
		CiphertextHash:    prefix(rec.CiphertextHash),
		CompositeSeal:     prefix(c.CompositeSeal),
		Disk:              rec.Disk,
		SizeBytes:         rec.SizeBytes,
		ArchivedAt:        rec.ArchivedAt,
		RetentionUntil:    rec.RetentionUntil,
		VerificationCount: rec.VerificationCount,
		ViolationCount:    rec.ViolationCount,
		LastViolationKind: string(rec.LastViolationKind),
	}
	if !rec.LastVerifiedAt.IsZero() {
		t := rec.LastVerifiedAt
		r.LastVerifiedAt = &t
	}
	if !rec.LastViolationAt.IsZero() {
		t := rec.LastViolationAt
		r.LastViolationAt = &t
	}
	return r, nil
}

func prefix(h string) string {
	if len(h) > hashPrefixLen {
		return h[:hashPrefixLen]
	}
	return h
}
