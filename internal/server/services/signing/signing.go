// Package signing implements the bilateral, OTP-gated signature workflow.
//
// A signature slot is written at most once. The write happens inside a
// transaction that row-locks the contract, and the UPDATE itself is guarded
// by "slot IS NULL", so concurrent attempts for the same party resolve to
// one success and ErrAlreadySigned for the rest. The second signature locks
// the contract in the same transaction; archival runs after commit.
package signing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/contractvault/internal/common"
	"github.com/dmitrijs2005/contractvault/internal/dbx"
	"github.com/dmitrijs2005/contractvault/internal/logging"
	"github.com/dmitrijs2005/contractvault/internal/server/config"
	"github.com/dmitrijs2005/contractvault/internal/server/metrics"
	"github.com/dmitrijs2005/contractvault/internal/server/models"
	"github.com/dmitrijs2005/contractvault/internal/server/otp"
	"github.com/dmitrijs2005/contractvault/internal/server/repositories/contracts"
	"github.com/dmitrijs2005/contractvault/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/contractvault/internal/timex"
)

// Archiver takes over a locked contract.
type Archiver interface {
	Archive(ctx context.Context, c *models.Contract) (*models.AuditRecord, error)
}

// SignRequest carries one signature submission.
type SignRequest struct {
	ContractID string
	SignerID   string
	Code       string
	IP         string
	UserAgent  string
}

type Service struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	otp         otp.Provider
	archiver    Archiver
	window      time.Duration
	log         logging.Logger
	metrics     *metrics.Metrics
	now         func() time.Time
}

func NewService(db *sql.DB, m repomanager.RepositoryManager, provider otp.Provider, archiver Archiver,
	cfg *config.Config, log logging.Logger, mx *metrics.Metrics) *Service {
	return &Service{
		db:          db,
		repomanager: m,
		otp:         provider,
		archiver:    archiver,
		window:      max(cfg.RetractionWindow, models.RetractionWindow),
		log:         log.With("module", "signing"),
		metrics:     mx,
		now:         time.Now,
	}
}

// checkOpen reports why party p cannot sign c, if it cannot.
func checkOpen(c *models.Contract, p models.Party) error {
	if c.Signature(p).Signed() {
		return ErrAlreadySigned
	}
	switch c.Status {
	case models.StatusAwaitingSignature, models.StatusPartiallySigned:
	case models.StatusDraft:
		return ErrNotSealed
	default:
		return fmt.Errorf("%w: %s", ErrContractClosed, c.Status)
	}
	if c.IsLocked {
		return ErrContractClosed
	}
	return nil
}

func (s *Service) resolve(ctx context.Context, contractID, signerID string) (*models.Contract, models.Party, error) {
	c, err := s.repomanager.Contracts(s.db).GetByID(ctx, contractID)
	if err != nil {
		return nil, "", err
	}
	p, ok := c.PartyOf(signerID)
	if !ok {
		return nil, "", ErrNotAParty
	}
	return c, p, nil
}

// RequestSignature asks the OTP gateway to send a code to the party's
// verified contact. It changes nothing on the contract.
func (s *Service) RequestSignature(ctx context.Context, contractID, signerID string) error {
	c, p, err := s.resolve(ctx, contractID, signerID)
	if err != nil {
		return err
	}
	if err := checkOpen(c, p); err != nil {
		return err
	}
	if err := s.otp.Send(ctx, c.Signatory(p).Contact); err != nil {
		return fmt.Errorf("otp send: %w", err)
	}
	s.log.Info(ctx, "signature code sent", "contract_id", c.ID, "party", string(p))
	return nil
}

// VerifyAndSign checks the code, then records the signer's signature and,
// if it was the second one, locks the contract and hands it to the archiver.
// The returned contract reflects the committed state.
func (s *Service) VerifyAndSign(ctx context.Context, req SignRequest) (*models.Contract, error) {
	c, err := s.verifyAndSign(ctx, req)
	if err != nil {
		s.metrics.Signatures.WithLabelValues(outcome(err)).Inc()
		return nil, err
	}
	s.metrics.Signatures.WithLabelValues("ok").Inc()

	if c.IsLocked {
		s.archive(ctx, c)
	}
	return c, nil
}

func (s *Service) verifyAndSign(ctx context.Context, req SignRequest) (*models.Contract, error) {
	c, p, err := s.resolve(ctx, req.ContractID, req.SignerID)
	if err != nil {
		return nil, err
	}
	if err := checkOpen(c, p); err != nil {
		return nil, err
	}

	valid, err := s.otp.Verify(ctx, c.Signatory(p).Contact, req.Code)
	if err != nil {
		return nil, fmt.Errorf("otp verify: %w", err)
	}
	if !valid {
		s.log.Warn(ctx, "signature code rejected", "contract_id", c.ID, "party", string(p), "ip", req.IP)
		return nil, ErrInvalidCode
	}

	var signed *models.Contract
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Contracts(tx)

		cur, err := repo.GetForUpdate(ctx, req.ContractID)
		if err != nil {
			return err
		}
		if cur.Signatory(p).UserID != req.SignerID {
			return ErrNotAParty
		}
		if err := checkOpen(cur, p); err != nil {
			return err
		}

		sig := models.Signature{
			Party:     p,
			SignedAt:  s.now().UTC().Truncate(time.Microsecond),
			SignerIP:  req.IP,
			UserAgent: req.UserAgent,
		}
		sig.Payload = SignaturePayload(cur, p, sig)

		if err := repo.SetSignature(ctx, cur.ID, sig, models.StatusPartiallySigned); err != nil {
			if errors.Is(err, common.ErrorImmutable) {
				return ErrAlreadySigned
			}
			return err
		}
		cur.SetSignature(p, sig)
		cur.Status = models.StatusPartiallySigned

		if cur.FullySigned() {
			if err := s.lock(ctx, repo, cur); err != nil {
				return err
			}
		}
		signed = cur
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info(ctx, "contract signed",
		"contract_id", signed.ID, "party", string(p), "status", string(signed.Status), "locked", signed.IsLocked)
	return signed, nil
}

// LockContract computes and applies the locking fields to a fully signed
// contract: composite seal, SIGNED, locked, retraction deadline. On an
// already locked contract it returns the existing seal and changes nothing.
func (s *Service) LockContract(c *models.Contract) (string, error) {
	if c.IsLocked {
		return c.CompositeSeal, nil
	}
	if !c.FullySigned() {
		return "", ErrNotFullySigned
	}

	seal := CompositeSeal(c)
	c.CompositeSeal = seal
	c.IsLocked = true
	c.Status = models.StatusSigned
	c.RetractionDeadline = timex.Latest(c.OwnerSignature.SignedAt, c.TenantSignature.SignedAt).Add(s.window)
	return seal, nil
}

func (s *Service) lock(ctx context.Context, repo contracts.Repository, c *models.Contract) error {
	if c.IsLocked {
		return nil
	}
	if _, err := s.LockContract(c); err != nil {
		return err
	}
	if err := repo.Lock(ctx, c.ID, c.CompositeSeal, c.RetractionDeadline); err != nil {
		if errors.Is(err, common.ErrorImmutable) {
			return ErrAlreadySigned
		}
		return fmt.Errorf("lock contract: %w", err)
	}
	return nil
}

func (s *Service) archive(ctx context.Context, c *models.Contract) {
	if s.archiver == nil {
		return
	}
	rec, err := s.archiver.Archive(ctx, c)
	if err != nil {
		s.log.Error(ctx, "archival failed, contract remains signed and will be retried",
			"contract_id", c.ID, "error", err)
		return
	}
	c.ArchiveDisk, c.ArchivePath, c.ArchivedAt = rec.Disk, rec.Path, rec.ArchivedAt
	c.Status = models.StatusArchived
}

// IsWithinRetractionPeriod reports whether c is still inside its retraction
// window at the service clock.
func (s *Service) IsWithinRetractionPeriod(c *models.Contract) bool {
	return IsWithinRetractionPeriod(c, s.now())
}

// Cancel moves a contract that is not yet fully signed to CANCELLED. Only a
// party may cancel.
func (s *Service) Cancel(ctx context.Context, contractID, actorID string) (*models.Contract, error) {
	c, p, err := s.resolve(ctx, contractID, actorID)
	if err != nil {
		return nil, err
	}
	if !models.CanTransition(c.Status, models.StatusCancelled) || c.IsLocked {
		return nil, fmt.Errorf("%w: %s", ErrContractClosed, c.Status)
	}

	if err := s.repomanager.Contracts(s.db).SetStatus(ctx, c.ID, c.Status, models.StatusCancelled); err != nil {
		if errors.Is(err, common.ErrorImmutable) {
			return nil, ErrContractClosed
		}
		return nil, err
	}
	c.Status = models.StatusCancelled
	s.log.Info(ctx, "contract cancelled", "contract_id", c.ID, "party", string(p))
	return c, nil
}

func outcome(err error) string {
	switch {
	case errors.Is(err, ErrInvalidCode):
		return "invalid_code"
	case errors.Is(err, ErrAlreadySigned):
		return "already_signed"
	case errors.Is(err, ErrNotAParty):
		return "not_a_party"
	case errors.Is(err, ErrContractClosed), errors.Is(err, ErrNotSealed):
		return "closed"
	default:
		return "error"
	}
}
