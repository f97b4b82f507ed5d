// Package contracts provides the PostgreSQL-backed contract store.
//
// Append-once columns (document hash, signature slots, composite seal) are
// only ever written through UPDATE statements guarded by IS NULL, so a lost
// race surfaces as common.ErrorImmutable rather than an overwrite.
package contracts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/contractvault/internal/common"
	"github.com/dmitrijs2005/contractvault/internal/dbx"
	"github.com/dmitrijs2005/contractvault/internal/server/models"
)

// PostgresRepository implements Repository over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const selectColumns = `
	SELECT id, reference, listing_id,
		owner_user_id, owner_name, owner_contact,
		tenant_user_id, tenant_name, tenant_contact,
		document_bytes_hash, document_disk, document_path, document_encrypted,
		owner_signed_at, owner_signer_ip, owner_user_agent, owner_signature_payload,
		tenant_signed_at, tenant_signer_ip, tenant_user_agent, tenant_signature_payload,
		status, composite_seal, is_locked, retraction_deadline,
		archive_disk, archive_path, archived_at,
		created_at, updated_at
	FROM contracts`

// signatureColumns maps a party to its slot columns. Party is a closed set,
// so these names are never caller-controlled.
var signatureColumns = map[models.Party]struct{ signedAt, ip, ua, payload string }{
	models.PartyOwner:  {"owner_signed_at", "owner_signer_ip", "owner_user_agent", "owner_signature_payload"},
	models.PartyTenant: {"tenant_signed_at", "tenant_signer_ip", "tenant_user_agent", "tenant_signature_payload"},
}

// Create inserts a new DRAFT contract and fills CreatedAt/UpdatedAt.
func (r *PostgresRepository) Create(ctx context.Context, c *models.Contract) error {
	query := `
		INSERT INTO contracts (id, reference, listing_id,
			owner_user_id, owner_name, owner_contact,
			tenant_user_id, tenant_name, tenant_contact, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at`
	err := r.db.QueryRowContext(ctx, query,
		c.ID, c.Reference, c.ListingID,
		c.Owner.UserID, c.Owner.Name, c.Owner.Contact,
		c.Tenant.UserID, c.Tenant.Name, c.Tenant.Contact,
		string(models.StatusDraft),
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	c.Status = models.StatusDraft
	return nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.Contract, error) {
	return r.get(ctx, selectColumns+` WHERE id = $1`, id)
}

func (r *PostgresRepository) GetForUpdate(ctx context.Context, id string) (*models.Contract, error) {
	return r.get(ctx, selectColumns+` WHERE id = $1 FOR UPDATE`, id)
}

func (r *PostgresRepository) get(ctx context.Context, query, id string) (*models.Contract, error) {
	c, err := scanContract(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return c, nil
}

// SetDocument records the sealed document once and moves DRAFT to
// AWAITING_SIGNATURE. A contract that already has a hash yields
// common.ErrorImmutable.
func (r *PostgresRepository) SetDocument(ctx context.Context, id string, doc Document) error {
	query := `
		UPDATE contracts
		SET document_bytes_hash = $2, document_disk = $3, document_path = $4, document_encrypted = $5,
			status = $6, updated_at = now()
		WHERE id = $1 AND document_bytes_hash IS NULL AND status = $7`
	res, err := r.db.ExecContext(ctx, query, id, doc.Hash, doc.Disk, doc.Path, doc.Encrypted,
		string(models.StatusAwaitingSignature), string(models.StatusDraft))
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return guarded(res)
}

// SetSignature fills the party's slot if it is still empty and the contract
// is open for signature.
func (r *PostgresRepository) SetSignature(ctx context.Context, id string, sig models.Signature, status models.Status) error {
	cols, ok := signatureColumns[sig.Party]
	if !ok {
		return fmt.Errorf("invalid party %q", sig.Party)
	}
	query := fmt.Sprintf(`
		UPDATE contracts
		SET %[1]s = $2, %[2]s = $3, %[3]s = $4, %[4]s = $5, status = $6, updated_at = now()
		WHERE id = $1 AND %[1]s IS NULL AND NOT is_locked AND status IN ($7, $8)`,
		cols.signedAt, cols.ip, cols.ua, cols.payload)
	res, err := r.db.ExecContext(ctx, query, id,
		sig.SignedAt.UTC(), sig.SignerIP, sig.UserAgent, sig.Payload, string(status),
		string(models.StatusAwaitingSignature), string(models.StatusPartiallySigned))
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return guarded(res)
}

// Lock writes the composite seal once, marks the contract SIGNED and locked.
func (r *PostgresRepository) Lock(ctx context.Context, id string, seal string, deadline time.Time) error {
	query := `
		UPDATE contracts
		SET composite_seal = $2, is_locked = true, retraction_deadline = $3, status = $4, updated_at = now()
		WHERE id = $1 AND composite_seal IS NULL
			AND owner_signed_at IS NOT NULL AND tenant_signed_at IS NOT NULL`
	res, err := r.db.ExecContext(ctx, query, id, seal, deadline.UTC(), string(models.StatusSigned))
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return guarded(res)
}

// SetArchived records the WORM location of a locked contract.
func (r *PostgresRepository) SetArchived(ctx context.Context, id string, disk, path string, at time.Time) error {
	query := `
		UPDATE contracts
		SET archive_disk = $2, archive_path = $3, archived_at = $4, status = $5, updated_at = now()
		WHERE id = $1 AND is_locked AND archived_at IS NULL`
	res, err := r.db.ExecContext(ctx, query, id, disk, path, at.UTC(), string(models.StatusArchived))
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return guarded(res)
}

// SetStatus performs a compare-and-set status change on an unlocked contract.
func (r *PostgresRepository) SetStatus(ctx context.Context, id string, from, to models.Status) error {
	query := `
		UPDATE contracts SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2 AND NOT is_locked`
	res, err := r.db.ExecContext(ctx, query, id, string(from), string(to))
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return guarded(res)
}

// ListPendingArchival returns locked contracts that have no WORM copy yet,
// oldest first.
func (r *PostgresRepository) ListPendingArchival(ctx context.Context, limit int) ([]*models.Contract, error) {
	rows, err := r.db.QueryContext(ctx,
		selectColumns+` WHERE is_locked AND archived_at IS NULL ORDER BY updated_at LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select contracts: %w", err)
	}
	defer rows.Close()

	var result []*models.Contract
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func guarded(res sql.Result) error {
	err := dbx.OneRow(res)
	if errors.Is(err, dbx.ErrNoRowsAffected) {
		return common.ErrorImmutable
	}
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

type nullSignature struct {
	signedAt sql.NullTime
	ip       sql.NullString
	ua       sql.NullString
	payload  sql.NullString
}

func (n nullSignature) value(p models.Party) models.Signature {
	if !n.signedAt.Valid {
		return models.Signature{}
	}
	return models.Signature{
		Party:     p,
		SignedAt:  n.signedAt.Time.UTC(),
		SignerIP:  n.ip.String,
		UserAgent: n.ua.String,
		Payload:   n.payload.String,
	}
}

func scanContract(row scanner) (*models.Contract, error) {
	var (
		c                   models.Contract
		status              string
		docHash, docDisk    sql.NullString
		docPath, seal       sql.NullString
		archDisk, archPath  sql.NullString
		deadline, archiveAt sql.NullTime
		owner, tenant       nullSignature
	)
	err := row.Scan(
		&c.ID, &c.Reference, &c.ListingID,
		&c.Owner.UserID, &c.Owner.Name, &c.Owner.Contact,
		&c.Tenant.UserID, &c.Tenant.Name, &c.Tenant.Contact,
		&docHash, &docDisk, &docPath, &c.DocumentEncrypted,
		&owner.signedAt, &owner.ip, &owner.ua, &owner.payload,
		&tenant.signedAt, &tenant.ip, &tenant.ua, &tenant.payload,
		&status, &seal, &c.IsLocked, &deadline,
		&archDisk, &archPath, &archiveAt,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.Status = models.Status(status)
	c.DocumentHash = docHash.String
	c.DocumentDisk = docDisk.String
	c.DocumentPath = docPath.String
	c.OwnerSignature = owner.value(models.PartyOwner)
	c.TenantSignature = tenant.value(models.PartyTenant)
	c.CompositeSeal = seal.String
	if deadline.Valid {
		c.RetractionDeadline = deadline.Time.UTC()
	}
	c.ArchiveDisk = archDisk.String
	c.ArchivePath = archPath.String
	if archiveAt.Valid {
		c.ArchivedAt = archiveAt.Time.UTC()
	}
	return &c, nil
}
