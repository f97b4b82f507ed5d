// Package audits provides the PostgreSQL-backed integrity audit ledger. The
// ledger lives in its own database so that a compromise of the contract
// store cannot rewrite the hashes it is checked against.
package audits

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

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const selectColumns = `
	SELECT id, entity_type, entity_id, disk, path,
		plaintext_hash, ciphertext_hash, size_bytes,
		archived_at, retention_until,
		verification_count, last_verified_at,
		violation_count, last_violation_at, last_violation_kind
	FROM integrity_audit_records`

func (r *PostgresRepository) Insert(ctx context.Context, rec *models.AuditRecord) (bool, error) {
	query := `
		INSERT INTO integrity_audit_records (id, entity_type, entity_id, disk, path,
			plaintext_hash, ciphertext_hash, size_bytes, archived_at, retention_until)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (entity_type, entity_id) DO NOTHING`
	res, err := r.db.ExecContext(ctx, query,
		rec.ID, rec.EntityType, rec.EntityID, rec.Disk, rec.Path,
		rec.PlaintextHash, rec.CiphertextHash, rec.SizeBytes,
		rec.ArchivedAt.UTC(), rec.RetentionUntil.UTC())
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	err = dbx.OneRow(res)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, dbx.ErrNoRowsAffected):
		return false, nil
	default:
		return false, err
	}
}

func (r *PostgresRepository) Get(ctx context.Context, entityType, entityID string) (*models.AuditRecord, error) {
	rec, err := scanRecord(r.db.QueryRowContext(ctx,
		selectColumns+` WHERE entity_type = $1 AND entity_id = $2`, entityType, entityID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return rec, nil
}

// RecordVerification increments verification_count atomically.
func (r *PostgresRepository) RecordVerification(ctx context.Context, id string, at time.Time) error {
	query := `
		UPDATE integrity_audit_records
		SET verification_count = verification_count + 1, last_verified_at = $2
		WHERE id = $1`
	return r.exec(ctx, query, id, at.UTC())
}

// RecordViolation increments violation_count atomically and stores the kind.
func (r *PostgresRepository) RecordViolation(ctx context.Context, id string, at time.Time, kind models.ViolationKind) error {
	query := `
		UPDATE integrity_audit_records
		SET violation_count = violation_count + 1, last_violation_at = $2, last_violation_kind = $3
		WHERE id = $1`
	return r.exec(ctx, query, id, at.UTC(), string(kind))
}

func (r *PostgresRepository) exec(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if err := dbx.OneRow(res); err != nil {
		if errors.Is(err, dbx.ErrNoRowsAffected) {
			return common.ErrorNotFound
		}
		return err
	}
	return nil
}

func (r *PostgresRepository) ListRetained(ctx context.Context, now time.Time, afterID string, limit int) ([]*models.AuditRecord, error) {
	query := selectColumns + `
		WHERE retention_until > $1 AND id::text > $2
		ORDER BY id
		LIMIT $3`
	rows, err := r.db.QueryContext(ctx, query, now.UTC(), afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select audit records: %w", err)
	}
	defer rows.Close()

	var result []*models.AuditRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*models.AuditRecord, error) {
	var (
		rec                    models.AuditRecord
		lastVerified, lastViol sql.NullTime
		lastKind               sql.NullString
	)
	if err := row.Scan(
		&rec.ID, &rec.EntityType, &rec.EntityID, &rec.Disk, &rec.Path,
		&rec.PlaintextHash, &rec.CiphertextHash, &rec.SizeBytes,
		&rec.ArchivedAt, &rec.RetentionUntil,
		&rec.VerificationCount, &lastVerified,
		&rec.ViolationCount, &lastViol, &lastKind,
	); err != nil {
		return nil, err
	}
	rec.ArchivedAt = rec.ArchivedAt.UTC()
	rec.RetentionUntil = rec.RetentionUntil.UTC()
	if lastVerified.Valid {
		rec.LastVerifiedAt = lastVerified.Time.UTC()
	}
	if lastViol.Valid {
		rec.LastViolationAt = lastViol.Time.UTC()
	}
	rec.LastViolationKind = models.ViolationKind(lastKind.String)
	return &rec, nil
}
