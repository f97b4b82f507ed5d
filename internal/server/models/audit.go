package models

import "time"

// RetentionYears is the legal retention horizon for archived documents.
const RetentionYears = 10

// AuditRecord is the detached integrity ledger entry for one archived
// document. It lives in a separate database from the contracts.
type AuditRecord struct {
	ID         string
	EntityType string
	EntityID   string

	Disk string
	Path string

	PlaintextHash  string
	CiphertextHash string
	SizeBytes      int64

	ArchivedAt     time.Time
	RetentionUntil time.Time

	VerificationCount int64
	LastVerifiedAt    time.Time

	ViolationCount    int64
	LastViolationAt   time.Time
	LastViolationKind ViolationKind
}

// VerificationStatus classifies a verification run. These are outcomes,
// not errors: every non-VALID value requires operator action.
type VerificationStatus string

const (
	VerificationValid     VerificationStatus = "VALID"
	VerificationTampered  VerificationStatus = "TAMPERED"
	VerificationCorrupted VerificationStatus = "CORRUPTED"
	VerificationError     VerificationStatus = "ERROR"
)

// ViolationKind is the recorded reason for a non-VALID result.
type ViolationKind string

const (
	ViolationNone                  ViolationKind = ""
	ViolationEncryptedHashMismatch ViolationKind = "ENCRYPTED_HASH_MISMATCH"
	ViolationPlaintextHashMismatch ViolationKind = "PLAINTEXT_HASH_MISMATCH"
	ViolationStorageError          ViolationKind = "STORAGE_ERROR"
	ViolationDecryptionError       ViolationKind = "DECRYPTION_ERROR"
	ViolationMissingAuditRecord    ViolationKind = "MISSING_AUDIT_RECORD"
)

// VerificationResult is returned by the verifier for one document.
type VerificationResult struct {
	EntityType string
	EntityID   string
	Status     VerificationStatus
	Kind       ViolationKind
	Detail     string
	CheckedAt  time.Time
}

// Valid reports whether the document passed both integrity layers.
func (r *VerificationResult) Valid() bool {
	return r.Status == VerificationValid
}

// SweepReport aggregates a batch verification run.
type SweepReport struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Total      int
	Valid      int
	Tampered   int
	Corrupted  int
	Errors     int
	Violations []VerificationResult
}

// Add folds one result into the report.
func (r *SweepReport) Add(res VerificationResult) {
	r.Total++
	switch res.Status {
	case VerificationValid:
		r.Valid++
		return
	case VerificationTampered:
		r.Tampered++
	case VerificationCorrupted:
		r.Corrupted++
	default:
		r.Errors++
	}
	r.Violations = append(r.Violations, res)
}

// IntegrityReport is the operator-facing summary of a document's ledger entry.
type IntegrityReport struct {
	ContractID        string     `json:"contract_id"`
	Reference         string     `json:"reference"`
	Status            Status     `json:"status"`
	PlaintextHash     string     `json:"plaintext_hash_prefix"`
	CiphertextHash    string     `json:"ciphertext_hash_prefix"`
	CompositeSeal     string     `json:"composite_seal_prefix,omitempty"`
	Disk              string     `json:"disk"`
	SizeBytes         int64      `json:"size_bytes"`
	ArchivedAt        time.Time  `json:"archived_at"`
	RetentionUntil    time.Time  `json:"retention_until"`
	VerificationCount int64      `json:"verification_count"`
	LastVerifiedAt    *time.Time `json:"last_verified_at,omitempty"`
	ViolationCount    int64      `json:"violation_count"`
	LastViolationAt   *time.Time `json:"last_violation_at,omitempty"`
	LastViolationKind string     `json:"last_violation_kind,omitempty"`
}
