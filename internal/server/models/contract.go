// Package models defines server-side data models persisted in the contract
// and audit databases.
package models

import (
	"time"
)

// Party is one of the two legally distinct contract roles. The set is closed:
// locking depends on there being exactly two signature slots.
type Party string

const (
	PartyOwner  Party = "owner"
	PartyTenant Party = "tenant"
)

// RetractionWindow is the statutory withdrawal period after the last
// signature. Configuration may lengthen it, never shorten it.
const RetractionWindow = 48 * time.Hour

// Parties lists both roles in seal order (owner first).
var Parties = [2]Party{PartyOwner, PartyTenant}

// Valid reports whether p is one of the two roles.
func (p Party) Valid() bool {
	return p == PartyOwner || p == PartyTenant
}

// Other returns the counter-party role.
func (p Party) Other() Party {
	if p == PartyOwner {
		return PartyTenant
	}
	return PartyOwner
}

// Status is the contract lifecycle state.
type Status string

const (
	StatusDraft             Status = "DRAFT"
	StatusAwaitingSignature Status = "AWAITING_SIGNATURE"
	StatusPartiallySigned   Status = "PARTIALLY_SIGNED"
	StatusSigned            Status = "SIGNED"
	StatusArchived          Status = "ARCHIVED"
	StatusCancelled         Status = "CANCELLED"
)

// validTransitions is the lifecycle matrix. CANCELLED is absorbing and only
// reachable before SIGNED; post-SIGNED termination lives elsewhere.
var validTransitions = map[Status]map[Status]bool{
	StatusDraft:             {StatusAwaitingSignature: true, StatusCancelled: true},
	StatusAwaitingSignature: {StatusPartiallySigned: true, StatusCancelled: true},
	StatusPartiallySigned:   {StatusSigned: true, StatusCancelled: true},
	StatusSigned:            {StatusArchived: true},
	StatusArchived:          {},
	StatusCancelled:         {},
}

// CanTransition reports whether from → to is a legal lifecycle step.
func CanTransition(from, to Status) bool {
	return validTransitions[from][to]
}

// Signature is one party's signature slot. A zero SignedAt means empty.
type Signature struct {
	Party     Party
	SignedAt  time.Time
	SignerIP  string
	UserAgent string
	// Payload is the SHA-256 hex digest binding signer, time and document.
	Payload string
}

// Signed reports whether the slot is populated.
func (s Signature) Signed() bool {
	return !s.SignedAt.IsZero()
}

// Signatory is a party's identity and verified OTP channel.
type Signatory struct {
	UserID  string
	Name    string
	Contact string
}

// Contract is the legal document record.
type Contract struct {
	ID        string
	Reference string
	ListingID string

	Owner  Signatory
	Tenant Signatory

	// DocumentHash is SHA-256 hex over the plaintext, computed before
	// encryption. Append-once.
	DocumentHash      string
	DocumentDisk      string
	DocumentPath      string
	DocumentEncrypted bool

	OwnerSignature  Signature
	TenantSignature Signature

	Status Status

	// CompositeSeal (cachet électronique) binds the document hash to both
	// signatures. Computed once at locking. Append-once.
	CompositeSeal      string
	IsLocked           bool
	RetractionDeadline time.Time

	ArchiveDisk string
	ArchivePath string
	ArchivedAt  time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// PartyOf returns the role userID holds on the contract.
func (c *Contract) PartyOf(userID string) (Party, bool) {
	switch {
	case userID == "":
		return "", false
	case userID == c.Owner.UserID:
		return PartyOwner, true
	case userID == c.Tenant.UserID:
		return PartyTenant, true
	default:
		return "", false
	}
}

// Signatory returns the identity for p.
func (c *Contract) Signatory(p Party) Signatory {
	if p == PartyOwner {
		return c.Owner
	}
	return c.Tenant
}

// Signature returns the slot for p.
func (c *Contract) Signature(p Party) Signature {
	if p == PartyOwner {
		return c.OwnerSignature
	}
	return c.TenantSignature
}

// SetSignature fills the slot for p.
func (c *Contract) SetSignature(p Party, s Signature) {
	s.Party = p
	if p == PartyOwner {
		c.OwnerSignature = s
		return
	}
	c.TenantSignature = s
}

// FullySigned reports whether both slots are populated.
func (c *Contract) FullySigned() bool {
	return c.OwnerSignature.Signed() && c.TenantSignature.Signed()
}

// Sealed reports whether a document has been produced for the contract.
func (c *Contract) Sealed() bool {
	return c.DocumentHash != ""
}

// Archived reports whether the WORM copy exists.
func (c *Contract) Archived() bool {
	return !c.ArchivedAt.IsZero()
}

// StoredLocation returns where the current sealed bytes live: the WORM copy
// once archived, the interim location before.
func (c *Contract) StoredLocation() (disk, path string) {
	if c.Archived() {
		return c.ArchiveDisk, c.ArchivePath
	}
	return c.DocumentDisk, c.DocumentPath
}
