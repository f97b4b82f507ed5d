package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParty(t *testing.T) {
	assert.True(t, PartyOwner.Valid())
	assert.True(t, PartyTenant.Valid())
	assert.False(t, Party("guarantor").Valid())
	assert.Equal(t, PartyTenant, PartyOwner.Other())
	assert.Equal(t, PartyOwner, PartyTenant.Other())
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusDraft, StatusAwaitingSignature, true},
		{StatusAwaitingSignature, StatusPartiallySigned, true},
		{StatusPartiallySigned, StatusSigned, true},
		{StatusSigned, StatusArchived, true},
		{StatusDraft, StatusCancelled, true},
		{StatusPartiallySigned, StatusCancelled, true},
		{StatusSigned, StatusCancelled, false},
		{StatusArchived, StatusCancelled, false},
		{StatusCancelled, StatusAwaitingSignature, false},
		{StatusDraft, StatusSigned, false},
		{StatusArchived, StatusSigned, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestContract_PartyOf(t *testing.T) {
	c := &Contract{
		Owner:  Signatory{UserID: "u-owner"},
		Tenant: Signatory{UserID: "u-tenant"},
	}

	p, ok := c.PartyOf("u-owner")
	assert.True(t, ok)
	assert.Equal(t, PartyOwner, p)

	p, ok = c.PartyOf("u-tenant")
	assert.True(t, ok)
	assert.Equal(t, PartyTenant, p)

	_, ok = c.PartyOf("u-stranger")
	assert.False(t, ok)

	_, ok = (&Contract{}).PartyOf("")
	assert.False(t, ok, "empty id must never match an unset slot")
}

func TestContract_Signatures(t *testing.T) {
	c := &Contract{}
	assert.False(t, c.FullySigned())

	at := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	c.SetSignature(PartyOwner, Signature{SignedAt: at, Payload: "p1"})
	assert.Equal(t, PartyOwner, c.Signature(PartyOwner).Party)
	assert.True(t, c.Signature(PartyOwner).Signed())
	assert.False(t, c.FullySigned())

	c.SetSignature(PartyTenant, Signature{SignedAt: at.Add(time.Hour), Payload: "p2"})
	assert.True(t, c.FullySigned())
	assert.Equal(t, "p2", c.TenantSignature.Payload)
}

func TestContract_StoredLocation(t *testing.T) {
	c := &Contract{DocumentDisk: "primary", DocumentPath: "contracts/a.enc"}
	d, p := c.StoredLocation()
	assert.Equal(t, "primary", d)
	assert.Equal(t, "contracts/a.enc", p)

	c.ArchiveDisk, c.ArchivePath, c.ArchivedAt = "worm", "archive/a.enc", time.Now()
	d, p = c.StoredLocation()
	assert.Equal(t, "worm", d)
	assert.Equal(t, "archive/a.enc", p)
}

func TestSweepReport_Add(t *testing.T) {
	var r SweepReport
	r.Add(VerificationResult{Status: VerificationValid})
	r.Add(VerificationResult{Status: VerificationTampered, Kind: ViolationEncryptedHashMismatch})
	r.Add(VerificationResult{Status: VerificationCorrupted})
	r.Add(VerificationResult{Status: VerificationError})

	assert.Equal(t, 4, r.Total)
	assert.Equal(t, 1, r.Valid)
	assert.Equal(t, 1, r.Tampered)
	assert.Equal(t, 1, r.Corrupted)
	assert.Equal(t, 1, r.Errors)
	assert.Len(t, r.Violations, 3)
}
