package signing

import (
	"crypto/subtle"
	"strings"
	"time"

	"github.com/dmitrijs2005/contractvault/internal/cryptox"
	"github.com/dmitrijs2005/contractvault/internal/server/models"
)

// timeLayout keeps the microseconds a timestamptz column stores.
const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Truncate(time.Microsecond).Format(timeLayout)
}

// SignaturePayload is the SHA-256 hex digest binding a signature to the
// signer, the instant, the origin and the document:
//
//	contractID|reference|signerID|signerName|signedAt|ip|documentHash
//
// signedAt is RFC 3339 in UTC with exactly six fractional digits.
func SignaturePayload(c *models.Contract, p models.Party, sig models.Signature) string {
	signer := c.Signatory(p)
	return cryptox.SHA256Hex([]byte(strings.Join([]string{
		c.ID,
		c.Reference,
		signer.UserID,
		signer.Name,
		formatTime(sig.SignedAt),
		sig.SignerIP,
		c.DocumentHash,
	}, "|")))
}

// CompositeSeal is the SHA-256 hex digest over the document hash, both
// signature payloads and both signing instants, owner first, concatenated
// without separators.
func CompositeSeal(c *models.Contract) string {
	var b strings.Builder
	b.WriteString(c.DocumentHash)
	b.WriteString(c.OwnerSignature.Payload)
	b.WriteString(c.TenantSignature.Payload)
	b.WriteString(formatTime(c.OwnerSignature.SignedAt))
	b.WriteString(formatTime(c.TenantSignature.SignedAt))
	return cryptox.SHA256Hex([]byte(b.String()))
}

// VerifySignatureIntegrity re-derives the payload of p's signature and
// compares it with the stored one.
func VerifySignatureIntegrity(c *models.Contract, p models.Party) (bool, error) {
	if !p.Valid() {
		return false, ErrNotAParty
	}
	sig := c.Signature(p)
	if !sig.Signed() {
		return false, ErrNotSigned
	}
	return equalHex(SignaturePayload(c, p, sig), sig.Payload), nil
}

// VerifySeal re-derives the composite seal of a locked contract.
func VerifySeal(c *models.Contract) bool {
	if c.CompositeSeal == "" || !c.FullySigned() {
		return false
	}
	return equalHex(CompositeSeal(c), c.CompositeSeal)
}

// IsWithinRetractionPeriod reports whether now is before the retraction
// deadline. It is false for contracts that are not yet fully signed.
func IsWithinRetractionPeriod(c *models.Contract, now time.Time) bool {
	if !c.IsLocked || c.RetractionDeadline.IsZero() {
		return false
	}
	return now.Before(c.RetractionDeadline)
}

func equalHex(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
