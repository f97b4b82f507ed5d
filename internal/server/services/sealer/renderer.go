package sealer

import (
	"bytes"
	"context"
	"fmt"

	"github.com/dmitrijs2005/contractvault/internal/server/models"
)

// TextRenderer renders a plain-text lease document. It is deterministic for
// a given contract.
type TextRenderer struct{}

func (TextRenderer) Render(_ context.Context, c *models.Contract) ([]byte, error) {
	if c.Reference == "" {
		return nil, fmt.Errorf("contract %s has no reference", c.ID)
	}

	var b bytes.Buffer
	fmt.Fprintf(&b, "LEASE AGREEMENT %s\n\n", c.Reference)
	fmt.Fprintf(&b, "Contract: %s\n", c.ID)
	if c.ListingID != "" {
		fmt.Fprintf(&b, "Listing: %s\n", c.ListingID)
	}
	fmt.Fprintf(&b, "Drawn up: %s\n\n", c.CreatedAt.UTC().Format("2006-01-02"))
	fmt.Fprintf(&b, "Owner:  %s (%s)\n", c.Owner.Name, c.Owner.UserID)
	fmt.Fprintf(&b, "Tenant: %s (%s)\n\n", c.Tenant.Name, c.Tenant.UserID)
	b.WriteString("Both parties sign electronically with a one-time code sent to their verified contact.\n")
	b.WriteString("The signed document is archived unaltered for ten years.\n")
	return b.Bytes(), nil
}
