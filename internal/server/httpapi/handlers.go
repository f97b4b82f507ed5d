// Package httpapi exposes sealing, signing and integrity operations over a
// JSON HTTP API authenticated with bearer tokens.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dmitrijs2005/contractvault/internal/cryptox"
	"github.com/dmitrijs2005/contractvault/internal/logging"
	"github.com/dmitrijs2005/contractvault/internal/server/models"
	"github.com/dmitrijs2005/contractvault/internal/server/repositories/contracts"
	"github.com/dmitrijs2005/contractvault/internal/server/services/archive"
	"github.com/dmitrijs2005/contractvault/internal/server/services/sealer"
	"github.com/dmitrijs2005/contractvault/internal/server/services/signing"
)

const maxBodyBytes = 64 << 10

// Handler serves the contract endpoints.
type Handler struct {
	contracts contracts.Repository
	sealer    *sealer.Service
	signing   *signing.Service
	archive   *archive.Service
	renderer  sealer.Renderer
	log       logging.Logger
}

func NewHandler(repo contracts.Repository, sl *sealer.Service, sg *signing.Service, ar *archive.Service,
	renderer sealer.Renderer, log logging.Logger) *Handler {
	return &Handler{
		contracts: repo,
		sealer:    sl,
		signing:   sg,
		archive:   ar,
		renderer:  renderer,
		log:       log.With("module", "httpapi"),
	}
}

type signatoryJSON struct {
	UserID  string `json:"user_id"`
	Name    string `json:"name"`
	Contact string `json:"contact,omitempty"`
}

type contractView struct {
	ID                 string     `json:"id"`
	Reference          string     `json:"reference"`
	ListingID          string     `json:"listing_id,omitempty"`
	Status             string     `json:"status"`
	Owner              string     `json:"owner_user_id"`
	Tenant             string     `json:"tenant_user_id"`
	Sealed             bool       `json:"sealed"`
	DocumentHash       string     `json:"document_hash,omitempty"`
	OwnerSignedAt      *time.Time `json:"owner_signed_at,omitempty"`
	TenantSignedAt     *time.Time `json:"tenant_signed_at,omitempty"`
	Locked             bool       `json:"locked"`
	CompositeSeal      string     `json:"composite_seal,omitempty"`
	RetractionDeadline *time.Time `json:"retraction_deadline,omitempty"`
	ArchivedAt         *time.Time `json:"archived_at,omitempty"`
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func newContractView(c *models.Contract) contractView {
	return contractView{
		ID:                 c.ID,
		Reference:          c.Reference,
		ListingID:          c.ListingID,
		Status:             string(c.Status),
		Owner:              c.Owner.UserID,
		Tenant:             c.Tenant.UserID,
		Sealed:             c.Sealed(),
		DocumentHash:       c.DocumentHash,
		OwnerSignedAt:      timePtr(c.OwnerSignature.SignedAt),
		TenantSignedAt:     timePtr(c.TenantSignature.SignedAt),
		Locked:             c.IsLocked,
		CompositeSeal:      c.CompositeSeal,
		RetractionDeadline: timePtr(c.RetractionDeadline),
		ArchivedAt:         timePtr(c.ArchivedAt),
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		WriteError(w, http.StatusBadRequest, CodeValidationError, "malformed request body")
		return false
	}
	return true
}

// contract loads the contract named in the path and checks that the caller
// is one of its parties or an admin.
func (h *Handler) contract(w http.ResponseWriter, r *http.Request) (*models.Contract, bool) {
	c, err := h.contracts.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return nil, false
	}
	claims := ClaimsFromContext(r.Context())
	if _, ok := c.PartyOf(claims.UserID); !ok && !claims.IsAdmin() {
		h.fail(w, r, signing.ErrNotAParty)
		return nil, false
	}
	return c, true
}

func (h *Handler) getContract(w http.ResponseWriter, r *http.Request) {
	c, ok := h.contract(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newContractView(c))
}

type createContractRequest struct {
	Reference string        `json:"reference"`
	ListingID string        `json:"listing_id"`
	Owner     signatoryJSON `json:"owner"`
	Tenant    signatoryJSON `json:"tenant"`
}

func (req *createContractRequest) validate() string {
	switch {
	case strings.TrimSpace(req.Reference) == "":
		return "reference is required"
	case req.Owner.UserID == "" || req.Tenant.UserID == "":
		return "both parties are required"
	case req.Owner.UserID == req.Tenant.UserID:
		return "owner and tenant must be different users"
	case req.Owner.Contact == "" || req.Tenant.Contact == "":
		return "both parties need a verified contact"
	}
	return ""
}

func (h *Handler) createContract(w http.ResponseWriter, r *http.Request) {
	var req createContractRequest
	if !decode(w, r, &req) {
		return
	}
	if msg := req.validate(); msg != "" {
		WriteError(w, http.StatusBadRequest, CodeValidationError, msg)
		return
	}

	c := &models.Contract{
		ID:        uuid.NewString(),
		Reference: req.Reference,
		ListingID: req.ListingID,
		Owner:     models.Signatory{UserID: req.Owner.UserID, Name: req.Owner.Name, Contact: req.Owner.Contact},
		Tenant:    models.Signatory{UserID: req.Tenant.UserID, Name: req.Tenant.Name, Contact: req.Tenant.Contact},
	}
	if err := h.contracts.Create(r.Context(), c); err != nil {
		h.fail(w, r, err)
		return
	}
	h.log.Info(r.Context(), "contract created", "contract_id", c.ID, "reference", c.Reference)
	writeJSON(w, http.StatusCreated, newContractView(c))
}

func (h *Handler) seal(w http.ResponseWriter, r *http.Request) {
	c, ok := h.contract(w, r)
	if !ok {
		return
	}
	claims := ClaimsFromContext(r.Context())
	if c.Owner.UserID != claims.UserID && !claims.IsAdmin() {
		WriteError(w, http.StatusForbidden, CodeForbidden, "only the owner can produce the document")
		return
	}

	doc, err := h.sealer.Seal(r.Context(), c.ID, h.renderer)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"contract_id":   doc.ContractID,
		"document_hash": doc.Hash,
		"size_bytes":    doc.Size,
	})
}

func (h *Handler) requestCode(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	if err := h.signing.RequestSignature(r.Context(), chi.URLParam(r, "id"), claims.UserID); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "code sent"})
}

type signRequest struct {
	Code string `json:"code"`
}

func (h *Handler) sign(w http.ResponseWriter, r *http.Request) {
	var req signRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		WriteError(w, http.StatusBadRequest, CodeValidationError, "code is required")
		return
	}

	c, err := h.signing.VerifyAndSign(r.Context(), signing.SignRequest{
		ContractID: chi.URLParam(r, "id"),
		SignerID:   ClaimsFromContext(r.Context()).UserID,
		Code:       req.Code,
		IP:         clientIP(r),
		UserAgent:  r.UserAgent(),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newContractView(c))
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	c, err := h.signing.Cancel(r.Context(), chi.URLParam(r, "id"), ClaimsFromContext(r.Context()).UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newContractView(c))
}

func (h *Handler) retraction(w http.ResponseWriter, r *http.Request) {
	c, ok := h.contract(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"locked":                   c.IsLocked,
		"within_retraction_period": h.signing.IsWithinRetractionPeriod(c),
		"retraction_deadline":      timePtr(c.RetractionDeadline),
	})
}

// document streams the plaintext after checking it against its recorded
// hashes. Any integrity problem surfaces as the same generic 503.
func (h *Handler) document(w http.ResponseWriter, r *http.Request) {
	c, ok := h.contract(w, r)
	if !ok {
		return
	}

	var (
		plaintext []byte
		err       error
	)
	switch {
	case c.Archived():
		plaintext, err = h.archive.Open(r.Context(), c.ID)
	case c.Sealed():
		plaintext, err = h.sealer.Plaintext(r.Context(), c)
		if err != nil && !errors.Is(err, sealer.ErrNotSealed) {
			h.log.Error(r.Context(), "interim document unavailable", "contract_id", c.ID, "error", err)
			err = archive.ErrDocumentUnavailable
		}
	default:
		err = sealer.ErrNotSealed
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	defer cryptox.WipeByteArray(plaintext)

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(plaintext)
}

func (h *Handler) integrityReport(w http.ResponseWriter, r *http.Request) {
	rep, err := h.archive.Report(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

type verificationView struct {
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Status     string    `json:"status"`
	Kind       string    `json:"violation_kind,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	CheckedAt  time.Time `json:"checked_at"`
}

func newVerificationView(res models.VerificationResult) verificationView {
	return verificationView{
		EntityType: res.EntityType,
		EntityID:   res.EntityID,
		Status:     string(res.Status),
		Kind:       string(res.Kind),
		Detail:     res.Detail,
		CheckedAt:  res.CheckedAt,
	}
}

func (h *Handler) verify(w http.ResponseWriter, r *http.Request) {
	res, err := h.archive.Verify(r.Context(), chi.URLParam(r, "id"))
	if res == nil {
		h.fail(w, r, err)
		return
	}
	if err != nil {
		h.log.Error(r.Context(), "verification outcome not recorded", "contract_id", res.EntityID, "error", err)
	}
	writeJSON(w, http.StatusOK, newVerificationView(*res))
}

type sweepView struct {
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt time.Time          `json:"finished_at"`
	Total      int                `json:"total"`
	Valid      int                `json:"valid"`
	Tampered   int                `json:"tampered"`
	Corrupted  int                `json:"corrupted"`
	Errors     int                `json:"errors"`
	Violations []verificationView `json:"violations"`
}

func (h *Handler) sweep(w http.ResponseWriter, r *http.Request) {
	rep, err := h.archive.Sweep(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}

	v := sweepView{
		StartedAt:  rep.StartedAt,
		FinishedAt: rep.FinishedAt,
		Total:      rep.Total,
		Valid:      rep.Valid,
		Tampered:   rep.Tampered,
		Corrupted:  rep.Corrupted,
		Errors:     rep.Errors,
		Violations: make([]verificationView, 0, len(rep.Violations)),
	}
	for _, res := range rep.Violations {
		v.Violations = append(v.Violations, newVerificationView(res))
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *Handler) retryPending(w http.ResponseWriter, r *http.Request) {
	n, err := h.archive.RetryPending(r.Context())
	body := map[string]any{"archived": n}
	if err != nil {
		h.log.Error(r.Context(), "pending archivals failed", "error", err)
		body["failed"] = err.Error()
	}
	writeJSON(w, http.StatusOK, body)
}
