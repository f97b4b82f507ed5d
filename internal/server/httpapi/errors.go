package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dmitrijs2005/contractvault/internal/common"
	"github.com/dmitrijs2005/contractvault/internal/server/services/archive"
	"github.com/dmitrijs2005/contractvault/internal/server/services/sealer"
	"github.com/dmitrijs2005/contractvault/internal/server/services/signing"
)

// Error codes returned in {"error": {"code": ...}}.
const (
	CodeValidationError     = "VALIDATION_ERROR"
	CodeNotFound            = "NOT_FOUND"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeForbidden           = "FORBIDDEN"
	CodeNotAParty           = "NOT_A_PARTY"
	CodeAlreadySigned       = "ALREADY_SIGNED"
	CodeInvalidCode         = "INVALID_CODE"
	CodeContractClosed      = "CONTRACT_CLOSED"
	CodeNotSealed           = "NOT_SEALED"
	CodeAlreadySealed       = "ALREADY_SEALED"
	CodeNotLocked           = "NOT_LOCKED"
	CodeRateLimited         = "RATE_LIMITED"
	CodeDocumentUnavailable = "DOCUMENT_UNAVAILABLE"
	CodeInternalError       = "INTERNAL_ERROR"
)

const msgDocumentUnavailable = "document unavailable, under review"

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError writes a JSON error body with the given status.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorBody{
		Error: errorDetail{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

// errorMap translates service errors to responses. Order matters: the
// first match wins.
var errorMap = []struct {
	err     error
	status  int
	code    string
	message string
}{
	{common.ErrorNotFound, http.StatusNotFound, CodeNotFound, "contract not found"},
	{signing.ErrNotAParty, http.StatusForbidden, CodeNotAParty, "you are not a party to this contract"},
	{signing.ErrAlreadySigned, http.StatusConflict, CodeAlreadySigned, "you have already signed this contract"},
	{signing.ErrInvalidCode, http.StatusUnprocessableEntity, CodeInvalidCode, "the code is invalid or expired, request a new one"},
	{signing.ErrContractClosed, http.StatusConflict, CodeContractClosed, "the contract no longer accepts changes"},
	{signing.ErrNotSealed, http.StatusConflict, CodeNotSealed, "the contract document has not been produced yet"},
	{sealer.ErrNotSealed, http.StatusConflict, CodeNotSealed, "the contract document has not been produced yet"},
	{sealer.ErrAlreadySealed, http.StatusConflict, CodeAlreadySealed, "the contract document has already been produced"},
	{sealer.ErrNotDraft, http.StatusConflict, CodeContractClosed, "the contract no longer accepts changes"},
	{archive.ErrNotLocked, http.StatusConflict, CodeNotLocked, "the contract is not fully signed"},
	{archive.ErrDocumentUnavailable, http.StatusServiceUnavailable, CodeDocumentUnavailable, msgDocumentUnavailable},
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	for _, m := range errorMap {
		if errors.Is(err, m.err) {
			WriteError(w, m.status, m.code, m.message)
			return
		}
	}
	h.log.Error(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	WriteError(w, http.StatusInternalServerError, CodeInternalError, "internal error")
}
