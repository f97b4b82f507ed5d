// Package otp is the one-time-code capability used to authenticate a
// signing party. Codes are generated and delivered by an external gateway;
// this package only asks it to send and to check.
package otp

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/dmitrijs2005/contractvault/internal/netx"
)

// Provider sends and verifies one-time codes for a contact (phone or e-mail).
type Provider interface {
	Send(ctx context.Context, contact string) error
	Verify(ctx context.Context, contact, code string) (bool, error)
}

var ErrEmptyContact = errors.New("otp: empty contact")

// HTTPProvider talks JSON to the OTP gateway:
//
//	POST {base}/send   {"contact": "..."}
//	POST {base}/verify {"contact": "...", "code": "..."} -> {"valid": bool}
type HTTPProvider struct {
	baseURL string
	client  *http.Client
}

func NewHTTPProvider(baseURL string, timeout time.Duration) *HTTPProvider {
	return &HTTPProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type sendRequest struct {
	Contact string `json:"contact"`
}

type verifyRequest struct {
	Contact string `json:"contact"`
	Code    string `json:"code"`
}

type verifyResponse struct {
	Valid bool `json:"valid"`
}

func (p *HTTPProvider) Send(ctx context.Context, contact string) error {
	if contact == "" {
		return ErrEmptyContact
	}
	return netx.PostJSON(ctx, p.client, p.baseURL+"/send", sendRequest{Contact: contact}, nil)
}

// Verify returns false without calling the gateway when code is empty. A
// gateway that answers 4xx is treated as a rejected code.
func (p *HTTPProvider) Verify(ctx context.Context, contact, code string) (bool, error) {
	if contact == "" {
		return false, ErrEmptyContact
	}
	if code == "" {
		return false, nil
	}

	var out verifyResponse
	err := netx.PostJSON(ctx, p.client, p.baseURL+"/verify", verifyRequest{Contact: contact, Code: code}, &out)
	if err != nil {
		var se *netx.StatusError
		if errors.As(err, &se) && se.Code >= 400 && se.Code < 500 {
			return false, nil
		}
		return false, err
	}
	return out.Valid, nil
}
