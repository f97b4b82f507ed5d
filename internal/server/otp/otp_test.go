package otp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGateway(t *testing.T, h http.HandlerFunc) *HTTPProvider {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewHTTPProvider(srv.URL+"/", time.Second)
}

func TestSend(t *testing.T) {
	var got sendRequest
	p := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/send", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	})

	require.NoError(t, p.Send(context.Background(), "+33600000001"))
	assert.Equal(t, "+33600000001", got.Contact)

	require.ErrorIs(t, p.Send(context.Background(), ""), ErrEmptyContact)
}

func TestVerify(t *testing.T) {
	p := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		var in verifyRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		switch in.Code {
		case "123456":
			_ = json.NewEncoder(w).Encode(verifyResponse{Valid: true})
		case "expired":
			http.Error(w, "code expired", http.StatusGone)
		case "broken":
			http.Error(w, "oops", http.StatusBadGateway)
		default:
			_ = json.NewEncoder(w).Encode(verifyResponse{Valid: false})
		}
	})
	ctx := context.Background()

	ok, err := p.Verify(ctx, "c", "123456")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = p.Verify(ctx, "c", "000000")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = p.Verify(ctx, "c", "expired")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = p.Verify(ctx, "c", "broken")
	require.Error(t, err)

	ok, err = p.Verify(ctx, "c", "")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = p.Verify(ctx, "", "123456")
	require.ErrorIs(t, err, ErrEmptyContact)
}
