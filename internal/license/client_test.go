package license

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "popwatch/internal/errors"
	"popwatch/internal/security"
	api "popwatch/pkg/contracts/api/v1"
)

// newFastClient shrinks the retry backoff so retry tests run in milliseconds.
func newFastClient(baseURL string, attempts int) *Client {
	c := NewClient(baseURL, 2*time.Second, attempts, nil)
	c.http.RetryWaitMin = time.Millisecond
	c.http.RetryWaitMax = 5 * time.Millisecond
	return c
}

func successResponse(t *testing.T, device string) api.VerifyResponse {
	t.Helper()
	signer := security.NewSigner([]byte("client-test-secret"))
	token := api.Token{License: "POP-AAAA-BBBB-CCCC", Device: device, Exp: time.Now().Add(24 * time.Hour).Unix()}
	sig, err := signer.Sign(token)
	require.NoError(t, err)
	return api.VerifyResponse{Status: api.StatusSuccess, Token: token, Signature: sig}
}

func TestClientVerifySuccess(t *testing.T) {
	want := successResponse(t, "device-1")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/verify", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req api.VerifyRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "POP-AAAA-BBBB-CCCC", req.LicenseKey)
		assert.Equal(t, "device-1", req.DeviceID)

		json.NewEncoder(w).Encode(want)
	}))
	defer server.Close()

	client := newFastClient(server.URL, 1)
	got, err := client.Verify(context.Background(), api.VerifyRequest{
		LicenseKey: "POP-AAAA-BBBB-CCCC",
		DeviceID:   "device-1",
	})
	require.NoError(t, err)
	assert.Equal(t, want.Token, got.Token)
	assert.Equal(t, want.Signature, got.Signature)
}

func TestClientVerifyStatusMapping(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		wantErr error
	}{
		{"not found", http.StatusNotFound, apperrors.ErrLicenseInvalid},
		{"gone", http.StatusGone, apperrors.ErrLicenseExpired},
		{"forbidden", http.StatusForbidden, apperrors.ErrDeviceConflict},
		{"too many requests", http.StatusTooManyRequests, apperrors.ErrDeviceQuotaExceeded},
		{"unprocessable", http.StatusUnprocessableEntity, apperrors.ErrMalformedRequest},
		{"server error", http.StatusInternalServerError, apperrors.ErrNetwork},
		{"unmapped status", http.StatusTeapot, apperrors.ErrNetwork},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer server.Close()

			client := newFastClient(server.URL, 1)
			_, err := client.Verify(context.Background(), api.VerifyRequest{LicenseKey: "K", DeviceID: "D"})
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestClientVerifyBadPayload(t *testing.T) {
	t.Run("invalid json body", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("{not json"))
		}))
		defer server.Close()

		client := newFastClient(server.URL, 1)
		_, err := client.Verify(context.Background(), api.VerifyRequest{LicenseKey: "K", DeviceID: "D"})
		assert.ErrorIs(t, err, apperrors.ErrNetwork)
	})

	t.Run("200 without success status", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(api.VerifyResponse{Status: "pending"})
		}))
		defer server.Close()

		client := newFastClient(server.URL, 1)
		_, err := client.Verify(context.Background(), api.VerifyRequest{LicenseKey: "K", DeviceID: "D"})
		assert.ErrorIs(t, err, apperrors.ErrNetwork)
	})

	t.Run("200 with empty signature", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(api.VerifyResponse{Status: api.StatusSuccess})
		}))
		defer server.Close()

		client := newFastClient(server.URL, 1)
		_, err := client.Verify(context.Background(), api.VerifyRequest{LicenseKey: "K", DeviceID: "D"})
		assert.ErrorIs(t, err, apperrors.ErrNetwork)
	})
}

func TestClientVerifyUnreachableServer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	client := newFastClient(server.URL, 2)
	_, err := client.Verify(context.Background(), api.VerifyRequest{LicenseKey: "K", DeviceID: "D"})
	assert.ErrorIs(t, err, apperrors.ErrNetwork)
	assert.True(t, apperrors.Retryable(err))
}

func TestClientRetriesTransientFailures(t *testing.T) {
	t.Run("5xx retried until success", func(t *testing.T) {
		want := successResponse(t, "device-1")
		var hits atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if hits.Add(1) <= 2 {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			json.NewEncoder(w).Encode(want)
		}))
		defer server.Close()

		client := newFastClient(server.URL, 3)
		got, err := client.Verify(context.Background(), api.VerifyRequest{LicenseKey: "K", DeviceID: "D"})
		require.NoError(t, err)
		assert.Equal(t, want.Signature, got.Signature)
		assert.Equal(t, int32(3), hits.Load())
	})

	t.Run("retries exhausted", func(t *testing.T) {
		var hits atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		client := newFastClient(server.URL, 3)
		_, err := client.Verify(context.Background(), api.VerifyRequest{LicenseKey: "K", DeviceID: "D"})
		assert.ErrorIs(t, err, apperrors.ErrNetwork)
		assert.Equal(t, int32(3), hits.Load())
	})

	t.Run("business failures are not retried", func(t *testing.T) {
		var hits atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer server.Close()

		client := newFastClient(server.URL, 3)
		_, err := client.Verify(context.Background(), api.VerifyRequest{LicenseKey: "K", DeviceID: "D"})
		assert.ErrorIs(t, err, apperrors.ErrDeviceQuotaExceeded)
		assert.Equal(t, int32(1), hits.Load())
	})
}

func TestTransientOnlyRetryPolicy(t *testing.T) {
	ctx := context.Background()

	t.Run("cancelled context stops", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		retry, err := transientOnlyRetryPolicy(cancelled, nil, nil)
		assert.False(t, retry)
		assert.Error(t, err)
	})

	t.Run("transport error retries", func(t *testing.T) {
		retry, err := transientOnlyRetryPolicy(ctx, nil, assert.AnError)
		assert.True(t, retry)
		assert.NoError(t, err)
	})

	t.Run("4xx does not retry", func(t *testing.T) {
		retry, _ := transientOnlyRetryPolicy(ctx, &http.Response{StatusCode: http.StatusForbidden}, nil)
		assert.False(t, retry)
	})

	t.Run("5xx retries", func(t *testing.T) {
		retry, _ := transientOnlyRetryPolicy(ctx, &http.Response{StatusCode: http.StatusBadGateway}, nil)
		assert.True(t, retry)
	})
}
