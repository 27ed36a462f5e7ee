package license

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	apperrors "popwatch/internal/errors"
	api "popwatch/pkg/contracts/api/v1"
)

// Client talks to the license server's verify endpoint with bounded retries.
// Only transport errors and server-side (5xx) failures are retried; every
// business failure terminates immediately.
type Client struct {
	baseURL string
	http    *retryablehttp.Client
	logger  *slog.Logger
}

// NewClient creates a verify client. attempts is the total number of tries
// per call (minimum 1). The timeout applies per attempt and is generous by
// default to tolerate server cold starts.
func NewClient(baseURL string, timeout time.Duration, attempts int, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if attempts < 1 {
		attempts = 1
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = attempts - 1
	rc.RetryWaitMin = 1 * time.Second
	rc.RetryWaitMax = 4 * time.Second
	rc.HTTPClient.Timeout = timeout
	rc.Logger = nil
	rc.CheckRetry = transientOnlyRetryPolicy

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    rc,
		logger:  logger.With(slog.String("component", "license_client")),
	}
}

// transientOnlyRetryPolicy retries connection errors, timeouts, and 5xx
// responses. 4xx business failures are terminal by contract.
func transientOnlyRetryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return true, nil
	}
	if resp != nil && resp.StatusCode >= 500 {
		return true, nil
	}
	return false, nil
}

// Verify posts the request to /verify and maps the response onto the error
// taxonomy. A nil error means the server returned a token; the caller still
// must verify it locally before trusting it.
func (c *Client) Verify(ctx context.Context, req api.VerifyRequest) (*api.VerifyResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode verify request: %w", err)
	}

	httpReq, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/verify", body)
	if err != nil {
		return nil, fmt.Errorf("failed to build verify request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.logger.WarnContext(ctx, "verify request failed",
			slog.String("action", "verify_request"),
			slog.Duration("elapsed", time.Since(start)),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w: %v", apperrors.ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.FromHTTPStatus(resp.StatusCode)
	}

	var out api.VerifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: invalid response body: %v", apperrors.ErrNetwork, err)
	}
	if out.Status != api.StatusSuccess || out.Signature == "" {
		return nil, fmt.Errorf("%w: unexpected response payload", apperrors.ErrNetwork)
	}

	c.logger.DebugContext(ctx, "verify request succeeded",
		slog.String("action", "verify_request"),
		slog.Duration("elapsed", time.Since(start)),
	)
	return &out, nil
}
