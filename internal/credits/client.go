// Package credits provides the client for the external licensing/credits
// ledger. The render pipeline consumes two operations: check-and-consume
// before encoding, and add-credits for payment events. The ledger itself is
// not implemented here.
package credits

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Static errors for credits client operations.
var (
	// ErrBaseURLRequired is returned when the ledger base URL is not provided.
	ErrBaseURLRequired = errors.New("credits: base URL is required")
	// ErrLicenseKeyRequired is returned when the license key is empty.
	ErrLicenseKeyRequired = errors.New("credits: license key is required")
	// ErrServerError is returned when the ledger returns a 5xx status code.
	ErrServerError = errors.New("credits: server error")
	// ErrRateLimited is returned when the ledger returns a 429 status code.
	ErrRateLimited = errors.New("credits: rate limited")
	// ErrRequestFailed is returned when the request fails with a non-2xx status code.
	ErrRequestFailed = errors.New("credits: request failed")
)

// Result is the outcome of a check-and-consume call.
type Result struct {
	// OK reports whether the credits were available and consumed.
	OK bool `json:"ok"`
	// Remaining is the balance left after consumption.
	Remaining int `json:"remaining"`
}

// Client defines the consumed interface of the credits ledger.
type Client interface {
	// CheckAndConsume atomically checks the balance for licenseKey and
	// consumes cost credits, referencing jobRef for audit.
	CheckAndConsume(ctx context.Context, licenseKey string, cost int, jobRef string) (Result, error)

	// AddCredits adds credits to a license, referencing the originating
	// payment event for idempotency.
	AddCredits(ctx context.Context, licenseKey string, amount int, reason, eventRef string) error
}

// HTTPClient is the HTTP implementation of the Client interface.
type HTTPClient struct {
	apiKey      string
	baseURL     string
	httpClient  *http.Client
	maxRetries  int
	baseBackoff time.Duration
}

// Compile-time check that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)

// ClientOption is a function that configures an HTTPClient.
type ClientOption func(*HTTPClient)

// WithAPIKey sets the API key for authentication.
func WithAPIKey(key string) ClientOption {
	return func(c *HTTPClient) {
		c.apiKey = key
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *HTTPClient) {
		c.httpClient = hc
	}
}

// WithMaxRetries sets the maximum number of retries for transient failures.
func WithMaxRetries(n int) ClientOption {
	return func(c *HTTPClient) {
		c.maxRetries = n
	}
}

// WithBaseBackoff sets the initial backoff duration for retries.
func WithBaseBackoff(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.baseBackoff = d
	}
}

// NewClient creates a new credits ledger HTTP client.
func NewClient(baseURL string, opts ...ClientOption) (*HTTPClient, error) {
	if baseURL == "" {
		return nil, ErrBaseURLRequired
	}

	c := &HTTPClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpClient:  &http.Client{Timeout: 15 * time.Second},
		maxRetries:  3,
		baseBackoff: 1 * time.Second,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

type consumeRequest struct {
	LicenseKey string `json:"license_key"`
	Cost       int    `json:"cost"`
	JobRef     string `json:"job_ref"`
}

type addRequest struct {
	LicenseKey string `json:"license_key"`
	Amount     int    `json:"amount"`
	Reason     string `json:"reason"`
	EventRef   string `json:"event_ref"`
}

// CheckAndConsume atomically checks and consumes credits for a render job.
// An ok:false result is not an error; the caller decides how to surface it.
func (c *HTTPClient) CheckAndConsume(ctx context.Context, licenseKey string, cost int, jobRef string) (Result, error) {
	if licenseKey == "" {
		return Result{}, ErrLicenseKeyRequired
	}

	body, err := json.Marshal(consumeRequest{
		LicenseKey: licenseKey,
		Cost:       cost,
		JobRef:     jobRef,
	})
	if err != nil {
		return Result{}, fmt.Errorf("credits: marshal request: %w", err)
	}

	var result Result
	if err := c.doRequestWithRetry(ctx, c.baseURL+"/credits/consume", body, &result); err != nil {
		return Result{}, err
	}
	return result, nil
}

// AddCredits credits a license, e.g. after a payment webhook event.
func (c *HTTPClient) AddCredits(ctx context.Context, licenseKey string, amount int, reason, eventRef string) error {
	if licenseKey == "" {
		return ErrLicenseKeyRequired
	}

	body, err := json.Marshal(addRequest{
		LicenseKey: licenseKey,
		Amount:     amount,
		Reason:     reason,
		EventRef:   eventRef,
	})
	if err != nil {
		return fmt.Errorf("credits: marshal request: %w", err)
	}

	return c.doRequestWithRetry(ctx, c.baseURL+"/credits/add", body, nil)
}

// doRequestWithRetry performs an HTTP POST with exponential backoff retry.
func (c *HTTPClient) doRequestWithRetry(ctx context.Context, url string, body []byte, result interface{}) error {
	var lastErr error
	backoff := c.baseBackoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("credits: context cancelled: %w", ctx.Err())
			case <-time.After(backoff):
				backoff *= 2 // Exponential backoff
			}
		}

		err := c.doRequest(ctx, url, body, result)
		if err == nil {
			return nil
		}

		if !isRetryable(err) {
			return err
		}

		lastErr = err
	}

	return fmt.Errorf("credits: max retries exceeded: %w", lastErr)
}

// doRequest performs a single HTTP request.
func (c *HTTPClient) doRequest(ctx context.Context, url string, body []byte, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("credits: create request: %w", err)
	}

	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &retryableError{err: fmt.Errorf("credits: request failed: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &retryableError{err: fmt.Errorf("credits: read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if resp.StatusCode >= 500 {
			return &retryableError{err: fmt.Errorf("%w %d: %s", ErrServerError, resp.StatusCode, string(respBody))}
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			return &retryableError{err: fmt.Errorf("%w: %s", ErrRateLimited, string(respBody))}
		}
		return fmt.Errorf("%w with status %d: %s", ErrRequestFailed, resp.StatusCode, string(respBody))
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("credits: unmarshal response: %w", err)
		}
	}

	return nil
}

// retryableError wraps errors that should be retried.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	return e.err
}

// isRetryable returns true if the error should be retried.
func isRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}
