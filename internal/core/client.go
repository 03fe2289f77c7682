package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// DefaultDedupeTimeout is the fixed request budget measured from request start.
const DefaultDedupeTimeout = 100 * time.Second

// DefaultMaxResponseBytes bounds how much of a response body is read.
const DefaultMaxResponseBytes int64 = 10 << 20

// Deduplicator submits a record batch and returns the service's grouping.
type Deduplicator interface {
	Deduplicate(ctx context.Context, records []Record) (*DedupeResult, error)
}

// ClientOptions configures a Client. Zero values fall back to defaults.
type ClientOptions struct {
	BaseURL          string        // Full endpoint URL, e.g. http://localhost:8080/dedupe
	APIKey           string        // Sent as a bearer token when set
	Timeout          time.Duration // Request budget (default: 100s)
	MaxResponseBytes int64         // Response body cap (default: 10MiB)
	HTTPClient       *http.Client
}

// Client talks to the external dedupe service.
type Client struct {
	url              string
	apiKey           string
	timeout          time.Duration
	maxResponseBytes int64
	httpClient       *http.Client
}

// NewClient creates a Client, applying defaults for unset options.
func NewClient(opts ClientOptions) (*Client, error) {
	url := strings.TrimSpace(opts.BaseURL)
	if url == "" {
		return nil, errors.New("dedupe client: base URL required")
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultDedupeTimeout
	}
	maxBytes := opts.MaxResponseBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxResponseBytes
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}

	return &Client{
		url:              url,
		apiKey:           strings.TrimSpace(opts.APIKey),
		timeout:          timeout,
		maxResponseBytes: maxBytes,
		httpClient:       hc,
	}, nil
}

// Timeout returns the configured request budget.
func (c *Client) Timeout() time.Duration {
	return c.timeout
}

// wireRecord is the only shape sent over the wire; status and merge
// fields stay local.
type wireRecord struct {
	ID   string `json:"id"`
	Data Fields `json:"data"`
}

// Deduplicate sends the batch in a single POST. It never retries.
//
// Errors:
//   - ErrTimeout when the request budget expires
//   - *ServiceError for a non-2xx status
//   - *MalformedError (matches ErrMalformedResponse) for a bad body
//   - *TransportError for connection-level failures
func (c *Client) Deduplicate(ctx context.Context, records []Record) (*DedupeResult, error) {
	payload := make([]wireRecord, len(records))
	for i, r := range records {
		data := r.OriginalData
		if data == nil {
			data = Fields{}
		}
		payload[i] = wireRecord{ID: r.ID, Data: data}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode dedupe payload: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create dedupe request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	slog.Debug("dedupe request started", "url", c.url, "records", len(records), "bytes", len(body))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.classify(ctx, reqCtx, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, c.maxResponseBytes+1))
	if err != nil {
		return nil, c.classify(ctx, reqCtx, err)
	}

	slog.Debug("dedupe response received",
		"status", resp.StatusCode,
		"bytes", len(raw),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &ServiceError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	if int64(len(raw)) > c.maxResponseBytes {
		return nil, &MalformedError{Reason: fmt.Sprintf("response exceeds %d bytes", c.maxResponseBytes)}
	}

	return ParseDedupeResult(raw)
}

// classify separates our own deadline from caller cancellation and
// plain transport failures.
func (c *Client) classify(parent, reqCtx context.Context, err error) error {
	if parent.Err() == nil && errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s", ErrTimeout, c.timeout)
	}
	if parent.Err() != nil {
		return parent.Err()
	}
	return &TransportError{Err: err}
}
