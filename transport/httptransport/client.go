// Package httptransport provides a reference JSON-over-HTTP implementation of
// the outbox-kit Transport contract, plus a matching server-side handler.
package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	outboxkit "github.com/c0deZ3R0/go-outbox-kit"
	oerrors "github.com/c0deZ3R0/go-outbox-kit/errors"
	"github.com/c0deZ3R0/go-outbox-kit/logging"
)

// DefaultBatchPath is the endpoint the client posts batches to, relative to
// the base URL.
const DefaultBatchPath = "/outbox/batch"

// Limits defines size limits for the HTTP client.
type Limits struct {
	// MaxResponseBytes caps how much of a response body is read.
	MaxResponseBytes int64
}

// Client submits batches over HTTP. It implements outboxkit.Transport.
type Client struct {
	baseURL   string
	batchPath string
	http      *http.Client
	limits    Limits
	logger    *logging.Logger
}

var _ outboxkit.Transport = (*Client)(nil)

// ClientOption configures a Client using the functional options pattern.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(cl *http.Client) ClientOption {
	return func(c *Client) { c.http = cl }
}

// WithLimits sets the size limits.
func WithLimits(l Limits) ClientOption {
	return func(c *Client) { c.limits = l }
}

// WithBatchPath overrides the batch endpoint path.
func WithBatchPath(path string) ClientOption {
	return func(c *Client) { c.batchPath = path }
}

// NewClient creates a new HTTP transport client.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:   baseURL,
		batchPath: DefaultBatchPath,
		http:      &http.Client{Timeout: 30 * time.Second},
		limits: Limits{
			MaxResponseBytes: 8 << 20, // 8MB
		},
		logger: logging.WithComponent("http-transport"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the base URL for the client.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// SubmitBatch posts all items as one JSON batch. Any transport-level failure
// (connection error, timeout, non-2xx status, undecodable body) is returned
// as an error, which the dispatcher treats as a transient failure for every
// item in the batch.
func (c *Client) SubmitBatch(ctx context.Context, items []outboxkit.SubmitItem) ([]outboxkit.ItemResult, error) {
	body, err := json.Marshal(batchRequest{Items: items})
	if err != nil {
		return nil, oerrors.WrapOpComponent(err, oerrors.OpSubmit, "transport/http")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+c.batchPath, bytes.NewReader(body))
	if err != nil {
		return nil, oerrors.WrapOpComponent(err, oerrors.OpSubmit, "transport/http")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, oerrors.WrapOpComponentCode(err, oerrors.OpSubmit, "transport/http", oerrors.CodeTransientSubmit)
	}
	defer resp.Body.Close()

	// 207 mirrors the multi-status nature of a partially failing batch;
	// some servers just use 200.
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusMultiStatus {
		// Drain a little so the connection can be reused.
		io.CopyN(io.Discard, resp.Body, 1024)
		return nil, oerrors.WrapOpComponentCode(
			fmt.Errorf("unexpected status %d", resp.StatusCode),
			oerrors.OpSubmit, "transport/http", oerrors.CodeTransientSubmit)
	}

	reader := io.LimitReader(resp.Body, c.limits.MaxResponseBytes)
	var decoded batchResponse
	if err := json.NewDecoder(reader).Decode(&decoded); err != nil {
		return nil, oerrors.WrapOpComponentCode(err, oerrors.OpSubmit, "transport/http", oerrors.CodeTransientSubmit)
	}

	c.logger.DebugContext(ctx, "batch submitted",
		slog.Int("items", len(items)),
		slog.Int("results", len(decoded.Results)),
	)
	return decoded.Results, nil
}

// Close releases client resources.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}
