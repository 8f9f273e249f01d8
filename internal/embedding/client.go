// Package embedding is the HTTP client for the external embedding service.
//
// The service contract is POST /embed with {"texts": [...]} returning
// {"embeddings": [[...]]}, one fixed-dimension vector per input text in
// input order. Equal text is assumed to embed equivalently within one
// deployment of the service's model; this client does not verify that.
package embedding

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

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	defaultBatchSize  = 32
	batchConcurrency  = 4
	retryAttempts     = 3
	retryBaseDelay    = 250 * time.Millisecond
	defaultReqTimeout = 30 * time.Second
)

// ServiceError reports a failed call to the embedding service. Status is the
// HTTP status code when the service responded, 0 when it was unreachable.
type ServiceError struct {
	Op     string
	Status int
	Err    error
}

func (e *ServiceError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("embedding service: %s: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("embedding service: %s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// Client calls the embedding service over HTTP.
type Client struct {
	baseURL    string
	dimension  int
	batchSize  int
	limiter    *rate.Limiter
	httpClient *http.Client
}

// Options tune client behavior beyond the service address.
type Options struct {
	// Dimension is the expected vector length D. Every returned vector is
	// checked against it; a mismatch means the service model changed and the
	// collection is invalid.
	Dimension int
	// BatchSize caps texts per request. Defaults to 32.
	BatchSize int
	// RequestsPerSecond rate-limits outbound calls. 0 disables limiting.
	RequestsPerSecond float64
	// Timeout bounds a single HTTP request. Defaults to 30s.
	Timeout time.Duration
}

// New creates a Client targeting the given embedding service base URL.
func New(baseURL string, opts Options) *Client {
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultReqTimeout
	}
	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		dimension:  opts.Dimension,
		batchSize:  opts.BatchSize,
		limiter:    limiter,
		httpClient: &http.Client{Timeout: opts.Timeout},
	}
}

// Dimension returns the configured vector dimension D.
func (c *Client) Dimension() int { return c.dimension }

type embedRequest struct {
	Texts []string `json:"texts"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed returns the embedding vector for a single text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.embedOnce(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch returns one vector per input text, order-preserving. Inputs are
// split into batches of at most batchSize and embedded concurrently with
// bounded parallelism; result slots are filled by batch offset so ordering
// never depends on completion order. Returns nil for empty input.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(batchConcurrency)

	for start := 0; start < len(texts); start += c.batchSize {
		end := start + c.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		start, end := start, end
		g.Go(func() error {
			vecs, err := c.embedOnce(gCtx, texts[start:end])
			if err != nil {
				return fmt.Errorf("embedding texts %d..%d: %w", start, end-1, err)
			}
			copy(results[start:end], vecs)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// embedOnce issues one /embed call with retry and validates the response
// against the batch size and configured dimension.
func (c *Client) embedOnce(ctx context.Context, texts []string) ([][]float32, error) {
	payload, err := json.Marshal(embedRequest{Texts: texts})
	if err != nil {
		return nil, &ServiceError{Op: "encode request", Err: err}
	}

	var resp embedResponse
	if err := c.postWithRetry(ctx, "/embed", payload, &resp); err != nil {
		return nil, err
	}

	if len(resp.Embeddings) != len(texts) {
		return nil, &ServiceError{
			Op:  "decode response",
			Err: fmt.Errorf("got %d embeddings for %d texts", len(resp.Embeddings), len(texts)),
		}
	}
	if c.dimension > 0 {
		for i, vec := range resp.Embeddings {
			if len(vec) != c.dimension {
				return nil, &ServiceError{
					Op:  "decode response",
					Err: fmt.Errorf("embedding %d has dimension %d, want %d", i, len(vec), c.dimension),
				}
			}
		}
	}
	return resp.Embeddings, nil
}

// postWithRetry retries transient failures (network errors and 5xx) with a
// linear backoff. 4xx responses are terminal.
func (c *Client) postWithRetry(ctx context.Context, path string, payload []byte, out any) error {
	var lastErr error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return &ServiceError{Op: "call " + path, Err: ctx.Err()}
			case <-time.After(time.Duration(attempt) * retryBaseDelay):
			}
		}

		retryable, err := c.post(ctx, path, payload, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable {
			return err
		}
	}
	return lastErr
}

func (c *Client) post(ctx context.Context, path string, payload []byte, out any) (retryable bool, err error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return false, &ServiceError{Op: "call " + path, Err: err}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return false, &ServiceError{Op: "call " + path, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Do not retry on caller cancellation.
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return false, &ServiceError{Op: "call " + path, Err: err}
		}
		return true, &ServiceError{Op: "call " + path, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		serr := &ServiceError{
			Op:     "call " + path,
			Status: resp.StatusCode,
			Err:    fmt.Errorf("%s", strings.TrimSpace(string(body))),
		}
		return resp.StatusCode >= 500, serr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, &ServiceError{Op: "decode response", Err: err}
	}
	return false, nil
}
