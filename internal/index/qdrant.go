package index

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

// Compile-time check that Qdrant implements Index.
var _ Index = (*Qdrant)(nil)

const (
	qdrantRetryAttempts  = 3
	qdrantRetryBaseDelay = 250 * time.Millisecond
	qdrantDefaultTimeout = 15 * time.Second
)

// Qdrant is a minimal REST client to a Qdrant instance.
type Qdrant struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewQdrant creates a client for the Qdrant REST API at baseURL. apiKey may
// be empty for unauthenticated instances. A timeout of 0 uses the 15s
// default.
func NewQdrant(baseURL, apiKey string, timeout time.Duration) *Qdrant {
	if timeout <= 0 {
		timeout = qdrantDefaultTimeout
	}
	return &Qdrant{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// EnsureCollection creates the collection only when a GET reports it absent.
// An existing collection is left untouched regardless of its parameters.
func (q *Qdrant) EnsureCollection(ctx context.Context, name string, dimension int, distance string) error {
	if dimension <= 0 {
		return fmt.Errorf("invalid dimension %d", dimension)
	}
	if distance == "" {
		distance = DistanceCosine
	}

	status, _, err := q.do(ctx, http.MethodGet, "/collections/"+name, nil)
	if err != nil {
		return err
	}
	if status == http.StatusOK {
		return nil
	}
	if status != http.StatusNotFound {
		return fmt.Errorf("checking collection %q: status %d", name, status)
	}

	body := map[string]any{
		"vectors": map[string]any{
			"size":     dimension,
			"distance": distance,
		},
	}
	status, respBody, err := q.do(ctx, http.MethodPut, "/collections/"+name, body)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("creating collection %q: status %d: %s", name, status, respBody)
	}
	return nil
}

// Upsert writes points with wait=true so they are searchable on return.
func (q *Qdrant) Upsert(ctx context.Context, collection string, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	qpoints := make([]map[string]any, len(points))
	for i, p := range points {
		qpoints[i] = map[string]any{
			"id":      p.ID,
			"vector":  p.Vector,
			"payload": p.Payload,
		}
	}
	body := map[string]any{"points": qpoints}

	path := fmt.Sprintf("/collections/%s/points?wait=true", collection)
	status, respBody, err := q.do(ctx, http.MethodPut, path, body)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("upserting %d points into %q: status %d: %s", len(points), collection, status, respBody)
	}
	return nil
}

type qdrantSearchResponse struct {
	Result []struct {
		Score   float32 `json:"score"`
		Payload Payload `json:"payload"`
	} `json:"result"`
}

// Search runs a filtered nearest-neighbor query scoped to documentID.
func (q *Qdrant) Search(ctx context.Context, collection string, vector []float32, documentID string, k int) ([]Hit, error) {
	if k <= 0 {
		k = 5
	}
	body := map[string]any{
		"vector":       vector,
		"limit":        k,
		"with_payload": true,
		"filter": map[string]any{
			"must": []map[string]any{
				{"key": "document_id", "match": map[string]any{"value": documentID}},
			},
		},
	}

	path := fmt.Sprintf("/collections/%s/points/search", collection)
	status, respBody, err := q.do(ctx, http.MethodPost, path, body)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("searching %q: status %d: %s", collection, status, respBody)
	}

	var resp qdrantSearchResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}

	hits := make([]Hit, 0, len(resp.Result))
	for _, r := range resp.Result {
		hits = append(hits, Hit{Payload: r.Payload, Score: r.Score})
	}
	return hits, nil
}

// do issues one request with retry on connectivity failures and 5xx
// responses. Connectivity failures are reported as ErrUnavailable.
func (q *Qdrant) do(ctx context.Context, method, path string, body any) (int, []byte, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("encoding request: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt < qdrantRetryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return 0, nil, fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
			case <-time.After(time.Duration(attempt) * qdrantRetryBaseDelay):
			}
		}

		status, respBody, err := q.doOnce(ctx, method, path, payload)
		if err != nil {
			lastErr = err
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return 0, nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
			}
			continue
		}
		if status >= 500 {
			lastErr = fmt.Errorf("%w: %s %s: status %d", ErrUnavailable, method, path, status)
			continue
		}
		return status, respBody, nil
	}
	if lastErr == nil {
		lastErr = ErrUnavailable
	}
	if !errors.Is(lastErr, ErrUnavailable) {
		lastErr = fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
	}
	return 0, nil, lastErr
}

func (q *Qdrant) doOnce(ctx context.Context, method, path string, payload []byte) (int, []byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, q.baseURL+path, reader)
	if err != nil {
		return 0, nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}

	resp, err := q.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, respBody, nil
}
