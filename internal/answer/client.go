// Package answer is the HTTP client for the external answer-generation
// service.
package answer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Fallback is returned whenever the answer service cannot produce an answer.
// Chat stays responsive on synthesis failures instead of erroring the whole
// request, so callers must never see an error from Synthesize.
const Fallback = "No answer found."

const (
	defaultTimeout = 60 * time.Second
	retryAttempts  = 3
	retryBaseDelay = 250 * time.Millisecond
)

// Client calls the answer-generation service over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a Client targeting the given answer service base URL.
// A timeout of 0 uses the 60s default.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     slog.Default(),
	}
}

type answerRequest struct {
	Question string `json:"question"`
	Context  string `json:"context"`
}

type answerResponse struct {
	Answer string `json:"answer"`
}

// Synthesize sends the question with its retrieved context and returns the
// service's answer. On any failure (unreachable, non-200, malformed body) it
// returns Fallback; the underlying error is logged, never returned.
func (c *Client) Synthesize(ctx context.Context, question, contextText string) string {
	ans, err := c.synthesize(ctx, question, contextText)
	if err != nil {
		c.logger.Warn("answer service failed, using fallback", "error", err)
		return Fallback
	}
	return ans
}

func (c *Client) synthesize(ctx context.Context, question, contextText string) (string, error) {
	payload, err := json.Marshal(answerRequest{Question: question, Context: contextText})
	if err != nil {
		return "", fmt.Errorf("encoding request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(attempt) * retryBaseDelay):
			}
		}

		ans, retryable, err := c.post(ctx, payload)
		if err == nil {
			return ans, nil
		}
		lastErr = err
		if !retryable {
			break
		}
	}
	return "", lastErr
}

func (c *Client) post(ctx context.Context, payload []byte) (ans string, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/answer", bytes.NewReader(payload))
	if err != nil {
		return "", false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", false, err
		}
		return "", true, fmt.Errorf("calling answer service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", resp.StatusCode >= 500, fmt.Errorf("answer service status %d", resp.StatusCode)
	}

	var body answerResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", false, fmt.Errorf("decoding answer response: %w", err)
	}
	return body.Answer, false, nil
}
