package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

// mockService returns a Client pointed at an httptest server that embeds
// every text as [len(text), 0, 0].
func mockService(t *testing.T, opts Options, handler http.HandlerFunc) *Client {
	t.Helper()
	if handler == nil {
		handler = func(w http.ResponseWriter, r *http.Request) {
			var req embedRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			vecs := make([][]float32, len(req.Texts))
			for i, text := range req.Texts {
				vecs[i] = []float32{float32(len(text)), 0, 0}
			}
			json.NewEncoder(w).Encode(embedResponse{Embeddings: vecs})
		}
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	if opts.Dimension == 0 {
		opts.Dimension = 3
	}
	return New(srv.URL, opts)
}

func TestEmbed_Single(t *testing.T) {
	c := mockService(t, Options{}, nil)

	vec, err := c.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 3 || vec[0] != 5 {
		t.Errorf("vec = %v, want [5 0 0]", vec)
	}
}

func TestEmbedBatch_OrderPreserved(t *testing.T) {
	c := mockService(t, Options{BatchSize: 2}, nil)

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	vecs, err := c.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vecs) != len(texts) {
		t.Fatalf("got %d vectors, want %d", len(vecs), len(texts))
	}
	for i, text := range texts {
		if vecs[i][0] != float32(len(text)) {
			t.Errorf("vector %d = %v, want first component %d", i, vecs[i], len(text))
		}
		if len(vecs[i]) != 3 {
			t.Errorf("vector %d has dimension %d, want 3", i, len(vecs[i]))
		}
	}
}

func TestEmbedBatch_Empty(t *testing.T) {
	c := mockService(t, Options{}, nil)
	vecs, err := c.EmbedBatch(context.Background(), nil)
	if err != nil || vecs != nil {
		t.Fatalf("EmbedBatch(nil) = %v, %v, want nil, nil", vecs, err)
	}
}

func TestEmbed_DimensionMismatch(t *testing.T) {
	c := mockService(t, Options{Dimension: 768}, nil)

	_, err := c.Embed(context.Background(), "hello")
	var serr *ServiceError
	if !errors.As(err, &serr) {
		t.Fatalf("Embed error = %v, want *ServiceError", err)
	}
}

func TestEmbed_CountMismatch(t *testing.T) {
	c := mockService(t, Options{}, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(embedResponse{Embeddings: [][]float32{{1, 2, 3}, {4, 5, 6}}})
	})

	_, err := c.Embed(context.Background(), "one text")
	var serr *ServiceError
	if !errors.As(err, &serr) {
		t.Fatalf("Embed error = %v, want *ServiceError", err)
	}
}

func TestEmbed_ServerErrorRetriedThenFails(t *testing.T) {
	var calls atomic.Int32
	c := mockService(t, Options{}, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "model loading", http.StatusInternalServerError)
	})

	_, err := c.Embed(context.Background(), "hello")
	var serr *ServiceError
	if !errors.As(err, &serr) {
		t.Fatalf("Embed error = %v, want *ServiceError", err)
	}
	if serr.Status != http.StatusInternalServerError {
		t.Errorf("Status = %d, want 500", serr.Status)
	}
	if got := calls.Load(); got != retryAttempts {
		t.Errorf("service called %d times, want %d", got, retryAttempts)
	}
}

func TestEmbed_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := mockService(t, Options{}, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad input", http.StatusBadRequest)
	})

	if _, err := c.Embed(context.Background(), "hello"); err == nil {
		t.Fatal("Embed did not return an error")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("service called %d times, want 1", got)
	}
}

func TestEmbed_RecoversAfterTransientFailure(t *testing.T) {
	var calls atomic.Int32
	c := mockService(t, Options{}, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "warming up", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(embedResponse{Embeddings: [][]float32{{1, 2, 3}}})
	})

	vec, err := c.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed after retry: %v", err)
	}
	if len(vec) != 3 {
		t.Errorf("vec = %v, want dimension 3", vec)
	}
}

func TestEmbed_Unreachable(t *testing.T) {
	c := New("http://127.0.0.1:1", Options{Dimension: 3})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Embed(ctx, "hello")
	var serr *ServiceError
	if !errors.As(err, &serr) {
		t.Fatalf("Embed error = %v, want *ServiceError", err)
	}
	if serr.Status != 0 {
		t.Errorf("Status = %d, want 0 for unreachable service", serr.Status)
	}
}
