// Package api exposes the document question-answering pipeline over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/docchat/internal/extract"
	"github.com/kalambet/docchat/internal/index"
	"github.com/kalambet/docchat/internal/registry"
)

const (
	maxUploadSize      = 50 << 20 // 50MB
	maxRequestBodySize = 1 << 20  // 1MB
)

// DocumentProcessor runs the extraction pipeline for a registered document.
type DocumentProcessor interface {
	Process(ctx context.Context, documentID string) (int, error)
}

// ContextRetriever builds the retrieval context for a question.
type ContextRetriever interface {
	Retrieve(ctx context.Context, documentID, question string) (string, error)
}

// AnswerSynthesizer produces the final answer text. It never fails; on
// service errors it returns a fixed fallback string.
type AnswerSynthesizer interface {
	Synthesize(ctx context.Context, question, contextText string) string
}

// Deps holds the handler dependencies.
type Deps struct {
	Registry    *registry.Registry
	Processor   DocumentProcessor
	Retriever   ContextRetriever
	Synthesizer AnswerSynthesizer
	UploadDir   string
}

// NewHandler returns the docchat HTTP API.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)
	r.Post("/api/upload", handleUpload(deps))
	r.Post("/api/extract", handleExtract(deps))
	r.Post("/api/ask", handleAsk(deps))
	r.Get("/api/documents", handleListDocuments(deps))
	r.Get("/api/documents/{id}", handleGetDocument(deps))
	r.Get("/api/documents/{id}/turns", handleListTurns(deps))

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// UploadResponse acknowledges a stored upload. FilePath is the server-side
// path later passed to extract.
type UploadResponse struct {
	ID       string `json:"id"`
	FilePath string `json:"filePath"`
}

func handleUpload(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
		defer r.Body.Close()

		file, header, err := r.FormFile("file")
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "no file uploaded")
			return
		}
		defer file.Close()

		if header.Size == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "uploaded file is empty")
			return
		}

		if err := os.MkdirAll(deps.UploadDir, 0o755); err != nil {
			internalError(w, "creating upload directory", err)
			return
		}

		// Keep the original file name; path traversal is stripped by Base.
		name := filepath.Base(header.Filename)
		if name == "." || name == string(filepath.Separator) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid file name")
			return
		}
		path := filepath.Join(deps.UploadDir, name)

		dst, err := os.Create(path)
		if err != nil {
			internalError(w, "creating upload file", err)
			return
		}
		if _, err := io.Copy(dst, file); err != nil {
			dst.Close()
			internalError(w, "saving upload", err)
			return
		}
		if err := dst.Close(); err != nil {
			internalError(w, "closing upload file", err)
			return
		}

		doc := deps.Registry.Add(name, path)
		slog.Info("file uploaded", "document_id", doc.ID, "path", path, "bytes", header.Size)

		writeJSON(w, http.StatusOK, UploadResponse{ID: doc.ID, FilePath: path})
	}
}

// ExtractRequest identifies an uploaded file by the path returned from
// upload.
type ExtractRequest struct {
	FilePath string `json:"filePath"`
}

// ExtractResponse reports the indexed document and its chunk count.
type ExtractResponse struct {
	PDFID  string `json:"pdfId"`
	Chunks int    `json:"chunks"`
}

func handleExtract(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req ExtractRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if strings.TrimSpace(req.FilePath) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "filePath is required")
			return
		}

		doc, err := deps.Registry.FindByPath(req.FilePath)
		if errors.Is(err, registry.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "no uploaded document for path %q", req.FilePath)
			return
		}
		if err != nil {
			internalError(w, "looking up document", err)
			return
		}

		chunks, err := deps.Processor.Process(r.Context(), doc.ID)
		if err != nil {
			writeExtractError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, ExtractResponse{PDFID: doc.ID, Chunks: chunks})
	}
}

func writeExtractError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		httpError(w, http.StatusNotFound, "not_found", "file does not exist")
	case errors.Is(err, registry.ErrNotFound):
		httpError(w, http.StatusNotFound, "not_found", "document not found")
	case errors.Is(err, registry.ErrExtractionRunning):
		httpError(w, http.StatusConflict, "conflict", "extraction already in progress")
	case errors.Is(err, registry.ErrAlreadyExtracted):
		httpError(w, http.StatusConflict, "conflict", "document already extracted; upload again to re-index")
	case errors.Is(err, extract.ErrNotProcessable):
		httpError(w, http.StatusUnprocessableEntity, "invalid_request_error", "file could not be processed")
	case errors.Is(err, index.ErrUnavailable):
		httpError(w, http.StatusBadGateway, "api_error", "vector index unavailable")
	default:
		internalError(w, "extraction failed", err)
	}
}

// AskRequest carries a question scoped to one extracted document.
type AskRequest struct {
	PDFID    string `json:"pdfId"`
	Question string `json:"question"`
}

// AskResponse is the synthesized answer.
type AskResponse struct {
	Answer string `json:"answer"`
}

func handleAsk(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req AskRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if strings.TrimSpace(req.PDFID) == "" || strings.TrimSpace(req.Question) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "pdfId and question are required")
			return
		}

		doc, err := deps.Registry.RequireCompleted(req.PDFID)
		if errors.Is(err, registry.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "document not found")
			return
		}
		if errors.Is(err, registry.ErrNotReady) {
			httpError(w, http.StatusConflict, "conflict", "document extraction not completed")
			return
		}
		if err != nil {
			internalError(w, "looking up document", err)
			return
		}

		contextText, err := deps.Retriever.Retrieve(r.Context(), doc.ID, req.Question)
		if err != nil {
			// No context means no answer can be attempted; this is a hard
			// failure, unlike answer-service errors below. The full error can
			// carry upstream response bodies, so it is logged, not returned.
			slog.Error("building context failed", "document_id", doc.ID, "error", err)
			if errors.Is(err, index.ErrUnavailable) {
				httpError(w, http.StatusBadGateway, "api_error", "vector index unavailable")
				return
			}
			httpError(w, http.StatusBadGateway, "api_error", "building context failed")
			return
		}

		answer := deps.Synthesizer.Synthesize(r.Context(), req.Question, contextText)

		if err := deps.Registry.AppendTurn(doc.ID, registry.Turn{Question: req.Question, Answer: answer}); err != nil {
			slog.Warn("recording chat turn failed", "document_id", doc.ID, "error", err)
		}

		writeJSON(w, http.StatusOK, AskResponse{Answer: answer})
	}
}

func handleListDocuments(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deps.Registry.List())
	}
}

func handleGetDocument(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc, err := deps.Registry.Get(chi.URLParam(r, "id"))
		if errors.Is(err, registry.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "document not found")
			return
		}
		if err != nil {
			internalError(w, "looking up document", err)
			return
		}
		writeJSON(w, http.StatusOK, doc)
	}
}

func handleListTurns(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		turns, err := deps.Registry.Turns(chi.URLParam(r, "id"))
		if errors.Is(err, registry.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "document not found")
			return
		}
		if err != nil {
			internalError(w, "looking up turns", err)
			return
		}
		if turns == nil {
			turns = []registry.Turn{}
		}
		writeJSON(w, http.StatusOK, turns)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

// internalError logs the full error and returns a generic message so
// internals never leak to the client.
func internalError(w http.ResponseWriter, op string, err error) {
	slog.Error(op, "error", err)
	httpError(w, http.StatusInternalServerError, "api_error", "internal server error")
}
