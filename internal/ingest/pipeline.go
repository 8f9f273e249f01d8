// Package ingest runs the extraction pipeline: extract text, chunk it,
// embed the chunks, and upsert them into the vector index.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/kalambet/docchat/internal/chunker"
	"github.com/kalambet/docchat/internal/index"
	"github.com/kalambet/docchat/internal/registry"
)

// Extractor turns a file into its full text.
type Extractor interface {
	Extract(path string) (string, error)
}

// Embedder generates one vector per text, order-preserving.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Config fixes the pipeline's chunking and collection parameters.
type Config struct {
	Collection string
	ChunkSize  int
}

// Pipeline drives a document through extract -> chunk -> embed -> upsert and
// owns the registry status transitions along the way.
type Pipeline struct {
	reg       *registry.Registry
	extractor Extractor
	embedder  Embedder
	vectors   index.Index
	cfg       Config
	logger    *slog.Logger
}

// NewPipeline creates a Pipeline with the given dependencies.
func NewPipeline(reg *registry.Registry, extractor Extractor, embedder Embedder, vectors index.Index, cfg Config) *Pipeline {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 500
	}
	return &Pipeline{
		reg:       reg,
		extractor: extractor,
		embedder:  embedder,
		vectors:   vectors,
		cfg:       cfg,
		logger:    slog.Default(),
	}
}

// Process extracts the document and indexes its chunks, returning the chunk
// count. The document ends Completed on success and Failed on any
// extraction-stage error; a missing source file is reported before any
// status transition so the registry entry stays untouched.
//
// Extraction is not transactional: if the context is cancelled mid-upsert,
// already-upserted chunks remain in the index and the document ends Failed.
func (p *Pipeline) Process(ctx context.Context, documentID string) (int, error) {
	doc, err := p.reg.Get(documentID)
	if err != nil {
		return 0, err
	}

	// File existence is checked before the InProgress transition.
	if _, err := os.Stat(doc.SourcePath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, fmt.Errorf("source file %q: %w", doc.SourcePath, err)
		}
		return 0, fmt.Errorf("checking source file: %w", err)
	}

	if err := p.reg.BeginExtraction(documentID); err != nil {
		return 0, err
	}

	chunks, err := p.run(ctx, doc)
	if err != nil {
		p.logger.Warn("extraction failed", "document_id", documentID, "error", err)
		if failErr := p.reg.FailExtraction(documentID, err.Error()); failErr != nil {
			p.logger.Error("failed to mark document as failed", "document_id", documentID, "error", failErr)
		}
		return 0, err
	}

	if err := p.reg.CompleteExtraction(documentID, chunks); err != nil {
		return 0, fmt.Errorf("completing extraction for %s: %w", documentID, err)
	}
	p.logger.Info("document indexed", "document_id", documentID, "chunks", chunks)
	return chunks, nil
}

func (p *Pipeline) run(ctx context.Context, doc registry.Document) (int, error) {
	text, err := p.extractor.Extract(doc.SourcePath)
	if err != nil {
		return 0, fmt.Errorf("extracting text: %w", err)
	}

	texts := chunker.Chunk(text, p.cfg.ChunkSize)
	if len(texts) == 0 {
		return 0, nil
	}

	vectors, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embedding %d chunks: %w", len(texts), err)
	}

	if err := p.vectors.EnsureCollection(ctx, p.cfg.Collection, p.embedder.Dimension(), index.DistanceCosine); err != nil {
		return 0, fmt.Errorf("ensuring collection: %w", err)
	}

	points := make([]index.Point, len(texts))
	for i, chunkText := range texts {
		points[i] = index.Point{
			ID:     index.PointID(doc.ID, i),
			Vector: vectors[i],
			Payload: index.Payload{
				DocumentID: doc.ID,
				ChunkIndex: i,
				Text:       chunkText,
			},
		}
	}

	if err := p.vectors.Upsert(ctx, p.cfg.Collection, points); err != nil {
		return 0, fmt.Errorf("upserting %d points: %w", len(points), err)
	}
	return len(points), nil
}
