// Package retrieval finds the document chunks most relevant to a question
// and assembles them into a context string for answer synthesis.
package retrieval

import (
	"context"
	"fmt"
	"strings"

	"github.com/kalambet/docchat/internal/index"
)

// QuestionEmbedder embeds a single question text.
type QuestionEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Retriever combines the question embedder and the vector index. Every call
// re-embeds and re-searches; there is no caching of repeated questions.
type Retriever struct {
	embedder   QuestionEmbedder
	vectors    index.Index
	collection string
	topK       int
	minScore   float32
}

// NewRetriever creates a Retriever searching the given collection. topK
// defaults to 5 when not positive. minScore drops hits scoring below it
// after the search; 0 disables the cutoff and K is never refilled.
func NewRetriever(embedder QuestionEmbedder, vectors index.Index, collection string, topK int, minScore float32) *Retriever {
	if topK <= 0 {
		topK = 5
	}
	return &Retriever{
		embedder:   embedder,
		vectors:    vectors,
		collection: collection,
		topK:       topK,
		minScore:   minScore,
	}
}

// Retrieve embeds the question, searches the index scoped to documentID, and
// returns the matched chunk texts joined one per line in score-descending
// order. Zero matches yield an empty context, not an error. A chunk from a
// different document can never appear: scoping is an exact-match filter on
// the stored document id, applied by the index itself.
func (r *Retriever) Retrieve(ctx context.Context, documentID, question string) (string, error) {
	vec, err := r.embedder.Embed(ctx, question)
	if err != nil {
		return "", fmt.Errorf("embedding question: %w", err)
	}

	hits, err := r.vectors.Search(ctx, r.collection, vec, documentID, r.topK)
	if err != nil {
		return "", fmt.Errorf("searching index: %w", err)
	}

	texts := make([]string, 0, len(hits))
	for _, h := range hits {
		if r.minScore > 0 && h.Score < r.minScore {
			continue
		}
		texts = append(texts, h.Payload.Text)
	}
	return strings.Join(texts, "\n"), nil
}
