// Package index provides document-partitioned vector storage and similarity
// search. Two backends exist: a Qdrant REST client and an embedded SQLite
// store with brute-force cosine search.
package index

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrUnavailable marks connectivity and timeout failures against the vector
// engine. Callers must propagate it, never swallow it.
var ErrUnavailable = errors.New("vector index unavailable")

// DistanceCosine is the only distance metric the pipeline uses.
const DistanceCosine = "Cosine"

// Payload is the metadata stored alongside every vector. DocumentID enables
// exact-match scoped retrieval; ChunkIndex preserves the chunk's position in
// the source document.
type Payload struct {
	DocumentID string `json:"document_id"`
	ChunkIndex int    `json:"chunk_index"`
	Text       string `json:"text"`
}

// Point is one vector with its payload, identified by a stable point id.
type Point struct {
	ID      string
	Vector  []float32
	Payload Payload
}

// Hit is a search result: the matched payload and its similarity score.
type Hit struct {
	Payload Payload
	Score   float32
}

// Index is the vector-engine contract: idempotent collection creation,
// last-write-wins upsert by point id, and document-scoped top-K search.
type Index interface {
	// EnsureCollection creates the collection if absent. It never resizes or
	// alters an existing collection; all vectors in one collection share the
	// dimension fixed here.
	EnsureCollection(ctx context.Context, name string, dimension int, distance string) error

	// Upsert writes points into the collection. Re-upserting an id replaces
	// the previous vector and payload.
	Upsert(ctx context.Context, collection string, points []Point) error

	// Search returns up to k hits nearest to vector among points whose
	// payload DocumentID equals documentID, ordered by descending score.
	Search(ctx context.Context, collection string, vector []float32, documentID string, k int) ([]Hit, error)
}

// pointNamespace is the fixed namespace for name-based chunk point ids.
var pointNamespace = uuid.MustParse("9fbd3f52-5b4e-4f25-9e58-7c21d4a6c0b1")

// PointID derives the stable, collision-free identifier for a chunk from its
// (documentID, chunkIndex) identity. The same pair always yields the same id
// across processes; distinct pairs never collide in practice (UUIDv5 over a
// fixed namespace).
func PointID(documentID string, chunkIndex int) string {
	return uuid.NewSHA1(pointNamespace, []byte(fmt.Sprintf("%s:%d", documentID, chunkIndex))).String()
}
