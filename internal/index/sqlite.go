package index

import (
	"container/heap"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"encoding/binary"

	_ "modernc.org/sqlite"
)

// Compile-time check that SQLiteIndex implements Index.
var _ Index = (*SQLiteIndex)(nil)

// SQLiteIndex is an embedded Index backend with brute-force cosine
// similarity search. It exists so the pipeline runs without an external
// vector engine; switch to the Qdrant backend when the corpus outgrows a
// full scan per query.
type SQLiteIndex struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the index database in dataDir and ensures
// the schema. Pass ":memory:" for an in-memory database (used by tests).
func OpenSQLite(dataDir string) (*SQLiteIndex, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "docchat.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &SQLiteIndex{db: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteIndex) Close() error {
	return s.db.Close()
}

func (s *SQLiteIndex) ensureSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS collections (
			name      TEXT PRIMARY KEY,
			dimension INTEGER NOT NULL,
			distance  TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS points (
			id          TEXT PRIMARY KEY,
			collection  TEXT NOT NULL,
			document_id TEXT NOT NULL,
			chunk_index INTEGER NOT NULL,
			text_chunk  TEXT NOT NULL,
			embedding   BLOB NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_points_scope ON points (collection, document_id);
	`)
	return err
}

// EnsureCollection records the collection if absent. An existing collection
// keeps its original dimension; a mismatching dimension is an error rather
// than a silent resize.
func (s *SQLiteIndex) EnsureCollection(ctx context.Context, name string, dimension int, distance string) error {
	if dimension <= 0 {
		return fmt.Errorf("invalid dimension %d", dimension)
	}
	if distance == "" {
		distance = DistanceCosine
	}
	if distance != DistanceCosine {
		return fmt.Errorf("unsupported distance metric %q", distance)
	}

	var existing int
	err := s.db.QueryRowContext(ctx, "SELECT dimension FROM collections WHERE name = ?", name).Scan(&existing)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = s.db.ExecContext(ctx,
			"INSERT INTO collections (name, dimension, distance) VALUES (?, ?, ?)",
			name, dimension, distance)
		if err != nil {
			return fmt.Errorf("creating collection %q: %w", name, err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("checking collection %q: %w", name, err)
	case existing != dimension:
		return fmt.Errorf("collection %q has dimension %d, requested %d", name, existing, dimension)
	default:
		return nil
	}
}

// Upsert inserts points, replacing by id (last-write-wins).
func (s *SQLiteIndex) Upsert(ctx context.Context, collection string, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning upsert transaction: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO points (id, collection, document_id, chunk_index, text_chunk, embedding)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("preparing upsert statement: %w", err)
	}
	defer stmt.Close()

	for _, p := range points {
		blob := encodeFloat32s(p.Vector)
		if _, err := stmt.ExecContext(ctx, p.ID, collection, p.Payload.DocumentID, p.Payload.ChunkIndex, p.Payload.Text, blob); err != nil {
			tx.Rollback()
			return fmt.Errorf("upserting point %s: %w", p.ID, err)
		}
	}

	return tx.Commit()
}

// hitHeap is a min-heap of Hit ordered by Score, used to track the top-K
// candidates during the scan.
type hitHeap []Hit

func (h hitHeap) Len() int           { return len(h) }
func (h hitHeap) Less(i, j int) bool { return h[i].Score < h[j].Score }
func (h hitHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *hitHeap) Push(x any)        { *h = append(*h, x.(Hit)) }
func (h *hitHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Search scans the document's points and returns the top-K by cosine
// similarity, descending.
func (s *SQLiteIndex) Search(ctx context.Context, collection string, vector []float32, documentID string, k int) ([]Hit, error) {
	if k <= 0 {
		k = 5
	}

	queryNorm := norm(vector)
	if queryNorm == 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT document_id, chunk_index, text_chunk, embedding
		FROM points WHERE collection = ? AND document_id = ?`,
		collection, documentID)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}
	defer rows.Close()

	h := &hitHeap{}
	heap.Init(h)

	// Reusable buffer for decoding embeddings to avoid per-row allocations.
	var buf []float32

	for rows.Next() {
		var p Payload
		var blob []byte
		if err := rows.Scan(&p.DocumentID, &p.ChunkIndex, &p.Text, &blob); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}

		buf, err = decodeFloat32sInto(buf, blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for chunk %d: %w", p.ChunkIndex, err)
		}

		score := cosine(vector, buf, queryNorm)
		if h.Len() < k {
			heap.Push(h, Hit{Payload: p, Score: score})
		} else if score > (*h)[0].Score {
			(*h)[0] = Hit{Payload: p, Score: score}
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}

	// Pop the min-heap back to front for descending score order.
	hits := make([]Hit, h.Len())
	for i := len(hits) - 1; i >= 0; i-- {
		hits[i] = heap.Pop(h).(Hit)
	}
	return hits, nil
}

// Count returns the number of points stored for a document. Pass an empty
// documentID to count the whole collection.
func (s *SQLiteIndex) Count(ctx context.Context, collection, documentID string) (int, error) {
	var count int
	var err error
	if documentID == "" {
		err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM points WHERE collection = ?", collection).Scan(&count)
	} else {
		err = s.db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM points WHERE collection = ? AND document_id = ?",
			collection, documentID).Scan(&count)
	}
	return count, err
}

// encodeFloat32s serializes a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32sInto decodes little-endian bytes into the provided buffer,
// reusing it to avoid per-row allocations during search scans. Returns an
// error if the byte length is not a multiple of 4 (data corruption).
func decodeFloat32sInto(buf []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	if cap(buf) < n {
		buf = make([]float32, n)
	} else {
		buf = buf[:n]
	}
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return buf, nil
}

// norm returns the L2 norm of a vector.
func norm(v []float32) float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return float32(math.Sqrt(sum))
}

// cosine computes dot(a,b) / (aNorm * bNorm). aNorm is the precomputed L2
// norm of vector a.
func cosine(a, b []float32, aNorm float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot float64
	var bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	bNorm := math.Sqrt(bNormSq)
	if bNorm == 0 {
		return 0
	}
	return float32(dot / (float64(aNorm) * bNorm))
}
