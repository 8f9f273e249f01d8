// Package registry tracks uploaded documents and their extraction status.
//
// The registry is process-lifetime state: documents and their chat turns are
// lost on restart, and only the vector store persists beyond the process.
package registry

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is a document's extraction state. Transitions are monotonic:
// NotStarted -> InProgress -> Completed | Failed. There is no way out of a
// terminal state without a new upload.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

var (
	// ErrNotFound is returned for unknown document ids or paths.
	ErrNotFound = errors.New("document not found")
	// ErrExtractionRunning is returned when extraction is already in
	// progress for the document.
	ErrExtractionRunning = errors.New("extraction already in progress")
	// ErrAlreadyExtracted is returned when the document is in a terminal
	// state and cannot be extracted again.
	ErrAlreadyExtracted = errors.New("document already extracted")
	// ErrNotReady is returned when a question is asked about a document that
	// has not completed extraction.
	ErrNotReady = errors.New("document extraction not completed")
)

// Document is a registered upload.
type Document struct {
	ID         string    `json:"id"`
	SourceName string    `json:"sourceName"`
	SourcePath string    `json:"sourcePath"`
	Status     Status    `json:"status"`
	Chunks     int       `json:"chunks"`
	Error      string    `json:"error,omitempty"`
	Turns      int       `json:"turns"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Turn is one question/answer exchange in a document's conversation.
type Turn struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

type record struct {
	doc   Document
	turns []Turn
}

// Registry owns the document table. All status transitions go through it,
// under one lock, so two concurrent extraction calls on the same document
// can never both move it to InProgress.
type Registry struct {
	mu   sync.Mutex
	docs map[string]*record
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{docs: map[string]*record{}}
}

// Add registers an uploaded document with a fresh server-generated id and
// status NotStarted. A re-upload of the same path gets a new id and starts
// the lifecycle over; the previous record stays addressable by its id.
func (r *Registry) Add(sourceName, sourcePath string) Document {
	doc := Document{
		ID:         uuid.New().String(),
		SourceName: sourceName,
		SourcePath: sourcePath,
		Status:     StatusNotStarted,
		CreatedAt:  time.Now().UTC(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs[doc.ID] = &record{doc: doc}
	return doc
}

// Get returns the document with the given id.
func (r *Registry) Get(id string) (Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.docs[id]
	if !ok {
		return Document{}, ErrNotFound
	}
	return rec.doc, nil
}

// FindByPath returns the most recently uploaded document with the given
// source path.
func (r *Registry) FindByPath(path string) (Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var found *record
	for _, rec := range r.docs {
		if rec.doc.SourcePath != path {
			continue
		}
		if found == nil || rec.doc.CreatedAt.After(found.doc.CreatedAt) {
			found = rec
		}
	}
	if found == nil {
		return Document{}, ErrNotFound
	}
	return found.doc, nil
}

// List returns all documents, newest first.
func (r *Registry) List() []Document {
	r.mu.Lock()
	defer r.mu.Unlock()

	docs := make([]Document, 0, len(r.docs))
	for _, rec := range r.docs {
		docs = append(docs, rec.doc)
	}
	sort.Slice(docs, func(i, j int) bool {
		return docs[i].CreatedAt.After(docs[j].CreatedAt)
	})
	return docs
}

// BeginExtraction transitions the document from NotStarted to InProgress.
// Exactly one caller wins; concurrent callers get ErrExtractionRunning and
// callers on a terminal document get ErrAlreadyExtracted.
func (r *Registry) BeginExtraction(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.docs[id]
	if !ok {
		return ErrNotFound
	}
	switch rec.doc.Status {
	case StatusNotStarted:
		rec.doc.Status = StatusInProgress
		return nil
	case StatusInProgress:
		return ErrExtractionRunning
	default:
		return ErrAlreadyExtracted
	}
}

// CompleteExtraction transitions InProgress to Completed and records the
// chunk count.
func (r *Registry) CompleteExtraction(id string, chunks int) error {
	return r.finish(id, StatusCompleted, chunks, "")
}

// FailExtraction transitions InProgress to Failed and records the reason.
func (r *Registry) FailExtraction(id string, reason string) error {
	return r.finish(id, StatusFailed, 0, reason)
}

func (r *Registry) finish(id string, status Status, chunks int, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.docs[id]
	if !ok {
		return ErrNotFound
	}
	if rec.doc.Status != StatusInProgress {
		return errors.New("document is not in progress")
	}
	rec.doc.Status = status
	rec.doc.Chunks = chunks
	rec.doc.Error = reason
	return nil
}

// RequireCompleted returns the document only if its extraction completed.
func (r *Registry) RequireCompleted(id string) (Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.docs[id]
	if !ok {
		return Document{}, ErrNotFound
	}
	if rec.doc.Status != StatusCompleted {
		return Document{}, ErrNotReady
	}
	return rec.doc, nil
}

// AppendTurn records a question/answer exchange on the document.
func (r *Registry) AppendTurn(id string, turn Turn) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.docs[id]
	if !ok {
		return ErrNotFound
	}
	rec.turns = append(rec.turns, turn)
	rec.doc.Turns = len(rec.turns)
	return nil
}

// Turns returns a copy of the document's conversation history in order.
func (r *Registry) Turns(id string) ([]Turn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	turns := make([]Turn, len(rec.turns))
	copy(turns, rec.turns)
	return turns, nil
}
