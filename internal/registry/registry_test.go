package registry

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestAdd_InitialState(t *testing.T) {
	r := New()
	doc := r.Add("report.pdf", "/uploads/report.pdf")

	if doc.ID == "" {
		t.Fatal("Add did not generate an id")
	}
	if doc.Status != StatusNotStarted {
		t.Errorf("Status = %q, want %q", doc.Status, StatusNotStarted)
	}

	got, err := r.Get(doc.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.SourceName != "report.pdf" || got.SourcePath != "/uploads/report.pdf" {
		t.Errorf("Get = %+v", got)
	}
}

func TestGet_Unknown(t *testing.T) {
	r := New()
	if _, err := r.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get error = %v, want ErrNotFound", err)
	}
}

func TestFindByPath_PrefersLatestUpload(t *testing.T) {
	r := New()
	first := r.Add("a.pdf", "/uploads/a.pdf")
	second := r.Add("a.pdf", "/uploads/a.pdf")

	// Both Adds can land within one clock tick; force distinct instants so
	// the recency rule is actually exercised.
	r.docs[first.ID].doc.CreatedAt = r.docs[second.ID].doc.CreatedAt.Add(-time.Minute)

	got, err := r.FindByPath("/uploads/a.pdf")
	if err != nil {
		t.Fatalf("FindByPath: %v", err)
	}
	if got.ID != second.ID {
		t.Fatalf("FindByPath = %q, want latest upload %q", got.ID, second.ID)
	}
	// The older record stays addressable by id.
	if _, err := r.Get(first.ID); err != nil {
		t.Errorf("first upload no longer addressable: %v", err)
	}
}

func TestStatusTransitions(t *testing.T) {
	r := New()
	doc := r.Add("a.pdf", "/uploads/a.pdf")

	if err := r.BeginExtraction(doc.ID); err != nil {
		t.Fatalf("BeginExtraction: %v", err)
	}
	if err := r.BeginExtraction(doc.ID); !errors.Is(err, ErrExtractionRunning) {
		t.Fatalf("second BeginExtraction = %v, want ErrExtractionRunning", err)
	}

	if err := r.CompleteExtraction(doc.ID, 3); err != nil {
		t.Fatalf("CompleteExtraction: %v", err)
	}
	got, _ := r.Get(doc.ID)
	if got.Status != StatusCompleted || got.Chunks != 3 {
		t.Errorf("after completion: %+v", got)
	}

	// Terminal state: no further extraction.
	if err := r.BeginExtraction(doc.ID); !errors.Is(err, ErrAlreadyExtracted) {
		t.Fatalf("BeginExtraction after completion = %v, want ErrAlreadyExtracted", err)
	}
}

func TestFailExtraction(t *testing.T) {
	r := New()
	doc := r.Add("a.pdf", "/uploads/a.pdf")

	if err := r.BeginExtraction(doc.ID); err != nil {
		t.Fatalf("BeginExtraction: %v", err)
	}
	if err := r.FailExtraction(doc.ID, "embedding service down"); err != nil {
		t.Fatalf("FailExtraction: %v", err)
	}

	got, _ := r.Get(doc.ID)
	if got.Status != StatusFailed || got.Error != "embedding service down" {
		t.Errorf("after failure: %+v", got)
	}
	if err := r.BeginExtraction(doc.ID); !errors.Is(err, ErrAlreadyExtracted) {
		t.Fatalf("BeginExtraction after failure = %v, want ErrAlreadyExtracted", err)
	}
}

func TestBeginExtraction_ConcurrentSingleWinner(t *testing.T) {
	r := New()
	doc := r.Add("a.pdf", "/uploads/a.pdf")

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.BeginExtraction(doc.ID) == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := wins.Load(); got != 1 {
		t.Fatalf("%d goroutines won BeginExtraction, want exactly 1", got)
	}
}

func TestRequireCompleted(t *testing.T) {
	r := New()
	doc := r.Add("a.pdf", "/uploads/a.pdf")

	if _, err := r.RequireCompleted(doc.ID); !errors.Is(err, ErrNotReady) {
		t.Fatalf("RequireCompleted before extraction = %v, want ErrNotReady", err)
	}

	r.BeginExtraction(doc.ID)
	r.CompleteExtraction(doc.ID, 2)

	got, err := r.RequireCompleted(doc.ID)
	if err != nil {
		t.Fatalf("RequireCompleted after completion: %v", err)
	}
	if got.ID != doc.ID {
		t.Errorf("RequireCompleted returned %q, want %q", got.ID, doc.ID)
	}
}

func TestTurns(t *testing.T) {
	r := New()
	doc := r.Add("a.pdf", "/uploads/a.pdf")

	if err := r.AppendTurn(doc.ID, Turn{Question: "q1", Answer: "a1"}); err != nil {
		t.Fatalf("AppendTurn: %v", err)
	}
	if err := r.AppendTurn(doc.ID, Turn{Question: "q2", Answer: "a2"}); err != nil {
		t.Fatalf("AppendTurn: %v", err)
	}

	turns, err := r.Turns(doc.ID)
	if err != nil {
		t.Fatalf("Turns: %v", err)
	}
	if len(turns) != 2 || turns[0].Question != "q1" || turns[1].Answer != "a2" {
		t.Errorf("Turns = %+v", turns)
	}

	got, _ := r.Get(doc.ID)
	if got.Turns != 2 {
		t.Errorf("document turn count = %d, want 2", got.Turns)
	}
}
