package scheduler

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"downloaderd/internal/storage"
)

type fakeRunner struct {
	mu      sync.Mutex
	started []string
	block   chan struct{}
}

func (f *fakeRunner) Run(ctx context.Context, jobID string) {
	f.mu.Lock()
	f.started = append(f.started, jobID)
	f.mu.Unlock()
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
		}
	}
}

func (f *fakeRunner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.started)
}

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	db, err := storage.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return storage.NewStore(db)
}

func TestRunOnce_AdmitsUpToAvailableSlots(t *testing.T) {
	store := newTestStore(t)
	for i := 0; i < 3; i++ {
		if _, err := store.Enqueue(string(rune('a'+i)), "https://example.com/v", "best", time.Now()); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	runner := &fakeRunner{block: make(chan struct{})}
	s := New(store, runner, 2)

	s.runOnce()

	if got := runner.count(); got != 2 {
		t.Fatalf("started = %d, want 2 (max_concurrent)", got)
	}
	if !s.IsActive("a") || !s.IsActive("b") {
		t.Error("expected first two jobs admitted into the active map")
	}
	close(runner.block)
	s.wg.Wait()
}

func TestRunOnce_SkipsAlreadyActiveJob(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Enqueue("job1", "https://example.com/v", "best", time.Now()); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	runner := &fakeRunner{block: make(chan struct{})}
	s := New(store, runner, 4)

	s.tryStart("job1")
	s.tryStart("job1") // second call should be a no-op; job already active

	if got := runner.count(); got != 1 {
		t.Fatalf("started = %d, want 1 (duplicate admission rejected)", got)
	}
	close(runner.block)
	s.wg.Wait()
}

func TestCancelActive(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Enqueue("job1", "https://example.com/v", "best", time.Now()); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	runner := &fakeRunner{}
	s := New(store, runner, 4)

	if s.CancelActive("job1") {
		t.Error("CancelActive should report false for a job that isn't active")
	}

	s.tryStart("job1")
	s.wg.Wait() // fakeRunner has no block channel, returns immediately

	// By the time Run returns, onDone already removed it from active.
	if s.CancelActive("job1") {
		t.Error("CancelActive should report false once the job has completed")
	}
}

func TestOnDone_RemovesFromActiveMap(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Enqueue("job1", "https://example.com/v", "best", time.Now()); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	runner := &fakeRunner{}
	s := New(store, runner, 4)

	s.tryStart("job1")
	s.wg.Wait()

	if s.IsActive("job1") {
		t.Error("expected job removed from active map after Run returns")
	}
}
