// Package scheduler admits queued jobs into a bounded worker pool. The
// in-memory active map is the sole coordination structure; the Store remains
// authoritative for what "is queued" across restarts.
package scheduler

import (
	"context"
	"sync"
	"time"

	"downloaderd/internal/logger"
	"downloaderd/internal/metrics"
	"downloaderd/internal/storage"
)

const tickInterval = 500 * time.Millisecond

// jobRunner is the subset of worker.Worker the Scheduler depends on, so
// tests can substitute a fake without spinning up a real extractor.
type jobRunner interface {
	Run(ctx context.Context, jobID string)
}

// activeJob tracks one admitted job's cancellation signal and start time.
type activeJob struct {
	cancel  context.CancelFunc
	started time.Time
}

// Scheduler is the single long-lived admission loop.
type Scheduler struct {
	store         *storage.Store
	worker        jobRunner
	maxConcurrent int

	mu     sync.Mutex
	active map[string]*activeJob

	quit chan struct{}
	wg   sync.WaitGroup
}

// New builds a Scheduler bound to a Store and a worker runner.
func New(store *storage.Store, worker jobRunner, maxConcurrent int) *Scheduler {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Scheduler{
		store:         store,
		worker:        worker,
		maxConcurrent: maxConcurrent,
		active:        make(map[string]*activeJob),
		quit:          make(chan struct{}),
	}
}

// Start begins the 500ms admission loop in its own goroutine.
func (s *Scheduler) Start() {
	logger.Log.Info().Int("max_concurrent", s.maxConcurrent).Msg("scheduler started")
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.runOnce()
			case <-s.quit:
				return
			}
		}
	}()
}

// Stop signals the admission loop to exit and waits for it, and for every
// in-flight job it admitted, to return. It does not cancel in-flight jobs, so
// it blocks until they finish.
func (s *Scheduler) Stop() {
	close(s.quit)
	s.wg.Wait()
}

// runOnce is one scheduling tick: publish gauges, compute available slots,
// admit up to that many queued jobs in FIFO order.
func (s *Scheduler) runOnce() {
	s.publishGauges()

	s.mu.Lock()
	available := s.maxConcurrent - len(s.active)
	s.mu.Unlock()
	if available <= 0 {
		return
	}

	ids, err := s.store.QueuedIDs(available)
	if err != nil {
		logger.Log.Error().Err(err).Msg("scheduler_queued_ids_failed")
		return
	}

	for _, id := range ids {
		s.tryStart(id)
	}
}

func (s *Scheduler) tryStart(jobID string) {
	s.mu.Lock()
	if _, exists := s.active[jobID]; exists {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.active[jobID] = &activeJob{cancel: cancel, started: time.Now()}
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.onDone(jobID)
		s.worker.Run(ctx, jobID)
	}()
}

func (s *Scheduler) onDone(jobID string) {
	s.mu.Lock()
	delete(s.active, jobID)
	s.mu.Unlock()
	s.publishGauges()
}

func (s *Scheduler) publishGauges() {
	s.mu.Lock()
	activeCount := len(s.active)
	s.mu.Unlock()
	metrics.SetActiveJobs(activeCount)

	if depth, err := s.store.CountQueued(); err == nil {
		metrics.SetQueueDepth(depth)
	}
}

// CancelActive signals jobID's in-flight worker to pause cooperatively, if
// it is currently admitted. Reports whether a signal was delivered.
func (s *Scheduler) CancelActive(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, exists := s.active[jobID]
	if !exists {
		return false
	}
	job.cancel()
	return true
}

// IsActive reports whether jobID currently holds a worker slot.
func (s *Scheduler) IsActive(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, exists := s.active[jobID]
	return exists
}
