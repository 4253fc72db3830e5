// Package results holds completed job results in memory until they are
// retrieved or expire. Entries are write-once; a periodic sweep evicts
// entries older than the retention window, bounding memory use under
// sustained load.
package results

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"scoreforge/internal/model"
)

// ErrNotFound is returned for unknown or already-evicted job IDs.
var ErrNotFound = errors.New("result not found")

// ErrAlreadyStored is returned when a second result is put for the same job.
var ErrAlreadyStored = errors.New("result already stored")

// Store is an in-memory result store with time-based eviction.
type Store struct {
	retention time.Duration
	logger    *slog.Logger

	mu      sync.Mutex
	entries map[string]*model.Result

	stop chan struct{}
	done chan struct{}
}

// New creates a result store and starts its eviction sweep.
func New(retention, sweepInterval time.Duration, logger *slog.Logger) *Store {
	s := &Store{
		retention: retention,
		logger:    logger,
		entries:   make(map[string]*model.Result),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go s.sweep(sweepInterval)
	return s
}

// Put stores the result for a job. Results are write-once: a second Put for
// the same job is rejected.
func (s *Store) Put(jobID string, res *model.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[jobID]; exists {
		return ErrAlreadyStored
	}
	res.JobID = jobID
	res.StoredAt = time.Now().UTC()
	s.entries[jobID] = res
	storedResults.Inc()
	return nil
}

// Get returns the result for a job, or ErrNotFound if it was never stored
// or has been evicted.
func (s *Store) Get(jobID string) (*model.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, ok := s.entries[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	return res, nil
}

// Evict removes the result for a job. A no-op for unknown IDs.
func (s *Store) Evict(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictLocked(jobID)
}

func (s *Store) evictLocked(jobID string) {
	if _, ok := s.entries[jobID]; ok {
		delete(s.entries, jobID)
		storedResults.Dec()
	}
}

// Len returns the number of stored results.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Close stops the eviction sweep.
func (s *Store) Close() {
	close(s.stop)
	<-s.done
}

func (s *Store) sweep(interval time.Duration) {
	defer close(s.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.evictExpired(time.Now().UTC())
		}
	}
}

func (s *Store) evictExpired(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for id, res := range s.entries {
		if now.Sub(res.StoredAt) > s.retention {
			s.evictLocked(id)
			evicted++
		}
	}
	if evicted > 0 {
		s.logger.Debug("evicted expired results", "count", evicted)
	}
}
