package scan

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/medguard-ai/medguard/logger"
)

// MemoryStore keeps jobs in process memory. Each job has its own mutex so
// writers to different jobs never contend.
type MemoryStore struct {
	mu     sync.RWMutex
	jobs   map[uuid.UUID]*memoryEntry
	logger logger.Logger
}

type memoryEntry struct {
	mu      sync.Mutex
	job     *Job
	evicted bool
}

// NewMemoryStore creates an empty in-memory job store.
func NewMemoryStore(log logger.Logger) *MemoryStore {
	return &MemoryStore{
		jobs:   make(map[uuid.UUID]*memoryEntry),
		logger: log,
	}
}

// Create creates a pending job for flow.
func (s *MemoryStore) Create(ctx context.Context, flow Flow) (*Job, error) {
	j, err := NewJob(flow)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.jobs[j.ID] = &memoryEntry{job: j}
	s.mu.Unlock()

	s.logger.Info(ctx, "scan job created", map[string]interface{}{
		"scan_id": j.ID.String(),
		"flow":    string(flow),
	})

	return j.Clone(), nil
}

func (s *MemoryStore) entry(id uuid.UUID) (*memoryEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.jobs[id]
	return e, ok
}

// GetByID returns a snapshot of the job.
func (s *MemoryStore) GetByID(ctx context.Context, id uuid.UUID) (*Job, error) {
	e, ok := s.entry(id)
	if !ok {
		return nil, ErrJobNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.evicted {
		return nil, ErrJobNotFound
	}
	return e.job.Clone(), nil
}

// Mutate applies fn to a copy of the job and keeps the copy only if fn succeeds.
func (s *MemoryStore) Mutate(ctx context.Context, id uuid.UUID, fn UpdateSetter) (*Job, error) {
	e, ok := s.entry(id)
	if !ok {
		return nil, ErrJobNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.evicted {
		return nil, ErrJobNotFound
	}

	working := e.job.Clone()
	if err := fn(working); err != nil {
		return nil, err
	}
	e.job = working

	return working.Clone(), nil
}

// Evict removes jobs whose last update is before olderThan.
func (s *MemoryStore) Evict(ctx context.Context, olderThan time.Time) ([]*Job, error) {
	s.mu.RLock()
	candidates := make(map[uuid.UUID]*memoryEntry, len(s.jobs))
	for id, e := range s.jobs {
		candidates[id] = e
	}
	s.mu.RUnlock()

	var stale []*Job
	for _, e := range candidates {
		e.mu.Lock()
		if !e.evicted && e.job.UpdatedAt.Before(olderThan) {
			e.evicted = true
			stale = append(stale, e.job.Clone())
		}
		e.mu.Unlock()
	}

	if len(stale) == 0 {
		return nil, nil
	}

	s.mu.Lock()
	for _, j := range stale {
		delete(s.jobs, j.ID)
	}
	s.mu.Unlock()

	s.logger.Info(ctx, "evicted stale scan jobs", map[string]interface{}{
		"removed_count": len(stale),
	})

	return stale, nil
}

// Len returns the number of stored jobs.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}
