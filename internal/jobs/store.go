package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/satriahrh/narrasi/domain/entities"
)

// MemoryStore is an in-process Store guarded by a lock
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

// Ensure MemoryStore implements Store
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*Job)}
}

func copyJob(j *Job) *Job {
	c := *j
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}

// Put implements Store
func (s *MemoryStore) Put(ctx context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = copyJob(job)
	return nil
}

// Get implements Store
func (s *MemoryStore) Get(ctx context.Context, id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, exists := s.jobs[id]
	if !exists {
		return nil, fmt.Errorf("job %s: %w", id, entities.ErrNotFound)
	}
	return copyJob(job), nil
}

// Update implements Store
func (s *MemoryStore) Update(ctx context.Context, id string, fn func(*Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, exists := s.jobs[id]
	if !exists {
		return fmt.Errorf("job %s: %w", id, entities.ErrNotFound)
	}
	fn(job)
	return nil
}

// DeleteFinishedBefore implements Store
func (s *MemoryStore) DeleteFinishedBefore(ctx context.Context, t time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, job := range s.jobs {
		if job.FinishedAt != nil && job.FinishedAt.Before(t) {
			delete(s.jobs, id)
			removed++
		}
	}
	return removed, nil
}
