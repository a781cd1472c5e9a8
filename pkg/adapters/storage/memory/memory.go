package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/danielcregg/powerpoint-to-video-old/pkg/domain"
)

// InMemoryJobStore implements JobStore using an in-memory map.
// Records do not survive a restart.
type InMemoryJobStore struct {
	jobs map[string]*domain.Job
	mu   sync.RWMutex
}

// NewInMemoryJobStore creates a new in-memory job store
func NewInMemoryJobStore() *InMemoryJobStore {
	return &InMemoryJobStore{
		jobs: make(map[string]*domain.Job),
	}
}

// Create stores a new job
func (s *InMemoryJobStore) Create(ctx context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.ID]; ok {
		return fmt.Errorf("job already exists: %s", job.ID)
	}

	// Deep copy to avoid mutations
	stored := job.Clone()
	stored.Revision = 1
	s.jobs[job.ID] = stored
	job.Revision = stored.Revision
	return nil
}

// Get retrieves a job
func (s *InMemoryJobStore) Get(ctx context.Context, id string) (*domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: job %s", domain.ErrNotFound, id)
	}
	return job.Clone(), nil
}

// Update applies fn to the job under the store lock
func (s *InMemoryJobStore) Update(ctx context.Context, id string, fn func(*domain.Job) error) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: job %s", domain.ErrNotFound, id)
	}

	job := current.Clone()
	if err := fn(job); err != nil {
		return nil, err
	}
	job.Revision = current.Revision + 1
	s.jobs[id] = job
	return job.Clone(), nil
}

// List returns all jobs, newest first
func (s *InMemoryJobStore) List(ctx context.Context) ([]*domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]*domain.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job.Clone())
	}
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].ID > jobs[j].ID
		}
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	return jobs, nil
}

// Ping always succeeds
func (s *InMemoryJobStore) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op
func (s *InMemoryJobStore) Close() error {
	return nil
}
