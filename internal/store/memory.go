package store

import (
	"sync"
	"time"

	"github.com/genecraft/genecraft/internal/models"
)

// MemoryStore is an in-memory implementation of the job store. All
// reads copy under a read lock so pollers never observe a record while
// a worker mutates it.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*models.Job
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs: make(map[string]*models.Job),
	}
}

// CreateJob inserts a new job in status queued
func (s *MemoryStore) CreateJob(job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.jobs[job.ID] = job.Clone()
	return nil
}

// GetJob returns a snapshot of the job, or ErrJobNotFound
func (s *MemoryStore) GetJob(id string) (*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return job.Clone(), nil
}

// TransitionJob performs a compare-and-set status transition
func (s *MemoryStore) TransitionJob(id string, from, to models.JobStatus, final *Final) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return false, ErrJobNotFound
	}

	// Idempotency: already in the target state is a no-op, not an error
	if job.Status == to {
		return false, nil
	}
	if job.Status != from {
		return false, ErrConflict
	}
	if err := models.ValidateTransition(from, to); err != nil {
		return false, err
	}

	now := time.Now()
	job.Status = to
	if to == models.JobStatusRunning {
		job.StartedAt = &now
	}
	if models.IsTerminalState(to) {
		job.EndedAt = &now
		if final != nil {
			job.Result = final.Result
			job.Error = final.Err
		}
	}
	return true, nil
}

// ClaimNextQueued atomically moves the oldest queued job to running
func (s *MemoryStore) ClaimNextQueued() (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var oldest *models.Job
	for _, job := range s.jobs {
		if job.Status != models.JobStatusQueued {
			continue
		}
		if oldest == nil || job.CreatedAt.Before(oldest.CreatedAt) {
			oldest = job
		}
	}
	if oldest == nil {
		return nil, ErrNoQueuedJobs
	}

	now := time.Now()
	oldest.Status = models.JobStatusRunning
	oldest.StartedAt = &now
	return oldest.Clone(), nil
}

// JobsInStatus returns snapshots of all jobs currently in status
func (s *MemoryStore) JobsInStatus(status models.JobStatus) ([]*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Job
	for _, job := range s.jobs {
		if job.Status == status {
			out = append(out, job.Clone())
		}
	}
	return out, nil
}

// TerminalJobsBefore returns terminal jobs that ended before cutoff
func (s *MemoryStore) TerminalJobsBefore(cutoff time.Time) ([]*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Job
	for _, job := range s.jobs {
		if !models.IsTerminalState(job.Status) {
			continue
		}
		ended := job.CreatedAt
		if job.EndedAt != nil {
			ended = *job.EndedAt
		}
		if ended.Before(cutoff) {
			out = append(out, job.Clone())
		}
	}
	return out, nil
}

// CountByStatus returns the number of jobs per status
func (s *MemoryStore) CountByStatus() (map[models.JobStatus]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[models.JobStatus]int)
	for _, job := range s.jobs {
		counts[job.Status]++
	}
	return counts, nil
}

// DeleteJob removes a job record
func (s *MemoryStore) DeleteJob(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.jobs, id)
	return nil
}

// Close is a no-op for the memory store
func (s *MemoryStore) Close() error {
	return nil
}
