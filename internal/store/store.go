package store

import (
	"errors"
	"time"

	"github.com/genecraft/genecraft/internal/models"
)

var (
	// ErrJobNotFound is returned when no job exists for an id
	ErrJobNotFound = errors.New("job not found")
	// ErrNoQueuedJobs is returned by ClaimNextQueued when the queue is empty
	ErrNoQueuedJobs = errors.New("no queued jobs")
	// ErrConflict is returned when a compare-and-set transition loses the race
	ErrConflict = errors.New("job status changed concurrently")
)

// Final carries the terminal payload written together with a transition
// to finished or failed. Result and Err are mutually exclusive.
type Final struct {
	Result *models.Result
	Err    *models.JobError
}

// Store is the single source of truth for job records. Reads return
// snapshots; TransitionJob is the only mutation primitive after create.
// Implementations must allow many concurrent readers against one writer
// per record.
type Store interface {
	// CreateJob inserts a new job in status queued
	CreateJob(job *models.Job) error

	// GetJob returns a snapshot of the job, or ErrJobNotFound
	GetJob(id string) (*models.Job, error)

	// TransitionJob performs a compare-and-set status transition. It
	// succeeds only when the current status equals from. Returns
	// (false, nil) when the job is already in to (idempotent no-op),
	// (false, ErrConflict) when the current status is neither from nor
	// to, and (false, ErrJobNotFound) for unknown ids. final is applied
	// only on transitions into a terminal state.
	TransitionJob(id string, from, to models.JobStatus, final *Final) (bool, error)

	// ClaimNextQueued atomically moves the oldest queued job to running
	// and returns its snapshot, or ErrNoQueuedJobs
	ClaimNextQueued() (*models.Job, error)

	// JobsInStatus returns snapshots of all jobs currently in status
	JobsInStatus(status models.JobStatus) ([]*models.Job, error)

	// TerminalJobsBefore returns snapshots of finished/failed jobs whose
	// end time is before cutoff, for retention cleanup
	TerminalJobsBefore(cutoff time.Time) ([]*models.Job, error)

	// CountByStatus returns the number of jobs per status
	CountByStatus() (map[models.JobStatus]int, error)

	// DeleteJob removes a job record. Deleting an unknown id is a no-op.
	DeleteJob(id string) error

	// Close releases underlying resources
	Close() error
}

// Config selects and configures a store backend
type Config struct {
	Type string // "memory" or "sqlite"
	Path string // sqlite database path
}

// New creates a store based on configuration
func New(config Config) (Store, error) {
	switch config.Type {
	case "sqlite":
		path := config.Path
		if path == "" {
			path = "genecraft.db"
		}
		return NewSQLiteStore(path)
	case "memory", "":
		return NewMemoryStore(), nil
	default:
		return nil, errors.New("unsupported store type: " + config.Type)
	}
}
