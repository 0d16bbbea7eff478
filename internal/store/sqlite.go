package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/genecraft/genecraft/internal/models"
)

// SQLiteStore is a SQLite-backed implementation of the job store. It
// survives restarts, which is what makes the startup reconciliation of
// orphaned running jobs meaningful.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteStore creates a new SQLite store
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// WAL for concurrent readers, busy timeout to ride out writer
	// contention, immediate txlock so write transactions fail fast
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=10000&_synchronous=NORMAL&_txlock=immediate", dbPath)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer to avoid SQLITE_BUSY
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		status TEXT NOT NULL,
		params TEXT,
		inputs TEXT,
		result TEXT,
		error TEXT,
		created_at DATETIME NOT NULL,
		started_at DATETIME,
		ended_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
	CREATE INDEX IF NOT EXISTS idx_jobs_status_created ON jobs(status, created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// CreateJob inserts a new job in status queued
func (s *SQLiteStore) CreateJob(job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	paramsJSON, err := json.Marshal(job.Params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	inputsJSON, err := json.Marshal(job.Inputs)
	if err != nil {
		return fmt.Errorf("marshal inputs: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO jobs (id, kind, status, params, inputs, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, job.ID, string(job.Kind), string(job.Status), string(paramsJSON), string(inputsJSON), job.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetJob returns a snapshot of the job, or ErrJobNotFound
func (s *SQLiteStore) GetJob(id string) (*models.Job, error) {
	row := s.db.QueryRow(`
		SELECT id, kind, status, params, inputs, result, error, created_at, started_at, ended_at
		FROM jobs WHERE id = ?
	`, id)
	return scanJob(row)
}

// TransitionJob performs a compare-and-set status transition inside one
// transaction so a stale worker can never overwrite a terminal state.
func (s *SQLiteStore) TransitionJob(id string, from, to models.JobStatus, final *Final) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return false, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRow(`SELECT status FROM jobs WHERE id = ?`, id).Scan(&current)
	if err == sql.ErrNoRows {
		return false, ErrJobNotFound
	}
	if err != nil {
		return false, fmt.Errorf("get job state: %w", err)
	}

	if models.JobStatus(current) == to {
		return false, nil
	}
	if models.JobStatus(current) != from {
		return false, ErrConflict
	}
	if err := models.ValidateTransition(from, to); err != nil {
		return false, err
	}

	now := time.Now()
	var resultJSON, errorJSON sql.NullString
	if models.IsTerminalState(to) && final != nil {
		if final.Result != nil {
			b, err := json.Marshal(final.Result)
			if err != nil {
				return false, fmt.Errorf("marshal result: %w", err)
			}
			resultJSON = sql.NullString{String: string(b), Valid: true}
		}
		if final.Err != nil {
			b, err := json.Marshal(final.Err)
			if err != nil {
				return false, fmt.Errorf("marshal error: %w", err)
			}
			errorJSON = sql.NullString{String: string(b), Valid: true}
		}
	}

	switch {
	case to == models.JobStatusRunning:
		_, err = tx.Exec(`UPDATE jobs SET status = ?, started_at = ? WHERE id = ? AND status = ?`,
			string(to), now, id, string(from))
	case models.IsTerminalState(to):
		_, err = tx.Exec(`UPDATE jobs SET status = ?, ended_at = ?, result = ?, error = ? WHERE id = ? AND status = ?`,
			string(to), now, resultJSON, errorJSON, id, string(from))
	default:
		_, err = tx.Exec(`UPDATE jobs SET status = ? WHERE id = ? AND status = ?`,
			string(to), id, string(from))
	}
	if err != nil {
		return false, fmt.Errorf("update job state: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit transaction: %w", err)
	}
	return true, nil
}

// ClaimNextQueued atomically moves the oldest queued job to running
func (s *SQLiteStore) ClaimNextQueued() (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var id string
	err = tx.QueryRow(`
		SELECT id FROM jobs WHERE status = ? ORDER BY created_at LIMIT 1
	`, string(models.JobStatusQueued)).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, ErrNoQueuedJobs
	}
	if err != nil {
		return nil, fmt.Errorf("select queued job: %w", err)
	}

	now := time.Now()
	_, err = tx.Exec(`UPDATE jobs SET status = ?, started_at = ? WHERE id = ?`,
		string(models.JobStatusRunning), now, id)
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}

	return s.GetJob(id)
}

// JobsInStatus returns snapshots of all jobs currently in status
func (s *SQLiteStore) JobsInStatus(status models.JobStatus) ([]*models.Job, error) {
	rows, err := s.db.Query(`
		SELECT id, kind, status, params, inputs, result, error, created_at, started_at, ended_at
		FROM jobs WHERE status = ?
	`, string(status))
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

// TerminalJobsBefore returns terminal jobs that ended before cutoff
func (s *SQLiteStore) TerminalJobsBefore(cutoff time.Time) ([]*models.Job, error) {
	rows, err := s.db.Query(`
		SELECT id, kind, status, params, inputs, result, error, created_at, started_at, ended_at
		FROM jobs
		WHERE status IN (?, ?) AND COALESCE(ended_at, created_at) < ?
	`, string(models.JobStatusFinished), string(models.JobStatusFailed), cutoff)
	if err != nil {
		return nil, fmt.Errorf("query terminal jobs: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

// CountByStatus returns the number of jobs per status
func (s *SQLiteStore) CountByStatus() (map[models.JobStatus]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.JobStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[models.JobStatus(status)] = n
	}
	return counts, rows.Err()
}

// DeleteJob removes a job record
func (s *SQLiteStore) DeleteJob(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`DELETE FROM jobs WHERE id = ?`, id)
	return err
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	var (
		job                    models.Job
		kind, status           string
		paramsJSON, inputsJSON sql.NullString
		resultJSON, errorJSON  sql.NullString
		startedAt, endedAt     sql.NullTime
	)
	err := row.Scan(&job.ID, &kind, &status, &paramsJSON, &inputsJSON,
		&resultJSON, &errorJSON, &job.CreatedAt, &startedAt, &endedAt)
	if err == sql.ErrNoRows {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}

	job.Kind = models.Kind(kind)
	job.Status = models.JobStatus(status)
	if paramsJSON.Valid && paramsJSON.String != "" {
		if err := json.Unmarshal([]byte(paramsJSON.String), &job.Params); err != nil {
			return nil, fmt.Errorf("unmarshal params: %w", err)
		}
	}
	if inputsJSON.Valid && inputsJSON.String != "" {
		if err := json.Unmarshal([]byte(inputsJSON.String), &job.Inputs); err != nil {
			return nil, fmt.Errorf("unmarshal inputs: %w", err)
		}
	}
	if resultJSON.Valid && resultJSON.String != "" {
		job.Result = &models.Result{}
		if err := json.Unmarshal([]byte(resultJSON.String), job.Result); err != nil {
			return nil, fmt.Errorf("unmarshal result: %w", err)
		}
	}
	if errorJSON.Valid && errorJSON.String != "" {
		job.Error = &models.JobError{}
		if err := json.Unmarshal([]byte(errorJSON.String), job.Error); err != nil {
			return nil, fmt.Errorf("unmarshal error: %w", err)
		}
	}
	if startedAt.Valid {
		t := startedAt.Time
		job.StartedAt = &t
	}
	if endedAt.Valid {
		t := endedAt.Time
		job.EndedAt = &t
	}
	return &job, nil
}

func scanJobs(rows *sql.Rows) ([]*models.Job, error) {
	var out []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}
