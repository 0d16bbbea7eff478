package artifact

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/genecraft/genecraft/internal/logging"
	"github.com/genecraft/genecraft/internal/models"
)

var (
	// ErrArtifactNotFound is returned for unknown artifact ids
	ErrArtifactNotFound = errors.New("artifact not found")
	// ErrArtifactExpired is returned once the retention window elapsed
	ErrArtifactExpired = errors.New("artifact expired")
)

// Store holds completed output files under a private root and produces
// time-bounded download references. Artifacts are immutable once
// published.
type Store struct {
	root   string
	ttl    time.Duration
	logger *logging.Logger

	mu        sync.RWMutex
	artifacts map[string]*models.Artifact
}

// NewStore creates an artifact store rooted at dir
func NewStore(dir string, ttl time.Duration, logger *logging.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create artifact root: %w", err)
	}
	return &Store{
		root:      dir,
		ttl:       ttl,
		logger:    logger.WithField("component", "artifacts"),
		artifacts: make(map[string]*models.Artifact),
	}, nil
}

// Publish moves the engine's output file into the store and returns the
// artifact record with its expiry set
func (s *Store) Publish(jobID, srcPath, declaredMime, downloadName string) (*models.Artifact, error) {
	info, err := os.Stat(srcPath)
	if err != nil {
		return nil, fmt.Errorf("stat output: %w", err)
	}

	id := uuid.New().String()
	dst := filepath.Join(s.root, strings.ReplaceAll(id, "-", "")+filepath.Ext(downloadName))

	if err := os.Rename(srcPath, dst); err != nil {
		// Rename fails across filesystems; fall back to a copy
		if err := copyFile(srcPath, dst); err != nil {
			return nil, fmt.Errorf("publish output: %w", err)
		}
		os.Remove(srcPath)
	}

	now := time.Now()
	artifact := &models.Artifact{
		ID:           id,
		JobID:        jobID,
		Path:         dst,
		DeclaredMime: declaredMime,
		DownloadName: downloadName,
		ByteSize:     info.Size(),
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.ttl),
	}

	s.mu.Lock()
	s.artifacts[id] = artifact
	s.mu.Unlock()

	s.logger.Info("Published artifact", map[string]interface{}{
		"artifact_id": id, "job_id": jobID, "bytes": artifact.ByteSize,
	})
	return cloneArtifact(artifact), nil
}

// Get returns the artifact record, distinguishing unknown ids from
// expired ones
func (s *Store) Get(id string) (*models.Artifact, error) {
	s.mu.RLock()
	artifact, ok := s.artifacts[id]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrArtifactNotFound
	}
	if artifact.Expired(time.Now()) {
		return nil, ErrArtifactExpired
	}
	return cloneArtifact(artifact), nil
}

// Open opens the artifact's file for streaming
func (s *Store) Open(id string) (*models.Artifact, io.ReadCloser, error) {
	artifact, err := s.Get(id)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(artifact.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open artifact: %w", err)
	}
	return artifact, f, nil
}

// Delete removes an artifact and its file. Idempotent.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	artifact, ok := s.artifacts[id]
	if ok {
		delete(s.artifacts, id)
	}
	s.mu.Unlock()

	if !ok {
		return
	}
	if err := os.Remove(artifact.Path); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("Failed to remove artifact file", map[string]interface{}{
			"artifact_id": id, "error": err.Error(),
		})
	}
}

// SweepExpired deletes artifacts past their expiry, whether or not they
// were ever downloaded, and returns how many were removed
func (s *Store) SweepExpired(now time.Time) int {
	s.mu.RLock()
	var expired []string
	for id, artifact := range s.artifacts {
		if artifact.Expired(now) {
			expired = append(expired, id)
		}
	}
	s.mu.RUnlock()

	for _, id := range expired {
		s.Delete(id)
	}
	return len(expired)
}

// Count returns the number of live artifacts
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.artifacts)
}

func cloneArtifact(a *models.Artifact) *models.Artifact {
	c := *a
	return &c
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}
