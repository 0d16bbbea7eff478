package stage

import (
	"crypto/sha256"
	"encoding/hex"
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

// FileKind declares what role an uploaded file plays, which decides the
// extension allow-list applied to it.
type FileKind string

const (
	// FileKindTabular covers count matrices, ranked lists and
	// expression tables
	FileKindTabular FileKind = "tabular"
	// FileKindGeneSet covers gene set definition files
	FileKindGeneSet FileKind = "geneset"
)

var allowedExts = map[FileKind]map[string]bool{
	FileKindTabular: {".tsv": true, ".txt": true, ".csv": true},
	FileKindGeneSet: {".gmt": true},
}

var (
	// ErrUploadNotFound is returned for unknown or released handles
	ErrUploadNotFound = errors.New("upload expired or missing")
	// ErrDisallowedExtension is returned before any byte is persisted
	ErrDisallowedExtension = errors.New("disallowed file extension")
	// ErrTooLarge is returned when an upload exceeds the size ceiling
	ErrTooLarge = errors.New("file exceeds the size ceiling")
	// ErrEmptyFile is returned for zero-byte uploads
	ErrEmptyFile = errors.New("uploaded file is empty")
)

// Stager validates and persists inbound files to a private root,
// keyed by opaque handles. Nothing else writes under the root; the
// worker pool reads staged files and only the stager deletes them.
// A handle can back more than one job: each job Retains it at creation
// and Releases it on terminal, and the file lives until the last
// holder lets go.
type Stager struct {
	root     string
	maxBytes int64
	ttl      time.Duration
	logger   *logging.Logger

	mu      sync.RWMutex
	uploads map[string]*stagedEntry
}

type stagedEntry struct {
	upload *models.StagedUpload
	refs   int
}

// New creates a stager rooted at dir, creating it if needed
func New(dir string, maxBytes int64, ttl time.Duration, logger *logging.Logger) (*Stager, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create staging root: %w", err)
	}
	return &Stager{
		root:     dir,
		maxBytes: maxBytes,
		ttl:      ttl,
		logger:   logger.WithField("component", "stager"),
		uploads:  make(map[string]*stagedEntry),
	}, nil
}

// NormalizeExt returns the lower-cased extension of a client filename
func NormalizeExt(filename string) string {
	base := filepath.Base(strings.TrimSpace(filename))
	return strings.ToLower(filepath.Ext(base))
}

// Allowed reports whether filename carries an allowed extension for kind
func Allowed(filename string, kind FileKind) bool {
	ext := NormalizeExt(filename)
	return ext != "" && allowedExts[kind][ext]
}

// AllowedExtensions returns the allow-list for kind, for error messages
func AllowedExtensions(kind FileKind) []string {
	var out []string
	for ext := range allowedExts[kind] {
		out = append(out, ext)
	}
	return out
}

// Stage validates and persists the stream, returning the staged record.
// The extension check runs on the client filename alone, before any
// byte is written. The persisted name derives from a fresh identifier,
// never the client filename.
func (s *Stager) Stage(r io.Reader, filename string, kind FileKind) (*models.StagedUpload, error) {
	ext := NormalizeExt(filename)
	if ext == "" || !allowedExts[kind][ext] {
		return nil, fmt.Errorf("%w: %q", ErrDisallowedExtension, ext)
	}

	handle := uuid.New().String()
	path := filepath.Join(s.root, strings.ReplaceAll(handle, "-", "")+ext)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("create staged file: %w", err)
	}

	hash := sha256.New()
	// Read one byte past the ceiling so overflow is detectable
	n, err := io.Copy(io.MultiWriter(f, hash), io.LimitReader(r, s.maxBytes+1))
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("persist staged file: %w", err)
	}
	if n == 0 {
		os.Remove(path)
		return nil, ErrEmptyFile
	}
	if n > s.maxBytes {
		os.Remove(path)
		return nil, fmt.Errorf("%w (%d byte limit)", ErrTooLarge, s.maxBytes)
	}

	now := time.Now()
	upload := &models.StagedUpload{
		Handle:       handle,
		OriginalName: filepath.Base(filename),
		Ext:          ext,
		Path:         path,
		ByteSize:     n,
		Fingerprint:  hex.EncodeToString(hash.Sum(nil)),
		StagedAt:     now,
		ExpiresAt:    now.Add(s.ttl),
	}

	s.mu.Lock()
	s.uploads[handle] = &stagedEntry{upload: upload}
	s.mu.Unlock()

	s.logger.Info("Staged upload", map[string]interface{}{
		"handle":      handle,
		"name":        upload.OriginalName,
		"bytes":       n,
		"fingerprint": upload.Fingerprint,
	})
	return cloneUpload(upload), nil
}

// Get returns the staged record for a handle, or ErrUploadNotFound
func (s *Stager) Get(handle string) (*models.StagedUpload, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.uploads[handle]
	if !ok {
		return nil, ErrUploadNotFound
	}
	return cloneUpload(entry.upload), nil
}

// Retain records another holder of the upload. Every Retain is
// balanced by one Release; the file is removed when the last holder
// releases it.
func (s *Stager) Retain(handle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.uploads[handle]
	if !ok {
		return ErrUploadNotFound
	}
	entry.refs++
	return nil
}

// Path returns the on-disk path for a handle, or ErrUploadNotFound
func (s *Stager) Path(handle string) (string, error) {
	upload, err := s.Get(handle)
	if err != nil {
		return "", err
	}
	return upload.Path, nil
}

// Release drops one holder of the upload and deletes the staged file
// once no holder remains. Safe to call multiple times and for unknown
// handles.
func (s *Stager) Release(handle string) {
	s.mu.Lock()
	entry, ok := s.uploads[handle]
	if ok {
		entry.refs--
		if entry.refs > 0 {
			s.mu.Unlock()
			return
		}
		delete(s.uploads, handle)
	}
	s.mu.Unlock()

	if !ok {
		return
	}
	if err := os.Remove(entry.upload.Path); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("Failed to remove staged file", map[string]interface{}{
			"handle": handle, "error": err.Error(),
		})
	}
}

// SweepExpired releases unheld uploads past their retention window and
// returns how many were removed. Uploads still held by a pending job
// are left for that job's terminal release.
func (s *Stager) SweepExpired(now time.Time) int {
	s.mu.RLock()
	var expired []string
	for handle, entry := range s.uploads {
		if entry.refs <= 0 && now.After(entry.upload.ExpiresAt) {
			expired = append(expired, handle)
		}
	}
	s.mu.RUnlock()

	for _, handle := range expired {
		s.Release(handle)
	}
	return len(expired)
}

// Count returns the number of live staged uploads
func (s *Stager) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.uploads)
}

func cloneUpload(u *models.StagedUpload) *models.StagedUpload {
	c := *u
	return &c
}
