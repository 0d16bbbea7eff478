package models

import (
	"time"
)

// StagedUpload is a client-supplied file persisted under an opaque
// handle in a private location, decoupled from the client filename.
type StagedUpload struct {
	Handle       string    `json:"handle"`
	OriginalName string    `json:"original_name"`
	Ext          string    `json:"declared_extension"`
	Path         string    `json:"-"` // never serialized to clients
	ByteSize     int64     `json:"byte_size"`
	Fingerprint  string    `json:"content_fingerprint"` // sha256, logging only
	StagedAt     time.Time `json:"staged_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Artifact is the durable output of a finished job, exposed only via a
// time-bounded reference.
type Artifact struct {
	ID           string    `json:"id"`
	JobID        string    `json:"job_id"`
	Path         string    `json:"-"`
	DeclaredMime string    `json:"declared_mime"`
	DownloadName string    `json:"download_name"`
	ByteSize     int64     `json:"byte_size"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Expired reports whether the artifact is past its retention window
func (a *Artifact) Expired(now time.Time) bool {
	return now.After(a.ExpiresAt)
}
