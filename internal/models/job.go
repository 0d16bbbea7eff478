package models

import (
	"time"
)

// JobStatus represents the status of a job
type JobStatus string

const (
	JobStatusQueued   JobStatus = "queued"
	JobStatusRunning  JobStatus = "running"
	JobStatusFinished JobStatus = "finished"
	JobStatusFailed   JobStatus = "failed"
)

// Kind identifies one of the supported analysis kinds
type Kind string

const (
	KindDEG       Kind = "deg"
	KindPathway   Kind = "pathway"
	KindID2Symbol Kind = "id2symbol"
	KindSSGSEA    Kind = "ssgsea"
)

// Kinds lists every supported analysis kind
var Kinds = []Kind{KindDEG, KindPathway, KindID2Symbol, KindSSGSEA}

// IsValidKind reports whether k names a supported analysis kind
func IsValidKind(k Kind) bool {
	for _, kind := range Kinds {
		if kind == k {
			return true
		}
	}
	return false
}

// ErrorKind classifies why a job failed
type ErrorKind string

const (
	ErrorKindExecution ErrorKind = "execution" // engine exited nonzero or produced no output
	ErrorKindTimeout   ErrorKind = "timeout"   // engine exceeded the wall-clock ceiling
	ErrorKindRestart   ErrorKind = "restart"   // job was orphaned running across a restart
	ErrorKindInternal  ErrorKind = "internal"  // staging or filesystem failure inside the worker
)

// Params is the validated, immutable parameter set a job was submitted with.
// Fields not used by a kind stay at their zero value.
type Params struct {
	Organism string            `json:"organism,omitempty"`
	Method   string            `json:"method,omitempty"`
	Library  string            `json:"library,omitempty"`
	MinCount int               `json:"min_count,omitempty"`
	GroupMap map[string]string `json:"group_map,omitempty"`
}

// Result holds the outcome of a finished job
type Result struct {
	ArtifactID  string            `json:"artifact_id"`
	DownloadURL string            `json:"download_url"`
	Summary     map[string]string `json:"summary,omitempty"`
}

// JobError holds the outcome of a failed job. Message is user-facing;
// raw engine diagnostics stay in server logs.
type JobError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// Job represents one request to run the analysis engine once
type Job struct {
	ID        string     `json:"id"`
	Kind      Kind       `json:"kind"`
	Status    JobStatus  `json:"status"`
	Params    Params     `json:"params"`
	Inputs    []string   `json:"inputs,omitempty"` // staged upload handles, in argument order
	Result    *Result    `json:"result,omitempty"`
	Error     *JobError  `json:"error,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// Clone returns a deep copy so readers never alias store internals
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	if j.Inputs != nil {
		c.Inputs = append([]string(nil), j.Inputs...)
	}
	if j.Params.GroupMap != nil {
		c.Params.GroupMap = make(map[string]string, len(j.Params.GroupMap))
		for k, v := range j.Params.GroupMap {
			c.Params.GroupMap[k] = v
		}
	}
	if j.Result != nil {
		r := *j.Result
		if j.Result.Summary != nil {
			r.Summary = make(map[string]string, len(j.Result.Summary))
			for k, v := range j.Result.Summary {
				r.Summary[k] = v
			}
		}
		c.Result = &r
	}
	if j.Error != nil {
		e := *j.Error
		c.Error = &e
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.EndedAt != nil {
		t := *j.EndedAt
		c.EndedAt = &t
	}
	return &c
}
