package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/genecraft/genecraft/internal/models"
)

func newSQLiteTestStore(t *testing.T) Store {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	s := newSQLiteTestStore(t)

	job := &models.Job{
		ID:     "j1",
		Kind:   models.KindPathway,
		Status: models.JobStatusQueued,
		Params: models.Params{Organism: "human", Library: "kegg"},
		Inputs: []string{"u1", "u2"},

		CreatedAt: time.Now().UTC(),
	}
	if err := s.CreateJob(job); err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}

	got, err := s.GetJob("j1")
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if got.Kind != models.KindPathway {
		t.Errorf("kind = %s, want pathway", got.Kind)
	}
	if got.Params.Organism != "human" || got.Params.Library != "kegg" {
		t.Errorf("params = %+v, round trip lost fields", got.Params)
	}
	if len(got.Inputs) != 2 || got.Inputs[0] != "u1" {
		t.Errorf("inputs = %v, want [u1 u2]", got.Inputs)
	}

	if _, err := s.GetJob("missing"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("GetJob(missing) error = %v, want ErrJobNotFound", err)
	}
}

func TestSQLiteStoreTransitionLifecycle(t *testing.T) {
	s := newSQLiteTestStore(t)
	s.CreateJob(&models.Job{ID: "j1", Kind: models.KindDEG, Status: models.JobStatusQueued, CreatedAt: time.Now().UTC()})

	ok, err := s.TransitionJob("j1", models.JobStatusQueued, models.JobStatusRunning, nil)
	if err != nil || !ok {
		t.Fatalf("queued->running = (%v, %v), want (true, nil)", ok, err)
	}

	final := &Final{Err: &models.JobError{Kind: models.ErrorKindTimeout, Message: "too slow"}}
	ok, err = s.TransitionJob("j1", models.JobStatusRunning, models.JobStatusFailed, final)
	if err != nil || !ok {
		t.Fatalf("running->failed = (%v, %v), want (true, nil)", ok, err)
	}

	job, _ := s.GetJob("j1")
	if job.Status != models.JobStatusFailed {
		t.Errorf("status = %s, want failed", job.Status)
	}
	if job.Error == nil || job.Error.Kind != models.ErrorKindTimeout {
		t.Errorf("error = %+v, want timeout kind", job.Error)
	}
	if job.EndedAt == nil {
		t.Error("EndedAt not persisted")
	}

	// Repeat finalize is a no-op; conflicting finalize errors
	if ok, err := s.TransitionJob("j1", models.JobStatusRunning, models.JobStatusFailed, final); ok || err != nil {
		t.Errorf("repeat finalize = (%v, %v), want (false, nil)", ok, err)
	}
	if ok, err := s.TransitionJob("j1", models.JobStatusRunning, models.JobStatusFinished, nil); ok || !errors.Is(err, ErrConflict) {
		t.Errorf("conflicting finalize = (%v, %v), want (false, ErrConflict)", ok, err)
	}
}

func TestSQLiteStoreClaimOrder(t *testing.T) {
	s := newSQLiteTestStore(t)
	base := time.Now().UTC()
	s.CreateJob(&models.Job{ID: "second", Kind: models.KindDEG, Status: models.JobStatusQueued, CreatedAt: base.Add(time.Second)})
	s.CreateJob(&models.Job{ID: "first", Kind: models.KindDEG, Status: models.JobStatusQueued, CreatedAt: base})

	job, err := s.ClaimNextQueued()
	if err != nil {
		t.Fatalf("ClaimNextQueued failed: %v", err)
	}
	if job.ID != "first" {
		t.Errorf("claimed %s, want first", job.ID)
	}
	if job.Status != models.JobStatusRunning || job.StartedAt == nil {
		t.Errorf("claimed job = %+v, want running with StartedAt", job)
	}

	s.ClaimNextQueued()
	if _, err := s.ClaimNextQueued(); !errors.Is(err, ErrNoQueuedJobs) {
		t.Errorf("empty claim error = %v, want ErrNoQueuedJobs", err)
	}
}

func TestSQLiteStoreRetentionAndDelete(t *testing.T) {
	s := newSQLiteTestStore(t)
	s.CreateJob(&models.Job{ID: "j1", Kind: models.KindSSGSEA, Status: models.JobStatusQueued, CreatedAt: time.Now().UTC()})
	s.TransitionJob("j1", models.JobStatusQueued, models.JobStatusRunning, nil)
	s.TransitionJob("j1", models.JobStatusRunning, models.JobStatusFinished, &Final{
		Result: &models.Result{ArtifactID: "a1", DownloadURL: "/artifacts/a1", Summary: map[string]string{"low_overlap_sets": "3"}},
	})

	old, err := s.TerminalJobsBefore(time.Now().UTC().Add(time.Minute))
	if err != nil {
		t.Fatalf("TerminalJobsBefore failed: %v", err)
	}
	if len(old) != 1 {
		t.Fatalf("terminal jobs = %d, want 1", len(old))
	}
	if old[0].Result == nil || old[0].Result.Summary["low_overlap_sets"] != "3" {
		t.Errorf("result summary lost in round trip: %+v", old[0].Result)
	}

	if err := s.DeleteJob("j1"); err != nil {
		t.Fatalf("DeleteJob failed: %v", err)
	}
	if _, err := s.GetJob("j1"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("GetJob after delete error = %v, want ErrJobNotFound", err)
	}
	if err := s.DeleteJob("j1"); err != nil {
		t.Errorf("deleting an unknown id should be a no-op, got %v", err)
	}
}

func TestStoreFactory(t *testing.T) {
	mem, err := New(Config{Type: "memory"})
	if err != nil {
		t.Fatalf("New(memory) failed: %v", err)
	}
	mem.Close()

	lite, err := New(Config{Type: "sqlite", Path: filepath.Join(t.TempDir(), "f.db")})
	if err != nil {
		t.Fatalf("New(sqlite) failed: %v", err)
	}
	lite.Close()

	if _, err := New(Config{Type: "postgres"}); err == nil {
		t.Error("New(postgres) should fail")
	}
}
