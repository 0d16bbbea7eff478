package cleanup

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/genecraft/genecraft/internal/artifact"
	"github.com/genecraft/genecraft/internal/logging"
	"github.com/genecraft/genecraft/internal/models"
	"github.com/genecraft/genecraft/internal/stage"
	"github.com/genecraft/genecraft/internal/store"
)

func newTestManager(t *testing.T, retention time.Duration) (*Manager, store.Store, *stage.Stager, *artifact.Store) {
	t.Helper()
	logger := logging.New(logging.ERROR, false)

	st := store.NewMemoryStore()
	stager, err := stage.New(t.TempDir(), 1<<20, time.Hour, logger)
	if err != nil {
		t.Fatalf("stager: %v", err)
	}
	artifacts, err := artifact.NewStore(t.TempDir(), time.Hour, logger)
	if err != nil {
		t.Fatalf("artifacts: %v", err)
	}

	m := NewManager(Config{
		Enabled:       true,
		JobRetention:  retention,
		SweepInterval: time.Hour,
	}, st, stager, artifacts, logger)
	return m, st, stager, artifacts
}

func TestSweepDeletesOldTerminalJobs(t *testing.T) {
	m, st, _, artifacts := newTestManager(t, 50*time.Millisecond)

	// An old finished job with a published artifact
	src := filepath.Join(t.TempDir(), "out.csv")
	os.WriteFile(src, []byte("data"), 0o640)
	published, err := artifacts.Publish("old", src, "text/csv", "out.csv")
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	st.CreateJob(&models.Job{ID: "old", Kind: models.KindDEG, Status: models.JobStatusQueued, CreatedAt: time.Now()})
	st.TransitionJob("old", models.JobStatusQueued, models.JobStatusRunning, nil)
	st.TransitionJob("old", models.JobStatusRunning, models.JobStatusFinished, &store.Final{
		Result: &models.Result{ArtifactID: published.ID, DownloadURL: "/artifacts/" + published.ID},
	})

	// A live queued job must survive any sweep
	st.CreateJob(&models.Job{ID: "live", Kind: models.KindDEG, Status: models.JobStatusQueued, CreatedAt: time.Now()})

	time.Sleep(100 * time.Millisecond)
	m.SweepNow()

	if _, err := st.GetJob("old"); !errors.Is(err, store.ErrJobNotFound) {
		t.Errorf("old terminal job survived the sweep: %v", err)
	}
	if _, err := artifacts.Get(published.ID); !errors.Is(err, artifact.ErrArtifactNotFound) {
		t.Errorf("artifact of a deleted job survived: %v", err)
	}
	if _, err := st.GetJob("live"); err != nil {
		t.Errorf("live job deleted by the sweep: %v", err)
	}

	stats := m.GetStats()
	if stats.JobsDeleted != 1 {
		t.Errorf("stats.JobsDeleted = %d, want 1", stats.JobsDeleted)
	}
}

func TestSweepReclaimsExpiredUploadsAndArtifacts(t *testing.T) {
	logger := logging.New(logging.ERROR, false)
	st := store.NewMemoryStore()
	stager, err := stage.New(t.TempDir(), 1<<20, -time.Second, logger)
	if err != nil {
		t.Fatalf("stager: %v", err)
	}
	artifacts, err := artifact.NewStore(t.TempDir(), -time.Second, logger)
	if err != nil {
		t.Fatalf("artifacts: %v", err)
	}
	m := NewManager(DefaultConfig(), st, stager, artifacts, logger)

	if _, err := stager.Stage(strings.NewReader("data"), "a.tsv", stage.FileKindTabular); err != nil {
		t.Fatalf("stage: %v", err)
	}
	src := filepath.Join(t.TempDir(), "out.csv")
	os.WriteFile(src, []byte("data"), 0o640)
	if _, err := artifacts.Publish("j1", src, "text/csv", "out.csv"); err != nil {
		t.Fatalf("publish: %v", err)
	}

	m.SweepNow()

	if stager.Count() != 0 {
		t.Errorf("staged uploads after sweep = %d, want 0", stager.Count())
	}
	if artifacts.Count() != 0 {
		t.Errorf("artifacts after sweep = %d, want 0", artifacts.Count())
	}

	stats := m.GetStats()
	if stats.UploadsReleased != 1 || stats.ArtifactsDeleted != 1 {
		t.Errorf("stats = %+v, want one upload and one artifact reclaimed", stats)
	}
}

func TestDisabledManagerDoesNotStart(t *testing.T) {
	m, _, _, _ := newTestManager(t, time.Hour)
	m.config.Enabled = false
	m.Start()
	m.Stop()
}
