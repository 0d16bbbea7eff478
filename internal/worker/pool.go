package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/genecraft/genecraft/internal/artifact"
	"github.com/genecraft/genecraft/internal/engine"
	"github.com/genecraft/genecraft/internal/logging"
	"github.com/genecraft/genecraft/internal/models"
	"github.com/genecraft/genecraft/internal/stage"
	"github.com/genecraft/genecraft/internal/store"
)

// MetricsRecorder receives job completion events
type MetricsRecorder interface {
	RecordJobCompleted(kind models.Kind, status models.JobStatus, duration time.Duration)
}

// Config holds worker pool settings
type Config struct {
	Workers      int           // number of execution slots
	JobTimeout   time.Duration // wall-clock ceiling per engine run
	PollInterval time.Duration // claim retry interval when the queue is empty
	ScriptDir    string        // directory holding the analysis scripts
	WorkRoot     string        // private scratch root for per-job work dirs
}

// Pool is a bounded set of execution slots. Each slot loops: claim one
// queued job, invoke the engine, interpret the outcome, finalize via
// compare-and-set. One slot owns exactly one child-process lifecycle at
// a time.
type Pool struct {
	cfg       Config
	store     store.Store
	stager    *stage.Stager
	artifacts *artifact.Store
	runner    *engine.Runner
	logger    *logging.Logger
	metrics   MetricsRecorder

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a worker pool. metrics may be nil.
func New(cfg Config, st store.Store, stager *stage.Stager, artifacts *artifact.Store, runner *engine.Runner, logger *logging.Logger, metrics MetricsRecorder) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 30 * time.Minute
	}
	return &Pool{
		cfg:       cfg,
		store:     st,
		stager:    stager,
		artifacts: artifacts,
		runner:    runner,
		logger:    logger.WithField("component", "worker"),
		metrics:   metrics,
	}
}

// Start reconciles orphaned jobs and launches the slot loops
func (p *Pool) Start(ctx context.Context) error {
	if err := os.MkdirAll(p.cfg.WorkRoot, 0o750); err != nil {
		return fmt.Errorf("create work root: %w", err)
	}

	p.Reconcile()

	ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.slotLoop(ctx, i)
	}
	p.logger.Info("Worker pool started", map[string]interface{}{
		"slots": p.cfg.Workers, "timeout": p.cfg.JobTimeout.String(),
	})
	return nil
}

// Stop cancels the slot loops and waits for in-flight jobs to finalize
// or the context to expire
func (p *Pool) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.logger.Info("Worker pool stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("worker pool drain: %w", ctx.Err())
	}
}

// Reconcile fails jobs left running with no live worker. Runs once on
// startup, before any slot claims work, so a crash during a previous
// run cannot strand a job in running forever.
func (p *Pool) Reconcile() {
	orphans, err := p.store.JobsInStatus(models.JobStatusRunning)
	if err != nil {
		p.logger.Error("Reconciliation scan failed", map[string]interface{}{"error": err.Error()})
		return
	}
	for _, job := range orphans {
		final := &store.Final{Err: &models.JobError{
			Kind:    models.ErrorKindRestart,
			Message: "The analysis was interrupted by a service restart. Please resubmit.",
		}}
		if _, err := p.store.TransitionJob(job.ID, models.JobStatusRunning, models.JobStatusFailed, final); err != nil {
			p.logger.Error("Failed to reconcile orphaned job", map[string]interface{}{
				"job_id": job.ID, "error": err.Error(),
			})
			continue
		}
		p.releaseInputs(job)
		p.logger.Warn("Failed orphaned running job", map[string]interface{}{"job_id": job.ID})
	}
}

func (p *Pool) slotLoop(ctx context.Context, slot int) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		// Stop claiming the moment shutdown begins; jobs still queued
		// must stay queued for the next start
		if ctx.Err() != nil {
			return
		}
		job, err := p.store.ClaimNextQueued()
		if err != nil {
			if !errors.Is(err, store.ErrNoQueuedJobs) {
				p.logger.Error("Claim failed", map[string]interface{}{"slot": slot, "error": err.Error()})
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			continue
		}
		p.runJob(ctx, job)
	}
}

// runJob executes one claimed job to a terminal state
func (p *Pool) runJob(ctx context.Context, job *models.Job) {
	logger := p.logger.WithField("job_id", job.ID).WithField("kind", string(job.Kind))
	start := time.Now()

	final := p.execute(ctx, job, logger)

	to := models.JobStatusFinished
	if final.Err != nil {
		to = models.JobStatusFailed
	}
	transitioned, err := p.store.TransitionJob(job.ID, models.JobStatusRunning, to, final)
	if err != nil {
		// A conflicting finalize (e.g. reconciliation) won; our outcome
		// is discarded, never merged
		logger.Warn("Finalize lost compare-and-set", map[string]interface{}{
			"to": string(to), "error": err.Error(),
		})
	} else if transitioned {
		logger.Info("Job finalized", map[string]interface{}{
			"status": string(to), "duration": time.Since(start).String(),
		})
	}

	p.releaseInputs(job)
	// Only a won compare-and-set reflects the persisted outcome
	if p.metrics != nil && transitioned {
		p.metrics.RecordJobCompleted(job.Kind, to, time.Since(start))
	}
}

// execute runs the engine and interprets the outcome. It always returns
// a terminal payload: a result on success, an error otherwise.
func (p *Pool) execute(ctx context.Context, job *models.Job, logger *logging.Logger) *store.Final {
	workDir := filepath.Join(p.cfg.WorkRoot, "job-"+job.ID)
	if err := os.MkdirAll(workDir, 0o750); err != nil {
		return failInternal("Could not allocate scratch space for the analysis.", logger, err)
	}
	defer os.RemoveAll(workDir)

	inputs := make([]string, 0, len(job.Inputs))
	for _, handle := range job.Inputs {
		path, err := p.stager.Path(handle)
		if err != nil {
			return failInternal("Upload expired or missing. Please upload again.", logger, err)
		}
		inputs = append(inputs, path)
	}

	inv, err := engine.BuildInvocation(job.Kind, p.cfg.ScriptDir, workDir, inputs, job.Params)
	if err != nil {
		return failInternal("The analysis could not be prepared.", logger, err)
	}

	res, err := p.runner.Run(ctx, inv, p.cfg.JobTimeout)
	if err != nil {
		return failInternal("The analysis engine could not be started.", logger, err)
	}

	if ctx.Err() != nil && res.ExitCode != 0 && !res.TimedOut {
		// The engine was killed by shutdown, not by its own fault
		logger.Warn("Engine interrupted by shutdown")
		return &store.Final{Err: &models.JobError{
			Kind:    models.ErrorKindRestart,
			Message: "The analysis was interrupted by a service shutdown. Please resubmit.",
		}}
	}
	if res.TimedOut {
		logger.Warn("Engine timed out", map[string]interface{}{"timeout": p.cfg.JobTimeout.String()})
		return &store.Final{Err: &models.JobError{
			Kind:    models.ErrorKindTimeout,
			Message: fmt.Sprintf("The analysis exceeded the %s time limit and was stopped.", p.cfg.JobTimeout),
		}}
	}
	if res.ExitCode != 0 {
		// Raw diagnostics stay server-side; the client sees the
		// normalized message only
		logger.Error("Engine failed", map[string]interface{}{
			"exit_code": res.ExitCode, "stderr": res.Stderr, "stdout": res.Stdout,
		})
		return &store.Final{Err: &models.JobError{
			Kind:    models.ErrorKindExecution,
			Message: engine.NormalizeFailure(res.Stderr, res.Stdout),
		}}
	}

	info, err := os.Stat(inv.OutputPath)
	if err != nil || info.Size() == 0 {
		logger.Error("Engine exited zero without producing output", map[string]interface{}{
			"output": inv.OutputPath, "stderr": res.Stderr,
		})
		return &store.Final{Err: &models.JobError{
			Kind:    models.ErrorKindExecution,
			Message: "The analysis finished without producing an output file.",
		}}
	}

	published, err := p.artifacts.Publish(job.ID, inv.OutputPath, inv.MimeType, inv.DownloadName)
	if err != nil {
		return failInternal("The analysis output could not be stored.", logger, err)
	}

	result := &models.Result{
		ArtifactID:  published.ID,
		DownloadURL: "/artifacts/" + published.ID,
	}
	if summary := engine.ParseSummary(inv.SummaryPath); len(summary) > 0 {
		result.Summary = summary
	}
	return &store.Final{Result: result}
}

// releaseInputs frees staged uploads tied to a terminal job
func (p *Pool) releaseInputs(job *models.Job) {
	for _, handle := range job.Inputs {
		p.stager.Release(handle)
	}
}

func failInternal(message string, logger *logging.Logger, err error) *store.Final {
	logger.Error(message, map[string]interface{}{"error": err.Error()})
	return &store.Final{Err: &models.JobError{
		Kind:    models.ErrorKindInternal,
		Message: message,
	}}
}
