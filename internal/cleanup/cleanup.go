package cleanup

import (
	"context"
	"sync"
	"time"

	"github.com/genecraft/genecraft/internal/artifact"
	"github.com/genecraft/genecraft/internal/logging"
	"github.com/genecraft/genecraft/internal/stage"
	"github.com/genecraft/genecraft/internal/store"
)

// Config defines retention policies and the sweep interval
type Config struct {
	Enabled       bool
	JobRetention  time.Duration // terminal job records older than this are deleted
	SweepInterval time.Duration
}

// DefaultConfig returns sensible retention defaults
func DefaultConfig() Config {
	return Config{
		Enabled:       true,
		JobRetention:  24 * time.Hour,
		SweepInterval: 30 * time.Minute,
	}
}

// Stats tracks cleanup operations
type Stats struct {
	LastSweepTime    time.Time
	JobsDeleted      int64
	UploadsReleased  int64
	ArtifactsDeleted int64
}

// Manager periodically reclaims expired staged uploads, expired
// artifacts, and old terminal job records
type Manager struct {
	config    Config
	store     store.Store
	stager    *stage.Stager
	artifacts *artifact.Store
	logger    *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.RWMutex
	stats Stats
}

// NewManager creates a cleanup manager
func NewManager(config Config, st store.Store, stager *stage.Stager, artifacts *artifact.Store, logger *logging.Logger) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		config:    config,
		store:     st,
		stager:    stager,
		artifacts: artifacts,
		logger:    logger.WithField("component", "cleanup"),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start begins the periodic sweep loop
func (m *Manager) Start() {
	if !m.config.Enabled {
		m.logger.Info("Cleanup manager disabled")
		return
	}
	m.logger.Info("Cleanup manager started", map[string]interface{}{
		"job_retention": m.config.JobRetention.String(),
		"interval":      m.config.SweepInterval.String(),
	})
	m.wg.Add(1)
	go m.sweepLoop()
}

// Stop gracefully stops the sweep loop
func (m *Manager) Stop() {
	m.cancel()
	m.wg.Wait()
}

func (m *Manager) sweepLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.SweepNow()
		}
	}
}

// SweepNow runs one full reclamation pass
func (m *Manager) SweepNow() {
	now := time.Now()

	uploads := m.stager.SweepExpired(now)
	artifacts := m.artifacts.SweepExpired(now)

	jobsDeleted := 0
	cutoff := now.Add(-m.config.JobRetention)
	old, err := m.store.TerminalJobsBefore(cutoff)
	if err != nil {
		m.logger.Error("Retention scan failed", map[string]interface{}{"error": err.Error()})
	} else {
		for _, job := range old {
			if job.Result != nil {
				m.artifacts.Delete(job.Result.ArtifactID)
			}
			if err := m.store.DeleteJob(job.ID); err != nil {
				m.logger.Error("Failed to delete job", map[string]interface{}{
					"job_id": job.ID, "error": err.Error(),
				})
				continue
			}
			jobsDeleted++
		}
	}

	m.mu.Lock()
	m.stats.LastSweepTime = now
	m.stats.JobsDeleted += int64(jobsDeleted)
	m.stats.UploadsReleased += int64(uploads)
	m.stats.ArtifactsDeleted += int64(artifacts)
	m.mu.Unlock()

	if uploads > 0 || artifacts > 0 || jobsDeleted > 0 {
		m.logger.Info("Sweep complete", map[string]interface{}{
			"uploads": uploads, "artifacts": artifacts, "jobs": jobsDeleted,
		})
	}
}

// GetStats returns current cleanup statistics
func (m *Manager) GetStats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}
