package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/genecraft/genecraft/internal/artifact"
	"github.com/genecraft/genecraft/internal/logging"
	"github.com/genecraft/genecraft/internal/models"
	"github.com/genecraft/genecraft/internal/stage"
	"github.com/genecraft/genecraft/internal/store"
)

// SubmitRecorder receives accepted-submission events
type SubmitRecorder interface {
	RecordJobSubmitted(kind models.Kind)
}

// Handler serves the submission, status and download surface
type Handler struct {
	store     store.Store
	stager    *stage.Stager
	artifacts *artifact.Store
	logger    *logging.Logger
	metrics   SubmitRecorder
	maxUpload int64
	startTime time.Time
}

// NewHandler creates the API handler. metrics may be nil.
func NewHandler(st store.Store, stager *stage.Stager, artifacts *artifact.Store, maxUpload int64, logger *logging.Logger, metrics SubmitRecorder) *Handler {
	return &Handler{
		store:     st,
		stager:    stager,
		artifacts: artifacts,
		logger:    logger.WithField("component", "api"),
		metrics:   metrics,
		maxUpload: maxUpload,
		startTime: time.Now(),
	}
}

// RegisterRoutes registers all API routes
func (h *Handler) RegisterRoutes(r *mux.Router) {
	// Submission, mirrored across analysis kinds. deg is two-phase:
	// /columns stages and inspects, /export launches the job.
	r.HandleFunc("/api/deg/columns", h.DEGColumns).Methods("POST")
	r.HandleFunc("/api/deg/export", h.DEGExport).Methods("POST")
	r.HandleFunc("/api/pathway/run", h.PathwayRun).Methods("POST")
	r.HandleFunc("/api/id2symbol/run", h.ID2SymbolRun).Methods("POST")
	r.HandleFunc("/api/ssgsea/run", h.SSGSEARun).Methods("POST")

	// Polling and retrieval
	r.HandleFunc("/job/{id}/status", h.JobStatus).Methods("GET")
	r.HandleFunc("/artifacts/{id}", h.DownloadArtifact).Methods("GET")

	r.HandleFunc("/health", h.Health).Methods("GET")
}

// Health reports service liveness plus a host snapshot
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	payload := map[string]interface{}{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(h.startTime).Seconds()),
	}
	if avg, err := load.Avg(); err == nil {
		payload["load1"] = avg.Load1
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		payload["mem_used_percent"] = vm.UsedPercent
	}
	writeJSON(w, http.StatusOK, payload)
}
