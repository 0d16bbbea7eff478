package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/genecraft/genecraft/internal/artifact"
	"github.com/genecraft/genecraft/internal/models"
	"github.com/genecraft/genecraft/internal/store"
)

type statusResponse struct {
	JobID  string           `json:"job_id"`
	Kind   models.Kind      `json:"kind"`
	Status models.JobStatus `json:"status"`
	Result *models.Result   `json:"result,omitempty"`
	Error  *models.JobError `json:"error,omitempty"`
}

// JobStatus reports the current state of a job. Polling is idempotent;
// a terminal job answers identically on every request.
func (h *Handler) JobStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	job, err := h.store.GetJob(id)
	if err != nil {
		if errors.Is(err, store.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "Unknown job id.")
			return
		}
		h.logger.Error("Status lookup failed", map[string]interface{}{
			"job_id": id, "error": err.Error(),
		})
		writeError(w, http.StatusInternalServerError, "Could not read the job state.")
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{
		JobID:  job.ID,
		Kind:   job.Kind,
		Status: job.Status,
		Result: job.Result,
		Error:  job.Error,
	})
}

// DownloadArtifact streams a completed analysis output. An unknown
// reference answers 404; a reference past its retention window answers
// 410 so clients can tell "never existed" from "existed, now reclaimed".
func (h *Handler) DownloadArtifact(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	art, body, err := h.artifacts.Open(id)
	if err != nil {
		switch {
		case errors.Is(err, artifact.ErrArtifactNotFound):
			writeError(w, http.StatusNotFound, "Download not found.")
		case errors.Is(err, artifact.ErrArtifactExpired):
			writeError(w, http.StatusGone, "Download expired. Please rerun the analysis.")
		default:
			h.logger.Error("Artifact open failed", map[string]interface{}{
				"artifact_id": id, "error": err.Error(),
			})
			writeError(w, http.StatusInternalServerError, "Could not open the download.")
		}
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", art.DeclaredMime)
	w.Header().Set("Content-Disposition", `attachment; filename="`+art.DownloadName+`"`)
	w.Header().Set("Content-Length", strconv.FormatInt(art.ByteSize, 10))
	if _, err := io.Copy(w, body); err != nil {
		h.logger.Warn("Download interrupted", map[string]interface{}{
			"artifact_id": id, "error": err.Error(),
		})
	}
}
