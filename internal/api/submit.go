package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/genecraft/genecraft/internal/models"
	"github.com/genecraft/genecraft/internal/params"
	"github.com/genecraft/genecraft/internal/stage"
)

// multipartOverhead leaves room for form boundaries and fields beyond
// the staged payload itself
const multipartOverhead = 1 << 20

// stageFormFile pulls one file out of the multipart form and stages it.
// Returns (nil, nil) when the field is absent and required is false; a
// part that is present but unreadable is an error either way.
func (h *Handler) stageFormFile(r *http.Request, field string, kind stage.FileKind, required bool) (*models.StagedUpload, error) {
	file, header, err := r.FormFile(field)
	if err != nil {
		if !errors.Is(err, http.ErrMissingFile) {
			return nil, &params.ValidationError{Field: field, Message: "Malformed file upload."}
		}
		if !required {
			return nil, nil
		}
		return nil, &params.ValidationError{Field: field, Message: "No file uploaded."}
	}
	defer file.Close()
	return h.stager.Stage(file, header.Filename, kind)
}

func (h *Handler) parseMultipart(w http.ResponseWriter, r *http.Request) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+multipartOverhead)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "Expected a multipart form upload.")
		return false
	}
	return true
}

// acceptJob persists a queued job and answers 202 with the polling URL.
// Every input handle is retained for the job's lifetime, so a handle
// shared by several jobs survives until the last one is terminal.
func (h *Handler) acceptJob(w http.ResponseWriter, kind models.Kind, p models.Params, inputs []string) {
	for i, handle := range inputs {
		if err := h.stager.Retain(handle); err != nil {
			for _, held := range inputs[:i] {
				h.stager.Release(held)
			}
			writeError(w, http.StatusBadRequest, "Upload expired or missing. Please upload again.")
			return
		}
	}

	job := &models.Job{
		ID:        uuid.New().String(),
		Kind:      kind,
		Status:    models.JobStatusQueued,
		Params:    p,
		Inputs:    inputs,
		CreatedAt: time.Now(),
	}
	if err := h.store.CreateJob(job); err != nil {
		h.logger.Error("Failed to create job", map[string]interface{}{
			"kind": string(kind), "error": err.Error(),
		})
		for _, handle := range inputs {
			h.stager.Release(handle)
		}
		writeError(w, http.StatusInternalServerError, "The analysis could not be queued.")
		return
	}
	if h.metrics != nil {
		h.metrics.RecordJobSubmitted(kind)
	}
	h.logger.Info("Job accepted", map[string]interface{}{
		"job_id": job.ID, "kind": string(kind),
	})
	writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id":     job.ID,
		"status_url": "/job/" + job.ID + "/status",
	})
}

// DEGColumns stages a count matrix and reports its column layout so the
// client can build a group assignment. No job is created here; the
// returned job_id names the staged upload and feeds DEGExport.
func (h *Handler) DEGColumns(w http.ResponseWriter, r *http.Request) {
	if !h.parseMultipart(w, r) {
		return
	}
	upload, err := h.stageFormFile(r, "file", stage.FileKindTabular, true)
	if err != nil {
		writeSubmissionError(w, err, stage.FileKindTabular)
		return
	}

	geneCol, sampleCols, err := inspectColumns(upload.Path)
	if err != nil {
		h.stager.Release(upload.Handle)
		writeError(w, http.StatusBadRequest,
			"Could not read the count matrix. Provide a table with a gene column followed by sample columns.")
		return
	}

	// The handle is surfaced as job_id to keep the two-phase flow's
	// wire contract, even though no execution job exists yet
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"job_id":      upload.Handle,
		"gene_col":    geneCol,
		"sample_cols": sampleCols,
	})
}

type degExportRequest struct {
	JobID    string            `json:"job_id"`
	UploadID string            `json:"upload_id"` // accepted alias for job_id
	GroupMap map[string]string `json:"group_map"`
	Method   string            `json:"method"`
	MinCount interface{}       `json:"min_count"`
}

func (r *degExportRequest) handle() string {
	if r.JobID != "" {
		return r.JobID
	}
	return r.UploadID
}

// DEGExport launches differential expression against a previously
// staged count matrix
func (h *Handler) DEGExport(w http.ResponseWriter, r *http.Request) {
	var req degExportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Expected a JSON request body.")
		return
	}
	handle := req.handle()

	if _, err := h.stager.Get(handle); err != nil {
		writeSubmissionError(w, err, stage.FileKindTabular)
		return
	}

	p, err := params.Validate(models.KindDEG, params.Input{
		Method:   req.Method,
		MinCount: req.MinCount,
		GroupMap: req.GroupMap,
	})
	if err != nil {
		writeSubmissionError(w, err, stage.FileKindTabular)
		return
	}

	h.acceptJob(w, models.KindDEG, p, []string{handle})
}

// PathwayRun stages a ranked gene list, plus a gene set file when the
// custom library is selected, and launches enrichment
func (h *Handler) PathwayRun(w http.ResponseWriter, r *http.Request) {
	if !h.parseMultipart(w, r) {
		return
	}
	upload, err := h.stageFormFile(r, "file", stage.FileKindTabular, true)
	if err != nil {
		writeSubmissionError(w, err, stage.FileKindTabular)
		return
	}
	release := []string{upload.Handle}
	fail := func(status int, message string) {
		for _, handle := range release {
			h.stager.Release(handle)
		}
		writeError(w, status, message)
	}

	ok, err := hasNumericScores(upload.Path)
	if err != nil || !ok {
		fail(http.StatusBadRequest,
			"The ranked list must have a gene column and a numeric score column.")
		return
	}

	gmt, err := h.stageFormFile(r, "gmt", stage.FileKindGeneSet, false)
	if err != nil {
		for _, handle := range release {
			h.stager.Release(handle)
		}
		writeSubmissionError(w, err, stage.FileKindGeneSet)
		return
	}
	inputs := []string{upload.Handle}
	if gmt != nil {
		release = append(release, gmt.Handle)
		inputs = append(inputs, gmt.Handle)
	}

	p, err := params.Validate(models.KindPathway, params.Input{
		Organism:   r.FormValue("organism"),
		Library:    r.FormValue("library"),
		HasGeneSet: gmt != nil,
	})
	if err != nil {
		for _, handle := range release {
			h.stager.Release(handle)
		}
		writeSubmissionError(w, err, stage.FileKindTabular)
		return
	}

	h.acceptJob(w, models.KindPathway, p, inputs)
}

// ID2SymbolRun stages an identifier list and launches symbol conversion
func (h *Handler) ID2SymbolRun(w http.ResponseWriter, r *http.Request) {
	if !h.parseMultipart(w, r) {
		return
	}
	upload, err := h.stageFormFile(r, "file", stage.FileKindTabular, true)
	if err != nil {
		writeSubmissionError(w, err, stage.FileKindTabular)
		return
	}

	p, err := params.Validate(models.KindID2Symbol, params.Input{
		Organism: r.FormValue("organism"),
	})
	if err != nil {
		h.stager.Release(upload.Handle)
		writeSubmissionError(w, err, stage.FileKindTabular)
		return
	}

	h.acceptJob(w, models.KindID2Symbol, p, []string{upload.Handle})
}

// SSGSEARun stages an expression matrix and a gene set file and
// launches single-sample enrichment scoring
func (h *Handler) SSGSEARun(w http.ResponseWriter, r *http.Request) {
	if !h.parseMultipart(w, r) {
		return
	}
	expr, err := h.stageFormFile(r, "file", stage.FileKindTabular, true)
	if err != nil {
		writeSubmissionError(w, err, stage.FileKindTabular)
		return
	}
	gmt, err := h.stageFormFile(r, "gmt", stage.FileKindGeneSet, true)
	if err != nil {
		h.stager.Release(expr.Handle)
		writeSubmissionError(w, err, stage.FileKindGeneSet)
		return
	}

	h.acceptJob(w, models.KindSSGSEA, models.Params{}, []string{expr.Handle, gmt.Handle})
}
