package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"github.com/genecraft/genecraft/internal/artifact"
	"github.com/genecraft/genecraft/internal/engine"
	"github.com/genecraft/genecraft/internal/logging"
	"github.com/genecraft/genecraft/internal/models"
	"github.com/genecraft/genecraft/internal/params"
	"github.com/genecraft/genecraft/internal/stage"
	"github.com/genecraft/genecraft/internal/store"
	"github.com/genecraft/genecraft/internal/worker"
)

// testServer wires the full request path: API handler, store, stager,
// artifact store, and a worker pool running shell stubs as the engine
type testServer struct {
	server    *httptest.Server
	store     store.Store
	stager    *stage.Stager
	artifacts *artifact.Store
	scriptDir string
}

func newTestServer(t *testing.T, artifactTTL time.Duration) *testServer {
	t.Helper()
	logger := logging.New(logging.ERROR, false)

	stager, err := stage.New(t.TempDir(), 1<<20, time.Hour, logger)
	if err != nil {
		t.Fatalf("stager: %v", err)
	}
	artifacts, err := artifact.NewStore(t.TempDir(), artifactTTL, logger)
	if err != nil {
		t.Fatalf("artifacts: %v", err)
	}

	ts := &testServer{
		store:     store.NewMemoryStore(),
		stager:    stager,
		artifacts: artifacts,
		scriptDir: t.TempDir(),
	}

	pool := worker.New(worker.Config{
		Workers:      1,
		JobTimeout:   time.Minute,
		PollInterval: 10 * time.Millisecond,
		ScriptDir:    ts.scriptDir,
		WorkRoot:     t.TempDir(),
	}, ts.store, stager, artifacts, engine.NewRunner("/bin/sh", logger), logger, nil)
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start pool: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		pool.Stop(ctx)
	})

	router := mux.NewRouter()
	NewHandler(ts.store, stager, artifacts, 1<<20, logger, nil).RegisterRoutes(router)
	ts.server = httptest.NewServer(router)
	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) writeScript(t *testing.T, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(ts.scriptDir, name), []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
}

// postFiles submits a multipart form with the given files and fields
func (ts *testServer) postFiles(t *testing.T, path string, files map[string]fileUpload, fields map[string]string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for field, f := range files {
		part, err := writer.CreateFormFile(field, f.name)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		part.Write([]byte(f.content))
	}
	for key, value := range fields {
		writer.WriteField(key, value)
	}
	writer.Close()

	resp, err := http.Post(ts.server.URL+path, writer.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

type fileUpload struct {
	name    string
	content string
}

func decodeBody(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func (ts *testServer) getStatus(t *testing.T, jobID string) (int, statusResponse) {
	t.Helper()
	resp, err := http.Get(ts.server.URL + "/job/" + jobID + "/status")
	if err != nil {
		t.Fatalf("GET status: %v", err)
	}
	var payload statusResponse
	decodeBody(t, resp, &payload)
	return resp.StatusCode, payload
}

func (ts *testServer) waitTerminal(t *testing.T, jobID string) statusResponse {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		code, payload := ts.getStatus(t, jobID)
		if code != http.StatusOK {
			t.Fatalf("status = %d while polling", code)
		}
		if models.IsTerminalState(payload.Status) {
			return payload
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("job %s never reached a terminal state", jobID)
	return statusResponse{}
}

func TestPathwaySubmitPollDownload(t *testing.T) {
	ts := newTestServer(t, time.Hour)
	ts.writeScript(t, "enrichment.R", `echo "pathway,p_value" > "$2"; echo "hsa00010,0.001" >> "$2"`)

	resp := ts.postFiles(t, "/api/pathway/run",
		map[string]fileUpload{"file": {"ranked.tsv", "TP53\t2.5\nBRCA1\t-1.3\n"}},
		map[string]string{"organism": "human", "library": "kegg"})
	if resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("submit status = %d, body %s", resp.StatusCode, body)
	}
	var accepted struct {
		JobID     string `json:"job_id"`
		StatusURL string `json:"status_url"`
	}
	decodeBody(t, resp, &accepted)
	if accepted.JobID == "" || accepted.StatusURL != "/job/"+accepted.JobID+"/status" {
		t.Fatalf("accepted payload = %+v", accepted)
	}

	payload := ts.waitTerminal(t, accepted.JobID)
	if payload.Status != models.JobStatusFinished {
		t.Fatalf("status = %s (error: %+v), want finished", payload.Status, payload.Error)
	}
	if payload.Result == nil || payload.Result.DownloadURL == "" {
		t.Fatalf("result = %+v, want a download reference", payload.Result)
	}

	// Terminal polling is idempotent
	_, again := ts.getStatus(t, accepted.JobID)
	if again.Status != payload.Status || again.Result.DownloadURL != payload.Result.DownloadURL {
		t.Error("repeated status polls disagree for a terminal job")
	}

	dl, err := http.Get(ts.server.URL + payload.Result.DownloadURL)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	defer dl.Body.Close()
	if dl.StatusCode != http.StatusOK {
		t.Fatalf("download status = %d", dl.StatusCode)
	}
	data, _ := io.ReadAll(dl.Body)
	if string(data) != "pathway,p_value\nhsa00010,0.001\n" {
		t.Errorf("download bytes = %q, differ from engine output", data)
	}
	if got := dl.Header.Get("Content-Disposition"); !strings.Contains(got, "pathway_results.csv") {
		t.Errorf("content disposition = %q, want the download name", got)
	}
}

func TestDEGTwoPhaseFlow(t *testing.T) {
	ts := newTestServer(t, time.Hour)
	ts.writeScript(t, "deg.R", `cat "$2" > /dev/null; echo "gene,logFC" > "$3"`)

	matrix := "gene\ttumor1\ttumor2\tnormal1\nTP53\t10\t12\t3\n"
	resp := ts.postFiles(t, "/api/deg/columns",
		map[string]fileUpload{"file": {"counts.tsv", matrix}}, nil)
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("columns status = %d, body %s", resp.StatusCode, body)
	}
	var columns struct {
		JobID      string   `json:"job_id"`
		GeneCol    string   `json:"gene_col"`
		SampleCols []string `json:"sample_cols"`
	}
	decodeBody(t, resp, &columns)
	if columns.JobID == "" {
		t.Fatal("columns response carries no job_id")
	}
	if columns.GeneCol != "gene" {
		t.Errorf("gene_col = %s, want gene", columns.GeneCol)
	}
	if len(columns.SampleCols) != 3 || columns.SampleCols[0] != "tumor1" {
		t.Errorf("sample_cols = %v, want the three samples", columns.SampleCols)
	}

	body, _ := json.Marshal(map[string]interface{}{
		"job_id": columns.JobID,
		"group_map": map[string]string{"tumor1": "A", "tumor2": "A", "normal1": "B"},
		"method":    "edger",
		"min_count": "5",
	})
	export, err := http.Post(ts.server.URL+"/api/deg/export", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if export.StatusCode != http.StatusAccepted {
		raw, _ := io.ReadAll(export.Body)
		t.Fatalf("export status = %d, body %s", export.StatusCode, raw)
	}
	var accepted struct {
		JobID string `json:"job_id"`
	}
	decodeBody(t, export, &accepted)

	payload := ts.waitTerminal(t, accepted.JobID)
	if payload.Status != models.JobStatusFinished {
		t.Fatalf("status = %s (error: %+v), want finished", payload.Status, payload.Error)
	}
}

func TestDEGExportSharedUpload(t *testing.T) {
	ts := newTestServer(t, time.Hour)
	// The engine lingers so both exports are accepted while the first
	// job still holds the matrix
	ts.writeScript(t, "deg.R", `sleep 0.5; cat "$2" > /dev/null; echo "gene,logFC" > "$3"`)

	matrix := "gene\ttumor1\tnormal1\nTP53\t10\t3\n"
	resp := ts.postFiles(t, "/api/deg/columns",
		map[string]fileUpload{"file": {"counts.tsv", matrix}}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("columns status = %d", resp.StatusCode)
	}
	var columns struct {
		JobID string `json:"job_id"`
	}
	decodeBody(t, resp, &columns)

	export := func(field string) string {
		body, _ := json.Marshal(map[string]interface{}{
			field:       columns.JobID,
			"group_map": map[string]string{"tumor1": "A", "normal1": "B"},
			"method":    "edger",
		})
		resp, err := http.Post(ts.server.URL+"/api/deg/export", "application/json", bytes.NewReader(body))
		if err != nil {
			t.Fatalf("export: %v", err)
		}
		if resp.StatusCode != http.StatusAccepted {
			raw, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			t.Fatalf("export via %s status = %d, body %s", field, resp.StatusCode, raw)
		}
		var accepted struct {
			JobID string `json:"job_id"`
		}
		decodeBody(t, resp, &accepted)
		return accepted.JobID
	}

	// Two exports against the same staged matrix, the second through the
	// legacy field name
	first := export("job_id")
	second := export("upload_id")

	if p := ts.waitTerminal(t, first); p.Status != models.JobStatusFinished {
		t.Fatalf("first export status = %s (error: %+v), want finished", p.Status, p.Error)
	}
	if p := ts.waitTerminal(t, second); p.Status != models.JobStatusFinished {
		t.Fatalf("second export status = %s (error: %+v), want finished", p.Status, p.Error)
	}

	// The matrix is freed once the last job holding it is terminal
	if n := ts.stager.Count(); n != 0 {
		t.Errorf("%d staged upload(s) live after both exports finished", n)
	}
}

func TestDEGExportUnknownUpload(t *testing.T) {
	ts := newTestServer(t, time.Hour)

	body, _ := json.Marshal(map[string]interface{}{
		"upload_id": "never-staged",
		"group_map": map[string]string{"s1": "A", "s2": "B"},
		"method":    "edger",
	})
	resp, err := http.Post(ts.server.URL+"/api/deg/export", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	var errBody struct {
		Error string `json:"error"`
	}
	decodeBody(t, resp, &errBody)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if errBody.Error != "Upload expired or missing. Please upload again." {
		t.Errorf("error = %q", errBody.Error)
	}
}

func TestSubmissionValidationErrors(t *testing.T) {
	ts := newTestServer(t, time.Hour)

	tests := []struct {
		name   string
		path   string
		files  map[string]fileUpload
		fields map[string]string
	}{
		{
			"disallowed extension",
			"/api/pathway/run",
			map[string]fileUpload{"file": {"ranked.pdf", "TP53\t2.5\n"}},
			map[string]string{"organism": "human", "library": "kegg"},
		},
		{
			"non-numeric ranked list",
			"/api/pathway/run",
			map[string]fileUpload{"file": {"ranked.tsv", "TP53\tup\nBRCA1\tdown\n"}},
			map[string]string{"organism": "human", "library": "kegg"},
		},
		{
			"bad organism",
			"/api/id2symbol/run",
			map[string]fileUpload{"file": {"ids.txt", "ENSG1\n"}},
			map[string]string{"organism": "zebrafish"},
		},
		{
			"custom library without gmt",
			"/api/pathway/run",
			map[string]fileUpload{"file": {"ranked.tsv", "TP53\t2.5\n"}},
			map[string]string{"organism": "human", "library": "custom"},
		},
		{
			"ssgsea missing gmt",
			"/api/ssgsea/run",
			map[string]fileUpload{"file": {"expr.tsv", "gene\ts1\nTP53\t4\n"}},
			nil,
		},
		{
			"empty file",
			"/api/id2symbol/run",
			map[string]fileUpload{"file": {"ids.txt", ""}},
			map[string]string{"organism": "human"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := ts.postFiles(t, tt.path, tt.files, tt.fields)
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				body, _ := io.ReadAll(resp.Body)
				t.Fatalf("status = %d, want 400 (body %s)", resp.StatusCode, body)
			}
		})
	}

	// Rejected submissions never leave staged uploads or jobs behind
	if n := ts.stager.Count(); n != 0 {
		t.Errorf("%d staged upload(s) left after rejected submissions", n)
	}
	counts, _ := ts.store.CountByStatus()
	if len(counts) != 0 {
		t.Errorf("jobs created by rejected submissions: %v", counts)
	}
}

func TestStageFormFileMalformedOptionalPart(t *testing.T) {
	logger := logging.New(logging.ERROR, false)
	stager, err := stage.New(t.TempDir(), 1<<20, time.Hour, logger)
	if err != nil {
		t.Fatalf("stager: %v", err)
	}
	h := &Handler{stager: stager, logger: logger, maxUpload: 1 << 20}

	// A truncated part is an error, not an absent optional field
	body := "--frontier\r\nContent-Disposition: form-data; name=\"gmt\"; filename=\"sets.gmt\"\r\n"
	req := httptest.NewRequest(http.MethodPost, "/api/pathway/run", strings.NewReader(body))
	req.Header.Set("Content-Type", "multipart/form-data; boundary=frontier")

	upload, err := h.stageFormFile(req, "gmt", stage.FileKindGeneSet, false)
	if upload != nil || err == nil {
		t.Fatalf("stageFormFile = (%v, %v), want a validation error", upload, err)
	}
	var verr *params.ValidationError
	if !errors.As(err, &verr) || verr.Message != "Malformed file upload." {
		t.Errorf("err = %v, want the malformed upload message", err)
	}
}

func TestJobStatusUnknownID(t *testing.T) {
	ts := newTestServer(t, time.Hour)

	resp, err := http.Get(ts.server.URL + "/job/no-such-job/status")
	if err != nil {
		t.Fatalf("GET status: %v", err)
	}
	var errBody struct {
		Error string `json:"error"`
	}
	decodeBody(t, resp, &errBody)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
	if errBody.Error != "Unknown job id." {
		t.Errorf("error = %q", errBody.Error)
	}
}

func TestArtifactNotFoundVersusExpired(t *testing.T) {
	ts := newTestServer(t, -time.Second)

	resp, err := http.Get(ts.server.URL + "/artifacts/no-such-artifact")
	if err != nil {
		t.Fatalf("GET artifact: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown artifact status = %d, want 404", resp.StatusCode)
	}

	// A negative retention window expires the artifact on arrival
	src := filepath.Join(t.TempDir(), "out.csv")
	os.WriteFile(src, []byte("data"), 0o640)
	published, err := ts.artifacts.Publish("job-1", src, "text/csv", "out.csv")
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	resp, err = http.Get(ts.server.URL + "/artifacts/" + published.ID)
	if err != nil {
		t.Fatalf("GET artifact: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusGone {
		t.Errorf("expired artifact status = %d, want 410", resp.StatusCode)
	}
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t, time.Hour)

	resp, err := http.Get(ts.server.URL + "/health")
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	var payload map[string]interface{}
	decodeBody(t, resp, &payload)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d", resp.StatusCode)
	}
	if payload["status"] != "ok" {
		t.Errorf("health payload = %v", payload)
	}
}
