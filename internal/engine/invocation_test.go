package engine

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/genecraft/genecraft/internal/models"
)

// newScriptDir creates a script directory holding empty placeholders
// for every analysis script
func newScriptDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for _, name := range []string{"deg.R", "enrichment.R", "id2symbol.R", "ssgsea.R"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("# stub\n"), 0o644); err != nil {
			t.Fatalf("write script stub: %v", err)
		}
	}
	return dir
}

func TestBuildInvocationDEG(t *testing.T) {
	scripts := newScriptDir(t)
	work := t.TempDir()

	p := models.Params{
		Method:   "edger",
		MinCount: 5,
		GroupMap: map[string]string{"s1": "A", "s2": "B"},
	}
	inv, err := BuildInvocation(models.KindDEG, scripts, work, []string{"/staged/counts.tsv"}, p)
	if err != nil {
		t.Fatalf("BuildInvocation failed: %v", err)
	}

	metaPath := filepath.Join(work, "meta.json")
	wantArgs := []string{"/staged/counts.tsv", metaPath, filepath.Join(work, "results.csv")}
	if len(inv.Args) != len(wantArgs) {
		t.Fatalf("args = %v, want %v", inv.Args, wantArgs)
	}
	for i := range wantArgs {
		if inv.Args[i] != wantArgs[i] {
			t.Errorf("args[%d] = %s, want %s", i, inv.Args[i], wantArgs[i])
		}
	}
	if inv.DownloadName != "de_results.csv" {
		t.Errorf("download name = %s, want de_results.csv", inv.DownloadName)
	}

	// The parameter payload lands on disk for the script to read
	data, err := os.ReadFile(metaPath)
	if err != nil {
		t.Fatalf("meta.json not written: %v", err)
	}
	var meta struct {
		GroupMap map[string]string `json:"group_map"`
		Method   string            `json:"method"`
		MinCount int               `json:"min_count"`
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		t.Fatalf("meta.json not valid JSON: %v", err)
	}
	if meta.Method != "edger" || meta.MinCount != 5 || meta.GroupMap["s1"] != "A" {
		t.Errorf("meta = %+v, parameters lost in serialization", meta)
	}
}

func TestBuildInvocationPathway(t *testing.T) {
	scripts := newScriptDir(t)
	work := t.TempDir()
	p := models.Params{Organism: "human", Library: "kegg"}

	// Without a custom gene set the gmt argument is an empty placeholder
	inv, err := BuildInvocation(models.KindPathway, scripts, work, []string{"/staged/ranked.tsv"}, p)
	if err != nil {
		t.Fatalf("BuildInvocation failed: %v", err)
	}
	if len(inv.Args) != 5 || inv.Args[4] != "" {
		t.Errorf("args = %v, want a trailing empty gmt argument", inv.Args)
	}
	if inv.Args[2] != "human" || inv.Args[3] != "kegg" {
		t.Errorf("args = %v, organism/library misplaced", inv.Args)
	}

	inv, err = BuildInvocation(models.KindPathway, scripts, work, []string{"/staged/ranked.tsv", "/staged/sets.gmt"}, p)
	if err != nil {
		t.Fatalf("BuildInvocation failed: %v", err)
	}
	if inv.Args[4] != "/staged/sets.gmt" {
		t.Errorf("args = %v, custom gmt not forwarded", inv.Args)
	}
}

func TestBuildInvocationSSGSEA(t *testing.T) {
	scripts := newScriptDir(t)
	work := t.TempDir()

	inv, err := BuildInvocation(models.KindSSGSEA, scripts, work, []string{"/staged/expr.tsv", "/staged/sets.gmt"}, models.Params{})
	if err != nil {
		t.Fatalf("BuildInvocation failed: %v", err)
	}
	if inv.SummaryPath == "" {
		t.Error("ssgsea invocation has no summary sidecar path")
	}
	if len(inv.Args) != 4 || inv.Args[3] != inv.SummaryPath {
		t.Errorf("args = %v, summary path not the final argument", inv.Args)
	}
}

func TestBuildInvocationErrors(t *testing.T) {
	scripts := newScriptDir(t)
	work := t.TempDir()

	if _, err := BuildInvocation(models.KindDEG, scripts, work, []string{"a", "b"}, models.Params{}); err == nil {
		t.Error("deg accepted two inputs")
	}
	if _, err := BuildInvocation(models.KindSSGSEA, scripts, work, []string{"a"}, models.Params{}); err == nil {
		t.Error("ssgsea accepted one input")
	}
	if _, err := BuildInvocation(models.Kind("volcano"), scripts, work, nil, models.Params{}); err == nil {
		t.Error("unknown kind accepted")
	}
	if _, err := BuildInvocation(models.KindDEG, t.TempDir(), work, []string{"a"}, models.Params{}); err == nil {
		t.Error("missing script accepted")
	}
}
