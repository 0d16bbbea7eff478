package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/genecraft/genecraft/internal/models"
)

// Output file names and scripts per analysis kind. These mirror the
// argument contract of the R scripts: positional input path(s), an
// optional serialized parameter file, an output path, and for ssgsea a
// summary sidecar.
var kindContracts = map[models.Kind]struct {
	script       string
	outputName   string
	downloadName string
}{
	models.KindDEG:       {script: "deg.R", outputName: "results.csv", downloadName: "de_results.csv"},
	models.KindPathway:   {script: "enrichment.R", outputName: "pathway_results.csv", downloadName: "pathway_results.csv"},
	models.KindID2Symbol: {script: "id2symbol.R", outputName: "id2symbol_results.csv", downloadName: "id2symbol_results.csv"},
	models.KindSSGSEA:    {script: "ssgsea.R", outputName: "ssgsea_scores.csv", downloadName: "ssgsea_scores.csv"},
}

// Invocation is one fully-specified engine run
type Invocation struct {
	Script       string   // absolute path to the analysis script
	Args         []string // positional arguments after the script path
	OutputPath   string   // the declared output file the engine must produce
	SummaryPath  string   // optional warnings sidecar, empty when unused
	DownloadName string   // client-facing name for the published output
	MimeType     string
}

// degMeta is the serialized parameter payload handed to the deg script
type degMeta struct {
	GroupMap map[string]string `json:"group_map"`
	Method   string            `json:"method"`
	MinCount int               `json:"min_count"`
}

// BuildInvocation assembles the engine command for one job. inputs are
// the staged file paths in submission order; workDir is the private
// per-job scratch directory the output is written into.
func BuildInvocation(kind models.Kind, scriptDir, workDir string, inputs []string, p models.Params) (*Invocation, error) {
	contract, ok := kindContracts[kind]
	if !ok {
		return nil, fmt.Errorf("no engine contract for kind %q", kind)
	}

	script := filepath.Join(scriptDir, contract.script)
	if _, err := os.Stat(script); err != nil {
		return nil, fmt.Errorf("analysis script not found: %s", script)
	}

	outPath := filepath.Join(workDir, contract.outputName)
	inv := &Invocation{
		Script:       script,
		OutputPath:   outPath,
		DownloadName: contract.downloadName,
		MimeType:     "text/csv",
	}

	switch kind {
	case models.KindDEG:
		if len(inputs) != 1 {
			return nil, fmt.Errorf("deg expects 1 input, got %d", len(inputs))
		}
		metaPath := filepath.Join(workDir, "meta.json")
		meta, err := json.Marshal(degMeta{GroupMap: p.GroupMap, Method: p.Method, MinCount: p.MinCount})
		if err != nil {
			return nil, fmt.Errorf("marshal meta: %w", err)
		}
		if err := os.WriteFile(metaPath, meta, 0o640); err != nil {
			return nil, fmt.Errorf("write meta: %w", err)
		}
		inv.Args = []string{inputs[0], metaPath, outPath}

	case models.KindPathway:
		// Second input, when present, is the custom gene set file
		if len(inputs) < 1 || len(inputs) > 2 {
			return nil, fmt.Errorf("pathway expects 1 or 2 inputs, got %d", len(inputs))
		}
		gmtArg := ""
		if len(inputs) == 2 {
			gmtArg = inputs[1]
		}
		inv.Args = []string{inputs[0], outPath, p.Organism, p.Library, gmtArg}

	case models.KindID2Symbol:
		if len(inputs) != 1 {
			return nil, fmt.Errorf("id2symbol expects 1 input, got %d", len(inputs))
		}
		inv.Args = []string{inputs[0], outPath, p.Organism}

	case models.KindSSGSEA:
		if len(inputs) != 2 {
			return nil, fmt.Errorf("ssgsea expects 2 inputs, got %d", len(inputs))
		}
		inv.SummaryPath = filepath.Join(workDir, "summary.txt")
		inv.Args = []string{inputs[0], inputs[1], outPath, inv.SummaryPath}
	}

	return inv, nil
}
