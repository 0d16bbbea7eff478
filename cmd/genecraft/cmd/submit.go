package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

var (
	submitFile     string
	submitGMT      string
	submitOrganism string
	submitLibrary  string
	submitMethod   string
	submitMinCount int
	submitGroups   []string
	submitWait     bool
)

// submitCmd represents the submit command
var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit an analysis",
	Long:  `Commands for uploading input files and launching analyses on the genecraft server.`,
}

var submitDEGCmd = &cobra.Command{
	Use:   "deg",
	Short: "Submit a differential expression analysis",
	Long: `Upload a count matrix and launch differential expression between two
sample groups. Assign samples with repeated --group flags, e.g.
--group tumor1=A --group tumor2=A --group normal1=B.`,
	RunE: runSubmitDEG,
}

var submitPathwayCmd = &cobra.Command{
	Use:   "pathway",
	Short: "Submit a pathway enrichment analysis",
	Long:  `Upload a ranked gene list and launch pathway enrichment. The custom library requires a GMT file via --gmt.`,
	RunE:  runSubmitPathway,
}

var submitID2SymbolCmd = &cobra.Command{
	Use:   "id2symbol",
	Short: "Submit an identifier conversion",
	Long:  `Upload a gene identifier list and convert the identifiers to gene symbols.`,
	RunE:  runSubmitID2Symbol,
}

var submitSSGSEACmd = &cobra.Command{
	Use:   "ssgsea",
	Short: "Submit a single-sample enrichment scoring",
	Long:  `Upload an expression matrix and a GMT gene set file and launch per-sample enrichment scoring.`,
	RunE:  runSubmitSSGSEA,
}

func init() {
	rootCmd.AddCommand(submitCmd)
	submitCmd.AddCommand(submitDEGCmd, submitPathwayCmd, submitID2SymbolCmd, submitSSGSEACmd)

	submitCmd.PersistentFlags().StringVarP(&submitFile, "file", "f", "", "primary input file (required)")
	submitCmd.PersistentFlags().BoolVar(&submitWait, "wait", false, "poll until the job finishes or fails")

	submitDEGCmd.Flags().StringVar(&submitMethod, "method", "edger", "analysis method: edger or deseq2")
	submitDEGCmd.Flags().IntVar(&submitMinCount, "min-count", 2, "minimum count filter")
	submitDEGCmd.Flags().StringArrayVar(&submitGroups, "group", nil, "sample group assignment sample=A|B (repeatable)")

	submitPathwayCmd.Flags().StringVar(&submitOrganism, "organism", "human", "organism: human or mouse")
	submitPathwayCmd.Flags().StringVar(&submitLibrary, "library", "kegg", "gene set library")
	submitPathwayCmd.Flags().StringVar(&submitGMT, "gmt", "", "custom gene set file (.gmt)")

	submitID2SymbolCmd.Flags().StringVar(&submitOrganism, "organism", "human", "organism: human or mouse")

	submitSSGSEACmd.Flags().StringVar(&submitGMT, "gmt", "", "gene set file (.gmt, required)")
}

// postMultipart uploads files and fields to an endpoint and decodes the
// JSON response into out
func postMultipart(path string, files map[string]string, fields map[string]string, out interface{}) error {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	for field, filePath := range files {
		f, err := os.Open(filePath)
		if err != nil {
			return fmt.Errorf("open %s: %w", filePath, err)
		}
		part, err := writer.CreateFormFile(field, filepath.Base(filePath))
		if err == nil {
			_, err = io.Copy(part, f)
		}
		f.Close()
		if err != nil {
			return fmt.Errorf("attach %s: %w", filePath, err)
		}
	}
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return fmt.Errorf("write field %s: %w", key, err)
		}
	}
	if err := writer.Close(); err != nil {
		return err
	}

	resp, err := http.Post(GetServerURL()+path, writer.FormDataContentType(), &buf)
	if err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return decodeServerError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type acceptedPayload struct {
	JobID     string `json:"job_id"`
	StatusURL string `json:"status_url"`
}

// reportAccepted prints the accepted job and optionally waits it out
func reportAccepted(accepted acceptedPayload) error {
	if IsJSONOutput() {
		json.NewEncoder(os.Stdout).Encode(accepted)
	} else {
		fmt.Printf("Job accepted: %s\n", accepted.JobID)
	}
	if !submitWait {
		return nil
	}

	payload, err := waitForJob(accepted.JobID, func(p *statusPayload) {
		if !IsJSONOutput() {
			fmt.Printf("  %s\n", p.Status)
		}
	})
	if err != nil {
		return err
	}
	if IsJSONOutput() {
		return json.NewEncoder(os.Stdout).Encode(payload)
	}
	if payload.Status == "failed" && payload.Error != nil {
		return fmt.Errorf("job failed: %s", payload.Error.Message)
	}
	if payload.Result != nil {
		fmt.Printf("Download: %s%s\n", GetServerURL(), payload.Result.DownloadURL)
	}
	return nil
}

func requireFile() error {
	if submitFile == "" {
		return fmt.Errorf("--file is required")
	}
	return nil
}

func runSubmitDEG(cmd *cobra.Command, args []string) error {
	if err := requireFile(); err != nil {
		return err
	}

	// Phase one: stage the matrix and learn its columns
	var columns struct {
		JobID      string   `json:"job_id"`
		GeneCol    string   `json:"gene_col"`
		SampleCols []string `json:"sample_cols"`
	}
	if err := postMultipart("/api/deg/columns", map[string]string{"file": submitFile}, nil, &columns); err != nil {
		return err
	}

	groupMap := make(map[string]string, len(submitGroups))
	for _, assignment := range submitGroups {
		parts := strings.SplitN(assignment, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid --group %q, expected sample=A or sample=B", assignment)
		}
		groupMap[parts[0]] = parts[1]
	}

	// Phase two: launch the export against the staged upload
	body, err := json.Marshal(map[string]interface{}{
		"job_id":    columns.JobID,
		"group_map": groupMap,
		"method":    submitMethod,
		"min_count": submitMinCount,
	})
	if err != nil {
		return err
	}
	resp, err := http.Post(GetServerURL()+"/api/deg/export", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return decodeServerError(resp)
	}
	var accepted acceptedPayload
	if err := json.NewDecoder(resp.Body).Decode(&accepted); err != nil {
		return err
	}
	return reportAccepted(accepted)
}

func runSubmitPathway(cmd *cobra.Command, args []string) error {
	if err := requireFile(); err != nil {
		return err
	}
	files := map[string]string{"file": submitFile}
	if submitGMT != "" {
		files["gmt"] = submitGMT
	}
	var accepted acceptedPayload
	if err := postMultipart("/api/pathway/run", files, map[string]string{
		"organism": submitOrganism,
		"library":  submitLibrary,
	}, &accepted); err != nil {
		return err
	}
	return reportAccepted(accepted)
}

func runSubmitID2Symbol(cmd *cobra.Command, args []string) error {
	if err := requireFile(); err != nil {
		return err
	}
	var accepted acceptedPayload
	if err := postMultipart("/api/id2symbol/run", map[string]string{"file": submitFile}, map[string]string{
		"organism": submitOrganism,
	}, &accepted); err != nil {
		return err
	}
	return reportAccepted(accepted)
}

func runSubmitSSGSEA(cmd *cobra.Command, args []string) error {
	if err := requireFile(); err != nil {
		return err
	}
	if submitGMT == "" {
		return fmt.Errorf("--gmt is required")
	}
	var accepted acceptedPayload
	if err := postMultipart("/api/ssgsea/run", map[string]string{
		"file": submitFile,
		"gmt":  submitGMT,
	}, nil, &accepted); err != nil {
		return err
	}
	return reportAccepted(accepted)
}
