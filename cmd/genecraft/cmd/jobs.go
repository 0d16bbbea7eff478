package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var followStatus bool

// jobsCmd represents the jobs command
var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Track analysis jobs",
	Long:  `Commands for polling job state and fetching results from the genecraft server.`,
}

// jobsStatusCmd represents the jobs status command
var jobsStatusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Get job status",
	Long:  `Retrieve the current status of a job. With --watch, poll until the job reaches a terminal state.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsStatus,
}

// jobsFetchCmd represents the jobs fetch command
var jobsFetchCmd = &cobra.Command{
	Use:   "fetch <job-id>",
	Short: "Download the result of a finished job",
	Long:  `Wait for a job to finish and download its result file to the current directory or the path given by --out.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsFetch,
}

var fetchOut string

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsStatusCmd)
	jobsCmd.AddCommand(jobsFetchCmd)

	jobsStatusCmd.Flags().BoolVarP(&followStatus, "watch", "w", false, "poll until the job finishes or fails")
	jobsFetchCmd.Flags().StringVarP(&fetchOut, "out", "o", "", "output file path (default: server-suggested name)")
}

type statusPayload struct {
	JobID  string `json:"job_id"`
	Kind   string `json:"kind"`
	Status string `json:"status"`
	Result *struct {
		ArtifactID  string            `json:"artifact_id"`
		DownloadURL string            `json:"download_url"`
		Summary     map[string]string `json:"summary"`
	} `json:"result"`
	Error *struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"error"`
}

func getStatus(jobID string) (*statusPayload, error) {
	resp, err := http.Get(GetServerURL() + "/job/" + jobID + "/status")
	if err != nil {
		return nil, fmt.Errorf("request status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeServerError(resp)
	}
	var payload statusPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	return &payload, nil
}

func decodeServerError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Error != "" {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, body.Error)
	}
	return fmt.Errorf("server returned %d", resp.StatusCode)
}

func isTerminal(status string) bool {
	return status == "finished" || status == "failed"
}

// waitForJob polls until the job reaches a terminal state
func waitForJob(jobID string, report func(*statusPayload)) (*statusPayload, error) {
	for {
		payload, err := getStatus(jobID)
		if err != nil {
			return nil, err
		}
		if report != nil {
			report(payload)
		}
		if isTerminal(payload.Status) {
			return payload, nil
		}
		time.Sleep(2 * time.Second)
	}
}

func runJobsStatus(cmd *cobra.Command, args []string) error {
	jobID := args[0]

	var payload *statusPayload
	var err error
	if followStatus {
		last := ""
		payload, err = waitForJob(jobID, func(p *statusPayload) {
			if !IsJSONOutput() && p.Status != last {
				fmt.Printf("Job %s: %s\n", jobID, p.Status)
				last = p.Status
			}
		})
	} else {
		payload, err = getStatus(jobID)
	}
	if err != nil {
		return err
	}

	if IsJSONOutput() {
		return json.NewEncoder(os.Stdout).Encode(payload)
	}
	printStatusTable(payload)
	return nil
}

func printStatusTable(payload *statusPayload) {
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Field", "Value")

	table.Append("Job ID", payload.JobID)
	table.Append("Kind", payload.Kind)
	table.Append("Status", payload.Status)
	if payload.Result != nil {
		table.Append("Download", payload.Result.DownloadURL)
		for key, value := range payload.Result.Summary {
			table.Append("Summary: "+key, value)
		}
	}
	if payload.Error != nil {
		table.Append("Error", payload.Error.Message)
		table.Append("Error Kind", payload.Error.Kind)
	}

	table.Render()
}

func runJobsFetch(cmd *cobra.Command, args []string) error {
	jobID := args[0]

	payload, err := waitForJob(jobID, nil)
	if err != nil {
		return err
	}
	if payload.Status == "failed" {
		if payload.Error != nil {
			return fmt.Errorf("job failed: %s", payload.Error.Message)
		}
		return fmt.Errorf("job failed")
	}
	if payload.Result == nil {
		return fmt.Errorf("job finished without a result")
	}

	resp, err := http.Get(GetServerURL() + payload.Result.DownloadURL)
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decodeServerError(resp)
	}

	out := fetchOut
	if out == "" {
		out = suggestedFilename(resp, jobID+".csv")
	}
	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	n, err := io.Copy(f, resp.Body)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("write output file: %w", err)
	}

	fmt.Printf("Saved %s (%d bytes)\n", out, n)
	return nil
}

// suggestedFilename extracts the attachment filename from the response
func suggestedFilename(resp *http.Response, fallback string) string {
	disposition := resp.Header.Get("Content-Disposition")
	const marker = `filename="`
	if i := strings.Index(disposition, marker); i >= 0 {
		rest := disposition[i+len(marker):]
		if j := strings.Index(rest, `"`); j > 0 {
			return rest[:j]
		}
	}
	return fallback
}
