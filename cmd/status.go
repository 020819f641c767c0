package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/rationfit/internal/server"
)

var (
	serverURL string
)

var statusCmd = &cobra.Command{
	Use:   "status [job-id]",
	Short: "Query server status or specific job",
	Long: `Queries the server for job status information.
If no job-id is provided, lists all jobs.
If job-id is provided, shows detailed status for that job.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "Server URL")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	client := &http.Client{Timeout: 10 * time.Second}
	out := cmd.OutOrStdout()
	if len(args) == 0 {
		return listJobs(client, out, fmt.Sprintf("%s/api/v1/jobs", serverURL))
	}
	jobID := args[0]
	return getJobStatus(client, out, fmt.Sprintf("%s/api/v1/jobs/%s/status", serverURL, jobID), jobID)
}

func getJSON(client *http.Client, url string, v any) (int, error) {
	resp, err := client.Get(url)
	if err != nil {
		return 0, fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, fmt.Errorf("server returned error: %s", string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
	}
	return resp.StatusCode, nil
}

func listJobs(client *http.Client, w io.Writer, url string) error {
	var jobs []server.Job
	if _, err := getJSON(client, url, &jobs); err != nil {
		return err
	}

	if len(jobs) == 0 {
		fmt.Fprintln(w, "No jobs found")
		return nil
	}

	fmt.Fprintf(w, "Found %d job(s):\n\n", len(jobs))
	for _, job := range jobs {
		fmt.Fprintf(w, "Job ID: %s\n", job.ID)
		fmt.Fprintf(w, "  State: %s\n", job.State)
		fmt.Fprintf(w, "  Catalog: %s (%d ingredients)\n", job.Config.CatalogPath, len(job.Config.Catalog.Ingredients))
		if job.Phase != "" {
			fmt.Fprintf(w, "  Phase: %s, objective %.4f\n", job.Phase, job.BestCost)
		}
		fmt.Fprintln(w)
	}
	return nil
}

func getJobStatus(client *http.Client, w io.Writer, url, jobID string) error {
	var status server.JobStatus
	code, err := getJSON(client, url, &status)
	if code == http.StatusNotFound {
		return fmt.Errorf("job not found: %s", jobID)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Job: %s\n", status.ID)
	fmt.Fprintf(w, "State: %s\n", status.State)
	if status.ResumedFrom != "" {
		fmt.Fprintf(w, "Resumed from: %s checkpoint\n", status.ResumedFrom)
	}
	fmt.Fprintln(w)

	settings := status.Config.Settings
	fmt.Fprintln(w, "Configuration:")
	fmt.Fprintf(w, "  Catalog: %s\n", status.Config.CatalogPath)
	fmt.Fprintf(w, "  Ingredients: %d, nutrients: %d\n", len(status.Config.Catalog.Ingredients), len(status.Config.Catalog.Nutrients))
	fmt.Fprintf(w, "  Backend: %s (%s)\n", settings.Backend, settings.LocalMethod)
	fmt.Fprintf(w, "  Iterations: %d + %d, restarts %d, seed %d\n",
		settings.Exploration.Iterations, settings.Refinement.Iterations, settings.Restarts, settings.Seed)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Progress:")
	if status.Phase != "" {
		fmt.Fprintf(w, "  Phase: %s\n", status.Phase)
		fmt.Fprintf(w, "  Objective: %.4f\n", status.BestCost)
	}
	if status.BaseCost > 0 {
		fmt.Fprintf(w, "  Cost per unit: $%.2f\n", status.BaseCost)
	}
	fmt.Fprintf(w, "  Iterations: %d (%d accepted)\n", status.Iterations, status.Accepted)
	elapsed := time.Duration(status.Elapsed * float64(time.Second))
	fmt.Fprintf(w, "  Elapsed: %s\n", elapsed.Round(time.Millisecond))
	if status.Feasible != nil {
		fmt.Fprintf(w, "  Feasible: %t\n", *status.Feasible)
	}

	if status.Error != "" {
		fmt.Fprintf(w, "\nError: %s\n", status.Error)
	}
	return nil
}
