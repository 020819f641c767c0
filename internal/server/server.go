package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cwbudde/rationfit/internal/catalog"
	"github.com/cwbudde/rationfit/internal/config"
	"github.com/cwbudde/rationfit/internal/fit"
	"github.com/cwbudde/rationfit/internal/store"
)

// maxBodyBytes caps job submissions
const maxBodyBytes = 8 << 20

// Server represents the HTTP server
type Server struct {
	jobManager *JobManager
	store      store.Store
	addr       string
	server     *http.Server

	// jobs run under baseCtx so Shutdown can stop them
	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

// NewServer creates a new HTTP server. st may be nil, in which case jobs
// run without checkpoints, traces or stored reports.
func NewServer(addr string, st store.Store) *Server {
	ctx, stop := context.WithCancel(context.Background())
	return &Server{
		jobManager: NewJobManager(),
		store:      st,
		addr:       addr,
		baseCtx:    ctx,
		stop:       stop,
	}
}

// Handler returns the routed, wrapped HTTP handler
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/jobs", s.handleJobs)
	mux.HandleFunc("/api/v1/jobs/", s.handleJobsWithID)
	mux.HandleFunc("/api/v1/checkpoints", s.handleListCheckpoints)
	mux.HandleFunc("/api/v1/checkpoints/", s.handleCheckpointsWithID)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	return s.loggingMiddleware(s.corsMiddleware(mux))
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("Starting HTTP server", "addr", s.addr)
	return s.server.ListenAndServe()
}

// Shutdown cancels running jobs, waits for their final checkpoints and
// gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("Shutting down HTTP server")
	s.stop()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		slog.Warn("Jobs still running at shutdown deadline")
	}

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// startJob runs a job in the background under the server's context
func (s *Server) startJob(jobID string, ro runOptions) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := runJob(s.baseCtx, s.jobManager, s.store, jobID, ro); err != nil {
			slog.Debug("Job ended with error", "job_id", jobID, "error", err)
		}
	}()
}

// handleJobs handles /api/v1/jobs
func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateJob(w, r)
	case http.MethodGet:
		s.handleListJobs(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleJobsWithID handles /api/v1/jobs/:id/*
func (s *Server) handleJobsWithID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/jobs/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		http.Error(w, "Job ID required", http.StatusBadRequest)
		return
	}

	jobID := parts[0]
	sub := ""
	if len(parts) > 1 {
		sub = parts[1]
	}

	switch {
	case r.Method == http.MethodDelete && sub == "":
		s.handleDeleteJob(w, r, jobID)
	case r.Method != http.MethodGet:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	case sub == "" || sub == "status":
		s.handleGetJobStatus(w, r, jobID)
	case sub == "report":
		s.handleGetReport(w, r, jobID)
	case sub == "stream":
		s.handleJobStream(w, r, jobID)
	case sub == "trace":
		s.handleGetTrace(w, r, jobID)
	default:
		http.Error(w, "Not found", http.StatusNotFound)
	}
}

// CreateJobRequest is the body of POST /api/v1/jobs.
// Settings are merged over the defaults, so a partial object is fine.
type CreateJobRequest struct {
	Catalog            catalog.Record  `json:"catalog"`
	CatalogPath        string          `json:"catalogPath,omitempty"`
	Strict             bool            `json:"strict,omitempty"`
	Settings           json.RawMessage `json:"settings,omitempty"`
	CheckpointInterval int             `json:"checkpointInterval,omitempty"`
}

// jobConfig validates the request and resolves the settings
func (req CreateJobRequest) jobConfig() (JobConfig, error) {
	settings := config.Default()
	if len(req.Settings) > 0 {
		dec := json.NewDecoder(bytes.NewReader(req.Settings))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&settings); err != nil {
			return JobConfig{}, fmt.Errorf("invalid settings: %w", err)
		}
	}
	if err := settings.Validate(); err != nil {
		return JobConfig{}, err
	}
	if req.CheckpointInterval < 0 {
		return JobConfig{}, fmt.Errorf("checkpointInterval must be non-negative, got %d", req.CheckpointInterval)
	}

	cfg := JobConfig{
		Catalog:            req.Catalog,
		CatalogPath:        req.CatalogPath,
		Strict:             req.Strict,
		Settings:           settings,
		CheckpointInterval: req.CheckpointInterval,
	}
	if _, err := cfg.BuildCatalog(); err != nil {
		return JobConfig{}, err
	}
	return cfg, nil
}

// handleCreateJob handles POST /api/v1/jobs
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
		return
	}

	cfg, err := req.jobConfig()
	if err != nil {
		var se *catalog.SchemaError
		if errors.As(err, &se) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": se.Error(), "field": se.Field})
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	job := s.jobManager.CreateJob(cfg)
	s.startJob(job.ID, runOptions{})

	writeJSON(w, http.StatusCreated, job)
}

// handleListJobs handles GET /api/v1/jobs
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.jobManager.ListJobs())
}

// JobStatus is the response of GET /api/v1/jobs/:id/status
type JobStatus struct {
	Job
	Elapsed  float64 `json:"elapsed"` // seconds
	Feasible *bool   `json:"feasible,omitempty"`
}

// handleGetJobStatus handles GET /api/v1/jobs/:id/status
func (s *Server) handleGetJobStatus(w http.ResponseWriter, r *http.Request, jobID string) {
	job, exists := s.jobManager.GetJob(jobID)
	if !exists {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}

	status := JobStatus{Job: job, Elapsed: job.Elapsed().Seconds()}
	if job.Report != nil {
		feasible := job.Report.Feasible
		status.Feasible = &feasible
	}
	writeJSON(w, http.StatusOK, status)
}

// handleGetReport handles GET /api/v1/jobs/:id/report[?format=text].
// Finished jobs that are no longer in memory are served from the store.
func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request, jobID string) {
	report, err := s.lookupReport(jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "Report not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if err := report.WriteText(w); err != nil {
			slog.Error("Failed to write report", "job_id", jobID, "error", err)
		}
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) lookupReport(jobID string) (*fit.Report, error) {
	if job, ok := s.jobManager.GetJob(jobID); ok {
		if job.Report != nil {
			return job.Report, nil
		}
		if !job.State.Terminal() {
			return nil, &store.NotFoundError{JobID: jobID, What: "report"}
		}
	}
	if s.store == nil {
		return nil, &store.NotFoundError{JobID: jobID, What: "report"}
	}

	data, err := s.store.LoadReport(jobID)
	if err != nil {
		return nil, err
	}
	var report fit.Report
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("failed to decode stored report: %w", err)
	}
	return &report, nil
}

// handleGetTrace handles GET /api/v1/jobs/:id/trace as JSON lines
func (s *Server) handleGetTrace(w http.ResponseWriter, r *http.Request, jobID string) {
	if s.store == nil {
		http.Error(w, "Trace not found", http.StatusNotFound)
		return
	}
	reader, err := store.NewTraceReader(s.store.TraceDir(), jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "Trace not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer reader.Close()

	entries, err := reader.ReadAll()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	enc := json.NewEncoder(w)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return
		}
	}
}

// handleDeleteJob handles DELETE /api/v1/jobs/:id.
// A running job is cancelled (202); a finished one is forgotten (204).
func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request, jobID string) {
	job, exists := s.jobManager.GetJob(jobID)
	if !exists {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}

	if !job.State.Terminal() {
		s.jobManager.Cancel(jobID)
		w.WriteHeader(http.StatusAccepted)
		return
	}
	if err := s.jobManager.Remove(jobID); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListCheckpoints handles GET /api/v1/checkpoints
func (s *Server) handleListCheckpoints(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.store == nil {
		writeJSON(w, http.StatusOK, []store.CheckpointInfo{})
		return
	}
	infos, err := s.store.ListCheckpoints()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, infos)
}

// handleCheckpointsWithID handles POST /api/v1/checkpoints/:id/resume
func (s *Server) handleCheckpointsWithID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/checkpoints/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "resume" {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.store == nil {
		http.Error(w, "Checkpoint not found", http.StatusNotFound)
		return
	}

	job, err := s.resumeJob(parts[0])
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			http.Error(w, "Checkpoint not found", http.StatusNotFound)
		default:
			http.Error(w, err.Error(), http.StatusConflict)
		}
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

// resumeJob restarts a checkpointed job from its accepted blend, keeping the
// job ID and appending to its trace
func (s *Server) resumeJob(jobID string) (Job, error) {
	cp, err := s.store.LoadCheckpoint(jobID)
	if err != nil {
		return Job{}, err
	}
	if err := cp.Validate(); err != nil {
		return Job{}, fmt.Errorf("checkpoint %s is unusable: %w", jobID, err)
	}

	if existing, ok := s.jobManager.GetJob(jobID); ok {
		if !existing.State.Terminal() {
			return Job{}, fmt.Errorf("job %s is still %s", jobID, existing.State)
		}
		if err := s.jobManager.Remove(jobID); err != nil {
			return Job{}, err
		}
	}

	job, err := s.jobManager.CreateJobWithID(jobID, cp.Config)
	if err != nil {
		return Job{}, err
	}
	s.jobManager.UpdateJob(jobID, func(j *Job) {
		j.ResumedFrom = cp.Phase
		j.BestCost = cp.BestCost
	})

	slog.Info("Resuming job", "job_id", jobID, "phase", cp.Phase, "best_cost", cp.BestCost)
	s.startJob(jobID, runOptions{Start: cp.BestAmounts, AppendTrace: true})

	job, _ = s.jobManager.GetJob(jobID)
	return job, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// corsMiddleware adds CORS headers
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("HTTP request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
