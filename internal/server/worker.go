package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cwbudde/rationfit/internal/fit"
	"github.com/cwbudde/rationfit/internal/store"
)

// progressInterval throttles SSE progress events to 2 per second
const progressInterval = 500 * time.Millisecond

// runOptions tweak how a job starts
type runOptions struct {
	// Start overrides the catalog minimums (resumed jobs)
	Start []float64

	// AppendTrace continues an existing trace.jsonl instead of replacing it
	AppendTrace bool
}

// runJob executes a formulation job in the background.
// If st is not nil the job's trace, checkpoints and final report are
// persisted; with CheckpointInterval > 0 checkpoints are also saved
// periodically while the search runs.
func runJob(ctx context.Context, jm *JobManager, st store.Store, jobID string, ro runOptions) error {
	job, exists := jm.GetJob(jobID)
	if !exists {
		return fmt.Errorf("job not found: %s", jobID)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	jm.setCancel(jobID, cancel)
	defer jm.clearCancel(jobID)

	err := jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateRunning
	})
	if err != nil {
		return err
	}
	jobsStarted.Inc()
	jobsRunning.Inc()
	defer jobsRunning.Dec()
	defer func() {
		final, _ := jm.GetJob(jobID)
		jobsFinished.WithLabelValues(string(final.State)).Inc()
		jobDuration.Observe(final.Elapsed().Seconds())
	}()

	slog.Info("Starting job", "job_id", jobID, "catalog", job.Config.CatalogPath)

	cat, err := job.Config.BuildCatalog()
	if err != nil {
		markJobFailed(jm, jobID, fmt.Errorf("failed to build catalog: %w", err))
		return err
	}
	for _, d := range cat.Dropped() {
		slog.Warn("Chart entry dropped", "job_id", jobID, "ingredient", d.Ingredient, "nutrient", d.Nutrient, "reason", d.Reason)
	}

	searcher, err := job.Config.Settings.Searcher()
	if err != nil {
		markJobFailed(jm, jobID, err)
		return err
	}

	// Check for cancellation before starting the search
	select {
	case <-ctx.Done():
		markJobCancelled(jm, jobID)
		return ctx.Err()
	default:
	}

	var trace *store.TraceWriter
	if st != nil {
		trace, err = store.NewTraceWriter(st.TraceDir(), jobID, ro.AppendTrace)
		if err != nil {
			slog.Warn("Trace disabled", "job_id", jobID, "error", err)
			checkpointErrors.WithLabelValues("trace").Inc()
		}
	}

	cfg := job.Config.Settings.SearchConfig()
	cfg.Start = ro.Start
	cfg.Progress = func(p fit.Progress) {
		recordProgress(jm, jobID, p)
		recordIteration(p.Phase, p.Step.Accepted)
		if trace != nil {
			if err := trace.Write(traceEntry(p)); err != nil {
				slog.Warn("Failed to write trace entry", "job_id", jobID, "error", err)
				checkpointErrors.WithLabelValues("trace").Inc()
			}
		}
	}

	progressDone := make(chan struct{})
	go monitorProgress(ctx, jm, jobID, progressDone)

	checkpointDone := make(chan struct{})
	if st != nil && job.Config.CheckpointInterval > 0 {
		go monitorCheckpoints(ctx, jm, st, jobID, checkpointDone)
	}

	start := time.Now()
	result, err := fit.Formulate(ctx, cat, cfg, searcher)
	close(progressDone)
	close(checkpointDone)
	elapsed := time.Since(start)
	if trace != nil {
		if cerr := trace.Close(); cerr != nil {
			slog.Warn("Failed to close trace", "job_id", jobID, "error", cerr)
			checkpointErrors.WithLabelValues("trace").Inc()
		}
	}

	if result != nil {
		jm.UpdateJob(jobID, func(j *Job) {
			j.Phase = fit.PhaseRefinement
			j.BestAmounts = append([]float64(nil), result.Amounts...)
			j.BestCost = result.Objective
			j.BaseCost = result.BaseCost
			j.Report = fit.NewFormulationReport(cat, result)
		})
		if st != nil {
			if cerr := saveCheckpoint(jm, st, jobID); cerr != nil {
				slog.Error("Failed to save final checkpoint", "job_id", jobID, "error", cerr)
			}
		}
	}

	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			markJobCancelled(jm, jobID)
			broadcastState(jm, jobID)
			return err
		}
		markJobFailed(jm, jobID, err)
		broadcastState(jm, jobID)
		return err
	}

	if st != nil {
		if err := saveReport(jm, st, jobID); err != nil {
			slog.Error("Failed to save report", "job_id", jobID, "error", err)
			checkpointErrors.WithLabelValues("report").Inc()
		}
	}

	endTime := time.Now()
	err = jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateCompleted
		j.EndTime = &endTime
	})
	if err != nil {
		return err
	}
	finalBaseCost.Observe(result.BaseCost)

	final, _ := jm.GetJob(jobID)
	slog.Info("Job completed",
		"job_id", jobID,
		"elapsed", elapsed,
		"objective", result.Objective,
		"base_cost", result.BaseCost,
		"feasible", final.Report != nil && final.Report.Feasible,
		"restart", result.Restart,
	)

	broadcastState(jm, jobID)
	return nil
}

// RunJob runs one job synchronously outside the HTTP server. It persists to
// st like a served job and returns the finished job.
func RunJob(ctx context.Context, st store.Store, jobID string, cfg JobConfig, start []float64, appendTrace bool) (Job, error) {
	jm := NewJobManager()
	if _, err := jm.CreateJobWithID(jobID, cfg); err != nil {
		return Job{}, err
	}
	err := runJob(ctx, jm, st, jobID, runOptions{Start: start, AppendTrace: appendTrace})
	job, _ := jm.GetJob(jobID)
	return job, err
}

// recordProgress folds one search iteration into the job.
// The refinement objective is not comparable to the exploration one, so the
// job's best is reset when the first refinement step arrives.
func recordProgress(jm *JobManager, jobID string, p fit.Progress) {
	jm.UpdateJob(jobID, func(j *Job) {
		j.Iterations++
		if p.Step.Accepted {
			j.Accepted++
		}

		best := p.Step.Best
		switch {
		case j.Phase == fit.PhaseRefinement && p.Phase == fit.PhaseExploration:
			return
		case j.Phase != p.Phase:
			j.Phase = p.Phase
		case len(j.BestAmounts) > 0 && best.F >= j.BestCost:
			return
		}
		j.BestCost = best.F
		j.BestAmounts = append(j.BestAmounts[:0], best.X...)
	})
}

func traceEntry(p fit.Progress) store.TraceEntry {
	entry := store.TraceEntry{
		Iteration: p.Step.Iteration,
		Phase:     p.Phase,
		Restart:   p.Restart,
		Cost:      p.Step.Best.F,
		Candidate: p.Step.Candidate.F,
		Accepted:  p.Step.Accepted,
		StepSize:  p.Step.StepSize,
		Timestamp: time.Now(),
	}
	if p.Step.Accepted {
		entry.Amounts = append([]float64(nil), p.Step.Best.X...)
	}
	return entry
}

// progressEvent builds the SSE payload for the job's current state
func progressEvent(job Job) ProgressEvent {
	elapsed := job.Elapsed().Seconds()
	var ips float64
	if elapsed > 0 {
		ips = float64(job.Iterations) / elapsed
	}
	return ProgressEvent{
		JobID:      job.ID,
		State:      job.State,
		Phase:      job.Phase,
		Iterations: job.Iterations,
		Accepted:   job.Accepted,
		BestCost:   job.BestCost,
		IPS:        ips,
		Timestamp:  time.Now(),
	}
}

func broadcastState(jm *JobManager, jobID string) {
	if job, ok := jm.GetJob(jobID); ok {
		jm.broadcaster.Broadcast(progressEvent(job))
	}
}

// monitorProgress periodically broadcasts progress events during the search
func monitorProgress(ctx context.Context, jm *JobManager, jobID string, done chan struct{}) {
	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			broadcastState(jm, jobID)
		}
	}
}

// markJobFailed marks a job as failed with an error message
func markJobFailed(jm *JobManager, jobID string, err error) {
	endTime := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateFailed
		j.Error = err.Error()
		j.EndTime = &endTime
	})
	slog.Error("Job failed", "job_id", jobID, "error", err)
}

// markJobCancelled marks a job as cancelled
func markJobCancelled(jm *JobManager, jobID string) {
	endTime := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateCancelled
		j.EndTime = &endTime
	})
	slog.Info("Job cancelled", "job_id", jobID)
}

// monitorCheckpoints periodically saves checkpoints during the search
func monitorCheckpoints(ctx context.Context, jm *JobManager, st store.Store, jobID string, done chan struct{}) {
	job, exists := jm.GetJob(jobID)
	if !exists {
		return
	}

	interval := time.Duration(job.Config.CheckpointInterval) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := saveCheckpoint(jm, st, jobID); err != nil {
				slog.Error("Failed to save checkpoint", "job_id", jobID, "error", err)
			}
		}
	}
}

// saveCheckpoint saves a checkpoint for the given job
func saveCheckpoint(jm *JobManager, st store.Store, jobID string) error {
	job, exists := jm.GetJob(jobID)
	if !exists {
		return fmt.Errorf("job not found: %s", jobID)
	}

	if len(job.BestAmounts) == 0 {
		slog.Debug("Skipping checkpoint, no accepted blend yet", "job_id", jobID)
		return nil
	}

	baseCost := job.BaseCost
	if cat, err := job.Config.BuildCatalog(); err == nil {
		baseCost = fit.Evaluate(cat, job.BestAmounts).Cost
	}

	checkpoint := store.NewCheckpoint(
		jobID,
		job.BestAmounts,
		job.BestCost,
		baseCost,
		job.Iterations,
		job.Phase,
		job.Config,
	)

	if err := st.SaveCheckpoint(jobID, checkpoint); err != nil {
		checkpointErrors.WithLabelValues("checkpoint").Inc()
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}

	slog.Info("Checkpoint saved",
		"job_id", jobID,
		"phase", job.Phase,
		"iteration", job.Iterations,
		"best_cost", job.BestCost,
	)
	return nil
}

// saveReport stores the job's final report as JSON
func saveReport(jm *JobManager, st store.Store, jobID string) error {
	job, exists := jm.GetJob(jobID)
	if !exists {
		return fmt.Errorf("job not found: %s", jobID)
	}
	if job.Report == nil {
		return nil
	}
	data, err := json.Marshal(job.Report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	return st.SaveReport(jobID, data)
}
