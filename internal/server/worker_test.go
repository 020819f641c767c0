package server

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/cwbudde/rationfit/internal/fit"
	"github.com/cwbudde/rationfit/internal/opt"
	"github.com/cwbudde/rationfit/internal/store"
)

func newFSStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore failed: %v", err)
	}
	return st
}

func TestRunJob_Success(t *testing.T) {
	jm := NewJobManager()
	st := newFSStore(t)
	job := jm.CreateJob(testConfig())

	if err := runJob(context.Background(), jm, st, job.ID, runOptions{}); err != nil {
		t.Fatalf("runJob failed: %v", err)
	}

	done, _ := jm.GetJob(job.ID)
	if done.State != StateCompleted {
		t.Fatalf("State = %s, want completed (error: %s)", done.State, done.Error)
	}
	if done.EndTime == nil {
		t.Error("EndTime not set")
	}
	if len(done.BestAmounts) != 2 {
		t.Errorf("BestAmounts = %v", done.BestAmounts)
	}
	if done.Phase != fit.PhaseRefinement {
		t.Errorf("Phase = %s, want refinement", done.Phase)
	}
	if done.Iterations != 10 {
		t.Errorf("Iterations = %d, want 10", done.Iterations)
	}
	if done.Report == nil || done.BaseCost <= 0 {
		t.Fatalf("report/base cost missing: %+v", done)
	}

	cp, err := st.LoadCheckpoint(job.ID)
	if err != nil {
		t.Fatalf("final checkpoint missing: %v", err)
	}
	if cp.Phase != fit.PhaseRefinement || len(cp.BestAmounts) != 2 {
		t.Errorf("unexpected checkpoint: %+v", cp)
	}

	data, err := st.LoadReport(job.ID)
	if err != nil {
		t.Fatalf("report not stored: %v", err)
	}
	var report fit.Report
	if err := json.Unmarshal(data, &report); err != nil {
		t.Fatalf("stored report is not JSON: %v", err)
	}
	if len(report.Ingredients) != 2 {
		t.Errorf("report has %d ingredients", len(report.Ingredients))
	}

	reader, err := store.NewTraceReader(st.TraceDir(), job.ID)
	if err != nil {
		t.Fatalf("trace missing: %v", err)
	}
	defer reader.Close()
	entries, err := reader.ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 10 {
		t.Errorf("trace has %d entries, want 10", len(entries))
	}
}

func TestRunJob_WithoutStore(t *testing.T) {
	jm := NewJobManager()
	job := jm.CreateJob(testConfig())

	if err := runJob(context.Background(), jm, nil, job.ID, runOptions{}); err != nil {
		t.Fatalf("runJob failed: %v", err)
	}
	done, _ := jm.GetJob(job.ID)
	if done.State != StateCompleted {
		t.Errorf("State = %s, want completed", done.State)
	}
}

func TestRunJob_InvalidCatalog(t *testing.T) {
	jm := NewJobManager()
	cfg := testConfig()
	cfg.Catalog.Ingredients[0].Cost = nil
	job := jm.CreateJob(cfg)

	if err := runJob(context.Background(), jm, nil, job.ID, runOptions{}); err == nil {
		t.Fatal("expected error for invalid catalog")
	}

	failed, _ := jm.GetJob(job.ID)
	if failed.State != StateFailed {
		t.Errorf("State = %s, want failed", failed.State)
	}
	if failed.Error == "" {
		t.Error("Error message not recorded")
	}
}

func TestRunJob_BadStartVector(t *testing.T) {
	jm := NewJobManager()
	job := jm.CreateJob(testConfig())

	err := runJob(context.Background(), jm, nil, job.ID, runOptions{Start: []float64{1}})
	if err == nil {
		t.Fatal("expected error for mismatched start vector")
	}
	failed, _ := jm.GetJob(job.ID)
	if failed.State != StateFailed {
		t.Errorf("State = %s, want failed", failed.State)
	}
}

func TestRunJob_Cancellation(t *testing.T) {
	jm := NewJobManager()
	job := jm.CreateJob(testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := runJob(ctx, jm, nil, job.ID, runOptions{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	cancelled, _ := jm.GetJob(job.ID)
	if cancelled.State != StateCancelled {
		t.Errorf("State = %s, want cancelled", cancelled.State)
	}
}

func TestRunJob_ResumeAppendsTrace(t *testing.T) {
	jm := NewJobManager()
	st := newFSStore(t)

	first, _ := jm.CreateJobWithID("job-resume", testConfig())
	if err := runJob(context.Background(), jm, st, first.ID, runOptions{}); err != nil {
		t.Fatal(err)
	}
	cp, err := st.LoadCheckpoint(first.ID)
	if err != nil {
		t.Fatal(err)
	}

	if err := jm.Remove(first.ID); err != nil {
		t.Fatal(err)
	}
	second, _ := jm.CreateJobWithID("job-resume", cp.Config)
	if err := runJob(context.Background(), jm, st, second.ID, runOptions{Start: cp.BestAmounts, AppendTrace: true}); err != nil {
		t.Fatal(err)
	}

	resumed, _ := jm.GetJob(second.ID)
	if resumed.State != StateCompleted {
		t.Errorf("resumed state = %s (%s)", resumed.State, resumed.Error)
	}

	reader, err := store.NewTraceReader(st.TraceDir(), second.ID)
	if err != nil {
		t.Fatal(err)
	}
	defer reader.Close()
	entries, _ := reader.ReadAll()
	if len(entries) != 20 {
		t.Errorf("trace has %d entries after resume, want 20", len(entries))
	}
}

func TestRecordProgress(t *testing.T) {
	jm := NewJobManager()
	job := jm.CreateJob(testConfig())

	step := func(phase string, f float64, accepted bool) fit.Progress {
		return fit.Progress{
			Phase: phase,
			Step: opt.Step{
				Best:     opt.Candidate{X: []float64{f, f}, F: f},
				Accepted: accepted,
			},
		}
	}

	recordProgress(jm, job.ID, step(fit.PhaseExploration, 50, true))
	recordProgress(jm, job.ID, step(fit.PhaseExploration, 60, false))
	got, _ := jm.GetJob(job.ID)
	if got.BestCost != 50 || got.Phase != fit.PhaseExploration {
		t.Errorf("exploration best = %f/%s, want 50/exploration", got.BestCost, got.Phase)
	}

	// refinement resets the best even when its value is higher
	recordProgress(jm, job.ID, step(fit.PhaseRefinement, 70, true))
	got, _ = jm.GetJob(job.ID)
	if got.BestCost != 70 || got.Phase != fit.PhaseRefinement {
		t.Errorf("refinement best = %f/%s, want 70/refinement", got.BestCost, got.Phase)
	}

	// a slower restart still exploring does not overwrite the refinement best
	recordProgress(jm, job.ID, step(fit.PhaseExploration, 10, true))
	got, _ = jm.GetJob(job.ID)
	if got.BestCost != 70 {
		t.Errorf("exploration step overwrote refinement best: %f", got.BestCost)
	}

	if got.Iterations != 4 || got.Accepted != 3 {
		t.Errorf("counters = %d/%d, want 4/3", got.Iterations, got.Accepted)
	}
}

func TestTraceEntry(t *testing.T) {
	p := fit.Progress{
		Restart: 2,
		Phase:   fit.PhaseRefinement,
		Step: opt.Step{
			Iteration: 7,
			Candidate: opt.Candidate{X: []float64{3, 4}, F: 30},
			Best:      opt.Candidate{X: []float64{1, 2}, F: 25},
			StepSize:  1.35,
		},
	}

	entry := traceEntry(p)
	if entry.Iteration != 7 || entry.Restart != 2 || entry.Cost != 25 || entry.Candidate != 30 {
		t.Errorf("unexpected entry: %+v", entry)
	}
	if entry.Amounts != nil {
		t.Error("amounts should only be written for accepted steps")
	}

	p.Step.Accepted = true
	if entry := traceEntry(p); len(entry.Amounts) != 2 {
		t.Errorf("accepted step amounts = %v", entry.Amounts)
	}
}

func TestRunJob_Synchronous(t *testing.T) {
	st := newFSStore(t)

	job, err := RunJob(context.Background(), st, "cli-job", testConfig(), nil, false)
	if err != nil {
		t.Fatalf("RunJob failed: %v", err)
	}
	if job.ID != "cli-job" || job.State != StateCompleted || job.Report == nil {
		t.Errorf("unexpected job: %+v", job)
	}
	if _, err := st.LoadCheckpoint("cli-job"); err != nil {
		t.Errorf("checkpoint not saved: %v", err)
	}
}
