package server

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cwbudde/rationfit/internal/fit"
	"github.com/cwbudde/rationfit/internal/store"
)

// JobState represents the current state of a job
type JobState string

const (
	StatePending   JobState = "pending"
	StateRunning   JobState = "running"
	StateCompleted JobState = "completed"
	StateFailed    JobState = "failed"
	StateCancelled JobState = "cancelled"
)

// Terminal reports whether the job has finished
func (s JobState) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// JobConfig is an alias to avoid duplication with store.JobConfig
type JobConfig = store.JobConfig

// Job is a formulation run owned by the server
type Job struct {
	ID          string      `json:"id"`
	State       JobState    `json:"state"`
	Config      JobConfig   `json:"config"`
	Phase       string      `json:"phase,omitempty"`
	BestAmounts []float64   `json:"bestAmounts,omitempty"`
	BestCost    float64     `json:"bestCost"`
	BaseCost    float64     `json:"baseCost"`
	Iterations  int         `json:"iterations"`
	Accepted    int         `json:"accepted"`
	StartTime   time.Time   `json:"startTime"`
	EndTime     *time.Time  `json:"endTime,omitempty"`
	Error       string      `json:"error,omitempty"`
	Report      *fit.Report `json:"-"`
	ResumedFrom string      `json:"resumedFrom,omitempty"`
}

// Elapsed is the run time so far, or the total once finished
func (j Job) Elapsed() time.Duration {
	if j.EndTime != nil {
		return j.EndTime.Sub(j.StartTime)
	}
	return time.Since(j.StartTime)
}

// JobManager manages the lifecycle of jobs
type JobManager struct {
	mu          sync.RWMutex
	jobs        map[string]*Job
	cancels     map[string]context.CancelFunc
	broadcaster *EventBroadcaster
}

// NewJobManager creates a new JobManager
func NewJobManager() *JobManager {
	return &JobManager{
		jobs:        make(map[string]*Job),
		cancels:     make(map[string]context.CancelFunc),
		broadcaster: NewEventBroadcaster(),
	}
}

// CreateJob registers a pending job with a fresh ID
func (jm *JobManager) CreateJob(config JobConfig) Job {
	job, _ := jm.createJob(uuid.New().String(), config)
	return job
}

// CreateJobWithID registers a pending job under a known ID (resumed jobs)
func (jm *JobManager) CreateJobWithID(id string, config JobConfig) (Job, error) {
	return jm.createJob(id, config)
}

// createJob checks and inserts under one write lock so concurrent
// creations of the same ID cannot both succeed
func (jm *JobManager) createJob(id string, config JobConfig) (Job, error) {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	if _, exists := jm.jobs[id]; exists {
		return Job{}, fmt.Errorf("job already exists: %s", id)
	}
	job := &Job{
		ID:        id,
		State:     StatePending,
		Config:    config,
		StartTime: time.Now(),
	}
	jm.jobs[id] = job
	return job.snapshot(), nil
}

// GetJob returns a copy of the job
func (jm *JobManager) GetJob(id string) (Job, bool) {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	job, exists := jm.jobs[id]
	if !exists {
		return Job{}, false
	}
	return job.snapshot(), true
}

// ListJobs returns copies of all jobs, oldest first
func (jm *JobManager) ListJobs() []Job {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	jobs := make([]Job, 0, len(jm.jobs))
	for _, job := range jm.jobs {
		jobs = append(jobs, job.snapshot())
	}
	sort.Slice(jobs, func(i, k int) bool {
		return jobs[i].StartTime.Before(jobs[k].StartTime)
	})
	return jobs
}

// UpdateJob atomically updates a job using the provided function
func (jm *JobManager) UpdateJob(id string, updateFn func(*Job)) error {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job, exists := jm.jobs[id]
	if !exists {
		return fmt.Errorf("job not found: %s", id)
	}

	updateFn(job)
	return nil
}

// GetRunningJobs returns copies of the jobs currently running
func (jm *JobManager) GetRunningJobs() []Job {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	running := make([]Job, 0)
	for _, job := range jm.jobs {
		if job.State == StateRunning {
			running = append(running, job.snapshot())
		}
	}
	return running
}

// setCancel records how to stop a running job
func (jm *JobManager) setCancel(id string, cancel context.CancelFunc) {
	jm.mu.Lock()
	defer jm.mu.Unlock()
	jm.cancels[id] = cancel
}

func (jm *JobManager) clearCancel(id string) {
	jm.mu.Lock()
	defer jm.mu.Unlock()
	delete(jm.cancels, id)
}

// Cancel stops a pending or running job. It returns false when the job
// does not exist or has already finished.
func (jm *JobManager) Cancel(id string) bool {
	jm.mu.Lock()
	job, exists := jm.jobs[id]
	finished := exists && job.State.Terminal()
	cancel := jm.cancels[id]
	jm.mu.Unlock()

	if !exists || finished {
		return false
	}
	if cancel != nil {
		cancel()
	}
	return true
}

// Remove forgets a finished job. Running jobs must be cancelled first.
func (jm *JobManager) Remove(id string) error {
	jm.mu.Lock()
	job, exists := jm.jobs[id]
	if !exists {
		jm.mu.Unlock()
		return fmt.Errorf("job not found: %s", id)
	}
	if !job.State.Terminal() {
		jm.mu.Unlock()
		return fmt.Errorf("job %s is %s", id, job.State)
	}
	delete(jm.jobs, id)
	jm.mu.Unlock()

	jm.broadcaster.CleanupJob(id)
	return nil
}

// CancelAll stops every running job (server shutdown)
func (jm *JobManager) CancelAll() {
	jm.mu.Lock()
	defer jm.mu.Unlock()
	for _, cancel := range jm.cancels {
		cancel()
	}
}

func (j *Job) snapshot() Job {
	cp := *j
	cp.BestAmounts = append([]float64(nil), j.BestAmounts...)
	if j.EndTime != nil {
		end := *j.EndTime
		cp.EndTime = &end
	}
	return cp
}
