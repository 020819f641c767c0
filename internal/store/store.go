package store

import "fmt"

// Store persists formulation checkpoints and final reports per job.
// Implementations are safe for concurrent use; a job's trace lives as
// JSONL under TraceDir regardless of backend.
type Store interface {
	// SaveCheckpoint replaces the job's checkpoint atomically, so readers
	// see either the previous blend or the new one.
	SaveCheckpoint(jobID string, checkpoint *Checkpoint) error

	// LoadCheckpoint returns ErrNotFound when the job has no checkpoint.
	LoadCheckpoint(jobID string) (*Checkpoint, error)

	// ListCheckpoints returns summaries, newest first. Unreadable entries
	// are skipped.
	ListCheckpoints() ([]CheckpointInfo, error)

	// DeleteCheckpoint removes the checkpoint together with the job's
	// report and trace. Returns ErrNotFound for unknown jobs.
	DeleteCheckpoint(jobID string) error

	SaveReport(jobID string, report []byte) error
	LoadReport(jobID string) ([]byte, error)

	TraceDir() string
	Close() error
}

var (
	_ Store = (*FSStore)(nil)
	_ Store = (*SQLStore)(nil)
)

// ErrNotFound matches any *NotFoundError via errors.Is.
var ErrNotFound = &NotFoundError{}

// NotFoundError reports a job with no stored artifact of the given kind
type NotFoundError struct {
	JobID string
	What  string // "checkpoint", "report" or "trace"; empty means checkpoint
}

func (e *NotFoundError) Error() string {
	what := e.What
	if what == "" {
		what = "checkpoint"
	}
	if e.JobID == "" {
		return what + " not found"
	}
	return fmt.Sprintf("%s not found: %s", what, e.JobID)
}

func (e *NotFoundError) Is(target error) bool {
	_, ok := target.(*NotFoundError)
	return ok
}
