package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
)

const (
	checkpointFile = "checkpoint.json"
	reportFile     = "report.json"
)

// FSStore keeps each job in its own directory: <baseDir>/jobs/<jobID>/.
//
// Writes go through a temp file and a rename, so no locking is needed and
// concurrent callers never observe a partial file.
type FSStore struct {
	baseDir string
}

// NewFSStore creates a filesystem store rooted at baseDir, creating it if needed
func NewFSStore(baseDir string) (*FSStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	return &FSStore{baseDir: baseDir}, nil
}

func (fs *FSStore) jobDir(jobID string) string {
	return filepath.Join(fs.baseDir, "jobs", jobID)
}

func (fs *FSStore) path(jobID, name string) string {
	return filepath.Join(fs.jobDir(jobID), name)
}

// writeAtomic writes data to the job directory via temp file + rename
func (fs *FSStore) writeAtomic(jobID, name string, data []byte) error {
	if err := os.MkdirAll(fs.jobDir(jobID), 0755); err != nil {
		return fmt.Errorf("failed to create job directory: %w", err)
	}

	final := fs.path(jobID, name)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to rename %s: %w", name, err)
	}
	return nil
}

// SaveCheckpoint overwrites the job's checkpoint.json
func (fs *FSStore) SaveCheckpoint(jobID string, checkpoint *Checkpoint) error {
	if jobID == "" {
		return fmt.Errorf("jobID cannot be empty")
	}
	if checkpoint == nil {
		return fmt.Errorf("checkpoint cannot be nil")
	}

	data, err := json.MarshalIndent(checkpoint, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize checkpoint: %w", err)
	}
	if err := fs.writeAtomic(jobID, checkpointFile, data); err != nil {
		return err
	}

	slog.Debug("Checkpoint saved", "jobID", jobID, "phase", checkpoint.Phase, "iteration", checkpoint.Iteration)
	return nil
}

// LoadCheckpoint reads the job's checkpoint.json
func (fs *FSStore) LoadCheckpoint(jobID string) (*Checkpoint, error) {
	if jobID == "" {
		return nil, fmt.Errorf("jobID cannot be empty")
	}

	data, err := os.ReadFile(fs.path(jobID, checkpointFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, &NotFoundError{JobID: jobID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint file: %w", err)
	}

	var checkpoint Checkpoint
	if err := json.Unmarshal(data, &checkpoint); err != nil {
		return nil, fmt.Errorf("failed to deserialize checkpoint: %w", err)
	}

	slog.Debug("Checkpoint loaded", "jobID", jobID)
	return &checkpoint, nil
}

// ListCheckpoints returns metadata for every job directory holding a
// readable checkpoint, newest first. Corrupt checkpoints are skipped.
func (fs *FSStore) ListCheckpoints() ([]CheckpointInfo, error) {
	entries, err := os.ReadDir(filepath.Join(fs.baseDir, "jobs"))
	if errors.Is(err, os.ErrNotExist) {
		return []CheckpointInfo{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read jobs directory: %w", err)
	}

	infos := []CheckpointInfo{}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		checkpoint, err := fs.LoadCheckpoint(entry.Name())
		if err != nil {
			var nf *NotFoundError
			if !errors.As(err, &nf) {
				slog.Warn("Failed to load checkpoint for listing", "jobID", entry.Name(), "error", err)
			}
			continue
		}
		infos = append(infos, checkpoint.ToInfo())
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Timestamp.After(infos[j].Timestamp)
	})

	slog.Debug("Listed checkpoints", "count", len(infos))
	return infos, nil
}

// DeleteCheckpoint removes the job directory with its checkpoint, report and trace
func (fs *FSStore) DeleteCheckpoint(jobID string) error {
	if jobID == "" {
		return fmt.Errorf("jobID cannot be empty")
	}

	dir := fs.jobDir(jobID)
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		return &NotFoundError{JobID: jobID}
	} else if err != nil {
		return fmt.Errorf("failed to stat job directory: %w", err)
	}

	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove job directory: %w", err)
	}

	slog.Debug("Checkpoint deleted", "jobID", jobID)
	return nil
}

// SaveReport writes the job's report.json
func (fs *FSStore) SaveReport(jobID string, report []byte) error {
	if jobID == "" {
		return fmt.Errorf("jobID cannot be empty")
	}
	return fs.writeAtomic(jobID, reportFile, report)
}

// LoadReport reads the job's report.json
func (fs *FSStore) LoadReport(jobID string) ([]byte, error) {
	data, err := os.ReadFile(fs.path(jobID, reportFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, &NotFoundError{JobID: jobID, What: "report"}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read report: %w", err)
	}
	return data, nil
}

// TraceDir returns the store's base directory
func (fs *FSStore) TraceDir() string {
	return fs.baseDir
}

// Close is a no-op for the filesystem store
func (fs *FSStore) Close() error {
	return nil
}
