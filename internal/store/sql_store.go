package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// SQLiteFile is the database file name inside the data directory
const SQLiteFile = "rationfit.db"

// SQLStore keeps checkpoints and reports in a SQLite database.
// Traces stay on disk under the same data directory.
type SQLStore struct {
	conn    *sqlx.DB
	baseDir string
}

type checkpointRow struct {
	JobID       string  `db:"job_id"`
	Phase       string  `db:"phase"`
	Iteration   int     `db:"iteration"`
	BestCost    float64 `db:"best_cost"`
	BaseCost    float64 `db:"base_cost"`
	Ingredients int     `db:"ingredients"`
	Nutrients   int     `db:"nutrients"`
	CatalogPath string  `db:"catalog_path"`
	CreatedAt   int64   `db:"created_at"`
}

func (r checkpointRow) info() CheckpointInfo {
	return CheckpointInfo{
		JobID:       r.JobID,
		BestCost:    r.BestCost,
		BaseCost:    r.BaseCost,
		Iteration:   r.Iteration,
		Phase:       r.Phase,
		Timestamp:   time.Unix(0, r.CreatedAt),
		Ingredients: r.Ingredients,
		Nutrients:   r.Nutrients,
		CatalogPath: r.CatalogPath,
	}
}

// NewSQLStore opens or creates <baseDir>/rationfit.db
func NewSQLStore(baseDir string) (*SQLStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	path := filepath.Join(baseDir, SQLiteFile)
	conn, err := sqlx.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// SQLite allows a single writer
	conn.SetMaxOpenConns(1)

	s := &SQLStore{conn: conn, baseDir: baseDir}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	slog.Debug("SQLite store opened", "path", path)
	return s, nil
}

// sqliteDSN applies the pragmas on every new connection, in the
// modernc.org/sqlite _pragma syntax
func sqliteDSN(path string) string {
	return path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
}

func (s *SQLStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS checkpoints (
		job_id TEXT PRIMARY KEY,
		phase TEXT NOT NULL,
		iteration INTEGER NOT NULL,
		best_cost REAL NOT NULL,
		base_cost REAL NOT NULL,
		ingredients INTEGER NOT NULL,
		nutrients INTEGER NOT NULL,
		catalog_path TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		data TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS reports (
		job_id TEXT PRIMARY KEY,
		data TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_checkpoints_created ON checkpoints(created_at);
	`
	_, err := s.conn.Exec(schema)
	return err
}

// SaveCheckpoint upserts the checkpoint row for jobID
func (s *SQLStore) SaveCheckpoint(jobID string, checkpoint *Checkpoint) error {
	if jobID == "" {
		return fmt.Errorf("jobID cannot be empty")
	}
	if checkpoint == nil {
		return fmt.Errorf("checkpoint cannot be nil")
	}

	data, err := json.Marshal(checkpoint)
	if err != nil {
		return fmt.Errorf("failed to serialize checkpoint: %w", err)
	}

	info := checkpoint.ToInfo()
	_, err = s.conn.Exec(`INSERT OR REPLACE INTO checkpoints
		(job_id, phase, iteration, best_cost, base_cost, ingredients, nutrients, catalog_path, created_at, data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		jobID, info.Phase, info.Iteration, info.BestCost, info.BaseCost,
		info.Ingredients, info.Nutrients, info.CatalogPath, info.Timestamp.UnixNano(), string(data),
	)
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}

	slog.Debug("Checkpoint saved", "jobID", jobID, "phase", checkpoint.Phase, "iteration", checkpoint.Iteration)
	return nil
}

// LoadCheckpoint returns the checkpoint for jobID
func (s *SQLStore) LoadCheckpoint(jobID string) (*Checkpoint, error) {
	if jobID == "" {
		return nil, fmt.Errorf("jobID cannot be empty")
	}

	var data string
	err := s.conn.Get(&data, "SELECT data FROM checkpoints WHERE job_id = ?", jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{JobID: jobID}
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}

	var checkpoint Checkpoint
	if err := json.Unmarshal([]byte(data), &checkpoint); err != nil {
		return nil, fmt.Errorf("failed to deserialize checkpoint: %w", err)
	}
	return &checkpoint, nil
}

// ListCheckpoints returns checkpoint metadata, newest first
func (s *SQLStore) ListCheckpoints() ([]CheckpointInfo, error) {
	var rows []checkpointRow
	err := s.conn.Select(&rows, `SELECT job_id, phase, iteration, best_cost, base_cost,
		ingredients, nutrients, catalog_path, created_at
		FROM checkpoints ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}

	infos := make([]CheckpointInfo, len(rows))
	for i, r := range rows {
		infos[i] = r.info()
	}
	return infos, nil
}

// DeleteCheckpoint removes the checkpoint, report and trace of jobID
func (s *SQLStore) DeleteCheckpoint(jobID string) error {
	if jobID == "" {
		return fmt.Errorf("jobID cannot be empty")
	}

	tx, err := s.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.Exec("DELETE FROM checkpoints WHERE job_id = ?", jobID)
	if err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &NotFoundError{JobID: jobID}
	}
	if _, err := tx.Exec("DELETE FROM reports WHERE job_id = ?", jobID); err != nil {
		return fmt.Errorf("delete report: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	if err := os.RemoveAll(filepath.Join(s.baseDir, "jobs", jobID)); err != nil {
		return fmt.Errorf("failed to remove trace directory: %w", err)
	}

	slog.Debug("Checkpoint deleted", "jobID", jobID)
	return nil
}

// SaveReport upserts the report for jobID
func (s *SQLStore) SaveReport(jobID string, report []byte) error {
	if jobID == "" {
		return fmt.Errorf("jobID cannot be empty")
	}
	_, err := s.conn.Exec("INSERT OR REPLACE INTO reports (job_id, data) VALUES (?, ?)", jobID, string(report))
	if err != nil {
		return fmt.Errorf("save report: %w", err)
	}
	return nil
}

// LoadReport returns the report for jobID
func (s *SQLStore) LoadReport(jobID string) ([]byte, error) {
	var data string
	err := s.conn.Get(&data, "SELECT data FROM reports WHERE job_id = ?", jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{JobID: jobID, What: "report"}
	}
	if err != nil {
		return nil, fmt.Errorf("load report: %w", err)
	}
	return []byte(data), nil
}

// TraceDir returns the data directory holding trace files
func (s *SQLStore) TraceDir() string {
	return s.baseDir
}

// Close closes the database connection
func (s *SQLStore) Close() error {
	return s.conn.Close()
}

// Open returns the store backend by name
func Open(kind, baseDir string) (Store, error) {
	switch kind {
	case "fs", "":
		s, err := NewFSStore(baseDir)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "sqlite":
		s, err := NewSQLStore(baseDir)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store backend: %s", kind)
	}
}
