package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// backends returns every Store implementation over a fresh temp dir
func backends(t *testing.T) map[string]Store {
	t.Helper()

	fs, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore failed: %v", err)
	}
	sq, err := NewSQLStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewSQLStore failed: %v", err)
	}
	t.Cleanup(func() { sq.Close() })

	return map[string]Store{"fs": fs, "sqlite": sq}
}

func TestStore_SaveAndLoad(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			original := createTestCheckpoint("job-save")
			if err := s.SaveCheckpoint("job-save", original); err != nil {
				t.Fatalf("SaveCheckpoint failed: %v", err)
			}

			loaded, err := s.LoadCheckpoint("job-save")
			if err != nil {
				t.Fatalf("LoadCheckpoint failed: %v", err)
			}
			if loaded.BestCost != original.BestCost || loaded.Phase != original.Phase {
				t.Errorf("loaded checkpoint differs: %+v", loaded)
			}
			if len(loaded.BestAmounts) != 2 || loaded.BestAmounts[1] != 2.4 {
				t.Errorf("BestAmounts = %v", loaded.BestAmounts)
			}
			if err := loaded.Validate(); err != nil {
				t.Errorf("loaded checkpoint invalid: %v", err)
			}
		})
	}
}

func TestStore_Overwrite(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			cp := createTestCheckpoint("job-over")
			if err := s.SaveCheckpoint("job-over", cp); err != nil {
				t.Fatal(err)
			}
			cp.Iteration = 50
			cp.BestCost = 1.5
			if err := s.SaveCheckpoint("job-over", cp); err != nil {
				t.Fatal(err)
			}

			loaded, err := s.LoadCheckpoint("job-over")
			if err != nil {
				t.Fatal(err)
			}
			if loaded.Iteration != 50 || loaded.BestCost != 1.5 {
				t.Errorf("overwrite not applied: iteration=%d cost=%f", loaded.Iteration, loaded.BestCost)
			}

			infos, err := s.ListCheckpoints()
			if err != nil {
				t.Fatal(err)
			}
			if len(infos) != 1 {
				t.Errorf("expected 1 checkpoint after overwrite, got %d", len(infos))
			}
		})
	}
}

func TestStore_LoadMissing(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.LoadCheckpoint("nope")
			if !errors.Is(err, ErrNotFound) {
				t.Errorf("expected ErrNotFound, got %v", err)
			}
			if err := s.DeleteCheckpoint("nope"); !errors.Is(err, ErrNotFound) {
				t.Errorf("expected ErrNotFound on delete, got %v", err)
			}
			if _, err := s.LoadReport("nope"); !errors.Is(err, ErrNotFound) {
				t.Errorf("expected ErrNotFound for report, got %v", err)
			}
		})
	}
}

func TestStore_EmptyJobID(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.SaveCheckpoint("", createTestCheckpoint("x")); err == nil {
				t.Error("expected error for empty jobID")
			}
			if err := s.SaveCheckpoint("x", nil); err == nil {
				t.Error("expected error for nil checkpoint")
			}
			if _, err := s.LoadCheckpoint(""); err == nil {
				t.Error("expected error for empty jobID")
			}
		})
	}
}

func TestStore_ListNewestFirst(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			infos, err := s.ListCheckpoints()
			if err != nil {
				t.Fatal(err)
			}
			if len(infos) != 0 {
				t.Fatalf("expected empty list, got %d", len(infos))
			}

			base := time.Now().Add(-time.Hour)
			for i := 0; i < 3; i++ {
				cp := createTestCheckpoint(fmt.Sprintf("job-%d", i))
				cp.Timestamp = base.Add(time.Duration(i) * time.Minute)
				if err := s.SaveCheckpoint(cp.JobID, cp); err != nil {
					t.Fatal(err)
				}
			}

			infos, err = s.ListCheckpoints()
			if err != nil {
				t.Fatal(err)
			}
			if len(infos) != 3 {
				t.Fatalf("expected 3 checkpoints, got %d", len(infos))
			}
			if infos[0].JobID != "job-2" || infos[2].JobID != "job-0" {
				t.Errorf("unexpected order: %s, %s, %s", infos[0].JobID, infos[1].JobID, infos[2].JobID)
			}
			if infos[0].Ingredients != 2 || infos[0].Phase == "" {
				t.Errorf("metadata not populated: %+v", infos[0])
			}
		})
	}
}

func TestStore_DeleteRemovesArtifacts(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.SaveCheckpoint("job-del", createTestCheckpoint("job-del")); err != nil {
				t.Fatal(err)
			}
			if err := s.SaveReport("job-del", []byte(`{"costPerUnit":23.3}`)); err != nil {
				t.Fatal(err)
			}
			tw, err := NewTraceWriter(s.TraceDir(), "job-del", false)
			if err != nil {
				t.Fatal(err)
			}
			tw.Write(TraceEntry{Iteration: 1, Phase: "exploration", Cost: 30})
			tw.Close()

			if err := s.DeleteCheckpoint("job-del"); err != nil {
				t.Fatalf("DeleteCheckpoint failed: %v", err)
			}

			if _, err := s.LoadCheckpoint("job-del"); !errors.Is(err, ErrNotFound) {
				t.Errorf("checkpoint still present: %v", err)
			}
			if _, err := s.LoadReport("job-del"); !errors.Is(err, ErrNotFound) {
				t.Errorf("report still present: %v", err)
			}
			if _, err := os.Stat(tw.Path()); !os.IsNotExist(err) {
				t.Errorf("trace file still present: %v", err)
			}
		})
	}
}

func TestStore_Reports(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.SaveReport("job-r", []byte(`{"feasible":true}`)); err != nil {
				t.Fatal(err)
			}
			data, err := s.LoadReport("job-r")
			if err != nil {
				t.Fatal(err)
			}
			if string(data) != `{"feasible":true}` {
				t.Errorf("report = %s", data)
			}
		})
	}
}

func TestStore_ConcurrentSaves(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			var wg sync.WaitGroup
			errs := make(chan error, 10)
			for i := 0; i < 10; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					id := fmt.Sprintf("job-%d", i%3)
					cp := createTestCheckpoint(id)
					cp.Iteration = i
					if err := s.SaveCheckpoint(id, cp); err != nil {
						errs <- err
					}
				}(i)
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				t.Errorf("concurrent save failed: %v", err)
			}

			infos, err := s.ListCheckpoints()
			if err != nil {
				t.Fatal(err)
			}
			if len(infos) != 3 {
				t.Errorf("expected 3 checkpoints, got %d", len(infos))
			}
		})
	}
}

func TestFSStore_SkipsCorruptCheckpoints(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFSStore(dir)
	if err != nil {
		t.Fatal(err)
	}

	if err := s.SaveCheckpoint("good", createTestCheckpoint("good")); err != nil {
		t.Fatal(err)
	}
	bad := filepath.Join(dir, "jobs", "bad")
	if err := os.MkdirAll(bad, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(bad, "checkpoint.json"), []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "jobs", "empty"), 0755); err != nil {
		t.Fatal(err)
	}

	infos, err := s.ListCheckpoints()
	if err != nil {
		t.Fatal(err)
	}
	if len(infos) != 1 || infos[0].JobID != "good" {
		t.Errorf("expected only the good checkpoint, got %+v", infos)
	}
}

func TestFSStore_NoTempFilesLeft(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFSStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SaveCheckpoint("job", createTestCheckpoint("job")); err != nil {
		t.Fatal(err)
	}

	matches, _ := filepath.Glob(filepath.Join(dir, "jobs", "job", "*.tmp"))
	if len(matches) != 0 {
		t.Errorf("temp files left behind: %v", matches)
	}
}

func TestSQLStore_Pragmas(t *testing.T) {
	s, err := NewSQLStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewSQLStore failed: %v", err)
	}
	defer s.Close()

	var mode string
	if err := s.conn.Get(&mode, "PRAGMA journal_mode"); err != nil {
		t.Fatal(err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want wal", mode)
	}

	var timeout int
	if err := s.conn.Get(&timeout, "PRAGMA busy_timeout"); err != nil {
		t.Fatal(err)
	}
	if timeout != 5000 {
		t.Errorf("busy_timeout = %d, want 5000", timeout)
	}
}

func TestOpen(t *testing.T) {
	for _, kind := range []string{"", "fs", "sqlite"} {
		s, err := Open(kind, t.TempDir())
		if err != nil {
			t.Errorf("Open(%q) failed: %v", kind, err)
			continue
		}
		s.Close()
	}
	if _, err := Open("postgres", t.TempDir()); err == nil {
		t.Error("expected error for unknown backend")
	}
}
