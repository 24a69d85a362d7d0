package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/conductor-go/conductor/pkg/models"
)

func openMemory(t *testing.T) *ResultStore {
	t.Helper()
	s, err := Open(MemoryPath)
	if err != nil {
		t.Fatalf("Open(%q) = %v", MemoryPath, err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutGet(t *testing.T) {
	s := openMemory(t)

	res := models.TaskResult{
		TaskID:        "fetch",
		Status:        models.TaskStatusSucceeded,
		Output:        map[string]any{"rows": float64(12)},
		ExecutionTime: 250 * time.Millisecond,
	}
	if err := s.Put(res); err != nil {
		t.Fatalf("Put() = %v", err)
	}

	got, err := s.Get("fetch")
	if err != nil {
		t.Fatalf("Get() = %v", err)
	}
	if got.Status != models.TaskStatusSucceeded {
		t.Errorf("Status = %s, expected succeeded", got.Status)
	}
	if got.ExecutionTime != 250*time.Millisecond {
		t.Errorf("ExecutionTime = %s, expected 250ms", got.ExecutionTime)
	}
	out, ok := got.Output.(map[string]any)
	if !ok || out["rows"] != float64(12) {
		t.Errorf("Output = %v, expected rows=12", got.Output)
	}
}

func TestGet_NotFound(t *testing.T) {
	s := openMemory(t)
	_, err := s.Get("ghost")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(ghost) = %v, expected ErrNotFound", err)
	}
}

func TestPut_LastWriteWinsWhileNonTerminal(t *testing.T) {
	s := openMemory(t)

	interim := models.TaskResult{
		TaskID: "flaky",
		Status: models.TaskStatusPending,
		Error:  "attempt 1 failed",
		Attempts: []models.AttemptError{
			{Attempt: 1, Error: "attempt 1 failed", At: time.Now()},
		},
	}
	if err := s.Put(interim); err != nil {
		t.Fatalf("interim Put() = %v", err)
	}

	final := models.TaskResult{
		TaskID:   "flaky",
		Status:   models.TaskStatusSucceeded,
		Output:   "done",
		Attempts: interim.Attempts,
	}
	if err := s.Put(final); err != nil {
		t.Fatalf("final Put() = %v", err)
	}

	got, err := s.Get("flaky")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.TaskStatusSucceeded {
		t.Errorf("Status = %s, expected succeeded", got.Status)
	}
	if len(got.Attempts) != 1 || got.Attempts[0].Error != "attempt 1 failed" {
		t.Errorf("Attempts = %v, expected the recorded attempt history", got.Attempts)
	}
}

func TestPut_RejectsWriteAfterTerminal(t *testing.T) {
	terminal := []models.TaskStatus{
		models.TaskStatusSucceeded,
		models.TaskStatusFailed,
		models.TaskStatusSkipped,
	}

	for _, status := range terminal {
		t.Run(string(status), func(t *testing.T) {
			s := openMemory(t)
			if err := s.Put(models.TaskResult{TaskID: "t", Status: status}); err != nil {
				t.Fatalf("Put() = %v", err)
			}

			err := s.Put(models.TaskResult{TaskID: "t", Status: models.TaskStatusSucceeded})
			if !errors.Is(err, ErrInvalidStateTransition) {
				t.Errorf("Put() after %s = %v, expected ErrInvalidStateTransition", status, err)
			}
		})
	}
}

func TestAll_OrderedByTaskID(t *testing.T) {
	s := openMemory(t)
	for _, id := range []string{"c", "a", "b"} {
		if err := s.Put(models.TaskResult{TaskID: id, Status: models.TaskStatusSucceeded}); err != nil {
			t.Fatal(err)
		}
	}

	all, err := s.All()
	if err != nil {
		t.Fatalf("All() = %v", err)
	}
	want := []string{"a", "b", "c"}
	if len(all) != len(want) {
		t.Fatalf("All() returned %d results, expected %d", len(all), len(want))
	}
	for i, id := range want {
		if all[i].TaskID != id {
			t.Errorf("All()[%d].TaskID = %s, expected %s", i, all[i].TaskID, id)
		}
	}
}

func TestOpen_FileBacked(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "results.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open(%q) = %v", path, err)
	}
	defer s.Close()

	if s.Path() != path {
		t.Errorf("Path() = %s, expected %s", s.Path(), path)
	}
	if err := s.Put(models.TaskResult{TaskID: "t", Status: models.TaskStatusSucceeded}); err != nil {
		t.Errorf("Put() = %v", err)
	}
}

func TestOpen_EmptyPathDefaultsToMemory(t *testing.T) {
	s, err := Open("")
	if err != nil {
		t.Fatalf("Open(\"\") = %v", err)
	}
	defer s.Close()
	if s.Path() != MemoryPath {
		t.Errorf("Path() = %s, expected %s", s.Path(), MemoryPath)
	}
}
