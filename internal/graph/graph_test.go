package graph

import (
	"errors"
	"testing"

	"github.com/conductor-go/conductor/pkg/models"
)

func task(id string, deps ...string) *models.Task {
	return &models.Task{ID: id, AgentID: "agent", DependsOn: deps, Status: models.TaskStatusPending}
}

func TestBuild_Valid(t *testing.T) {
	g := New()
	tasks := []*models.Task{
		task("a"),
		task("b", "a"),
		task("c", "a", "b"),
	}
	if err := g.Build(tasks); err != nil {
		t.Fatalf("Build() = %v, expected nil", err)
	}
	if g.Size() != 3 {
		t.Errorf("Size() = %d, expected 3", g.Size())
	}
}

func TestBuild_DuplicateTask(t *testing.T) {
	g := New()
	err := g.Build([]*models.Task{task("a"), task("a")})
	if !errors.Is(err, ErrDuplicateTask) {
		t.Errorf("Build() = %v, expected ErrDuplicateTask", err)
	}
}

func TestBuild_UnknownDependency(t *testing.T) {
	g := New()
	err := g.Build([]*models.Task{task("a", "ghost")})
	if !errors.Is(err, ErrUnknownDependency) {
		t.Errorf("Build() = %v, expected ErrUnknownDependency", err)
	}
}

func TestBuild_CycleDetection(t *testing.T) {
	tests := []struct {
		name  string
		tasks []*models.Task
	}{
		{"self loop", []*models.Task{task("a", "a")}},
		{"two node cycle", []*models.Task{task("a", "b"), task("b", "a")}},
		{"three node cycle", []*models.Task{task("a", "c"), task("b", "a"), task("c", "b")}},
		{"cycle behind valid prefix", []*models.Task{
			task("root"),
			task("a", "root", "c"),
			task("b", "a"),
			task("c", "b"),
		}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			g := New()
			err := g.Build(tc.tasks)
			if !errors.Is(err, ErrCycleDetected) {
				t.Errorf("Build() = %v, expected ErrCycleDetected", err)
			}
		})
	}
}

func TestBuild_DiamondIsNotACycle(t *testing.T) {
	g := New()
	tasks := []*models.Task{
		task("a"),
		task("b", "a"),
		task("c", "a"),
		task("d", "b", "c"),
	}
	if err := g.Build(tasks); err != nil {
		t.Fatalf("Build() = %v, expected nil", err)
	}
}

func TestReady_InitialSet(t *testing.T) {
	g := New()
	tasks := []*models.Task{
		task("a"),
		task("b", "a"),
		task("c"),
	}
	if err := g.Build(tasks); err != nil {
		t.Fatal(err)
	}

	ready := g.Ready()
	if len(ready) != 2 {
		t.Fatalf("Ready() returned %d tasks, expected 2", len(ready))
	}
	if ready[0].ID != "a" || ready[1].ID != "c" {
		t.Errorf("Ready() = [%s %s], expected [a c]", ready[0].ID, ready[1].ID)
	}
}

func TestReady_Ordering(t *testing.T) {
	g := New()
	low := task("low")
	high := task("high")
	alsoHigh := task("also-high")
	low.Priority = 1
	high.Priority = 10
	alsoHigh.Priority = 10

	if err := g.Build([]*models.Task{low, high, alsoHigh}); err != nil {
		t.Fatal(err)
	}

	ready := g.Ready()
	if len(ready) != 3 {
		t.Fatalf("Ready() returned %d tasks, expected 3", len(ready))
	}

	// Priority descending, then insertion order for ties.
	want := []string{"high", "also-high", "low"}
	for i, id := range want {
		if ready[i].ID != id {
			t.Errorf("Ready()[%d] = %s, expected %s", i, ready[i].ID, id)
		}
	}
}

func TestReady_ExcludesDispatched(t *testing.T) {
	g := New()
	a := task("a")
	if err := g.Build([]*models.Task{a}); err != nil {
		t.Fatal(err)
	}

	a.Status = models.TaskStatusRunning
	if got := g.Ready(); len(got) != 0 {
		t.Errorf("Ready() returned %d tasks for a running task, expected 0", len(got))
	}

	a.Status = models.TaskStatusSucceeded
	if got := g.Ready(); len(got) != 0 {
		t.Errorf("Ready() returned %d tasks for a succeeded task, expected 0", len(got))
	}
}

func TestMarkSucceeded_Incremental(t *testing.T) {
	g := New()
	tasks := []*models.Task{
		task("a"),
		task("b"),
		task("c", "a", "b"),
		task("d", "c"),
	}
	if err := g.Build(tasks); err != nil {
		t.Fatal(err)
	}

	if newly := g.MarkSucceeded("a"); len(newly) != 0 {
		t.Errorf("MarkSucceeded(a) = %v, expected no newly ready tasks", newly)
	}

	newly := g.MarkSucceeded("b")
	if len(newly) != 1 || newly[0] != "c" {
		t.Errorf("MarkSucceeded(b) = %v, expected [c]", newly)
	}

	newly = g.MarkSucceeded("c")
	if len(newly) != 1 || newly[0] != "d" {
		t.Errorf("MarkSucceeded(c) = %v, expected [d]", newly)
	}
}

func TestMarkSucceeded_Idempotent(t *testing.T) {
	g := New()
	if err := g.Build([]*models.Task{task("a"), task("b", "a")}); err != nil {
		t.Fatal(err)
	}

	first := g.MarkSucceeded("a")
	if len(first) != 1 {
		t.Fatalf("MarkSucceeded(a) = %v, expected [b]", first)
	}
	if again := g.MarkSucceeded("a"); again != nil {
		t.Errorf("repeated MarkSucceeded(a) = %v, expected nil", again)
	}
	if unknown := g.MarkSucceeded("ghost"); unknown != nil {
		t.Errorf("MarkSucceeded(ghost) = %v, expected nil", unknown)
	}
}

func TestDependenciesAndDependents(t *testing.T) {
	g := New()
	if err := g.Build([]*models.Task{task("a"), task("b", "a"), task("c", "a")}); err != nil {
		t.Fatal(err)
	}

	deps := g.Dependencies("b")
	if len(deps) != 1 || deps[0] != "a" {
		t.Errorf("Dependencies(b) = %v, expected [a]", deps)
	}

	dependents := g.Dependents("a")
	if len(dependents) != 2 {
		t.Errorf("Dependents(a) = %v, expected [b c]", dependents)
	}
}

func TestTasks_InsertionOrder(t *testing.T) {
	g := New()
	if err := g.Build([]*models.Task{task("z"), task("a"), task("m")}); err != nil {
		t.Fatal(err)
	}

	all := g.Tasks()
	want := []string{"z", "a", "m"}
	for i, id := range want {
		if all[i].ID != id {
			t.Errorf("Tasks()[%d] = %s, expected %s", i, all[i].ID, id)
		}
	}
}

func TestTask_Unknown(t *testing.T) {
	g := New()
	if got := g.Task("ghost"); got != nil {
		t.Errorf("Task(ghost) = %v, expected nil", got)
	}
}
