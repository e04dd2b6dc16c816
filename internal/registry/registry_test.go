package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/citusdata/pg-cron/internal/jobstore"
	"github.com/citusdata/pg-cron/internal/task"
)

func newStore(t *testing.T) jobstore.Store {
	t.Helper()
	dir, err := os.MkdirTemp("", "pgcron-registry-*")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	cfg := jobstore.DefaultSQLiteConfig()
	cfg.Path = filepath.Join(dir, "test.db")
	store, err := jobstore.OpenSQLite(context.Background(), cfg)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestReloadCreatesTasks(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	id, err := store.InsertJob(ctx, jobstore.InsertJobParams{
		ScheduleText: "* * * * *",
		Command:      "SELECT 1",
		UserName:     "alice",
		Owner:        "alice",
		Active:       true,
	})
	if err != nil {
		t.Fatalf("InsertJob: %v", err)
	}

	reg := New(store, nil)
	if err := reg.Reload(ctx); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	tasks := reg.Tasks()
	if len(tasks) != 1 {
		t.Fatalf("expected 1 task, got %d", len(tasks))
	}
	if tasks[0].JobID != id {
		t.Errorf("task job id mismatch: got %d, want %d", tasks[0].JobID, id)
	}
	if !tasks[0].IsActive {
		t.Errorf("expected task to be active")
	}
}

func TestReloadCarriesTaskOverAfterDelete(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	id, err := store.InsertJob(ctx, jobstore.InsertJobParams{
		ScheduleText: "* * * * *",
		Command:      "SELECT 1",
		UserName:     "alice",
		Owner:        "alice",
		Active:       true,
	})
	if err != nil {
		t.Fatalf("InsertJob: %v", err)
	}

	reg := New(store, nil)
	if err := reg.Reload(ctx); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	// Simulate an in-flight run: the task must survive the next reload even
	// though the job row is gone, and only drain once it returns to
	// WAITING with no session.
	tasks := reg.Tasks()
	tasks[0].State = task.StateRunning

	if err := store.DeleteJob(ctx, "1", "alice", false); err != nil {
		t.Fatalf("DeleteJob: %v", err)
	}
	if err := reg.Reload(ctx); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	tasks = reg.Tasks()
	if len(tasks) != 1 {
		t.Fatalf("expected orphaned task to survive reload, got %d tasks", len(tasks))
	}
	if tasks[0].IsActive {
		t.Errorf("expected orphaned task to be marked inactive")
	}

	reg.PruneDrained()
	if len(reg.Tasks()) != 1 {
		t.Fatalf("task is still RUNNING; should not be pruned yet")
	}

	tasks[0].State = task.StateWaiting
	reg.PruneDrained()
	if len(reg.Tasks()) != 0 {
		t.Fatalf("expected drained orphaned task to be pruned")
	}
	_ = id
}

func TestReloadAppliesRunRequested(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	name := "adhoc"
	_, err := store.InsertJob(ctx, jobstore.InsertJobParams{
		ScheduleText: "0 0 1 1 *",
		Command:      "SELECT 1",
		UserName:     "alice",
		Owner:        "alice",
		Active:       true,
		JobName:      &name,
	})
	if err != nil {
		t.Fatalf("InsertJob: %v", err)
	}

	reg := New(store, nil)
	if err := reg.Reload(ctx); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if reg.Tasks()[0].PendingRunCount != 0 {
		t.Fatalf("expected no pending runs before run-now")
	}

	if err := store.TriggerRun(ctx, name); err != nil {
		t.Fatalf("TriggerRun: %v", err)
	}
	if err := reg.Reload(ctx); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if got := reg.Tasks()[0].PendingRunCount; got != 1 {
		t.Fatalf("expected run-now to add one pending run, got %d", got)
	}

	// The flag is read-once: a third reload must not add another.
	if err := reg.Reload(ctx); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if got := reg.Tasks()[0].PendingRunCount; got != 1 {
		t.Fatalf("expected run-now's pending count not to repeat, got %d", got)
	}
}

func TestDirtyFlagClearsOnTake(t *testing.T) {
	store := newStore(t)
	reg := New(store, nil)
	reg.Invalidate()
	if !reg.Dirty() {
		t.Fatalf("expected Dirty() to report true after Invalidate")
	}
	if reg.Dirty() {
		t.Fatalf("expected Dirty() to clear the flag")
	}
}
