// Package registry owns the two in-memory maps the scheduler core operates
// on — jobs and tasks, both keyed by JobID — and implements the
// reload-and-diff-with-carryover semantics of ReloadCronJobs/RefreshTaskHash
// in pg_cron.c / task_states.c.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/citusdata/pg-cron/internal/jobstore"
	"github.com/citusdata/pg-cron/internal/task"
)

// Registry owns the Jobs and Tasks maps; it is not safe for concurrent
// mutation from multiple goroutines (the event loop is single-threaded),
// but Invalidate/Dirty may be called from other goroutines (a LISTEN/NOTIFY
// listener, the CLI) since they only touch an atomic flag in the store.
type Registry struct {
	store  jobstore.Store
	logger *slog.Logger

	mu    sync.Mutex
	jobs  map[jobstore.JobID]*jobstore.JobDef
	tasks map[jobstore.JobID]*task.CronTask
}

// New creates an empty registry bound to store.
func New(store jobstore.Store, logger *slog.Logger) *Registry {
	return &Registry{
		store:  store,
		logger: logger,
		jobs:   map[jobstore.JobID]*jobstore.JobDef{},
		tasks:  map[jobstore.JobID]*task.CronTask{},
	}
}

// Dirty reports (and clears) whether the registry should reload. The flag
// lives in the store and is set by a mutation made through that same store
// instance, or by Invalidate; mutations made by another process do not set
// it, and no signal handler or jobs-table trigger sets it.
func (r *Registry) Dirty() bool {
	return r.store.TakeInvalidated()
}

// Invalidate marks the registry dirty, e.g. from a CLI command or a
// LISTEN/NOTIFY trigger entry point.
func (r *Registry) Invalidate() {
	r.store.SetInvalidated()
}

// Reload rebuilds the Jobs map from the store and carries tasks over:
//  1. snapshot tasks, mark every one inactive;
//  2. discard the old jobs map, rebuild via ListJobs;
//  3. for each fresh JobDef, look up or create its task and set is_active;
//     tasks left unmatched stay inactive and drain out on their own.
func (r *Registry) Reload(ctx context.Context) error {
	jobs, err := r.store.ListJobs(ctx)
	if err != nil {
		return fmt.Errorf("registry: reload: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range r.tasks {
		t.IsActive = false
	}

	r.jobs = make(map[jobstore.JobID]*jobstore.JobDef, len(jobs))
	for _, jd := range jobs {
		r.jobs[jd.JobID] = jd

		t, ok := r.tasks[jd.JobID]
		if !ok {
			t = task.New(jd.JobID)
			r.tasks[jd.JobID] = t
			if r.logger != nil {
				r.logger.Info("registered new task", "job_id", jd.JobID)
			}
		}
		t.IsActive = jd.Active
		if jd.RunRequested {
			t.PendingRunCount++
			if r.logger != nil {
				r.logger.Info("run-now requested", "job_id", jd.JobID)
			}
		}
	}

	return nil
}

// Job returns the current JobDef for id, if any.
func (r *Registry) Job(id jobstore.JobID) (*jobstore.JobDef, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	jd, ok := r.jobs[id]
	return jd, ok
}

// Tasks returns every task in stable JobID order — the concurrency model
// guarantees the loop visits tasks in stable registry order,
// not that it guarantees anything about cross-job sequencing beyond that.
func (r *Registry) Tasks() []*task.CronTask {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]jobstore.JobID, 0, len(r.tasks))
	for id := range r.tasks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]*task.CronTask, len(ids))
	for i, id := range ids {
		out[i] = r.tasks[id]
	}
	return out
}

// PruneDrained removes tasks whose job is gone (is_active == false) and
// which have reached a terminal, resource-free state — WAITING with no
// session and nothing pending. CronTask is destroyed only when both
// conditions hold.
func (r *Registry) PruneDrained() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, t := range r.tasks {
		if t.IsActive {
			continue
		}
		if t.State == task.StateWaiting && t.Session == nil && t.PendingRunCount == 0 {
			delete(r.tasks, id)
			if r.logger != nil {
				r.logger.Info("removed drained task", "job_id", id)
			}
		}
	}
}
