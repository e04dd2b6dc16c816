// Package eventloop drives the single-threaded, cooperative main loop:
// accept invalidations, reload the registry if dirty, run the scheduler
// tick, poll every in-flight task's socket (or sleep) until the next event,
// then advance every task's state machine once. Grounded line-for-line on
// RunCronJobs/WaitForCronTasks/PollForTasks/ManageCronTasks in pg_cron.c.
package eventloop

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sys/unix"

	"github.com/citusdata/pg-cron/internal/jobstore"
	"github.com/citusdata/pg-cron/internal/registry"
	"github.com/citusdata/pg-cron/internal/scheduler"
	"github.com/citusdata/pg-cron/internal/session"
	"github.com/citusdata/pg-cron/internal/task"
	"github.com/citusdata/pg-cron/internal/timeutil"
)

// MaxWait is the hard cap on how long a single poll/sleep step may block:
// the loop must wake at least once per second to notice reloads, signals,
// and minute boundaries.
const MaxWait = time.Second

// housekeepingInterval is how often TrimRunDetails runs.
const housekeepingInterval = time.Hour

// trimKeepRows is the retention bound on cron_job_run_details.
const trimKeepRows = 100_000

// Loop owns the registry and scheduler tick for the lifetime of the
// process; both are created at loop start and discarded at loop exit
// to avoid global mutable state.
type Loop struct {
	store    jobstore.Store
	registry *registry.Registry
	tick     *scheduler.Tick
	deps     task.Deps
	logger   *slog.Logger

	openSession func(job *jobstore.JobDef) (session.Session, error)

	lastHousekeeping time.Time
}

// Option configures a Loop at construction time.
type Option func(*Loop)

// WithOpenSession overrides how the loop opens a dispatch session for a due
// job; tests substitute an in-memory fake here instead of session.Open.
func WithOpenSession(fn func(job *jobstore.JobDef) (session.Session, error)) Option {
	return func(l *Loop) { l.openSession = fn }
}

// New constructs a Loop bound to store, with connectTimeout applied to
// every task's CONNECTING/SENDING deadline.
func New(store jobstore.Store, logger *slog.Logger, connectTimeout time.Duration, opts ...Option) *Loop {
	l := &Loop{
		store:    store,
		registry: registry.New(store, logger),
		tick:     scheduler.New(),
		logger:   logger,
		openSession: func(job *jobstore.JobDef) (session.Session, error) {
			return session.Open(session.Target{
				Host:     job.NodeName,
				Port:     job.NodePort,
				Database: job.Database,
				User:     job.UserName,
			})
		},
	}
	for _, opt := range opts {
		opt(l)
	}
	l.deps = task.Deps{
		Store:          store,
		OpenSession:    l.openSession,
		ConnectTimeout: connectTimeout,
		Logger:         logger,
	}
	return l
}

// Registry exposes the loop's registry, e.g. so a CLI mutation path can call
// Invalidate() directly against the same instance (in-process callers) in
// addition to the store-level flag every Store implementation also exposes.
func (l *Loop) Registry() *registry.Registry { return l.registry }

// Run executes the event loop until ctx is cancelled. It performs the
// crash-recovery mark exactly once at startup, on every start; neither Run
// nor cmd/pgcron's serve command takes a process-level lock around it.
func (l *Loop) Run(ctx context.Context) error {
	if err := l.store.MarkPendingRunsFailed(ctx); err != nil {
		l.logger.Error("mark pending runs failed at startup", "error", err)
	}
	if err := l.registry.Reload(ctx); err != nil {
		return err
	}
	l.lastHousekeeping = time.Now().UTC()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if l.registry.Dirty() {
			if err := l.registry.Reload(ctx); err != nil {
				l.logger.Error("registry reload failed", "error", err)
			}
		}

		tasks := l.registry.Tasks()
		now := time.Now().UTC()

		l.tick.Run(now, tasks, l.registry.Job)

		l.waitForTasks(tasks, now)

		for _, t := range tasks {
			job, _ := l.registry.Job(t.JobID)
			task.Advance(ctx, t, job, time.Now().UTC(), l.deps)
		}

		l.registry.PruneDrained()
		l.runHousekeeping(ctx, now)
	}
}

// waitForTasks: if there is nothing to poll,
// sleep up to MaxWait; otherwise build a pollfd per task (fd=-1 for
// non-I/O tasks) and block until a socket is ready, a deadline/minute
// boundary passes, or work is already available without waiting at all.
func (l *Loop) waitForTasks(tasks []*task.CronTask, now time.Time) {
	if len(tasks) == 0 {
		time.Sleep(MaxWait)
		return
	}

	for _, t := range tasks {
		if t.HasWork() {
			return
		}
	}

	nextEvent := timeutil.MinuteEnd(now)
	for _, t := range tasks {
		if t.StartDeadline != nil && t.StartDeadline.Before(nextEvent) {
			nextEvent = *t.StartDeadline
		}
	}

	timeout := nextEvent.Sub(now)
	if timeout <= 0 {
		return
	}
	if timeout > MaxWait {
		timeout = MaxWait
	}

	fds := make([]unix.PollFd, len(tasks))
	for i, t := range tasks {
		fds[i] = pollFdFor(t)
	}

	_, _ = unix.Poll(fds, int(timeout.Milliseconds()))

	for i, t := range tasks {
		t.IsSocketReady = fds[i].Revents&fds[i].Events != 0
	}
}

// pollFdFor mirrors PollForTasks's per-task pollfd construction: the event
// mask depends on the task's PollingStatus, and tasks with no open session
// contribute fd=-1 so poll(2) ignores that slot entirely.
func pollFdFor(t *task.CronTask) unix.PollFd {
	fd := t.Socket()
	if fd < 0 {
		return unix.PollFd{Fd: -1}
	}

	var events int16
	switch t.PollingStatus {
	case task.PollingRead:
		events = unix.POLLERR | unix.POLLIN
	case task.PollingWrite:
		events = unix.POLLERR | unix.POLLOUT
	default:
		return unix.PollFd{Fd: -1}
	}

	return unix.PollFd{Fd: int32(fd), Events: events}
}

// runHousekeeping trims cron_job_run_details to its retention bound once
// per housekeepingInterval; failures are logged and swallowed like every
// other store operation.
func (l *Loop) runHousekeeping(ctx context.Context, now time.Time) {
	if now.Sub(l.lastHousekeeping) < housekeepingInterval {
		return
	}
	l.lastHousekeeping = now
	if err := l.store.TrimRunDetails(ctx, trimKeepRows); err != nil {
		l.logger.Error("run-details housekeeping failed", "error", err)
	}
}
