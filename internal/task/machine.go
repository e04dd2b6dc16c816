package task

import (
	"context"
	"log/slog"
	"time"

	"github.com/citusdata/pg-cron/internal/jobstore"
	"github.com/citusdata/pg-cron/internal/session"
)

// Deps are the collaborators the state machine needs but does not own:
// persistence (for run_id/insert_run/update_run, all best-effort per
// elsewhere) and a session opener (internal/session in production, a mock
// in tests).
type Deps struct {
	Store          jobstore.Store
	OpenSession    func(job *jobstore.JobDef) (session.Session, error)
	ConnectTimeout time.Duration
	Logger         *slog.Logger
}

const defaultConnectTimeout = 10 * time.Second

// Advance drives task exactly one step, given the job definition it belongs
// to (nil if the job no longer exists in the registry) and the current
// time. It never blocks: all I/O has already happened on the session's own
// goroutine by the time this is called.
func Advance(ctx context.Context, t *CronTask, job *jobstore.JobDef, now time.Time, deps Deps) {
	if deps.ConnectTimeout == 0 {
		deps.ConnectTimeout = defaultConnectTimeout
	}

	switch t.State {
	case StateWaiting:
		advanceWaiting(t)
	case StateStart:
		advanceStart(ctx, t, job, now, deps)
	case StateConnecting:
		advanceConnecting(ctx, t, job, now, deps)
	case StateSending:
		advanceSending(t, now, deps)
	case StateRunning, StateReceiving:
		advanceRunning(t, deps)
	case StateError:
		advanceError(ctx, t, deps)
	case StateDone:
		advanceDone(ctx, t, deps)
	}
}

func advanceWaiting(t *CronTask) {
	// Starting a run consumes one pending count; pending but not-yet-started
	// runs are counted, not queued, so a fresh tick can
	// still add more while this one is in flight.
	if t.PendingRunCount > 0 {
		t.PendingRunCount--
		t.State = StateStart
	}
}

// cancelled reports and, if true, immediately cancels an in-flight task:
// every wait state transitions straight to ERROR the first time is_active
// is observed false.
func cancelled(t *CronTask) bool {
	if !t.IsActive {
		t.toError("job cancelled")
		return true
	}
	return false
}

func advanceStart(ctx context.Context, t *CronTask, job *jobstore.JobDef, now time.Time, deps Deps) {
	if cancelled(t) {
		return
	}
	if job == nil {
		t.toError("job cancelled")
		return
	}

	runID, err := deps.Store.NextRunID(ctx)
	if err != nil {
		logStoreError(deps.Logger, "next_run_id", err)
		runID = 0
	}
	t.RunID = runID

	sess, err := deps.OpenSession(job)
	if err != nil {
		t.toError("connection failed")
		return
	}
	t.Session = sess
	deadline := now.Add(deps.ConnectTimeout)
	t.StartDeadline = &deadline
	t.PollingStatus = PollingWrite
	t.State = StateConnecting

	if runID != 0 {
		start := now
		if err := deps.Store.InsertRun(ctx, runID, job.JobID, jobstore.RunDetail{
			Database:  job.Database,
			UserName:  job.UserName,
			Command:   job.Command,
			Status:    jobstore.RunStarting,
			StartTime: &start,
		}); err != nil {
			logStoreError(deps.Logger, "insert_run", err)
		}
	}
}

func advanceConnecting(ctx context.Context, t *CronTask, job *jobstore.JobDef, now time.Time, deps Deps) {
	if cancelled(t) {
		return
	}
	if t.DeadlineExpired(now) {
		t.toError("connection timeout")
		return
	}
	if t.PollingStatus != PollingNone && !t.IsSocketReady {
		return
	}

	switch t.Session.ConnectPoll() {
	case session.PollOK:
		if !t.Session.SendQuery(job.Command) {
			t.toError("send failed")
			return
		}
		t.State = StateSending
		t.PollingStatus = PollingWrite
	case session.PollReading:
		t.PollingStatus = PollingRead
	case session.PollWriting:
		t.PollingStatus = PollingWrite
	case session.PollFailed:
		t.toError("connection failed")
	}
}

func advanceSending(t *CronTask, now time.Time, _ Deps) {
	if cancelled(t) {
		return
	}
	if t.DeadlineExpired(now) {
		t.toError("connection timeout")
		return
	}
	if t.PollingStatus != PollingNone && !t.IsSocketReady {
		return
	}
	if err := t.Session.ConsumeInput(); err != nil {
		t.toError("send failed")
		return
	}
	if t.Session.IsBusy() {
		t.PollingStatus = PollingWrite
		return
	}
	t.State = StateRunning
	t.StartDeadline = nil
	t.PollingStatus = PollingRead
}

func advanceRunning(t *CronTask, _ Deps) {
	if cancelled(t) {
		return
	}
	if !t.IsSocketReady && t.PollingStatus != PollingNone {
		return
	}
	if err := t.Session.ConsumeInput(); err != nil {
		t.sawFatal = true
		t.ErrorMessage = err.Error()
		t.closeSession()
		t.State = StateError
		return
	}
	if t.Session.IsBusy() {
		t.PollingStatus = PollingRead
		return
	}

	status, message, hasMore := t.Session.NextResult()
	if status.Fatal() {
		t.sawFatal = true
		t.ErrorMessage = message
	}
	if hasMore {
		t.State = StateReceiving
		t.PollingStatus = PollingRead
		return
	}

	t.closeSession()
	if t.sawFatal {
		t.State = StateError
	} else {
		t.State = StateDone
	}
}

func advanceError(ctx context.Context, t *CronTask, deps Deps) {
	logCompletion(ctx, t, deps, jobstore.RunFailed)
	t.State = StateDone
}

func advanceDone(ctx context.Context, t *CronTask, deps Deps) {
	if !t.sawFatal {
		logCompletion(ctx, t, deps, jobstore.RunSucceeded)
	}
	t.reinitialize()
}

func logCompletion(ctx context.Context, t *CronTask, deps Deps, status jobstore.RunStatus) {
	if t.RunID == 0 {
		return
	}
	now := time.Now().UTC()
	var msg *string
	if t.ErrorMessage != "" {
		msg = &t.ErrorMessage
	}
	if err := deps.Store.UpdateRun(ctx, t.RunID, jobstore.RunPatch{
		Status:        status,
		ReturnMessage: msg,
		EndTime:       &now,
	}); err != nil {
		logStoreError(deps.Logger, "update_run", err)
	}
}

func logStoreError(logger *slog.Logger, op string, err error) {
	if logger == nil {
		return
	}
	logger.Error("job store operation failed", "op", op, "error", err)
}
