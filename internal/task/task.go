// Package task implements the per-job execution state machine: connect,
// send, run, collect — one CronTask per registered job, advanced at most
// once per event-loop iteration. Grounded on ManageCronTask in pg_cron.c.
package task

import (
	"time"

	"github.com/citusdata/pg-cron/internal/jobstore"
	"github.com/citusdata/pg-cron/internal/session"
)

// State is the task's execution state, matching CronTaskState in pg_cron.h.
type State int

const (
	StateWaiting State = iota
	StateStart
	StateConnecting
	StateSending
	StateRunning
	StateReceiving
	StateDone
	StateError
)

func (s State) String() string {
	switch s {
	case StateWaiting:
		return "waiting"
	case StateStart:
		return "start"
	case StateConnecting:
		return "connecting"
	case StateSending:
		return "sending"
	case StateRunning:
		return "running"
	case StateReceiving:
		return "receiving"
	case StateDone:
		return "done"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// PollingStatus mirrors the wire library's non-blocking handshake status on
// the task; unlike session.PollStatus it also has a NONE value
// for states that aren't waiting on I/O at all.
type PollingStatus int

const (
	PollingNone PollingStatus = iota
	PollingRead
	PollingWrite
	PollingOK
	PollingFailed
)

// CronTask is the mutable execution context for one job; at most one per
// JobID.
type CronTask struct {
	JobID jobstore.JobID
	RunID jobstore.RunID

	State State

	// PendingRunCount counts matched-but-not-started runs; it is
	// incremented by the scheduler tick and drained one at a time here.
	PendingRunCount uint32

	Session session.Session

	PollingStatus PollingStatus
	StartDeadline *time.Time
	IsSocketReady bool

	// IsActive is cleared by a registry reload when the underlying job no
	// longer exists or has been deactivated; the next state-machine visit
	// observes it and cancels any in-flight run.
	IsActive bool

	ErrorMessage string

	// sawFatal is sticky across RUNNING/RECEIVING visits: a single query
	// is drained to completion (or a terminating error) even though only
	// one NextResult() call happens per event-loop iteration.
	sawFatal bool
}

// New creates a fresh, idle task for jobID, matching InitializeCronTask.
func New(jobID jobstore.JobID) *CronTask {
	return &CronTask{JobID: jobID, State: StateWaiting, IsActive: true}
}

// Socket returns the fd the event loop should poll for this task, or -1 if
// the task currently has no open session (non-I/O tasks
// contribute fd=-1 to the pollfd array).
func (t *CronTask) Socket() int {
	if t.Session == nil {
		return -1
	}
	return t.Session.Socket()
}

// HasWork reports whether the task can make progress without polling, per
// a pending run waiting to start, or a task already
// sitting in ERROR/DONE.
func (t *CronTask) HasWork() bool {
	if t.State == StateWaiting && t.PendingRunCount > 0 {
		return true
	}
	return t.State == StateError || t.State == StateDone
}

// DeadlineExpired reports whether now is at or past StartDeadline.
func (t *CronTask) DeadlineExpired(now time.Time) bool {
	return t.StartDeadline != nil && !now.Before(*t.StartDeadline)
}

// reinitialize implements the DONE -> WAITING transition: run_id,
// connection, polling_status, start_deadline, is_socket_ready and
// error_message are reset, but pending_run_count is preserved since it may
// already be nonzero again by the time this runs.
func (t *CronTask) reinitialize() {
	t.RunID = 0
	t.Session = nil
	t.PollingStatus = PollingNone
	t.StartDeadline = nil
	t.IsSocketReady = false
	t.ErrorMessage = ""
	t.sawFatal = false
	t.State = StateWaiting
}

// closeSession releases any open session and clears it, mirroring the
// cleanup every path into ERROR or DONE performs.
func (t *CronTask) closeSession() {
	if t.Session != nil {
		t.Session.Close()
		t.Session = nil
	}
}

func (t *CronTask) toError(message string) {
	t.closeSession()
	t.ErrorMessage = message
	t.sawFatal = true
	t.State = StateError
}
