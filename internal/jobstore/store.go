// Package jobstore is the persisted job/run metadata adapter: the Go
// analogue of pg_cron's job_metadata.c / pg_cron.c catalog access, backed by
// database/sql instead of direct heap/SPI calls. It treats the persisted
// tables as a key-value job store with list/insert/update/delete, exactly as
// the physical schema is ours to choose; only the
// semantic shape jobs/runs expose to callers is load-bearing.
package jobstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/citusdata/pg-cron/internal/cronexpr"
)

// JobID is a 64-bit identifier, stable across process restarts.
type JobID int64

// RunID is a 64-bit identifier drawn from a persistent counter; 0 means
// "not logged".
type RunID int64

// RunStatus mirrors the runs collection's status enumeration.
type RunStatus string

const (
	RunStarting   RunStatus = "starting"
	RunConnecting RunStatus = "connecting"
	RunSending    RunStatus = "sending"
	RunRunning    RunStatus = "running"
	RunSucceeded  RunStatus = "succeeded"
	RunFailed     RunStatus = "failed"
)

// JobDef is the immutable snapshot the store hands to the registry. Owner is
// the identity that created/owns the row (used for permission checks); it is
// distinct from UserName, the identity the dispatched session authenticates
// as against the target database.
type JobDef struct {
	JobID        JobID
	ScheduleText string
	Schedule     *cronexpr.Schedule
	Command      string
	NodeName     string
	NodePort     int
	Database     string
	UserName     string
	JobName      *string
	Active       bool
	Owner        string

	// RunRequested is set by TriggerRun (the `run-now` CLI command) and
	// cleared the next time ListJobs observes it; the registry turns a
	// true value into one extra pending run on reload. Not part of
	// upstream pg_cron — a CLI convenience this port adds (DESIGN.md).
	RunRequested bool
}

// RunDetail is one row of the append-only run log.
type RunDetail struct {
	RunID         RunID
	JobID         JobID
	Database      string
	UserName      string
	Command       string
	Status        RunStatus
	ReturnMessage *string
	StartTime     *time.Time
	EndTime       *time.Time
	JobPID        *int
}

// InsertJobParams is the input to InsertJob; JobName is optional and, when
// present, must be unique per UserName.
type InsertJobParams struct {
	ScheduleText string
	Command      string
	NodeName     string
	NodePort     int
	Database     string
	UserName     string
	JobName      *string
	Active       bool
	Owner        string
	Privileged   bool // caller may schedule as a UserName other than Owner
}

// JobPatch is a partial update for AlterJob; nil fields are left unchanged.
type JobPatch struct {
	ScheduleText *string
	Command      *string
	Database     *string
	UserName     *string
	Active       *bool
}

// RunPatch updates the mutable columns of a run-log row.
type RunPatch struct {
	Status        RunStatus
	ReturnMessage *string
	EndTime       *time.Time
	JobPID        *int
}

var (
	ErrNotFound         = errors.New("jobstore: not found")
	ErrPermissionDenied = errors.New("jobstore: permission denied")

	// ErrSuperuserJobsDisabled is returned by InsertJob when the job's
	// owner is a superuser identity and SetSuperuserPolicy's
	// enableSuperuserJobs is false.
	ErrSuperuserJobsDisabled = errors.New("jobstore: superuser jobs disabled")
)

// InvalidScheduleError wraps a cronexpr parse failure surfaced from
// InsertJob/AlterJob.
type InvalidScheduleError struct {
	Err error
}

func (e *InvalidScheduleError) Error() string {
	return fmt.Sprintf("jobstore: invalid schedule: %v", e.Err)
}
func (e *InvalidScheduleError) Unwrap() error { return e.Err }

// Store is the persistence interface the scheduler core depends on. It is
// satisfied by the sqlite and postgres backends in this package.
type Store interface {
	// ListJobs returns a snapshot of all jobs (active and inactive); the
	// registry filters on Active itself, mirroring ReloadCronJobs in
	// pg_cron.c which loads every row and marks inactive ones accordingly.
	// The one exception is a job owned by a superuser identity while
	// SetSuperuserPolicy has disabled superuser jobs: it is left out.
	ListJobs(ctx context.Context) ([]*JobDef, error)

	InsertJob(ctx context.Context, params InsertJobParams) (JobID, error)
	AlterJob(ctx context.Context, id JobID, patch JobPatch, callerIdentity string, privileged bool) error
	DeleteJob(ctx context.Context, idOrName string, callerIdentity string, privileged bool) error

	// TriggerRun marks a job for one extra run on the next registry reload,
	// independent of its schedule (the `run-now` CLI command).
	TriggerRun(ctx context.Context, idOrName string) error

	NextRunID(ctx context.Context) (RunID, error)
	InsertRun(ctx context.Context, runID RunID, jobID JobID, detail RunDetail) error
	UpdateRun(ctx context.Context, runID RunID, patch RunPatch) error

	// MarkPendingRunsFailed transitions every {starting,connecting,sending,
	// running} row to failed with "server restarted", run once at startup.
	MarkPendingRunsFailed(ctx context.Context) error

	// TrimRunDetails keeps only the most recent `keep` rows of the run log
	// (retention housekeeping).
	TrimRunDetails(ctx context.Context, keep int) error

	// SetInvalidated marks the registry dirty; idempotent.
	SetInvalidated()
	// TakeInvalidated atomically reports and clears the dirty flag.
	TakeInvalidated() bool

	// SetLogger attaches a logger for run-lifecycle tracing; optional.
	SetLogger(logger *slog.Logger)

	// SetSuperuserPolicy configures which identities InsertJob/ListJobs
	// treat as privileged job owners, and whether jobs owned by one of
	// them are allowed at all. When never called, every identity is
	// treated as non-superuser and EnableSuperuserJobs has no effect.
	SetSuperuserPolicy(enableSuperuserJobs bool, superuserIdentities []string)

	Close() error
}

// validateSchedule round-trips a schedule string through the parser, as
// insert_job/alter_job are required to.
func validateSchedule(text string) (*cronexpr.Schedule, error) {
	sched, err := cronexpr.Parse(text)
	if err != nil {
		return nil, &InvalidScheduleError{Err: err}
	}
	return sched, nil
}
