package jobstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"
)

// placeholderFunc renders the n-th (1-based) bind parameter in a query,
// since sqlite3's driver wants "?" and pgx's wants "$n".
type placeholderFunc func(n int) string

func sqlitePlaceholder(int) string     { return "?" }
func postgresPlaceholder(n int) string { return fmt.Sprintf("$%d", n) }

// sqlStore implements Store over database/sql; it is shared verbatim by the
// sqlite and postgres backends, which differ only in DSN construction,
// migration DDL, placeholder style, and the run-id and job-insert paths
// (nextRunID/insertJobRow; see sqlite.go / postgres.go).
type sqlStore struct {
	db           *sql.DB
	ph           placeholderFunc
	nextRunID    func(ctx context.Context) (RunID, error)
	insertJobRow func(ctx context.Context, params InsertJobParams, jobName sql.NullString) (JobID, error)
	invalidated  atomic.Bool
	logger       *slog.Logger

	enableSuperuserJobs bool
	superusers          map[string]bool
}

// SetLogger attaches a logger for run-lifecycle messages. A nil logger
// (the default) leaves logging off; Open* callers that want run tracing
// call this once after opening the store.
func (s *sqlStore) SetLogger(logger *slog.Logger) { s.logger = logger }

// SetSuperuserPolicy records which identities are privileged owners and
// whether owning a job as one of them is allowed at all.
func (s *sqlStore) SetSuperuserPolicy(enableSuperuserJobs bool, superuserIdentities []string) {
	s.enableSuperuserJobs = enableSuperuserJobs
	s.superusers = make(map[string]bool, len(superuserIdentities))
	for _, id := range superuserIdentities {
		s.superusers[id] = true
	}
}

func (s *sqlStore) isSuperuserOwner(owner string) bool {
	return s.superusers[owner]
}

// logRun emits a debug-level line carrying a fresh correlation id, letting
// an operator grep a single run's insert/update pair out of interleaved
// log output even though RunID itself is also present on both lines.
func (s *sqlStore) logRun(msg string, runID RunID, jobID JobID) {
	if s.logger == nil {
		return
	}
	s.logger.Debug(msg, "run_id", runID, "job_id", jobID, "correlation_id", uuid.NewString())
}

func (s *sqlStore) Close() error { return s.db.Close() }

func (s *sqlStore) SetInvalidated() { s.invalidated.Store(true) }

func (s *sqlStore) TakeInvalidated() bool { return s.invalidated.Swap(false) }

func (s *sqlStore) q(query string, n int) string {
	// query contains literal "?" placeholders in source order; for sqlite
	// this is already correct, for postgres we rewrite them to $1.."$n" in
	// the order they appear.
	if n == 0 {
		return query
	}
	out := make([]byte, 0, len(query)+n*2)
	arg := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			arg++
			out = append(out, s.ph(arg)...)
			continue
		}
		out = append(out, query[i])
	}
	return string(out)
}

func (s *sqlStore) ListJobs(ctx context.Context) ([]*JobDef, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT job_id, schedule_text, command, node_name, node_port, database,
		       user_name, job_name, active, owner_identity, run_requested
		FROM cron_job
		ORDER BY job_id`)
	if err != nil {
		return nil, fmt.Errorf("jobstore: list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*JobDef
	var requested []JobID
	for rows.Next() {
		var jd JobDef
		var jobName sql.NullString
		if err := rows.Scan(&jd.JobID, &jd.ScheduleText, &jd.Command, &jd.NodeName,
			&jd.NodePort, &jd.Database, &jd.UserName, &jobName, &jd.Active, &jd.Owner, &jd.RunRequested); err != nil {
			return nil, fmt.Errorf("jobstore: scan job: %w", err)
		}
		if jobName.Valid {
			name := jobName.String
			jd.JobName = &name
		}
		// A schedule that fails to parse at load time is retained with a
		// zeroed schedule (never fires) and a warning — it is not dropped,
		// matching TupleToCronJob's behavior in pg_cron.c.
		if sched, err := validateSchedule(jd.ScheduleText); err == nil {
			jd.Schedule = sched
		} else if s.logger != nil {
			s.logger.Warn("job has an invalid schedule and will never fire",
				"job_id", jd.JobID, "schedule", jd.ScheduleText, "error", err)
		}
		if !s.enableSuperuserJobs && s.isSuperuserOwner(jd.Owner) {
			if s.logger != nil {
				s.logger.Warn("skipping job owned by a superuser identity: enable_superuser_jobs is false",
					"job_id", jd.JobID, "owner", jd.Owner)
			}
			continue
		}
		if jd.RunRequested {
			requested = append(requested, jd.JobID)
		}
		jobs = append(jobs, &jd)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Clearing run_requested is read-once: the registry has already been
	// handed this snapshot's true value, so the flag must not survive to
	// the next reload and fire a second time.
	for _, id := range requested {
		query := s.q(`UPDATE cron_job SET run_requested = ? WHERE job_id = ?`, 2)
		if _, err := s.db.ExecContext(ctx, query, false, id); err != nil {
			return nil, fmt.Errorf("jobstore: clear run_requested: %w", err)
		}
	}

	return jobs, nil
}

// TriggerRun sets run_requested on the job named by idOrName; ListJobs
// observes and clears it on its next call (the registry's next reload).
func (s *sqlStore) TriggerRun(ctx context.Context, idOrName string) error {
	id, err := s.resolveID(ctx, idOrName)
	if err != nil {
		return err
	}
	query := s.q(`UPDATE cron_job SET run_requested = ? WHERE job_id = ?`, 2)
	if _, err := s.db.ExecContext(ctx, query, true, id); err != nil {
		return fmt.Errorf("jobstore: trigger run: %w", err)
	}
	s.SetInvalidated()
	return nil
}

func (s *sqlStore) InsertJob(ctx context.Context, params InsertJobParams) (JobID, error) {
	if _, err := validateSchedule(params.ScheduleText); err != nil {
		return 0, err
	}
	if params.UserName != params.Owner && !params.Privileged {
		return 0, fmt.Errorf("jobstore: schedule as %q: %w", params.UserName, ErrPermissionDenied)
	}
	if !s.enableSuperuserJobs && s.isSuperuserOwner(params.Owner) {
		return 0, fmt.Errorf("jobstore: schedule owned by superuser %q: %w", params.Owner, ErrSuperuserJobsDisabled)
	}

	var jobName sql.NullString
	if params.JobName != nil {
		jobName = sql.NullString{String: *params.JobName, Valid: true}
	}

	id, err := s.insertJobRow(ctx, params, jobName)
	if err != nil {
		return 0, fmt.Errorf("jobstore: insert job: %w", err)
	}
	s.SetInvalidated()
	return id, nil
}

func (s *sqlStore) ownerOf(ctx context.Context, id JobID) (string, error) {
	var owner string
	query := s.q(`SELECT owner_identity FROM cron_job WHERE job_id = ?`, 1)
	err := s.db.QueryRowContext(ctx, query, id).Scan(&owner)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("jobstore: lookup owner: %w", err)
	}
	return owner, nil
}

func (s *sqlStore) checkPermission(ctx context.Context, id JobID, callerIdentity string, privileged bool) error {
	owner, err := s.ownerOf(ctx, id)
	if err != nil {
		return err
	}
	if owner != callerIdentity && !privileged {
		return ErrPermissionDenied
	}
	return nil
}

func (s *sqlStore) AlterJob(ctx context.Context, id JobID, patch JobPatch, callerIdentity string, privileged bool) error {
	if err := s.checkPermission(ctx, id, callerIdentity, privileged); err != nil {
		return err
	}
	if patch.ScheduleText != nil {
		if _, err := validateSchedule(*patch.ScheduleText); err != nil {
			return err
		}
	}
	if patch.UserName != nil && *patch.UserName != callerIdentity && !privileged {
		return fmt.Errorf("jobstore: alter to run as %q: %w", *patch.UserName, ErrPermissionDenied)
	}

	set, args := buildSet(patch)
	if len(set) == 0 {
		return nil
	}
	query := fmt.Sprintf("UPDATE cron_job SET %s WHERE job_id = ?", joinSet(set))
	args = append(args, id)
	query = s.q(query, len(args))
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("jobstore: alter job: %w", err)
	}
	s.SetInvalidated()
	return nil
}

func buildSet(patch JobPatch) ([]string, []any) {
	var cols []string
	var args []any
	if patch.ScheduleText != nil {
		cols = append(cols, "schedule_text")
		args = append(args, *patch.ScheduleText)
	}
	if patch.Command != nil {
		cols = append(cols, "command")
		args = append(args, *patch.Command)
	}
	if patch.Database != nil {
		cols = append(cols, "database")
		args = append(args, *patch.Database)
	}
	if patch.UserName != nil {
		cols = append(cols, "user_name")
		args = append(args, *patch.UserName)
	}
	if patch.Active != nil {
		cols = append(cols, "active")
		args = append(args, *patch.Active)
	}
	return cols, args
}

func joinSet(cols []string) string {
	out := ""
	for i, c := range cols {
		if i > 0 {
			out += ", "
		}
		out += c + " = ?"
	}
	return out
}

func (s *sqlStore) DeleteJob(ctx context.Context, idOrName string, callerIdentity string, privileged bool) error {
	id, err := s.resolveID(ctx, idOrName)
	if err != nil {
		return err
	}
	if err := s.checkPermission(ctx, id, callerIdentity, privileged); err != nil {
		return err
	}
	query := s.q(`DELETE FROM cron_job WHERE job_id = ?`, 1)
	res, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("jobstore: delete job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	s.SetInvalidated()
	return nil
}

// resolveID accepts either a numeric job_id or a job_name and returns the
// job_id, the way cron_unschedule(name) does in pg_cron's SQL surface.
func (s *sqlStore) resolveID(ctx context.Context, idOrName string) (JobID, error) {
	var id int64
	if _, err := fmt.Sscanf(idOrName, "%d", &id); err == nil {
		return JobID(id), nil
	}
	query := s.q(`SELECT job_id FROM cron_job WHERE job_name = ?`, 1)
	err := s.db.QueryRowContext(ctx, query, idOrName).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("jobstore: resolve job name: %w", err)
	}
	return JobID(id), nil
}

func (s *sqlStore) NextRunID(ctx context.Context) (RunID, error) {
	return s.nextRunID(ctx)
}

func (s *sqlStore) nextRunIDSQLite(ctx context.Context) (RunID, error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO cron_run_id_seq DEFAULT VALUES`)
	if err != nil {
		return 0, fmt.Errorf("jobstore: next run id: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("jobstore: next run id: %w", err)
	}
	return RunID(id), nil
}

func (s *sqlStore) InsertRun(ctx context.Context, runID RunID, jobID JobID, detail RunDetail) error {
	query := s.q(`
		INSERT INTO cron_job_run_details
			(run_id, job_id, database, user_name, command, status, start_time)
		VALUES (?, ?, ?, ?, ?, ?, ?)`, 7)
	_, err := s.db.ExecContext(ctx, query, runID, jobID, detail.Database, detail.UserName,
		detail.Command, string(detail.Status), detail.StartTime)
	if err != nil {
		return fmt.Errorf("jobstore: insert run: %w", err)
	}
	s.logRun("run started", runID, jobID)
	return nil
}

func (s *sqlStore) UpdateRun(ctx context.Context, runID RunID, patch RunPatch) error {
	query := s.q(`
		UPDATE cron_job_run_details
		SET status = ?, return_message = ?, end_time = ?, job_pid = ?
		WHERE run_id = ?`, 5)
	_, err := s.db.ExecContext(ctx, query, string(patch.Status), patch.ReturnMessage, patch.EndTime, patch.JobPID, runID)
	if err != nil {
		return fmt.Errorf("jobstore: update run: %w", err)
	}
	if s.logger != nil {
		s.logger.Debug("run updated", "run_id", runID, "status", patch.Status, "correlation_id", uuid.NewString())
	}
	return nil
}

func (s *sqlStore) MarkPendingRunsFailed(ctx context.Context) error {
	query := s.q(`
		UPDATE cron_job_run_details
		SET status = ?, return_message = ?
		WHERE status IN (?, ?, ?, ?)`, 6)
	_, err := s.db.ExecContext(ctx, query, string(RunFailed), "server restarted",
		string(RunStarting), string(RunConnecting), string(RunSending), string(RunRunning))
	if err != nil {
		return fmt.Errorf("jobstore: mark pending runs failed: %w", err)
	}
	return nil
}

func (s *sqlStore) TrimRunDetails(ctx context.Context, keep int) error {
	query := s.q(`
		DELETE FROM cron_job_run_details
		WHERE run_id NOT IN (
			SELECT run_id FROM cron_job_run_details ORDER BY run_id DESC LIMIT ?
		)`, 1)
	_, err := s.db.ExecContext(ctx, query, keep)
	if err != nil {
		return fmt.Errorf("jobstore: trim run details: %w", err)
	}
	return nil
}
