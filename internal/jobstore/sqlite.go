package jobstore

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteConfig configures the default job-store backend: path plus the
// usual journal-mode/busy-timeout/foreign-key knobs.
type SQLiteConfig struct {
	Path        string
	JournalMode string
	BusyTimeout int
	ForeignKeys bool
}

// DefaultSQLiteConfig returns pgcron's out-of-the-box SQLite settings.
func DefaultSQLiteConfig() SQLiteConfig {
	return SQLiteConfig{
		Path:        "./data/pgcron.db",
		JournalMode: "WAL",
		BusyTimeout: 5000,
		ForeignKeys: true,
	}
}

// OpenSQLite opens (creating if needed) the SQLite job store and runs its
// migrations, the way backends.OpenSQLite builds its DSN from config knobs.
func OpenSQLite(ctx context.Context, cfg SQLiteConfig) (Store, error) {
	if cfg.JournalMode == "" {
		cfg.JournalMode = "WAL"
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5000
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=%s&_busy_timeout=%d", cfg.Path, cfg.JournalMode, cfg.BusyTimeout)
	if cfg.ForeignKeys {
		dsn += "&_foreign_keys=1"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("jobstore: open sqlite %s: %w", cfg.Path, err)
	}
	db.SetMaxOpenConns(1) // SQLite serializes writers; avoid SQLITE_BUSY storms

	s := &sqlStore{db: db, ph: sqlitePlaceholder}
	s.nextRunID = s.nextRunIDSQLite
	s.insertJobRow = s.insertJobRowSQLite
	if err := s.migrateSQLite(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// insertJobRowSQLite inserts via the rowid path: sqlite's driver supports
// LastInsertId directly, unlike pgx's (see insertJobRowPostgres).
func (s *sqlStore) insertJobRowSQLite(ctx context.Context, params InsertJobParams, jobName sql.NullString) (JobID, error) {
	query := `
		INSERT INTO cron_job (schedule_text, command, node_name, node_port, database,
		                       user_name, job_name, active, owner_identity)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := s.db.ExecContext(ctx, query, params.ScheduleText, params.Command, params.NodeName,
		params.NodePort, params.Database, params.UserName, jobName, params.Active, params.Owner)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return JobID(id), nil
}

func (s *sqlStore) migrateSQLite(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS cron_job (
			job_id INTEGER PRIMARY KEY AUTOINCREMENT,
			schedule_text TEXT NOT NULL,
			command TEXT NOT NULL,
			node_name TEXT NOT NULL,
			node_port INTEGER NOT NULL,
			database TEXT NOT NULL,
			user_name TEXT NOT NULL,
			job_name TEXT,
			active INTEGER NOT NULL DEFAULT 1,
			owner_identity TEXT NOT NULL,
			run_requested INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS cron_job_name_user_idx
			ON cron_job(job_name, user_name) WHERE job_name IS NOT NULL`,
		`CREATE TABLE IF NOT EXISTS cron_job_run_details (
			run_id INTEGER PRIMARY KEY,
			job_id INTEGER NOT NULL,
			database TEXT,
			user_name TEXT,
			command TEXT,
			status TEXT NOT NULL,
			return_message TEXT,
			start_time DATETIME,
			end_time DATETIME,
			job_pid INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS cron_run_id_seq (
			run_id INTEGER PRIMARY KEY AUTOINCREMENT
		)`,
		`CREATE TABLE IF NOT EXISTS cron_job_extension (
			job_id INTEGER PRIMARY KEY REFERENCES cron_job(job_id) ON DELETE CASCADE,
			mode TEXT NOT NULL DEFAULT 'single',
			timezone_offset INTEGER NOT NULL DEFAULT 0
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("jobstore: sqlite migrate: %w", err)
		}
	}
	return nil
}
