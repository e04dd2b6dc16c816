package jobstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgreSQLConfig configures the postgres job-store backend: the usual
// Host/Port/Database/User/Password/SSLMode connection shape.
type PostgreSQLConfig struct {
	Host            string
	Port            int
	Database        string
	User            string
	Password        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultPostgreSQLConfig returns sane pool/SSL defaults.
func DefaultPostgreSQLConfig() PostgreSQLConfig {
	return PostgreSQLConfig{
		Host:            "localhost",
		Port:            5432,
		SSLMode:         "require",
		MaxOpenConns:    25,
		MaxIdleConns:    10,
		ConnMaxLifetime: 30 * time.Minute,
	}
}

// OpenPostgres opens the PostgreSQL job store via pgx's database/sql
// adapter and runs its migrations.
func OpenPostgres(ctx context.Context, cfg PostgreSQLConfig) (Store, error) {
	if cfg.SSLMode == "" {
		cfg.SSLMode = "require"
	}
	dsn := fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.Database, cfg.User, cfg.Password, cfg.SSLMode)

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("jobstore: open postgres %s:%d/%s: %w", cfg.Host, cfg.Port, cfg.Database, err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("jobstore: ping postgres: %w", err)
	}

	s := &sqlStore{db: db, ph: postgresPlaceholder}
	s.nextRunID = s.nextRunIDPostgres
	s.insertJobRow = s.insertJobRowPostgres
	if err := s.migratePostgres(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *sqlStore) migratePostgres(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS cron_job (
			job_id BIGSERIAL PRIMARY KEY,
			schedule_text TEXT NOT NULL,
			command TEXT NOT NULL,
			node_name TEXT NOT NULL,
			node_port INTEGER NOT NULL,
			database TEXT NOT NULL,
			user_name TEXT NOT NULL,
			job_name TEXT,
			active BOOLEAN NOT NULL DEFAULT true,
			owner_identity TEXT NOT NULL,
			run_requested BOOLEAN NOT NULL DEFAULT false
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS cron_job_name_user_idx
			ON cron_job(job_name, user_name) WHERE job_name IS NOT NULL`,
		`CREATE TABLE IF NOT EXISTS cron_job_run_details (
			run_id BIGINT PRIMARY KEY,
			job_id BIGINT NOT NULL,
			database TEXT,
			user_name TEXT,
			command TEXT,
			status TEXT NOT NULL,
			return_message TEXT,
			start_time TIMESTAMPTZ,
			end_time TIMESTAMPTZ,
			job_pid INTEGER
		)`,
		`CREATE SEQUENCE IF NOT EXISTS cron_run_id_seq`,
		`CREATE TABLE IF NOT EXISTS cron_job_extension (
			job_id BIGINT PRIMARY KEY REFERENCES cron_job(job_id) ON DELETE CASCADE,
			mode TEXT NOT NULL DEFAULT 'single',
			timezone_offset INTEGER NOT NULL DEFAULT 0
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("jobstore: postgres migrate: %w", err)
		}
	}
	return nil
}

// insertJobRowPostgres uses RETURNING instead of LastInsertId, which pgx's
// database/sql driver does not implement.
func (s *sqlStore) insertJobRowPostgres(ctx context.Context, params InsertJobParams, jobName sql.NullString) (JobID, error) {
	query := `
		INSERT INTO cron_job (schedule_text, command, node_name, node_port, database,
		                       user_name, job_name, active, owner_identity)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING job_id`
	var id int64
	err := s.db.QueryRowContext(ctx, query, params.ScheduleText, params.Command, params.NodeName,
		params.NodePort, params.Database, params.UserName, jobName, params.Active, params.Owner).Scan(&id)
	if err != nil {
		return 0, err
	}
	return JobID(id), nil
}

// nextRunIDPostgres draws from cron_run_id_seq directly, since Postgres
// sequences don't participate in LastInsertId the way sqlite's rowid does.
func (s *sqlStore) nextRunIDPostgres(ctx context.Context) (RunID, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT nextval('cron_run_id_seq')`).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("jobstore: next run id: %w", err)
	}
	return RunID(id), nil
}
