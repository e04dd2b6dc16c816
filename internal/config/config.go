// Package config loads pgcron's YAML configuration: struct-with-yaml-tags
// fields plus a Default()-style-defaults convention.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// JobStoreBackend selects which Store implementation internal/jobstore
// constructs.
type JobStoreBackend string

const (
	BackendSQLite   JobStoreBackend = "sqlite"
	BackendPostgres JobStoreBackend = "postgres"
)

// Config is the enumerated configuration surface pgcron exposes, plus the
// job-store connection settings a standalone service needs that a
// database-embedded scheduler would otherwise leave to the host catalog.
type Config struct {
	// DatabaseName names the database the scheduler operates against by
	// default for jobs that don't set one explicitly. Changing it requires
	// a process restart.
	DatabaseName string `yaml:"database_name"`

	// EnableSuperuserJobs mirrors cron.enable_superuser_jobs: when false,
	// jobs owned by a privileged identity (see SuperuserIdentities) are
	// rejected on insert and skipped (with a warning) on load. This is
	// distinct from whether any given caller IS privileged, which
	// IsSuperuser answers.
	EnableSuperuserJobs bool `yaml:"enable_superuser_jobs"`

	// SuperuserIdentities names the identities treated as privileged: able
	// to schedule/alter/delete jobs owned by another identity, and subject
	// to EnableSuperuserJobs's reject/skip policy. There is no external
	// role catalog to consult in a standalone service, so this roster is
	// the source of truth, the way cron.enable_superuser_jobs' manual page
	// treats "superuser" as a fixed role property rather than something
	// pgcron discovers.
	SuperuserIdentities []string `yaml:"superuser_identities"`

	// ConnectTimeoutMS bounds the CONNECTING/SENDING states of every task.
	ConnectTimeoutMS int `yaml:"connect_timeout_ms"`

	// MaxWaitMS is loaded and exposed through MaxWait, but the serve command
	// does not pass it to the event loop: each iteration's poll/sleep is
	// bounded by the fixed eventloop.MaxWait (1 second) whatever this is set to.
	MaxWaitMS int `yaml:"max_wait_ms"`

	// Host is the node_name the schedule command records on every job it
	// inserts; dispatch uses each job's stored node_name.
	Host string `yaml:"host"`

	// JobStore selects and configures the persistence backend.
	JobStore JobStoreConfig `yaml:"job_store"`

	Logging LoggingConfig `yaml:"logging"`
}

// JobStoreConfig configures whichever backend internal/jobstore opens,
// mirroring HubConfig's Backend + per-backend-struct shape.
type JobStoreConfig struct {
	Backend JobStoreBackend `yaml:"backend"`

	SQLite struct {
		Path        string `yaml:"path"`
		JournalMode string `yaml:"journal_mode"`
		BusyTimeout int    `yaml:"busy_timeout"`
		ForeignKeys bool   `yaml:"foreign_keys"`
	} `yaml:"sqlite"`

	Postgres struct {
		Host            string        `yaml:"host"`
		Port            int           `yaml:"port"`
		Database        string        `yaml:"database"`
		User            string        `yaml:"user"`
		Password        string        `yaml:"password"`
		SSLMode         string        `yaml:"ssl_mode"`
		MaxOpenConns    int           `yaml:"max_open_conns"`
		MaxIdleConns    int           `yaml:"max_idle_conns"`
		ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	} `yaml:"postgres"`
}

// LoggingConfig selects the slog handler, following serve.go's
// format/level flags.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "text" or "json"
}

// Default returns the configuration pgcron ships with: SQLite job store at
// ./data/pgcron.db, a 10s connect timeout, a 1s max wait, superuser jobs
// allowed.
func Default() Config {
	cfg := Config{
		DatabaseName:        "postgres",
		EnableSuperuserJobs: true,
		SuperuserIdentities: []string{"postgres"},
		ConnectTimeoutMS:    10_000,
		MaxWaitMS:           1_000,
		Host:                "localhost",
		Logging:             LoggingConfig{Level: "info", Format: "text"},
	}
	cfg.JobStore.Backend = BackendSQLite
	cfg.JobStore.SQLite.Path = "./data/pgcron.db"
	cfg.JobStore.SQLite.JournalMode = "WAL"
	cfg.JobStore.SQLite.BusyTimeout = 5000
	cfg.JobStore.SQLite.ForeignKeys = true
	cfg.JobStore.Postgres.SSLMode = "require"
	cfg.JobStore.Postgres.MaxOpenConns = 25
	cfg.JobStore.Postgres.MaxIdleConns = 10
	cfg.JobStore.Postgres.ConnMaxLifetime = 30 * time.Minute
	return cfg
}

// Load reads path (if non-empty and present) over the defaults, then
// applies PGCRON_-prefixed environment overrides on top of the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PGCRON_DATABASE_NAME"); v != "" {
		cfg.DatabaseName = v
	}
	if v := os.Getenv("PGCRON_HOST"); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv("PGCRON_JOB_STORE_BACKEND"); v != "" {
		cfg.JobStore.Backend = JobStoreBackend(v)
	}
	if v := os.Getenv("PGCRON_SQLITE_PATH"); v != "" {
		cfg.JobStore.SQLite.Path = v
	}
	if v := os.Getenv("PGCRON_POSTGRES_HOST"); v != "" {
		cfg.JobStore.Postgres.Host = v
	}
	if v := os.Getenv("PGCRON_POSTGRES_PASSWORD"); v != "" {
		cfg.JobStore.Postgres.Password = v
	}
	if v := os.Getenv("PGCRON_SUPERUSER_IDENTITIES"); v != "" {
		cfg.SuperuserIdentities = strings.Split(v, ",")
	}
}

// IsSuperuser reports whether identity appears in SuperuserIdentities.
// Callers use this to decide whether the caller may act on another
// identity's behalf; it is independent of EnableSuperuserJobs, which
// instead gates jobs owned by a superuser identity.
func (c Config) IsSuperuser(identity string) bool {
	for _, s := range c.SuperuserIdentities {
		if s == identity {
			return true
		}
	}
	return false
}

// ConnectTimeout returns ConnectTimeoutMS as a time.Duration.
func (c Config) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutMS) * time.Millisecond
}

// MaxWait returns MaxWaitMS as a time.Duration.
func (c Config) MaxWait() time.Duration {
	return time.Duration(c.MaxWaitMS) * time.Millisecond
}
