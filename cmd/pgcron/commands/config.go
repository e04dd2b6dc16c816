package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/citusdata/pg-cron/internal/config"
	"github.com/citusdata/pg-cron/internal/jobstore"
)

// resolveConfig loads the config file named by --config, or pgcron's
// defaults if the flag is empty.
func resolveConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Root().PersistentFlags().GetString("config")
	return config.Load(path)
}

// newLogger builds the shared *slog.Logger, honoring --verbose and the
// config file's logging.format.
func newLogger(cmd *cobra.Command, cfg config.Config) *slog.Logger {
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	level := slog.LevelInfo
	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	return slog.New(handler)
}

// openStore opens the job store backend named by cfg.JobStore.Backend and
// attaches logger for run-lifecycle tracing.
func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (jobstore.Store, error) {
	var (
		store jobstore.Store
		err   error
	)
	switch cfg.JobStore.Backend {
	case config.BackendPostgres:
		pg := cfg.JobStore.Postgres
		store, err = jobstore.OpenPostgres(ctx, jobstore.PostgreSQLConfig{
			Host:            pg.Host,
			Port:            pg.Port,
			Database:        pg.Database,
			User:            pg.User,
			Password:        pg.Password,
			SSLMode:         pg.SSLMode,
			MaxOpenConns:    pg.MaxOpenConns,
			MaxIdleConns:    pg.MaxIdleConns,
			ConnMaxLifetime: pg.ConnMaxLifetime,
		})
	case config.BackendSQLite, "":
		sl := cfg.JobStore.SQLite
		store, err = jobstore.OpenSQLite(ctx, jobstore.SQLiteConfig{
			Path:        sl.Path,
			JournalMode: sl.JournalMode,
			BusyTimeout: sl.BusyTimeout,
			ForeignKeys: sl.ForeignKeys,
		})
	default:
		return nil, fmt.Errorf("commands: unknown job store backend %q", cfg.JobStore.Backend)
	}
	if err != nil {
		return nil, err
	}
	store.SetLogger(logger)
	store.SetSuperuserPolicy(cfg.EnableSuperuserJobs, cfg.SuperuserIdentities)
	return store, nil
}

// callerIdentity resolves the identity the CLI acts as: $PGUSER, then
// $USER, following libpq's own fallback order since pg_cron's SQL surface
// normally infers this from the connected role.
func callerIdentity() string {
	if u := os.Getenv("PGUSER"); u != "" {
		return u
	}
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "postgres"
}

const cliTimeout = 10 * time.Second
