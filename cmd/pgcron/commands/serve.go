package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/citusdata/pg-cron/internal/eventloop"
)

// newServeCmd creates the `pgcron serve` command that runs the event loop
// until interrupted.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler's event loop",
		Long: `Start the scheduler daemon: reload jobs from the job store,
then loop forever computing due runs and dispatching them.

Examples:
  pgcron serve
  pgcron serve --config ./pgcron.yaml`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cmd, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open job store: %w", err)
	}
	defer store.Close()

	loop := eventloop.New(store, logger, cfg.ConnectTimeout())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("shutdown signal received, stopping")
		cancel()
	}()

	logger.Info("pg-cron scheduler started",
		"database_name", cfg.DatabaseName,
		"job_store_backend", cfg.JobStore.Backend,
	)

	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("event loop: %w", err)
		}
	case <-ctx.Done():
		select {
		case err := <-done:
			if err != nil {
				return fmt.Errorf("event loop: %w", err)
			}
		case <-time.After(10 * time.Second):
			logger.Warn("shutdown timed out after 10s, forcing exit")
		}
	}

	logger.Info("pg-cron scheduler shutting down")
	return nil
}
