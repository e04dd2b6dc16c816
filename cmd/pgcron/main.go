// Package main is the entry point of the pgcron CLI: load .env, build
// the cobra root command, execute, translate errors to a process exit
// code.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/citusdata/pg-cron/cmd/pgcron/commands"
)

// version is injected at build time via -ldflags.
var version = "dev"

func main() {
	// Best-effort: a missing .env is normal outside of local development.
	_ = godotenv.Load()

	rootCmd := commands.NewRootCmd(version)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
