// Package main is the entry point for the libdeploy CLI.
//
// Build-time variables (version, commit, date) are injected via ldflags
// by GoReleaser during the release process. During development, they
// default to "dev", "none", and "unknown" respectively.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/shinji-kodama/libdeploy/internal/cli"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	// A .env file is optional; variables already set take precedence.
	_ = godotenv.Load()

	cli.Version = version
	cli.Commit = commit
	cli.Date = date

	// SIGINT and SIGTERM cancel the run; its cleanup still executes.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cli.Execute(ctx, cli.NewRootCommand())
}
