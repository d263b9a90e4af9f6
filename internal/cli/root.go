// Package cli implements the cobra-based CLI commands for libdeploy.
//
// Running libdeploy without a subcommand is the same as "libdeploy run".
// The prune subcommand cleans up sandbox containers left behind by runs of
// the docker backend that were killed before their cleanup.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/shinji-kodama/libdeploy/internal/config"
	"github.com/shinji-kodama/libdeploy/internal/logging"
	"github.com/shinji-kodama/libdeploy/internal/model"
)

// Global flag variables shared across all subcommands. They are bound to
// persistent flags on the root command.
var (
	// jsonOutput prints reports and errors as JSON instead of text.
	jsonOutput bool

	// verbose forces debug-level logging.
	verbose bool

	// configFile is an optional YAML or JSONC configuration file.
	configFile string
)

// Version, Commit and Date are set at build time via ldflags from the
// main package.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// NewRootCommand creates the root command. Its own action is the run
// command, so "libdeploy" and "libdeploy run" are equivalent.
func NewRootCommand() *cobra.Command {
	run := newRunFlags()

	rootCmd := &cobra.Command{
		Use:   "libdeploy",
		Short: "Smoke-test the deployment of a Python library from its repository archive",
		Long: `libdeploy downloads a Python library's repository archive, installs it into
a fresh virtual environment and imports it, printing its version.

The repository is taken from --repo or PYTHON_LIB_GITHUB_URL. Everything
the run creates is removed when it ends, whatever the outcome.`,

		Args: cobra.NoArgs,

		// Errors are printed by Execute in text or JSON form.
		SilenceUsage:  true,
		SilenceErrors: true,

		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, Date),

		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRun(cmd, run)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	flags.StringVar(&configFile, "config", "", "Configuration file (.yaml, .yml, .json, .jsonc)")
	run.register(rootCmd.Flags())

	rootCmd.AddCommand(NewRunCommand(run))
	rootCmd.AddCommand(NewPruneCommand())

	return rootCmd
}

// Execute runs the root command with ctx and exits with the code of the
// returned error, if any.
func Execute(ctx context.Context, rootCmd *cobra.Command) {
	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return
	}
	printError(os.Stderr, err)
	os.Exit(int(exitCode(err)))
}

// exitCode maps an error to the process exit code.
func exitCode(err error) model.ExitCode {
	if err == nil {
		return model.ExitSuccess
	}
	var e *model.Error
	if errors.As(err, &e) {
		if code := e.Code(); code != model.ExitSuccess {
			return code
		}
	}
	return model.ExitGeneralError
}

// printError writes err to w as text or, with --json, as a JSON object
// carrying the error kind.
func printError(w io.Writer, err error) {
	if !jsonOutput {
		_, _ = fmt.Fprintf(w, "Error: %v\n", err)
		return
	}

	errObj := map[string]any{
		"message": err.Error(),
		"kind":    model.KindOf(err).String(),
	}
	var e *model.Error
	if errors.As(err, &e) && e.Err != nil {
		errObj["message"] = e.Message
		errObj["detail"] = e.Err.Error()
	}

	data, _ := json.MarshalIndent(map[string]any{"error": errObj}, "", "  ")
	_, _ = fmt.Fprintln(w, string(data))
}

// IsJSONOutput returns whether the --json flag is set.
func IsJSONOutput() bool {
	return jsonOutput
}

// loadConfig resolves the configuration for cmd and builds the logger.
// --verbose overrides the configured log level.
func loadConfig(cmd *cobra.Command) (*config.Config, *log.Logger, error) {
	cfg, err := config.Load(config.LoadOptions{
		ConfigFile: configFile,
		Flags:      cmd.Flags(),
	})
	if err != nil {
		return nil, nil, err
	}

	level := cfg.Log.Level
	if verbose {
		level = "debug"
	}
	logger, err := logging.New(cmd.ErrOrStderr(), logging.Options{
		Level:  level,
		Format: cfg.Log.Format,
	})
	if err != nil {
		return nil, nil, model.WrapError(model.KindMissingConfiguration, "invalid logging configuration", err)
	}
	return cfg, logger, nil
}
