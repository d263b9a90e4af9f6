package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/shinji-kodama/libdeploy/internal/archive"
	"github.com/shinji-kodama/libdeploy/internal/config"
	"github.com/shinji-kodama/libdeploy/internal/fetch"
	"github.com/shinji-kodama/libdeploy/internal/model"
	"github.com/shinji-kodama/libdeploy/internal/pipeline"
)

// runFlags holds the flags of the run command. repo, branch and backend
// are read through config.Load; only their presence on the command line
// matters here.
type runFlags struct {
	repo    string
	branch  string
	backend string

	// strict turns a failed run into a non-zero exit code.
	strict bool
}

func newRunFlags() *runFlags {
	return &runFlags{}
}

// register adds the run flags to fs.
func (f *runFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.repo, "repo", "", "Repository URL or archive URL (env PYTHON_LIB_GITHUB_URL)")
	fs.StringVar(&f.branch, "branch", "", "Branch whose archive is fetched (default main)")
	fs.StringVar(&f.backend, "backend", "", "Execution backend: venv or docker (default venv)")
	fs.BoolVar(&f.strict, "strict", false, "Exit with a non-zero code when the run fails")
}

// NewRunCommand creates the "run" command. It shares its flags with the
// root command.
func NewRunCommand(flags *runFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Fetch, install and import the configured library",
		Long: `Run the deployment smoke test once.

Steps: locate the archive, fetch it, expand it, find the library root and
package, create a virtual environment, pip install the library, and import
it in a demonstration script. The work area is removed afterwards.

A failed run is logged and the command still exits 0, unless --strict is
given.

Examples:
  libdeploy run --repo https://github.com/psf/requests
  PYTHON_LIB_GITHUB_URL=https://github.com/acme/lib libdeploy --branch develop
  libdeploy run --backend docker --json --strict`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRun(cmd, flags)
		},
	}
	flags.register(cmd.Flags())
	return cmd
}

// runRun executes one pipeline run and prints its report.
func runRun(cmd *cobra.Command, flags *runFlags) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	report, runErr := newRunner(cfg, logger).Run(cmd.Context())
	if err := printReport(cmd.OutOrStdout(), report); err != nil {
		return model.WrapError(model.KindInternal, "failed to print report", err)
	}

	if runErr != nil && flags.strict {
		return runErr
	}
	return nil
}

// newRunner wires the pipeline from cfg.
func newRunner(cfg *config.Config, logger *log.Logger) *pipeline.Runner {
	var backend pipeline.Backend = &pipeline.HostBackend{Timeout: cfg.CommandTimeout}
	if cfg.Backend == model.BackendDocker {
		backend = &pipeline.DockerBackend{
			Image:   cfg.Docker.Image,
			Timeout: cfg.CommandTimeout,
		}
	}

	fetcher := fetch.New(
		fetch.WithTimeout(cfg.HTTPTimeout),
		fetch.WithMaxBytes(cfg.MaxDownloadBytes),
		fetch.WithUserAgent("libdeploy/"+Version),
	)

	return pipeline.New(pipeline.Options{
		RepoURL:     cfg.RepoURL,
		Branch:      cfg.Branch,
		WorkDir:     cfg.WorkDir,
		Python:      cfg.Python,
		DemoMessage: cfg.Demo.Message,
		Limits: archive.Limits{
			MaxBytes: cfg.Extract.MaxBytes,
			MaxFiles: cfg.Extract.MaxFiles,
		},
		BackendName: cfg.Backend,
	}, fetcher, backend, logger)
}

// printReport writes the run report as JSON or text, depending on --json.
func printReport(w io.Writer, report *model.RunReport) error {
	if IsJSONOutput() {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}
	_, err := io.WriteString(w, formatReportText(report))
	return err
}

// formatReportText renders the report as a summary followed by a step
// table:
//
//	Run 0123abcd (venv): succeeded in 4.2s
//	  Repository:  https://github.com/acme/lib
//	  Package:     lib
//	  Output:      Library version lib: 1.0.0
//
//	STEP         STATUS    DURATION  ERROR
//	locate       ok        0s
func formatReportText(report *model.RunReport) string {
	var b strings.Builder

	outcome := "succeeded"
	if !report.Succeeded {
		outcome = fmt.Sprintf("failed at %s", report.FailedStep)
	}
	fmt.Fprintf(&b, "Run %s (%s): %s in %s\n",
		model.ShortID(report.RunID), report.Backend, outcome, formatDuration(report.Duration))

	for _, field := range []struct{ label, value string }{
		{"Repository", report.RepoURL},
		{"Archive", report.ArchiveURL},
		{"Library", report.LibraryRoot},
		{"Package", report.PackageName},
		{"Output", report.DemoOutput},
	} {
		if field.value != "" {
			fmt.Fprintf(&b, "  %-12s %s\n", field.label+":", field.value)
		}
	}

	fmt.Fprintf(&b, "\n%-12s %-9s %-9s %s\n", "STEP", "STATUS", "DURATION", "ERROR")
	for _, step := range report.Steps {
		duration := "-"
		if step.Status != model.StepSkipped {
			duration = formatDuration(step.Duration)
		}
		row := fmt.Sprintf("%-12s %-9s %-9s %s", step.Name, step.Status, duration, step.Error)
		b.WriteString(strings.TrimRight(row, " ") + "\n")
	}
	return b.String()
}

// formatDuration rounds d for display.
func formatDuration(d time.Duration) string {
	switch {
	case d >= time.Second:
		return d.Round(100 * time.Millisecond).String()
	case d >= time.Millisecond:
		return d.Round(time.Millisecond).String()
	default:
		return d.Round(time.Microsecond).String()
	}
}
