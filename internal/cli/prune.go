package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/shinji-kodama/libdeploy/internal/docker"
	"github.com/shinji-kodama/libdeploy/internal/model"
)

// pruneFlags holds the flag values for the prune command.
type pruneFlags struct {
	// dryRun lists the sandboxes without removing them.
	dryRun bool

	// force skips the confirmation prompt.
	force bool
}

// NewPruneCommand creates the "prune" command.
func NewPruneCommand() *cobra.Command {
	flags := &pruneFlags{}

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove sandbox containers left behind by interrupted runs",
		Long: `Remove every container labelled libdeploy.managed-by=libdeploy.

Runs of the docker backend remove their sandbox when they end. A run that
was killed before its cleanup leaves the container behind; prune finds such
containers by label and force-removes them.

Unless --force or --json is given, the command prompts for confirmation.

Examples:
  libdeploy prune --dry-run
  libdeploy prune --force
  libdeploy prune --json`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPrune(cmd, flags)
		},
	}

	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "List sandboxes without removing them")
	cmd.Flags().BoolVarP(&flags.force, "force", "f", false, "Remove without confirmation")

	return cmd
}

// pruneResult is the outcome of a prune, printed as text or JSON.
type pruneResult struct {
	Sandboxes []model.SandboxInfo `json:"sandboxes"`
	Removed   []string            `json:"removed"`
	Failed    []string            `json:"failed,omitempty"`
	DryRun    bool                `json:"dryRun"`
}

func runPrune(cmd *cobra.Command, flags *pruneFlags) error {
	_, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	cli, err := docker.NewClient()
	if err != nil {
		return err
	}
	defer func() { _ = cli.Close() }()

	if err := cli.Ping(ctx); err != nil {
		return err
	}
	logger.Debug("connected to Docker daemon")

	sandboxes, err := docker.ListSandboxes(ctx, cli)
	if err != nil {
		return err
	}
	sortSandboxes(sandboxes)
	logger.Debug("found sandbox containers", "count", len(sandboxes))

	result := &pruneResult{
		Sandboxes: sandboxes,
		Removed:   []string{},
		DryRun:    flags.dryRun,
	}

	if len(sandboxes) > 0 && !flags.dryRun {
		if !flags.force && !IsJSONOutput() {
			confirmed, err := promptConfirmation(cmd.InOrStdin(), cmd.OutOrStdout(), len(sandboxes))
			if err != nil {
				return model.WrapError(model.KindInternal, "failed to read user input", err)
			}
			if !confirmed {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Cancelled.")
				return nil
			}
		}
		removeSandboxes(ctx, cli, logger, result)
	}

	if err := printPruneResult(cmd.OutOrStdout(), result); err != nil {
		return model.WrapError(model.KindInternal, "failed to print result", err)
	}
	if len(result.Failed) > 0 {
		return model.NewError(model.KindDockerUnavailable,
			fmt.Sprintf("failed to remove %d sandbox container(s)", len(result.Failed)))
	}
	return nil
}

// removeSandboxes removes every sandbox in result, recording successes and
// failures. One failure does not stop the others.
func removeSandboxes(ctx context.Context, cli *docker.Client, logger *log.Logger, result *pruneResult) {
	for _, sb := range result.Sandboxes {
		if err := docker.RemoveSandbox(ctx, cli, sb.ContainerID); err != nil {
			logger.Error("failed to remove sandbox", "container", sb.ContainerName, "error", err)
			result.Failed = append(result.Failed, sb.ContainerID)
			continue
		}
		logger.Info("removed sandbox", "container", sb.ContainerName, "run", sb.RunID)
		result.Removed = append(result.Removed, sb.ContainerID)
	}
}

// sortSandboxes orders sandboxes oldest first.
func sortSandboxes(sandboxes []model.SandboxInfo) {
	sort.SliceStable(sandboxes, func(i, j int) bool {
		return sandboxes[i].CreatedAt.Before(sandboxes[j].CreatedAt)
	})
}

// promptConfirmation asks on out and reads the answer from in. Only "y"
// and "yes" confirm.
func promptConfirmation(in io.Reader, out io.Writer, count int) (bool, error) {
	_, _ = fmt.Fprintf(out, "About to remove %d sandbox container(s).\nContinue? [y/N] ", count)

	answer, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && answer == "" {
		if err == io.EOF {
			return false, nil
		}
		return false, err
	}

	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes", nil
}

// printPruneResult writes result as JSON or text, depending on --json.
func printPruneResult(w io.Writer, result *pruneResult) error {
	if IsJSONOutput() {
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}
	_, err := io.WriteString(w, formatPruneText(result))
	return err
}

// formatPruneText renders a prune result:
//
//	NAME                 RUN       STATUS    CREATED
//	libdeploy-0123abcd   0123abcd  running   2026-03-01 12:00:00
//
//	Removed 1 sandbox container(s).
func formatPruneText(result *pruneResult) string {
	if len(result.Sandboxes) == 0 {
		return "No sandbox containers found.\n"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%-20s %-9s %-9s %s\n", "NAME", "RUN", "STATUS", "CREATED")
	for _, sb := range result.Sandboxes {
		created := "-"
		if !sb.CreatedAt.IsZero() {
			created = sb.CreatedAt.Local().Format("2006-01-02 15:04:05")
		}
		name := sb.ContainerName
		if name == "" {
			name = model.ShortID(sb.ContainerID)
		}
		fmt.Fprintf(&b, "%-20s %-9s %-9s %s\n", name, model.ShortID(sb.RunID), sb.Status, created)
	}

	b.WriteString("\n")
	switch {
	case result.DryRun:
		fmt.Fprintf(&b, "Dry run: %d sandbox container(s) would be removed.\n", len(result.Sandboxes))
	default:
		fmt.Fprintf(&b, "Removed %d sandbox container(s).\n", len(result.Removed))
		if len(result.Failed) > 0 {
			fmt.Fprintf(&b, "Failed to remove %d sandbox container(s).\n", len(result.Failed))
		}
	}
	return b.String()
}
