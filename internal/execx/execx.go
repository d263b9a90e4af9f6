// Package execx runs external commands and captures their output.
//
// Commands are described by the Executor interface so that the same
// provisioning, install and demonstration code can run either on the host
// (Host, in this package) or inside a sandbox container (docker.Sandbox).
// An executor also owns the mapping from host paths to the paths its
// commands see, and reports the OS its commands run on, which decides the
// Scripts/ versus bin/ layout of a virtual environment.
package execx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

// waitDelay bounds how long Run waits for output pipes after the process
// was killed.
const waitDelay = 2 * time.Second

// ErrTimeout indicates a command was killed because it exceeded its
// timeout.
var ErrTimeout = errors.New("command timed out")

// Executor runs commands in some execution environment.
type Executor interface {
	// Run executes name with args and waits for it to finish. The
	// returned Result is non-nil whenever the command was started, even
	// when err is non-nil. A non-zero exit status yields a *CommandError.
	Run(ctx context.Context, name string, args ...string) (*Result, error)

	// Path maps a host path into the executor's filesystem view.
	Path(hostPath string) string

	// OS is the GOOS-style name of the system commands run on.
	OS() string
}

// Result holds the outcome of one command.
type Result struct {
	// Command is the command line, for logging.
	Command string

	// ExitCode is the process exit status, or -1 if it never exited.
	ExitCode int

	// Stdout and Stderr hold the captured output streams.
	Stdout string
	Stderr string

	// Duration is the wall-clock run time.
	Duration time.Duration
}

// CommandError reports a command that could not be started, timed out, or
// exited with a non-zero status.
type CommandError struct {
	Result *Result
	Err    error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("%s failed", e.Result.Command)
	if e.Result.ExitCode > 0 {
		msg = fmt.Sprintf("%s exited with status %d", e.Result.Command, e.Result.ExitCode)
	}
	if stderr := strings.TrimSpace(e.Result.Stderr); stderr != "" {
		msg = fmt.Sprintf("%s: %s", msg, lastLines(stderr, 5))
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// Host runs commands as child processes of the current process.
type Host struct {
	timeout time.Duration
	env     []string
}

// NewHost creates a host executor. A positive timeout bounds every command;
// zero leaves commands unbounded. extraEnv entries ("KEY=value") are added
// to the inherited environment.
func NewHost(timeout time.Duration, extraEnv ...string) *Host {
	return &Host{timeout: timeout, env: extraEnv}
}

// Run executes the command on the host.
func (h *Host) Run(ctx context.Context, name string, args ...string) (*Result, error) {
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	// #nosec G204 -- name and args are built by this program, not a shell
	cmd := exec.CommandContext(ctx, name, args...)
	if len(h.env) > 0 {
		cmd.Env = append(os.Environ(), h.env...)
	}

	// Grandchildren holding the output pipes must not outlive a kill.
	cmd.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	res := &Result{
		Command:  CommandLine(name, args...),
		ExitCode: -1,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return res, &CommandError{Result: res, Err: err}
	}
	return res, nil
}

// Path returns hostPath unchanged.
func (h *Host) Path(hostPath string) string {
	return hostPath
}

// OS returns runtime.GOOS.
func (h *Host) OS() string {
	return runtime.GOOS
}

// CommandLine renders a command for logs, quoting arguments with spaces.
func CommandLine(name string, args ...string) string {
	parts := make([]string, 0, len(args)+1)
	for _, s := range append([]string{name}, args...) {
		if strings.ContainsAny(s, " \t") {
			s = fmt.Sprintf("%q", s)
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, " ")
}

// lastLines returns at most n trailing lines of s. Tool errors (pip in
// particular) put the useful line last.
func lastLines(s string, n int) string {
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
