// Package execxtest provides a scriptable in-memory execx.Executor for
// tests that must not spawn real processes.
package execxtest

import (
	"context"
	"slices"

	"github.com/shinji-kodama/libdeploy/internal/execx"
)

// Call records one Run invocation.
type Call struct {
	Name string
	Args []string
}

// HandlerFunc answers a Run call. Returning a nil result makes Fake fill
// in a successful empty one.
type HandlerFunc func(name string, args []string) (*execx.Result, error)

// Fake is an execx.Executor that records calls and delegates to Handler.
type Fake struct {
	// GOOS is returned by OS. Empty means "linux".
	GOOS string

	// PathFunc maps host paths. Nil means identity.
	PathFunc func(string) string

	// Handler answers calls. Nil means every command succeeds silently.
	Handler HandlerFunc

	// Calls holds every invocation in order.
	Calls []Call
}

// Run records the call and delegates to Handler.
func (f *Fake) Run(_ context.Context, name string, args ...string) (*execx.Result, error) {
	f.Calls = append(f.Calls, Call{Name: name, Args: slices.Clone(args)})

	var (
		res *execx.Result
		err error
	)
	if f.Handler != nil {
		res, err = f.Handler(name, args)
	}
	if res == nil {
		res = &execx.Result{}
	}
	if res.Command == "" {
		res.Command = execx.CommandLine(name, args...)
	}
	return res, err
}

// Path applies PathFunc.
func (f *Fake) Path(hostPath string) string {
	if f.PathFunc != nil {
		return f.PathFunc(hostPath)
	}
	return hostPath
}

// OS returns GOOS, defaulting to linux.
func (f *Fake) OS() string {
	if f.GOOS == "" {
		return "linux"
	}
	return f.GOOS
}

// Exit builds the result and error a real executor returns for a command
// that exited with code and wrote stderr.
func Exit(name string, args []string, code int, stdout, stderr string) (*execx.Result, error) {
	res := &execx.Result{
		Command:  execx.CommandLine(name, args...),
		ExitCode: code,
		Stdout:   stdout,
		Stderr:   stderr,
	}
	if code == 0 {
		return res, nil
	}
	return res, &execx.CommandError{Result: res}
}
