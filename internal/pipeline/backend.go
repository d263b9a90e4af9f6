package pipeline

import (
	"context"
	"time"

	"github.com/charmbracelet/log"

	"github.com/shinji-kodama/libdeploy/internal/docker"
	"github.com/shinji-kodama/libdeploy/internal/execx"
	"github.com/shinji-kodama/libdeploy/internal/workarea"
)

// RunInfo identifies the run a backend session is opened for.
type RunInfo struct {
	ID   string
	Repo string
	Area *workarea.Area

	// Logger receives backend events for the run. Nil disables them.
	Logger *log.Logger
}

// Session is an executor bound to one run. Close releases whatever the
// backend acquired for it.
type Session interface {
	execx.Executor
	Close(ctx context.Context) error
}

// Backend opens execution sessions.
type Backend interface {
	Open(ctx context.Context, run RunInfo) (Session, error)
}

// HostBackend runs commands as host subprocesses.
type HostBackend struct {
	// Timeout bounds each command. Zero is unbounded.
	Timeout time.Duration
}

// Open returns a host session. It never fails.
func (b *HostBackend) Open(context.Context, RunInfo) (Session, error) {
	return hostSession{execx.NewHost(b.Timeout, "PIP_DISABLE_PIP_VERSION_CHECK=1")}, nil
}

type hostSession struct {
	*execx.Host
}

func (hostSession) Close(context.Context) error {
	return nil
}

// DockerBackend runs commands in a sandbox container with the work area
// mounted into it.
type DockerBackend struct {
	// Image is the sandbox image. Empty means docker.DefaultImage.
	Image string

	// Timeout bounds each command. Zero is unbounded.
	Timeout time.Duration

	// Connect creates the Docker client. Nil means docker.NewClient.
	Connect func() (*docker.Client, error)
}

// Open connects to the daemon and starts a sandbox for run. An unreachable
// daemon is reported as KindDockerUnavailable.
func (b *DockerBackend) Open(ctx context.Context, run RunInfo) (Session, error) {
	connect := b.Connect
	if connect == nil {
		connect = docker.NewClient
	}

	cli, err := connect()
	if err != nil {
		return nil, err
	}
	if err := cli.Ping(ctx); err != nil {
		_ = cli.Close()
		return nil, err
	}

	sb, err := docker.StartSandbox(ctx, cli, docker.SandboxOptions{
		Image:    b.Image,
		RunID:    run.ID,
		Repo:     run.Repo,
		HostRoot: run.Area.Root,
		User:     docker.HostUser(),
		Timeout:  b.Timeout,
	})
	if err != nil {
		_ = cli.Close()
		return nil, err
	}
	if run.Logger != nil {
		run.Logger.Info("started sandbox container", "container", sb.Name(), "id", sb.ID())
	}
	return &sandboxSession{Sandbox: sb, cli: cli}, nil
}

type sandboxSession struct {
	*docker.Sandbox
	cli *docker.Client
}

// Close removes the container, then closes the client.
func (s *sandboxSession) Close(ctx context.Context) error {
	err := s.Sandbox.Close(ctx)
	if cerr := s.cli.Close(); err == nil {
		err = cerr
	}
	return err
}
