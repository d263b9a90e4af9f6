package docker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/shinji-kodama/libdeploy/internal/execx"
	"github.com/shinji-kodama/libdeploy/internal/model"
)

// MountPoint is where the work area is bind-mounted inside a sandbox.
const MountPoint = "/workspace"

// DefaultImage is the sandbox image used when none is configured.
const DefaultImage = "python:3.12-slim"

// sandboxEnv is set on the sandbox and every exec. HOME points at a
// writable directory because the container may run as an arbitrary uid.
var sandboxEnv = []string{
	"HOME=/tmp",
	"PIP_DISABLE_PIP_VERSION_CHECK=1",
	"PYTHONDONTWRITEBYTECODE=1",
}

// SandboxOptions configures StartSandbox.
type SandboxOptions struct {
	// Image is the container image. Empty means DefaultImage.
	Image string

	// RunID and Repo are recorded in the container labels.
	RunID string
	Repo  string

	// HostRoot is the host directory mounted at MountPoint.
	HostRoot string

	// User is the "uid:gid" the container runs as. Empty means the image
	// default. See HostUser.
	User string

	// Timeout bounds every command run in the sandbox. Zero is unbounded.
	Timeout time.Duration
}

// Sandbox is a running container that executes commands on behalf of one
// pipeline run. It implements execx.Executor.
type Sandbox struct {
	cli      *Client
	id       string
	name     string
	hostRoot string
	timeout  time.Duration
}

var _ execx.Executor = (*Sandbox)(nil)

// HostUser returns the current "uid:gid", so files the sandbox writes into
// the bind mount stay removable by the host user. It returns "" on
// platforms without numeric ids.
func HostUser() string {
	uid, gid := os.Getuid(), os.Getgid()
	if uid < 0 || gid < 0 {
		return ""
	}
	return fmt.Sprintf("%d:%d", uid, gid)
}

// SandboxName returns the container name used for runID.
func SandboxName(runID string) string {
	return "libdeploy-" + model.ShortID(runID)
}

// StartSandbox pulls the image if needed, then creates and starts a
// labelled container that idles until removed. The container is removed
// again if it cannot be started.
func StartSandbox(ctx context.Context, cli *Client, opts SandboxOptions) (*Sandbox, error) {
	if opts.Image == "" {
		opts.Image = DefaultImage
	}
	if err := EnsureImage(ctx, cli, opts.Image); err != nil {
		return nil, err
	}

	name := SandboxName(opts.RunID)
	created, err := cli.Inner().ContainerCreate(ctx,
		&container.Config{
			Image:      opts.Image,
			Cmd:        []string{"sleep", "infinity"},
			Env:        sandboxEnv,
			Labels:     BuildLabels(opts.RunID, opts.Repo, time.Now()),
			User:       opts.User,
			WorkingDir: MountPoint,
		},
		&container.HostConfig{
			Binds: []string{opts.HostRoot + ":" + MountPoint},
		},
		nil, nil, name)
	if err != nil {
		return nil, model.WrapError(model.KindProvisionFailed,
			fmt.Sprintf("failed to create sandbox container %q", name), err)
	}

	if err := cli.Inner().ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		_ = RemoveSandbox(context.WithoutCancel(ctx), cli, created.ID)
		return nil, model.WrapError(model.KindProvisionFailed,
			fmt.Sprintf("failed to start sandbox container %q", name), err)
	}

	return &Sandbox{
		cli:      cli,
		id:       created.ID,
		name:     name,
		hostRoot: opts.HostRoot,
		timeout:  opts.Timeout,
	}, nil
}

// ID returns the container ID.
func (s *Sandbox) ID() string {
	return s.id
}

// Name returns the container name.
func (s *Sandbox) Name() string {
	return s.name
}

// Run executes the command inside the container via docker exec and
// collects its demultiplexed output.
func (s *Sandbox) Run(ctx context.Context, name string, args ...string) (*execx.Result, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	res := &execx.Result{
		Command:  execx.CommandLine(name, args...),
		ExitCode: -1,
	}

	api := s.cli.Inner()
	created, err := api.ContainerExecCreate(ctx, s.id, container.ExecOptions{
		Cmd:          append([]string{name}, args...),
		AttachStdout: true,
		AttachStderr: true,
		WorkingDir:   MountPoint,
	})
	if err != nil {
		res.Duration = time.Since(start)
		return res, &execx.CommandError{Result: res, Err: err}
	}

	attached, err := api.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		res.Duration = time.Since(start)
		return res, &execx.CommandError{Result: res, Err: err}
	}
	defer attached.Close()

	var stdout, stderr bytes.Buffer
	copied := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(&stdout, &stderr, attached.Reader)
		copied <- err
	}()

	select {
	case err = <-copied:
	case <-ctx.Done():
		attached.Close()
		<-copied
		err = ctx.Err()
	}

	res.Stdout = stdout.String()
	res.Stderr = stderr.String()
	res.Duration = time.Since(start)

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %v", execx.ErrTimeout, err)
		}
		return res, &execx.CommandError{Result: res, Err: err}
	}

	inspect, err := api.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return res, &execx.CommandError{Result: res, Err: err}
	}
	res.ExitCode = inspect.ExitCode
	if res.ExitCode != 0 {
		return res, &execx.CommandError{Result: res}
	}
	return res, nil
}

// Path maps a host path under the mounted work area to its location under
// MountPoint. Paths outside the work area are returned unchanged.
func (s *Sandbox) Path(hostPath string) string {
	rel, err := filepath.Rel(s.hostRoot, hostPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return hostPath
	}
	return path.Join(MountPoint, filepath.ToSlash(rel))
}

// OS returns "linux"; sandbox images are Linux images.
func (s *Sandbox) OS() string {
	return "linux"
}

// Close removes the container. It is safe to call more than once.
func (s *Sandbox) Close(ctx context.Context) error {
	if s.id == "" {
		return nil
	}
	err := RemoveSandbox(ctx, s.cli, s.id)
	if err == nil {
		s.id = ""
	}
	return err
}
