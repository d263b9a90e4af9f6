package docker

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"testing"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// execReply scripts the answer to one exec.
type execReply struct {
	stdout   string
	stderr   string
	exitCode int
}

// fakeAPI is an in-memory API. Unscripted methods panic through the nil
// embedded interface.
type fakeAPI struct {
	API

	t *testing.T

	imagePresent bool
	pulled       []string

	createdConfig *container.Config
	createdHost   *container.HostConfig
	createdName   string
	startErr      error
	started       []string
	removed       []string

	containers []container.Summary

	execs   [][]string
	replies map[string]execReply
}

func newFakeAPI(t *testing.T) *fakeAPI {
	return &fakeAPI{t: t, replies: map[string]execReply{}}
}

func (f *fakeAPI) ImageInspect(_ context.Context, _ string, _ ...client.ImageInspectOption) (image.InspectResponse, error) {
	if f.imagePresent {
		return image.InspectResponse{}, nil
	}
	return image.InspectResponse{}, errdefs.NotFound(errors.New("no such image"))
}

func (f *fakeAPI) ImagePull(_ context.Context, ref string, _ image.PullOptions) (io.ReadCloser, error) {
	f.pulled = append(f.pulled, ref)
	return io.NopCloser(strings.NewReader(`{"status":"Downloaded"}`)), nil
}

func (f *fakeAPI) ContainerCreate(_ context.Context, cfg *container.Config, host *container.HostConfig,
	_ *network.NetworkingConfig, _ *ocispec.Platform, name string) (container.CreateResponse, error) {
	f.createdConfig = cfg
	f.createdHost = host
	f.createdName = name
	return container.CreateResponse{ID: "c0ffee"}, nil
}

func (f *fakeAPI) ContainerStart(_ context.Context, id string, _ container.StartOptions) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.started = append(f.started, id)
	return nil
}

func (f *fakeAPI) ContainerRemove(_ context.Context, id string, _ container.RemoveOptions) error {
	f.removed = append(f.removed, id)
	return nil
}

func (f *fakeAPI) ContainerList(_ context.Context, _ container.ListOptions) ([]container.Summary, error) {
	return f.containers, nil
}

func (f *fakeAPI) ContainerExecCreate(_ context.Context, _ string, opts container.ExecOptions) (container.ExecCreateResponse, error) {
	f.execs = append(f.execs, opts.Cmd)
	return container.ExecCreateResponse{ID: opts.Cmd[0]}, nil
}

func (f *fakeAPI) ContainerExecAttach(_ context.Context, execID string, _ container.ExecAttachOptions) (types.HijackedResponse, error) {
	reply := f.replies[execID]

	var muxed bytes.Buffer
	if reply.stdout != "" {
		_, _ = stdcopy.NewStdWriter(&muxed, stdcopy.Stdout).Write([]byte(reply.stdout))
	}
	if reply.stderr != "" {
		_, _ = stdcopy.NewStdWriter(&muxed, stdcopy.Stderr).Write([]byte(reply.stderr))
	}

	local, remote := net.Pipe()
	f.t.Cleanup(func() { _ = remote.Close() })
	return types.HijackedResponse{Conn: local, Reader: bufio.NewReader(&muxed)}, nil
}

func (f *fakeAPI) ContainerExecInspect(_ context.Context, execID string) (container.ExecInspect, error) {
	return container.ExecInspect{ExecID: execID, ExitCode: f.replies[execID].exitCode}, nil
}

func (f *fakeAPI) Close() error {
	return nil
}
