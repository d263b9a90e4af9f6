package docker

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"

	"github.com/shinji-kodama/libdeploy/internal/model"
)

// ListSandboxes returns every container carrying the libdeploy management
// label, stopped ones included. Filtering happens server-side.
//
// Containers whose labels cannot be parsed are still returned, with only
// their Docker identity filled in, so prune can remove them.
func ListSandboxes(ctx context.Context, cli *Client) ([]model.SandboxInfo, error) {
	filterArgs := filters.NewArgs(
		filters.Arg("label", LabelManagedBy+"="+ManagedByValue),
	)

	containers, err := cli.Inner().ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filterArgs,
	})
	if err != nil {
		return nil, model.WrapError(model.KindDockerUnavailable, "failed to list Docker containers", err)
	}

	result := make([]model.SandboxInfo, 0, len(containers))
	for _, c := range containers {
		result = append(result, summaryToInfo(c))
	}
	return result, nil
}

// summaryToInfo converts a Docker container summary to a SandboxInfo.
// Docker returns names with a leading "/", which is stripped.
func summaryToInfo(c container.Summary) model.SandboxInfo {
	info := model.SandboxInfo{}
	if parsed, err := ParseLabels(c.Labels); err == nil {
		info = *parsed
	}

	info.ContainerID = c.ID
	if len(c.Names) > 0 {
		info.ContainerName = strings.TrimPrefix(c.Names[0], "/")
	}
	info.Status = c.State
	info.Labels = FilterLabels(c.Labels)
	return info
}

// EnsureImage pulls ref unless it is already present locally. The pull
// progress stream is drained and discarded.
func EnsureImage(ctx context.Context, cli *Client, ref string) error {
	_, err := cli.Inner().ImageInspect(ctx, ref)
	if err == nil {
		return nil
	}
	if !client.IsErrNotFound(err) {
		return model.WrapError(model.KindProvisionFailed,
			fmt.Sprintf("failed to inspect image %q", ref), err)
	}

	progress, err := cli.Inner().ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return model.WrapError(model.KindProvisionFailed,
			fmt.Sprintf("failed to pull image %q", ref), err)
	}
	defer progress.Close()

	if _, err := io.Copy(io.Discard, progress); err != nil {
		return model.WrapError(model.KindProvisionFailed,
			fmt.Sprintf("failed to pull image %q", ref), err)
	}
	return nil
}

// RemoveSandbox force-removes a sandbox container and its anonymous
// volumes. A container that no longer exists is not an error.
func RemoveSandbox(ctx context.Context, cli *Client, containerID string) error {
	err := cli.Inner().ContainerRemove(ctx, containerID, container.RemoveOptions{
		Force:         true,
		RemoveVolumes: true,
	})
	if err != nil && !client.IsErrNotFound(err) {
		return model.WrapError(model.KindDockerUnavailable,
			fmt.Sprintf("failed to remove container %q", containerID), err)
	}
	return nil
}
