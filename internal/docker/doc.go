// Package docker provides the Docker Engine API wrappers behind the
// docker execution backend of the libdeploy CLI.
//
// This package handles:
//   - Docker client initialization with automatic socket detection
//     (Linux, macOS, Windows)
//   - Sandbox container labels, the only record of which containers
//     libdeploy created
//   - Sandbox lifecycle: image pull, create, exec, list, remove
//
// A Sandbox implements execx.Executor, so the venv provisioner, installer
// and demonstration run unchanged inside a container.
//
// The package uses github.com/docker/docker/client as the underlying
// Docker SDK, with version negotiation enabled for broad compatibility.
package docker
