package model

import (
	"fmt"
	"strings"
	"time"
)

// Backend selects where the environment provisioner, installer and
// verifier execute their subprocesses.
type Backend string

const (
	// BackendVenv runs everything on the host, in a virtual environment
	// created under the work area.
	BackendVenv Backend = "venv"

	// BackendDocker runs everything inside a disposable sandbox container
	// with the work area bind-mounted into it. The virtual environment is
	// still created, but inside the container.
	BackendDocker Backend = "docker"
)

// String returns the string representation of Backend.
func (b Backend) String() string {
	return string(b)
}

// IsValid checks whether the Backend value is one of the predefined
// backends.
func (b Backend) IsValid() bool {
	switch b {
	case BackendVenv, BackendDocker:
		return true
	default:
		return false
	}
}

// ParseBackend converts a string to a Backend.
// Returns an error if the string does not match any valid backend.
func ParseBackend(s string) (Backend, error) {
	backend := Backend(strings.ToLower(strings.TrimSpace(s)))
	if !backend.IsValid() {
		return "", fmt.Errorf("invalid backend: %q (valid: venv, docker)", s)
	}
	return backend, nil
}

// StepName identifies one stage of the deployment pipeline. The order of
// the constants below is the order of execution.
type StepName string

const (
	StepLocate      StepName = "locate"
	StepFetch       StepName = "fetch"
	StepExpand      StepName = "expand"
	StepResolve     StepName = "resolve"
	StepProvision   StepName = "provision"
	StepInstall     StepName = "install"
	StepDemonstrate StepName = "demonstrate"
	StepCleanup     StepName = "cleanup"
)

// PipelineSteps lists every step in execution order.
var PipelineSteps = []StepName{
	StepLocate,
	StepFetch,
	StepExpand,
	StepResolve,
	StepProvision,
	StepInstall,
	StepDemonstrate,
	StepCleanup,
}

// StepStatus is the outcome of a single pipeline step.
type StepStatus string

const (
	// StepOK indicates the step completed successfully.
	StepOK StepStatus = "ok"

	// StepFailed indicates the step failed and aborted the run.
	StepFailed StepStatus = "failed"

	// StepWarning indicates the step failed without aborting the run.
	// Only the demonstration step produces warnings.
	StepWarning StepStatus = "warning"

	// StepSkipped indicates the step never ran because an earlier step
	// failed.
	StepSkipped StepStatus = "skipped"
)

// StepResult records what happened during one pipeline step.
type StepResult struct {
	// Name is the step identifier.
	Name StepName `json:"name"`

	// Status is the step outcome.
	Status StepStatus `json:"status"`

	// Duration is the wall-clock time spent in the step.
	Duration time.Duration `json:"duration"`

	// ErrorKind is set for failed or warning steps.
	ErrorKind ErrorKind `json:"errorKind,omitempty"`

	// Error is the error message for failed or warning steps.
	Error string `json:"error,omitempty"`
}

// RunReport summarizes one pipeline execution. It is printed to stdout at
// the end of a run and never written to disk.
type RunReport struct {
	// RunID uniquely identifies the run. It appears in the work area
	// directory name and in sandbox container labels.
	RunID string `json:"runId"`

	// RepoURL is the repository reference as configured (trimmed).
	RepoURL string `json:"repoUrl,omitempty"`

	// ArchiveURL is the URL the archive was fetched from.
	ArchiveURL string `json:"archiveUrl,omitempty"`

	// RepoName is the repository name derived from RepoURL, if any.
	RepoName string `json:"repoName,omitempty"`

	// LibraryRoot is the basename of the extracted top-level directory.
	LibraryRoot string `json:"libraryRoot,omitempty"`

	// PackageName is the import name the demonstration used.
	PackageName string `json:"packageName,omitempty"`

	// Backend is the execution backend the run used.
	Backend Backend `json:"backend"`

	// Steps holds one result per pipeline step, in execution order.
	Steps []StepResult `json:"steps"`

	// DemoOutput is the trimmed standard output of the demonstration
	// script.
	DemoOutput string `json:"demoOutput,omitempty"`

	// Succeeded is true when every non-advisory step completed.
	Succeeded bool `json:"succeeded"`

	// FailedStep names the step that aborted the run, if any.
	FailedStep StepName `json:"failedStep,omitempty"`

	// StartedAt is the time the run began.
	StartedAt time.Time `json:"startedAt"`

	// Duration is the total wall-clock time of the run, cleanup included.
	Duration time.Duration `json:"duration"`
}

// Step returns the result recorded for the named step, or nil if the step
// has no result yet.
func (r *RunReport) Step(name StepName) *StepResult {
	for i := range r.Steps {
		if r.Steps[i].Name == name {
			return &r.Steps[i]
		}
	}
	return nil
}

// ShortID returns the first eight characters of a run id, the form used
// in logs, directory names and container names.
func ShortID(runID string) string {
	if len(runID) > 8 {
		return runID[:8]
	}
	return runID
}

// SandboxInfo holds runtime information about a sandbox container created
// by the docker backend. This data is fetched from the Docker API, not
// persisted.
type SandboxInfo struct {
	// ContainerID is the Docker container identifier.
	ContainerID string `json:"containerId"`

	// ContainerName is the human-readable Docker container name.
	ContainerName string `json:"containerName"`

	// RunID is the pipeline run that created the container.
	RunID string `json:"runId"`

	// Repo is the repository reference the run was testing.
	Repo string `json:"repo,omitempty"`

	// Status is the Docker container state (e.g., "running", "exited").
	Status string `json:"status"`

	// CreatedAt is the time the sandbox was created, from its labels.
	CreatedAt time.Time `json:"createdAt"`

	// Labels holds the container's libdeploy.* labels.
	Labels map[string]string `json:"labels,omitempty"`
}
