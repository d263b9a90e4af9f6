package docker

import (
	"fmt"
	"strings"
	"time"

	"github.com/shinji-kodama/libdeploy/internal/model"
)

// Label keys attached to every sandbox container. The labels are the only
// record of which containers libdeploy created; there is no state file.
//
// All keys share the "libdeploy." prefix so they never collide with labels
// set by other tools.
const (
	// LabelPrefix is the common prefix for all libdeploy labels.
	LabelPrefix = "libdeploy."

	// LabelManagedBy marks a container as created by libdeploy. It is the
	// label `libdeploy prune` filters on.
	LabelManagedBy = LabelPrefix + "managed-by"

	// LabelRunID stores the run identifier of the pipeline execution that
	// created the sandbox.
	LabelRunID = LabelPrefix + "run-id"

	// LabelRepo stores the repository reference under test.
	LabelRepo = LabelPrefix + "repo"

	// LabelCreatedAt stores the creation time as an RFC3339 timestamp.
	LabelCreatedAt = LabelPrefix + "created-at"
)

// ManagedByValue is the value of LabelManagedBy on every sandbox.
const ManagedByValue = "libdeploy"

// BuildLabels returns the label set for a sandbox created by run runID
// while testing repo.
func BuildLabels(runID, repo string, createdAt time.Time) map[string]string {
	labels := map[string]string{
		LabelManagedBy: ManagedByValue,
		LabelRunID:     runID,
		LabelCreatedAt: createdAt.UTC().Format(time.RFC3339),
	}
	if repo != "" {
		labels[LabelRepo] = repo
	}
	return labels
}

// ParseLabels reconstructs the sandbox fields stored in labels. Container
// identity and state are not part of the labels and are left empty.
//
// Returns an error if the labels do not belong to a libdeploy sandbox or a
// required label is missing or malformed.
func ParseLabels(labels map[string]string) (*model.SandboxInfo, error) {
	if labels[LabelManagedBy] != ManagedByValue {
		return nil, fmt.Errorf("container is not managed by libdeploy (missing %s=%s)",
			LabelManagedBy, ManagedByValue)
	}

	runID := labels[LabelRunID]
	if runID == "" {
		return nil, fmt.Errorf("missing required label %q", LabelRunID)
	}

	info := &model.SandboxInfo{
		RunID: runID,
		Repo:  labels[LabelRepo],
	}

	if raw, ok := labels[LabelCreatedAt]; ok && raw != "" {
		createdAt, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s label %q: %w", LabelCreatedAt, raw, err)
		}
		info.CreatedAt = createdAt
	}

	return info, nil
}

// FilterLabels returns the subset of labels carrying the libdeploy prefix.
func FilterLabels(labels map[string]string) map[string]string {
	result := make(map[string]string)
	for k, v := range labels {
		if strings.HasPrefix(k, LabelPrefix) {
			result[k] = v
		}
	}
	return result
}
