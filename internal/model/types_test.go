package model

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestParseBackend verifies string-to-backend conversion, including case
// normalization and error cases.
func TestParseBackend(t *testing.T) {
	tests := []struct {
		input    string
		expected Backend
		hasError bool
	}{
		{"venv", BackendVenv, false},
		{"docker", BackendDocker, false},
		{"Docker", BackendDocker, false},
		{" venv ", BackendVenv, false},
		{"conda", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result, err := ParseBackend(tt.input)
			if tt.hasError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

// TestPipelineSteps_Order pins the execution order of the pipeline.
func TestPipelineSteps_Order(t *testing.T) {
	assert.Equal(t, []StepName{
		StepLocate, StepFetch, StepExpand, StepResolve,
		StepProvision, StepInstall, StepDemonstrate, StepCleanup,
	}, PipelineSteps)
}

// TestRunReport_Step verifies step lookup by name.
func TestRunReport_Step(t *testing.T) {
	report := &RunReport{
		Steps: []StepResult{
			{Name: StepLocate, Status: StepOK},
			{Name: StepFetch, Status: StepFailed, ErrorKind: KindFetchFailed},
		},
	}

	fetch := report.Step(StepFetch)
	require.NotNil(t, fetch)
	assert.Equal(t, StepFailed, fetch.Status)
	assert.Equal(t, KindFetchFailed, fetch.ErrorKind)

	assert.Nil(t, report.Step(StepInstall))
}

// TestError_Error verifies message formatting with and without a cause.
func TestError_Error(t *testing.T) {
	plain := NewError(KindAmbiguousRoot, "expected exactly one top-level directory")
	assert.Equal(t, "expected exactly one top-level directory", plain.Error())

	wrapped := WrapError(KindFetchFailed, "download failed", errors.New("connection refused"))
	assert.Equal(t, "download failed: connection refused", wrapped.Error())
}

// TestError_Unwrap verifies that errors.Is sees through Error.
func TestError_Unwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := WrapError(KindFetchFailed, "write failed", cause)
	assert.ErrorIs(t, err, cause)
}

// TestKindOf verifies kind extraction through fmt.Errorf wrapping.
func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil error", nil, ""},
		{"plain error is internal", errors.New("boom"), KindInternal},
		{"direct", NewError(KindInstallFailed, "pip failed"), KindInstallFailed},
		{"wrapped", fmt.Errorf("step: %w", NewError(KindExpandFailed, "bad zip")), KindExpandFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

// TestErrorKind_ExitCode verifies the kind-to-exit-code mapping used by
// --strict.
func TestErrorKind_ExitCode(t *testing.T) {
	tests := []struct {
		kind ErrorKind
		want ExitCode
	}{
		{KindMissingConfiguration, ExitMissingConfiguration},
		{KindFetchFailed, ExitFetchFailed},
		{KindExpandFailed, ExitExpandFailed},
		{KindAmbiguousRoot, ExitAmbiguousRoot},
		{KindPackageNameUnresolvable, ExitPackageNameUnresolvable},
		{KindProvisionFailed, ExitProvisionFailed},
		{KindInstallFailed, ExitInstallFailed},
		{KindDockerUnavailable, ExitDockerUnavailable},
		{KindDemonstrationFailed, ExitSuccess},
		{KindInternal, ExitGeneralError},
		{ErrorKind("unknown"), ExitGeneralError},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.kind.ExitCode())
		})
	}
}

// TestShortID verifies run IDs are cut to their first eight characters.
func TestShortID(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"", ""},
		{"abc", "abc"},
		{"01234567", "01234567"},
		{"0123456789abcdef", "01234567"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, ShortID(tt.input))
		})
	}
}
