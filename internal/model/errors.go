package model

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a pipeline failure by the step that produced it.
// Every error that crosses a component boundary carries exactly one kind,
// which the orchestrator uses for logging and the CLI uses for exit codes.
type ErrorKind string

const (
	// KindMissingConfiguration indicates the repository reference was not
	// supplied or was empty after trimming whitespace.
	KindMissingConfiguration ErrorKind = "MissingConfiguration"

	// KindFetchFailed covers network errors, non-2xx HTTP responses and
	// local write failures while downloading the archive.
	KindFetchFailed ErrorKind = "FetchFailed"

	// KindExpandFailed indicates the archive was unreadable, corrupt, or
	// violated an extraction bound (size, entry count, path escape).
	KindExpandFailed ErrorKind = "ExpandFailed"

	// KindAmbiguousRoot indicates the extracted content did not contain
	// exactly one top-level directory.
	KindAmbiguousRoot ErrorKind = "AmbiguousRoot"

	// KindPackageNameUnresolvable indicates no usable import name could be
	// derived. The resolver always falls back to the root directory name,
	// so this only fires for degenerate roots.
	KindPackageNameUnresolvable ErrorKind = "PackageNameUnresolvable"

	// KindProvisionFailed indicates the virtual environment could not be
	// created.
	KindProvisionFailed ErrorKind = "ProvisionFailed"

	// KindInstallFailed indicates pip returned a non-zero exit status.
	KindInstallFailed ErrorKind = "InstallFailed"

	// KindDemonstrationFailed is reported as a warning only. It never
	// changes the outcome of a run.
	KindDemonstrationFailed ErrorKind = "DemonstrationFailed"

	// KindDockerUnavailable indicates the docker backend was selected but
	// the Docker daemon could not be reached.
	KindDockerUnavailable ErrorKind = "DockerUnavailable"

	// KindInternal covers unexpected failures, including recovered panics.
	KindInternal ErrorKind = "Internal"
)

// String returns the string representation of ErrorKind.
func (k ErrorKind) String() string {
	return string(k)
}

// ExitCode returns the process exit code associated with the kind.
// DemonstrationFailed maps to success because it is advisory.
func (k ErrorKind) ExitCode() ExitCode {
	switch k {
	case KindMissingConfiguration:
		return ExitMissingConfiguration
	case KindFetchFailed:
		return ExitFetchFailed
	case KindExpandFailed:
		return ExitExpandFailed
	case KindAmbiguousRoot:
		return ExitAmbiguousRoot
	case KindPackageNameUnresolvable:
		return ExitPackageNameUnresolvable
	case KindProvisionFailed:
		return ExitProvisionFailed
	case KindInstallFailed:
		return ExitInstallFailed
	case KindDockerUnavailable:
		return ExitDockerUnavailable
	case KindDemonstrationFailed:
		return ExitSuccess
	default:
		return ExitGeneralError
	}
}

// ExitCode defines the CLI exit codes. They are only surfaced when the
// run is executed with --strict, or for errors raised by the CLI layer
// itself (bad flags, unreadable config file); a plain run always exits 0.
type ExitCode int

const (
	// ExitSuccess indicates the command completed successfully.
	ExitSuccess ExitCode = 0

	// ExitGeneralError indicates an unspecified or internal error.
	ExitGeneralError ExitCode = 1

	ExitMissingConfiguration    ExitCode = 2
	ExitFetchFailed             ExitCode = 3
	ExitExpandFailed            ExitCode = 4
	ExitAmbiguousRoot           ExitCode = 5
	ExitPackageNameUnresolvable ExitCode = 6
	ExitProvisionFailed         ExitCode = 7
	ExitInstallFailed           ExitCode = 8
	ExitDockerUnavailable       ExitCode = 9
)

// Error is the error type returned across component boundaries. It pairs
// an ErrorKind with a human-readable message and an optional cause.
type Error struct {
	// Kind classifies the failure.
	Kind ErrorKind

	// Message is the human-readable error description.
	Message string

	// Err is the underlying error, if any.
	Err error
}

// Error satisfies the error interface. It returns the human-readable
// error message, optionally including the underlying error.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Code returns the exit code for this error's kind.
func (e *Error) Code() ExitCode {
	return e.Kind.ExitCode()
}

// NewError creates a new Error with the given kind and message.
func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// WrapError creates a new Error that wraps an existing error.
func WrapError(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind of the outermost *Error in err's chain, or
// KindInternal when err carries no kind. It returns "" for a nil error.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
