// Package model defines the domain types and value objects for the
// libdeploy CLI.
//
// This package contains pure data structures with no external dependencies.
// Every entity (RunReport, StepResult, SandboxInfo, etc.) is a transient
// value owned by a single pipeline run; nothing here is ever persisted.
//
// The package also defines the pipeline error taxonomy (ErrorKind), the
// exit codes derived from it (ExitCode), and the Error type that carries
// both through error wrapping.
package model
