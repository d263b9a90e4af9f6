// Package venv creates Python virtual environments and installs packages
// into them.
//
// All commands go through an execx.Executor, so the same code provisions
// a venv on the host or inside a sandbox container. The executor's OS
// decides the environment layout: Windows environments keep executables in
// Scripts/ with an .exe suffix, every other platform uses bin/.
package venv

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"

	"github.com/charmbracelet/log"

	"github.com/shinji-kodama/libdeploy/internal/execx"
	"github.com/shinji-kodama/libdeploy/internal/model"
)

const windows = "windows"

// DefaultPython returns the interpreter used to create environments when
// none is configured.
func DefaultPython() string {
	if runtime.GOOS == windows {
		return "python"
	}
	return "python3"
}

// Environment is a virtual environment rooted at Dir (a host path).
type Environment struct {
	// Dir is the environment root on the host.
	Dir string

	// OS is the GOOS-style name of the system the environment runs on.
	OS string
}

// BinDir returns the directory holding the environment's executables.
func (e *Environment) BinDir() string {
	if e.OS == windows {
		return filepath.Join(e.Dir, "Scripts")
	}
	return filepath.Join(e.Dir, "bin")
}

// Python returns the host path of the environment's interpreter.
func (e *Environment) Python() string {
	return e.executable("python")
}

// Pip returns the host path of the environment's pip.
func (e *Environment) Pip() string {
	return e.executable("pip")
}

func (e *Environment) executable(name string) string {
	if e.OS == windows {
		name += ".exe"
	}
	return filepath.Join(e.BinDir(), name)
}

// Provisioner creates virtual environments.
type Provisioner struct {
	exec   execx.Executor
	python string
	logger *log.Logger
}

// NewProvisioner creates a Provisioner that runs "<python> -m venv". An
// empty python means DefaultPython.
func NewProvisioner(exec execx.Executor, python string, logger *log.Logger) *Provisioner {
	if python == "" {
		python = DefaultPython()
	}
	return &Provisioner{exec: exec, python: python, logger: logger}
}

// Create creates an environment at dir. A failed or non-zero venv run is
// reported as KindProvisionFailed with the tool's stderr. Partial state is
// left for the work area cleanup.
func (p *Provisioner) Create(ctx context.Context, dir string) (*Environment, error) {
	res, err := p.exec.Run(ctx, p.python, "-m", "venv", p.exec.Path(dir))
	logOutput(p.logger, res)
	if err != nil {
		return nil, model.WrapError(model.KindProvisionFailed,
			fmt.Sprintf("failed to create virtual environment at %s", dir), err)
	}
	return &Environment{Dir: dir, OS: p.exec.OS()}, nil
}

// Installer installs packages into an environment with its own pip.
type Installer struct {
	exec   execx.Executor
	logger *log.Logger
}

// NewInstaller creates an Installer.
func NewInstaller(exec execx.Executor, logger *log.Logger) *Installer {
	return &Installer{exec: exec, logger: logger}
}

// Install runs "pip install <source>" inside env. A failed or non-zero pip
// run is reported as KindInstallFailed with pip's stderr.
func (i *Installer) Install(ctx context.Context, env *Environment, source string) error {
	res, err := i.exec.Run(ctx, i.exec.Path(env.Pip()), "install", i.exec.Path(source))
	logOutput(i.logger, res)
	if err != nil {
		return model.WrapError(model.KindInstallFailed,
			fmt.Sprintf("failed to install %s", source), err)
	}
	return nil
}

// logOutput records a command's output at debug level.
func logOutput(logger *log.Logger, res *execx.Result) {
	if res == nil {
		return
	}
	logger.Debug("command finished",
		"command", res.Command,
		"exit", res.ExitCode,
		"duration", res.Duration,
		"stdout", res.Stdout,
		"stderr", res.Stderr)
}
