// Package demo runs the post-install demonstration: a tiny generated
// Python script that imports the installed package and prints its version.
//
// The demonstration is diagnostics only. Its failures are returned as
// KindDemonstrationFailed and the caller downgrades them to warnings.
package demo

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/shinji-kodama/libdeploy/internal/execx"
	"github.com/shinji-kodama/libdeploy/internal/model"
	"github.com/shinji-kodama/libdeploy/internal/venv"
)

const (
	// ScriptName is the file the script is written to, inside the
	// environment directory.
	ScriptName = "demo_script.py"

	// DefaultMessage is the sentence the script prints. {package} and
	// {version} are substituted; any other text is printed literally.
	DefaultMessage = "Library version {package}: {version}"
)

// importName matches a dotted Python identifier.
var importName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)

// Script returns the demonstration source for pkg. It fails when pkg is
// not a valid import name, since the name is spliced into Python code.
//
// The version is read from __version__, then version, then defaults to
// "unknown".
func Script(pkg, message string) (string, error) {
	if !importName.MatchString(pkg) {
		return "", fmt.Errorf("%q is not a valid Python import name", pkg)
	}
	if message == "" {
		message = DefaultMessage
	}

	var b strings.Builder
	fmt.Fprintf(&b, "import %s\n", pkg)
	fmt.Fprintf(&b, "version = getattr(%[1]s, '__version__', getattr(%[1]s, 'version', 'unknown'))\n", pkg)
	fmt.Fprintf(&b, "print(%s.format(package=%s, version=version))\n",
		strconv.Quote(formatString(message)), strconv.Quote(pkg))
	return b.String(), nil
}

// formatString turns a message template into a str.format pattern: every
// brace is escaped except the {package} and {version} placeholders.
func formatString(message string) string {
	s := strings.NewReplacer("{", "{{", "}", "}}").Replace(message)
	return strings.NewReplacer("{{package}}", "{package}", "{{version}}", "{version}").Replace(s)
}

// Verifier writes and runs the demonstration script.
type Verifier struct {
	exec    execx.Executor
	message string
	logger  *log.Logger
}

// NewVerifier creates a Verifier. An empty message means DefaultMessage.
func NewVerifier(exec execx.Executor, message string, logger *log.Logger) *Verifier {
	if message == "" {
		message = DefaultMessage
	}
	return &Verifier{exec: exec, message: message, logger: logger}
}

// Run executes the demonstration for pkg inside env and returns the
// script's trimmed standard output. The script file is removed before Run
// returns, whatever the outcome. Output produced before a failure is
// still returned.
func (v *Verifier) Run(ctx context.Context, env *venv.Environment, pkg string) (string, error) {
	code, err := Script(pkg, v.message)
	if err != nil {
		return "", model.WrapError(model.KindDemonstrationFailed, "cannot build demonstration script", err)
	}

	script := filepath.Join(env.Dir, ScriptName)
	if err := os.WriteFile(script, []byte(code), 0o644); err != nil {
		return "", model.WrapError(model.KindDemonstrationFailed, "failed to write demonstration script", err)
	}
	defer func() {
		if err := os.Remove(script); err != nil && !os.IsNotExist(err) {
			v.logger.Warn("failed to remove demonstration script", "path", script, "error", err)
		}
	}()

	res, err := v.exec.Run(ctx, v.exec.Path(env.Python()), v.exec.Path(script))
	output := ""
	if res != nil {
		output = strings.TrimSpace(res.Stdout)
		if output != "" {
			v.logger.Info("demonstration output", "output", output)
		}
		if stderr := strings.TrimSpace(res.Stderr); stderr != "" {
			v.logger.Warn("demonstration stderr", "stderr", stderr)
		}
	}
	if err != nil {
		return output, model.WrapError(model.KindDemonstrationFailed,
			fmt.Sprintf("demonstration of %s failed", pkg), err)
	}
	return output, nil
}
