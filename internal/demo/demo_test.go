package demo

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shinji-kodama/libdeploy/internal/execx"
	"github.com/shinji-kodama/libdeploy/internal/execx/execxtest"
	"github.com/shinji-kodama/libdeploy/internal/logging"
	"github.com/shinji-kodama/libdeploy/internal/model"
	"github.com/shinji-kodama/libdeploy/internal/venv"
)

// TestScript verifies the generated source line by line.
func TestScript(t *testing.T) {
	code, err := Script("mypkg", "")
	require.NoError(t, err)

	assert.Equal(t, "import mypkg\n"+
		"version = getattr(mypkg, '__version__', getattr(mypkg, 'version', 'unknown'))\n"+
		`print("Library version {package}: {version}".format(package="mypkg", version=version))`+"\n",
		code)
}

// TestScript_RejectsInvalidNames verifies names that are not import names
// never reach the generated code.
func TestScript_RejectsInvalidNames(t *testing.T) {
	for _, name := range []string{"", "repo-main", "1pkg", "os; import shutil", "a..b", "pkg."} {
		t.Run(name, func(t *testing.T) {
			_, err := Script(name, "")
			assert.Error(t, err)
		})
	}

	_, err := Script("pkg.sub", "")
	assert.NoError(t, err, "dotted names are valid")
}

// TestFormatString verifies stray braces are escaped while placeholders
// survive.
func TestFormatString(t *testing.T) {
	assert.Equal(t, "{package} {{x}} {version}", formatString("{package} {x} {version}"))
	assert.Equal(t, "Версия библиотеки {package}: {version}", formatString("Версия библиотеки {package}: {version}"))
}

// TestVerifier_Run verifies the interpreter and script paths, the
// returned output, and that the script is gone afterwards.
func TestVerifier_Run(t *testing.T) {
	dir := t.TempDir()
	env := &venv.Environment{Dir: dir, OS: "linux"}
	script := filepath.Join(dir, ScriptName)

	var seenScript string
	fake := &execxtest.Fake{Handler: func(name string, args []string) (*execx.Result, error) {
		data, err := os.ReadFile(args[0])
		require.NoError(t, err, "script must exist while it runs")
		seenScript = string(data)
		return execxtest.Exit(name, args, 0, "Library version mypkg: 1.0.0\n", "")
	}}

	out, err := NewVerifier(fake, "", logging.Discard()).Run(context.Background(), env, "mypkg")
	require.NoError(t, err)

	assert.Equal(t, "Library version mypkg: 1.0.0", out)
	require.Len(t, fake.Calls, 1)
	assert.Equal(t, env.Python(), fake.Calls[0].Name)
	assert.Equal(t, []string{script}, fake.Calls[0].Args)
	assert.Contains(t, seenScript, "import mypkg")
	assert.NoFileExists(t, script)
}

// TestVerifier_RunFailureRemovesScript verifies a failing script is
// DemonstrationFailed, keeps partial output, and is still removed.
func TestVerifier_RunFailureRemovesScript(t *testing.T) {
	dir := t.TempDir()
	env := &venv.Environment{Dir: dir, OS: "linux"}

	fake := &execxtest.Fake{Handler: func(name string, args []string) (*execx.Result, error) {
		return execxtest.Exit(name, args, 1, "partial\n", "ModuleNotFoundError: No module named 'mypkg'")
	}}

	out, err := NewVerifier(fake, "", logging.Discard()).Run(context.Background(), env, "mypkg")
	require.Error(t, err)
	assert.Equal(t, model.KindDemonstrationFailed, model.KindOf(err))
	assert.Equal(t, "partial", out)
	assert.NoFileExists(t, filepath.Join(dir, ScriptName))
}

// TestVerifier_RunInvalidName verifies nothing runs for an invalid name.
func TestVerifier_RunInvalidName(t *testing.T) {
	fake := &execxtest.Fake{}
	env := &venv.Environment{Dir: t.TempDir(), OS: "linux"}

	_, err := NewVerifier(fake, "", logging.Discard()).Run(context.Background(), env, "repo-main")
	require.Error(t, err)
	assert.Equal(t, model.KindDemonstrationFailed, model.KindOf(err))
	assert.Empty(t, fake.Calls)
}

// TestScript_WithRealPython runs the generated script against a real
// interpreter when one is installed.
func TestScript_WithRealPython(t *testing.T) {
	python, err := exec.LookPath("python3")
	if err != nil {
		t.Skip("python3 not installed")
	}

	tests := []struct {
		name    string
		init    string
		message string
		want    string
	}{
		{"dunder version", "__version__ = '1.0.0'\n", "", "Library version mypkg: 1.0.0"},
		{"plain version attribute", "version = '2.1'\n", "", "Library version mypkg: 2.1"},
		{"no version", "", "", "Library version mypkg: unknown"},
		{"custom message with braces", "__version__ = '3'\n", "{package}@{version} {ok}", "mypkg@3 {ok}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			require.NoError(t, os.Mkdir(filepath.Join(dir, "mypkg"), 0o755))
			require.NoError(t, os.WriteFile(filepath.Join(dir, "mypkg", "__init__.py"), []byte(tt.init), 0o644))

			code, err := Script("mypkg", tt.message)
			require.NoError(t, err)
			script := filepath.Join(dir, ScriptName)
			require.NoError(t, os.WriteFile(script, []byte(code), 0o644))

			res, err := execx.NewHost(0).Run(context.Background(), python, script)
			require.NoError(t, err, "stderr: %s", res.Stderr)
			assert.Equal(t, tt.want, strings.TrimSpace(res.Stdout))
		})
	}
}
