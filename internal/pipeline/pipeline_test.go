package pipeline

import (
	"archive/zip"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shinji-kodama/libdeploy/internal/docker"
	"github.com/shinji-kodama/libdeploy/internal/execx"
	"github.com/shinji-kodama/libdeploy/internal/execx/execxtest"
	"github.com/shinji-kodama/libdeploy/internal/fetch"
	"github.com/shinji-kodama/libdeploy/internal/logging"
	"github.com/shinji-kodama/libdeploy/internal/model"
)

// zipOf builds an in-memory zip archive from name/content pairs. Names
// ending in "/" become directory entries.
func zipOf(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		if !strings.HasSuffix(name, "/") {
			_, err = w.Write([]byte(content))
			require.NoError(t, err)
		}
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// serveZip starts a server answering every request with data.
func serveZip(t *testing.T, data []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/zip")
		_, _ = w.Write(data)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// fakeSession is a Session backed by an execxtest.Fake.
type fakeSession struct {
	*execxtest.Fake
	closed int
}

func (s *fakeSession) Close(context.Context) error {
	s.closed++
	return nil
}

// fakeBackend hands out one fakeSession and remembers the run it was
// opened for.
type fakeBackend struct {
	session *fakeSession
	opened  []RunInfo
	err     error
}

func (b *fakeBackend) Open(_ context.Context, run RunInfo) (Session, error) {
	b.opened = append(b.opened, run)
	if b.err != nil {
		return nil, b.err
	}
	return b.session, nil
}

// pythonHandler simulates venv creation, pip and the interpreter. The
// demonstration prints what a real interpreter would for a package at
// version.
func pythonHandler(t *testing.T, version string, pipExit int) execxtest.HandlerFunc {
	return func(name string, args []string) (*execx.Result, error) {
		switch {
		case len(args) == 3 && args[0] == "-m" && args[1] == "venv":
			require.NoError(t, os.MkdirAll(filepath.Join(args[2], "bin"), 0o755))
			return nil, nil
		case filepath.Base(name) == "pip":
			return execxtest.Exit(name, args, pipExit, "", "ERROR: cannot install\n")
		case filepath.Base(name) == "python":
			script, err := os.ReadFile(args[0])
			require.NoError(t, err)
			require.Contains(t, string(script), "import mypkg")
			return execxtest.Exit(name, args, 0, "Library version mypkg: "+version+"\n", "")
		}
		return execxtest.Exit(name, args, 127, "", "unexpected command")
	}
}

func newRunner(t *testing.T, repoURL string, backend Backend) (*Runner, string) {
	t.Helper()
	workDir := t.TempDir()
	r := New(Options{
		RepoURL: repoURL,
		WorkDir: workDir,
		Python:  "python3",
	}, fetch.New(), backend, logging.Discard())
	r.newRunID = func() string { return "0123456789abcdef" }
	return r, workDir
}

func stepStatuses(report *model.RunReport) map[model.StepName]model.StepStatus {
	out := make(map[model.StepName]model.StepStatus, len(report.Steps))
	for _, s := range report.Steps {
		out[s.Name] = s.Status
	}
	return out
}

func assertWorkDirEmpty(t *testing.T, workDir string) {
	t.Helper()
	entries, err := os.ReadDir(workDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "work area should be removed")
}

// TestRun_EndToEnd serves a minimal library and checks every step and the
// demonstration output.
func TestRun_EndToEnd(t *testing.T) {
	srv := serveZip(t, zipOf(t, map[string]string{
		"mylib-main/":                  "",
		"mylib-main/setup.py":          "from setuptools import setup\nsetup(name='mypkg')\n",
		"mylib-main/mypkg/__init__.py": "__version__ = \"1.0.0\"\n",
	}))

	session := &fakeSession{Fake: &execxtest.Fake{Handler: pythonHandler(t, "1.0.0", 0)}}
	backend := &fakeBackend{session: session}
	runner, workDir := newRunner(t, srv.URL+"/acme/mylib/archive/main.zip", backend)

	report, err := runner.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, report.Succeeded)
	assert.Equal(t, "0123456789abcdef", report.RunID)
	assert.Equal(t, "mylib", report.RepoName)
	assert.Equal(t, "mylib-main", report.LibraryRoot)
	assert.Equal(t, "mypkg", report.PackageName)
	assert.Equal(t, "Library version mypkg: 1.0.0", report.DemoOutput)
	assert.Equal(t, model.BackendVenv, report.Backend)

	names := make([]model.StepName, 0, len(report.Steps))
	for _, s := range report.Steps {
		names = append(names, s.Name)
		assert.Equal(t, model.StepOK, s.Status, "step %s", s.Name)
	}
	assert.Equal(t, model.PipelineSteps, names)

	require.Len(t, session.Calls, 3)
	assert.Equal(t, "python3", session.Calls[0].Name)
	assert.Equal(t, "install", session.Calls[1].Args[0])
	assert.Equal(t, "python", filepath.Base(session.Calls[2].Name))

	require.Len(t, backend.opened, 1)
	assert.Equal(t, "0123456789abcdef", backend.opened[0].ID)
	assert.NotNil(t, backend.opened[0].Logger)
	assert.Equal(t, 1, session.closed)
	assertWorkDirEmpty(t, workDir)
}

// TestRun_DemonstrationFailureIsWarning verifies a failing demonstration
// does not fail the run.
func TestRun_DemonstrationFailureIsWarning(t *testing.T) {
	srv := serveZip(t, zipOf(t, map[string]string{
		"mylib-main/mypkg/__init__.py": "",
	}))

	handler := pythonHandler(t, "1.0.0", 0)
	session := &fakeSession{Fake: &execxtest.Fake{Handler: func(name string, args []string) (*execx.Result, error) {
		if filepath.Base(name) == "python" {
			return execxtest.Exit(name, args, 1, "", "ModuleNotFoundError: No module named 'mypkg'\n")
		}
		return handler(name, args)
	}}}
	runner, workDir := newRunner(t, srv.URL+"/mylib.zip", &fakeBackend{session: session})

	report, err := runner.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, report.Succeeded)
	demo := report.Step(model.StepDemonstrate)
	require.NotNil(t, demo)
	assert.Equal(t, model.StepWarning, demo.Status)
	assert.Equal(t, model.KindDemonstrationFailed, demo.ErrorKind)
	assertWorkDirEmpty(t, workDir)
}

// TestRun_Failures verifies each failing step aborts the run with the
// right kind, skips the later steps and still cleans up.
func TestRun_Failures(t *testing.T) {
	goodZip := zipOf(t, map[string]string{"lib-main/pkg/__init__.py": ""})

	tests := []struct {
		name       string
		repoURL    func(t *testing.T) string
		backendErr error
		pipExit    int
		wantStep   model.StepName
		wantKind   model.ErrorKind
		wantOpened bool
	}{
		{
			name:     "missing repository",
			repoURL:  func(*testing.T) string { return "   " },
			wantStep: model.StepLocate,
			wantKind: model.KindMissingConfiguration,
		},
		{
			name: "http error",
			repoURL: func(t *testing.T) string {
				srv := httptest.NewServer(http.NotFoundHandler())
				t.Cleanup(srv.Close)
				return srv.URL + "/acme/lib"
			},
			wantStep: model.StepFetch,
			wantKind: model.KindFetchFailed,
		},
		{
			name: "corrupt archive",
			repoURL: func(t *testing.T) string {
				return serveZip(t, []byte("not a zip")).URL + "/lib.zip"
			},
			wantStep: model.StepExpand,
			wantKind: model.KindExpandFailed,
		},
		{
			name: "no top-level directory",
			repoURL: func(t *testing.T) string {
				return serveZip(t, zipOf(t, map[string]string{"README.md": "hi"})).URL + "/lib.zip"
			},
			wantStep: model.StepResolve,
			wantKind: model.KindAmbiguousRoot,
		},
		{
			name: "two top-level directories",
			repoURL: func(t *testing.T) string {
				return serveZip(t, zipOf(t, map[string]string{"a/x.py": "", "b/y.py": ""})).URL + "/lib.zip"
			},
			wantStep: model.StepResolve,
			wantKind: model.KindAmbiguousRoot,
		},
		{
			name: "docker unavailable",
			repoURL: func(t *testing.T) string {
				return serveZip(t, goodZip).URL + "/lib.zip"
			},
			backendErr: model.NewError(model.KindDockerUnavailable, "Docker daemon is not responding"),
			wantStep:   model.StepProvision,
			wantKind:   model.KindDockerUnavailable,
			wantOpened: true,
		},
		{
			name: "pip failure",
			repoURL: func(t *testing.T) string {
				return serveZip(t, goodZip).URL + "/lib.zip"
			},
			pipExit:    1,
			wantStep:   model.StepInstall,
			wantKind:   model.KindInstallFailed,
			wantOpened: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session := &fakeSession{Fake: &execxtest.Fake{Handler: pythonHandler(t, "0.1", tt.pipExit)}}
			backend := &fakeBackend{session: session, err: tt.backendErr}
			runner, workDir := newRunner(t, tt.repoURL(t), backend)

			report, err := runner.Run(context.Background())
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, model.KindOf(err))

			assert.False(t, report.Succeeded)
			assert.Equal(t, tt.wantStep, report.FailedStep)

			statuses := stepStatuses(report)
			assert.Equal(t, model.StepFailed, statuses[tt.wantStep])
			assert.Equal(t, model.StepSkipped, statuses[model.StepDemonstrate])
			assert.Equal(t, model.StepOK, statuses[model.StepCleanup])
			assert.Len(t, report.Steps, len(model.PipelineSteps))

			assert.Equal(t, tt.wantOpened, len(backend.opened) > 0)
			if !tt.wantOpened {
				assert.Empty(t, session.Calls, "no command may run before provisioning")
			}
			assertWorkDirEmpty(t, workDir)
		})
	}
}

// TestRun_PanicIsRecovered verifies a panicking step is reported as an
// internal error and cleanup still runs.
func TestRun_PanicIsRecovered(t *testing.T) {
	srv := serveZip(t, zipOf(t, map[string]string{"lib-main/pkg/__init__.py": ""}))

	session := &fakeSession{Fake: &execxtest.Fake{Handler: func(string, []string) (*execx.Result, error) {
		panic("executor exploded")
	}}}
	runner, workDir := newRunner(t, srv.URL+"/lib.zip", &fakeBackend{session: session})

	report, err := runner.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, model.KindInternal, model.KindOf(err))
	assert.Equal(t, model.StepProvision, report.FailedStep)
	assert.Equal(t, 1, session.closed)
	assertWorkDirEmpty(t, workDir)
}

// TestHostBackend verifies the host session maps paths unchanged.
func TestHostBackend(t *testing.T) {
	session, err := (&HostBackend{}).Open(context.Background(), RunInfo{})
	require.NoError(t, err)
	assert.Equal(t, "/tmp/x", session.Path("/tmp/x"))
	assert.NoError(t, session.Close(context.Background()))
}

// TestDockerBackend_ConnectFailure verifies a missing daemon surfaces as
// DockerUnavailable without a session.
func TestDockerBackend_ConnectFailure(t *testing.T) {
	backend := &DockerBackend{Connect: func() (*docker.Client, error) {
		return nil, model.NewError(model.KindDockerUnavailable, "Docker socket not found")
	}}

	session, err := backend.Open(context.Background(), RunInfo{ID: "run"})
	require.Error(t, err)
	assert.Nil(t, session)
	assert.Equal(t, model.KindDockerUnavailable, model.KindOf(err))
}

// TestUsablePackageName verifies degenerate names are rejected.
func TestUsablePackageName(t *testing.T) {
	assert.True(t, usablePackageName("mypkg"))
	assert.False(t, usablePackageName(""))
	assert.False(t, usablePackageName("."))
	assert.False(t, usablePackageName(string(filepath.Separator)))
}
