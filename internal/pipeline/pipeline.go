// Package pipeline runs the deployment smoke test end to end: locate the
// archive, fetch it, expand it, resolve the library root and package name,
// provision an environment, install the library, run the demonstration
// and clean up.
//
// Steps run strictly in order and the first failure aborts the run. The
// demonstration is advisory: its failure is recorded as a warning. Cleanup
// always runs, including after a panic or a cancelled context.
package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/shinji-kodama/libdeploy/internal/archive"
	"github.com/shinji-kodama/libdeploy/internal/demo"
	"github.com/shinji-kodama/libdeploy/internal/layout"
	"github.com/shinji-kodama/libdeploy/internal/model"
	"github.com/shinji-kodama/libdeploy/internal/source"
	"github.com/shinji-kodama/libdeploy/internal/venv"
	"github.com/shinji-kodama/libdeploy/internal/workarea"
)

// cleanupTimeout bounds sandbox removal once the run context is gone.
const cleanupTimeout = 30 * time.Second

// Fetcher downloads an archive into a directory and returns the file path.
type Fetcher interface {
	Fetch(ctx context.Context, archiveURL, destDir string) (string, error)
}

// Options configures a Runner.
type Options struct {
	// RepoURL is the repository reference. Empty fails the locate step.
	RepoURL string

	// Branch selects the branch archive. Empty means main.
	Branch string

	// WorkDir is where the work area is created. Empty means the OS
	// temp directory.
	WorkDir string

	// Python is the interpreter used to create the environment.
	Python string

	// DemoMessage is the demonstration template.
	DemoMessage string

	// Limits bounds archive expansion.
	Limits archive.Limits

	// BackendName is reported in the run report.
	BackendName model.Backend
}

// Runner executes pipeline runs.
type Runner struct {
	opts     Options
	fetcher  Fetcher
	backend  Backend
	logger   *log.Logger
	newRunID func() string
}

// New creates a Runner.
func New(opts Options, fetcher Fetcher, backend Backend, logger *log.Logger) *Runner {
	if opts.BackendName == "" {
		opts.BackendName = model.BackendVenv
	}
	return &Runner{
		opts:     opts,
		fetcher:  fetcher,
		backend:  backend,
		logger:   logger,
		newRunID: uuid.NewString,
	}
}

// run holds the mutable state of one execution.
type run struct {
	report  *model.RunReport
	logger  *log.Logger
	current model.StepName

	area    *workarea.Area
	session Session
}

// Run executes the pipeline once. The returned report is never nil. The
// error is the *model.Error of the step that aborted the run, or nil.
func (r *Runner) Run(ctx context.Context) (report *model.RunReport, err error) {
	runID := r.newRunID()
	started := time.Now()

	st := &run{
		report: &model.RunReport{
			RunID:     runID,
			Backend:   r.opts.BackendName,
			StartedAt: started,
		},
		logger: r.logger.With("run", model.ShortID(runID)),
	}
	report = st.report

	defer func() {
		if rec := recover(); rec != nil {
			st.logger.Error("unexpected panic", "panic", rec, "stack", string(debug.Stack()))
			err = model.NewError(model.KindInternal, fmt.Sprintf("unexpected panic: %v", rec))
			st.record(st.current, time.Time{}, err)
		}

		st.skipRemaining()
		r.cleanup(ctx, st)

		report.Duration = time.Since(started)
		report.Succeeded = err == nil
		if err != nil {
			report.FailedStep = st.current
			st.logger.Error("library deployment failed",
				"step", st.current,
				"kind", model.KindOf(err),
				"error", err,
				"duration", report.Duration)
			return
		}
		st.logger.Info("library deployment succeeded",
			"package", report.PackageName,
			"duration", report.Duration)
	}()

	err = r.execute(ctx, st)
	return report, err
}

// execute runs every step up to and including the demonstration.
func (r *Runner) execute(ctx context.Context, st *run) error {
	var ref *source.Reference
	if err := st.step(model.StepLocate, func() (err error) {
		ref, err = source.Locate(r.opts.RepoURL, r.opts.Branch)
		if err != nil {
			return err
		}
		st.report.RepoURL = ref.URL
		st.report.ArchiveURL = ref.ArchiveURL
		st.report.RepoName = ref.Name
		if ref.Name == "" {
			st.logger.Warn("could not derive repository name", "url", ref.URL)
		}
		st.logger.Info("located archive", "url", ref.ArchiveURL, "branch", ref.Branch)
		return nil
	}); err != nil {
		return err
	}

	var zipPath string
	if err := st.step(model.StepFetch, func() (err error) {
		st.area, err = workarea.New(r.opts.WorkDir, st.report.RunID)
		if err != nil {
			return model.WrapError(model.KindFetchFailed, "failed to prepare work area", err)
		}
		st.logger.Debug("created work area", "path", st.area.Root)

		zipPath, err = r.fetcher.Fetch(ctx, ref.ArchiveURL, st.area.Download)
		if err != nil {
			return err
		}
		st.logger.Info("downloaded archive", "path", zipPath)
		return nil
	}); err != nil {
		return err
	}

	if err := st.step(model.StepExpand, func() error {
		if _, err := archive.Expand(zipPath, st.area.Extracted, r.opts.Limits); err != nil {
			return err
		}
		st.logger.Info("expanded archive", "path", st.area.Extracted)
		return nil
	}); err != nil {
		return err
	}

	var root, pkg string
	if err := st.step(model.StepResolve, func() (err error) {
		root, err = layout.FindLibraryRoot(st.area.Extracted)
		if err != nil {
			return err
		}
		pkg = layout.GuessPackageName(root)
		if !usablePackageName(pkg) {
			return model.NewError(model.KindPackageNameUnresolvable,
				fmt.Sprintf("cannot derive a package name from %s", root))
		}
		st.report.LibraryRoot = filepath.Base(root)
		st.report.PackageName = pkg
		st.logger.Info("resolved library", "root", root, "package", pkg)
		return nil
	}); err != nil {
		return err
	}

	var env *venv.Environment
	if err := st.step(model.StepProvision, func() (err error) {
		st.session, err = r.backend.Open(ctx, RunInfo{
			ID:     st.report.RunID,
			Repo:   st.report.RepoURL,
			Area:   st.area,
			Logger: st.logger,
		})
		if err != nil {
			return err
		}
		env, err = venv.NewProvisioner(st.session, r.opts.Python, st.logger).Create(ctx, st.area.Venv)
		if err != nil {
			return err
		}
		st.logger.Info("created virtual environment", "path", env.Dir)
		return nil
	}); err != nil {
		return err
	}

	if err := st.step(model.StepInstall, func() error {
		if err := venv.NewInstaller(st.session, st.logger).Install(ctx, env, root); err != nil {
			return err
		}
		st.logger.Info("installed library", "source", root)
		return nil
	}); err != nil {
		return err
	}

	st.current = model.StepDemonstrate
	began := time.Now()
	output, err := demo.NewVerifier(st.session, r.opts.DemoMessage, st.logger).Run(ctx, env, pkg)
	st.report.DemoOutput = output
	if err != nil {
		st.logger.Warn("demonstration failed", "package", pkg, "error", err)
		st.record(model.StepDemonstrate, began, err)
		st.report.Steps[len(st.report.Steps)-1].Status = model.StepWarning
		return nil
	}
	st.record(model.StepDemonstrate, began, nil)
	return nil
}

// cleanup releases the backend session, then removes the work area. It
// records the cleanup step; failures there are warnings.
func (r *Runner) cleanup(ctx context.Context, st *run) {
	began := time.Now()
	var failure error

	if st.session != nil {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
		if err := st.session.Close(releaseCtx); err != nil {
			st.logger.Error("failed to release execution backend", "error", err)
			failure = err
		}
		cancel()
	}

	if st.area != nil {
		if n := workarea.Cleanup(st.logger, st.area.Root); n > 0 && failure == nil {
			failure = fmt.Errorf("failed to remove work area %s", st.area.Root)
		}
	}

	res := model.StepResult{
		Name:     model.StepCleanup,
		Status:   model.StepOK,
		Duration: time.Since(began),
	}
	if failure != nil {
		res.Status = model.StepWarning
		res.ErrorKind = model.KindOf(failure)
		res.Error = failure.Error()
	}
	st.report.Steps = append(st.report.Steps, res)
}

// step runs fn as the named step and records its result.
func (st *run) step(name model.StepName, fn func() error) error {
	st.current = name
	began := time.Now()
	err := fn()
	st.record(name, began, err)
	return err
}

// record appends a result for name. A zero began records no duration.
func (st *run) record(name model.StepName, began time.Time, err error) {
	res := model.StepResult{Name: name, Status: model.StepOK}
	if !began.IsZero() {
		res.Duration = time.Since(began)
	}
	if err != nil {
		res.Status = model.StepFailed
		res.ErrorKind = model.KindOf(err)
		res.Error = err.Error()
	}
	st.report.Steps = append(st.report.Steps, res)
}

// skipRemaining records every step before cleanup that has no result as
// skipped.
func (st *run) skipRemaining() {
	for _, name := range model.PipelineSteps {
		if name == model.StepCleanup {
			continue
		}
		if st.report.Step(name) == nil {
			st.report.Steps = append(st.report.Steps, model.StepResult{Name: name, Status: model.StepSkipped})
		}
	}
}

// usablePackageName rejects names that cannot possibly be imported.
func usablePackageName(name string) bool {
	switch name {
	case "", ".", "..", string(filepath.Separator):
		return false
	}
	return true
}
