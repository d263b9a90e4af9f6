// Package workarea manages the temporary directory tree owned by one
// pipeline run, and its removal.
//
// Layout:
//
//	<base>/libdeploy_<run>_<random>/
//	    download/    archive file
//	    extracted/   archive contents
//	    venv/        virtual environment (created by the provisioner)
package workarea

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"

	"github.com/shinji-kodama/libdeploy/internal/model"
)

const (
	downloadDir  = "download"
	extractedDir = "extracted"
	venvDir      = "venv"
)

// Area is a uniquely named temporary directory tree owned exclusively by
// one pipeline run.
type Area struct {
	// Root is the top-level directory. Removing it removes everything.
	Root string

	// Download holds the fetched archive.
	Download string

	// Extracted holds the expanded archive contents.
	Extracted string

	// Venv is where the virtual environment is created. It does not exist
	// until the provisioner creates it.
	Venv string
}

// New creates a work area under base (the OS temp directory when empty).
// The run id is embedded in the directory name so leftovers can be traced
// back to their run. On failure nothing is left behind.
func New(base, runID string) (*Area, error) {
	root, err := os.MkdirTemp(base, fmt.Sprintf("libdeploy_%s_", dirID(runID)))
	if err != nil {
		return nil, fmt.Errorf("failed to create work area: %w", err)
	}

	a := &Area{
		Root:      root,
		Download:  filepath.Join(root, downloadDir),
		Extracted: filepath.Join(root, extractedDir),
		Venv:      filepath.Join(root, venvDir),
	}
	for _, dir := range []string{a.Download, a.Extracted} {
		if err := os.Mkdir(dir, 0o755); err != nil {
			_ = os.RemoveAll(root)
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return a, nil
}

// Cleanup removes each path recursively. A failure for one path is logged
// and does not stop the others. Missing paths are not an error. It returns
// the number of paths that could not be removed.
func Cleanup(logger *log.Logger, paths ...string) int {
	failed := 0
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := os.RemoveAll(p); err != nil {
			failed++
			logger.Error("failed to remove temporary path", "path", p, "error", err)
			continue
		}
		logger.Info("removed temporary path", "path", p)
	}
	return failed
}

func dirID(runID string) string {
	if runID == "" {
		return "run"
	}
	return model.ShortID(runID)
}
