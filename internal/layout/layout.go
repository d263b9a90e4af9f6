// Package layout inspects an extracted source tree to find the library
// root and guess the importable Python package name.
package layout

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/shinji-kodama/libdeploy/internal/model"
)

// PackageMarker is the file whose presence makes a directory an importable
// Python package.
const PackageMarker = "__init__.py"

// FindLibraryRoot returns the single immediate subdirectory of dir. Branch
// archives always wrap their content in one "<repo>-<branch>" directory;
// zero or several subdirectories are reported as KindAmbiguousRoot.
// Regular files next to the directory are ignored.
func FindLibraryRoot(dir string) (string, error) {
	subdirs, err := listDirs(dir)
	if err != nil {
		return "", model.WrapError(model.KindAmbiguousRoot,
			fmt.Sprintf("failed to list %s", dir), err)
	}
	if len(subdirs) != 1 {
		return "", model.NewError(model.KindAmbiguousRoot,
			fmt.Sprintf("expected exactly one top-level directory in %s, found %d", dir, len(subdirs)))
	}
	return filepath.Join(dir, subdirs[0]), nil
}

// IsPackage reports whether dir contains PackageMarker as a regular file.
func IsPackage(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, PackageMarker))
	return err == nil && info.Mode().IsRegular()
}

// FindPackage returns the name of the first immediate subdirectory of root,
// in lexicographic order, that satisfies IsPackage.
func FindPackage(root string) (string, bool) {
	subdirs, err := listDirs(root)
	if err != nil {
		return "", false
	}
	for _, name := range subdirs {
		if IsPackage(filepath.Join(root, name)) {
			return name, true
		}
	}
	return "", false
}

// GuessPackageName returns the importable package name for the library at
// root: the first package subdirectory found by FindPackage, or the base
// name of root itself when there is none. It never fails.
func GuessPackageName(root string) string {
	if name, ok := FindPackage(root); ok {
		return name
	}
	return filepath.Base(root)
}

// listDirs returns the names of the immediate subdirectories of dir,
// sorted by name (os.ReadDir order).
func listDirs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
		}
	}
	return dirs, nil
}
