// Package archive expands zip archives into a destination directory.
//
// Extraction preserves the relative paths stored in the archive and adds
// the hardening the downloader needs for untrusted input:
//   - entries whose cleaned path escapes the destination are rejected
//   - total uncompressed bytes and the entry count are bounded
//   - symlink entries are skipped rather than materialized
package archive

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/shinji-kodama/libdeploy/internal/model"
)

const (
	// DefaultMaxBytes bounds the total uncompressed size of an archive.
	DefaultMaxBytes int64 = 1 << 30

	// DefaultMaxFiles bounds the number of entries in an archive.
	DefaultMaxFiles = 100000
)

var (
	// ErrPathEscape indicates an entry whose path resolves outside the
	// destination directory.
	ErrPathEscape = errors.New("archive entry escapes destination")

	// ErrTooLarge indicates the archive exceeds the uncompressed size bound.
	ErrTooLarge = errors.New("archive exceeds maximum uncompressed size")

	// ErrTooManyFiles indicates the archive exceeds the entry count bound.
	ErrTooManyFiles = errors.New("archive exceeds maximum entry count")
)

// Limits bounds an extraction. Zero fields use the package defaults.
type Limits struct {
	MaxBytes int64
	MaxFiles int
}

func (l Limits) withDefaults() Limits {
	if l.MaxBytes <= 0 {
		l.MaxBytes = DefaultMaxBytes
	}
	if l.MaxFiles <= 0 {
		l.MaxFiles = DefaultMaxFiles
	}
	return l
}

// Expand extracts every entry of the zip file at zipPath into destDir,
// which must already exist. It returns destDir on success. Any read,
// write or bound violation is reported as KindExpandFailed.
func Expand(zipPath, destDir string, limits Limits) (string, error) {
	limits = limits.withDefaults()

	absDest, err := filepath.Abs(destDir)
	if err != nil {
		return "", model.WrapError(model.KindExpandFailed, "failed to resolve destination directory", err)
	}
	info, err := os.Stat(absDest)
	if err != nil {
		return "", model.WrapError(model.KindExpandFailed, "destination directory is not accessible", err)
	}
	if !info.IsDir() {
		return "", model.NewError(model.KindExpandFailed,
			fmt.Sprintf("destination %s is not a directory", absDest))
	}

	zr, err := zip.OpenReader(zipPath)
	if errors.Is(err, zip.ErrInsecurePath) {
		// Only reported when GODEBUG=zipinsecurepath=0; the reader is open.
		_ = zr.Close()
		return "", model.WrapError(model.KindExpandFailed,
			fmt.Sprintf("archive %s contains insecure paths", zipPath), ErrPathEscape)
	}
	if err != nil {
		return "", model.WrapError(model.KindExpandFailed,
			fmt.Sprintf("failed to open archive %s", zipPath), err)
	}
	defer func() { _ = zr.Close() }() // read-only

	if len(zr.File) > limits.MaxFiles {
		return "", model.WrapError(model.KindExpandFailed,
			fmt.Sprintf("archive has %d entries (limit %d)", len(zr.File), limits.MaxFiles), ErrTooManyFiles)
	}

	// budget is decremented by the bytes actually written, so a lying
	// UncompressedSize64 header cannot bypass the bound.
	budget := limits.MaxBytes
	for _, file := range zr.File {
		target, err := entryPath(absDest, file.Name)
		if err != nil {
			return "", model.WrapError(model.KindExpandFailed,
				fmt.Sprintf("invalid path in archive: %s", file.Name), err)
		}

		mode := file.Mode()
		switch {
		case mode&fs.ModeSymlink != 0:
			continue
		case file.FileInfo().IsDir():
			if err := os.MkdirAll(target, 0o755); err != nil {
				return "", model.WrapError(model.KindExpandFailed, "failed to create directory", err)
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return "", model.WrapError(model.KindExpandFailed, "failed to create parent directory", err)
		}

		written, err := extractFile(file, target, budget)
		if err != nil {
			return "", model.WrapError(model.KindExpandFailed,
				fmt.Sprintf("failed to extract %s", file.Name), err)
		}
		budget -= written
	}

	return destDir, nil
}

// entryPath joins an archive entry name onto dest and verifies the result
// stays inside dest.
func entryPath(dest, name string) (string, error) {
	if name == "" || filepath.IsAbs(name) || strings.HasPrefix(name, "/") || strings.Contains(name, `\`) {
		return "", ErrPathEscape
	}
	target := filepath.Join(dest, filepath.FromSlash(name))
	rel, err := filepath.Rel(dest, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrPathEscape
	}
	return target, nil
}

// extractFile writes a single regular-file entry to target, reading at
// most budget bytes. It returns the number of bytes written.
func extractFile(file *zip.File, target string, budget int64) (n int64, err error) {
	rc, err := file.Open()
	if err != nil {
		return 0, err
	}
	defer func() { _ = rc.Close() }() // read-only

	perm := file.Mode().Perm()
	if perm == 0 {
		perm = 0o644
	}
	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm|0o200)
	if err != nil {
		return 0, err
	}
	defer func() {
		if closeErr := out.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	n, err = io.Copy(out, io.LimitReader(rc, budget+1))
	if err != nil {
		return n, err
	}
	if n > budget {
		return n, ErrTooLarge
	}
	return n, nil
}
