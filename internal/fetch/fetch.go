// Package fetch downloads repository archives over HTTP.
//
// The response body is streamed to disk in fixed-size chunks, so memory use
// is independent of the archive size. The whole request, body included, is
// bounded by the client timeout.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/shinji-kodama/libdeploy/internal/model"
)

const (
	// ArchiveFileName is the name of the downloaded archive inside the
	// destination directory.
	ArchiveFileName = "repo.zip"

	// DefaultTimeout bounds a single download, body included.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxBytes bounds the size of a downloaded archive.
	DefaultMaxBytes int64 = 512 << 20

	// chunkSize is the buffer size used when copying the response body.
	chunkSize = 8 << 10
)

// errTooLarge is returned when the response body exceeds the size bound.
var errTooLarge = errors.New("archive exceeds maximum download size")

type (
	// Fetcher downloads archives with a bounded timeout and size.
	Fetcher struct {
		client    *http.Client
		maxBytes  int64
		userAgent string
	}

	// Option configures a Fetcher during construction.
	Option func(*Fetcher)
)

// WithHTTPClient uses a copy of c for requests, so later options never
// modify the caller's client. A zero Timeout is replaced by
// DefaultTimeout.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) {
		clone := *c
		f.client = &clone
	}
}

// WithTimeout sets the request timeout. Non-positive values keep the
// default.
func WithTimeout(d time.Duration) Option {
	return func(f *Fetcher) {
		if d > 0 {
			f.client.Timeout = d
		}
	}
}

// WithMaxBytes sets the download size bound. Non-positive values keep the
// default.
func WithMaxBytes(n int64) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.maxBytes = n
		}
	}
}

// WithUserAgent sets the User-Agent header sent with every request.
func WithUserAgent(ua string) Option {
	return func(f *Fetcher) {
		f.userAgent = ua
	}
}

// New creates a Fetcher. Options are applied in order, so WithHTTPClient
// should come before WithTimeout when both are used.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		client:    &http.Client{Timeout: DefaultTimeout},
		maxBytes:  DefaultMaxBytes,
		userAgent: "libdeploy",
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.client.Timeout == 0 {
		f.client.Timeout = DefaultTimeout
	}
	return f
}

// Fetch downloads archiveURL into destDir/ArchiveFileName and returns the
// file path. Any network, status or filesystem failure is reported as
// KindFetchFailed and leaves no partial file behind.
func (f *Fetcher) Fetch(ctx context.Context, archiveURL, destDir string) (path string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, archiveURL, http.NoBody)
	if err != nil {
		return "", model.WrapError(model.KindFetchFailed,
			fmt.Sprintf("invalid archive URL %q", archiveURL), err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req) //nolint:gosec // URL comes from operator configuration
	if err != nil {
		return "", model.WrapError(model.KindFetchFailed,
			fmt.Sprintf("failed to download %s", archiveURL), err)
	}
	defer func() { _ = resp.Body.Close() }() // read-only HTTP response body

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", model.NewError(model.KindFetchFailed,
			fmt.Sprintf("download of %s failed with status %s", archiveURL, resp.Status))
	}

	target := filepath.Join(destDir, ArchiveFileName)
	out, err := os.Create(target)
	if err != nil {
		return "", model.WrapError(model.KindFetchFailed, "failed to create archive file", err)
	}

	// Remove the partial file on any failure below. The named result is
	// already "" by the time this runs, hence target.
	defer func() {
		if err != nil {
			_ = os.Remove(target)
		}
	}()

	if err = copyBounded(out, resp.Body, f.maxBytes); err != nil {
		_ = out.Close()
		return "", model.WrapError(model.KindFetchFailed,
			fmt.Sprintf("failed to save %s", archiveURL), err)
	}
	if err = out.Close(); err != nil {
		return "", model.WrapError(model.KindFetchFailed, "failed to close archive file", err)
	}

	return target, nil
}

// copyBounded copies src to dst in chunkSize pieces and fails once more
// than maxBytes have been read.
func copyBounded(dst io.Writer, src io.Reader, maxBytes int64) error {
	buf := make([]byte, chunkSize)
	// Hide dst's ReaderFrom so CopyBuffer actually uses buf.
	n, err := io.CopyBuffer(struct{ io.Writer }{dst}, io.LimitReader(src, maxBytes+1), buf)
	if err != nil {
		return err
	}
	if n > maxBytes {
		return errTooLarge
	}
	return nil
}
