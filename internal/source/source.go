// Package source resolves a repository reference into the archive URL to
// download and a human-readable repository name.
//
// A reference is either a direct link to a zip archive (anything ending in
// ".zip") or a repository page URL such as https://github.com/user/repo.
// For the latter, the GitHub branch-archive convention is applied:
//
//	https://github.com/user/repo/archive/refs/heads/<branch>.zip
package source

import (
	"net/url"
	"slices"
	"strings"

	"github.com/shinji-kodama/libdeploy/internal/model"
)

// DefaultBranch is used when no branch override is configured.
const DefaultBranch = "main"

const (
	zipSuffix      = ".zip"
	archiveSegment = "archive"
)

// Reference is a validated repository reference together with the values
// derived from it.
type Reference struct {
	// URL is the trimmed reference as configured.
	URL string

	// Branch is the branch used when the reference is not a direct
	// archive link.
	Branch string

	// ArchiveURL is the URL the archive is downloaded from.
	ArchiveURL string

	// Name is the repository name, or empty if none could be derived.
	Name string
}

// Locate validates the configured reference and derives the archive URL
// and repository name. It fails with KindMissingConfiguration when the
// reference is empty after trimming whitespace. A missing repository name
// is not an error; Reference.Name is left empty.
func Locate(rawURL, branch string) (*Reference, error) {
	ref := strings.TrimSpace(rawURL)
	if ref == "" {
		return nil, model.NewError(model.KindMissingConfiguration,
			"repository URL is not configured (set PYTHON_LIB_GITHUB_URL or --repo)")
	}

	branch = strings.TrimSpace(branch)
	if branch == "" {
		branch = DefaultBranch
	}

	name, _ := DeriveRepoName(ref)
	return &Reference{
		URL:        ref,
		Branch:     branch,
		ArchiveURL: DeriveArchiveURL(ref, branch),
		Name:       name,
	}, nil
}

// DeriveArchiveURL returns ref verbatim when it already points at a zip
// archive. Otherwise the trailing slashes are stripped and the
// branch-archive path for branch is appended. An empty branch means
// DefaultBranch.
func DeriveArchiveURL(ref, branch string) string {
	if strings.HasSuffix(ref, zipSuffix) {
		return ref
	}
	if branch == "" {
		branch = DefaultBranch
	}
	return strings.TrimRight(ref, "/") + "/archive/refs/heads/" + branch + zipSuffix
}

// DeriveRepoName extracts the repository name from ref.
//
// The URL path is split into non-empty segments. When the literal segment
// "archive" is present and its first occurrence has a predecessor, that
// predecessor is returned (".../user/repo/archive/refs/heads/main.zip"
// yields "repo"). Otherwise the last segment is returned with any ".zip" suffix removed. The boolean is
// false when ref cannot be parsed or has no path segments.
func DeriveRepoName(ref string) (string, bool) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", false
	}

	var segments []string
	for _, s := range strings.Split(u.Path, "/") {
		if s != "" {
			segments = append(segments, s)
		}
	}
	if len(segments) == 0 {
		return "", false
	}

	if i := slices.Index(segments, archiveSegment); i > 0 {
		return segments[i-1], true
	}

	name := strings.TrimSuffix(segments[len(segments)-1], zipSuffix)
	if name == "" {
		return "", false
	}
	return name, true
}
