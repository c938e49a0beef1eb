// Package validate holds the two syntactic checks used before any sync work:
// whether a path is a directory the process can read and write, and whether a
// string looks like a git remote URL.
package validate

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/transport"
)

var (
	// ErrNotRWDir is returned when a path is not an existing directory with
	// read and write access.
	ErrNotRWDir = errors.New("not a directory with rw permissions")
	// ErrInvalidGitURL is returned for strings that do not parse as a git remote.
	ErrInvalidGitURL = errors.New("not a valid git url")
)

// remoteProtocols are the URL schemes accepted for network remotes
var remoteProtocols = map[string]bool{
	"http":    true,
	"https":   true,
	"ssh":     true,
	"git":     true,
	"git+ssh": true,
	"ssh+git": true,
}

// DirRW returns nil if path exists, is a directory, and is both readable and
// writable by the current process.
func DirRW(path string) error {
	if path == "" {
		return fmt.Errorf("%q is %w", path, ErrNotRWDir)
	}

	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("%q is %w", path, ErrNotRWDir)
	}

	if err := accessRW(path); err != nil {
		return fmt.Errorf("%q is %w: %v", path, ErrNotRWDir, err)
	}

	return nil
}

// IsDirRW reports whether DirRW succeeds for path
func IsDirRW(path string) bool {
	return DirRW(path) == nil
}

// GitURL returns nil if s is a syntactically valid git remote URL. No network
// access is performed.
//
// Accepted forms are scheme URLs (https, http, ssh, git, git+ssh) with a host
// and a path, scp-like shorthand (git@host:owner/repo.git) and explicit
// file:// URLs. Bare filesystem paths are rejected.
func GitURL(s string) error {
	if strings.TrimSpace(s) == "" || strings.ContainsAny(s, " \t\r\n") {
		return fmt.Errorf("%q is %w", s, ErrInvalidGitURL)
	}

	ep, err := transport.NewEndpoint(s)
	if err != nil {
		return fmt.Errorf("%q is %w: %v", s, ErrInvalidGitURL, err)
	}

	switch {
	case ep.Protocol == "file":
		// go-git treats anything it cannot parse as a local path
		if !strings.HasPrefix(s, "file://") || strings.Trim(ep.Path, "/") == "" {
			return fmt.Errorf("%q is %w", s, ErrInvalidGitURL)
		}
	case remoteProtocols[ep.Protocol]:
		if ep.Host == "" || strings.Trim(ep.Path, "/") == "" {
			return fmt.Errorf("%q is %w: missing host or path", s, ErrInvalidGitURL)
		}
	default:
		return fmt.Errorf("%q is %w: unsupported protocol %q", s, ErrInvalidGitURL, ep.Protocol)
	}

	return nil
}
