//go:build integration

// Package cli holds end-to-end tests that build the git-repo-sync binary and
// run it against local git repositories.
package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

const defaultTimeout = 2 * time.Minute

// Harness builds the binary once per test and runs it with a scratch sync dir
type Harness struct {
	t       *testing.T
	binary  string
	SyncDir string
}

// Result holds the outcome of one binary invocation
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// NewHarness creates a harness with a fresh sync dir
func NewHarness(t *testing.T) *Harness {
	return &Harness{
		t:       t,
		binary:  filepath.Join(t.TempDir(), "git-repo-sync"),
		SyncDir: t.TempDir(),
	}
}

// Build compiles the binary from the project root
func (h *Harness) Build(ctx context.Context) error {
	projectRoot, err := findProjectRoot()
	if err != nil {
		return fmt.Errorf("get project root: %w", err)
	}

	cmd := exec.CommandContext(ctx, "go", "build", "-o", h.binary, "./cmd/git-repo-sync")
	cmd.Dir = projectRoot
	cmd.Stdout = &testWriter{t: h.t, prefix: "[build] "}
	cmd.Stderr = &testWriter{t: h.t, prefix: "[build] "}
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("go build: %w", err)
	}
	return nil
}

// newBuiltHarness returns a harness whose binary is ready to run
func newBuiltHarness(ctx context.Context, t *testing.T) *Harness {
	t.Helper()
	h := NewHarness(t)
	if err := h.Build(ctx); err != nil {
		t.Fatalf("build: %v", err)
	}
	return h
}

// Run executes the binary with args and returns its output and exit code
func (h *Harness) Run(ctx context.Context, args ...string) Result {
	h.t.Helper()

	cmd := exec.CommandContext(ctx, h.binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		exitErr, ok := err.(*exec.ExitError)
		if !ok {
			h.t.Fatalf("exec failed: %v", err)
		}
		exitCode = exitErr.ExitCode()
	}

	res := Result{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: exitCode}
	for _, line := range strings.Split(strings.TrimSpace(res.Stderr), "\n") {
		h.t.Logf("[git-repo-sync] %s", line)
	}
	return res
}

// MustRun runs the binary and fails the test on a non-zero exit code
func (h *Harness) MustRun(ctx context.Context, args ...string) Result {
	h.t.Helper()
	res := h.Run(ctx, args...)
	if res.ExitCode != 0 {
		h.t.Fatalf("command failed with exit code %d\nstdout: %s\nstderr: %s\nargs: %v",
			res.ExitCode, res.Stdout, res.Stderr, args)
	}
	return res
}

// Remote is a local git repository used as a sync source
type Remote struct {
	t   *testing.T
	Dir string
}

// NewRemote initializes a repository on branch main
func NewRemote(t *testing.T) *Remote {
	t.Helper()
	r := &Remote{t: t, Dir: t.TempDir()}
	r.git("init", "-b", "main", r.Dir)
	r.git("-C", r.Dir, "config", "user.email", "test@example.com")
	r.git("-C", r.Dir, "config", "user.name", "Test User")
	return r
}

// URL returns the file:// URL of the repository
func (r *Remote) URL() string {
	return "file://" + r.Dir
}

// Commit writes files and commits them
func (r *Remote) Commit(msg string, files map[string]string) {
	r.t.Helper()
	for name, content := range files {
		path := filepath.Join(r.Dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			r.t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			r.t.Fatal(err)
		}
		r.git("-C", r.Dir, "add", name)
	}
	r.git("-C", r.Dir, "commit", "-m", msg)
}

func (r *Remote) git(args ...string) {
	r.t.Helper()
	if out, err := exec.Command("git", args...).CombinedOutput(); err != nil {
		r.t.Fatalf("git %v: %v: %s", args, err, out)
	}
}

// snapshot returns relative path -> content for every file under root,
// skipping .git directories.
func snapshot(t *testing.T, root string) map[string]string {
	t.Helper()
	files := make(map[string]string)
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() && info.Name() == ".git" {
			return filepath.SkipDir
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		files[rel] = string(data)
		return nil
	})
	if err != nil {
		t.Fatalf("snapshot %s: %v", root, err)
	}
	return files
}

// testWriter wraps test logging for command output
type testWriter struct {
	t      *testing.T
	prefix string
}

func (w *testWriter) Write(p []byte) (n int, err error) {
	lines := strings.Split(string(p), "\n")
	for _, line := range lines {
		if line != "" {
			w.t.Log(w.prefix + line)
		}
	}
	return len(p), nil
}

var _ io.Writer = (*testWriter)(nil)

// findProjectRoot walks up the directory tree from the current file to find go.mod
func findProjectRoot() (string, error) {
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		return "", fmt.Errorf("failed to get caller information")
	}

	dir := filepath.Dir(filename)

	for {
		goModPath := filepath.Join(dir, "go.mod")
		if _, err := os.Stat(goModPath); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("go.mod not found in any parent directory")
		}
		dir = parent
	}
}
