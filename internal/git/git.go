package git

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	gogit "github.com/go-git/go-git/v5"

	"github.com/schaermu/git-repo-sync/internal/validate"
)

// Action is the operation chosen for a working copy path
type Action string

const (
	ActionClone Action = "clone"
	ActionPull  Action = "pull"
)

var (
	// ErrCommandFailed wraps every failed clone or pull
	ErrCommandFailed = errors.New("git command failed")
	// ErrNotWorkingCopy is returned when a non-empty directory exists at the
	// target path but does not hold a git working copy.
	ErrNotWorkingCopy = errors.New("directory exists but is not a git working copy")
)

// Client provides git operations for repository management
type Client interface {
	// CloneOrPull clones url into path, or pulls if path already holds a
	// working copy.
	CloneOrPull(ctx context.Context, url, path string) (Action, error)
}

// Decide picks clone or pull for path. A read/write directory is pulled only
// when it holds a working copy; an empty one is cloned into.
func Decide(path string) (Action, error) {
	if !validate.IsDirRW(path) {
		return ActionClone, nil
	}

	_, err := gogit.PlainOpen(path)
	switch {
	case err == nil:
		return ActionPull, nil
	case errors.Is(err, gogit.ErrRepositoryNotExists):
		entries, rerr := os.ReadDir(path)
		if rerr != nil {
			return "", fmt.Errorf("failed to inspect %s: %w", path, rerr)
		}
		if len(entries) == 0 {
			return ActionClone, nil
		}
		return "", fmt.Errorf("%s: %w", path, ErrNotWorkingCopy)
	default:
		return "", fmt.Errorf("failed to open repository at %s: %w", path, err)
	}
}

// ShellClient implements Client by shelling out to the git command
type ShellClient struct {
	binary  string
	config  []string
	timeout time.Duration
	logger  *slog.Logger
}

// ShellOption configures a ShellClient
type ShellOption func(*ShellClient)

// WithBinary sets the git executable
func WithBinary(binary string) ShellOption {
	return func(c *ShellClient) {
		if binary != "" {
			c.binary = binary
		}
	}
}

// WithConfig passes each key=value entry to git as -c key=value
func WithConfig(kv ...string) ShellOption {
	return func(c *ShellClient) {
		c.config = append(c.config, kv...)
	}
}

// WithTimeout bounds every git invocation. Zero means no limit.
func WithTimeout(d time.Duration) ShellOption {
	return func(c *ShellClient) {
		c.timeout = d
	}
}

// NewShellClient creates a new git client that uses the git command
func NewShellClient(logger *slog.Logger, opts ...ShellOption) *ShellClient {
	c := &ShellClient{
		binary: "git",
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CloneOrPull clones url into path or pulls the existing working copy
func (c *ShellClient) CloneOrPull(ctx context.Context, url, path string) (Action, error) {
	action, err := Decide(path)
	if err != nil {
		return "", err
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var args []string
	switch action {
	case ActionPull:
		c.logger.Debug("pulling repository", "url", url, "path", path)
		args = []string{c.binary, "-C", path, "pull"}
	default:
		c.logger.Debug("cloning repository", "url", url, "path", path)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return "", fmt.Errorf("failed to create parent directory: %w", err)
		}
		args = []string{c.binary, "clone", "--", url, path}
	}

	args = c.withConfigFlags(args)
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	if err := c.runCommand(cmd); err != nil {
		return action, fmt.Errorf("git %s of %s into %s: %w: %w", action, url, path, ErrCommandFailed, err)
	}

	return action, nil
}

// withConfigFlags adds -c key=value for each configured entry
func (c *ShellClient) withConfigFlags(args []string) []string {
	flags := make([]string, 0, 2*len(c.config))
	for _, kv := range c.config {
		flags = append(flags, "-c", kv)
	}
	return insertGitFlags(args, flags...)
}

// insertGitFlags inserts flags immediately after the "git" command name,
// before the subcommand (e.g. "clone", "pull").
func insertGitFlags(args []string, flags ...string) []string {
	if len(args) == 0 {
		return flags
	}
	result := make([]string, 0, len(args)+len(flags))
	result = append(result, args[0])
	result = append(result, flags...)
	result = append(result, args[1:]...)
	return result
}

// runCommand executes a command and returns an error with its output on failure
func (c *ShellClient) runCommand(cmd *exec.Cmd) error {
	output, err := cmd.CombinedOutput()
	out := strings.TrimSpace(string(output))
	if out != "" {
		c.logger.Debug("git output", "args", cmd.Args[1:], "output", out)
	}
	if err != nil {
		if out == "" {
			return err
		}
		return fmt.Errorf("%w: %s", err, out)
	}
	return nil
}
