package git

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	gogit "github.com/go-git/go-git/v5"
)

// GoGitClient implements Client in-process with go-git. Pulls are
// fast-forward only.
type GoGitClient struct {
	timeout  time.Duration
	progress io.Writer
	logger   *slog.Logger
}

// NewGoGitClient creates a go-git backed client. If progress is non-nil,
// remote progress output is written to it.
func NewGoGitClient(logger *slog.Logger, timeout time.Duration, progress io.Writer) *GoGitClient {
	return &GoGitClient{
		timeout:  timeout,
		progress: progress,
		logger:   logger,
	}
}

// CloneOrPull clones url into path or pulls the existing working copy
func (c *GoGitClient) CloneOrPull(ctx context.Context, url, path string) (Action, error) {
	action, err := Decide(path)
	if err != nil {
		return "", err
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	if action == ActionPull {
		c.logger.Debug("pulling repository", "url", url, "path", path, "backend", "go-git")
		err = c.pull(ctx, path)
	} else {
		c.logger.Debug("cloning repository", "url", url, "path", path, "backend", "go-git")
		err = c.clone(ctx, url, path)
	}
	if err != nil {
		return action, fmt.Errorf("git %s of %s into %s: %w: %w", action, url, path, ErrCommandFailed, err)
	}

	return action, nil
}

func (c *GoGitClient) clone(ctx context.Context, url, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create parent directory: %w", err)
	}

	_, err := gogit.PlainCloneContext(ctx, path, false, &gogit.CloneOptions{
		URL:      url,
		Progress: c.progress,
	})
	return err
}

func (c *GoGitClient) pull(ctx context.Context, path string) error {
	repo, err := gogit.PlainOpen(path)
	if err != nil {
		return fmt.Errorf("unable to open repository: %w", err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("unable to open worktree: %w", err)
	}

	err = worktree.PullContext(ctx, &gogit.PullOptions{
		RemoteName: "origin",
		Progress:   c.progress,
	})
	if err != nil && !errors.Is(err, gogit.NoErrAlreadyUpToDate) {
		return fmt.Errorf("unable to pull: %w", err)
	}
	return nil
}
