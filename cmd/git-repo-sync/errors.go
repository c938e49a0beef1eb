package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/schaermu/git-repo-sync/internal/config"
	"github.com/schaermu/git-repo-sync/internal/git"
	"github.com/schaermu/git-repo-sync/internal/manifest"
	"github.com/schaermu/git-repo-sync/internal/sync"
)

type ErrorKind string

const (
	KindInternal ErrorKind = "internal"
	KindUsage    ErrorKind = "usage"
	KindManifest ErrorKind = "manifest"
	KindTool     ErrorKind = "tool"
)

const (
	ExitInternal = 1
	ExitUsage    = 2
	ExitManifest = 3
	ExitTool     = 4
)

type ExitError struct {
	Code int
	Kind ErrorKind
	Err  error
}

func (e ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return "unknown error"
}

func (e ExitError) Unwrap() error {
	return e.Err
}

// NormalizeError classifies err into an exit code. Usage errors win over
// manifest errors, which win over tool errors.
func NormalizeError(err error) ExitError {
	if err == nil {
		return ExitError{Code: 0}
	}
	var exitErr ExitError
	if errors.As(err, &exitErr) {
		if exitErr.Code == 0 {
			exitErr.Code = ExitInternal
		}
		return exitErr
	}

	switch {
	case errors.Is(err, config.ErrInvalid):
		return ExitError{Code: ExitUsage, Kind: KindUsage, Err: err}
	case errorsIsAny(err, manifest.ErrShape, manifest.ErrUnreadable):
		return ExitError{Code: ExitManifest, Kind: KindManifest, Err: err}
	case errorsIsAny(err, git.ErrCommandFailed, git.ErrNotWorkingCopy, sync.ErrRecordsFailed):
		return ExitError{Code: ExitTool, Kind: KindTool, Err: err}
	default:
		return ExitError{Code: ExitInternal, Kind: KindInternal, Err: err}
	}
}

func writeCLIError(w io.Writer, cmd *cobra.Command, exitErr ExitError) error {
	if exitErr.Code == 0 {
		return nil
	}
	prefix := "Error"
	if exitErr.Kind != "" {
		prefix = fmt.Sprintf("Error (%s)", exitErr.Kind)
	}
	if _, err := fmt.Fprintf(w, "%s: %s\n", prefix, exitErr.Error()); err != nil {
		return err
	}
	if exitErr.Kind == KindUsage && cmd != nil {
		_, err := fmt.Fprintf(w, "Usage: %s\nRun '%s --help' for details.\n", cmd.UseLine(), cmd.CommandPath())
		return err
	}
	return nil
}

// errorsIsAny reports whether err matches any of targets
func errorsIsAny(err error, targets ...error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
