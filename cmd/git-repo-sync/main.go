package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/schaermu/git-repo-sync/internal/config"
	"github.com/schaermu/git-repo-sync/internal/git"
	"github.com/schaermu/git-repo-sync/internal/logging"
	"github.com/schaermu/git-repo-sync/internal/sync"
	"github.com/schaermu/git-repo-sync/internal/validate"
)

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// options holds the command line flags
type options struct {
	cfgFile   string
	logLevel  string
	logFormat string
	backend   string
	report    string
	keepGoing bool
}

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}

// execute runs the root command and maps its error to an exit code
func execute(args []string, stdout, stderr io.Writer) int {
	cmd := newRootCmd(stdout, stderr)
	cmd.SetArgs(normalizeArgs(args))

	if err := cmd.Execute(); err != nil {
		exitErr := NormalizeError(err)
		_ = writeCLIError(stderr, cmd, exitErr)
		return exitErr.Code
	}
	return 0
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "git-repo-sync <sync_dir> <repo_list_url>",
		Short: "Synchronize a directory tree with the git repositories listed in a manifest",
		Long: `git-repo-sync clones or pulls a manifest repository into <sync_dir>/repo-list,
reads the JSON list in repo-list/list.json and clones or pulls every listed
repository into <sync_dir>/synced-repos/<dir>.

Each list entry is an object with a "dir" (path below synced-repos) and a
"url" (git remote). Invalid entries are logged and skipped. A failed clone or
pull aborts the run unless --keep-going is set.`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		Args:          validateArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, opts, args)
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return fmt.Errorf("%w: %v", config.ErrInvalid, err)
	})

	flags := cmd.Flags()
	flags.StringVarP(&opts.logLevel, "log", "l", "DEBUG",
		"log level ("+strings.Join(logging.LevelNames, ", ")+")")
	flags.StringVar(&opts.logFormat, "log-format", "text", "log format (text, json)")
	flags.StringVar(&opts.cfgFile, "config", "", "optional YAML config file")
	flags.StringVar(&opts.backend, "backend", string(config.BackendExec), "git backend (exec, go-git)")
	flags.StringVar(&opts.report, "report", "", `write a JSON run report to this path ("-" for stdout)`)
	flags.BoolVar(&opts.keepGoing, "keep-going", false, "continue with remaining repositories after a failed clone or pull")

	return cmd
}

// validateArgs checks the positional arguments before any work is done
func validateArgs(cmd *cobra.Command, args []string) error {
	if err := cobra.ExactArgs(2)(cmd, args); err != nil {
		return fmt.Errorf("%w: %v", config.ErrInvalid, err)
	}
	if err := validate.DirRW(args[0]); err != nil {
		return fmt.Errorf("%w: argument sync_dir: %w", config.ErrInvalid, err)
	}
	if err := validate.GitURL(args[1]); err != nil {
		return fmt.Errorf("%w: argument repo_list_url: %w", config.ErrInvalid, err)
	}
	return nil
}

// normalizeArgs rewrites the single-dash long form -log to --log
func normalizeArgs(args []string) []string {
	out := make([]string, 0, len(args))
	for i, arg := range args {
		if arg == "--" {
			return append(out, args[i:]...)
		}
		if arg == "-log" || strings.HasPrefix(arg, "-log=") {
			arg = "-" + arg
		}
		out = append(out, arg)
	}
	return out
}

func runSync(cmd *cobra.Command, opts *options, args []string) error {
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}
	cfg.SyncDir = args[0]
	cfg.ManifestURL = args[1]

	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := setupLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return fmt.Errorf("%w: %v", config.ErrInvalid, err)
	}
	logger.Debug("parsed arguments",
		"sync_dir", cfg.SyncDir,
		"repo_list_url", cfg.ManifestURL,
		"log_level", cfg.Log.Level,
		"backend", cfg.Git.Backend,
		"config", opts.cfgFile)

	ctx, cancel := setupSignalHandler()
	defer cancel()

	engine := sync.NewEngine(cfg, newGitClient(cfg, logger), logger)
	report, runErr := engine.Run(ctx)

	if cfg.Sync.Report != "" {
		if err := sync.WriteReport(report, cfg.Sync.Report, cmd.OutOrStdout()); err != nil {
			logger.Error("failed to write report", "path", cfg.Sync.Report, "error", err)
			runErr = multierr.Append(runErr, fmt.Errorf("failed to write report: %w", err))
		}
	}

	if runErr != nil {
		logger.Error("sync failed", "error", runErr)
	}
	return runErr
}

// loadConfig builds the configuration from defaults, the optional config
// file and any explicitly set flags, in increasing precedence.
func loadConfig(cmd *cobra.Command, opts *options) (*config.Config, error) {
	cfg := config.Default()
	if opts.cfgFile != "" {
		loaded, err := config.Load(opts.cfgFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("log") {
		cfg.Log.Level = opts.logLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = opts.logFormat
	}
	if flags.Changed("backend") {
		cfg.Git.Backend = config.Backend(opts.backend)
	}
	if flags.Changed("report") {
		cfg.Sync.Report = opts.report
	}
	if flags.Changed("keep-going") {
		cfg.Sync.KeepGoing = opts.keepGoing
	}

	return cfg, nil
}

func setupLogger(cfg *config.Config, w io.Writer) (*slog.Logger, error) {
	return logging.New(cfg.Log.Level, cfg.Log.Format, w)
}

func newGitClient(cfg *config.Config, logger *slog.Logger) git.Client {
	if cfg.Git.Backend == config.BackendGoGit {
		return git.NewGoGitClient(logger, cfg.Git.Timeout, nil)
	}
	return git.NewShellClient(logger,
		git.WithBinary(cfg.Git.Binary),
		git.WithConfig(cfg.Git.Config...),
		git.WithTimeout(cfg.Git.Timeout))
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()

	return ctx, cancel
}
