package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/multierr"

	"github.com/schaermu/git-repo-sync/internal/config"
	"github.com/schaermu/git-repo-sync/internal/git"
	"github.com/schaermu/git-repo-sync/internal/logging"
	"github.com/schaermu/git-repo-sync/internal/manifest"
)

// ErrRecordsFailed is returned when keep-going mode finished with failures
var ErrRecordsFailed = errors.New("one or more repositories failed to sync")

// Engine orchestrates the sync process
type Engine struct {
	cfg    *config.Config
	git    git.Client
	logger *slog.Logger
	now    func() time.Time
}

// NewEngine creates a new sync engine
func NewEngine(cfg *config.Config, gitClient git.Client, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:    cfg,
		git:    gitClient,
		logger: logger,
		now:    time.Now,
	}
}

// Run syncs the manifest repository and then every valid record in it.
//
// The returned report is never nil and reflects the work done up to the
// point of return. Invalid records are skipped and logged at FATAL level.
// A failed clone or pull aborts the run unless KeepGoing is set, in which
// case all failures are returned together once the list is exhausted.
func (e *Engine) Run(ctx context.Context) (*Report, error) {
	report := &Report{
		RunID:     ulid.Make().String(),
		StartedAt: e.now().UTC(),
		Manifest: ManifestOutcome{
			URL:  e.cfg.ManifestURL,
			Path: e.cfg.ManifestDir(),
		},
		Records: make([]RecordOutcome, 0),
	}
	defer func() {
		report.FinishedAt = e.now().UTC()
	}()

	logger := e.logger.With("run_id", report.RunID)
	logger.Info("starting sync",
		"sync_dir", e.cfg.SyncDir,
		"manifest_url", e.cfg.ManifestURL,
		"keep_going", e.cfg.Sync.KeepGoing)

	list, err := e.syncManifest(ctx, logger, report)
	if err != nil {
		report.Aborted = true
		return report, err
	}

	logger.Debug("updating all repos", "count", len(list))

	var failures error
	for i, raw := range list {
		if err := ctx.Err(); err != nil {
			report.Aborted = true
			return report, multierr.Append(failures, err)
		}

		outcome, err := e.syncRecord(ctx, logger, i, raw)
		report.Records = append(report.Records, outcome)
		if err == nil {
			continue
		}

		if !e.cfg.Sync.KeepGoing {
			report.Aborted = true
			return report, err
		}
		failures = multierr.Append(failures, err)
	}

	summary := report.Summary()
	logger.Info("sync finished",
		"synced", summary.Synced,
		"skipped", summary.Skipped,
		"failed", summary.Failed)

	if failures != nil {
		return report, fmt.Errorf("%w (%d of %d): %w", ErrRecordsFailed, summary.Failed, len(list), failures)
	}
	return report, nil
}

// syncManifest updates the manifest working copy and parses its list
func (e *Engine) syncManifest(ctx context.Context, logger *slog.Logger, report *Report) ([]any, error) {
	logger.Info("fetching manifest repository", "dest", e.cfg.ManifestDir())
	action, err := e.git.CloneOrPull(ctx, e.cfg.ManifestURL, e.cfg.ManifestDir())
	report.Manifest.Action = action
	if err != nil {
		report.Manifest.Error = err.Error()
		logger.Error("failed to sync manifest repository", "error", err)
		return nil, fmt.Errorf("failed to sync manifest repository: %w", err)
	}

	logger.Debug("reading manifest", "path", e.cfg.ManifestFile())
	list, err := manifest.Load(e.cfg.ManifestFile())
	if err != nil {
		report.Manifest.Error = err.Error()
		if errors.Is(err, manifest.ErrShape) {
			logger.Log(ctx, logging.LevelFatal, "manifest is not a list", "path", e.cfg.ManifestFile(), "error", err)
		} else {
			logger.Error("failed to read manifest", "path", e.cfg.ManifestFile(), "error", err)
		}
		return nil, fmt.Errorf("failed to load manifest %s: %w", e.cfg.ManifestFile(), err)
	}

	return list, nil
}

// syncRecord validates one manifest element and clones or pulls it. Invalid
// records produce a skipped outcome and a nil error.
func (e *Engine) syncRecord(ctx context.Context, logger *slog.Logger, index int, raw any) (RecordOutcome, error) {
	rec, err := manifest.ParseRecord(index, raw)
	if err != nil {
		logger.Log(ctx, logging.LevelFatal, "skipping invalid repo entry", "index", index, "error", err)
		return RecordOutcome{Index: index, Status: StatusSkipped, Error: err.Error()}, nil
	}

	outcome := RecordOutcome{
		Index: index,
		Dir:   rec.Dir,
		URL:   rec.URL,
		Path:  e.cfg.RecordPath(rec.Dir),
	}

	action, err := e.git.CloneOrPull(ctx, rec.URL, outcome.Path)
	outcome.Action = action
	if err != nil {
		outcome.Status = StatusFailed
		outcome.Error = err.Error()
		logger.Error("failed to sync repository", "index", index, "dir", rec.Dir, "url", rec.URL, "error", err)
		return outcome, fmt.Errorf("record %d (%s): %w", index, rec.Dir, err)
	}

	outcome.Status = StatusSynced
	logger.Info("repository synced", "index", index, "dir", rec.Dir, "action", action)
	return outcome, nil
}
