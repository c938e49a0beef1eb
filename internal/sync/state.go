package sync

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"

	"github.com/schaermu/git-repo-sync/internal/git"
)

// Status is the final state of one manifest record
type Status string

const (
	StatusSynced  Status = "synced"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// Report collects the outcome of a run
type Report struct {
	RunID      string          `json:"run_id"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Manifest   ManifestOutcome `json:"manifest"`
	Records    []RecordOutcome `json:"records"`
	// Aborted is set when a failure stopped the run before the end of the list
	Aborted bool `json:"aborted"`
}

// ManifestOutcome describes the manifest repository sync
type ManifestOutcome struct {
	URL    string     `json:"url"`
	Path   string     `json:"path"`
	Action git.Action `json:"action,omitempty"`
	Error  string     `json:"error,omitempty"`
}

// RecordOutcome describes one manifest record
type RecordOutcome struct {
	Index  int        `json:"index"`
	Dir    string     `json:"dir,omitempty"`
	URL    string     `json:"url,omitempty"`
	Path   string     `json:"path,omitempty"`
	Status Status     `json:"status"`
	Action git.Action `json:"action,omitempty"`
	Error  string     `json:"error,omitempty"`
}

// Summary counts records per status
type Summary struct {
	Synced  int `json:"synced"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// Summary returns per-status record counts
func (r *Report) Summary() Summary {
	var s Summary
	for _, rec := range r.Records {
		switch rec.Status {
		case StatusSynced:
			s.Synced++
		case StatusSkipped:
			s.Skipped++
		case StatusFailed:
			s.Failed++
		}
	}
	return s
}

// Encode writes the report as indented JSON
func (r *Report) Encode(w io.Writer) error {
	return json.MarshalWrite(w, r, jsontext.WithIndent("  "))
}

// WriteReport writes the report to path, or to stdout when path is "-".
// Files are replaced atomically.
func WriteReport(r *Report, path string, stdout io.Writer) error {
	if path == "-" {
		return r.Encode(stdout)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(path), ".git-repo-sync-report-*")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}() // cleanup on error

	if err := r.Encode(tmpFile); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Chmod(0644); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}

	return os.Rename(tmpPath, path)
}
