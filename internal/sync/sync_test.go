package sync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-json-experiment/json"
	"github.com/google/go-cmp/cmp"

	"github.com/schaermu/git-repo-sync/internal/config"
	"github.com/schaermu/git-repo-sync/internal/git"
	"github.com/schaermu/git-repo-sync/internal/logging"
	"github.com/schaermu/git-repo-sync/internal/manifest"
)

// mockGitClient implements git.Client for testing.
type mockGitClient struct {
	// manifest is written as list.json when the manifest repo is synced
	manifest    string
	manifestURL string
	// failures maps a url to the error returned for it
	failures map[string]error
	calls    []string
}

func (m *mockGitClient) CloneOrPull(_ context.Context, url, path string) (git.Action, error) {
	m.calls = append(m.calls, url)

	action := git.ActionClone
	if _, err := os.Stat(path); err == nil {
		action = git.ActionPull
	}

	if err, ok := m.failures[url]; ok {
		return action, fmt.Errorf("git %s of %s: %w: %w", action, url, git.ErrCommandFailed, err)
	}

	if err := os.MkdirAll(path, 0755); err != nil {
		return action, err
	}
	if url == m.manifestURL {
		if err := os.WriteFile(filepath.Join(path, config.ManifestFileName), []byte(m.manifest), 0644); err != nil {
			return action, err
		}
	}
	return action, nil
}

const manifestURL = "https://example.com/org/repo-list.git"

func newTestEngine(t *testing.T, client *mockGitClient, keepGoing bool) (*Engine, *config.Config, *bytes.Buffer) {
	t.Helper()

	cfg := config.Default()
	cfg.SyncDir = t.TempDir()
	cfg.ManifestURL = manifestURL
	cfg.Sync.KeepGoing = keepGoing
	client.manifestURL = manifestURL

	var logs bytes.Buffer
	logger, err := logging.New("DEBUG", "text", &logs)
	if err != nil {
		t.Fatal(err)
	}

	return NewEngine(cfg, client, logger), cfg, &logs
}

func statuses(r *Report) []Status {
	out := make([]Status, 0, len(r.Records))
	for _, rec := range r.Records {
		out = append(out, rec.Status)
	}
	return out
}

func TestRun_SyncsAllRecords(t *testing.T) {
	client := &mockGitClient{manifest: `[
		{"dir": "a", "url": "https://example.com/org/a.git"},
		{"dir": "team/b", "url": "git@example.com:org/b.git"}
	]`}
	engine, cfg, _ := newTestEngine(t, client, false)

	report, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	wantCalls := []string{manifestURL, "https://example.com/org/a.git", "git@example.com:org/b.git"}
	if diff := cmp.Diff(wantCalls, client.calls); diff != "" {
		t.Errorf("git calls mismatch (-want +got):\n%s", diff)
	}

	for _, dir := range []string{"a", "team/b"} {
		if _, err := os.Stat(cfg.RecordPath(dir)); err != nil {
			t.Errorf("expected %s to be synced: %v", dir, err)
		}
	}

	if report.RunID == "" {
		t.Error("expected a run id")
	}
	if report.Manifest.Action != git.ActionClone {
		t.Errorf("expected manifest clone, got %q", report.Manifest.Action)
	}
	if diff := cmp.Diff([]Status{StatusSynced, StatusSynced}, statuses(report)); diff != "" {
		t.Errorf("statuses mismatch (-want +got):\n%s", diff)
	}
	if report.Aborted {
		t.Error("report should not be aborted")
	}
	if report.FinishedAt.Before(report.StartedAt) {
		t.Error("finished_at precedes started_at")
	}
}

func TestRun_SecondRunPulls(t *testing.T) {
	client := &mockGitClient{manifest: `[{"dir": "a", "url": "https://example.com/org/a.git"}]`}
	engine, _, _ := newTestEngine(t, client, false)

	if _, err := engine.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	report, err := engine.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if report.Manifest.Action != git.ActionPull {
		t.Errorf("expected manifest pull, got %s", report.Manifest.Action)
	}
	if report.Records[0].Action != git.ActionPull {
		t.Errorf("expected record pull, got %s", report.Records[0].Action)
	}
}

func TestRun_InvalidRecordIsSkipped(t *testing.T) {
	client := &mockGitClient{manifest: `[
		{"dir": "a", "url": "https://example.com/org/a.git"},
		{"dir": "b", "url": "not-a-url"},
		{"url": "https://example.com/org/c.git"},
		"just a string",
		{"dir": "d", "url": "https://example.com/org/d.git"}
	]`}
	engine, cfg, logs := newTestEngine(t, client, false)

	report, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("invalid records must not abort the run: %v", err)
	}

	want := []Status{StatusSynced, StatusSkipped, StatusSkipped, StatusSkipped, StatusSynced}
	if diff := cmp.Diff(want, statuses(report)); diff != "" {
		t.Errorf("statuses mismatch (-want +got):\n%s", diff)
	}

	if _, err := os.Stat(cfg.RecordPath("a")); err != nil {
		t.Errorf("expected a to exist: %v", err)
	}
	if _, err := os.Stat(cfg.RecordPath("b")); !os.IsNotExist(err) {
		t.Errorf("expected b not to exist, stat err = %v", err)
	}

	if got := strings.Count(logs.String(), "level=FATAL"); got != 3 {
		t.Errorf("expected 3 FATAL log entries, got %d:\n%s", got, logs.String())
	}
	if !strings.Contains(logs.String(), "not-a-url") {
		t.Errorf("expected the invalid record to be logged:\n%s", logs.String())
	}
}

func TestRun_ManifestNotAList(t *testing.T) {
	client := &mockGitClient{manifest: `{"not": "a list"}`}
	engine, cfg, logs := newTestEngine(t, client, false)

	report, err := engine.Run(context.Background())
	if !errors.Is(err, manifest.ErrShape) {
		t.Fatalf("expected manifest.ErrShape, got %v", err)
	}

	if len(client.calls) != 1 {
		t.Errorf("expected only the manifest to be fetched, got %v", client.calls)
	}
	if len(report.Records) != 0 || !report.Aborted {
		t.Errorf("expected aborted report without records, got %+v", report)
	}
	if _, err := os.Stat(cfg.SyncedRoot()); !os.IsNotExist(err) {
		t.Errorf("synced root should not be created, stat err = %v", err)
	}
	if !strings.Contains(logs.String(), "level=FATAL") {
		t.Errorf("expected FATAL log entry:\n%s", logs.String())
	}
}

func TestRun_ManifestUnreadable(t *testing.T) {
	client := &mockGitClient{manifest: `[{"dir": "a",`}
	engine, _, _ := newTestEngine(t, client, false)

	_, err := engine.Run(context.Background())
	if !errors.Is(err, manifest.ErrUnreadable) {
		t.Fatalf("expected manifest.ErrUnreadable, got %v", err)
	}
}

func TestRun_ManifestSyncFailureStopsEverything(t *testing.T) {
	client := &mockGitClient{
		manifest: `[{"dir": "a", "url": "https://example.com/org/a.git"}]`,
		failures: map[string]error{manifestURL: errors.New("exit status 128")},
	}
	engine, _, _ := newTestEngine(t, client, true)

	report, err := engine.Run(context.Background())
	if !errors.Is(err, git.ErrCommandFailed) {
		t.Fatalf("expected git.ErrCommandFailed, got %v", err)
	}
	if len(client.calls) != 1 {
		t.Errorf("no record should be processed, got calls %v", client.calls)
	}
	if report.Manifest.Error == "" || !report.Aborted {
		t.Errorf("expected manifest error in aborted report, got %+v", report.Manifest)
	}
}

func TestRun_RecordFailureAborts(t *testing.T) {
	client := &mockGitClient{
		manifest: `[
			{"dir": "a", "url": "https://example.com/org/a.git"},
			{"dir": "b", "url": "https://example.com/org/b.git"},
			{"dir": "c", "url": "https://example.com/org/c.git"}
		]`,
		failures: map[string]error{"https://example.com/org/b.git": errors.New("exit status 128")},
	}
	engine, cfg, _ := newTestEngine(t, client, false)

	report, err := engine.Run(context.Background())
	if !errors.Is(err, git.ErrCommandFailed) {
		t.Fatalf("expected git.ErrCommandFailed, got %v", err)
	}

	if diff := cmp.Diff([]Status{StatusSynced, StatusFailed}, statuses(report)); diff != "" {
		t.Errorf("statuses mismatch (-want +got):\n%s", diff)
	}
	if !report.Aborted {
		t.Error("expected aborted report")
	}
	if _, err := os.Stat(cfg.RecordPath("c")); !os.IsNotExist(err) {
		t.Errorf("c must not be synced after an abort, stat err = %v", err)
	}
}

func TestRun_KeepGoingCollectsFailures(t *testing.T) {
	client := &mockGitClient{
		manifest: `[
			{"dir": "a", "url": "https://example.com/org/a.git"},
			{"dir": "b", "url": "https://example.com/org/b.git"},
			{"dir": "c", "url": "bad url"},
			{"dir": "d", "url": "https://example.com/org/d.git"}
		]`,
		failures: map[string]error{
			"https://example.com/org/a.git": errors.New("exit status 1"),
			"https://example.com/org/d.git": errors.New("exit status 128"),
		},
	}
	engine, _, _ := newTestEngine(t, client, true)

	report, err := engine.Run(context.Background())
	if !errors.Is(err, ErrRecordsFailed) {
		t.Fatalf("expected ErrRecordsFailed, got %v", err)
	}
	if !errors.Is(err, git.ErrCommandFailed) {
		t.Errorf("aggregate should wrap the git failures: %v", err)
	}

	want := []Status{StatusFailed, StatusSynced, StatusSkipped, StatusFailed}
	if diff := cmp.Diff(want, statuses(report)); diff != "" {
		t.Errorf("statuses mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(Summary{Synced: 1, Skipped: 1, Failed: 2}, report.Summary()); diff != "" {
		t.Errorf("summary mismatch (-want +got):\n%s", diff)
	}
	if report.Aborted {
		t.Error("keep-going run should not be marked aborted")
	}
}

func TestRun_DuplicateMemberNameDoesNotStopOtherRecords(t *testing.T) {
	client := &mockGitClient{manifest: `[
		{"dir": "a", "url": "https://example.com/org/a.git"},
		{"dir": "b", "dir": "c", "url": "https://example.com/org/c.git"},
		{"dir": "d", "url": 7}
	]`}
	engine, cfg, _ := newTestEngine(t, client, false)

	report, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if diff := cmp.Diff([]Status{StatusSynced, StatusSynced, StatusSkipped}, statuses(report)); diff != "" {
		t.Errorf("statuses mismatch (-want +got):\n%s", diff)
	}
	if _, err := os.Stat(cfg.RecordPath("c")); err != nil {
		t.Errorf("expected last dir value to be used: %v", err)
	}
	if _, err := os.Stat(cfg.RecordPath("b")); !os.IsNotExist(err) {
		t.Errorf("first dir value must be ignored, stat err = %v", err)
	}
}

func TestRun_DuplicateDirIsSyncedTwice(t *testing.T) {
	client := &mockGitClient{manifest: `[
		{"dir": "same", "url": "https://example.com/org/one.git"},
		{"dir": "same", "url": "https://example.com/org/two.git"}
	]`}
	engine, _, _ := newTestEngine(t, client, false)

	report, err := engine.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Records[1].Action != git.ActionPull {
		t.Errorf("second record for the same dir should pull, got %s", report.Records[1].Action)
	}
}

func TestRun_CanceledContext(t *testing.T) {
	client := &mockGitClient{manifest: `[{"dir": "a", "url": "https://example.com/org/a.git"}]`}
	engine, _, _ := newTestEngine(t, client, false)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := engine.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestWriteReport(t *testing.T) {
	report := &Report{
		RunID:    "01J0000000000000000000TEST",
		Manifest: ManifestOutcome{URL: manifestURL, Path: "/sync/repo-list", Action: git.ActionPull},
		Records: []RecordOutcome{
			{Index: 0, Dir: "a", URL: "https://example.com/org/a.git", Path: "/sync/synced-repos/a", Status: StatusSynced, Action: git.ActionClone},
			{Index: 1, Status: StatusSkipped, Error: "bad"},
		},
	}

	path := filepath.Join(t.TempDir(), "reports", "report.json")
	if err := WriteReport(report, path, nil); err != nil {
		t.Fatalf("WriteReport failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var got Report
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if diff := cmp.Diff(report, &got); diff != "" {
		t.Errorf("report round trip mismatch (-want +got):\n%s", diff)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("expected only the report file, found %d entries", len(entries))
	}

	var stdout bytes.Buffer
	if err := WriteReport(report, "-", &stdout); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(stdout.String(), `"records"`) {
		t.Errorf("expected report on stdout, got %q", stdout.String())
	}
}

func TestNewEngine(t *testing.T) {
	engine := NewEngine(config.Default(), &mockGitClient{}, slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))
	if engine.now == nil || engine.git == nil {
		t.Fatal("engine not fully initialized")
	}
}
