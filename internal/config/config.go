package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/schaermu/git-repo-sync/internal/logging"
	"github.com/schaermu/git-repo-sync/internal/validate"
)

// Fixed layout below the sync directory
const (
	ManifestDirName  = "repo-list"
	ManifestFileName = "list.json"
	SyncedDirName    = "synced-repos"
)

// Backend selects how git operations are performed
type Backend string

const (
	BackendExec  Backend = "exec"
	BackendGoGit Backend = "go-git"
)

// ErrInvalid marks configuration and usage errors
var ErrInvalid = errors.New("invalid configuration")

// Config represents the complete git-repo-sync configuration
type Config struct {
	SyncDir     string     `yaml:"-"`
	ManifestURL string     `yaml:"-"`
	Log         LogConfig  `yaml:"log"`
	Git         GitConfig  `yaml:"git"`
	Sync        SyncConfig `yaml:"sync"`
}

// LogConfig configures logging
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// GitConfig configures how repositories are cloned and pulled
type GitConfig struct {
	Backend Backend       `yaml:"backend"`
	Binary  string        `yaml:"binary"`
	Timeout time.Duration `yaml:"timeout"`
	// Config entries are passed to the git binary as -c key=value
	Config []string `yaml:"config"`
}

// SyncConfig configures the fan-out behavior
type SyncConfig struct {
	KeepGoing bool   `yaml:"keep_going"`
	Report    string `yaml:"report"`
}

// Default returns a configuration with all defaults applied
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads and parses the configuration file. Validation is left to the
// caller because sync_dir and the manifest URL come from the command line.
func Load(path string) (*Config, error) {
	// Expand environment variables in path
	path = os.ExpandEnv(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read config file: %v", ErrInvalid, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config file: %v", ErrInvalid, err)
	}

	cfg.expandEnv()
	cfg.applyDefaults()

	return &cfg, nil
}

// expandEnv expands environment variables in all string fields
func (c *Config) expandEnv() {
	c.Log.Level = os.ExpandEnv(c.Log.Level)
	c.Log.Format = os.ExpandEnv(c.Log.Format)
	c.Git.Binary = os.ExpandEnv(c.Git.Binary)
	c.Sync.Report = os.ExpandEnv(c.Sync.Report)
	for i, kv := range c.Git.Config {
		c.Git.Config[i] = os.ExpandEnv(kv)
	}
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "DEBUG"
	}
	if c.Log.Format == "" {
		c.Log.Format = string(logging.FormatText)
	}
	if c.Git.Backend == "" {
		c.Git.Backend = BackendExec
	}
	if c.Git.Binary == "" {
		c.Git.Binary = "git"
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if err := validate.DirRW(c.SyncDir); err != nil {
		return fmt.Errorf("%w: sync_dir: %w", ErrInvalid, err)
	}
	if err := validate.GitURL(c.ManifestURL); err != nil {
		return fmt.Errorf("%w: repo_list_url: %w", ErrInvalid, err)
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if _, err := logging.ParseFormat(c.Log.Format); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	switch c.Git.Backend {
	case BackendExec, BackendGoGit:
		// valid
	default:
		return fmt.Errorf("%w: git.backend %q (must be exec or go-git)", ErrInvalid, c.Git.Backend)
	}

	if c.Git.Timeout < 0 {
		return fmt.Errorf("%w: git.timeout must not be negative: %s", ErrInvalid, c.Git.Timeout)
	}

	for _, kv := range c.Git.Config {
		if k, _, ok := strings.Cut(kv, "="); !ok || strings.TrimSpace(k) == "" {
			return fmt.Errorf("%w: git.config entry %q must be key=value", ErrInvalid, kv)
		}
	}

	return nil
}

// ManifestDir returns the path where the manifest repository is checked out
func (c *Config) ManifestDir() string {
	return filepath.Join(c.SyncDir, ManifestDirName)
}

// ManifestFile returns the path to the manifest list inside its checkout
func (c *Config) ManifestFile() string {
	return filepath.Join(c.ManifestDir(), ManifestFileName)
}

// SyncedRoot returns the directory holding one working copy per record
func (c *Config) SyncedRoot() string {
	return filepath.Join(c.SyncDir, SyncedDirName)
}

// RecordPath returns the working copy path for a manifest record's dir.
// The dir is joined verbatim.
func (c *Config) RecordPath(dir string) string {
	return filepath.Join(c.SyncedRoot(), dir)
}
