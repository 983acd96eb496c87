// Package config handles strata.yaml parsing.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	"github.com/majorcontext/strata/internal/engine"
	"github.com/majorcontext/strata/internal/exclude"
)

// FileName is the default per-repository config file.
const FileName = "strata.yaml"

var nameRe = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

// Config represents a strata.yaml document.
type Config struct {
	Name        string   `yaml:"name"`
	SourcePaths []string `yaml:"source_paths"`
	Repository  string   `yaml:"repository,omitempty"`
	// ResticRepo is accepted as an alias for Repository.
	ResticRepo string `yaml:"restic_repo,omitempty"`

	// Exactly one password source must be set.
	PasswordFile    string `yaml:"password_file,omitempty"`
	KeychainAccount string `yaml:"keychain_account,omitempty"`
	PasswordRef     string `yaml:"password_ref,omitempty"`

	Retention engine.Retention `yaml:"retention"`

	ExcludePatterns []string `yaml:"exclude_patterns,omitempty"`
	IncludePatterns []string `yaml:"include_patterns,omitempty"`
	IgnoreFile      string   `yaml:"ignore_file,omitempty"`
	UseGitignore    bool     `yaml:"use_gitignore,omitempty"`

	// Schedule is the interval between daemon snapshots. Zero disables it.
	Schedule            Interval `yaml:"schedule,omitempty"`
	ForgetAfterSchedule bool     `yaml:"forget_after_schedule,omitempty"`

	Monitor MonitorConfig `yaml:"monitor"`
	Restic  ResticConfig  `yaml:"restic"`

	path string
}

// MonitorConfig configures file-change triggered snapshots.
type MonitorConfig struct {
	Enabled bool `yaml:"enabled"`
	// Debounce is how long the tree must stay quiet before a snapshot.
	Debounce Interval `yaml:"debounce"`
	// Threshold is the number of changed paths that triggers a snapshot
	// without waiting for the debounce.
	Threshold      int      `yaml:"threshold"`
	IgnorePatterns []string `yaml:"ignore_patterns,omitempty"`
}

// ResticConfig configures the restic subprocess.
type ResticConfig struct {
	Binary   string            `yaml:"binary,omitempty"`
	ExtraEnv map[string]string `yaml:"extra_env,omitempty"`
}

// DefaultMonitorIgnore are editor and lock files never worth a snapshot.
var DefaultMonitorIgnore = []string{"*.tmp", "*.swp", "*.lock", ".DS_Store", "__pycache__/"}

// DefaultConfig returns a configuration with every default applied.
func DefaultConfig() *Config {
	return &Config{
		Retention: engine.Retention{
			KeepLast:    10,
			KeepHourly:  24,
			KeepDaily:   7,
			KeepWeekly:  4,
			KeepMonthly: 12,
			KeepYearly:  5,
		},
		IgnoreFile: exclude.DefaultIgnoreFile,
		Monitor: MonitorConfig{
			Debounce:  Interval(30 * time.Second),
			Threshold: 50,
		},
	}
}

// Locate picks the config file: the flag value, then $STRATA_CONFIG, then
// ./strata.yaml.
func Locate(flag string) string {
	if flag != "" {
		return flag
	}
	if env := os.Getenv("STRATA_CONFIG"); env != "" {
		return env
	}
	return FileName
}

// Load reads and validates the config at path. Relative source paths are
// resolved against the config file's directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config %s not found\n\n  Create one with: strata init-config %s", path, path)
		}
		return nil, fmt.Errorf("reading %s: %w", filepath.Base(path), err)
	}
	return Parse(data, filepath.Dir(path), path)
}

// Parse decodes a document. baseDir anchors relative paths.
func Parse(data []byte, baseDir, path string) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", filepath.Base(path), err)
	}
	cfg.path = path
	if err := cfg.normalize(baseDir); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Path returns the file the config was loaded from.
func (c *Config) Path() string { return c.path }

func (c *Config) normalize(baseDir string) error {
	if c.Repository == "" {
		c.Repository = c.ResticRepo
	}
	c.ResticRepo = ""

	for i, p := range c.SourcePaths {
		abs, err := absPath(p, baseDir)
		if err != nil {
			return fmt.Errorf("source_paths[%d]: %w", i, err)
		}
		c.SourcePaths[i] = abs
	}
	// Local repositories are plain paths; remote ones carry a backend
	// prefix such as s3: or sftp:.
	if c.Repository != "" && !strings.Contains(c.Repository, ":") {
		abs, err := absPath(c.Repository, baseDir)
		if err != nil {
			return fmt.Errorf("repository: %w", err)
		}
		c.Repository = abs
	}
	if c.PasswordFile != "" {
		abs, err := absPath(c.PasswordFile, baseDir)
		if err != nil {
			return fmt.Errorf("password_file: %w", err)
		}
		c.PasswordFile = abs
	}
	if c.IgnoreFile == "" {
		c.IgnoreFile = exclude.DefaultIgnoreFile
	}
	if c.Monitor.IgnorePatterns == nil {
		c.Monitor.IgnorePatterns = append([]string(nil), DefaultMonitorIgnore...)
	}
	return nil
}

func absPath(p, baseDir string) (string, error) {
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("expanding %s: %w", p, err)
		}
		p = filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(baseDir, p)
	}
	return filepath.Abs(p)
}

// Validate reports every problem in the document at once.
func (c *Config) Validate() error {
	var result *multierror.Error
	add := func(format string, args ...any) {
		result = multierror.Append(result, fmt.Errorf(format, args...))
	}

	switch {
	case c.Name == "":
		add("name is required")
	case !nameRe.MatchString(c.Name):
		add("name %q must contain only lowercase letters, digits, '.', '_' and '-'", c.Name)
	}
	if len(c.SourcePaths) == 0 {
		add("source_paths must list at least one directory")
	}
	if c.Repository == "" {
		add("repository is required")
	}

	sources := 0
	for _, s := range []string{c.PasswordFile, c.KeychainAccount, c.PasswordRef} {
		if s != "" {
			sources++
		}
	}
	switch {
	case sources == 0:
		add("one of password_file, keychain_account or password_ref is required")
	case sources > 1:
		add("password_file, keychain_account and password_ref are mutually exclusive")
	}
	if c.PasswordRef != "" && !strings.Contains(c.PasswordRef, "://") {
		add("password_ref %q is missing a scheme (expected e.g. op://vault/item/field)", c.PasswordRef)
	}

	r := c.Retention
	keeps := []struct {
		name string
		n    int
	}{
		{"keep_last", r.KeepLast}, {"keep_hourly", r.KeepHourly}, {"keep_daily", r.KeepDaily},
		{"keep_weekly", r.KeepWeekly}, {"keep_monthly", r.KeepMonthly}, {"keep_yearly", r.KeepYearly},
	}
	for _, k := range keeps {
		if k.n < 0 {
			add("retention.%s must not be negative", k.name)
		}
	}
	if strings.ContainsAny(c.IgnoreFile, `/\`) {
		add("ignore_file must be a file name, not a path")
	}
	if c.Schedule < 0 {
		add("schedule must not be negative")
	}
	if c.Monitor.Debounce < 0 {
		add("monitor.debounce must not be negative")
	}
	if c.Monitor.Threshold < 1 {
		add("monitor.threshold must be at least 1")
	}
	if c.Monitor.Enabled && c.Monitor.Debounce == 0 {
		add("monitor.debounce is required when monitor is enabled")
	}

	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("invalid %s: %w", filepath.Base(c.pathOrDefault()), err)
	}
	return nil
}

func (c *Config) pathOrDefault() string {
	if c.path != "" {
		return c.path
	}
	return FileName
}

// ExcludeOptions returns the exclusion engine settings.
func (c *Config) ExcludeOptions() exclude.Options {
	return exclude.Options{
		IgnoreFile:   c.IgnoreFile,
		UseGitignore: c.UseGitignore,
		Excludes:     c.ExcludePatterns,
		Includes:     c.IncludePatterns,
	}
}
