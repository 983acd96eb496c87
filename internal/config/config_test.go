package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "strata.yaml")

	content := `
name: work
source_paths:
  - src
  - /var/data
restic_repo: s3:s3.amazonaws.com/bucket/strata
keychain_account: work
retention:
  keep_last: 3
  keep_hourly: 0
exclude_patterns:
  - "*.log"
include_patterns:
  - important.log
schedule: 2d
monitor:
  enabled: true
  debounce: 45s
restic:
  extra_env:
    AWS_PROFILE: backup
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Name != "work" {
		t.Errorf("Name = %q, want %q", cfg.Name, "work")
	}
	if want := filepath.Join(dir, "src"); cfg.SourcePaths[0] != want {
		t.Errorf("SourcePaths[0] = %q, want %q", cfg.SourcePaths[0], want)
	}
	if cfg.SourcePaths[1] != "/var/data" {
		t.Errorf("SourcePaths[1] = %q, want /var/data", cfg.SourcePaths[1])
	}
	if cfg.Repository != "s3:s3.amazonaws.com/bucket/strata" {
		t.Errorf("Repository = %q, want the restic_repo alias value", cfg.Repository)
	}
	if cfg.Retention.KeepLast != 3 || cfg.Retention.KeepHourly != 0 || cfg.Retention.KeepDaily != 7 {
		t.Errorf("Retention = %+v, want keep_last 3, keep_hourly 0, defaults elsewhere", cfg.Retention)
	}
	if cfg.Schedule.Duration() != 48*time.Hour {
		t.Errorf("Schedule = %v, want 48h", cfg.Schedule.Duration())
	}
	if cfg.Monitor.Debounce.Duration() != 45*time.Second {
		t.Errorf("Monitor.Debounce = %v, want 45s", cfg.Monitor.Debounce.Duration())
	}
	if cfg.Monitor.Threshold != 50 {
		t.Errorf("Monitor.Threshold = %d, want default 50", cfg.Monitor.Threshold)
	}
	if len(cfg.Monitor.IgnorePatterns) != len(DefaultMonitorIgnore) {
		t.Errorf("Monitor.IgnorePatterns = %v, want defaults", cfg.Monitor.IgnorePatterns)
	}
	if cfg.IgnoreFile != ".strataignore" {
		t.Errorf("IgnoreFile = %q, want .strataignore", cfg.IgnoreFile)
	}
	if cfg.Restic.ExtraEnv["AWS_PROFILE"] != "backup" {
		t.Errorf("Restic.ExtraEnv = %v", cfg.Restic.ExtraEnv)
	}
	opts := cfg.ExcludeOptions()
	if len(opts.Excludes) != 1 || len(opts.Includes) != 1 {
		t.Errorf("ExcludeOptions = %+v", opts)
	}
}

func TestLoadConfigLocalRepositoryIsAbsolute(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "strata.yaml")
	content := "name: a\nsource_paths: [src]\nrepository: repo\npassword_file: pass\n"
	os.WriteFile(configPath, []byte(content), 0644)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Repository != filepath.Join(dir, "repo") {
		t.Errorf("Repository = %q", cfg.Repository)
	}
	if cfg.PasswordFile != filepath.Join(dir, "pass") {
		t.Errorf("PasswordFile = %q", cfg.PasswordFile)
	}
}

func TestLoadConfigMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "strata.yaml"))
	if err == nil {
		t.Fatal("expected error for missing config")
	}
	if !strings.Contains(err.Error(), "strata init-config") {
		t.Errorf("error should suggest init-config: %v", err)
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	content := `
name: Bad Name
password_file: a
keychain_account: b
retention:
  keep_daily: -1
monitor:
  threshold: 0
`
	_, err := Parse([]byte(content), t.TempDir(), "strata.yaml")
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{
		"name \"Bad Name\"",
		"source_paths",
		"repository is required",
		"mutually exclusive",
		"retention.keep_daily",
		"monitor.threshold",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %q:\n%v", want, err)
		}
	}
}

func TestValidatePasswordSource(t *testing.T) {
	tests := []struct {
		name    string
		extra   string
		wantErr string
	}{
		{"none", "", "one of password_file"},
		{"ref without scheme", "password_ref: vault/item", "missing a scheme"},
		{"ref", "password_ref: op://vault/item/field", ""},
		{"keychain", "keychain_account: home", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			content := "name: a\nsource_paths: [/src]\nrepository: /repo\n" + tt.extra + "\n"
			_, err := Parse([]byte(content), "/", "strata.yaml")
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Parse: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseInterval(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"", 0, false},
		{"30s", 30 * time.Second, false},
		{"15m", 15 * time.Minute, false},
		{"1h", time.Hour, false},
		{"2d", 48 * time.Hour, false},
		{"1w", 7 * 24 * time.Hour, false},
		{"1h30m", 90 * time.Minute, false},
		{"90", 90 * time.Second, false},
		{"often", 0, true},
		{"d", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseInterval(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseInterval(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseInterval(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestIntervalString(t *testing.T) {
	if s := Interval(48 * time.Hour).String(); s != "2d" {
		t.Errorf("String() = %q, want 2d", s)
	}
	if s := Interval(14 * 24 * time.Hour).String(); s != "2w" {
		t.Errorf("String() = %q, want 2w", s)
	}
	if s := Interval(90 * time.Second).String(); s != "1m30s" {
		t.Errorf("String() = %q, want 1m30s", s)
	}
}

func TestWriteSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "strata.yaml")
	if err := WriteSample(path, false); err != nil {
		t.Fatalf("WriteSample: %v", err)
	}
	if err := WriteSample(path, false); err == nil {
		t.Error("second WriteSample without force should fail")
	}
	if err := WriteSample(path, true); err != nil {
		t.Errorf("WriteSample with force: %v", err)
	}

	// The sample must itself be a valid document.
	if _, err := Load(path); err != nil {
		t.Errorf("sample does not load: %v", err)
	}
}

func TestLocate(t *testing.T) {
	t.Setenv("STRATA_CONFIG", "")
	if got := Locate(""); got != FileName {
		t.Errorf("Locate() = %q, want %q", got, FileName)
	}
	t.Setenv("STRATA_CONFIG", "/etc/strata.yaml")
	if got := Locate(""); got != "/etc/strata.yaml" {
		t.Errorf("Locate() = %q, want env value", got)
	}
	if got := Locate("x.yaml"); got != "x.yaml" {
		t.Errorf("Locate(flag) = %q, want flag value", got)
	}
}
