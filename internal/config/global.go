package config

import (
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// GlobalConfig holds settings shared by every repository, read from
// ~/.strata/config.yaml.
type GlobalConfig struct {
	Debug        DebugConfig `yaml:"debug"`
	ResticBinary string      `yaml:"restic_binary"`
}

// DebugConfig controls the debug log files.
type DebugConfig struct {
	RetentionDays int `yaml:"retention_days"`
}

// DefaultGlobalConfig returns the default global configuration.
func DefaultGlobalConfig() *GlobalConfig {
	return &GlobalConfig{
		Debug: DebugConfig{
			RetentionDays: 14,
		},
	}
}

// LoadGlobal reads config.yaml from GlobalConfigDir and applies
// environment overrides.
func LoadGlobal() (*GlobalConfig, error) {
	cfg := DefaultGlobalConfig()

	configPath := filepath.Join(GlobalConfigDir(), "config.yaml")
	if data, err := os.ReadFile(configPath); err == nil {
		_ = yaml.Unmarshal(data, cfg) // Ignore unmarshal errors, use defaults
	}

	if bin := os.Getenv("STRATA_RESTIC_BINARY"); bin != "" {
		cfg.ResticBinary = bin
	}
	if days := os.Getenv("STRATA_DEBUG_RETENTION_DAYS"); days != "" {
		if n, err := strconv.Atoi(days); err == nil {
			cfg.Debug.RetentionDays = n
		}
	}

	return cfg, nil
}

// GlobalConfigDir returns $STRATA_HOME, defaulting to ~/.strata.
func GlobalConfigDir() string {
	if dir := os.Getenv("STRATA_HOME"); dir != "" {
		return dir
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".strata")
	}
	return filepath.Join(homeDir, ".strata")
}

// ResticBinary picks the restic executable: the repository's setting, then
// the global one, then "restic" on PATH.
func ResticBinary(cfg *Config, global *GlobalConfig) string {
	if cfg != nil && cfg.Restic.Binary != "" {
		return cfg.Restic.Binary
	}
	if global != nil && global.ResticBinary != "" {
		return global.ResticBinary
	}
	return "restic"
}
