// SPDX-License-Identifier: MIT

// Package config loads the daemon's own ambient operational settings — log
// level, optional health endpoint address, stop-retry tuning, backup
// retention — from a YAML file with environment-variable overrides. These
// settings are separate from the per-service registry (internal/registry),
// which writes its own JSON document directly; the registry uses this
// package only for its backup helpers (BackupConfig, CleanOldBackups,
// DefaultKeepBackups).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.yaml.in/yaml/v3"
)

// DefaultConfigFileName is the filename the daemon looks for under its
// config directory (paths.DaemonConfigPath).
const DefaultConfigFileName = "daemon.yaml"

// DaemonConfig holds the daemon's operational knobs.
type DaemonConfig struct {
	// LogLevel selects the minimum slog level: "debug", "info", "warn", "error".
	LogLevel string `yaml:"log_level" koanf:"log_level"`

	// HealthAddr is the listen address for the optional /healthz and
	// /metrics endpoints (e.g. "127.0.0.1:9998"). Empty disables the endpoint.
	HealthAddr string `yaml:"health_addr" koanf:"health_addr"`

	// StopPollInterval is how long Stop waits after each interrupt signal
	// before checking whether a child process has exited.
	StopPollInterval time.Duration `yaml:"stop_poll_interval" koanf:"stop_poll_interval"`

	// StopMaxRounds is how many interrupt-then-wait rounds are attempted
	// before a child process is unconditionally killed.
	StopMaxRounds int `yaml:"stop_max_rounds" koanf:"stop_max_rounds"`

	// BackupDir is where timestamped registry snapshots are written before
	// each flush overwrites the configuration file. Empty disables backups.
	BackupDir string `yaml:"backup_dir" koanf:"backup_dir"`

	// KeepBackups caps how many snapshots are retained; oldest are pruned first.
	KeepBackups int `yaml:"keep_backups" koanf:"keep_backups"`
}

// DefaultDaemonConfig returns the settings used when no file and no
// environment overrides are present.
func DefaultDaemonConfig() *DaemonConfig {
	return &DaemonConfig{
		LogLevel:         "info",
		HealthAddr:       "",
		StopPollInterval: 30 * time.Second,
		StopMaxRounds:    5,
		BackupDir:        "",
		KeepBackups:      DefaultKeepBackups,
	}
}

// Validate checks the configuration for invalid values.
func (c *DaemonConfig) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be one of debug, info, warn, error (got %q)", c.LogLevel)
	}
	if c.StopPollInterval <= 0 {
		return fmt.Errorf("stop_poll_interval must be positive")
	}
	if c.StopMaxRounds <= 0 {
		return fmt.Errorf("stop_max_rounds must be positive")
	}
	if c.KeepBackups < 0 {
		return fmt.Errorf("keep_backups must not be negative")
	}
	return nil
}

// LoadFile reads and parses a YAML daemon configuration file, filling any
// field the file omits with defaults before validating.
func LoadFile(path string) (*DaemonConfig, error) {
	// #nosec G304 -- path is an operator-controlled configuration location
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read daemon config: %w", err)
	}

	cfg := DefaultDaemonConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse daemon config YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid daemon config: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration to a YAML file, atomically: it writes to a
// temp file in the same directory, syncs, then renames over the target path
// so a crash mid-write never leaves a truncated file.
func (c *DaemonConfig) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal daemon config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".daemon.*.yaml")
	if err != nil {
		return fmt.Errorf("create temp config file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write temp config file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp config file: %w", err)
	}
	// #nosec G302 -- daemon config is per-user, owner-readable is sufficient
	if err := tmp.Chmod(0o640); err != nil {
		return fmt.Errorf("set temp config file permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp config file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp config file into place: %w", err)
	}

	success = true
	return nil
}
