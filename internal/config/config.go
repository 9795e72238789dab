// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for radiotrack.
//
// Configuration is TOML with built-in defaults, environment variable
// overrides (RADIOTRACK_*), and validation. Security-critical values are
// clamped to safe bounds rather than rejected, so a bad config file can
// never widen the lockout or session policy.
//
// Configuration file location (in order of precedence):
//   - path passed to Load
//   - $RADIOTRACK_CONFIG
//   - ~/.radiotrack/config.toml
//   - Built-in defaults
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete radiotrack configuration.
type Config struct {
	Version string `toml:"version"`

	// Database configuration
	Database DatabaseConfig `toml:"database"`

	// Security configuration (password, lockout, session, MFA policy)
	Security SecurityConfig `toml:"security"`

	// Backup configuration
	Backup BackupConfig `toml:"backup"`

	// Audit (security event log) configuration
	Audit AuditConfig `toml:"audit"`

	// Inventory closed sets
	Inventory InventoryConfig `toml:"inventory"`
}

// DatabaseConfig contains the SQLite store configuration.
type DatabaseConfig struct {
	// Path is the SQLite database file (empty = ~/.radiotrack/inventory.db)
	Path string `toml:"path"`
}

// SecurityConfig contains authentication and session policy.
type SecurityConfig struct {
	// MaxLoginAttempts is the number of consecutive credential failures
	// before lockout. Clamped to [3, 10].
	MaxLoginAttempts int `toml:"max_login_attempts"`
	// LockoutDurationMinutes is how long a locked account stays locked.
	// Clamped to [5, 60].
	LockoutDurationMinutes int `toml:"lockout_duration_minutes"`
	// SessionIdleTimeoutSecs is the inactivity timeout. Clamped to
	// [300, 1800].
	SessionIdleTimeoutSecs int `toml:"session_idle_timeout_secs"`
	// SessionAbsoluteHours is the hard session lifetime regardless of
	// activity. Clamped to [1, 12].
	SessionAbsoluteHours int `toml:"session_absolute_hours"`
	// PasswordMinLength is the minimum password length. Clamped to [8, 64].
	PasswordMinLength int `toml:"password_min_length"`
	// PasswordExpiryDays forces a password change after this many days.
	// 0 disables expiry.
	PasswordExpiryDays int `toml:"password_expiry_days"`
	// MFAPendingTimeoutSecs is how long a pending-MFA token stays usable.
	MFAPendingTimeoutSecs int `toml:"mfa_pending_timeout_secs"`
	// MFAMaxAttempts is the number of wrong codes one pending token
	// survives before it is invalidated.
	MFAMaxAttempts int `toml:"mfa_max_attempts"`
}

// BackupConfig contains snapshot storage and retention settings.
type BackupConfig struct {
	// Dir is the snapshot directory (empty = ~/.radiotrack/backups)
	Dir string `toml:"dir"`
	// Retention is the number of verified snapshots to keep.
	Retention int `toml:"retention"`
}

// AuditConfig contains security event log settings.
type AuditConfig struct {
	// Enabled turns the security event log on.
	Enabled bool `toml:"enabled"`
	// LogPath is the log file (empty = ~/.radiotrack/security.log)
	LogPath string `toml:"log_path"`
	// MaxSizeMB is the rotation threshold.
	MaxSizeMB int `toml:"max_size_mb"`
}

// InventoryConfig holds the closed category and location sets. Items may
// only reference values present here.
type InventoryConfig struct {
	Categories []string `toml:"categories"`
	Locations  []string `toml:"locations"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default categories and locations mirror the original deployment. Both
// sets are organization-configurable; these are the shipped values.
var (
	defaultCategories = []string{
		"Portable Radios",
		"Mobile Radios",
		"Base Station Radios",
		"Repeater Systems",
		"Antennas",
		"Batteries & Chargers",
		"Microphones",
		"Speakers",
		"Cables & Accessories",
		"Programming Equipment",
		"Test Equipment",
		"Other",
	}

	defaultLocations = []string{
		"Control Center",
		"Tower 1",
		"Tower 2",
		"Tower 3",
		"Tower 4",
		"Main Gate",
		"North Gate",
		"South Gate",
		"East Gate",
		"West Gate",
		"Perimeter Patrol",
		"Transport Vehicles",
		"Administrative Office",
		"Maintenance Shop",
		"Storage Warehouse",
		"Communications Room",
	}
)

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Version: "1",
		Database: DatabaseConfig{
			Path: "",
		},
		Security: SecurityConfig{
			MaxLoginAttempts:       5,
			LockoutDurationMinutes: 15,
			SessionIdleTimeoutSecs: 900,
			SessionAbsoluteHours:   2,
			PasswordMinLength:      8,
			PasswordExpiryDays:     60,
			MFAPendingTimeoutSecs:  300,
			MFAMaxAttempts:         3,
		},
		Backup: BackupConfig{
			Dir:       "",
			Retention: 10,
		},
		Audit: AuditConfig{
			Enabled:   true,
			LogPath:   "",
			MaxSizeMB: 10,
		},
		Inventory: InventoryConfig{
			Categories: append([]string(nil), defaultCategories...),
			Locations:  append([]string(nil), defaultLocations...),
		},
	}
}

// =============================================================================
// LOADING
// =============================================================================

// DefaultPath returns the default config file location.
func DefaultPath() string {
	if env := os.Getenv("RADIOTRACK_CONFIG"); env != "" {
		return env
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.toml"
	}
	return filepath.Join(home, ".radiotrack", "config.toml")
}

// DataDir returns the directory holding runtime state (database, backups,
// logs) for a config, defaulting to ~/.radiotrack.
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".radiotrack"
	}
	return filepath.Join(home, ".radiotrack")
}

// Load reads the configuration from path (or the default location when path
// is empty), applies environment overrides, validates, and returns it.
// A missing file is not an error; defaults are used.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}

	cfg := DefaultConfig()

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	applyEnvOverrides(cfg)
	cfg.Validate()

	return cfg, nil
}

// applyEnvOverrides applies RADIOTRACK_* environment variables on top of
// the file values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("RADIOTRACK_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("RADIOTRACK_BACKUP_DIR"); v != "" {
		cfg.Backup.Dir = v
	}
	if v := os.Getenv("RADIOTRACK_AUDIT_LOG"); v != "" {
		cfg.Audit.LogPath = v
	}
	if v := os.Getenv("RADIOTRACK_MAX_LOGIN_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Security.MaxLoginAttempts = n
		}
	}
	if v := os.Getenv("RADIOTRACK_LOCKOUT_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Security.LockoutDurationMinutes = n
		}
	}
	if v := os.Getenv("RADIOTRACK_SESSION_IDLE_SECS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Security.SessionIdleTimeoutSecs = n
		}
	}
	if v := os.Getenv("RADIOTRACK_BACKUP_RETENTION"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Backup.Retention = n
		}
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

// clampInt returns v clamped to [lo, hi].
func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Validate clamps security-critical values to safe bounds and fills empty
// paths and sets with defaults. It never fails: a hostile or damaged config
// file degrades to the shipped policy instead of weakening it.
func (c *Config) Validate() {
	c.Security.MaxLoginAttempts = clampInt(c.Security.MaxLoginAttempts, 3, 10)
	c.Security.LockoutDurationMinutes = clampInt(c.Security.LockoutDurationMinutes, 5, 60)
	c.Security.SessionIdleTimeoutSecs = clampInt(c.Security.SessionIdleTimeoutSecs, 300, 1800)
	c.Security.SessionAbsoluteHours = clampInt(c.Security.SessionAbsoluteHours, 1, 12)
	c.Security.PasswordMinLength = clampInt(c.Security.PasswordMinLength, 8, 64)
	if c.Security.PasswordExpiryDays < 0 {
		c.Security.PasswordExpiryDays = 0
	}
	c.Security.MFAPendingTimeoutSecs = clampInt(c.Security.MFAPendingTimeoutSecs, 60, 600)
	c.Security.MFAMaxAttempts = clampInt(c.Security.MFAMaxAttempts, 1, 5)

	// Retention 0 is allowed; the backup manager still refuses to prune the
	// newest verified snapshot.
	if c.Backup.Retention < 0 {
		c.Backup.Retention = 0
	}
	if c.Audit.MaxSizeMB < 1 {
		c.Audit.MaxSizeMB = 10
	}

	if c.Database.Path == "" {
		c.Database.Path = filepath.Join(DataDir(), "inventory.db")
	}
	if c.Backup.Dir == "" {
		c.Backup.Dir = filepath.Join(DataDir(), "backups")
	}
	if c.Audit.LogPath == "" {
		c.Audit.LogPath = filepath.Join(DataDir(), "security.log")
	}

	if len(c.Inventory.Categories) == 0 {
		c.Inventory.Categories = append([]string(nil), defaultCategories...)
	}
	if len(c.Inventory.Locations) == 0 {
		c.Inventory.Locations = append([]string(nil), defaultLocations...)
	}
}

// =============================================================================
// DERIVED DURATIONS
// =============================================================================

// LockoutDuration returns the lockout window as a duration.
func (c *Config) LockoutDuration() time.Duration {
	return time.Duration(c.Security.LockoutDurationMinutes) * time.Minute
}

// SessionIdleTimeout returns the inactivity timeout as a duration.
func (c *Config) SessionIdleTimeout() time.Duration {
	return time.Duration(c.Security.SessionIdleTimeoutSecs) * time.Second
}

// SessionAbsoluteLifetime returns the hard session lifetime as a duration.
func (c *Config) SessionAbsoluteLifetime() time.Duration {
	return time.Duration(c.Security.SessionAbsoluteHours) * time.Hour
}

// MFAPendingTimeout returns the pending-MFA token lifetime as a duration.
func (c *Config) MFAPendingTimeout() time.Duration {
	return time.Duration(c.Security.MFAPendingTimeoutSecs) * time.Second
}
