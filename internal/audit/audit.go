// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package audit provides the security event log with secret redaction.
//
// This log records authentication outcomes, lockouts, authorization denials,
// and backup activity. It is a separate stream from the inventory audit
// trail: inventory mutations are ledger rows in the database, security
// events are append-only lines here.
package audit

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
)

// =============================================================================
// CONSTANTS
// =============================================================================

// DefaultMaxFileSize is the default max file size before rotation (10MB).
const DefaultMaxFileSize int64 = 10 * 1024 * 1024

// Event types written to the security log.
const (
	EventLoginSuccess   = "LOGIN_SUCCESS"
	EventLoginFailure   = "LOGIN_FAILURE"
	EventLockout        = "LOCKOUT"
	EventMFAChallenge   = "MFA_CHALLENGE"
	EventMFAFailure     = "MFA_FAILURE"
	EventMFAEnrolled    = "MFA_ENROLLED"
	EventLogout         = "LOGOUT"
	EventSessionExpired = "SESSION_EXPIRED"
	EventAccessDenied   = "ACCESS_DENIED"
	EventPasswordChange = "PASSWORD_CHANGE"
	EventAccountChange  = "ACCOUNT_CHANGE"
	EventBootstrap      = "BOOTSTRAP"
	EventBackupCreated  = "BACKUP_CREATED"
	EventBackupCorrupt  = "BACKUP_CORRUPT"
	EventRestore        = "RESTORE"
)

// =============================================================================
// EVENT
// =============================================================================

// Event is a single security log entry.
type Event struct {
	Timestamp time.Time
	EventType string
	Username  string
	SessionID string
	Detail    string
	Success   bool
	Error     string
}

// logLine formats the event as one pipe-separated line.
func (e *Event) logLine() string {
	status := "SUCCESS"
	if !e.Success {
		if e.Error != "" {
			status = "ERROR: " + e.Error
		} else {
			status = "FAILURE"
		}
	}
	return fmt.Sprintf("%s | %s | %s | %s | %s | %s",
		e.Timestamp.UTC().Format("2006-01-02 15:04:05"),
		e.EventType,
		e.Username,
		e.SessionID,
		e.Detail,
		status,
	)
}

// =============================================================================
// REDACTION
// =============================================================================

// secretPatterns strips credentials that might leak into a detail or error
// string. Passwords never belong in the log even on a failure path.
var secretPatterns = []struct {
	pattern *regexp.Regexp
	replace string
}{
	{regexp.MustCompile(`(?i)(password|passwd|pwd)\s*[=:]\s*\S+`), "[PASSWORD_REDACTED]"},
	{regexp.MustCompile(`\$2[aby]\$\d{2}\$[./A-Za-z0-9]{53}`), "[HASH_REDACTED]"},
	{regexp.MustCompile(`(?i)(secret|otpauth)\s*[=:]\s*\S+`), "[SECRET_REDACTED]"},
	{regexp.MustCompile(`Bearer\s+[a-zA-Z0-9\-_.]+`), "Bearer [TOKEN_REDACTED]"},
}

// RedactSecrets applies the built-in redaction patterns to input.
func RedactSecrets(input string) string {
	result := input
	for _, sp := range secretPatterns {
		result = sp.pattern.ReplaceAllString(result, sp.replace)
	}
	return result
}

// =============================================================================
// LOGGER
// =============================================================================

// Logger writes security events to an append-only, size-rotated file.
// All methods are safe for concurrent use.
type Logger struct {
	path    string
	file    *os.File
	mu      sync.Mutex
	enabled bool
	maxSize int64
}

// NewLogger opens (creating if necessary) the security log at path.
func NewLogger(path string) (*Logger, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create security log directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open security log: %w", err)
	}

	return &Logger{
		path:    path,
		file:    file,
		enabled: true,
		maxSize: DefaultMaxFileSize,
	}, nil
}

// Disabled returns a logger that drops every event. Used when the security
// log is turned off in config, and in tests that do not assert on it.
func Disabled() *Logger {
	return &Logger{enabled: false}
}

// Log writes one event, redacting detail and error text first.
func (l *Logger) Log(e Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled || l.file == nil {
		return nil
	}

	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	e.Detail = redact(e.Detail)
	e.Error = redact(e.Error)

	if err := l.checkRotationLocked(); err != nil {
		return fmt.Errorf("security log rotation failed: %w", err)
	}

	if _, err := fmt.Fprintln(l.file, e.logLine()); err != nil {
		return fmt.Errorf("failed to write security log: %w", err)
	}
	// Sync so a crash right after an auth decision still leaves the event
	// on disk.
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync security log: %w", err)
	}
	return nil
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return RedactSecrets(s)
}

// =============================================================================
// CONVENIENCE METHODS
// =============================================================================

// LogAuth records an authentication outcome.
func (l *Logger) LogAuth(eventType, username, sessionID, detail string, success bool) {
	l.Log(Event{
		EventType: eventType,
		Username:  username,
		SessionID: sessionID,
		Detail:    detail,
		Success:   success,
	})
}

// LogDenied records an authorization denial.
func (l *Logger) LogDenied(username, sessionID, operation string) {
	l.Log(Event{
		EventType: EventAccessDenied,
		Username:  username,
		SessionID: sessionID,
		Detail:    "operation=" + operation,
		Success:   false,
	})
}

// LogError records a failed operation with its (redacted) error text.
func (l *Logger) LogError(eventType, username, detail string, err error) {
	e := Event{
		EventType: eventType,
		Username:  username,
		Detail:    detail,
		Success:   false,
	}
	if err != nil {
		e.Error = err.Error()
	}
	l.Log(e)
}

// =============================================================================
// FILE ROTATION
// =============================================================================

// SetMaxSize sets the rotation threshold in bytes.
func (l *Logger) SetMaxSize(size int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.maxSize = size
}

// Rotate renames the current file with a timestamp suffix and starts fresh.
func (l *Logger) Rotate() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rotateLocked()
}

func (l *Logger) rotateLocked() error {
	if l.file == nil {
		return nil
	}
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("failed to close security log for rotation: %w", err)
	}

	timestamp := time.Now().Format("20060102_150405")
	ext := filepath.Ext(l.path)
	base := strings.TrimSuffix(l.path, ext)
	rotated := fmt.Sprintf("%s_%s%s", base, timestamp, ext)

	if err := os.Rename(l.path, rotated); err != nil {
		l.file, _ = os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
		return fmt.Errorf("failed to rotate security log: %w", err)
	}

	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to reopen security log after rotation: %w", err)
	}
	l.file = file
	return nil
}

func (l *Logger) checkRotationLocked() error {
	if l.maxSize <= 0 {
		return nil
	}
	info, err := l.file.Stat()
	if err != nil {
		return nil
	}
	if info.Size() >= l.maxSize {
		return l.rotateLocked()
	}
	return nil
}

// =============================================================================
// CLEANUP
// =============================================================================

// Path returns the log file path.
func (l *Logger) Path() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.path
}

// Close closes the log file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
