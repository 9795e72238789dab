// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package audit

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestLogger(t *testing.T) (*Logger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "security.log")
	l, err := NewLogger(path)
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l, path
}

func TestLogWritesLine(t *testing.T) {
	l, path := newTestLogger(t)

	l.LogAuth(EventLoginSuccess, "jsmith", "sess_abc", "", true)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	line := string(data)
	if !strings.Contains(line, EventLoginSuccess) {
		t.Errorf("missing event type: %q", line)
	}
	if !strings.Contains(line, "jsmith") || !strings.Contains(line, "SUCCESS") {
		t.Errorf("missing fields: %q", line)
	}
}

func TestLogRedactsSecrets(t *testing.T) {
	l, path := newTestLogger(t)

	l.Log(Event{
		EventType: EventLoginFailure,
		Username:  "jsmith",
		Detail:    "password=Hunter2! rejected",
		Success:   false,
	})

	data, _ := os.ReadFile(path)
	if strings.Contains(string(data), "Hunter2") {
		t.Error("password leaked into security log")
	}
	if !strings.Contains(string(data), "[PASSWORD_REDACTED]") {
		t.Errorf("expected redaction marker: %q", string(data))
	}
}

func TestRedactSecrets(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		leak  string
		marker string
	}{
		{"password", "pwd: topsecret", "topsecret", "[PASSWORD_REDACTED]"},
		{"bcrypt hash", "$2a$12$R9h/cIPz0gi.URNNX3kh2OPST9/PgBkqquzi.Ss7KIUgO2t0jWMUW", "jWMUW", "[HASH_REDACTED]"},
		{"totp secret", "secret=JBSWY3DPEHPK3PXP", "JBSWY3DP", "[SECRET_REDACTED]"},
		{"bearer", "Bearer abc.def.ghi", "abc.def", "[TOKEN_REDACTED]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RedactSecrets(tt.in)
			if strings.Contains(got, tt.leak) {
				t.Errorf("RedactSecrets(%q) = %q, still contains secret", tt.in, got)
			}
			if !strings.Contains(got, tt.marker) {
				t.Errorf("RedactSecrets(%q) = %q, want marker %s", tt.in, got, tt.marker)
			}
		})
	}
}

func TestRotation(t *testing.T) {
	l, path := newTestLogger(t)
	l.SetMaxSize(64)

	for i := 0; i < 10; i++ {
		l.LogAuth(EventLoginFailure, "jsmith", "", "bad credentials", false)
	}

	dir := filepath.Dir(path)
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) < 2 {
		t.Errorf("expected rotated files, found %d entries", len(entries))
	}

	// Current file still writable after rotation.
	if err := l.Log(Event{EventType: EventLogout, Username: "jsmith", Success: true}); err != nil {
		t.Errorf("Log() after rotation error = %v", err)
	}
}

func TestDisabledLoggerDropsEvents(t *testing.T) {
	l := Disabled()
	if err := l.Log(Event{EventType: EventLoginSuccess, Username: "x", Success: true}); err != nil {
		t.Errorf("Log() on disabled logger error = %v", err)
	}
}
