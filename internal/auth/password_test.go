// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package auth

import (
	"errors"
	"strings"
	"testing"
)

func TestCheckPasswordPolicy(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantOK   bool
	}{
		{"valid", "Str0ng!pass", true},
		{"valid minimal", "Aa1!bcde", true},
		{"too short", "Aa1!bcd", false},
		{"no uppercase", "weak1!pass", false},
		{"no lowercase", "WEAK1!PASS", false},
		{"no digit", "Weakling!pass", false},
		{"no special", "Weak1pass", false},
		{"common", "Password1!", false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckPasswordPolicy(tt.password, 8)
			if tt.wantOK && err != nil {
				t.Errorf("CheckPasswordPolicy(%q) = %v, want nil", tt.password, err)
			}
			if !tt.wantOK {
				if !errors.Is(err, ErrWeakPassword) {
					t.Errorf("CheckPasswordPolicy(%q) = %v, want ErrWeakPassword", tt.password, err)
				}
			}
		})
	}
}

func TestPolicyErrorCollectsAllFailures(t *testing.T) {
	err := CheckPasswordPolicy("abc", 8)
	var pe *PolicyError
	if !errors.As(err, &pe) {
		t.Fatalf("expected PolicyError, got %T", err)
	}
	// Too short, no uppercase, no digit, no special.
	if len(pe.Failures) != 4 {
		t.Errorf("failures = %v, want 4 entries", pe.Failures)
	}
	if !strings.Contains(err.Error(), "at least 8 characters") {
		t.Errorf("message missing length rule: %s", err.Error())
	}
}

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := HashPassword("Str0ng!pass")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	if hash == "Str0ng!pass" {
		t.Fatal("hash equals plaintext")
	}
	if !VerifyPassword(hash, "Str0ng!pass") {
		t.Error("correct password rejected")
	}
	if VerifyPassword(hash, "Wr0ng!pass") {
		t.Error("wrong password accepted")
	}
}

func TestVerifyDummyAlwaysFalse(t *testing.T) {
	if VerifyDummy("anything") {
		t.Error("VerifyDummy returned true")
	}
	if VerifyDummy("radiotrack-dummy-verify") {
		t.Error("VerifyDummy returned true for its own seed")
	}
}
