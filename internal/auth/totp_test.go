// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
)

func TestGenerateTOTPSecret(t *testing.T) {
	secret, url, err := GenerateTOTPSecret("jsmith")
	if err != nil {
		t.Fatalf("GenerateTOTPSecret() error = %v", err)
	}
	if secret == "" {
		t.Fatal("empty secret")
	}
	if !strings.Contains(url, "RadioTrack") || !strings.Contains(url, "jsmith") {
		t.Errorf("provisioning URL missing issuer or account: %s", url)
	}
}

func TestTOTPVerify(t *testing.T) {
	secret, _, err := GenerateTOTPSecret("jsmith")
	if err != nil {
		t.Fatalf("GenerateTOTPSecret() error = %v", err)
	}

	v := NewTOTPVerifier()
	now := time.Date(2025, 6, 1, 9, 0, 15, 0, time.UTC)

	code, err := totp.GenerateCode(secret, now)
	if err != nil {
		t.Fatalf("GenerateCode() error = %v", err)
	}

	if !v.Verify(1, secret, code, now) {
		t.Fatal("valid code rejected")
	}
	if v.Verify(1, secret, "000000", now) {
		t.Error("garbage code accepted")
	}
}

func TestTOTPSkew(t *testing.T) {
	secret, _, _ := GenerateTOTPSecret("jsmith")
	v := NewTOTPVerifier()
	now := time.Date(2025, 6, 1, 9, 0, 15, 0, time.UTC)

	// A code from the previous step still verifies (one step of skew).
	prev, _ := totp.GenerateCode(secret, now.Add(-30*time.Second))
	if !v.Verify(1, secret, prev, now) {
		t.Error("previous-step code rejected")
	}

	// Two steps back does not.
	old, _ := totp.GenerateCode(secret, now.Add(-90*time.Second))
	if v.Verify(2, secret, old, now) {
		t.Error("stale code accepted")
	}
}

func TestTOTPReplayRejected(t *testing.T) {
	secret, _, _ := GenerateTOTPSecret("jsmith")
	v := NewTOTPVerifier()
	now := time.Date(2025, 6, 1, 9, 0, 15, 0, time.UTC)
	code, _ := totp.GenerateCode(secret, now)

	if !v.Verify(1, secret, code, now) {
		t.Fatal("first use rejected")
	}
	if v.Verify(1, secret, code, now.Add(5*time.Second)) {
		t.Error("replayed code accepted")
	}
	// A different account may use its own identical-looking window.
	if !v.Verify(2, secret, code, now.Add(5*time.Second)) {
		t.Error("replay guard leaked across accounts")
	}
}

func TestTOTPForgetClearsReplayState(t *testing.T) {
	secret, _, _ := GenerateTOTPSecret("jsmith")
	v := NewTOTPVerifier()
	now := time.Date(2025, 6, 1, 9, 0, 15, 0, time.UTC)
	code, _ := totp.GenerateCode(secret, now)

	v.Verify(1, secret, code, now)
	v.Forget(1)
	if !v.Verify(1, secret, code, now.Add(time.Second)) {
		t.Error("code rejected after Forget")
	}
}
