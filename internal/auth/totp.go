// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package auth

import (
	"fmt"
	"sync"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// totpIssuer appears in authenticator apps next to the account name.
const totpIssuer = "RadioTrack"

// GenerateTOTPSecret creates a new TOTP enrollment for an account and
// returns the shared secret plus the otpauth:// provisioning URL.
func GenerateTOTPSecret(username string) (secret, url string, err error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      totpIssuer,
		AccountName: username,
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to generate totp secret: %w", err)
	}
	return key.Secret(), key.URL(), nil
}

// TOTPVerifier validates codes against a secret with one step of clock skew
// in either direction, and rejects replay of a code within its window.
type TOTPVerifier struct {
	mu sync.Mutex
	// lastUsed maps employee ID to the last accepted code. A TOTP code is
	// single-use: accepting the same code twice inside its window would let
	// a shoulder-surfer ride the first login.
	lastUsed map[int64]acceptedCode
}

type acceptedCode struct {
	code string
	at   time.Time
}

// NewTOTPVerifier returns an empty verifier.
func NewTOTPVerifier() *TOTPVerifier {
	return &TOTPVerifier{lastUsed: make(map[int64]acceptedCode)}
}

// Verify checks code against secret for the given account at time now.
func (v *TOTPVerifier) Verify(employeeID int64, secret, code string, now time.Time) bool {
	ok, err := totp.ValidateCustom(code, secret, now, totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil || !ok {
		return false
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	// Replay check: same code from the same account inside the validity
	// window (period plus skew on both sides) fails.
	if last, seen := v.lastUsed[employeeID]; seen {
		if last.code == code && now.Sub(last.at) < 90*time.Second {
			return false
		}
	}
	v.lastUsed[employeeID] = acceptedCode{code: code, at: now}
	return true
}

// Forget drops replay state for an account, e.g. after re-enrollment.
func (v *TOTPVerifier) Forget(employeeID int64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.lastUsed, employeeID)
}
