// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package auth implements credential verification, password policy, TOTP
// multi-factor checks, and session lifecycle for radiotrack.
package auth

import "errors"

// Sentinel errors returned by the auth service. Callers branch with
// errors.Is; the CLI maps them to user-facing messages.
var (
	// ErrAuthFailed is the single outward-facing credential error. Unknown
	// username, wrong password, and disabled account all collapse into it
	// so a caller cannot probe which accounts exist.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrLocked is returned while an account is inside its lockout window.
	ErrLocked = errors.New("account temporarily locked")

	// ErrMFARequired is returned by Validate for a pending token: the
	// password checked out but the TOTP challenge is still outstanding, so
	// the token buys no operations yet.
	ErrMFARequired = errors.New("multi-factor code required")

	// ErrMFAFailed is returned for a wrong or replayed TOTP code.
	ErrMFAFailed = errors.New("multi-factor verification failed")

	// ErrSessionExpired covers idle timeout, absolute timeout, revocation,
	// and unknown tokens alike.
	ErrSessionExpired = errors.New("session expired")

	// ErrWeakPassword is returned when a candidate password fails policy.
	ErrWeakPassword = errors.New("password does not meet policy")

	// ErrPasswordChangeRequired is returned by Validate when the account
	// must change its password before doing anything else.
	ErrPasswordChangeRequired = errors.New("password change required")

	// ErrPasswordExpired is returned when the stored password has aged out.
	ErrPasswordExpired = errors.New("password expired")
)
