// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package auth

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

// bcryptCost is the work factor for new hashes. Existing hashes verify at
// whatever cost they were written with.
const bcryptCost = 12

// commonPasswords is a small denylist of passwords that pass the character
// class rules but are still trivially guessable.
var commonPasswords = map[string]struct{}{
	"password1!": {},
	"password123!": {},
	"welcome1!":  {},
	"qwerty123!": {},
	"admin123!":  {},
	"radio123!":  {},
	"changeme1!": {},
}

// PolicyError reports which policy rules a candidate password failed. It
// wraps ErrWeakPassword so errors.Is works.
type PolicyError struct {
	Failures []string
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("%s: %s", ErrWeakPassword, strings.Join(e.Failures, "; "))
}

func (e *PolicyError) Unwrap() error {
	return ErrWeakPassword
}

// CheckPasswordPolicy validates a candidate password against the policy:
// minimum length plus at least one uppercase, lowercase, digit, and special
// character, and not on the common-password denylist. All failures are
// collected so the user can fix everything in one pass.
func CheckPasswordPolicy(password string, minLength int) error {
	var failures []string

	if len(password) < minLength {
		failures = append(failures, fmt.Sprintf("must be at least %d characters", minLength))
	}

	var hasUpper, hasLower, hasDigit, hasSpecial bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		default:
			hasSpecial = true
		}
	}
	if !hasUpper {
		failures = append(failures, "must contain an uppercase letter")
	}
	if !hasLower {
		failures = append(failures, "must contain a lowercase letter")
	}
	if !hasDigit {
		failures = append(failures, "must contain a digit")
	}
	if !hasSpecial {
		failures = append(failures, "must contain a special character")
	}

	if _, ok := commonPasswords[strings.ToLower(password)]; ok {
		failures = append(failures, "is too common")
	}

	if len(failures) > 0 {
		return &PolicyError{Failures: failures}
	}
	return nil
}

// HashPassword hashes a password with bcrypt at the standard cost.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword checks a password against a stored hash.
func VerifyPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// dummyHash is a valid bcrypt hash of random bytes, compared against when a
// username does not resolve. Keeps the unknown-user path doing the same
// bcrypt work as the known-user path.
var dummyHash = func() string {
	h, err := bcrypt.GenerateFromPassword([]byte("radiotrack-dummy-verify"), bcryptCost)
	if err != nil {
		panic(err)
	}
	return string(h)
}()

// VerifyDummy burns one bcrypt comparison. Always returns false.
func VerifyDummy(password string) bool {
	bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte(password))
	return false
}
