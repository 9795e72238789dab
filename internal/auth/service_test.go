// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package auth

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/radiotrack/internal/audit"
	"github.com/jeranaias/radiotrack/internal/store"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	sessions := NewSessionManager(testPolicy())
	svc := NewService(db, sessions, audit.Disabled(), Policy{
		MaxLoginAttempts:   5,
		LockoutDuration:    15 * time.Minute,
		PasswordMinLength:  8,
		PasswordExpiryDays: 60,
	})
	require.NoError(t, svc.Bootstrap(context.Background()))
	return svc
}

// completeBootstrap logs in as the bootstrap supervisor and clears the
// forced password change. Returns the live session and new password.
func completeBootstrap(t *testing.T, svc *Service) (*Session, string) {
	t.Helper()
	ctx := context.Background()

	res, err := svc.Authenticate(ctx, BootstrapUsername, BootstrapPassword)
	require.NoError(t, err)
	require.True(t, res.MustChangePassword)
	require.NotNil(t, res.Session)

	const newPass = "Sup3rvisor!pw"
	require.NoError(t, svc.ChangePassword(ctx, res.Session.Token, BootstrapPassword, newPass))
	return res.Session, newPass
}

func TestBootstrapCreatesSupervisorOnce(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	// Second bootstrap is a no-op.
	require.NoError(t, svc.Bootstrap(ctx))

	emps, err := svc.ListEmployees(ctx)
	require.NoError(t, err)
	require.Len(t, emps, 1)
	require.Equal(t, BootstrapUsername, emps[0].Username)
	require.Equal(t, store.RoleSupervisor, emps[0].Role)
	require.True(t, emps[0].MustChangePassword)
}

func TestAuthenticateUnknownUser(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.Authenticate(context.Background(), "ghost", "whatever")
	require.ErrorIs(t, err, ErrAuthFailed)
}

func TestAuthenticateWrongPassword(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.Authenticate(context.Background(), BootstrapUsername, "wrong")
	require.ErrorIs(t, err, ErrAuthFailed)
}

func TestLockoutAfterRepeatedFailures(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := svc.Authenticate(ctx, BootstrapUsername, "wrong")
		require.ErrorIs(t, err, ErrAuthFailed)
	}

	// Even the correct password is refused while locked.
	_, err := svc.Authenticate(ctx, BootstrapUsername, BootstrapPassword)
	require.ErrorIs(t, err, ErrLocked)
}

func TestLockoutRejectsLiveSessions(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	completeBootstrap(t, svc)

	_, err := svc.CreateEmployee(ctx, "jsmith", "Initial!pw1", "Jane", "Smith", store.RoleEmployee)
	require.NoError(t, err)
	res, err := svc.Authenticate(ctx, "jsmith", "Initial!pw1")
	require.NoError(t, err)
	require.NoError(t, svc.ChangePassword(ctx, res.Session.Token, "Initial!pw1", "Fresh1!pass"))

	_, err = svc.Validate(ctx, res.Session.Token)
	require.NoError(t, err)

	// Lock the account from outside while the session is live.
	for i := 0; i < 5; i++ {
		_, err := svc.Authenticate(ctx, "jsmith", "wrong")
		require.ErrorIs(t, err, ErrAuthFailed)
	}

	_, err = svc.Validate(ctx, res.Session.Token)
	require.ErrorIs(t, err, ErrSessionExpired)
}

func TestLockoutExpires(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		svc.Authenticate(ctx, BootstrapUsername, "wrong")
	}

	// Jump past the lockout window.
	svc.now = func() time.Time { return time.Now().Add(16 * time.Minute) }

	res, err := svc.Authenticate(ctx, BootstrapUsername, BootstrapPassword)
	require.NoError(t, err)
	require.NotNil(t, res.Session)
}

func TestSuccessResetsFailureCounter(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		svc.Authenticate(ctx, BootstrapUsername, "wrong")
	}
	_, err := svc.Authenticate(ctx, BootstrapUsername, BootstrapPassword)
	require.NoError(t, err)

	// Counter restarted: four more failures do not lock.
	for i := 0; i < 4; i++ {
		_, err := svc.Authenticate(ctx, BootstrapUsername, "wrong")
		require.ErrorIs(t, err, ErrAuthFailed)
	}
}

func TestValidateBlocksUntilPasswordChanged(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	res, err := svc.Authenticate(ctx, BootstrapUsername, BootstrapPassword)
	require.NoError(t, err)

	_, err = svc.Validate(ctx, res.Session.Token)
	require.ErrorIs(t, err, ErrPasswordChangeRequired)

	require.NoError(t, svc.ChangePassword(ctx, res.Session.Token, BootstrapPassword, "Sup3rvisor!pw"))

	_, err = svc.Validate(ctx, res.Session.Token)
	require.NoError(t, err)
}

func TestChangePasswordPolicy(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	sess, pass := completeBootstrap(t, svc)

	err := svc.ChangePassword(ctx, sess.Token, pass, "weak")
	require.ErrorIs(t, err, ErrWeakPassword)

	// Wrong current password.
	err = svc.ChangePassword(ctx, sess.Token, "nope", "An0ther!pw")
	require.ErrorIs(t, err, ErrAuthFailed)

	// Reusing the current password is rejected.
	err = svc.ChangePassword(ctx, sess.Token, pass, pass)
	require.ErrorIs(t, err, ErrWeakPassword)
}

func TestChangePasswordRevokesOtherSessions(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	sess, pass := completeBootstrap(t, svc)

	res2, err := svc.Authenticate(ctx, BootstrapUsername, pass)
	require.NoError(t, err)

	require.NoError(t, svc.ChangePassword(ctx, sess.Token, pass, "Y3t-another!pw"))

	_, err = svc.Validate(ctx, sess.Token)
	require.NoError(t, err, "changing session must survive")
	_, err = svc.Validate(ctx, res2.Session.Token)
	require.ErrorIs(t, err, ErrSessionExpired)
}

func TestLogoutIdempotent(t *testing.T) {
	svc := newTestService(t)
	sess, _ := completeBootstrap(t, svc)

	svc.Logout(sess.Token)
	svc.Logout(sess.Token)

	_, err := svc.Validate(context.Background(), sess.Token)
	require.ErrorIs(t, err, ErrSessionExpired)
}

func TestMFAEnrollAndLogin(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	sess, pass := completeBootstrap(t, svc)

	secret, url, err := svc.EnrollMFA(ctx, sess.Token)
	require.NoError(t, err)
	require.NotEmpty(t, secret)
	require.Contains(t, url, "otpauth://")

	// Confirm with a live code.
	code, err := totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)
	require.NoError(t, svc.ConfirmMFA(ctx, sess.Token, code))

	// Next login requires the second factor.
	res, err := svc.Authenticate(ctx, BootstrapUsername, pass)
	require.NoError(t, err)
	require.True(t, res.MFARequired)
	require.Nil(t, res.Session)
	require.NotEmpty(t, res.PendingToken)

	// The pending token is not a session; it buys no operations.
	_, err = svc.Validate(ctx, res.PendingToken)
	require.ErrorIs(t, err, ErrMFARequired)

	// Wrong code charges an attempt.
	_, err = svc.CompleteMFA(ctx, res.PendingToken, "000000")
	require.ErrorIs(t, err, ErrMFAFailed)

	// A code from the next step completes the login.
	code, err = totp.GenerateCode(secret, time.Now().Add(30*time.Second))
	require.NoError(t, err)
	svc.now = func() time.Time { return time.Now().Add(30 * time.Second) }
	done, err := svc.CompleteMFA(ctx, res.PendingToken, code)
	require.NoError(t, err)
	require.NotNil(t, done.Session)

	_, err = svc.Validate(ctx, done.Session.Token)
	require.NoError(t, err)
}

func TestMFAPendingAttemptsExhausted(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	sess, pass := completeBootstrap(t, svc)

	secret, _, err := svc.EnrollMFA(ctx, sess.Token)
	require.NoError(t, err)
	code, _ := totp.GenerateCode(secret, time.Now())
	require.NoError(t, svc.ConfirmMFA(ctx, sess.Token, code))

	res, err := svc.Authenticate(ctx, BootstrapUsername, pass)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err = svc.CompleteMFA(ctx, res.PendingToken, "000000")
		require.ErrorIs(t, err, ErrMFAFailed)
	}
	// Token burned; even a valid code is too late.
	good, _ := totp.GenerateCode(secret, time.Now())
	_, err = svc.CompleteMFA(ctx, res.PendingToken, good)
	require.Error(t, err)
}

func TestOTPFailuresTriggerLockout(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	sess, pass := completeBootstrap(t, svc)

	secret, _, err := svc.EnrollMFA(ctx, sess.Token)
	require.NoError(t, err)
	code, _ := totp.GenerateCode(secret, time.Now())
	require.NoError(t, svc.ConfirmMFA(ctx, sess.Token, code))

	// Wrong codes across fresh pending tokens charge one shared counter;
	// re-authenticating with the password buys no extra guesses.
	for i := 0; i < 5; i++ {
		res, err := svc.Authenticate(ctx, BootstrapUsername, pass)
		require.NoError(t, err)
		require.True(t, res.MFARequired)
		_, err = svc.CompleteMFA(ctx, res.PendingToken, "000000")
		require.ErrorIs(t, err, ErrMFAFailed)
	}

	_, err = svc.Authenticate(ctx, BootstrapUsername, pass)
	require.ErrorIs(t, err, ErrLocked)
}

func TestCompleteMFARejectedWhileLocked(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	sess, pass := completeBootstrap(t, svc)

	secret, _, err := svc.EnrollMFA(ctx, sess.Token)
	require.NoError(t, err)
	code, _ := totp.GenerateCode(secret, time.Now())
	require.NoError(t, svc.ConfirmMFA(ctx, sess.Token, code))

	res, err := svc.Authenticate(ctx, BootstrapUsername, pass)
	require.NoError(t, err)

	// Lock the account while the pending login is open.
	for i := 0; i < 5; i++ {
		r2, err := svc.Authenticate(ctx, BootstrapUsername, pass)
		require.NoError(t, err)
		_, err = svc.CompleteMFA(ctx, r2.PendingToken, "000000")
		require.ErrorIs(t, err, ErrMFAFailed)
	}

	// Even the right code is refused until the lockout elapses.
	good, _ := totp.GenerateCode(secret, time.Now())
	_, err = svc.CompleteMFA(ctx, res.PendingToken, good)
	require.ErrorIs(t, err, ErrLocked)
}

func TestDisabledAccountCannotLogin(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	sess, _ := completeBootstrap(t, svc)

	emp, err := svc.CreateEmployee(ctx, "jsmith", "Initial!pw1", "Jane", "Smith", store.RoleEmployee)
	require.NoError(t, err)

	require.NoError(t, svc.SetActive(ctx, emp.ID, false))

	_, err = svc.Authenticate(ctx, "jsmith", "Initial!pw1")
	require.ErrorIs(t, err, ErrAuthFailed)

	_ = sess
}

func TestDisablingAccountRevokesSessions(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	completeBootstrap(t, svc)

	emp, err := svc.CreateEmployee(ctx, "jsmith", "Initial!pw1", "Jane", "Smith", store.RoleEmployee)
	require.NoError(t, err)

	res, err := svc.Authenticate(ctx, "jsmith", "Initial!pw1")
	require.NoError(t, err)
	require.NoError(t, svc.ChangePassword(ctx, res.Session.Token, "Initial!pw1", "Fresh1!pass"))

	require.NoError(t, svc.SetActive(ctx, emp.ID, false))

	_, err = svc.Validate(ctx, res.Session.Token)
	require.ErrorIs(t, err, ErrSessionExpired)
}

func TestRevokeSessionsForceEndsAll(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	completeBootstrap(t, svc)

	emp, err := svc.CreateEmployee(ctx, "jsmith", "Initial!pw1", "Jane", "Smith", store.RoleEmployee)
	require.NoError(t, err)
	res, err := svc.Authenticate(ctx, "jsmith", "Initial!pw1")
	require.NoError(t, err)
	require.NoError(t, svc.ChangePassword(ctx, res.Session.Token, "Initial!pw1", "Fresh1!pass"))

	n := svc.RevokeSessions(emp.ID, emp.Username)
	require.Equal(t, 1, n)

	_, err = svc.Validate(ctx, res.Session.Token)
	require.ErrorIs(t, err, ErrSessionExpired)

	// The account itself stays usable.
	res, err = svc.Authenticate(ctx, "jsmith", "Fresh1!pass")
	require.NoError(t, err)
	require.NotNil(t, res.Session)
}

func TestCreateEmployeeDuplicateUsername(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	completeBootstrap(t, svc)

	_, err := svc.CreateEmployee(ctx, "jsmith", "Initial!pw1", "", "", store.RoleEmployee)
	require.NoError(t, err)

	_, err = svc.CreateEmployee(ctx, "JSMITH", "Initial!pw1", "", "", store.RoleEmployee)
	require.ErrorIs(t, err, store.ErrUsernameTaken)
}

func TestSupervisorUnlock(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	completeBootstrap(t, svc)

	emp, err := svc.CreateEmployee(ctx, "jsmith", "Initial!pw1", "", "", store.RoleEmployee)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		svc.Authenticate(ctx, "jsmith", "wrong")
	}
	_, err = svc.Authenticate(ctx, "jsmith", "Initial!pw1")
	require.ErrorIs(t, err, ErrLocked)

	require.NoError(t, svc.Unlock(ctx, emp.ID))

	res, err := svc.Authenticate(ctx, "jsmith", "Initial!pw1")
	require.NoError(t, err)
	require.NotNil(t, res.Session)
}

func TestValidateLogsSessionExpiry(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logPath := filepath.Join(t.TempDir(), "security.log")
	logger, err := audit.NewLogger(logPath)
	require.NoError(t, err)
	t.Cleanup(func() { logger.Close() })

	svc := NewService(db, NewSessionManager(testPolicy()), logger, Policy{
		MaxLoginAttempts:  5,
		LockoutDuration:   15 * time.Minute,
		PasswordMinLength: 8,
	})
	ctx := context.Background()
	require.NoError(t, svc.Bootstrap(ctx))
	completeBootstrap(t, svc)

	_, err = svc.CreateEmployee(ctx, "jsmith", "Initial!pw1", "Jane", "Smith", store.RoleEmployee)
	require.NoError(t, err)
	res, err := svc.Authenticate(ctx, "jsmith", "Initial!pw1")
	require.NoError(t, err)
	require.NoError(t, svc.ChangePassword(ctx, res.Session.Token, "Initial!pw1", "Fresh1!pass"))

	for i := 0; i < 5; i++ {
		svc.Authenticate(ctx, "jsmith", "wrong")
	}
	_, err = svc.Validate(ctx, res.Session.Token)
	require.ErrorIs(t, err, ErrSessionExpired)

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	require.Contains(t, string(data), audit.EventSessionExpired)
}

func TestPasswordExpiryForcesChange(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	sess, pass := completeBootstrap(t, svc)
	_ = sess

	// Age the password past expiry.
	svc.now = func() time.Time { return time.Now().Add(61 * 24 * time.Hour) }

	res, err := svc.Authenticate(ctx, BootstrapUsername, pass)
	if errors.Is(err, ErrLocked) {
		t.Fatal("unexpected lockout")
	}
	require.NoError(t, err)
	require.True(t, res.MustChangePassword)
}
