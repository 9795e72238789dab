// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jeranaias/radiotrack/internal/audit"
	"github.com/jeranaias/radiotrack/internal/store"
)

// Bootstrap credentials for a fresh store. The account is created with
// must_change_password set, so the default password dies on first login.
const (
	BootstrapUsername = "admin"
	BootstrapPassword = "Admin@123!"
)

// Policy carries the credential policy the service enforces.
type Policy struct {
	MaxLoginAttempts   int
	LockoutDuration    time.Duration
	PasswordMinLength  int
	PasswordExpiryDays int
}

// Service is the authentication front door. Every credential decision in
// the system goes through it.
type Service struct {
	db       *store.DB
	sessions *SessionManager
	totp     *TOTPVerifier
	log      *audit.Logger
	policy   Policy

	enrollMu    sync.Mutex
	enrollments map[int64]pendingEnrollment

	now func() time.Time
}

// NewService wires the auth service.
func NewService(db *store.DB, sessions *SessionManager, log *audit.Logger, policy Policy) *Service {
	return &Service{
		db:       db,
		sessions: sessions,
		totp:     NewTOTPVerifier(),
		log:      log,
		policy:   policy,
		now:      time.Now,
	}
}

// Sessions exposes the session manager for callers that only validate.
func (s *Service) Sessions() *SessionManager {
	return s.sessions
}

// =============================================================================
// BOOTSTRAP
// =============================================================================

// Bootstrap creates the initial supervisor account when the store holds no
// accounts at all. Safe to call on every startup.
func (s *Service) Bootstrap(ctx context.Context) error {
	hash, err := HashPassword(BootstrapPassword)
	if err != nil {
		return err
	}

	created := false
	err = s.db.Write(ctx, func(tx *sql.Tx) error {
		n, err := store.CountEmployees(ctx, tx)
		if err != nil {
			return err
		}
		if n > 0 {
			return nil
		}
		created = true
		return store.InsertEmployee(ctx, tx, &store.Employee{
			Username:           BootstrapUsername,
			PasswordHash:       hash,
			FirstName:          "System",
			LastName:           "Administrator",
			Role:               store.RoleSupervisor,
			IsActive:           true,
			MustChangePassword: true,
			CreatedAt:          s.now(),
		})
	})
	if err != nil {
		return fmt.Errorf("bootstrap failed: %w", err)
	}
	if created {
		s.log.LogAuth(audit.EventBootstrap, BootstrapUsername, "", "initial supervisor account created", true)
	}
	return nil
}

// =============================================================================
// LOGIN
// =============================================================================

// LoginResult is the outcome of a successful credential check.
type LoginResult struct {
	// Session is set when the login is complete. Nil while MFA is pending.
	Session *Session
	// MFARequired is true when the password checked out but a TOTP code is
	// still needed; PendingToken identifies the half-open login.
	MFARequired  bool
	PendingToken string
	// MustChangePassword is true when the account has to change its
	// password before any other operation.
	MustChangePassword bool
}

// Authenticate verifies a username and password. Unknown usernames, wrong
// passwords, and disabled accounts all return ErrAuthFailed; the security
// log records which it actually was.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*LoginResult, error) {
	username = strings.TrimSpace(username)

	unlock := s.db.LockEmployee(username)
	defer unlock()

	var emp *store.Employee
	err := s.db.Read(ctx, func(tx *sql.Tx) error {
		var err error
		emp, err = store.GetEmployeeByUsername(ctx, tx, username)
		return err
	})
	if errors.Is(err, store.ErrEmployeeNotFound) {
		// Burn the same bcrypt work as a real verification.
		VerifyDummy(password)
		s.log.LogAuth(audit.EventLoginFailure, username, "", "unknown username", false)
		return nil, ErrAuthFailed
	}
	if err != nil {
		return nil, err
	}

	now := s.now()
	if !emp.LockedUntil.IsZero() && now.Before(emp.LockedUntil) {
		s.log.LogAuth(audit.EventLoginFailure, username, "", "account locked", false)
		return nil, ErrLocked
	}

	if !VerifyPassword(emp.PasswordHash, password) {
		if err := s.recordFailure(ctx, emp, now, audit.EventLoginFailure, "wrong password"); err != nil {
			return nil, err
		}
		return nil, ErrAuthFailed
	}

	if !emp.IsActive {
		s.log.LogAuth(audit.EventLoginFailure, username, "", "account disabled", false)
		return nil, ErrAuthFailed
	}

	mustChange := emp.MustChangePassword || s.passwordExpired(emp, now)

	// The login is not complete until the second factor clears, so the
	// failure counter only resets once a full session is minted.
	if emp.MFASecret != "" {
		token := s.sessions.CreatePending(emp.ID, emp.Username)
		s.log.LogAuth(audit.EventMFAChallenge, emp.Username, "", "password verified, totp pending", true)
		return &LoginResult{
			MFARequired:        true,
			PendingToken:       token,
			MustChangePassword: mustChange,
		}, nil
	}

	if err := s.db.Write(ctx, func(tx *sql.Tx) error {
		return store.RecordAuthSuccess(ctx, tx, emp.ID, now)
	}); err != nil {
		return nil, err
	}

	sess := s.sessions.Create(emp.ID, emp.Username, emp.Role)
	s.log.LogAuth(audit.EventLoginSuccess, emp.Username, sess.Token, "", true)
	return &LoginResult{Session: sess, MustChangePassword: mustChange}, nil
}

// recordFailure charges one failed credential attempt, password or TOTP,
// against the account and logs it as event. Crossing the threshold sets the
// lockout window. Callers hold the employee lock and map the outward error.
func (s *Service) recordFailure(ctx context.Context, emp *store.Employee, now time.Time, event, detail string) error {
	var attempts int
	var until time.Time
	err := s.db.Write(ctx, func(tx *sql.Tx) error {
		var err error
		attempts, until, err = store.RecordAuthFailure(
			ctx, tx, emp.ID, s.policy.MaxLoginAttempts, s.policy.LockoutDuration, now)
		return err
	})
	if err != nil {
		return err
	}

	s.log.LogAuth(event, emp.Username, "",
		fmt.Sprintf("%s, attempt %d of %d", detail, attempts, s.policy.MaxLoginAttempts), false)
	if !until.IsZero() {
		s.log.LogAuth(audit.EventLockout, emp.Username, "",
			fmt.Sprintf("locked until %s", until.UTC().Format(time.RFC3339)), false)
	}
	return nil
}

func (s *Service) passwordExpired(emp *store.Employee, now time.Time) bool {
	if s.policy.PasswordExpiryDays <= 0 || emp.PasswordChangedAt.IsZero() {
		return false
	}
	expiry := time.Duration(s.policy.PasswordExpiryDays) * 24 * time.Hour
	return now.Sub(emp.PasswordChangedAt) > expiry
}

// CompleteMFA finishes a half-open login with a TOTP code.
func (s *Service) CompleteMFA(ctx context.Context, pendingToken, code string) (*LoginResult, error) {
	employeeID, username, err := s.sessions.PendingAttempt(pendingToken)
	if err != nil {
		s.log.LogAuth(audit.EventMFAFailure, username, "", "pending login rejected", false)
		return nil, err
	}

	var emp *store.Employee
	err = s.db.Read(ctx, func(tx *sql.Tx) error {
		var err error
		emp, err = store.GetEmployeeByID(ctx, tx, employeeID)
		return err
	})
	if err != nil {
		return nil, ErrAuthFailed
	}
	if !emp.IsActive || emp.MFASecret == "" {
		return nil, ErrAuthFailed
	}

	unlock := s.db.LockEmployee(emp.Username)
	defer unlock()

	now := s.now()
	if !emp.LockedUntil.IsZero() && now.Before(emp.LockedUntil) {
		s.log.LogAuth(audit.EventMFAFailure, emp.Username, "", "account locked", false)
		return nil, ErrLocked
	}

	// A rejected code charges the same per-employee counter as a wrong
	// password, so fresh pending tokens never buy extra guesses.
	if !s.totp.Verify(emp.ID, emp.MFASecret, code, now) {
		if err := s.recordFailure(ctx, emp, now, audit.EventMFAFailure, "totp code rejected"); err != nil {
			return nil, err
		}
		return nil, ErrMFAFailed
	}

	if err := s.db.Write(ctx, func(tx *sql.Tx) error {
		return store.RecordAuthSuccess(ctx, tx, emp.ID, now)
	}); err != nil {
		return nil, err
	}

	s.sessions.CompletePending(pendingToken)
	sess := s.sessions.Create(emp.ID, emp.Username, emp.Role)
	s.log.LogAuth(audit.EventLoginSuccess, emp.Username, sess.Token, "totp verified", true)

	return &LoginResult{
		Session:            sess,
		MustChangePassword: emp.MustChangePassword || s.passwordExpired(emp, now),
	}, nil
}

// =============================================================================
// SESSION OPERATIONS
// =============================================================================

// Validate checks a session token for a regular operation. Sessions of
// disabled or locked-out accounts are revoked and rejected. An account that
// still owes a password change gets ErrPasswordChangeRequired; the only
// operation it may perform is ChangePassword.
func (s *Service) Validate(ctx context.Context, token string) (*Session, error) {
	sess, err := s.sessions.Validate(token)
	if err != nil {
		if s.sessions.IsPending(token) {
			return nil, ErrMFARequired
		}
		return nil, err
	}

	var emp *store.Employee
	err = s.db.Read(ctx, func(tx *sql.Tx) error {
		var err error
		emp, err = store.GetEmployeeByID(ctx, tx, sess.EmployeeID)
		return err
	})
	if err != nil {
		return nil, ErrSessionExpired
	}
	now := s.now()
	if !emp.IsActive {
		s.sessions.RevokeAll(emp.ID)
		s.log.LogAuth(audit.EventSessionExpired, emp.Username, sess.Token, "account disabled", false)
		return nil, ErrSessionExpired
	}
	if !emp.LockedUntil.IsZero() && now.Before(emp.LockedUntil) {
		s.sessions.RevokeAll(emp.ID)
		s.log.LogAuth(audit.EventSessionExpired, emp.Username, sess.Token, "account locked", false)
		return nil, ErrSessionExpired
	}
	if emp.MustChangePassword {
		return nil, ErrPasswordChangeRequired
	}
	if s.passwordExpired(emp, now) {
		return nil, ErrPasswordExpired
	}
	return sess, nil
}

// RevokeSessions force-ends every session belonging to an account and
// returns how many were ended. Used for administrative revocation; the
// account itself stays usable.
func (s *Service) RevokeSessions(employeeID int64, username string) int {
	n := s.sessions.RevokeAll(employeeID)
	s.log.LogAuth(audit.EventAccountChange, username, "",
		fmt.Sprintf("%d sessions force-revoked", n), true)
	return n
}

// Logout ends a session. Idempotent.
func (s *Service) Logout(token string) {
	if sess, err := s.sessions.Validate(token); err == nil {
		s.log.LogAuth(audit.EventLogout, sess.Username, token, "", true)
	}
	s.sessions.Revoke(token)
}

// =============================================================================
// PASSWORD CHANGE
// =============================================================================

// ChangePassword verifies the current password, applies policy to the new
// one, stores the new hash, and revokes the account's other sessions. This
// is the one operation allowed while a password change is owed, so it
// validates the raw session instead of going through Validate.
func (s *Service) ChangePassword(ctx context.Context, token, oldPassword, newPassword string) error {
	sess, err := s.sessions.Validate(token)
	if err != nil {
		return err
	}

	unlock := s.db.LockEmployee(sess.Username)
	defer unlock()

	var emp *store.Employee
	err = s.db.Read(ctx, func(tx *sql.Tx) error {
		var err error
		emp, err = store.GetEmployeeByID(ctx, tx, sess.EmployeeID)
		return err
	})
	if err != nil {
		return ErrSessionExpired
	}

	if !VerifyPassword(emp.PasswordHash, oldPassword) {
		s.log.LogAuth(audit.EventPasswordChange, emp.Username, token, "current password rejected", false)
		return ErrAuthFailed
	}
	if err := CheckPasswordPolicy(newPassword, s.policy.PasswordMinLength); err != nil {
		return err
	}
	if VerifyPassword(emp.PasswordHash, newPassword) {
		return &PolicyError{Failures: []string{"must differ from the current password"}}
	}

	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := s.db.Write(ctx, func(tx *sql.Tx) error {
		return store.UpdatePasswordHash(ctx, tx, emp.ID, hash, s.now())
	}); err != nil {
		return err
	}

	revoked := s.sessions.RevokeOthers(emp.ID, token)
	s.log.LogAuth(audit.EventPasswordChange, emp.Username, token,
		fmt.Sprintf("password changed, %d other sessions revoked", revoked), true)
	return nil
}

// =============================================================================
// MFA ENROLLMENT
// =============================================================================

// pendingEnrollment keys enrollments by employee so the secret only lands
// in the store after the user proves their authenticator works.
type pendingEnrollment struct {
	secret string
}

// EnrollMFA starts TOTP enrollment for the session's account and returns
// the secret and provisioning URL. The enrollment takes effect only after
// ConfirmMFA sees a valid code.
func (s *Service) EnrollMFA(ctx context.Context, token string) (secret, url string, err error) {
	sess, err := s.Validate(ctx, token)
	if err != nil {
		return "", "", err
	}

	secret, url, err = GenerateTOTPSecret(sess.Username)
	if err != nil {
		return "", "", err
	}

	s.enrollMu.Lock()
	if s.enrollments == nil {
		s.enrollments = make(map[int64]pendingEnrollment)
	}
	s.enrollments[sess.EmployeeID] = pendingEnrollment{secret: secret}
	s.enrollMu.Unlock()

	return secret, url, nil
}

// ConfirmMFA completes enrollment by checking a code against the pending
// secret, then persists the secret.
func (s *Service) ConfirmMFA(ctx context.Context, token, code string) error {
	sess, err := s.Validate(ctx, token)
	if err != nil {
		return err
	}

	s.enrollMu.Lock()
	pe, ok := s.enrollments[sess.EmployeeID]
	s.enrollMu.Unlock()
	if !ok {
		return ErrMFAFailed
	}

	if !s.totp.Verify(sess.EmployeeID, pe.secret, code, s.now()) {
		s.log.LogAuth(audit.EventMFAFailure, sess.Username, token, "enrollment code rejected", false)
		return ErrMFAFailed
	}

	if err := s.db.Write(ctx, func(tx *sql.Tx) error {
		return store.SetMFASecret(ctx, tx, sess.EmployeeID, pe.secret)
	}); err != nil {
		return err
	}

	s.enrollMu.Lock()
	delete(s.enrollments, sess.EmployeeID)
	s.enrollMu.Unlock()

	s.log.LogAuth(audit.EventMFAEnrolled, sess.Username, token, "", true)
	return nil
}

// DisableMFA clears an account's TOTP secret. Authorization (self or
// supervisor) is the caller's responsibility.
func (s *Service) DisableMFA(ctx context.Context, employeeID int64) error {
	if err := s.db.Write(ctx, func(tx *sql.Tx) error {
		return store.SetMFASecret(ctx, tx, employeeID, "")
	}); err != nil {
		return err
	}
	s.totp.Forget(employeeID)
	return nil
}

// =============================================================================
// ACCOUNT ADMINISTRATION
// =============================================================================

// CreateEmployee creates a new account with a policy-checked initial
// password and must_change_password set.
func (s *Service) CreateEmployee(ctx context.Context, username, password, firstName, lastName, role string) (*store.Employee, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, fmt.Errorf("username required")
	}
	if role != store.RoleEmployee && role != store.RoleSupervisor {
		return nil, fmt.Errorf("invalid role %q", role)
	}
	if err := CheckPasswordPolicy(password, s.policy.PasswordMinLength); err != nil {
		return nil, err
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	unlock := s.db.LockEmployee(username)
	defer unlock()

	emp := &store.Employee{
		Username:           username,
		PasswordHash:       hash,
		FirstName:          firstName,
		LastName:           lastName,
		Role:               role,
		IsActive:           true,
		MustChangePassword: true,
		CreatedAt:          s.now(),
	}
	if err := s.db.Write(ctx, func(tx *sql.Tx) error {
		return store.InsertEmployee(ctx, tx, emp)
	}); err != nil {
		return nil, err
	}

	s.log.LogAuth(audit.EventAccountChange, username, "", "account created with role "+role, true)
	return emp, nil
}

// SetRole changes an account's role.
func (s *Service) SetRole(ctx context.Context, employeeID int64, role string) error {
	if role != store.RoleEmployee && role != store.RoleSupervisor {
		return fmt.Errorf("invalid role %q", role)
	}
	return s.db.Write(ctx, func(tx *sql.Tx) error {
		return store.SetEmployeeRole(ctx, tx, employeeID, role)
	})
}

// SetActive enables or disables an account. Disabling revokes its sessions
// immediately.
func (s *Service) SetActive(ctx context.Context, employeeID int64, active bool) error {
	if err := s.db.Write(ctx, func(tx *sql.Tx) error {
		return store.SetEmployeeActive(ctx, tx, employeeID, active)
	}); err != nil {
		return err
	}
	if !active {
		s.sessions.RevokeAll(employeeID)
	}
	return nil
}

// Unlock clears a lockout ahead of its expiry.
func (s *Service) Unlock(ctx context.Context, employeeID int64) error {
	return s.db.Write(ctx, func(tx *sql.Tx) error {
		return store.ClearLockout(ctx, tx, employeeID)
	})
}

// ListEmployees returns all accounts.
func (s *Service) ListEmployees(ctx context.Context) ([]*store.Employee, error) {
	var out []*store.Employee
	err := s.db.Read(ctx, func(tx *sql.Tx) error {
		var err error
		out, err = store.ListEmployees(ctx, tx)
		return err
	})
	return out, err
}
