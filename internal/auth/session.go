// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// Session is an authenticated session. Tokens are bearer credentials; the
// manager is the only place they are stored server-side.
type Session struct {
	Token        string
	EmployeeID   int64
	Username     string
	Role         string
	CreatedAt    time.Time
	LastActivity time.Time
}

// pendingMFA is a half-open login: password verified, TOTP outstanding.
type pendingMFA struct {
	employeeID int64
	username   string
	createdAt  time.Time
	attempts   int
}

// SessionPolicy holds the timeout policy the manager enforces.
type SessionPolicy struct {
	IdleTimeout      time.Duration
	AbsoluteLifetime time.Duration
	PendingTimeout   time.Duration
	MaxMFAAttempts   int
}

// SessionManager tracks live sessions and pending MFA tokens in memory.
// Sessions do not survive a process restart; that is intentional for a
// single-node deployment.
type SessionManager struct {
	mu       sync.RWMutex
	policy   SessionPolicy
	sessions map[string]*Session
	pending  map[string]*pendingMFA

	// now is swappable for tests.
	now func() time.Time
}

// NewSessionManager creates a manager with the given policy.
func NewSessionManager(policy SessionPolicy) *SessionManager {
	return &SessionManager{
		policy:   policy,
		sessions: make(map[string]*Session),
		pending:  make(map[string]*pendingMFA),
		now:      time.Now,
	}
}

// newToken returns a prefixed 256-bit random token.
func newToken(prefix string) string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}
	return prefix + "_" + hex.EncodeToString(b)
}

// =============================================================================
// SESSIONS
// =============================================================================

// Create opens a session for an authenticated account and returns it.
func (m *SessionManager) Create(employeeID int64, username, role string) *Session {
	now := m.now()
	s := &Session{
		Token:        newToken("sess"),
		EmployeeID:   employeeID,
		Username:     username,
		Role:         role,
		CreatedAt:    now,
		LastActivity: now,
	}

	m.mu.Lock()
	m.sessions[s.Token] = s
	m.mu.Unlock()
	return s
}

// Validate checks a token and, when valid, refreshes its activity stamp and
// returns a copy of the session. Idle-expired, lifetime-expired, revoked,
// and unknown tokens all return ErrSessionExpired.
func (m *SessionManager) Validate(token string) (*Session, error) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[token]
	if !ok {
		return nil, ErrSessionExpired
	}
	if now.Sub(s.LastActivity) > m.policy.IdleTimeout ||
		now.Sub(s.CreatedAt) > m.policy.AbsoluteLifetime {
		delete(m.sessions, token)
		return nil, ErrSessionExpired
	}

	s.LastActivity = now
	cp := *s
	return &cp, nil
}

// Revoke ends one session. Revoking an unknown token is a no-op, so logout
// is idempotent.
func (m *SessionManager) Revoke(token string) {
	m.mu.Lock()
	delete(m.sessions, token)
	m.mu.Unlock()
}

// RevokeAll ends every session belonging to an account.
func (m *SessionManager) RevokeAll(employeeID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for token, s := range m.sessions {
		if s.EmployeeID == employeeID {
			delete(m.sessions, token)
			n++
		}
	}
	return n
}

// RevokeOthers ends every session of an account except keep. Used after a
// password change so the changing session survives.
func (m *SessionManager) RevokeOthers(employeeID int64, keep string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for token, s := range m.sessions {
		if s.EmployeeID == employeeID && token != keep {
			delete(m.sessions, token)
			n++
		}
	}
	return n
}

// ActiveCount returns the number of live (not yet purged) sessions.
func (m *SessionManager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// PurgeExpired drops sessions and pending tokens past their deadlines.
// Validate already rejects them lazily; this just bounds memory.
func (m *SessionManager) PurgeExpired() {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()

	for token, s := range m.sessions {
		if now.Sub(s.LastActivity) > m.policy.IdleTimeout ||
			now.Sub(s.CreatedAt) > m.policy.AbsoluteLifetime {
			delete(m.sessions, token)
		}
	}
	for token, p := range m.pending {
		if now.Sub(p.createdAt) > m.policy.PendingTimeout {
			delete(m.pending, token)
		}
	}
}

// =============================================================================
// PENDING MFA
// =============================================================================

// CreatePending records a password-verified login awaiting its TOTP code
// and returns the pending token.
func (m *SessionManager) CreatePending(employeeID int64, username string) string {
	token := newToken("mfa")
	m.mu.Lock()
	m.pending[token] = &pendingMFA{
		employeeID: employeeID,
		username:   username,
		createdAt:  m.now(),
	}
	m.mu.Unlock()
	return token
}

// PendingAttempt looks up a pending token and charges one attempt against
// it. Expired or unknown tokens return ErrSessionExpired; a token that has
// exhausted its attempts is removed and returns ErrMFAFailed. On success the
// caller verifies the TOTP code and calls CompletePending; a failed code
// leaves the charged attempt standing.
func (m *SessionManager) PendingAttempt(token string) (employeeID int64, username string, err error) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pending[token]
	if !ok {
		return 0, "", ErrSessionExpired
	}
	if now.Sub(p.createdAt) > m.policy.PendingTimeout {
		delete(m.pending, token)
		return 0, "", ErrSessionExpired
	}

	p.attempts++
	if p.attempts > m.policy.MaxMFAAttempts {
		delete(m.pending, token)
		return 0, "", ErrMFAFailed
	}
	return p.employeeID, p.username, nil
}

// IsPending reports whether token is a half-open login still awaiting its
// TOTP code.
func (m *SessionManager) IsPending(token string) bool {
	now := m.now()
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.pending[token]
	return ok && now.Sub(p.createdAt) <= m.policy.PendingTimeout
}

// CompletePending consumes a pending token after a successful TOTP check.
func (m *SessionManager) CompletePending(token string) {
	m.mu.Lock()
	delete(m.pending, token)
	m.mu.Unlock()
}
