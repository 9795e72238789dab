// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package access is the authorization gate. Every mutating operation in the
// system passes through Gate.Require before touching the store; the
// capability table is static, so a role's reach is auditable by reading
// this file.
package access

import (
	"errors"
	"sync"

	"golang.org/x/time/rate"

	"github.com/jeranaias/radiotrack/internal/audit"
	"github.com/jeranaias/radiotrack/internal/auth"
	"github.com/jeranaias/radiotrack/internal/store"
)

// ErrForbidden is returned when a role lacks the capability for an
// operation. The attempt lands in the security log, never in the inventory
// audit trail.
var ErrForbidden = errors.New("operation not permitted for role")

// ErrRateLimited is returned when a caller exceeds the mutation budget.
var ErrRateLimited = errors.New("too many requests")

// Operation names one gated capability.
type Operation string

// Gated operations.
const (
	OpItemList    Operation = "item.list"
	OpItemCreate  Operation = "item.create"
	OpItemUpdate  Operation = "item.update"
	OpItemDelete  Operation = "item.delete"
	OpItemRestore Operation = "item.restore"
	OpItemHistory Operation = "item.history"

	OpEmployeeManage Operation = "employee.manage"
	OpAccountUnlock  Operation = "account.unlock"
	OpSessionRevoke  Operation = "session.revoke"

	OpBackupCreate  Operation = "backup.create"
	OpBackupRestore Operation = "backup.restore"
	OpBackupList    Operation = "backup.list"

	OpExport Operation = "export"
)

// capabilities is the full role-by-operation matrix. Anything not listed is
// denied.
var capabilities = map[string]map[Operation]bool{
	store.RoleEmployee: {
		OpItemList:   true,
		OpItemCreate: true,
		OpItemUpdate: true,
		OpExport:     true,
	},
	store.RoleSupervisor: {
		OpItemList:       true,
		OpItemCreate:     true,
		OpItemUpdate:     true,
		OpItemDelete:     true,
		OpItemRestore:    true,
		OpItemHistory:    true,
		OpEmployeeManage: true,
		OpAccountUnlock:  true,
		OpSessionRevoke:  true,
		OpBackupCreate:   true,
		OpBackupRestore:  true,
		OpBackupList:     true,
		OpExport:         true,
	},
}

// employeeEditableFields limits which item fields the employee role may
// change through an update. Supervisors may change any field.
var employeeEditableFields = map[string]bool{
	"condition": true,
	"location":  true,
	"notes":     true,
}

// Authorize consults the static capability table.
func Authorize(role string, op Operation) bool {
	return capabilities[role][op]
}

// CanEditField reports whether role may change the named item field.
func CanEditField(role, field string) bool {
	if role == store.RoleSupervisor {
		return true
	}
	return employeeEditableFields[field]
}

// =============================================================================
// GATE
// =============================================================================

// Gate combines the capability check with a per-account mutation rate
// limit and logs every denial to the security log.
type Gate struct {
	log *audit.Logger

	mu       sync.Mutex
	limiters map[int64]*rate.Limiter

	// perAccount shapes mutation bursts from a single session. Reads are
	// not limited.
	perAccountRate  rate.Limit
	perAccountBurst int
}

// NewGate creates a gate logging denials to log.
func NewGate(log *audit.Logger) *Gate {
	return &Gate{
		log:             log,
		limiters:        make(map[int64]*rate.Limiter),
		perAccountRate:  rate.Limit(10),
		perAccountBurst: 20,
	}
}

// Require authorizes op for the session. On denial it returns ErrForbidden
// after writing a security log entry; the caller must not have performed
// any side effect yet.
func (g *Gate) Require(sess *auth.Session, op Operation) error {
	if sess == nil {
		return ErrForbidden
	}
	if !Authorize(sess.Role, op) {
		g.log.LogDenied(sess.Username, sess.Token, string(op))
		return ErrForbidden
	}
	if mutating(op) && !g.allow(sess.EmployeeID) {
		g.log.LogDenied(sess.Username, sess.Token, string(op)+" (rate limited)")
		return ErrRateLimited
	}
	return nil
}

func mutating(op Operation) bool {
	switch op {
	case OpItemList, OpItemHistory, OpBackupList, OpExport:
		return false
	}
	return true
}

func (g *Gate) allow(employeeID int64) bool {
	g.mu.Lock()
	l, ok := g.limiters[employeeID]
	if !ok {
		l = rate.NewLimiter(g.perAccountRate, g.perAccountBurst)
		g.limiters[employeeID] = l
	}
	g.mu.Unlock()
	return l.Allow()
}
