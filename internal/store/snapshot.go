// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"database/sql"
	"fmt"
)

// State is a full dump of the three core tables, used for snapshot capture
// and restore. Rows keep their original IDs so the audit trail stays valid
// across a restore.
type State struct {
	Employees    []*Employee
	Items        []*Item
	AuditEntries []*AuditEntry
}

// DumpState reads every row of every table inside the caller's transaction.
func DumpState(ctx context.Context, tx *sql.Tx) (*State, error) {
	employees, err := ListEmployees(ctx, tx)
	if err != nil {
		return nil, err
	}
	items, err := ListItems(ctx, tx, ItemFilter{IncludeDeleted: true})
	if err != nil {
		return nil, err
	}
	entries, err := ListAllAuditEntries(ctx, tx)
	if err != nil {
		return nil, err
	}
	return &State{Employees: employees, Items: items, AuditEntries: entries}, nil
}

// ReplaceState wipes the three tables and installs the given state with the
// original row IDs. The caller runs this inside an Exclusive transaction:
// either the whole state lands or the transaction rolls back and the live
// store is untouched.
func ReplaceState(ctx context.Context, tx *sql.Tx, st *State) error {
	// Audit rows reference items, so deletion order matters.
	for _, table := range []string{"audit_entries", "items", "employees"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	for _, e := range st.Employees {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO employees (id, username, password_hash, first_name,
				last_name, role, is_active, mfa_secret, failed_attempts,
				locked_until, must_change_password, password_changed_at,
				last_login_at, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.Username, e.PasswordHash, e.FirstName,
			e.LastName, e.Role, boolToInt(e.IsActive), e.MFASecret, e.FailedAttempts,
			timeToDB(e.LockedUntil), boolToInt(e.MustChangePassword),
			timeToDB(e.PasswordChangedAt), timeToDB(e.LastLoginAt), timeToDB(e.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to restore employee %d: %w", e.ID, err)
		}
	}

	for _, it := range st.Items {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO items (id, name, category, serial_number, location,
				condition, quantity, notes, assigned_to, status,
				deleted_snapshot, created_at, created_by, updated_at, updated_by)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			it.ID, it.Name, it.Category, it.SerialNumber, it.Location,
			it.Condition, it.Quantity, it.Notes, it.AssignedTo, it.Status,
			it.DeletedSnapshot, timeToDB(it.CreatedAt), it.CreatedBy,
			timeToDB(it.UpdatedAt), it.UpdatedBy,
		)
		if err != nil {
			return fmt.Errorf("failed to restore item %d: %w", it.ID, err)
		}
	}

	for _, a := range st.AuditEntries {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO audit_entries (id, item_id, action, field, old_value,
				new_value, actor_id, actor_username, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			a.ID, a.ItemID, a.Action, a.Field, a.OldValue,
			a.NewValue, a.ActorID, a.ActorUsername, timeToDB(a.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to restore audit entry %d: %w", a.ID, err)
		}
	}

	return nil
}
