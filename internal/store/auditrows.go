// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Audit actions stored in audit_entries.action.
const (
	AuditCreate  = "create"
	AuditUpdate  = "update"
	AuditDelete  = "delete"
	AuditRestore = "restore"
)

// AuditEntry is one append-only ledger row. Update actions carry the field
// name and both values; create, delete and restore actions leave them empty.
type AuditEntry struct {
	ID            int64
	ItemID        int64
	Action        string
	Field         string
	OldValue      string
	NewValue      string
	ActorID       int64
	ActorUsername string
	CreatedAt     time.Time
}

const auditColumns = `id, item_id, action, field, old_value, new_value,
	actor_id, actor_username, created_at`

func scanAuditEntry(row interface{ Scan(dest ...any) error }) (*AuditEntry, error) {
	var a AuditEntry
	var createdAt string
	err := row.Scan(
		&a.ID, &a.ItemID, &a.Action, &a.Field, &a.OldValue, &a.NewValue,
		&a.ActorID, &a.ActorUsername, &createdAt,
	)
	if err != nil {
		return nil, err
	}
	a.CreatedAt = timeFromDB(createdAt)
	return &a, nil
}

// InsertAuditEntry appends one ledger row. There is deliberately no update
// or delete counterpart for this table.
func InsertAuditEntry(ctx context.Context, q Querier, a *AuditEntry) error {
	res, err := q.ExecContext(ctx, `
		INSERT INTO audit_entries (item_id, action, field, old_value,
			new_value, actor_id, actor_username, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ItemID, a.Action, a.Field, a.OldValue, a.NewValue,
		a.ActorID, a.ActorUsername, timeToDB(a.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	a.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read insert id: %w", err)
	}
	return nil
}

// ListAuditEntriesForItem returns the item's full trail, oldest first.
func ListAuditEntriesForItem(ctx context.Context, q Querier, itemID int64) ([]*AuditEntry, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+auditColumns+` FROM audit_entries WHERE item_id = ? ORDER BY id`,
		itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var out []*AuditEntry
	for rows.Next() {
		a, err := scanAuditEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// LatestAuditEntryForItem returns the most recent ledger row for the item,
// or nil when the item has no trail.
func LatestAuditEntryForItem(ctx context.Context, q Querier, itemID int64) (*AuditEntry, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+auditColumns+` FROM audit_entries WHERE item_id = ? ORDER BY id DESC LIMIT 1`,
		itemID)
	a, err := scanAuditEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entry: %w", err)
	}
	return a, nil
}

// ListAllAuditEntries returns every ledger row, oldest first. Snapshot
// capture and exports use this.
func ListAllAuditEntries(ctx context.Context, q Querier) ([]*AuditEntry, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT ` + auditColumns + ` FROM audit_entries ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var out []*AuditEntry
	for rows.Next() {
		a, err := scanAuditEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
