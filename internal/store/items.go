// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Item status values stored in items.status.
const (
	ItemActive  = "active"
	ItemDeleted = "deleted"
)

// Item is an inventory row. A deleted item keeps its row with status
// "deleted" and a JSON snapshot of its pre-delete field values, so restore
// never depends on reconstructing state from the audit trail.
//
// AssignedTo, CreatedBy and UpdatedBy are employee IDs; zero means
// unassigned (or, for the by-fields, a system action).
type Item struct {
	ID              int64
	Name            string
	Category        string
	SerialNumber    string
	Location        string
	Condition       string
	Quantity        int
	Notes           string
	AssignedTo      int64
	Status          string
	DeletedSnapshot string
	CreatedAt       time.Time
	CreatedBy       int64
	UpdatedAt       time.Time
	UpdatedBy       int64
}

const itemColumns = `id, name, category, serial_number, location, condition,
	quantity, notes, assigned_to, status, deleted_snapshot,
	created_at, created_by, updated_at, updated_by`

func scanItem(row interface{ Scan(dest ...any) error }) (*Item, error) {
	var it Item
	var createdAt, updatedAt string
	err := row.Scan(
		&it.ID, &it.Name, &it.Category, &it.SerialNumber, &it.Location,
		&it.Condition, &it.Quantity, &it.Notes, &it.AssignedTo, &it.Status,
		&it.DeletedSnapshot, &createdAt, &it.CreatedBy, &updatedAt, &it.UpdatedBy,
	)
	if err != nil {
		return nil, err
	}
	it.CreatedAt = timeFromDB(createdAt)
	it.UpdatedAt = timeFromDB(updatedAt)
	return &it, nil
}

// InsertItem creates an item row and fills in the assigned ID.
func InsertItem(ctx context.Context, q Querier, it *Item) error {
	res, err := q.ExecContext(ctx, `
		INSERT INTO items (name, category, serial_number, location, condition,
			quantity, notes, assigned_to, status, deleted_snapshot,
			created_at, created_by, updated_at, updated_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		it.Name, it.Category, it.SerialNumber, it.Location, it.Condition,
		it.Quantity, it.Notes, it.AssignedTo, it.Status, it.DeletedSnapshot,
		timeToDB(it.CreatedAt), it.CreatedBy, timeToDB(it.UpdatedAt), it.UpdatedBy,
	)
	if err != nil {
		return fmt.Errorf("failed to insert item: %w", err)
	}
	it.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read insert id: %w", err)
	}
	return nil
}

// GetItemByID returns the row regardless of status. Callers that only want
// live items check Status themselves.
func GetItemByID(ctx context.Context, q Querier, id int64) (*Item, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE id = ?`, id)
	it, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query item: %w", err)
	}
	return it, nil
}

// ItemFilter narrows ListItems. Zero value lists all active items.
type ItemFilter struct {
	// Search matches name or notes, case-insensitively, as a substring.
	Search string
	// Category, Location and Condition filter exactly when non-empty.
	Category  string
	Location  string
	Condition string
	// IncludeDeleted also returns soft-deleted rows.
	IncludeDeleted bool
}

// ListItems returns matching items ordered by ID ascending. The ordering is
// stable across calls so paging and exports are deterministic.
func ListItems(ctx context.Context, q Querier, f ItemFilter) ([]*Item, error) {
	var (
		where []string
		args  []any
	)
	if !f.IncludeDeleted {
		where = append(where, "status = ?")
		args = append(args, ItemActive)
	}
	if f.Search != "" {
		where = append(where, "(name LIKE ? COLLATE NOCASE OR notes LIKE ? COLLATE NOCASE)")
		pat := "%" + f.Search + "%"
		args = append(args, pat, pat)
	}
	if f.Category != "" {
		where = append(where, "category = ?")
		args = append(args, f.Category)
	}
	if f.Location != "" {
		where = append(where, "location = ?")
		args = append(args, f.Location)
	}
	if f.Condition != "" {
		where = append(where, "condition = ?")
		args = append(args, f.Condition)
	}

	query := `SELECT ` + itemColumns + ` FROM items`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	defer rows.Close()

	var out []*Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// UpdateItemRow writes the mutable fields of an item row.
func UpdateItemRow(ctx context.Context, q Querier, it *Item) error {
	res, err := q.ExecContext(ctx, `
		UPDATE items
		SET name = ?, category = ?, serial_number = ?, location = ?,
			condition = ?, quantity = ?, notes = ?, assigned_to = ?,
			status = ?, deleted_snapshot = ?, updated_at = ?, updated_by = ?
		WHERE id = ?`,
		it.Name, it.Category, it.SerialNumber, it.Location,
		it.Condition, it.Quantity, it.Notes, it.AssignedTo,
		it.Status, it.DeletedSnapshot, timeToDB(it.UpdatedAt), it.UpdatedBy, it.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return ErrItemNotFound
	}
	return nil
}

// CountItems returns (active, deleted) row counts.
func CountItems(ctx context.Context, q Querier) (active, deleted int, err error) {
	err = q.QueryRowContext(ctx,
		`SELECT
			COUNT(CASE WHEN status = 'active' THEN 1 END),
			COUNT(CASE WHEN status = 'deleted' THEN 1 END)
		FROM items`).Scan(&active, &deleted)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count items: %w", err)
	}
	return active, deleted, nil
}
