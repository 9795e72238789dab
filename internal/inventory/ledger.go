// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package inventory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/jeranaias/radiotrack/internal/access"
	"github.com/jeranaias/radiotrack/internal/auth"
	"github.com/jeranaias/radiotrack/internal/store"
)

// Ledger applies inventory mutations. Every write path authorizes first,
// then commits the field changes and their audit entries in one
// transaction: either both land or neither does.
type Ledger struct {
	db   *store.DB
	gate *access.Gate
	sets *Sets

	now func() time.Time
}

// NewLedger wires the ledger.
func NewLedger(db *store.DB, gate *access.Gate, sets *Sets) *Ledger {
	return &Ledger{db: db, gate: gate, sets: sets, now: time.Now}
}

// Sets exposes the closed sets, e.g. for the config watcher to replace.
func (l *Ledger) Sets() *Sets {
	return l.sets
}

// ItemFields is the caller-supplied state for a new item.
type ItemFields struct {
	Name         string
	Category     string
	SerialNumber string
	Location     string
	Condition    string
	Quantity     int
	Notes        string
	AssignedTo   int64
}

// =============================================================================
// CREATE
// =============================================================================

// CreateItem validates the fields, writes the item, and appends one Create
// audit entry summarizing the initial values.
func (l *Ledger) CreateItem(ctx context.Context, sess *auth.Session, f ItemFields) (int64, error) {
	if err := l.gate.Require(sess, access.OpItemCreate); err != nil {
		return 0, err
	}
	if err := l.validateFields(f); err != nil {
		return 0, err
	}

	now := l.now()
	it := &store.Item{
		Name:         f.Name,
		Category:     f.Category,
		SerialNumber: f.SerialNumber,
		Location:     f.Location,
		Condition:    f.Condition,
		Quantity:     f.Quantity,
		Notes:        f.Notes,
		AssignedTo:   f.AssignedTo,
		Status:       store.ItemActive,
		CreatedAt:    now,
		CreatedBy:    sess.EmployeeID,
		UpdatedAt:    now,
		UpdatedBy:    sess.EmployeeID,
	}

	err := l.db.Write(ctx, func(tx *sql.Tx) error {
		if err := l.checkAssignee(ctx, tx, f.AssignedTo); err != nil {
			return err
		}
		if err := store.InsertItem(ctx, tx, it); err != nil {
			return err
		}
		return store.InsertAuditEntry(ctx, tx, &store.AuditEntry{
			ItemID:        it.ID,
			Action:        store.AuditCreate,
			NewValue:      summarize(it),
			ActorID:       sess.EmployeeID,
			ActorUsername: sess.Username,
			CreatedAt:     now,
		})
	})
	if err != nil {
		return 0, err
	}
	return it.ID, nil
}

// checkAssignee enforces that assigned_to, when set, references an active
// employee.
func (l *Ledger) checkAssignee(ctx context.Context, tx *sql.Tx, employeeID int64) error {
	if employeeID == 0 {
		return nil
	}
	emp, err := store.GetEmployeeByID(ctx, tx, employeeID)
	if errors.Is(err, store.ErrEmployeeNotFound) {
		return &ValidationError{Problems: []string{fmt.Sprintf("assigned_to %d does not exist", employeeID)}}
	}
	if err != nil {
		return err
	}
	if !emp.IsActive {
		return &ValidationError{Problems: []string{fmt.Sprintf("assigned_to %d is not active", employeeID)}}
	}
	return nil
}

func (l *Ledger) validateFields(f ItemFields) error {
	var problems []string
	if f.Name == "" {
		problems = append(problems, "name required")
	}
	if !l.sets.ValidCategory(f.Category) {
		problems = append(problems, fmt.Sprintf("unknown category %q", f.Category))
	}
	if !l.sets.ValidLocation(f.Location) {
		problems = append(problems, fmt.Sprintf("unknown location %q", f.Location))
	}
	if !validCondition(f.Condition) {
		problems = append(problems, fmt.Sprintf("unknown condition %q", f.Condition))
	}
	if f.Quantity < 0 {
		problems = append(problems, "quantity must not be negative")
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// summarize renders an item's full field state as one audit value.
func summarize(it *store.Item) string {
	return fmt.Sprintf("name=%s category=%s serial=%s location=%s condition=%s quantity=%d assigned_to=%d notes=%s",
		it.Name, it.Category, it.SerialNumber, it.Location, it.Condition,
		it.Quantity, it.AssignedTo, it.Notes)
}

// =============================================================================
// UPDATE
// =============================================================================

// UpdateItem applies a field-to-new-value mapping to a live item. For every
// field whose value actually changes, exactly one Update audit entry is
// written; a call where nothing changes writes nothing at all. The whole
// call commits atomically.
func (l *Ledger) UpdateItem(ctx context.Context, sess *auth.Session, itemID int64, changes map[string]string) error {
	if err := l.gate.Require(sess, access.OpItemUpdate); err != nil {
		return err
	}
	for field := range changes {
		if !access.CanEditField(sess.Role, field) {
			return access.ErrForbidden
		}
	}

	unlock := l.db.LockItem(itemID)
	defer unlock()

	now := l.now()
	return l.db.Write(ctx, func(tx *sql.Tx) error {
		it, err := store.GetItemByID(ctx, tx, itemID)
		if err != nil {
			return err
		}
		if it.Status != store.ItemActive {
			return ErrNotFound
		}

		diffs, err := l.applyChanges(it, changes)
		if err != nil {
			return err
		}
		if len(diffs) == 0 {
			return nil
		}

		if _, changed := changes["assigned_to"]; changed {
			if err := l.checkAssignee(ctx, tx, it.AssignedTo); err != nil {
				return err
			}
		}

		// last-modified stamps update once per call, not once per field.
		it.UpdatedAt = now
		it.UpdatedBy = sess.EmployeeID
		if err := store.UpdateItemRow(ctx, tx, it); err != nil {
			return err
		}
		for _, d := range diffs {
			entry := &store.AuditEntry{
				ItemID:        itemID,
				Action:        store.AuditUpdate,
				Field:         d.field,
				OldValue:      d.old,
				NewValue:      d.new,
				ActorID:       sess.EmployeeID,
				ActorUsername: sess.Username,
				CreatedAt:     now,
			}
			if err := store.InsertAuditEntry(ctx, tx, entry); err != nil {
				return err
			}
		}
		return nil
	})
}

type fieldDiff struct {
	field string
	old   string
	new   string
}

// applyChanges mutates it in place and returns the diffs for changed fields
// in a deterministic order. Unknown fields and malformed values fail
// validation before anything is applied.
func (l *Ledger) applyChanges(it *store.Item, changes map[string]string) ([]fieldDiff, error) {
	var problems []string
	var diffs []fieldDiff

	fields := make([]string, 0, len(changes))
	for f := range changes {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	for _, field := range fields {
		value := changes[field]
		switch field {
		case "name":
			if value == "" {
				problems = append(problems, "name required")
				continue
			}
			if value != it.Name {
				diffs = append(diffs, fieldDiff{field, it.Name, value})
				it.Name = value
			}
		case "category":
			if !l.sets.ValidCategory(value) {
				problems = append(problems, fmt.Sprintf("unknown category %q", value))
				continue
			}
			if value != it.Category {
				diffs = append(diffs, fieldDiff{field, it.Category, value})
				it.Category = value
			}
		case "serial_number":
			if value != it.SerialNumber {
				diffs = append(diffs, fieldDiff{field, it.SerialNumber, value})
				it.SerialNumber = value
			}
		case "location":
			if !l.sets.ValidLocation(value) {
				problems = append(problems, fmt.Sprintf("unknown location %q", value))
				continue
			}
			if value != it.Location {
				diffs = append(diffs, fieldDiff{field, it.Location, value})
				it.Location = value
			}
		case "condition":
			if !validCondition(value) {
				problems = append(problems, fmt.Sprintf("unknown condition %q", value))
				continue
			}
			if value != it.Condition {
				diffs = append(diffs, fieldDiff{field, it.Condition, value})
				it.Condition = value
			}
		case "quantity":
			n, err := strconv.Atoi(value)
			if err != nil || n < 0 {
				problems = append(problems, fmt.Sprintf("invalid quantity %q", value))
				continue
			}
			if n != it.Quantity {
				diffs = append(diffs, fieldDiff{field, strconv.Itoa(it.Quantity), value})
				it.Quantity = n
			}
		case "notes":
			if value != it.Notes {
				diffs = append(diffs, fieldDiff{field, it.Notes, value})
				it.Notes = value
			}
		case "assigned_to":
			id, err := strconv.ParseInt(value, 10, 64)
			if err != nil || id < 0 {
				problems = append(problems, fmt.Sprintf("invalid assigned_to %q", value))
				continue
			}
			if id != it.AssignedTo {
				diffs = append(diffs, fieldDiff{field, strconv.FormatInt(it.AssignedTo, 10), value})
				it.AssignedTo = id
			}
		default:
			problems = append(problems, fmt.Sprintf("unknown field %q", field))
		}
	}

	if len(problems) > 0 {
		return nil, &ValidationError{Problems: problems}
	}
	return diffs, nil
}

// =============================================================================
// DELETE / RESTORE
// =============================================================================

// deletedState is the JSON snapshot stored on the row at delete time.
type deletedState struct {
	Name         string `json:"name"`
	Category     string `json:"category"`
	SerialNumber string `json:"serial_number"`
	Location     string `json:"location"`
	Condition    string `json:"condition"`
	Quantity     int    `json:"quantity"`
	Notes        string `json:"notes"`
	AssignedTo   int64  `json:"assigned_to"`
}

// DeleteItem soft-deletes an item, capturing its field state on the row so
// a later restore does not depend on replaying the audit trail.
func (l *Ledger) DeleteItem(ctx context.Context, sess *auth.Session, itemID int64) error {
	if err := l.gate.Require(sess, access.OpItemDelete); err != nil {
		return err
	}

	unlock := l.db.LockItem(itemID)
	defer unlock()

	now := l.now()
	return l.db.Write(ctx, func(tx *sql.Tx) error {
		it, err := store.GetItemByID(ctx, tx, itemID)
		if err != nil {
			return err
		}
		if it.Status != store.ItemActive {
			return ErrNotFound
		}

		snap, err := json.Marshal(deletedState{
			Name:         it.Name,
			Category:     it.Category,
			SerialNumber: it.SerialNumber,
			Location:     it.Location,
			Condition:    it.Condition,
			Quantity:     it.Quantity,
			Notes:        it.Notes,
			AssignedTo:   it.AssignedTo,
		})
		if err != nil {
			return fmt.Errorf("failed to capture delete snapshot: %w", err)
		}

		summary := summarize(it)
		it.Status = store.ItemDeleted
		it.DeletedSnapshot = string(snap)
		it.UpdatedAt = now
		it.UpdatedBy = sess.EmployeeID
		if err := store.UpdateItemRow(ctx, tx, it); err != nil {
			return err
		}
		return store.InsertAuditEntry(ctx, tx, &store.AuditEntry{
			ItemID:        itemID,
			Action:        store.AuditDelete,
			OldValue:      summary,
			ActorID:       sess.EmployeeID,
			ActorUsername: sess.Username,
			CreatedAt:     now,
		})
	})
}

// RestoreItem reverses the most recent delete. It is valid only while the
// delete is the item's latest ledger entry; any later mutation makes the
// restore ambiguous and fails with ErrRestoreConflict.
func (l *Ledger) RestoreItem(ctx context.Context, sess *auth.Session, itemID int64) error {
	if err := l.gate.Require(sess, access.OpItemRestore); err != nil {
		return err
	}

	unlock := l.db.LockItem(itemID)
	defer unlock()

	now := l.now()
	return l.db.Write(ctx, func(tx *sql.Tx) error {
		it, err := store.GetItemByID(ctx, tx, itemID)
		if err != nil {
			return err
		}
		if it.Status != store.ItemDeleted {
			return ErrNotFound
		}

		latest, err := store.LatestAuditEntryForItem(ctx, tx, itemID)
		if err != nil {
			return err
		}
		if latest == nil || latest.Action != store.AuditDelete {
			return ErrRestoreConflict
		}

		var snap deletedState
		if err := json.Unmarshal([]byte(it.DeletedSnapshot), &snap); err != nil {
			return fmt.Errorf("delete snapshot unreadable: %w", err)
		}

		it.Name = snap.Name
		it.Category = snap.Category
		it.SerialNumber = snap.SerialNumber
		it.Location = snap.Location
		it.Condition = snap.Condition
		it.Quantity = snap.Quantity
		it.Notes = snap.Notes
		it.AssignedTo = snap.AssignedTo
		it.Status = store.ItemActive
		it.DeletedSnapshot = ""
		it.UpdatedAt = now
		it.UpdatedBy = sess.EmployeeID
		if err := store.UpdateItemRow(ctx, tx, it); err != nil {
			return err
		}
		return store.InsertAuditEntry(ctx, tx, &store.AuditEntry{
			ItemID:        itemID,
			Action:        store.AuditRestore,
			NewValue:      summarize(it),
			ActorID:       sess.EmployeeID,
			ActorUsername: sess.Username,
			CreatedAt:     now,
		})
	})
}

// =============================================================================
// READS
// =============================================================================

// GetItem returns one live item.
func (l *Ledger) GetItem(ctx context.Context, sess *auth.Session, itemID int64) (*store.Item, error) {
	if err := l.gate.Require(sess, access.OpItemList); err != nil {
		return nil, err
	}
	var it *store.Item
	err := l.db.Read(ctx, func(tx *sql.Tx) error {
		var err error
		it, err = store.GetItemByID(ctx, tx, itemID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if it.Status != store.ItemActive {
		return nil, ErrNotFound
	}
	return it, nil
}

// ListItems returns items matching the filter, ordered stably by ID.
func (l *Ledger) ListItems(ctx context.Context, sess *auth.Session, f store.ItemFilter) ([]*store.Item, error) {
	if err := l.gate.Require(sess, access.OpItemList); err != nil {
		return nil, err
	}
	var items []*store.Item
	err := l.db.Read(ctx, func(tx *sql.Tx) error {
		var err error
		items, err = store.ListItems(ctx, tx, f)
		return err
	})
	return items, err
}

// GetHistory returns an item's complete audit trail in chronological order.
func (l *Ledger) GetHistory(ctx context.Context, sess *auth.Session, itemID int64) ([]*store.AuditEntry, error) {
	if err := l.gate.Require(sess, access.OpItemHistory); err != nil {
		return nil, err
	}
	var entries []*store.AuditEntry
	err := l.db.Read(ctx, func(tx *sql.Tx) error {
		if _, err := store.GetItemByID(ctx, tx, itemID); err != nil {
			return err
		}
		var err error
		entries, err = store.ListAuditEntriesForItem(ctx, tx, itemID)
		return err
	})
	return entries, err
}
