// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package inventory

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jeranaias/radiotrack/internal/access"
	"github.com/jeranaias/radiotrack/internal/audit"
	"github.com/jeranaias/radiotrack/internal/auth"
	"github.com/jeranaias/radiotrack/internal/store"
)

var (
	testCategories = []string{"Portable Radios", "Antennas", "Other"}
	testLocations  = []string{"Control Center", "Tower 1", "Maintenance Shop"}
)

func newTestLedger(t *testing.T) (*Ledger, *store.DB) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	gate := access.NewGate(audit.Disabled())
	return NewLedger(db, gate, NewSets(testCategories, testLocations)), db
}

func supSession() *auth.Session {
	return &auth.Session{Token: "sess_sup", EmployeeID: 1, Username: "admin", Role: store.RoleSupervisor}
}

func empSession() *auth.Session {
	return &auth.Session{Token: "sess_emp", EmployeeID: 2, Username: "jsmith", Role: store.RoleEmployee}
}

func validFields() ItemFields {
	return ItemFields{
		Name:      "Motorola APX 6000",
		Category:  "Portable Radios",
		Location:  "Control Center",
		Condition: "Good",
		Quantity:  4,
		Notes:     "shift radios",
	}
}

func history(t *testing.T, db *store.DB, itemID int64) []*store.AuditEntry {
	t.Helper()
	var entries []*store.AuditEntry
	err := db.Read(context.Background(), func(tx *sql.Tx) error {
		var err error
		entries, err = store.ListAuditEntriesForItem(context.Background(), tx, itemID)
		return err
	})
	require.NoError(t, err)
	return entries
}

// =============================================================================
// CREATE
// =============================================================================

func TestCreateItemWritesCreateEntry(t *testing.T) {
	l, db := newTestLedger(t)
	ctx := context.Background()

	id, err := l.CreateItem(ctx, supSession(), validFields())
	require.NoError(t, err)
	require.NotZero(t, id)

	entries := history(t, db, id)
	require.Len(t, entries, 1)
	require.Equal(t, store.AuditCreate, entries[0].Action)
	require.Contains(t, entries[0].NewValue, "Motorola APX 6000")
	require.Equal(t, "admin", entries[0].ActorUsername)
}

func TestCreateItemValidation(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*ItemFields)
	}{
		{"unknown category", func(f *ItemFields) { f.Category = "Drones" }},
		{"unknown location", func(f *ItemFields) { f.Location = "Moon Base" }},
		{"unknown condition", func(f *ItemFields) { f.Condition = "Shiny" }},
		{"missing name", func(f *ItemFields) { f.Name = "" }},
		{"negative quantity", func(f *ItemFields) { f.Quantity = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := validFields()
			tt.mutate(&f)
			_, err := l.CreateItem(ctx, supSession(), f)
			require.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestCreateItemUnknownAssignee(t *testing.T) {
	l, _ := newTestLedger(t)
	f := validFields()
	f.AssignedTo = 42
	_, err := l.CreateItem(context.Background(), supSession(), f)
	require.ErrorIs(t, err, ErrValidation)
}

func TestCreateItemInactiveAssignee(t *testing.T) {
	l, db := newTestLedger(t)
	ctx := context.Background()

	emp := &store.Employee{Username: "gone", PasswordHash: "x", Role: store.RoleEmployee, IsActive: false, CreatedAt: time.Now()}
	require.NoError(t, db.Write(ctx, func(tx *sql.Tx) error {
		return store.InsertEmployee(ctx, tx, emp)
	}))

	f := validFields()
	f.AssignedTo = emp.ID
	_, err := l.CreateItem(ctx, supSession(), f)
	require.ErrorIs(t, err, ErrValidation)
}

// =============================================================================
// UPDATE
// =============================================================================

func TestUpdateItemAuditChaining(t *testing.T) {
	l, db := newTestLedger(t)
	ctx := context.Background()
	sup := supSession()

	id, err := l.CreateItem(ctx, sup, validFields())
	require.NoError(t, err)

	conditions := []string{"Fair", "Poor", "NeedsOrder", "Good", "Excellent"}
	for _, c := range conditions {
		require.NoError(t, l.UpdateItem(ctx, sup, id, map[string]string{"condition": c}))
	}

	entries := history(t, db, id)
	require.Len(t, entries, 6, "create plus five updates")

	updates := entries[1:]
	prev := "Good"
	for i, e := range updates {
		require.Equal(t, store.AuditUpdate, e.Action)
		require.Equal(t, "condition", e.Field)
		require.Equal(t, prev, e.OldValue, "entry %d old value must chain", i)
		require.Equal(t, conditions[i], e.NewValue)
		prev = e.NewValue
	}
}

func TestUpdateItemNoOpWritesNothing(t *testing.T) {
	l, db := newTestLedger(t)
	ctx := context.Background()
	sup := supSession()

	id, err := l.CreateItem(ctx, sup, validFields())
	require.NoError(t, err)

	before := history(t, db, id)
	require.NoError(t, l.UpdateItem(ctx, sup, id, map[string]string{
		"condition": "Good",
		"location":  "Control Center",
		"quantity":  "4",
	}))
	after := history(t, db, id)
	require.Equal(t, len(before), len(after), "no-op update must not append entries")
}

func TestUpdateItemMultipleFieldsOneCall(t *testing.T) {
	l, db := newTestLedger(t)
	ctx := context.Background()
	sup := supSession()

	id, err := l.CreateItem(ctx, sup, validFields())
	require.NoError(t, err)

	require.NoError(t, l.UpdateItem(ctx, sup, id, map[string]string{
		"condition": "Poor",
		"location":  "Maintenance Shop",
		"notes":     "sent for repair",
	}))

	entries := history(t, db, id)
	require.Len(t, entries, 4, "create plus one entry per changed field")

	item, err := l.GetItem(ctx, sup, id)
	require.NoError(t, err)
	require.Equal(t, "Poor", item.Condition)
	require.Equal(t, "Maintenance Shop", item.Location)
	require.Equal(t, sup.EmployeeID, item.UpdatedBy)
}

func TestUpdateItemEmployeeFieldRestrictions(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	id, err := l.CreateItem(ctx, supSession(), validFields())
	require.NoError(t, err)

	emp := empSession()
	require.NoError(t, l.UpdateItem(ctx, emp, id, map[string]string{"condition": "Fair"}))
	require.NoError(t, l.UpdateItem(ctx, emp, id, map[string]string{"notes": "scratched case"}))

	err = l.UpdateItem(ctx, emp, id, map[string]string{"category": "Antennas"})
	require.ErrorIs(t, err, access.ErrForbidden)
	err = l.UpdateItem(ctx, emp, id, map[string]string{"name": "renamed"})
	require.ErrorIs(t, err, access.ErrForbidden)
}

func TestUpdateItemNotFound(t *testing.T) {
	l, _ := newTestLedger(t)
	err := l.UpdateItem(context.Background(), supSession(), 999, map[string]string{"notes": "x"})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateItemUnknownField(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	id, err := l.CreateItem(ctx, supSession(), validFields())
	require.NoError(t, err)

	err = l.UpdateItem(ctx, supSession(), id, map[string]string{"color": "red"})
	require.ErrorIs(t, err, ErrValidation)
}

func TestUpdateItemValidationLeavesNoTrace(t *testing.T) {
	l, db := newTestLedger(t)
	ctx := context.Background()
	sup := supSession()
	id, err := l.CreateItem(ctx, sup, validFields())
	require.NoError(t, err)

	// One good change and one bad one in the same call: nothing lands.
	err = l.UpdateItem(ctx, sup, id, map[string]string{
		"condition": "Poor",
		"category":  "Drones",
	})
	require.ErrorIs(t, err, ErrValidation)

	item, err := l.GetItem(ctx, sup, id)
	require.NoError(t, err)
	require.Equal(t, "Good", item.Condition, "partial update must roll back")
	require.Len(t, history(t, db, id), 1)
}

// =============================================================================
// DELETE / RESTORE
// =============================================================================

func TestDeleteRestoreRoundTrip(t *testing.T) {
	l, db := newTestLedger(t)
	ctx := context.Background()
	sup := supSession()

	id, err := l.CreateItem(ctx, sup, validFields())
	require.NoError(t, err)
	before, err := l.GetItem(ctx, sup, id)
	require.NoError(t, err)

	require.NoError(t, l.DeleteItem(ctx, sup, id))

	// Deleted items disappear from active views.
	_, err = l.GetItem(ctx, sup, id)
	require.ErrorIs(t, err, ErrNotFound)
	items, err := l.ListItems(ctx, sup, store.ItemFilter{})
	require.NoError(t, err)
	require.Empty(t, items)

	require.NoError(t, l.RestoreItem(ctx, sup, id))

	after, err := l.GetItem(ctx, sup, id)
	require.NoError(t, err)
	require.Equal(t, before.Name, after.Name)
	require.Equal(t, before.Category, after.Category)
	require.Equal(t, before.SerialNumber, after.SerialNumber)
	require.Equal(t, before.Location, after.Location)
	require.Equal(t, before.Condition, after.Condition)
	require.Equal(t, before.Quantity, after.Quantity)
	require.Equal(t, before.Notes, after.Notes)
	require.Equal(t, before.AssignedTo, after.AssignedTo)

	entries := history(t, db, id)
	require.Len(t, entries, 3)
	require.Equal(t, store.AuditDelete, entries[1].Action)
	require.Equal(t, store.AuditRestore, entries[2].Action)
}

func TestDeleteItemEmployeeForbiddenNoSideEffect(t *testing.T) {
	l, db := newTestLedger(t)
	ctx := context.Background()

	id, err := l.CreateItem(ctx, supSession(), validFields())
	require.NoError(t, err)
	before := history(t, db, id)

	err = l.DeleteItem(ctx, empSession(), id)
	require.ErrorIs(t, err, access.ErrForbidden)

	// Denied attempt changes nothing.
	item, err := l.GetItem(ctx, supSession(), id)
	require.NoError(t, err)
	require.Equal(t, store.ItemActive, item.Status)
	require.Equal(t, len(before), len(history(t, db, id)))
}

func TestRestoreActiveItemNotApplicable(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	id, err := l.CreateItem(ctx, supSession(), validFields())
	require.NoError(t, err)

	err = l.RestoreItem(ctx, supSession(), id)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRestoreConflict(t *testing.T) {
	l, db := newTestLedger(t)
	ctx := context.Background()
	sup := supSession()

	id, err := l.CreateItem(ctx, sup, validFields())
	require.NoError(t, err)
	require.NoError(t, l.DeleteItem(ctx, sup, id))

	// A ledger entry written after the delete makes the restore ambiguous.
	require.NoError(t, db.Write(ctx, func(tx *sql.Tx) error {
		return store.InsertAuditEntry(ctx, tx, &store.AuditEntry{
			ItemID: id, Action: store.AuditUpdate, Field: "notes",
			ActorID: 1, ActorUsername: "admin", CreatedAt: time.Now(),
		})
	}))

	err = l.RestoreItem(ctx, sup, id)
	require.ErrorIs(t, err, ErrRestoreConflict)
}

func TestDoubleDelete(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	sup := supSession()
	id, err := l.CreateItem(ctx, sup, validFields())
	require.NoError(t, err)

	require.NoError(t, l.DeleteItem(ctx, sup, id))
	err = l.DeleteItem(ctx, sup, id)
	require.ErrorIs(t, err, ErrNotFound)
}

// =============================================================================
// READS
// =============================================================================

func TestListItemsFilterByCondition(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	sup := supSession()

	f1 := validFields()
	_, err := l.CreateItem(ctx, sup, f1)
	require.NoError(t, err)

	f2 := validFields()
	f2.Name = "Spare Antenna"
	f2.Category = "Antennas"
	f2.Condition = "Poor"
	id2, err := l.CreateItem(ctx, sup, f2)
	require.NoError(t, err)

	items, err := l.ListItems(ctx, sup, store.ItemFilter{Condition: "Poor"})
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, id2, items[0].ID)

	items, err = l.ListItems(ctx, sup, store.ItemFilter{Category: "Antennas"})
	require.NoError(t, err)
	require.Len(t, items, 1)
}

func TestGetHistorySupervisorOnly(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	id, err := l.CreateItem(ctx, supSession(), validFields())
	require.NoError(t, err)

	_, err = l.GetHistory(ctx, empSession(), id)
	require.ErrorIs(t, err, access.ErrForbidden)

	entries, err := l.GetHistory(ctx, supSession(), id)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestSetsHotReload(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	f := validFields()
	f.Category = "Test Equipment"
	_, err := l.CreateItem(ctx, supSession(), f)
	require.ErrorIs(t, err, ErrValidation)

	l.Sets().Replace(append(testCategories, "Test Equipment"), testLocations)

	_, err = l.CreateItem(ctx, supSession(), f)
	require.NoError(t, err)
}
