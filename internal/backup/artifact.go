// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backup

import (
	"time"

	"github.com/jeranaias/radiotrack/internal/store"
)

// artifact is the on-disk snapshot format. It carries its own record types
// rather than the store's so the file format stays stable even when the
// internal structs change; a decoder for version N reads any version <= N.
type artifact struct {
	FormatVersion int             `json:"format_version"`
	SnapshotID    string          `json:"snapshot_id"`
	CreatedAt     time.Time       `json:"created_at"`
	Employees     []employeeRec   `json:"employees"`
	Items         []itemRec       `json:"items"`
	AuditEntries  []auditEntryRec `json:"audit_entries"`
}

type employeeRec struct {
	ID                 int64     `json:"id"`
	Username           string    `json:"username"`
	PasswordHash       string    `json:"password_hash"`
	FirstName          string    `json:"first_name"`
	LastName           string    `json:"last_name"`
	Role               string    `json:"role"`
	IsActive           bool      `json:"is_active"`
	MFASecret          string    `json:"mfa_secret"`
	FailedAttempts     int       `json:"failed_attempts"`
	LockedUntil        time.Time `json:"locked_until,omitzero"`
	MustChangePassword bool      `json:"must_change_password"`
	PasswordChangedAt  time.Time `json:"password_changed_at,omitzero"`
	LastLoginAt        time.Time `json:"last_login_at,omitzero"`
	CreatedAt          time.Time `json:"created_at,omitzero"`
}

type itemRec struct {
	ID              int64     `json:"id"`
	Name            string    `json:"name"`
	Category        string    `json:"category"`
	SerialNumber    string    `json:"serial_number"`
	Location        string    `json:"location"`
	Condition       string    `json:"condition"`
	Quantity        int       `json:"quantity"`
	Notes           string    `json:"notes"`
	AssignedTo      int64     `json:"assigned_to"`
	Status          string    `json:"status"`
	DeletedSnapshot string    `json:"deleted_snapshot,omitempty"`
	CreatedAt       time.Time `json:"created_at,omitzero"`
	CreatedBy       int64     `json:"created_by"`
	UpdatedAt       time.Time `json:"updated_at,omitzero"`
	UpdatedBy       int64     `json:"updated_by"`
}

type auditEntryRec struct {
	ID            int64     `json:"id"`
	ItemID        int64     `json:"item_id"`
	Action        string    `json:"action"`
	Field         string    `json:"field,omitempty"`
	OldValue      string    `json:"old_value,omitempty"`
	NewValue      string    `json:"new_value,omitempty"`
	ActorID       int64     `json:"actor_id"`
	ActorUsername string    `json:"actor_username"`
	CreatedAt     time.Time `json:"created_at"`
}

func artifactFromState(id string, createdAt time.Time, st *store.State) *artifact {
	art := &artifact{
		FormatVersion: formatVersion,
		SnapshotID:    id,
		CreatedAt:     createdAt,
		Employees:     make([]employeeRec, 0, len(st.Employees)),
		Items:         make([]itemRec, 0, len(st.Items)),
		AuditEntries:  make([]auditEntryRec, 0, len(st.AuditEntries)),
	}
	for _, e := range st.Employees {
		art.Employees = append(art.Employees, employeeRec{
			ID:                 e.ID,
			Username:           e.Username,
			PasswordHash:       e.PasswordHash,
			FirstName:          e.FirstName,
			LastName:           e.LastName,
			Role:               e.Role,
			IsActive:           e.IsActive,
			MFASecret:          e.MFASecret,
			FailedAttempts:     e.FailedAttempts,
			LockedUntil:        e.LockedUntil,
			MustChangePassword: e.MustChangePassword,
			PasswordChangedAt:  e.PasswordChangedAt,
			LastLoginAt:        e.LastLoginAt,
			CreatedAt:          e.CreatedAt,
		})
	}
	for _, it := range st.Items {
		art.Items = append(art.Items, itemRec{
			ID:              it.ID,
			Name:            it.Name,
			Category:        it.Category,
			SerialNumber:    it.SerialNumber,
			Location:        it.Location,
			Condition:       it.Condition,
			Quantity:        it.Quantity,
			Notes:           it.Notes,
			AssignedTo:      it.AssignedTo,
			Status:          it.Status,
			DeletedSnapshot: it.DeletedSnapshot,
			CreatedAt:       it.CreatedAt,
			CreatedBy:       it.CreatedBy,
			UpdatedAt:       it.UpdatedAt,
			UpdatedBy:       it.UpdatedBy,
		})
	}
	for _, a := range st.AuditEntries {
		art.AuditEntries = append(art.AuditEntries, auditEntryRec{
			ID:            a.ID,
			ItemID:        a.ItemID,
			Action:        a.Action,
			Field:         a.Field,
			OldValue:      a.OldValue,
			NewValue:      a.NewValue,
			ActorID:       a.ActorID,
			ActorUsername: a.ActorUsername,
			CreatedAt:     a.CreatedAt,
		})
	}
	return art
}

func (art *artifact) toState() *store.State {
	st := &store.State{
		Employees:    make([]*store.Employee, 0, len(art.Employees)),
		Items:        make([]*store.Item, 0, len(art.Items)),
		AuditEntries: make([]*store.AuditEntry, 0, len(art.AuditEntries)),
	}
	for _, e := range art.Employees {
		st.Employees = append(st.Employees, &store.Employee{
			ID:                 e.ID,
			Username:           e.Username,
			PasswordHash:       e.PasswordHash,
			FirstName:          e.FirstName,
			LastName:           e.LastName,
			Role:               e.Role,
			IsActive:           e.IsActive,
			MFASecret:          e.MFASecret,
			FailedAttempts:     e.FailedAttempts,
			LockedUntil:        e.LockedUntil,
			MustChangePassword: e.MustChangePassword,
			PasswordChangedAt:  e.PasswordChangedAt,
			LastLoginAt:        e.LastLoginAt,
			CreatedAt:          e.CreatedAt,
		})
	}
	for _, it := range art.Items {
		st.Items = append(st.Items, &store.Item{
			ID:              it.ID,
			Name:            it.Name,
			Category:        it.Category,
			SerialNumber:    it.SerialNumber,
			Location:        it.Location,
			Condition:       it.Condition,
			Quantity:        it.Quantity,
			Notes:           it.Notes,
			AssignedTo:      it.AssignedTo,
			Status:          it.Status,
			DeletedSnapshot: it.DeletedSnapshot,
			CreatedAt:       it.CreatedAt,
			CreatedBy:       it.CreatedBy,
			UpdatedAt:       it.UpdatedAt,
			UpdatedBy:       it.UpdatedBy,
		})
	}
	for _, a := range art.AuditEntries {
		st.AuditEntries = append(st.AuditEntries, &store.AuditEntry{
			ID:            a.ID,
			ItemID:        a.ItemID,
			Action:        a.Action,
			Field:         a.Field,
			OldValue:      a.OldValue,
			NewValue:      a.NewValue,
			ActorID:       a.ActorID,
			ActorUsername: a.ActorUsername,
			CreatedAt:     a.CreatedAt,
		})
	}
	return st
}
