// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

// schemaSQL creates the three core tables. Timestamps are stored as
// RFC 3339 text in UTC. The employees.username unique index is NOCASE so
// usernames differing only in case collide at insert time.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS employees (
	id                   INTEGER PRIMARY KEY AUTOINCREMENT,
	username             TEXT NOT NULL COLLATE NOCASE UNIQUE,
	password_hash        TEXT NOT NULL,
	first_name           TEXT NOT NULL DEFAULT '',
	last_name            TEXT NOT NULL DEFAULT '',
	role                 TEXT NOT NULL CHECK (role IN ('employee', 'supervisor')),
	is_active            INTEGER NOT NULL DEFAULT 1,
	mfa_secret           TEXT NOT NULL DEFAULT '',
	failed_attempts      INTEGER NOT NULL DEFAULT 0,
	locked_until         TEXT NOT NULL DEFAULT '',
	must_change_password INTEGER NOT NULL DEFAULT 0,
	password_changed_at  TEXT NOT NULL DEFAULT '',
	last_login_at        TEXT NOT NULL DEFAULT '',
	created_at           TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS items (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	name             TEXT NOT NULL,
	category         TEXT NOT NULL,
	serial_number    TEXT NOT NULL DEFAULT '',
	location         TEXT NOT NULL,
	condition        TEXT NOT NULL CHECK (condition IN ('Excellent', 'Good', 'Fair', 'Poor', 'NeedsOrder')),
	quantity         INTEGER NOT NULL DEFAULT 1,
	notes            TEXT NOT NULL DEFAULT '',
	assigned_to      INTEGER NOT NULL DEFAULT 0,
	status           TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'deleted')),
	deleted_snapshot TEXT NOT NULL DEFAULT '',
	created_at       TEXT NOT NULL,
	created_by       INTEGER NOT NULL DEFAULT 0,
	updated_at       TEXT NOT NULL,
	updated_by       INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS audit_entries (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	item_id        INTEGER NOT NULL,
	action         TEXT NOT NULL CHECK (action IN ('create', 'update', 'delete', 'restore')),
	field          TEXT NOT NULL DEFAULT '',
	old_value      TEXT NOT NULL DEFAULT '',
	new_value      TEXT NOT NULL DEFAULT '',
	actor_id       INTEGER NOT NULL,
	actor_username TEXT NOT NULL,
	created_at     TEXT NOT NULL,
	FOREIGN KEY (item_id) REFERENCES items(id)
);

CREATE INDEX IF NOT EXISTS idx_audit_item ON audit_entries(item_id, id);
CREATE INDEX IF NOT EXISTS idx_items_status ON items(status);
`
