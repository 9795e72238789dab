// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package store provides the SQLite persistence layer for radiotrack.
//
// All mutations run inside explicit transactions obtained through the DB
// wrapper, which layers two levels of coordination on top of SQLite's own
// locking:
//
//   - a store-wide RWMutex: ordinary reads and writes take the read side,
//     snapshot and restore take the write side so they observe and replace
//     a frozen store
//   - keyed mutexes: callers serialize mutations touching the same employee
//     or item so concurrent requests interleave at entry granularity
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

// Querier is the subset of database/sql shared by *sql.DB and *sql.Tx.
// Row helpers accept it so they compose inside any transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DB wraps the SQLite handle with transactional helpers and the two lock
// layers described in the package comment.
type DB struct {
	sql *sql.DB

	// mu guards whole-store operations. Write/Read take the read side;
	// Exclusive takes the write side.
	mu sync.RWMutex

	// keyed per-entity locks
	employees keyedMutex
	items     keyedMutex
}

// Open opens (creating if necessary) the database at path and applies the
// schema.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// modernc.org/sqlite serializes access per connection; a single
	// connection avoids SQLITE_BUSY between our own transactions.
	sqlDB.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA cache_size=-8000",
	}
	for _, p := range pragmas {
		if _, err := sqlDB.Exec(p); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("failed to apply %s: %w", p, err)
		}
	}

	if _, err := sqlDB.Exec(schemaSQL); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &DB{sql: sqlDB}, nil
}

// Close closes the underlying handle.
func (d *DB) Close() error {
	return d.sql.Close()
}

// Write runs fn inside an immediate transaction. The transaction is rolled
// back if fn returns an error and committed otherwise. Write holds the read
// side of the store lock, so it excludes snapshot and restore but not other
// writers; callers serialize per-entity via LockEmployee/LockItem.
func (d *DB) Write(ctx context.Context, fn func(tx *sql.Tx) error) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.inTx(ctx, fn)
}

// Read runs fn inside a transaction used only for queries.
func (d *DB) Read(ctx context.Context, fn func(tx *sql.Tx) error) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.inTx(ctx, fn)
}

// Exclusive runs fn while holding the store-wide write lock, excluding every
// concurrent Write and Read. Snapshot capture and restore use this so they
// see (or install) a single consistent state.
func (d *DB) Exclusive(ctx context.Context, fn func(tx *sql.Tx) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inTx(ctx, fn)
}

func (d *DB) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// LockEmployee serializes mutations for one employee, keyed by lowercased
// username. The returned func releases the lock.
func (d *DB) LockEmployee(username string) func() {
	return d.employees.lock(normalizeUsername(username))
}

// LockItem serializes mutations for one inventory item.
func (d *DB) LockItem(id int64) func() {
	return d.items.lock(fmt.Sprintf("%d", id))
}

// =============================================================================
// KEYED MUTEX
// =============================================================================

// keyedMutex hands out one mutex per key, dropping entries once the last
// holder releases them.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyedLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
