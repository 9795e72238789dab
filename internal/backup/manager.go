// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package backup produces, verifies, and restores point-in-time snapshots
// of the whole store.
//
// A snapshot is two files in the backup directory: the artifact
// (snap_<id>.json, the versioned full dump) and its sidecar
// (snap_<id>.meta) carrying checksum, row counts, and verification status.
// Verification re-reads the artifact from disk and re-hashes it, so a
// snapshot is only ever marked Verified by bytes that actually landed.
package backup

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/radiotrack/internal/access"
	"github.com/jeranaias/radiotrack/internal/audit"
	"github.com/jeranaias/radiotrack/internal/auth"
	"github.com/jeranaias/radiotrack/internal/store"
	"github.com/jeranaias/radiotrack/internal/util"
)

// formatVersion is the artifact schema version. Restore accepts artifacts
// at or below this version; unknown fields from a hypothetical newer writer
// are ignored by the JSON decoder anyway.
const formatVersion = 1

// Snapshot statuses.
const (
	StatusPending  = "pending"
	StatusVerified = "verified"
	StatusCorrupt  = "corrupt"
)

// Sentinel errors.
var (
	// ErrIntegrity is returned when a snapshot's bytes do not match its
	// recorded checksum.
	ErrIntegrity = errors.New("snapshot integrity check failed")

	// ErrRestore is returned when restore preconditions are unmet.
	ErrRestore = errors.New("restore preconditions not met")

	// ErrSnapshotNotFound is returned for an unknown snapshot ID.
	ErrSnapshotNotFound = errors.New("snapshot not found")
)

// Meta is the snapshot sidecar.
type Meta struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Checksum  string    `json:"checksum"`
	Status    string    `json:"status"`
	RowCounts RowCounts `json:"row_counts"`
}

// RowCounts records per-table row counts at capture time.
type RowCounts struct {
	Employees    int `json:"employees"`
	Items        int `json:"items"`
	AuditEntries int `json:"audit_entries"`
}

// Manager captures and restores snapshots.
type Manager struct {
	db        *store.DB
	gate      *access.Gate
	log       *audit.Logger
	dir       string
	retention int

	now func() time.Time
}

// NewManager wires the backup manager. dir is created on first use.
func NewManager(db *store.DB, gate *access.Gate, log *audit.Logger, dir string, retention int) *Manager {
	return &Manager{
		db:        db,
		gate:      gate,
		log:       log,
		dir:       dir,
		retention: retention,
		now:       time.Now,
	}
}

func (m *Manager) artifactPath(id string) string {
	return filepath.Join(m.dir, "snap_"+id+".json")
}

func (m *Manager) metaPath(id string) string {
	return filepath.Join(m.dir, "snap_"+id+".meta")
}

// =============================================================================
// CAPTURE
// =============================================================================

// CreateSnapshot captures a consistent snapshot of the entire store,
// verifies it by independent re-read, and applies retention. The capture
// holds the store-wide exclusive lock, so no mutation is ever half-visible
// in the artifact.
func (m *Manager) CreateSnapshot(ctx context.Context, sess *auth.Session) (*Meta, error) {
	if err := m.gate.Require(sess, access.OpBackupCreate); err != nil {
		return nil, err
	}
	return m.createSnapshot(ctx, sess.Username)
}

// createSnapshot is the ungated capture path, shared with the pre-restore
// safety snapshot and the external scheduler entry point.
func (m *Manager) createSnapshot(ctx context.Context, actor string) (*Meta, error) {
	var st *store.State
	err := m.db.Exclusive(ctx, func(tx *sql.Tx) error {
		var err error
		st, err = store.DumpState(ctx, tx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("snapshot capture failed: %w", err)
	}

	id := uuid.NewString()
	now := m.now()
	art := artifactFromState(id, now, st)

	data, err := json.MarshalIndent(art, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("snapshot encode failed: %w", err)
	}
	if err := util.AtomicWriteFileWithDir(m.artifactPath(id), data, 0600, 0700); err != nil {
		return nil, fmt.Errorf("snapshot write failed: %w", err)
	}

	meta := &Meta{
		ID:        id,
		CreatedAt: now,
		Checksum:  checksum(data),
		Status:    StatusPending,
		RowCounts: RowCounts{
			Employees:    len(st.Employees),
			Items:        len(st.Items),
			AuditEntries: len(st.AuditEntries),
		},
	}
	if err := m.writeMeta(meta); err != nil {
		return nil, err
	}

	// Independent re-read: trust only what is on disk.
	if err := m.verify(meta); err != nil {
		meta.Status = StatusCorrupt
		m.writeMeta(meta)
		m.log.LogError(audit.EventBackupCorrupt, actor, "snapshot "+id, err)
		return meta, fmt.Errorf("%w: %v", ErrIntegrity, err)
	}

	meta.Status = StatusVerified
	if err := m.writeMeta(meta); err != nil {
		return nil, err
	}
	m.log.LogAuth(audit.EventBackupCreated, actor, "",
		fmt.Sprintf("snapshot %s (%d items, %d employees, %d audit entries)",
			id, meta.RowCounts.Items, meta.RowCounts.Employees, meta.RowCounts.AuditEntries), true)

	m.prune()
	return meta, nil
}

// CreateScheduledSnapshot is the entry point for the external scheduler; it
// bypasses the session gate because no caller session exists.
func (m *Manager) CreateScheduledSnapshot(ctx context.Context) (*Meta, error) {
	return m.createSnapshot(ctx, "scheduler")
}

func (m *Manager) writeMeta(meta *Meta) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("meta encode failed: %w", err)
	}
	if err := util.AtomicWriteFileWithDir(m.metaPath(meta.ID), data, 0600, 0700); err != nil {
		return fmt.Errorf("meta write failed: %w", err)
	}
	return nil
}

// verify re-reads the artifact, re-hashes it, and confirms it parses.
func (m *Manager) verify(meta *Meta) error {
	data, err := os.ReadFile(m.artifactPath(meta.ID))
	if err != nil {
		return err
	}
	if checksum(data) != meta.Checksum {
		return fmt.Errorf("checksum mismatch")
	}
	var art artifact
	if err := json.Unmarshal(data, &art); err != nil {
		return fmt.Errorf("artifact unreadable: %w", err)
	}
	if art.SnapshotID != meta.ID {
		return fmt.Errorf("artifact identity mismatch")
	}
	return nil
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// =============================================================================
// LISTING / VERIFICATION
// =============================================================================

// ListSnapshots returns all snapshot sidecars, newest first.
func (m *Manager) ListSnapshots(sess *auth.Session) ([]*Meta, error) {
	if err := m.gate.Require(sess, access.OpBackupList); err != nil {
		return nil, err
	}
	return m.list()
}

func (m *Manager) list() ([]*Meta, error) {
	entries, err := os.ReadDir(m.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	var out []*Meta
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".meta") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(m.dir, e.Name()))
		if err != nil {
			continue
		}
		var meta Meta
		if err := json.Unmarshal(data, &meta); err != nil {
			continue
		}
		out = append(out, &meta)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// VerifySnapshot re-checks a snapshot against its recorded checksum and
// downgrades its status to Corrupt on mismatch.
func (m *Manager) VerifySnapshot(sess *auth.Session, id string) error {
	if err := m.gate.Require(sess, access.OpBackupList); err != nil {
		return err
	}
	meta, err := m.readMeta(id)
	if err != nil {
		return err
	}
	if err := m.verify(meta); err != nil {
		meta.Status = StatusCorrupt
		m.writeMeta(meta)
		return fmt.Errorf("%w: %v", ErrIntegrity, err)
	}
	return nil
}

func (m *Manager) readMeta(id string) (*Meta, error) {
	data, err := os.ReadFile(m.metaPath(id))
	if os.IsNotExist(err) {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot meta: %w", err)
	}
	var meta Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("snapshot meta unreadable: %w", err)
	}
	return &meta, nil
}

// =============================================================================
// RESTORE
// =============================================================================

// RestoreSnapshot replaces the live store with a Verified snapshot's
// contents. The artifact is fully loaded and validated in memory before the
// store is touched, and a safety snapshot is captured first, so a failed
// restore leaves the live store intact and a bad restore is reversible.
func (m *Manager) RestoreSnapshot(ctx context.Context, sess *auth.Session, id string) error {
	if err := m.gate.Require(sess, access.OpBackupRestore); err != nil {
		return err
	}

	meta, err := m.readMeta(id)
	if err != nil {
		return err
	}
	if meta.Status != StatusVerified {
		return fmt.Errorf("%w: snapshot %s is %s, not %s", ErrRestore, id, meta.Status, StatusVerified)
	}

	data, err := os.ReadFile(m.artifactPath(id))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRestore, err)
	}
	if checksum(data) != meta.Checksum {
		meta.Status = StatusCorrupt
		m.writeMeta(meta)
		return fmt.Errorf("%w: checksum mismatch", ErrIntegrity)
	}

	var art artifact
	if err := json.Unmarshal(data, &art); err != nil {
		return fmt.Errorf("%w: artifact unreadable: %v", ErrRestore, err)
	}
	if art.FormatVersion > formatVersion {
		return fmt.Errorf("%w: artifact format v%d is newer than supported v%d",
			ErrRestore, art.FormatVersion, formatVersion)
	}
	st := art.toState()

	// Safety net before the destructive step.
	safety, err := m.createSnapshot(ctx, sess.Username)
	if err != nil {
		return fmt.Errorf("pre-restore safety snapshot failed: %w", err)
	}

	err = m.db.Exclusive(ctx, func(tx *sql.Tx) error {
		return store.ReplaceState(ctx, tx, st)
	})
	if err != nil {
		m.log.LogError(audit.EventRestore, sess.Username, "snapshot "+id, err)
		return fmt.Errorf("%w: %v", ErrRestore, err)
	}

	m.log.LogAuth(audit.EventRestore, sess.Username, sess.Token,
		fmt.Sprintf("restored snapshot %s (safety snapshot %s)", id, safety.ID), true)
	return nil
}

// =============================================================================
// RETENTION
// =============================================================================

// prune removes Verified snapshots beyond the retention count, oldest
// first. The most recent Verified snapshot survives even with retention
// misconfigured to zero.
func (m *Manager) prune() {
	metas, err := m.list()
	if err != nil {
		return
	}

	var verified []*Meta
	for _, meta := range metas {
		if meta.Status == StatusVerified {
			verified = append(verified, meta)
		}
	}

	keep := m.retention
	if keep < 1 {
		keep = 1
	}
	if len(verified) <= keep {
		return
	}

	// metas are newest first; everything past keep goes.
	for _, meta := range verified[keep:] {
		os.Remove(m.artifactPath(meta.ID))
		os.Remove(m.metaPath(meta.ID))
	}
}
