// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export renders inventory data as plain records for external
// reporting. Everything here is read-only: records are detached copies,
// never live handles into the store.
package export

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jeranaias/radiotrack/internal/access"
	"github.com/jeranaias/radiotrack/internal/auth"
	"github.com/jeranaias/radiotrack/internal/inventory"
	"github.com/jeranaias/radiotrack/internal/store"
)

// Format selects the output rendition.
type Format string

const (
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
)

// ErrUnknownFormat is returned for a format other than json or markdown.
var ErrUnknownFormat = errors.New("unknown export format")

// ItemRecord is one inventory row as handed to a reporting collaborator.
// Assignee and actor IDs are resolved to usernames; credentials and other
// account fields never appear here.
type ItemRecord struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Category     string    `json:"category"`
	SerialNumber string    `json:"serial_number"`
	Location     string    `json:"location"`
	Condition    string    `json:"condition"`
	Quantity     int       `json:"quantity"`
	Notes        string    `json:"notes"`
	AssignedTo   string    `json:"assigned_to,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitzero"`
	UpdatedBy    string    `json:"updated_by,omitempty"`
}

// HistoryRecord is one audit trail row for a single item.
type HistoryRecord struct {
	Action   string    `json:"action"`
	Field    string    `json:"field,omitempty"`
	OldValue string    `json:"old_value,omitempty"`
	NewValue string    `json:"new_value,omitempty"`
	Actor    string    `json:"actor"`
	At       time.Time `json:"at"`
}

// itemReport is the JSON envelope for an item export.
type itemReport struct {
	GeneratedAt time.Time    `json:"generated_at"`
	ItemCount   int          `json:"item_count"`
	Items       []ItemRecord `json:"items"`
}

// historyReport is the JSON envelope for a history export.
type historyReport struct {
	GeneratedAt time.Time       `json:"generated_at"`
	ItemID      int64           `json:"item_id"`
	ItemName    string          `json:"item_name"`
	Entries     []HistoryRecord `json:"entries"`
}

// Exporter produces reporting renditions from the ledger.
type Exporter struct {
	ledger *inventory.Ledger
	db     *store.DB
	gate   *access.Gate

	now func() time.Time
}

// NewExporter wires the exporter.
func NewExporter(ledger *inventory.Ledger, db *store.DB, gate *access.Gate) *Exporter {
	return &Exporter{ledger: ledger, db: db, gate: gate, now: time.Now}
}

// Items renders the matching active items in the requested format.
func (x *Exporter) Items(ctx context.Context, sess *auth.Session, f store.ItemFilter, format Format) ([]byte, error) {
	if err := x.gate.Require(sess, access.OpExport); err != nil {
		return nil, err
	}

	items, err := x.ledger.ListItems(ctx, sess, f)
	if err != nil {
		return nil, err
	}
	names, err := x.usernames(ctx)
	if err != nil {
		return nil, err
	}

	records := make([]ItemRecord, 0, len(items))
	for _, it := range items {
		records = append(records, ItemRecord{
			ID:           it.ID,
			Name:         it.Name,
			Category:     it.Category,
			SerialNumber: it.SerialNumber,
			Location:     it.Location,
			Condition:    it.Condition,
			Quantity:     it.Quantity,
			Notes:        it.Notes,
			AssignedTo:   names[it.AssignedTo],
			UpdatedAt:    it.UpdatedAt,
			UpdatedBy:    names[it.UpdatedBy],
		})
	}

	switch format {
	case FormatJSON:
		return marshalReport(itemReport{
			GeneratedAt: x.now(),
			ItemCount:   len(records),
			Items:       records,
		})
	case FormatMarkdown:
		return x.itemsMarkdown(records), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// History renders one item's full audit trail in the requested format.
func (x *Exporter) History(ctx context.Context, sess *auth.Session, itemID int64, format Format) ([]byte, error) {
	if err := x.gate.Require(sess, access.OpExport); err != nil {
		return nil, err
	}

	entries, err := x.ledger.GetHistory(ctx, sess, itemID)
	if err != nil {
		return nil, err
	}

	var itemName string
	err = x.db.Read(ctx, func(tx *sql.Tx) error {
		it, err := store.GetItemByID(ctx, tx, itemID)
		if err != nil {
			return err
		}
		itemName = it.Name
		return nil
	})
	if err != nil {
		return nil, err
	}

	records := make([]HistoryRecord, 0, len(entries))
	for _, a := range entries {
		records = append(records, HistoryRecord{
			Action:   a.Action,
			Field:    a.Field,
			OldValue: a.OldValue,
			NewValue: a.NewValue,
			Actor:    a.ActorUsername,
			At:       a.CreatedAt,
		})
	}

	switch format {
	case FormatJSON:
		return marshalReport(historyReport{
			GeneratedAt: x.now(),
			ItemID:      itemID,
			ItemName:    itemName,
			Entries:     records,
		})
	case FormatMarkdown:
		return x.historyMarkdown(itemID, itemName, records), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// usernames maps every employee ID to its username. Zero (unassigned or
// system) maps to the empty string.
func (x *Exporter) usernames(ctx context.Context) (map[int64]string, error) {
	names := map[int64]string{0: ""}
	err := x.db.Read(ctx, func(tx *sql.Tx) error {
		employees, err := store.ListEmployees(ctx, tx)
		if err != nil {
			return err
		}
		for _, e := range employees {
			names[e.ID] = e.Username
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}

func marshalReport(v any) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode report: %w", err)
	}
	return append(data, '\n'), nil
}

// =============================================================================
// MARKDOWN RENDERING
// =============================================================================

func (x *Exporter) itemsMarkdown(records []ItemRecord) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "# Inventory Report\n\n")
	fmt.Fprintf(&b, "Generated: %s | Items: %d\n\n",
		x.now().Format("2006-01-02 15:04:05 MST"), len(records))
	b.WriteString("| ID | Name | Category | Serial | Location | Condition | Qty | Assigned To |\n")
	b.WriteString("|----|------|----------|--------|----------|-----------|-----|-------------|\n")
	for _, r := range records {
		fmt.Fprintf(&b, "| %d | %s | %s | %s | %s | %s | %d | %s |\n",
			r.ID, mdCell(r.Name), mdCell(r.Category), mdCell(r.SerialNumber),
			mdCell(r.Location), mdCell(r.Condition), r.Quantity, mdCell(r.AssignedTo))
	}
	return []byte(b.String())
}

func (x *Exporter) historyMarkdown(itemID int64, itemName string, records []HistoryRecord) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "# History: %s (item %d)\n\n", mdCell(itemName), itemID)
	fmt.Fprintf(&b, "Generated: %s\n\n", x.now().Format("2006-01-02 15:04:05 MST"))
	b.WriteString("| When | Action | Field | Old | New | By |\n")
	b.WriteString("|------|--------|-------|-----|-----|----|\n")
	for _, r := range records {
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %s |\n",
			r.At.Format("2006-01-02 15:04:05"), r.Action, mdCell(r.Field),
			mdCell(r.OldValue), mdCell(r.NewValue), mdCell(r.Actor))
	}
	return []byte(b.String())
}

// mdCell keeps cell text from breaking the table layout.
func mdCell(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	return strings.ReplaceAll(s, "\n", " ")
}
