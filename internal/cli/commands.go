// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/jeranaias/radiotrack/internal/access"
	"github.com/jeranaias/radiotrack/internal/auth"
	"github.com/jeranaias/radiotrack/internal/backup"
	"github.com/jeranaias/radiotrack/internal/export"
	"github.com/jeranaias/radiotrack/internal/inventory"
	"github.com/jeranaias/radiotrack/internal/store"
	"github.com/jeranaias/radiotrack/internal/util"
)

// =============================================================================
// ITEM COMMANDS
// =============================================================================

func (s *Shell) cmdItems(ctx context.Context, sess *auth.Session, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: items list|add|show|update|delete|restore|history")
	}
	sub := strings.ToLower(args[0])
	rest := args[1:]

	switch sub {
	case "list", "ls":
		return s.itemsList(ctx, sess, rest)
	case "add", "create":
		return s.itemsAdd(ctx, sess)
	case "show":
		return s.itemsShow(ctx, sess, rest)
	case "update", "set":
		return s.itemsUpdate(ctx, sess, rest)
	case "delete", "del", "rm":
		return s.itemsDelete(ctx, sess, rest)
	case "restore":
		return s.itemsRestore(ctx, sess, rest)
	case "history", "hist":
		return s.itemsHistory(ctx, sess, rest)
	default:
		return fmt.Errorf("unknown subcommand %q", sub)
	}
}

// parseItemFilter reads "key value" pairs plus the bare "deleted" flag.
func parseItemFilter(args []string) (store.ItemFilter, error) {
	var f store.ItemFilter
	for i := 0; i < len(args); i++ {
		key := strings.ToLower(args[i])
		if key == "deleted" {
			f.IncludeDeleted = true
			continue
		}
		if i+1 >= len(args) {
			return f, fmt.Errorf("filter %q needs a value", key)
		}
		val := args[i+1]
		i++
		switch key {
		case "search":
			f.Search = val
		case "category":
			f.Category = val
		case "location":
			f.Location = val
		case "condition":
			f.Condition = val
		default:
			return f, fmt.Errorf("unknown filter %q", key)
		}
	}
	return f, nil
}

func (s *Shell) itemsList(ctx context.Context, sess *auth.Session, args []string) error {
	f, err := parseItemFilter(args)
	if err != nil {
		return err
	}
	items, err := s.ledger.ListItems(ctx, sess, f)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Fprintln(s.out, infoStyle.Render("No items."))
		return nil
	}

	fmt.Fprintf(s.out, "%-5s %-28s %-18s %-18s %-10s %4s %s\n",
		"ID", "NAME", "CATEGORY", "LOCATION", "CONDITION", "QTY", "")
	for _, it := range items {
		marker := ""
		if it.Status == store.ItemDeleted {
			marker = warnStyle.Render("[deleted]")
		}
		fmt.Fprintf(s.out, "%-5d %-28s %-18s %-18s %-10s %4d %s\n",
			it.ID, truncate(it.Name, 28), truncate(it.Category, 18),
			truncate(it.Location, 18), it.Condition, it.Quantity, marker)
	}
	fmt.Fprintf(s.out, "%s\n", infoStyle.Render(fmt.Sprintf("%d item(s)", len(items))))
	return nil
}

func (s *Shell) itemsAdd(ctx context.Context, sess *auth.Session) error {
	sets := s.ledger.Sets()

	name, err := s.readInput("name: ")
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "%s %s\n", infoStyle.Render("categories:"), strings.Join(sets.Categories(), ", "))
	category, err := s.readInput("category: ")
	if err != nil {
		return err
	}
	serial, err := s.readInput("serial number (optional): ")
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "%s %s\n", infoStyle.Render("locations:"), strings.Join(sets.Locations(), ", "))
	location, err := s.readInput("location: ")
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "%s %s\n", infoStyle.Render("conditions:"), strings.Join(inventory.Conditions, ", "))
	condition, err := s.readInput("condition: ")
	if err != nil {
		return err
	}
	qtyStr, err := s.readInput("quantity: ")
	if err != nil {
		return err
	}
	qty, err := strconv.Atoi(strings.TrimSpace(qtyStr))
	if err != nil {
		return fmt.Errorf("quantity must be a number")
	}
	notes, err := s.readInput("notes (optional): ")
	if err != nil {
		return err
	}
	assignee, err := s.readInput("assigned to (username, empty for none): ")
	if err != nil {
		return err
	}
	assignedTo, err := s.resolveEmployeeID(ctx, strings.TrimSpace(assignee))
	if err != nil {
		return err
	}

	id, err := s.ledger.CreateItem(ctx, sess, inventory.ItemFields{
		Name:         strings.TrimSpace(name),
		Category:     strings.TrimSpace(category),
		SerialNumber: strings.TrimSpace(serial),
		Location:     strings.TrimSpace(location),
		Condition:    strings.TrimSpace(condition),
		Quantity:     qty,
		Notes:        strings.TrimSpace(notes),
		AssignedTo:   assignedTo,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "%s Item %d created.\n", okStyle.Render("[OK]"), id)
	return nil
}

func (s *Shell) itemsShow(ctx context.Context, sess *auth.Session, args []string) error {
	id, err := parseID(args)
	if err != nil {
		return err
	}
	it, err := s.ledger.GetItem(ctx, sess, id)
	if err != nil {
		return err
	}

	fmt.Fprintln(s.out, headerStyle.Render(fmt.Sprintf("Item %d: %s", it.ID, it.Name)))
	rows := []struct{ k, v string }{
		{"Category", it.Category},
		{"Serial", it.SerialNumber},
		{"Location", it.Location},
		{"Condition", it.Condition},
		{"Quantity", strconv.Itoa(it.Quantity)},
		{"Notes", it.Notes},
		{"Updated", it.UpdatedAt.Format("2006-01-02 15:04:05")},
	}
	for _, r := range rows {
		fmt.Fprintf(s.out, "  %s %s\n", infoStyle.Render(fmt.Sprintf("%-10s", r.k+":")), r.v)
	}
	return nil
}

func (s *Shell) itemsUpdate(ctx context.Context, sess *auth.Session, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: items update ID field=value [field=value ...]")
	}
	id, err := parseID(args[:1])
	if err != nil {
		return err
	}

	changes := make(map[string]string, len(args)-1)
	for _, a := range args[1:] {
		field, val, ok := strings.Cut(a, "=")
		if !ok {
			return fmt.Errorf("expected field=value, got %q", a)
		}
		if field == "assigned_to" && val != "" {
			if _, numErr := strconv.ParseInt(val, 10, 64); numErr != nil {
				// Username given; translate to the employee ID.
				empID, rerr := s.resolveEmployeeID(ctx, val)
				if rerr != nil {
					return rerr
				}
				val = strconv.FormatInt(empID, 10)
			}
		}
		changes[field] = val
	}

	if err := s.ledger.UpdateItem(ctx, sess, id, changes); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "%s Item %d updated.\n", okStyle.Render("[OK]"), id)
	return nil
}

func (s *Shell) itemsDelete(ctx context.Context, sess *auth.Session, args []string) error {
	id, err := parseID(args)
	if err != nil {
		return err
	}
	if err := s.ledger.DeleteItem(ctx, sess, id); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "%s Item %d deleted (restorable).\n", okStyle.Render("[OK]"), id)
	return nil
}

func (s *Shell) itemsRestore(ctx context.Context, sess *auth.Session, args []string) error {
	id, err := parseID(args)
	if err != nil {
		return err
	}
	if err := s.ledger.RestoreItem(ctx, sess, id); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "%s Item %d restored.\n", okStyle.Render("[OK]"), id)
	return nil
}

func (s *Shell) itemsHistory(ctx context.Context, sess *auth.Session, args []string) error {
	id, err := parseID(args)
	if err != nil {
		return err
	}
	entries, err := s.ledger.GetHistory(ctx, sess, id)
	if err != nil {
		return err
	}

	fmt.Fprintln(s.out, headerStyle.Render(fmt.Sprintf("History for item %d", id)))
	for _, e := range entries {
		when := e.CreatedAt.Format("2006-01-02 15:04:05")
		switch e.Action {
		case store.AuditUpdate:
			fmt.Fprintf(s.out, "  %s %s %s: %q → %q (%s)\n",
				infoStyle.Render(when), e.Action, e.Field, e.OldValue, e.NewValue, e.ActorUsername)
		default:
			fmt.Fprintf(s.out, "  %s %s (%s)\n",
				infoStyle.Render(when), e.Action, e.ActorUsername)
		}
	}
	return nil
}

// =============================================================================
// EMPLOYEE COMMANDS
// =============================================================================

func (s *Shell) cmdEmployees(ctx context.Context, sess *auth.Session, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: employees list|add|role|enable|disable|unlock")
	}
	sub := strings.ToLower(args[0])
	rest := args[1:]

	// Everything under employees is supervisor territory; unlock has its
	// own capability so it is gated separately below.
	if sub != "unlock" {
		if err := s.gate.Require(sess, access.OpEmployeeManage); err != nil {
			return err
		}
	}

	switch sub {
	case "list", "ls":
		return s.employeesList(ctx)
	case "add", "create":
		return s.employeesAdd(ctx)
	case "role":
		if len(rest) != 2 {
			return fmt.Errorf("usage: employees role USERNAME employee|supervisor")
		}
		emp, err := s.findEmployee(ctx, rest[0])
		if err != nil {
			return err
		}
		if err := s.auth.SetRole(ctx, emp.ID, strings.ToLower(rest[1])); err != nil {
			return err
		}
		fmt.Fprintf(s.out, "%s %s is now %s.\n", okStyle.Render("[OK]"), emp.Username, strings.ToLower(rest[1]))
		return nil
	case "enable", "disable":
		if len(rest) != 1 {
			return fmt.Errorf("usage: employees %s USERNAME", sub)
		}
		emp, err := s.findEmployee(ctx, rest[0])
		if err != nil {
			return err
		}
		active := sub == "enable"
		if err := s.auth.SetActive(ctx, emp.ID, active); err != nil {
			return err
		}
		fmt.Fprintf(s.out, "%s %s %sd.\n", okStyle.Render("[OK]"), emp.Username, sub)
		return nil
	case "unlock":
		if err := s.gate.Require(sess, access.OpAccountUnlock); err != nil {
			return err
		}
		if len(rest) != 1 {
			return fmt.Errorf("usage: employees unlock USERNAME")
		}
		emp, err := s.findEmployee(ctx, rest[0])
		if err != nil {
			return err
		}
		if err := s.auth.Unlock(ctx, emp.ID); err != nil {
			return err
		}
		fmt.Fprintf(s.out, "%s %s unlocked.\n", okStyle.Render("[OK]"), emp.Username)
		return nil
	default:
		return fmt.Errorf("unknown subcommand %q", sub)
	}
}

func (s *Shell) employeesList(ctx context.Context) error {
	employees, err := s.auth.ListEmployees(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(s.out, "%-16s %-20s %-11s %-8s %-4s %s\n",
		"USERNAME", "NAME", "ROLE", "ACTIVE", "MFA", "LAST LOGIN")
	for _, e := range employees {
		lastLogin := "never"
		if !e.LastLoginAt.IsZero() {
			lastLogin = e.LastLoginAt.Format("2006-01-02 15:04")
		}
		mfa := "no"
		if e.MFASecret != "" {
			mfa = "yes"
		}
		fmt.Fprintf(s.out, "%-16s %-20s %-11s %-8t %-4s %s\n",
			e.Username, truncate(e.FirstName+" "+e.LastName, 20),
			e.Role, e.IsActive, mfa, lastLogin)
	}
	return nil
}

func (s *Shell) employeesAdd(ctx context.Context) error {
	username, err := s.readInput("username: ")
	if err != nil {
		return err
	}
	firstName, err := s.readInput("first name: ")
	if err != nil {
		return err
	}
	lastName, err := s.readInput("last name: ")
	if err != nil {
		return err
	}
	role, err := s.readInput("role (employee/supervisor): ")
	if err != nil {
		return err
	}
	password, err := readSecret("initial password: ")
	if err != nil {
		return err
	}

	emp, err := s.auth.CreateEmployee(ctx,
		strings.TrimSpace(username), password,
		strings.TrimSpace(firstName), strings.TrimSpace(lastName),
		strings.ToLower(strings.TrimSpace(role)))
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "%s Account %s created; password change required at first login.\n",
		okStyle.Render("[OK]"), emp.Username)
	return nil
}

func (s *Shell) cmdSessions(ctx context.Context, sess *auth.Session, args []string) error {
	if len(args) != 2 || strings.ToLower(args[0]) != "revoke" {
		return fmt.Errorf("usage: sessions revoke USERNAME")
	}
	if err := s.gate.Require(sess, access.OpSessionRevoke); err != nil {
		return err
	}
	emp, err := s.findEmployee(ctx, args[1])
	if err != nil {
		return err
	}
	n := s.auth.RevokeSessions(emp.ID, emp.Username)
	fmt.Fprintf(s.out, "%s Revoked %d session(s) for %s.\n", okStyle.Render("[OK]"), n, emp.Username)
	return nil
}

// findEmployee resolves a username to its account row.
func (s *Shell) findEmployee(ctx context.Context, username string) (*store.Employee, error) {
	var emp *store.Employee
	err := s.db.Read(ctx, func(tx *sql.Tx) error {
		var err error
		emp, err = store.GetEmployeeByUsername(ctx, tx, strings.TrimSpace(username))
		return err
	})
	if err != nil {
		return nil, err
	}
	return emp, nil
}

// resolveEmployeeID turns a username into an employee ID; empty means
// unassigned.
func (s *Shell) resolveEmployeeID(ctx context.Context, username string) (int64, error) {
	if username == "" {
		return 0, nil
	}
	emp, err := s.findEmployee(ctx, username)
	if err != nil {
		return 0, err
	}
	return emp.ID, nil
}

// =============================================================================
// BACKUP COMMANDS
// =============================================================================

func (s *Shell) cmdBackup(ctx context.Context, sess *auth.Session, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: backup create|list|verify ID|restore ID")
	}
	sub := strings.ToLower(args[0])
	rest := args[1:]

	switch sub {
	case "create":
		meta, err := s.backups.CreateSnapshot(ctx, sess)
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "%s Snapshot %s (%d items, %d accounts, %d trail rows)\n",
			okStyle.Render("[OK]"), meta.ID,
			meta.RowCounts.Items, meta.RowCounts.Employees, meta.RowCounts.AuditEntries)
		return nil

	case "list", "ls":
		metas, err := s.backups.ListSnapshots(sess)
		if err != nil {
			return err
		}
		if len(metas) == 0 {
			fmt.Fprintln(s.out, infoStyle.Render("No snapshots."))
			return nil
		}
		fmt.Fprintf(s.out, "%-36s %-20s %-9s %s\n", "ID", "CREATED", "STATUS", "ROWS")
		for _, m := range metas {
			status := m.Status
			if m.Status != backup.StatusVerified {
				status = warnStyle.Render(m.Status)
			}
			fmt.Fprintf(s.out, "%-36s %-20s %-9s %d/%d/%d\n",
				m.ID, m.CreatedAt.Format("2006-01-02 15:04:05"), status,
				m.RowCounts.Employees, m.RowCounts.Items, m.RowCounts.AuditEntries)
		}
		return nil

	case "verify":
		if len(rest) != 1 {
			return fmt.Errorf("usage: backup verify ID")
		}
		if err := s.backups.VerifySnapshot(sess, rest[0]); err != nil {
			return err
		}
		fmt.Fprintf(s.out, "%s Snapshot %s checks out.\n", okStyle.Render("[OK]"), rest[0])
		return nil

	case "restore":
		if len(rest) != 1 {
			return fmt.Errorf("usage: backup restore ID")
		}
		fmt.Fprintln(s.out, warnStyle.Render("Restore REPLACES all live data. A safety snapshot is taken first."))
		confirm, err := s.readInput("type RESTORE to confirm: ")
		if err != nil {
			return err
		}
		if strings.TrimSpace(confirm) != "RESTORE" {
			fmt.Fprintln(s.out, infoStyle.Render("Aborted."))
			return nil
		}
		if err := s.backups.RestoreSnapshot(ctx, sess, rest[0]); err != nil {
			return err
		}
		fmt.Fprintf(s.out, "%s Restored snapshot %s. All other sessions should log in again.\n",
			okStyle.Render("[OK]"), rest[0])
		return nil

	default:
		return fmt.Errorf("unknown subcommand %q", sub)
	}
}

// =============================================================================
// EXPORT COMMANDS
// =============================================================================

func (s *Shell) cmdExport(ctx context.Context, sess *auth.Session, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: export items FMT [FILE] | export history ID FMT [FILE]")
	}
	sub := strings.ToLower(args[0])
	rest := args[1:]

	var (
		data []byte
		err  error
		file string
	)
	switch sub {
	case "items":
		format := parseFormat(rest[0])
		if len(rest) > 1 {
			file = rest[1]
		}
		data, err = s.exporter.Items(ctx, sess, store.ItemFilter{}, format)
	case "history", "hist":
		if len(rest) < 2 {
			return fmt.Errorf("usage: export history ID FMT [FILE]")
		}
		id, perr := parseID(rest[:1])
		if perr != nil {
			return perr
		}
		format := parseFormat(rest[1])
		if len(rest) > 2 {
			file = rest[2]
		}
		data, err = s.exporter.History(ctx, sess, id, format)
	default:
		return fmt.Errorf("unknown subcommand %q", sub)
	}
	if err != nil {
		return err
	}

	if file == "" {
		fmt.Fprint(s.out, string(data))
		return nil
	}
	if err := util.AtomicWriteFile(file, data, 0644); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "%s Wrote %s (%d bytes).\n", okStyle.Render("[OK]"), file, len(data))
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func parseFormat(s string) export.Format {
	switch strings.ToLower(s) {
	case "md", "markdown":
		return export.FormatMarkdown
	default:
		return export.Format(strings.ToLower(s))
	}
}

func parseID(args []string) (int64, error) {
	if len(args) < 1 {
		return 0, fmt.Errorf("item ID required")
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid ID %q", args[0])
	}
	return id, nil
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}
