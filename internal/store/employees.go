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

// Sentinel errors for row lookups and uniqueness.
var (
	ErrEmployeeNotFound = errors.New("employee not found")
	ErrUsernameTaken    = errors.New("username already taken")
	ErrItemNotFound     = errors.New("item not found")
)

// Role values stored in employees.role.
const (
	RoleEmployee   = "employee"
	RoleSupervisor = "supervisor"
)

// Employee is an account row. PasswordHash and MFASecret are only ever
// handled inside the auth service; they never cross an export boundary.
type Employee struct {
	ID                 int64
	Username           string
	PasswordHash       string
	FirstName          string
	LastName           string
	Role               string
	IsActive           bool
	MFASecret          string
	FailedAttempts     int
	LockedUntil        time.Time
	MustChangePassword bool
	PasswordChangedAt  time.Time
	LastLoginAt        time.Time
	CreatedAt          time.Time
}

// normalizeUsername lowercases and trims a username for use as a lock key.
// The database comparison itself is NOCASE; this only keys the mutex map.
func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// timeToDB converts a time to its stored text form. Zero times store as "".
func timeToDB(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// timeFromDB is the inverse of timeToDB. Unparseable text reads as zero.
func timeFromDB(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

const employeeColumns = `id, username, password_hash, first_name, last_name, role,
	is_active, mfa_secret, failed_attempts, locked_until, must_change_password,
	password_changed_at, last_login_at, created_at`

func scanEmployee(row interface{ Scan(dest ...any) error }) (*Employee, error) {
	var e Employee
	var isActive, mustChange int
	var lockedUntil, passwordChangedAt, lastLoginAt, createdAt string
	err := row.Scan(
		&e.ID, &e.Username, &e.PasswordHash, &e.FirstName, &e.LastName, &e.Role,
		&isActive, &e.MFASecret, &e.FailedAttempts, &lockedUntil, &mustChange,
		&passwordChangedAt, &lastLoginAt, &createdAt,
	)
	if err != nil {
		return nil, err
	}
	e.IsActive = isActive != 0
	e.MustChangePassword = mustChange != 0
	e.LockedUntil = timeFromDB(lockedUntil)
	e.PasswordChangedAt = timeFromDB(passwordChangedAt)
	e.LastLoginAt = timeFromDB(lastLoginAt)
	e.CreatedAt = timeFromDB(createdAt)
	return &e, nil
}

// InsertEmployee creates an account row and fills in the assigned ID.
// Returns ErrUsernameTaken when the username collides case-insensitively.
func InsertEmployee(ctx context.Context, q Querier, e *Employee) error {
	var exists int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM employees WHERE username = ?`, e.Username,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check username: %w", err)
	}
	if exists > 0 {
		return ErrUsernameTaken
	}

	res, err := q.ExecContext(ctx, `
		INSERT INTO employees (username, password_hash, first_name, last_name,
			role, is_active, mfa_secret, failed_attempts, locked_until,
			must_change_password, password_changed_at, last_login_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Username, e.PasswordHash, e.FirstName, e.LastName,
		e.Role, boolToInt(e.IsActive), e.MFASecret, e.FailedAttempts,
		timeToDB(e.LockedUntil), boolToInt(e.MustChangePassword),
		timeToDB(e.PasswordChangedAt), timeToDB(e.LastLoginAt), timeToDB(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert employee: %w", err)
	}
	e.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read insert id: %w", err)
	}
	return nil
}

// GetEmployeeByUsername looks up an account case-insensitively.
func GetEmployeeByUsername(ctx context.Context, q Querier, username string) (*Employee, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+employeeColumns+` FROM employees WHERE username = ?`, username)
	e, err := scanEmployee(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEmployeeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query employee: %w", err)
	}
	return e, nil
}

// GetEmployeeByID looks up an account by row ID.
func GetEmployeeByID(ctx context.Context, q Querier, id int64) (*Employee, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+employeeColumns+` FROM employees WHERE id = ?`, id)
	e, err := scanEmployee(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEmployeeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query employee: %w", err)
	}
	return e, nil
}

// ListEmployees returns all accounts ordered by username.
func ListEmployees(ctx context.Context, q Querier) ([]*Employee, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+employeeColumns+` FROM employees ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("failed to list employees: %w", err)
	}
	defer rows.Close()

	var out []*Employee
	for rows.Next() {
		e, err := scanEmployee(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan employee: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountEmployees returns the number of account rows.
func CountEmployees(ctx context.Context, q Querier) (int, error) {
	var n int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM employees`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count employees: %w", err)
	}
	return n, nil
}

// RecordAuthFailure bumps the failure counter and, once it reaches
// maxAttempts, sets locked_until. Returns the post-update counter and
// lockout expiry.
func RecordAuthFailure(ctx context.Context, q Querier, id int64, maxAttempts int, lockout time.Duration, now time.Time) (int, time.Time, error) {
	var attempts int
	err := q.QueryRowContext(ctx,
		`SELECT failed_attempts FROM employees WHERE id = ?`, id).Scan(&attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, time.Time{}, ErrEmployeeNotFound
	}
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("failed to read attempt counter: %w", err)
	}

	attempts++
	var until time.Time
	if attempts >= maxAttempts {
		until = now.Add(lockout)
	}

	_, err = q.ExecContext(ctx,
		`UPDATE employees SET failed_attempts = ?, locked_until = ? WHERE id = ?`,
		attempts, timeToDB(until), id)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("failed to record auth failure: %w", err)
	}
	return attempts, until, nil
}

// RecordAuthSuccess clears the failure counter and any lockout and stamps
// the login time.
func RecordAuthSuccess(ctx context.Context, q Querier, id int64, now time.Time) error {
	_, err := q.ExecContext(ctx,
		`UPDATE employees SET failed_attempts = 0, locked_until = '', last_login_at = ? WHERE id = ?`,
		timeToDB(now), id)
	if err != nil {
		return fmt.Errorf("failed to record auth success: %w", err)
	}
	return nil
}

// UpdatePasswordHash replaces the stored hash, stamps the change time, and
// clears the must-change flag.
func UpdatePasswordHash(ctx context.Context, q Querier, id int64, hash string, now time.Time) error {
	res, err := q.ExecContext(ctx, `
		UPDATE employees
		SET password_hash = ?, password_changed_at = ?, must_change_password = 0
		WHERE id = ?`,
		hash, timeToDB(now), id)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	return requireRow(res)
}

// SetMFASecret stores (or clears, with "") the TOTP secret.
func SetMFASecret(ctx context.Context, q Querier, id int64, secret string) error {
	res, err := q.ExecContext(ctx,
		`UPDATE employees SET mfa_secret = ? WHERE id = ?`, secret, id)
	if err != nil {
		return fmt.Errorf("failed to set mfa secret: %w", err)
	}
	return requireRow(res)
}

// SetEmployeeRole changes the account role.
func SetEmployeeRole(ctx context.Context, q Querier, id int64, role string) error {
	res, err := q.ExecContext(ctx,
		`UPDATE employees SET role = ? WHERE id = ?`, role, id)
	if err != nil {
		return fmt.Errorf("failed to set role: %w", err)
	}
	return requireRow(res)
}

// SetEmployeeActive enables or disables the account.
func SetEmployeeActive(ctx context.Context, q Querier, id int64, active bool) error {
	res, err := q.ExecContext(ctx,
		`UPDATE employees SET is_active = ? WHERE id = ?`, boolToInt(active), id)
	if err != nil {
		return fmt.Errorf("failed to set active flag: %w", err)
	}
	return requireRow(res)
}

// ClearLockout removes a lockout and resets the failure counter without a
// successful authentication. Supervisor unlock path.
func ClearLockout(ctx context.Context, q Querier, id int64) error {
	res, err := q.ExecContext(ctx,
		`UPDATE employees SET failed_attempts = 0, locked_until = '' WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to clear lockout: %w", err)
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return ErrEmployeeNotFound
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
