// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli is the interactive shell over the radiotrack core. It owns
// the login flow, prompts, and command dispatch; all authorization and
// business rules live below it.
//
// Commands (after login):
//
//	items list [search TEXT] [category C] [location L] [condition C] [deleted]
//	items add
//	items show ID
//	items update ID field=value [field=value ...]
//	items delete ID
//	items restore ID
//	items history ID
//	employees list
//	employees add
//	employees role USERNAME employee|supervisor
//	employees enable USERNAME
//	employees disable USERNAME
//	employees unlock USERNAME
//	sessions revoke USERNAME
//	backup create | list | verify ID | restore ID
//	export items json|markdown [FILE]
//	export history ID json|markdown [FILE]
//	passwd, mfa enroll, mfa disable, whoami, logout, help, quit
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"

	"github.com/jeranaias/radiotrack/internal/access"
	"github.com/jeranaias/radiotrack/internal/audit"
	"github.com/jeranaias/radiotrack/internal/auth"
	"github.com/jeranaias/radiotrack/internal/backup"
	"github.com/jeranaias/radiotrack/internal/config"
	"github.com/jeranaias/radiotrack/internal/export"
	"github.com/jeranaias/radiotrack/internal/inventory"
	"github.com/jeranaias/radiotrack/internal/store"
)

// Version information (set at build time)
var (
	Version   = "1.0.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Shell is the interactive session. One shell serves one operator; the
// session token it holds is the only live credential state.
type Shell struct {
	cfg      *config.Config
	db       *store.DB
	log      *audit.Logger
	auth     *auth.Service
	gate     *access.Gate
	ledger   *inventory.Ledger
	backups  *backup.Manager
	exporter *export.Exporter

	line        *liner.State
	historyFile string
	out         io.Writer

	token string
}

// Deps carries the wired core into the shell.
type Deps struct {
	Config   *config.Config
	DB       *store.DB
	Log      *audit.Logger
	Auth     *auth.Service
	Gate     *access.Gate
	Ledger   *inventory.Ledger
	Backups  *backup.Manager
	Exporter *export.Exporter
}

// NewShell creates the shell with input history support.
func NewShell(d Deps) *Shell {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	s := &Shell{
		cfg:         d.Config,
		db:          d.DB,
		log:         d.Log,
		auth:        d.Auth,
		gate:        d.Gate,
		ledger:      d.Ledger,
		backups:     d.Backups,
		exporter:    d.Exporter,
		line:        line,
		historyFile: filepath.Join(config.DataDir(), "history"),
		out:         os.Stdout,
	}
	s.loadHistory()
	return s
}

func (s *Shell) loadHistory() {
	if f, err := os.Open(s.historyFile); err == nil {
		s.line.ReadHistory(f)
		f.Close()
	}
}

func (s *Shell) saveHistory() {
	if err := os.MkdirAll(filepath.Dir(s.historyFile), 0700); err != nil {
		return
	}
	f, err := os.OpenFile(s.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return
	}
	defer f.Close()
	s.line.WriteHistory(f)
}

// Close saves history, revokes the live session, and releases the terminal.
func (s *Shell) Close() {
	if s.token != "" {
		s.auth.Logout(s.token)
		s.token = ""
	}
	s.saveHistory()
	s.line.Close()
}

// readInput reads one line with history support.
func (s *Shell) readInput(prompt string) (string, error) {
	input, err := s.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		s.line.AppendHistory(input)
	}
	return input, nil
}

// =============================================================================
// MAIN LOOP
// =============================================================================

// Run drives the shell until the operator quits or input ends.
func (s *Shell) Run(ctx context.Context) error {
	s.printWelcome()

	for {
		if s.token == "" {
			if done := s.loginLoop(ctx); done {
				return nil
			}
			continue
		}

		input, err := s.readInput(promptStyle.Render("radiotrack> "))
		if err != nil {
			// Ctrl+C or Ctrl+D: leave cleanly.
			fmt.Fprintln(s.out, infoStyle.Render("Goodbye."))
			return nil
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		if quit := s.dispatch(ctx, input); quit {
			fmt.Fprintln(s.out, infoStyle.Render("Goodbye."))
			return nil
		}
	}
}

func (s *Shell) printWelcome() {
	fmt.Fprintln(s.out)
	fmt.Fprintln(s.out, headerStyle.Render("radiotrack "+Version))
	fmt.Fprintln(s.out, infoStyle.Render(strings.Repeat("─", 30)))
	fmt.Fprintln(s.out, infoStyle.Render("Two-way radio inventory. Type 'help' after login."))
	fmt.Fprintln(s.out)
}

// =============================================================================
// LOGIN FLOW
// =============================================================================

// loginLoop runs the credential, MFA, and forced-password-change steps.
// Returns true when the operator aborted the shell entirely.
func (s *Shell) loginLoop(ctx context.Context) bool {
	username, err := s.readInput("username: ")
	if err != nil {
		return true
	}
	username = strings.TrimSpace(username)
	if username == "" {
		return false
	}

	password, err := readSecret("password: ")
	if err != nil {
		s.printErr(err)
		return false
	}

	res, err := s.auth.Authenticate(ctx, username, password)
	if err != nil {
		s.printErr(err)
		return false
	}

	if res.MFARequired {
		res, err = s.mfaStep(ctx, res.PendingToken)
		if err != nil {
			s.printErr(err)
			return false
		}
	}

	s.token = res.Session.Token

	if res.MustChangePassword {
		fmt.Fprintln(s.out, warnStyle.Render("Password change required before any other operation."))
		if err := s.changePassword(ctx); err != nil {
			s.printErr(err)
			s.auth.Logout(s.token)
			s.token = ""
			return false
		}
	}

	fmt.Fprintf(s.out, "%s Logged in as %s (%s)\n\n",
		okStyle.Render("[OK]"), res.Session.Username, res.Session.Role)
	return false
}

// mfaStep prompts for one-time codes until the pending token completes or
// dies.
func (s *Shell) mfaStep(ctx context.Context, pendingToken string) (*auth.LoginResult, error) {
	for {
		code, err := readSecret("one-time code: ")
		if err != nil {
			return nil, err
		}
		res, err := s.auth.CompleteMFA(ctx, pendingToken, code)
		if err == nil {
			return res, nil
		}
		if errors.Is(err, auth.ErrMFAFailed) {
			// Wrong code. The pending token survives until its attempt
			// budget runs out, after which the next try expires it.
			fmt.Fprintln(s.out, warnStyle.Render("Invalid code."))
			continue
		}
		return nil, err
	}
}

// changePassword prompts for old and new passwords and applies the change.
func (s *Shell) changePassword(ctx context.Context) error {
	oldPw, err := readSecret("current password: ")
	if err != nil {
		return err
	}
	newPw, err := readSecret("new password: ")
	if err != nil {
		return err
	}
	confirm, err := readSecret("confirm new password: ")
	if err != nil {
		return err
	}
	if newPw != confirm {
		return fmt.Errorf("passwords do not match")
	}
	if err := s.auth.ChangePassword(ctx, s.token, oldPw, newPw); err != nil {
		return err
	}
	fmt.Fprintln(s.out, okStyle.Render("[OK] Password changed. Other sessions revoked."))
	return nil
}

// =============================================================================
// DISPATCH
// =============================================================================

// session revalidates the stored token before a command runs. A nil return
// means the command must not proceed; the reason has been printed.
func (s *Shell) session(ctx context.Context) *auth.Session {
	sess, err := s.auth.Validate(ctx, s.token)
	if err == nil {
		return sess
	}

	switch {
	case errors.Is(err, auth.ErrPasswordChangeRequired), errors.Is(err, auth.ErrPasswordExpired):
		fmt.Fprintln(s.out, warnStyle.Render("Password change required."))
		if cerr := s.changePassword(ctx); cerr != nil {
			s.printErr(cerr)
			return nil
		}
		sess, err = s.auth.Validate(ctx, s.token)
		if err != nil {
			s.printErr(err)
			return nil
		}
		return sess
	case errors.Is(err, auth.ErrSessionExpired):
		fmt.Fprintln(s.out, warnStyle.Render("Session expired. Please log in again."))
		s.token = ""
		return nil
	default:
		s.printErr(err)
		return nil
	}
}

// dispatch routes one command line. Returns true on quit.
func (s *Shell) dispatch(ctx context.Context, input string) bool {
	parts := strings.Fields(input)
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "quit", "exit", "q":
		return true

	case "help", "h", "?":
		s.printHelp()
		return false

	case "logout":
		s.auth.Logout(s.token)
		s.token = ""
		fmt.Fprintln(s.out, infoStyle.Render("Logged out."))
		return false
	}

	sess := s.session(ctx)
	if sess == nil {
		return false
	}

	var err error
	switch cmd {
	case "whoami":
		s.cmdWhoami(sess)
	case "passwd":
		err = s.changePassword(ctx)
	case "mfa":
		err = s.cmdMFA(ctx, args)
	case "items", "item":
		err = s.cmdItems(ctx, sess, args)
	case "employees", "employee", "emp":
		err = s.cmdEmployees(ctx, sess, args)
	case "sessions":
		err = s.cmdSessions(ctx, sess, args)
	case "backup":
		err = s.cmdBackup(ctx, sess, args)
	case "export":
		err = s.cmdExport(ctx, sess, args)
	default:
		err = fmt.Errorf("unknown command %q (type 'help')", cmd)
	}
	if err != nil {
		s.printErr(err)
	}
	return false
}

func (s *Shell) cmdWhoami(sess *auth.Session) {
	fmt.Fprintf(s.out, "%s %s (%s), session since %s\n",
		infoStyle.Render("[You]"), sess.Username, sess.Role,
		sess.CreatedAt.Format("2006-01-02 15:04:05"))
}

func (s *Shell) printHelp() {
	fmt.Fprintln(s.out)
	fmt.Fprintln(s.out, headerStyle.Render("Commands"))
	fmt.Fprintln(s.out, infoStyle.Render(strings.Repeat("─", 20)))

	groups := []struct {
		cmd  string
		desc string
	}{
		{"items list [filters]", "List items (search T, category C, location L, condition C, deleted)"},
		{"items add", "Create an item (interactive)"},
		{"items show ID", "Show one item"},
		{"items update ID f=v ...", "Update fields, e.g. condition=Poor quantity=3"},
		{"items delete ID", "Soft-delete an item (supervisor)"},
		{"items restore ID", "Restore a deleted item (supervisor)"},
		{"items history ID", "Show an item's audit trail (supervisor)"},
		{"employees list", "List accounts (supervisor)"},
		{"employees add", "Create an account (supervisor, interactive)"},
		{"employees role USER ROLE", "Change role (supervisor)"},
		{"employees enable USER", "Enable an account (supervisor)"},
		{"employees disable USER", "Disable an account (supervisor)"},
		{"employees unlock USER", "Clear a lockout (supervisor)"},
		{"sessions revoke USER", "Force-end an account's sessions (supervisor)"},
		{"backup create|list", "Snapshot the store / list snapshots"},
		{"backup verify ID", "Re-check a snapshot checksum"},
		{"backup restore ID", "Replace live data from a snapshot (supervisor)"},
		{"export items FMT [FILE]", "Export items as json or markdown"},
		{"export history ID FMT [FILE]", "Export an item's trail"},
		{"passwd", "Change your password"},
		{"mfa enroll | mfa disable", "Manage your one-time-code factor"},
		{"whoami, logout, quit", ""},
	}
	for _, g := range groups {
		fmt.Fprintf(s.out, "  %-30s %s\n", g.cmd, infoStyle.Render(g.desc))
	}
	fmt.Fprintln(s.out)
}

// =============================================================================
// ERROR RENDERING
// =============================================================================

// printErr maps core errors to operator-facing messages. Authentication
// failures stay deliberately vague; detail lives in the security log only.
func (s *Shell) printErr(err error) {
	msg := err.Error()
	switch {
	case errors.Is(err, auth.ErrAuthFailed):
		msg = "invalid username or password"
	case errors.Is(err, auth.ErrLocked):
		msg = "account temporarily locked; try again later or ask a supervisor to unlock"
	case errors.Is(err, auth.ErrMFAFailed):
		msg = "one-time code verification failed"
	case errors.Is(err, auth.ErrSessionExpired):
		msg = "session expired; log in again"
	case errors.Is(err, access.ErrForbidden):
		msg = "you are not permitted to do that"
	case errors.Is(err, access.ErrRateLimited):
		msg = "too many requests; slow down"
	case errors.Is(err, inventory.ErrNotFound):
		msg = "item not found"
	case errors.Is(err, inventory.ErrRestoreConflict):
		msg = "item changed since deletion; restore refused"
	case errors.Is(err, store.ErrEmployeeNotFound):
		msg = "no such account"
	case errors.Is(err, store.ErrUsernameTaken):
		msg = "username already taken"
	case errors.Is(err, backup.ErrSnapshotNotFound):
		msg = "no such snapshot"
	}
	fmt.Fprintf(s.out, "%s %s\n", errorStyle.Render("[Error]"), msg)

	// Validation and policy errors carry their detail; show it.
	var vErr *inventory.ValidationError
	if errors.As(err, &vErr) {
		for _, p := range vErr.Problems {
			fmt.Fprintf(s.out, "  %s %s\n", warnStyle.Render("-"), p)
		}
	}
	var pErr *auth.PolicyError
	if errors.As(err, &pErr) {
		for _, f := range pErr.Failures {
			fmt.Fprintf(s.out, "  %s %s\n", warnStyle.Render("-"), f)
		}
	}
}

// =============================================================================
// MFA COMMANDS
// =============================================================================

func (s *Shell) cmdMFA(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: mfa enroll | mfa disable")
	}
	switch strings.ToLower(args[0]) {
	case "enroll":
		secret, url, err := s.auth.EnrollMFA(ctx, s.token)
		if err != nil {
			return err
		}
		fmt.Fprintln(s.out, headerStyle.Render("MFA enrollment"))
		fmt.Fprintf(s.out, "  Secret: %s\n", secret)
		fmt.Fprintf(s.out, "  URL:    %s\n", url)
		fmt.Fprintln(s.out, infoStyle.Render("Add the secret to your authenticator, then confirm."))

		code, err := readSecret("one-time code: ")
		if err != nil {
			return err
		}
		if err := s.auth.ConfirmMFA(ctx, s.token, code); err != nil {
			return err
		}
		fmt.Fprintln(s.out, okStyle.Render("[OK] MFA enabled."))
		return nil

	case "disable":
		sess, err := s.auth.Validate(ctx, s.token)
		if err != nil {
			return err
		}
		if err := s.auth.DisableMFA(ctx, sess.EmployeeID); err != nil {
			return err
		}
		fmt.Fprintln(s.out, okStyle.Render("[OK] MFA disabled."))
		return nil

	default:
		return fmt.Errorf("usage: mfa enroll | mfa disable")
	}
}
