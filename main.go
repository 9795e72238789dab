// radiotrack - Two-way radio inventory tracking for small radio shops.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/jeranaias/radiotrack/internal/access"
	"github.com/jeranaias/radiotrack/internal/audit"
	"github.com/jeranaias/radiotrack/internal/auth"
	"github.com/jeranaias/radiotrack/internal/backup"
	"github.com/jeranaias/radiotrack/internal/cli"
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

func init() {
	cli.Version = Version
	cli.GitCommit = GitCommit
	cli.BuildDate = BuildDate
}

func main() {
	configPath := flag.String("config", config.DefaultPath(), "config file path")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("radiotrack %s (%s, built %s)\n", Version, GitCommit, BuildDate)
		return
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	cfg.Validate()

	// Security event log.
	log := audit.Disabled()
	if cfg.Audit.Enabled {
		log, err = audit.NewLogger(cfg.Audit.LogPath)
		if err != nil {
			return err
		}
		if cfg.Audit.MaxSizeMB > 0 {
			log.SetMaxSize(int64(cfg.Audit.MaxSizeMB) * 1024 * 1024)
		}
	}
	defer log.Close()

	// Store.
	db, err := store.Open(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	// Core services.
	sessions := auth.NewSessionManager(auth.SessionPolicy{
		IdleTimeout:      cfg.SessionIdleTimeout(),
		AbsoluteLifetime: cfg.SessionAbsoluteLifetime(),
		PendingTimeout:   cfg.MFAPendingTimeout(),
		MaxMFAAttempts:   cfg.Security.MFAMaxAttempts,
	})
	authSvc := auth.NewService(db, sessions, log, auth.Policy{
		MaxLoginAttempts:   cfg.Security.MaxLoginAttempts,
		LockoutDuration:    cfg.LockoutDuration(),
		PasswordMinLength:  cfg.Security.PasswordMinLength,
		PasswordExpiryDays: cfg.Security.PasswordExpiryDays,
	})

	ctx := context.Background()
	if err := authSvc.Bootstrap(ctx); err != nil {
		return err
	}

	gate := access.NewGate(log)
	sets := inventory.NewSets(cfg.Inventory.Categories, cfg.Inventory.Locations)
	ledger := inventory.NewLedger(db, gate, sets)
	backups := backup.NewManager(db, gate, log, cfg.Backup.Dir, cfg.Backup.Retention)
	exporter := export.NewExporter(ledger, db, gate)

	// Hot-reload the closed category/location sets on config edits.
	// Security policy changes still require a restart.
	watcher, err := config.NewWatcher(configPath, func(inv *config.InventoryConfig) {
		sets.Replace(inv.Categories, inv.Locations)
	})
	if err == nil {
		defer watcher.Close()
	}

	shell := cli.NewShell(cli.Deps{
		Config:   cfg,
		DB:       db,
		Log:      log,
		Auth:     authSvc,
		Gate:     gate,
		Ledger:   ledger,
		Backups:  backups,
		Exporter: exporter,
	})
	defer shell.Close()

	return shell.Run(ctx)
}
