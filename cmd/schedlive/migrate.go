// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SchedLive Contributors

package main

import (
	"log/slog"
	"strconv"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/plusclinic/schedlive/internal/config"
	"github.com/plusclinic/schedlive/internal/store"
)

// NewMigrateCmd creates the migrate subcommand.
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Long:  `Apply the embedded schema migrations to the PostgreSQL database.`,
		RunE:  runMigrateUp,
	}

	cmd.PersistentFlags().String("database-url", "", "PostgreSQL connection URL")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "down",
			Short: "Roll back all migrations",
			RunE:  runMigrateDown,
		},
		&cobra.Command{
			Use:   "steps <n>",
			Short: "Apply n migrations (negative rolls back)",
			Args:  cobra.ExactArgs(1),
			RunE:  runMigrateSteps,
		},
		&cobra.Command{
			Use:   "version",
			Short: "Show the current migration version",
			RunE:  runMigrateVersion,
		},
		&cobra.Command{
			Use:   "force <version>",
			Short: "Force the migration version without running migrations",
			Args:  cobra.ExactArgs(1),
			RunE:  runMigrateForce,
		},
	)

	return cmd
}

func newMigrator(cmd *cobra.Command) (*store.Migrator, error) {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return nil, err
	}
	if cfg.DatabaseURL == "" {
		return nil, oops.Code("CONFIG_INVALID").Errorf("database_url is required")
	}
	return store.NewMigrator(cfg.DatabaseURL)
}

func closeMigrator(m *store.Migrator) {
	if err := m.Close(); err != nil {
		slog.Warn("error closing migrator", "error", err)
	}
}

func runMigrateUp(cmd *cobra.Command, _ []string) error {
	m, err := newMigrator(cmd)
	if err != nil {
		return err
	}
	defer closeMigrator(m)

	cmd.Println("Running migrations...")
	if err := m.Up(); err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "up").Wrap(err)
	}
	cmd.Println("Migrations completed successfully")
	return nil
}

func runMigrateDown(cmd *cobra.Command, _ []string) error {
	m, err := newMigrator(cmd)
	if err != nil {
		return err
	}
	defer closeMigrator(m)

	if err := m.Down(); err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "down").Wrap(err)
	}
	cmd.Println("Rollback completed successfully")
	return nil
}

func runMigrateSteps(cmd *cobra.Command, args []string) error {
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return oops.Code("INVALID_ARGUMENT").Errorf("steps must be an integer, got %q", args[0])
	}

	m, err := newMigrator(cmd)
	if err != nil {
		return err
	}
	defer closeMigrator(m)

	if err := m.Steps(n); err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "steps").With("n", n).Wrap(err)
	}
	cmd.Printf("Applied %d migration step(s)\n", n)
	return nil
}

func runMigrateVersion(cmd *cobra.Command, _ []string) error {
	m, err := newMigrator(cmd)
	if err != nil {
		return err
	}
	defer closeMigrator(m)

	version, dirty, err := m.Version()
	if err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "version").Wrap(err)
	}
	if version == 0 && !dirty {
		cmd.Println("No migrations applied")
		return nil
	}
	cmd.Printf("Version: %d (dirty: %t)\n", version, dirty)
	return nil
}

func runMigrateForce(cmd *cobra.Command, args []string) error {
	version, err := strconv.Atoi(args[0])
	if err != nil {
		return oops.Code("INVALID_ARGUMENT").Errorf("version must be an integer, got %q", args[0])
	}

	m, err := newMigrator(cmd)
	if err != nil {
		return err
	}
	defer closeMigrator(m)

	if err := m.Force(version); err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "force").With("version", version).Wrap(err)
	}
	cmd.Printf("Forced version to %d\n", version)
	return nil
}
