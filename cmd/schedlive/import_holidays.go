// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SchedLive Contributors

package main

import (
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/plusclinic/schedlive/internal/config"
	"github.com/plusclinic/schedlive/internal/holiday"
	"github.com/plusclinic/schedlive/internal/store"
)

// NewImportHolidaysCmd creates the import-holidays subcommand.
func NewImportHolidaysCmd() *cobra.Command {
	var (
		year  int
		state string
	)

	cmd := &cobra.Command{
		Use:   "import-holidays",
		Short: "Import national holidays into the database",
		Long: `Fetch the holiday calendar for a year from the external holidays API
and upsert it into the database. Pass --state for state-level holidays.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runImportHolidays(cmd, year, state)
		},
	}

	cmd.Flags().IntVar(&year, "year", time.Now().Year(), "year to import")
	cmd.Flags().StringVar(&state, "state", "", "two-letter state code (empty = national only)")
	cmd.Flags().String("database-url", "", "PostgreSQL connection URL")

	return cmd
}

func runImportHolidays(cmd *cobra.Command, year int, state string) error {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return oops.Code("CONFIG_INVALID").Errorf("database_url is required")
	}
	if cfg.Holiday.Token == "" {
		return oops.Code("CONFIG_INVALID").Errorf("holiday.token is required")
	}

	ctx := cmd.Context()

	eventStore, err := store.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").With("operation", "connect to database").Wrap(err)
	}
	defer eventStore.Close()

	repo := store.NewHolidayRepository(eventStore.DB())
	importer := holiday.NewImporter(cfg.Holiday.BaseURL, cfg.Holiday.Token, repo, cfg.ExternalCallTimeout)

	count, err := importer.Import(ctx, year, state)
	if err != nil {
		return oops.Code("HOLIDAY_IMPORT_FAILED").With("year", year).With("state", state).Wrap(err)
	}

	cmd.Printf("Imported %d holiday(s) for %d\n", count, year)
	return nil
}
