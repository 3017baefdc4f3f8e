package main

import (
	"github.com/spf13/cobra"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the schedlive CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedlive",
		Short: "schedlive - real-time clinic scheduler hub",
		Long: `schedlive pushes clinic appointment calendar changes to connected
clients over WebSocket, so every open calendar stays current without polling.`,
	}

	// Global flag for config file path
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")

	// Add subcommands
	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewImportHolidaysCmd())

	return cmd
}
