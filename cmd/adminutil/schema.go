package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sudo-init-do/tradiehub/internal/config"
	"github.com/sudo-init-do/tradiehub/internal/db"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Create or update the database schema",
	Long:  "Applies the idempotent schema steps the API also runs on start.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		pool, err := db.Init(cmd.Context(), cfg.DB)
		if err != nil {
			return err
		}
		defer pool.Close()
		for _, t := range db.Tables() {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", t)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "schema ok")
		return nil
	},
}
