package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hystdevtv/pear/internal/database"
	"github.com/hystdevtv/pear/migrations"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply durable store migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := database.Open(cmd.Context(), cfg.DatabaseURL, migrations.FS, true)
		if err != nil {
			return err
		}
		defer h.Close()

		count, err := h.Store.CountCustomers(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "migrations applied (%s), %d customers stored\n", h.Driver, count)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
