package main

import (
	"github.com/spf13/cobra"

	"github.com/TheMichaelB/booktu/internal/client"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Copy local state between storage backends",
	Example: `  booktu migrate --from json --to sqlite`,
	Args:        cobra.NoArgs,
	Annotations: map[string]string{"standalone": "true"},
	RunE:        runMigrate,
}

var (
	migrateFrom string
	migrateTo   string
)

func init() {
	rootCmd.AddCommand(migrateCmd)

	migrateCmd.Flags().StringVar(&migrateFrom, "from", "json", "Source backend (json or sqlite)")
	migrateCmd.Flags().StringVar(&migrateTo, "to", "sqlite", "Target backend (json or sqlite)")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	if err := client.MigrateState(cfg, migrateFrom, migrateTo, logger); err != nil {
		printError("%v", err)
		return err
	}

	report(map[string]interface{}{
		"success": true,
		"from":    migrateFrom,
		"to":      migrateTo,
	}, func() {
		printSuccess("Migrated local state from %s to %s", migrateFrom, migrateTo)
		printInfo("Set storage.backend: %s to use it", migrateTo)
	})
	return nil
}
