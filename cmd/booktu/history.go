package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recently opened inventories",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		entries, err := apiClient.History.List()
		if err != nil {
			return err
		}

		report(entries, func() {
			if len(entries) == 0 {
				printInfo("No recent inventories")
				return
			}
			for _, entry := range entries {
				fmt.Printf("%s  ", entry.AccessedAt.Local().Format("2006-01-02 15:04"))
				printInventory(entry.Inventory)
			}
		})
		return nil
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
}
