package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/TheMichaelB/booktu/internal/models"
	"github.com/TheMichaelB/booktu/internal/services/inventories"
)

var inventoryCmd = &cobra.Command{
	Use:     "inventory",
	Aliases: []string{"inv"},
	Short:   "Record and manage inventories",
}

var inventoryAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Save a new inventory, queueing it when offline",
	Example: `  booktu inventory add --establishment store-1 --book book-1=3 --book book-2=1`,
	Args:  cobra.NoArgs,
	RunE:  runInventoryAdd,
}

var inventoryPendingCmd = &cobra.Command{
	Use:     "pending",
	Aliases: []string{"ls"},
	Short:   "List inventories waiting to sync",
	Args:    cobra.NoArgs,
	RunE:    runInventoryPending,
}

var inventoryShowCmd = &cobra.Command{
	Use:   "show <temporary-id>",
	Short: "Show a queued inventory",
	Args:  cobra.ExactArgs(1),
	RunE:  runInventoryShow,
}

var inventoryFixCmd = &cobra.Command{
	Use:   "fix <temporary-id>",
	Short: "Replace the establishment and books of a queued inventory",
	Long: `Fix rewrites a queued inventory and clears its validation errors so the
next sync retries it.`,
	Example: `  booktu inventory fix 2b1f... --establishment store-3 --book book-1=3`,
	Args:    cobra.ExactArgs(1),
	RunE:    runInventoryFix,
}

var inventoryDiscardCmd = &cobra.Command{
	Use:     "discard <temporary-id>",
	Aliases: []string{"rm"},
	Short:   "Drop a queued inventory",
	Args:    cobra.ExactArgs(1),
	RunE:    runInventoryDiscard,
}

var inventoryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List inventories on the server",
	Args:  cobra.NoArgs,
	RunE:  runInventoryList,
}

var inventoryGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show a server inventory and add it to recent history",
	Args:  cobra.ExactArgs(1),
	RunE:  runInventoryGet,
}

var inventoryEditCmd = &cobra.Command{
	Use:   "edit <id>",
	Short: "Replace the books of a server inventory",
	Args:  cobra.ExactArgs(1),
	RunE:  runInventoryEdit,
}

var inventoryProcessCmd = &cobra.Command{
	Use:   "process <id>",
	Short: "Mark a server inventory as processed",
	Args:  cobra.ExactArgs(1),
	RunE:  runInventoryProcess,
}

var inventoryDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a server inventory",
	Args:  cobra.ExactArgs(1),
	RunE:  runInventoryDelete,
}

var (
	invEstablishment string
	invBooks         []string
	invPage          int
	invSearch        string
)

func init() {
	rootCmd.AddCommand(inventoryCmd)
	inventoryCmd.AddCommand(
		inventoryAddCmd,
		inventoryPendingCmd,
		inventoryShowCmd,
		inventoryFixCmd,
		inventoryDiscardCmd,
		inventoryListCmd,
		inventoryGetCmd,
		inventoryEditCmd,
		inventoryProcessCmd,
		inventoryDeleteCmd,
	)

	for _, cmd := range []*cobra.Command{inventoryAddCmd, inventoryFixCmd, inventoryEditCmd} {
		cmd.Flags().StringVarP(&invEstablishment, "establishment", "e", "",
			"Establishment id (required)")
		cmd.Flags().StringArrayVarP(&invBooks, "book", "b", nil,
			"Book line as <book-id>=<quantity>, repeatable")
		_ = cmd.MarkFlagRequired("establishment")
		_ = cmd.MarkFlagRequired("book")
	}

	inventoryListCmd.Flags().IntVar(&invPage, "page", 1, "Page number")
	inventoryListCmd.Flags().StringVarP(&invEstablishment, "establishment", "e", "",
		"Only inventories of this establishment")
	inventoryListCmd.Flags().StringVarP(&invSearch, "search", "s", "",
		"Free-text filter")
}

// parseLines turns book=qty pairs into line items.
func parseLines(pairs []string) ([]models.LineItem, error) {
	lines := make([]models.LineItem, 0, len(pairs))
	for _, pair := range pairs {
		id, qty, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("invalid book line %q: expected <book-id>=<quantity>", pair)
		}
		n, err := strconv.Atoi(strings.TrimSpace(qty))
		if err != nil {
			return nil, fmt.Errorf("invalid quantity in %q: %w", pair, err)
		}
		lines = append(lines, models.LineItem{BookID: strings.TrimSpace(id), Quantity: n})
	}
	return lines, nil
}

func runInventoryAdd(cmd *cobra.Command, args []string) error {
	ctx := commandContext()

	lines, err := parseLines(invBooks)
	if err != nil {
		return err
	}
	if _, err := start(ctx); err != nil {
		return err
	}

	result, err := apiClient.Inventories.Save(ctx, inventories.Draft{
		EstablishmentID: invEstablishment,
		Lines:           lines,
	})
	if err != nil {
		printError("Save failed: %v", err)
		return err
	}

	report(result, func() {
		if result.Queued() {
			printWarning("Offline: inventory queued as %s", result.Pending.TemporaryID)
			return
		}
		printSuccess("Inventory %s created (%d books)", result.Inventory.ID, result.Inventory.TotalQuantity)
	})
	return nil
}

func runInventoryPending(cmd *cobra.Command, args []string) error {
	list, err := apiClient.Queue.List()
	if err != nil {
		return err
	}

	report(list, func() {
		if len(list) == 0 {
			printInfo("No queued inventories")
			return
		}
		for _, entry := range list {
			printPending(entry)
		}
	})
	return nil
}

func runInventoryShow(cmd *cobra.Command, args []string) error {
	entry, err := apiClient.Queue.Get(args[0])
	if err != nil {
		printError("%v", err)
		return err
	}

	report(entry, func() {
		printPending(*entry)
		for _, line := range entry.Books {
			title := line.Book.Title
			if title == "" {
				title = line.BookID
			}
			fmt.Printf("   %-40s x%d%s\n", title, line.Quantity, flagged(entry.Errors, models.ReferenceBook, line.BookID))
		}
	})
	return nil
}

func runInventoryFix(cmd *cobra.Command, args []string) error {
	lines, err := parseLines(invBooks)
	if err != nil {
		return err
	}

	if err := apiClient.Catalog.Load(); err != nil {
		logger.WithError(err).Warn("Failed to load catalog snapshot")
	}

	updated, err := apiClient.Queue.Update(args[0], invEstablishment, lines)
	if err != nil {
		printError("%v", err)
		return err
	}

	report(updated, func() {
		printSuccess("Updated %s, it will be retried on the next sync", updated.TemporaryID)
	})
	return nil
}

func runInventoryDiscard(cmd *cobra.Command, args []string) error {
	if err := apiClient.Queue.Remove(args[0]); err != nil {
		printError("%v", err)
		return err
	}
	report(map[string]interface{}{"success": true, "temporary_id": args[0]}, func() {
		printSuccess("Discarded %s", args[0])
	})
	return nil
}

func runInventoryList(cmd *cobra.Command, args []string) error {
	ctx := commandContext()
	if err := apiClient.Auth.EnsureAuthenticated(ctx); err != nil {
		return fmt.Errorf("not authenticated: %w", err)
	}

	page, err := apiClient.Inventories.List(ctx, inventories.ListOptions{
		Page:            invPage,
		EstablishmentID: invEstablishment,
		Search:          invSearch,
	})
	if err != nil {
		printError("%v", err)
		return err
	}

	report(page, func() {
		for _, inv := range page.Data {
			printInventory(inv)
		}
		fmt.Printf("\nPage %d of %d (%d inventories)\n", page.Page, page.LastPage, page.Total)
	})
	return nil
}

func runInventoryGet(cmd *cobra.Command, args []string) error {
	ctx := commandContext()
	if err := apiClient.Auth.EnsureAuthenticated(ctx); err != nil {
		return fmt.Errorf("not authenticated: %w", err)
	}

	detail, err := apiClient.Inventories.Get(ctx, args[0])
	if err != nil {
		printError("%v", err)
		return err
	}

	report(detail, func() {
		printInventory(detail.Inventory)
		for _, line := range detail.Books {
			fmt.Printf("   %-40s x%d\n", line.Book.Title, line.Quantity)
		}
	})
	return nil
}

func runInventoryEdit(cmd *cobra.Command, args []string) error {
	ctx := commandContext()

	lines, err := parseLines(invBooks)
	if err != nil {
		return err
	}
	if err := apiClient.Auth.EnsureAuthenticated(ctx); err != nil {
		return fmt.Errorf("not authenticated: %w", err)
	}

	inv, err := apiClient.Inventories.Edit(ctx, args[0], invEstablishment, lines)
	if err != nil {
		printError("%v", err)
		return err
	}

	report(inv, func() {
		printSuccess("Inventory %s updated", inv.ID)
	})
	return nil
}

func runInventoryProcess(cmd *cobra.Command, args []string) error {
	ctx := commandContext()
	if err := apiClient.Auth.EnsureAuthenticated(ctx); err != nil {
		return fmt.Errorf("not authenticated: %w", err)
	}

	if err := apiClient.Inventories.Process(ctx, args[0]); err != nil {
		printError("%v", err)
		return err
	}
	report(map[string]interface{}{"success": true, "id": args[0]}, func() {
		printSuccess("Inventory %s processed", args[0])
	})
	return nil
}

func runInventoryDelete(cmd *cobra.Command, args []string) error {
	ctx := commandContext()
	if err := apiClient.Auth.EnsureAuthenticated(ctx); err != nil {
		return fmt.Errorf("not authenticated: %w", err)
	}

	if err := apiClient.Inventories.Delete(ctx, args[0]); err != nil {
		printError("%v", err)
		return err
	}
	report(map[string]interface{}{"success": true, "id": args[0]}, func() {
		printSuccess("Inventory %s deleted", args[0])
	})
	return nil
}

func printPending(entry models.PendingInventory) {
	name := entry.Establishment.Name
	if name == "" {
		name = entry.EstablishmentID
	}

	status := color.GreenString("ready")
	if entry.HasErrors() {
		status = color.RedString("needs fix (%d)", len(entry.Errors))
	}

	fmt.Printf("%s  %-30s %4d books  %s%s\n",
		entry.TemporaryID, name, entry.TotalQuantity, status,
		flagged(entry.Errors, models.ReferenceEstablishment, entry.EstablishmentID))
}

func printInventory(inv models.Inventory) {
	status := string(inv.Status)
	if inv.Status == models.StatusProcessed {
		status = color.GreenString(status)
	}
	fmt.Printf("#%-5d %s  %-30s %4d books  %s\n",
		inv.Identifier, inv.ID, inv.Establishment.Name, inv.TotalQuantity, status)
}

// flagged marks a reference the server rejected.
func flagged(errs []models.ValidationError, kind models.ReferenceKind, id string) string {
	for _, e := range errs {
		if e.Kind == kind && e.ID == id {
			return color.RedString("  [%s no longer exists]", kind)
		}
	}
	return ""
}
