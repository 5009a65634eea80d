package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/booktu/internal/models"
	"github.com/TheMichaelB/booktu/internal/services/books"
	"github.com/TheMichaelB/booktu/internal/services/stock"
)

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Download books and establishments now",
	Args:  cobra.NoArgs,
	RunE:  runRefresh,
}

var booksCmd = &cobra.Command{
	Use:   "books [query]",
	Short: "Browse books by title, from the cached catalog when offline",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runBooks,
}

var bookCmd = &cobra.Command{
	Use:   "book <id>",
	Short: "Show one book (requires a connection)",
	Args:  cobra.ExactArgs(1),
	RunE:  runBook,
}

var stockCmd = &cobra.Command{
	Use:   "stock [query]",
	Short: "List stock levels by book title",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runStock,
}

var establishmentsCmd = &cobra.Command{
	Use:     "establishments [query]",
	Aliases: []string{"stores"},
	Short:   "List cached establishments for selection",
	Args:    cobra.MaximumNArgs(1),
	RunE:    runEstablishments,
}

var (
	establishmentCurrent string
	booksSort            string
	booksPage            int
	stockEstablishment   string
	stockPage            int
)

func init() {
	rootCmd.AddCommand(refreshCmd, booksCmd, bookCmd, stockCmd, establishmentsCmd)

	booksCmd.Flags().StringVar(&booksSort, "sort", "",
		"Order: asc, desc, price-asc, price-desc, latest or oldest")
	booksCmd.Flags().IntVar(&booksPage, "page", 1, "Page to fetch")

	stockCmd.Flags().StringVar(&stockEstablishment, "establishment", "", "Only show this establishment's stock")
	stockCmd.Flags().IntVar(&stockPage, "page", 1, "Page to fetch")

	establishmentsCmd.Flags().StringVar(&establishmentCurrent, "current", "",
		"Establishment id to keep in the list regardless of query")
}

func runRefresh(cmd *cobra.Command, args []string) error {
	ctx := commandContext()

	if !apiClient.Connectivity.Check(ctx) {
		printError("Cannot refresh: %v", models.ErrOffline)
		return models.ErrOffline
	}
	if err := apiClient.Auth.EnsureAuthenticated(ctx); err != nil {
		return fmt.Errorf("not authenticated: %w", err)
	}
	if err := apiClient.Catalog.Refresh(ctx); err != nil {
		printError("Refresh failed: %v", err)
		return err
	}

	snap := apiClient.Catalog.Snapshot()
	report(map[string]interface{}{
		"books":          len(snap.Books),
		"establishments": len(snap.Establishments),
		"refreshed_at":   snap.RefreshedAt,
	}, func() {
		printSuccess("Catalog refreshed: %d books, %d establishments", len(snap.Books), len(snap.Establishments))
	})
	return nil
}

func runBooks(cmd *cobra.Command, args []string) error {
	order, err := models.ParseBookSort(booksSort)
	if err != nil {
		return err
	}

	ctx := commandContext()
	if _, err := start(ctx); err != nil {
		return err
	}

	page, err := apiClient.Books.List(ctx, books.ListOptions{
		Page:   booksPage,
		Sort:   order,
		Search: strings.Join(args, " "),
	})
	if err != nil {
		printError("Failed to list books: %v", err)
		return err
	}

	report(page, func() {
		if page.Cached {
			printWarning("Offline: showing the cached catalog")
		}
		if len(page.Books) == 0 {
			printInfo("No books found")
			return
		}
		for _, book := range page.Books {
			fmt.Printf("%-36s  %-40s %-24s %8.2f\n", book.ID, book.Title, book.Author, book.Price)
		}
		if page.LastPage > 1 {
			printInfo("Page %d of %d (%d books)", page.Page, page.LastPage, page.Total)
		}
	})
	return nil
}

func runBook(cmd *cobra.Command, args []string) error {
	ctx := commandContext()
	if _, err := start(ctx); err != nil {
		return err
	}

	book, err := apiClient.Books.Get(ctx, args[0])
	if err != nil {
		printError("Failed to get book: %v", err)
		return err
	}

	report(book, func() {
		fmt.Printf("%s\n", book.Title)
		fmt.Printf("  Author:     %s\n", book.Author)
		fmt.Printf("  Identifier: %s\n", book.Identifier)
		fmt.Printf("  Price:      %.2f\n", book.Price)
		fmt.Printf("  Released:   %d\n", book.ReleaseYear)
		if len(book.Categories) > 0 {
			names := make([]string, 0, len(book.Categories))
			for _, c := range book.Categories {
				names = append(names, c.Name)
			}
			fmt.Printf("  Categories: %s\n", strings.Join(names, ", "))
		}
		if book.Description != "" {
			fmt.Printf("\n%s\n", book.Description)
		}
	})
	return nil
}

func runStock(cmd *cobra.Command, args []string) error {
	ctx := commandContext()
	if _, err := start(ctx); err != nil {
		return err
	}
	if !apiClient.Connectivity.Online() {
		printError("Cannot list stock: %v", models.ErrOffline)
		return models.ErrOffline
	}

	page, err := apiClient.Stock.List(ctx, stock.ListOptions{
		Page:            stockPage,
		EstablishmentID: stockEstablishment,
		Search:          strings.Join(args, " "),
	})
	if err != nil {
		printError("Failed to list stock: %v", err)
		return err
	}

	report(page, func() {
		if len(page.Data) == 0 {
			printInfo("No stock found")
			return
		}
		for _, item := range page.Data {
			fmt.Printf("%-24s  %-40s %5d\n", item.Stock.Establishment.Name, item.Book.Title, item.Quantity)
		}
		if page.LastPage > 1 {
			printInfo("Page %d of %d (%d items)", page.Page, page.LastPage, page.Total)
		}
	})
	return nil
}

func runEstablishments(cmd *cobra.Command, args []string) error {
	if _, err := start(commandContext()); err != nil {
		return err
	}

	options := apiClient.Catalog.ListSelectableEstablishments(strings.Join(args, " "), establishmentCurrent)
	report(options, func() {
		if len(options) == 0 {
			printInfo("No establishments found")
			return
		}
		for _, opt := range options {
			fmt.Printf("%-36s  %s\n", opt.Value, opt.Label)
		}
	})
	return nil
}
