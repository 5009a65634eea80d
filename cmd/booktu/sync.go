package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/booktu/internal/models"
	"github.com/TheMichaelB/booktu/internal/services/sync"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Send queued inventories to the server",
	Long: `Sync submits every queued inventory without validation errors.

Created inventories leave the queue. Inventories whose book or
establishment no longer exists stay queued with the offending ids marked
and are skipped until fixed. Transport failures leave the entry untouched
for the next pass.`,
	Args: cobra.NoArgs,
	RunE: runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)
}

// start runs the client's launch sequence and reports a cold-start pass.
func start(ctx context.Context) (*sync.Result, error) {
	result, err := apiClient.Start(ctx)
	if err != nil {
		if errors.Is(err, models.ErrSyncInProgress) {
			return nil, nil
		}
		return nil, fmt.Errorf("startup: %w", err)
	}
	if result != nil && !jsonOutput {
		printInfo("Startup sync:")
		printSyncSummary(result)
	}
	return result, nil
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(commandContext())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case <-sigChan:
			printWarning("\nInterrupted, in-flight requests will still be reconciled...")
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := apiClient.Catalog.Load(); err != nil {
		logger.WithError(err).Warn("Failed to load catalog snapshot")
	}
	if err := apiClient.Auth.EnsureAuthenticated(ctx); err != nil {
		return fmt.Errorf("not authenticated: %w", err)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case event := <-apiClient.Sync.Events():
				logEvent(event)
				if event.Type == sync.EventCompleted || event.Type == sync.EventSkipped {
					return
				}
			case <-stop:
				return
			}
		}
	}()

	result, err := apiClient.Sync.Run(ctx)
	if err != nil {
		close(stop)
	}
	<-done
	if err != nil {
		printError("Sync failed: %v", err)
		return err
	}

	report(result, func() {
		printSyncSummary(result)
	})
	return nil
}

func logEvent(event sync.Event) {
	switch event.Type {
	case sync.EventItemCreated:
		logger.WithField("temporary_id", event.Item.TemporaryID).Debug("Inventory created")
	case sync.EventItemRejected:
		if !jsonOutput {
			printWarning("  %s needs fix: %d invalid reference(s)", event.Item.TemporaryID, len(event.Item.Errors))
		}
	case sync.EventItemFailed:
		if !jsonOutput {
			printWarning("  %s failed: %v", event.Item.TemporaryID, event.Item.Err)
		}
	}
}

func printSyncSummary(result *sync.Result) {
	awaiting, err := apiClient.Queue.AwaitingFix()
	if err != nil {
		logger.WithError(err).Warn("Failed to count inventories awaiting a fix")
	}

	fmt.Printf("\nSync Summary:\n")
	fmt.Printf("   Created:   %d\n", result.SucceededCount)
	fmt.Printf("   Needs fix: %d\n", result.NeedsFixCount)
	fmt.Printf("   Failed:    %d\n", result.HardFailedCount)
	fmt.Printf("   Duration:  %s\n", result.Duration.Round(time.Millisecond))
	if awaiting > result.NeedsFixCount {
		fmt.Printf("   Awaiting fix from earlier syncs: %d\n", awaiting-result.NeedsFixCount)
	}

	switch {
	case result.HardFailedCount > 0:
		printWarning("Some inventories could not be sent, they will be retried")
	case awaiting > 0:
		printWarning("%d inventories reference deleted books or establishments, run 'booktu inventory pending'", awaiting)
	default:
		printSuccess("Sync completed")
	}
}
