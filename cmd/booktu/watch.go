package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/TheMichaelB/booktu/internal/services/sync"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stay running and sync whenever connectivity returns",
	Long: `Watch probes the API on an interval and syncs the offline queue on every
offline-to-online transition until interrupted.`,
	Example: `  booktu watch
  booktu watch --metrics-addr :9090`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

var metricsAddr string

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "",
		"Serve Prometheus metrics on this address")
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(commandContext(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	apiClient.Connectivity.OnDegraded(func(message string) {
		printWarning("%s", message)
	})

	if metricsAddr != "" {
		srv := metricsServer(metricsAddr)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.WithError(err).Error("Metrics server failed")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		printInfo("Serving metrics on %s/metrics", metricsAddr)
	}

	if _, err := start(ctx); err != nil {
		return err
	}

	transitions, unsubscribe := apiClient.Connectivity.Subscribe()
	defer unsubscribe()
	go func() {
		for {
			select {
			case t := <-transitions:
				if t.Connected {
					printSuccess("Back online")
				} else {
					printWarning("Offline, new inventories will be queued")
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	printInfo("Watching connectivity, press Ctrl+C to stop")
	apiClient.Watch(ctx, func(result *sync.Result, err error) {
		if err != nil {
			printError("Sync failed: %v", err)
			return
		}
		report(result, func() {
			printSyncSummary(result)
		})
	})

	return nil
}

func metricsServer(addr string) *http.Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", promhttp.HandlerFor(apiClient.Metrics, promhttp.HandlerOpts{}))

	return &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
