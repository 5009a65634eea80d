package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/TheMichaelB/booktu/internal/client"
	"github.com/TheMichaelB/booktu/internal/config"
	"github.com/TheMichaelB/booktu/internal/events"
)

var (
	cfgFile    string
	jsonOutput bool
	verbose    bool

	cfg       *config.Config
	logger    *events.Logger
	apiClient *client.Client
)

var rootCmd = &cobra.Command{
	Use:   "booktu",
	Short: "Offline-first bookstore inventory client",
	Long: `Booktu records bookstore inventories, queues them while the API is
unreachable and reconciles the queue when connectivity returns.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if apiClient == nil {
			return nil
		}
		return apiClient.Close()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"Config file (default: ./booktu.yaml, ~/.config/booktu/booktu.yaml)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false,
		"Print machine-readable JSON")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"Enable debug logging")
}

// setup loads config and wires the client for every command except those
// that open storage themselves.
func setup(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = config.NewLoader(cfgFile).Load()
	if err != nil {
		printError("%v", err)
		return err
	}
	if verbose {
		cfg.Log.Level = "debug"
	}

	logger, err = events.NewLogger(&cfg.Log)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	events.SetDefault(logger)

	if cmd.Annotations["standalone"] == "true" {
		return nil
	}

	apiClient, err = client.New(cfg, logger)
	if err != nil {
		printError("%v", err)
		return err
	}
	return nil
}

// commandContext tags every request of one command with a shared id.
func commandContext() context.Context {
	ctx := events.WithLogger(context.Background(), logger)
	return events.WithRequestID(ctx, uuid.NewString())
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func printSuccess(format string, args ...interface{}) {
	color.New(color.FgGreen).Fprintf(os.Stdout, format+"\n", args...)
}

func printInfo(format string, args ...interface{}) {
	color.New(color.FgCyan).Fprintf(os.Stdout, format+"\n", args...)
}

func printWarning(format string, args ...interface{}) {
	color.New(color.FgYellow).Fprintf(os.Stderr, format+"\n", args...)
}

func printError(format string, args ...interface{}) {
	if jsonOutput {
		return
	}
	color.New(color.FgRed, color.Bold).Fprintf(os.Stderr, "Error: "+format+"\n", args...)
}

// report prints v as JSON or runs the human renderer.
func report(v interface{}, human func()) {
	if jsonOutput {
		printJSON(v)
		return
	}
	human()
}
