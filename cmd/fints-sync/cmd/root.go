// Package cmd provides CLI commands for fints-sync.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/fintshub/fints-sync/internal/bankemu"
	"github.com/fintshub/fints-sync/pkg/config"
	"github.com/fintshub/fints-sync/pkg/fints"
)

var (
	cfgFile string
	debug   bool
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "fints-sync",
	Short: "Sync bank statements over FinTS and reconcile them with the ledger",
	Long: `fints-sync pulls booked transactions from German banks over the
FinTS/HBCI online-banking protocol and reconciles them against open
ledger invoices.

It supports:
- TAN-gated statement sync (text, photoTAN and decoupled/push TAN)
- Duplicate-free re-imports via content fingerprinting
- Automatic invoice matching with configurable scoring
- An HTTP API for interactive TAN round-trips

Example:
  fints-sync serve
  fints-sync sync --connection 1 --from 2026-08-01 --to 2026-08-31
  fints-sync stats --connection 1`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Setup logging
		logLevel := slog.LevelInfo
		if debug {
			logLevel = slog.LevelDebug
		}

		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: logLevel,
		}))
		slog.SetDefault(logger)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .env)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	// Add subcommands
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(connectionsCmd)
}

// Helper function to get config file path.
func getConfigFile() string {
	if cfgFile != "" {
		return cfgFile
	}
	return "" // Will use default .env loading
}

// Helper function to handle errors and exit.
func exitOnError(err error, msg string) {
	if err != nil {
		slog.Error(msg, "error", err)
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
		os.Exit(1)
	}
}

// newGateway selects the configured gateway binding. The wire protocol
// itself lives outside this module; the built-in emulator binding serves
// development and tests.
func newGateway(cfg *config.Config) (fints.Gateway, error) {
	switch cfg.Sync.Gateway {
	case "", "emulator":
		return bankemu.New(), nil
	default:
		return nil, fmt.Errorf("unknown gateway binding %q", cfg.Sync.Gateway)
	}
}
