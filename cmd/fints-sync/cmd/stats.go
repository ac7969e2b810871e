package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fintshub/fints-sync/pkg/config"
	"github.com/fintshub/fints-sync/pkg/db"
)

var statsConnectionID int64

// statsCmd represents the stats command.
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Display import statistics for a connection",
	Long: `Display statistics about imported transactions.

Shows:
- Total number of imported transactions
- Breakdown by reconciliation status
- Last import timestamp

Example:
  fints-sync stats --connection 1`,
	Run: runStats,
}

func init() {
	statsCmd.Flags().Int64Var(&statsConnectionID, "connection", 0, "Bank connection ID (required)")
	statsCmd.MarkFlagRequired("connection")
}

func runStats(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(getConfigFile())
	exitOnError(err, "failed to load configuration")

	conn, err := db.Open(cfg.DBPath)
	exitOnError(err, "failed to open database")
	defer conn.Close()

	bc, err := db.NewConnections(conn).Get(statsConnectionID)
	exitOnError(err, "failed to get connection")

	stats, err := db.NewTransactions(conn).GetStats(statsConnectionID)
	exitOnError(err, "failed to get statistics")

	fmt.Println("\n=== Import Statistics ===")
	fmt.Printf("Connection:   %s (%s)\n", bc.Username, bc.BankCode)
	fmt.Printf("Total:        %d\n", stats.Total)
	fmt.Printf("New:          %d\n", stats.New)
	fmt.Printf("Matched:      %d\n", stats.Matched)
	fmt.Printf("Imported:     %d\n", stats.Imported)
	fmt.Printf("Ignored:      %d\n", stats.Ignored)

	if stats.LastImport.Valid {
		fmt.Printf("Last import:  %s\n", stats.LastImport.String)
	} else {
		fmt.Printf("Last import:  (never)\n")
	}
	if bc.LastSync.Valid {
		fmt.Printf("Last sync:    %s\n", bc.LastSync.Time.Format("2006-01-02 15:04:05"))
	}

	fmt.Println()
}
