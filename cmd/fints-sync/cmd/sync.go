package cmd

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/fintshub/fints-sync/pkg/config"
	"github.com/fintshub/fints-sync/pkg/db"
	"github.com/fintshub/fints-sync/pkg/reconcile"
	"github.com/fintshub/fints-sync/pkg/syncsession"
)

var (
	syncConnectionID int64
	syncFrom         string
	syncTo           string
	syncAutoMatch    bool
)

// syncCmd represents the sync command.
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync bank transactions for a connection",
	Long: `Sync booked transactions from the bank into the local store.

This command:
1. Opens a FinTS dialog for the connection
2. Prompts for the PIN (and a TAN when the bank demands one)
3. Fetches the statement for the date range
4. Imports new transactions, skipping known fingerprints
5. Optionally auto-matches new transactions against open invoices

The PIN and TAN are read from the terminal and held in memory only.

Example:
  fints-sync sync --connection 1
  fints-sync sync --connection 1 --from 2026-08-01 --to 2026-08-31 --automatch`,
	Run: runSync,
}

func init() {
	syncCmd.Flags().Int64Var(&syncConnectionID, "connection", 0, "Bank connection ID (required)")
	syncCmd.Flags().StringVar(&syncFrom, "from", "", "Start date (YYYY-MM-DD), default: last watermark")
	syncCmd.Flags().StringVar(&syncTo, "to", "", "End date (YYYY-MM-DD), default: today")
	syncCmd.Flags().BoolVar(&syncAutoMatch, "automatch", false, "Auto-match new transactions after the import")

	syncCmd.MarkFlagRequired("connection")
}

func runSync(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(getConfigFile())
	exitOnError(err, "failed to load configuration")

	conn, err := db.Open(cfg.DBPath)
	exitOnError(err, "failed to open database")
	defer conn.Close()

	gateway, err := newGateway(cfg)
	exitOnError(err, "failed to initialize gateway")

	weights, err := reconcile.LoadMatchWeights(cfg.Sync.WeightsPath)
	exitOnError(err, "failed to load match weights")

	conns := db.NewConnections(conn)
	txns := db.NewTransactions(conn)
	ledger := db.NewSQLLedger(conn)
	importer := reconcile.NewImporter(txns, conns)
	matcher := reconcile.NewMatcher(txns, conns, ledger, conn, weights)

	store := syncsession.NewStore(cfg.Sync.SessionTTL)
	manager := syncsession.NewManager(gateway, conns, importer, store, syncsession.Options{
		PollInterval: cfg.Sync.PollInterval,
		PollTimeout:  cfg.Sync.PollTimeout,
		TanRetryCap:  cfg.Sync.TanRetryCap,
		ProductID:    cfg.Sync.ProductID,
	})

	var from, to time.Time
	if syncFrom != "" {
		from, err = time.Parse("2006-01-02", syncFrom)
		exitOnError(err, "invalid --from date")
	}
	if syncTo != "" {
		to, err = time.Parse("2006-01-02", syncTo)
		exitOnError(err, "invalid --to date")
	}

	reader := bufio.NewReader(os.Stdin)
	pin := prompt(reader, "PIN: ")

	ctx := context.Background()
	const cliUser = "cli"

	res := manager.StartSync(ctx, cliUser, syncConnectionID, pin, from, to)

	for res.Success && res.NeedsTan {
		if res.Decoupled {
			fmt.Println(res.Challenge)
			fmt.Println("Waiting for confirmation in the banking app ...")
			res = manager.PollDecoupled(ctx, cliUser, syncConnectionID)
			continue
		}
		if len(res.ChallengeImage) > 0 {
			path, err := saveChallengeImage(res.ChallengeMIME, res.ChallengeImage)
			if err != nil {
				slog.Warn("failed to save challenge image", "error", err)
			} else {
				fmt.Printf("Challenge image written to %s\n", path)
			}
		}
		if res.Challenge != "" {
			fmt.Println(res.Challenge)
		}
		if res.TanMedium != "" {
			fmt.Printf("TAN medium: %s\n", res.TanMedium)
		}
		tan := prompt(reader, "TAN: ")
		res = manager.SubmitTan(ctx, cliUser, syncConnectionID, tan)
	}

	if !res.Success {
		fmt.Fprintf(os.Stderr, "Sync failed (%s): %s\n", res.Code, res.Error)
		os.Exit(1)
	}

	fmt.Printf("Imported %d new transactions, skipped %d known ones\n", res.Imported, res.Skipped)

	if syncAutoMatch {
		runAutoMatch(txns, matcher, syncConnectionID)
	}
}

func runAutoMatch(txns *db.Transactions, matcher *reconcile.Matcher, connID int64) {
	rows, err := txns.ListByConnection(connID, db.StatusNew, 1000, 0)
	exitOnError(err, "failed to list new transactions")

	matched := 0
	for _, t := range rows {
		invoiceID, ok, err := matcher.AutoMatch(t.ID)
		if err != nil {
			slog.Error("auto-match failed", "transaction_id", t.ID, "error", err)
			continue
		}
		if !ok {
			continue
		}
		if err := matcher.Match(t.ID, invoiceID); err != nil {
			slog.Error("match failed", "transaction_id", t.ID, "invoice_id", invoiceID, "error", err)
			continue
		}
		matched++
	}
	fmt.Printf("Auto-matched %d of %d new transactions\n", matched, len(rows))
}

func prompt(reader *bufio.Reader, label string) string {
	fmt.Print(label)
	line, _ := reader.ReadString('\n')
	return strings.TrimSpace(line)
}

func saveChallengeImage(mime string, data []byte) (string, error) {
	ext := ".png"
	if strings.Contains(mime, "jpeg") {
		ext = ".jpg"
	}
	path := filepath.Join(os.TempDir(), "fints-tan-challenge"+ext)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}
	return path, nil
}
