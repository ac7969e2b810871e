package cmd

import (
	"database/sql"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fintshub/fints-sync/pkg/config"
	"github.com/fintshub/fints-sync/pkg/db"
	"github.com/fintshub/fints-sync/pkg/fints"
)

// connectionsCmd groups bank connection management.
var connectionsCmd = &cobra.Command{
	Use:   "connections",
	Short: "Manage bank connections",
}

var connectionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured bank connections",
	Run:   runConnectionsList,
}

var (
	addLedgerAccount int64
	addBankCode      string
	addURL           string
	addUsername      string
	addCustomerID    string
	addIBAN          string
	addSyncFrom      string
)

var connectionsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a bank connection",
	Long: `Add a bank connection.

The FinTS endpoint URL can be omitted for banks in the known-bank
registry; the routing code then fills it in.

Example:
  fints-sync connections add --ledger-account 1 --bank-code 12030000 --username kunde1`,
	Run: runConnectionsAdd,
}

func init() {
	connectionsAddCmd.Flags().Int64Var(&addLedgerAccount, "ledger-account", 0, "Ledger bank account ID (required)")
	connectionsAddCmd.Flags().StringVar(&addBankCode, "bank-code", "", "German bank routing code, 8 digits (required)")
	connectionsAddCmd.Flags().StringVar(&addURL, "url", "", "FinTS endpoint URL (default: from bank registry)")
	connectionsAddCmd.Flags().StringVar(&addUsername, "username", "", "Online banking login name (required)")
	connectionsAddCmd.Flags().StringVar(&addCustomerID, "customer-id", "", "Customer ID if it differs from the login name")
	connectionsAddCmd.Flags().StringVar(&addIBAN, "iban", "", "IBAN of the bank-side account")
	connectionsAddCmd.Flags().StringVar(&addSyncFrom, "sync-from", "", "Initial sync watermark (YYYY-MM-DD)")

	connectionsAddCmd.MarkFlagRequired("ledger-account")
	connectionsAddCmd.MarkFlagRequired("bank-code")
	connectionsAddCmd.MarkFlagRequired("username")

	connectionsCmd.AddCommand(connectionsListCmd)
	connectionsCmd.AddCommand(connectionsAddCmd)
}

func runConnectionsList(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(getConfigFile())
	exitOnError(err, "failed to load configuration")

	conn, err := db.Open(cfg.DBPath)
	exitOnError(err, "failed to open database")
	defer conn.Close()

	registry, err := fints.LoadBankRegistry(cfg.Sync.BanksPath)
	exitOnError(err, "failed to load bank registry")

	conns, err := db.NewConnections(conn).List()
	exitOnError(err, "failed to list connections")

	if len(conns) == 0 {
		fmt.Println("No bank connections configured")
		return
	}

	for _, bc := range conns {
		state := "active"
		if !bc.Active {
			state = "disabled"
		}
		name := bc.BankCode
		if bank, ok := registry.Lookup(bc.BankCode); ok {
			name = fmt.Sprintf("%s (%s)", bank.Name, bc.BankCode)
		}
		fmt.Printf("[%d] %s  %s  %s", bc.ID, name, bc.Username, state)
		if bc.LastSync.Valid {
			fmt.Printf("  last sync %s", bc.LastSync.Time.Format("2006-01-02"))
		}
		fmt.Println()
	}
}

func runConnectionsAdd(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(getConfigFile())
	exitOnError(err, "failed to load configuration")

	conn, err := db.Open(cfg.DBPath)
	exitOnError(err, "failed to open database")
	defer conn.Close()

	registry, err := fints.LoadBankRegistry(cfg.Sync.BanksPath)
	exitOnError(err, "failed to load bank registry")

	url := addURL
	if url == "" {
		if bank, ok := registry.Lookup(addBankCode); ok {
			url = bank.URL
		}
	}

	bc := &db.BankConnection{
		LedgerAccountID: addLedgerAccount,
		BankCode:        addBankCode,
		URL:             url,
		Username:        addUsername,
		CustomerID:      addCustomerID,
		IBAN:            addIBAN,
		Active:          true,
	}
	if addSyncFrom != "" {
		bc.SyncFrom = sql.NullString{String: addSyncFrom, Valid: true}
	}

	err = db.NewConnections(conn).Create(bc)
	exitOnError(err, "failed to create connection")

	fmt.Printf("Created bank connection %d\n", bc.ID)
}
