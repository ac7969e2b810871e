package cmd

import (
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fintshub/fints-sync/internal/api"
	"github.com/fintshub/fints-sync/pkg/config"
	"github.com/fintshub/fints-sync/pkg/db"
	"github.com/fintshub/fints-sync/pkg/fints"
	"github.com/fintshub/fints-sync/pkg/reconcile"
	"github.com/fintshub/fints-sync/pkg/syncsession"
)

var serveAddr string

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	Long: `Run the HTTP API server for interactive statement syncs.

The server keeps TAN round-trips alive across requests: a sync that
requires a TAN returns the challenge (including photoTAN images) and
waits for the answer on a follow-up request from the same browser
session.

Example:
  fints-sync serve
  fints-sync serve --addr :9090`,
	Run: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides SERVER_ADDR)")
}

func runServe(cmd *cobra.Command, args []string) {
	// The server logs structured JSON; the CLI default is text.
	logLevel := slog.LevelInfo
	if debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(getConfigFile())
	exitOnError(err, "failed to load configuration")

	conn, err := db.Open(cfg.DBPath)
	exitOnError(err, "failed to open database")
	defer func() {
		if err := conn.Close(); err != nil {
			slog.Error("failed to close database", "error", err)
		}
	}()
	slog.Info("database initialized", "db_path", cfg.DBPath)

	registry, err := fints.LoadBankRegistry(cfg.Sync.BanksPath)
	exitOnError(err, "failed to load bank registry")

	weights, err := reconcile.LoadMatchWeights(cfg.Sync.WeightsPath)
	exitOnError(err, "failed to load match weights")

	gateway, err := newGateway(cfg)
	exitOnError(err, "failed to initialize gateway")

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

	router := api.NewRouter(api.Handlers{
		Connections:  api.NewConnectionsHandler(conns, txns, registry),
		Sync:         api.NewSyncHandler(manager),
		Transactions: api.NewTransactionsHandler(txns, matcher),
	})

	addr := cfg.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}
	slog.Info("starting fints-sync server", "addr", addr, "gateway", cfg.Sync.Gateway)

	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 130 * time.Second, // the decoupled poll endpoint blocks
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown.
	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
		<-sigint

		slog.Info("shutting down server")
		if err := server.Close(); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}
