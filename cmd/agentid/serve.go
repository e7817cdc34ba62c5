package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentid/agentid-core/internal/server"
	"github.com/agentid/agentid-core/internal/store"
	"github.com/agentid/agentid-core/pkg/a2a"
	"github.com/agentid/agentid-core/pkg/broadcast"
	"github.com/agentid/agentid-core/pkg/domainverify"
	"github.com/agentid/agentid-core/pkg/lifecycle"
	"github.com/agentid/agentid-core/pkg/policy"
	"github.com/agentid/agentid-core/pkg/reputation"
	"github.com/agentid/agentid-core/pkg/signer"
	"github.com/agentid/agentid-core/pkg/verifier"
	"github.com/agentid/agentid-core/pkg/webhook"
)

const (
	listenAddrEnv = "AGENTID_LISTEN_ADDR"
	dbPathEnv     = "AGENTID_DB_PATH"
)

var (
	serveAddr   string
	serveDBPath string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the credential service",
	Long: `Run the AgentID credential service: HTTP API, revocation
WebSocket stream, and webhook delivery.

The master secret must be set via AGENTID_MASTER_SECRET; per-issuer
signing keys are derived from it and never stored.`,
	Example: `  # Serve on the default address with a local database
  AGENTID_MASTER_SECRET=... agentid serve

  # Custom address and database path
  AGENTID_MASTER_SECRET=... agentid serve --addr :9090 --db /var/lib/agentid/agentid.db`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		sg, err := signer.FromEnv()
		if err != nil {
			return err
		}

		addr := serveAddr
		if env := os.Getenv(listenAddrEnv); addr == ":8080" && env != "" {
			addr = env
		}
		dbPath := serveDBPath
		if env := os.Getenv(dbPathEnv); dbPath == "agentid.db" && env != "" {
			dbPath = env
		}

		db, err := store.Open(dbPath)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		if err := store.RunMigrations(cmd.Context(), db); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		repo := store.NewRepository(db)

		hub := broadcast.NewHub()
		defer hub.Close()

		dispatcher := webhook.New(repo)
		aggregator := reputation.New(repo)

		router := server.NewRouter(server.Config{
			Repo:       repo,
			Signer:     sg,
			Verifier:   verifier.New(repo, verifier.MultiRecorder{repo, aggregator}),
			Lifecycle:  lifecycle.New(repo, sg, lifecycle.WithHub(hub), lifecycle.WithNotifier(dispatcher)),
			Policies:   policy.New(repo),
			Reputation: aggregator,
			Authz:      a2a.New(repo),
			Webhooks:   dispatcher,
			Hub:        hub,
			Domains:    domainverify.New(),
		})

		srv := &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			log.Printf("agentid: listening on %s (db: %s)", addr, dbPath)
			errCh <- srv.ListenAndServe()
		}()

		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

		select {
		case err := <-errCh:
			return err
		case sig := <-stop:
			log.Printf("agentid: received %s, shutting down", sig)
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(ctx)
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "Listen address")
	serveCmd.Flags().StringVar(&serveDBPath, "db", "agentid.db", "SQLite database path")
}
