/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the recovery billing engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (if present) and parse command-line flags
  2. Initialize SQLite store
  3. Wire domain services (catalog, ledger, reconciler, invoicing, payments, costs)
  4. Optionally seed the rate catalog from a JSON file
  5. Configure HTTP router and start the overdue-reminder sweep
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (default: 8080, env PORT)
  -db      SQLite database path (default: recovery.db, env DATABASE_PATH)
           Use ":memory:" for in-memory database
  -seed    Path to a JSON rate-card file loaded at startup (optional)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the reminder sweep and close the database
  4. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/recovery.db"

  # Run with in-memory database and seeded rates
  ./server -db=":memory:" -seed="./rates.json"

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: Database implementation
  - factory/seed.go: Rate-card loading
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/carthago/recovery-engine/api"
	"github.com/carthago/recovery-engine/costflow"
	"github.com/carthago/recovery-engine/factory"
	"github.com/carthago/recovery-engine/invoicing"
	"github.com/carthago/recovery-engine/recovery"
	"github.com/carthago/recovery-engine/store/sqlite"
	"github.com/carthago/recovery-engine/tariff"
)

func main() {
	// .env is optional; flags still win over environment values.
	_ = godotenv.Load()

	port := flag.Int("port", envInt("PORT", 8080), "HTTP server port")
	dbPath := flag.String("db", envStr("DATABASE_PATH", "recovery.db"), "SQLite database path")
	seedPath := flag.String("seed", os.Getenv("RATE_CARD_PATH"), "JSON rate-card file loaded at startup")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}
	defer store.Close()

	// Domain services share the single store.
	catalog := tariff.NewCatalog(store, log)
	ledger := tariff.NewCaseLedger(store, store, catalog, log)
	reconciler := recovery.NewReconciler(store, store, log)
	generator := invoicing.NewGenerator(store, store, ledger, store, log)
	payments := invoicing.NewPaymentLedger(store, store, ledger, log)
	costs := costflow.NewRecorder(store, catalog, store, log)

	if *seedPath != "" {
		f, err := os.Open(*seedPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", *seedPath).Msg("failed to open rate card")
		}
		n, err := factory.SeedCatalog(context.Background(), catalog, f)
		f.Close()
		if err != nil {
			log.Fatal().Err(err).Str("path", *seedPath).Msg("failed to seed rate catalog")
		}
		log.Info().Int("entries", n).Msg("rate catalog seeded")
	}

	handler := api.NewHandler(reconciler, catalog, ledger, generator, payments, costs)
	router := api.NewRouter(handler)

	sweep := api.NewReminderSweep(generator, log)
	sweep.Start()
	defer sweep.Stop()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Int("port", *port).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
