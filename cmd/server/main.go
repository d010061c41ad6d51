/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the Ledgerline draw engine server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (if present) and parse command-line flags
  2. Initialize the store (SQLite by default, Postgres if DATABASE_URL)
  3. Connect the NATS broadcaster (optional)
  4. Build the orchestrator and API handler
  5. Start the lock/undo sweeper
  6. Start the HTTP server with graceful shutdown

CONFIGURATION:
  Flags take precedence over environment variables.

  -port / PORT                   HTTP server port (default: 8080)
  -db   / SQLITE_PATH            SQLite database path (default: draws.db)
                                 Use ":memory:" for an in-memory database
        / DATABASE_URL           Postgres connection string; when set,
                                 Postgres is used instead of SQLite
        / NATS_URL               NATS server URL; events are broadcast
                                 when set, silently skipped otherwise
        / LOG_FORMAT             "console" for pretty output (default:
                                 JSON)
        / LOCK_TTL_SECONDS       Advisory lock TTL (default: 90)
        / UNDO_WINDOW_SECONDS    Undo availability window (default: 60)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the sweeper, drain NATS, close the database
  4. Exit

EXAMPLES:
  # Run with a file database
  ./server -db="./data/draws.db"

  # Run against Postgres with events
  DATABASE_URL="postgres://localhost/draws" NATS_URL="nats://localhost:4222" ./server

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go, store/postgres/postgres.go: Persistence
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

	"github.com/ledgerline/draw-engine/api"
	"github.com/ledgerline/draw-engine/engine"
	"github.com/ledgerline/draw-engine/notify"
	"github.com/ledgerline/draw-engine/store/postgres"
	"github.com/ledgerline/draw-engine/store/sqlite"
)

func main() {
	_ = godotenv.Load()

	port := flag.Int("port", envInt("PORT", 8080), "HTTP server port")
	dbPath := flag.String("db", envStr("SQLITE_PATH", "draws.db"), "SQLite database path")
	flag.Parse()

	log := newLogger()

	// Store: Postgres when DATABASE_URL is set, SQLite otherwise.
	var (
		store  engine.Store
		closer func()
	)
	if connStr := os.Getenv("DATABASE_URL"); connStr != "" {
		pg, err := postgres.New(context.Background(), connStr)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize postgres")
		}
		store = pg
		closer = pg.Close
		log.Info().Msg("using postgres store")
	} else {
		sq, err := sqlite.New(*dbPath)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize sqlite")
		}
		store = sq
		closer = func() { _ = sq.Close() }
		log.Info().Str("path", *dbPath).Msg("using sqlite store")
	}
	defer closer()

	// Orchestrator
	orch := engine.NewOrchestrator(store, log)
	if ttl := envInt("LOCK_TTL_SECONDS", 0); ttl > 0 {
		orch.Locks = engine.NewLockManager(time.Duration(ttl) * time.Second)
	}
	if window := envInt("UNDO_WINDOW_SECONDS", 0); window > 0 {
		orch.Undo = engine.NewUndoJournal(time.Duration(window) * time.Second)
	}
	orch.Stamper = auditStamper{log: log}

	// Event broadcasting (optional)
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		broadcaster, err := notify.Connect(natsURL, log)
		if err != nil {
			log.Fatal().Err(err).Str("url", natsURL).Msg("failed to connect to nats")
		}
		defer broadcaster.Close()
		orch.Broadcaster = broadcaster
		log.Info().Str("url", natsURL).Msg("event broadcasting enabled")
	}

	// Handler and background sweeper
	handler := api.NewHandler(orch, log)
	sweeper := api.NewSweeper(orch, log)
	sweeper.Start()
	defer sweeper.Stop()

	router := api.NewRouter(handler)

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

func newLogger() zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if os.Getenv("LOG_FORMAT") == "console" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}

// auditStamper records lifecycle events in the structured log. A real
// deployment would write to an audit table; the orchestrator treats
// stamping as best-effort either way.
type auditStamper struct {
	log zerolog.Logger
}

func (s auditStamper) Stamp(_ context.Context, entityType engine.EntityType, entityID, event string) error {
	s.log.Info().
		Str("entity_type", string(entityType)).
		Str("entity_id", entityID).
		Str("event", event).
		Msg("audit")
	return nil
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
