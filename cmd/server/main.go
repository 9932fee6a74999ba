/*
main.go - Application entry point

PURPOSE:
  Starts the school ledger bridge: the loopback HTTP server the desktop
  front-end talks to. Handles configuration, dependency injection, and
  graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Load config (.env, LEDGER_* variables), apply flag overrides, validate
  3. Initialize logging
  4. Open the store (SQLite file or in-memory)
  5. Create API handler and router
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -addr       Listen address, loopback only (default from LEDGER_ADDR)
  -db         SQLite database path (default from LEDGER_DB_PATH)
              Use ":memory:" for a throwaway database
  -backend    sqlite or memory
  -log-level  debug, info, warn, error
  -env        Path of the .env file to load (default: .env)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

EXAMPLES:
  ./server -db="./data/school.db"
  ./server -backend=memory -log-level=debug
  ./server -addr=127.0.0.1:3000

SEE ALSO:
  - config/config.go: Configuration keys and validation
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/elnajah/school-ledger/api"
	"github.com/elnajah/school-ledger/config"
	"github.com/elnajah/school-ledger/ledger"
	"github.com/elnajah/school-ledger/ledger/store"
	"github.com/elnajah/school-ledger/pkg/logging"
	"github.com/elnajah/school-ledger/store/sqlite"
)

func main() {
	if err := run(); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// Flags
	addr := flag.String("addr", "", "listen address (loopback only)")
	dbPath := flag.String("db", "", "SQLite database path")
	backend := flag.String("backend", "", "storage backend: sqlite or memory")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn, error")
	envFile := flag.String("env", ".env", "path of the .env file")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		return err
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			cfg.Addr = *addr
		case "db":
			cfg.DBPath = *dbPath
		case "backend":
			cfg.Backend = *backend
		case "log-level":
			cfg.LogLevel = *logLevel
		}
	})
	if err := cfg.Validate(); err != nil {
		return err
	}

	level, _ := logging.ParseLevel(cfg.LogLevel)
	logger := logging.SetupWithLevel(level)

	// Initialize store
	st, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	handler := api.NewHandler(st, api.WithLogger(logger))
	router := api.NewRouter(handler, cfg.AllowedOrigins...)

	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Server starting",
			"addr", "http://"+cfg.Addr,
			"backend", cfg.Backend,
			"db", cfg.DBPath,
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serveErr:
		return err
	case <-quit:
	}

	logger.Info("Shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return err
	}

	logger.Info("Server stopped")
	return nil
}

// openStore opens the configured backend and returns its close function.
func openStore(cfg config.Config) (ledger.TxStore, func(), error) {
	if cfg.Backend == config.BackendMemory {
		return store.NewMemory(), func() {}, nil
	}

	s, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return nil, nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Ping(ctx); err != nil {
		s.Close()
		return nil, nil, err
	}
	return s, func() {
		if err := s.Close(); err != nil {
			slog.Error("Failed to close database", "error", err)
		}
	}, nil
}
