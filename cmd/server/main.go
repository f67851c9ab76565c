/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the Warp Operations Engine server: spot-check
  count reconciliation plus the ABAC policy evaluator.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Read configuration from the environment, then apply flag overrides
  2. Build the logger
  3. Load fixtures (embedded, or OPS_FIXTURES directory)
  4. Initialize SQLite store
  5. Create API handler, router and overdue monitor
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -addr      HTTP listen address (default: :8080, OPS_ADDR)
  -port      HTTP server port, shorthand for -addr=:PORT
  -db        SQLite database path (default: ./data/ops.db, OPS_DB)
             Use ":memory:" for in-memory database
  -log-level Log level (default: info, LOG_LEVEL)
  -fixtures  Fixtures directory (default: embedded, OPS_FIXTURES)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the overdue monitor
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection

EXAMPLES:
  ./server -db=":memory:"
  OPS_ALGORITHM=first-applicable ./server -port=3000

SEE ALSO:
  - config/config.go: Environment variables
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/warp/ops-engine/api"
	"github.com/warp/ops-engine/config"
	"github.com/warp/ops-engine/fixtures"
	"github.com/warp/ops-engine/metrics"
	"github.com/warp/ops-engine/store/sqlite"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}

	// Flags
	flag.StringVar(&cfg.Addr, "addr", cfg.Addr, "HTTP listen address")
	port := flag.Int("port", 0, "HTTP server port (overrides -addr)")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database path")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level")
	flag.StringVar(&cfg.FixturesDir, "fixtures", cfg.FixturesDir, "Fixtures directory (empty: embedded)")
	flag.Parse()
	if *port > 0 {
		cfg.Addr = fmt.Sprintf(":%d", *port)
	}

	logger := config.NewLogger(cfg.LogLevel)

	fx, err := loadFixtures(cfg.FixturesDir)
	if err != nil {
		return fmt.Errorf("load fixtures: %w", err)
	}

	// Initialize store
	if cfg.DBPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
			return fmt.Errorf("create database directory: %w", err)
		}
	}
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer store.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	handler := api.NewHandler(store, fx, cfg.Engine(), m, logger)
	router := api.NewRouter(handler)

	monitor := api.NewOverdueMonitor(store, m, logger)
	monitor.CheckInterval = cfg.OverdueInterval
	monitor.Start()
	defer monitor.Stop()

	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.WithFields(logrus.Fields{
			"addr":      cfg.Addr,
			"db":        cfg.DBPath,
			"algorithm": cfg.Algorithm,
			"default":   cfg.DefaultEffect,
		}).Info("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Wait for interrupt signal or a listener failure
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		logger.WithField("signal", sig.String()).Info("shutting down server")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

func loadFixtures(dir string) (*fixtures.Provider, error) {
	if dir == "" {
		return fixtures.Default()
	}
	return fixtures.FromDir(dir)
}
