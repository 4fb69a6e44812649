/*
main.go - HTTP server entry point

PURPOSE:
  Starts the payment engine's HTTP API and the reconciliation scheduler.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load config (defaults -> YAML file -> env), then apply flags
  2. Build the zap logger
  3. Build the engine (stores, dedup ledger, gateway, service)
  4. Start the reconciliation scheduler
  5. Start the HTTP server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  YAML config file (default: payments.yaml, optional)
  -port    HTTP server port (overrides service.http_port)
  -db      SQLite database path; implies storage.driver=sqlite
           Use ":memory:" for an in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the scheduler
  4. Close stores and connections

EXAMPLES:
  ./server
  ./server -db="./data/payments.db"
  PLATFORM_FEE_RATE=0.12 ./server -port=3000

SEE ALSO:
  - config/config.go: All settings and env names
  - factory/engine.go: Driver selection
  - api/server.go: Router configuration
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
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/warp/payment-engine/api"
	"github.com/warp/payment-engine/config"
	"github.com/warp/payment-engine/factory"
	"github.com/warp/payment-engine/logging"
)

func main() {
	// Flags
	configPath := flag.String("config", "payments.yaml", "YAML config file")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (switches storage to sqlite)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if *port > 0 {
		cfg.HTTPPort = *port
	}
	if *dbPath != "" {
		cfg.StorageDriver = config.StorageSQLite
		cfg.SQLitePath = *dbPath
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	startCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	eng, err := factory.NewEngine(startCtx, cfg, logger)
	cancel()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer eng.Close()

	scheduler := api.NewReconciliationScheduler(eng.Service.Reconciler(), logger)
	scheduler.Enabled = cfg.ReconciliationEnabled
	scheduler.CheckInterval = cfg.ReconciliationInterval
	scheduler.AutoRepair = cfg.ReconciliationAutoRepair

	handler := api.NewHandler(eng.Service, eng.Verifier, logger)
	handler.Fixtures = eng.Fixtures()
	handler.Scheduler = scheduler

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      api.NewRouter(handler, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	scheduler.Start()
	defer scheduler.Stop()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.HTTPPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		logger.Info("shutting down server", zap.String("signal", sig.String()))
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}
