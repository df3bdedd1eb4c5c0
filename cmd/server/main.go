/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the brokerage commission engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (optional) and environment configuration
  2. Parse command-line flags (override the environment)
  3. Initialize SQLite store and blob storage (local or S3)
  4. Load split rules, build the commission engine
  5. Start the upload worker and, when enabled, the cron sync
  6. Configure HTTP router and start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (default: $PORT or 8080)
  -db      SQLite database path (default: $DB_PATH)
           Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (SHUTDOWN_TIMEOUT)
  3. Stop the scheduler and the upload worker
  4. Close database connection

EXAMPLES:
  # Run with file database
  ./server -db="./data/brokerage.db"

  # Run with in-memory database
  ./server -db=":memory:"

  # Store uploads in S3 and sync nightly
  STORAGE_TYPE=s3 S3_BUCKET=uploads SYNC_ENABLED=true ./server

SEE ALSO:
  - config/config.go: environment variables
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

	"github.com/warp/brokerage-engine/api"
	"github.com/warp/brokerage-engine/blob"
	"github.com/warp/brokerage-engine/commission"
	"github.com/warp/brokerage-engine/config"
	"github.com/warp/brokerage-engine/factory"
	"github.com/warp/brokerage-engine/logger"
	"github.com/warp/brokerage-engine/masterdata"
	"github.com/warp/brokerage-engine/metrics"
	"github.com/warp/brokerage-engine/store/sqlite"
)

func main() {
	envLoaded, envErr := config.LoadDotEnv()
	cfg := config.Load()

	// Flags
	port := flag.String("port", cfg.Port, "HTTP server port")
	dbPath := flag.String("db", cfg.DBPath, "SQLite database path")
	flag.Parse()

	log := logger.New(cfg.LogLevel)
	switch {
	case envErr != nil:
		log.Warn("failed to load .env file", "error", envErr)
	case !envLoaded:
		log.Debug("no .env file, using environment")
	}

	if err := run(cfg, *port, *dbPath, log); err != nil {
		log.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, port, dbPath string, log logger.Logger) error {
	ctx := context.Background()

	// Initialize store
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	store, err := sqlite.New(dbPath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()

	blobs, err := newBlobStorage(ctx, cfg)
	if err != nil {
		return err
	}

	rules, err := factory.LoadSplitRules(cfg.SplitRulesPath)
	if err != nil {
		return err
	}
	if cfg.RemainderRule != "" {
		if rules.Remainder, err = commission.ParseRemainderRule(cfg.RemainderRule); err != nil {
			return err
		}
	}

	m := metrics.New()

	engine := commission.NewEngine(store, store, rules)
	engine.Recorder = m

	uploads := masterdata.NewService(blobs, store, store, log.With("component", "uploads"), cfg.UploadQueueSize)
	uploads.Recorder = m
	worker := masterdata.NewWorker(uploads)
	worker.SweepInterval = cfg.UploadSweepInterval
	worker.Start()
	defer worker.Stop()

	scheduler := api.NewSyncScheduler(store, engine, m, log)
	scheduler.Schedule = cfg.SyncSchedule
	scheduler.Enabled = cfg.SyncEnabled
	if err := scheduler.Start(); err != nil {
		return err
	}
	defer scheduler.Stop()

	// Initialize handler
	handler := api.NewHandler(store, engine, uploads, m, log)
	handler.DefaultOrgID = cfg.DefaultOrgID
	handler.AllowedOrigins = cfg.CORSAllowedOrigins

	// Create server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      api.NewRouter(handler),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		log.Info("server starting", "addr", server.Addr, "db", dbPath, "storage", cfg.StorageType,
			"remainder_rule", rules.Remainder)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serverErr:
		return err
	case <-quit:
	}

	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info("server stopped")
	return nil
}

func newBlobStorage(ctx context.Context, cfg *config.Config) (blob.Storage, error) {
	switch cfg.StorageType {
	case "s3":
		return blob.NewS3(ctx, blob.S3Config{
			Region:          cfg.AWSRegion,
			Bucket:          cfg.S3Bucket,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
			Endpoint:        cfg.S3Endpoint,
		})
	case "local", "":
		return blob.NewLocal(cfg.StorageLocalPath)
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.StorageType)
	}
}
