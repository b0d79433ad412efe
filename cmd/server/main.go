package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"script-sandbox/internal/api"
	"script-sandbox/internal/config"
	"script-sandbox/internal/monitor"
	"script-sandbox/internal/sandbox"
	"script-sandbox/internal/service"
	"script-sandbox/internal/storage"
	"script-sandbox/internal/validate"
)

func main() {
	// Structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	if os.Getenv("ENV") != "production" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	var cfg *config.Config
	var err error

	if _, statErr := os.Stat(configPath); statErr == nil {
		cfg, err = config.Load(configPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", configPath).Msg("failed to load config")
		}
	} else {
		log.Info().Msg("no config file found, using defaults")
		cfg = config.DefaultConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := monitor.NewMetrics()

	// Database is optional; without it execution works but nothing is
	// recorded and datasets cannot be preloaded.
	var db *storage.DB
	if cfg.Database.DSN != "" {
		db, err = storage.New(ctx, cfg.Database.DSN)
		if err != nil {
			log.Warn().Err(err).Msg("database unavailable, audit logging disabled")
		} else {
			defer db.Close()
		}
	}

	var auditWriter *storage.AuditWriter
	if db != nil {
		auditWriter = storage.NewAuditWriter(db, 10000)
		auditWriter.Start()
		defer auditWriter.Flush(10 * time.Second)
	}

	var images service.ImageStore
	if cfg.Images.Enabled {
		store, err := storage.NewFSImageStore(cfg.Images.Dir)
		if err != nil {
			log.Warn().Err(err).Str("dir", cfg.Images.Dir).Msg("image store unavailable, images kept in responses only")
		} else {
			images = store
		}
	}

	runner := sandbox.NewRunner(cfg.Sandbox.PythonBinary, cfg.Sandbox.TempDir, cfg.Sandbox.MaxConcurrent)

	var datasets service.DatasetLoader
	if db != nil {
		datasets = db
	}

	exec := service.NewExecutor(
		service.Config{
			DefaultTimeout:  cfg.Sandbox.DefaultTimeout,
			MaxTimeout:      cfg.Sandbox.MaxTimeout,
			DefaultMemoryMB: cfg.Sandbox.DefaultMemoryMB,
			MaxOutputBytes:  cfg.Sandbox.MaxOutputBytes,
		},
		validate.DefaultPolicy(),
		runner,
		datasets,
		storage.NewAudit(db, auditWriter),
		images,
		metrics,
	)

	server := api.NewServer(cfg, exec, db, metrics)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh

		log.Info().Str("signal", sig.String()).Msg("shutting down")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown error")
		}

		cancel()
	}()

	log.Info().
		Str("addr", cfg.Address()).
		Str("python", cfg.Sandbox.PythonBinary).
		Bool("db_enabled", db != nil).
		Msg("server starting")

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server failed")
	}

	log.Info().Msg("server stopped")
}
