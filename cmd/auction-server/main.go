package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"gavel-auction/internal/auction"
	"gavel-auction/internal/config"
	"gavel-auction/internal/scheduler"
	"gavel-auction/internal/server"
)

func main() {

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	initLogging(cfg)

	log.Info().Msg("Starting Gavel auction server...")

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Create coordinator and auction registry. The registry broadcasts
	// committed state changes through the coordinator, so the two are wired
	// in both directions.
	coordinator := server.NewCoordinator(server.CoordinatorParams{
		Config: cfg,
		Logger: log.Logger,
	})
	registry := auction.NewRegistry(auction.RegistryParams{
		Broadcaster: coordinator,
		Logger:      log.Logger,
	})
	coordinator.SetRegistry(registry)

	log.Info().Msg("Coordinator and auction registry initialized")

	// Start the periodic loops: the end sweep fires immediately and then
	// every interval; the inactivity sweep waits a full interval first so
	// freshly connected clients are never judged on an empty record.
	runner := scheduler.NewRunner(log.Logger)
	runner.Every("auction_end_sweep", cfg.Timing.AuctionSweepInterval, 0, func(ctx context.Context) {
		coordinator.SweepAuctions()
	})
	runner.Every("inactivity_sweep", cfg.Timing.InactivityCheckInterval, cfg.Timing.InactivityCheckInterval, func(ctx context.Context) {
		coordinator.SweepInactive()
	})
	log.Info().Msg("Periodic sweeps started")

	srv := server.NewServer(server.ServerParams{
		Config:      cfg,
		Coordinator: coordinator,
		Logger:      log.Logger,
	})

	// Start rendezvous server
	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting rendezvous server")
		if err := srv.Start(); err != nil {
			log.Error().Err(err).Msg("Failed to start rendezvous server")
			cancel()
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
	case <-ctx.Done():
		log.Info().Msg("Context cancelled")
	}

	// Graceful shutdown
	log.Info().Msg("Starting graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	runner.Stop()
	log.Info().Msg("Periodic sweeps stopped")

	if err := srv.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping rendezvous server")
	}

	log.Info().Msg("Graceful shutdown completed")
}

func initLogging(cfg *config.Config) {
	// Set log level
	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Set log format
	if cfg.Logging.Format == "json" {
		// JSON format (default)
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	} else {
		// Console format for development
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		log.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	// Set global logger
	zerolog.DefaultContextLogger = &log.Logger
}
