// Package main is the entry point for the trick room server.
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

	"trick-room-server/internal/bot"
	"trick-room-server/internal/broadcast"
	"trick-room-server/internal/config"
	"trick-room-server/internal/game"
	"trick-room-server/internal/game/fourhundred"
	"trick-room-server/internal/game/notrump"
	"trick-room-server/internal/game/spades"
	"trick-room-server/internal/handler"
	"trick-room-server/internal/persistence"
	"trick-room-server/internal/pkg/db"
	"trick-room-server/internal/repository"
	"trick-room-server/internal/service"
)

func main() {
	// Configure zerolog
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// Load configuration
	cfg, err := config.Load("config")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log.Info().Msg("Configuration loaded successfully")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database connection pool
	dbPool, err := db.NewPool(ctx, &cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer dbPool.Close()

	if err := db.Migrate(ctx, dbPool.Pool); err != nil {
		log.Fatal().Err(err).Msg("Failed to run database migrations")
	}

	variants, err := newRegistry(&cfg.Games)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to register variants")
	}
	log.Info().
		Int("variant_count", variants.Count()).
		Strs("variants", variants.IDs()).
		Msg("Variants registered")

	// Initialize repositories
	roomRepo := repository.NewRoomRepository(dbPool.Pool)
	snapshotRepo := repository.NewSnapshotRepository(dbPool.Pool)

	writer := persistence.NewWriter(snapshotRepo, persistence.Config{
		Workers:         cfg.Persistence.Workers,
		WriteTimeout:    cfg.Persistence.WriteTimeout,
		MaxRetryElapsed: cfg.Persistence.MaxRetryElapsed,
	})

	roomService := service.NewRoomService(roomRepo, variants)

	hub := broadcast.NewHub(broadcast.HubConfig{
		SendQueue:      cfg.Server.SendQueue,
		PingInterval:   cfg.Server.PingInterval,
		WriteTimeout:   cfg.Server.WriteTimeout,
		OriginPatterns: cfg.Server.OriginPatterns(),
	}, nil)

	sinks := []broadcast.Sink{hub}
	var announcer *bot.Announcer
	if cfg.Telegram.Announcer() {
		announcer, err = bot.New(bot.SettingsFrom(cfg.Telegram), nil)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create announcer bot")
		}
		sinks = append(sinks, announcer)
	}

	manager := service.NewSessionManager(service.Dependencies{
		Variants:  variants,
		Rooms:     roomService,
		Snapshots: snapshotRepo,
		Writer:    writer,
		Publisher: broadcast.NewGateway(sinks...),
	}, service.ManagerConfig{
		CommandTimeout: cfg.Session.CommandTimeout,
		LockTimeout:    cfg.Session.LockTimeout,
		QueueSize:      cfg.Session.QueueSize,
	})
	hub.SetDispatcher(manager)

	if announcer != nil {
		announcer.SetStandings(manager)
		go announcer.Start()
	}

	api := handler.New(roomService, manager, hub, variants, dbPool.HealthCheck)
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.Routes(cfg.Server.IsOriginAllowed),
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
	}

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("Server is starting...")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for shutdown signal
	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// Websocket connections are hijacked, so Shutdown does not wait for them.
	hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP server shutdown incomplete")
	}
	manager.Close()
	if announcer != nil {
		announcer.Stop()
	}
	if err := writer.Close(shutdownCtx); err != nil {
		log.Warn().Err(err).Int("pending", writer.Pending()).Msg("Snapshots left unwritten")
	}
	log.Info().Msg("Server stopped gracefully")
}

// newRegistry registers every variant with its configured thresholds.
func newRegistry(cfg *config.GamesConfig) (*game.Registry, error) {
	reg := game.NewRegistry()
	descriptors := []*game.Descriptor{
		fourhundred.New(&fourhundred.Config{
			WinScore:   cfg.TrumpHearts.WinScore,
			Thresholds: thresholds(cfg.TrumpHearts.Thresholds),
		}),
		fourhundred.NewFixed(&fourhundred.Config{
			WinScore:   cfg.TrumpHearts.WinScore,
			Thresholds: thresholds(cfg.TrumpHearts.FixedThresholds),
		}),
		spades.New(&spades.Config{WinScore: cfg.Spades.WinScore, LoseScore: cfg.Spades.LoseScore}),
		notrump.New(&notrump.Config{WinScore: cfg.NoTrump.WinScore}),
	}
	for _, d := range descriptors {
		if err := reg.Register(d); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// thresholds converts a configured multiplier table. An all-zero table keeps
// the variant's own.
func thresholds(c config.ThresholdsConfig) fourhundred.Thresholds {
	return fourhundred.Thresholds{
		Double:         c.Double,
		Triple:         c.Triple,
		Quadruple:      c.Quadruple,
		ScaleWithScore: c.ScaleWithScore,
	}
}
