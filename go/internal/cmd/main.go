package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/cuesync/cuesync/go/internal/gateway"
	"github.com/cuesync/cuesync/go/internal/persist"
	"github.com/cuesync/cuesync/go/internal/timer"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file found")
	}
	setupLogging()

	cfg, err := loadConfig(getEnv("CONFIG_PATH", "config.yaml"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, cleanup, err := setupStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up snapshot store")
	}
	defer cleanup()

	service := timer.NewService(timer.NewRegistry(), store, clockwork.NewRealClock())
	if err := service.Restore(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to restore timer states")
	}

	hub := gateway.NewHub(service)
	broadcasters := timer.MultiBroadcaster{hub}

	if cfg.NATS.Enabled {
		natsCfg := gateway.DefaultNATSConfig()
		if cfg.NATS.URL != "" {
			natsCfg.URL = cfg.NATS.URL
		}
		natsCfg.SubjectPrefix = cfg.NATS.SubjectPrefix

		publisher, err := gateway.NewNATSPublisher(natsCfg)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect NATS publisher")
		}
		defer publisher.Close()
		broadcasters = append(broadcasters, publisher)
	}

	service.SetBroadcaster(broadcasters)

	srv := setupServer(cfg, service, hub)

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("timer API server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}
	service.Close(shutdownCtx)
}

func setupStore(ctx context.Context, cfg *Config) (timer.SnapshotStore, func(), error) {
	switch cfg.Snapshot.Backend {
	case "postgres":
		pool, err := pgxpool.New(ctx, persist.PostgresConfigFromEnv().DSN())
		if err != nil {
			return nil, nil, err
		}
		store, err := persist.NewPostgresStore(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		return store, pool.Close, nil
	default:
		return persist.NewFileStore(cfg.Snapshot.File), func() {}, nil
	}
}

func setupLogging() {
	level, err := zerolog.ParseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if getEnv("LOG_FORMAT", "json") == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}
