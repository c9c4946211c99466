package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"vn.io.arda/pinnotify/internal/application"
	"vn.io.arda/pinnotify/internal/config"
	"vn.io.arda/pinnotify/internal/domain"
	"vn.io.arda/pinnotify/internal/infrastructure/memory"
	"vn.io.arda/pinnotify/internal/infrastructure/postgres"
	kafkaconsumer "vn.io.arda/pinnotify/internal/kafka"
	transporthttp "vn.io.arda/pinnotify/internal/transport/http"
	"vn.io.arda/pinnotify/internal/transport/mw"
)

// devUsers seed the in-memory users directory.
var devUsers = []domain.Actor{
	{ID: "alice", DisplayName: "Alice"},
	{ID: "bob", DisplayName: "Bob"},
	{ID: "carol", DisplayName: "Carol"},
}

func main() {
	// ── Logging ──────────────────────────────────────────────────────────────
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// ── Config ───────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	setLevel(cfg)

	log.Info().Str("env", cfg.Server.Env).Str("port", cfg.Server.Port).Msg("starting pinnotify devserver")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ── Repository & SSE Hub ─────────────────────────────────────────────────
	repo, closeRepo := openRepository(ctx, cfg)
	defer closeRepo()
	hub := transporthttp.NewHub()

	// ── Application Service ───────────────────────────────────────────────────
	svc := application.NewService(repo, hub)

	// ── HTTP Server ───────────────────────────────────────────────────────────
	dev := cfg.Server.Env != "production"
	handler := transporthttp.NewHandler(svc, hub, cfg.Server.HeartbeatInterval, nil)
	router := transporthttp.NewRouter(handler, cfg.Server.JWTSecret, dev)

	if dev {
		logDevTokens(cfg.Server.JWTSecret)
	}

	// ── Kafka Consumer ────────────────────────────────────────────────────────
	if len(cfg.Kafka.Brokers) > 0 {
		consumer, err := kafkaconsumer.New(
			cfg.Kafka.Brokers,
			cfg.Kafka.ConsumerGroupID,
			cfg.Kafka.Topics,
			svc,
		)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create kafka consumer")
		}

		// Start Kafka consumer in background
		go consumer.Start(ctx)
		log.Info().Strs("topics", cfg.Kafka.Topics).Msg("kafka consumer started")
	} else {
		log.Info().Msg("no kafka brokers configured, consumer disabled")
	}

	// ── TTL Purge Job (every 24h) ─────────────────────────────────────────────
	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				svc.PurgeTTL(context.Background(), cfg.Server.RetentionDays)
			case <-ctx.Done():
				return
			}
		}
	}()

	// ── Start HTTP Server ─────────────────────────────────────────────────────
	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("HTTP server listening")
		if err := router.Start(":" + cfg.Server.Port); err != nil {
			log.Info().Msg("HTTP server stopped")
		}
	}()

	// ── Graceful Shutdown ─────────────────────────────────────────────────────
	<-ctx.Done()
	log.Info().Msg("shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := router.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	log.Info().Msg("pinnotify devserver stopped")
}

func setLevel(cfg *config.Config) {
	if lvl, err := zerolog.ParseLevel(cfg.Log.Level); err == nil && cfg.Log.Level != "" {
		zerolog.SetGlobalLevel(lvl)
		return
	}
	if cfg.Server.Env == "production" {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// openRepository uses Postgres when a database host is configured and the
// in-memory store otherwise.
func openRepository(ctx context.Context, cfg *config.Config) (domain.Repository, func()) {
	if cfg.Database.Host == "" {
		log.Info().Msg("no database configured, using in-memory store")
		return memory.New(nil, devUsers...), func() {}
	}

	pool, err := pgxpool.New(ctx, cfg.Database.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}

	if err := pool.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("postgres ping failed")
	}
	log.Info().Msg("postgres connected")

	repo := postgres.New(pool)
	if err := repo.EnsureSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to prepare schema")
	}
	return repo, pool.Close
}

func logDevTokens(secret string) {
	exp := jwt.NewNumericDate(time.Now().Add(24 * time.Hour))
	for _, u := range devUsers {
		tok, err := mw.SignToken(secret, u.ID, jwt.RegisteredClaims{ExpiresAt: exp})
		if err != nil {
			log.Error().Err(err).Str("user", u.ID).Msg("failed to sign dev token")
			continue
		}
		log.Info().Str("user", u.ID).Str("token", tok).Msg("dev token")
	}
}
