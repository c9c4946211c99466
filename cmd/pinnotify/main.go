package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"vn.io.arda/pinnotify/internal/config"
	"vn.io.arda/pinnotify/internal/domain"
	"vn.io.arda/pinnotify/internal/infrastructure/api"
	"vn.io.arda/pinnotify/internal/infrastructure/keycloak"
	"vn.io.arda/pinnotify/internal/notifcache"
	"vn.io.arda/pinnotify/internal/popup"
	"vn.io.arda/pinnotify/internal/realtime"
	"vn.io.arda/pinnotify/internal/session"
	"vn.io.arda/pinnotify/internal/sse"
)

func main() {
	// ── Logging ──────────────────────────────────────────────────────────────
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// ── Config ───────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if lvl, err := zerolog.ParseLevel(cfg.Log.Level); err == nil && cfg.Log.Level != "" {
		zerolog.SetGlobalLevel(lvl)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ── Credentials ──────────────────────────────────────────────────────────
	tokens := keycloak.New(cfg.Auth.KeycloakURL, cfg.Auth.Realm, cfg.Auth.ClientID, cfg.Auth.ClientSecret, nil)
	switch {
	case cfg.Auth.AccessToken != "" || cfg.Auth.RefreshToken != "":
		tokens.SignIn(cfg.Auth.AccessToken, cfg.Auth.RefreshToken)
	case cfg.Auth.Username != "":
		if err := tokens.SignInWithPassword(ctx, cfg.Auth.Username, cfg.Auth.Password); err != nil {
			log.Fatal().Err(err).Msg("sign in failed")
		}
	default:
		log.Fatal().Msg("no credentials configured: set auth.access_token or auth.username")
	}

	// ── Session ──────────────────────────────────────────────────────────────
	backend := api.New(cfg.Client.BaseURL, tokens, cfg.Realtime.MinTokenValidity)

	rt := realtime.DefaultOptions(backend.StreamURL())
	rt.BaseDelay = cfg.Realtime.BaseDelay
	rt.Factor = cfg.Realtime.Factor
	rt.MaxDelay = cfg.Realtime.MaxDelay
	rt.MaxAttempts = cfg.Realtime.MaxAttempts
	rt.HeartbeatTimeout = cfg.Realtime.HeartbeatTimeout
	rt.MinTokenValidity = cfg.Realtime.MinTokenValidity

	popupsChanged := make(chan struct{}, 1)
	sess, err := session.Start(ctx, session.Deps{
		Tokens:   tokens,
		Dialer:   sse.NewHTTPDialer(nil),
		Backend:  backend,
		Identity: backend,
		Realtime: rt,
		Cache: notifcache.Options{
			PageSize:      cfg.Client.PageSize,
			ResyncTimeout: cfg.Client.ResyncTimeout,
		},
		Popup: popup.Options{
			MaxItems: cfg.Popup.MaxItems,
			Duration: cfg.Popup.Duration,
			ActorTTL: cfg.Popup.ActorTTL,
			OnChange: func() {
				select {
				case popupsChanged <- struct{}{}:
				default:
				}
			},
		},
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start notification session")
	}
	defer sess.Close()

	sess.Events.SubscribeConnectionState(func(c domain.StateChange) {
		log.Info().
			Str("state", string(c.State)).
			Int("attempt", c.Attempt).
			Dur("retry_in", c.RetryIn).
			Msg("connection state")
	})
	sess.Events.SubscribeErrors(func(err error) {
		if errors.Is(err, realtime.ErrReconnectExhausted) {
			log.Error().Err(err).Msg("stream gave up, waiting for shutdown")
		}
	})
	sess.Events.SubscribeNotifications(func(n domain.Notification) {
		log.Info().
			Str("id", n.ID).
			Str("type", string(n.Type)).
			Int("aggregated", n.AggregatedCount).
			Int64("unread", sess.Cache.UnreadCount()).
			Msg("notification received")
	})

	log.Info().
		Int64("unread", sess.Cache.UnreadCount()).
		Str("state", string(sess.Conn.State())).
		Msg("pinnotify session started")

	// Print popups as they change until shutdown.
	shown := map[string]string{}
	for {
		select {
		case <-popupsChanged:
			for _, it := range sess.Popups.Items() {
				if shown[it.ID] == it.Message {
					continue
				}
				shown[it.ID] = it.Message
				log.Info().Str("title", it.Title).Str("message", it.Message).Msg("popup")
			}
		case <-ctx.Done():
			log.Info().Msg("pinnotify stopped")
			return
		}
	}
}
