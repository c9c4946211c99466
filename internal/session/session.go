// Package session wires the notification pipeline of one signed-in user.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"vn.io.arda/pinnotify/internal/domain"
	"vn.io.arda/pinnotify/internal/events"
	"vn.io.arda/pinnotify/internal/notifcache"
	"vn.io.arda/pinnotify/internal/popup"
	"vn.io.arda/pinnotify/internal/realtime"
	"vn.io.arda/pinnotify/internal/sse"
)

// Deps are the collaborators and tuning of a session.
type Deps struct {
	Tokens   realtime.TokenProvider
	Dialer   sse.Dialer
	Backend  notifcache.Backend
	Identity popup.IdentityResolver

	Realtime realtime.Options
	Cache    notifcache.Options
	Popup    popup.Options
}

// Session owns the stream connection, the cache and the popup queue.
type Session struct {
	Events *events.Dispatcher
	Conn   *realtime.Manager
	Cache  *notifcache.Synchronizer
	Popups *popup.Queue

	ctx    context.Context
	cancel context.CancelFunc
	unsubs []func()
	wg     sync.WaitGroup

	mu        sync.Mutex
	wasOnline bool
}

// Start loads the first pages and opens the stream.
// A failed initial load is logged; the stream still starts.
func Start(ctx context.Context, deps Deps) (*Session, error) {
	if deps.Tokens == nil || deps.Dialer == nil || deps.Backend == nil {
		return nil, errors.New("session: tokens, dialer and backend are required")
	}

	d := events.NewDispatcher()
	sctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		Events: d,
		Conn:   realtime.NewManager(deps.Realtime, deps.Tokens, deps.Dialer, d),
		Cache:  notifcache.New(deps.Backend, deps.Cache),
		Popups: popup.New(deps.Identity, deps.Popup),
		ctx:    sctx,
		cancel: cancel,
	}

	s.unsubs = append(s.unsubs,
		d.SubscribeNotifications(s.Cache.ApplyPushed),
		d.SubscribeNotifications(s.Popups.HandleNotification),
		d.SubscribeConnectionState(s.onState),
		d.SubscribeErrors(func(err error) {
			log.Warn().Err(err).Msg("notification stream error")
		}),
	)

	if err := s.Cache.Refresh(ctx); err != nil {
		log.Warn().Err(err).Msg("initial notification load failed")
	}

	if err := s.Conn.Connect(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("connect notification stream: %w", err)
	}
	return s, nil
}

// onState heals the cache after a reconnect, since pushes sent while
// offline were never received.
func (s *Session) onState(c domain.StateChange) {
	if c.State != domain.StateConnected {
		return
	}

	s.mu.Lock()
	reconnected := s.wasOnline
	s.wasOnline = true
	s.mu.Unlock()

	if !reconnected {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.Cache.Refresh(s.ctx); err != nil && s.ctx.Err() == nil {
			log.Warn().Err(err).Msg("refresh after reconnect failed")
		}
	}()
}

// Resume reconnects after Disconnect or exhausted retries. It is a no-op
// while connected.
func (s *Session) Resume(ctx context.Context) error {
	return s.Conn.Connect(ctx)
}

// OpenPopup dismisses the popup and marks its notification read. The item
// is returned for navigation even when marking fails.
func (s *Session) OpenPopup(ctx context.Context, id string) (popup.Item, bool, error) {
	item, ok := s.Popups.Click(id)
	if !ok {
		return popup.Item{}, false, nil
	}
	if err := s.Cache.MarkAsRead(ctx, []string{id}); err != nil {
		return item, true, err
	}
	return item, true, nil
}

// Close tears the session down. Safe to call more than once.
func (s *Session) Close() {
	for _, unsub := range s.unsubs {
		unsub()
	}
	s.Conn.Close()
	s.Popups.Close()
	s.cancel()
	s.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Cache.Wait(ctx); err != nil {
		log.Warn().Err(err).Msg("background resync still running at close")
	}
}
