// Package realtime keeps the push stream to the notification backend alive.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"
	"vn.io.arda/pinnotify/internal/domain"
	"vn.io.arda/pinnotify/internal/events"
	"vn.io.arda/pinnotify/internal/sse"
)

// TokenProvider supplies bearer credentials for the stream.
type TokenProvider interface {
	// Authenticated reports whether a user session exists.
	Authenticated() bool
	// Token returns a credential valid for at least minValidity, refreshing when needed.
	Token(ctx context.Context, minValidity time.Duration) (string, error)
	// Refresh forces a credential refresh.
	Refresh(ctx context.Context) (string, error)
}

// Options tunes reconnection and liveness detection.
type Options struct {
	StreamURL        string
	BaseDelay        time.Duration
	Factor           float64
	MaxDelay         time.Duration
	MaxAttempts      int
	HeartbeatTimeout time.Duration
	MinTokenValidity time.Duration
	Clock            clock.Clock
}

// DefaultOptions returns the production defaults for streamURL.
func DefaultOptions(streamURL string) Options {
	return Options{
		StreamURL:        streamURL,
		BaseDelay:        time.Second,
		Factor:           2,
		MaxDelay:         30 * time.Second,
		MaxAttempts:      10,
		HeartbeatTimeout: 45 * time.Second,
		MinTokenValidity: 30 * time.Second,
	}
}

// Manager owns the single push stream of a session.
//
// Every stream attempt runs under a generation number. Tearing a stream down
// bumps the generation, so read errors, timer callbacks and dial results that
// belong to an older generation are ignored.
type Manager struct {
	opts   Options
	tokens TokenProvider
	dialer sse.Dialer
	events *events.Dispatcher
	clock  clock.Clock

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	state     domain.ConnectionState
	gen       uint64
	attempts  int
	manual    bool
	stream    sse.Stream
	heartbeat *clock.Timer
	retry     *clock.Timer
}

// NewManager creates a disconnected manager. Zero option fields fall back to
// DefaultOptions.
func NewManager(opts Options, tokens TokenProvider, dialer sse.Dialer, dispatcher *events.Dispatcher) *Manager {
	def := DefaultOptions(opts.StreamURL)
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = def.BaseDelay
	}
	if opts.Factor == 0 {
		opts.Factor = def.Factor
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = def.MaxDelay
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = def.MaxAttempts
	}
	if opts.HeartbeatTimeout <= 0 {
		opts.HeartbeatTimeout = def.HeartbeatTimeout
	}
	if opts.MinTokenValidity <= 0 {
		opts.MinTokenValidity = def.MinTokenValidity
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		opts:   opts,
		tokens: tokens,
		dialer: dialer,
		events: dispatcher,
		clock:  opts.Clock,
		ctx:    ctx,
		cancel: cancel,
		state:  domain.StateDisconnected,
	}
}

// State returns the current connection state.
func (m *Manager) State() domain.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Attempts returns the number of consecutive failed attempts.
func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// Connect opens the stream. It is a no-op while connected or connecting.
// Transport failures are not returned; they are handled by reconnection.
// A credential that cannot be obtained aborts without any retry.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.state == domain.StateConnected || m.state == domain.StateConnecting {
		m.mu.Unlock()
		return nil
	}
	if !m.tokens.Authenticated() {
		m.mu.Unlock()
		return ErrNotAuthenticated
	}
	m.manual = false
	m.attempts = 0
	m.teardownLocked()
	gen := m.gen
	change, changed := m.setStateLocked(domain.StateConnecting, 0, 0)
	m.mu.Unlock()

	if changed {
		m.events.PublishConnectionState(change)
	}
	return m.open(ctx, gen)
}

// Disconnect closes the stream and suppresses reconnection until the next Connect.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.manual = true
	m.teardownLocked()
	change, changed := m.setStateLocked(domain.StateDisconnected, 0, 0)
	m.mu.Unlock()

	if changed {
		log.Info().Msg("stream disconnected")
		m.events.PublishConnectionState(change)
	}
}

// Close disconnects and releases the manager. It cannot be reused.
func (m *Manager) Close() {
	m.Disconnect()
	m.cancel()
}

// open acquires a credential and dials. Only a credential failure is returned.
func (m *Manager) open(ctx context.Context, gen uint64) error {
	token, err := m.tokens.Token(ctx, m.opts.MinTokenValidity)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrAuthentication, err)
		m.abandon(gen, err)
		return err
	}

	streamURL, err := m.streamURL(token)
	if err != nil {
		m.abandon(gen, err)
		return err
	}

	stream, err := m.dialer.Dial(m.ctx, streamURL)
	if err != nil {
		m.fail(gen, err)
		return nil
	}

	m.mu.Lock()
	if gen != m.gen || m.manual {
		m.mu.Unlock()
		stream.Close()
		return nil
	}
	m.stream = stream
	m.attempts = 0
	m.armHeartbeatLocked(gen)
	change, changed := m.setStateLocked(domain.StateConnected, 0, 0)
	m.mu.Unlock()

	log.Info().Uint64("generation", gen).Msg("stream connected")
	if changed {
		m.events.PublishConnectionState(change)
	}

	go m.readLoop(gen, stream)
	return nil
}

func (m *Manager) streamURL(token string) (string, error) {
	u, err := url.Parse(m.opts.StreamURL)
	if err != nil {
		return "", fmt.Errorf("parse stream url: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (m *Manager) readLoop(gen uint64, stream sse.Stream) {
	for {
		ev, err := stream.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = errors.New("stream closed by server")
			}
			m.fail(gen, err)
			return
		}
		if !m.touch(gen) {
			return
		}
		m.handle(ev)
	}
}

// touch re-arms the heartbeat watchdog. It reports false for a stale stream.
func (m *Manager) touch(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.gen {
		return false
	}
	m.armHeartbeatLocked(gen)
	return true
}

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (m *Manager) handle(ev sse.Event) {
	switch ev.Name {
	case "notification":
		m.deliver(ev.Data)
	case sse.DefaultEvent:
		var env envelope
		if err := json.Unmarshal(ev.Data, &env); err != nil {
			log.Warn().Err(err).Msg("dropping malformed stream message")
			return
		}
		if env.Type != "NOTIFICATION" {
			log.Debug().Str("type", env.Type).Msg("ignoring stream message")
			return
		}
		m.deliver(env.Data)
	case "heartbeat", "connected":
		log.Debug().Str("event", ev.Name).Msg("stream keep-alive")
	default:
		log.Debug().Str("event", ev.Name).Msg("ignoring unknown stream event")
	}
}

func (m *Manager) deliver(data []byte) {
	n, err := domain.DecodeNotification(data)
	if err != nil {
		log.Warn().Err(err).Msg("dropping malformed notification")
		return
	}
	m.events.PublishNotification(n)
}

// fail handles a dial or read failure of generation gen.
func (m *Manager) fail(gen uint64, cause error) {
	var status *sse.StatusError
	authFailure := errors.As(cause, &status) && status.Unauthorized()

	m.mu.Lock()
	if gen != m.gen || m.manual {
		m.mu.Unlock()
		return
	}
	m.teardownLocked()
	gen = m.gen

	if !authFailure {
		change, err := m.scheduleReconnectLocked(gen)
		m.mu.Unlock()

		log.Warn().Err(cause).Msg("stream failed")
		m.events.PublishError(fmt.Errorf("%w: %w", ErrTransport, cause))
		m.publishSchedule(change, err)
		return
	}

	change, _ := m.setStateLocked(domain.StateReconnecting, m.attempts, 0)
	m.mu.Unlock()

	log.Warn().Err(cause).Msg("stream rejected credential, refreshing")
	m.events.PublishConnectionState(change)
	m.events.PublishError(fmt.Errorf("%w: %w", ErrAuthentication, cause))

	if _, err := m.tokens.Refresh(m.ctx); err != nil {
		m.abandon(gen, fmt.Errorf("%w: refresh: %w", ErrAuthentication, err))
		return
	}

	m.mu.Lock()
	if gen != m.gen || m.manual {
		m.mu.Unlock()
		return
	}
	change, err := m.scheduleReconnectLocked(gen)
	m.mu.Unlock()
	m.publishSchedule(change, err)
}

// scheduleReconnectLocked arms the retry timer, or gives up when the
// attempt budget is spent.
func (m *Manager) scheduleReconnectLocked(gen uint64) (domain.StateChange, error) {
	if m.attempts >= m.opts.MaxAttempts {
		change, _ := m.setStateLocked(domain.StateDisconnected, 0, 0)
		return change, ErrReconnectExhausted
	}

	delay := Backoff(m.attempts, m.opts.BaseDelay, m.opts.MaxDelay, m.opts.Factor)
	m.attempts++
	m.stopRetryLocked()
	m.retry = m.clock.AfterFunc(delay, func() { m.reconnect(gen) })

	change, _ := m.setStateLocked(domain.StateReconnecting, m.attempts, delay)
	return change, nil
}

func (m *Manager) publishSchedule(change domain.StateChange, err error) {
	if err != nil {
		log.Error().Int("max_attempts", m.opts.MaxAttempts).Msg("giving up on stream reconnection")
		m.events.PublishConnectionState(change)
		m.events.PublishError(err)
		return
	}
	log.Info().Int("attempt", change.Attempt).Dur("retry_in", change.RetryIn).Msg("stream reconnect scheduled")
	m.events.PublishConnectionState(change)
}

func (m *Manager) reconnect(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.manual {
		m.mu.Unlock()
		return
	}
	m.retry = nil

	if !m.tokens.Authenticated() {
		change, changed := m.setStateLocked(domain.StateDisconnected, 0, 0)
		m.mu.Unlock()
		log.Info().Msg("session ended, abandoning reconnection")
		if changed {
			m.events.PublishConnectionState(change)
		}
		return
	}

	change, _ := m.setStateLocked(domain.StateConnecting, 0, 0)
	m.mu.Unlock()
	m.events.PublishConnectionState(change)

	_ = m.open(m.ctx, gen)
}

// heartbeatExpired tears the silent stream down and reconnects once,
// immediately, after a forced credential refresh.
func (m *Manager) heartbeatExpired(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.manual {
		m.mu.Unlock()
		return
	}
	m.teardownLocked()
	gen = m.gen
	change, _ := m.setStateLocked(domain.StateReconnecting, m.attempts, 0)
	m.mu.Unlock()

	log.Warn().Dur("timeout", m.opts.HeartbeatTimeout).Msg("stream heartbeat timed out")
	m.events.PublishConnectionState(change)
	m.events.PublishError(ErrHeartbeatTimeout)

	if _, err := m.tokens.Refresh(m.ctx); err != nil {
		if !m.tokens.Authenticated() {
			m.abandon(gen, fmt.Errorf("%w: refresh: %w", ErrAuthentication, err))
			return
		}

		// Session still live: a transport failure.
		m.mu.Lock()
		if gen != m.gen || m.manual {
			m.mu.Unlock()
			return
		}
		change, schedErr := m.scheduleReconnectLocked(gen)
		m.mu.Unlock()

		log.Warn().Err(err).Msg("refresh after heartbeat timeout failed")
		m.events.PublishError(fmt.Errorf("%w: refresh: %w", ErrTransport, err))
		m.publishSchedule(change, schedErr)
		return
	}

	m.mu.Lock()
	if gen != m.gen || m.manual {
		m.mu.Unlock()
		return
	}
	if m.attempts >= m.opts.MaxAttempts {
		change, _ := m.setStateLocked(domain.StateDisconnected, 0, 0)
		m.mu.Unlock()
		m.publishSchedule(change, ErrReconnectExhausted)
		return
	}
	m.attempts++
	change, _ = m.setStateLocked(domain.StateConnecting, 0, 0)
	m.mu.Unlock()
	m.events.PublishConnectionState(change)

	_ = m.open(m.ctx, gen)
}

// abandon gives up on generation gen without scheduling any retry.
func (m *Manager) abandon(gen uint64, err error) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.teardownLocked()
	change, changed := m.setStateLocked(domain.StateDisconnected, 0, 0)
	m.mu.Unlock()

	log.Error().Err(err).Msg("stream abandoned")
	if changed {
		m.events.PublishConnectionState(change)
	}
	m.events.PublishError(err)
}

// teardownLocked invalidates the current generation and releases its
// stream and timers.
func (m *Manager) teardownLocked() {
	m.gen++
	if m.heartbeat != nil {
		m.heartbeat.Stop()
		m.heartbeat = nil
	}
	m.stopRetryLocked()
	if m.stream != nil {
		m.stream.Close()
		m.stream = nil
	}
}

func (m *Manager) stopRetryLocked() {
	if m.retry != nil {
		m.retry.Stop()
		m.retry = nil
	}
}

func (m *Manager) armHeartbeatLocked(gen uint64) {
	if m.heartbeat != nil {
		m.heartbeat.Stop()
	}
	m.heartbeat = m.clock.AfterFunc(m.opts.HeartbeatTimeout, func() { m.heartbeatExpired(gen) })
}

// setStateLocked records a transition. changed is false for a repeated state,
// except RECONNECTING which is reported once per attempt.
func (m *Manager) setStateLocked(s domain.ConnectionState, attempt int, retryIn time.Duration) (domain.StateChange, bool) {
	changed := m.state != s || s == domain.StateReconnecting
	m.state = s
	return domain.StateChange{State: s, Attempt: attempt, RetryIn: retryIn}, changed
}
