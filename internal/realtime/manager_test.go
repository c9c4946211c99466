package realtime

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"vn.io.arda/pinnotify/internal/domain"
	"vn.io.arda/pinnotify/internal/events"
	"vn.io.arda/pinnotify/internal/sse"
)

// --- fakes ---

type fakeTokens struct {
	mu           sync.Mutex
	authed       bool
	token        string
	tokenErr     error
	refreshErr   error
	refreshCalls int
}

func (f *fakeTokens) Authenticated() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.authed
}

func (f *fakeTokens) Token(context.Context, time.Duration) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token, f.tokenErr
}

func (f *fakeTokens) Refresh(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshCalls++
	return f.token, f.refreshErr
}

func (f *fakeTokens) set(fn func(f *fakeTokens)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeTokens) refreshes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshCalls
}

type fakeStream struct {
	events chan sse.Event
	done   chan struct{}
	once   sync.Once
	failed chan error
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		events: make(chan sse.Event, 16),
		done:   make(chan struct{}),
		failed: make(chan error, 1),
	}
}

func (s *fakeStream) Next() (sse.Event, error) {
	select {
	case ev := <-s.events:
		return ev, nil
	case err := <-s.failed:
		return sse.Event{}, err
	case <-s.done:
		return sse.Event{}, errors.New("stream closed")
	}
}

func (s *fakeStream) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

type fakeDialer struct {
	mu      sync.Mutex
	urls    []string
	streams []*fakeStream
	errs    []error // consumed one per dial; nil entries succeed
	always  error
}

func (d *fakeDialer) Dial(_ context.Context, url string) (sse.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.urls = append(d.urls, url)
	if d.always != nil {
		return nil, d.always
	}
	if len(d.errs) > 0 {
		err := d.errs[0]
		d.errs = d.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	s := newFakeStream()
	d.streams = append(d.streams, s)
	return s, nil
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.urls)
}

func (d *fakeDialer) lastStream() *fakeStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.streams[len(d.streams)-1]
}

type recorder struct {
	mu     sync.Mutex
	states []domain.StateChange
	errs   []error
	notifs []domain.Notification
}

func record(d *events.Dispatcher) *recorder {
	r := &recorder{}
	d.SubscribeConnectionState(func(c domain.StateChange) {
		r.mu.Lock()
		r.states = append(r.states, c)
		r.mu.Unlock()
	})
	d.SubscribeErrors(func(err error) {
		r.mu.Lock()
		r.errs = append(r.errs, err)
		r.mu.Unlock()
	})
	d.SubscribeNotifications(func(n domain.Notification) {
		r.mu.Lock()
		r.notifs = append(r.notifs, n)
		r.mu.Unlock()
	})
	return r
}

func (r *recorder) sawState(want domain.StateChange) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.states {
		if s == want {
			return true
		}
	}
	return false
}

func (r *recorder) countErrors(target error) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, err := range r.errs {
		if errors.Is(err, target) {
			n++
		}
	}
	return n
}

func (r *recorder) notifications() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.notifs)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type harness struct {
	mgr    *Manager
	clock  *clock.Mock
	tokens *fakeTokens
	dialer *fakeDialer
	rec    *recorder
}

func newHarness(t *testing.T, tune func(*Options)) *harness {
	t.Helper()
	mock := clock.NewMock()
	opts := DefaultOptions("http://api.test/api/notifications/stream")
	opts.Clock = mock
	if tune != nil {
		tune(&opts)
	}

	tokens := &fakeTokens{authed: true, token: "tok+en"}
	dialer := &fakeDialer{}
	d := events.NewDispatcher()
	h := &harness{
		mgr:    NewManager(opts, tokens, dialer, d),
		clock:  mock,
		tokens: tokens,
		dialer: dialer,
		rec:    record(d),
	}
	t.Cleanup(h.mgr.Close)
	return h
}

func (h *harness) connected() bool { return h.mgr.State() == domain.StateConnected }

// --- tests ---

func TestBackoffIsNonDecreasingAndCapped(t *testing.T) {
	base, max := time.Second, 30*time.Second

	want := []time.Duration{1, 2, 4, 8, 16, 30, 30}
	for i, w := range want {
		if got := Backoff(i, base, max, 2); got != w*time.Second {
			t.Fatalf("attempt %d: got %v, want %v", i, got, w*time.Second)
		}
	}

	for _, factor := range []float64{0, 0.5, 1, 1.5, 3} {
		prev := time.Duration(0)
		for i := 0; i < 100; i++ {
			d := Backoff(i, base, max, factor)
			if d < prev || d > max {
				t.Fatalf("factor %v attempt %d: %v after %v", factor, i, d, prev)
			}
			prev = d
		}
	}
}

func TestConnectRequiresAuthentication(t *testing.T) {
	h := newHarness(t, nil)
	h.tokens.set(func(f *fakeTokens) { f.authed = false })

	if err := h.mgr.Connect(context.Background()); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
	if h.dialer.dials() != 0 || h.mgr.State() != domain.StateDisconnected {
		t.Fatal("unauthenticated connect must not dial")
	}
}

func TestConnectTokenFailureDoesNotRetry(t *testing.T) {
	h := newHarness(t, nil)
	h.tokens.set(func(f *fakeTokens) { f.tokenErr = errors.New("refresh denied") })

	if err := h.mgr.Connect(context.Background()); !errors.Is(err, ErrAuthentication) {
		t.Fatalf("expected ErrAuthentication, got %v", err)
	}
	h.clock.Add(time.Minute)
	if h.dialer.dials() != 0 || h.mgr.State() != domain.StateDisconnected {
		t.Fatal("credential failure must not schedule a reconnect")
	}
}

func TestConnectDeliversNotifications(t *testing.T) {
	h := newHarness(t, nil)

	if err := h.mgr.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if !h.connected() {
		t.Fatalf("state = %s, want CONNECTED", h.mgr.State())
	}
	if !strings.Contains(h.dialer.urls[0], "token=tok%2Ben") {
		t.Fatalf("token not url-encoded in %q", h.dialer.urls[0])
	}

	// Second Connect while connected is a no-op.
	_ = h.mgr.Connect(context.Background())
	if h.dialer.dials() != 1 {
		t.Fatal("Connect while connected dialled again")
	}

	s := h.dialer.lastStream()
	s.events <- sse.Event{Name: "connected", Data: []byte(`{}`)}
	s.events <- sse.Event{Name: "notification", Data: []byte(`{"id":"n1","type":"PIN_LIKED","actorId":"u1"}`)}
	s.events <- sse.Event{Name: "notification", Data: []byte(`{not json`)}
	s.events <- sse.Event{Name: sse.DefaultEvent, Data: []byte(`{"type":"NOTIFICATION","data":{"id":"n2","type":"NEW_MESSAGE","actorId":"u2"}}`)}
	s.events <- sse.Event{Name: sse.DefaultEvent, Data: []byte(`{"type":"PRESENCE","data":{}}`)}

	waitFor(t, "two notifications", func() bool { return h.rec.notifications() == 2 })
	if !h.connected() {
		t.Fatal("malformed payload must not tear the stream down")
	}
}

func TestTransportFailureReconnectsAndResetsAttempts(t *testing.T) {
	h := newHarness(t, nil)
	_ = h.mgr.Connect(context.Background())

	h.dialer.lastStream().failed <- errors.New("connection reset")

	first := domain.StateChange{State: domain.StateReconnecting, Attempt: 1, RetryIn: time.Second}
	waitFor(t, "first reconnect scheduled", func() bool { return h.rec.sawState(first) })
	if h.rec.countErrors(ErrTransport) != 1 {
		t.Fatal("transport error was not published")
	}

	h.clock.Add(time.Second)
	waitFor(t, "reconnected", h.connected)
	if h.mgr.Attempts() != 0 {
		t.Fatalf("attempts = %d after success, want 0", h.mgr.Attempts())
	}

	// A later failure starts from the base delay again.
	h.rec.mu.Lock()
	h.rec.states = nil
	h.rec.mu.Unlock()
	h.dialer.lastStream().failed <- errors.New("connection reset")
	waitFor(t, "second failure restarts backoff", func() bool { return h.rec.sawState(first) })
}

func TestHeartbeatTimeoutReconnectsExactlyOnce(t *testing.T) {
	h := newHarness(t, nil)
	_ = h.mgr.Connect(context.Background())

	// Activity re-arms the watchdog.
	h.clock.Add(30 * time.Second)
	h.dialer.lastStream().events <- sse.Event{Name: "notification", Data: []byte(`{"id":"n1","actorId":"u1"}`)}
	waitFor(t, "notification", func() bool { return h.rec.notifications() == 1 })
	h.clock.Add(30 * time.Second)
	time.Sleep(20 * time.Millisecond)
	if h.dialer.dials() != 1 {
		t.Fatal("watchdog fired although events kept arriving")
	}

	h.clock.Add(15 * time.Second)
	waitFor(t, "reconnect after silence", func() bool { return h.dialer.dials() == 2 && h.connected() })

	time.Sleep(20 * time.Millisecond)
	if h.dialer.dials() != 2 {
		t.Fatalf("expected exactly one reconnect, got %d dials", h.dialer.dials())
	}
	if h.tokens.refreshes() != 1 {
		t.Fatalf("expected one forced refresh, got %d", h.tokens.refreshes())
	}
	if h.rec.countErrors(ErrHeartbeatTimeout) != 1 || h.rec.countErrors(ErrTransport) != 0 {
		t.Fatal("torn-down stream must not produce a second failure cycle")
	}
}

func TestHeartbeatRefreshFailureBacksOff(t *testing.T) {
	h := newHarness(t, nil)
	_ = h.mgr.Connect(context.Background())
	h.tokens.set(func(f *fakeTokens) { f.refreshErr = errors.New("dial tcp: connection refused") })

	h.clock.Add(45 * time.Second)
	first := domain.StateChange{State: domain.StateReconnecting, Attempt: 1, RetryIn: time.Second}
	waitFor(t, "reconnect scheduled", func() bool { return h.rec.sawState(first) })
	if h.rec.countErrors(ErrTransport) != 1 || h.rec.countErrors(ErrAuthentication) != 0 {
		t.Fatal("failed refresh with a live session should count as a transport failure")
	}

	h.tokens.set(func(f *fakeTokens) { f.refreshErr = nil })
	h.clock.Add(time.Second)
	waitFor(t, "reconnected", h.connected)
	if h.dialer.dials() != 2 || h.mgr.Attempts() != 0 {
		t.Fatalf("dials = %d, attempts = %d", h.dialer.dials(), h.mgr.Attempts())
	}
}

func TestHeartbeatRefreshFailureAfterSignOutAbandons(t *testing.T) {
	h := newHarness(t, nil)
	_ = h.mgr.Connect(context.Background())
	h.tokens.set(func(f *fakeTokens) {
		f.refreshErr = errors.New("invalid_grant")
		f.authed = false
	})

	h.clock.Add(45 * time.Second)
	waitFor(t, "abandoned", func() bool {
		return h.mgr.State() == domain.StateDisconnected && h.rec.countErrors(ErrAuthentication) == 1
	})
	h.clock.Add(time.Minute)
	if h.dialer.dials() != 1 {
		t.Fatal("reconnected without a session")
	}
}

func TestAuthRejectionRefreshFailureAbandons(t *testing.T) {
	h := newHarness(t, nil)
	h.dialer.errs = []error{&sse.StatusError{Code: http.StatusUnauthorized}}
	h.tokens.set(func(f *fakeTokens) { f.refreshErr = errors.New("session expired") })

	_ = h.mgr.Connect(context.Background())

	if h.mgr.State() != domain.StateDisconnected {
		t.Fatalf("state = %s, want DISCONNECTED", h.mgr.State())
	}
	if h.mgr.Attempts() != 0 {
		t.Fatal("abandoning must not consume a backoff slot")
	}
	h.clock.Add(time.Minute)
	if h.dialer.dials() != 1 {
		t.Fatal("abandoned connection reconnected")
	}
	if h.rec.countErrors(ErrAuthentication) == 0 {
		t.Fatal("authentication error was not published")
	}
}

func TestAuthRejectionRefreshSuccessReconnects(t *testing.T) {
	h := newHarness(t, nil)
	h.dialer.errs = []error{&sse.StatusError{Code: http.StatusForbidden}}

	_ = h.mgr.Connect(context.Background())
	if h.tokens.refreshes() != 1 {
		t.Fatal("expected a forced refresh")
	}
	waitFor(t, "reconnect scheduled", func() bool {
		return h.rec.sawState(domain.StateChange{State: domain.StateReconnecting, Attempt: 1, RetryIn: time.Second})
	})

	h.clock.Add(time.Second)
	waitFor(t, "connected", h.connected)
}

func TestDisconnectSuppressesReconnect(t *testing.T) {
	h := newHarness(t, nil)
	_ = h.mgr.Connect(context.Background())

	h.dialer.lastStream().failed <- errors.New("boom")
	waitFor(t, "reconnecting", func() bool { return h.mgr.State() == domain.StateReconnecting })

	h.mgr.Disconnect()
	h.clock.Add(time.Minute)
	time.Sleep(20 * time.Millisecond)

	if h.dialer.dials() != 1 || h.mgr.State() != domain.StateDisconnected {
		t.Fatalf("reconnected after Disconnect: %d dials, state %s", h.dialer.dials(), h.mgr.State())
	}
}

func TestSignedOutSessionAbandonsSilently(t *testing.T) {
	h := newHarness(t, nil)
	_ = h.mgr.Connect(context.Background())

	h.dialer.lastStream().failed <- errors.New("boom")
	waitFor(t, "reconnecting", func() bool { return h.mgr.State() == domain.StateReconnecting })

	h.tokens.set(func(f *fakeTokens) { f.authed = false })
	h.clock.Add(time.Second)
	waitFor(t, "disconnected", func() bool { return h.mgr.State() == domain.StateDisconnected })

	if h.dialer.dials() != 1 {
		t.Fatal("dialled without a session")
	}
	if h.rec.countErrors(ErrReconnectExhausted) != 0 || h.rec.countErrors(ErrAuthentication) != 0 {
		t.Fatal("silent abandonment published an error")
	}
}

func TestReconnectExhaustion(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.MaxAttempts = 2 })
	h.dialer.always = errors.New("connection refused")

	_ = h.mgr.Connect(context.Background())
	waitFor(t, "attempt 1", func() bool {
		return h.rec.sawState(domain.StateChange{State: domain.StateReconnecting, Attempt: 1, RetryIn: time.Second})
	})
	h.clock.Add(time.Second)
	waitFor(t, "attempt 2", func() bool {
		return h.rec.sawState(domain.StateChange{State: domain.StateReconnecting, Attempt: 2, RetryIn: 2 * time.Second})
	})
	h.clock.Add(2 * time.Second)
	waitFor(t, "exhausted", func() bool { return h.rec.countErrors(ErrReconnectExhausted) == 1 })

	if h.mgr.State() != domain.StateDisconnected {
		t.Fatalf("state = %s, want DISCONNECTED", h.mgr.State())
	}
	h.clock.Add(time.Minute)
	if h.dialer.dials() != 3 {
		t.Fatalf("expected 3 dials, got %d", h.dialer.dials())
	}
}
