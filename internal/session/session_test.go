package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"vn.io.arda/pinnotify/internal/domain"
	"vn.io.arda/pinnotify/internal/popup"
	"vn.io.arda/pinnotify/internal/realtime"
	"vn.io.arda/pinnotify/internal/sse"
)

type tokens struct{}

func (tokens) Authenticated() bool                                   { return true }
func (tokens) Token(context.Context, time.Duration) (string, error) { return "tok", nil }
func (tokens) Refresh(context.Context) (string, error)               { return "tok", nil }

type stream struct {
	events chan sse.Event
	fail   chan error
	done   chan struct{}
	once   sync.Once
}

func (s *stream) Next() (sse.Event, error) {
	select {
	case ev := <-s.events:
		return ev, nil
	case err := <-s.fail:
		return sse.Event{}, err
	case <-s.done:
		return sse.Event{}, errors.New("closed")
	}
}

func (s *stream) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

type dialer struct {
	mu      sync.Mutex
	streams []*stream
}

func (d *dialer) Dial(context.Context, string) (sse.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := &stream{events: make(chan sse.Event, 8), fail: make(chan error, 1), done: make(chan struct{})}
	d.streams = append(d.streams, s)
	return s, nil
}

func (d *dialer) last() *stream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.streams[len(d.streams)-1]
}

type backend struct {
	mu        sync.Mutex
	listCalls int
	marked    []string
}

func (b *backend) ListNotifications(context.Context, int, int) (domain.Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listCalls++
	return domain.Page{IsLastPage: true}, nil
}

func (b *backend) ListUnread(context.Context, int, int) (domain.Page, error) {
	return domain.Page{IsLastPage: true}, nil
}

func (b *backend) UnreadCount(context.Context) (int64, error) { return 0, nil }

func (b *backend) MarkRead(_ context.Context, ids []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.marked = append(b.marked, ids...)
	return nil
}

func (b *backend) MarkAllRead(context.Context) error  { return nil }
func (b *backend) Delete(context.Context, string) error { return nil }

func (b *backend) lists() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.listCalls
}

type identity struct{}

func (identity) User(_ context.Context, id string) (domain.Actor, error) {
	return domain.Actor{ID: id, DisplayName: "Mai"}, nil
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

func TestSessionPipeline(t *testing.T) {
	mock := clock.NewMock()
	b := &backend{}
	d := &dialer{}

	opts := realtime.DefaultOptions("http://api.test/api/notifications/stream")
	opts.Clock = mock
	s, err := Start(context.Background(), Deps{
		Tokens:   tokens{},
		Dialer:   d,
		Backend:  b,
		Identity: identity{},
		Realtime: opts,
		Popup:    popup.Options{Clock: mock},
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Close()

	if s.Conn.State() != domain.StateConnected {
		t.Fatalf("state = %s", s.Conn.State())
	}
	if b.lists() != 1 {
		t.Fatalf("expected initial load, got %d list calls", b.lists())
	}

	d.last().events <- sse.Event{
		Name: "notification",
		Data: []byte(`{"id":"n1","type":"USER_FOLLOWED","status":"UNREAD","actorId":"u1"}`),
	}
	waitFor(t, "popup", func() bool { return len(s.Popups.Items()) == 1 })

	if _, ok := s.Cache.Find("n1"); !ok {
		t.Fatal("pushed notification missing from cache")
	}
	if s.Cache.UnreadCount() != 1 {
		t.Fatalf("count = %d, want 1", s.Cache.UnreadCount())
	}
	if got := s.Popups.Items()[0].Message; got != "Mai started following you" {
		t.Fatalf("popup message %q", got)
	}

	item, ok, err := s.OpenPopup(context.Background(), "n1")
	if err != nil || !ok || item.ID != "n1" {
		t.Fatalf("OpenPopup = %+v %v %v", item, ok, err)
	}
	if n, _ := s.Cache.Find("n1"); n.Status != domain.StatusRead {
		t.Fatal("opened popup should mark the notification read")
	}

	// A drop and reconnect reloads the list.
	d.last().fail <- errors.New("reset")
	waitFor(t, "reconnecting", func() bool { return s.Conn.State() == domain.StateReconnecting })
	mock.Add(time.Second)
	waitFor(t, "refresh after reconnect", func() bool {
		return s.Conn.State() == domain.StateConnected && b.lists() == 2
	})
}
