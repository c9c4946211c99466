// Package notifcache holds the client-side notification list and unread counter.
//
// Local read/delete mutations are applied optimistically and rolled back when
// the backend rejects them. Mutations run one at a time; pushed events, page
// loads and count resyncs arriving while one is in flight are journaled and
// replayed on top of a restored snapshot.
package notifcache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"vn.io.arda/pinnotify/internal/domain"
)

// ErrPageGap is returned when a page is requested before the pages preceding it.
var ErrPageGap = errors.New("notifcache: page requested out of order")

// Backend is the REST collaborator behind the cache.
type Backend interface {
	ListNotifications(ctx context.Context, page, size int) (domain.Page, error)
	ListUnread(ctx context.Context, page, size int) (domain.Page, error)
	UnreadCount(ctx context.Context) (int64, error)
	MarkRead(ctx context.Context, ids []string) error
	MarkAllRead(ctx context.Context) error
	Delete(ctx context.Context, id string) error
}

// Options configures a Synchronizer.
type Options struct {
	PageSize      int
	ResyncTimeout time.Duration
	// OnChange is called after every change of the cached state, outside any lock.
	OnChange func()
}

// Synchronizer is the single source of truth for the notification list and
// unread counter of a session.
type Synchronizer struct {
	backend Backend
	opts    Options

	mutMu sync.Mutex // serializes optimistic mutations

	mu       sync.Mutex
	st       state
	inFlight bool
	journal  []func(*state)

	wg sync.WaitGroup
}

// New creates an empty Synchronizer.
func New(backend Backend, opts Options) *Synchronizer {
	if opts.PageSize <= 0 {
		opts.PageSize = 20
	}
	if opts.ResyncTimeout <= 0 {
		opts.ResyncTimeout = 10 * time.Second
	}
	return &Synchronizer{backend: backend, opts: opts}
}

// apply runs a server-truth update, journaling it when a mutation is in flight.
func (s *Synchronizer) apply(op func(*state)) {
	s.mu.Lock()
	op(&s.st)
	if s.inFlight {
		s.journal = append(s.journal, op)
	}
	s.mu.Unlock()
	s.changed()
}

func (s *Synchronizer) changed() {
	if s.opts.OnChange != nil {
		s.opts.OnChange()
	}
}

// LoadPage fetches page index of view. Index 0 replaces the whole view.
func (s *Synchronizer) LoadPage(ctx context.Context, view View, index int) error {
	s.mu.Lock()
	loaded := len(*s.st.view(view))
	s.mu.Unlock()
	if index < 0 || (index > 0 && index > loaded) {
		return fmt.Errorf("%w: page %d with %d loaded", ErrPageGap, index, loaded)
	}

	var (
		page domain.Page
		err  error
	)
	if view == ViewUnread {
		page, err = s.backend.ListUnread(ctx, index, s.opts.PageSize)
	} else {
		page, err = s.backend.ListNotifications(ctx, index, s.opts.PageSize)
	}
	if err != nil {
		return fmt.Errorf("load %s page %d: %w", view, index, err)
	}

	s.apply(func(st *state) {
		pages := st.view(view)
		switch {
		case index == 0:
			*pages = []domain.Page{page.Clone()}
		case index < len(*pages):
			(*pages)[index] = page.Clone()
		default:
			*pages = append(*pages, page.Clone())
		}
	})
	return nil
}

// ApplyPushed upserts a notification received from the push stream.
// An entry already cached keeps its position; otherwise it is prepended to
// the first page of ALL, and of UNREAD when it is unread.
func (s *Synchronizer) ApplyPushed(n domain.Notification) {
	s.apply(func(st *state) {
		prev, known := st.find(n.ID)

		if !replace(st.all, n) {
			prepend(&st.all, n)
		}
		if !replace(st.unread, n) && n.Unread() {
			prepend(&st.unread, n)
		}

		switch {
		case n.Unread() && (!known || !prev.Unread()):
			st.addUnread(1)
		case !n.Unread() && known && prev.Unread():
			st.addUnread(-1)
		}
	})
}

// mutate runs one optimistic mutation: speculative apply, backend call,
// rollback on failure, and a background counter resync either way.
func (s *Synchronizer) mutate(ctx context.Context, name string, speculate func(*state), call func(context.Context) error) error {
	s.mutMu.Lock()
	defer s.mutMu.Unlock()

	s.mu.Lock()
	snapshot := s.st.clone()
	speculate(&s.st)
	s.inFlight = true
	s.journal = nil
	s.mu.Unlock()
	s.changed()

	err := call(ctx)

	s.mu.Lock()
	if err != nil {
		s.st = snapshot
		for _, op := range s.journal {
			op(&s.st)
		}
	}
	s.inFlight = false
	s.journal = nil
	s.mu.Unlock()

	if err != nil {
		log.Warn().Err(err).Str("mutation", name).Msg("notification mutation rolled back")
		s.changed()
	}

	s.resyncInBackground()

	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// MarkAsRead flips the given ids to READ and decrements the counter by the
// number of distinct ids that were cached as UNREAD.
func (s *Synchronizer) MarkAsRead(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}

	return s.mutate(ctx, "mark as read",
		func(st *state) {
			var flipped int64
			for id := range set {
				if n, ok := st.find(id); ok && n.Unread() {
					flipped++
				}
			}
			match := func(n domain.Notification) bool {
				_, ok := set[n.ID]
				return ok && n.Unread()
			}
			setStatus(st.all, match, domain.StatusRead)
			setStatus(st.unread, match, domain.StatusRead)
			st.addUnread(-flipped)
		},
		func(ctx context.Context) error { return s.backend.MarkRead(ctx, ids) },
	)
}

// MarkAllAsRead flips every cached entry to READ and zeroes the counter.
func (s *Synchronizer) MarkAllAsRead(ctx context.Context) error {
	return s.mutate(ctx, "mark all as read",
		func(st *state) {
			all := func(domain.Notification) bool { return true }
			setStatus(st.all, all, domain.StatusRead)
			setStatus(st.unread, all, domain.StatusRead)
			st.unreadCount = 0
		},
		s.backend.MarkAllRead,
	)
}

// Delete removes id from every page holding it. A failure restores the
// whole pre-delete state, page totals included.
func (s *Synchronizer) Delete(ctx context.Context, id string) error {
	return s.mutate(ctx, "delete notification",
		func(st *state) {
			n, ok := st.find(id)
			remove(st.all, id)
			remove(st.unread, id)
			if ok && n.Unread() {
				st.addUnread(-1)
			}
		},
		func(ctx context.Context) error { return s.backend.Delete(ctx, id) },
	)
}

// ResyncUnreadCount replaces the counter with the backend's value as-is.
func (s *Synchronizer) ResyncUnreadCount(ctx context.Context) error {
	count, err := s.backend.UnreadCount(ctx)
	if err != nil {
		return fmt.Errorf("resync unread count: %w", err)
	}
	s.apply(func(st *state) { st.unreadCount = count })
	return nil
}

func (s *Synchronizer) resyncInBackground() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), s.opts.ResyncTimeout)
		defer cancel()

		if err := s.ResyncUnreadCount(ctx); err != nil {
			log.Warn().Err(err).Msg("background unread count resync failed")
		}
	}()
}

// Refresh reloads the first page of both views and the counter.
func (s *Synchronizer) Refresh(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.LoadPage(ctx, ViewAll, 0) })
	g.Go(func() error { return s.LoadPage(ctx, ViewUnread, 0) })
	g.Go(func() error { return s.ResyncUnreadCount(ctx) })
	return g.Wait()
}

// Wait blocks until background resyncs have finished or ctx is done.
func (s *Synchronizer) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pages returns a copy of view. The UNREAD view omits entries read since it was loaded.
func (s *Synchronizer) Pages(view View) []domain.Page {
	s.mu.Lock()
	pages := clonePages(*s.st.view(view))
	s.mu.Unlock()

	if view != ViewUnread {
		return pages
	}
	for i := range pages {
		kept := pages[i].Content[:0]
		for _, n := range pages[i].Content {
			if n.Unread() {
				kept = append(kept, n)
			}
		}
		pages[i].Content = kept
	}
	return pages
}

// UnreadCount returns the cached counter.
func (s *Synchronizer) UnreadCount() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.unreadCount
}

// Find returns the cached notification with id.
func (s *Synchronizer) Find(id string) (domain.Notification, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.find(id)
}
