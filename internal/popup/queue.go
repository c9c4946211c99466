// Package popup turns pushed notifications into short-lived on-screen alerts.
package popup

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"vn.io.arda/pinnotify/internal/domain"
	"vn.io.arda/pinnotify/internal/messages"
)

// Options tunes the queue.
type Options struct {
	MaxItems       int
	Duration       time.Duration
	ActorTTL       time.Duration
	ResolveTimeout time.Duration
	Clock          clock.Clock
	// OnChange is called after the visible items changed, outside any lock.
	OnChange func()
}

// Item is one visible popup. ID is the source notification id.
type Item struct {
	ID             string
	Type           domain.NotificationType
	Title          string
	Message        string
	ActorName      string
	ActorImageID   string
	ReferenceID    string
	PreviewImageID string
	CreatedAt      time.Time
	Deadline       time.Time
	Paused         bool
}

type entry struct {
	item      Item
	seq       uint64 // arrival order of the event that created the item
	timer     *clock.Timer
	armed     uint64
	remaining time.Duration
}

// Queue holds at most MaxItems popups, newest first.
type Queue struct {
	opts   Options
	clock  clock.Clock
	actors *actorCache

	mu      sync.Mutex
	items   []*entry
	seq     map[string]uint64
	nextSeq uint64
	active  string
	closed  bool

	wg sync.WaitGroup
}

// New creates a queue resolving actors through resolver.
func New(resolver IdentityResolver, opts Options) *Queue {
	if opts.MaxItems <= 0 {
		opts.MaxItems = 5
	}
	if opts.Duration <= 0 {
		opts.Duration = 6 * time.Second
	}
	if opts.ActorTTL <= 0 {
		opts.ActorTTL = 5 * time.Minute
	}
	if opts.ResolveTimeout <= 0 {
		opts.ResolveTimeout = 5 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	return &Queue{
		opts:   opts,
		clock:  opts.Clock,
		actors: newActorCache(resolver, opts.ActorTTL, opts.Clock),
		seq:    make(map[string]uint64),
	}
}

// SetActiveConversation records the conversation the user has open.
// An empty id clears it.
func (q *Queue) SetActiveConversation(id string) {
	q.mu.Lock()
	q.active = id
	q.mu.Unlock()
}

func (q *Queue) suppressedLocked(n domain.Notification) bool {
	if !n.Unread() {
		return true
	}
	return n.Type == domain.TypeNewMessage && q.active != "" && n.ReferenceID == q.active
}

// HandleNotification admits n when it qualifies. Actor resolution happens in
// the background; the latest event for an id wins.
func (q *Queue) HandleNotification(n domain.Notification) {
	q.mu.Lock()
	if q.closed || q.suppressedLocked(n) {
		q.mu.Unlock()
		return
	}
	q.nextSeq++
	seq := q.nextSeq
	q.seq[n.ID] = seq
	q.mu.Unlock()

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), q.opts.ResolveTimeout)
		defer cancel()

		actor := q.actors.resolve(ctx, n.ActorID)
		q.admit(n, seq, actor)
	}()
}

func (q *Queue) admit(n domain.Notification, seq uint64, actor actorEntry) {
	q.mu.Lock()
	if q.closed || q.seq[n.ID] != seq {
		q.mu.Unlock()
		return
	}
	delete(q.seq, n.ID)

	// The conversation may have been opened while the actor was resolving.
	if q.suppressedLocked(n) {
		q.mu.Unlock()
		return
	}

	title, body := messages.Popup(n, actor.DisplayName)
	now := q.clock.Now()
	item := Item{
		ID:             n.ID,
		Type:           n.Type,
		Title:          title,
		Message:        body,
		ActorName:      actor.DisplayName,
		ActorImageID:   actor.ImageID,
		ReferenceID:    n.ReferenceID,
		PreviewImageID: n.PreviewImageID,
		CreatedAt:      now,
		Deadline:       now.Add(q.opts.Duration),
	}

	if i := q.indexLocked(n.ID); i >= 0 {
		e := q.items[i]
		if e.item.Paused {
			// Still hovered: restart the countdown on Unhover.
			item.Paused = true
			e.item = item
			e.remaining = q.opts.Duration
			e.armed++
		} else {
			e.item = item
			q.armLocked(e, q.opts.Duration)
		}
	} else {
		// Resolutions finish out of order; place by arrival, newest first.
		e := &entry{item: item, seq: seq}
		at := slices.IndexFunc(q.items, func(o *entry) bool { return o.seq < seq })
		if at < 0 {
			at = len(q.items)
		}
		q.items = slices.Insert(q.items, at, e)
		q.armLocked(e, q.opts.Duration)

		for len(q.items) > q.opts.MaxItems {
			oldest := q.items[len(q.items)-1]
			oldest.timer.Stop()
			q.items = q.items[:len(q.items)-1]
		}
	}
	q.mu.Unlock()
	q.changed()
}

func (q *Queue) armLocked(e *entry, d time.Duration) {
	if e.timer != nil {
		e.timer.Stop()
	}
	e.armed++
	armed := e.armed
	e.item.Deadline = q.clock.Now().Add(d)
	e.item.Paused = false
	e.timer = q.clock.AfterFunc(d, func() { q.expire(e, armed) })
}

// expire drops e unless it was re-armed, paused or removed since the timer started.
func (q *Queue) expire(e *entry, armed uint64) {
	q.mu.Lock()
	i := slices.Index(q.items, e)
	if i < 0 || e.item.Paused || e.armed != armed {
		q.mu.Unlock()
		return
	}
	q.items = slices.Delete(q.items, i, i+1)
	q.mu.Unlock()
	q.changed()
}

func (q *Queue) indexLocked(id string) int {
	return slices.IndexFunc(q.items, func(e *entry) bool { return e.item.ID == id })
}

// Hover pauses the auto-dismiss countdown of id.
func (q *Queue) Hover(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := q.indexLocked(id)
	if i < 0 || q.items[i].item.Paused {
		return
	}
	e := q.items[i]
	e.timer.Stop()
	e.remaining = max(e.item.Deadline.Sub(q.clock.Now()), 0)
	e.item.Paused = true
}

// Unhover resumes the countdown of id with the time that was left.
func (q *Queue) Unhover(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := q.indexLocked(id)
	if i < 0 || !q.items[i].item.Paused {
		return
	}
	e := q.items[i]
	q.armLocked(e, e.remaining)
}

// Dismiss removes id. It reports whether the item was visible.
func (q *Queue) Dismiss(id string) bool {
	_, ok := q.take(id)
	return ok
}

// Click dismisses id and returns it so the caller can navigate to its target.
func (q *Queue) Click(id string) (Item, bool) {
	return q.take(id)
}

func (q *Queue) take(id string) (Item, bool) {
	q.mu.Lock()
	i := q.indexLocked(id)
	if i < 0 {
		q.mu.Unlock()
		return Item{}, false
	}
	e := q.items[i]
	e.timer.Stop()
	q.items = slices.Delete(q.items, i, i+1)
	q.mu.Unlock()

	q.changed()
	return e.item, true
}

// Items returns the visible popups, newest first.
func (q *Queue) Items() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Item, len(q.items))
	for i, e := range q.items {
		out[i] = e.item
	}
	return out
}

// Wait blocks until in-flight actor resolutions finished or ctx is done.
func (q *Queue) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops every timer and drops all items.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	for _, e := range q.items {
		e.timer.Stop()
	}
	q.items = nil
	q.mu.Unlock()
}

func (q *Queue) changed() {
	if q.opts.OnChange != nil {
		q.opts.OnChange()
	}
}
