// Package events decouples the stream connection from its consumers.
// Each event class has its own subscriber set; publishing fans out
// synchronously and a panicking handler never reaches its siblings or the publisher.
package events

import (
	"sync"

	"github.com/rs/zerolog/log"
	"vn.io.arda/pinnotify/internal/domain"
)

// Topic is a set of subscribers for one event class.
type Topic[T any] struct {
	name string

	mu     sync.RWMutex
	nextID uint64
	subs   []subscriber[T]
}

type subscriber[T any] struct {
	id uint64
	fn func(T)
}

// NewTopic creates an empty topic. The name only appears in logs.
func NewTopic[T any](name string) *Topic[T] {
	return &Topic[T]{name: name}
}

// Subscribe registers fn and returns its unsubscribe function.
// Calling the returned function more than once is harmless.
func (t *Topic[T]) Subscribe(fn func(T)) func() {
	t.mu.Lock()
	t.nextID++
	id := t.nextID
	t.subs = append(t.subs, subscriber[T]{id: id, fn: fn})
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { t.remove(id) })
	}
}

func (t *Topic[T]) remove(id uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	updated := make([]subscriber[T], 0, len(t.subs))
	for _, s := range t.subs {
		if s.id != id {
			updated = append(updated, s)
		}
	}
	t.subs = updated
}

// Publish delivers v to every current subscriber in subscription order.
// Subscribers added or removed by a handler take effect from the next Publish.
func (t *Topic[T]) Publish(v T) {
	t.mu.RLock()
	subs := make([]subscriber[T], len(t.subs))
	copy(subs, t.subs)
	t.mu.RUnlock()

	for _, s := range subs {
		t.call(s, v)
	}
}

func (t *Topic[T]) call(s subscriber[T], v T) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("topic", t.name).
				Uint64("subscriber", s.id).
				Interface("panic", r).
				Msg("event handler panicked")
		}
	}()
	s.fn(v)
}

// Len returns the number of current subscribers.
func (t *Topic[T]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subs)
}

// Dispatcher holds the three event classes of the notification pipeline.
type Dispatcher struct {
	notifications *Topic[domain.Notification]
	states        *Topic[domain.StateChange]
	errors        *Topic[error]
}

// NewDispatcher creates a Dispatcher with empty subscriber sets.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		notifications: NewTopic[domain.Notification]("notification"),
		states:        NewTopic[domain.StateChange]("connection-state"),
		errors:        NewTopic[error]("error"),
	}
}

func (d *Dispatcher) SubscribeNotifications(fn func(domain.Notification)) func() {
	return d.notifications.Subscribe(fn)
}

func (d *Dispatcher) SubscribeConnectionState(fn func(domain.StateChange)) func() {
	return d.states.Subscribe(fn)
}

func (d *Dispatcher) SubscribeErrors(fn func(error)) func() {
	return d.errors.Subscribe(fn)
}

func (d *Dispatcher) PublishNotification(n domain.Notification) {
	d.notifications.Publish(n)
}

func (d *Dispatcher) PublishConnectionState(c domain.StateChange) {
	d.states.Publish(c)
}

func (d *Dispatcher) PublishError(err error) {
	if err == nil {
		return
	}
	d.errors.Publish(err)
}
