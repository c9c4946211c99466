package popup

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
	"vn.io.arda/pinnotify/internal/domain"
	"vn.io.arda/pinnotify/internal/messages"
)

// IdentityResolver looks up the display identity of a user.
type IdentityResolver interface {
	User(ctx context.Context, id string) (domain.Actor, error)
}

type actorEntry struct {
	DisplayName string
	ImageID     string
	FetchedAt   time.Time
}

// actorCache keeps resolved identities for a fixed TTL. Concurrent misses for
// the same actor share one lookup. Failed lookups are not cached.
type actorCache struct {
	resolver IdentityResolver
	ttl      time.Duration
	clock    clock.Clock

	mu      sync.Mutex
	entries map[string]actorEntry
	group   singleflight.Group
}

func newActorCache(resolver IdentityResolver, ttl time.Duration, clk clock.Clock) *actorCache {
	return &actorCache{
		resolver: resolver,
		ttl:      ttl,
		clock:    clk,
		entries:  make(map[string]actorEntry),
	}
}

func (c *actorCache) lookup(id string) (actorEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[id]
	if !ok {
		return actorEntry{}, false
	}
	if c.clock.Since(e.FetchedAt) >= c.ttl {
		delete(c.entries, id)
		return actorEntry{}, false
	}
	return e, true
}

// resolve never fails; an unknown actor gets the placeholder name.
func (c *actorCache) resolve(ctx context.Context, id string) actorEntry {
	placeholder := actorEntry{DisplayName: messages.PlaceholderActor}
	if id == "" || c.resolver == nil {
		return placeholder
	}
	if e, ok := c.lookup(id); ok {
		return e
	}

	v, err, _ := c.group.Do(id, func() (any, error) {
		actor, err := c.resolver.User(ctx, id)
		if err != nil {
			return nil, err
		}
		e := actorEntry{DisplayName: actor.DisplayName, ImageID: actor.ImageID, FetchedAt: c.clock.Now()}
		if e.DisplayName == "" {
			e.DisplayName = messages.PlaceholderActor
		}
		c.mu.Lock()
		c.entries[id] = e
		c.mu.Unlock()
		return e, nil
	})
	if err != nil {
		log.Debug().Err(err).Str("actor", id).Msg("actor lookup failed, using placeholder")
		return placeholder
	}
	return v.(actorEntry)
}
