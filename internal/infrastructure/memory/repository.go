// Package memory is the in-process implementation of domain.Repository used
// when the development backend runs without a database.
package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"vn.io.arda/pinnotify/internal/domain"
)

type record struct {
	userID string
	n      domain.Notification
}

// Repository keeps notifications and users in maps.
type Repository struct {
	clock clock.Clock

	mu      sync.Mutex
	records map[string]*record
	events  map[string]struct{}
	users   map[string]domain.Actor
}

// New creates an empty repository seeded with users.
func New(clk clock.Clock, users ...domain.Actor) *Repository {
	if clk == nil {
		clk = clock.New()
	}
	r := &Repository{
		clock:   clk,
		records: make(map[string]*record),
		events:  make(map[string]struct{}),
		users:   make(map[string]domain.Actor),
	}
	for _, u := range users {
		r.users[u.ID] = u
	}
	return r
}

// RecordActivity folds the activity into a matching unread notification or creates one.
func (r *Repository) RecordActivity(_ context.Context, in domain.ActivityInput) (*domain.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if in.SourceEventID != "" {
		if _, dup := r.events[in.SourceEventID]; dup {
			return nil, nil
		}
		r.events[in.SourceEventID] = struct{}{}
	}

	now := r.clock.Now()
	for _, rec := range r.records {
		if rec.userID == in.RecipientID && rec.n.Unread() &&
			rec.n.Type == in.Type && rec.n.ReferenceID == in.ReferenceID {
			rec.n = domain.Fold(rec.n, in)
			rec.n.UpdatedAt = now
			out := rec.n
			return &out, nil
		}
	}

	n := domain.Notification{
		ID:               uuid.NewString(),
		Type:             in.Type,
		Status:           domain.StatusUnread,
		ActorID:          in.ActorID,
		UniqueActorCount: 1,
		AggregatedCount:  1,
		ReferenceID:      in.ReferenceID,
		PreviewText:      in.PreviewText,
		PreviewImageID:   in.PreviewImageID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	r.records[n.ID] = &record{userID: in.RecipientID, n: n}
	return &n, nil
}

// List returns one page of a user's notifications, newest first.
func (r *Repository) List(_ context.Context, f domain.NotificationFilter) (domain.Page, error) {
	r.mu.Lock()
	var matched []domain.Notification
	for _, rec := range r.records {
		if rec.userID != f.UserID || (f.UnreadOnly && !rec.n.Unread()) {
			continue
		}
		matched = append(matched, rec.n)
	}
	r.mu.Unlock()

	slices.SortFunc(matched, func(a, b domain.Notification) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		if a.ID > b.ID {
			return -1
		}
		if a.ID < b.ID {
			return 1
		}
		return 0
	})

	total := len(matched)
	start := min(f.Page*f.Size, total)
	end := min(start+f.Size, total)

	content := make([]domain.Notification, end-start)
	copy(content, matched[start:end])
	return domain.Page{
		Content:       content,
		PageIndex:     f.Page,
		IsLastPage:    end >= total,
		TotalElements: int64(total),
	}, nil
}

// CountUnread returns the number of unread notifications for a user.
func (r *Repository) CountUnread(_ context.Context, userID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var count int64
	for _, rec := range r.records {
		if rec.userID == userID && rec.n.Unread() {
			count++
		}
	}
	return count, nil
}

// MarkRead marks the user's notifications in ids as read.
func (r *Repository) MarkRead(_ context.Context, userID string, ids []string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var changed int64
	now := r.clock.Now()
	for _, id := range ids {
		rec, ok := r.records[id]
		if !ok || rec.userID != userID || !rec.n.Unread() {
			continue
		}
		rec.n = rec.n.WithStatus(domain.StatusRead)
		rec.n.UpdatedAt = now
		changed++
	}
	return changed, nil
}

// MarkAllRead marks all unread notifications for a user as read.
func (r *Repository) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	r.mu.Lock()
	var ids []string
	for id, rec := range r.records {
		if rec.userID == userID {
			ids = append(ids, id)
		}
	}
	r.mu.Unlock()
	return r.MarkRead(ctx, userID, ids)
}

// Delete removes a notification belonging to the user.
func (r *Repository) Delete(_ context.Context, userID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok || rec.userID != userID {
		return domain.ErrNotFound
	}
	delete(r.records, id)
	return nil
}

// PurgeOlderThan deletes read notifications not updated for days.
func (r *Repository) PurgeOlderThan(_ context.Context, days int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.clock.Now().AddDate(0, 0, -days)
	var deleted int64
	for id, rec := range r.records {
		if !rec.n.Unread() && rec.n.UpdatedAt.Before(cutoff) {
			delete(r.records, id)
			deleted++
		}
	}
	return deleted, nil
}

// GetUser returns a seeded user.
func (r *Repository) GetUser(_ context.Context, id string) (*domain.Actor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &u, nil
}

// PutUser adds or replaces a user.
func (r *Repository) PutUser(u domain.Actor) {
	r.mu.Lock()
	r.users[u.ID] = u
	r.mu.Unlock()
}
