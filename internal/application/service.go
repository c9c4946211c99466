package application

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"vn.io.arda/pinnotify/internal/domain"
)

// Service holds the notification use-cases of the development backend.
type Service struct {
	repo domain.Repository
	hub  SSEHub
}

// SSEHub is the interface for broadcasting to connected SSE clients.
// Implementation lives in transport/http/sse_hub.go.
type SSEHub interface {
	Broadcast(userID string, notification *domain.Notification)
}

// NewService creates a new application Service.
func NewService(repo domain.Repository, hub SSEHub) *Service {
	return &Service{repo: repo, hub: hub}
}

// RecordActivity turns a user action into a new or aggregated notification for
// its recipient and pushes the result to the recipient's open streams.
// Actions on one's own content and redelivered events return nil.
func (s *Service) RecordActivity(ctx context.Context, in domain.ActivityInput) (*domain.Notification, error) {
	if in.RecipientID == "" || in.ActorID == "" {
		return nil, fmt.Errorf("record activity: recipient and actor are required")
	}
	if in.RecipientID == in.ActorID {
		log.Debug().Str("user", in.ActorID).Str("type", string(in.Type)).Msg("skipping self activity")
		return nil, nil
	}
	in.Type = in.Type.Normalize()

	n, err := s.repo.RecordActivity(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("record activity: %w", err)
	}
	if n == nil {
		// Duplicate source event, idempotent.
		return nil, nil
	}

	// Non-blocking SSE broadcast
	go s.hub.Broadcast(in.RecipientID, n)

	log.Info().
		Str("id", n.ID).
		Str("user", in.RecipientID).
		Str("type", string(n.Type)).
		Int("aggregated", n.AggregatedCount).
		Msg("notification recorded and broadcast")

	return n, nil
}

// List returns one page of notifications for a user.
func (s *Service) List(ctx context.Context, filter domain.NotificationFilter) (domain.Page, error) {
	if filter.Size <= 0 || filter.Size > 100 {
		filter.Size = 20
	}
	if filter.Page < 0 {
		filter.Page = 0
	}
	return s.repo.List(ctx, filter)
}

// CountUnread returns the unread badge count for a user.
func (s *Service) CountUnread(ctx context.Context, userID string) (int64, error) {
	return s.repo.CountUnread(ctx, userID)
}

// MarkRead marks the given notifications as read.
func (s *Service) MarkRead(ctx context.Context, userID string, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	return s.repo.MarkRead(ctx, userID, ids)
}

// MarkAllRead marks all notifications for a user as read.
func (s *Service) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	return s.repo.MarkAllRead(ctx, userID)
}

// Delete removes a notification (must belong to the requesting user).
func (s *Service) Delete(ctx context.Context, userID, id string) error {
	return s.repo.Delete(ctx, userID, id)
}

// User returns the display identity of a user.
func (s *Service) User(ctx context.Context, id string) (*domain.Actor, error) {
	return s.repo.GetUser(ctx, id)
}

// PurgeTTL deletes old read notifications. Called by a background scheduler.
func (s *Service) PurgeTTL(ctx context.Context, days int) {
	count, err := s.repo.PurgeOlderThan(ctx, days)
	if err != nil {
		log.Error().Err(err).Msg("notification TTL purge failed")
		return
	}
	log.Info().Int64("deleted", count).Int("older_than_days", days).Msg("notification TTL purge completed")
}
