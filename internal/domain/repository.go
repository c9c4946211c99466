package domain

import (
	"context"
	"errors"
)

// ErrNotFound is returned by repositories when the addressed row does not exist.
var ErrNotFound = errors.New("not found")

// ActivityInput is a single user action that may become (or fold into) a notification.
// Produced by Kafka handlers and the dev activity endpoint.
type ActivityInput struct {
	RecipientID    string
	Type           NotificationType
	ActorID        string
	ReferenceID    string
	PreviewText    string
	PreviewImageID string
	// SourceEventID makes redelivered events idempotent.
	SourceEventID string
}

// NotificationFilter holds query parameters for listing notifications.
type NotificationFilter struct {
	UserID     string
	UnreadOnly bool
	Page       int
	Size       int
}

// MaxRecentActors bounds RecentActorIDs on aggregated notifications.
const MaxRecentActors = 3

// Repository defines the port for notification persistence on the dev backend.
// Implementations live in infrastructure/memory and infrastructure/postgres.
type Repository interface {
	// RecordActivity folds the activity into the recipient's unread notification
	// with the same type and reference, or creates a new one.
	// Returns nil when the source event was already recorded.
	RecordActivity(ctx context.Context, in ActivityInput) (*Notification, error)

	// List fetches one page of notifications, newest first.
	List(ctx context.Context, filter NotificationFilter) (Page, error)

	// CountUnread returns the number of unread notifications for a user.
	CountUnread(ctx context.Context, userID string) (int64, error)

	// MarkRead marks the given notifications as read.
	MarkRead(ctx context.Context, userID string, ids []string) (int64, error)

	// MarkAllRead marks all unread notifications for a user as read.
	MarkAllRead(ctx context.Context, userID string) (int64, error)

	// Delete removes a notification belonging to the user.
	Delete(ctx context.Context, userID, id string) error

	// PurgeOlderThan deletes read notifications not updated for the given number of days.
	PurgeOlderThan(ctx context.Context, days int) (int64, error)

	// GetUser returns the display identity of a user.
	GetUser(ctx context.Context, id string) (*Actor, error)
}

// Fold merges a new activity into an existing aggregated notification.
// Shared by the repositories so both aggregate identically.
func Fold(n Notification, in ActivityInput) Notification {
	seen := n.ActorID == in.ActorID
	for _, id := range n.RecentActorIDs {
		if id == in.ActorID {
			seen = true
		}
	}
	n.AggregatedCount++
	if !seen {
		n.UniqueActorCount++
	}

	recent := make([]string, 0, MaxRecentActors)
	if n.ActorID != in.ActorID {
		recent = append(recent, n.ActorID)
	}
	for _, id := range n.RecentActorIDs {
		if len(recent) == MaxRecentActors {
			break
		}
		if id != in.ActorID && id != n.ActorID {
			recent = append(recent, id)
		}
	}
	n.RecentActorIDs = recent
	n.ActorID = in.ActorID
	if in.PreviewText != "" {
		n.PreviewText = in.PreviewText
	}
	if in.PreviewImageID != "" {
		n.PreviewImageID = in.PreviewImageID
	}
	return n
}
