package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"vn.io.arda/pinnotify/internal/domain"
)

// Repository is the PostgreSQL implementation of domain.Repository.
type Repository struct {
	pool *pgxpool.Pool
}

// New creates a new postgres Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            TEXT PRIMARY KEY,
	display_name  TEXT NOT NULL,
	image_id      TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS notifications (
	id                  UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	user_id             TEXT NOT NULL,
	type                TEXT NOT NULL,
	status              TEXT NOT NULL DEFAULT 'UNREAD',
	actor_id            TEXT NOT NULL,
	recent_actor_ids    TEXT[] NOT NULL DEFAULT '{}',
	unique_actor_count  INT NOT NULL DEFAULT 1,
	aggregated_count    INT NOT NULL DEFAULT 1,
	reference_id        TEXT NOT NULL DEFAULT '',
	preview_text        TEXT NOT NULL DEFAULT '',
	preview_image_id    TEXT NOT NULL DEFAULT '',
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS notifications_user_created_idx ON notifications (user_id, created_at DESC);

CREATE TABLE IF NOT EXISTS processed_events (
	source_event_id  TEXT PRIMARY KEY,
	processed_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// EnsureSchema creates the tables when they do not exist yet.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

const columns = `id::text, type, status, actor_id, recent_actor_ids, unique_actor_count, aggregated_count,
	reference_id, preview_text, preview_image_id, created_at, updated_at`

// RecordActivity folds the activity into the recipient's unread notification
// with the same type and reference, or inserts a new one, in one transaction.
func (r *Repository) RecordActivity(ctx context.Context, in domain.ActivityInput) (*domain.Notification, error) {
	var out *domain.Notification

	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if in.SourceEventID != "" {
			tag, err := tx.Exec(ctx, `
				INSERT INTO processed_events (source_event_id) VALUES ($1)
				ON CONFLICT (source_event_id) DO NOTHING
			`, in.SourceEventID)
			if err != nil {
				return fmt.Errorf("record source event: %w", err)
			}
			if tag.RowsAffected() == 0 {
				// Duplicate source_event_id, idempotent, not an error
				return nil
			}
		}

		existing, err := scanNotification(tx.QueryRow(ctx, `
			SELECT `+columns+`
			FROM notifications
			WHERE user_id = $1 AND type = $2 AND reference_id = $3 AND status = 'UNREAD'
			ORDER BY created_at DESC
			LIMIT 1
			FOR UPDATE
		`, in.RecipientID, string(in.Type), in.ReferenceID))

		switch {
		case errors.Is(err, pgx.ErrNoRows):
			n, err := scanNotification(tx.QueryRow(ctx, `
				INSERT INTO notifications (user_id, type, actor_id, reference_id, preview_text, preview_image_id)
				VALUES ($1, $2, $3, $4, $5, $6)
				RETURNING `+columns,
				in.RecipientID, string(in.Type), in.ActorID, in.ReferenceID, in.PreviewText, in.PreviewImageID))
			if err != nil {
				return fmt.Errorf("insert notification: %w", err)
			}
			out = n
			return nil
		case err != nil:
			return fmt.Errorf("find aggregate: %w", err)
		}

		folded := domain.Fold(*existing, in)
		n, err := scanNotification(tx.QueryRow(ctx, `
			UPDATE notifications
			SET actor_id = $2, recent_actor_ids = $3, unique_actor_count = $4, aggregated_count = $5,
				preview_text = $6, preview_image_id = $7, updated_at = now()
			WHERE id = $1
			RETURNING `+columns,
			folded.ID, folded.ActorID, folded.RecentActorIDs, folded.UniqueActorCount, folded.AggregatedCount,
			folded.PreviewText, folded.PreviewImageID))
		if err != nil {
			return fmt.Errorf("update aggregate: %w", err)
		}
		out = n
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// List fetches one page of a user's notifications, newest first.
func (r *Repository) List(ctx context.Context, f domain.NotificationFilter) (domain.Page, error) {
	where := "WHERE user_id = $1"
	if f.UnreadOnly {
		where += " AND status = 'UNREAD'"
	}

	var total int64
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM notifications "+where, f.UserID).Scan(&total); err != nil {
		return domain.Page{}, fmt.Errorf("count notifications: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		"SELECT "+columns+" FROM notifications "+where+" ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3",
		f.UserID, f.Size, f.Page*f.Size)
	if err != nil {
		return domain.Page{}, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	content := make([]domain.Notification, 0, f.Size)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return domain.Page{}, err
		}
		content = append(content, *n)
	}
	if err := rows.Err(); err != nil {
		return domain.Page{}, fmt.Errorf("list notifications: %w", err)
	}

	return domain.Page{
		Content:       content,
		PageIndex:     f.Page,
		IsLastPage:    int64((f.Page+1)*f.Size) >= total,
		TotalElements: total,
	}, nil
}

// CountUnread returns the count of unread notifications for a user.
func (r *Repository) CountUnread(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND status = 'UNREAD'`,
		userID,
	).Scan(&count)
	return count, err
}

// MarkRead marks the user's notifications in ids as read.
func (r *Repository) MarkRead(ctx context.Context, userID string, ids []string) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE notifications SET status = 'READ', updated_at = now()
		WHERE user_id = $1 AND id::text = ANY($2) AND status = 'UNREAD'
	`, userID, ids)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	return tag.RowsAffected(), nil
}

// MarkAllRead marks all unread notifications for a user as read.
func (r *Repository) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE notifications SET status = 'READ', updated_at = now()
		WHERE user_id = $1 AND status = 'UNREAD'
	`, userID)
	if err != nil {
		return 0, fmt.Errorf("mark all read: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Delete removes a notification belonging to the user.
func (r *Repository) Delete(ctx context.Context, userID, id string) error {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM notifications WHERE id::text = $1 AND user_id = $2
	`, id, userID)
	if err != nil {
		return fmt.Errorf("delete notification: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// PurgeOlderThan deletes read notifications not updated for the given number of days.
func (r *Repository) PurgeOlderThan(ctx context.Context, days int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -days)
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM notifications WHERE status = 'READ' AND updated_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge notifications: %w", err)
	}
	return tag.RowsAffected(), nil
}

// GetUser returns the display identity of a user.
func (r *Repository) GetUser(ctx context.Context, id string) (*domain.Actor, error) {
	var a domain.Actor
	err := r.pool.QueryRow(ctx,
		`SELECT id, display_name, image_id FROM users WHERE id = $1`, id,
	).Scan(&a.ID, &a.DisplayName, &a.ImageID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &a, nil
}

// scannable is satisfied by pgx.Row and pgx.Rows.
type scannable interface {
	Scan(dest ...any) error
}

func scanNotification(row scannable) (*domain.Notification, error) {
	var n domain.Notification
	var typ, status string

	err := row.Scan(
		&n.ID, &typ, &status, &n.ActorID, &n.RecentActorIDs, &n.UniqueActorCount, &n.AggregatedCount,
		&n.ReferenceID, &n.PreviewText, &n.PreviewImageID, &n.CreatedAt, &n.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan notification: %w", err)
	}
	n.Type = domain.NotificationType(typ).Normalize()
	n.Status = domain.Status(status)
	return &n, nil
}
