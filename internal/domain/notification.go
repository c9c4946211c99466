package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// NotificationType identifies the activity that produced the notification.
type NotificationType string

const (
	TypePinLiked       NotificationType = "PIN_LIKED"
	TypePinCommented   NotificationType = "PIN_COMMENTED"
	TypePinSaved       NotificationType = "PIN_SAVED"
	TypeCommentLiked   NotificationType = "COMMENT_LIKED"
	TypeCommentReplied NotificationType = "COMMENT_REPLIED"
	TypeUserFollowed   NotificationType = "USER_FOLLOWED"
	TypeNewMessage     NotificationType = "NEW_MESSAGE"
	// TypeUnknown is the fallback for any type this client does not know.
	TypeUnknown NotificationType = "UNKNOWN"
)

// Normalize maps anything outside the closed set to TypeUnknown.
func (t NotificationType) Normalize() NotificationType {
	switch t {
	case TypePinLiked, TypePinCommented, TypePinSaved, TypeCommentLiked,
		TypeCommentReplied, TypeUserFollowed, TypeNewMessage:
		return t
	default:
		return TypeUnknown
	}
}

// Repeatable reports whether several events of this type are summarised by
// their count rather than by who produced them.
func (t NotificationType) Repeatable() bool {
	return t == TypeNewMessage || t == TypePinCommented || t == TypeCommentReplied
}

// Status is the read state of a notification. It only ever moves UNREAD -> READ locally.
type Status string

const (
	StatusUnread Status = "UNREAD"
	StatusRead   Status = "READ"
)

// Notification is the core domain entity.
type Notification struct {
	ID               string           `json:"id" validate:"required"`
	Type             NotificationType `json:"type"`
	Status           Status           `json:"status" validate:"oneof=UNREAD READ"`
	ActorID          string           `json:"actorId" validate:"required"`
	RecentActorIDs   []string         `json:"recentActorIds,omitempty"`
	UniqueActorCount int              `json:"uniqueActorCount" validate:"min=1"`
	AggregatedCount  int              `json:"aggregatedCount" validate:"gtefield=UniqueActorCount"`
	ReferenceID      string           `json:"referenceId,omitempty"`
	PreviewText      string           `json:"previewText,omitempty"`
	PreviewImageID   string           `json:"previewImageId,omitempty"`
	CreatedAt        time.Time        `json:"createdAt"`
	UpdatedAt        time.Time        `json:"updatedAt"`
}

// Unread reports whether the notification has not been read yet.
func (n Notification) Unread() bool {
	return n.Status == StatusUnread
}

// WithStatus returns a copy with only the status changed. Local mutations go
// through here so they can never touch the aggregation fields.
func (n Notification) WithStatus(s Status) Notification {
	n.Status = s
	return n
}

// Page is one page of a paginated notification listing.
type Page struct {
	Content       []Notification `json:"content"`
	PageIndex     int            `json:"pageIndex"`
	IsLastPage    bool           `json:"isLastPage"`
	TotalElements int64          `json:"totalElements"`
}

// Clone copies the page content so the result can be mutated independently.
func (p Page) Clone() Page {
	out := p
	out.Content = make([]Notification, len(p.Content))
	copy(out.Content, p.Content)
	return out
}

// Actor is the display identity of a user who triggered a notification.
type Actor struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	ImageID     string `json:"imageId,omitempty"`
}

// ErrMalformedPayload is returned for wire payloads that cannot become a Notification.
var ErrMalformedPayload = errors.New("malformed notification payload")

var validate = validator.New(validator.WithRequiredStructEnabled())

// DecodeNotification parses and validates a wire notification.
// Missing counters default to a single actor/event.
func DecodeNotification(data []byte) (Notification, error) {
	var n Notification
	if err := json.Unmarshal(data, &n); err != nil {
		return Notification{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	n.Type = n.Type.Normalize()
	if n.Status == "" {
		n.Status = StatusUnread
	}
	if n.UniqueActorCount == 0 {
		n.UniqueActorCount = 1
	}
	if n.AggregatedCount == 0 {
		n.AggregatedCount = n.UniqueActorCount
	}
	if err := Validate(n); err != nil {
		return Notification{}, err
	}
	return n, nil
}

// Validate checks the invariants of a notification.
func Validate(n Notification) error {
	if err := validate.Struct(n); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return nil
}
