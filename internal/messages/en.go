package messages

// ─── Titles ──────────────────────────────────────────────────────────────────

const (
	PinLikedTitle       = "New like"
	PinCommentedTitle   = "New comment"
	PinSavedTitle       = "Pin saved"
	CommentLikedTitle   = "New like"
	CommentRepliedTitle = "New reply"
	UserFollowedTitle   = "New follower"
	NewMessageTitle     = "New message"
	UnknownTitle        = "Notification"
)

// ─── Actor phrasing ──────────────────────────────────────────────────────────

const (
	PinLikedVerb       = "liked your pin"
	PinCommentedVerb   = "commented on your pin"
	PinSavedVerb       = "saved your pin"
	CommentLikedVerb   = "liked your comment"
	CommentRepliedVerb = "replied to your comment"
	UserFollowedVerb   = "started following you"
	NewMessageVerb     = "sent you a message"
	UnknownVerb        = "sent you a notification"

	SingleActorBody = "%s %s"
	OneOtherBody    = "%s and 1 other %s"
	OthersBody      = "%s and %d others %s"

	// PlaceholderActor is shown when the actor cannot be resolved.
	PlaceholderActor = "Someone"
)

// ─── Count phrasing (repeatable types) ───────────────────────────────────────

const (
	NewMessageCountBody     = "%s sent you %d messages"
	PinCommentedCountBody   = "%d new comments on your pin"
	CommentRepliedCountBody = "%d new replies to your comment"
)
