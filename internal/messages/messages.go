// Package messages renders the user-facing wording of notifications.
package messages

import (
	"fmt"

	"vn.io.arda/pinnotify/internal/domain"
)

type wording struct {
	title string
	verb  string
}

var catalogue = map[domain.NotificationType]wording{
	domain.TypePinLiked:       {PinLikedTitle, PinLikedVerb},
	domain.TypePinCommented:   {PinCommentedTitle, PinCommentedVerb},
	domain.TypePinSaved:       {PinSavedTitle, PinSavedVerb},
	domain.TypeCommentLiked:   {CommentLikedTitle, CommentLikedVerb},
	domain.TypeCommentReplied: {CommentRepliedTitle, CommentRepliedVerb},
	domain.TypeUserFollowed:   {UserFollowedTitle, UserFollowedVerb},
	domain.TypeNewMessage:     {NewMessageTitle, NewMessageVerb},
}

func lookup(t domain.NotificationType) wording {
	if w, ok := catalogue[t.Normalize()]; ok {
		return w
	}
	return wording{UnknownTitle, UnknownVerb}
}

// Title returns the short heading for a notification type.
func Title(t domain.NotificationType) string {
	return lookup(t).title
}

// Body renders the popup text for n with actor as the primary actor's name.
//
// Repeatable types folded from more than one event are summarised by count.
// Otherwise several distinct actors read "X and N others ...".
func Body(n domain.Notification, actor string) string {
	if actor == "" {
		actor = PlaceholderActor
	}

	if n.Type.Repeatable() && n.AggregatedCount > 1 {
		switch n.Type {
		case domain.TypeNewMessage:
			return fmt.Sprintf(NewMessageCountBody, actor, n.AggregatedCount)
		case domain.TypePinCommented:
			return fmt.Sprintf(PinCommentedCountBody, n.AggregatedCount)
		case domain.TypeCommentReplied:
			return fmt.Sprintf(CommentRepliedCountBody, n.AggregatedCount)
		}
	}

	verb := lookup(n.Type).verb
	switch others := n.UniqueActorCount - 1; {
	case others == 1:
		return fmt.Sprintf(OneOtherBody, actor, verb)
	case others > 1:
		return fmt.Sprintf(OthersBody, actor, others, verb)
	default:
		return fmt.Sprintf(SingleActorBody, actor, verb)
	}
}

// Popup returns the title and body shown for n.
func Popup(n domain.Notification, actor string) (string, string) {
	return Title(n.Type), Body(n, actor)
}
