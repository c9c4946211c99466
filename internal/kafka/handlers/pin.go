package handlers

import (
	"vn.io.arda/pinnotify/internal/domain"
)

const topicPinActivity = "pin-activity"

type pinPayload struct {
	ActorID               string `json:"actorId"`
	PinID                 string `json:"pinId"`
	PinOwnerID            string `json:"pinOwnerId"`
	PinImageID            string `json:"pinImageId"`
	CommentID             string `json:"commentId"`
	CommentAuthorID       string `json:"commentAuthorId"`
	ParentCommentID       string `json:"parentCommentId"`
	ParentCommentAuthorID string `json:"parentCommentAuthorId"`
	FollowedUserID        string `json:"followedUserId"`
	Text                  string `json:"text"`
}

func init() {
	Register(topicPinActivity, "PIN_LIKED", handlePinLiked)
	Register(topicPinActivity, "PIN_COMMENTED", handlePinCommented)
	Register(topicPinActivity, "PIN_SAVED", handlePinSaved)
	Register(topicPinActivity, "COMMENT_LIKED", handleCommentLiked)
	Register(topicPinActivity, "COMMENT_REPLIED", handleCommentReplied)
	Register(topicPinActivity, "USER_FOLLOWED", handleUserFollowed)
}

func handlePinLiked(data []byte) []domain.ActivityInput {
	var p pinPayload
	env, ok := parsePayload(data, &p)
	if !ok || p.PinOwnerID == "" {
		return nil
	}
	return []domain.ActivityInput{{
		RecipientID:    p.PinOwnerID,
		Type:           domain.TypePinLiked,
		ActorID:        p.ActorID,
		ReferenceID:    p.PinID,
		PreviewImageID: p.PinImageID,
		SourceEventID:  env.EventID,
	}}
}

func handlePinCommented(data []byte) []domain.ActivityInput {
	var p pinPayload
	env, ok := parsePayload(data, &p)
	if !ok || p.PinOwnerID == "" {
		return nil
	}
	return []domain.ActivityInput{{
		RecipientID:    p.PinOwnerID,
		Type:           domain.TypePinCommented,
		ActorID:        p.ActorID,
		ReferenceID:    p.PinID,
		PreviewText:    p.Text,
		PreviewImageID: p.PinImageID,
		SourceEventID:  env.EventID,
	}}
}

func handlePinSaved(data []byte) []domain.ActivityInput {
	var p pinPayload
	env, ok := parsePayload(data, &p)
	if !ok || p.PinOwnerID == "" {
		return nil
	}
	return []domain.ActivityInput{{
		RecipientID:    p.PinOwnerID,
		Type:           domain.TypePinSaved,
		ActorID:        p.ActorID,
		ReferenceID:    p.PinID,
		PreviewImageID: p.PinImageID,
		SourceEventID:  env.EventID,
	}}
}

func handleCommentLiked(data []byte) []domain.ActivityInput {
	var p pinPayload
	env, ok := parsePayload(data, &p)
	if !ok || p.CommentAuthorID == "" {
		return nil
	}
	return []domain.ActivityInput{{
		RecipientID:   p.CommentAuthorID,
		Type:          domain.TypeCommentLiked,
		ActorID:       p.ActorID,
		ReferenceID:   p.CommentID,
		PreviewText:   p.Text,
		SourceEventID: env.EventID,
	}}
}

// A reply notifies the author of the comment being replied to; replies to
// the same comment aggregate.
func handleCommentReplied(data []byte) []domain.ActivityInput {
	var p pinPayload
	env, ok := parsePayload(data, &p)
	if !ok || p.ParentCommentAuthorID == "" {
		return nil
	}
	return []domain.ActivityInput{{
		RecipientID:   p.ParentCommentAuthorID,
		Type:          domain.TypeCommentReplied,
		ActorID:       p.ActorID,
		ReferenceID:   p.ParentCommentID,
		PreviewText:   p.Text,
		SourceEventID: env.EventID,
	}}
}

// New followers of one user aggregate under the followed user's id.
func handleUserFollowed(data []byte) []domain.ActivityInput {
	var p pinPayload
	env, ok := parsePayload(data, &p)
	if !ok || p.FollowedUserID == "" {
		return nil
	}
	return []domain.ActivityInput{{
		RecipientID:   p.FollowedUserID,
		Type:          domain.TypeUserFollowed,
		ActorID:       p.ActorID,
		ReferenceID:   p.FollowedUserID,
		SourceEventID: env.EventID,
	}}
}
