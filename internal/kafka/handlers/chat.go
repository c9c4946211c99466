package handlers

import (
	"vn.io.arda/pinnotify/internal/domain"
)

const topicChatEvents = "chat-events"

// maxMessagePreview bounds the message text copied into a notification.
const maxMessagePreview = 120

func init() {
	Register(topicChatEvents, "MESSAGE_SENT", handleMessageSent)
}

// handleMessageSent fans a chat message out to every participant except the sender.
func handleMessageSent(data []byte) []domain.ActivityInput {
	var p struct {
		ConversationID string   `json:"conversationId"`
		SenderID       string   `json:"senderId"`
		RecipientIDs   []string `json:"recipientIds"`
		Text           string   `json:"text"`
	}
	env, ok := parsePayload(data, &p)
	if !ok || p.ConversationID == "" || p.SenderID == "" {
		return nil
	}

	preview := []rune(p.Text)
	if len(preview) > maxMessagePreview {
		preview = preview[:maxMessagePreview]
	}

	var out []domain.ActivityInput
	for _, r := range p.RecipientIDs {
		if r == "" || r == p.SenderID {
			continue
		}
		in := domain.ActivityInput{
			RecipientID: r,
			Type:        domain.TypeNewMessage,
			ActorID:     p.SenderID,
			ReferenceID: p.ConversationID,
			PreviewText: string(preview),
		}
		if env.EventID != "" {
			in.SourceEventID = env.EventID + ":" + r
		}
		out = append(out, in)
	}
	return out
}
