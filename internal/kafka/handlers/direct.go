package handlers

import (
	"encoding/json"

	"vn.io.arda/pinnotify/internal/domain"
)

func init() {
	RegisterDirect("activity-commands", handleActivityCommand)
}

// handleActivityCommand accepts a raw activity, used by tooling and services
// without their own event type.
func handleActivityCommand(data []byte) []domain.ActivityInput {
	var cmd struct {
		CommandID      string `json:"commandId"`
		RecipientID    string `json:"recipientId"`
		Type           string `json:"type"`
		ActorID        string `json:"actorId"`
		ReferenceID    string `json:"referenceId"`
		PreviewText    string `json:"previewText"`
		PreviewImageID string `json:"previewImageId"`
	}

	if err := json.Unmarshal(data, &cmd); err != nil {
		return nil
	}
	if cmd.RecipientID == "" || cmd.ActorID == "" {
		return nil
	}

	return []domain.ActivityInput{{
		RecipientID:    cmd.RecipientID,
		Type:           domain.NotificationType(cmd.Type).Normalize(),
		ActorID:        cmd.ActorID,
		ReferenceID:    cmd.ReferenceID,
		PreviewText:    cmd.PreviewText,
		PreviewImageID: cmd.PreviewImageID,
		SourceEventID:  cmd.CommandID,
	}}
}
