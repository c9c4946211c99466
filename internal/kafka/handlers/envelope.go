package handlers

import "encoding/json"

// envelope is the common wrapper the pin and chat services put on their events.
type envelope struct {
	EventType string          `json:"eventType"`
	EventID   string          `json:"eventId"`
	Payload   json.RawMessage `json:"payload"`
}

// parsePayload decodes the envelope and its payload into p.
func parsePayload(data []byte, p any) (*envelope, bool) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, false
	}
	if err := json.Unmarshal(env.Payload, p); err != nil {
		return nil, false
	}
	return &env, true
}
