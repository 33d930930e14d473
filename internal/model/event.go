package model

import (
	"time"
)

// EventType is the type of a push-channel event.
type EventType string

const (
	EventNewMessage        EventType = "new_message"
	EventUserConnected     EventType = "user_connected"
	EventAdminStatusUpdate EventType = "admin_status_update"
	EventConversationClosed EventType = "conversation_closed"
)

// Event is the JSON envelope delivered over the push channel (admin
// WebSocket or visitor SSE). Delivery is best-effort, at most once; the
// poll path is the recovery mechanism.
type Event struct {
	Type           EventType `json:"type"`
	ConversationID string    `json:"conversation_id,omitempty"`
	SessionID      string    `json:"session_id,omitempty"`
	Message        *Message  `json:"message,omitempty"`
	Available      *bool     `json:"available,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}
