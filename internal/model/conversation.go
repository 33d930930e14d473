// Package model defines data structures for the live-chat platform.
package model

import (
	"fmt"
	"time"
)

// ConversationStatus is the lifecycle state of a conversation.
type ConversationStatus string

const (
	StatusActive ConversationStatus = "active"
	StatusClosed ConversationStatus = "closed"
)

// ParseConversationStatus validates a raw status value.
func ParseConversationStatus(s string) (ConversationStatus, error) {
	switch ConversationStatus(s) {
	case StatusActive, StatusClosed:
		return ConversationStatus(s), nil
	}
	return "", fmt.Errorf("unknown conversation status %q", s)
}

// Conversation is one visitor session's exchange with admins and the
// auto-responder. At most one non-closed conversation exists per session id.
type Conversation struct {
	ID           string             `json:"id" db:"id"`
	SessionID    string             `json:"session_id" db:"session_id"`
	VisitorName  string             `json:"visitor_name,omitempty" db:"visitor_name"`
	VisitorEmail string             `json:"visitor_email,omitempty" db:"visitor_email"`
	Status       ConversationStatus `json:"status" db:"status"`
	LastActivity time.Time          `json:"last_activity" db:"last_activity"`
	CreatedAt    time.Time          `json:"created_at" db:"created_at"`
}

// ConversationSummary is a conversation with admin-panel aggregates.
type ConversationSummary struct {
	Conversation
	MessageCount  int        `json:"message_count" db:"message_count"`
	UnreadCount   int        `json:"unread_count" db:"unread_count"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty" db:"last_message_at"`
}

// StartConversationRequest is the start_conversation action payload.
type StartConversationRequest struct {
	Action       string `json:"action"`
	SessionID    string `json:"session_id"`
	VisitorName  string `json:"visitor_name,omitempty"`
	VisitorEmail string `json:"visitor_email,omitempty"`
}

// StartConversationResponse returns the conversation the session should use.
// Resumed is true when an active conversation already existed for the session.
type StartConversationResponse struct {
	ConversationID string `json:"conversation_id"`
	Resumed        bool   `json:"resumed,omitempty"`
}

// UpdateStatusRequest is the update_status action payload.
type UpdateStatusRequest struct {
	Action         string `json:"action"`
	ConversationID string `json:"conversation_id"`
	Status         string `json:"status"`
}

// MarkReadRequest is the mark_read action payload.
type MarkReadRequest struct {
	Action         string `json:"action"`
	ConversationID string `json:"conversation_id"`
}

// MarkReadResponse reports how many messages flipped to read.
type MarkReadResponse struct {
	Updated int64 `json:"updated"`
}

// Availability is the process-wide admin reachability flag, stored as a
// single versioned record so every instance observes the latest write.
type Availability struct {
	Available bool      `json:"available" db:"available"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// SetAvailabilityRequest is the set_availability action payload.
type SetAvailabilityRequest struct {
	Action    string `json:"action"`
	Available bool   `json:"available"`
}
