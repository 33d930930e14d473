package model

import (
	"fmt"
	"time"
)

// SenderRole identifies who authored a message. It is a closed enum:
// unknown values are rejected at the API boundary.
type SenderRole string

const (
	SenderVisitor SenderRole = "visitor"
	SenderAdmin   SenderRole = "admin"
	SenderAI      SenderRole = "ai"
)

// ParseSenderRole validates a raw sender_type value.
func ParseSenderRole(s string) (SenderRole, error) {
	switch SenderRole(s) {
	case SenderVisitor, SenderAdmin, SenderAI:
		return SenderRole(s), nil
	}
	return "", fmt.Errorf("unknown sender role %q", s)
}

// Attachment describes an out-of-band file referenced by a message.
// The platform never stores attachment bytes, only the descriptor.
type Attachment struct {
	URL      string `json:"url" db:"attachment_url"`
	MimeType string `json:"mime_type" db:"attachment_mime"`
}

// Message is a single immutable entry in a conversation. Ordering within a
// conversation is (created_at, seq); seq is the insertion tie-breaker.
type Message struct {
	ID             string     `json:"id" db:"id"`
	ConversationID string     `json:"conversation_id" db:"conversation_id"`
	Seq            int64      `json:"-" db:"seq"`
	Sender         SenderRole `json:"sender_type" db:"sender_type"`
	Body           string     `json:"message" db:"body"`
	Attachment     *Attachment `json:"attachment,omitempty"`
	IsRead         bool       `json:"is_read" db:"is_read"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
}

// SendMessageRequest is the send_message action payload.
type SendMessageRequest struct {
	Action         string      `json:"action"`
	ConversationID string      `json:"conversation_id"`
	Message        string      `json:"message"`
	SenderType     string      `json:"sender_type"`
	Attachment     *Attachment `json:"attachment,omitempty"`
}

// SendMessageResponse acknowledges a durably persisted message.
type SendMessageResponse struct {
	MessageID string    `json:"message_id"`
	Success   bool      `json:"success"`
	Timestamp time.Time `json:"timestamp"`
}

// SuggestReplyRequest asks for an admin-facing draft reply. The draft is
// never persisted or auto-sent.
type SuggestReplyRequest struct {
	Action         string `json:"action"`
	ConversationID string `json:"conversation_id"`
}

// SuggestReplyResponse carries the synthesized draft.
type SuggestReplyResponse struct {
	Draft string `json:"draft"`
}
