package middleware

import (
	"errors"
	"unicode/utf8"

	"github.com/google/uuid"
)

// ValidateMessageBody validates a message body.
func ValidateMessageBody(body string) error {
	if len(body) == 0 {
		return errors.New("message cannot be empty")
	}
	if len(body) > 8192 {
		return errors.New("message exceeds maximum length")
	}
	if !utf8.ValidString(body) {
		return errors.New("message must be valid UTF-8")
	}
	return nil
}

// ValidateConversationID validates a conversation ID.
func ValidateConversationID(id string) error {
	if id == "" {
		return errors.New("conversation_id is required")
	}
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("invalid conversation ID format")
	}
	return nil
}

// ValidateSessionID validates a client-generated session ID.
func ValidateSessionID(id string) error {
	if id == "" {
		return errors.New("session_id is required")
	}
	if len(id) > 128 {
		return errors.New("session ID exceeds maximum length")
	}
	if !utf8.ValidString(id) {
		return errors.New("session ID must be valid UTF-8")
	}
	return nil
}

// ValidateVisitorName validates an optional visitor display name.
func ValidateVisitorName(name string) error {
	if len(name) > 256 {
		return errors.New("visitor name exceeds maximum length")
	}
	if !utf8.ValidString(name) {
		return errors.New("visitor name must be valid UTF-8")
	}
	return nil
}
