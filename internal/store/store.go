// Package store provides durable persistence for conversations and
// messages. It is the single source of truth that the push channel and the
// client-side mirror reconcile against.
package store

import (
	"context"
	"errors"

	"github.com/inkwell-cms/livechat/internal/model"
)

var (
	// ErrConversationNotFound is returned when an operation references a
	// conversation id that does not exist.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrDuplicateSession is returned when creating a conversation would
	// leave two simultaneously active conversations for one session.
	ErrDuplicateSession = errors.New("active conversation already exists for session")
)

// Store is the conversation persistence contract.
type Store interface {
	// CreateConversation starts a conversation for a session, or returns
	// the existing active one. It never produces two active conversations
	// for the same session id.
	CreateConversation(ctx context.Context, sessionID, visitorName, visitorEmail string) (*model.Conversation, bool, error)

	// AppendMessage persists a message and bumps the conversation's
	// last-activity timestamp in the same transaction.
	AppendMessage(ctx context.Context, conversationID string, sender model.SenderRole, body string, attachment *model.Attachment) (*model.Message, error)

	// ListMessages returns all messages of a conversation ascending by
	// (created_at, insertion order).
	ListMessages(ctx context.Context, conversationID string) ([]model.Message, error)

	// ListConversations returns every conversation with message counts,
	// ordered by last activity descending.
	ListConversations(ctx context.Context) ([]model.ConversationSummary, error)

	GetConversation(ctx context.Context, conversationID string) (*model.Conversation, error)
	GetActiveBySession(ctx context.Context, sessionID string) (*model.Conversation, error)

	SetStatus(ctx context.Context, conversationID string, status model.ConversationStatus) error

	// MarkRead flips all unread messages of a conversation to read and
	// returns the number of rows transitioned.
	MarkRead(ctx context.Context, conversationID string) (int64, error)

	// Availability reads the current admin-availability record. The record
	// is read fresh at every decision point; last write wins.
	Availability(ctx context.Context) (model.Availability, error)
	SetAvailability(ctx context.Context, available bool) error

	Close() error
}
