// Package service provides the chat orchestration layer: persistence first,
// then push delivery, then the auto-reply policy.
package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/inkwell-cms/livechat/internal/autoreply"
	"github.com/inkwell-cms/livechat/internal/delivery"
	"github.com/inkwell-cms/livechat/internal/model"
	"github.com/inkwell-cms/livechat/internal/store"
	"github.com/inkwell-cms/livechat/pkg/logger"
	"github.com/inkwell-cms/livechat/pkg/metrics"
)

// welcomeMessage seeds every new conversation.
const welcomeMessage = "Hi! Ask us anything about the blog. An admin or our assistant will reply here."

// autoReplyTimeout bounds reply synthesis; the visitor's send is already
// acknowledged when the timer starts.
const autoReplyTimeout = 30 * time.Second

// ChatService coordinates the store, the push registry and the auto-reply
// responder.
type ChatService struct {
	store     store.Store
	registry  *delivery.Registry
	responder *autoreply.Responder
	logger    *logger.Logger
}

// NewChatService creates a new chat service.
func NewChatService(st store.Store, reg *delivery.Registry, resp *autoreply.Responder, log *logger.Logger) *ChatService {
	return &ChatService{
		store:     st,
		registry:  reg,
		responder: resp,
		logger:    log,
	}
}

// StartConversation returns the session's active conversation, creating and
// seeding it with the ai welcome message when none exists.
func (s *ChatService) StartConversation(ctx context.Context, sessionID, visitorName, visitorEmail string) (*model.Conversation, bool, error) {
	conv, resumed, err := s.store.CreateConversation(ctx, sessionID, visitorName, visitorEmail)
	if err != nil {
		return nil, false, err
	}
	if resumed {
		return conv, true, nil
	}

	metrics.ConversationsStarted.Inc()

	welcome, err := s.store.AppendMessage(ctx, conv.ID, model.SenderAI, welcomeMessage, nil)
	if err != nil {
		// The conversation itself is usable; the visitor just misses the
		// greeting.
		s.logger.Warn("failed to seed welcome message",
			zap.String("conversation_id", conv.ID),
			zap.Error(err),
		)
	} else {
		s.registry.DispatchMessage(welcome, conv.SessionID)
	}

	s.registry.Broadcast(model.Event{
		Type:           model.EventUserConnected,
		ConversationID: conv.ID,
		Timestamp:      time.Now().UTC(),
	})

	return conv, false, nil
}

// SendMessage persists a message and dispatches it to the live audience.
// The returned message is the durable acknowledgement; for visitor senders
// the auto-reply policy runs afterwards in the background and can neither
// delay nor fail the send.
func (s *ChatService) SendMessage(ctx context.Context, conversationID string, sender model.SenderRole, body string, attachment *model.Attachment) (*model.Message, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	msg, err := s.store.AppendMessage(ctx, conversationID, sender, body, attachment)
	if err != nil {
		return nil, err
	}

	metrics.MessagesTotal.WithLabelValues(string(sender)).Inc()
	s.registry.DispatchMessage(msg, conv.SessionID)

	if sender == model.SenderVisitor {
		go s.runAutoReply(conv)
	}

	return msg, nil
}

// runAutoReply applies the fallback policy once for a visitor message.
// Failures are logged and swallowed: the visitor's message is durable and a
// human admin will eventually respond.
func (s *ChatService) runAutoReply(conv *model.Conversation) {
	ctx, cancel := context.WithTimeout(context.Background(), autoReplyTimeout)
	defer cancel()

	if err := s.responder.Maybe(ctx, conv); err != nil {
		s.logger.Warn("auto reply failed",
			zap.String("conversation_id", conv.ID),
			zap.Error(err),
		)
	}
}

// ListMessages returns a conversation's messages in delivery order.
func (s *ChatService) ListMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	if _, err := s.store.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}
	return s.store.ListMessages(ctx, conversationID)
}

// ListConversations returns the admin-panel conversation list.
func (s *ChatService) ListConversations(ctx context.Context) ([]model.ConversationSummary, error) {
	return s.store.ListConversations(ctx)
}

// UpdateStatus transitions a conversation's lifecycle status and notifies
// live connections when it closes.
func (s *ChatService) UpdateStatus(ctx context.Context, conversationID string, status model.ConversationStatus) error {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if err := s.store.SetStatus(ctx, conversationID, status); err != nil {
		return err
	}

	if status == model.StatusClosed {
		s.registry.Broadcast(model.Event{
			Type:           model.EventConversationClosed,
			ConversationID: conversationID,
			SessionID:      conv.SessionID,
			Timestamp:      time.Now().UTC(),
		})
	}
	return nil
}

// MarkRead flips a conversation's unread messages to read.
func (s *ChatService) MarkRead(ctx context.Context, conversationID string) (int64, error) {
	if _, err := s.store.GetConversation(ctx, conversationID); err != nil {
		return 0, err
	}
	return s.store.MarkRead(ctx, conversationID)
}

// SetAvailability records the admin-availability flag and announces the
// change on the push channel.
func (s *ChatService) SetAvailability(ctx context.Context, available bool) error {
	if err := s.store.SetAvailability(ctx, available); err != nil {
		return err
	}

	s.registry.Broadcast(model.Event{
		Type:      model.EventAdminStatusUpdate,
		Available: &available,
		Timestamp: time.Now().UTC(),
	})
	return nil
}

// Availability reads the current admin-availability flag.
func (s *ChatService) Availability(ctx context.Context) (model.Availability, error) {
	return s.store.Availability(ctx)
}

// SuggestReply produces an admin-facing draft for a conversation. The draft
// is never persisted or sent automatically.
func (s *ChatService) SuggestReply(ctx context.Context, conversationID string) (string, error) {
	if _, err := s.store.GetConversation(ctx, conversationID); err != nil {
		return "", err
	}
	return s.responder.Suggest(ctx, conversationID)
}

// GetActiveBySession resolves a session's active conversation.
func (s *ChatService) GetActiveBySession(ctx context.Context, sessionID string) (*model.Conversation, error) {
	return s.store.GetActiveBySession(ctx, sessionID)
}

// GetConversation resolves a conversation by id.
func (s *ChatService) GetConversation(ctx context.Context, conversationID string) (*model.Conversation, error) {
	return s.store.GetConversation(ctx, conversationID)
}
