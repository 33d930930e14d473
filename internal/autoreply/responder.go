// Package autoreply guarantees a timely response to visitor messages when
// no admin is reachable.
package autoreply

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/inkwell-cms/livechat/internal/delivery"
	"github.com/inkwell-cms/livechat/internal/llm"
	"github.com/inkwell-cms/livechat/internal/model"
	"github.com/inkwell-cms/livechat/internal/store"
	"github.com/inkwell-cms/livechat/pkg/logger"
	"github.com/inkwell-cms/livechat/pkg/metrics"
)

// contextWindow is how many recent messages are handed to the generator.
const contextWindow = 5

const systemPrompt = "You are the support assistant of a blog platform. " +
	"The human support team is currently away. Answer the visitor's last " +
	"message briefly and helpfully, in the visitor's language, and let them " +
	"know a human will follow up."

// fallbackReply is used when no generation provider is configured or the
// provider call fails.
const fallbackReply = "Thanks for reaching out! Our team is away right now, " +
	"but your message has been received and someone will get back to you soon."

// Responder implements the auto-reply policy: per visitor message, check
// admin availability fresh from the store; when unavailable, synthesize a
// reply, persist it with the ai sender role and push it to the visitor.
type Responder struct {
	store     store.Store
	registry  *delivery.Registry
	generator llm.Client
	model     string
	logger    *logger.Logger
}

// NewResponder creates a responder. generator may be nil, in which case the
// static acknowledgement is used.
func NewResponder(st store.Store, reg *delivery.Registry, generator llm.Client, model string, log *logger.Logger) *Responder {
	return &Responder{
		store:     st,
		registry:  reg,
		generator: generator,
		model:     model,
		logger:    log,
	}
}

// Maybe runs the policy for one visitor message. It returns nil when an
// admin is available (no reply owed). Synthesis errors degrade to the static
// acknowledgement; only storage errors propagate, and callers log rather
// than fail the originating send, which is already durable.
func (r *Responder) Maybe(ctx context.Context, conv *model.Conversation) error {
	avail, err := r.store.Availability(ctx)
	if err != nil {
		return fmt.Errorf("failed to read availability: %w", err)
	}
	if avail.Available {
		metrics.AutoReplies.WithLabelValues("suppressed").Inc()
		return nil
	}

	body := r.synthesize(ctx, conv.ID)

	msg, err := r.store.AppendMessage(ctx, conv.ID, model.SenderAI, body, nil)
	if err != nil {
		metrics.AutoReplies.WithLabelValues("failed").Inc()
		return fmt.Errorf("failed to persist auto reply: %w", err)
	}

	r.registry.DispatchMessage(msg, conv.SessionID)
	metrics.AutoReplies.WithLabelValues("sent").Inc()
	metrics.MessagesTotal.WithLabelValues(string(model.SenderAI)).Inc()

	r.logger.Info("auto reply sent",
		zap.String("conversation_id", conv.ID),
		zap.String("message_id", msg.ID),
	)
	return nil
}

// Suggest synthesizes a draft reply for the admin UI. The draft is returned
// to the caller only; it is never persisted or auto-sent.
func (r *Responder) Suggest(ctx context.Context, conversationID string) (string, error) {
	if r.generator == nil {
		return "", fmt.Errorf("no generation provider configured")
	}

	history, err := r.history(ctx, conversationID)
	if err != nil {
		return "", err
	}

	resp, err := r.generator.Complete(ctx, &llm.CompletionRequest{
		Model:    r.model,
		System:   "Draft a reply the support admin could send for the visitor's last message. Output only the reply text.",
		Messages: history,
	})
	if err != nil {
		return "", fmt.Errorf("draft generation failed: %w", err)
	}
	return resp.Content, nil
}

// synthesize produces the reply body. Generation failures fall back to the
// static acknowledgement so the visitor still gets an answer.
func (r *Responder) synthesize(ctx context.Context, conversationID string) string {
	if r.generator == nil {
		return fallbackReply
	}

	history, err := r.history(ctx, conversationID)
	if err != nil {
		r.logger.Warn("auto reply context unavailable, using static reply", zap.Error(err))
		return fallbackReply
	}

	resp, err := r.generator.Complete(ctx, &llm.CompletionRequest{
		Model:    r.model,
		System:   systemPrompt,
		Messages: history,
	})
	if err != nil || resp.Content == "" {
		metrics.AutoReplies.WithLabelValues("generation_error").Inc()
		r.logger.Warn("auto reply generation failed, using static reply", zap.Error(err))
		return fallbackReply
	}
	return resp.Content
}

// history converts the last few conversation messages to generation turns.
// Consecutive same-role turns are merged so providers that require strict
// alternation accept the transcript.
func (r *Responder) history(ctx context.Context, conversationID string) ([]llm.ChatMessage, error) {
	messages, err := r.store.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	if len(messages) > contextWindow {
		messages = messages[len(messages)-contextWindow:]
	}

	var turns []llm.ChatMessage
	for _, msg := range messages {
		role := "assistant"
		if msg.Sender == model.SenderVisitor {
			role = "user"
		}
		if n := len(turns); n > 0 && turns[n-1].Role == role {
			turns[n-1].Content += "\n" + msg.Body
			continue
		}
		turns = append(turns, llm.ChatMessage{Role: role, Content: msg.Body})
	}

	// Providers expect the transcript to end on a user turn.
	if n := len(turns); n == 0 || turns[n-1].Role != "user" {
		turns = append(turns, llm.ChatMessage{Role: "user", Content: "(no new visitor message)"})
	}
	return turns, nil
}
