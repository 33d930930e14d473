package chatclient

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/inkwell-cms/livechat/internal/model"
)

// defaultPollInterval is the pull-path cadence. Push delivery usually wins;
// the poll is the at-least-once recovery mechanism.
const defaultPollInterval = 5 * time.Second

// Option configures a Client.
type Option func(*Client)

// WithPollInterval overrides the poll cadence.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) { c.pollInterval = d }
}

// WithHTTPTimeout overrides the request timeout.
func WithHTTPTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.SetTimeout(d) }
}

// Client is the visitor-side chat client: optimistic sends, reconciliation
// against server state, and a persisted local mirror.
type Client struct {
	http           *resty.Client
	sessionID      string
	conversationID string
	rec            *Reconciler
	mirror         *Mirror
	pollInterval   time.Duration
}

// New creates a client for one visitor session. stateDir hosts the local
// mirror file.
func New(baseURL, sessionID, stateDir string, opts ...Option) *Client {
	c := &Client{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(10 * time.Second).
			SetHeader("Content-Type", "application/json"),
		sessionID:    sessionID,
		rec:          NewReconciler(),
		mirror:       NewMirror(stateDir, sessionID),
		pollInterval: defaultPollInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start restores local history and ensures a conversation exists. A
// persisted record resumes its conversation instead of starting a new one.
func (c *Client) Start(ctx context.Context, visitorName, visitorEmail string) error {
	rec, err := c.mirror.Load()
	if err != nil {
		return err
	}
	if rec.ConversationID != "" {
		c.conversationID = rec.ConversationID
		c.rec.Restore(rec.Messages)
	}

	if c.conversationID == "" {
		if err := c.startConversation(ctx, visitorName, visitorEmail); err != nil {
			return err
		}
		return c.persist()
	}

	// Resuming: one poll reconciles anything missed while offline. A 404
	// means the server lost or closed the conversation; fall back to a
	// fresh one.
	if err := c.Poll(ctx); err != nil {
		c.conversationID = ""
		c.rec.Clear()
		if err := c.startConversation(ctx, visitorName, visitorEmail); err != nil {
			return err
		}
	}
	return c.persist()
}

func (c *Client) startConversation(ctx context.Context, visitorName, visitorEmail string) error {
	var out model.StartConversationResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(&model.StartConversationRequest{
			Action:       "start_conversation",
			SessionID:    c.sessionID,
			VisitorName:  visitorName,
			VisitorEmail: visitorEmail,
		}).
		SetResult(&out).
		Post("/chat")
	if err != nil {
		return fmt.Errorf("start conversation request failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("start conversation failed: %s", resp.Status())
	}

	c.conversationID = out.ConversationID
	return nil
}

// ConversationID returns the conversation the client is attached to.
func (c *Client) ConversationID() string {
	return c.conversationID
}

// Send renders the message optimistically, posts it, and reconciles the
// acknowledgement. A transport failure leaves the optimistic bubble in
// place as a best-effort rendering.
func (c *Client) Send(ctx context.Context, text string) error {
	c.rec.AddOptimistic(model.SenderVisitor, text)
	c.persist()

	var out model.SendMessageResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(&model.SendMessageRequest{
			Action:         "send_message",
			ConversationID: c.conversationID,
			Message:        text,
			SenderType:     string(model.SenderVisitor),
		}).
		SetResult(&out).
		Post("/chat")
	if err != nil {
		return fmt.Errorf("send request failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("send failed: %s", resp.Status())
	}

	// The acknowledgement is the send's confirmed identity; ingesting it
	// here collapses the optimistic bubble without waiting for a poll.
	c.rec.Ingest(model.Message{
		ID:             out.MessageID,
		ConversationID: c.conversationID,
		Sender:         model.SenderVisitor,
		Body:           text,
		CreatedAt:      out.Timestamp,
	})
	return c.persist()
}

// Poll pulls the conversation's current messages and reconciles them. Safe
// to call at any cadence; repeats are dedup'd by strong key.
func (c *Client) Poll(ctx context.Context) error {
	var messages []model.Message
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("action", "messages").
		SetQueryParam("conversation_id", c.conversationID).
		SetQueryParam("session_id", c.sessionID).
		SetResult(&messages).
		Get("/chat")
	if err != nil {
		return fmt.Errorf("poll request failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("poll failed: %s", resp.Status())
	}

	for _, msg := range messages {
		c.rec.Ingest(msg)
	}
	return c.persist()
}

// Run polls on the configured interval until the context is done.
func (c *Client) Run(ctx context.Context) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Poll(ctx)
		}
	}
}

// Messages returns the rendered history, oldest first.
func (c *Client) Messages() []Entry {
	return c.rec.Entries()
}

// ClearHistory drops local state and the persisted record.
func (c *Client) ClearHistory() error {
	c.rec.Clear()
	c.conversationID = ""
	return c.mirror.Clear()
}

// persist snapshots the mirror to disk.
func (c *Client) persist() error {
	entries := c.rec.Entries()
	messages := make([]model.Message, 0, len(entries))
	for _, e := range entries {
		messages = append(messages, e.Message)
	}
	return c.mirror.Save(&Record{
		ConversationID: c.conversationID,
		Messages:       messages,
	})
}
