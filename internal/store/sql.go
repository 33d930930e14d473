package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/inkwell-cms/livechat/internal/model"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS conversations (
	id            TEXT PRIMARY KEY,
	session_id    TEXT NOT NULL,
	visitor_name  TEXT NOT NULL DEFAULT '',
	visitor_email TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL DEFAULT 'active',
	last_activity TIMESTAMP NOT NULL,
	created_at    TIMESTAMP NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS ux_active_session
	ON conversations (session_id) WHERE status <> 'closed';

CREATE TABLE IF NOT EXISTS messages (
	seq             INTEGER PRIMARY KEY AUTOINCREMENT,
	id              TEXT NOT NULL UNIQUE,
	conversation_id TEXT NOT NULL REFERENCES conversations(id),
	sender_type     TEXT NOT NULL,
	body            TEXT NOT NULL,
	attachment_url  TEXT,
	attachment_mime TEXT,
	is_read         BOOLEAN NOT NULL DEFAULT FALSE,
	created_at      TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS ix_messages_conversation
	ON messages (conversation_id, created_at, seq);

CREATE TABLE IF NOT EXISTS availability (
	id         INTEGER PRIMARY KEY CHECK (id = 1),
	available  BOOLEAN NOT NULL DEFAULT FALSE,
	updated_at TIMESTAMP NOT NULL
);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS conversations (
	id            TEXT PRIMARY KEY,
	session_id    TEXT NOT NULL,
	visitor_name  TEXT NOT NULL DEFAULT '',
	visitor_email TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL DEFAULT 'active',
	last_activity TIMESTAMPTZ NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS ux_active_session
	ON conversations (session_id) WHERE status <> 'closed';

CREATE TABLE IF NOT EXISTS messages (
	seq             BIGSERIAL PRIMARY KEY,
	id              TEXT NOT NULL UNIQUE,
	conversation_id TEXT NOT NULL REFERENCES conversations(id),
	sender_type     TEXT NOT NULL,
	body            TEXT NOT NULL,
	attachment_url  TEXT,
	attachment_mime TEXT,
	is_read         BOOLEAN NOT NULL DEFAULT FALSE,
	created_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS ix_messages_conversation
	ON messages (conversation_id, created_at, seq);

CREATE TABLE IF NOT EXISTS availability (
	id         INTEGER PRIMARY KEY CHECK (id = 1),
	available  BOOLEAN NOT NULL DEFAULT FALSE,
	updated_at TIMESTAMPTZ NOT NULL
);
`

// SQLStore implements Store on sqlx. The same schema runs on sqlite (default,
// also used by tests) and postgres; the engine is chosen by DSN.
type SQLStore struct {
	db     *sqlx.DB
	driver string
}

// Open connects to the database named by dsn and applies the schema. A DSN
// starting with postgres:// (or containing host=) selects lib/pq; anything
// else is treated as a sqlite file path or :memory:.
func Open(dsn string) (*SQLStore, error) {
	driver := "sqlite"
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		driver = "postgres"
	}

	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if driver == "sqlite" {
		// Single writer; avoids SQLITE_BUSY under concurrent handlers.
		db.SetMaxOpenConns(1)
	}

	s := &SQLStore{db: db, driver: driver}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) migrate() error {
	schema := sqliteSchema
	if s.driver == "postgres" {
		schema = postgresSchema
	}
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// CreateConversation returns the existing active conversation for the
// session when one exists (resumed=true), otherwise inserts a new one. The
// partial unique index on (session_id, status<>'closed') backstops the
// lookup against concurrent creates.
func (s *SQLStore) CreateConversation(ctx context.Context, sessionID, visitorName, visitorEmail string) (*model.Conversation, bool, error) {
	if existing, err := s.GetActiveBySession(ctx, sessionID); err == nil {
		return existing, true, nil
	} else if !errors.Is(err, ErrConversationNotFound) {
		return nil, false, err
	}

	now := time.Now().UTC()
	conv := &model.Conversation{
		ID:           uuid.Must(uuid.NewV7()).String(),
		SessionID:    sessionID,
		VisitorName:  visitorName,
		VisitorEmail: visitorEmail,
		Status:       model.StatusActive,
		LastActivity: now,
		CreatedAt:    now,
	}

	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO conversations (id, session_id, visitor_name, visitor_email, status, last_activity, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		conv.ID, conv.SessionID, conv.VisitorName, conv.VisitorEmail, conv.Status, conv.LastActivity, conv.CreatedAt,
	)
	if err != nil {
		// Lost a race with another create for the same session; the index
		// rejected the duplicate, so the winner's row is authoritative.
		if existing, lookupErr := s.GetActiveBySession(ctx, sessionID); lookupErr == nil {
			return existing, true, nil
		}
		return nil, false, fmt.Errorf("failed to create conversation: %w", err)
	}

	return conv, false, nil
}

type messageRow struct {
	model.Message
	AttachmentURL  sql.NullString `db:"attachment_url"`
	AttachmentMime sql.NullString `db:"attachment_mime"`
}

func (r *messageRow) toMessage() model.Message {
	msg := r.Message
	if r.AttachmentURL.Valid {
		msg.Attachment = &model.Attachment{
			URL:      r.AttachmentURL.String,
			MimeType: r.AttachmentMime.String,
		}
	}
	return msg
}

// AppendMessage persists a message and bumps the conversation's
// last-activity timestamp in one transaction.
func (s *SQLStore) AppendMessage(ctx context.Context, conversationID string, sender model.SenderRole, body string, attachment *model.Attachment) (*model.Message, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists string
	err = tx.GetContext(ctx, &exists, tx.Rebind(`SELECT id FROM conversations WHERE id = ?`), conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up conversation: %w", err)
	}

	msg := &model.Message{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: conversationID,
		Sender:         sender,
		Body:           body,
		Attachment:     attachment,
		CreatedAt:      time.Now().UTC(),
	}

	var attURL, attMime interface{}
	if attachment != nil {
		attURL, attMime = attachment.URL, attachment.MimeType
	}

	_, err = tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO messages (id, conversation_id, sender_type, body, attachment_url, attachment_mime, is_read, created_at)
		VALUES (?, ?, ?, ?, ?, ?, FALSE, ?)`),
		msg.ID, msg.ConversationID, msg.Sender, msg.Body, attURL, attMime, msg.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}

	_, err = tx.ExecContext(ctx, tx.Rebind(`UPDATE conversations SET last_activity = ? WHERE id = ?`),
		msg.CreatedAt, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to update last activity: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit message: %w", err)
	}
	return msg, nil
}

// ListMessages returns a conversation's messages ascending by creation time,
// insertion order breaking ties.
func (s *SQLStore) ListMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	var rows []messageRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`
		SELECT seq, id, conversation_id, sender_type, body, attachment_url, attachment_mime, is_read, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at ASC, seq ASC`),
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	messages := make([]model.Message, len(rows))
	for i := range rows {
		messages[i] = rows[i].toMessage()
	}
	return messages, nil
}

// ListConversations returns every conversation with aggregates, most
// recently active first.
func (s *SQLStore) ListConversations(ctx context.Context) ([]model.ConversationSummary, error) {
	var summaries []model.ConversationSummary
	err := s.db.SelectContext(ctx, &summaries, `
		SELECT c.id, c.session_id, c.visitor_name, c.visitor_email, c.status, c.last_activity, c.created_at,
		       COUNT(m.id) AS message_count,
		       COALESCE(SUM(CASE WHEN NOT m.is_read AND m.sender_type = 'visitor' THEN 1 ELSE 0 END), 0) AS unread_count
		FROM conversations c
		LEFT JOIN messages m ON m.conversation_id = c.id
		GROUP BY c.id, c.session_id, c.visitor_name, c.visitor_email, c.status, c.last_activity, c.created_at
		ORDER BY c.last_activity DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}

	// AppendMessage keeps last_activity equal to the newest message's
	// created_at, so it doubles as last_message_at once messages exist.
	for i := range summaries {
		if summaries[i].MessageCount > 0 {
			t := summaries[i].LastActivity
			summaries[i].LastMessageAt = &t
		}
	}
	return summaries, nil
}

// GetConversation retrieves a conversation by id.
func (s *SQLStore) GetConversation(ctx context.Context, conversationID string) (*model.Conversation, error) {
	var conv model.Conversation
	err := s.db.GetContext(ctx, &conv, s.db.Rebind(`
		SELECT id, session_id, visitor_name, visitor_email, status, last_activity, created_at
		FROM conversations WHERE id = ?`),
		conversationID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return &conv, nil
}

// GetActiveBySession retrieves the session's non-closed conversation.
func (s *SQLStore) GetActiveBySession(ctx context.Context, sessionID string) (*model.Conversation, error) {
	var conv model.Conversation
	err := s.db.GetContext(ctx, &conv, s.db.Rebind(`
		SELECT id, session_id, visitor_name, visitor_email, status, last_activity, created_at
		FROM conversations WHERE session_id = ? AND status <> 'closed'`),
		sessionID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation by session: %w", err)
	}
	return &conv, nil
}

// SetStatus updates a conversation's lifecycle status.
func (s *SQLStore) SetStatus(ctx context.Context, conversationID string, status model.ConversationStatus) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE conversations SET status = ? WHERE id = ?`),
		status, conversationID)
	if err != nil {
		return fmt.Errorf("failed to set status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrConversationNotFound
	}
	return nil
}

// MarkRead flips a conversation's unread messages to read.
func (s *SQLStore) MarkRead(ctx context.Context, conversationID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE messages SET is_read = TRUE WHERE conversation_id = ? AND NOT is_read`),
		conversationID)
	if err != nil {
		return 0, fmt.Errorf("failed to mark messages read: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count marked rows: %w", err)
	}
	return n, nil
}

// Availability reads the current admin-availability record. A missing row
// means no admin has ever toggled availability and reads as unavailable.
func (s *SQLStore) Availability(ctx context.Context) (model.Availability, error) {
	var avail model.Availability
	err := s.db.GetContext(ctx, &avail, `SELECT available, updated_at FROM availability WHERE id = 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Availability{Available: false, UpdatedAt: time.Time{}}, nil
	}
	if err != nil {
		return model.Availability{}, fmt.Errorf("failed to read availability: %w", err)
	}
	return avail, nil
}

// SetAvailability upserts the availability record, last write wins.
func (s *SQLStore) SetAvailability(ctx context.Context, available bool) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO availability (id, available, updated_at) VALUES (1, ?, ?)
		ON CONFLICT (id) DO UPDATE SET available = excluded.available, updated_at = excluded.updated_at`),
		available, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set availability: %w", err)
	}
	return nil
}
