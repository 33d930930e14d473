package store

import (
	"context"
	"testing"
	"time"

	"github.com/inkwell-cms/livechat/internal/model"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateConversationIsIdempotentPerSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, resumed, err := s.CreateConversation(ctx, "sess-1", "Ada", "ada@example.com")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if resumed {
		t.Fatal("first create reported resumed")
	}

	second, resumed, err := s.CreateConversation(ctx, "sess-1", "", "")
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if !resumed {
		t.Fatal("second create did not resume")
	}
	if second.ID != first.ID {
		t.Fatalf("two active conversations for one session: %s vs %s", first.ID, second.ID)
	}

	convs, err := s.ListConversations(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(convs) != 1 {
		t.Fatalf("want 1 conversation, got %d", len(convs))
	}
}

func TestCreateAfterCloseStartsFresh(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, _, err := s.CreateConversation(ctx, "sess-2", "", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.SetStatus(ctx, first.ID, model.StatusClosed); err != nil {
		t.Fatalf("close: %v", err)
	}

	second, resumed, err := s.CreateConversation(ctx, "sess-2", "", "")
	if err != nil {
		t.Fatalf("create after close: %v", err)
	}
	if resumed {
		t.Fatal("resumed a closed conversation")
	}
	if second.ID == first.ID {
		t.Fatal("closed conversation was reused")
	}
}

func TestListMessagesOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv, _, err := s.CreateConversation(ctx, "sess-3", "", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	bodies := []string{"one", "two", "three", "four"}
	for _, b := range bodies {
		if _, err := s.AppendMessage(ctx, conv.ID, model.SenderVisitor, b, nil); err != nil {
			t.Fatalf("append %q: %v", b, err)
		}
	}

	messages, err := s.ListMessages(ctx, conv.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(messages) != len(bodies) {
		t.Fatalf("want %d messages, got %d", len(bodies), len(messages))
	}
	for i, msg := range messages {
		if msg.Body != bodies[i] {
			t.Errorf("position %d: want %q, got %q", i, bodies[i], msg.Body)
		}
		if i > 0 && messages[i].CreatedAt.Before(messages[i-1].CreatedAt) {
			t.Errorf("position %d: created_at went backwards", i)
		}
	}
}

func TestAppendMessageUnknownConversation(t *testing.T) {
	s := newTestStore(t)

	_, err := s.AppendMessage(context.Background(), "00000000-0000-0000-0000-000000000000", model.SenderVisitor, "hello", nil)
	if err != ErrConversationNotFound {
		t.Fatalf("want ErrConversationNotFound, got %v", err)
	}
}

func TestAppendMessageBumpsLastActivity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv, _, _ := s.CreateConversation(ctx, "sess-4", "", "")
	before := conv.LastActivity

	time.Sleep(5 * time.Millisecond)
	msg, err := s.AppendMessage(ctx, conv.ID, model.SenderVisitor, "ping", nil)
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	got, err := s.GetConversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.LastActivity.After(before) {
		t.Fatal("last_activity not bumped")
	}
	if !got.LastActivity.Equal(msg.CreatedAt) {
		t.Fatalf("last_activity %v != message created_at %v", got.LastActivity, msg.CreatedAt)
	}
}

func TestMessageAttachmentRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv, _, _ := s.CreateConversation(ctx, "sess-5", "", "")
	att := &model.Attachment{URL: "https://cdn.example.com/f.png", MimeType: "image/png"}
	if _, err := s.AppendMessage(ctx, conv.ID, model.SenderVisitor, "see attached", att); err != nil {
		t.Fatalf("append: %v", err)
	}

	messages, err := s.ListMessages(ctx, conv.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if messages[0].Attachment == nil {
		t.Fatal("attachment lost")
	}
	if messages[0].Attachment.URL != att.URL || messages[0].Attachment.MimeType != att.MimeType {
		t.Fatalf("attachment mangled: %+v", messages[0].Attachment)
	}
}

func TestMarkRead(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv, _, _ := s.CreateConversation(ctx, "sess-6", "", "")
	for i := 0; i < 3; i++ {
		if _, err := s.AppendMessage(ctx, conv.ID, model.SenderVisitor, "msg", nil); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	n, err := s.MarkRead(ctx, conv.ID)
	if err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if n != 3 {
		t.Fatalf("want 3 marked, got %d", n)
	}

	// Already read: nothing left to flip.
	n, err = s.MarkRead(ctx, conv.ID)
	if err != nil {
		t.Fatalf("second mark read: %v", err)
	}
	if n != 0 {
		t.Fatalf("want 0 marked, got %d", n)
	}
}

func TestListConversationsOrderAndCounts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a, _, _ := s.CreateConversation(ctx, "sess-a", "", "")
	b, _, _ := s.CreateConversation(ctx, "sess-b", "", "")

	s.AppendMessage(ctx, a.ID, model.SenderVisitor, "first", nil)
	time.Sleep(5 * time.Millisecond)
	s.AppendMessage(ctx, b.ID, model.SenderVisitor, "second", nil)
	s.AppendMessage(ctx, b.ID, model.SenderAI, "reply", nil)

	convs, err := s.ListConversations(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(convs) != 2 {
		t.Fatalf("want 2 conversations, got %d", len(convs))
	}
	if convs[0].ID != b.ID {
		t.Fatal("most recently active conversation not first")
	}
	if convs[0].MessageCount != 2 || convs[1].MessageCount != 1 {
		t.Fatalf("message counts wrong: %d, %d", convs[0].MessageCount, convs[1].MessageCount)
	}
	if convs[0].UnreadCount != 1 {
		t.Fatalf("unread count should only count visitor messages, got %d", convs[0].UnreadCount)
	}
	if convs[0].LastMessageAt == nil {
		t.Fatal("last_message_at missing")
	}
}

func TestSetStatusUnknownConversation(t *testing.T) {
	s := newTestStore(t)

	err := s.SetStatus(context.Background(), "00000000-0000-0000-0000-000000000000", model.StatusClosed)
	if err != ErrConversationNotFound {
		t.Fatalf("want ErrConversationNotFound, got %v", err)
	}
}

func TestAvailabilityLastWriteWins(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	avail, err := s.Availability(ctx)
	if err != nil {
		t.Fatalf("read default: %v", err)
	}
	if avail.Available {
		t.Fatal("default availability should be false")
	}

	if err := s.SetAvailability(ctx, true); err != nil {
		t.Fatalf("set true: %v", err)
	}
	if err := s.SetAvailability(ctx, false); err != nil {
		t.Fatalf("set false: %v", err)
	}
	if err := s.SetAvailability(ctx, true); err != nil {
		t.Fatalf("set true again: %v", err)
	}

	avail, err = s.Availability(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !avail.Available {
		t.Fatal("latest write not observed")
	}
	if avail.UpdatedAt.IsZero() {
		t.Fatal("updated_at not set")
	}
}
