package chatclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/inkwell-cms/livechat/internal/model"
)

// chatServer is a minimal in-memory stand-in for the /chat endpoint.
type chatServer struct {
	mu             sync.Mutex
	conversationID string
	messages       []model.Message
	starts         int
}

func (s *chatServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/chat", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")

		switch r.Method {
		case http.MethodGet:
			if r.URL.Query().Get("conversation_id") != s.conversationID || s.conversationID == "" {
				http.Error(w, `{"error":"conversation not found"}`, http.StatusNotFound)
				return
			}
			json.NewEncoder(w).Encode(s.messages)
		case http.MethodPost:
			var req struct {
				Action  string `json:"action"`
				Message string `json:"message"`
			}
			json.NewDecoder(r.Body).Decode(&req)
			switch req.Action {
			case "start_conversation":
				s.starts++
				if s.conversationID == "" {
					s.conversationID = uuid.New().String()
					w.WriteHeader(http.StatusCreated)
				}
				json.NewEncoder(w).Encode(&model.StartConversationResponse{ConversationID: s.conversationID})
			case "send_message":
				msg := model.Message{
					ID:             uuid.New().String(),
					ConversationID: s.conversationID,
					Sender:         model.SenderVisitor,
					Body:           req.Message,
					CreatedAt:      time.Now().UTC(),
				}
				s.messages = append(s.messages, msg)
				json.NewEncoder(w).Encode(&model.SendMessageResponse{
					MessageID: msg.ID,
					Success:   true,
					Timestamp: msg.CreatedAt,
				})
			default:
				http.Error(w, `{"error":"unknown action"}`, http.StatusBadRequest)
			}
		}
	})
	return mux
}

func (s *chatServer) appendAdmin(body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, model.Message{
		ID:             uuid.New().String(),
		ConversationID: s.conversationID,
		Sender:         model.SenderAdmin,
		Body:           body,
		CreatedAt:      time.Now().UTC(),
	})
}

func TestClientSendThenPollRendersOnce(t *testing.T) {
	srv := &chatServer{}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	c := New(ts.URL, "sess-1", t.TempDir())
	ctx := context.Background()
	if err := c.Start(ctx, "Alice", ""); err != nil {
		t.Fatalf("start: %v", err)
	}
	if c.ConversationID() == "" {
		t.Fatal("no conversation id after start")
	}

	if err := c.Send(ctx, "hello there"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := c.Poll(ctx); err != nil {
		t.Fatalf("poll: %v", err)
	}

	msgs := c.Messages()
	if len(msgs) != 1 {
		t.Fatalf("rendered %d bubbles, want 1: %+v", len(msgs), msgs)
	}
	if msgs[0].Optimistic {
		t.Fatal("bubble still optimistic after ack")
	}
}

func TestClientPollPicksUpAdminReply(t *testing.T) {
	srv := &chatServer{}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	c := New(ts.URL, "sess-1", t.TempDir())
	ctx := context.Background()
	if err := c.Start(ctx, "Alice", ""); err != nil {
		t.Fatal(err)
	}
	if err := c.Send(ctx, "anyone there?"); err != nil {
		t.Fatal(err)
	}

	srv.appendAdmin("yes, hello!")

	// Two polls: the admin reply renders exactly once.
	if err := c.Poll(ctx); err != nil {
		t.Fatal(err)
	}
	if err := c.Poll(ctx); err != nil {
		t.Fatal(err)
	}

	msgs := c.Messages()
	if len(msgs) != 2 {
		t.Fatalf("rendered %d bubbles, want 2", len(msgs))
	}
	if msgs[1].Message.Sender != model.SenderAdmin {
		t.Fatalf("second bubble sender = %q", msgs[1].Message.Sender)
	}
}

func TestClientRestartRestoresHistoryAndResumes(t *testing.T) {
	srv := &chatServer{}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	stateDir := t.TempDir()
	ctx := context.Background()

	first := New(ts.URL, "sess-1", stateDir)
	if err := first.Start(ctx, "Alice", ""); err != nil {
		t.Fatal(err)
	}
	for _, text := range []string{"one", "two", "three"} {
		if err := first.Send(ctx, text); err != nil {
			t.Fatal(err)
		}
	}
	convID := first.ConversationID()

	// A new process with the same session and state dir.
	second := New(ts.URL, "sess-1", stateDir)
	if err := second.Start(ctx, "Alice", ""); err != nil {
		t.Fatal(err)
	}

	if second.ConversationID() != convID {
		t.Fatalf("resumed conversation %q, want %q", second.ConversationID(), convID)
	}
	if srv.starts != 1 {
		t.Fatalf("server saw %d start_conversation calls, want 1", srv.starts)
	}

	msgs := second.Messages()
	if len(msgs) != 3 {
		t.Fatalf("restored %d bubbles, want 3", len(msgs))
	}
	for i, want := range []string{"one", "two", "three"} {
		if msgs[i].Message.Body != want {
			t.Fatalf("bubble %d = %q, want %q", i, msgs[i].Message.Body, want)
		}
	}
}

func TestClientFallsBackToFreshConversationWhenServerForgot(t *testing.T) {
	srv := &chatServer{}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	stateDir := t.TempDir()
	ctx := context.Background()

	first := New(ts.URL, "sess-1", stateDir)
	if err := first.Start(ctx, "Alice", ""); err != nil {
		t.Fatal(err)
	}
	if err := first.Send(ctx, "hello"); err != nil {
		t.Fatal(err)
	}
	oldID := first.ConversationID()

	// Server-side wipe; the resume poll will 404.
	srv.mu.Lock()
	srv.conversationID = ""
	srv.messages = nil
	srv.mu.Unlock()

	second := New(ts.URL, "sess-1", stateDir)
	if err := second.Start(ctx, "Alice", ""); err != nil {
		t.Fatalf("start after wipe: %v", err)
	}
	if second.ConversationID() == "" || second.ConversationID() == oldID {
		t.Fatalf("expected a fresh conversation, got %q", second.ConversationID())
	}
	if len(second.Messages()) != 0 {
		t.Fatal("stale history survived the fallback")
	}
}

func TestClientClearHistoryRemovesRecord(t *testing.T) {
	srv := &chatServer{}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	stateDir := t.TempDir()
	c := New(ts.URL, "sess-1", stateDir)
	ctx := context.Background()
	if err := c.Start(ctx, "Alice", ""); err != nil {
		t.Fatal(err)
	}
	if err := c.Send(ctx, "to be forgotten"); err != nil {
		t.Fatal(err)
	}

	if err := c.ClearHistory(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if len(c.Messages()) != 0 {
		t.Fatal("messages survived ClearHistory")
	}
	if _, err := os.Stat(filepath.Join(stateDir, "chat-sess-1.json")); !os.IsNotExist(err) {
		t.Fatalf("record file still present: %v", err)
	}
}

func TestMirrorLoadMissingAndCorrupt(t *testing.T) {
	dir := t.TempDir()
	m := NewMirror(dir, "sess-x")

	rec, err := m.Load()
	if err != nil {
		t.Fatalf("load missing: %v", err)
	}
	if rec.ConversationID != "" || len(rec.Messages) != 0 {
		t.Fatalf("missing file loaded as %+v", rec)
	}

	if err := os.WriteFile(filepath.Join(dir, "chat-sess-x.json"), []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	rec, err = m.Load()
	if err != nil {
		t.Fatalf("load corrupt: %v", err)
	}
	if rec.ConversationID != "" || len(rec.Messages) != 0 {
		t.Fatal("corrupt record not discarded")
	}
}

func TestMirrorSaveLoadRoundTrip(t *testing.T) {
	m := NewMirror(t.TempDir(), "sess-y")

	want := &Record{
		ConversationID: "c-1",
		Messages: []model.Message{
			{ID: "m-1", Sender: model.SenderVisitor, Body: "hi", CreatedAt: time.Now().UTC().Truncate(time.Second)},
		},
	}
	if err := m.Save(want); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := m.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.ConversationID != want.ConversationID || len(got.Messages) != 1 {
		t.Fatalf("round trip lost data: %+v", got)
	}
	if got.Messages[0].Body != "hi" {
		t.Fatalf("body = %q", got.Messages[0].Body)
	}
}
