package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/inkwell-cms/livechat/internal/delivery"
	"github.com/inkwell-cms/livechat/internal/middleware"
	"github.com/inkwell-cms/livechat/internal/model"
	"github.com/inkwell-cms/livechat/internal/service"
	"github.com/inkwell-cms/livechat/pkg/logger"
)

// heartbeatInterval keeps idle SSE connections alive through proxies.
const heartbeatInterval = 30 * time.Second

// StreamHandler serves the visitor push channel over server-sent events.
// The stream replays the conversation's current messages, then delivers
// live events until the client disconnects.
type StreamHandler struct {
	service  *service.ChatService
	registry *delivery.Registry
	logger   *logger.Logger
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(svc *service.ChatService, reg *delivery.Registry, log *logger.Logger) *StreamHandler {
	return &StreamHandler{
		service:  svc,
		registry: reg,
		logger:   log,
	}
}

// sseConn adapts one SSE subscriber to the delivery registry. Send never
// blocks dispatch: a full buffer means the client stopped reading and the
// connection reports itself dead.
type sseConn struct {
	events chan model.Event

	mu     sync.Mutex
	closed bool
}

var errConnClosed = errors.New("connection closed")

func newSSEConn() *sseConn {
	return &sseConn{events: make(chan model.Event, 16)}
}

func (c *sseConn) Send(event model.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errConnClosed
	}
	select {
	case c.events <- event:
		return nil
	default:
		return errors.New("slow consumer, buffer full")
	}
}

func (c *sseConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.events)
	}
	return nil
}

// Stream handles GET /chat/stream?conversation_id=ID&session_id=SID.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	conversationID := r.URL.Query().Get("conversation_id")
	sessionID := r.URL.Query().Get("session_id")
	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := middleware.ValidateSessionID(sessionID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conv, err := h.service.GetConversation(ctx, conversationID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if conv.SessionID != sessionID {
		writeError(w, http.StatusForbidden, "conversation does not belong to session")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	sendSSEEvent(w, flusher, "connected", map[string]string{
		"conversation_id": conversationID,
	})

	// Replay current state before going live; anything appended in between
	// also arrives as a live event and the client reconciler dedups it.
	messages, err := h.service.ListMessages(ctx, conversationID)
	if err != nil {
		h.logger.Error("failed to replay messages", zap.Error(err))
		sendSSEEvent(w, flusher, "error", map[string]string{"error": "replay failed"})
		return
	}
	for i := range messages {
		sendSSEEvent(w, flusher, "message", &messages[i])
	}
	sendSSEEvent(w, flusher, "replay_complete", map[string]int{"count": len(messages)})

	conn := newSSEConn()
	h.registry.RegisterVisitor(sessionID, conn)
	defer func() {
		h.registry.UnregisterVisitor(sessionID, conn)
		conn.Close()
	}()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("visitor stream closed", zap.String("session_id", sessionID))
			return

		case event, ok := <-conn.events:
			if !ok {
				return
			}
			sendSSEEvent(w, flusher, string(event.Type), event)

		case <-heartbeat.C:
			sendSSEEvent(w, flusher, "heartbeat", map[string]int64{
				"ts": time.Now().Unix(),
			})
		}
	}
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", jsonData)
	flusher.Flush()

	return nil
}
