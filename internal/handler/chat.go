// Package handler provides HTTP handlers for the API.
package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/inkwell-cms/livechat/internal/middleware"
	"github.com/inkwell-cms/livechat/internal/model"
	"github.com/inkwell-cms/livechat/internal/service"
	"github.com/inkwell-cms/livechat/pkg/logger"
)

// maxBodyBytes bounds /chat request bodies.
const maxBodyBytes = 64 * 1024

// ChatHandler serves the action-dispatch /chat endpoint used by the widget
// and the admin panel.
type ChatHandler struct {
	service   *service.ChatService
	jwtSecret string
	logger    *logger.Logger
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(svc *service.ChatService, jwtSecret string, log *logger.Logger) *ChatHandler {
	return &ChatHandler{
		service:   svc,
		jwtSecret: jwtSecret,
		logger:    log,
	}
}

// Post handles POST /chat: start_conversation, send_message and the
// admin-only suggest_reply.
func (h *ChatHandler) Post(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var peek struct {
		Action string `json:"action"`
	}
	if err := json.Unmarshal(body, &peek); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	switch peek.Action {
	case "start_conversation":
		h.startConversation(w, r, body)
	case "send_message":
		h.sendMessage(w, r, body)
	case "suggest_reply":
		h.suggestReply(w, r, body)
	default:
		writeError(w, http.StatusBadRequest, "unknown action")
	}
}

func (h *ChatHandler) startConversation(w http.ResponseWriter, r *http.Request, body []byte) {
	var req model.StartConversationRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := middleware.ValidateSessionID(req.SessionID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := middleware.ValidateVisitorName(req.VisitorName); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conv, resumed, err := h.service.StartConversation(r.Context(), req.SessionID, req.VisitorName, req.VisitorEmail)
	if err != nil {
		h.logger.Error("failed to start conversation", zap.Error(err))
		writeServiceError(w, err)
		return
	}

	status := http.StatusCreated
	if resumed {
		status = http.StatusOK
	}
	writeJSON(w, status, &model.StartConversationResponse{
		ConversationID: conv.ID,
		Resumed:        resumed,
	})
}

func (h *ChatHandler) sendMessage(w http.ResponseWriter, r *http.Request, body []byte) {
	var req model.SendMessageRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := middleware.ValidateConversationID(req.ConversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := middleware.ValidateMessageBody(req.Message); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sender, err := model.ParseSenderRole(req.SenderType)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Only the widget posts through this endpoint unauthenticated; admin
	// and ai senders need an admin token.
	if sender != model.SenderVisitor {
		if _, err := middleware.VerifyAdmin(r, h.jwtSecret); err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
	}

	msg, err := h.service.SendMessage(r.Context(), req.ConversationID, sender, req.Message, req.Attachment)
	if err != nil {
		h.logger.Error("failed to send message",
			zap.String("conversation_id", req.ConversationID),
			zap.Error(err),
		)
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, &model.SendMessageResponse{
		MessageID: msg.ID,
		Success:   true,
		Timestamp: msg.CreatedAt,
	})
}

func (h *ChatHandler) suggestReply(w http.ResponseWriter, r *http.Request, body []byte) {
	if _, err := middleware.VerifyAdmin(r, h.jwtSecret); err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	var req model.SuggestReplyRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateConversationID(req.ConversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	draft, err := h.service.SuggestReply(r.Context(), req.ConversationID)
	if err != nil {
		h.logger.Error("failed to draft reply", zap.Error(err))
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, &model.SuggestReplyResponse{Draft: draft})
}

// Get handles GET /chat?action=messages|conversations.
func (h *ChatHandler) Get(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Query().Get("action") {
	case "messages":
		h.listMessages(w, r)
	case "conversations":
		h.listConversations(w, r)
	default:
		writeError(w, http.StatusBadRequest, "unknown action")
	}
}

func (h *ChatHandler) listMessages(w http.ResponseWriter, r *http.Request) {
	conversationID := r.URL.Query().Get("conversation_id")
	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	messages, err := h.service.ListMessages(r.Context(), conversationID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if messages == nil {
		messages = []model.Message{}
	}
	writeJSON(w, http.StatusOK, messages)
}

func (h *ChatHandler) listConversations(w http.ResponseWriter, r *http.Request) {
	if _, err := middleware.VerifyAdmin(r, h.jwtSecret); err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	summaries, err := h.service.ListConversations(r.Context())
	if err != nil {
		h.logger.Error("failed to list conversations", zap.Error(err))
		writeServiceError(w, err)
		return
	}
	if summaries == nil {
		summaries = []model.ConversationSummary{}
	}
	writeJSON(w, http.StatusOK, summaries)
}

// Put handles PUT /chat: update_status, mark_read, set_availability. The
// route is mounted behind admin auth.
func (h *ChatHandler) Put(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var peek struct {
		Action string `json:"action"`
	}
	if err := json.Unmarshal(body, &peek); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	switch peek.Action {
	case "update_status":
		h.updateStatus(w, r, body)
	case "mark_read":
		h.markRead(w, r, body)
	case "set_availability":
		h.setAvailability(w, r, body)
	default:
		writeError(w, http.StatusBadRequest, "unknown action")
	}
}

func (h *ChatHandler) updateStatus(w http.ResponseWriter, r *http.Request, body []byte) {
	var req model.UpdateStatusRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateConversationID(req.ConversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	status, err := model.ParseConversationStatus(req.Status)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.service.UpdateStatus(r.Context(), req.ConversationID, status); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *ChatHandler) markRead(w http.ResponseWriter, r *http.Request, body []byte) {
	var req model.MarkReadRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateConversationID(req.ConversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	updated, err := h.service.MarkRead(r.Context(), req.ConversationID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, &model.MarkReadResponse{Updated: updated})
}

func (h *ChatHandler) setAvailability(w http.ResponseWriter, r *http.Request, body []byte) {
	var req model.SetAvailabilityRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.service.SetAvailability(r.Context(), req.Available); err != nil {
		h.logger.Error("failed to set availability", zap.Error(err))
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
