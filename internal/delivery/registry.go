// Package delivery routes newly appended messages to the live audience:
// visitor messages fan out to every connected admin, admin and auto-reply
// messages go to the one visitor connection for the conversation's session.
// Delivery is best-effort at most once; a connection that errors is evicted
// and the recipient catches up over the poll path.
package delivery

import (
	"sync"

	"go.uber.org/zap"

	"github.com/inkwell-cms/livechat/internal/model"
	"github.com/inkwell-cms/livechat/pkg/logger"
	"github.com/inkwell-cms/livechat/pkg/metrics"
)

// Conn is one live push connection (admin WebSocket or visitor SSE).
type Conn interface {
	// Send pushes one event. An error marks the connection dead; it will
	// be evicted and closed, never retried.
	Send(event model.Event) error
	Close() error
}

// Relay forwards events to sibling instances. The registry publishes every
// locally originated event and ingests remote ones via DispatchLocal.
type Relay interface {
	Publish(event model.Event) error
}

// Registry tracks live connections keyed by admin connection id and visitor
// session id.
type Registry struct {
	mu       sync.RWMutex
	admins   map[string]Conn
	visitors map[string]Conn

	relay  Relay
	logger *logger.Logger
}

// NewRegistry creates an empty connection registry.
func NewRegistry(log *logger.Logger) *Registry {
	return &Registry{
		admins:   make(map[string]Conn),
		visitors: make(map[string]Conn),
		logger:   log,
	}
}

// SetRelay attaches a cross-instance relay. Events dispatched locally are
// also published; events arriving from the relay must be fed through
// DispatchLocal to avoid a publish loop.
func (r *Registry) SetRelay(relay Relay) {
	r.mu.Lock()
	r.relay = relay
	r.mu.Unlock()
}

// RegisterAdmin adds an admin connection under its connection id.
func (r *Registry) RegisterAdmin(connID string, conn Conn) {
	r.mu.Lock()
	r.admins[connID] = conn
	r.mu.Unlock()

	metrics.PushConnections.WithLabelValues("admin").Inc()
	r.logger.Info("admin connected", zap.String("conn_id", connID))
}

// UnregisterAdmin removes an admin connection.
func (r *Registry) UnregisterAdmin(connID string) {
	r.mu.Lock()
	_, ok := r.admins[connID]
	delete(r.admins, connID)
	r.mu.Unlock()

	if ok {
		metrics.PushConnections.WithLabelValues("admin").Dec()
		r.logger.Info("admin disconnected", zap.String("conn_id", connID))
	}
}

// RegisterVisitor adds (or replaces) the connection for a visitor session.
func (r *Registry) RegisterVisitor(sessionID string, conn Conn) {
	r.mu.Lock()
	prev := r.visitors[sessionID]
	r.visitors[sessionID] = conn
	r.mu.Unlock()

	if prev != nil {
		prev.Close()
	} else {
		metrics.PushConnections.WithLabelValues("visitor").Inc()
	}
	r.logger.Info("visitor connected", zap.String("session_id", sessionID))
}

// UnregisterVisitor removes a visitor connection, but only if it is still
// the registered one (a reconnect may already have replaced it).
func (r *Registry) UnregisterVisitor(sessionID string, conn Conn) {
	r.mu.Lock()
	current, ok := r.visitors[sessionID]
	if ok && current == conn {
		delete(r.visitors, sessionID)
	} else {
		ok = false
	}
	r.mu.Unlock()

	if ok {
		metrics.PushConnections.WithLabelValues("visitor").Dec()
		r.logger.Info("visitor disconnected", zap.String("session_id", sessionID))
	}
}

// AdminCount returns the number of live admin connections.
func (r *Registry) AdminCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.admins)
}

// DispatchMessage routes a persisted message to its live audience and
// publishes it to the relay for sibling instances.
func (r *Registry) DispatchMessage(msg *model.Message, sessionID string) {
	event := model.Event{
		Type:           model.EventNewMessage,
		ConversationID: msg.ConversationID,
		SessionID:      sessionID,
		Message:        msg,
		Timestamp:      msg.CreatedAt,
	}

	r.DispatchLocal(event)

	r.mu.RLock()
	relay := r.relay
	r.mu.RUnlock()
	if relay != nil {
		if err := relay.Publish(event); err != nil {
			r.logger.Warn("relay publish failed", zap.Error(err))
		}
	}
}

// DispatchLocal delivers an event to connections on this instance only.
func (r *Registry) DispatchLocal(event model.Event) {
	switch event.Type {
	case model.EventNewMessage:
		if event.Message == nil {
			return
		}
		if event.Message.Sender == model.SenderVisitor {
			r.fanOutAdmins(event)
		} else {
			r.sendToVisitor(event.SessionID, event)
		}
	case model.EventAdminStatusUpdate, model.EventUserConnected, model.EventConversationClosed:
		r.fanOutAdmins(event)
		if event.SessionID != "" {
			r.sendToVisitor(event.SessionID, event)
		}
	}
}

// Broadcast sends a non-message event to all admins (and the named visitor
// session, when set), locally and via the relay.
func (r *Registry) Broadcast(event model.Event) {
	r.DispatchLocal(event)

	r.mu.RLock()
	relay := r.relay
	r.mu.RUnlock()
	if relay != nil {
		if err := relay.Publish(event); err != nil {
			r.logger.Warn("relay publish failed", zap.Error(err))
		}
	}
}

func (r *Registry) fanOutAdmins(event model.Event) {
	r.mu.RLock()
	targets := make(map[string]Conn, len(r.admins))
	for id, conn := range r.admins {
		targets[id] = conn
	}
	r.mu.RUnlock()

	for id, conn := range targets {
		if err := conn.Send(event); err != nil {
			r.evictAdmin(id, conn, err)
		}
	}
}

func (r *Registry) sendToVisitor(sessionID string, event model.Event) {
	if sessionID == "" {
		return
	}

	r.mu.RLock()
	conn, ok := r.visitors[sessionID]
	r.mu.RUnlock()
	if !ok {
		// No live connection; the message is persisted and the visitor's
		// next poll picks it up.
		return
	}

	if err := conn.Send(event); err != nil {
		r.evictVisitor(sessionID, conn, err)
	}
}

func (r *Registry) evictAdmin(connID string, conn Conn, sendErr error) {
	r.logger.Warn("evicting dead admin connection",
		zap.String("conn_id", connID),
		zap.Error(sendErr),
	)
	metrics.DeliveryFailures.WithLabelValues("admin").Inc()
	r.UnregisterAdmin(connID)
	conn.Close()
}

func (r *Registry) evictVisitor(sessionID string, conn Conn, sendErr error) {
	r.logger.Warn("evicting dead visitor connection",
		zap.String("session_id", sessionID),
		zap.Error(sendErr),
	)
	metrics.DeliveryFailures.WithLabelValues("visitor").Inc()
	r.UnregisterVisitor(sessionID, conn)
	conn.Close()
}
