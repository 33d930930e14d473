package handler

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/inkwell-cms/livechat/internal/delivery"
	"github.com/inkwell-cms/livechat/internal/middleware"
	"github.com/inkwell-cms/livechat/internal/model"
	"github.com/inkwell-cms/livechat/pkg/logger"
)

const writeWait = 10 * time.Second

// SocketHandler serves the admin push channel over WebSocket. Admins
// subscribe globally: every visitor message on any conversation reaches
// every connected admin.
type SocketHandler struct {
	registry       *delivery.Registry
	logger         *logger.Logger
	allowedOrigins map[string]bool
	upgrader       websocket.Upgrader
}

// NewSocketHandler creates a new socket handler. An empty origin list
// allows all origins.
func NewSocketHandler(reg *delivery.Registry, allowedOrigins []string, log *logger.Logger) *SocketHandler {
	origins := make(map[string]bool)
	for _, o := range allowedOrigins {
		origins[o] = true
	}

	h := &SocketHandler{
		registry:       reg,
		logger:         log,
		allowedOrigins: origins,
	}
	h.upgrader = websocket.Upgrader{CheckOrigin: h.checkOrigin}
	return h
}

func (h *SocketHandler) checkOrigin(r *http.Request) bool {
	if len(h.allowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true // allow non-browser clients
	}
	return h.allowedOrigins[origin]
}

// wsConn adapts a gorilla WebSocket connection to the delivery registry.
// gorilla allows one concurrent writer, so Send serializes under a mutex.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) Send(event model.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(event)
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}

// Serve handles GET /chat/ws. The route is mounted behind admin auth.
func (h *SocketHandler) Serve(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	connID := uuid.New().String()
	adminID := middleware.GetAdminID(r.Context())
	wc := &wsConn{conn: conn}

	h.registry.RegisterAdmin(connID, wc)
	defer func() {
		h.registry.UnregisterAdmin(connID)
		conn.Close()
	}()

	h.logger.Info("admin socket open",
		zap.String("conn_id", connID),
		zap.String("admin_id", adminID),
	)

	// The socket is push-only; admins send through POST /chat. The read
	// loop only drains control frames and detects disconnect.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("admin socket closed unexpectedly",
					zap.String("conn_id", connID),
					zap.Error(err),
				)
			}
			return
		}
	}
}
