package ws

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/opsgate/jitterm/internal/infrastructure/logging"
	"github.com/opsgate/jitterm/internal/infrastructure/monitoring"
	"github.com/opsgate/jitterm/internal/session"
	"github.com/opsgate/jitterm/internal/shared/id"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Origin policy is enforced by the fronting proxy
	},
}

// Handler upgrades connections and attaches them to sessions.
type Handler struct {
	manager *session.Manager
	logger  *logging.Logger
	metrics *monitoring.Metrics
}

// NewHandler creates a new WebSocket handler.
func NewHandler(manager *session.Manager, logger *logging.Logger, metrics *monitoring.Metrics) *Handler {
	return &Handler{
		manager: manager,
		logger:  logger,
		metrics: metrics,
	}
}

// HandleAttach upgrades the request and attaches the connection to the
// session named in the route. Authorization has already happened upstream.
func (h *Handler) HandleAttach(c *gin.Context) {
	sessionID := id.SessionID(c.Param("id"))

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	ep := newEndpoint(conn)
	go ep.writePump()

	if err := h.manager.Attach(sessionID, ep); err != nil {
		reason := "Invalid or expired session"
		if errors.Is(err, session.ErrInactive) {
			reason = "Session is no longer active"
		}
		ep.Close(reason)
		return
	}

	h.logger.Info("Endpoint attached to session",
		zap.String("session_id", sessionID.String()),
		zap.String("endpoint_id", ep.ID().String()),
	)

	h.readLoop(sessionID, ep)
}

// readLoop routes inbound frames to the manager until the connection dies,
// then detaches the endpoint. Detach never affects session liveness.
func (h *Handler) readLoop(sessionID id.SessionID, ep *endpoint) {
	conn := ep.conn
	conn.SetReadDeadline(time.Now().Add(readDeadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readDeadline))
	})

	defer func() {
		h.manager.Detach(sessionID, ep.ID())
		ep.Close("Connection closed")
	}()

	for {
		var msg session.Message
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("WebSocket read error", zap.Error(err))
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(readDeadline))

		if h.metrics != nil {
			h.metrics.RecordWSMessage("inbound", msg.Type)
		}

		switch msg.Type {
		case session.MessageInput:
			if err := h.manager.Input(sessionID, msg.Data); err != nil {
				h.logger.Debug("Input rejected", zap.String("session_id", sessionID.String()), zap.Error(err))
				return
			}
		case session.MessageResize:
			if msg.Cols > 0 && msg.Rows > 0 {
				if err := h.manager.Resize(sessionID, msg.Cols, msg.Rows); err != nil {
					h.logger.Debug("Resize rejected", zap.String("session_id", sessionID.String()), zap.Error(err))
				}
			}
		default:
			// Unknown frame types are ignored to stay forward-compatible
		}
	}
}
