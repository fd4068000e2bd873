package v1

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/acp/internal/domain"
	"github.com/xiaot623/gogo/acp/internal/hub"
)

const writeTimeout = 10 * time.Second

// WatchSession upgrades to a WebSocket that receives every event of the session's runs.
// GET /sessions/:session_id/watch
func (h *Handler) WatchSession(c echo.Context) error {
	if h.hub == nil {
		return c.JSON(http.StatusServiceUnavailable, &domain.ErrorBody{
			Code:    domain.ErrorCodeServerError,
			Message: "session watch is disabled",
		})
	}
	sessionID := c.Param("session_id")

	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.log.WithError(err).Warn("failed to upgrade websocket")
		return nil
	}

	conn := h.hub.NewConnection(ws, sessionID)
	if !h.hub.Register(conn) {
		ws.Close()
		return nil
	}
	ws.SetReadLimit(h.config.WSMaxMessageSize)

	go h.writePump(conn)
	go h.readPump(conn)
	return nil
}

// readPump drains client frames so pongs and close frames are processed.
func (h *Handler) readPump(conn *hub.Connection) {
	defer func() {
		h.hub.Unregister(conn)
		conn.Close()
	}()

	readTimeout := 2 * h.pingInterval()
	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.Conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	for {
		if _, _, err := conn.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.WithError(err).Debug("watch connection closed")
			}
			return
		}
	}
}

// writePump forwards hub messages and keeps the connection alive with pings.
func (h *Handler) writePump(conn *hub.Connection) {
	ticker := time.NewTicker(h.pingInterval())
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				h.log.WithError(err).Debug("failed to write watch message")
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Handler) pingInterval() time.Duration {
	if h.config.WSPingInterval <= 0 {
		return 30 * time.Second
	}
	return h.config.WSPingInterval
}
