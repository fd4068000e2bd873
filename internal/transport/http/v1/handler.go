// Package v1 provides the ACP HTTP handlers.
package v1

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/xiaot623/gogo/acp/internal/config"
	"github.com/xiaot623/gogo/acp/internal/domain"
	"github.com/xiaot623/gogo/acp/internal/hub"
	"github.com/xiaot623/gogo/acp/internal/logger"
	"github.com/xiaot623/gogo/acp/internal/service"
)

// Handler handles ACP HTTP requests.
type Handler struct {
	service  *service.Service
	hub      *hub.Hub
	config   *config.Config
	state    func() string
	upgrader websocket.Upgrader
	log      *logrus.Entry
}

// NewHandler creates a new handler. h may be nil, which disables the watch route.
func NewHandler(svc *service.Service, h *hub.Hub, cfg *config.Config) *Handler {
	if cfg == nil {
		cfg = config.Default()
	}
	return &Handler{
		service: svc,
		hub:     h,
		config:  cfg,
		state:   func() string { return "serving" },
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		log: logger.WithComponent("http"),
	}
}

// SetStateFunc sets the function reporting the server state on /health.
func (h *Handler) SetStateFunc(fn func() string) {
	h.state = fn
}

// RegisterRoutes registers the ACP routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/ping", h.Ping)
	e.GET("/health", h.Health)

	e.GET("/agents", h.ListAgents)
	e.GET("/agents/:name", h.GetAgent)
	e.POST("/agents/:name/runs", h.CreateRun)

	e.POST("/runs", h.CreateRun)
	e.GET("/runs/:run_id", h.GetRun)
	e.POST("/runs/:run_id/cancel", h.CancelRun)
	e.GET("/runs/:run_id/events", h.GetRunEvents)

	e.GET("/sessions/:session_id/messages", h.GetSessionMessages)
	e.GET("/sessions/:session_id/watch", h.WatchSession)
}

// Ping answers liveness probes.
// GET /ping
func (h *Handler) Ping(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{})
}

// Health returns health status.
// GET /health
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"agents": len(h.service.ListAgents()),
		"runs":   h.service.ActiveRuns(),
		"state":  h.state(),
	})
}

// respondError writes err as an ErrorBody with the matching status.
func (h *Handler) respondError(c echo.Context, err error) error {
	status, body := domain.ToErrorBody(err)
	if status >= http.StatusInternalServerError {
		h.log.WithError(err).WithField("uri", c.Request().RequestURI).Error("request failed")
	}
	return c.JSON(status, body)
}

func badRequest(c echo.Context, message string) error {
	return c.JSON(http.StatusBadRequest, &domain.ErrorBody{Code: domain.ErrorCodeInvalidInput, Message: message})
}
