// Package http provides the HTTP server implementation for the ACP server.
package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/xiaot623/gogo/acp/internal/config"
	"github.com/xiaot623/gogo/acp/internal/domain"
	"github.com/xiaot623/gogo/acp/internal/hub"
	"github.com/xiaot623/gogo/acp/internal/logger"
	"github.com/xiaot623/gogo/acp/internal/service"
	v1 "github.com/xiaot623/gogo/acp/internal/transport/http/v1"
)

// NewServer creates and configures the ACP HTTP server.
// state reports the server lifecycle state on /health and may be nil.
func NewServer(svc *service.Service, h *hub.Hub, cfg *config.Config, state func() string) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler

	// Middleware
	e.Use(middleware.RequestID())
	e.Use(logger.RequestLogger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	handler := v1.NewHandler(svc, h, cfg)
	if state != nil {
		handler.SetStateFunc(state)
	}
	handler.RegisterRoutes(e)

	return e
}

// errorHandler renders framework errors, recovered panics included, as ACP error bodies.
func errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	status := http.StatusInternalServerError
	body := &domain.ErrorBody{Code: domain.ErrorCodeServerError, Message: err.Error()}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		if msg, ok := he.Message.(string); ok {
			body.Message = msg
		} else {
			body.Message = http.StatusText(status)
		}
		switch {
		case status == http.StatusNotFound:
			body.Code = domain.ErrorCodeNotFound
		case status == http.StatusForbidden:
			body.Code = domain.ErrorCodeForbidden
		case status == http.StatusConflict:
			body.Code = domain.ErrorCodeConflict
		case status >= 400 && status < 500:
			body.Code = domain.ErrorCodeInvalidInput
		}
	}

	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(status)
		return
	}
	_ = c.JSON(status, body)
}
