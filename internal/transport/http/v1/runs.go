package v1

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/acp/internal/domain"
)

// CreateRun starts a run in sync, stream or async mode.
// POST /runs
// POST /agents/:name/runs
func (h *Handler) CreateRun(c echo.Context) error {
	var req domain.RunCreateRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if name := c.Param("name"); name != "" {
		req.AgentName = name
	}
	if req.Mode == "" && strings.Contains(c.Request().Header.Get(echo.HeaderAccept), "text/event-stream") {
		req.Mode = domain.RunModeStream
	}

	ctx := c.Request().Context()
	switch req.Mode {
	case domain.RunModeStream:
		return h.streamRun(c, req)
	case domain.RunModeAsync:
		run, err := h.service.StartAsync(ctx, req)
		if err != nil {
			return h.respondError(c, err)
		}
		return c.JSON(http.StatusAccepted, run)
	default:
		run, err := h.service.Execute(ctx, req, nil)
		if err != nil {
			return h.respondError(c, err)
		}
		return c.JSON(http.StatusOK, run)
	}
}

// streamRun writes every run event as an SSE frame. Headers are sent with the
// first event, so requests rejected before the run exists still get a JSON error.
func (h *Handler) streamRun(c echo.Context, req domain.RunCreateRequest) error {
	flusher, ok := c.Response().Writer.(http.Flusher)
	if !ok {
		return c.JSON(http.StatusInternalServerError, &domain.ErrorBody{
			Code:    domain.ErrorCodeServerError,
			Message: "streaming not supported",
		})
	}

	started := false
	var writeErr error
	sink := func(evt domain.Event) {
		if writeErr != nil {
			return
		}
		if !started {
			started = true
			c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
			c.Response().Header().Set("Cache-Control", "no-cache")
			c.Response().Header().Set("Connection", "keep-alive")
			c.Response().WriteHeader(http.StatusOK)
		}
		data, err := json.Marshal(evt)
		if err != nil {
			writeErr = err
			return
		}
		if _, err := fmt.Fprintf(c.Response().Writer, "event: %s\ndata: %s\n\n", evt.Type, data); err != nil {
			writeErr = err
			return
		}
		flusher.Flush()
	}

	run, err := h.service.Execute(c.Request().Context(), req, sink)
	if err != nil {
		return h.respondError(c, err)
	}
	if writeErr != nil {
		h.log.WithError(writeErr).WithField("run_id", run.RunID).Debug("stream client went away")
	}
	return nil
}
