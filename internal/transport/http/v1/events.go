package v1

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/acp/internal/domain"
)

const (
	defaultMessagesLimit = 50
	maxListLimit         = 1000
)

// GetRun returns a run.
// GET /runs/:run_id
func (h *Handler) GetRun(c echo.Context) error {
	run, err := h.service.GetRun(c.Request().Context(), c.Param("run_id"))
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, run)
}

// CancelRun requests cancellation of an in-flight run.
// POST /runs/:run_id/cancel
func (h *Handler) CancelRun(c echo.Context) error {
	run, err := h.service.CancelRun(c.Request().Context(), c.Param("run_id"))
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusAccepted, run)
}

// GetRunEvents replays the persisted events of a run.
// GET /runs/:run_id/events?after_seq=&limit=
func (h *Handler) GetRunEvents(c echo.Context) error {
	afterSeq, err := queryInt(c, "after_seq", 0)
	if err != nil {
		return badRequest(c, "after_seq must be a non-negative integer")
	}
	limit, err := queryInt(c, "limit", 0)
	if err != nil {
		return badRequest(c, "limit must be a non-negative integer")
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	events, err := h.service.GetRunEvents(c.Request().Context(), c.Param("run_id"), afterSeq, limit)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, domain.EventsListResponse{Events: events})
}

// GetSessionMessages returns the recent history of a session.
// GET /sessions/:session_id/messages?limit=
func (h *Handler) GetSessionMessages(c echo.Context) error {
	limit, err := queryInt(c, "limit", defaultMessagesLimit)
	if err != nil {
		return badRequest(c, "limit must be a non-negative integer")
	}
	if limit == 0 || limit > maxListLimit {
		limit = maxListLimit
	}

	// One extra row tells whether older messages exist.
	msgs, err := h.service.GetMessages(c.Request().Context(), c.Param("session_id"), limit+1)
	if err != nil {
		return h.respondError(c, err)
	}
	hasMore := len(msgs) > limit
	if hasMore {
		msgs = msgs[1:]
	}
	return c.JSON(http.StatusOK, domain.MessagesListResponse{Messages: msgs, HasMore: hasMore})
}

func queryInt(c echo.Context, name string, def int) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, strconv.ErrSyntax
	}
	return v, nil
}
