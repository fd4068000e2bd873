package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/acp/internal/domain"
)

// ListAgents lists every registered agent.
// GET /agents
func (h *Handler) ListAgents(c echo.Context) error {
	agents := h.service.ListAgents()
	if agents == nil {
		agents = []domain.AgentDescriptor{}
	}
	return c.JSON(http.StatusOK, domain.AgentsListResponse{Agents: agents})
}

// GetAgent gets one agent by name.
// GET /agents/:name
func (h *Handler) GetAgent(c echo.Context) error {
	desc, err := h.service.GetAgent(c.Param("name"))
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, desc)
}
