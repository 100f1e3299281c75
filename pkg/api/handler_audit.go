package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"

	"github.com/agentmesh/agentmesh/pkg/models"
	"github.com/agentmesh/agentmesh/pkg/store"
)

// listAuditEventsHandler handles GET /api/v1/audit/events.
func (s *Server) listAuditEventsHandler(c *echo.Context) error {
	var f store.AuditFilter
	if v := c.QueryParam("event_type"); v != "" {
		f.EventType = models.EventType(v)
	}
	if v := c.QueryParam("agent_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return badRequest(c, "invalid agent_id: must be a UUID")
		}
		f.AgentID = &id
	}
	if v := c.QueryParam("task_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return badRequest(c, "invalid task_id: must be a UUID")
		}
		f.TaskID = &id
	}
	f.TraceID = c.QueryParam("trace_id")
	if v := c.QueryParam("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return badRequest(c, "invalid since: must be RFC3339")
		}
		f.Since = &t
	}
	if v := c.QueryParam("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return badRequest(c, "invalid until: must be RFC3339")
		}
		f.Until = &t
	}
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			f.Limit = n
		}
	}

	events, err := s.stores.Audit.Query(c.Request().Context(), f)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, &AuditListResponse{Events: events, Total: len(events)})
}
