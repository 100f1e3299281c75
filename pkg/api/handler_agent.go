package api

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"

	"github.com/agentmesh/agentmesh/pkg/agents"
	"github.com/agentmesh/agentmesh/pkg/models"
	"github.com/agentmesh/agentmesh/pkg/store"
)

// spawnAgentHandler handles POST /api/v1/agents/spawn.
func (s *Server) spawnAgentHandler(c *echo.Context) error {
	var req SpawnAgentRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, err.Error())
	}
	if req.AgentType == "" {
		return badRequest(c, "agent_type is required")
	}

	agent, err := s.manager.Spawn(c.Request().Context(), agents.SpawnRequest{
		Type:         models.AgentType(req.AgentType),
		Name:         req.Name,
		Capabilities: req.Capabilities,
		Config:       req.Config,
		ParentID:     req.ParentID,
		TraceID:      traceID(c),
	})
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, agent)
}

// listAgentsHandler handles GET /api/v1/agents.
func (s *Server) listAgentsHandler(c *echo.Context) error {
	f := store.AgentFilter{Page: 1, PageSize: 50}
	if v := c.QueryParam("agent_type"); v != "" {
		if !models.ValidAgentType(v) {
			return badRequest(c, "invalid agent_type: "+v)
		}
		f.Type = models.AgentType(v)
	}
	if v := c.QueryParam("status"); v != "" {
		if !models.ValidAgentStatus(v) {
			return badRequest(c, "invalid status: "+v)
		}
		f.Status = models.AgentStatus(v)
	}
	if v := c.QueryParam("page"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			f.Page = p
		}
	}
	if v := c.QueryParam("page_size"); v != "" {
		if ps, err := strconv.Atoi(v); err == nil && ps > 0 && ps <= 100 {
			f.PageSize = ps
		}
	}

	list, total, err := s.manager.List(c.Request().Context(), f)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, &AgentListResponse{
		Agents:   list,
		Total:    total,
		Page:     f.Page,
		PageSize: f.PageSize,
	})
}

// getAgentHandler handles GET /api/v1/agents/:id.
func (s *Server) getAgentHandler(c *echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	agent, err := s.manager.Get(c.Request().Context(), id)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, agent)
}

// updateAgentStatusHandler handles PATCH /api/v1/agents/:id/status.
func (s *Server) updateAgentStatusHandler(c *echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	var req UpdateAgentStatusRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, err.Error())
	}
	if !models.ValidAgentStatus(req.Status) {
		return badRequest(c, "invalid status: "+req.Status)
	}

	agent, err := s.manager.UpdateStatus(c.Request().Context(), id, models.AgentStatus(req.Status))
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, agent)
}

// heartbeatHandler handles POST /api/v1/agents/:id/heartbeat.
func (s *Server) heartbeatHandler(c *echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	var req HeartbeatRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, err.Error())
	}

	if err := s.manager.RecordHeartbeat(c.Request().Context(), id, req.Metrics); err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// terminateAgentHandler handles POST /api/v1/agents/:id/terminate.
func (s *Server) terminateAgentHandler(c *echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	var req TerminateAgentRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, err.Error())
	}
	reason := req.Reason
	if reason == "" {
		reason = "api_request"
	}

	if err := s.manager.Terminate(c.Request().Context(), id, reason); err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, &TerminateResponse{
		AgentID: id,
		Status:  string(models.AgentStatusOffline),
	})
}

// pathID parses the :id path parameter as a UUID.
func pathID(c *echo.Context) (uuid.UUID, error) {
	return uuid.Parse(c.Param("id"))
}

// traceID returns the request id minted by the middleware.
func traceID(c *echo.Context) string {
	if id, ok := c.Get("request_id").(string); ok {
		return id
	}
	return ""
}
