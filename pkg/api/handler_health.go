package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/agentmesh/agentmesh/pkg/version"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusDegraded  = "degraded"
	healthStatusUnhealthy = "unhealthy"
)

// healthHandler handles GET /health. Checks the backing stores this process
// owns; external collaborators (LLM endpoint, webhook targets) are excluded
// so their outages never restart the control plane.
func (s *Server) healthHandler(c *echo.Context) error {
	reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]HealthCheck)
	status := healthStatusHealthy

	if err := s.dbClient.Health(reqCtx); err != nil {
		status = healthStatusUnhealthy
		checks["database"] = HealthCheck{Status: healthStatusUnhealthy, Message: err.Error()}
	} else {
		checks["database"] = HealthCheck{Status: healthStatusHealthy}
	}

	if err := s.states.Health(reqCtx); err != nil {
		if status == healthStatusHealthy {
			status = healthStatusDegraded
		}
		checks["redis"] = HealthCheck{Status: healthStatusDegraded, Message: err.Error()}
	} else {
		checks["redis"] = HealthCheck{Status: healthStatusHealthy}
	}

	httpStatus := http.StatusOK
	if status == healthStatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}

	return c.JSON(httpStatus, &HealthResponse{
		Status:  status,
		Version: version.Version,
		Checks:  checks,
	})
}

// readyHandler handles GET /health/ready. Ready means both stores answer.
func (s *Server) readyHandler(c *echo.Context) error {
	reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if err := s.dbClient.Health(reqCtx); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"status": "not_ready", "reason": "database: " + err.Error(),
		})
	}
	if err := s.states.Health(reqCtx); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"status": "not_ready", "reason": "redis: " + err.Error(),
		})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ready"})
}

// liveHandler handles GET /health/live. Process is up, nothing else checked.
func (s *Server) liveHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "alive"})
}
