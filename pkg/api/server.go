package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agentmesh/agentmesh/pkg/agents"
	"github.com/agentmesh/agentmesh/pkg/config"
	"github.com/agentmesh/agentmesh/pkg/database"
	"github.com/agentmesh/agentmesh/pkg/events"
	"github.com/agentmesh/agentmesh/pkg/scheduler"
	"github.com/agentmesh/agentmesh/pkg/state"
	"github.com/agentmesh/agentmesh/pkg/store"
	"github.com/agentmesh/agentmesh/pkg/webhook"
)

// Server is the HTTP/WebSocket surface of the control plane.
type Server struct {
	cfg       *config.Config
	dbClient  *database.Client
	states    *state.Store
	stores    *store.Stores
	manager   *agents.Manager
	scheduler *scheduler.Scheduler
	webhooks  *webhook.Service
	stream    *events.StreamManager

	echo       *echo.Echo
	httpServer *http.Server
}

// NewServer wires the routes and middleware.
func NewServer(
	cfg *config.Config,
	dbClient *database.Client,
	states *state.Store,
	stores *store.Stores,
	manager *agents.Manager,
	sched *scheduler.Scheduler,
	webhooks *webhook.Service,
	stream *events.StreamManager,
) *Server {
	s := &Server{
		cfg:       cfg,
		dbClient:  dbClient,
		states:    states,
		stores:    stores,
		manager:   manager,
		scheduler: sched,
		webhooks:  webhooks,
		stream:    stream,
	}
	s.echo = s.buildRouter()
	return s
}

func (s *Server) buildRouter() *echo.Echo {
	e := echo.New()

	e.Use(requestID())
	e.Use(requestLogger())
	e.Use(securityHeaders())

	// Probes and the metrics scrape are unauthenticated and unthrottled.
	e.GET("/health", s.healthHandler)
	e.GET("/health/ready", s.readyHandler)
	e.GET("/health/live", s.liveHandler)

	metricsHandler := promhttp.Handler()
	e.GET("/metrics", func(c *echo.Context) error {
		metricsHandler.ServeHTTP(c.Response(), c.Request())
		return nil
	})

	v1 := e.Group("/api/v1")
	v1.Use(rateLimit(s.states, s.cfg.RateLimit))

	v1.POST("/agents/spawn", s.spawnAgentHandler)
	v1.GET("/agents", s.listAgentsHandler)
	v1.GET("/agents/:id", s.getAgentHandler)
	v1.PATCH("/agents/:id/status", s.updateAgentStatusHandler)
	v1.POST("/agents/:id/heartbeat", s.heartbeatHandler)
	v1.POST("/agents/:id/terminate", s.terminateAgentHandler)

	v1.POST("/tasks/submit", s.submitTaskHandler)
	v1.GET("/tasks", s.listTasksHandler)
	v1.GET("/tasks/:id", s.getTaskHandler)
	v1.GET("/tasks/:id/status", s.taskStatusHandler)
	v1.PATCH("/tasks/:id", s.updateTaskHandler)
	v1.POST("/tasks/:id/cancel", s.cancelTaskHandler)
	v1.POST("/tasks/:id/dependencies", s.addDependencyHandler)

	v1.POST("/webhooks", s.registerWebhookHandler)
	v1.GET("/webhooks", s.listWebhooksHandler)
	v1.GET("/webhooks/:id", s.getWebhookHandler)
	v1.PATCH("/webhooks/:id", s.updateWebhookHandler)
	v1.DELETE("/webhooks/:id", s.deleteWebhookHandler)
	v1.POST("/webhooks/:id/test", s.testWebhookHandler)
	v1.GET("/webhooks/:id/deliveries", s.listDeliveriesHandler)
	v1.GET("/webhooks/:id/stats", s.webhookStatsHandler)

	v1.GET("/audit/events", s.listAuditEventsHandler)

	v1.GET("/events/stream", s.wsHandler)

	return e
}

// Start runs the HTTP server. Blocks until the server stops.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
