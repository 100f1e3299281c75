// The orchestrator is the control plane: it serves the HTTP/WebSocket API,
// runs the scheduler and health-monitor loops (leader-gated), dispatches
// webhooks, and bridges bus events to the audit log and the event stream.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/agentmesh/agentmesh/pkg/agents"
	"github.com/agentmesh/agentmesh/pkg/api"
	"github.com/agentmesh/agentmesh/pkg/bus"
	"github.com/agentmesh/agentmesh/pkg/config"
	"github.com/agentmesh/agentmesh/pkg/database"
	"github.com/agentmesh/agentmesh/pkg/events"
	"github.com/agentmesh/agentmesh/pkg/metrics"
	"github.com/agentmesh/agentmesh/pkg/scheduler"
	"github.com/agentmesh/agentmesh/pkg/state"
	"github.com/agentmesh/agentmesh/pkg/store"
	"github.com/agentmesh/agentmesh/pkg/version"
	"github.com/agentmesh/agentmesh/pkg/webhook"
)

const leaderTTL = 15 * time.Second

// resolveServiceID determines the instance identifier for leader election.
// Priority: SERVICE_ID env > HOSTNAME env > "orchestrator-local"
func resolveServiceID() string {
	if id := os.Getenv("SERVICE_ID"); id != "" {
		return id
	}
	if hostname := os.Getenv("HOSTNAME"); hostname != "" {
		return hostname
	}
	return "orchestrator-local"
}

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment", "error", err)
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	serviceID := resolveServiceID()

	slog.Info("Starting orchestrator",
		"version", version.Version,
		"service_id", serviceID,
		"addr", cfg.Server.Addr())

	ctx := context.Background()

	// 1. Persistent store
	dbClient, err := database.NewClient(ctx, database.DefaultConfig(config.DatabaseURL()))
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	stores := store.New(dbClient.DB())
	slog.Info("Connected to PostgreSQL")

	// 2. Redis state store and leader election
	states, err := state.New(ctx, cfg.Redis.URL)
	if err != nil {
		slog.Error("Failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := states.Close(); err != nil {
			slog.Error("Error closing redis client", "error", err)
		}
	}()

	elect := state.NewElectLoop(states, serviceID, leaderTTL)
	elect.Start(ctx)

	// 3. Event bus producer
	producer, err := bus.NewProducer(cfg.Kafka.BootstrapServers)
	if err != nil {
		slog.Error("Failed to connect to kafka", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := producer.Close(); err != nil {
			slog.Error("Error closing producer", "error", err)
		}
	}()
	busEvents := bus.NewEvents(producer, serviceID)
	slog.Info("Connected to Kafka", "brokers", cfg.Kafka.BootstrapServers)

	// 4. Core services
	m := metrics.Default()
	manager := agents.NewManager(stores, states, busEvents, cfg.Agents)
	sched, err := scheduler.New(stores, states, busEvents, m, cfg.Tasks, cfg.Scheduler, elect.IsLeader)
	if err != nil {
		slog.Error("Failed to build scheduler", "error", err)
		os.Exit(1)
	}
	manager.SetReleaser(sched)

	healthMonitor := agents.NewHealthMonitor(manager, stores.Agents,
		cfg.Agents.HeartbeatInterval, cfg.Agents.HeartbeatTimeout, elect.IsLeader)
	healthMonitor.Start(ctx)
	defer healthMonitor.Stop()

	webhooks := webhook.NewService(states, m, elect.IsLeader)
	webhooks.Start(ctx)
	defer webhooks.Stop()

	sched.Start(ctx)
	defer sched.Stop()
	slog.Info("Scheduler started", "strategy", cfg.Scheduler.Strategy)

	// 5. Event stream fan-out
	streamMgr := events.NewStreamManager(states, 10*time.Second)
	streamMgr.Start(ctx)
	defer streamMgr.Stop()

	// 6. Bus consumers: WS gateway, audit log, webhook dispatch. Each runs
	// its own group so every instance sees every event independently.
	gateway := events.NewGateway(states)
	gwConsumer, err := bus.NewConsumer(cfg.Kafka.BootstrapServers,
		bus.GroupID(cfg.Kafka.GroupID, "ws-gateway"), bus.AllTopics(), producer)
	if err != nil {
		slog.Error("Failed to create gateway consumer", "error", err)
		os.Exit(1)
	}
	gwConsumer.OnAll(gateway.Republish)
	gwConsumer.Start(ctx)

	recorder := events.NewAuditRecorder(stores.Audit)
	auditConsumer, err := bus.NewConsumer(cfg.Kafka.BootstrapServers,
		bus.GroupID(cfg.Kafka.GroupID, "audit-log"), bus.AllTopics(), producer)
	if err != nil {
		slog.Error("Failed to create audit consumer", "error", err)
		os.Exit(1)
	}
	auditConsumer.OnAll(recorder.Record)
	auditConsumer.Start(ctx)

	trigger := events.NewWebhookTrigger(webhooks)
	whConsumer, err := bus.NewConsumer(cfg.Kafka.BootstrapServers,
		bus.GroupID(cfg.Kafka.GroupID, "webhook-dispatcher"), bus.AllTopics(), producer)
	if err != nil {
		slog.Error("Failed to create webhook consumer", "error", err)
		os.Exit(1)
	}
	whConsumer.OnAll(trigger.Trigger)
	whConsumer.Start(ctx)
	slog.Info("Bus consumers started")

	// 7. HTTP server (non-blocking)
	httpServer := api.NewServer(&cfg, dbClient, states, stores, manager, sched, webhooks, streamMgr)
	errCh := make(chan error, 1)
	go func() {
		addr := cfg.Server.Addr()
		slog.Info("HTTP server listening", "addr", addr)
		if err := httpServer.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("Orchestrator started", "service_id", serviceID)

	// 8. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 9. Graceful shutdown: stop intake first, then consumers, then the
	// leader lease so a peer can take over promptly.
	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	for _, c := range []*bus.Consumer{gwConsumer, auditConsumer, whConsumer} {
		if err := c.Stop(); err != nil {
			slog.Error("Consumer shutdown error", "error", err)
		}
	}

	electCtx, electCancel := context.WithTimeout(ctx, 5*time.Second)
	defer electCancel()
	elect.Stop(electCtx)

	slog.Info("Shutdown complete")
}
