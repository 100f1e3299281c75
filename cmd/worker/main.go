// The worker hosts agents: it consumes task assignments from the bus,
// executes them against the LLM endpoint, and reports progress and terminal
// outcomes back through the shared stores.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/agentmesh/agentmesh/pkg/agents"
	"github.com/agentmesh/agentmesh/pkg/bus"
	"github.com/agentmesh/agentmesh/pkg/config"
	"github.com/agentmesh/agentmesh/pkg/database"
	"github.com/agentmesh/agentmesh/pkg/llm"
	"github.com/agentmesh/agentmesh/pkg/metrics"
	"github.com/agentmesh/agentmesh/pkg/models"
	"github.com/agentmesh/agentmesh/pkg/scheduler"
	"github.com/agentmesh/agentmesh/pkg/state"
	"github.com/agentmesh/agentmesh/pkg/store"
	"github.com/agentmesh/agentmesh/pkg/version"
	"github.com/agentmesh/agentmesh/pkg/worker"
)

const drainTimeout = 30 * time.Second

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
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

	groupID := getEnv("WORKER_GROUP_ID", bus.GroupID(cfg.Kafka.GroupID, "task-workers"))
	agentTypes := strings.Split(getEnv("WORKER_AGENT_TYPES", "research"), ",")

	slog.Info("Starting worker",
		"version", version.Version,
		"group_id", groupID,
		"agent_types", agentTypes)

	ctx := context.Background()

	// 1. Shared stores
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

	// 2. Bus producer and task-service plumbing. The worker never leads, so
	// the scheduler loops stay off; only its task operations are used.
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
	busEvents := bus.NewEvents(producer, groupID)

	manager := agents.NewManager(stores, states, busEvents, cfg.Agents)
	sched, err := scheduler.New(stores, states, busEvents, metrics.Default(),
		cfg.Tasks, cfg.Scheduler, func() bool { return false })
	if err != nil {
		slog.Error("Failed to build task service", "error", err)
		os.Exit(1)
	}
	manager.SetReleaser(sched)

	// 3. Runtime consuming assignments
	consumer, err := bus.NewConsumer(cfg.Kafka.BootstrapServers, groupID,
		[]string{bus.TopicAgentTasks}, producer)
	if err != nil {
		slog.Error("Failed to create consumer", "error", err)
		os.Exit(1)
	}

	llmClient := llm.NewHTTPClient(cfg.LLM)
	runtime := worker.NewRuntime(consumer, sched, worker.NewRegistry(), llmClient,
		worker.NopKnowledgeStore{}, cfg.Agents.MaxTasksPerAgent, cfg.Tasks.DefaultTimeout)

	// 4. Spawn and host local agents, one per configured type
	for _, t := range agentTypes {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		agent, err := manager.Spawn(ctx, agents.SpawnRequest{Type: models.AgentType(t)})
		if err != nil {
			slog.Error("Failed to spawn agent", "agent_type", t, "error", err)
			os.Exit(1)
		}
		if _, err := manager.UpdateStatus(ctx, agent.ID, models.AgentStatusIdle); err != nil {
			slog.Error("Failed to mark agent idle", "agent_id", agent.ID, "error", err)
			os.Exit(1)
		}
		runtime.Host(agent)
		slog.Info("Hosting agent", "agent_id", agent.ID, "agent_type", t, "name", agent.Name)
	}

	runtime.Start(ctx)

	emitter := worker.NewHeartbeatEmitter(runtime, manager, cfg.Agents.HeartbeatInterval)
	emitter.Start(ctx)

	slog.Info("Worker started", "hosted_agents", len(runtime.HostedAgents()))

	// 5. Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	slog.Info("Shutdown signal received", "signal", sig)

	// 6. Graceful drain: stop intake, finish in-flight tasks, then announce
	// each hosted agent as stopped.
	emitter.Stop()

	drainCtx, drainCancel := context.WithTimeout(ctx, drainTimeout)
	defer drainCancel()
	if err := runtime.Drain(drainCtx); err != nil {
		slog.Warn("Drain incomplete, in-flight tasks will be orphan-recovered", "error", err)
	}

	for _, agent := range runtime.HostedAgents() {
		if err := manager.Terminate(ctx, agent.ID, "shutdown"); err != nil {
			slog.Error("Failed to terminate agent", "agent_id", agent.ID, "error", err)
		}
	}

	slog.Info("Shutdown complete")
}
