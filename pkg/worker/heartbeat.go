package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// HeartbeatRecorder is the agent-manager surface the emitter reports
// through.
type HeartbeatRecorder interface {
	RecordHeartbeat(ctx context.Context, id uuid.UUID, metrics map[string]any) error
}

// HeartbeatEmitter periodically reports liveness for every hosted agent so
// the control plane's health monitor keeps them alive.
type HeartbeatEmitter struct {
	runtime  *Runtime
	recorder HeartbeatRecorder
	interval time.Duration
	logger   *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewHeartbeatEmitter creates the emitter.
func NewHeartbeatEmitter(runtime *Runtime, recorder HeartbeatRecorder, interval time.Duration) *HeartbeatEmitter {
	return &HeartbeatEmitter{
		runtime:  runtime,
		recorder: recorder,
		interval: interval,
		logger:   slog.With("component", "worker.heartbeat"),
		stopCh:   make(chan struct{}),
	}
}

// Start begins the beat loop.
func (h *HeartbeatEmitter) Start(ctx context.Context) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				h.beat(ctx)
			case <-h.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the loop.
func (h *HeartbeatEmitter) Stop() {
	h.stopOnce.Do(func() {
		close(h.stopCh)
	})
	h.wg.Wait()
}

func (h *HeartbeatEmitter) beat(ctx context.Context) {
	metrics := map[string]any{
		"active_tasks": h.runtime.ActiveTasks(),
		"capacity":     h.runtime.Capacity(),
	}
	for _, agent := range h.runtime.HostedAgents() {
		if err := h.recorder.RecordHeartbeat(ctx, agent.ID, metrics); err != nil {
			h.logger.Warn("Heartbeat failed", "agent_id", agent.ID, "error", err)
		}
	}
}
