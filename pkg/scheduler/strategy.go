package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/agentmesh/agentmesh/pkg/models"
)

// Strategy selects how the ready set is drained and which agent gets the
// next task.
type Strategy string

// Strategies.
const (
	StrategyFIFO        Strategy = "fifo"
	StrategyPriority    Strategy = "priority"
	StrategyDeadline    Strategy = "deadline"
	StrategyFairShare   Strategy = "fair_share"
	StrategyRoundRobin  Strategy = "round_robin"
	StrategyMLOptimized Strategy = "ml_optimized"
)

// roundRobinQuantum caps consecutive assignments to one agent before the
// rotation moves on.
const roundRobinQuantum = 3

// ParseStrategy validates a strategy name.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyFIFO, StrategyPriority, StrategyDeadline,
		StrategyFairShare, StrategyRoundRobin, StrategyMLOptimized:
		return Strategy(s), nil
	case "":
		return StrategyPriority, nil
	}
	return "", models.NewValidationError("strategy", fmt.Sprintf("unknown strategy %q", s))
}

// Ordering returns the ready-set drain order for the strategy. Agent-side
// strategies keep the score order and differ only in agent selection.
func (s Strategy) Ordering() Ordering {
	switch s {
	case StrategyFIFO:
		return OrderFIFO
	case StrategyDeadline:
		return OrderDeadline
	default:
		return OrderScore
	}
}

// CounterReader reads the per-agent counters the selectors consult.
// Implemented by the state store.
type CounterReader interface {
	GetCounter(ctx context.Context, name string) (int64, error)
}

// Per-agent counter names.
func counterCompleted(id uuid.UUID) string { return "agent:" + id.String() + ":completed" }
func counterFailed(id uuid.UUID) string    { return "agent:" + id.String() + ":failed" }
func counterAssigned(id uuid.UUID) string  { return "agent:" + id.String() + ":assigned" }

// AgentSelector picks which eligible agent receives the next task according
// to the configured strategy.
type AgentSelector struct {
	strategy Strategy
	counters CounterReader

	mu          sync.Mutex
	consecutive map[uuid.UUID]int
	lastAgent   uuid.UUID
}

// NewAgentSelector creates the selector.
func NewAgentSelector(strategy Strategy, counters CounterReader) *AgentSelector {
	return &AgentSelector{
		strategy:    strategy,
		counters:    counters,
		consecutive: make(map[uuid.UUID]int),
	}
}

// Select returns the chosen agent from the non-empty candidate list.
// Candidates arrive least-recently-assigned first, so the default behavior
// is already a spread.
func (s *AgentSelector) Select(ctx context.Context, candidates []*models.Agent) (*models.Agent, error) {
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no candidates: %w", models.ErrNotFound)
	}
	switch s.strategy {
	case StrategyFairShare:
		return s.selectFairShare(ctx, candidates)
	case StrategyRoundRobin:
		return s.selectRoundRobin(candidates), nil
	case StrategyMLOptimized:
		return s.selectScored(ctx, candidates)
	default:
		return candidates[0], nil
	}
}

// selectFairShare admits an agent only when its recent completion count is
// within one of the minimum across candidates.
func (s *AgentSelector) selectFairShare(ctx context.Context, candidates []*models.Agent) (*models.Agent, error) {
	completed := make([]int64, len(candidates))
	min := int64(-1)
	for i, a := range candidates {
		c, err := s.counters.GetCounter(ctx, counterCompleted(a.ID))
		if err != nil {
			return nil, err
		}
		completed[i] = c
		if min < 0 || c < min {
			min = c
		}
	}
	for i, a := range candidates {
		if completed[i] <= min+1 {
			return a, nil
		}
	}
	return candidates[0], nil
}

// selectRoundRobin rotates through agents, allowing each up to
// roundRobinQuantum consecutive tasks.
func (s *AgentSelector) selectRoundRobin(candidates []*models.Agent) *models.Agent {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lastAgent != uuid.Nil && s.consecutive[s.lastAgent] < roundRobinQuantum {
		for _, a := range candidates {
			if a.ID == s.lastAgent {
				s.consecutive[a.ID]++
				return a
			}
		}
	}
	// Rotate: pick the first candidate that is not the exhausted one.
	for _, a := range candidates {
		if a.ID != s.lastAgent {
			s.resetTo(a.ID)
			return a
		}
	}
	a := candidates[0]
	s.resetTo(a.ID)
	return a
}

func (s *AgentSelector) resetTo(id uuid.UUID) {
	s.consecutive = map[uuid.UUID]int{id: 1}
	s.lastAgent = id
}

// selectScored ranks agents by availability 30%, success rate 40%, speed
// 20%, and fairness 10%, picking the highest.
func (s *AgentSelector) selectScored(ctx context.Context, candidates []*models.Agent) (*models.Agent, error) {
	var best *models.Agent
	bestScore := -1.0
	for _, a := range candidates {
		completed, err := s.counters.GetCounter(ctx, counterCompleted(a.ID))
		if err != nil {
			return nil, err
		}
		failed, err := s.counters.GetCounter(ctx, counterFailed(a.ID))
		if err != nil {
			return nil, err
		}
		assigned, err := s.counters.GetCounter(ctx, counterAssigned(a.ID))
		if err != nil {
			return nil, err
		}

		availability := 1.0 // candidates are idle by construction
		successRate := 1.0
		if total := completed + failed; total > 0 {
			successRate = float64(completed) / float64(total)
		}
		speed := 1.0 / (1.0 + float64(assigned-completed-failed))
		if speed < 0 || speed > 1 {
			speed = 1.0
		}
		fairness := 1.0 / (1.0 + float64(assigned))

		score := 0.3*availability + 0.4*successRate + 0.2*speed + 0.1*fairness
		if score > bestScore {
			bestScore = score
			best = a
		}
	}
	return best, nil
}
