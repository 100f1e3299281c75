package scheduler

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmesh/agentmesh/pkg/models"
)

// fakeCounters serves GetCounter from a map; missing names read as zero.
type fakeCounters struct {
	values map[string]int64
}

func (f *fakeCounters) GetCounter(_ context.Context, name string) (int64, error) {
	return f.values[name], nil
}

func testAgents(n int) []*models.Agent {
	agents := make([]*models.Agent, n)
	for i := range agents {
		agents[i] = &models.Agent{ID: uuid.New(), Status: models.AgentStatusIdle}
	}
	return agents
}

func TestParseStrategy(t *testing.T) {
	for _, name := range []string{"fifo", "priority", "deadline", "fair_share", "round_robin", "ml_optimized"} {
		s, err := ParseStrategy(name)
		require.NoError(t, err)
		assert.Equal(t, Strategy(name), s)
	}

	s, err := ParseStrategy("")
	require.NoError(t, err)
	assert.Equal(t, StrategyPriority, s, "empty defaults to priority")

	_, err = ParseStrategy("lifo")
	assert.True(t, models.IsValidationError(err))
}

func TestStrategyOrdering(t *testing.T) {
	assert.Equal(t, OrderFIFO, StrategyFIFO.Ordering())
	assert.Equal(t, OrderDeadline, StrategyDeadline.Ordering())
	assert.Equal(t, OrderScore, StrategyPriority.Ordering())
	assert.Equal(t, OrderScore, StrategyFairShare.Ordering())
	assert.Equal(t, OrderScore, StrategyRoundRobin.Ordering())
	assert.Equal(t, OrderScore, StrategyMLOptimized.Ordering())
}

func TestSelect_NoCandidates(t *testing.T) {
	sel := NewAgentSelector(StrategyPriority, &fakeCounters{})
	_, err := sel.Select(context.Background(), nil)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestSelect_DefaultTakesFirst(t *testing.T) {
	agents := testAgents(3)
	sel := NewAgentSelector(StrategyPriority, &fakeCounters{})

	picked, err := sel.Select(context.Background(), agents)
	require.NoError(t, err)
	assert.Equal(t, agents[0].ID, picked.ID)
}

func TestSelectFairShare(t *testing.T) {
	agents := testAgents(3)
	counters := &fakeCounters{values: map[string]int64{
		counterCompleted(agents[0].ID): 9,
		counterCompleted(agents[1].ID): 3,
		counterCompleted(agents[2].ID): 2,
	}}
	sel := NewAgentSelector(StrategyFairShare, counters)

	// min is 2, so only agents within min+1 qualify; agents[0] is skipped.
	picked, err := sel.Select(context.Background(), agents)
	require.NoError(t, err)
	assert.Equal(t, agents[1].ID, picked.ID)
}

func TestSelectRoundRobin_RotatesAfterQuantum(t *testing.T) {
	agents := testAgents(2)
	sel := NewAgentSelector(StrategyRoundRobin, &fakeCounters{})
	ctx := context.Background()

	var picks []uuid.UUID
	for i := 0; i < roundRobinQuantum+1; i++ {
		a, err := sel.Select(ctx, agents)
		require.NoError(t, err)
		picks = append(picks, a.ID)
	}

	for i := 0; i < roundRobinQuantum; i++ {
		assert.Equal(t, picks[0], picks[i], "same agent within the quantum")
	}
	assert.NotEqual(t, picks[0], picks[roundRobinQuantum], "rotation after the quantum")
}

func TestSelectScored_PrefersHigherSuccessRate(t *testing.T) {
	agents := testAgents(2)
	counters := &fakeCounters{values: map[string]int64{
		counterCompleted(agents[0].ID): 2,
		counterFailed(agents[0].ID):    8,
		counterAssigned(agents[0].ID):  10,
		counterCompleted(agents[1].ID): 9,
		counterFailed(agents[1].ID):    1,
		counterAssigned(agents[1].ID):  10,
	}}
	sel := NewAgentSelector(StrategyMLOptimized, counters)

	picked, err := sel.Select(context.Background(), agents)
	require.NoError(t, err)
	assert.Equal(t, agents[1].ID, picked.ID)
}
