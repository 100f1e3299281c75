package scheduler

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadySet_PopOrderByScore(t *testing.T) {
	rs := NewReadySet(0.1, OrderScore)
	now := time.Now().UTC()

	low := uuid.New()
	high := uuid.New()
	mid := uuid.New()
	rs.Add(low, -5, nil, now, nil)
	rs.Add(high, 10, nil, now, nil)
	rs.Add(mid, 0, nil, now, nil)

	popped := rs.PopN(3)
	require.Len(t, popped, 3)
	assert.Equal(t, high, popped[0].TaskID)
	assert.Equal(t, mid, popped[1].TaskID)
	assert.Equal(t, low, popped[2].TaskID)
}

func TestReadySet_OverdueTrumpsPriority(t *testing.T) {
	rs := NewReadySet(0.1, OrderScore)
	now := time.Now().UTC()
	past := now.Add(-time.Minute)

	urgent := uuid.New()
	overdue := uuid.New()
	rs.Add(urgent, 10, nil, now, nil)
	rs.Add(overdue, -10, &past, now, nil)

	popped := rs.PopN(2)
	require.Len(t, popped, 2)
	assert.Equal(t, overdue, popped[0].TaskID, "overdue task should trump max priority")
}

func TestReadySet_AgingBoostsOldTasks(t *testing.T) {
	rs := NewReadySet(0.1, OrderScore)
	now := time.Now().UTC()

	// Same priority, one enqueued two hours ago. After rescoring the old
	// one gains 120 min x 0.1 = 12 points of urgency.
	old := uuid.New()
	fresh := uuid.New()
	rs.Add(fresh, 5, nil, now, nil)
	rs.Add(old, 5, nil, now.Add(-2*time.Hour), nil)
	rs.Rescore(now)

	popped := rs.PopN(2)
	require.Len(t, popped, 2)
	assert.Equal(t, old, popped[0].TaskID)
}

func TestReadySet_DeadlineUrgency(t *testing.T) {
	e := &Entry{Priority: 0}
	now := time.Now().UTC()

	soon := now.Add(30 * time.Minute)
	far := now.Add(48 * time.Hour)

	e.Deadline = &soon
	soonScore := e.scoreAt(now, 0)
	e.Deadline = &far
	farScore := e.scoreAt(now, 0)
	e.Deadline = nil
	noneScore := e.scoreAt(now, 0)

	assert.Less(t, soonScore, farScore)
	assert.Less(t, farScore, noneScore)
}

func TestReadySet_BlockedUntilUnblocked(t *testing.T) {
	rs := NewReadySet(0.1, OrderScore)
	now := time.Now().UTC()

	dep1 := uuid.New()
	dep2 := uuid.New()
	blocked := uuid.New()
	rs.Add(blocked, 5, nil, now, []uuid.UUID{dep1, dep2})

	assert.True(t, rs.Contains(blocked))
	assert.Equal(t, 0, rs.Len(), "blocked entry must not be poppable")
	assert.Empty(t, rs.PopN(10))

	assert.Empty(t, rs.Unblock(dep1), "one dependency left, no promotion yet")
	promoted := rs.Unblock(dep2)
	require.Equal(t, []uuid.UUID{blocked}, promoted)

	popped := rs.PopN(1)
	require.Len(t, popped, 1)
	assert.Equal(t, blocked, popped[0].TaskID)
}

func TestReadySet_PromoteExternallyCompletedDependency(t *testing.T) {
	rs := NewReadySet(0.1, OrderScore)
	now := time.Now().UTC()

	dep := uuid.New()
	blocked := uuid.New()
	rs.Add(blocked, 5, nil, now, []uuid.UUID{dep})

	// The dependency completes in a process that never routes through this
	// ready set, so Unblock is never called here. Without promotion the
	// entry stays tracked but never poppable.
	for i := 0; i < 5; i++ {
		rs.Add(blocked, 5, nil, now, []uuid.UUID{dep})
	}
	assert.True(t, rs.Contains(blocked))
	assert.Equal(t, 0, rs.Len())
	assert.Empty(t, rs.PopN(10))
	assert.Equal(t, []uuid.UUID{blocked}, rs.Blocked())

	require.True(t, rs.Promote(blocked))
	assert.Empty(t, rs.Blocked())
	popped := rs.PopN(10)
	require.Len(t, popped, 1)
	assert.Equal(t, blocked, popped[0].TaskID)

	assert.False(t, rs.Promote(blocked), "popped entry is gone")
	assert.False(t, rs.Promote(uuid.New()), "unknown task")
}

func TestReadySet_PromoteIgnoresPoppableEntry(t *testing.T) {
	rs := NewReadySet(0.1, OrderScore)
	id := uuid.New()
	rs.Add(id, 0, nil, time.Now().UTC(), nil)

	assert.False(t, rs.Promote(id))
	assert.Equal(t, 1, rs.Len(), "no double insertion")
}

func TestReadySet_RemoveBlockedEntry(t *testing.T) {
	rs := NewReadySet(0.1, OrderScore)
	now := time.Now().UTC()

	dep := uuid.New()
	id := uuid.New()
	rs.Add(id, 0, nil, now, []uuid.UUID{dep})

	assert.True(t, rs.Remove(id))
	assert.False(t, rs.Contains(id))
	assert.False(t, rs.Remove(id), "second remove is a no-op")
	assert.Empty(t, rs.Unblock(dep))
}

func TestReadySet_AddIsIdempotent(t *testing.T) {
	rs := NewReadySet(0.1, OrderScore)
	now := time.Now().UTC()

	id := uuid.New()
	rs.Add(id, 0, nil, now, nil)
	rs.Add(id, 9, nil, now, nil)

	assert.Equal(t, 1, rs.Len())
	popped := rs.PopN(2)
	require.Len(t, popped, 1)
	assert.Equal(t, 0, popped[0].Priority, "second add must not overwrite")
}

func TestReadySet_FIFOOrdering(t *testing.T) {
	rs := NewReadySet(0.1, OrderFIFO)
	now := time.Now().UTC()

	first := uuid.New()
	second := uuid.New()
	rs.Add(second, 10, nil, now, nil)
	rs.Add(first, -10, nil, now.Add(-time.Minute), nil)

	popped := rs.PopN(2)
	require.Len(t, popped, 2)
	assert.Equal(t, first, popped[0].TaskID, "fifo ignores priority")
}

func TestReadySet_DeadlineOrdering(t *testing.T) {
	rs := NewReadySet(0.1, OrderDeadline)
	now := time.Now().UTC()
	early := now.Add(time.Hour)
	late := now.Add(3 * time.Hour)

	withEarly := uuid.New()
	withLate := uuid.New()
	noDeadlineHigh := uuid.New()
	noDeadlineLow := uuid.New()
	rs.Add(noDeadlineHigh, 10, nil, now, nil)
	rs.Add(withLate, -10, &late, now, nil)
	rs.Add(withEarly, -10, &early, now, nil)
	rs.Add(noDeadlineLow, -10, nil, now, nil)

	popped := rs.PopN(4)
	require.Len(t, popped, 4)
	assert.Equal(t, withEarly, popped[0].TaskID)
	assert.Equal(t, withLate, popped[1].TaskID)
	assert.Equal(t, noDeadlineHigh, popped[2].TaskID, "deadline-free tasks fall back to score order")
	assert.Equal(t, noDeadlineLow, popped[3].TaskID)
}

func TestReadySet_PopNBounded(t *testing.T) {
	rs := NewReadySet(0.1, OrderScore)
	now := time.Now().UTC()
	for i := 0; i < 5; i++ {
		rs.Add(uuid.New(), i, nil, now, nil)
	}

	assert.Len(t, rs.PopN(3), 3)
	assert.Len(t, rs.PopN(10), 2)
	assert.Empty(t, rs.PopN(1))
}
