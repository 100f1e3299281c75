package state

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmesh/agentmesh/pkg/models"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set; skipping redis integration test")
	}
	s, err := New(context.Background(), url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestKVRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	key := "test:kv:" + uuid.NewString()

	require.NoError(t, s.Set(ctx, key, map[string]any{"n": 42.0}, time.Minute))
	var got map[string]any
	require.NoError(t, s.Get(ctx, key, &got))
	assert.Equal(t, 42.0, got["n"])

	require.NoError(t, s.Delete(ctx, key))
	err := s.Get(ctx, key, &got)
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.NoError(t, s.Delete(ctx, key), "deleting a missing key is not an error")
}

func TestCounters(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	name := "test:" + uuid.NewString()

	v, err := s.GetCounter(ctx, name)
	require.NoError(t, err)
	assert.Zero(t, v, "missing counter reads as zero")

	v, err = s.IncrCounter(ctx, name, 3)
	require.NoError(t, err)
	assert.EqualValues(t, 3, v)
	v, err = s.IncrCounter(ctx, name, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 4, v)

	require.NoError(t, s.ResetCounter(ctx, name))
	v, err = s.GetCounter(ctx, name)
	require.NoError(t, err)
	assert.Zero(t, v)
}

func TestRateLimitWindow(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	id := "test-client-" + uuid.NewString()

	for want := 2; want >= 0; want-- {
		allowed, remaining, err := s.CheckRateLimit(ctx, id, 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, allowed)
		assert.Equal(t, want, remaining)
	}
	allowed, remaining, err := s.CheckRateLimit(ctx, id, 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, allowed, "fourth hit in the window is denied")
	assert.Zero(t, remaining)
}

func TestLockMutualExclusion(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	name := "test:" + uuid.NewString()

	lock, err := s.AcquireLock(ctx, name, 5*time.Second, time.Second)
	require.NoError(t, err)

	_, err = s.AcquireLock(ctx, name, 5*time.Second, 150*time.Millisecond)
	assert.ErrorIs(t, err, ErrLockNotAcquired)

	require.NoError(t, lock.Release(ctx))
	again, err := s.AcquireLock(ctx, name, 5*time.Second, time.Second)
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestLockReleaseOnlyByOwner(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	name := "test:" + uuid.NewString()

	lock, err := s.AcquireLock(ctx, name, 5*time.Second, time.Second)
	require.NoError(t, err)

	// A stale handle whose token no longer matches must not free the lock.
	stale := &Lock{store: s, key: lock.key, token: uuid.NewString()}
	require.NoError(t, stale.Release(ctx))
	_, err = s.AcquireLock(ctx, name, 5*time.Second, 150*time.Millisecond)
	assert.ErrorIs(t, err, ErrLockNotAcquired, "lock must survive a non-owner release")

	require.NoError(t, lock.Release(ctx))
}

func TestLeaderLease(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	a := "svc-a-" + uuid.NewString()[:8]
	b := "svc-b-" + uuid.NewString()[:8]

	// Clear any lease left over from a previous run.
	require.NoError(t, s.Delete(ctx, leaderKey))

	ok, err := s.TryBecomeLeader(ctx, a, 30*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.TryBecomeLeader(ctx, b, 30*time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "lease is held by a")

	ok, err = s.RenewLeadership(ctx, b, 30*time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "only the holder may extend the lease")

	ok, err = s.RenewLeadership(ctx, a, 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.ResignLeadership(ctx, b))
	current, err := s.CurrentLeader(ctx)
	require.NoError(t, err)
	assert.Equal(t, a, current, "non-holder resignation is a no-op")

	require.NoError(t, s.ResignLeadership(ctx, a))
	current, err = s.CurrentLeader(ctx)
	require.NoError(t, err)
	assert.Empty(t, current)
}

func TestCurrentLeaderEmptyWithoutLease(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	require.NoError(t, s.Delete(ctx, leaderKey))

	current, err := s.CurrentLeader(ctx)
	require.NoError(t, err)
	assert.Empty(t, current)
}
