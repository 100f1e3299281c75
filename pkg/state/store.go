// Package state implements the Redis-backed shared state layer: key/value
// with TTLs, counters, rate limiting, pub/sub, distributed locks, and leader
// election.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/agentmesh/agentmesh/pkg/models"
)

// Hot-state TTLs. Short-term mirrors expire after an hour so stale entries
// never accumulate.
const (
	ShortTermTTL = time.Hour
)

// Store wraps a Redis client with the operations the control plane needs.
type Store struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// New connects to Redis using a redis:// URL and pings it.
func New(ctx context.Context, url string) (*Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	opts.PoolSize = 50
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", models.ErrDependencyUnavailable)
	}
	return &Store{
		rdb:    rdb,
		logger: slog.With("component", "state"),
	}, nil
}

// NewFromClient wraps an existing client (useful for testing).
func NewFromClient(rdb *redis.Client) *Store {
	return &Store{rdb: rdb, logger: slog.With("component", "state")}
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.rdb.Close()
}

// Health pings Redis with a short deadline.
func (s *Store) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Set stores a JSON-encoded value. ttl <= 0 means no expiry.
func (s *Store) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	body, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode value for %s: %w", key, err)
	}
	if err := s.rdb.Set(ctx, key, body, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

// Get loads a JSON-encoded value into dest. Missing keys map to ErrNotFound.
func (s *Store) Get(ctx context.Context, key string, dest any) error {
	body, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("key %s: %w", key, models.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to get %s: %w", key, err)
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("failed to decode value of %s: %w", key, err)
	}
	return nil
}

// Delete removes a key. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Keys returns the keys matching pattern. Uses SCAN, never KEYS.
func (s *Store) Keys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := s.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", pattern, err)
	}
	return keys, nil
}

// IncrCounter adds delta to a counter and returns the new value.
func (s *Store) IncrCounter(ctx context.Context, name string, delta int64) (int64, error) {
	v, err := s.rdb.IncrBy(ctx, "counter:"+name, delta).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment counter %s: %w", name, err)
	}
	return v, nil
}

// GetCounter reads a counter; missing counters read as zero.
func (s *Store) GetCounter(ctx context.Context, name string) (int64, error) {
	v, err := s.rdb.Get(ctx, "counter:"+name).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read counter %s: %w", name, err)
	}
	return v, nil
}

// ResetCounter sets a counter back to zero.
func (s *Store) ResetCounter(ctx context.Context, name string) error {
	if err := s.rdb.Del(ctx, "counter:"+name).Err(); err != nil {
		return fmt.Errorf("failed to reset counter %s: %w", name, err)
	}
	return nil
}

// CheckRateLimit counts a hit for identifier in the current fixed window and
// reports whether the hit is allowed plus the remaining budget.
func (s *Store) CheckRateLimit(ctx context.Context, identifier string, limit int, window time.Duration) (bool, int, error) {
	key := fmt.Sprintf("ratelimit:%s:%d", identifier, time.Now().Unix()/int64(window.Seconds()))
	pipe := s.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, fmt.Errorf("failed to check rate limit for %s: %w", identifier, err)
	}
	count := int(incr.Val())
	if count > limit {
		return false, 0, nil
	}
	return true, limit - count, nil
}

// Publish sends a JSON-encoded payload on a channel.
func (s *Store) Publish(ctx context.Context, channel string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload for %s: %w", channel, err)
	}
	if err := s.rdb.Publish(ctx, channel, body).Err(); err != nil {
		return fmt.Errorf("failed to publish on %s: %w", channel, err)
	}
	return nil
}

// Subscribe opens a pub/sub subscription on the given channels. The caller
// owns the returned subscription and must Close it.
func (s *Store) Subscribe(ctx context.Context, channels ...string) *redis.PubSub {
	return s.rdb.Subscribe(ctx, channels...)
}

// SetAgentState mirrors an agent's hot state for fast reads.
func (s *Store) SetAgentState(ctx context.Context, agentID string, state map[string]any) error {
	return s.Set(ctx, "agent:state:"+agentID, state, ShortTermTTL)
}

// GetAgentState reads an agent's hot state mirror.
func (s *Store) GetAgentState(ctx context.Context, agentID string) (map[string]any, error) {
	var state map[string]any
	if err := s.Get(ctx, "agent:state:"+agentID, &state); err != nil {
		return nil, err
	}
	return state, nil
}

// SetTaskState mirrors a task's hot state (status, progress) for fast reads.
func (s *Store) SetTaskState(ctx context.Context, taskID string, state map[string]any) error {
	return s.Set(ctx, "task:state:"+taskID, state, ShortTermTTL)
}

// GetTaskState reads a task's hot state mirror.
func (s *Store) GetTaskState(ctx context.Context, taskID string) (map[string]any, error) {
	var state map[string]any
	if err := s.Get(ctx, "task:state:"+taskID, &state); err != nil {
		return nil, err
	}
	return state, nil
}
