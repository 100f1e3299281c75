package state

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

const leaderKey = "leader:orchestrator"

// TryBecomeLeader campaigns for leadership with SET NX. Returns true when
// this service is now (or already was) the leader.
func (s *Store) TryBecomeLeader(ctx context.Context, serviceID string, ttl time.Duration) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, leaderKey, serviceID, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to campaign for leadership: %w", err)
	}
	if ok {
		return true, nil
	}
	current, err := s.CurrentLeader(ctx)
	if err != nil {
		return false, err
	}
	return current == serviceID, nil
}

// renewScript extends the lease only while it still names this service, so
// a lease another instance claimed between read and expire is never
// refreshed by us.
var renewScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
else
	return 0
end`)

// RenewLeadership extends the lease while we still hold it.
func (s *Store) RenewLeadership(ctx context.Context, serviceID string, ttl time.Duration) (bool, error) {
	res, err := renewScript.Run(ctx, s.rdb, []string{leaderKey}, serviceID, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("failed to renew leadership: %w", err)
	}
	return res == 1, nil
}

// ResignLeadership drops the lease if we still hold it. Shares the lock
// release script: delete only when the key holds our id.
func (s *Store) ResignLeadership(ctx context.Context, serviceID string) error {
	if err := releaseScript.Run(ctx, s.rdb, []string{leaderKey}, serviceID).Err(); err != nil {
		return fmt.Errorf("failed to resign leadership: %w", err)
	}
	return nil
}

// CurrentLeader returns the current leader's service id, empty when there is
// none.
func (s *Store) CurrentLeader(ctx context.Context) (string, error) {
	v, err := s.rdb.Get(ctx, leaderKey).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read leader key: %w", err)
	}
	return v, nil
}

// ElectLoop campaigns for and renews leadership in the background. Singleton
// loops (scheduler, health monitor, webhook retry) gate on IsLeader.
type ElectLoop struct {
	store     *Store
	serviceID string
	ttl       time.Duration
	logger    *slog.Logger

	leader   atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewElectLoop creates the loop; call Start to begin campaigning.
func NewElectLoop(store *Store, serviceID string, ttl time.Duration) *ElectLoop {
	return &ElectLoop{
		store:     store,
		serviceID: serviceID,
		ttl:       ttl,
		logger:    slog.With("component", "leader", "service_id", serviceID),
		stopCh:    make(chan struct{}),
	}
}

// IsLeader reports whether this service currently holds leadership.
func (l *ElectLoop) IsLeader() bool {
	return l.leader.Load()
}

// Start campaigns immediately, then renews every ttl/3.
func (l *ElectLoop) Start(ctx context.Context) {
	l.campaign(ctx)
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		ticker := time.NewTicker(l.ttl / 3)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				l.campaign(ctx)
			case <-l.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (l *ElectLoop) campaign(ctx context.Context) {
	wasLeader := l.leader.Load()
	if wasLeader {
		ok, err := l.store.RenewLeadership(ctx, l.serviceID, l.ttl)
		if err != nil {
			l.logger.Warn("Leadership renewal failed", "error", err)
			return
		}
		if !ok {
			l.leader.Store(false)
			l.logger.Info("Lost leadership")
		}
		return
	}
	ok, err := l.store.TryBecomeLeader(ctx, l.serviceID, l.ttl)
	if err != nil {
		l.logger.Warn("Leadership campaign failed", "error", err)
		return
	}
	if ok {
		l.leader.Store(true)
		l.logger.Info("Acquired leadership")
	}
}

// Stop halts the loop and resigns so another instance can take over
// immediately.
func (l *ElectLoop) Stop(ctx context.Context) {
	l.stopOnce.Do(func() {
		close(l.stopCh)
	})
	l.wg.Wait()
	if l.leader.Swap(false) {
		if err := l.store.ResignLeadership(ctx, l.serviceID); err != nil {
			l.logger.Warn("Failed to resign leadership", "error", err)
		}
	}
}
