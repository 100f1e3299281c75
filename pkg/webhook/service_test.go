package webhook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmesh/agentmesh/pkg/metrics"
	"github.com/agentmesh/agentmesh/pkg/models"
	"github.com/agentmesh/agentmesh/pkg/state"
)

func TestBackoffSchedule(t *testing.T) {
	assert.Equal(t, 5*time.Second, backoffFor(5, 1))
	assert.Equal(t, 10*time.Second, backoffFor(5, 2))
	assert.Equal(t, 20*time.Second, backoffFor(5, 3))
	assert.Equal(t, 40*time.Second, backoffFor(5, 4))
	assert.Equal(t, 30*time.Second, backoffFor(30, 1))
}

// testService needs a live Redis; the unit tests above cover the pure parts.
func testService(t *testing.T) *Service {
	t.Helper()
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set; skipping webhook integration test")
	}
	states, err := state.New(context.Background(), url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = states.Close() })
	return NewService(states, metrics.Default(), nil)
}

func registerTestWebhook(t *testing.T, svc *Service, endpoint string) *models.Webhook {
	t.Helper()
	w := &models.Webhook{
		Name:   "integration-" + uuid.NewString()[:8],
		URL:    endpoint,
		Secret: "test-secret",
	}
	require.NoError(t, svc.Register(context.Background(), w))
	t.Cleanup(func() { _ = svc.Delete(context.Background(), w.ID) })
	return w
}

func deliveryFor(w *models.Webhook) *models.Delivery {
	now := time.Now().UTC()
	return &models.Delivery{
		ID:          uuid.New(),
		WebhookID:   w.ID,
		EventType:   models.EventTaskCompleted,
		Payload:     map[string]any{"test": true},
		Status:      models.DeliveryStatusPending,
		MaxAttempts: 1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestAutoDisableAfterConsecutiveFailures(t *testing.T) {
	svc := testService(t)
	ctx := context.Background()

	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, _ *http.Request) {
		rw.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	w := registerTestWebhook(t, svc, server.URL)
	logger := svc.logger.With("test", t.Name())

	for i := 0; i < maxFailuresAllowed; i++ {
		fresh, err := svc.Get(ctx, w.ID)
		require.NoError(t, err)
		svc.attempt(ctx, fresh, deliveryFor(w), logger)
	}

	disabled, err := svc.Get(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WebhookStatusFailed, disabled.Status)
	assert.Equal(t, maxFailuresAllowed, disabled.FailureCount)
}

func TestSuccessResetsFailureStreak(t *testing.T) {
	svc := testService(t)
	ctx := context.Background()

	var fail atomic.Bool
	fail.Store(true)
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, _ *http.Request) {
		if fail.Load() {
			rw.WriteHeader(http.StatusInternalServerError)
			return
		}
		rw.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	w := registerTestWebhook(t, svc, server.URL)
	logger := svc.logger.With("test", t.Name())

	for i := 0; i < maxFailuresAllowed-1; i++ {
		fresh, err := svc.Get(ctx, w.ID)
		require.NoError(t, err)
		svc.attempt(ctx, fresh, deliveryFor(w), logger)
	}
	almost, err := svc.Get(ctx, w.ID)
	require.NoError(t, err)
	require.Equal(t, models.WebhookStatusActive, almost.Status)
	require.Equal(t, maxFailuresAllowed-1, almost.FailureCount)

	// One success resets the streak, so the next failure does not disable.
	fail.Store(false)
	d := deliveryFor(w)
	svc.attempt(ctx, almost, d, logger)
	assert.Equal(t, models.DeliveryStatusDelivered, d.Status)

	fail.Store(true)
	fresh, err := svc.Get(ctx, w.ID)
	require.NoError(t, err)
	svc.attempt(ctx, fresh, deliveryFor(w), logger)

	after, err := svc.Get(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WebhookStatusActive, after.Status)
	assert.Equal(t, 1, after.FailureCount)
}

func TestReactivationClearsFailureStreak(t *testing.T) {
	svc := testService(t)
	ctx := context.Background()

	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, _ *http.Request) {
		rw.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	w := registerTestWebhook(t, svc, server.URL)
	logger := svc.logger.With("test", t.Name())
	for i := 0; i < maxFailuresAllowed; i++ {
		fresh, err := svc.Get(ctx, w.ID)
		require.NoError(t, err)
		svc.attempt(ctx, fresh, deliveryFor(w), logger)
	}
	disabled, err := svc.Get(ctx, w.ID)
	require.NoError(t, err)
	require.Equal(t, models.WebhookStatusFailed, disabled.Status)

	active := models.WebhookStatusActive
	updated, err := svc.UpdateWebhook(ctx, w.ID, Update{Status: &active})
	require.NoError(t, err)
	assert.Equal(t, models.WebhookStatusActive, updated.Status)
	assert.Zero(t, updated.FailureCount)

	// The streak restarts from one, not from the pre-disable count.
	svc.attempt(ctx, updated, deliveryFor(w), logger)
	after, err := svc.Get(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WebhookStatusActive, after.Status)
	assert.Equal(t, 1, after.FailureCount)
}

func TestFailedDeliverySchedulesRetry(t *testing.T) {
	svc := testService(t)
	ctx := context.Background()

	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, _ *http.Request) {
		rw.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	w := registerTestWebhook(t, svc, server.URL)
	d := deliveryFor(w)
	d.MaxAttempts = 3
	svc.attempt(ctx, w, d, svc.logger)

	assert.Equal(t, models.DeliveryStatusRetrying, d.Status)
	require.NotNil(t, d.ScheduledFor)
	wait := time.Until(*d.ScheduledFor)
	assert.Greater(t, wait, 3*time.Second, "first retry waits about one base delay")
	assert.Less(t, wait, 7*time.Second)
}
