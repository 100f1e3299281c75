// Package webhook delivers bus events to registered HTTP endpoints with
// HMAC signatures, bounded retries, and delivery records kept in Redis.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentmesh/agentmesh/pkg/metrics"
	"github.com/agentmesh/agentmesh/pkg/models"
	"github.com/agentmesh/agentmesh/pkg/state"
)

// Storage and dispatch parameters.
const (
	configKeyPrefix   = "webhooks:config:"
	deliveryKeyPrefix = "webhooks:delivery:"
	deliveryTTL       = 7 * 24 * time.Hour

	workerCount        = 3
	retryTickInterval  = 30 * time.Second
	queueSize          = 1000
	maxFailuresAllowed = 10

	defaultRetryCount    = 3
	defaultRetryDelaySec = 5
	defaultTimeoutSec    = 10
)

// Service owns webhook registration and delivery.
type Service struct {
	states   *state.Store
	metrics  *metrics.Metrics
	client   *http.Client
	isLeader func() bool
	logger   *slog.Logger

	queue chan uuid.UUID

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewService wires the dispatcher. isLeader gates the retry scheduler.
func NewService(states *state.Store, m *metrics.Metrics, isLeader func() bool) *Service {
	return &Service{
		states:   states,
		metrics:  m,
		client:   &http.Client{},
		isLeader: isLeader,
		logger:   slog.With("component", "webhook"),
		queue:    make(chan uuid.UUID, queueSize),
		stopCh:   make(chan struct{}),
	}
}

// Register validates and stores a new webhook.
func (s *Service) Register(ctx context.Context, w *models.Webhook) error {
	if w.Name == "" {
		return models.NewValidationError("name", "must not be empty")
	}
	if _, err := url.ParseRequestURI(w.URL); err != nil {
		return models.NewValidationError("url", "must be a valid URL")
	}
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	if w.Status == "" {
		w.Status = models.WebhookStatusActive
	}
	if w.RetryCount <= 0 {
		w.RetryCount = defaultRetryCount
	}
	if w.RetryDelaySeconds <= 0 {
		w.RetryDelaySeconds = defaultRetryDelaySec
	}
	if w.TimeoutSeconds <= 0 {
		w.TimeoutSeconds = defaultTimeoutSec
	}
	now := time.Now().UTC()
	w.CreatedAt = now
	w.UpdatedAt = now
	if err := s.save(ctx, w); err != nil {
		return err
	}
	s.logger.Info("Webhook registered", "webhook_id", w.ID, "url", w.URL)
	return nil
}

// Update applies partial changes to a webhook.
type Update struct {
	Name    *string
	URL     *string
	Secret  *string
	Events  *[]models.EventType
	Status  *models.WebhookStatus
	Headers *map[string]string
}

// UpdateWebhook mutates a stored webhook.
func (s *Service) UpdateWebhook(ctx context.Context, id uuid.UUID, upd Update) (*models.Webhook, error) {
	w, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if upd.Name != nil {
		w.Name = *upd.Name
	}
	if upd.URL != nil {
		if _, err := url.ParseRequestURI(*upd.URL); err != nil {
			return nil, models.NewValidationError("url", "must be a valid URL")
		}
		w.URL = *upd.URL
	}
	if upd.Secret != nil {
		w.Secret = *upd.Secret
	}
	if upd.Events != nil {
		w.Events = *upd.Events
	}
	if upd.Status != nil {
		if !models.ValidWebhookStatus(string(*upd.Status)) {
			return nil, models.NewValidationError("status", fmt.Sprintf("unknown status %q", *upd.Status))
		}
		w.Status = *upd.Status
		if w.Status == models.WebhookStatusActive {
			// Reactivation clears the failure streak.
			w.FailureCount = 0
			if err := s.states.ResetCounter(ctx, failureCounter(w.ID)); err != nil {
				s.logger.Warn("Failure counter reset failed", "webhook_id", w.ID, "error", err)
			}
		}
	}
	if upd.Headers != nil {
		w.Headers = *upd.Headers
	}
	w.UpdatedAt = time.Now().UTC()
	if err := s.save(ctx, w); err != nil {
		return nil, err
	}
	return w, nil
}

// Delete removes a webhook.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return s.states.Delete(ctx, configKeyPrefix+id.String())
}

// Get fetches one webhook.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Webhook, error) {
	var w models.Webhook
	if err := s.states.Get(ctx, configKeyPrefix+id.String(), &w); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("webhook %s: %w", id, models.ErrNotFound)
		}
		return nil, err
	}
	return &w, nil
}

// List returns all registered webhooks.
func (s *Service) List(ctx context.Context) ([]*models.Webhook, error) {
	keys, err := s.states.Keys(ctx, configKeyPrefix+"*")
	if err != nil {
		return nil, err
	}
	webhooks := make([]*models.Webhook, 0, len(keys))
	for _, key := range keys {
		var w models.Webhook
		if err := s.states.Get(ctx, key, &w); err != nil {
			if errors.Is(err, models.ErrNotFound) {
				continue
			}
			return nil, err
		}
		webhooks = append(webhooks, &w)
	}
	return webhooks, nil
}

// Test enqueues a synthetic event for a single webhook regardless of its
// subscriptions.
func (s *Service) Test(ctx context.Context, id uuid.UUID) (*models.Delivery, error) {
	w, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	d, err := s.enqueue(ctx, w, "webhook.test", map[string]any{
		"message":   "test delivery",
		"timestamp": time.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

// TriggerEvent fans an event out to every active webhook subscribed to its
// type.
func (s *Service) TriggerEvent(ctx context.Context, eventType models.EventType, data map[string]any) error {
	webhooks, err := s.List(ctx)
	if err != nil {
		return err
	}
	for _, w := range webhooks {
		if w.Status != models.WebhookStatusActive || !w.Subscribed(eventType) {
			continue
		}
		if _, err := s.enqueue(ctx, w, eventType, data); err != nil {
			s.logger.Error("Delivery enqueue failed",
				"webhook_id", w.ID, "event_type", eventType, "error", err)
		}
	}
	return nil
}

// enqueue mints a delivery record and queues it for a worker.
func (s *Service) enqueue(ctx context.Context, w *models.Webhook, eventType models.EventType, data map[string]any) (*models.Delivery, error) {
	now := time.Now().UTC()
	d := &models.Delivery{
		ID:          uuid.New(),
		WebhookID:   w.ID,
		EventType:   eventType,
		Payload:     data,
		Status:      models.DeliveryStatusPending,
		MaxAttempts: w.RetryCount,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.saveDelivery(ctx, d); err != nil {
		return nil, err
	}
	select {
	case s.queue <- d.ID:
	default:
		return nil, fmt.Errorf("webhook delivery queue full: %w", models.ErrCapacityExceeded)
	}
	return d, nil
}

// Start launches the delivery workers and the retry scheduler.
func (s *Service) Start(ctx context.Context) {
	for i := 0; i < workerCount; i++ {
		s.wg.Add(1)
		go func(workerID int) {
			defer s.wg.Done()
			logger := s.logger.With("worker", workerID)
			for {
				select {
				case id := <-s.queue:
					s.process(ctx, id, logger)
				case <-s.stopCh:
					return
				case <-ctx.Done():
					return
				}
			}
		}(i)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(retryTickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if s.isLeader == nil || s.isLeader() {
					s.retryTick(ctx)
				}
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts workers and the retry scheduler.
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	s.wg.Wait()
}

// process attempts one queued delivery.
func (s *Service) process(ctx context.Context, deliveryID uuid.UUID, logger *slog.Logger) {
	d, err := s.getDelivery(ctx, deliveryID)
	if err != nil {
		logger.Warn("Delivery record missing", "delivery_id", deliveryID, "error", err)
		return
	}
	w, err := s.Get(ctx, d.WebhookID)
	if err != nil {
		logger.Warn("Webhook missing for delivery", "delivery_id", deliveryID, "error", err)
		return
	}
	if w.Status != models.WebhookStatusActive {
		return
	}
	s.attempt(ctx, w, d, logger)
}

// attempt performs one HTTP POST with signature headers and updates both
// the delivery record and the webhook counters.
func (s *Service) attempt(ctx context.Context, w *models.Webhook, d *models.Delivery, logger *slog.Logger) {
	d.AttemptCount++
	body, err := json.Marshal(d.Payload)
	if err != nil {
		d.Status = models.DeliveryStatusFailed
		d.Error = fmt.Sprintf("payload encode: %v", err)
		_ = s.saveDelivery(ctx, d)
		return
	}

	timeout := time.Duration(w.TimeoutSeconds) * time.Second
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		s.recordFailure(ctx, w, d, 0, "", fmt.Sprintf("request build: %v", err), logger)
		return
	}
	now := time.Now().UTC()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-ID", w.ID.String())
	req.Header.Set("X-Webhook-Signature", Sign(w.Secret, body))
	req.Header.Set("X-Webhook-Timestamp", strconv.FormatInt(now.Unix(), 10))
	req.Header.Set("X-Delivery-ID", d.ID.String())
	req.Header.Set("X-Attempt", strconv.Itoa(d.AttemptCount))
	for k, v := range w.Headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	elapsed := time.Since(start)
	d.DurationMS = elapsed.Milliseconds()

	if err != nil {
		s.metrics.WebhookDelivery("error", elapsed)
		s.recordFailure(ctx, w, d, 0, "", err.Error(), logger)
		return
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		s.metrics.WebhookDelivery("delivered", elapsed)
		deliveredAt := time.Now().UTC()
		d.Status = models.DeliveryStatusDelivered
		d.DeliveredAt = &deliveredAt
		d.ResponseStatus = resp.StatusCode
		d.ResponseBody = string(respBody)
		d.UpdatedAt = deliveredAt
		_ = s.saveDelivery(ctx, d)

		w.SuccessCount++
		w.FailureCount = 0
		w.LastDeliveryAt = &deliveredAt
		w.LastSuccessAt = &deliveredAt
		w.UpdatedAt = deliveredAt
		_ = s.save(ctx, w)
		if err := s.states.ResetCounter(ctx, failureCounter(w.ID)); err != nil {
			logger.Warn("Failure counter reset failed", "webhook_id", w.ID, "error", err)
		}
		logger.Debug("Delivered", "delivery_id", d.ID, "status", resp.StatusCode)
		return
	}

	s.metrics.WebhookDelivery("rejected", elapsed)
	s.recordFailure(ctx, w, d, resp.StatusCode, string(respBody),
		fmt.Sprintf("endpoint returned %d", resp.StatusCode), logger)
}

// recordFailure schedules a retry or finalizes the delivery, disabling the
// webhook after too many consecutive failures.
func (s *Service) recordFailure(ctx context.Context, w *models.Webhook, d *models.Delivery, status int, respBody, errMsg string, logger *slog.Logger) {
	now := time.Now().UTC()
	d.ResponseStatus = status
	d.ResponseBody = respBody
	d.Error = errMsg
	d.UpdatedAt = now

	if d.AttemptCount < d.MaxAttempts {
		retryAt := now.Add(backoffFor(w.RetryDelaySeconds, d.AttemptCount))
		d.Status = models.DeliveryStatusRetrying
		d.ScheduledFor = &retryAt
		_ = s.saveDelivery(ctx, d)
		logger.Warn("Delivery failed, retry scheduled",
			"delivery_id", d.ID, "attempt", d.AttemptCount, "retry_at", retryAt)
	} else {
		d.Status = models.DeliveryStatusFailed
		_ = s.saveDelivery(ctx, d)
		logger.Warn("Delivery failed terminally",
			"delivery_id", d.ID, "attempts", d.AttemptCount)
	}

	// The streak lives in a shared Redis counter; the stored FailureCount
	// field only mirrors it. Concurrent workers each see an exact count.
	streak, err := s.states.IncrCounter(ctx, failureCounter(w.ID), 1)
	if err != nil {
		logger.Warn("Failure counter bump failed", "webhook_id", w.ID, "error", err)
		streak = int64(w.FailureCount) + 1
	}
	w.FailureCount = int(streak)
	w.LastDeliveryAt = &now
	w.UpdatedAt = now
	if streak >= maxFailuresAllowed {
		w.Status = models.WebhookStatusFailed
		logger.Error("Webhook disabled after consecutive failures",
			"webhook_id", w.ID, "failures", streak)
	}
	_ = s.save(ctx, w)
}

// backoffFor doubles the base retry delay per completed attempt.
func backoffFor(baseDelaySec, attempt int) time.Duration {
	backoff := time.Duration(baseDelaySec) * time.Second
	for i := 1; i < attempt; i++ {
		backoff *= 2
	}
	return backoff
}

func failureCounter(id uuid.UUID) string {
	return "webhook:" + id.String() + ":consecutive_failures"
}

// retryTick re-enqueues retrying deliveries whose backoff elapsed.
func (s *Service) retryTick(ctx context.Context) {
	keys, err := s.states.Keys(ctx, deliveryKeyPrefix+"*")
	if err != nil {
		s.logger.Error("Retry scan failed", "error", err)
		return
	}
	now := time.Now().UTC()
	for _, key := range keys {
		var d models.Delivery
		if err := s.states.Get(ctx, key, &d); err != nil {
			continue
		}
		if d.Status != models.DeliveryStatusRetrying || d.ScheduledFor == nil || d.ScheduledFor.After(now) {
			continue
		}
		select {
		case s.queue <- d.ID:
		default:
			s.logger.Warn("Retry queue full", "delivery_id", d.ID)
			return
		}
	}
}

// ListDeliveries returns the recorded deliveries for one webhook, newest
// first.
func (s *Service) ListDeliveries(ctx context.Context, webhookID uuid.UUID, limit int) ([]*models.Delivery, error) {
	keys, err := s.states.Keys(ctx, deliveryKeyPrefix+"*")
	if err != nil {
		return nil, err
	}
	var deliveries []*models.Delivery
	for _, key := range keys {
		var d models.Delivery
		if err := s.states.Get(ctx, key, &d); err != nil {
			continue
		}
		if d.WebhookID == webhookID {
			dd := d
			deliveries = append(deliveries, &dd)
		}
	}
	sortDeliveries(deliveries)
	if limit > 0 && len(deliveries) > limit {
		deliveries = deliveries[:limit]
	}
	return deliveries, nil
}

// Stats summarizes a webhook's delivery history.
type Stats struct {
	WebhookID    uuid.UUID `json:"webhook_id"`
	Total        int       `json:"total"`
	Delivered    int       `json:"delivered"`
	Failed       int       `json:"failed"`
	Retrying     int       `json:"retrying"`
	SuccessCount int       `json:"success_count"`
	FailureCount int       `json:"failure_count"`
}

// GetStats aggregates delivery outcomes for a webhook.
func (s *Service) GetStats(ctx context.Context, webhookID uuid.UUID) (*Stats, error) {
	w, err := s.Get(ctx, webhookID)
	if err != nil {
		return nil, err
	}
	deliveries, err := s.ListDeliveries(ctx, webhookID, 0)
	if err != nil {
		return nil, err
	}
	st := &Stats{
		WebhookID:    webhookID,
		Total:        len(deliveries),
		SuccessCount: w.SuccessCount,
		FailureCount: w.FailureCount,
	}
	for _, d := range deliveries {
		switch d.Status {
		case models.DeliveryStatusDelivered:
			st.Delivered++
		case models.DeliveryStatusFailed:
			st.Failed++
		case models.DeliveryStatusRetrying:
			st.Retrying++
		}
	}
	return st, nil
}

func (s *Service) save(ctx context.Context, w *models.Webhook) error {
	return s.states.Set(ctx, configKeyPrefix+w.ID.String(), w, 0)
}

func (s *Service) saveDelivery(ctx context.Context, d *models.Delivery) error {
	return s.states.Set(ctx, deliveryKeyPrefix+d.ID.String(), d, deliveryTTL)
}

func (s *Service) getDelivery(ctx context.Context, id uuid.UUID) (*models.Delivery, error) {
	var d models.Delivery
	if err := s.states.Get(ctx, deliveryKeyPrefix+id.String(), &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func sortDeliveries(ds []*models.Delivery) {
	sort.Slice(ds, func(i, j int) bool {
		return ds[i].CreatedAt.After(ds[j].CreatedAt)
	})
}
