// Package metrics exposes Prometheus collectors for the control plane.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every collector the control plane reports.
type Metrics struct {
	tasksSubmitted   prometheus.Counter
	tasksCompleted   prometheus.Counter
	tasksFailed      *prometheus.CounterVec
	tasksRetried     prometheus.Counter
	taskDuration     prometheus.Histogram
	queueDepth       prometheus.Gauge
	agentsActive     *prometheus.GaugeVec
	eventsPublished  *prometheus.CounterVec
	webhookDelivery  *prometheus.CounterVec
	webhookDuration  prometheus.Histogram
}

var (
	defaultOnce   sync.Once
	sharedMetrics *Metrics
)

// Default returns the process-wide metrics instance registered with the
// global registry. Created once so repeated construction in tests cannot
// panic on duplicate registration.
func Default() *Metrics {
	defaultOnce.Do(func() {
		sharedMetrics = MustNewMetrics(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}

// MustNewMetrics constructs the collectors against the given registerer.
// Pass a fresh registry in tests. Registration errors panic, mirroring
// promauto semantics.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		tasksSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "agentmesh",
			Name:      "tasks_submitted_total",
			Help:      "Tasks accepted by the scheduler.",
		}),
		tasksCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "agentmesh",
			Name:      "tasks_completed_total",
			Help:      "Tasks that reached completed.",
		}),
		tasksFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentmesh",
			Name:      "tasks_failed_total",
			Help:      "Tasks that reached failed, by reason.",
		}, []string{"reason"}),
		tasksRetried: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "agentmesh",
			Name:      "tasks_retried_total",
			Help:      "Task retry re-enqueues.",
		}),
		taskDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "agentmesh",
			Name:      "task_duration_seconds",
			Help:      "Wall time from start to terminal state.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14),
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "agentmesh",
			Name:      "task_queue_depth",
			Help:      "Tasks currently in the ready set.",
		}),
		agentsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "agentmesh",
			Name:      "agents_active",
			Help:      "Live agents by status.",
		}, []string{"status"}),
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentmesh",
			Name:      "events_published_total",
			Help:      "Bus events published, by topic.",
		}, []string{"topic"}),
		webhookDelivery: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentmesh",
			Name:      "webhook_deliveries_total",
			Help:      "Webhook delivery attempts, by outcome.",
		}, []string{"outcome"}),
		webhookDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "agentmesh",
			Name:      "webhook_delivery_duration_seconds",
			Help:      "Webhook endpoint round-trip time.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	collectors := []prometheus.Collector{
		m.tasksSubmitted, m.tasksCompleted, m.tasksFailed, m.tasksRetried,
		m.taskDuration, m.queueDepth, m.agentsActive, m.eventsPublished,
		m.webhookDelivery, m.webhookDuration,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			panic(err)
		}
	}
	return m
}

// TaskSubmitted counts an accepted submission.
func (m *Metrics) TaskSubmitted() {
	if m == nil {
		return
	}
	m.tasksSubmitted.Inc()
}

// TaskCompleted counts a completion and observes its duration.
func (m *Metrics) TaskCompleted(d time.Duration) {
	if m == nil {
		return
	}
	m.tasksCompleted.Inc()
	m.taskDuration.Observe(d.Seconds())
}

// TaskFailed counts a terminal failure.
func (m *Metrics) TaskFailed(reason string) {
	if m == nil {
		return
	}
	m.tasksFailed.WithLabelValues(reason).Inc()
}

// TaskRetried counts a retry re-enqueue.
func (m *Metrics) TaskRetried() {
	if m == nil {
		return
	}
	m.tasksRetried.Inc()
}

// SetQueueDepth reports the ready-set size.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

// SetAgentsActive reports the live agent count for one status.
func (m *Metrics) SetAgentsActive(status string, n int) {
	if m == nil {
		return
	}
	m.agentsActive.WithLabelValues(status).Set(float64(n))
}

// EventPublished counts a bus publish.
func (m *Metrics) EventPublished(topic string) {
	if m == nil {
		return
	}
	m.eventsPublished.WithLabelValues(topic).Inc()
}

// WebhookDelivery counts a delivery attempt and observes its round trip.
func (m *Metrics) WebhookDelivery(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.webhookDelivery.WithLabelValues(outcome).Inc()
	m.webhookDuration.Observe(d.Seconds())
}
