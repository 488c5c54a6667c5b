package monitor

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "order_engine"

// Metrics holds the pipeline's Prometheus collectors on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	OrdersSubmitted    prometheus.Counter
	OrdersDeduplicated prometheus.Counter
	OrdersAdmitted     prometheus.Counter
	OrdersCompleted    *prometheus.CounterVec
	Attempts           *prometheus.CounterVec
	AttemptDuration    prometheus.Histogram
	Retries            prometheus.Counter
	QueueDepth         prometheus.Gauge
	InFlight           prometheus.Gauge
	Subscribers        prometheus.Gauge
	Broadcasts         prometheus.Counter
	DroppedUpdates     prometheus.Counter
}

// NewMetrics registers all collectors, plus Go runtime and process
// collectors, on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		OrdersSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_submitted_total",
			Help:      "Orders offered to the dispatch queue.",
		}),
		OrdersDeduplicated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_deduplicated_total",
			Help:      "Submissions ignored because the order was already queued or executing.",
		}),
		OrdersAdmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_admitted_total",
			Help:      "Orders that passed both admission gates and started executing.",
		}),
		OrdersCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_completed_total",
			Help:      "Orders that reached a final status.",
		}, []string{"status"}),
		Attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "execution_attempts_total",
			Help:      "Execution attempts by outcome.",
		}, []string{"outcome"}),
		AttemptDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_attempt_duration_seconds",
			Help:      "Duration of a single execution attempt.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 10},
		}),
		Retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "execution_retries_total",
			Help:      "Attempts scheduled after a failed attempt.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Orders waiting for admission.",
		}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "orders_in_flight",
			Help:      "Orders currently holding a worker slot.",
		}),
		Subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "status_subscribers",
			Help:      "Open status stream subscriptions.",
		}),
		Broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_broadcasts_total",
			Help:      "Status updates broadcast to subscribers.",
		}),
		DroppedUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_updates_dropped_total",
			Help:      "Status updates a subscriber could not accept.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.OrdersSubmitted,
		m.OrdersDeduplicated,
		m.OrdersAdmitted,
		m.OrdersCompleted,
		m.Attempts,
		m.AttemptDuration,
		m.Retries,
		m.QueueDepth,
		m.InFlight,
		m.Subscribers,
		m.Broadcasts,
		m.DroppedUpdates,
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Submitted(accepted bool) {
	if m == nil {
		return
	}
	m.OrdersSubmitted.Inc()
	if !accepted {
		m.OrdersDeduplicated.Inc()
	}
}

func (m *Metrics) Admitted() {
	if m == nil {
		return
	}
	m.OrdersAdmitted.Inc()
}

// ObserveAttempt records one execution attempt.
func (m *Metrics) ObserveAttempt(d time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.Attempts.WithLabelValues(outcome).Inc()
	m.AttemptDuration.Observe(d.Seconds())
}

func (m *Metrics) Retried() {
	if m == nil {
		return
	}
	m.Retries.Inc()
}

func (m *Metrics) Completed(status string) {
	if m == nil {
		return
	}
	m.OrdersCompleted.WithLabelValues(status).Inc()
}

// SetQueue updates the queue depth and in-flight gauges.
func (m *Metrics) SetQueue(depth, inFlight int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(depth))
	m.InFlight.Set(float64(inFlight))
}

func (m *Metrics) SetSubscribers(n int) {
	if m == nil {
		return
	}
	m.Subscribers.Set(float64(n))
}

func (m *Metrics) Broadcast(delivered, dropped int) {
	if m == nil {
		return
	}
	if delivered > 0 {
		m.Broadcasts.Add(float64(delivered))
	}
	if dropped > 0 {
		m.DroppedUpdates.Add(float64(dropped))
	}
}
