package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics wraps Prometheus collectors for relay-sentinel.
// All methods are safe on a nil receiver.
type Metrics struct {
	registry               *prometheus.Registry
	passDurationSeconds    prometheus.Histogram
	serviceUp              *prometheus.GaugeVec
	passResultsTotal       *prometheus.CounterVec
	probeFailuresTotal     *prometheus.CounterVec
	restartsTotal          *prometheus.CounterVec
	alertsTotal            *prometheus.CounterVec
	notifyErrorsTotal      prometheus.Counter
	lastPassTimestampGauge prometheus.Gauge
}

// New initializes a Metrics registry with all collectors registered.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		passDurationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "relay_sentinel_pass_duration_seconds",
			Help:    "Duration of watchdog passes in seconds.",
			Buckets: []float64{0.1, 0.5, 1, 3, 5, 10, 30, 60, 120},
		}),
		serviceUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "relay_sentinel_service_up",
			Help: "1 when the service ended the last pass healthy (healthy or restarted), 0 otherwise.",
		}, []string{"service"}),
		passResultsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_sentinel_pass_results_total",
			Help: "Per-service pass results.",
		}, []string{"service", "result"}),
		probeFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_sentinel_probe_failures_total",
			Help: "Failed probes by service and check (port, container).",
		}, []string{"service", "check"}),
		restartsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_sentinel_restarts_total",
			Help: "Restart attempts by service and outcome.",
		}, []string{"service", "outcome"}),
		alertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_sentinel_alerts_total",
			Help: "Alerts emitted by service and kind.",
		}, []string{"service", "kind"}),
		notifyErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_sentinel_notify_errors_total",
			Help: "Alert deliveries that failed after retries.",
		}),
		lastPassTimestampGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_sentinel_last_pass_timestamp",
			Help: "Unix timestamp of the last completed pass.",
		}),
	}

	registry.MustRegister(
		m.passDurationSeconds,
		m.serviceUp,
		m.passResultsTotal,
		m.probeFailuresTotal,
		m.restartsTotal,
		m.alertsTotal,
		m.notifyErrorsTotal,
		m.lastPassTimestampGauge,
	)

	return m
}

// Handler returns a Prometheus HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObservePassDuration records the duration of a completed pass.
func (m *Metrics) ObservePassDuration(duration time.Duration) {
	if m == nil {
		return
	}
	m.passDurationSeconds.Observe(duration.Seconds())
}

// SetServiceUp sets the service availability gauge.
func (m *Metrics) SetServiceUp(service string, up bool) {
	if m == nil {
		return
	}
	value := 0.0
	if up {
		value = 1
	}
	m.serviceUp.WithLabelValues(service).Set(value)
}

// IncPassResult increments the pass result counter.
func (m *Metrics) IncPassResult(service, result string) {
	if m == nil {
		return
	}
	m.passResultsTotal.WithLabelValues(service, result).Inc()
}

// IncProbeFailure increments the probe failure counter for a check ("port" or "container").
func (m *Metrics) IncProbeFailure(service, check string) {
	if m == nil {
		return
	}
	m.probeFailuresTotal.WithLabelValues(service, check).Inc()
}

// IncRestart increments the restart counter ("ok" or "error").
func (m *Metrics) IncRestart(service, outcome string) {
	if m == nil {
		return
	}
	m.restartsTotal.WithLabelValues(service, outcome).Inc()
}

// IncAlert increments the alerts counter for the given service/kind.
func (m *Metrics) IncAlert(service, kind string) {
	if m == nil {
		return
	}
	m.alertsTotal.WithLabelValues(service, kind).Inc()
}

// IncNotifyErrors increments the notification error counter.
func (m *Metrics) IncNotifyErrors() {
	if m == nil {
		return
	}
	m.notifyErrorsTotal.Inc()
}

// SetLastPassTimestamp sets the last completed pass time.
func (m *Metrics) SetLastPassTimestamp(t time.Time) {
	if m == nil {
		return
	}
	m.lastPassTimestampGauge.Set(float64(t.Unix()))
}
