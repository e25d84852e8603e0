package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pulp/internal/events"
	"pulp/internal/resource"
)

const namespace = "pulp"

// Metrics owns the process registry and the pipeline collectors. All
// record methods are safe on a nil receiver so code paths under test can
// run without wiring telemetry.
type Metrics struct {
	registry *prometheus.Registry

	documentsTotal  *prometheus.CounterVec
	stageDuration   *prometheus.HistogramVec
	stageRetries    *prometheus.CounterVec
	batchesInflight prometheus.Gauge
	backendStarts   *prometheus.CounterVec
}

// New builds a registry with the pipeline collectors plus the standard Go
// and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		documentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_total",
			Help:      "Documents finished, labelled by terminal outcome.",
		}, []string{"outcome"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Wall time of individual stage attempts.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"stage"}),
		stageRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_retries_total",
			Help:      "Stage attempts beyond the first, labelled by stage.",
		}, []string{"stage"}),
		batchesInflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "batches_inflight",
			Help:      "Batches currently admitted and not yet complete.",
		}),
		backendStarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_starts_total",
			Help:      "Backend launches performed by the lifecycle manager.",
		}, []string{"backend"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.documentsTotal,
		m.stageDuration,
		m.stageRetries,
		m.batchesInflight,
		m.backendStarts,
	)
	return m
}

// Registry exposes the underlying registry for additional collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler returns the scrape handler for this registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordDocument counts one finished document under its outcome label.
func (m *Metrics) RecordDocument(outcome string) {
	if m == nil {
		return
	}
	m.documentsTotal.WithLabelValues(outcome).Inc()
}

// ObserveStage records the wall time of one stage attempt.
func (m *Metrics) ObserveStage(stage string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
}

// RecordRetry counts one retried stage attempt.
func (m *Metrics) RecordRetry(stage string) {
	if m == nil {
		return
	}
	m.stageRetries.WithLabelValues(stage).Inc()
}

// BatchStarted moves the in-flight gauge up as a batch is admitted.
func (m *Metrics) BatchStarted() {
	if m == nil {
		return
	}
	m.batchesInflight.Inc()
}

// BatchFinished moves the in-flight gauge down as a batch completes.
func (m *Metrics) BatchFinished() {
	if m == nil {
		return
	}
	m.batchesInflight.Dec()
}

// RecordBackendStart counts one backend launch.
func (m *Metrics) RecordBackendStart(backend string) {
	if m == nil {
		return
	}
	m.backendStarts.WithLabelValues(backend).Inc()
}

// RegisterEventBus exposes the bus drop counter and subscriber gauge.
func (m *Metrics) RegisterEventBus(bus *events.Bus) {
	if m == nil || bus == nil {
		return
	}
	m.registry.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Progress events discarded because a subscriber lagged.",
		}, func() float64 { return float64(bus.Dropped()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "event_subscribers",
			Help:      "Live progress event subscriptions.",
		}, func() float64 { return float64(bus.Subscribers()) }),
	)
}

// RegisterMemory exposes the monitored available memory. The gauge reads
// -1 when the probe fails.
func (m *Metrics) RegisterMemory(monitor resource.Monitor) {
	if m == nil || monitor == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "available_memory_mb",
		Help:      "Host memory available to new work, in megabytes.",
	}, func() float64 {
		snap, err := monitor.Available(context.Background())
		if err != nil {
			return -1
		}
		return float64(snap.AvailableMB)
	}))
}
