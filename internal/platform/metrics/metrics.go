package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "stranger"

// Metrics holds every collector the service exports. Each instance owns a
// private prometheus registry so tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	OnlineClients    prometheus.Gauge
	DeliveryFailures prometheus.Counter
	Frames           *prometheus.CounterVec
	Enqueued         *prometheus.CounterVec
	WorkerEntries    *prometheus.CounterVec
	BatchDuration    prometheus.Histogram
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		OnlineClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "online_clients",
			Help:      "Number of registered connections",
		}),
		DeliveryFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "delivery_failures_total",
			Help:      "Events dropped because a client buffer was full",
		}),
		Frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "frames_total",
			Help:      "Inbound frames by request type",
		}, []string{"type"}),
		Enqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "enqueued_total",
			Help:      "Entries appended per stream and outcome",
		}, []string{"stream", "status"}),
		WorkerEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "entries_total",
			Help:      "Entries seen by workers (consumed, acked, failed, reclaimed, dead_lettered)",
		}, []string{"result"}),
		BatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "batch_duration_seconds",
			Help:      "Time spent processing one batch",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	m.registry.MustRegister(
		m.OnlineClients,
		m.DeliveryFailures,
		m.Frames,
		m.Enqueued,
		m.WorkerEntries,
		m.BatchDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}
