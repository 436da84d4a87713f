// Package metrics exposes ingestion counters on a dedicated prometheus
// registry. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sensor"

type Metrics struct {
	registry *prometheus.Registry

	batchesReceived   prometheus.Counter
	decodeFailures    prometheus.Counter
	handlerFailures   prometheus.Counter
	persisted         *prometheus.CounterVec
	persistFailures   *prometheus.CounterVec
	broadcastFailures prometheus.Counter
	clients           prometheus.Gauge
	reconnects        prometheus.Counter
	cacheFailures     prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		batchesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "queue", Name: "batches_received_total",
			Help: "Batches received from the queue.",
		}),
		decodeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "queue", Name: "decode_failures_total",
			Help: "Queue messages skipped because they could not be decoded.",
		}),
		handlerFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "queue", Name: "handler_failures_total",
			Help: "Decoded batches whose handling returned an error.",
		}),
		persisted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "storage", Name: "measurements_persisted_total",
			Help: "Measurements written, by kind.",
		}, []string{"kind"}),
		persistFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "storage", Name: "persist_failures_total",
			Help: "Measurements that could not be written, by kind.",
		}, []string{"kind"}),
		broadcastFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "broadcast", Name: "send_failures_total",
			Help: "Client sends that failed.",
		}),
		clients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "broadcast", Name: "clients",
			Help: "Open client connections after the last prune.",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "storage", Name: "reconnects_total",
			Help: "Storage handles rebuilt after the backend became unreachable.",
		}),
		cacheFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "failures_total",
			Help: "Live cache writes that failed.",
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.batchesReceived,
		m.decodeFailures,
		m.handlerFailures,
		m.persisted,
		m.persistFailures,
		m.broadcastFailures,
		m.clients,
		m.reconnects,
		m.cacheFailures,
	)
	return m
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) BatchReceived() {
	if m != nil {
		m.batchesReceived.Inc()
	}
}

func (m *Metrics) DecodeFailed() {
	if m != nil {
		m.decodeFailures.Inc()
	}
}

func (m *Metrics) HandlerFailed() {
	if m != nil {
		m.handlerFailures.Inc()
	}
}

// Persisted records the outcome of one measurement write.
func (m *Metrics) Persisted(kind string, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.persistFailures.WithLabelValues(kind).Inc()
		return
	}
	m.persisted.WithLabelValues(kind).Inc()
}

func (m *Metrics) BroadcastFailed() {
	if m != nil {
		m.broadcastFailures.Inc()
	}
}

func (m *Metrics) SetClients(n int) {
	if m != nil {
		m.clients.Set(float64(n))
	}
}

func (m *Metrics) StorageReconnected() {
	if m != nil {
		m.reconnects.Inc()
	}
}

func (m *Metrics) CacheFailed() {
	if m != nil {
		m.cacheFailures.Inc()
	}
}
