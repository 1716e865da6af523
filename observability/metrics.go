package observability

import (
	"chat-relay/contract"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// RelayMetrics groups the relay counters.
// A nil *RelayMetrics is valid and records nothing.
type RelayMetrics struct {
	Published       prometheus.Counter
	PublishFailures prometheus.Counter
	Ingested        prometheus.Counter
	Duplicates      prometheus.Counter
	IngestFailures  *prometheus.CounterVec
	WorkerRestarts  *prometheus.CounterVec
	OpenViews       prometheus.Gauge
	Subscriptions   prometheus.Gauge
	QueuedPayloads  prometheus.Gauge
	QueueCapacity   prometheus.Gauge
}

func NewRelayMetrics(registerer prometheus.Registerer) *RelayMetrics {
	factory := promauto.With(registerer)
	return &RelayMetrics{
		Published: factory.NewCounter(prometheus.CounterOpts{
			Name: "chat_relay_messages_published_total",
			Help: "Messages accepted by the relay bus",
		}),
		PublishFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "chat_relay_publish_failures_total",
			Help: "Messages the relay bus refused",
		}),
		Ingested: factory.NewCounter(prometheus.CounterOpts{
			Name: "chat_relay_messages_ingested_total",
			Help: "Messages appended to the message store",
		}),
		Duplicates: factory.NewCounter(prometheus.CounterOpts{
			Name: "chat_relay_duplicate_deliveries_total",
			Help: "Redeliveries absorbed by the idempotency check",
		}),
		IngestFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_relay_ingest_failures_total",
			Help: "Deliveries the ingester could not persist",
		}, []string{"reason"}),
		WorkerRestarts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_relay_worker_restarts_total",
			Help: "Supervised worker restarts after a crash",
		}, []string{"worker"}),
		OpenViews: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chat_relay_open_views",
			Help: "Conversation views currently open",
		}),
		Subscriptions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chat_relay_bus_subscriptions",
			Help: "Live bus subscriptions held by this process",
		}),
		QueuedPayloads: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chat_relay_bus_queued_payloads",
			Help: "Payloads buffered in subscriptions and not yet consumed",
		}),
		QueueCapacity: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chat_relay_bus_queue_capacity",
			Help: "Total buffer capacity of the live subscriptions",
		}),
	}
}

func (m *RelayMetrics) MessagePublished() {
	if m != nil {
		m.Published.Inc()
	}
}

func (m *RelayMetrics) PublishFailed() {
	if m != nil {
		m.PublishFailures.Inc()
	}
}

func (m *RelayMetrics) MessageIngested() {
	if m != nil {
		m.Ingested.Inc()
	}
}

func (m *RelayMetrics) DuplicateAbsorbed() {
	if m != nil {
		m.Duplicates.Inc()
	}
}

// IngestFailed reason is one of "decode", "topic", "invalid", "store".
func (m *RelayMetrics) IngestFailed(reason string) {
	if m != nil {
		m.IngestFailures.WithLabelValues(reason).Inc()
	}
}

func (m *RelayMetrics) WorkerRestarted(worker string) {
	if m != nil {
		m.WorkerRestarts.WithLabelValues(worker).Inc()
	}
}

func (m *RelayMetrics) ViewOpened() {
	if m != nil {
		m.OpenViews.Inc()
	}
}

func (m *RelayMetrics) ViewClosed() {
	if m != nil {
		m.OpenViews.Dec()
	}
}

func (m *RelayMetrics) BusLoadSampled(load contract.BusLoad) {
	if m != nil {
		m.Subscriptions.Set(float64(load.Subscriptions))
		m.QueuedPayloads.Set(float64(load.Queued))
		m.QueueCapacity.Set(float64(load.Capacity))
	}
}
