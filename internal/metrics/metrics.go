package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "rfm_gateway"

// Metrics holds the per-cycle counters of the ingestion pipeline. A nil *Metrics records nothing.
type Metrics struct {
	framesReceived   prometheus.Counter
	linkFaults       prometheus.Counter
	integrityRejects *prometheus.CounterVec
	decodeFailures   *prometheus.CounterVec
	skipped          prometheus.Counter
	deliveries       *prometheus.CounterVec
	deliveryLatency  prometheus.Histogram
	unexpectedFaults prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		framesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Frames read from the radio link.",
		}),
		linkFaults: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "link_faults_total",
			Help:      "Receive errors reported by the radio link.",
		}),
		integrityRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "integrity_rejects_total",
			Help:      "Frames dropped by the checksum validator.",
		}, []string{"reason"}),
		decodeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_failures_total",
			Help:      "Payloads that failed to decode, by failure kind.",
		}, []string{"kind"}),
		skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_skipped_total",
			Help:      "Decoded records not forwarded because identity or data was empty.",
		}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Delivery attempts to the collector, by outcome.",
		}, []string{"outcome"}),
		deliveryLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delivery_latency_seconds",
			Help:      "Duration of one delivery attempt.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		unexpectedFaults: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unexpected_faults_total",
			Help:      "Cycles that ended in error backoff.",
		}),
	}
	reg.MustRegister(
		m.framesReceived,
		m.linkFaults,
		m.integrityRejects,
		m.decodeFailures,
		m.skipped,
		m.deliveries,
		m.deliveryLatency,
		m.unexpectedFaults,
	)
	return m
}

func (m *Metrics) FrameReceived() {
	if m == nil {
		return
	}
	m.framesReceived.Inc()
}

func (m *Metrics) LinkFault() {
	if m == nil {
		return
	}
	m.linkFaults.Inc()
}

func (m *Metrics) IntegrityReject(reason string) {
	if m == nil {
		return
	}
	m.integrityRejects.WithLabelValues(reason).Inc()
}

func (m *Metrics) DecodeFailure(kind string) {
	if m == nil {
		return
	}
	m.decodeFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) Skipped() {
	if m == nil {
		return
	}
	m.skipped.Inc()
}

func (m *Metrics) Delivery(outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(outcome).Inc()
	m.deliveryLatency.Observe(took.Seconds())
}

func (m *Metrics) UnexpectedFault() {
	if m == nil {
		return
	}
	m.unexpectedFaults.Inc()
}
