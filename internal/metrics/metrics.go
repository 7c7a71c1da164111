// Package metrics provides Prometheus metrics for slotline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "slotline"
)

// Drop reasons
const (
	DropMalformed          = "malformed"
	DropUnknownClass       = "unknown_class"
	DropUnknownSender      = "unknown_sender"
	DropUnsupportedAddress = "unsupported_address"
	DropRateLimited        = "rate_limited"
	DropOversized          = "oversized"
)

// Admission outcomes
const (
	AdmissionAccepted   = "accepted"
	AdmissionReaccepted = "reaccepted"
	AdmissionDenied     = "denied"
)

// Metrics contains all Prometheus metrics for the server.
type Metrics struct {
	// Datagram metrics
	DatagramsReceived *prometheus.CounterVec
	DatagramsDropped  *prometheus.CounterVec
	BytesReceived     prometheus.Counter
	BytesSent         prometheus.Counter
	PacketsSent       prometheus.Counter
	SendErrors        prometheus.Counter

	// Admission metrics
	Admissions     *prometheus.CounterVec
	SlotsConnected prometheus.Gauge
	SlotsCapacity  prometheus.Gauge
	SlotsExpired   prometheus.Counter

	// Outbound queue metrics
	QueueDepth      prometheus.Gauge
	QueueOverwrites prometheus.Counter

	// Process health
	PanicsRecovered *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// NewIsolated creates metrics on a fresh private registry.
func NewIsolated() *Metrics {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)
	m.gatherer = reg
	return m
}

// NewMetricsWithRegistry creates a new Metrics instance with a custom registry.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	m := &Metrics{
		DatagramsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "datagrams_received_total",
			Help:      "Total datagrams received by traffic class",
		}, []string{"class"}),
		DatagramsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "datagrams_dropped_total",
			Help:      "Total datagrams dropped by reason",
		}, []string{"reason"}),
		BytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_received_total",
			Help:      "Total datagram bytes received",
		}),
		BytesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_sent_total",
			Help:      "Total datagram bytes sent",
		}),
		PacketsSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_sent_total",
			Help:      "Total outbound packets written to the socket",
		}),
		SendErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_errors_total",
			Help:      "Total outbound packets that failed to send",
		}),

		Admissions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admissions_total",
			Help:      "Total connection requests by outcome",
		}, []string{"outcome"}),
		SlotsConnected: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "slots_connected",
			Help:      "Number of connected client slots",
		}),
		SlotsCapacity: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "slots_capacity",
			Help:      "Total number of client slots",
		}),
		SlotsExpired: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slots_expired_total",
			Help:      "Total client slots released by idle timeout",
		}),

		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "outbound_queue_depth",
			Help:      "Number of packets waiting in the outbound queue",
		}),
		QueueOverwrites: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbound_queue_overwrites_total",
			Help:      "Total unsent packets discarded because the outbound queue was full",
		}),

		PanicsRecovered: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "panics_recovered_total",
			Help:      "Total panics recovered by goroutine",
		}, []string{"goroutine"}),
	}

	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	}

	return m
}

// Gatherer returns the registry the metrics were registered on, for serving /metrics.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m.gatherer == nil {
		return prometheus.DefaultGatherer
	}
	return m.gatherer
}

// RecordDatagram records an inbound datagram.
func (m *Metrics) RecordDatagram(class string, bytes int) {
	m.DatagramsReceived.WithLabelValues(class).Inc()
	m.BytesReceived.Add(float64(bytes))
}

// RecordDrop records a dropped datagram.
func (m *Metrics) RecordDrop(reason string) {
	m.DatagramsDropped.WithLabelValues(reason).Inc()
}

// RecordAdmission records a connection request outcome.
func (m *Metrics) RecordAdmission(outcome string) {
	m.Admissions.WithLabelValues(outcome).Inc()
}

// SetSlots sets the connected and capacity gauges.
func (m *Metrics) SetSlots(connected, capacity int) {
	m.SlotsConnected.Set(float64(connected))
	m.SlotsCapacity.Set(float64(capacity))
}

// RecordExpired records slots released by idle timeout.
func (m *Metrics) RecordExpired(count int) {
	m.SlotsExpired.Add(float64(count))
}

// SetQueueDepth sets the outbound queue depth gauge.
func (m *Metrics) SetQueueDepth(depth int) {
	m.QueueDepth.Set(float64(depth))
}

// RecordQueueOverwrite records a packet discarded by the outbound queue.
func (m *Metrics) RecordQueueOverwrite() {
	m.QueueOverwrites.Inc()
}

// RecordSent records a packet written to the socket.
func (m *Metrics) RecordSent(bytes int) {
	m.PacketsSent.Inc()
	m.BytesSent.Add(float64(bytes))
}

// RecordSendError records a failed socket write.
func (m *Metrics) RecordSendError() {
	m.SendErrors.Inc()
}

// RecordPanic records a recovered panic.
func (m *Metrics) RecordPanic(goroutine string) {
	m.PanicsRecovered.WithLabelValues(goroutine).Inc()
}
