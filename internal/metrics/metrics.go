// Package metrics exposes prometheus collectors for secure channel activity.
//
// A nil *Metrics is valid and records nothing, so components can take one
// unconditionally.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"safechat/internal/domain"
)

// Frame directions.
const (
	DirectionSent     = "sent"
	DirectionReceived = "received"
)

// Metrics bundles the collectors.
type Metrics struct {
	Handshakes        *prometheus.CounterVec
	HandshakeDuration *prometheus.HistogramVec
	Frames            *prometheus.CounterVec
	DecryptFailures   prometheus.Counter
	ActiveConnections prometheus.Gauge
}

// New creates the collectors and registers them with reg when reg is not nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Handshakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "safechat",
			Name:      "handshakes_total",
			Help:      "Completed key exchanges by role and result.",
		}, []string{"role", "result"}),
		HandshakeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "safechat",
			Name:      "handshake_duration_seconds",
			Help:      "Time spent in the key exchange.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"role"}),
		Frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "safechat",
			Name:      "frames_total",
			Help:      "Encrypted data frames by direction.",
		}, []string{"direction"}),
		DecryptFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "safechat",
			Name:      "decrypt_failures_total",
			Help:      "Inbound frames that failed to decrypt.",
		}),
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "safechat",
			Name:      "connections_active",
			Help:      "Connections currently established.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Handshakes, m.HandshakeDuration, m.Frames, m.DecryptFailures, m.ActiveConnections)
	}
	return m
}

// HandshakeFinished records one key exchange outcome.
func (m *Metrics) HandshakeFinished(role domain.Role, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "failed"
	}
	m.Handshakes.WithLabelValues(role.String(), result).Inc()
	m.HandshakeDuration.WithLabelValues(role.String()).Observe(elapsed.Seconds())
}

// FrameSent counts an outbound data frame.
func (m *Metrics) FrameSent() {
	if m == nil {
		return
	}
	m.Frames.WithLabelValues(DirectionSent).Inc()
}

// FrameReceived counts an inbound data frame.
func (m *Metrics) FrameReceived() {
	if m == nil {
		return
	}
	m.Frames.WithLabelValues(DirectionReceived).Inc()
}

// DecryptFailed counts an inbound frame that could not be decrypted.
func (m *Metrics) DecryptFailed() {
	if m == nil {
		return
	}
	m.DecryptFailures.Inc()
}

// ConnectionOpened increments the active connection gauge.
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.ActiveConnections.Inc()
}

// ConnectionClosed decrements the active connection gauge.
func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.ActiveConnections.Dec()
}
