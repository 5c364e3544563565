// Package metrics exposes Prometheus collectors for the protocol servers and
// the device registry. A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "librepad"

// Drop reasons.
const (
	DropMalformed      = "malformed"
	DropUnknownSession = "unknown_session"
	DropNoDevice       = "no_device"
	DropDeviceError    = "device_error"
)

type Metrics struct {
	packets       *prometheus.CounterVec
	sent          *prometheus.CounterVec
	dropped       *prometheus.CounterVec
	errors        *prometheus.CounterVec
	sessions      prometheus.Gauge
	deviceClients *prometheus.GaugeVec
	dispatch      *prometheus.HistogramVec
	batchEvents   prometheus.Histogram
	wsConns       prometheus.Gauge
}

// New registers the collectors with reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		packets: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "udp",
			Name:      "packets_received_total",
			Help:      "Datagrams received, by message type",
		}, []string{"type"}),
		sent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "udp",
			Name:      "packets_sent_total",
			Help:      "Frames sent, by message type",
		}, []string{"type"}),
		dropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "udp",
			Name:      "packets_dropped_total",
			Help:      "Datagrams dropped without a reply, by reason",
		}, []string{"reason"}),
		errors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "udp",
			Name:      "error_frames_total",
			Help:      "ERROR frames sent, by kind",
		}, []string{"kind"}),
		sessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "udp",
			Name:      "sessions",
			Help:      "Sessions currently in the session table",
		}),
		deviceClients: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "device_clients",
			Help:      "Holders of each live device type",
		}, []string{"type"}),
		dispatch: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "udp",
			Name:      "dispatch_duration_seconds",
			Help:      "Time spent handling one datagram",
			Buckets:   []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05},
		}, []string{"type"}),
		batchEvents: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "udp",
			Name:      "batch_events",
			Help:      "Sub-events decoded per BATCH",
			Buckets:   prometheus.LinearBuckets(0, 4, 8),
		}),
		wsConns: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "connections",
			Help:      "Open WebSocket connections",
		}),
	}
}

func (m *Metrics) PacketReceived(msgType string) {
	if m == nil {
		return
	}
	m.packets.WithLabelValues(msgType).Inc()
}

func (m *Metrics) PacketSent(msgType string) {
	if m == nil {
		return
	}
	m.sent.WithLabelValues(msgType).Inc()
}

func (m *Metrics) Dropped(reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) ErrorSent(kind string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(kind).Inc()
}

func (m *Metrics) SetSessions(n int) {
	if m == nil {
		return
	}
	m.sessions.Set(float64(n))
}

// DeviceClients matches registry.WithObserver.
func (m *Metrics) DeviceClients(typ string, clients int) {
	if m == nil {
		return
	}
	m.deviceClients.WithLabelValues(typ).Set(float64(clients))
}

func (m *Metrics) ObserveDispatch(msgType string, d time.Duration) {
	if m == nil {
		return
	}
	m.dispatch.WithLabelValues(msgType).Observe(d.Seconds())
}

func (m *Metrics) ObserveBatch(events int) {
	if m == nil {
		return
	}
	m.batchEvents.Observe(float64(events))
}

func (m *Metrics) WSConnOpened() {
	if m == nil {
		return
	}
	m.wsConns.Inc()
}

func (m *Metrics) WSConnClosed() {
	if m == nil {
		return
	}
	m.wsConns.Dec()
}
