package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains all subsystem-level metrics (not consumer-specific)
type Metrics struct {
	// Connection metrics
	ConnectionState   prometheus.Gauge
	ConnectionsTotal  prometheus.Counter
	ReconnectAttempts prometheus.Counter
	HeartbeatMisses   prometheus.Counter

	// Event bus metrics
	EventsDispatched *prometheus.CounterVec
	FramesDropped    *prometheus.CounterVec
	ListenerPanics   prometheus.Counter

	// Outbound control metrics
	ControlSent    *prometheus.CounterVec
	ControlDropped *prometheus.CounterVec

	// Projection metrics
	NotificationsActive prometheus.Gauge
	UploadsActive       prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all subsystem metrics
func NewMetrics() *Metrics {
	return &Metrics{
		ConnectionState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "reviewpoint",
				Subsystem: "realtime",
				Name:      "connection_state",
				Help:      "Connection state (0=disconnected, 1=connecting, 2=connected, 3=reconnecting, 4=error)",
			},
		),

		ConnectionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "reviewpoint",
				Subsystem: "realtime",
				Name:      "connections_total",
				Help:      "Total number of successfully established connections",
			},
		),

		ReconnectAttempts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "reviewpoint",
				Subsystem: "realtime",
				Name:      "reconnect_attempts_total",
				Help:      "Total number of reconnection attempts",
			},
		),

		HeartbeatMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "reviewpoint",
				Subsystem: "realtime",
				Name:      "heartbeat_misses_total",
				Help:      "Total number of missed heartbeat pongs",
			},
		),

		EventsDispatched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "reviewpoint",
				Subsystem: "realtime",
				Name:      "events_dispatched_total",
				Help:      "Total number of events dispatched to listeners",
			},
			[]string{"type"},
		),

		FramesDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "reviewpoint",
				Subsystem: "realtime",
				Name:      "frames_dropped_total",
				Help:      "Total number of inbound frames dropped at the decode boundary",
			},
			[]string{"reason"},
		),

		ListenerPanics: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "reviewpoint",
				Subsystem: "realtime",
				Name:      "listener_panics_total",
				Help:      "Total number of listener panics recovered during dispatch",
			},
		),

		ControlSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "reviewpoint",
				Subsystem: "realtime",
				Name:      "control_sent_total",
				Help:      "Total number of outbound control messages sent",
			},
			[]string{"kind"},
		),

		ControlDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "reviewpoint",
				Subsystem: "realtime",
				Name:      "control_dropped_total",
				Help:      "Total number of outbound control messages dropped by the rate limiter",
			},
			[]string{"kind"},
		),

		NotificationsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "reviewpoint",
				Subsystem: "realtime",
				Name:      "notifications_active",
				Help:      "Number of notifications currently held in projected state",
			},
		),

		UploadsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "reviewpoint",
				Subsystem: "realtime",
				Name:      "uploads_active",
				Help:      "Number of uploads currently in progress",
			},
		),
	}
}

// RecordConnectionState updates the connection state gauge
func (c *Metrics) RecordConnectionState(state int) {
	c.ConnectionState.Set(float64(state))
}

// RecordConnection increments the established-connections counter
func (c *Metrics) RecordConnection() {
	c.ConnectionsTotal.Inc()
}

// RecordReconnectAttempt increments the reconnection attempt counter
func (c *Metrics) RecordReconnectAttempt() {
	c.ReconnectAttempts.Inc()
}

// RecordHeartbeatMiss increments the missed-pong counter
func (c *Metrics) RecordHeartbeatMiss() {
	c.HeartbeatMisses.Inc()
}

// RecordEventDispatched increments the dispatched event counter for a type
func (c *Metrics) RecordEventDispatched(eventType string) {
	c.EventsDispatched.WithLabelValues(eventType).Inc()
}

// RecordFrameDropped increments the dropped frame counter for a reason
func (c *Metrics) RecordFrameDropped(reason string) {
	c.FramesDropped.WithLabelValues(reason).Inc()
}

// RecordListenerPanic increments the recovered listener panic counter
func (c *Metrics) RecordListenerPanic() {
	c.ListenerPanics.Inc()
}

// RecordControlSent increments the sent control message counter for a kind
func (c *Metrics) RecordControlSent(kind string) {
	c.ControlSent.WithLabelValues(kind).Inc()
}

// RecordControlDropped increments the rate-limit drop counter for a kind
func (c *Metrics) RecordControlDropped(kind string) {
	c.ControlDropped.WithLabelValues(kind).Inc()
}

// RecordNotificationsActive updates the active notifications gauge
func (c *Metrics) RecordNotificationsActive(n int) {
	c.NotificationsActive.Set(float64(n))
}

// RecordUploadsActive updates the active uploads gauge
func (c *Metrics) RecordUploadsActive(n int) {
	c.UploadsActive.Set(float64(n))
}
