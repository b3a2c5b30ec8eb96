package connection

import (
	"log/slog"

	"github.com/gorilla/websocket"

	"github.com/filip-herceg/ReViewPoint-sub010/metric"
	"github.com/filip-herceg/ReViewPoint-sub010/ratelimit"
)

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics enables connection metrics. A nil value disables them.
func WithMetrics(metrics *metric.Metrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// WithGate replaces the rate limiter built from the configuration.
func WithGate(gate *ratelimit.Gate) Option {
	return func(m *Manager) {
		if gate != nil {
			m.gate = gate
		}
	}
}

// WithDialer replaces the WebSocket dialer, e.g. to set a TLS config.
func WithDialer(dialer *websocket.Dialer) Option {
	return func(m *Manager) {
		if dialer != nil {
			m.dialer = dialer
		}
	}
}
