// Package ratelimit gates outbound control traffic (heartbeats, subscription
// requests) to a bounded rate per time window.
//
// The policy is deliberately lossy: a message issued beyond the limit is
// dropped, never queued. Heartbeats are inherently retryable, so dropping one
// is safe, and the drop protects the server from runaway client loops. Drops
// are logged and counted but never surface as connection errors.
package ratelimit

import (
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/filip-herceg/ReViewPoint-sub010/metric"
)

// Gate bounds outbound control messages to at most N per rolling window.
type Gate struct {
	limiter *rate.Limiter
	logger  *slog.Logger
	metrics *metric.Metrics
}

// Option configures a Gate.
type Option func(*Gate)

// WithLogger sets the structured logger used for violation reports.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithMetrics enables drop accounting. A nil metrics value disables it.
func WithMetrics(m *metric.Metrics) Option {
	return func(g *Gate) {
		g.metrics = m
	}
}

// NewGate creates a gate allowing at most messages sends per window. The
// token bucket starts full, so a burst of up to messages sends passes
// immediately and refills spread over the window. Non-positive inputs fall
// back to 10 messages per second.
//
// The bucket approximates a rolling window: steady-state admission is
// messages per window, but a window that opens on a full bucket can admit up
// to one extra burst before settling. The constant-state limiter was chosen
// over a sliding-window log, which would track a timestamp per send.
func NewGate(messages int, window time.Duration, opts ...Option) *Gate {
	if messages <= 0 {
		messages = 10
	}
	if window <= 0 {
		window = time.Second
	}

	g := &Gate{
		limiter: rate.NewLimiter(rate.Limit(float64(messages)/window.Seconds()), messages),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Allow reports whether a control message of the given kind may be sent now.
// A denied message is dropped by the caller; Allow logs the violation and
// counts it.
func (g *Gate) Allow(kind string) bool {
	if g.limiter.Allow() {
		return true
	}

	g.logger.Warn("rate limit violation, dropping outbound control message",
		"kind", kind)
	if g.metrics != nil {
		g.metrics.RecordControlDropped(kind)
	}
	return false
}
