package connection

import (
	"log/slog"
	"sync"
	"time"

	"github.com/filip-herceg/ReViewPoint-sub010/metric"
)

// missLimit is the number of consecutive unanswered pings treated as
// connection loss.
const missLimit = 2

// heartbeat detects silent connection death. It runs only while the manager
// is connected: a ping is sent at a fixed interval through the rate limiter,
// and a pong is expected within the timeout window. The window is measured
// from the later of the last pong and connection establishment. Only pings
// the sender actually transmitted are armed; a ping refused by the rate
// limiter expects no pong and can never count as a miss.
type heartbeat struct {
	interval time.Duration
	timeout  time.Duration
	sendPing func() bool
	onDead   func()
	logger   *slog.Logger
	metrics  *metric.Metrics

	mu       sync.Mutex
	lastSeen time.Time
	lastPing time.Time
	misses   int

	done     chan struct{}
	stopOnce sync.Once
}

func newHeartbeat(
	interval, timeout time.Duration,
	sendPing func() bool,
	onDead func(),
	logger *slog.Logger,
	metrics *metric.Metrics,
) *heartbeat {
	return &heartbeat{
		interval: interval,
		timeout:  timeout,
		sendPing: sendPing,
		onDead:   onDead,
		logger:   logger,
		metrics:  metrics,
		done:     make(chan struct{}),
	}
}

// start marks the connection as alive now and launches the probe loop.
func (h *heartbeat) start() {
	h.mu.Lock()
	h.lastSeen = time.Now()
	h.mu.Unlock()

	go h.run()
}

// stop terminates the probe loop. Safe to call more than once and from any
// goroutine; no probe fires after stop returns.
func (h *heartbeat) stop() {
	h.stopOnce.Do(func() {
		close(h.done)
	})
}

// pong records a liveness response and resets the miss counter.
func (h *heartbeat) pong() {
	h.mu.Lock()
	h.lastSeen = time.Now()
	h.misses = 0
	h.mu.Unlock()
}

func (h *heartbeat) run() {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
			if h.tick() {
				return
			}
		}
	}
}

// tick checks whether the previous transmitted ping was answered, then sends
// the next one. An unsent ping is not armed. Returns true when the
// connection is declared dead.
func (h *heartbeat) tick() bool {
	h.mu.Lock()
	missed := !h.lastPing.IsZero() &&
		h.lastSeen.Before(h.lastPing) &&
		time.Since(h.lastPing) >= h.timeout
	if missed {
		h.misses++
	}
	misses := h.misses
	h.mu.Unlock()

	if missed {
		h.logger.Warn("heartbeat pong missed", "consecutive_misses", misses)
		if h.metrics != nil {
			h.metrics.RecordHeartbeatMiss()
		}
		if misses >= missLimit {
			select {
			case <-h.done:
				// A transition away from Connected already stopped us;
				// in-flight heartbeat results are ignored from here on.
			default:
				h.onDead()
			}
			return true
		}
	}

	if h.sendPing() {
		h.mu.Lock()
		h.lastPing = time.Now()
		h.mu.Unlock()
	}
	return false
}
