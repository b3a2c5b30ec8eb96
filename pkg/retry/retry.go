// Package retry computes exponential backoff delays with jitter for pacing
// reconnection attempts.
package retry

import (
	"math/rand"
	"sync"
	"time"
)

var (
	// Thread-safe random source for jitter
	randMu     sync.Mutex
	randSource = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// Config provides backoff configuration
type Config struct {
	MaxAttempts  int           // Maximum number of attempts (0 = no retry, just run once)
	InitialDelay time.Duration // Initial delay between attempts
	MaxDelay     time.Duration // Maximum delay between attempts
	Multiplier   float64       // Backoff multiplier (typically 2.0)
	AddJitter    bool          // Add randomness to prevent thundering herd
}

// Delay returns the backoff delay for the given zero-based attempt number:
// min(MaxDelay, InitialDelay * Multiplier^attempt), with up to 25% jitter
// added when AddJitter is set. Attempt 0 returns InitialDelay.
func (cfg Config) Delay(attempt int) time.Duration {
	delay := cfg.InitialDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	multiplier := cfg.Multiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}
	maxDelay := cfg.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}

	for i := 0; i < attempt; i++ {
		next := float64(delay) * multiplier
		if next >= float64(maxDelay) {
			delay = maxDelay
			break
		}
		delay = time.Duration(next)
	}
	if delay > maxDelay {
		delay = maxDelay
	}

	if cfg.AddJitter && delay >= 4 {
		randMu.Lock()
		jitter := time.Duration(randSource.Int63n(int64(delay / 4)))
		randMu.Unlock()
		delay += jitter
	}

	return delay
}
