package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/filip-herceg/ReViewPoint-sub010/errors"
)

// Config is the externally supplied configuration surface of the realtime
// subsystem. It is read-only to the subsystem: components receive it at
// construction and never mutate it.
type Config struct {
	Endpoint  EndpointConfig  `json:"endpoint" koanf:"endpoint"`
	Heartbeat HeartbeatConfig `json:"heartbeat" koanf:"heartbeat"`
	Reconnect ReconnectConfig `json:"reconnect" koanf:"reconnect"`
	RateLimit RateLimitConfig `json:"rate_limit" koanf:"rate_limit"`
}

// EndpointConfig describes the server endpoint and the opaque credential
// used during the handshake.
type EndpointConfig struct {
	// URL is the WebSocket endpoint, ws:// or wss://.
	URL string `json:"url" koanf:"url"`

	// AuthTokenEnv names the environment variable holding the bearer token.
	// Empty means no Authorization header is sent. The token itself is
	// opaque to the subsystem.
	AuthTokenEnv string `json:"auth_token_env" koanf:"auth_token_env"`

	// HandshakeTimeout bounds the WebSocket dial.
	HandshakeTimeout time.Duration `json:"handshake_timeout" koanf:"handshake_timeout"`
}

// HeartbeatConfig controls liveness probing while connected.
type HeartbeatConfig struct {
	// Interval between outbound pings.
	Interval time.Duration `json:"interval" koanf:"interval"`

	// Timeout is how long after the last pong (or connection establishment,
	// whichever is later) a ping is considered missed.
	Timeout time.Duration `json:"timeout" koanf:"timeout"`
}

// ReconnectConfig controls the backoff policy after unexpected closure.
type ReconnectConfig struct {
	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration `json:"base_delay" koanf:"base_delay"`

	// MaxDelay caps the backoff growth.
	MaxDelay time.Duration `json:"max_delay" koanf:"max_delay"`

	// MaxAttempts bounds consecutive automatic retries; reaching it moves
	// the connection to the error state.
	MaxAttempts int `json:"max_attempts" koanf:"max_attempts"`

	// Multiplier grows the delay per attempt, typically 2.0.
	Multiplier float64 `json:"multiplier" koanf:"multiplier"`

	// Jitter randomizes delays to avoid synchronized retry storms.
	Jitter bool `json:"jitter" koanf:"jitter"`
}

// RateLimitConfig bounds outbound control traffic.
type RateLimitConfig struct {
	// Messages is the maximum number of control messages per Window.
	Messages int `json:"messages" koanf:"messages"`

	// Window is the rolling time window for the limit.
	Window time.Duration `json:"window" koanf:"window"`
}

// DefaultConfig returns the configuration used when nothing is supplied.
func DefaultConfig() Config {
	return Config{
		Endpoint: EndpointConfig{
			URL:              "ws://localhost:8000/api/v1/ws",
			AuthTokenEnv:     "RVP_AUTH_TOKEN",
			HandshakeTimeout: 10 * time.Second,
		},
		Heartbeat: HeartbeatConfig{
			Interval: 30 * time.Second,
			Timeout:  10 * time.Second,
		},
		Reconnect: ReconnectConfig{
			BaseDelay:   time.Second,
			MaxDelay:    30 * time.Second,
			MaxAttempts: 10,
			Multiplier:  2.0,
			Jitter:      true,
		},
		RateLimit: RateLimitConfig{
			Messages: 10,
			Window:   time.Minute,
		},
	}
}

// Validate checks the configuration for internal consistency. All failures
// wrap ErrInvalidConfig.
func (c Config) Validate() error {
	if err := c.Endpoint.validate(); err != nil {
		return err
	}
	if err := c.Heartbeat.validate(); err != nil {
		return err
	}
	if err := c.Reconnect.validate(); err != nil {
		return err
	}
	return c.RateLimit.validate()
}

func (e EndpointConfig) validate() error {
	if e.URL == "" {
		return invalid("endpoint URL is required")
	}
	u, err := url.Parse(e.URL)
	if err != nil {
		return invalid(fmt.Sprintf("endpoint URL %q does not parse: %v", e.URL, err))
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return invalid(fmt.Sprintf("endpoint URL scheme must be ws or wss, got %q", u.Scheme))
	}
	if u.Host == "" {
		return invalid("endpoint URL has no host")
	}
	if e.HandshakeTimeout <= 0 {
		return invalid("handshake timeout must be positive")
	}
	return nil
}

func (h HeartbeatConfig) validate() error {
	if h.Interval <= 0 {
		return invalid("heartbeat interval must be positive")
	}
	if h.Timeout <= 0 {
		return invalid("heartbeat timeout must be positive")
	}
	if h.Timeout > h.Interval {
		return invalid("heartbeat timeout must not exceed the interval")
	}
	return nil
}

func (r ReconnectConfig) validate() error {
	if r.BaseDelay <= 0 {
		return invalid("reconnect base delay must be positive")
	}
	if r.MaxDelay < r.BaseDelay {
		return invalid("reconnect max delay must be >= base delay")
	}
	if r.MaxAttempts <= 0 {
		return invalid("reconnect max attempts must be positive")
	}
	if r.Multiplier < 1.0 {
		return invalid("reconnect multiplier must be >= 1.0")
	}
	return nil
}

func (r RateLimitConfig) validate() error {
	if r.Messages <= 0 {
		return invalid("rate limit message count must be positive")
	}
	if r.Window <= 0 {
		return invalid("rate limit window must be positive")
	}
	return nil
}

func invalid(msg string) error {
	return errors.WrapInvalid(
		fmt.Errorf("%w: %s", errors.ErrInvalidConfig, msg),
		"config", "Validate", "check configuration")
}
