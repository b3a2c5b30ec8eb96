// Package config defines the externally supplied configuration surface of
// the realtime subsystem: endpoint URL and credential source, heartbeat
// intervals, reconnect backoff policy, and rate-limit thresholds.
//
// Configuration layers YAML over hardcoded defaults, with RVP_-prefixed
// environment variables taking final precedence. The subsystem consumes the
// result read-only.
package config
