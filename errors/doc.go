// Package errors provides standardized error handling patterns for the
// realtime subsystem.
//
// # Overview
//
// The errors package implements a three-class error classification system:
// Transient (temporary, retryable), Invalid (bad input, non-retryable), and
// Fatal (unrecoverable, stop processing).
//
// The classification drives the reconnection policy: transient failures are
// retried with backoff, invalid frames are dropped at the decode boundary,
// and fatal errors (such as a rejected handshake credential) stop the
// automatic retry machinery entirely.
//
// The classification system integrates with Go's standard error handling,
// supporting errors.Is(), errors.As(), and error wrapping chains.
//
// # Quick Start
//
// Use standard error variables for known conditions:
//
//	if session.State != connection.StateConnected {
//	    return errors.ErrNotConnected
//	}
//
// Wrap errors with context for debugging:
//
//	if err := conn.WriteMessage(mt, data); err != nil {
//	    return errors.WrapTransient(err, "Manager", "sendFrame", "write frame")
//	}
//
// Check classification for retry logic:
//
//	if errors.IsTransient(err) {
//	    scheduleReconnect()
//	}
package errors
