// Package connection manages the persistent duplex channel to the server.
//
// The Manager implements the connection lifecycle state machine
// (Disconnected, Connecting, Connected, Reconnecting, Error), exponential
// backoff with jitter after unexpected closure, heartbeat liveness probing
// while connected, and the decode boundary that turns raw JSON frames into
// typed events dispatched on the bus.
//
// Lifecycle is caller-controlled: construct a Manager, Connect, and
// Disconnect when done. Disconnect is the single cancellation point; it
// synchronously cancels pending reconnect and heartbeat timers. A handshake
// rejected at the credential level moves to Error without retrying, since
// retrying an invalid credential wastes the attempt budget; every other
// failure path retries automatically up to the configured cap.
package connection
