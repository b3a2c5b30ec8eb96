// Package reviewpoint provides the realtime client subsystem of the
// ReViewPoint document-review platform: a persistent WebSocket channel to
// the server, a typed event stream, and derived client state.
//
// # Architecture
//
// The subsystem is a pipeline of small packages:
//
//	┌──────────────┐   raw frames   ┌───────────┐   typed events   ┌───────────┐
//	│  connection  ├───────────────►│   event   ├─────────────────►│    bus    │
//	│  (manager)   │    decode      │ (decode)  │     dispatch     │ (fan-out) │
//	└──────┬───────┘                └───────────┘                  └─────┬─────┘
//	       │ ping / subscribe                                            │
//	       ▼                                                             ▼
//	┌──────────────┐                                              ┌────────────┐
//	│  ratelimit   │                                              │ projector  │
//	│   (gate)     │                                              │  (store)   │
//	└──────────────┘                                              └────────────┘
//
//   - connection: lifecycle state machine (Disconnected, Connecting,
//     Connected, Reconnecting, Error), reconnection with exponential backoff
//     and jitter, heartbeat liveness probing.
//   - event: the closed union of server push events and the decode boundary
//     that rejects unknown or malformed frames.
//   - bus: typed publish/subscribe with synchronous, registration-order
//     dispatch and per-listener panic isolation.
//   - ratelimit: token-bucket gate bounding outbound control messages;
//     excess messages are dropped, never queued.
//   - projector: pure reducers folding events into a notification list and
//     upload-progress records, observable through snapshots or callbacks.
//   - config: YAML + environment configuration with validation.
//   - metric: Prometheus instrumentation shared by all components.
//
// Supporting packages: errors (classified error wrapping), pkg/retry
// (backoff delay computation).
//
// # Usage
//
// Everything is wired by an explicit composition root; there is no module
// state. cmd/reviewpoint-live shows the full setup:
//
//	cfg, _ := config.Load(path)
//	b := bus.New()
//	store := projector.New()
//	store.Attach(b)
//	mgr, _ := connection.NewManager(cfg, b)
//	_ = mgr.Connect(ctx)
//	_ = mgr.Subscribe(event.TypeUploadProgress, event.TypeSystemNotification)
//	defer mgr.Disconnect()
//
// Listeners register on the bus for individual event types; consumers that
// want derived state read store snapshots instead.
package reviewpoint
