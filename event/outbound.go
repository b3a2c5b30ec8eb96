package event

import (
	"encoding/json"
	"fmt"

	"github.com/filip-herceg/ReViewPoint-sub010/errors"
)

// Outbound control message kinds, used for rate-limit accounting and logging.
const (
	ControlPing      = "ping"
	ControlSubscribe = "subscribe"
)

// pingFrame is the outbound liveness probe.
type pingFrame struct {
	Type string `json:"type"`
}

// subscribeFrame asks the server to push the named event types.
type subscribeFrame struct {
	Type   string `json:"type"`
	Events []Type `json:"events"`
}

// EncodePing returns the wire form of a ping control message.
func EncodePing() []byte {
	data, _ := json.Marshal(pingFrame{Type: ControlPing})
	return data
}

// EncodeSubscribe returns the wire form of a subscription request for the
// given event types. All types must be part of the closed union.
func EncodeSubscribe(types []Type) ([]byte, error) {
	if len(types) == 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("subscription request needs at least one event type"),
			"event", "EncodeSubscribe", "validate event types")
	}
	for _, t := range types {
		if !t.Known() {
			return nil, errors.WrapInvalid(
				fmt.Errorf("%w: %q", errors.ErrUnknownEventType, t),
				"event", "EncodeSubscribe", "validate event types")
		}
	}
	data, err := json.Marshal(subscribeFrame{Type: ControlSubscribe, Events: types})
	if err != nil {
		return nil, errors.WrapInvalid(err, "event", "EncodeSubscribe", "marshal frame")
	}
	return data, nil
}
