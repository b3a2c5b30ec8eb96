package event

import "encoding/json"

// Type identifies one variant of the closed event union. Every inbound frame
// carries one of these values in its "type" field; anything else is rejected
// at the decode boundary.
type Type string

// Known event types pushed by the server.
const (
	TypeConnectionEstablished Type = "connection.established"
	TypeConnectionLost        Type = "connection.lost"
	TypeConnectionError       Type = "connection.error"
	TypeUploadProgress        Type = "upload.progress"
	TypeUploadCompleted       Type = "upload.completed"
	TypeUploadError           Type = "upload.error"
	TypeSystemNotification    Type = "system.notification"
	TypeReviewUpdated         Type = "review.updated"
	TypePong                  Type = "pong"
)

// knownTypes is the closed set accepted at the decode boundary.
var knownTypes = map[Type]struct{}{
	TypeConnectionEstablished: {},
	TypeConnectionLost:        {},
	TypeConnectionError:       {},
	TypeUploadProgress:        {},
	TypeUploadCompleted:       {},
	TypeUploadError:           {},
	TypeSystemNotification:    {},
	TypeReviewUpdated:         {},
	TypePong:                  {},
}

// Known reports whether t is part of the closed event union.
func (t Type) Known() bool {
	_, ok := knownTypes[t]
	return ok
}

// String returns the wire representation of the type.
func (t Type) String() string {
	return string(t)
}

// KnownTypes returns the closed set of event types in a stable order.
func KnownTypes() []Type {
	return []Type{
		TypeConnectionEstablished,
		TypeConnectionLost,
		TypeConnectionError,
		TypeUploadProgress,
		TypeUploadCompleted,
		TypeUploadError,
		TypeSystemNotification,
		TypeReviewUpdated,
		TypePong,
	}
}

// Level classifies notification severity.
type Level string

// Notification severity levels.
const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Valid reports whether the level is one of the known severities.
func (l Level) Valid() bool {
	switch l {
	case LevelInfo, LevelSuccess, LevelWarning, LevelError:
		return true
	}
	return false
}

// Event is the closed, tagged union of server push events. Events are
// immutable messages: once decoded they carry no references to mutable
// state. The unexported marker keeps the union closed to this package.
type Event interface {
	EventType() Type
	sealed()
}

// ConnectionEstablished is pushed by the server once the channel is accepted.
type ConnectionEstablished struct {
	ConnectionID string `json:"connection_id"`
}

// ConnectionLost reports an unexpected channel closure.
type ConnectionLost struct {
	Reason string `json:"reason,omitempty"`
}

// ConnectionError reports a connection-level failure.
type ConnectionError struct {
	Message string `json:"error"`
}

// UploadProgress reports progress for one upload, 0-100.
type UploadProgress struct {
	UploadID string `json:"upload_id"`
	Progress int    `json:"progress"`
}

// UploadCompleted reports terminal success for one upload.
type UploadCompleted struct {
	UploadID string          `json:"upload_id"`
	Result   json.RawMessage `json:"result,omitempty"`
}

// UploadError reports terminal failure for one upload.
type UploadError struct {
	UploadID string `json:"upload_id"`
	Error    string `json:"error"`
}

// SystemNotification carries an operator-facing message.
type SystemNotification struct {
	Title   string `json:"title,omitempty"`
	Message string `json:"message"`
	Level   Level  `json:"level,omitempty"`
}

// ReviewUpdated signals that a document review changed server-side.
type ReviewUpdated struct {
	ReviewID string `json:"review_id,omitempty"`
	Title    string `json:"title,omitempty"`
	Message  string `json:"message,omitempty"`
}

// Pong answers an outbound ping. It feeds the heartbeat liveness tracker
// and produces no visible state change.
type Pong struct{}

// EventType implements Event.
func (ConnectionEstablished) EventType() Type { return TypeConnectionEstablished }

// EventType implements Event.
func (ConnectionLost) EventType() Type { return TypeConnectionLost }

// EventType implements Event.
func (ConnectionError) EventType() Type { return TypeConnectionError }

// EventType implements Event.
func (UploadProgress) EventType() Type { return TypeUploadProgress }

// EventType implements Event.
func (UploadCompleted) EventType() Type { return TypeUploadCompleted }

// EventType implements Event.
func (UploadError) EventType() Type { return TypeUploadError }

// EventType implements Event.
func (SystemNotification) EventType() Type { return TypeSystemNotification }

// EventType implements Event.
func (ReviewUpdated) EventType() Type { return TypeReviewUpdated }

// EventType implements Event.
func (Pong) EventType() Type { return TypePong }

func (ConnectionEstablished) sealed() {}
func (ConnectionLost) sealed()        {}
func (ConnectionError) sealed()       {}
func (UploadProgress) sealed()        {}
func (UploadCompleted) sealed()       {}
func (UploadError) sealed()           {}
func (SystemNotification) sealed()    {}
func (ReviewUpdated) sealed()         {}
func (Pong) sealed()                  {}
