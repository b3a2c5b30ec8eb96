package event

import (
	"encoding/json"
	"fmt"

	"github.com/filip-herceg/ReViewPoint-sub010/errors"
)

// Decode parses a raw JSON text frame into a typed event. Frames with an
// unknown "type" fail with ErrUnknownEventType; frames that fail to parse or
// violate payload constraints fail with ErrMalformedFrame. Callers drop and
// log failed frames rather than propagating them.
func Decode(data []byte) (Event, error) {
	var head struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %v", errors.ErrMalformedFrame, err),
			"event", "Decode", "parse frame header")
	}
	if head.Type == "" {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: missing type field", errors.ErrMalformedFrame),
			"event", "Decode", "validate frame header")
	}
	if !head.Type.Known() {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %q", errors.ErrUnknownEventType, head.Type),
			"event", "Decode", "match event type")
	}

	switch head.Type {
	case TypeConnectionEstablished:
		var e ConnectionEstablished
		if err := unmarshalPayload(data, &e); err != nil {
			return nil, err
		}
		if e.ConnectionID == "" {
			return nil, malformed("connection.established frame missing connection_id")
		}
		return e, nil

	case TypeConnectionLost:
		var e ConnectionLost
		if err := unmarshalPayload(data, &e); err != nil {
			return nil, err
		}
		return e, nil

	case TypeConnectionError:
		var e ConnectionError
		if err := unmarshalPayload(data, &e); err != nil {
			return nil, err
		}
		return e, nil

	case TypeUploadProgress:
		var e UploadProgress
		if err := unmarshalPayload(data, &e); err != nil {
			return nil, err
		}
		if e.UploadID == "" {
			return nil, malformed("upload.progress frame missing upload_id")
		}
		if e.Progress < 0 || e.Progress > 100 {
			return nil, malformed(fmt.Sprintf("upload.progress out of range: %d", e.Progress))
		}
		return e, nil

	case TypeUploadCompleted:
		var e UploadCompleted
		if err := unmarshalPayload(data, &e); err != nil {
			return nil, err
		}
		if e.UploadID == "" {
			return nil, malformed("upload.completed frame missing upload_id")
		}
		return e, nil

	case TypeUploadError:
		var e UploadError
		if err := unmarshalPayload(data, &e); err != nil {
			return nil, err
		}
		if e.UploadID == "" {
			return nil, malformed("upload.error frame missing upload_id")
		}
		return e, nil

	case TypeSystemNotification:
		var e SystemNotification
		if err := unmarshalPayload(data, &e); err != nil {
			return nil, err
		}
		if e.Message == "" {
			return nil, malformed("system.notification frame missing message")
		}
		if e.Level == "" {
			e.Level = LevelInfo
		}
		if !e.Level.Valid() {
			return nil, malformed(fmt.Sprintf("system.notification has unknown level %q", e.Level))
		}
		return e, nil

	case TypeReviewUpdated:
		var e ReviewUpdated
		if err := unmarshalPayload(data, &e); err != nil {
			return nil, err
		}
		return e, nil

	case TypePong:
		return Pong{}, nil
	}

	// Unreachable while knownTypes and this switch stay in sync.
	return nil, errors.WrapInvalid(
		fmt.Errorf("%w: %q", errors.ErrUnknownEventType, head.Type),
		"event", "Decode", "match event type")
}

func unmarshalPayload(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %v", errors.ErrMalformedFrame, err),
			"event", "Decode", "parse frame payload")
	}
	return nil
}

func malformed(msg string) error {
	return errors.WrapInvalid(
		fmt.Errorf("%w: %s", errors.ErrMalformedFrame, msg),
		"event", "Decode", "validate frame payload")
}
