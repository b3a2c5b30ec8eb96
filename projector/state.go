package projector

import (
	"fmt"
	"time"

	"github.com/filip-herceg/ReViewPoint-sub010/event"
)

// UploadStatus is the lifecycle phase of one upload record.
type UploadStatus string

// Upload lifecycle phases. Completed and error are terminal: the record
// leaves the active set but stays in the map.
const (
	UploadStatusUploading UploadStatus = "uploading"
	UploadStatusCompleted UploadStatus = "completed"
	UploadStatusError     UploadStatus = "error"
)

// Notification is a user-facing message derived from server events. Mutated
// only through the store's MarkNotificationRead and RemoveNotification;
// persistent notifications are never auto-dismissed.
type Notification struct {
	ID         string
	Kind       event.Level
	Title      string
	Message    string
	Timestamp  time.Time
	Read       bool
	Persistent bool
}

// UploadProgress tracks one upload, keyed by its upload id. Progress is
// 0-100 and non-decreasing within an attempt; a new attempt reusing the id
// may reset it.
type UploadProgress struct {
	UploadID  string
	Progress  int
	Status    UploadStatus
	Error     string
	Timestamp time.Time
}

// Terminal reports whether the record has left the active set.
func (u UploadProgress) Terminal() bool {
	return u.Status == UploadStatusCompleted || u.Status == UploadStatusError
}

// Connection is the projected view of the channel, derived purely from
// connection events. The manager's Session stays authoritative; this view
// exists so consumers reading projected state need no second source.
type Connection struct {
	ConnectionID string
	Connected    bool
	LossReason   string
	LastError    string
}

// State is the full projected state: one connection view, the notification
// list in creation order, and the upload map. Snapshots returned by the
// store are deep copies and safe to retain.
type State struct {
	Connection    Connection
	Notifications []Notification
	Uploads       map[string]UploadProgress
}

// ActiveUploads returns the non-terminal upload records.
func (s State) ActiveUploads() []UploadProgress {
	var active []UploadProgress
	for _, u := range s.Uploads {
		if !u.Terminal() {
			active = append(active, u)
		}
	}
	return active
}

// clone deep-copies the state so reducers and consumers never share
// containers.
func (s State) clone() State {
	out := s
	if s.Notifications != nil {
		out.Notifications = append([]Notification(nil), s.Notifications...)
	}
	out.Uploads = make(map[string]UploadProgress, len(s.Uploads))
	for id, u := range s.Uploads {
		out.Uploads[id] = u
	}
	return out
}

// reduce folds one event into the state. It is pure: the prior state is
// never mutated, and time and identity come in as arguments. Pong feeds the
// heartbeat tracker only and changes nothing here.
func reduce(prior State, ev event.Event, now time.Time, newID func() string) (State, bool) {
	switch e := ev.(type) {
	case event.ConnectionEstablished:
		next := prior.clone()
		next.Connection = Connection{
			ConnectionID: e.ConnectionID,
			Connected:    true,
		}
		return next, true

	case event.ConnectionLost:
		next := prior.clone()
		next.Connection = Connection{
			LossReason: e.Reason,
		}
		return next, true

	case event.ConnectionError:
		next := prior.clone()
		next.Connection = Connection{
			LastError: e.Message,
		}
		return next, true

	case event.UploadProgress:
		next := prior.clone()
		next.Uploads[e.UploadID] = UploadProgress{
			UploadID:  e.UploadID,
			Progress:  e.Progress,
			Status:    UploadStatusUploading,
			Timestamp: now,
		}
		return next, true

	case event.UploadCompleted:
		next := prior.clone()
		next.Uploads[e.UploadID] = UploadProgress{
			UploadID:  e.UploadID,
			Progress:  100,
			Status:    UploadStatusCompleted,
			Timestamp: now,
		}
		next.Notifications = append(next.Notifications, Notification{
			ID:        newID(),
			Kind:      event.LevelSuccess,
			Title:     "Upload complete",
			Message:   fmt.Sprintf("upload %s finished", e.UploadID),
			Timestamp: now,
		})
		return next, true

	case event.UploadError:
		next := prior.clone()
		record := next.Uploads[e.UploadID]
		next.Uploads[e.UploadID] = UploadProgress{
			UploadID:  e.UploadID,
			Progress:  record.Progress,
			Status:    UploadStatusError,
			Error:     e.Error,
			Timestamp: now,
		}
		next.Notifications = append(next.Notifications, Notification{
			ID:         newID(),
			Kind:       event.LevelError,
			Title:      "Upload failed",
			Message:    fmt.Sprintf("upload %s failed: %s", e.UploadID, e.Error),
			Timestamp:  now,
			Persistent: true,
		})
		return next, true

	case event.SystemNotification:
		next := prior.clone()
		next.Notifications = append(next.Notifications, Notification{
			ID:         newID(),
			Kind:       e.Level,
			Title:      e.Title,
			Message:    e.Message,
			Timestamp:  now,
			Persistent: e.Level == event.LevelWarning || e.Level == event.LevelError,
		})
		return next, true

	case event.ReviewUpdated:
		next := prior.clone()
		next.Notifications = append(next.Notifications, Notification{
			ID:        newID(),
			Kind:      event.LevelInfo,
			Title:     e.Title,
			Message:   e.Message,
			Timestamp: now,
		})
		return next, true

	default:
		return prior, false
	}
}
