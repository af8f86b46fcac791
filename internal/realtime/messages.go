package realtime

import (
	"time"

	"github.com/solarops/activity/internal/feed"
	"github.com/solarops/activity/internal/session"
	apperrors "github.com/solarops/activity/pkg/errors"
)

// Server to client events.
const (
	EventSnapshot = "activity.snapshot"
	EventError    = "activity.error"
	EventAck      = "activity.ack"
	EventPong     = "pong"
)

// Client to server actions.
const (
	ActionMarkSeen = "mark_seen"
	ActionHide     = "hide"
	ActionHideAll  = "hide_all"
	ActionReauth   = "reauth"
	ActionPing     = "ping"
)

// Message is a JSON payload delivered to a connected dashboard.
type Message struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// SnapshotPayload is the data of an activity.snapshot event.
type SnapshotPayload struct {
	SessionID string                `json:"session_id"`
	Identity  feed.Identity         `json:"identity"`
	Version   uint64                `json:"version"`
	Counts    map[feed.Category]int `json:"counts"`
	Total     int                   `json:"total"`
	Feed      []feed.Item           `json:"feed"`
	Ready     bool                  `json:"ready"`
}

// ErrorPayload is the data of an activity.error event.
type ErrorPayload struct {
	Action  string `json:"action"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AckPayload confirms a mutation.
type AckPayload struct {
	Action    string     `json:"action"`
	Category  string     `json:"category,omitempty"`
	Hidden    int        `json:"hidden,omitempty"`
	Watermark *time.Time `json:"watermark,omitempty"`
}

type controlMessage struct {
	Action   string `json:"action"`
	Category string `json:"category"`
	ID       string `json:"id"`
	Token    string `json:"token"`
}

func snapshotMessage(sess *session.Session, snap feed.Snapshot) Message {
	return Message{Event: EventSnapshot, Data: SnapshotPayload{
		SessionID: sess.ID,
		Identity:  sess.Identity,
		Version:   snap.Version,
		Counts:    snap.Counts,
		Total:     snap.Total,
		Feed:      snap.Feed,
		Ready:     snap.Ready,
	}}
}

func errorMessage(action string, err error) Message {
	appErr := apperrors.FromError(err)
	return Message{Event: EventError, Data: ErrorPayload{
		Action:  action,
		Code:    appErr.Code,
		Message: appErr.Message,
	}}
}
