package types

import (
	"time"
)

// EventType tags an event.  The constants below are the ones emitted
// by nrepo itself, but any string is accepted.
type EventType string

// Well known event types.
const (
	EventPackageOutdated      EventType = "package-outdated"
	EventPackageRemoved       EventType = "package-removed"
	EventPackageStatusChanged EventType = "package-status-changed"
	EventPackageUpdated       EventType = "package-updated"
	EventPackageUpdateFailed  EventType = "package-update-failed"
	EventSyncFailed           EventType = "sync-failed"
	EventCycleStarted         EventType = "cycle-started"
	EventCycleFinished        EventType = "cycle-finished"
)

// An Event is an append-only audit record.
type Event struct {
	ID       int64          `json:"-"`
	Created  time.Time      `json:"created"`
	Type     EventType      `json:"event"`
	ObjectID string         `json:"object_id"`
	Message  string         `json:"message,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
}

// NewEvent returns an event stamped with the current time.
func NewEvent(t EventType, objectID, message string) Event {
	return Event{
		Created:  time.Now().UTC(),
		Type:     t,
		ObjectID: objectID,
		Message:  message,
	}
}

// EventFilter narrows an event query.  Zero values match everything.
type EventFilter struct {
	Type     EventType
	ObjectID string
	From     time.Time
	To       time.Time
	Limit    int
	Offset   int
}
