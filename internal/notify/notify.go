// Package notify delivers best-effort, room-scoped real-time events.
package notify

import (
	"context"
	"encoding/json"
	"time"
)

const (
	EventDocumentUpdated  = "document.updated"
	EventDocumentLocked   = "document.locked"
	EventDocumentUnlocked = "document.unlocked"
)

// Event is a typed message for the subscribers of one room channel.
type Event struct {
	Channel string
	Name    string
	Data    any
}

// Envelope is the wire form of an Event.
type Envelope struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

type UpdatedData struct {
	Content string `json:"content"`
}

type LockedData struct {
	SessionID string    `json:"session_id"`
	LockedAt  time.Time `json:"locked_at"`
}

type UnlockedData struct {
	SessionID string `json:"session_id,omitempty"`
}

// Channel returns the channel name for a room.
func Channel(roomID string) string {
	return "document." + roomID
}

func DocumentUpdated(roomID, content string) Event {
	return Event{Channel: Channel(roomID), Name: EventDocumentUpdated, Data: UpdatedData{Content: content}}
}

func DocumentLocked(roomID, sessionID string, lockedAt time.Time) Event {
	return Event{Channel: Channel(roomID), Name: EventDocumentLocked, Data: LockedData{SessionID: sessionID, LockedAt: lockedAt}}
}

func DocumentUnlocked(roomID, sessionID string) Event {
	return Event{Channel: Channel(roomID), Name: EventDocumentUnlocked, Data: UnlockedData{SessionID: sessionID}}
}

// Marshal encodes the event as an Envelope.
func (e Event) Marshal() ([]byte, error) {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: e.Name, Channel: e.Channel, Data: data})
}

// Bus publishes events to room subscribers.
type Bus interface {
	Publish(ctx context.Context, ev Event) error
}

// Noop is the Bus used when real-time delivery is disabled.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }
