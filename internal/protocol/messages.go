// Package protocol defines the frames exchanged over the chat push channel.
// Every frame is a JSON envelope {"type": ..., "data": ...}; the type
// discriminator selects how data is decoded.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/casacultural/livechat/internal/chat"
)

// ---------------------------------------------------------------------------
// Frame type constants
// ---------------------------------------------------------------------------

// Server -> Client event types.
const (
	TypeMessage    = "message"
	TypeClear      = "clear"
	TypeRoleChange = "role-change"
	TypeSubscribed = "subscribed"
	TypePresence   = "presence"
	TypeError      = "error"
	TypePong       = "pong"
)

// Client -> Server frame types.
const (
	TypePing          = "ping"
	TypePresenceQuery = "presence"
)

// ---------------------------------------------------------------------------
// Envelope
// ---------------------------------------------------------------------------

// Event is the envelope of every frame. Data holds the raw payload for
// deferred decoding into the struct matching Type.
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ---------------------------------------------------------------------------
// Payloads
// ---------------------------------------------------------------------------

// ClearData announces that a stream's history was purged.
type ClearData struct {
	StreamID string `json:"streamId"`
	Deleted  int    `json:"deleted"`
}

// RoleChangeData is a directed notice: only the viewer whose email matches
// Email should display Notice.
type RoleChangeData struct {
	Email  string       `json:"email"`
	Role   chat.Role    `json:"role"`
	Notice chat.Message `json:"notice"`
}

// SubscribedData confirms a push subscription.
type SubscribedData struct {
	StreamID string `json:"streamId"`
	SinkID   string `json:"sinkId"`
}

// PresenceData reports how many viewers are subscribed to a stream.
type PresenceData struct {
	StreamID string `json:"streamId"`
	Viewers  int    `json:"viewers"`
}

// ErrorData communicates an error condition to the client.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// NewEvent encodes payload under the given type. A nil payload produces a
// frame without data.
func NewEvent(eventType string, payload interface{}) ([]byte, error) {
	ev := Event{Type: eventType}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("protocol: failed to marshal %q payload: %w", eventType, err)
		}
		ev.Data = raw
	}

	out, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal event: %w", err)
	}
	return out, nil
}

// ParseEvent decodes the envelope of a frame. It fails when the type field
// is missing.
func ParseEvent(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if ev.Type == "" {
		return Event{}, fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	return ev, nil
}

// Decode unmarshals the event data into v.
func (e Event) Decode(v interface{}) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("protocol: %q event has no data", e.Type)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("protocol: failed to decode %q payload: %w", e.Type, err)
	}
	return nil
}

// ParseClientMessage parses a frame received from a viewer. An error is
// returned for unknown or server-only types.
func ParseClientMessage(data []byte) (string, error) {
	ev, err := ParseEvent(data)
	if err != nil {
		return "", err
	}
	switch ev.Type {
	case TypePing, TypePresenceQuery:
		return ev.Type, nil
	default:
		return ev.Type, fmt.Errorf("protocol: unknown client message type: %q", ev.Type)
	}
}
