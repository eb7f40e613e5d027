// Package events carries the typed notifications that keep clients in
// sync with a conversation. Event payloads are intentionally thin: a
// consumer is expected to re-fetch the authoritative state implicated
// by the event type, never to merge the payload directly.
package events

import "encoding/json"

// Event types emitted by the conversation store and permission store.
const (
	TypeMessageCreated    = "message.created"
	TypeMessageUpdated    = "message.updated"
	TypePartUpdated       = "message.part.updated"
	TypeSessionUpdated    = "session.updated"
	TypeSessionDeleted    = "session.deleted"
	TypePermissionUpdated = "permission.updated"
)

// Event is a single notification. SessionID is empty for events that
// are not scoped to one session.
type Event struct {
	Type       string          `json:"type"`
	SessionID  string          `json:"sessionID,omitempty"`
	MessageID  string          `json:"messageID,omitempty"`
	Properties json.RawMessage `json:"properties,omitempty"`
}
