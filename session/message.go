package session

import "time"

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// MessageTime records creation/completion in unix milliseconds.
// Completed stays zero while an assistant message is still being
// produced; its absence is what the activity tracker keys on.
type MessageTime struct {
	Created   int64 `json:"created"`
	Completed int64 `json:"completed,omitempty"`
}

// MessageInfo is the metadata envelope of one message.
type MessageInfo struct {
	ID        string      `json:"id"`
	SessionID string      `json:"sessionID"`
	Role      string      `json:"role"`
	ParentID  string      `json:"parentID,omitempty"`
	Time      MessageTime `json:"time"`
}

// Completed reports whether the message has finished streaming. User
// messages are complete by construction.
func (m *MessageInfo) Completed() bool {
	return m.Role != RoleAssistant || m.Time.Completed != 0
}

// MessageWithParts pairs a message with its ordered parts, the shape
// the store returns and the materializer consumes.
type MessageWithParts struct {
	Info  MessageInfo `json:"info"`
	Parts []Part      `json:"parts"`
}

// SessionTime records creation/update in unix milliseconds.
type SessionTime struct {
	Created int64 `json:"created"`
	Updated int64 `json:"updated"`
}

// Session owns an append-only list of messages. Only the title and
// the updated timestamp ever change in place.
type Session struct {
	ID        string      `json:"id"`
	Title     string      `json:"title,omitempty"`
	Directory string      `json:"directory,omitempty"`
	Time      SessionTime `json:"time"`
}

// NowMillis returns the current wall clock in unix milliseconds, the
// timestamp unit used throughout the conversation model.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
