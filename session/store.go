package session

import "github.com/m4xw311/comclerk/errors"

// ErrNotFound is returned when a session or message does not exist.
var ErrNotFound = errors.New("not found")

// Store is the persistence contract for sessions and their messages.
// Messages are append-only; parts within an in-flight assistant
// message may be appended and updated until the message is finished.
type Store interface {
	CreateSession(title string) (*Session, error)
	GetSession(id string) (*Session, error)
	ListSessions() ([]*Session, error)
	UpdateTitle(id, title string) error
	DeleteSession(id string) error

	ListMessages(sessionID string) ([]MessageWithParts, error)
	AppendMessage(sessionID string, info MessageInfo, parts []Part) (*MessageWithParts, error)
	AppendPart(sessionID, messageID string, part Part) (*Part, error)
	UpdateToolState(sessionID, messageID, partID string, state ToolState) error
	UpdateSubtask(sessionID, messageID, partID, status, output string) error
	FinishMessage(sessionID, messageID string) error
}
