package session

import (
	"strings"

	"github.com/google/uuid"
)

// ID prefixes make log lines and fixtures legible at a glance.
const (
	prefixSession = "ses"
	prefixMessage = "msg"
	prefixPart    = "prt"
)

func newID(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.New().String(), "-", "")
}

// NewSessionID returns a fresh session identifier.
func NewSessionID() string { return newID(prefixSession) }

// NewMessageID returns a fresh message identifier.
func NewMessageID() string { return newID(prefixMessage) }

// NewPartID returns a fresh part identifier.
func NewPartID() string { return newID(prefixPart) }
