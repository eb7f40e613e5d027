// Package activity derives what the agent is doing right now from the
// conversation tail and the approval gate. It stores nothing itself.
package activity

import (
	"sync"

	"github.com/m4xw311/comclerk/session"
)

// Status of a session.
type Status string

const (
	// Idle means the last assistant turn finished.
	Idle Status = "idle"
	// Generating means a response is pending or streaming.
	Generating Status = "generating"
	// AwaitingApproval means a tool invocation is blocked on a human.
	// It overrides Generating for display.
	AwaitingApproval Status = "awaiting-approval"
)

// Derive computes the status from the message list and whether an
// approval request is currently surfaced. A session is generating when
// the last message is from the user (no response started yet) or when
// any assistant message has no completion timestamp.
func Derive(msgs []session.MessageWithParts, hasApproval bool) Status {
	if hasApproval {
		return AwaitingApproval
	}
	if len(msgs) == 0 {
		return Idle
	}
	if msgs[len(msgs)-1].Info.Role == session.RoleUser {
		return Generating
	}
	for i := range msgs {
		if !msgs[i].Info.Completed() {
			return Generating
		}
	}
	return Idle
}

// Tracker caches the derived status and notifies on transitions.
type Tracker struct {
	mu       sync.Mutex
	status   Status
	onChange func(Status)
}

// NewTracker starts at Idle. onChange may be nil; it is invoked
// synchronously on every transition.
func NewTracker(onChange func(Status)) *Tracker {
	return &Tracker{status: Idle, onChange: onChange}
}

// Update re-derives the status and fires onChange if it moved.
func (t *Tracker) Update(msgs []session.MessageWithParts, hasApproval bool) Status {
	next := Derive(msgs, hasApproval)

	t.mu.Lock()
	changed := next != t.status
	t.status = next
	t.mu.Unlock()

	if changed && t.onChange != nil {
		t.onChange(next)
	}
	return next
}

// Status returns the last derived status.
func (t *Tracker) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}
