package permission

import (
	"context"
	"log"
	"sync"

	"github.com/m4xw311/comclerk/errors"
)

// ReplyFunc submits a reply for a request, typically backed by a
// MemStore or a remote client.
type ReplyFunc func(ctx context.Context, requestID, reply string) error

// Gate holds the viewer-side approval state for one attached session.
// At most one request is surfaced at a time; the rest stay queued in
// the store until the current one resolves. Observations and replies
// for any other session are dropped, which is what keeps a just-
// switched-away session from resurrecting its prompt.
type Gate struct {
	mu        sync.Mutex
	sessionID string
	current   *Request
	send      ReplyFunc
}

// NewGate creates a gate that submits replies through send.
func NewGate(send ReplyFunc) *Gate {
	return &Gate{send: send}
}

// Attach switches the gate to a session and clears any surfaced
// request, even if a poll for the previous session is still in flight.
func (g *Gate) Attach(sessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sessionID = sessionID
	g.current = nil
}

// Observe feeds the gate a fresh pending list for a session. Lists for
// sessions other than the attached one are ignored. The list head
// becomes current when nothing is surfaced yet; if the current request
// vanished from the list it was resolved elsewhere and is cleared.
func (g *Gate) Observe(sessionID string, pending []Request) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if sessionID != g.sessionID {
		return
	}
	if g.current != nil {
		for i := range pending {
			if pending[i].ID == g.current.ID {
				return
			}
		}
		g.current = nil
	}
	if len(pending) > 0 {
		head := pending[0]
		g.current = &head
	}
}

// Current returns a copy of the surfaced request, or nil.
func (g *Gate) Current() *Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.current == nil {
		return nil
	}
	req := *g.current
	return &req
}

// Reply resolves the surfaced request. A request that belongs to a
// different session than the one attached is discarded, not redirected.
func (g *Gate) Reply(ctx context.Context, reply string) error {
	g.mu.Lock()
	if g.current == nil {
		g.mu.Unlock()
		return errors.New("no permission request pending")
	}
	req := *g.current
	if req.SessionID != g.sessionID {
		g.current = nil
		g.mu.Unlock()
		log.Printf("dropping permission reply for session %s (viewing %s)", req.SessionID, g.sessionID)
		return errors.New("permission request belongs to session %s", req.SessionID)
	}
	g.mu.Unlock()

	if err := g.send(ctx, req.ID, reply); err != nil {
		return errors.Wrapf(err, "replying to permission request %s", req.ID)
	}

	g.mu.Lock()
	if g.current != nil && g.current.ID == req.ID {
		g.current = nil
	}
	g.mu.Unlock()
	return nil
}
