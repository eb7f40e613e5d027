package permission

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"

	"github.com/m4xw311/comclerk/errors"
	"github.com/m4xw311/comclerk/events"
)

type pendingRequest struct {
	req   Request
	reply chan string
}

// MemStore keeps pending requests in memory. Resolved requests are
// discarded; there is no retention. "always" replies are remembered
// per request type so matching future invocations skip the gate.
type MemStore struct {
	mu      sync.Mutex
	bus     *events.Bus
	pending map[string][]*pendingRequest
	always  map[string][]string
	now     func() int64
}

// NewMemStore creates an empty store. The bus may be nil.
func NewMemStore(bus *events.Bus) *MemStore {
	return &MemStore{
		bus:     bus,
		pending: make(map[string][]*pendingRequest),
		always:  make(map[string][]string),
	}
}

func (s *MemStore) publish(sessionID string) {
	if s.bus != nil {
		s.bus.Publish(events.Event{Type: events.TypePermissionUpdated, SessionID: sessionID})
	}
}

// Ask blocks until a human resolves the request or ctx is cancelled.
// It returns true when the invocation is approved. Requests whose
// pattern matches a remembered "always" reply are approved without
// being surfaced.
func (s *MemStore) Ask(ctx context.Context, req Request) (bool, error) {
	s.mu.Lock()
	if s.allowedAlways(req.Type, req.Pattern) {
		s.mu.Unlock()
		return true, nil
	}
	if req.ID == "" {
		req.ID = "per_" + strings.ReplaceAll(uuid.New().String(), "-", "")
	}
	if req.CreatedAt == 0 {
		req.CreatedAt = nowMillis(s.now)
	}
	p := &pendingRequest{req: req, reply: make(chan string, 1)}
	s.pending[req.SessionID] = append(s.pending[req.SessionID], p)
	s.mu.Unlock()

	s.publish(req.SessionID)

	select {
	case <-ctx.Done():
		s.remove(req.SessionID, req.ID)
		s.publish(req.SessionID)
		return false, ctx.Err()
	case reply := <-p.reply:
		switch reply {
		case ReplyOnce:
			return true, nil
		case ReplyAlways:
			if req.Pattern != "" {
				s.mu.Lock()
				s.always[req.Type] = append(s.always[req.Type], req.Pattern)
				s.mu.Unlock()
			}
			return true, nil
		default:
			return false, nil
		}
	}
}

// Preapprove remembers patterns as granted "always" replies, keyed by
// request type. Configuration uses it to skip the gate for trusted
// patterns from the start.
func (s *MemStore) Preapprove(always map[string][]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for reqType, patterns := range always {
		s.always[reqType] = append(s.always[reqType], patterns...)
	}
}

// ListPending returns the session's unresolved requests, oldest first.
func (s *MemStore) ListPending(sessionID string) ([]Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, 0, len(s.pending[sessionID]))
	for _, p := range s.pending[sessionID] {
		out = append(out, p.req)
	}
	return out, nil
}

// Reply resolves a pending request and unblocks its Ask.
func (s *MemStore) Reply(requestID, reply string) error {
	if reply != ReplyOnce && reply != ReplyAlways && reply != ReplyReject {
		return errors.New("unknown reply %q", reply)
	}
	s.mu.Lock()
	for sessionID, list := range s.pending {
		for i, p := range list {
			if p.req.ID != requestID {
				continue
			}
			s.pending[sessionID] = append(list[:i], list[i+1:]...)
			s.mu.Unlock()
			p.reply <- reply
			s.publish(sessionID)
			return nil
		}
	}
	s.mu.Unlock()
	return errors.New("no pending permission request %s", requestID)
}

func (s *MemStore) remove(sessionID, requestID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.pending[sessionID]
	for i, p := range list {
		if p.req.ID == requestID {
			s.pending[sessionID] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// allowedAlways matches the request's pattern against remembered
// patterns for its type. Glob patterns cover path-shaped patterns;
// anything else must match exactly. Caller holds the lock.
func (s *MemStore) allowedAlways(reqType, pattern string) bool {
	if pattern == "" {
		return false
	}
	for _, stored := range s.always[reqType] {
		if stored == pattern {
			return true
		}
		if ok, err := doublestar.Match(stored, pattern); err == nil && ok {
			return true
		}
	}
	return false
}

func nowMillis(now func() int64) int64 {
	if now != nil {
		return now()
	}
	return time.Now().UnixMilli()
}
