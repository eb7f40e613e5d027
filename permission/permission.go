// Package permission implements human approval of tool invocations.
// The store side creates and resolves requests; the gate side decides
// which single request a viewer is shown and guards replies against
// session races.
package permission

// Reply kinds.
const (
	ReplyOnce   = "once"   // allow this invocation only
	ReplyAlways = "always" // allow and remember the pattern
	ReplyReject = "reject" // deny this invocation
)

// Request asks a human to approve one tool invocation. Pattern, when
// set, is what an "always" reply remembers (e.g. a path glob or a
// command prefix).
type Request struct {
	ID        string                 `json:"id"`
	SessionID string                 `json:"sessionID"`
	MessageID string                 `json:"messageID,omitempty"`
	CallID    string                 `json:"callID,omitempty"`
	Type      string                 `json:"type"`
	Title     string                 `json:"title"`
	Pattern   string                 `json:"pattern,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt int64                  `json:"createdAt"`
}

// Store is the server-side contract for pending approvals.
type Store interface {
	// ListPending returns the session's unresolved requests, oldest
	// first. The head is what a gate surfaces.
	ListPending(sessionID string) ([]Request, error)

	// Reply resolves a pending request. Unknown IDs are an error.
	Reply(requestID, reply string) error
}
