package live

import (
	"context"

	"github.com/m4xw311/comclerk/events"
	"github.com/m4xw311/comclerk/permission"
	"github.com/m4xw311/comclerk/session"
)

// LocalSource adapts in-process stores to the Source contract, for
// frontends living in the same process as the agent.
type LocalSource struct {
	Store session.Store
	Perms *permission.MemStore
	Bus   *events.Bus
}

func (s *LocalSource) ListMessages(ctx context.Context, sessionID string) ([]session.MessageWithParts, error) {
	return s.Store.ListMessages(sessionID)
}

func (s *LocalSource) ListPermissions(ctx context.Context, sessionID string) ([]permission.Request, error) {
	return s.Perms.ListPending(sessionID)
}

func (s *LocalSource) Events(ctx context.Context, sessionID string) (<-chan events.Event, error) {
	return s.Bus.Subscribe(ctx, sessionID), nil
}
