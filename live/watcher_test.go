package live

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/m4xw311/comclerk/activity"
	"github.com/m4xw311/comclerk/errors"
	"github.com/m4xw311/comclerk/events"
	"github.com/m4xw311/comclerk/permission"
	"github.com/m4xw311/comclerk/session"
)

// fakeSource serves mutable state and counts fetches.
type fakeSource struct {
	mu         sync.Mutex
	msgs       []session.MessageWithParts
	pending    []permission.Request
	bus        *events.Bus
	eventsDown bool            // Events fails outright
	eventsCtx  context.Context // bounds the push stream when set
	subscribed chan struct{}   // closed on first successful Events call when set
	msgCalls   atomic.Int64
}

func newFakeSource() *fakeSource {
	return &fakeSource{bus: events.NewBus()}
}

func (f *fakeSource) setMessages(msgs []session.MessageWithParts) {
	f.mu.Lock()
	f.msgs = msgs
	f.mu.Unlock()
}

func (f *fakeSource) setPending(pending []permission.Request) {
	f.mu.Lock()
	f.pending = pending
	f.mu.Unlock()
}

func (f *fakeSource) ListMessages(ctx context.Context, sessionID string) ([]session.MessageWithParts, error) {
	f.msgCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]session.MessageWithParts(nil), f.msgs...), nil
}

func (f *fakeSource) ListPermissions(ctx context.Context, sessionID string) ([]permission.Request, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]permission.Request(nil), f.pending...), nil
}

func (f *fakeSource) Events(ctx context.Context, sessionID string) (<-chan events.Event, error) {
	if f.eventsDown {
		return nil, errors.New("events unavailable")
	}
	if f.eventsCtx != nil {
		ctx = f.eventsCtx
	}
	ch := f.bus.Subscribe(ctx, sessionID)
	f.mu.Lock()
	if f.subscribed != nil {
		close(f.subscribed)
		f.subscribed = nil
	}
	f.mu.Unlock()
	return ch, nil
}

func turn(completed int64) []session.MessageWithParts {
	return []session.MessageWithParts{
		{Info: session.MessageInfo{ID: "msg_u", Role: session.RoleUser, Time: session.MessageTime{Created: 1}}},
		{Info: session.MessageInfo{ID: "msg_a", Role: session.RoleAssistant, Time: session.MessageTime{Created: 2, Completed: completed}}},
	}
}

func fastOptions(onMessages func([]session.MessageWithParts)) Options {
	return Options{
		PermissionInterval: 10 * time.Millisecond,
		MessageInterval:    10 * time.Millisecond,
		Debounce:           5 * time.Millisecond,
		OnMessages:         onMessages,
	}
}

func TestDebouncerCoalescesBursts(t *testing.T) {
	var calls atomic.Int64
	d := NewDebouncer(20 * time.Millisecond)
	for i := 0; i < 10; i++ {
		d.Debounce(func() { calls.Add(1) })
		time.Sleep(time.Millisecond)
	}
	time.Sleep(60 * time.Millisecond)
	require.Equal(t, int64(1), calls.Load())
}

func TestDebouncerCancel(t *testing.T) {
	var calls atomic.Int64
	d := NewDebouncer(10 * time.Millisecond)
	d.Debounce(func() { calls.Add(1) })
	d.Cancel()
	time.Sleep(30 * time.Millisecond)
	require.Equal(t, int64(0), calls.Load())
}

func TestPollingStopsWhenTurnCompletes(t *testing.T) {
	src := newFakeSource()
	src.setMessages(turn(0))

	gate := permission.NewGate(func(ctx context.Context, id, reply string) error { return nil })
	w := NewWatcher(src, gate, fastOptions(nil))
	w.Watch(context.Background(), "ses_1")
	defer w.Close()

	// Burst polling runs while the assistant message is incomplete.
	time.Sleep(50 * time.Millisecond)
	require.Greater(t, src.msgCalls.Load(), int64(2))
	require.Equal(t, activity.Generating, w.Status())

	// Completion is observed on the next poll, then polling stops.
	src.setMessages(turn(99))
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, activity.Idle, w.Status())

	settled := src.msgCalls.Load()
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, settled, src.msgCalls.Load())
}

func TestPushEventTriggersRefetch(t *testing.T) {
	src := newFakeSource()
	src.setMessages(turn(99))

	var mu sync.Mutex
	var snapshots [][]session.MessageWithParts
	gate := permission.NewGate(func(ctx context.Context, id, reply string) error { return nil })
	w := NewWatcher(src, gate, fastOptions(func(msgs []session.MessageWithParts) {
		mu.Lock()
		snapshots = append(snapshots, msgs)
		mu.Unlock()
	}))
	w.Watch(context.Background(), "ses_1")
	defer w.Close()

	time.Sleep(30 * time.Millisecond)
	mu.Lock()
	initial := len(snapshots)
	mu.Unlock()
	require.GreaterOrEqual(t, initial, 1)

	// An invalidation event arrives; the watcher re-fetches rather
	// than trusting any payload.
	longer := append(turn(99), session.MessageWithParts{
		Info: session.MessageInfo{ID: "msg_u2", Role: session.RoleUser, Time: session.MessageTime{Created: 3}},
	})
	src.setMessages(longer)
	src.bus.Publish(events.Event{Type: events.TypeMessageCreated, SessionID: "ses_1"})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(snapshots) > initial && len(snapshots[len(snapshots)-1]) == 3
	}, time.Second, 5*time.Millisecond)
}

func TestEventBurstCoalesced(t *testing.T) {
	src := newFakeSource()
	src.setMessages(turn(99))

	gate := permission.NewGate(func(ctx context.Context, id, reply string) error { return nil })
	w := NewWatcher(src, gate, Options{
		PermissionInterval: time.Hour,
		MessageInterval:    time.Hour,
		Debounce:           30 * time.Millisecond,
	})
	w.Watch(context.Background(), "ses_1")
	defer w.Close()

	time.Sleep(20 * time.Millisecond)
	before := src.msgCalls.Load()

	for i := 0; i < 20; i++ {
		src.bus.Publish(events.Event{Type: events.TypePartUpdated, SessionID: "ses_1"})
		time.Sleep(time.Millisecond)
	}
	time.Sleep(100 * time.Millisecond)

	// Twenty notifications, one quiet period, one re-fetch.
	require.Equal(t, before+1, src.msgCalls.Load())
}

func TestPermissionPollSurfacesGateRequest(t *testing.T) {
	src := newFakeSource()
	src.setMessages(turn(0))

	gate := permission.NewGate(func(ctx context.Context, id, reply string) error { return nil })
	w := NewWatcher(src, gate, fastOptions(nil))
	w.Watch(context.Background(), "ses_1")
	defer w.Close()

	src.setPending([]permission.Request{{ID: "per_1", SessionID: "ses_1", Title: "run ls"}})

	require.Eventually(t, func() bool {
		cur := gate.Current()
		return cur != nil && cur.ID == "per_1"
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return w.Status() == activity.AwaitingApproval
	}, time.Second, 5*time.Millisecond)

	src.setPending(nil)
	require.Eventually(t, func() bool {
		return gate.Current() == nil
	}, time.Second, 5*time.Millisecond)
}

func TestPollingOnlyModeSeesNewTurns(t *testing.T) {
	src := newFakeSource()
	src.eventsDown = true
	src.setMessages(turn(99)) // idle at watch time

	gate := permission.NewGate(func(ctx context.Context, id, reply string) error { return nil })
	w := NewWatcher(src, gate, fastOptions(nil))
	w.Watch(context.Background(), "ses_1")
	defer w.Close()

	// Without push the message poll must keep running even while idle.
	time.Sleep(50 * time.Millisecond)
	require.Greater(t, src.msgCalls.Load(), int64(1))
	require.Equal(t, activity.Idle, w.Status())

	// A turn started elsewhere surfaces through the poll alone.
	src.setMessages(append(turn(99), session.MessageWithParts{
		Info: session.MessageInfo{ID: "msg_u2", Role: session.RoleUser, Time: session.MessageTime{Created: 3}},
	}))
	require.Eventually(t, func() bool {
		return w.Status() == activity.Generating
	}, time.Second, 5*time.Millisecond)
}

func TestStreamDropFallsBackToPolling(t *testing.T) {
	src := newFakeSource()
	streamCtx, dropStream := context.WithCancel(context.Background())
	src.eventsCtx = streamCtx
	src.setMessages(turn(99))

	gate := permission.NewGate(func(ctx context.Context, id, reply string) error { return nil })
	w := NewWatcher(src, gate, fastOptions(nil))
	w.Watch(context.Background(), "ses_1")
	defer w.Close()

	// While push is up and the conversation idle, polling is off.
	time.Sleep(50 * time.Millisecond)
	settled := src.msgCalls.Load()
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, settled, src.msgCalls.Load())

	// The stream drops; the poll takes over and sees the new turn.
	dropStream()
	src.setMessages(append(turn(99), session.MessageWithParts{
		Info: session.MessageInfo{ID: "msg_u2", Role: session.RoleUser, Time: session.MessageTime{Created: 3}},
	}))
	require.Eventually(t, func() bool {
		return w.Status() == activity.Generating
	}, time.Second, 5*time.Millisecond)
}

func TestSessionEventsForwarded(t *testing.T) {
	src := newFakeSource()
	src.setMessages(turn(99))
	subscribed := make(chan struct{})
	src.subscribed = subscribed

	var mu sync.Mutex
	var seen []string
	gate := permission.NewGate(func(ctx context.Context, id, reply string) error { return nil })
	opts := fastOptions(nil)
	opts.OnSession = func(ev events.Event) {
		mu.Lock()
		seen = append(seen, ev.Type)
		mu.Unlock()
	}
	w := NewWatcher(src, gate, opts)
	w.Watch(context.Background(), "ses_1")
	defer w.Close()

	// The bus never redelivers, so wait until the watcher has
	// subscribed before publishing.
	select {
	case <-subscribed:
	case <-time.After(time.Second):
		t.Fatal("watcher never subscribed to the event stream")
	}

	src.bus.Publish(events.Event{Type: events.TypeSessionUpdated, SessionID: "ses_1"})
	src.bus.Publish(events.Event{Type: events.TypeSessionDeleted, SessionID: "ses_1"})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2 && seen[0] == events.TypeSessionUpdated && seen[1] == events.TypeSessionDeleted
	}, time.Second, 5*time.Millisecond)
}

func TestNoCallbacksAfterClose(t *testing.T) {
	src := newFakeSource()
	src.setMessages(turn(0))

	var calls atomic.Int64
	gate := permission.NewGate(func(ctx context.Context, id, reply string) error { return nil })
	w := NewWatcher(src, gate, fastOptions(func([]session.MessageWithParts) {
		calls.Add(1)
	}))
	w.Watch(context.Background(), "ses_1")

	time.Sleep(30 * time.Millisecond)
	w.Close()
	after := calls.Load()

	src.bus.Publish(events.Event{Type: events.TypeMessageCreated, SessionID: "ses_1"})
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, after, calls.Load())
}

func TestWatchSwitchesSessionsCleanly(t *testing.T) {
	src := newFakeSource()
	src.setMessages(turn(99))
	src.setPending([]permission.Request{{ID: "per_old", SessionID: "ses_1", Title: "stale"}})

	gate := permission.NewGate(func(ctx context.Context, id, reply string) error { return nil })
	w := NewWatcher(src, gate, fastOptions(nil))
	w.Watch(context.Background(), "ses_1")

	require.Eventually(t, func() bool {
		return gate.Current() != nil
	}, time.Second, 5*time.Millisecond)

	// Switching sessions clears the surfaced request immediately.
	src.setPending(nil)
	w.Watch(context.Background(), "ses_2")
	defer w.Close()
	require.Nil(t, gate.Current())
}
