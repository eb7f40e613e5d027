package permission

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/m4xw311/comclerk/events"
)

func askAsync(t *testing.T, store *MemStore, req Request) chan bool {
	t.Helper()
	done := make(chan bool, 1)
	go func() {
		ok, _ := store.Ask(context.Background(), req)
		done <- ok
	}()
	return done
}

func waitPending(t *testing.T, store *MemStore, sessionID string, n int) []Request {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		pending, err := store.ListPending(sessionID)
		require.NoError(t, err)
		if len(pending) == n {
			return pending
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("never saw %d pending requests", n)
	return nil
}

func TestAskBlocksUntilReply(t *testing.T) {
	store := NewMemStore(nil)
	done := askAsync(t, store, Request{SessionID: "ses_1", Type: "command", Title: "run ls"})

	pending := waitPending(t, store, "ses_1", 1)
	select {
	case <-done:
		t.Fatal("Ask returned before a reply")
	default:
	}

	require.NoError(t, store.Reply(pending[0].ID, ReplyOnce))
	require.True(t, <-done)
	waitPending(t, store, "ses_1", 0)
}

func TestRejectDenies(t *testing.T) {
	store := NewMemStore(nil)
	done := askAsync(t, store, Request{SessionID: "ses_1", Type: "command", Title: "run rm"})

	pending := waitPending(t, store, "ses_1", 1)
	require.NoError(t, store.Reply(pending[0].ID, ReplyReject))
	require.False(t, <-done)
}

func TestAlwaysRemembersPattern(t *testing.T) {
	store := NewMemStore(nil)
	done := askAsync(t, store, Request{
		SessionID: "ses_1", Type: "filesystem", Title: "read config",
		Pattern: "/etc/app/*.yaml",
	})

	pending := waitPending(t, store, "ses_1", 1)
	require.NoError(t, store.Reply(pending[0].ID, ReplyAlways))
	require.True(t, <-done)

	// Identical and glob-covered patterns skip the gate entirely.
	ok, err := store.Ask(context.Background(), Request{
		SessionID: "ses_1", Type: "filesystem", Pattern: "/etc/app/*.yaml",
	})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.Ask(context.Background(), Request{
		SessionID: "ses_1", Type: "filesystem", Pattern: "/etc/app/prod.yaml",
	})
	require.NoError(t, err)
	require.True(t, ok)

	// A different type still asks.
	done = askAsync(t, store, Request{
		SessionID: "ses_1", Type: "command", Pattern: "/etc/app/prod.yaml",
	})
	waitPending(t, store, "ses_1", 1)
	select {
	case <-done:
		t.Fatal("pattern leaked across request types")
	default:
	}
	pending, _ = store.ListPending("ses_1")
	require.NoError(t, store.Reply(pending[0].ID, ReplyReject))
	<-done
}

func TestPreapprovedPatternSkipsGate(t *testing.T) {
	store := NewMemStore(nil)
	store.Preapprove(map[string][]string{
		"command":    {"git *"},
		"filesystem": {"/tmp/**"},
	})

	ok, err := store.Ask(context.Background(), Request{
		SessionID: "ses_1", Type: "command", Pattern: "git status",
	})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.Ask(context.Background(), Request{
		SessionID: "ses_1", Type: "filesystem", Pattern: "/tmp/scratch/out.txt",
	})
	require.NoError(t, err)
	require.True(t, ok)
}

func TestAskCancelledByContext(t *testing.T) {
	store := NewMemStore(nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := store.Ask(ctx, Request{SessionID: "ses_1", Type: "command"})
		done <- err
	}()

	waitPending(t, store, "ses_1", 1)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
	waitPending(t, store, "ses_1", 0)
}

func TestPendingOrderedOldestFirst(t *testing.T) {
	store := NewMemStore(nil)
	done1 := askAsync(t, store, Request{ID: "per_a", SessionID: "ses_1", Type: "command", Title: "first"})
	waitPending(t, store, "ses_1", 1)
	done2 := askAsync(t, store, Request{ID: "per_b", SessionID: "ses_1", Type: "command", Title: "second"})

	pending := waitPending(t, store, "ses_1", 2)
	require.Equal(t, "first", pending[0].Title)
	require.Equal(t, "second", pending[1].Title)

	require.NoError(t, store.Reply(pending[0].ID, ReplyOnce))
	require.NoError(t, store.Reply(pending[1].ID, ReplyOnce))
	<-done1
	<-done2
}

func TestAskPublishesPermissionEvent(t *testing.T) {
	bus := events.NewBus()
	store := NewMemStore(bus)

	ctx, cancelSub := context.WithCancel(context.Background())
	defer cancelSub()
	ch := bus.Subscribe(ctx, "ses_1")

	done := askAsync(t, store, Request{SessionID: "ses_1", Type: "command"})

	select {
	case ev := <-ch:
		require.Equal(t, events.TypePermissionUpdated, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("no permission event published")
	}

	pending := waitPending(t, store, "ses_1", 1)
	require.NoError(t, store.Reply(pending[0].ID, ReplyReject))
	<-done
}

func TestReplyUnknownRequest(t *testing.T) {
	store := NewMemStore(nil)
	require.Error(t, store.Reply("per_missing", ReplyOnce))
	require.Error(t, store.Reply("per_missing", "maybe"))
}
