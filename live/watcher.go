// Package live keeps a client's view of a session fresh. Push events
// only invalidate; authoritative state is always re-fetched. A fixed
// poll covers whatever push misses: sub-second for permissions, since
// those block the agent, and bursts for messages while a turn is in
// flight. When the push stream is unavailable the message poll runs
// continuously, so the watcher degrades to polling-only rather than
// going blind.
package live

import (
	"context"
	"log"
	"time"

	"github.com/m4xw311/comclerk/activity"
	"github.com/m4xw311/comclerk/errors"
	"github.com/m4xw311/comclerk/events"
	"github.com/m4xw311/comclerk/permission"
	"github.com/m4xw311/comclerk/session"
)

// Default timings.
const (
	DefaultPermissionInterval = 500 * time.Millisecond
	DefaultMessageInterval    = 500 * time.Millisecond
	DefaultDebounce           = 100 * time.Millisecond
)

// Source is what a watcher observes, backed by either local stores or
// a remote server.
type Source interface {
	ListMessages(ctx context.Context, sessionID string) ([]session.MessageWithParts, error)
	ListPermissions(ctx context.Context, sessionID string) ([]permission.Request, error)
	// Events returns a push stream for the session. The channel closes
	// when ctx is cancelled or the stream drops; the watcher keeps
	// polling either way.
	Events(ctx context.Context, sessionID string) (<-chan events.Event, error)
}

// Options tunes a Watcher. Zero values pick the defaults.
type Options struct {
	PermissionInterval time.Duration
	MessageInterval    time.Duration
	Debounce           time.Duration

	// OnMessages receives each fresh message snapshot. Snapshots
	// replace prior state wholesale; they are never merged.
	OnMessages func([]session.MessageWithParts)
	// OnStatus receives activity transitions.
	OnStatus func(activity.Status)
	// OnSession receives session.updated and session.deleted events.
	// The watcher holds no session metadata itself; whoever renders it
	// re-fetches, and a deleted session is the caller's cue to Close.
	OnSession func(events.Event)
}

// Watcher synchronizes one session at a time. All state mutation
// happens on its single run goroutine.
type Watcher struct {
	src     Source
	gate    *permission.Gate
	tracker *activity.Tracker
	opts    Options

	cancel context.CancelFunc
	done   chan struct{}
}

// NewWatcher creates a watcher over src. The gate carries the approval
// state and must be the same one the UI replies through.
func NewWatcher(src Source, gate *permission.Gate, opts Options) *Watcher {
	if opts.PermissionInterval <= 0 {
		opts.PermissionInterval = DefaultPermissionInterval
	}
	if opts.MessageInterval <= 0 {
		opts.MessageInterval = DefaultMessageInterval
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	return &Watcher{
		src:     src,
		gate:    gate,
		tracker: activity.NewTracker(opts.OnStatus),
		opts:    opts,
	}
}

// Status returns the current activity signal.
func (w *Watcher) Status() activity.Status {
	return w.tracker.Status()
}

// Watch attaches to a session and starts synchronizing. Any previous
// watch is stopped first; its in-flight fetches cannot leak into the
// new session because the gate drops observations for detached
// sessions.
func (w *Watcher) Watch(ctx context.Context, sessionID string) {
	w.Close()

	w.gate.Attach(sessionID)
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	go w.run(runCtx, sessionID)
}

// Close stops synchronizing. No callbacks fire after it returns.
func (w *Watcher) Close() {
	if w.cancel == nil {
		return
	}
	w.cancel()
	<-w.done
	w.cancel = nil
}

func (w *Watcher) run(ctx context.Context, sessionID string) {
	defer close(w.done)

	push, err := w.src.Events(ctx, sessionID)
	if err != nil {
		log.Printf("event stream unavailable for %s, polling only: %v", sessionID, err)
		push = nil
	}

	// refetch carries debounced invalidations onto this goroutine.
	refetch := make(chan struct{}, 1)
	debounce := NewDebouncer(w.opts.Debounce)
	defer debounce.Cancel()
	invalidate := func() {
		debounce.Debounce(func() {
			select {
			case refetch <- struct{}{}:
			default:
			}
		})
	}

	permTicker := time.NewTicker(w.opts.PermissionInterval)
	defer permTicker.Stop()

	// The message ticker runs while a turn is in flight, and also
	// whenever push is down: without events the poll is the only way a
	// turn started elsewhere ever becomes visible. A nil channel
	// deselects the case.
	msgTicker := time.NewTicker(w.opts.MessageInterval)
	defer msgTicker.Stop()
	var msgTick <-chan time.Time
	armMsgTick := func(generating bool) {
		if generating || push == nil {
			msgTick = msgTicker.C
		} else {
			msgTick = nil
		}
	}

	armMsgTick(w.fetchMessages(ctx, sessionID))
	w.fetchPermissions(ctx, sessionID)

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-push:
			if !ok {
				// Stream dropped; fall back to polling everything.
				push = nil
				msgTick = msgTicker.C
				continue
			}
			switch ev.Type {
			case events.TypeMessageCreated, events.TypeMessageUpdated, events.TypePartUpdated:
				invalidate()
			case events.TypePermissionUpdated:
				w.fetchPermissions(ctx, sessionID)
			case events.TypeSessionUpdated, events.TypeSessionDeleted:
				if w.opts.OnSession != nil {
					w.opts.OnSession(ev)
				}
			}

		case <-refetch:
			armMsgTick(w.fetchMessages(ctx, sessionID))

		case <-msgTick:
			armMsgTick(w.fetchMessages(ctx, sessionID))

		case <-permTicker.C:
			w.fetchPermissions(ctx, sessionID)
		}
	}
}

// fetchMessages replaces the message snapshot and reports whether the
// turn is still in flight, i.e. whether burst polling should continue.
func (w *Watcher) fetchMessages(ctx context.Context, sessionID string) bool {
	msgs, err := w.src.ListMessages(ctx, sessionID)
	if err != nil {
		if ctx.Err() == nil {
			logFetchError("messages", sessionID, err)
		}
		return true
	}
	if w.opts.OnMessages != nil {
		w.opts.OnMessages(msgs)
	}
	status := w.tracker.Update(msgs, w.gate.Current() != nil)
	return status != activity.Idle
}

func (w *Watcher) fetchPermissions(ctx context.Context, sessionID string) {
	pending, err := w.src.ListPermissions(ctx, sessionID)
	if err != nil {
		if ctx.Err() == nil {
			logFetchError("permissions", sessionID, err)
		}
		return
	}
	w.gate.Observe(sessionID, pending)
}

func logFetchError(what, sessionID string, err error) {
	if errors.IsTransient(err) {
		log.Printf("transient error fetching %s for %s, retrying: %v", what, sessionID, err)
		return
	}
	log.Printf("error fetching %s for %s: %v", what, sessionID, err)
}
