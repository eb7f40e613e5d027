package events

import (
	"context"
	"sync"
)

// Bus is an in-process fan-out for Events. Delivery is best effort: a
// subscriber that falls behind loses events rather than blocking the
// publisher. Consumers that need guarantees poll the stores directly;
// the bus only exists to make them poll sooner.
type Bus struct {
	mu   sync.Mutex
	next int
	subs map[int]*subscriber
}

type subscriber struct {
	sessionID string // "" subscribes to all sessions
	ch        chan Event
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]*subscriber)}
}

// Subscribe returns a channel of events for the given session ("" for
// all sessions). The subscription is removed and the channel closed
// when ctx is cancelled.
func (b *Bus) Subscribe(ctx context.Context, sessionID string) <-chan Event {
	sub := &subscriber{sessionID: sessionID, ch: make(chan Event, 64)}

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = sub
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
		close(sub.ch)
	}()

	return sub.ch
}

// Publish delivers the event to every matching subscriber.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		if sub.sessionID != "" && ev.SessionID != "" && sub.sessionID != ev.SessionID {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			// Subscriber is not keeping up. Drop the event; the
			// polling fallback covers the gap.
		}
	}
}
