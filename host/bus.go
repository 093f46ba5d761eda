package host

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/timewarden/pluginhost/sdk"
)

// defaultQueueSize is the per-subscriber event buffer.
const defaultQueueSize = 64

// Bus fans host events out to subscribers. Each subscriber gets its own
// buffered queue; delivery is a channel send, never a call into plugin code.
// A subscriber that falls behind loses events (logged) instead of blocking
// the publisher.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]*subscription
	logger *slog.Logger
	closed bool
}

// NewBus creates an event bus. A nil logger falls back to slog.Default.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subs:   make(map[string]*subscription),
		logger: logger,
	}
}

type subscription struct {
	id    string
	bus   *Bus
	kinds map[sdk.EventKind]bool // nil means all kinds
	ch    chan sdk.Event
	once  sync.Once
}

func (s *subscription) C() <-chan sdk.Event { return s.ch }

func (s *subscription) Cancel() {
	s.once.Do(func() {
		s.bus.remove(s.id)
		close(s.ch)
	})
}

func (s *subscription) wants(kind sdk.EventKind) bool {
	if s.kinds == nil {
		return true
	}
	return s.kinds[kind]
}

// Subscribe registers a subscriber for the given event kinds, or all kinds
// when none are given.
func (b *Bus) Subscribe(kinds ...sdk.EventKind) sdk.Subscription {
	sub := &subscription{
		id:  uuid.NewString(),
		bus: b,
		ch:  make(chan sdk.Event, defaultQueueSize),
	}
	if len(kinds) > 0 {
		sub.kinds = make(map[sdk.EventKind]bool, len(kinds))
		for _, k := range kinds {
			sub.kinds[k] = true
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		// Late subscribers get an already-closed channel.
		sub.once.Do(func() { close(sub.ch) })
		return sub
	}
	b.subs[sub.id] = sub
	return sub
}

// Publish delivers an event to every matching subscriber's queue.
func (b *Bus) Publish(ev sdk.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if !sub.wants(ev.Kind) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			b.logger.Warn("event dropped for slow subscriber",
				"subscription", sub.id, "kind", string(ev.Kind))
		}
	}
}

// Close cancels all subscriptions. Publishing after Close is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := make([]*subscription, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.subs = make(map[string]*subscription)
	b.mu.Unlock()

	for _, s := range subs {
		s.once.Do(func() { close(s.ch) })
	}
}

func (b *Bus) remove(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
}
