// Package eventbus implements the kernel's in-memory typed pub/sub: a
// named-topic bus with per-subscriber bounded queues and a drop-oldest
// slow-consumer policy. Publishers never block.
package eventbus

import (
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
)

// DefaultBufferSize is the default bound on a subscription's pending queue.
const DefaultBufferSize = 256

// Event is one published item. Payload is conceptually immutable once
// published; callers must not mutate a payload they no longer own.
type Event struct {
	Topic   string
	Payload any
}

// Subscription is a live registration returned by Subscribe. Events matching
// Pattern are delivered on Events() in FIFO order relative to any single
// publishing goroutine.
type Subscription struct {
	id      uint64
	pattern string
	events  chan Event
	bus     *Bus
	dropped atomic.Int64

	closeOnce sync.Once
}

// Events returns the channel callers should range over to receive events.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Dropped returns the number of events dropped for this subscription so far
// due to a full buffer.
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

// Bus is a hierarchical-topic pub/sub. Topic names are dotted strings
// ("process.spawned", "agent.thought"); Subscribe patterns match on segment
// boundaries as a prefix ("process" matches "process.spawned" but not
// "processx.spawned").
type Bus struct {
	mu         sync.RWMutex
	subs       map[uint64]*Subscription
	nextID     uint64
	bufferSize int
	logger     *slog.Logger
}

// Option configures a Bus.
type Option func(*Bus)

// WithBufferSize overrides the default per-subscription buffer size.
func WithBufferSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.bufferSize = n
		}
	}
}

// WithLogger sets the logger used for dropped-event warnings. Defaults to
// slog.Default() when unset.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// New creates an empty Bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		subs:       make(map[uint64]*Subscription),
		bufferSize: DefaultBufferSize,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers interest in topics matching pattern and returns the
// subscription handle. Pattern "" matches every topic.
func (b *Bus) Subscribe(pattern string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{
		id:      b.nextID,
		pattern: pattern,
		events:  make(chan Event, b.bufferSize),
		bus:     b,
	}
	b.subs[sub.id] = sub
	return sub
}

// Unsubscribe removes the subscription. Safe to call more than once.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	delete(b.subs, sub.id)
	b.mu.Unlock()

	sub.closeOnce.Do(func() {
		close(sub.events)
	})
}

// Publish fans payload out to every subscription whose pattern matches
// topic. Publish never blocks: a subscriber whose queue is full has its
// oldest pending event dropped, a single subscriber.lagged event enqueued in
// its place, and the new event delivered.
func (b *Bus) Publish(topic string, payload any) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	evt := Event{Topic: topic, Payload: payload}
	for _, sub := range b.subs {
		if !matches(sub.pattern, topic) {
			continue
		}
		b.deliver(sub, evt)
	}
}

func (b *Bus) deliver(sub *Subscription, evt Event) {
	select {
	case sub.events <- evt:
		return
	default:
	}

	// Buffer full: drop the oldest pending event, then retry once.
	select {
	case <-sub.events:
		sub.dropped.Add(1)
		b.logger.Warn("eventbus: subscriber buffer full, dropped oldest event", "pattern", sub.pattern, "topic", evt.Topic)
	default:
	}

	select {
	case sub.events <- evt:
	default:
		// Lost a race with another publisher; drop this event too rather
		// than block.
		sub.dropped.Add(1)
		return
	}

	if sub.dropped.Load() == 1 {
		lagged := Event{Topic: "subscriber.lagged", Payload: map[string]any{"pattern": sub.pattern}}
		select {
		case sub.events <- lagged:
		default:
		}
	}
}

// matches implements prefix-on-segment-boundary matching: pattern "a.b"
// matches topic "a.b" and "a.b.c" but not "a.bc".
func matches(pattern, topic string) bool {
	if pattern == "" {
		return true
	}
	if pattern == topic {
		return true
	}
	return strings.HasPrefix(topic, pattern+".")
}
