// Package stream fans live observability events out to connected observers.
// Delivery is best-effort, at most once per observer per event; a slow
// observer loses events rather than stalling producers.
package stream

import (
	"sync"
	"sync/atomic"

	"github.com/opscope/opscope/internal/model"
	"github.com/opscope/opscope/internal/pkg/metrics"
)

type EventType string

const (
	EventLogEntry    EventType = "log_entry"
	EventLevelChange EventType = "level_change"
	EventBufferStats EventType = "buffer_stats"
)

// Event is one pushed message: exactly one payload field is set, named by Type.
type Event struct {
	Type  EventType          `json:"type"`
	Entry *model.LogEntry    `json:"entry,omitempty"`
	Level *model.Level       `json:"level,omitempty"`
	Stats *model.BufferStats `json:"stats,omitempty"`
}

// Subscription is one observer's handle. Events arrives on a bounded channel;
// Close detaches immediately and is safe to call more than once.
type Subscription struct {
	id     uint64
	events chan Event
	hub    *Broadcaster
	once   sync.Once
}

// Events yields pushed events until the subscription is closed.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.remove(s.id)
		close(s.events)
	})
}

// Broadcaster is the fan-out hub. The ring buffer knows nothing about it; the
// pipeline publishes here after an entry is accepted.
type Broadcaster struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]*Subscription
	closed bool

	dropped atomic.Uint64
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[uint64]*Subscription)}
}

// Subscribe registers an observer with a bounded queue of the given size.
func (b *Broadcaster) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 256
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	sub := &Subscription{
		id:     b.nextID,
		events: make(chan Event, buffer),
		hub:    b,
	}
	if b.closed {
		close(sub.events)
		sub.once.Do(func() {})
		return sub
	}
	b.subs[sub.id] = sub
	return sub
}

// SubscriberCount reports the number of attached observers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped reports how many events were discarded because an observer's queue
// was full.
func (b *Broadcaster) Dropped() uint64 {
	return b.dropped.Load()
}

func (b *Broadcaster) PublishEntry(entry model.LogEntry) {
	b.publish(Event{Type: EventLogEntry, Entry: &entry})
}

func (b *Broadcaster) PublishLevelChange(level model.Level) {
	b.publish(Event{Type: EventLevelChange, Level: &level})
}

func (b *Broadcaster) PublishStats(stats model.BufferStats) {
	b.publish(Event{Type: EventBufferStats, Stats: &stats})
}

// Close detaches all observers. Further publishes are no-ops. The subscriber
// channels are closed only after b.mu is released: a racing Subscription.Close
// takes the same once and then b.mu via hub.remove, so holding b.mu across
// once.Do would deadlock.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	detached := make([]*Subscription, 0, len(b.subs))
	for id, sub := range b.subs {
		delete(b.subs, id)
		detached = append(detached, sub)
	}
	b.mu.Unlock()

	for _, sub := range detached {
		sub.once.Do(func() { close(sub.events) })
	}
}

func (b *Broadcaster) publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, sub := range b.subs {
		select {
		case sub.events <- event:
		default:
			// Queue full: drop for this observer and keep going.
			b.dropped.Add(1)
			metrics.BroadcastDropped.Inc()
		}
	}
}

func (b *Broadcaster) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
}
