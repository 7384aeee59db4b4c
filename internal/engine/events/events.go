// Package events fans committed raffle events out to in-process subscribers, a recent
// history buffer and external sinks.
package events

import (
	"context"
	"sync"

	lottery "github.com/R3E-Network/raffle/packages/com.r3e.services.lottery/service"
)

// DefaultHistory is the number of events kept for Recent when no size is given.
const DefaultHistory = 256

// DefaultSubscriberBuffer bounds each subscriber channel.
const DefaultSubscriberBuffer = 64

// EventFilter decides whether a subscriber receives an event.
type EventFilter func(lottery.Event) bool

// Broker keeps a ring of recent events and forwards each event to its subscribers.
// A subscriber that falls behind loses events instead of blocking the publisher.
type Broker struct {
	mu          sync.RWMutex
	events      []lottery.Event
	size        int
	head        int
	count       int
	subscribers map[int64]*subscriber
	nextID      int64
}

type subscriber struct {
	ch      chan lottery.Event
	filter  EventFilter
	dropped uint64
}

var _ lottery.EventPublisher = (*Broker)(nil)

// NewBroker creates a broker that remembers the last size events.
func NewBroker(size int) *Broker {
	if size <= 0 {
		size = DefaultHistory
	}
	return &Broker{
		events:      make([]lottery.Event, size),
		size:        size,
		subscribers: make(map[int64]*subscriber),
	}
}

// Publish records event and delivers it to matching subscribers.
func (b *Broker) Publish(_ context.Context, event lottery.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events[b.head] = event
	b.head = (b.head + 1) % b.size
	if b.count < b.size {
		b.count++
	}

	for _, sub := range b.subscribers {
		if sub.filter != nil && !sub.filter(event) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			sub.dropped++
		}
	}
	return nil
}

// Subscribe returns a channel of future events and a function that closes it.
func (b *Broker) Subscribe(buffer int, filter EventFilter) (<-chan lottery.Event, func()) {
	_, ch, cancel := b.SubscribeWithHistory(buffer, filter, 0)
	return ch, cancel
}

// SubscribeWithHistory returns up to n matching past events (newest first) together with
// a subscription that starts right after the newest of them. No event is in both.
func (b *Broker) SubscribeWithHistory(buffer int, filter EventFilter, n int) ([]lottery.Event, <-chan lottery.Event, func()) {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	sub := &subscriber{ch: make(chan lottery.Event, buffer), filter: filter}

	b.mu.Lock()
	history := b.recentLocked(n, filter)
	id := b.nextID
	b.nextID++
	b.subscribers[id] = sub
	b.mu.Unlock()

	var once sync.Once
	return history, sub.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subscribers, id)
			b.mu.Unlock()
			close(sub.ch)
		})
	}
}

// Subscribers returns the number of active subscriptions.
func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Recent returns up to n events, newest first.
func (b *Broker) Recent(n int) []lottery.Event {
	return b.recent(n, nil)
}

// RecentByType returns up to n events of eventType, newest first.
func (b *Broker) RecentByType(eventType lottery.EventType, n int) []lottery.Event {
	return b.recent(n, func(e lottery.Event) bool { return e.Type == eventType })
}

func (b *Broker) recent(n int, filter EventFilter) []lottery.Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.recentLocked(n, filter)
}

func (b *Broker) recentLocked(n int, filter EventFilter) []lottery.Event {
	if n <= 0 || b.count == 0 {
		return []lottery.Event{}
	}
	result := make([]lottery.Event, 0, min(n, b.count))
	for i := 0; i < b.count && len(result) < n; i++ {
		idx := (b.head - 1 - i + b.size) % b.size
		if filter == nil || filter(b.events[idx]) {
			result = append(result, b.events[idx])
		}
	}
	return result
}

// Count returns the number of events held.
func (b *Broker) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}
