// Package events implements the core's best-effort domain-event broadcast:
// position opened/updated/closed, price updates, service status. Per spec
// §5's concurrency model, this is the "explicitly bounded broadcast with
// drop-oldest policy for observability streams" design note — never the
// unbounded-subscriber pattern design note #4 calls out for replacement.
package events

import (
	"sync"
	"time"
)

// Kind names a broadcast event category.
type Kind string

const (
	KindPositionOpened Kind = "position_opened"
	KindPositionUpdated Kind = "position_updated"
	KindPositionClosed Kind = "position_closed"
	KindPriceUpdated   Kind = "price_updated"
	KindServiceStatus  Kind = "service_status"
)

// Event is one broadcast item. Payload is whatever concrete struct the
// producer chose (e.g. positions.Position, pooltypes.PriceResult); readers
// type-switch on Kind before asserting it.
type Event struct {
	Kind      Kind
	At        time.Time
	Payload   any
}

// subscriber is one bounded, drop-oldest mailbox.
type subscriber struct {
	mu      sync.Mutex
	ch      chan Event
	closed  bool
}

func newSubscriber(capacity int) *subscriber {
	return &subscriber{ch: make(chan Event, capacity)}
}

// send delivers ev, dropping the oldest buffered event first if the
// subscriber's mailbox is full — producers never block on a slow reader.
func (s *subscriber) send(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for {
		select {
		case s.ch <- ev:
			return
		default:
		}
		select {
		case <-s.ch:
		default:
		}
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Bus is the shared broadcast point. Zero value is not usable; use New.
type Bus struct {
	mu          sync.Mutex
	subscribers map[*subscriber]struct{}
	capacity    int
}

// New builds a Bus whose subscriber mailboxes hold up to capacity events
// each before drop-oldest kicks in.
func New(capacity int) *Bus {
	if capacity <= 0 {
		capacity = 64
	}
	return &Bus{subscribers: make(map[*subscriber]struct{}), capacity: capacity}
}

// Publish fans ev out to every current subscriber. Never blocks.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	subs := make([]*subscriber, 0, len(b.subscribers))
	for s := range b.subscribers {
		subs = append(subs, s)
	}
	b.mu.Unlock()
	for _, s := range subs {
		s.send(ev)
	}
}

// Subscription is a handle a caller ranges over and must Close when done.
type Subscription struct {
	bus *Bus
	sub *subscriber
}

// C returns the receive channel. It is closed by Close.
func (s *Subscription) C() <-chan Event { return s.sub.ch }

// Close stops delivery and releases the subscriber slot.
func (s *Subscription) Close() {
	s.bus.mu.Lock()
	delete(s.bus.subscribers, s.sub)
	s.bus.mu.Unlock()
	s.sub.close()
}

// Subscribe registers a new bounded, drop-oldest listener.
func (b *Bus) Subscribe() *Subscription {
	sub := newSubscriber(b.capacity)
	b.mu.Lock()
	b.subscribers[sub] = struct{}{}
	b.mu.Unlock()
	return &Subscription{bus: b, sub: sub}
}
