package events

import (
	"sync"
	"time"
)

// Publisher is the write side of a bus. Components that only emit
// events depend on this.
type Publisher interface {
	Publish(event Event)
}

// EventBus is a Publisher that observers can follow. Every published
// event gets the next sequence number, starting at 1.
type EventBus interface {
	Publisher
	Subscribe(types ...EventType) <-chan Event
	Unsubscribe(ch <-chan Event)
	// History returns the retained events with Seq > after, oldest first.
	History(after uint64) []Event
}

// DefaultHistory is the number of events a MemoryBus retains.
const DefaultHistory = 4096

// subscriberBuffer is how many undelivered events a subscriber may lag.
const subscriberBuffer = 64

// MemoryBus keeps the newest events in a ring so that an observer that
// connects mid-session, like the session monitor, can replay them.
type MemoryBus struct {
	mu   sync.RWMutex
	subs map[<-chan Event]*subscription
	ring []Event
	next int // ring slot the next event goes to
	seq  uint64
}

type subscription struct {
	ch    chan Event
	types []EventType // nil means every type
}

func (s *subscription) wants(t EventType) bool {
	if s.types == nil {
		return true
	}
	for _, want := range s.types {
		if want == t {
			return true
		}
	}
	return false
}

func NewMemoryBus() *MemoryBus {
	return NewMemoryBusWithLimit(DefaultHistory)
}

// NewMemoryBusWithLimit creates a bus retaining at most limit events.
func NewMemoryBusWithLimit(limit int) *MemoryBus {
	return &MemoryBus{
		subs: make(map[<-chan Event]*subscription),
		ring: make([]Event, max(limit, 1)),
	}
}

// Publish stamps event with a sequence number and, if unset, the current
// time, then hands it to every matching subscriber. A subscriber whose
// buffer is full misses the event; the trial loop never waits on an
// observer.
func (b *MemoryBus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.Lock()
	b.seq++
	event.Seq = b.seq
	b.ring[b.next] = event
	b.next = (b.next + 1) % len(b.ring)

	// Sending under the lock keeps Unsubscribe from closing a channel
	// mid-send; the sends never block.
	for _, s := range b.subs {
		if !s.wants(event.Type) {
			continue
		}
		select {
		case s.ch <- event:
		default:
		}
	}
	b.mu.Unlock()
}

// Subscribe returns a channel receiving future events of the given
// types, or of every type when none are given.
func (b *MemoryBus) Subscribe(types ...EventType) <-chan Event {
	s := &subscription{ch: make(chan Event, subscriberBuffer)}
	if len(types) > 0 {
		s.types = append([]EventType(nil), types...)
	}

	b.mu.Lock()
	b.subs[s.ch] = s
	b.mu.Unlock()
	return s.ch
}

// Unsubscribe stops delivery to ch and closes it. Unknown channels are
// ignored.
func (b *MemoryBus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(s.ch)
	}
}

func (b *MemoryBus) History(after uint64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []Event
	b.each(func(e Event) {
		if e.Seq > after {
			out = append(out, e)
		}
	})
	return out
}

// Count returns how many events of typ are in the retained history.
func (b *MemoryBus) Count(typ EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := 0
	b.each(func(e Event) {
		if e.Type == typ {
			n++
		}
	})
	return n
}

// each visits retained events oldest first. Callers hold b.mu.
func (b *MemoryBus) each(fn func(Event)) {
	size := len(b.ring)
	for i := range size {
		e := b.ring[(b.next+i)%size]
		if e.Seq == 0 {
			continue // slot not written yet
		}
		fn(e)
	}
}
