package monitor

import (
	"sync"
	"sync/atomic"
)

// Subscription is one monitor client's queue of encoded events.
type Subscription struct {
	id      uint64
	conn    string
	ch      chan []byte
	dropped atomic.Uint64
}

// C delivers encoded events. It is closed by Unsubscribe.
func (s *Subscription) C() <-chan []byte { return s.ch }

// Dropped returns how many events were discarded because the queue was full.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

func (s *Subscription) wants(connID string) bool {
	return s.conn == "" || s.conn == connID
}

// Broadcaster fans encoded events out to subscribers. Delivery never blocks:
// a subscriber whose queue is full misses the event.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
}

// NewBroadcaster creates a ready-to-use Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[uint64]*Subscription)}
}

// Subscribe registers a subscriber with a queue of depth events. A non-empty
// conn limits delivery to events of that connection.
func (b *Broadcaster) Subscribe(depth int, conn string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := &Subscription{id: b.nextID, conn: conn, ch: make(chan []byte, depth)}
	b.nextID++
	b.subs[sub.id] = sub
	return sub
}

// Unsubscribe removes sub and closes its channel. Calling it twice is safe.
func (b *Broadcaster) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub.id]; ok {
		delete(b.subs, sub.id)
		close(sub.ch)
	}
}

// Send delivers data, an event of connection connID, to every interested
// subscriber.
func (b *Broadcaster) Send(connID string, data []byte) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if !sub.wants(connID) {
			continue
		}
		select {
		case sub.ch <- data:
		default:
			sub.dropped.Add(1)
		}
	}
}

// Len returns the number of subscribers.
func (b *Broadcaster) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
