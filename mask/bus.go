package mask

import (
	"sync"
	"sync/atomic"
)

// Snapshot is one published mask state of a group member.
type Snapshot struct {
	// Source is the ID of the publishing member.
	Source string

	// Seq increases by one per publish on the bus.
	Seq uint64

	// Mask is the member's current exclusion mask. Never mutated.
	Mask *Mask
}

// SubscriberStats counts deliveries to one subscriber.
type SubscriberStats struct {
	Sent    uint64
	Dropped uint64
}

type subscriber struct {
	ch    chan Snapshot
	stats SubscriberStats
}

// Bus distributes mask snapshots to the members of a group.
//
// Each subscriber owns a buffered channel. Delivery never blocks the
// publisher: when a subscriber's buffer is full the oldest pending snapshot
// is discarded in favour of the new one.
//
// Thread safety: Bus is safe for concurrent use.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]*subscriber
	seq    atomic.Uint64
	closed bool

	latestMu sync.RWMutex
	latest   *Mask
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string]*subscriber)}
}

// Subscribe registers id and returns its receive channel.
// The channel is closed by Unsubscribe or Close.
func (b *Bus) Subscribe(id string, buffer int) (<-chan Snapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBusClosed
	}
	if _, exists := b.subs[id]; exists {
		return nil, ErrSubscriberExists
	}
	if buffer < 1 {
		buffer = 1
	}
	s := &subscriber{ch: make(chan Snapshot, buffer)}
	b.subs[id] = s
	return s.ch, nil
}

// Publish sends m from source to every other subscriber and records it as
// the group's latest mask.
func (b *Bus) Publish(source string, m *Mask) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	b.latestMu.Lock()
	b.latest = m
	b.latestMu.Unlock()

	snap := Snapshot{Source: source, Seq: b.seq.Add(1), Mask: m}
	for id, s := range b.subs {
		if id == source {
			continue
		}
		deliver(s, snap)
	}
}

// deliver performs a non-blocking send, evicting the oldest pending
// snapshot if the buffer is full.
func deliver(s *subscriber, snap Snapshot) {
	for {
		select {
		case s.ch <- snap:
			atomic.AddUint64(&s.stats.Sent, 1)
			return
		default:
		}
		select {
		case <-s.ch:
			atomic.AddUint64(&s.stats.Dropped, 1)
		default:
		}
	}
}

// Latest returns the most recently published mask, or nil.
func (b *Bus) Latest() *Mask {
	b.latestMu.RLock()
	defer b.latestMu.RUnlock()
	return b.latest
}

// Unsubscribe removes id and closes its channel.
func (b *Bus) Unsubscribe(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.subs[id]
	if !ok {
		return ErrSubscriberNotFound
	}
	close(s.ch)
	delete(b.subs, id)
	return nil
}

// Stats returns delivery counters for id.
func (b *Bus) Stats(id string) (SubscriberStats, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	s, ok := b.subs[id]
	if !ok {
		return SubscriberStats{}, ErrSubscriberNotFound
	}
	return SubscriberStats{
		Sent:    atomic.LoadUint64(&s.stats.Sent),
		Dropped: atomic.LoadUint64(&s.stats.Dropped),
	}, nil
}

// Close closes every subscriber channel. Close is idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, s := range b.subs {
		close(s.ch)
		delete(b.subs, id)
	}
}
