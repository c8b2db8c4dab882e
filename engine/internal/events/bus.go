package events

import (
	"sync"
	"sync/atomic"

	"venue-execution-engine/engine/internal/logger"
)

// Publisher is the narrow interface producers depend on
type Publisher interface {
	Publish(e Event)
}

// Subscription receives events of the kinds it asked for
type Subscription struct {
	ch    chan Event
	kinds map[Kind]bool
	name  string
	queue *backlog
}

// backlog is the unbounded buffer behind a SubscribeUnbounded subscription.
// A pump goroutine moves queued events into the subscription channel.
type backlog struct {
	mu     sync.Mutex
	items  []Event
	signal chan struct{}
	done   chan struct{}
}

func (q *backlog) push(e Event) {
	q.mu.Lock()
	q.items = append(q.items, e)
	q.mu.Unlock()
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *backlog) pop() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	e := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return e, true
}

func (q *backlog) pump(out chan Event) {
	defer close(out)
	for {
		e, ok := q.pop()
		if !ok {
			select {
			case <-q.signal:
				continue
			case <-q.done:
				return
			}
		}
		select {
		case out <- e:
		case <-q.done:
			return
		}
	}
}

// Backlog returns how many events wait in an unbounded subscription's queue
func (s *Subscription) Backlog() int {
	if s.queue == nil {
		return 0
	}
	s.queue.mu.Lock()
	defer s.queue.mu.Unlock()
	return len(s.queue.items)
}

func (s *Subscription) close() {
	if s.queue != nil {
		close(s.queue.done)
		return
	}
	close(s.ch)
}

// Events returns the receive side of the subscription
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

func (s *Subscription) wants(k Kind) bool {
	return len(s.kinds) == 0 || s.kinds[k]
}

// Bus fans events out to subscribers without ever blocking the publisher.
// A bounded subscriber whose buffer is full misses the event; an unbounded
// one queues it.
type Bus struct {
	mu      sync.RWMutex
	subs    []*Subscription
	dropped atomic.Uint64
	log     *logger.Logger
}

// NewBus creates an empty bus
func NewBus(log *logger.Logger) *Bus {
	if log == nil {
		log = logger.Nop()
	}
	return &Bus{log: log}
}

// Subscribe registers a buffered subscriber; no kinds means every kind
func (b *Bus) Subscribe(name string, buffer int, kinds ...Kind) *Subscription {
	if buffer <= 0 {
		buffer = 1
	}
	sub := &Subscription{
		ch:    make(chan Event, buffer),
		kinds: make(map[Kind]bool, len(kinds)),
		name:  name,
	}
	for _, k := range kinds {
		sub.kinds[k] = true
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
	return sub
}

// SubscribeUnbounded registers a subscriber that never misses an event.
// Its queue grows while the consumer is busy; use it for state that must
// see every event, such as settlements.
func (b *Bus) SubscribeUnbounded(name string, kinds ...Kind) *Subscription {
	sub := &Subscription{
		ch:    make(chan Event),
		kinds: make(map[Kind]bool, len(kinds)),
		name:  name,
		queue: &backlog{
			signal: make(chan struct{}, 1),
			done:   make(chan struct{}),
		},
	}
	for _, k := range kinds {
		sub.kinds[k] = true
	}
	go sub.queue.pump(sub.ch)

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes the subscriber and closes its channel
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, s := range b.subs {
		if s == sub {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			s.close()
			return
		}
	}
}

// Publish delivers e to every interested subscriber
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if !sub.wants(e.Kind()) {
			continue
		}
		if sub.queue != nil {
			sub.queue.push(e)
			continue
		}
		select {
		case sub.ch <- e:
		default:
			b.dropped.Add(1)
			b.log.Warnf("event bus: subscriber %s full, dropped %s", sub.name, e.Kind())
		}
	}
}

// Dropped returns how many deliveries were skipped because a buffer was full
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close unsubscribes everyone
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs {
		s.close()
	}
	b.subs = nil
}
