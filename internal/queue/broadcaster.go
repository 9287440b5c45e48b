package queue

import (
	"sync"
)

// subscriber is a client subscribed to queue events
type subscriber struct {
	id   int
	ch   chan Event
	done chan struct{}

	// mu serializes sends with close so ch is never closed mid-send.
	mu       sync.Mutex
	closed   bool
	doneOnce sync.Once
}

func (s *subscriber) send(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- ev:
	case <-s.done:
	}
}

func (s *subscriber) close() {
	// Release a sender blocked on a full channel before taking mu.
	s.doneOnce.Do(func() { close(s.done) })
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Broadcaster manages event subscriptions and broadcasting
type Broadcaster interface {
	Subscribe() (int, <-chan Event)
	Unsubscribe(id int)
	Broadcast(event Event)
	SubscriberCount() int
}

// EventBroadcaster implements the Broadcaster interface. Broadcast blocks
// until every subscriber has taken the event or unsubscribed, so a
// subscriber sees every event in emission order.
type EventBroadcaster struct {
	mu          sync.RWMutex
	subscribers map[int]*subscriber
	nextID      int
}

// NewBroadcaster creates a new event broadcaster
func NewBroadcaster() *EventBroadcaster {
	return &EventBroadcaster{
		subscribers: make(map[int]*subscriber),
		nextID:      1,
	}
}

// Subscribe adds a new subscriber.
// Returns a subscriber ID and event channel
func (b *EventBroadcaster) Subscribe() (int, <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++

	sub := &subscriber{
		id:   id,
		ch:   make(chan Event, 64),
		done: make(chan struct{}),
	}
	b.subscribers[id] = sub
	return id, sub.ch
}

// Unsubscribe removes a subscriber and closes its channel
func (b *EventBroadcaster) Unsubscribe(id int) {
	b.mu.Lock()
	sub, ok := b.subscribers[id]
	delete(b.subscribers, id)
	b.mu.Unlock()

	if ok {
		sub.close()
	}
}

// Broadcast sends an event to all subscribers
func (b *EventBroadcaster) Broadcast(event Event) {
	b.mu.RLock()
	subs := make([]*subscriber, 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		sub.send(event)
	}
}

// SubscriberCount returns the current number of subscribers
func (b *EventBroadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
