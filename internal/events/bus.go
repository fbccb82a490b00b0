// Package events provides the in-process event stream for sync activity.
// Queue, monitor, and orchestrator publish typed events; the API server
// bridges them to WebSocket clients.
package events

import (
	"sync"
	"time"
)

// Type identifies an event kind.
type Type string

const (
	TypeItemAdded           Type = "item_added"
	TypeItemSucceeded       Type = "item_succeeded"
	TypeItemFailed          Type = "item_failed"
	TypeItemRetryScheduled  Type = "item_retry_scheduled"
	TypeProcessingStarted   Type = "processing_started"
	TypeProcessingCompleted Type = "processing_completed"
	TypeConnectivityChanged Type = "connectivity_changed"
	TypeSyncStarted         Type = "sync_started"
	TypeSyncCompleted       Type = "sync_completed"
)

// Event is one occurrence on the bus. Data carries an immutable snapshot
// (item copy, pass summary, state pair, run result) owned by the event.
type Event struct {
	Type Type        `json:"type"`
	At   time.Time   `json:"at"`
	Data interface{} `json:"data,omitempty"`
}

// subscriber is one registered listener with its delivery buffer.
type subscriber struct {
	ch      chan Event
	dropped int64
}

// Bus is a non-blocking fan-out of events to subscribers.
// Publish never stalls: a subscriber whose buffer is full loses the event.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]*subscriber
	nextID int
	closed bool
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{
		subs: make(map[int]*subscriber),
	}
}

// Subscribe registers a listener with the given buffer size and returns its
// channel plus an unsubscribe func. Unsubscribing closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscriber{ch: make(chan Event, buffer)}
	if b.closed {
		close(sub.ch)
		return sub.ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = sub

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub.ch)
			}
		})
	}
	return sub.ch, cancel
}

// Publish delivers evt to every subscriber without blocking. A zero At is
// stamped with the current time.
func (b *Bus) Publish(evt Event) {
	if evt.At.IsZero() {
		evt.At = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	for _, sub := range b.subs {
		select {
		case sub.ch <- evt:
		default:
			// Subscriber buffer is full, the event is lost for them
			sub.dropped++
		}
	}
}

// Emit publishes an event of the given type with data.
func (b *Bus) Emit(t Type, data interface{}) {
	b.Publish(Event{Type: t, Data: data})
}

// Dropped returns the total number of events lost across all current
// subscribers.
func (b *Bus) Dropped() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var total int64
	for _, sub := range b.subs {
		total += sub.dropped
	}
	return total
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close terminates every subscriber channel. Publish after Close is a no-op
// and Subscribe after Close returns a closed channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
}
