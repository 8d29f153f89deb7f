package realtime

import (
	"context"
	"encoding/json"
	"sync"
)

const (
	// EventAnnouncement is emitted for every announcement received from
	// the content watcher.
	EventAnnouncement = "announcement"
	// EventAccountCreated is emitted when an account-service webhook
	// reports a completed sign-up.
	EventAccountCreated = "account_created"
)

// Event is a named live-update message fanned out to every open subscriber
// stream.
type Event struct {
	Name string
	Data json.RawMessage
}

// Publisher is the half of the dispatcher the webhook ingestion service
// needs: fire-and-forget broadcast, no delivery guarantees.
type Publisher interface {
	Publish(event Event)
}

type subscriber struct {
	id     int64
	stream chan Event
}

// Dispatcher fans events out to all subscribed client streams. Delivery is
// at-most-once per subscriber: a subscriber whose buffer is full misses the
// event, and there is no replay on reconnect.
type Dispatcher struct {
	mu          sync.RWMutex
	subscribers map[int64]*subscriber
	nextID      int64
	bufferSize  int
}

// NewDispatcher returns an empty Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		subscribers: make(map[int64]*subscriber),
		bufferSize:  16,
	}
}

// Subscribe registers a stream that receives every subsequent event until
// the context is done or the cleanup function runs.
func (d *Dispatcher) Subscribe(ctx context.Context) (<-chan Event, func()) {
	sub := &subscriber{
		id:     d.nextSequence(),
		stream: make(chan Event, d.bufferSize),
	}
	d.register(sub)
	cleanup := func() {
		d.unregister(sub.id)
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return sub.stream, cleanup
}

// Publish delivers the event to every open subscriber. Subscribers that
// cannot keep up are skipped rather than blocking the broadcast.
func (d *Dispatcher) Publish(event Event) {
	if event.Name == "" {
		return
	}
	d.mu.RLock()
	copies := make([]*subscriber, 0, len(d.subscribers))
	for _, sub := range d.subscribers {
		copies = append(copies, sub)
	}
	d.mu.RUnlock()

	for _, sub := range copies {
		select {
		case sub.stream <- event:
		default:
		}
	}
}

// SubscriberCount reports the number of open subscriber streams.
func (d *Dispatcher) SubscriberCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers)
}

func (d *Dispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *Dispatcher) register(sub *subscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subscribers[sub.id] = sub
}

func (d *Dispatcher) unregister(id int64) {
	d.mu.Lock()
	delete(d.subscribers, id)
	d.mu.Unlock()
}
