package realtime

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestPublishReachesSubscriber(t *testing.T) {
	dispatcher := NewDispatcher()
	stream, cleanup := dispatcher.Subscribe(context.Background())
	defer cleanup()

	dispatcher.Publish(Event{Name: EventAnnouncement, Data: json.RawMessage(`{"blockNumber":1}`)})

	select {
	case event := <-stream:
		if event.Name != EventAnnouncement {
			t.Fatalf("unexpected event name: %s", event.Name)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestPublishReachesAllSubscribers(t *testing.T) {
	dispatcher := NewDispatcher()
	first, cleanupFirst := dispatcher.Subscribe(context.Background())
	defer cleanupFirst()
	second, cleanupSecond := dispatcher.Subscribe(context.Background())
	defer cleanupSecond()

	dispatcher.Publish(Event{Name: EventAccountCreated, Data: json.RawMessage(`{}`)})

	for _, stream := range []<-chan Event{first, second} {
		select {
		case event := <-stream:
			if event.Name != EventAccountCreated {
				t.Fatalf("unexpected event name: %s", event.Name)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestPublishSkipsSlowSubscriber(t *testing.T) {
	dispatcher := NewDispatcher()
	stream, cleanup := dispatcher.Subscribe(context.Background())
	defer cleanup()

	// Fill the buffer and then some; the overflow must be dropped, not
	// block the publisher.
	for i := 0; i < 64; i++ {
		dispatcher.Publish(Event{Name: EventAnnouncement, Data: json.RawMessage(`{}`)})
	}

	received := 0
	for {
		select {
		case <-stream:
			received++
			continue
		default:
		}
		break
	}
	if received == 0 || received >= 64 {
		t.Fatalf("expected buffered subset of events, got %d", received)
	}
}

func TestPublishIgnoresUnnamedEvents(t *testing.T) {
	dispatcher := NewDispatcher()
	stream, cleanup := dispatcher.Subscribe(context.Background())
	defer cleanup()

	dispatcher.Publish(Event{Data: json.RawMessage(`{}`)})

	select {
	case <-stream:
		t.Fatal("unnamed event must not be delivered")
	default:
	}
}

func TestCleanupUnregistersSubscriber(t *testing.T) {
	dispatcher := NewDispatcher()
	_, cleanup := dispatcher.Subscribe(context.Background())
	if count := dispatcher.SubscriberCount(); count != 1 {
		t.Fatalf("expected one subscriber, got %d", count)
	}

	cleanup()
	if count := dispatcher.SubscriberCount(); count != 0 {
		t.Fatalf("expected no subscribers after cleanup, got %d", count)
	}
}

func TestContextCancelUnregistersSubscriber(t *testing.T) {
	dispatcher := NewDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	_, cleanup := dispatcher.Subscribe(ctx)
	defer cleanup()

	cancel()

	deadline := time.Now().Add(time.Second)
	for dispatcher.SubscriberCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber was not unregistered after context cancel")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
