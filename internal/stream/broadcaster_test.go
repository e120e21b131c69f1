package stream

import (
	"sync"
	"testing"
	"time"

	"github.com/opscope/opscope/internal/model"
)

func TestBroadcastReachesAllSubscribers(t *testing.T) {
	b := NewBroadcaster()
	sub1 := b.Subscribe(8)
	sub2 := b.Subscribe(8)
	defer sub1.Close()
	defer sub2.Close()

	entry := model.LogEntry{Source: "Api", Message: "hello", Level: model.LevelInformation}
	b.PublishEntry(entry)

	for _, sub := range []*Subscription{sub1, sub2} {
		select {
		case event := <-sub.Events():
			if event.Type != EventLogEntry || event.Entry.Message != "hello" {
				t.Fatalf("unexpected event: %+v", event)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber did not receive the entry")
		}
	}
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	b := NewBroadcaster()
	slow := b.Subscribe(2)
	defer slow.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			b.PublishEntry(model.LogEntry{Message: "burst"})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("publisher blocked on a slow subscriber")
	}
	if b.Dropped() == 0 {
		t.Fatalf("expected drops for the full queue")
	}
	// The first two events are still there, at most once each.
	if len(slow.Events()) != 2 {
		t.Fatalf("expected exactly the queue capacity buffered, got %d", len(slow.Events()))
	}
}

func TestLevelChangeAndStatsEvents(t *testing.T) {
	b := NewBroadcaster()
	sub := b.Subscribe(4)
	defer sub.Close()

	b.PublishLevelChange(model.LevelDebug)
	b.PublishStats(model.BufferStats{Count: 7, Capacity: 100})

	event := <-sub.Events()
	if event.Type != EventLevelChange || *event.Level != model.LevelDebug {
		t.Fatalf("unexpected level event: %+v", event)
	}
	event = <-sub.Events()
	if event.Type != EventBufferStats || event.Stats.Count != 7 {
		t.Fatalf("unexpected stats event: %+v", event)
	}
}

func TestCloseDetachesSubscriber(t *testing.T) {
	b := NewBroadcaster()
	sub := b.Subscribe(4)
	sub.Close()
	sub.Close() // idempotent

	if b.SubscriberCount() != 0 {
		t.Fatalf("expected no subscribers after close")
	}
	// Publishing after detach must not panic or deliver.
	b.PublishEntry(model.LogEntry{Message: "late"})
	if _, ok := <-sub.Events(); ok {
		t.Fatalf("closed subscription must yield no further events")
	}
}

func TestHubCloseTerminatesSubscriptions(t *testing.T) {
	b := NewBroadcaster()
	sub := b.Subscribe(4)
	b.Close()

	select {
	case _, ok := <-sub.Events():
		if ok {
			t.Fatalf("expected closed events channel")
		}
	case <-time.After(time.Second):
		t.Fatalf("events channel not closed by hub shutdown")
	}
}

func TestHubCloseRacesSubscriptionClose(t *testing.T) {
	// Hub close and subscriber close race on the same once; neither side may
	// end up holding the hub mutex forever.
	for i := 0; i < 500; i++ {
		b := NewBroadcaster()
		sub := b.Subscribe(1)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			sub.Close()
		}()
		go func() {
			defer wg.Done()
			b.Close()
		}()
		wg.Wait()

		// A stuck mutex would hang both of these.
		b.PublishEntry(model.LogEntry{Message: "after close"})
		if n := b.SubscriberCount(); n != 0 {
			t.Fatalf("expected no subscribers, got %d", n)
		}
	}
}
