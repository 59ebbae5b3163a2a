package realtime

import (
	"fmt"
	"testing"
	"time"
)

func recvOne(t *testing.T, ch <-chan any) any {
	t.Helper()
	select {
	case msg, ok := <-ch:
		if !ok {
			t.Fatal("subscriber channel closed unexpectedly")
		}
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
	return nil
}

func expectNothing(t *testing.T, ch <-chan any) {
	t.Helper()
	select {
	case msg, ok := <-ch:
		if ok {
			t.Fatalf("unexpected message %v", msg)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroadcastReachesAllSubscribers(t *testing.T) {
	hub := NewHub()
	a := hub.Subscribe("cs-1", "ch-a")
	b := hub.Subscribe("cs-1", "ch-b")
	defer hub.Unsubscribe("cs-1", "ch-a")
	defer hub.Unsubscribe("cs-1", "ch-b")

	hub.Broadcast("cs-1", "hello")

	if got := recvOne(t, a); got != "hello" {
		t.Errorf("subscriber a got %v, want hello", got)
	}
	if got := recvOne(t, b); got != "hello" {
		t.Errorf("subscriber b got %v, want hello", got)
	}
}

func TestPublishExceptSkipsSender(t *testing.T) {
	hub := NewHub()
	a := hub.Subscribe("cs-1", "ch-a")
	b := hub.Subscribe("cs-1", "ch-b")
	defer hub.Unsubscribe("cs-1", "ch-a")
	defer hub.Unsubscribe("cs-1", "ch-b")

	hub.PublishExcept("cs-1", "from a", "ch-a")

	if got := recvOne(t, b); got != "from a" {
		t.Errorf("subscriber b got %v, want %q", got, "from a")
	}
	expectNothing(t, a)
}

func TestTopicDeliveryIsOrdered(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe("cs-1", "ch-a")
	defer hub.Unsubscribe("cs-1", "ch-a")

	const n = 20
	for i := 0; i < n; i++ {
		hub.Broadcast("cs-1", fmt.Sprintf("msg-%02d", i))
	}
	for i := 0; i < n; i++ {
		want := fmt.Sprintf("msg-%02d", i)
		if got := recvOne(t, sub); got != want {
			t.Fatalf("message %d = %v, want %q", i, got, want)
		}
	}
}

func TestTopicsAreIsolated(t *testing.T) {
	hub := NewHub()
	a := hub.Subscribe("cs-1", "ch-a")
	b := hub.Subscribe("cs-2", "ch-b")
	defer hub.Unsubscribe("cs-1", "ch-a")
	defer hub.Unsubscribe("cs-2", "ch-b")

	hub.Broadcast("cs-1", "one")

	if got := recvOne(t, a); got != "one" {
		t.Errorf("got %v, want one", got)
	}
	expectNothing(t, b)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe("cs-1", "ch-a")

	hub.Unsubscribe("cs-1", "ch-a")

	select {
	case _, ok := <-sub:
		if ok {
			t.Fatal("expected closed channel, got message")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after unsubscribe")
	}

	hub.mu.Lock()
	_, exists := hub.topics["cs-1"]
	hub.mu.Unlock()
	if exists {
		t.Error("topic should be removed once the last subscriber leaves")
	}
}

func TestSlowSubscriberIsDropped(t *testing.T) {
	hub := NewHub()
	slow := hub.Subscribe("cs-1", "ch-slow")
	fast := hub.Subscribe("cs-1", "ch-fast")
	defer hub.Unsubscribe("cs-1", "ch-fast")

	// Never read from slow; its buffer fills and the topic closes it.
	for i := 0; i < subscriberBuffer+5; i++ {
		hub.Broadcast("cs-1", i)
		recvOne(t, fast)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-slow:
			if !ok {
				hub.Unsubscribe("cs-1", "ch-slow")
				return
			}
		case <-deadline:
			t.Fatal("slow subscriber was never dropped")
		}
	}
}

func TestResubscribeReplacesChannel(t *testing.T) {
	hub := NewHub()
	first := hub.Subscribe("cs-1", "ch-a")
	second := hub.Subscribe("cs-1", "ch-a")
	defer hub.Unsubscribe("cs-1", "ch-a")
	defer hub.Unsubscribe("cs-1", "ch-a")

	select {
	case _, ok := <-first:
		if ok {
			t.Fatal("expected first channel to be closed on reconnect")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("first channel not closed on reconnect")
	}

	hub.Broadcast("cs-1", "after reconnect")
	if got := recvOne(t, second); got != "after reconnect" {
		t.Errorf("got %v, want %q", got, "after reconnect")
	}
}

func TestBroadcastToEmptyTopicIsDropped(t *testing.T) {
	hub := NewHub()
	hub.Broadcast("cs-none", "into the void")

	hub.mu.Lock()
	count := len(hub.topics)
	hub.mu.Unlock()
	if count != 0 {
		t.Errorf("broadcast to empty topic should not create one, have %d topics", count)
	}
}
