package events

import (
	"context"
	"testing"
)

func TestPublishGlobMatch(t *testing.T) {
	b := New(nil)
	sub := b.Subscribe("agent.*.completed", 4, DropNewest)
	defer sub.Unsubscribe()

	if err := b.Publish(context.Background(), Event{Name: "agent.research.completed", Language: LangNative}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := b.Publish(context.Background(), Event{Name: "tool.research.completed", Language: LangNative}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case ev := <-sub.Chan():
		if ev.Name != "agent.research.completed" {
			t.Fatalf("got %q, want agent.research.completed", ev.Name)
		}
	default:
		t.Fatal("expected a matched event to be delivered")
	}

	select {
	case ev := <-sub.Chan():
		t.Fatalf("unexpected second delivery %+v, pattern should not match tool.*", ev)
	default:
	}
}

func TestPublishDropNewestOnFullChannel(t *testing.T) {
	b := New(nil)
	sub := b.Subscribe("x", 1, DropNewest)
	defer sub.Unsubscribe()

	if err := b.Publish(context.Background(), Event{Name: "x"}); err != nil {
		t.Fatalf("Publish 1: %v", err)
	}
	if err := b.Publish(context.Background(), Event{Name: "x"}); err != nil {
		t.Fatalf("Publish 2 (should drop, not error): %v", err)
	}
	if len(sub.ch) != 1 {
		t.Fatalf("expected exactly 1 buffered event, got %d", len(sub.ch))
	}
}

func TestPublishErrorPolicyReportsFullSubscriber(t *testing.T) {
	b := New(nil)
	sub := b.Subscribe("x", 1, ErrorPolicy)
	defer sub.Unsubscribe()

	if err := b.Publish(context.Background(), Event{Name: "x"}); err != nil {
		t.Fatalf("Publish 1: %v", err)
	}
	if err := b.Publish(context.Background(), Event{Name: "x"}); err != ErrSubscriberFull {
		t.Fatalf("got %v, want ErrSubscriberFull", err)
	}
}

func TestPublishDropOldestKeepsMostRecent(t *testing.T) {
	b := New(nil)
	sub := b.Subscribe("x", 1, DropOldest)
	defer sub.Unsubscribe()

	if err := b.Publish(context.Background(), Event{Name: "x", Payload: "first"}); err != nil {
		t.Fatalf("Publish 1: %v", err)
	}
	if err := b.Publish(context.Background(), Event{Name: "x", Payload: "second"}); err != nil {
		t.Fatalf("Publish 2: %v", err)
	}
	ev := <-sub.Chan()
	if ev.Payload != "second" {
		t.Fatalf("got %v, want second (oldest should have been dropped)", ev.Payload)
	}
}

func TestFlowControllerRateLimits(t *testing.T) {
	fc, err := NewFlowController(1, "1h", 1)
	if err != nil {
		t.Fatalf("NewFlowController: %v", err)
	}
	if !fc.Allow() {
		t.Fatal("first call should be allowed (burst=1)")
	}
	if fc.Allow() {
		t.Fatal("second call should be rate limited with a 1-hour refill window")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New(nil)
	sub := b.Subscribe("x", 4, DropNewest)
	sub.Unsubscribe()

	if err := b.Publish(context.Background(), Event{Name: "x"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	_, ok := <-sub.Chan()
	if ok {
		t.Fatal("unsubscribed channel should not receive events")
	}
}
