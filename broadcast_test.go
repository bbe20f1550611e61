package main

import (
	"testing"
	"time"
)

func TestBroadcast_DeliversToAllSubscribers(t *testing.T) {
	b := NewBroadcast()
	a := b.Subscribe()
	c := b.Subscribe()
	b.Publish([]byte("hi"))

	for _, sub := range []*Subscriber{a, c} {
		select {
		case chunk := <-sub.Chunks:
			if string(chunk) != "hi" {
				t.Fatalf("expected 'hi', got %q", chunk)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for chunk")
		}
	}
}

func TestBroadcast_CloseEndsAllSubscribers(t *testing.T) {
	b := NewBroadcast()
	sub := b.Subscribe()
	b.Close()

	select {
	case _, ok := <-sub.Chunks:
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for close")
	}
}

func TestBroadcast_LaggingSubscriberIsDropped(t *testing.T) {
	b := NewBroadcast()
	sub := b.Subscribe()

	for i := 0; i < broadcastSubscriberCapacity+10; i++ {
		b.Publish([]byte{byte(i)})
	}

	select {
	case <-sub.Lagged:
	case <-time.After(time.Second):
		t.Fatal("expected Lagged to fire for a subscriber that never drains")
	}
}

func TestBroadcast_SlowSubscriberDoesNotBlockPublish(t *testing.T) {
	b := NewBroadcast()
	_ = b.Subscribe() // never drained

	done := make(chan struct{})
	go func() {
		for i := 0; i < broadcastSubscriberCapacity*2; i++ {
			b.Publish([]byte{byte(i)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a non-draining subscriber")
	}
}

func TestBroadcast_UnsubscribeStopsDelivery(t *testing.T) {
	b := NewBroadcast()
	sub := b.Subscribe()
	sub.Unsubscribe()

	select {
	case _, ok := <-sub.Chunks:
		if ok {
			t.Fatal("expected closed channel after unsubscribe")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out")
	}

	// Publishing afterward must not panic or deadlock.
	b.Publish([]byte("x"))
}
