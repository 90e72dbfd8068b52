package eventbus

import (
	"context"
	"testing"
	"time"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	b := New(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := b.Subscribe(ctx, TopicSpoofConfirmed)
	b.Publish(ctx, TopicSpoofConfirmed, "peer-x")

	select {
	case ev := <-sub.Ch:
		if ev.Data != "peer-x" {
			t.Errorf("event data = %v, want peer-x", ev.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published event")
	}
}

func TestPublishDropsWhenSubscriberFull(t *testing.T) {
	b := New(1)
	ctx := context.Background()
	sub := b.Subscribe(ctx, TopicControlDropped)

	b.Publish(ctx, TopicControlDropped, 1)
	b.Publish(ctx, TopicControlDropped, 2) // should be dropped, buffer full

	ev := <-sub.Ch
	if ev.Data != 1 {
		t.Errorf("first delivered event = %v, want 1", ev.Data)
	}
	select {
	case ev := <-sub.Ch:
		t.Errorf("unexpected second event delivered: %v", ev.Data)
	default:
	}
}

func TestSubscriberCloseStopsDelivery(t *testing.T) {
	b := New(1)
	ctx, cancel := context.WithCancel(context.Background())
	sub := b.Subscribe(ctx, TopicSecretRotated)
	cancel()
	sub.Close()

	time.Sleep(10 * time.Millisecond)
	_, open := <-sub.Ch
	if open {
		t.Error("expected subscriber channel to be closed after cancellation")
	}
}
