package sync

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/dealhub/flashsale/types"
)

func newTestClient(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestPublishReachesOtherPod(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	receiver := NewPubSubSynchronizer(client, "cache:invalidate", "pod-b")
	received := make(chan types.InvalidationEvent, 1)
	receiver.OnInvalidate(func(event types.InvalidationEvent) {
		received <- event
	})
	if err := receiver.Subscribe(ctx); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer receiver.Close()

	sender := NewPubSubSynchronizer(client, "cache:invalidate", "pod-a")
	if err := sender.Publish(ctx, types.InvalidationEvent{Key: "shop:1", Sender: "pod-a"}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case event := <-received:
		if event.Key != "shop:1" || event.Sender != "pod-a" {
			t.Fatalf("Unexpected event: %+v", event)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Invalidation event never arrived")
	}
}

func TestOwnEventsAreSkipped(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	ps := NewPubSubSynchronizer(client, "cache:invalidate", "pod-a")
	received := make(chan types.InvalidationEvent, 1)
	ps.OnInvalidate(func(event types.InvalidationEvent) {
		received <- event
	})
	if err := ps.Subscribe(ctx); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer ps.Close()

	if err := ps.Publish(ctx, types.InvalidationEvent{Key: "shop:1", Sender: "pod-a"}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case event := <-received:
		t.Fatalf("Own event should be skipped, got %+v", event)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestMalformedPayloadIgnored(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	ps := NewPubSubSynchronizer(client, "cache:invalidate", "pod-a")
	received := make(chan types.InvalidationEvent, 1)
	ps.OnInvalidate(func(event types.InvalidationEvent) {
		received <- event
	})
	if err := ps.Subscribe(ctx); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer ps.Close()

	if err := client.Publish(ctx, "cache:invalidate", "not json").Err(); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if err := client.Publish(ctx, "cache:invalidate", `{"key":"shop:2","sender":"pod-b"}`).Err(); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case event := <-received:
		if event.Key != "shop:2" {
			t.Fatalf("Expected the well-formed event, got %+v", event)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Well-formed event never arrived")
	}
}
