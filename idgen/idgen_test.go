package idgen

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestGenerator(t *testing.T) *Generator {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return New(client)
}

func TestNextIDMonotonicWithinDay(t *testing.T) {
	g := newTestGenerator(t)
	g.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	ctx := context.Background()

	var prev uint64
	for i := 0; i < 10000; i++ {
		id, err := g.NextID(ctx, "x")
		if err != nil {
			t.Fatalf("NextID failed at %d: %v", i, err)
		}
		if id <= prev {
			t.Fatalf("ID %d not strictly increasing: %d after %d", i, id, prev)
		}
		prev = id
	}
}

func TestNextIDSignBitClear(t *testing.T) {
	g := newTestGenerator(t)
	g.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }

	id, err := g.NextID(context.Background(), "x")
	if err != nil {
		t.Fatalf("NextID failed: %v", err)
	}
	if id>>63 != 0 {
		t.Fatalf("Sign bit should be zero, got id %b", id)
	}
}

func TestNextIDDayRollover(t *testing.T) {
	g := newTestGenerator(t)
	ctx := context.Background()

	g.now = func() time.Time { return time.Date(2025, 6, 1, 23, 59, 59, 0, time.UTC) }
	before, err := g.NextID(ctx, "x")
	if err != nil {
		t.Fatalf("NextID failed: %v", err)
	}

	// The counter restarts on the new date key, but the timestamp in the
	// high bits keeps the ordering consistent with arrival time.
	g.now = func() time.Time { return time.Date(2025, 6, 2, 0, 0, 1, 0, time.UTC) }
	after, err := g.NextID(ctx, "x")
	if err != nil {
		t.Fatalf("NextID failed: %v", err)
	}

	if after <= before {
		t.Fatalf("IDs across rollover should keep increasing: %d then %d", before, after)
	}
	if after&0xFFFFFFFF != 1 {
		t.Fatalf("Sequence should restart at 1 on a new day, got %d", after&0xFFFFFFFF)
	}
}

func TestNextIDNamespacesIndependent(t *testing.T) {
	g := newTestGenerator(t)
	g.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	ctx := context.Background()

	if _, err := g.NextID(ctx, "order"); err != nil {
		t.Fatalf("NextID failed: %v", err)
	}
	id, err := g.NextID(ctx, "refund")
	if err != nil {
		t.Fatalf("NextID failed: %v", err)
	}
	if id&0xFFFFFFFF != 1 {
		t.Fatalf("Fresh namespace should start at sequence 1, got %d", id&0xFFFFFFFF)
	}
}

func TestNextIDStoreFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	g := New(client)

	mr.Close()

	if _, err := g.NextID(context.Background(), "x"); err == nil {
		t.Fatal("NextID should fail when the store is unreachable")
	}
}
