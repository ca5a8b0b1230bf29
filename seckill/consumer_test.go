package seckill

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/dealhub/flashsale/idgen"
	"github.com/dealhub/flashsale/lock"
	"github.com/dealhub/flashsale/types"
)

func fastConsumerOptions() ConsumerOptions {
	return ConsumerOptions{
		Stream:              DefaultStream,
		Group:               "g1",
		Consumer:            "c1",
		Block:               20 * time.Millisecond,
		RecoveryBackoff:     5 * time.Millisecond,
		LockLease:           time.Second,
		MaxDeliveryAttempts: 3,
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not reached before deadline")
}

// runConsumer starts the consumer loop and returns a stop function that
// cancels it and waits for exit.
func runConsumer(t *testing.T, c *Consumer) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("consumer exited: %v", err)
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func TestConsumerEndToEnd(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	ctx := context.Background()

	gate := NewGate(client, idgen.New(client), "", nil)
	if err := gate.SeedStock(ctx, 3, 2); err != nil {
		t.Fatalf("SeedStock failed: %v", err)
	}

	store := NewMemoryOrderStore()
	store.SetStock(3, 2)

	for _, user := range []uint64{11, 12} {
		adm, err := gate.TryAdmit(ctx, 3, user)
		if err != nil {
			t.Fatalf("TryAdmit failed: %v", err)
		}
		if adm.Status != types.StatusAccepted {
			t.Fatalf("User %d should be accepted, got %v", user, adm.Status)
		}
	}

	consumer := NewConsumer(client, store, lock.New(client), nil, fastConsumerOptions())
	stop := runConsumer(t, consumer)
	defer stop()

	waitFor(t, 2*time.Second, func() bool { return store.OrderCount() == 2 })

	if stock := store.Stock(3); stock != 0 {
		t.Fatalf("Durable stock should be drained, got %d", stock)
	}

	// Both records must be acknowledged once persisted.
	waitFor(t, 2*time.Second, func() bool {
		pending, err := client.XPending(ctx, DefaultStream, "g1").Result()
		return err == nil && pending.Count == 0
	})
}

func TestPersistIdempotent(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	store := NewMemoryOrderStore()
	store.SetStock(5, 10)
	consumer := NewConsumer(client, store, lock.New(client), nil, fastConsumerOptions())

	intent := types.OrderIntent{ID: 900, UserID: 70, VoucherID: 5}
	for i := 0; i < 2; i++ {
		if err := consumer.persist(context.Background(), intent); err != nil {
			t.Fatalf("persist attempt %d failed: %v", i, err)
		}
	}

	if n := store.OrderCount(); n != 1 {
		t.Fatalf("Redelivery must not duplicate the order, got %d orders", n)
	}
	if stock := store.Stock(5); stock != 9 {
		t.Fatalf("Stock should be decremented exactly once, got %d", stock)
	}
}

func TestPersistLockContended(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	ctx := context.Background()

	locks := lock.New(client)
	_, ok, err := locks.TryAcquire(ctx, "lock:order:70", time.Minute)
	if err != nil || !ok {
		t.Fatalf("pre-acquire failed: ok=%v err=%v", ok, err)
	}

	store := NewMemoryOrderStore()
	store.SetStock(5, 10)
	consumer := NewConsumer(client, store, locks, nil, fastConsumerOptions())

	err = consumer.persist(ctx, types.OrderIntent{ID: 901, UserID: 70, VoucherID: 5})
	if !errors.Is(err, ErrLockNotAcquired) {
		t.Fatalf("Expected ErrLockNotAcquired, got %v", err)
	}
	if n := store.OrderCount(); n != 0 {
		t.Fatalf("No order should be written under contention, got %d", n)
	}
}

func TestPersistOutOfStockConsumesRecord(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	store := NewMemoryOrderStore()
	consumer := NewConsumer(client, store, lock.New(client), nil, fastConsumerOptions())

	err := consumer.persist(context.Background(), types.OrderIntent{ID: 902, UserID: 71, VoucherID: 6})
	if err != nil {
		t.Fatalf("Exhausted durable stock must consume the record, got %v", err)
	}
	if n := store.OrderCount(); n != 0 {
		t.Fatalf("No order should exist, got %d", n)
	}
}

// flakyStore fails the first CreateOrder calls to force records onto the
// pending list.
type flakyStore struct {
	inner *MemoryOrderStore

	mu       sync.Mutex
	failures int
}

func (f *flakyStore) HasOrder(ctx context.Context, userID, voucherID uint64) (bool, error) {
	return f.inner.HasOrder(ctx, userID, voucherID)
}

func (f *flakyStore) CreateOrder(ctx context.Context, intent types.OrderIntent) error {
	f.mu.Lock()
	if f.failures > 0 {
		f.failures--
		f.mu.Unlock()
		return errors.New("store unavailable")
	}
	f.mu.Unlock()
	return f.inner.CreateOrder(ctx, intent)
}

func TestPendingRecoveryAfterStoreFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	ctx := context.Background()

	inner := NewMemoryOrderStore()
	inner.SetStock(4, 1)
	store := &flakyStore{inner: inner, failures: 2}

	gate := NewGate(client, idgen.New(client), "", nil)
	if err := gate.SeedStock(ctx, 4, 1); err != nil {
		t.Fatalf("SeedStock failed: %v", err)
	}
	if _, err := gate.TryAdmit(ctx, 4, 50); err != nil {
		t.Fatalf("TryAdmit failed: %v", err)
	}

	consumer := NewConsumer(client, store, lock.New(client), nil, fastConsumerOptions())
	stop := runConsumer(t, consumer)
	defer stop()

	waitFor(t, 2*time.Second, func() bool { return inner.OrderCount() == 1 })
	waitFor(t, 2*time.Second, func() bool {
		pending, err := client.XPending(ctx, DefaultStream, "g1").Result()
		return err == nil && pending.Count == 0
	})
}

func TestStoreOutageOutlastingDeliveryBound(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	ctx := context.Background()

	// The outage lasts well past MaxDeliveryAttempts. Transient failures
	// must not consume delivery attempts, so the record survives the
	// outage and lands once the store heals.
	inner := NewMemoryOrderStore()
	inner.SetStock(4, 1)
	store := &flakyStore{inner: inner, failures: 8}

	gate := NewGate(client, idgen.New(client), "", nil)
	if err := gate.SeedStock(ctx, 4, 1); err != nil {
		t.Fatalf("SeedStock failed: %v", err)
	}
	if _, err := gate.TryAdmit(ctx, 4, 51); err != nil {
		t.Fatalf("TryAdmit failed: %v", err)
	}

	consumer := NewConsumer(client, store, lock.New(client), nil, fastConsumerOptions())
	stop := runConsumer(t, consumer)
	defer stop()

	waitFor(t, 3*time.Second, func() bool { return inner.OrderCount() == 1 })

	if ok, _ := inner.HasOrder(ctx, 51, 4); !ok {
		t.Fatal("Admitted order must survive an outage longer than the delivery bound")
	}
	waitFor(t, 2*time.Second, func() bool {
		pending, err := client.XPending(ctx, DefaultStream, "g1").Result()
		return err == nil && pending.Count == 0
	})
}

func TestPoisonRecordSkipped(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	ctx := context.Background()

	// A record that can never decode, then a well-formed one behind it.
	if err := client.XAdd(ctx, &redis.XAddArgs{
		Stream: DefaultStream,
		Values: map[string]any{"id": "not-a-number", "userId": "60", "voucherId": "2"},
	}).Err(); err != nil {
		t.Fatalf("XAdd failed: %v", err)
	}
	if err := client.XAdd(ctx, &redis.XAddArgs{
		Stream: DefaultStream,
		Values: map[string]any{"id": "903", "userId": "61", "voucherId": "2"},
	}).Err(); err != nil {
		t.Fatalf("XAdd failed: %v", err)
	}

	store := NewMemoryOrderStore()
	store.SetStock(2, 5)

	consumer := NewConsumer(client, store, lock.New(client), nil, fastConsumerOptions())
	stop := runConsumer(t, consumer)
	defer stop()

	// The poison record is acknowledged after its delivery attempts are
	// exhausted; the healthy record behind it still lands.
	waitFor(t, 3*time.Second, func() bool { return store.OrderCount() == 1 })
	waitFor(t, 3*time.Second, func() bool {
		pending, err := client.XPending(ctx, DefaultStream, "g1").Result()
		return err == nil && pending.Count == 0
	})

	if ok, _ := store.HasOrder(ctx, 61, 2); !ok {
		t.Fatal("Healthy record behind the poison one should be persisted")
	}
}
