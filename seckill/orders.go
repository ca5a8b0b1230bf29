package seckill

import (
	"context"
	"errors"
	"sync"

	"github.com/dealhub/flashsale/types"
)

// ErrOutOfStock is returned by CreateOrder when the conditional decrement
// finds no durable stock left.
var ErrOutOfStock = errors.New("seckill: durable stock exhausted")

// ErrLockNotAcquired is returned by persist when the per-user lock is held;
// the record stays unacknowledged and is retried through the pending list.
var ErrLockNotAcquired = errors.New("seckill: order lock not acquired")

// OrderStore is the relational persistence boundary. CreateOrder must
// perform the conditional stock decrement (guarded by stock > 0) and the
// order insert in one transaction.
type OrderStore interface {
	// HasOrder reports whether an order already exists for (user, voucher).
	HasOrder(ctx context.Context, userID, voucherID uint64) (bool, error)

	// CreateOrder decrements durable stock and inserts the order row.
	// Returns ErrOutOfStock when the guarded decrement affects no row.
	CreateOrder(ctx context.Context, intent types.OrderIntent) error
}

// MemoryOrderStore is an in-process OrderStore for tests and local runs.
type MemoryOrderStore struct {
	mu     sync.Mutex
	stock  map[uint64]int64
	orders map[[2]uint64]types.OrderIntent
}

// NewMemoryOrderStore creates an empty in-memory store.
func NewMemoryOrderStore() *MemoryOrderStore {
	return &MemoryOrderStore{
		stock:  make(map[uint64]int64),
		orders: make(map[[2]uint64]types.OrderIntent),
	}
}

// SetStock sets the durable stock for a voucher.
func (m *MemoryOrderStore) SetStock(voucherID uint64, stock int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stock[voucherID] = stock
}

// Stock returns the durable stock for a voucher.
func (m *MemoryOrderStore) Stock(voucherID uint64) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stock[voucherID]
}

// OrderCount returns the number of persisted orders.
func (m *MemoryOrderStore) OrderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

// HasOrder reports whether an order already exists for (user, voucher).
func (m *MemoryOrderStore) HasOrder(ctx context.Context, userID, voucherID uint64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.orders[[2]uint64{userID, voucherID}]
	return ok, nil
}

// CreateOrder decrements stock and records the order atomically under the
// store mutex, mirroring the transactional contract of the relational
// implementation.
func (m *MemoryOrderStore) CreateOrder(ctx context.Context, intent types.OrderIntent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stock[intent.VoucherID] <= 0 {
		return ErrOutOfStock
	}
	m.stock[intent.VoucherID]--
	m.orders[[2]uint64{intent.UserID, intent.VoucherID}] = intent
	return nil
}
