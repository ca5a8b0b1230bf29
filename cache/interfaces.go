package cache

import (
	"context"
	"time"

	"github.com/dealhub/flashsale/types"
)

// Logger is an alias for types.Logger.
type Logger = types.Logger

// Marshaller defines the interface for payload serialization.
type Marshaller interface {
	// Marshal serializes a value to bytes.
	Marshal(v any) ([]byte, error)

	// Unmarshal deserializes a value from bytes.
	Unmarshal(data []byte, v any) error
}

// Store defines the interface for the shared remote store.
//
// Get must distinguish an absent key (found=false) from an existing key
// holding an empty value (found=true, len(value)==0): the empty value is the
// confirmed-miss marker that keeps repeated lookups for nonexistent ids away
// from the backing source.
type Store interface {
	// Get retrieves a value from the store.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)

	// Set stores a value. A zero ttl means no native expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from the store.
	Delete(ctx context.Context, key string) error
}

// Locker defines the interface for the distributed per-key lock used to
// serialize cache rebuilds cluster-wide.
type Locker interface {
	// TryAcquire attempts a non-blocking acquisition with the given lease.
	// On success it returns the token that must be presented to Release.
	TryAcquire(ctx context.Context, key string, lease time.Duration) (token string, ok bool, err error)

	// Release releases the lock only if token matches the current holder.
	Release(ctx context.Context, key, token string) error
}

// Invalidator propagates envelope invalidations to other processes so their
// local copies are dropped after a rebuild.
type Invalidator interface {
	// Publish publishes an invalidation event.
	Publish(ctx context.Context, event types.InvalidationEvent) error

	// OnInvalidate registers a callback for invalidation events.
	OnInvalidate(callback func(event types.InvalidationEvent))
}

// LocalCache defines the interface for the in-process layer in front of the
// remote store. Only logical-expiry envelopes are kept here; they carry
// their own staleness marker, so a locally served copy is never fresher or
// staler than the same copy read remotely.
type LocalCache interface {
	// Get retrieves a value from the local cache.
	Get(key string) (any, bool)

	// Set stores a value in the local cache.
	Set(key string, value any, cost int64) bool

	// Delete removes a value from the local cache.
	Delete(key string)

	// Clear removes all values from the local cache.
	Clear()

	// Close closes the local cache.
	Close()

	// Metrics returns cache metrics.
	Metrics() LocalCacheMetrics
}

// LocalCacheMetrics represents local cache metrics.
type LocalCacheMetrics struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Size      int64
}

// LocalCacheFactory defines the interface for creating local cache
// implementations.
type LocalCacheFactory interface {
	// Create creates a new local cache instance.
	Create() (LocalCache, error)
}

// Stats represents read-path statistics.
type Stats struct {
	Hits     int64
	Misses   int64
	NullHits int64
	Rebuilds int64
}
