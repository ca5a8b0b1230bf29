package cache

import (
	"errors"
	"time"
)

// LocalCacheConfig configures the local cache.
type LocalCacheConfig struct {
	// NumCounters is the number of counters for the cache (Ristretto only).
	// Recommended: 10 * MaxItems
	NumCounters int64

	// MaxCost is the maximum cost of items in the cache (Ristretto only).
	MaxCost int64

	// BufferItems is the number of items to buffer before eviction (Ristretto only).
	BufferItems int64

	// IgnoreInternalCost ignores the internal cost of items (Ristretto only).
	IgnoreInternalCost bool

	// MaxSize is the maximum number of items in the cache (LRU only).
	MaxSize int
}

// Options configures a Client instance.
type Options struct {
	// PodID identifies this process in invalidation events so it can skip
	// events it published itself.
	PodID string

	// Store is the shared remote store. Required.
	Store Store

	// Locker serializes rebuilds cluster-wide. Required.
	Locker Locker

	// Marshaller serializes payloads. If nil, defaults to JSON.
	Marshaller Marshaller

	// Logger is the logger for the client. If nil, defaults to no-op.
	Logger Logger

	// LocalCacheFactory builds the in-process envelope cache.
	// If nil, no local layer is used.
	LocalCacheFactory LocalCacheFactory

	// Invalidator propagates envelope invalidations after rebuilds.
	// Optional; only useful together with a local cache.
	Invalidator Invalidator

	// NullTTL bounds the lifetime of a confirmed-miss marker.
	NullTTL time.Duration

	// LockLease bounds how long a crashed rebuild holder can block others.
	LockLease time.Duration

	// MutexBackoff is the fixed wait between attempts when the rebuild lock
	// is held by someone else.
	MutexBackoff time.Duration

	// MutexMaxAttempts caps the retry loop of the mutex strategy.
	MutexMaxAttempts int

	// RebuildWorkers bounds the pool running asynchronous envelope rebuilds.
	RebuildWorkers int

	// RebuildTimeout bounds a single asynchronous rebuild.
	RebuildTimeout time.Duration

	// OnError is called when an error occurs in background rebuilds.
	OnError func(error)
}

// DefaultOptions returns default cache options. Store and Locker must still
// be supplied by the caller.
func DefaultOptions() Options {
	return Options{
		PodID:            "default-pod",
		NullTTL:          2 * time.Minute,
		LockLease:        10 * time.Second,
		MutexBackoff:     50 * time.Millisecond,
		MutexMaxAttempts: 20,
		RebuildWorkers:   10,
		RebuildTimeout:   5 * time.Second,
	}
}

// Validate validates the options.
func (o *Options) Validate() error {
	if o.PodID == "" {
		return ErrInvalidConfig
	}
	if o.Store == nil {
		return ErrInvalidConfig
	}
	if o.Locker == nil {
		return ErrInvalidConfig
	}
	if o.NullTTL <= 0 {
		return ErrInvalidConfig
	}
	if o.LockLease <= 0 {
		return ErrInvalidConfig
	}
	if o.MutexBackoff <= 0 || o.MutexMaxAttempts <= 0 {
		return ErrInvalidConfig
	}
	if o.RebuildWorkers <= 0 || o.RebuildTimeout <= 0 {
		return ErrInvalidConfig
	}
	return nil
}

// DefaultLocalCacheConfig returns default local cache configuration.
func DefaultLocalCacheConfig() LocalCacheConfig {
	return LocalCacheConfig{
		NumCounters:        1e5,
		MaxCost:            1 << 26, // 64MB of envelopes is plenty for hot keys
		BufferItems:        64,
		IgnoreInternalCost: false,
		MaxSize:            10000,
	}
}

// ErrInvalidConfig is returned when options are invalid.
var ErrInvalidConfig = errors.New("invalid cache configuration")

// ErrNotFound is returned when a key resolves to "not found", either because
// the backing source has no row for it or because a confirmed-miss marker is
// cached.
var ErrNotFound = errors.New("cache: not found")

// ErrRebuildContended is returned by the mutex strategy when the rebuild
// lock stayed contended for the whole bounded retry window.
var ErrRebuildContended = errors.New("cache: rebuild lock contended")
