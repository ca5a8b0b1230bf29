package cache

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dealhub/flashsale/observability"
	"github.com/dealhub/flashsale/types"
)

// envelope wraps a payload with an application-level staleness marker. It is
// stored without native expiry, so the store never evicts it; readers decide
// freshness by comparing ExpireTime to the current time.
type envelope struct {
	Data       json.RawMessage `json:"data"`
	ExpireTime time.Time       `json:"expire_time"`
}

func (e *envelope) stale(now time.Time) bool {
	return !e.ExpireTime.After(now)
}

// Client is a stampede-safe read-through cache over the shared store.
//
// Three read strategies are provided as package-level generic functions:
// GetPassThrough (negative caching against penetration), GetWithMutex
// (cluster-wide single rebuild against breakdown) and GetWithLogicalExpire
// (stale-but-available reads with asynchronous rebuilds).
type Client struct {
	store      Store
	locker     Locker
	marshaller Marshaller
	logger     Logger
	local      LocalCache
	opts       Options

	rebuilds *errgroup.Group
	stats    Stats
	now      func() time.Time
}

// New creates a new cache client.
func New(opts Options) (*Client, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	if opts.Marshaller == nil {
		opts.Marshaller = NewJSONMarshaller()
	}
	if opts.Logger == nil {
		opts.Logger = NewNoOpLogger()
	}

	var local LocalCache
	if opts.LocalCacheFactory != nil {
		var err error
		local, err = opts.LocalCacheFactory.Create()
		if err != nil {
			return nil, err
		}
	}

	rebuilds := new(errgroup.Group)
	rebuilds.SetLimit(opts.RebuildWorkers)

	c := &Client{
		store:      opts.Store,
		locker:     opts.Locker,
		marshaller: opts.Marshaller,
		logger:     opts.Logger,
		local:      local,
		opts:       opts,
		rebuilds:   rebuilds,
		now:        time.Now,
	}

	if opts.Invalidator != nil {
		opts.Invalidator.OnInvalidate(c.handleInvalidation)
	}

	return c, nil
}

// Loader fetches a payload from the backing source. Returning (nil, nil)
// means the id has no backing data; that outcome is negatively cached.
type Loader[T any] func(ctx context.Context, id string) (*T, error)

// GetPassThrough reads key prefix+id, falling through to the loader on a
// miss. A confirmed prior miss is answered from the marker without touching
// the loader; a fresh loader miss writes a marker bounded by NullTTL.
func GetPassThrough[T any](ctx context.Context, c *Client, prefix, id string, loader Loader[T], ttl time.Duration) (*T, error) {
	key := prefix + id

	data, found, err := c.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if found {
		return decodeHit[T](c, data)
	}

	atomic.AddInt64(&c.stats.Misses, 1)
	return loadAndFill(ctx, c, key, id, loader, ttl)
}

// GetWithMutex reads like GetPassThrough but guards the rebuild with a
// cluster-wide per-key lock, so at most one process queries the backing
// source per key. Waiters retry on a fixed backoff; the loop is bounded and
// surfaces ErrRebuildContended when the window is exhausted.
func GetWithMutex[T any](ctx context.Context, c *Client, prefix, id string, loader Loader[T], ttl time.Duration) (*T, error) {
	key := prefix + id
	lockKey := "lock:" + key

	for attempt := 0; attempt < c.opts.MutexMaxAttempts; attempt++ {
		data, found, err := c.store.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if found {
			return decodeHit[T](c, data)
		}

		token, ok, err := c.locker.TryAcquire(ctx, lockKey, c.opts.LockLease)
		if err != nil {
			return nil, err
		}
		if !ok {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.opts.MutexBackoff):
			}
			continue
		}

		atomic.AddInt64(&c.stats.Misses, 1)
		value, err := loadAndFill(ctx, c, key, id, loader, ttl)
		if relErr := c.locker.Release(context.WithoutCancel(ctx), lockKey, token); relErr != nil {
			c.logger.Warn("rebuild lock release failed", "key", lockKey, "error", relErr)
		}
		return value, err
	}

	return nil, ErrRebuildContended
}

// GetWithLogicalExpire serves the current envelope even when it is stale;
// staleness only triggers a non-blocking lock attempt and, on success, an
// asynchronous rebuild on the bounded worker pool. An absent envelope means
// the key was never pre-warmed and reads as not found.
func GetWithLogicalExpire[T any](ctx context.Context, c *Client, prefix, id string, loader Loader[T], ttl time.Duration) (*T, error) {
	key := prefix + id

	env, found, err := c.getEnvelope(ctx, key)
	if err != nil {
		return nil, err
	}
	if !found {
		atomic.AddInt64(&c.stats.Misses, 1)
		return nil, ErrNotFound
	}
	atomic.AddInt64(&c.stats.Hits, 1)

	var value T
	if err := c.marshaller.Unmarshal(env.Data, &value); err != nil {
		return nil, err
	}

	if env.stale(c.now()) {
		c.scheduleRebuild(key, func(ctx context.Context) error {
			fresh, err := loader(ctx, id)
			if err != nil {
				return err
			}
			if fresh == nil {
				// The backing row vanished; keep serving the last
				// envelope rather than fabricating an empty one.
				return nil
			}
			return c.SetWithLogicalExpire(ctx, key, fresh, ttl)
		})
	}

	return &value, nil
}

// Set stores a plain entry with a native TTL.
func (c *Client) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := c.marshaller.Marshal(value)
	if err != nil {
		return err
	}
	return c.store.Set(ctx, key, data, ttl)
}

// SetWithLogicalExpire stores an envelope whose staleness is tracked by
// expire_time only; the key itself never expires. Logical and native expiry
// are never mixed on the same key.
func (c *Client) SetWithLogicalExpire(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := c.marshaller.Marshal(value)
	if err != nil {
		return err
	}

	env := envelope{Data: data, ExpireTime: c.now().Add(ttl)}
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}

	if err := c.store.Set(ctx, key, raw, 0); err != nil {
		return err
	}

	if c.local != nil {
		c.local.Set(key, &env, int64(len(raw)))
	}
	if c.opts.Invalidator != nil {
		event := types.InvalidationEvent{Key: key, Sender: c.opts.PodID}
		if err := c.opts.Invalidator.Publish(ctx, event); err != nil {
			c.logger.Warn("invalidation publish failed", "key", key, "error", err)
		}
	}
	return nil
}

// Delete removes a key from the store and the local layer.
func (c *Client) Delete(ctx context.Context, key string) error {
	if c.local != nil {
		c.local.Delete(key)
	}
	return c.store.Delete(ctx, key)
}

// Stats returns read-path statistics.
func (c *Client) Stats() Stats {
	return Stats{
		Hits:     atomic.LoadInt64(&c.stats.Hits),
		Misses:   atomic.LoadInt64(&c.stats.Misses),
		NullHits: atomic.LoadInt64(&c.stats.NullHits),
		Rebuilds: atomic.LoadInt64(&c.stats.Rebuilds),
	}
}

// Close closes the local layer and waits for in-flight rebuilds.
func (c *Client) Close() error {
	err := c.rebuilds.Wait()
	if c.local != nil {
		c.local.Close()
	}
	return err
}

// decodeHit turns a stored value into a result, translating the
// confirmed-miss marker into ErrNotFound.
func decodeHit[T any](c *Client, data []byte) (*T, error) {
	if len(data) == 0 {
		atomic.AddInt64(&c.stats.NullHits, 1)
		return nil, ErrNotFound
	}
	var value T
	if err := c.marshaller.Unmarshal(data, &value); err != nil {
		return nil, err
	}
	atomic.AddInt64(&c.stats.Hits, 1)
	return &value, nil
}

// loadAndFill queries the backing source and writes either the payload or a
// confirmed-miss marker back to the store.
func loadAndFill[T any](ctx context.Context, c *Client, key, id string, loader Loader[T], ttl time.Duration) (*T, error) {
	value, err := loader(ctx, id)
	if err != nil {
		return nil, err
	}
	if value == nil {
		if err := c.store.Set(ctx, key, []byte{}, c.opts.NullTTL); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	if err := c.Set(ctx, key, value, ttl); err != nil {
		return nil, err
	}
	return value, nil
}

// getEnvelope reads an envelope, local layer first. The marker value is
// treated as absent on this path: logical-expiry keys are only ever written
// by successful rebuilds.
func (c *Client) getEnvelope(ctx context.Context, key string) (*envelope, bool, error) {
	if c.local != nil {
		if cached, ok := c.local.Get(key); ok {
			if env, ok := cached.(*envelope); ok {
				return env, true, nil
			}
		}
	}

	data, found, err := c.store.Get(ctx, key)
	if err != nil || !found {
		return nil, false, err
	}
	if len(data) == 0 {
		return nil, false, nil
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, false, err
	}
	if c.local != nil {
		c.local.Set(key, &env, int64(len(data)))
	}
	return &env, true, nil
}

// scheduleRebuild hands a rebuild to the worker pool if the cluster-wide
// lock for the key is free. The caller is never blocked: a held lock or a
// full pool both mean someone else is already on it, or will be soon.
func (c *Client) scheduleRebuild(key string, rebuild func(ctx context.Context) error) {
	lockKey := "lock:" + key
	bg := context.Background()

	token, ok, err := c.locker.TryAcquire(bg, lockKey, c.opts.LockLease)
	if err != nil {
		c.reportRebuild("lock_error", err)
		return
	}
	if !ok {
		return
	}

	started := c.rebuilds.TryGo(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), c.opts.RebuildTimeout)
		defer cancel()
		defer func() {
			if err := c.locker.Release(bg, lockKey, token); err != nil {
				c.logger.Warn("rebuild lock release failed", "key", lockKey, "error", err)
			}
		}()

		atomic.AddInt64(&c.stats.Rebuilds, 1)
		if err := rebuild(ctx); err != nil {
			c.reportRebuild("failed", err)
			return nil
		}
		observability.CacheRebuildsTotal.WithLabelValues("ok").Inc()
		return nil
	})
	if !started {
		if err := c.locker.Release(bg, lockKey, token); err != nil {
			c.logger.Warn("rebuild lock release failed", "key", lockKey, "error", err)
		}
		observability.CacheRebuildsTotal.WithLabelValues("pool_full").Inc()
	}
}

func (c *Client) reportRebuild(outcome string, err error) {
	observability.CacheRebuildsTotal.WithLabelValues(outcome).Inc()
	c.logger.Error("async cache rebuild", "outcome", outcome, "error", err)
	if c.opts.OnError != nil {
		c.opts.OnError(err)
	}
}

// handleInvalidation drops the local copy of a key rebuilt elsewhere.
func (c *Client) handleInvalidation(event types.InvalidationEvent) {
	if c.local == nil || event.Sender == c.opts.PodID {
		return
	}
	c.local.Delete(event.Key)
}
