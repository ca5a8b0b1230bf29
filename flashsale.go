// Package flashsale wires the stampede-safe cache and the flash-sale order
// admission pipeline against a shared Redis store.
package flashsale

import (
	"context"
	"time"

	"github.com/dealhub/flashsale/cache"
	"github.com/dealhub/flashsale/idgen"
	"github.com/dealhub/flashsale/lock"
	"github.com/dealhub/flashsale/seckill"
	"github.com/dealhub/flashsale/storage"
	flashsync "github.com/dealhub/flashsale/sync"
	"github.com/dealhub/flashsale/types"
)

// Config configures a Core instance.
type Config struct {
	// PodID is the unique identifier for this process. Used to skip
	// self-published invalidation events.
	PodID string

	// RedisAddr is the Redis server address (e.g., "localhost:6379").
	RedisAddr string

	// RedisPassword is the optional Redis password.
	RedisPassword string

	// RedisDB is the Redis database number.
	RedisDB int

	// InvalidationChannel is the pub/sub channel for envelope invalidation.
	// Empty disables cross-process invalidation.
	InvalidationChannel string

	// LocalCacheFactory builds the in-process envelope cache. Nil disables
	// the local layer.
	LocalCacheFactory cache.LocalCacheFactory

	// NullTTL bounds negative-cache entries. Zero takes the default.
	NullTTL time.Duration

	// LockLease bounds rebuild and persistence locks. Zero takes the default.
	LockLease time.Duration

	// RebuildWorkers bounds the async rebuild pool. Zero takes the default.
	RebuildWorkers int

	// Orders is the relational persistence boundary. Nil disables the
	// consumer (admission still works; intents accumulate on the stream).
	Orders seckill.OrderStore

	// Consumer configures the order queue consumer.
	Consumer seckill.ConsumerOptions

	// Logger is used by all components. Nil defaults to no-op.
	Logger types.Logger
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		PodID:               "default-pod",
		RedisAddr:           "localhost:6379",
		InvalidationChannel: "cache:invalidate",
		LocalCacheFactory:   cache.NewLFUCacheFactory(cache.DefaultLocalCacheConfig()),
		Consumer:            seckill.DefaultConsumerOptions(),
	}
}

// Core bundles the wired components. The consumer's Run loop is not started
// here; the owning process starts it on a dedicated goroutine.
type Core struct {
	Cache    *cache.Client
	Locks    *lock.Lock
	IDs      *idgen.Generator
	Gate     *seckill.Gate
	Consumer *seckill.Consumer

	store        *storage.RedisStore
	synchronizer *flashsync.PubSubSynchronizer
}

// New wires a Core from the configuration.
func New(cfg Config) (*Core, error) {
	store, err := storage.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, err
	}
	client := store.GetClient()

	locks := lock.New(client)
	ids := idgen.New(client)

	opts := cache.DefaultOptions()
	opts.PodID = cfg.PodID
	opts.Store = store
	opts.Locker = locks
	opts.Logger = cfg.Logger
	opts.LocalCacheFactory = cfg.LocalCacheFactory
	if cfg.NullTTL > 0 {
		opts.NullTTL = cfg.NullTTL
	}
	if cfg.LockLease > 0 {
		opts.LockLease = cfg.LockLease
	}
	if cfg.RebuildWorkers > 0 {
		opts.RebuildWorkers = cfg.RebuildWorkers
	}

	var synchronizer *flashsync.PubSubSynchronizer
	if cfg.InvalidationChannel != "" {
		synchronizer = flashsync.NewPubSubSynchronizer(client, cfg.InvalidationChannel, cfg.PodID)
		if err := synchronizer.Subscribe(context.Background()); err != nil {
			store.Close()
			return nil, err
		}
		opts.Invalidator = synchronizer
	}

	cacheClient, err := cache.New(opts)
	if err != nil {
		if synchronizer != nil {
			synchronizer.Close()
		}
		store.Close()
		return nil, err
	}

	gate := seckill.NewGate(client, ids, cfg.Consumer.Stream, cfg.Logger)

	var consumer *seckill.Consumer
	if cfg.Orders != nil {
		consumer = seckill.NewConsumer(client, cfg.Orders, locks, cfg.Logger, cfg.Consumer)
	}

	return &Core{
		Cache:        cacheClient,
		Locks:        locks,
		IDs:          ids,
		Gate:         gate,
		Consumer:     consumer,
		store:        store,
		synchronizer: synchronizer,
	}, nil
}

// Close releases all resources.
func (c *Core) Close() error {
	var errs []error

	if err := c.Cache.Close(); err != nil {
		errs = append(errs, err)
	}
	if c.synchronizer != nil {
		if err := c.synchronizer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.store.Close(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}
