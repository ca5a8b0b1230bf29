package seckill

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dealhub/flashsale/lock"
	"github.com/dealhub/flashsale/observability"
	"github.com/dealhub/flashsale/types"
)

// ConsumerOptions configures the order queue consumer. Group and consumer
// identity are fixed configuration; pending entries belong to this identity
// and are only recovered by a process running under the same one.
type ConsumerOptions struct {
	Stream   string
	Group    string
	Consumer string

	// Block bounds the live-tail read; the loop wakes up at least this often.
	Block time.Duration

	// RecoveryBackoff is the fixed wait between failed pending reads.
	RecoveryBackoff time.Duration

	// LockLease bounds the per-user lock held during persistence.
	LockLease time.Duration

	// MaxDeliveryAttempts caps redeliveries of an undecodable record before
	// it is acknowledged and skipped as poison. Transient failures (store,
	// lock) are not bounded; those records retry until they succeed.
	MaxDeliveryAttempts int
}

// DefaultConsumerOptions returns the default consumer configuration.
func DefaultConsumerOptions() ConsumerOptions {
	return ConsumerOptions{
		Stream:              DefaultStream,
		Group:               "g1",
		Consumer:            "c1",
		Block:               2 * time.Second,
		RecoveryBackoff:     80 * time.Millisecond,
		LockLease:           10 * time.Second,
		MaxDeliveryAttempts: 5,
	}
}

// Consumer drains accepted order intents from the durable stream and turns
// each into a persisted order row, at-least-once with idempotent persistence.
// Exactly one Consumer runs per consumer identity.
type Consumer struct {
	client *redis.Client
	store  OrderStore
	locks  *lock.Lock
	logger types.Logger
	opts   ConsumerOptions

	// failures counts deliveries per record ID for poison detection. Only
	// the single consumer goroutine touches it.
	failures map[string]int
}

// NewConsumer creates a consumer. Run must be called to start draining.
// Zero-valued options fall back to DefaultConsumerOptions.
func NewConsumer(client *redis.Client, store OrderStore, locks *lock.Lock, logger types.Logger, opts ConsumerOptions) *Consumer {
	if logger == nil {
		logger = noopLogger{}
	}
	defaults := DefaultConsumerOptions()
	if opts.Stream == "" {
		opts.Stream = defaults.Stream
	}
	if opts.Group == "" {
		opts.Group = defaults.Group
	}
	if opts.Consumer == "" {
		opts.Consumer = defaults.Consumer
	}
	if opts.Block <= 0 {
		opts.Block = defaults.Block
	}
	if opts.RecoveryBackoff <= 0 {
		opts.RecoveryBackoff = defaults.RecoveryBackoff
	}
	if opts.LockLease <= 0 {
		opts.LockLease = defaults.LockLease
	}
	if opts.MaxDeliveryAttempts <= 0 {
		opts.MaxDeliveryAttempts = defaults.MaxDeliveryAttempts
	}
	return &Consumer{
		client:   client,
		store:    store,
		locks:    locks,
		logger:   logger,
		opts:     opts,
		failures: make(map[string]int),
	}
}

// Run executes the read-acknowledge loop until ctx is cancelled. Records are
// acknowledged only after successful persistence; any iteration failure
// routes through pending recovery before the live tail is read again.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.ensureGroup(ctx); err != nil {
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.opts.Group,
			Consumer: c.opts.Consumer,
			Streams:  []string{c.opts.Stream, ">"},
			Count:    1,
			Block:    c.opts.Block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("order stream read", "error", err)
			c.recoverPending(ctx)
			continue
		}
		if len(streams) == 0 || len(streams[0].Messages) == 0 {
			continue
		}

		msg := streams[0].Messages[0]
		if err := c.handle(ctx, msg); err != nil {
			c.logger.Error("order record processing", "id", msg.ID, "error", err)
			c.recoverPending(ctx)
		}
	}
}

// ensureGroup creates the consumer group at the stream origin, creating the
// stream itself if needed. An already-existing group is fine.
func (c *Consumer) ensureGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.opts.Stream, c.opts.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("seckill: create consumer group: %w", err)
	}
	return nil
}

// errUnrecoverableRecord marks a record that can never be processed no
// matter how often it is redelivered. Only these count toward the poison
// bound; every other failure is treated as transient and retried.
var errUnrecoverableRecord = errors.New("seckill: unrecoverable record")

// handle processes one delivered record: decode, persist, acknowledge.
func (c *Consumer) handle(ctx context.Context, msg redis.XMessage) error {
	intent, err := decodeIntent(msg.Values)
	if err != nil {
		return fmt.Errorf("%w: decode record %s: %v", errUnrecoverableRecord, msg.ID, err)
	}
	if err := c.persist(ctx, intent); err != nil {
		return err
	}
	return c.client.XAck(ctx, c.opts.Stream, c.opts.Group, msg.ID).Err()
}

// recoverPending drains this consumer's own unacknowledged entries from the
// start of its pending list. An entry is never silently dropped: any failure
// backs off and retries the same read, with one exception. A record that can
// never decode is acknowledged and skipped once MaxDeliveryAttempts is
// exhausted; transient failures never consume attempts, so a store outage of
// any length only delays pending records, it cannot lose them.
func (c *Consumer) recoverPending(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.opts.Group,
			Consumer: c.opts.Consumer,
			Streams:  []string{c.opts.Stream, "0"},
			Count:    1,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return
			}
			c.logger.Error("pending list read", "error", err)
			if !c.sleep(ctx) {
				return
			}
			continue
		}
		if len(streams) == 0 || len(streams[0].Messages) == 0 {
			return
		}

		msg := streams[0].Messages[0]
		if err := c.handle(ctx, msg); err != nil {
			if errors.Is(err, errUnrecoverableRecord) {
				c.failures[msg.ID]++
				if c.failures[msg.ID] >= c.opts.MaxDeliveryAttempts {
					c.logger.Error("poison record skipped",
						"id", msg.ID, "attempts", c.failures[msg.ID], "error", err)
					observability.PoisonRecordsTotal.Inc()
					if ackErr := c.client.XAck(ctx, c.opts.Stream, c.opts.Group, msg.ID).Err(); ackErr != nil {
						c.logger.Error("poison record ack", "id", msg.ID, "error", ackErr)
					}
					delete(c.failures, msg.ID)
					continue
				}
			}
			c.logger.Warn("pending record retry", "id", msg.ID, "error", err)
			if !c.sleep(ctx) {
				return
			}
			continue
		}
		delete(c.failures, msg.ID)
		observability.PendingReplaysTotal.Inc()
	}
}

func (c *Consumer) sleep(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(c.opts.RecoveryBackoff):
		return true
	}
}

// persist writes one intent under the per-user lock. The in-lock duplicate
// check is the authoritative one-order-per-user guard, independent of the
// gate's advisory set; it makes redelivery idempotent.
//
// A held lock abandons this attempt with ErrLockNotAcquired: the record
// stays unacknowledged and comes back through the pending list, which is a
// retry rather than a silent drop. Each abandon is counted.
func (c *Consumer) persist(ctx context.Context, intent types.OrderIntent) error {
	lockKey := "lock:order:" + strconv.FormatUint(intent.UserID, 10)

	token, ok, err := c.locks.TryAcquire(ctx, lockKey, c.opts.LockLease)
	if err != nil {
		return err
	}
	if !ok {
		observability.LockAbandonedTotal.Inc()
		c.logger.Warn("order lock contended", "userId", intent.UserID, "orderId", intent.ID)
		return ErrLockNotAcquired
	}
	defer func() {
		if err := c.locks.Release(context.WithoutCancel(ctx), lockKey, token); err != nil {
			c.logger.Warn("order lock release failed", "key", lockKey, "error", err)
		}
	}()

	exists, err := c.store.HasOrder(ctx, intent.UserID, intent.VoucherID)
	if err != nil {
		return err
	}
	if exists {
		c.logger.Warn("duplicate order suppressed", "userId", intent.UserID, "voucherId", intent.VoucherID)
		return nil
	}

	if err := c.store.CreateOrder(ctx, intent); err != nil {
		if errors.Is(err, ErrOutOfStock) {
			// Admission and durable stock disagree. Retrying can never
			// succeed, so the record is consumed; the event is loud.
			c.logger.Error("durable stock exhausted for admitted order",
				"orderId", intent.ID, "voucherId", intent.VoucherID)
			return nil
		}
		return err
	}

	observability.OrdersPersistedTotal.Inc()
	c.logger.Info("order persisted", "orderId", intent.ID, "userId", intent.UserID, "voucherId", intent.VoucherID)
	return nil
}

// decodeIntent parses the flat {id, userId, voucherId} record schema.
func decodeIntent(values map[string]any) (types.OrderIntent, error) {
	var intent types.OrderIntent
	var err error

	if intent.ID, err = uintField(values, "id"); err != nil {
		return types.OrderIntent{}, err
	}
	if intent.UserID, err = uintField(values, "userId"); err != nil {
		return types.OrderIntent{}, err
	}
	if intent.VoucherID, err = uintField(values, "voucherId"); err != nil {
		return types.OrderIntent{}, err
	}
	return intent, nil
}

func uintField(values map[string]any, field string) (uint64, error) {
	raw, ok := values[field]
	if !ok {
		return 0, fmt.Errorf("missing field %q", field)
	}
	s, ok := raw.(string)
	if !ok {
		return 0, fmt.Errorf("field %q is not a string", field)
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("field %q: %w", field, err)
	}
	return v, nil
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
