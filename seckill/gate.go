// Package seckill implements flash-sale order admission and draining: an
// atomic admission gate over shared counters in Redis, a durable order
// stream, and a consumer that turns accepted intents into persisted orders
// exactly once per (user, voucher) pair.
package seckill

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/dealhub/flashsale/idgen"
	"github.com/dealhub/flashsale/observability"
	"github.com/dealhub/flashsale/types"
)

const (
	stockKeyPrefix = "seckill:stock:"
	orderKeyPrefix = "seckill:order:"

	// DefaultStream is the durable stream carrying accepted order intents.
	DefaultStream = "stream.orders"

	orderNamespace = "order"
)

// admitScript adjudicates an admission in one atomic round trip. No partial
// state is ever observable: stock check, duplicate check, decrement and
// membership insert happen as one unit.
//
// ARGV: voucherId, userId, orderId. Returns 0=accepted, 1=out of stock,
// 2=duplicate order.
var admitScript = redis.NewScript(`
local voucherId = ARGV[1]
local userId = ARGV[2]
local stockKey = 'seckill:stock:' .. voucherId
local orderKey = 'seckill:order:' .. voucherId
local stock = tonumber(redis.call('get', stockKey))
if stock == nil or stock <= 0 then
    return 1
end
if redis.call('sismember', orderKey, userId) == 1 then
    return 2
end
redis.call('incrby', stockKey, -1)
redis.call('sadd', orderKey, userId)
return 0
`)

// Admission is the outcome of TryAdmit. OrderID is set only when Status is
// StatusAccepted.
type Admission struct {
	Status  types.AdmissionStatus
	OrderID uint64
}

// Gate is the single atomic decision point for flash-sale purchases.
type Gate struct {
	client *redis.Client
	ids    *idgen.Generator
	stream string
	logger types.Logger
}

// NewGate creates a new admission gate publishing accepted intents to stream.
func NewGate(client *redis.Client, ids *idgen.Generator, stream string, logger types.Logger) *Gate {
	if stream == "" {
		stream = DefaultStream
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Gate{client: client, ids: ids, stream: stream, logger: logger}
}

// TryAdmit decides accept/reject for one user and voucher. The decision is
// one script round trip; no two concurrent admissions for the same user and
// voucher can both be accepted, and accepted admissions never exceed stock.
//
// On acceptance the intent is appended to the durable stream as a separate
// step. A crash between the decision and the publish loses the intent; a
// failed publish is surfaced as an error alongside the accepted Admission so
// callers can at least observe it.
func (g *Gate) TryAdmit(ctx context.Context, voucherID, userID uint64) (Admission, error) {
	orderID, err := g.ids.NextID(ctx, orderNamespace)
	if err != nil {
		return Admission{}, err
	}

	voucher := strconv.FormatUint(voucherID, 10)
	user := strconv.FormatUint(userID, 10)
	order := strconv.FormatUint(orderID, 10)

	result, err := admitScript.Run(ctx, g.client, []string{}, voucher, user, order).Int64()
	if err != nil {
		return Admission{}, fmt.Errorf("seckill: admission script: %w", err)
	}

	status := types.AdmissionStatus(result)
	observability.AdmissionsTotal.WithLabelValues(status.String()).Inc()

	if status != types.StatusAccepted {
		return Admission{Status: status}, nil
	}

	err = g.client.XAdd(ctx, &redis.XAddArgs{
		Stream: g.stream,
		Values: map[string]any{
			"id":        order,
			"userId":    user,
			"voucherId": voucher,
		},
	}).Err()
	if err != nil {
		g.logger.Error("admitted intent not published", "orderId", orderID, "error", err)
		return Admission{Status: status, OrderID: orderID}, fmt.Errorf("seckill: publish intent: %w", err)
	}

	return Admission{Status: status, OrderID: orderID}, nil
}

// SeedStock initializes the shared stock counter for a voucher and resets
// its order-identity set. Voucher setup proper lives outside this core; this
// is the hook it calls.
func (g *Gate) SeedStock(ctx context.Context, voucherID uint64, stock int64) error {
	voucher := strconv.FormatUint(voucherID, 10)
	if err := g.client.Set(ctx, stockKeyPrefix+voucher, stock, 0).Err(); err != nil {
		return err
	}
	return g.client.Del(ctx, orderKeyPrefix+voucher).Err()
}
