// Package lock implements the distributed per-key mutual-exclusion
// primitive shared by the cache rebuild paths and the order consumer.
//
// Acquisition is a single SET NX PX with an opaque token; the lease bounds
// how long a crashed holder can block others. Release presents the token and
// deletes the key only if it still matches, so a holder whose lease lapsed
// can never free a lock someone else has since acquired.
package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var releaseScript = redis.NewScript(`
if redis.call('get', KEYS[1]) == ARGV[1] then
    return redis.call('del', KEYS[1])
end
return 0
`)

// Lock hands out per-key leases against the shared store. Keys follow the
// "lock:<resource-type>:<resource-id>" convention; the caller builds them.
type Lock struct {
	client *redis.Client
}

// New creates a new lock service on the given client.
func New(client *redis.Client) *Lock {
	return &Lock{client: client}
}

// TryAcquire attempts a non-blocking acquisition. On success it returns the
// token that must be presented to Release. ok=false without an error means
// the lock is held by someone else.
func (l *Lock) TryAcquire(ctx context.Context, key string, lease time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, lease).Result()
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Release frees the lock if token still owns it. Releasing a lock that has
// expired or been taken over is a silent no-op.
func (l *Lock) Release(ctx context.Context, key, token string) error {
	return releaseScript.Run(ctx, l.client, []string{key}, token).Err()
}
