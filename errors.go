package flashsale

import (
	"github.com/dealhub/flashsale/cache"
	"github.com/dealhub/flashsale/seckill"
)

// ErrNotFound is returned when a key resolves to "not found".
var ErrNotFound = cache.ErrNotFound

// ErrInvalidConfig is returned when the configuration is invalid.
var ErrInvalidConfig = cache.ErrInvalidConfig

// ErrRebuildContended is returned when the mutex read strategy exhausts its
// retry window.
var ErrRebuildContended = cache.ErrRebuildContended

// ErrOutOfStock is returned when the durable conditional decrement finds no
// stock left.
var ErrOutOfStock = seckill.ErrOutOfStock

// ErrLockNotAcquired is returned when a persistence attempt abandons on
// lock contention.
var ErrLockNotAcquired = seckill.ErrLockNotAcquired
