package flashsale

import (
	"github.com/dealhub/flashsale/cache"
	"github.com/dealhub/flashsale/seckill"
	"github.com/dealhub/flashsale/types"
)

// Logger is an alias for types.Logger.
type Logger = types.Logger

// Marshaller is an alias for cache.Marshaller.
type Marshaller = cache.Marshaller

// LocalCache is an alias for cache.LocalCache.
type LocalCache = cache.LocalCache

// LocalCacheFactory is an alias for cache.LocalCacheFactory.
type LocalCacheFactory = cache.LocalCacheFactory

// LocalCacheConfig is an alias for cache.LocalCacheConfig.
type LocalCacheConfig = cache.LocalCacheConfig

// Stats is an alias for cache.Stats.
type Stats = cache.Stats

// OrderIntent is an alias for types.OrderIntent.
type OrderIntent = types.OrderIntent

// OrderStore is an alias for seckill.OrderStore.
type OrderStore = seckill.OrderStore

// Admission is an alias for seckill.Admission.
type Admission = seckill.Admission

// AdmissionStatus is an alias for types.AdmissionStatus.
type AdmissionStatus = types.AdmissionStatus

// Admission status values.
const (
	StatusAccepted       = types.StatusAccepted
	StatusOutOfStock     = types.StatusOutOfStock
	StatusDuplicateOrder = types.StatusDuplicateOrder
)

// DefaultLocalCacheConfig returns default local cache configuration.
func DefaultLocalCacheConfig() LocalCacheConfig {
	return cache.DefaultLocalCacheConfig()
}
