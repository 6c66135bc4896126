package utils

import (
	"context"
	"errors"
	"time"

	"github.com/ahjam-taoufik/gestion-stock-backend/config"
	"github.com/bsm/redislock"
	"github.com/shopspring/decimal"
)

func NewTrue() *bool {
	b := true
	return &b
}

func NewFalse() *bool {
	b := false
	return &b
}

func DereferencePtr[T any](ptr *T, defaults ...T) T {
	if ptr != nil {
		return *ptr
	}
	var def T
	if len(defaults) > 0 {
		def = defaults[0]
	}
	return def
}

// FormatAmount rounds half-up to two decimal places for display/printing.
// Internal arithmetic stays unrounded; this is the only rounding boundary.
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// ScopedLock serializes a named critical section across instances using redislock.
// Used for per-product stock mutation ("stockLock:<productId>") and per-scope
// document number generation ("docnum:<scope>").
func ScopedLock(ctx context.Context, key string, moduleName string, functionName string) (*redislock.Lock, error) {
	logger := config.GetLogger()
	locker := config.GetRedisLock()
	if locker == nil {
		// Avoid nil-pointer panics when the lock client isn't initialized yet.
		config.LogError(logger, moduleName, functionName, "redis lock not initialized", key, errors.New("redis lock is nil"))
		return nil, errors.New("service not ready (redis lock not initialized)")
	}
	backoff := redislock.LinearBackoff(100 * time.Millisecond)
	lock, err := locker.Obtain(ctx, key, 30*time.Second, &redislock.Options{RetryStrategy: backoff})
	if err == redislock.ErrNotObtained {
		config.LogError(logger, moduleName, functionName, "could not obtain lock", key, err)
		return nil, errors.New("could not obtain lock for " + key)
	} else if err != nil {
		config.LogError(logger, moduleName, functionName, "error obtaining lock", key, err)
		return nil, err
	}
	return lock, nil
}
