package utils

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Saahi30/OJT-INVENTORY-MANGEMENT/config"
	"github.com/bsm/redislock"
)

// SkuLock obtains a best-effort cross-instance lock for one SKU and returns a
// release func. Reliability must not depend on Redis: the database row lock in
// the pessimistic path is what actually guarantees exclusivity, this only
// avoids wasted row-lock contention between instances. When Redis is down or
// the lock is not obtained, the caller proceeds without it.
func SkuLock(ctx context.Context, skuId string, ttl time.Duration, moduleName string, functionName string) (release func(), obtained bool) {
	logger := config.GetLogger()
	locker := config.GetRedisLock()
	if locker == nil {
		return func() {}, false
	}
	lockKey := fmt.Sprintf("sku-lock:%s", skuId)
	lock, err := locker.Obtain(ctx, lockKey, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return func() {}, false
	} else if err != nil {
		config.LogError(logger, moduleName, functionName, "Error obtaining redis lock for SKU", skuId, err)
		return func() {}, false
	}
	return func() {
		if releaseErr := lock.Release(ctx); releaseErr != nil && !errors.Is(releaseErr, redislock.ErrLockNotHeld) {
			config.LogError(logger, moduleName, functionName, "Failed to release redis lock for SKU", skuId, releaseErr)
		}
	}, true
}
