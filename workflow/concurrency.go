package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/Saahi30/OJT-INVENTORY-MANGEMENT/models"
	"github.com/Saahi30/OJT-INVENTORY-MANGEMENT/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// UpdateStrategy mutates one SKU's ledger row safely under contention. Both
// implementations share models.ApplyDelta as the conditional-write primitive
// and the same contract: reserving requires available >= reservedDelta,
// moving reserved to allocated requires reserved >= allocatedDelta. Failures
// are distinguishable: utils.ErrorRecordNotFound, utils.ErrorInsufficientStock,
// utils.ErrorVersionConflict / utils.ErrorLockTimeout.
//
// ApplyItemDelta runs inside the caller's transaction and returns the
// before/after ledger values for audit.
type UpdateStrategy interface {
	Name() models.LockStrategy
	ApplyItemDelta(ctx context.Context, tx *gorm.DB, skuId uuid.UUID, reservedDelta int64, allocatedDelta int64) (before *models.InventoryLevel, after *models.InventoryLevel, err error)
}

// checkDeltas validates the business preconditions against a ledger read.
func checkDeltas(level *models.InventoryLevel, reservedDelta int64, allocatedDelta int64) error {
	if reservedDelta > 0 && level.AvailableQty() < reservedDelta {
		return fmt.Errorf("%w: sku %s has %d available, %d requested",
			utils.ErrorInsufficientStock, level.SkuId, level.AvailableQty(), reservedDelta)
	}
	if allocatedDelta > 0 && level.ReservedQty < allocatedDelta {
		return fmt.Errorf("%w: sku %s has %d reserved, %d to allocate",
			utils.ErrorInsufficientStock, level.SkuId, level.ReservedQty, allocatedDelta)
	}
	return nil
}

func shifted(level *models.InventoryLevel, reservedDelta int64, allocatedDelta int64) *models.InventoryLevel {
	after := *level
	after.ReservedQty += reservedDelta
	after.AllocatedQty += allocatedDelta
	after.Version++
	return &after
}

// OptimisticStrategy detects conflicts after the fact through the ledger's
// version counter: read, check, conditionally write, and on version mismatch
// re-read and retry up to MaxRetries times. Exhausting retries reports
// ErrorVersionConflict; the caller decides how to surface it.
type OptimisticStrategy struct {
	MaxRetries int
}

func (s *OptimisticStrategy) Name() models.LockStrategy {
	return models.LockStrategyOptimistic
}

func (s *OptimisticStrategy) ApplyItemDelta(ctx context.Context, tx *gorm.DB, skuId uuid.UUID, reservedDelta int64, allocatedDelta int64) (*models.InventoryLevel, *models.InventoryLevel, error) {
	attempts := s.MaxRetries
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 0; attempt < attempts; attempt++ {
		// After a failed CAS the re-read must be a locking read: under
		// REPEATABLE READ a plain re-read returns the transaction snapshot, so
		// the version would never advance and every retry would fail the same
		// way.
		level, err := models.GetInventoryLevel(tx, skuId, attempt > 0)
		if err != nil {
			return nil, nil, err
		}
		if err := checkDeltas(level, reservedDelta, allocatedDelta); err != nil {
			return nil, nil, err
		}

		ok, err := models.ApplyDelta(tx, skuId, reservedDelta, allocatedDelta, &level.Version)
		if err != nil {
			return nil, nil, err
		}
		if ok {
			return level, shifted(level, reservedDelta, allocatedDelta), nil
		}
		// Version moved under us; next loop iteration re-reads.
	}
	return nil, nil, fmt.Errorf("%w: sku %s after %d attempts", utils.ErrorVersionConflict, skuId, attempts)
}

// PessimisticStrategy prevents conflicts up front: a timeout-bounded
// in-process shard lock rejects same-process contention cheaply, an optional
// best-effort Redis lock does the same across instances, and the row lock
// taken by SELECT ... FOR UPDATE is the actual cross-process guarantee. The
// read-check-write sequence runs as one critical section; all locks are
// released on every exit path.
type PessimisticStrategy struct {
	Locks   *LockTable
	Timeout time.Duration
}

func (s *PessimisticStrategy) Name() models.LockStrategy {
	return models.LockStrategyPessimistic
}

func (s *PessimisticStrategy) ApplyItemDelta(ctx context.Context, tx *gorm.DB, skuId uuid.UUID, reservedDelta int64, allocatedDelta int64) (*models.InventoryLevel, *models.InventoryLevel, error) {
	// Redis first: once the in-process lock is held the only network calls
	// allowed are to the ledger's own store.
	releaseRedis, _ := utils.SkuLock(ctx, skuId.String(), s.Timeout, "workflow", "PessimisticStrategy.ApplyItemDelta")
	defer releaseRedis()

	release, err := s.Locks.Acquire(ctx, skuId, s.Timeout)
	if err != nil {
		return nil, nil, err
	}
	defer release()

	level, err := models.GetInventoryLevel(tx, skuId, true)
	if err != nil {
		return nil, nil, err
	}
	if err := checkDeltas(level, reservedDelta, allocatedDelta); err != nil {
		return nil, nil, err
	}

	// Row is locked, so no version check is needed; the conditional guards in
	// ApplyDelta still apply as a backstop.
	ok, err := models.ApplyDelta(tx, skuId, reservedDelta, allocatedDelta, nil)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, fmt.Errorf("%w: sku %s", utils.ErrorInsufficientStock, skuId)
	}
	return level, shifted(level, reservedDelta, allocatedDelta), nil
}
