package models

import (
	"context"
	"time"

	"github.com/Saahi30/OJT-INVENTORY-MANGEMENT/config"
	"github.com/Saahi30/OJT-INVENTORY-MANGEMENT/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// InventoryLevel is the canonical per-SKU ledger row: the only durable source
// of truth for availability. Version increments on every successful mutation.
type InventoryLevel struct {
	SkuId        uuid.UUID `gorm:"type:char(36);primaryKey" json:"sku_id"`
	TotalQty     int64     `gorm:"not null;default:0" json:"total_qty"`
	ReservedQty  int64     `gorm:"not null;default:0" json:"reserved_qty"`
	AllocatedQty int64     `gorm:"not null;default:0" json:"allocated_qty"`
	Version      int64     `gorm:"not null;default:1" json:"version"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (InventoryLevel) TableName() string {
	return "inventory_levels"
}

// AvailableQty is total - reserved - allocated; never stored, always derived.
func (l *InventoryLevel) AvailableQty() int64 {
	return l.TotalQty - l.ReservedQty - l.AllocatedQty
}

// GetInventoryLevel reads one ledger row. With forUpdate the row is locked
// (SELECT ... FOR UPDATE) for the remainder of the surrounding transaction.
func GetInventoryLevel(tx *gorm.DB, skuId uuid.UUID, forUpdate bool) (*InventoryLevel, error) {
	var level InventoryLevel
	q := tx
	if forUpdate {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	if err := q.Where("sku_id = ?", skuId).First(&level).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &level, nil
}

// ApplyDelta is the ledger's single conditional-write primitive. Counters
// shift by the given deltas and version increments by 1 in ONE atomic UPDATE.
// When expectedVersion is non-nil the write only succeeds if the stored
// version still equals it. The WHERE clause also guards non-negativity of
// every counter and of the derived available quantity, so a concurrent writer
// can never push the row into an invalid state between our read and write.
// Returns false (no mutation) on version mismatch, missing SKU, or a
// would-be invariant violation.
func ApplyDelta(tx *gorm.DB, skuId uuid.UUID, reservedDelta int64, allocatedDelta int64, expectedVersion *int64) (bool, error) {
	sql := `
		UPDATE inventory_levels
		SET reserved_qty = reserved_qty + ?,
		    allocated_qty = allocated_qty + ?,
		    version = version + 1,
		    updated_at = NOW()
		WHERE sku_id = ?
		  AND reserved_qty + ? >= 0
		  AND allocated_qty + ? >= 0
		  AND total_qty - (reserved_qty + ?) - (allocated_qty + ?) >= 0`
	args := []interface{}{
		reservedDelta, allocatedDelta, skuId,
		reservedDelta, allocatedDelta, reservedDelta, allocatedDelta,
	}
	if expectedVersion != nil {
		sql += ` AND version = ?`
		args = append(args, *expectedVersion)
	}

	result := tx.Exec(sql, args...)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// AdjustTotalQuantity moves total_qty by delta (operator action, audited as
// MANUAL_ADJUST). The conditional UPDATE refuses any adjustment that would
// leave available below zero.
func AdjustTotalQuantity(ctx context.Context, skuId uuid.UUID, delta int64, actor string) (*InventoryLevel, error) {
	db := config.GetDB()

	tx := db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}

	before, err := GetInventoryLevel(tx, skuId, true)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	result := tx.Exec(`
		UPDATE inventory_levels
		SET total_qty = total_qty + ?,
		    version = version + 1,
		    updated_at = NOW()
		WHERE sku_id = ?
		  AND total_qty + ? >= 0
		  AND (total_qty + ?) - reserved_qty - allocated_qty >= 0`,
		delta, skuId, delta, delta)
	if result.Error != nil {
		tx.Rollback()
		return nil, result.Error
	}
	if result.RowsAffected != 1 {
		tx.Rollback()
		return nil, utils.ErrorInsufficientStock
	}

	after := *before
	after.TotalQty += delta
	after.Version++
	if err := createAuditLog(tx, nil, &skuId, AuditOperationManualAdjust, delta, before, &after, actor); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return &after, nil
}

// AvailabilityRow is the read-side view served by GET /availability.
type AvailabilityRow struct {
	SkuId        uuid.UUID `json:"sku_id"`
	TotalQty     int64     `json:"total_qty"`
	ReservedQty  int64     `json:"reserved_qty"`
	AllocatedQty int64     `json:"allocated_qty"`
	AvailableQty int64     `json:"available_qty"`
	Version      int64     `json:"version"`
}

// GetAvailability returns the availability snapshot for the given SKUs, or
// for every SKU when skuIds is empty.
func GetAvailability(ctx context.Context, skuIds []uuid.UUID) ([]AvailabilityRow, error) {
	db := config.GetDB()

	var levels []InventoryLevel
	q := db.WithContext(ctx)
	if len(skuIds) > 0 {
		q = q.Where("sku_id IN ?", skuIds)
	}
	if err := q.Find(&levels).Error; err != nil {
		return nil, err
	}

	rows := make([]AvailabilityRow, 0, len(levels))
	for _, l := range levels {
		rows = append(rows, AvailabilityRow{
			SkuId:        l.SkuId,
			TotalQty:     l.TotalQty,
			ReservedQty:  l.ReservedQty,
			AllocatedQty: l.AllocatedQty,
			AvailableQty: l.AvailableQty(),
			Version:      l.Version,
		})
	}
	return rows, nil
}

type InconsistentSku struct {
	SkuId               string `json:"sku_id"`
	Issue               string `json:"issue"`
	CalculatedAvailable int64  `json:"calculated_available"`
	TotalQty            int64  `json:"total_qty"`
	ReservedQty         int64  `json:"reserved_qty"`
	AllocatedQty        int64  `json:"allocated_qty"`
}

type ConsistencyReport struct {
	IsConsistent     bool              `json:"is_consistent"`
	TotalSkus        int               `json:"total_skus"`
	InconsistentSkus []InconsistentSku `json:"inconsistent_skus"`
	Timestamp        time.Time         `json:"timestamp"`
}

// CheckConsistency flags every SKU whose derived available quantity is
// negative. A non-empty result means the non-negativity invariant was
// violated somewhere and should be treated as a defect.
func CheckConsistency(ctx context.Context) (*ConsistencyReport, error) {
	db := config.GetDB()

	var levels []InventoryLevel
	if err := db.WithContext(ctx).Find(&levels).Error; err != nil {
		return nil, err
	}

	inconsistent := make([]InconsistentSku, 0)
	for _, l := range levels {
		if l.AvailableQty() < 0 {
			inconsistent = append(inconsistent, InconsistentSku{
				SkuId:               l.SkuId.String(),
				Issue:               "negative_available",
				CalculatedAvailable: l.AvailableQty(),
				TotalQty:            l.TotalQty,
				ReservedQty:         l.ReservedQty,
				AllocatedQty:        l.AllocatedQty,
			})
		}
	}

	return &ConsistencyReport{
		IsConsistent:     len(inconsistent) == 0,
		TotalSkus:        len(levels),
		InconsistentSkus: inconsistent,
		Timestamp:        time.Now().UTC(),
	}, nil
}
