package models

import (
	"context"
	"time"

	"github.com/Saahi30/OJT-INVENTORY-MANGEMENT/config"
	"github.com/google/uuid"
)

// InventorySnapshot is a point-in-time copy of one ledger row, kept for
// reporting and consistency history. Rows are write-once.
type InventorySnapshot struct {
	ID           uuid.UUID `gorm:"type:char(36);primaryKey" json:"snapshot_id"`
	SkuId        uuid.UUID `gorm:"type:char(36);not null;index" json:"sku_id"`
	SnapshotTime time.Time `gorm:"autoCreateTime;index" json:"snapshot_time"`
	TotalQty     int64     `gorm:"not null" json:"total_qty"`
	ReservedQty  int64     `gorm:"not null" json:"reserved_qty"`
	AllocatedQty int64     `gorm:"not null" json:"allocated_qty"`
	AvailableQty int64     `gorm:"not null" json:"available_qty"`
}

// SnapshotInventory copies every ledger row into the snapshot table and
// returns the number of SKUs captured.
func SnapshotInventory(ctx context.Context) (int, error) {
	db := config.GetDB()

	var levels []InventoryLevel
	if err := db.WithContext(ctx).Find(&levels).Error; err != nil {
		return 0, err
	}
	if len(levels) == 0 {
		return 0, nil
	}

	snapshots := make([]InventorySnapshot, 0, len(levels))
	for _, l := range levels {
		snapshots = append(snapshots, InventorySnapshot{
			ID:           uuid.New(),
			SkuId:        l.SkuId,
			TotalQty:     l.TotalQty,
			ReservedQty:  l.ReservedQty,
			AllocatedQty: l.AllocatedQty,
			AvailableQty: l.AvailableQty(),
		})
	}
	if err := db.WithContext(ctx).Create(&snapshots).Error; err != nil {
		return 0, err
	}
	return len(snapshots), nil
}
