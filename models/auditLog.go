package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AuditLog is an append-only record of one ledger-affecting operation.
// The core only ever writes these; reporting reads them out-of-band.
type AuditLog struct {
	ID               uuid.UUID      `gorm:"type:char(36);primaryKey" json:"audit_id"`
	ReservationId    *uuid.UUID     `gorm:"type:char(36);index" json:"reservation_id"`
	SkuId            *uuid.UUID     `gorm:"type:char(36);index" json:"sku_id"`
	Operation        AuditOperation `gorm:"type:enum('HOLD_CREATED','HOLD_RELEASED','ALLOCATED','RELEASED','EXPIRED','INVENTORY_ADJUST','MANUAL_ADJUST');not null" json:"operation"`
	Delta            int64          `json:"delta"`
	PrevTotalQty     *int64         `json:"prev_total_qty"`
	NewTotalQty      *int64         `json:"new_total_qty"`
	PrevReservedQty  *int64         `json:"prev_reserved_qty"`
	NewReservedQty   *int64         `json:"new_reserved_qty"`
	PrevAllocatedQty *int64         `json:"prev_allocated_qty"`
	NewAllocatedQty  *int64         `json:"new_allocated_qty"`
	Actor            string         `gorm:"size:100" json:"actor"`
	CreatedAt        time.Time      `gorm:"autoCreateTime" json:"created_at"`
}

// createAuditLog appends one audit row inside the caller's transaction,
// recording before/after values only for the counters that moved.
func createAuditLog(tx *gorm.DB, reservationId *uuid.UUID, skuId *uuid.UUID, operation AuditOperation, delta int64, before *InventoryLevel, after *InventoryLevel, actor string) error {
	audit := AuditLog{
		ID:            uuid.New(),
		ReservationId: reservationId,
		SkuId:         skuId,
		Operation:     operation,
		Delta:         delta,
		Actor:         actor,
	}
	if before != nil && after != nil {
		if before.TotalQty != after.TotalQty {
			audit.PrevTotalQty = &before.TotalQty
			audit.NewTotalQty = &after.TotalQty
		}
		if before.ReservedQty != after.ReservedQty {
			audit.PrevReservedQty = &before.ReservedQty
			audit.NewReservedQty = &after.ReservedQty
		}
		if before.AllocatedQty != after.AllocatedQty {
			audit.PrevAllocatedQty = &before.AllocatedQty
			audit.NewAllocatedQty = &after.AllocatedQty
		}
	}
	return tx.Create(&audit).Error
}

// CreateAuditLog is the exported entry point for audit appends performed by
// the workflow package.
func CreateAuditLog(tx *gorm.DB, reservationId *uuid.UUID, skuId *uuid.UUID, operation AuditOperation, delta int64, before *InventoryLevel, after *InventoryLevel, actor string) error {
	return createAuditLog(tx, reservationId, skuId, operation, delta, before, after, actor)
}
