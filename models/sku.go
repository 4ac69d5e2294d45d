package models

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/Saahi30/OJT-INVENTORY-MANGEMENT/config"
	"github.com/Saahi30/OJT-INVENTORY-MANGEMENT/utils"
	mysqlDriver "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Sku is stock-keeping-unit metadata. Immutable once a ledger row references
// it; exactly one InventoryLevel exists per SKU.
type Sku struct {
	ID          uuid.UUID       `gorm:"type:char(36);primaryKey" json:"sku_id"`
	SkuCode     string          `gorm:"size:100;not null;uniqueIndex" json:"sku_code" binding:"required"`
	Name        string          `gorm:"size:255;not null" json:"name" binding:"required"`
	Description *string         `gorm:"type:text" json:"description"`
	Attributes  json.RawMessage `gorm:"type:json" json:"attributes"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewSku struct {
	SkuCode     string          `json:"sku_code" binding:"required"`
	Name        string          `json:"name" binding:"required"`
	Description *string         `json:"description"`
	Attributes  json.RawMessage `json:"attributes"`
	InitialQty  int64           `json:"initial_qty" binding:"gte=0"`
}

// SkuWithInventory is the list/detail view with derived availability.
type SkuWithInventory struct {
	Sku
	TotalQty     int64 `json:"total_qty"`
	ReservedQty  int64 `json:"reserved_qty"`
	AllocatedQty int64 `json:"allocated_qty"`
	AvailableQty int64 `json:"available_qty"`
}

func isDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}

// CreateSku creates the SKU and seeds its ledger row at initial_qty in one
// transaction.
func CreateSku(ctx context.Context, input *NewSku) (*Sku, error) {
	db := config.GetDB()

	tx := db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}

	sku := Sku{
		ID:          uuid.New(),
		SkuCode:     input.SkuCode,
		Name:        input.Name,
		Description: input.Description,
		Attributes:  input.Attributes,
	}
	if err := tx.Create(&sku).Error; err != nil {
		tx.Rollback()
		if isDuplicateKeyErr(err) {
			return nil, errors.New("sku code already exists")
		}
		return nil, err
	}

	level := InventoryLevel{
		SkuId:        sku.ID,
		TotalQty:     input.InitialQty,
		ReservedQty:  0,
		AllocatedQty: 0,
		Version:      1,
	}
	if err := tx.Create(&level).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	// Best-effort cache; SKUs are immutable once referenced by the ledger.
	_ = config.SetRedisObject("Sku:"+sku.ID.String(), &sku, 0)

	return &sku, nil
}

// GetSku fetches one SKU by id, trying the Redis cache first.
func GetSku(ctx context.Context, id uuid.UUID) (*Sku, error) {
	var cached *Sku
	if exists, err := config.GetRedisObject("Sku:"+id.String(), &cached); err == nil && exists && cached != nil {
		return cached, nil
	}

	db := config.GetDB()
	var sku Sku
	if err := db.WithContext(ctx).Where("id = ?", id).First(&sku).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	_ = config.SetRedisObject("Sku:"+id.String(), &sku, 0)
	return &sku, nil
}

// GetSkuWithInventory returns the SKU joined with its ledger counters.
func GetSkuWithInventory(ctx context.Context, id uuid.UUID) (*SkuWithInventory, error) {
	sku, err := GetSku(ctx, id)
	if err != nil {
		return nil, err
	}
	db := config.GetDB()
	level, err := GetInventoryLevel(db.WithContext(ctx), id, false)
	if err != nil {
		return nil, err
	}
	return &SkuWithInventory{
		Sku:          *sku,
		TotalQty:     level.TotalQty,
		ReservedQty:  level.ReservedQty,
		AllocatedQty: level.AllocatedQty,
		AvailableQty: level.AvailableQty(),
	}, nil
}

// ListSkus returns every SKU with its derived available quantity.
func ListSkus(ctx context.Context) ([]SkuWithInventory, error) {
	db := config.GetDB()

	var rows []SkuWithInventory
	err := db.WithContext(ctx).
		Table("skus").
		Select(`skus.*,
			inventory_levels.total_qty,
			inventory_levels.reserved_qty,
			inventory_levels.allocated_qty,
			inventory_levels.total_qty - inventory_levels.reserved_qty - inventory_levels.allocated_qty AS available_qty`).
		Joins("JOIN inventory_levels ON inventory_levels.sku_id = skus.id").
		Order("skus.sku_code").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
