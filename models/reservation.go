package models

import (
	"encoding/json"
	"time"

	"github.com/Saahi30/OJT-INVENTORY-MANGEMENT/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Reservation is the header of a hold or allocation. ClientToken is the
// caller-supplied idempotency token; its unique index enforces
// at-most-one-reservation-per-token even under concurrent submission.
type Reservation struct {
	ID          uuid.UUID         `gorm:"type:char(36);primaryKey" json:"reservation_id"`
	ClientToken string            `gorm:"size:255;not null;uniqueIndex" json:"client_token"`
	UserId      *string           `gorm:"size:64" json:"user_id"`
	Status      ReservationStatus `gorm:"type:enum('PENDING','HELD','ALLOCATED','RELEASED','EXPIRED','FAILED','CANCELLED');not null;default:PENDING;index" json:"status"`
	Type        ReservationType   `gorm:"type:enum('HOLD','ALLOCATE');not null" json:"type"`
	TotalItems  int               `gorm:"not null" json:"total_items"`
	RequestedAt time.Time         `gorm:"autoCreateTime" json:"requested_at"`
	ExpiresAt   *time.Time        `gorm:"index" json:"expires_at"`
	CompletedAt *time.Time        `json:"completed_at"`
	Error       *string           `gorm:"type:text" json:"error"`
	Metadata    json.RawMessage   `gorm:"type:json" json:"metadata"`
	CreatedAt   time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time         `gorm:"autoUpdateTime" json:"updated_at"`

	Items []ReservationItem `gorm:"foreignKey:ReservationId;constraint:OnDelete:CASCADE" json:"items"`
}

// ReservationItem is one (reservation, SKU) line. A reservation cannot hold
// the same SKU twice; items are owned by their reservation.
type ReservationItem struct {
	ID            uuid.UUID        `gorm:"type:char(36);primaryKey" json:"reservation_item_id"`
	ReservationId uuid.UUID        `gorm:"type:char(36);not null;index:uq_reservation_sku,unique" json:"-"`
	SkuId         uuid.UUID        `gorm:"type:char(36);not null;index:uq_reservation_sku,unique" json:"sku_id"`
	Qty           int64            `gorm:"not null" json:"qty"`
	UnitPrice     *decimal.Decimal `gorm:"type:decimal(18,4)" json:"unit_price"`
	CreatedAt     time.Time        `gorm:"autoCreateTime" json:"created_at"`
}

// GetReservationByToken returns the reservation owning the idempotency token,
// or nil when no reservation has claimed it yet.
func GetReservationByToken(tx *gorm.DB, clientToken string) (*Reservation, error) {
	var reservation Reservation
	err := tx.Preload("Items").Where("client_token = ?", clientToken).First(&reservation).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &reservation, nil
}

// GetReservation loads a reservation with its items.
func GetReservation(tx *gorm.DB, id uuid.UUID) (*Reservation, error) {
	var reservation Reservation
	err := tx.Preload("Items").Where("id = ?", id).First(&reservation).Error
	if err == gorm.ErrRecordNotFound {
		return nil, utils.ErrorRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &reservation, nil
}

// GetReservationForUpdate locks the reservation header row for the remainder
// of the transaction, serializing concurrent convert/release/expire attempts
// on the same reservation.
func GetReservationForUpdate(tx *gorm.DB, id uuid.UUID) (*Reservation, error) {
	var reservation Reservation
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).First(&reservation).Error
	if err == gorm.ErrRecordNotFound {
		return nil, utils.ErrorRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	// sku_id order matches the order hold creation acquires ledger row locks
	// in; convert/release/expire must not lock rows in a different order.
	if err := tx.Where("reservation_id = ?", id).Order("sku_id").Find(&reservation.Items).Error; err != nil {
		return nil, err
	}
	return &reservation, nil
}

// FindExpiredHolds returns every HELD reservation whose expiry is at or
// before now, items preloaded, oldest first.
func FindExpiredHolds(tx *gorm.DB, now time.Time) ([]Reservation, error) {
	var reservations []Reservation
	err := tx.Preload("Items").
		Where("status = ? AND expires_at IS NOT NULL AND expires_at <= ?", ReservationStatusHeld, now).
		Order("expires_at").
		Find(&reservations).Error
	if err != nil {
		return nil, err
	}
	return reservations, nil
}
