package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/Saahi30/OJT-INVENTORY-MANGEMENT/config"
	"github.com/Saahi30/OJT-INVENTORY-MANGEMENT/models"
	"github.com/Saahi30/OJT-INVENTORY-MANGEMENT/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const expiryActor = "expiry_worker"

// Engine drives the reservation lifecycle: create hold, convert, release,
// expire. It owns the concurrency-control state (lock table, strategy
// instances); construct one at process start and pass it to whatever handles
// requests.
type Engine struct {
	logger      *logrus.Logger
	settings    config.Settings
	optimistic  *OptimisticStrategy
	pessimistic *PessimisticStrategy
}

func NewEngine(logger *logrus.Logger, settings config.Settings) *Engine {
	locks := NewLockTable(settings.LockTableShards)
	return &Engine{
		logger:   logger,
		settings: settings,
		optimistic: &OptimisticStrategy{
			MaxRetries: settings.OptimisticMaxRetries,
		},
		pessimistic: &PessimisticStrategy{
			Locks:   locks,
			Timeout: settings.PessimisticLockTimeout,
		},
	}
}

func (e *Engine) strategyFor(s models.LockStrategy) UpdateStrategy {
	if s == models.LockStrategyPessimistic {
		return e.pessimistic
	}
	return e.optimistic
}

type NewHoldItem struct {
	SkuId     uuid.UUID        `json:"sku_id" binding:"required"`
	Qty       int64            `json:"qty" binding:"required,gt=0"`
	UnitPrice *decimal.Decimal `json:"unit_price"`
}

type NewHold struct {
	ClientToken      string              `json:"client_token" binding:"required"`
	Items            []NewHoldItem       `json:"items" binding:"required,min=1,dive"`
	UserId           *string             `json:"user_id"`
	ExpiresInSeconds int                 `json:"expires_in_seconds" binding:"omitempty,gt=0"`
	Strategy         models.LockStrategy `json:"strategy" binding:"omitempty,oneof=optimistic pessimistic"`
	Metadata         json.RawMessage     `json:"metadata"`
}

func (input *NewHold) validate() error {
	seen := make(map[uuid.UUID]bool, len(input.Items))
	for _, item := range input.Items {
		if item.Qty <= 0 {
			return fmt.Errorf("%w: qty must be positive for sku %s", utils.ErrorValidation, item.SkuId)
		}
		if seen[item.SkuId] {
			return fmt.Errorf("%w: duplicate sku %s in items", utils.ErrorValidation, item.SkuId)
		}
		seen[item.SkuId] = true
	}
	if input.Strategy != "" && !input.Strategy.IsValid() {
		return fmt.Errorf("%w: unknown strategy %q", utils.ErrorValidation, input.Strategy)
	}
	return nil
}

// sortedHoldItems returns the items in SKU-id order. Every path that touches
// multiple ledger rows (hold create, convert, release, expire) acquires row
// locks in this order; without a single order two multi-item operations can
// deadlock against each other.
func sortedHoldItems(items []NewHoldItem) []NewHoldItem {
	sorted := make([]NewHoldItem, len(items))
	copy(sorted, items)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i].SkuId[:], sorted[j].SkuId[:]) < 0
	})
	return sorted
}

func (input *NewHold) actor() string {
	if input.UserId != nil && *input.UserId != "" {
		return *input.UserId
	}
	return "system"
}

// CreateHold creates a hold reservation. The idempotency token fully
// determines the outcome: if a reservation with this token already exists it
// is returned unchanged, whatever its status, without re-validating items.
// Otherwise every item is pre-flighted for availability, then reservation +
// items + ledger mutations + audit rows commit in a single transaction. Any
// item failure rolls back the whole operation; no partially-held reservation
// is ever visible.
func (e *Engine) CreateHold(ctx context.Context, input *NewHold) (*models.Reservation, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}
	db := config.GetDB()

	// Idempotency check first.
	if existing, err := models.GetReservationByToken(db.WithContext(ctx), input.ClientToken); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	strategy := e.strategyFor(input.Strategy)
	items := sortedHoldItems(input.Items)

	// Pre-flight: reject before creating any state. Pre-flight and commit are
	// not the same lock scope, so the commit-phase strategy calls below can
	// still fail; this only makes the common insufficient-stock case cheap.
	for _, item := range items {
		level, err := models.GetInventoryLevel(db.WithContext(ctx), item.SkuId, false)
		if err != nil {
			return nil, err
		}
		if err := checkDeltas(level, item.Qty, 0); err != nil {
			return nil, err
		}
	}

	ttl := input.ExpiresInSeconds
	if ttl <= 0 {
		ttl = e.settings.DefaultHoldTTLSeconds
	}
	expiresAt := time.Now().UTC().Add(time.Duration(ttl) * time.Second)

	tx := db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}

	reservation := models.Reservation{
		ID:          uuid.New(),
		ClientToken: input.ClientToken,
		UserId:      input.UserId,
		Status:      models.ReservationStatusPending,
		Type:        models.ReservationTypeHold,
		TotalItems:  len(input.Items),
		ExpiresAt:   &expiresAt,
		Metadata:    input.Metadata,
	}
	if err := tx.Create(&reservation).Error; err != nil {
		tx.Rollback()
		if isDuplicateTokenErr(err) {
			// Lost the token race to a concurrent request; its reservation is
			// the outcome for this token.
			return e.replayToken(ctx, input.ClientToken)
		}
		return nil, err
	}

	for _, item := range items {
		reservationItem := models.ReservationItem{
			ID:            uuid.New(),
			ReservationId: reservation.ID,
			SkuId:         item.SkuId,
			Qty:           item.Qty,
			UnitPrice:     item.UnitPrice,
		}
		if err := tx.Create(&reservationItem).Error; err != nil {
			tx.Rollback()
			return nil, err
		}

		before, after, err := strategy.ApplyItemDelta(ctx, tx, item.SkuId, item.Qty, 0)
		if err != nil {
			tx.Rollback()
			return nil, err
		}
		if err := models.CreateAuditLog(tx, &reservation.ID, &item.SkuId, models.AuditOperationHoldCreated, item.Qty, before, after, input.actor()); err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	if err := tx.Model(&models.Reservation{}).Where("id = ?", reservation.ID).
		Update("status", models.ReservationStatusHeld).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	return models.GetReservation(db.WithContext(ctx), reservation.ID)
}

func (e *Engine) replayToken(ctx context.Context, clientToken string) (*models.Reservation, error) {
	db := config.GetDB()
	existing, err := models.GetReservationByToken(db.WithContext(ctx), clientToken)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, utils.ErrorRecordNotFound
	}
	return existing, nil
}

// ConvertHoldToAllocation moves every item's quantity from reserved to
// allocated and finalizes the reservation as ALLOCATED. The whole conversion
// is one transaction: it fully commits or fully rolls back.
func (e *Engine) ConvertHoldToAllocation(ctx context.Context, reservationId uuid.UUID) (*models.Reservation, error) {
	db := config.GetDB()

	tx := db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}

	reservation, err := models.GetReservationForUpdate(tx, reservationId)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if reservation.Status != models.ReservationStatusHeld {
		tx.Rollback()
		return nil, fmt.Errorf("%w (current: %s)", utils.ErrorWrongStatus, reservation.Status)
	}
	if reservation.ExpiresAt != nil && reservation.ExpiresAt.Before(time.Now().UTC()) {
		tx.Rollback()
		return nil, utils.ErrorReservationExpired
	}

	for _, item := range reservation.Items {
		before, after, err := e.applyLocked(tx, item.SkuId, -item.Qty, item.Qty)
		if err != nil {
			tx.Rollback()
			return nil, err
		}
		if err := models.CreateAuditLog(tx, &reservation.ID, &item.SkuId, models.AuditOperationAllocated, item.Qty, before, after, actorFromContext(ctx)); err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	if err := e.finalize(tx, reservation.ID, models.ReservationStatusAllocated); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	return models.GetReservation(db.WithContext(ctx), reservationId)
}

// ReleaseHold returns every item's quantity from reserved to available and
// finalizes the reservation as RELEASED. Only HELD reservations are
// releasable; a terminal reservation yields ErrorWrongStatus.
func (e *Engine) ReleaseHold(ctx context.Context, reservationId uuid.UUID) (*models.Reservation, error) {
	db := config.GetDB()

	tx := db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}

	reservation, err := models.GetReservationForUpdate(tx, reservationId)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if reservation.Status != models.ReservationStatusHeld {
		tx.Rollback()
		return nil, fmt.Errorf("%w (current: %s)", utils.ErrorWrongStatus, reservation.Status)
	}

	for _, item := range reservation.Items {
		before, after, err := e.applyLocked(tx, item.SkuId, -item.Qty, 0)
		if err != nil {
			tx.Rollback()
			return nil, err
		}
		if err := models.CreateAuditLog(tx, &reservation.ID, &item.SkuId, models.AuditOperationHoldReleased, -item.Qty, before, after, actorFromContext(ctx)); err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	if err := e.finalize(tx, reservation.ID, models.ReservationStatusReleased); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	return models.GetReservation(db.WithContext(ctx), reservationId)
}

// ExpireHolds finds every HELD reservation past its expiry and releases its
// reserved quantity, one transaction per reservation so a failure on one
// never aborts the sweep for the others. Returns the count successfully
// expired.
func (e *Engine) ExpireHolds(ctx context.Context, now time.Time) (int, error) {
	db := config.GetDB()

	expired, err := models.FindExpiredHolds(db.WithContext(ctx), now)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, candidate := range expired {
		if err := e.expireOne(ctx, candidate.ID, now); err != nil {
			config.LogError(e.logger, "workflow", "ExpireHolds", "expiring reservation", candidate.ID.String(), err)
			continue
		}
		count++
	}
	return count, nil
}

func (e *Engine) expireOne(ctx context.Context, reservationId uuid.UUID, now time.Time) error {
	db := config.GetDB()

	tx := db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return tx.Error
	}

	reservation, err := models.GetReservationForUpdate(tx, reservationId)
	if err != nil {
		tx.Rollback()
		return err
	}
	// Re-check under the row lock: a convert/release may have won the race
	// between the sweep query and here.
	if reservation.Status != models.ReservationStatusHeld ||
		reservation.ExpiresAt == nil || reservation.ExpiresAt.After(now) {
		tx.Rollback()
		return nil
	}

	for _, item := range reservation.Items {
		before, after, err := e.applyLocked(tx, item.SkuId, -item.Qty, 0)
		if err != nil {
			tx.Rollback()
			return err
		}
		if err := models.CreateAuditLog(tx, &reservation.ID, &item.SkuId, models.AuditOperationExpired, -item.Qty, before, after, expiryActor); err != nil {
			tx.Rollback()
			return err
		}
	}

	if err := e.finalize(tx, reservation.ID, models.ReservationStatusExpired); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit().Error
}

// NewAllocation is NewHold minus the TTL.
type NewAllocation struct {
	ClientToken string              `json:"client_token" binding:"required"`
	Items       []NewHoldItem       `json:"items" binding:"required,min=1,dive"`
	UserId      *string             `json:"user_id"`
	Strategy    models.LockStrategy `json:"strategy" binding:"omitempty,oneof=optimistic pessimistic"`
	Metadata    json.RawMessage     `json:"metadata"`
}

// CreateAllocation is exactly CreateHold with a minimal TTL immediately
// followed by ConvertHoldToAllocation; there is no separate code path.
func (e *Engine) CreateAllocation(ctx context.Context, input *NewAllocation) (*models.Reservation, error) {
	hold, err := e.CreateHold(ctx, &NewHold{
		ClientToken:      input.ClientToken,
		Items:            input.Items,
		UserId:           input.UserId,
		ExpiresInSeconds: 1,
		Strategy:         input.Strategy,
		Metadata:         input.Metadata,
	})
	if err != nil {
		return nil, err
	}
	// Idempotent replay of an already-converted token.
	if hold.Status == models.ReservationStatusAllocated {
		return hold, nil
	}
	return e.ConvertHoldToAllocation(ctx, hold.ID)
}

// applyLocked is the row-locked read-check-write used by convert, release and
// expire. The reservation header lock already serializes lifecycle operations
// on this reservation, so no version check is needed; the conditional guards
// in ApplyDelta remain as a backstop.
func (e *Engine) applyLocked(tx *gorm.DB, skuId uuid.UUID, reservedDelta int64, allocatedDelta int64) (*models.InventoryLevel, *models.InventoryLevel, error) {
	level, err := models.GetInventoryLevel(tx, skuId, true)
	if err != nil {
		return nil, nil, err
	}
	if allocatedDelta > 0 {
		if err := checkDeltas(level, 0, allocatedDelta); err != nil {
			return nil, nil, err
		}
	}
	ok, err := models.ApplyDelta(tx, skuId, reservedDelta, allocatedDelta, nil)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, fmt.Errorf("%w: sku %s", utils.ErrorInsufficientStock, skuId)
	}
	return level, shifted(level, reservedDelta, allocatedDelta), nil
}

func (e *Engine) finalize(tx *gorm.DB, reservationId uuid.UUID, status models.ReservationStatus) error {
	if !models.ReservationStatusHeld.CanTransitionTo(status) {
		return fmt.Errorf("%w (target: %s)", utils.ErrorWrongStatus, status)
	}
	now := time.Now().UTC()
	return tx.Model(&models.Reservation{}).Where("id = ?", reservationId).
		Updates(map[string]interface{}{"status": status, "completed_at": &now}).Error
}

func actorFromContext(ctx context.Context) string {
	if actor, ok := utils.GetActorFromContext(ctx); ok && actor != "" {
		return actor
	}
	if userId, ok := utils.GetUserIdFromContext(ctx); ok && userId != "" {
		return userId
	}
	return "system"
}
