package models

// ReservationStatus is the lifecycle state of a reservation.
// PENDING -> HELD -> {ALLOCATED, RELEASED, EXPIRED}; FAILED/CANCELLED are
// reachable from PENDING on error paths. Terminal states are never left.
type ReservationStatus string

const (
	ReservationStatusPending   ReservationStatus = "PENDING"
	ReservationStatusHeld      ReservationStatus = "HELD"
	ReservationStatusAllocated ReservationStatus = "ALLOCATED"
	ReservationStatusReleased  ReservationStatus = "RELEASED"
	ReservationStatusExpired   ReservationStatus = "EXPIRED"
	ReservationStatusFailed    ReservationStatus = "FAILED"
	ReservationStatusCancelled ReservationStatus = "CANCELLED"
)

// IsTerminal reports whether the status admits no further transition.
func (s ReservationStatus) IsTerminal() bool {
	switch s {
	case ReservationStatusAllocated, ReservationStatusReleased, ReservationStatusExpired,
		ReservationStatusFailed, ReservationStatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo enforces the reservation state machine.
func (s ReservationStatus) CanTransitionTo(next ReservationStatus) bool {
	switch s {
	case ReservationStatusPending:
		return next == ReservationStatusHeld || next == ReservationStatusFailed || next == ReservationStatusCancelled
	case ReservationStatusHeld:
		return next == ReservationStatusAllocated || next == ReservationStatusReleased || next == ReservationStatusExpired
	}
	return false
}

type ReservationType string

const (
	ReservationTypeHold     ReservationType = "HOLD"
	ReservationTypeAllocate ReservationType = "ALLOCATE"
)

// AuditOperation is the kind of ledger-affecting operation an audit row records.
type AuditOperation string

const (
	AuditOperationHoldCreated     AuditOperation = "HOLD_CREATED"
	AuditOperationHoldReleased    AuditOperation = "HOLD_RELEASED"
	AuditOperationAllocated       AuditOperation = "ALLOCATED"
	AuditOperationReleased        AuditOperation = "RELEASED"
	AuditOperationExpired         AuditOperation = "EXPIRED"
	AuditOperationInventoryAdjust AuditOperation = "INVENTORY_ADJUST"
	AuditOperationManualAdjust    AuditOperation = "MANUAL_ADJUST"
)

// LockStrategy selects how concurrent ledger mutations are coordinated.
type LockStrategy string

const (
	LockStrategyOptimistic  LockStrategy = "optimistic"
	LockStrategyPessimistic LockStrategy = "pessimistic"
)

func (s LockStrategy) IsValid() bool {
	return s == LockStrategyOptimistic || s == LockStrategyPessimistic
}
