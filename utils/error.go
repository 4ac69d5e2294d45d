package utils

import "errors"

// Failure taxonomy for the reservation core. Every operation surfaces one of
// these (possibly wrapped) so callers can tell whether retrying makes sense:
// conflict/timeout -> retryable, insufficient stock / wrong status -> not.
var (
	ErrorRecordNotFound     = errors.New("record not found")
	ErrorInsufficientStock  = errors.New("insufficient inventory")
	ErrorVersionConflict    = errors.New("version conflict after retries")
	ErrorLockTimeout        = errors.New("lock acquisition timed out")
	ErrorWrongStatus        = errors.New("reservation is not in HELD status")
	ErrorReservationExpired = errors.New("reservation has expired")
	ErrorValidation         = errors.New("validation failed")
)

// IsRetryable reports whether the failure is transient contention that a
// caller may reasonably retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrorVersionConflict) || errors.Is(err, ErrorLockTimeout)
}
