package domain

import "errors"

var (
	ErrItemNotFound        = errors.New("inventory item not found")
	ErrOrderNotFound       = errors.New("order not found")
	ErrReservationNotFound = errors.New("reservation not found")

	// ErrInsufficientStock is a business-rule failure: the ledger would go
	// negative. Never retried automatically.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrVersionConflict means the optimistic version check failed and the
	// caller should re-read and retry.
	ErrVersionConflict = errors.New("version conflict")

	// ErrContention is returned after the bounded retry ceiling is exhausted.
	// The whole request may be retried by the caller.
	ErrContention = errors.New("too much contention, retry the request")

	ErrDuplicateReservation = errors.New("order already holds a reservation")
	ErrAlreadyResolved      = errors.New("reservation already resolved")
	ErrInvalidTransition    = errors.New("invalid order transition")
	ErrDuplicateRequest     = errors.New("duplicate request")
)
