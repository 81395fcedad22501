package domain

import (
	"errors"
	"fmt"
)

var (
	// Categories
	ErrValidation           = errors.New("validation error")
	ErrNotFound             = errors.New("entity not found")
	ErrConflict             = errors.New("conflict")
	ErrInsufficientResource = errors.New("insufficient resource")
	ErrExternalService      = errors.New("external service error")

	// Conflicts
	ErrDuplicatePendingOrder = fmt.Errorf("%w: user already has a pending order", ErrConflict)
	ErrInvalidTransition     = fmt.Errorf("%w: invalid order status transition", ErrConflict)
	ErrAlreadyApplied        = fmt.Errorf("%w: settlement already applied", ErrConflict)

	ErrInsufficientCredits = fmt.Errorf("%w: insufficient credits", ErrInsufficientResource)
	ErrNoFreeUsage         = fmt.Errorf("%w: no free usages left", ErrInsufficientResource)
	ErrRateLimited         = fmt.Errorf("%w: too many requests", ErrInsufficientResource)

	ErrInvalidArgument    = fmt.Errorf("%w: invalid argument", ErrValidation)
	ErrProfileUnavailable = errors.New("user profile unavailable")

	// Storage plumbing
	ErrInvalidExecContext = errors.New("invalid execution context")
	ErrOperationFailed    = errors.New("database operation failed")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
)

// PendingOrderError is returned when a user already holds an open order.
// It carries the competing order's merchant number so callers can resolve it.
type PendingOrderError struct {
	MerchantOrderNo string
}

func (e *PendingOrderError) Error() string {
	if e.MerchantOrderNo == "" {
		return ErrDuplicatePendingOrder.Error()
	}
	return fmt.Sprintf("%s: %s", ErrDuplicatePendingOrder.Error(), e.MerchantOrderNo)
}

func (e *PendingOrderError) Unwrap() error { return ErrDuplicatePendingOrder }

// Validationf builds a validation error with a formatted message.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
