package orders

import (
	"errors"
	"fmt"

	"github.com/ariefcatur/go-order-fulfillment/internal/inventory"
)

var (
	ErrValidation         = errors.New("validation failed")
	ErrProductNotFound    = inventory.ErrProductNotFound
	ErrOrderNotFound      = errors.New("order not found")
	ErrPaymentNotFound    = errors.New("payment not found")
	ErrInsufficientStock  = inventory.ErrInsufficientStock
	ErrAlreadyPaid        = errors.New("order already paid")
	ErrOrderNotPending    = errors.New("order is not pending")
	ErrDuplicate          = errors.New("duplicate record")
	ErrForbidden          = errors.New("access denied")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrInvalidSignature   = errors.New("invalid webhook signature")
	ErrStorageUnavailable = inventory.ErrStorageUnavailable
	ErrProviderFailure    = errors.New("payment provider unavailable")
)

type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindForbidden
	KindInvalidTransition
	KindInvalidSignature
	KindInfrastructure
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindForbidden:
		return "forbidden"
	case KindInvalidTransition:
		return "invalid_transition"
	case KindInvalidSignature:
		return "invalid_signature"
	case KindInfrastructure:
		return "infrastructure"
	}
	return "unknown"
}

// Business reports whether the kind is an expected outcome rather than a system fault.
func (k Kind) Business() bool {
	switch k {
	case KindValidation, KindNotFound, KindConflict, KindForbidden, KindInvalidTransition, KindInvalidSignature:
		return true
	}
	return false
}

// KindOf classifies err into the error taxonomy.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrValidation), errors.Is(err, inventory.ErrInvalidQuantity):
		return KindValidation
	case errors.Is(err, ErrProductNotFound), errors.Is(err, ErrOrderNotFound), errors.Is(err, ErrPaymentNotFound):
		return KindNotFound
	case errors.Is(err, ErrInsufficientStock), errors.Is(err, ErrAlreadyPaid), errors.Is(err, ErrOrderNotPending), errors.Is(err, ErrDuplicate):
		return KindConflict
	case errors.Is(err, ErrForbidden):
		return KindForbidden
	case errors.Is(err, ErrInvalidTransition):
		return KindInvalidTransition
	case errors.Is(err, ErrInvalidSignature):
		return KindInvalidSignature
	case errors.Is(err, ErrStorageUnavailable), errors.Is(err, ErrProviderFailure):
		return KindInfrastructure
	}
	return KindUnknown
}

// Code is the stable machine-readable name of err.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrInsufficientStock):
		return "INSUFFICIENT_STOCK"
	case errors.Is(err, ErrProductNotFound):
		return "PRODUCT_NOT_FOUND"
	case errors.Is(err, ErrOrderNotFound):
		return "ORDER_NOT_FOUND"
	case errors.Is(err, ErrPaymentNotFound):
		return "PAYMENT_NOT_FOUND"
	case errors.Is(err, ErrAlreadyPaid):
		return "ALREADY_PAID"
	case errors.Is(err, ErrOrderNotPending):
		return "ORDER_NOT_PENDING"
	case errors.Is(err, ErrDuplicate):
		return "DUPLICATE"
	case errors.Is(err, ErrForbidden):
		return "FORBIDDEN"
	case errors.Is(err, ErrInvalidTransition):
		return "INVALID_TRANSITION"
	case errors.Is(err, ErrInvalidSignature):
		return "INVALID_SIGNATURE"
	case errors.Is(err, ErrValidation), errors.Is(err, inventory.ErrInvalidQuantity):
		return "VALIDATION_ERROR"
	case errors.Is(err, ErrStorageUnavailable):
		return "STORAGE_UNAVAILABLE"
	case errors.Is(err, ErrProviderFailure):
		return "PROVIDER_UNAVAILABLE"
	}
	return "INTERNAL"
}

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func transitionErr(from, to Status) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
