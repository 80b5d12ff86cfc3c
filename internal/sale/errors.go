package sale

import (
	"errors"
	"fmt"
)

var (
	ErrEmptySale          = errors.New("no items in sale")
	ErrCustomerNotFound   = errors.New("customer not found")
	ErrInvalidQuantity    = errors.New("invalid quantity")
	ErrProductNotFound    = errors.New("product not found")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrAmountTooLarge     = errors.New("sale amount too large")
	ErrPersistence        = errors.New("persistence failure")
	ErrInvariantViolation = errors.New("stock invariant violation")
)

// LineError reports which cart line failed validation.
type LineError struct {
	Err         error
	ProductID   string
	ProductName string
	Available   int
}

func (e *LineError) Error() string {
	switch {
	case errors.Is(e.Err, ErrInsufficientStock):
		return fmt.Sprintf("%s for %s: available %d", e.Err, e.ProductName, e.Available)
	case errors.Is(e.Err, ErrAmountTooLarge):
		return fmt.Sprintf("%s for %s", e.Err, e.ProductName)
	default:
		return fmt.Sprintf("%s for product %s", e.Err, e.ProductID)
	}
}

func (e *LineError) Unwrap() error {
	return e.Err
}

// IsValidation reports whether err is a caller-correctable rejection.
func IsValidation(err error) bool {
	return errors.Is(err, ErrEmptySale) ||
		errors.Is(err, ErrCustomerNotFound) ||
		errors.Is(err, ErrInvalidQuantity) ||
		errors.Is(err, ErrProductNotFound) ||
		errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrAmountTooLarge)
}
