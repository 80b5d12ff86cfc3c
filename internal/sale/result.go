package sale

import (
	"errors"
	"fmt"

	"myduka/backend/internal/domain"
)

const genericFailure = "Could not record the sale. Please try again."

// Result maps the outcome of Engine.Record to the response contract.
func Result(recorded *domain.Sale, err error) domain.RecordSaleResult {
	if err == nil && recorded != nil {
		return domain.RecordSaleResult{
			Success: true,
			SaleID:  recorded.ID,
			Message: "Sale recorded successfully.",
		}
	}
	return domain.RecordSaleResult{Success: false, Message: Message(err)}
}

// Message renders err for the cashier. Persistence and invariant failures get
// a generic text so internals never leak.
func Message(err error) string {
	var lineErr *LineError
	if errors.As(err, &lineErr) {
		switch {
		case errors.Is(lineErr.Err, ErrInvalidQuantity):
			return fmt.Sprintf("Invalid quantity for product %s.", lineErr.ProductID)
		case errors.Is(lineErr.Err, ErrProductNotFound):
			return fmt.Sprintf("Product %s not found.", lineErr.ProductID)
		case errors.Is(lineErr.Err, ErrInsufficientStock):
			return fmt.Sprintf("Insufficient stock for %s. Available: %d", lineErr.ProductName, lineErr.Available)
		case errors.Is(lineErr.Err, ErrAmountTooLarge):
			return fmt.Sprintf("Sale amount for %s is too large.", lineErr.ProductName)
		}
	}

	switch {
	case errors.Is(err, ErrEmptySale):
		return "No items in sale."
	case errors.Is(err, ErrCustomerNotFound):
		return "Customer not found."
	default:
		return genericFailure
	}
}
