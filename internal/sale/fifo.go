package sale

import (
	"fmt"

	"myduka/backend/internal/domain"
)

type DepletionKind int

const (
	// DepletionConsumed removes the whole batch.
	DepletionConsumed DepletionKind = iota + 1
	// DepletionReduced leaves the batch with Remaining units.
	DepletionReduced
)

func (k DepletionKind) String() string {
	switch k {
	case DepletionConsumed:
		return "consumed"
	case DepletionReduced:
		return "reduced"
	default:
		return "unknown"
	}
}

// Depletion is one step of a FIFO plan.
type Depletion struct {
	Kind      DepletionKind
	BatchID   string
	Taken     int
	Remaining int
}

// PlanFIFO walks batches, which must already be ordered oldest restock first,
// and returns the mutations that remove qty units. It fails with
// ErrInvariantViolation when the batches hold fewer than qty units.
func PlanFIFO(batches []domain.StockBatch, qty int) ([]Depletion, error) {
	if qty < 0 {
		return nil, ErrInvalidQuantity
	}

	remaining := qty
	plan := make([]Depletion, 0, len(batches))
	for _, batch := range batches {
		if remaining == 0 {
			break
		}
		if batch.Quantity <= remaining {
			remaining -= batch.Quantity
			plan = append(plan, Depletion{
				Kind:    DepletionConsumed,
				BatchID: batch.ID,
				Taken:   batch.Quantity,
			})
			continue
		}
		plan = append(plan, Depletion{
			Kind:      DepletionReduced,
			BatchID:   batch.ID,
			Taken:     remaining,
			Remaining: batch.Quantity - remaining,
		})
		remaining = 0
	}

	if remaining > 0 {
		return nil, fmt.Errorf("%w: %d units left after exhausting batches", ErrInvariantViolation, remaining)
	}
	return plan, nil
}
