// Package sale records sales atomically and depletes stock batches oldest first.
package sale

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog/log"

	"myduka/backend/internal/domain"
	"myduka/backend/internal/money"
	"myduka/backend/internal/store"
	"myduka/backend/internal/xid"
)

// Invalidator drops derived read models after a sale commits.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

type Engine struct {
	tx          store.Transactor
	invalidator Invalidator
	now         func() time.Time
}

// New builds an engine over tx. invalidator may be nil.
func New(tx store.Transactor, invalidator Invalidator) *Engine {
	return &Engine{
		tx:          tx,
		invalidator: invalidator,
		now:         time.Now,
	}
}

type acceptedLine struct {
	product  domain.Product
	quantity int
}

// Record validates the cart, persists the sale with its items and depletes
// stock in one storage transaction. On any error nothing is persisted.
func (e *Engine) Record(ctx context.Context, req domain.RecordSaleRequest) (*domain.Sale, error) {
	if len(req.Items) == 0 {
		return nil, ErrEmptySale
	}

	var recorded domain.Sale
	err := e.tx.WithinSaleTx(ctx, func(tx store.SaleTx) error {
		if req.CustomerID != nil {
			exists, err := tx.CustomerExists(ctx, *req.CustomerID)
			if err != nil {
				return fmt.Errorf("%w: lookup customer: %w", ErrPersistence, err)
			}
			if !exists {
				return ErrCustomerNotFound
			}
		}

		products, err := tx.LockProducts(ctx, lockOrder(req.Items))
		if err != nil {
			return fmt.Errorf("%w: lock products: %w", ErrPersistence, err)
		}

		lines, err := validateLines(ctx, tx, req.Items, products)
		if err != nil {
			return err
		}

		recorded, err = e.buildSale(req.CustomerID, lines)
		if err != nil {
			return err
		}
		if err := tx.InsertSale(ctx, recorded); err != nil {
			return fmt.Errorf("%w: insert sale: %w", ErrPersistence, err)
		}

		for _, line := range lines {
			if err := deplete(ctx, tx, line.product.ID, line.quantity); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if IsValidation(err) {
			return nil, err
		}
		if !errors.Is(err, ErrPersistence) && !errors.Is(err, ErrInvariantViolation) {
			err = fmt.Errorf("%w: %w", ErrPersistence, err)
		}
		log.Error().Err(err).Int("lines", len(req.Items)).Msg("record sale failed")
		return nil, err
	}

	if e.invalidator != nil {
		if err := e.invalidator.Invalidate(ctx); err != nil {
			log.Warn().Err(err).Str("sale_id", recorded.ID).Msg("dashboard cache invalidation failed")
		}
	}

	log.Info().
		Str("sale_id", recorded.ID).
		Int64("total_amount_cents", recorded.TotalAmountCents).
		Int("items", len(recorded.Items)).
		Msg("sale recorded")
	return &recorded, nil
}

// validateLines checks every line in input order. Quantities of repeated
// products accumulate so a cart can never ask for more than is on hand.
func validateLines(ctx context.Context, tx store.Ledger, items []domain.SaleLine, products map[string]domain.Product) ([]acceptedLine, error) {
	requested := make(map[string]int, len(items))
	available := make(map[string]int, len(items))
	lines := make([]acceptedLine, 0, len(items))

	for _, item := range items {
		if item.Quantity <= 0 {
			return nil, &LineError{Err: ErrInvalidQuantity, ProductID: item.ProductID}
		}
		product, ok := products[item.ProductID]
		if !ok {
			return nil, &LineError{Err: ErrProductNotFound, ProductID: item.ProductID}
		}

		stock, seen := available[product.ID]
		if !seen {
			total, err := tx.TotalStock(ctx, product.ID)
			if err != nil {
				return nil, fmt.Errorf("%w: total stock: %w", ErrPersistence, err)
			}
			stock = total
			available[product.ID] = stock
		}

		if item.Quantity > stock-requested[product.ID] {
			return nil, &LineError{
				Err:         ErrInsufficientStock,
				ProductID:   product.ID,
				ProductName: product.Name,
				Available:   stock,
			}
		}
		requested[product.ID] += item.Quantity
		lines = append(lines, acceptedLine{product: product, quantity: item.Quantity})
	}
	return lines, nil
}

// buildSale prices every line. A line whose amounts do not fit in int64
// cents is rejected instead of wrapping around.
func (e *Engine) buildSale(customerID *string, lines []acceptedLine) (domain.Sale, error) {
	sale := domain.Sale{
		ID:         xid.New("sale"),
		CustomerID: customerID,
		CreatedAt:  e.now().UTC(),
		Items:      make([]domain.SaleItem, 0, len(lines)),
	}
	for _, line := range lines {
		qty := int64(line.quantity)
		linePrice, okPrice := money.MulQty(line.product.PriceCents, qty)
		lineProfit, okProfit := money.MulQty(line.product.ProfitPerUnitCents(), qty)
		amount, okAmount := money.Add(sale.TotalAmountCents, linePrice)
		profit, okTotal := money.Add(sale.TotalProfitCents, lineProfit)
		if !okPrice || !okProfit || !okAmount || !okTotal {
			return domain.Sale{}, &LineError{
				Err:         ErrAmountTooLarge,
				ProductID:   line.product.ID,
				ProductName: line.product.Name,
			}
		}

		sale.TotalAmountCents = amount
		sale.TotalProfitCents = profit
		sale.Items = append(sale.Items, domain.SaleItem{
			ID:              xid.New("item"),
			SaleID:          sale.ID,
			ProductID:       line.product.ID,
			ProductName:     line.product.Name,
			Quantity:        line.quantity,
			UnitPriceCents:  line.product.PriceCents,
			UnitCostCents:   line.product.CostCents,
			TotalPriceCents: linePrice,
		})
	}
	return sale, nil
}

func deplete(ctx context.Context, tx store.Ledger, productID string, qty int) error {
	batches, err := tx.ListBatchesFIFO(ctx, productID)
	if err != nil {
		return fmt.Errorf("%w: list batches: %w", ErrPersistence, err)
	}
	plan, err := PlanFIFO(batches, qty)
	if err != nil {
		return fmt.Errorf("product %s: %w", productID, err)
	}

	for _, step := range plan {
		switch step.Kind {
		case DepletionConsumed:
			err = tx.DeleteBatch(ctx, step.BatchID)
		case DepletionReduced:
			err = tx.UpdateBatchQuantity(ctx, step.BatchID, step.Remaining)
		}
		if err != nil {
			return fmt.Errorf("%w: %s batch %s: %w", ErrPersistence, step.Kind, step.BatchID, err)
		}
	}
	return nil
}

// lockOrder returns the distinct product ids sorted, so concurrent sales
// always take row locks in the same order.
func lockOrder(items []domain.SaleLine) []string {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}
	slices.Sort(ids)
	return slices.Compact(ids)
}
