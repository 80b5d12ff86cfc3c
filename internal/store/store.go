package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"myduka/backend/internal/domain"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrConflict     = errors.New("conflict")

	ErrUsernameTaken = fmt.Errorf("%w: username already exists", ErrConflict)
	ErrEmailTaken    = fmt.Errorf("%w: email already exists", ErrConflict)
)

// Catalog is the product view a sale transaction needs. LockProducts holds the
// returned rows until the transaction ends.
type Catalog interface {
	LockProducts(ctx context.Context, ids []string) (map[string]domain.Product, error)
}

// Ledger is the stock view a sale transaction needs.
type Ledger interface {
	TotalStock(ctx context.Context, productID string) (int, error)
	// ListBatchesFIFO returns the product's batches oldest restock first.
	ListBatchesFIFO(ctx context.Context, productID string) ([]domain.StockBatch, error)
	UpdateBatchQuantity(ctx context.Context, batchID string, qty int) error
	DeleteBatch(ctx context.Context, batchID string) error
}

type SaleWriter interface {
	CustomerExists(ctx context.Context, id string) (bool, error)
	InsertSale(ctx context.Context, sale domain.Sale) error
}

// SaleTx is the set of operations available inside one sale transaction.
type SaleTx interface {
	Catalog
	Ledger
	SaleWriter
}

// Transactor runs fn atomically: if fn returns an error nothing it did is kept.
type Transactor interface {
	WithinSaleTx(ctx context.Context, fn func(tx SaleTx) error) error
}

// SaleFilter selects sales created in [From, To), newest first. Items are
// only loaded when WithItems is set.
type SaleFilter struct {
	From      *time.Time
	To        *time.Time
	Limit     int
	WithItems bool
}

type Repository interface {
	Transactor

	ListProductsWithStock(ctx context.Context) ([]domain.ProductWithStock, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	DeleteProduct(ctx context.Context, id string) error

	ListStockBatches(ctx context.Context) ([]domain.StockBatch, error)
	CreateStockBatch(ctx context.Context, batch domain.StockBatch) (*domain.StockBatch, error)
	DeleteStockBatch(ctx context.Context, id string) error

	ListCustomers(ctx context.Context) ([]domain.Customer, error)
	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)
	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	UpdateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	DeleteCustomer(ctx context.Context, id string) error

	GetSale(ctx context.Context, id string) (*domain.Sale, error)
	ListSales(ctx context.Context, filter SaleFilter) ([]domain.Sale, error)
	SalesSummary(ctx context.Context, from *time.Time, to *time.Time) (domain.SalesSummary, error)
	ProductSales(ctx context.Context) ([]domain.ProductSales, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	GetUser(ctx context.Context, username string) (*domain.UserAccount, error)
}
