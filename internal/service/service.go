package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"myduka/backend/internal/domain"
	"myduka/backend/internal/money"
	"myduka/backend/internal/report"
	"myduka/backend/internal/sale"
	"myduka/backend/internal/store"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

const lossWarning = "Price is below cost; this product sells at a loss."

type Service struct {
	repo     store.Repository
	sales    *sale.Engine
	reports  *report.Engine
	location *time.Location
}

func New(repo store.Repository, reports *report.Engine, location *time.Location) *Service {
	if location == nil {
		location = time.Local
	}
	if reports == nil {
		reports = report.NewEngine(repo, nil, 0, location)
	}

	return &Service{
		repo:     repo,
		sales:    sale.New(repo, reports),
		reports:  reports,
		location: location,
	}
}

// Location is the time zone used for local dates and day boundaries.
func (s *Service) Location() *time.Location {
	return s.location
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.ProductWithStock, error) {
	return s.repo.ListProductsWithStock(ctx)
}

func (s *Service) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	product, err := s.repo.GetProduct(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.ProductMutationResponse, error) {
	req.Name = strings.TrimSpace(req.Name)
	if err := Validate(req); err != nil {
		return domain.ProductMutationResponse{}, err
	}

	costCents, err := amountToCents("cost", req.Cost)
	if err != nil {
		return domain.ProductMutationResponse{}, err
	}
	priceCents, err := amountToCents("price", req.Price)
	if err != nil {
		return domain.ProductMutationResponse{}, err
	}

	created, err := s.repo.CreateProduct(ctx, domain.Product{
		Name:       req.Name,
		CostCents:  costCents,
		PriceCents: priceCents,
	})
	if err != nil {
		return domain.ProductMutationResponse{}, err
	}

	s.afterMutation(ctx, "product_create", created.ID)
	return productResponse(*created), nil
}

func (s *Service) UpdateProduct(ctx context.Context, id string, req domain.ProductUpdateRequest) (domain.ProductMutationResponse, error) {
	if req.Name != nil {
		trimmed := strings.TrimSpace(*req.Name)
		req.Name = &trimmed
	}
	if err := Validate(req); err != nil {
		return domain.ProductMutationResponse{}, err
	}

	existing, err := s.repo.GetProduct(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.ProductMutationResponse{}, err
	}

	product := *existing
	if req.Name != nil {
		product.Name = *req.Name
	}
	if req.Cost != nil {
		if product.CostCents, err = amountToCents("cost", *req.Cost); err != nil {
			return domain.ProductMutationResponse{}, err
		}
	}
	if req.Price != nil {
		if product.PriceCents, err = amountToCents("price", *req.Price); err != nil {
			return domain.ProductMutationResponse{}, err
		}
	}

	updated, err := s.repo.UpdateProduct(ctx, product)
	if err != nil {
		return domain.ProductMutationResponse{}, err
	}

	s.afterMutation(ctx, "product_update", updated.ID)
	return productResponse(*updated), nil
}

// DeleteProduct removes a product with its stock batches. Products that
// appear in recorded sales cannot be deleted.
func (s *Service) DeleteProduct(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if err := s.repo.DeleteProduct(ctx, id); err != nil {
		return err
	}
	s.afterMutation(ctx, "product_delete", id)
	return nil
}

func (s *Service) ListStock(ctx context.Context) ([]domain.StockBatch, error) {
	return s.repo.ListStockBatches(ctx)
}

func (s *Service) AddStock(ctx context.Context, req domain.StockAddRequest) (domain.StockBatch, error) {
	req.ProductID = strings.TrimSpace(req.ProductID)
	if err := Validate(req); err != nil {
		return domain.StockBatch{}, err
	}

	batch := domain.StockBatch{
		ProductID: req.ProductID,
		Quantity:  req.Quantity,
	}
	if req.RestockedAt != nil {
		batch.RestockedAt = req.RestockedAt.UTC()
	}

	created, err := s.repo.CreateStockBatch(ctx, batch)
	if err != nil {
		return domain.StockBatch{}, err
	}

	s.afterMutation(ctx, "stock_add", created.ID)
	return *created, nil
}

func (s *Service) DeleteStock(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if err := s.repo.DeleteStockBatch(ctx, id); err != nil {
		return err
	}
	s.afterMutation(ctx, "stock_delete", id)
	return nil
}

func (s *Service) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	return s.repo.ListCustomers(ctx)
}

func (s *Service) CreateCustomer(ctx context.Context, req domain.CustomerRequest) (domain.Customer, error) {
	req = normalizeCustomer(req)
	if err := Validate(req); err != nil {
		return domain.Customer{}, err
	}

	created, err := s.repo.CreateCustomer(ctx, domain.Customer{
		Name:  req.Name,
		Phone: req.Phone,
		Email: req.Email,
	})
	if err != nil {
		return domain.Customer{}, err
	}

	s.afterMutation(ctx, "customer_create", created.ID)
	return *created, nil
}

func (s *Service) UpdateCustomer(ctx context.Context, id string, req domain.CustomerRequest) (domain.Customer, error) {
	req = normalizeCustomer(req)
	if err := Validate(req); err != nil {
		return domain.Customer{}, err
	}

	updated, err := s.repo.UpdateCustomer(ctx, domain.Customer{
		ID:    strings.TrimSpace(id),
		Name:  req.Name,
		Phone: req.Phone,
		Email: req.Email,
	})
	if err != nil {
		return domain.Customer{}, err
	}

	s.afterMutation(ctx, "customer_update", updated.ID)
	return *updated, nil
}

// DeleteCustomer keeps the customer's sales and detaches them.
func (s *Service) DeleteCustomer(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if err := s.repo.DeleteCustomer(ctx, id); err != nil {
		return err
	}
	s.afterMutation(ctx, "customer_delete", id)
	return nil
}

func (s *Service) Dashboard(ctx context.Context) (domain.Dashboard, error) {
	return s.reports.Dashboard(ctx)
}

// afterMutation drops cached dashboards and records who changed what.
func (s *Service) afterMutation(ctx context.Context, action string, entityID string) {
	if err := s.reports.Invalidate(ctx); err != nil {
		log.Warn().Err(err).Str("action", action).Msg("dashboard cache invalidation failed")
	}

	event := log.Info().Str("action", action).Str("entity_id", entityID)
	if actor, ok := ActorFromContext(ctx); ok {
		event = event.Str("actor", actor.Username)
	}
	event.Msg("mutation")
}

func productResponse(product domain.Product) domain.ProductMutationResponse {
	resp := domain.ProductMutationResponse{Product: product}
	if product.PriceCents < product.CostCents {
		resp.Warning = lossWarning
	}
	return resp
}

func normalizeCustomer(req domain.CustomerRequest) domain.CustomerRequest {
	req.Name = strings.TrimSpace(req.Name)
	req.Phone = strings.TrimSpace(req.Phone)
	req.Email = strings.TrimSpace(req.Email)
	return req
}

func amountToCents(field string, amount decimal.Decimal) (int64, error) {
	cents, err := money.ToCents(amount)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", store.ErrInvalidInput, field, err)
	}
	return cents, nil
}
