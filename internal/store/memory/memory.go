package memory

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"myduka/backend/internal/domain"
	"myduka/backend/internal/store"
	"myduka/backend/internal/xid"
)

type batchEntry struct {
	batch domain.StockBatch
	seq   uint64
}

type saleEntry struct {
	sale domain.Sale
	seq  uint64
}

type state struct {
	products  map[string]domain.Product
	batches   map[string]batchEntry
	customers map[string]domain.Customer
	sales     map[string]saleEntry
	users     map[string]domain.UserAccount
	seq       uint64
}

// Store keeps everything in process memory. Sale transactions hold the write
// lock for their whole duration and roll back by restoring a snapshot.
type Store struct {
	mu   sync.RWMutex
	data state
}

func New() *Store {
	return &Store{data: state{
		products:  make(map[string]domain.Product),
		batches:   make(map[string]batchEntry),
		customers: make(map[string]domain.Customer),
		sales:     make(map[string]saleEntry),
		users:     make(map[string]domain.UserAccount),
	}}
}

// NewSeeded returns a store with demo products, stock and an admin account
// for dev mode. The admin password is read from SEED_ADMIN_PASSWORD.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()

	seed := []struct {
		name    string
		cost    int64
		price   int64
		batches []int
	}{
		{"Soap", 1000, 1500, []int{5, 3}},
		{"Sugar 1kg", 14000, 16500, []int{20}},
		{"Milk 500ml", 5200, 6000, []int{24, 24}},
		{"Bread", 5500, 6500, []int{12}},
		{"Cooking Oil 1L", 28000, 32000, []int{10}},
		{"Rice 2kg", 31000, 36000, []int{8, 8}},
	}
	for i, item := range seed {
		product := domain.Product{
			ID:         xid.New("prod"),
			Name:       item.name,
			CostCents:  item.cost,
			PriceCents: item.price,
			CreatedAt:  now,
		}
		s.data.products[product.ID] = product
		for j, qty := range item.batches {
			s.data.seq++
			batch := domain.StockBatch{
				ID:          xid.New("batch"),
				ProductID:   product.ID,
				Quantity:    qty,
				RestockedAt: now.Add(-time.Duration(len(seed)-i+len(item.batches)-j) * 24 * time.Hour),
			}
			s.data.batches[batch.ID] = batchEntry{batch: batch, seq: s.data.seq}
		}
	}

	adminPwd := os.Getenv("SEED_ADMIN_PASSWORD")
	if adminPwd == "" {
		adminPwd = "admin123"
		log.Warn().Msg("memory store: using default dev credentials; set SEED_ADMIN_PASSWORD to override")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(adminPwd), bcrypt.DefaultCost)
	if err != nil {
		log.Fatal().Err(err).Msg("memory store: failed to hash seed password")
	}
	s.data.users["admin"] = domain.UserAccount{
		Username:  "admin",
		Email:     "admin@myduka.local",
		Password:  string(hash),
		CreatedAt: now,
	}

	return s
}

func (s *Store) WithinSaleTx(ctx context.Context, fn func(tx store.SaleTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	snapshot := s.data.clone()
	if err := fn(&saleTx{data: &s.data}); err != nil {
		s.data = snapshot
		return err
	}
	return nil
}

func (s *Store) ListProductsWithStock(_ context.Context) ([]domain.ProductWithStock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	totals := s.data.stockTotals()
	result := make([]domain.ProductWithStock, 0, len(s.data.products))
	for _, p := range s.data.products {
		result = append(result, domain.ProductWithStock{Product: p, Stock: totals[p.ID]})
	}
	slices.SortFunc(result, func(a, b domain.ProductWithStock) int {
		if c := cmp.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return result, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.data.products[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	return &product, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	if err := validateProduct(product); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	if _, exists := s.data.products[product.ID]; exists {
		return nil, store.ErrConflict
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}
	s.data.products[product.ID] = product
	return &product, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	if err := validateProduct(product); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.data.products[product.ID]
	if !exists {
		return nil, store.ErrNotFound
	}
	product.CreatedAt = existing.CreatedAt
	s.data.products[product.ID] = product
	return &product, nil
}

func (s *Store) DeleteProduct(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data.products[id]; !exists {
		return store.ErrNotFound
	}
	for _, entry := range s.data.sales {
		for _, item := range entry.sale.Items {
			if item.ProductID == id {
				return fmt.Errorf("%w: product has recorded sales", store.ErrConflict)
			}
		}
	}

	for batchID, entry := range s.data.batches {
		if entry.batch.ProductID == id {
			delete(s.data.batches, batchID)
		}
	}
	delete(s.data.products, id)
	return nil
}

func (s *Store) ListStockBatches(_ context.Context) ([]domain.StockBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := slices.Collect(maps.Values(s.data.batches))
	slices.SortFunc(entries, func(a, b batchEntry) int {
		if c := b.batch.RestockedAt.Compare(a.batch.RestockedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.seq, a.seq)
	})

	result := make([]domain.StockBatch, 0, len(entries))
	for _, entry := range entries {
		batch := entry.batch
		batch.ProductName = s.data.products[batch.ProductID].Name
		result = append(result, batch)
	}
	return result, nil
}

func (s *Store) CreateStockBatch(_ context.Context, batch domain.StockBatch) (*domain.StockBatch, error) {
	if batch.Quantity < 1 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	product, exists := s.data.products[batch.ProductID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if batch.ID == "" {
		batch.ID = xid.New("batch")
	}
	if batch.RestockedAt.IsZero() {
		batch.RestockedAt = time.Now().UTC()
	}
	s.data.seq++
	s.data.batches[batch.ID] = batchEntry{batch: batch, seq: s.data.seq}

	batch.ProductName = product.Name
	return &batch, nil
}

func (s *Store) DeleteStockBatch(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data.batches[id]; !exists {
		return store.ErrNotFound
	}
	delete(s.data.batches, id)
	return nil
}

func (s *Store) ListCustomers(_ context.Context) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customers := slices.Collect(maps.Values(s.data.customers))
	slices.SortFunc(customers, func(a, b domain.Customer) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return customers, nil
}

func (s *Store) GetCustomer(_ context.Context, id string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customer, exists := s.data.customers[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	return &customer, nil
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	if strings.TrimSpace(customer.Name) == "" {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if customer.ID == "" {
		customer.ID = xid.New("cust")
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}
	s.data.customers[customer.ID] = customer
	return &customer, nil
}

func (s *Store) UpdateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	if strings.TrimSpace(customer.Name) == "" {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.data.customers[customer.ID]
	if !exists {
		return nil, store.ErrNotFound
	}
	customer.CreatedAt = existing.CreatedAt
	s.data.customers[customer.ID] = customer
	return &customer, nil
}

// DeleteCustomer removes the customer and detaches their sales, which stay
// in the history as walk-in sales.
func (s *Store) DeleteCustomer(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data.customers[id]; !exists {
		return store.ErrNotFound
	}
	for saleID, entry := range s.data.sales {
		if entry.sale.CustomerID != nil && *entry.sale.CustomerID == id {
			entry.sale.CustomerID = nil
			s.data.sales[saleID] = entry
		}
	}
	delete(s.data.customers, id)
	return nil
}

func (s *Store) GetSale(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, exists := s.data.sales[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	sale := s.data.decorateSale(entry.sale, true)
	return &sale, nil
}

func (s *Store) ListSales(_ context.Context, filter store.SaleFilter) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]saleEntry, 0, len(s.data.sales))
	for _, entry := range s.data.sales {
		if inWindow(entry.sale.CreatedAt, filter.From, filter.To) {
			entries = append(entries, entry)
		}
	}
	slices.SortFunc(entries, func(a, b saleEntry) int {
		if c := b.sale.CreatedAt.Compare(a.sale.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.seq, a.seq)
	})
	if filter.Limit > 0 && len(entries) > filter.Limit {
		entries = entries[:filter.Limit]
	}

	sales := make([]domain.Sale, 0, len(entries))
	for _, entry := range entries {
		sales = append(sales, s.data.decorateSale(entry.sale, filter.WithItems))
	}
	return sales, nil
}

func (s *Store) SalesSummary(_ context.Context, from *time.Time, to *time.Time) (domain.SalesSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var summary domain.SalesSummary
	for _, entry := range s.data.sales {
		if !inWindow(entry.sale.CreatedAt, from, to) {
			continue
		}
		summary.Count++
		summary.AmountCents += entry.sale.TotalAmountCents
		summary.ProfitCents += entry.sale.TotalProfitCents
	}
	return summary, nil
}

func (s *Store) ProductSales(_ context.Context) ([]domain.ProductSales, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byProduct := make(map[string]*domain.ProductSales)
	for _, entry := range s.data.sales {
		for _, item := range entry.sale.Items {
			row, ok := byProduct[item.ProductID]
			if !ok {
				name := item.ProductName
				if product, exists := s.data.products[item.ProductID]; exists {
					name = product.Name
				}
				row = &domain.ProductSales{ProductID: item.ProductID, Name: name}
				byProduct[item.ProductID] = row
			}
			row.UnitsSold += int64(item.Quantity)
			row.RevenueCents += item.TotalPriceCents
		}
	}

	result := make([]domain.ProductSales, 0, len(byProduct))
	for _, row := range byProduct {
		result = append(result, *row)
	}
	slices.SortFunc(result, func(a, b domain.ProductSales) int {
		if c := cmp.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return cmp.Compare(a.ProductID, b.ProductID)
	})
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data.users[user.Username]; exists {
		return store.ErrUsernameTaken
	}
	for _, existing := range s.data.users {
		if strings.EqualFold(existing.Email, user.Email) {
			return store.ErrEmailTaken
		}
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.data.users[user.Username] = user
	return nil
}

func (s *Store) GetUser(_ context.Context, username string) (*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, exists := s.data.users[username]
	if !exists {
		return nil, store.ErrNotFound
	}
	return &user, nil
}

// saleTx operates on the store's data while WithinSaleTx holds the write lock.
type saleTx struct {
	data *state
}

func (t *saleTx) LockProducts(_ context.Context, ids []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if product, exists := t.data.products[id]; exists {
			result[id] = product
		}
	}
	return result, nil
}

func (t *saleTx) TotalStock(_ context.Context, productID string) (int, error) {
	total := 0
	for _, entry := range t.data.batches {
		if entry.batch.ProductID == productID {
			total += entry.batch.Quantity
		}
	}
	return total, nil
}

func (t *saleTx) ListBatchesFIFO(_ context.Context, productID string) ([]domain.StockBatch, error) {
	entries := make([]batchEntry, 0, 4)
	for _, entry := range t.data.batches {
		if entry.batch.ProductID == productID {
			entries = append(entries, entry)
		}
	}
	slices.SortFunc(entries, compareBatchFIFO)

	batches := make([]domain.StockBatch, 0, len(entries))
	for _, entry := range entries {
		batches = append(batches, entry.batch)
	}
	return batches, nil
}

func (t *saleTx) UpdateBatchQuantity(_ context.Context, batchID string, qty int) error {
	if qty < 1 {
		return store.ErrInvalidInput
	}
	entry, exists := t.data.batches[batchID]
	if !exists {
		return store.ErrNotFound
	}
	entry.batch.Quantity = qty
	t.data.batches[batchID] = entry
	return nil
}

func (t *saleTx) DeleteBatch(_ context.Context, batchID string) error {
	if _, exists := t.data.batches[batchID]; !exists {
		return store.ErrNotFound
	}
	delete(t.data.batches, batchID)
	return nil
}

func (t *saleTx) CustomerExists(_ context.Context, id string) (bool, error) {
	_, exists := t.data.customers[id]
	return exists, nil
}

func (t *saleTx) InsertSale(_ context.Context, sale domain.Sale) error {
	if sale.ID == "" || len(sale.Items) == 0 {
		return store.ErrInvalidInput
	}
	if _, exists := t.data.sales[sale.ID]; exists {
		return store.ErrConflict
	}
	t.data.seq++
	t.data.sales[sale.ID] = saleEntry{sale: cloneSale(sale), seq: t.data.seq}
	return nil
}

func (d *state) clone() state {
	sales := make(map[string]saleEntry, len(d.sales))
	for id, entry := range d.sales {
		sales[id] = saleEntry{sale: cloneSale(entry.sale), seq: entry.seq}
	}
	return state{
		products:  maps.Clone(d.products),
		batches:   maps.Clone(d.batches),
		customers: maps.Clone(d.customers),
		sales:     sales,
		users:     maps.Clone(d.users),
		seq:       d.seq,
	}
}

func (d *state) stockTotals() map[string]int {
	totals := make(map[string]int, len(d.products))
	for _, entry := range d.batches {
		totals[entry.batch.ProductID] += entry.batch.Quantity
	}
	return totals
}

func (d *state) decorateSale(src domain.Sale, withItems bool) domain.Sale {
	sale := cloneSale(src)
	if !withItems {
		sale.Items = nil
	}
	if sale.CustomerID != nil {
		sale.CustomerName = d.customers[*sale.CustomerID].Name
	}
	return sale
}

func compareBatchFIFO(a batchEntry, b batchEntry) int {
	if c := a.batch.RestockedAt.Compare(b.batch.RestockedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.seq, b.seq)
}

func inWindow(at time.Time, from *time.Time, to *time.Time) bool {
	if from != nil && at.Before(*from) {
		return false
	}
	if to != nil && !at.Before(*to) {
		return false
	}
	return true
}

func validateProduct(product domain.Product) error {
	if strings.TrimSpace(product.Name) == "" || product.CostCents < 0 || product.PriceCents < 0 {
		return store.ErrInvalidInput
	}
	return nil
}

func cloneSale(src domain.Sale) domain.Sale {
	dst := src
	if src.CustomerID != nil {
		id := *src.CustomerID
		dst.CustomerID = &id
	}
	if src.Items != nil {
		dst.Items = slices.Clone(src.Items)
	}
	return dst
}
