package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"myduka/backend/internal/domain"
	"myduka/backend/internal/store"
	"myduka/backend/internal/xid"
)

//go:embed schema.sql
var schema string

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// EnsureSchema creates missing tables and indexes. It is safe to run on every start.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

// WithinSaleTx runs fn in a READ COMMITTED transaction. Product rows locked
// through the SaleTx stay locked until commit or rollback.
func (s *Store) WithinSaleTx(ctx context.Context, fn func(tx store.SaleTx) error) error {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = pgTx.Rollback() }()

	if err := fn(&saleTx{tx: pgTx}); err != nil {
		return err
	}
	return pgTx.Commit()
}

func (s *Store) ListProductsWithStock(ctx context.Context) ([]domain.ProductWithStock, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.name, p.cost_cents, p.price_cents, p.created_at, COALESCE(SUM(b.quantity), 0)
		FROM products p
		LEFT JOIN stock_batches b ON b.product_id = p.id
		GROUP BY p.id
		ORDER BY p.name, p.id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.ProductWithStock, 0, 64)
	for rows.Next() {
		var p domain.ProductWithStock
		if err := rows.Scan(&p.ID, &p.Name, &p.CostCents, &p.PriceCents, &p.CreatedAt, &p.Stock); err != nil {
			return nil, err
		}
		p.CreatedAt = p.CreatedAt.UTC()
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	var product domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, cost_cents, price_cents, created_at
		FROM products
		WHERE id = $1
	`, id).Scan(&product.ID, &product.Name, &product.CostCents, &product.PriceCents, &product.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	product.CreatedAt = product.CreatedAt.UTC()
	return &product, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if err := validateProduct(product); err != nil {
		return nil, err
	}
	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, cost_cents, price_cents, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, product.ID, product.Name, product.CostCents, product.PriceCents, product.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	created := product
	return &created, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if err := validateProduct(product); err != nil {
		return nil, err
	}

	err := s.db.QueryRowContext(ctx, `
		UPDATE products
		SET name = $2, cost_cents = $3, price_cents = $4, updated_at = now()
		WHERE id = $1
		RETURNING created_at
	`, product.ID, product.Name, product.CostCents, product.PriceCents).Scan(&product.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	product.CreatedAt = product.CreatedAt.UTC()
	return &product, nil
}

// DeleteProduct removes a product and its batches. Products that appear in a
// recorded sale cannot be deleted.
func (s *Store) DeleteProduct(ctx context.Context, id string) error {
	pgTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = pgTx.Rollback() }()

	var sold bool
	if err := pgTx.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM sale_items WHERE product_id = $1)
	`, id).Scan(&sold); err != nil {
		return err
	}
	if sold {
		return fmt.Errorf("%w: product has recorded sales", store.ErrConflict)
	}

	if _, err := pgTx.ExecContext(ctx, `DELETE FROM stock_batches WHERE product_id = $1`, id); err != nil {
		return err
	}
	res, err := pgTx.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if err := expectAffected(res); err != nil {
		return err
	}
	return pgTx.Commit()
}

func (s *Store) ListStockBatches(ctx context.Context) ([]domain.StockBatch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT b.id, b.product_id, p.name, b.quantity, b.restocked_at
		FROM stock_batches b
		JOIN products p ON p.id = b.product_id
		ORDER BY b.restocked_at DESC, b.seq DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	batches := make([]domain.StockBatch, 0, 64)
	for rows.Next() {
		var b domain.StockBatch
		if err := rows.Scan(&b.ID, &b.ProductID, &b.ProductName, &b.Quantity, &b.RestockedAt); err != nil {
			return nil, err
		}
		b.RestockedAt = b.RestockedAt.UTC()
		batches = append(batches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return batches, nil
}

func (s *Store) CreateStockBatch(ctx context.Context, batch domain.StockBatch) (*domain.StockBatch, error) {
	if batch.Quantity < 1 {
		return nil, store.ErrInvalidInput
	}
	if batch.ID == "" {
		batch.ID = xid.New("batch")
	}
	if batch.RestockedAt.IsZero() {
		batch.RestockedAt = time.Now().UTC()
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO stock_batches (id, product_id, quantity, restocked_at)
		SELECT $1::text, p.id, $3::integer, $4::timestamptz
		FROM products p
		WHERE p.id = $2
		RETURNING (SELECT name FROM products WHERE id = $2)
	`, batch.ID, batch.ProductID, batch.Quantity, batch.RestockedAt).Scan(&batch.ProductName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	return &batch, nil
}

func (s *Store) DeleteStockBatch(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM stock_batches WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (s *Store) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, phone, email, created_at
		FROM customers
		ORDER BY created_at DESC, id DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	customers := make([]domain.Customer, 0, 32)
	for rows.Next() {
		var c domain.Customer
		if err := rows.Scan(&c.ID, &c.Name, &c.Phone, &c.Email, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.CreatedAt = c.CreatedAt.UTC()
		customers = append(customers, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return customers, nil
}

func (s *Store) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	var c domain.Customer
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, phone, email, created_at
		FROM customers
		WHERE id = $1
	`, id).Scan(&c.ID, &c.Name, &c.Phone, &c.Email, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return &c, nil
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if strings.TrimSpace(customer.Name) == "" {
		return nil, store.ErrInvalidInput
	}
	if customer.ID == "" {
		customer.ID = xid.New("cust")
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (id, name, phone, email, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, customer.ID, customer.Name, customer.Phone, customer.Email, customer.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	return &customer, nil
}

func (s *Store) UpdateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if strings.TrimSpace(customer.Name) == "" {
		return nil, store.ErrInvalidInput
	}

	err := s.db.QueryRowContext(ctx, `
		UPDATE customers
		SET name = $2, phone = $3, email = $4
		WHERE id = $1
		RETURNING created_at
	`, customer.ID, customer.Name, customer.Phone, customer.Email).Scan(&customer.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	customer.CreatedAt = customer.CreatedAt.UTC()
	return &customer, nil
}

// DeleteCustomer removes the customer. The foreign key detaches their sales,
// which stay in the history as walk-in sales.
func (s *Store) DeleteCustomer(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM customers WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (s *Store) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	sales, err := s.querySales(ctx, `
		SELECT s.id, s.customer_id, COALESCE(c.name, ''), s.total_amount_cents, s.total_profit_cents, s.created_at
		FROM sales s
		LEFT JOIN customers c ON c.id = s.customer_id
		WHERE s.id = $1
	`, id)
	if err != nil {
		return nil, err
	}
	if len(sales) == 0 {
		return nil, store.ErrNotFound
	}
	if err := s.attachItems(ctx, sales); err != nil {
		return nil, err
	}
	return &sales[0], nil
}

func (s *Store) ListSales(ctx context.Context, filter store.SaleFilter) ([]domain.Sale, error) {
	var limit any
	if filter.Limit > 0 {
		limit = filter.Limit
	}

	sales, err := s.querySales(ctx, `
		SELECT s.id, s.customer_id, COALESCE(c.name, ''), s.total_amount_cents, s.total_profit_cents, s.created_at
		FROM sales s
		LEFT JOIN customers c ON c.id = s.customer_id
		WHERE ($1::timestamptz IS NULL OR s.created_at >= $1)
		  AND ($2::timestamptz IS NULL OR s.created_at < $2)
		ORDER BY s.created_at DESC, s.seq DESC
		LIMIT $3
	`, nullTime(filter.From), nullTime(filter.To), limit)
	if err != nil {
		return nil, err
	}
	if filter.WithItems {
		if err := s.attachItems(ctx, sales); err != nil {
			return nil, err
		}
	}
	return sales, nil
}

func (s *Store) SalesSummary(ctx context.Context, from *time.Time, to *time.Time) (domain.SalesSummary, error) {
	var summary domain.SalesSummary
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(total_amount_cents), 0), COALESCE(SUM(total_profit_cents), 0)
		FROM sales
		WHERE ($1::timestamptz IS NULL OR created_at >= $1)
		  AND ($2::timestamptz IS NULL OR created_at < $2)
	`, nullTime(from), nullTime(to)).Scan(&summary.Count, &summary.AmountCents, &summary.ProfitCents)
	if err != nil {
		return domain.SalesSummary{}, err
	}
	return summary, nil
}

func (s *Store) ProductSales(ctx context.Context) ([]domain.ProductSales, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT i.product_id, COALESCE(p.name, MAX(i.product_name)), SUM(i.quantity), SUM(i.total_price_cents)
		FROM sale_items i
		LEFT JOIN products p ON p.id = i.product_id
		GROUP BY i.product_id, p.name
		ORDER BY 2, 1
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.ProductSales, 0, 32)
	for rows.Next() {
		var row domain.ProductSales
		if err := rows.Scan(&row.ProductID, &row.Name, &row.UnitsSold, &row.RevenueCents); err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.TrimSpace(user.Username)
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, email, password, created_at)
		VALUES ($1,$2,$3,$4)
	`, user.Username, user.Email, user.Password, user.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			if pgErr.ConstraintName == "app_users_email_key" {
				return store.ErrEmailTaken
			}
			return store.ErrUsernameTaken
		}
		return err
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, username string) (*domain.UserAccount, error) {
	var user domain.UserAccount
	err := s.db.QueryRowContext(ctx, `
		SELECT username, email, password, created_at
		FROM app_users
		WHERE username = $1
	`, username).Scan(&user.Username, &user.Email, &user.Password, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	user.CreatedAt = user.CreatedAt.UTC()
	return &user, nil
}

func (s *Store) querySales(ctx context.Context, query string, args ...any) ([]domain.Sale, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, 32)
	for rows.Next() {
		var sale domain.Sale
		var customerID sql.NullString
		if err := rows.Scan(&sale.ID, &customerID, &sale.CustomerName, &sale.TotalAmountCents, &sale.TotalProfitCents, &sale.CreatedAt); err != nil {
			return nil, err
		}
		if customerID.Valid {
			id := customerID.String
			sale.CustomerID = &id
		}
		sale.CreatedAt = sale.CreatedAt.UTC()
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sales, nil
}

// attachItems loads the items of every sale in one query, in insertion order.
func (s *Store) attachItems(ctx context.Context, sales []domain.Sale) error {
	if len(sales) == 0 {
		return nil
	}

	index := make(map[string]int, len(sales))
	ids := make([]string, 0, len(sales))
	for i, sale := range sales {
		index[sale.ID] = i
		ids = append(ids, sale.ID)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sale_id, product_id, product_name, quantity, unit_price_cents, unit_cost_cents, total_price_cents
		FROM sale_items
		WHERE sale_id = ANY($1)
		ORDER BY seq
	`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var item domain.SaleItem
		if err := rows.Scan(&item.ID, &item.SaleID, &item.ProductID, &item.ProductName, &item.Quantity,
			&item.UnitPriceCents, &item.UnitCostCents, &item.TotalPriceCents); err != nil {
			return err
		}
		i := index[item.SaleID]
		sales[i].Items = append(sales[i].Items, item)
	}
	return rows.Err()
}

// saleTx routes the sale engine's reads and writes through one database transaction.
type saleTx struct {
	tx *sql.Tx
}

func (t *saleTx) LockProducts(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, name, cost_cents, price_cents, created_at
		FROM products
		WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.CostCents, &p.PriceCents, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.CreatedAt = p.CreatedAt.UTC()
		result[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (t *saleTx) TotalStock(ctx context.Context, productID string) (int, error) {
	var total int
	err := t.tx.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(quantity), 0)
		FROM stock_batches
		WHERE product_id = $1
	`, productID).Scan(&total)
	return total, err
}

func (t *saleTx) ListBatchesFIFO(ctx context.Context, productID string) ([]domain.StockBatch, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, product_id, quantity, restocked_at
		FROM stock_batches
		WHERE product_id = $1
		ORDER BY restocked_at ASC, seq ASC
		FOR UPDATE
	`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	batches := make([]domain.StockBatch, 0, 4)
	for rows.Next() {
		var b domain.StockBatch
		if err := rows.Scan(&b.ID, &b.ProductID, &b.Quantity, &b.RestockedAt); err != nil {
			return nil, err
		}
		b.RestockedAt = b.RestockedAt.UTC()
		batches = append(batches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return batches, nil
}

func (t *saleTx) UpdateBatchQuantity(ctx context.Context, batchID string, qty int) error {
	if qty < 1 {
		return store.ErrInvalidInput
	}
	res, err := t.tx.ExecContext(ctx, `UPDATE stock_batches SET quantity = $2 WHERE id = $1`, batchID, qty)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (t *saleTx) DeleteBatch(ctx context.Context, batchID string) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM stock_batches WHERE id = $1`, batchID)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (t *saleTx) CustomerExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := t.tx.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM customers WHERE id = $1)
	`, id).Scan(&exists)
	return exists, err
}

func (t *saleTx) InsertSale(ctx context.Context, sale domain.Sale) error {
	if sale.ID == "" || len(sale.Items) == 0 {
		return store.ErrInvalidInput
	}

	var customerID any
	if sale.CustomerID != nil {
		customerID = *sale.CustomerID
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO sales (id, customer_id, total_amount_cents, total_profit_cents, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, sale.ID, customerID, sale.TotalAmountCents, sale.TotalProfitCents, sale.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}

	for _, item := range sale.Items {
		if _, err := t.tx.ExecContext(ctx, `
			INSERT INTO sale_items (
				id, sale_id, product_id, product_name, quantity,
				unit_price_cents, unit_cost_cents, total_price_cents
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, item.ID, sale.ID, item.ProductID, item.ProductName, item.Quantity,
			item.UnitPriceCents, item.UnitCostCents, item.TotalPriceCents); err != nil {
			return err
		}
	}
	return nil
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolation
	}
	return false
}

func expectAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func validateProduct(product domain.Product) error {
	if strings.TrimSpace(product.Name) == "" || product.CostCents < 0 || product.PriceCents < 0 {
		return store.ErrInvalidInput
	}
	return nil
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}
