package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	CostCents  int64     `json:"cost_cents"`
	PriceCents int64     `json:"price_cents"`
	CreatedAt  time.Time `json:"created_at"`
}

// ProfitPerUnitCents is price minus cost; negative when the product sells at a loss.
func (p Product) ProfitPerUnitCents() int64 {
	return p.PriceCents - p.CostCents
}

type ProductWithStock struct {
	Product
	Stock int `json:"stock"`
}

type ProductCreateRequest struct {
	Name  string          `json:"name" validate:"required,max=100"`
	Cost  decimal.Decimal `json:"cost" validate:"gte=0"`
	Price decimal.Decimal `json:"price" validate:"gte=0"`
}

type ProductUpdateRequest struct {
	Name  *string          `json:"name,omitempty" validate:"omitempty,min=1,max=100"`
	Cost  *decimal.Decimal `json:"cost,omitempty"`
	Price *decimal.Decimal `json:"price,omitempty"`
}

type ProductMutationResponse struct {
	Product Product `json:"product"`
	Warning string  `json:"warning,omitempty"`
}

// StockBatch is one restock event. Batches are consumed oldest RestockedAt first.
type StockBatch struct {
	ID          string    `json:"id"`
	ProductID   string    `json:"product_id"`
	ProductName string    `json:"product_name,omitempty"`
	Quantity    int       `json:"quantity"`
	RestockedAt time.Time `json:"restocked_at"`
}

type StockAddRequest struct {
	ProductID   string     `json:"product_id" validate:"required"`
	Quantity    int        `json:"quantity" validate:"gt=0"`
	RestockedAt *time.Time `json:"restocked_at,omitempty"`
}

type Customer struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone,omitempty"`
	Email     string    `json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type CustomerRequest struct {
	Name  string `json:"name" validate:"required,max=100"`
	Phone string `json:"phone" validate:"omitempty,max=20"`
	Email string `json:"email" validate:"omitempty,max=120,contains=@"`
}

// SaleExportRow is one line of the sales CSV export.
type SaleExportRow struct {
	SaleID     string `csv:"sale_id"`
	CreatedAt  string `csv:"created_at"`
	Customer   string `csv:"customer"`
	Product    string `csv:"product"`
	Quantity   int    `csv:"quantity"`
	UnitPrice  string `csv:"unit_price"`
	LineTotal  string `csv:"line_total"`
	SaleTotal  string `csv:"sale_total"`
	SaleProfit string `csv:"sale_profit"`
}

type SaleLine struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type RecordSaleRequest struct {
	CustomerID *string    `json:"customer_id,omitempty"`
	Items      []SaleLine `json:"items"`
}

// RecordSaleResult is the response contract of the sale endpoint.
type RecordSaleResult struct {
	Success bool   `json:"success"`
	SaleID  string `json:"sale_id,omitempty"`
	Message string `json:"message"`
}

type Sale struct {
	ID               string     `json:"id"`
	CustomerID       *string    `json:"customer_id,omitempty"`
	CustomerName     string     `json:"customer_name,omitempty"`
	TotalAmountCents int64      `json:"total_amount_cents"`
	TotalProfitCents int64      `json:"total_profit_cents"`
	CreatedAt        time.Time  `json:"created_at"`
	Items            []SaleItem `json:"items,omitempty"`
}

type SaleItem struct {
	ID              string `json:"id"`
	SaleID          string `json:"sale_id"`
	ProductID       string `json:"product_id"`
	ProductName     string `json:"product_name"`
	Quantity        int    `json:"quantity"`
	UnitPriceCents  int64  `json:"unit_price_cents"`
	UnitCostCents   int64  `json:"unit_cost_cents"`
	TotalPriceCents int64  `json:"total_price_cents"`
}

type SaleReceipt struct {
	SaleID       string `json:"sale_id"`
	PreviewText  string `json:"preview_text"`
	EscposBase64 string `json:"escpos_base64"`
	FileName     string `json:"file_name"`
}

type SalesSummary struct {
	Count       int64 `json:"count"`
	AmountCents int64 `json:"amount_cents"`
	ProfitCents int64 `json:"profit_cents"`
}

type ProductSales struct {
	ProductID    string `json:"product_id"`
	Name         string `json:"name"`
	UnitsSold    int64  `json:"units_sold"`
	RevenueCents int64  `json:"revenue_cents"`
}

type DailySales struct {
	Date        string `json:"date"`
	Label       string `json:"label"`
	AmountCents int64  `json:"amount_cents"`
}

type Dashboard struct {
	GeneratedAt string `json:"generated_at"`
	Date        string `json:"date"`

	TotalSalesCents  int64 `json:"total_sales_cents"`
	TotalProfitCents int64 `json:"total_profit_cents"`
	TotalSalesCount  int64 `json:"total_sales_count"`
	TotalStock       int64 `json:"total_stock"`

	DailySalesCents  int64 `json:"daily_sales_cents"`
	DailyProfitCents int64 `json:"daily_profit_cents"`
	DailySalesCount  int64 `json:"daily_sales_count"`

	InventoryValueAtCostCents  int64 `json:"inventory_value_at_cost_cents"`
	InventoryValueAtPriceCents int64 `json:"inventory_value_at_price_cents"`
	BusinessWorthCents         int64 `json:"business_worth_cents"`
	PotentialWorthCents        int64 `json:"potential_worth_cents"`

	SevenDaySeries  []DailySales   `json:"seven_day_series"`
	TodaySales      []Sale         `json:"today_sales"`
	RecentSales     []Sale         `json:"recent_sales"`
	TopProducts     []ProductSales `json:"top_products"`
	SalesPerProduct []ProductSales `json:"sales_per_product"`
}

type RegisterRequest struct {
	Username        string `json:"username" validate:"required,max=80"`
	Email           string `json:"email" validate:"required,max=120,contains=@"`
	Password        string `json:"password" validate:"required,max=72"`
	ConfirmPassword string `json:"confirm_password"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Email     string
	Password  string
	CreatedAt time.Time
}
