// Package report builds the dashboard projections over sales and stock.
package report

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"myduka/backend/internal/cache"
	"myduka/backend/internal/domain"
	"myduka/backend/internal/money"
	"myduka/backend/internal/store"
)

const (
	cachePrefix  = "dashboard:"
	seriesDays   = 7
	topN         = 5
	recentN      = 5
	dayLayout    = "2006-01-02"
	seriesLayout = "Jan 02"
)

// Reader is the read-only slice of the repository the dashboard needs.
type Reader interface {
	ListProductsWithStock(ctx context.Context) ([]domain.ProductWithStock, error)
	ListSales(ctx context.Context, filter store.SaleFilter) ([]domain.Sale, error)
	SalesSummary(ctx context.Context, from *time.Time, to *time.Time) (domain.SalesSummary, error)
	ProductSales(ctx context.Context) ([]domain.ProductSales, error)
}

type Engine struct {
	reader   Reader
	cache    cache.DashboardCache
	cacheTTL time.Duration
	location *time.Location
	now      func() time.Time

	// generation changes on every Invalidate. A dashboard computed across a
	// change is returned but not cached.
	generation atomic.Uint64
}

func NewEngine(reader Reader, cacheStore cache.DashboardCache, cacheTTL time.Duration, location *time.Location) *Engine {
	if cacheStore == nil {
		cacheStore = cache.NoopDashboardCache{}
	}
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}
	if location == nil {
		location = time.Local
	}

	return &Engine{
		reader:   reader,
		cache:    cacheStore,
		cacheTTL: cacheTTL,
		location: location,
		now:      time.Now,
	}
}

// Invalidate drops every cached dashboard. It is called after each mutation.
func (e *Engine) Invalidate(ctx context.Context) error {
	e.generation.Add(1)
	return e.cache.DeletePrefix(ctx, cachePrefix)
}

func (e *Engine) Dashboard(ctx context.Context) (domain.Dashboard, error) {
	now := e.now().In(e.location)
	todayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, e.location)
	tomorrow := todayStart.AddDate(0, 0, 1)
	windowStart := todayStart.AddDate(0, 0, -(seriesDays - 1))

	cacheKey := cachePrefix + todayStart.Format(dayLayout)
	if cached, ok, err := e.cache.Get(ctx, cacheKey); err == nil && ok {
		return *cached, nil
	} else if err != nil {
		log.Warn().Err(err).Str("key", cacheKey).Msg("dashboard cache read failed")
	}

	generation := e.generation.Load()

	var (
		allTime     domain.SalesSummary
		products    []domain.ProductWithStock
		windowSales []domain.Sale
		recent      []domain.Sale
		perProduct  []domain.ProductSales
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		allTime, err = e.reader.SalesSummary(gctx, nil, nil)
		return wrap("sales summary", err)
	})
	g.Go(func() error {
		var err error
		products, err = e.reader.ListProductsWithStock(gctx)
		return wrap("products with stock", err)
	})
	g.Go(func() error {
		var err error
		windowSales, err = e.reader.ListSales(gctx, store.SaleFilter{From: &windowStart, To: &tomorrow})
		return wrap("seven day sales", err)
	})
	g.Go(func() error {
		var err error
		recent, err = e.reader.ListSales(gctx, store.SaleFilter{Limit: recentN})
		return wrap("recent sales", err)
	})
	g.Go(func() error {
		var err error
		perProduct, err = e.reader.ProductSales(gctx)
		return wrap("product sales", err)
	})
	if err := g.Wait(); err != nil {
		return domain.Dashboard{}, err
	}

	dashboard := domain.Dashboard{
		GeneratedAt:      now.Format(time.RFC3339),
		Date:             todayStart.Format(dayLayout),
		TotalSalesCents:  allTime.AmountCents,
		TotalProfitCents: allTime.ProfitCents,
		TotalSalesCount:  allTime.Count,
		RecentSales:      nonNil(recent),
	}

	for _, p := range products {
		units := int64(p.Stock)
		dashboard.TotalStock = saturatingAdd(dashboard.TotalStock, units)
		dashboard.InventoryValueAtCostCents = saturatingAdd(dashboard.InventoryValueAtCostCents, saturatingMul(p.CostCents, units))
		dashboard.InventoryValueAtPriceCents = saturatingAdd(dashboard.InventoryValueAtPriceCents, saturatingMul(p.PriceCents, units))
	}
	dashboard.BusinessWorthCents = saturatingAdd(dashboard.InventoryValueAtCostCents, dashboard.TotalProfitCents)
	dashboard.PotentialWorthCents = dashboard.InventoryValueAtPriceCents

	dashboard.SevenDaySeries = dailySeries(windowSales, windowStart, e.location)
	dashboard.TodaySales = make([]domain.Sale, 0)
	for _, s := range windowSales {
		if s.CreatedAt.Before(todayStart) {
			continue
		}
		dashboard.TodaySales = append(dashboard.TodaySales, s)
		dashboard.DailySalesCents = saturatingAdd(dashboard.DailySalesCents, s.TotalAmountCents)
		dashboard.DailyProfitCents = saturatingAdd(dashboard.DailyProfitCents, s.TotalProfitCents)
		dashboard.DailySalesCount++
	}

	dashboard.TopProducts = topProducts(perProduct, topN)
	dashboard.SalesPerProduct = revenueBreakdown(perProduct)

	if e.generation.Load() != generation {
		log.Debug().Str("key", cacheKey).Msg("dashboard invalidated while computing; not cached")
		return dashboard, nil
	}
	if err := e.cache.Set(ctx, cacheKey, &dashboard, e.cacheTTL); err != nil {
		log.Warn().Err(err).Str("key", cacheKey).Msg("dashboard cache write failed")
	}
	return dashboard, nil
}

// dailySeries buckets sales per local calendar day starting at start.
// Days without sales are reported as zero.
func dailySeries(sales []domain.Sale, start time.Time, location *time.Location) []domain.DailySales {
	totals := make(map[string]int64, seriesDays)
	for _, s := range sales {
		key := s.CreatedAt.In(location).Format(dayLayout)
		totals[key] = saturatingAdd(totals[key], s.TotalAmountCents)
	}

	series := make([]domain.DailySales, 0, seriesDays)
	for i := range seriesDays {
		day := start.AddDate(0, 0, i)
		key := day.Format(dayLayout)
		series = append(series, domain.DailySales{
			Date:        key,
			Label:       day.Format(seriesLayout),
			AmountCents: totals[key],
		})
	}
	return series
}

func topProducts(rows []domain.ProductSales, n int) []domain.ProductSales {
	sorted := slices.Clone(rows)
	slices.SortFunc(sorted, func(a, b domain.ProductSales) int {
		if c := cmp.Compare(b.UnitsSold, a.UnitsSold); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return nonNil(sorted)
}

func revenueBreakdown(rows []domain.ProductSales) []domain.ProductSales {
	sorted := slices.Clone(rows)
	slices.SortFunc(sorted, func(a, b domain.ProductSales) int {
		if c := cmp.Compare(b.RevenueCents, a.RevenueCents); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
	return nonNil(sorted)
}

// saturatingAdd clamps at the int64 bounds instead of wrapping.
func saturatingAdd(a int64, b int64) int64 {
	if sum, ok := money.Add(a, b); ok {
		return sum
	}
	if b > 0 {
		return math.MaxInt64
	}
	return math.MinInt64
}

func saturatingMul(cents int64, qty int64) int64 {
	if product, ok := money.MulQty(cents, qty); ok {
		return product
	}
	if (cents < 0) != (qty < 0) {
		return math.MinInt64
	}
	return math.MaxInt64
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

func wrap(what string, err error) error {
	if err != nil {
		return fmt.Errorf("dashboard %s: %w", what, err)
	}
	return nil
}
