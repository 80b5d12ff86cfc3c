package service

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gocarina/gocsv"

	"myduka/backend/internal/domain"
	"myduka/backend/internal/money"
	"myduka/backend/internal/sale"
	"myduka/backend/internal/store"
)

const maxSalesPage = 500

// RecordSale runs the sale engine. The result always carries the response
// contract; err is returned alongside so callers can choose a status code.
func (s *Service) RecordSale(ctx context.Context, req domain.RecordSaleRequest) (domain.RecordSaleResult, error) {
	if req.CustomerID != nil {
		trimmed := strings.TrimSpace(*req.CustomerID)
		if trimmed == "" {
			req.CustomerID = nil
		} else {
			req.CustomerID = &trimmed
		}
	}
	for i := range req.Items {
		req.Items[i].ProductID = strings.TrimSpace(req.Items[i].ProductID)
	}

	recorded, err := s.sales.Record(ctx, req)
	return sale.Result(recorded, err), err
}

func (s *Service) ListSales(ctx context.Context, limit int) ([]domain.Sale, error) {
	if limit <= 0 || limit > maxSalesPage {
		limit = maxSalesPage
	}
	return s.repo.ListSales(ctx, store.SaleFilter{Limit: limit})
}

func (s *Service) GetSale(ctx context.Context, id string) (domain.Sale, error) {
	found, err := s.repo.GetSale(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Sale{}, err
	}
	return *found, nil
}

func (s *Service) Receipt(ctx context.Context, id string) (domain.SaleReceipt, error) {
	found, err := s.GetSale(ctx, id)
	if err != nil {
		return domain.SaleReceipt{}, err
	}

	customer := found.CustomerName
	if customer == "" {
		customer = "Walk-in"
	}

	lines := []string{
		"MyDuka",
		"========================",
		"Sale: " + found.ID,
		"Date: " + found.CreatedAt.In(s.location).Format("2006-01-02 15:04:05"),
		"Customer: " + customer,
		"------------------------",
	}
	for _, item := range found.Items {
		lines = append(lines, fmt.Sprintf("%s x%d @ %s", item.ProductName, item.Quantity, money.Format(item.UnitPriceCents)))
		lines = append(lines, "  "+money.Format(item.TotalPriceCents))
	}
	lines = append(lines,
		"------------------------",
		"Total : "+money.Format(found.TotalAmountCents),
		"========================",
		"Thank you",
		"",
	)

	escpos := []byte{0x1b, 0x40}
	for _, line := range lines {
		escpos = append(escpos, line...)
		escpos = append(escpos, '\n')
	}
	escpos = append(escpos, 0x1d, 0x56, 0x41, 0x10)

	return domain.SaleReceipt{
		SaleID:       found.ID,
		PreviewText:  strings.Join(lines, "\n"),
		EscposBase64: base64.StdEncoding.EncodeToString(escpos),
		FileName:     fmt.Sprintf("receipt-%s.bin", found.ID),
	}, nil
}

// ExportSalesCSV writes one row per sale item for sales created in
// [from, to), newest sale first. Either bound may be nil.
func (s *Service) ExportSalesCSV(ctx context.Context, w io.Writer, from *time.Time, to *time.Time) error {
	sales, err := s.repo.ListSales(ctx, store.SaleFilter{From: from, To: to, WithItems: true})
	if err != nil {
		return err
	}

	rows := make([]domain.SaleExportRow, 0, len(sales))
	for _, sold := range sales {
		for _, item := range sold.Items {
			rows = append(rows, domain.SaleExportRow{
				SaleID:     sold.ID,
				CreatedAt:  sold.CreatedAt.In(s.location).Format(time.RFC3339),
				Customer:   sold.CustomerName,
				Product:    item.ProductName,
				Quantity:   item.Quantity,
				UnitPrice:  money.Format(item.UnitPriceCents),
				LineTotal:  money.Format(item.TotalPriceCents),
				SaleTotal:  money.Format(sold.TotalAmountCents),
				SaleProfit: money.Format(sold.TotalProfitCents),
			})
		}
	}

	return gocsv.Marshal(rows, w)
}
