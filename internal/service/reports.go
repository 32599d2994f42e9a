package service

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"shopstock/internal/domain"
	"shopstock/internal/logging"
	"shopstock/internal/report"
	"shopstock/internal/store"
)

// ProfitLoss aggregates committed sales and RPU write-offs over the range.
// Results are cached until the next mutation.
func (s *Service) ProfitLoss(ctx context.Context, r domain.DateRange) (*domain.ProfitLoss, error) {
	if r.From != nil && r.To != nil && r.To.Before(*r.From) {
		return nil, invalid("endDate is before startDate")
	}

	key := "pl:" + rangeKey(r.From) + ":" + rangeKey(r.To)
	cached, ok, err := s.reports.Get(ctx, key)
	if err != nil {
		logging.LogError(s.logger, "service", "ProfitLoss", "read report cache", key, err)
	} else if ok {
		return cached, nil
	}

	gen := s.reportGeneration()
	sales, err := s.repo.ListSales(ctx, domain.SaleFilter{DateRange: r})
	if err != nil {
		return nil, err
	}
	returns, err := s.repo.ListReturns(ctx, r)
	if err != nil {
		return nil, err
	}

	pl := &domain.ProfitLoss{
		From:        r.From,
		To:          r.To,
		Sales:       len(sales),
		Revenue:     decimal.Zero,
		CostOfGoods: decimal.Zero,
		RPUWriteOff: decimal.Zero,
	}
	byKey := make(map[string]*domain.ProfitLossLine)
	for _, sale := range sales {
		pl.Revenue = pl.Revenue.Add(sale.Total)
		for _, line := range sale.Items {
			qty := decimal.NewFromInt(int64(line.Quantity))
			cost := line.UnitCost.Mul(qty)
			pl.CostOfGoods = pl.CostOfGoods.Add(cost)

			id := line.ProductID
			if line.Type == domain.SaleItemCombo {
				id = line.ComboID
			}
			agg, ok := byKey[id]
			if !ok {
				agg = &domain.ProfitLossLine{ProductID: id, Name: line.Name}
				byKey[id] = agg
			}
			agg.Quantity += line.Quantity
			agg.Revenue = agg.Revenue.Add(line.Total)
			agg.Cost = agg.Cost.Add(cost)
			agg.Profit = agg.Revenue.Sub(agg.Cost)
		}
	}
	for _, ret := range returns {
		if ret.Category == domain.ReturnCategoryRPU && ret.Status == domain.ReturnStatusProcessed {
			pl.RPUWriteOff = pl.RPUWriteOff.Add(ret.TotalAmount)
		}
	}
	pl.GrossProfit = pl.Revenue.Sub(pl.CostOfGoods)
	pl.NetProfit = pl.GrossProfit.Sub(pl.RPUWriteOff)

	pl.Lines = make([]domain.ProfitLossLine, 0, len(byKey))
	for _, line := range byKey {
		pl.Lines = append(pl.Lines, *line)
	}
	slices.SortFunc(pl.Lines, func(a, b domain.ProfitLossLine) int {
		if c := b.Revenue.Cmp(a.Revenue); c != 0 {
			return c
		}
		return cmp.Compare(a.ProductID, b.ProductID)
	})

	s.cacheReport(ctx, gen, key, pl)
	return pl, nil
}

func rangeKey(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

// ReconcileProfitLoss matches settlement rows to product or combo costs by
// barcode and reports the realised profit per row.
func (s *Service) ReconcileProfitLoss(ctx context.Context, rows []report.ReconcileInput) (*domain.ReconcileResult, error) {
	result := &domain.ReconcileResult{
		Rows:       make([]domain.ReconcileRow, 0, len(rows)),
		SaleAmount: decimal.Zero,
		Cost:       decimal.Zero,
		Profit:     decimal.Zero,
	}
	for _, in := range rows {
		row := domain.ReconcileRow{
			Row:        in.Row,
			Barcode:    in.Barcode,
			Quantity:   in.Quantity,
			SaleAmount: in.SaleAmount,
		}
		name, unitCost, err := s.costByBarcode(ctx, in.Barcode)
		switch {
		case err == nil:
			row.Matched = true
			row.Name = name
			row.Cost = unitCost.Mul(decimal.NewFromInt(int64(in.Quantity)))
			row.Profit = in.SaleAmount.Sub(row.Cost)
			result.Cost = result.Cost.Add(row.Cost)
			result.Profit = result.Profit.Add(row.Profit)
		case errors.Is(err, store.ErrNotFound):
			result.Unmatched++
		default:
			return nil, err
		}
		result.SaleAmount = result.SaleAmount.Add(in.SaleAmount)
		result.Rows = append(result.Rows, row)
	}
	return result, nil
}

func (s *Service) costByBarcode(ctx context.Context, barcode string) (string, decimal.Decimal, error) {
	product, err := s.repo.GetProductByBarcode(ctx, barcode)
	if err == nil {
		return product.Name, product.CostPrice, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return "", decimal.Zero, err
	}
	combo, err := s.repo.GetComboByBarcode(ctx, barcode)
	if err != nil {
		return "", decimal.Zero, err
	}
	detail, err := s.comboDetail(ctx, *combo)
	if err != nil {
		return "", decimal.Zero, err
	}
	return combo.Name, comboUnitCost(detail), nil
}

// ImportProducts creates one product per parsed row. Failed rows are
// reported alongside the created ones, ordered by row number.
func (s *Service) ImportProducts(ctx context.Context, rows []domain.ProductImportRow, failed []domain.ImportResult) []domain.ImportResult {
	results := slices.Clone(failed)
	categories := make(map[string]string)
	for _, row := range rows {
		categoryID, ok := categories[row.CategoryCode]
		if !ok {
			category, err := s.repo.GetCategoryByPrefix(ctx, row.CategoryCode)
			if err != nil {
				results = append(results, domain.ImportResult{Row: row.Row, Error: fmt.Sprintf("category %s: %v", row.CategoryCode, err)})
				continue
			}
			categoryID = category.ID
			categories[row.CategoryCode] = categoryID
		}

		product, err := s.CreateProduct(ctx, domain.ProductCreateRequest{
			Name:         row.Name,
			CategoryID:   categoryID,
			CostPrice:    row.CostPrice,
			SellingPrice: row.SellingPrice,
			Quantity:     row.Quantity,
			MinQuantity:  row.MinQuantity,
		})
		if err != nil {
			results = append(results, domain.ImportResult{Row: row.Row, Error: err.Error()})
			continue
		}
		results = append(results, domain.ImportResult{Row: row.Row, Product: product.ID, Barcode: product.Barcode})
	}
	slices.SortFunc(results, func(a, b domain.ImportResult) int { return cmp.Compare(a.Row, b.Row) })

	s.logAction(ctx, "imported", "product", "", logrus.Fields{"rows": len(results), "failed": countFailed(results)})
	return results
}

func countFailed(results []domain.ImportResult) int {
	n := 0
	for _, r := range results {
		if r.Error != "" {
			n++
		}
	}
	return n
}

// ScanLowStock refreshes the low-stock gauge and announces the products at or
// below their threshold.
func (s *Service) ScanLowStock(ctx context.Context) ([]domain.Product, error) {
	products, err := s.LowStockProducts(ctx)
	if err != nil {
		return nil, err
	}
	s.metrics.LowStockProducts.Set(float64(len(products)))
	if len(products) > 0 {
		event := domain.Event{Name: domain.EventLowStock, Action: "scanned", At: s.now()}
		if err := s.bus.Publish(ctx, event); err != nil {
			logging.LogError(s.logger, "service", "ScanLowStock", "publish event", event, err)
		}
	}
	return products, nil
}
