package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"shopstock/internal/domain"
	"shopstock/internal/store"
	"shopstock/internal/xid"
)

func (s *Service) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	sale, err := s.repo.GetSale(ctx, id)
	if err != nil {
		return nil, wrapNotFound(err, "sale", id)
	}
	return sale, nil
}

// PopulateSale attaches the buyer record. A buyer removed since the sale is
// reported by id only.
func (s *Service) PopulateSale(ctx context.Context, sale *domain.Sale) (*domain.SaleDetail, error) {
	detail := &domain.SaleDetail{Sale: *sale, Buyer: domain.Party{ID: sale.BuyerID}}
	buyer, err := s.repo.GetParty(ctx, store.Buyers, sale.BuyerID)
	switch {
	case err == nil:
		detail.Buyer = *buyer
	case !errors.Is(err, store.ErrNotFound):
		return nil, err
	}
	return detail, nil
}

func (s *Service) ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	return s.repo.ListSales(ctx, filter)
}

// CreateSale validates every line, then applies all stock movements and
// stores the sale in one transaction.
func (s *Service) CreateSale(ctx context.Context, draft domain.SaleDraft) (*domain.Sale, error) {
	if len(draft.Items) == 0 {
		return nil, invalid("sale needs at least one item")
	}
	keys, err := s.saleLockKeys(ctx, draft.Items, nil)
	if err != nil {
		return nil, err
	}

	var sale domain.Sale
	err = s.withLocks(ctx, keys, func() error {
		return s.repo.WithinTx(ctx, func(tx store.Tx) error {
			if _, err := tx.GetParty(ctx, store.Buyers, draft.BuyerID); err != nil {
				return wrapNotFound(err, "buyer", draft.BuyerID)
			}
			v, err := loadView(ctx, tx, itemRefs(draft.Items))
			if err != nil {
				return err
			}
			plan, err := planSale(v, draft.Items)
			if err != nil {
				return err
			}
			totals, err := computeTotals(plan.lines, draft)
			if err != nil {
				return err
			}
			applyPlan(v, plan)

			now := s.now()
			if err := v.flush(ctx, tx, now); err != nil {
				return err
			}
			sale = buildSale(xid.New("sale"), draft, plan, totals, now)
			sale.CreatedAt = now
			return tx.InsertSale(ctx, sale)
		})
	})
	if err != nil {
		s.observeFailure(err)
		return nil, err
	}

	s.metrics.SalesTotal.WithLabelValues(domain.ActionCreated).Inc()
	s.logAction(ctx, domain.ActionCreated, "sale", sale.ID, logrus.Fields{"lines": len(sale.Items), "total": sale.Total.String()})
	s.changed(ctx, domain.ActionCreated, sale.ID, domain.EventSalesChanged, domain.EventInventoryChanged)
	return &sale, nil
}

// UpdateSale reverses the stored sale and plans the new items against the
// restored stock inside the same transaction.
func (s *Service) UpdateSale(ctx context.Context, id string, draft domain.SaleDraft) (*domain.Sale, error) {
	if len(draft.Items) == 0 {
		return nil, invalid("sale needs at least one item")
	}
	existing, err := s.repo.GetSale(ctx, id)
	if err != nil {
		return nil, wrapNotFound(err, "sale", id)
	}
	keys, err := s.saleLockKeys(ctx, draft.Items, existing)
	if err != nil {
		return nil, err
	}

	var sale domain.Sale
	err = s.withLocks(ctx, keys, func() error {
		return s.repo.WithinTx(ctx, func(tx store.Tx) error {
			current, err := tx.LockSale(ctx, id)
			if err != nil {
				return wrapNotFound(err, "sale", id)
			}
			if _, err := tx.GetParty(ctx, store.Buyers, draft.BuyerID); err != nil {
				return wrapNotFound(err, "buyer", draft.BuyerID)
			}
			refs := itemRefs(draft.Items)
			refs.products = append(refs.products, saleProductIDs(current)...)
			v, err := loadView(ctx, tx, refs)
			if err != nil {
				return err
			}

			reverseSale(v, current)
			plan, err := planSale(v, draft.Items)
			if err != nil {
				return err
			}
			totals, err := computeTotals(plan.lines, draft)
			if err != nil {
				return err
			}
			applyPlan(v, plan)

			now := s.now()
			if err := v.flush(ctx, tx, now); err != nil {
				return err
			}
			if draft.SaleDate.IsZero() {
				draft.SaleDate = current.SaleDate
			}
			sale = buildSale(current.ID, draft, plan, totals, now)
			sale.CreatedAt = current.CreatedAt
			return tx.UpdateSale(ctx, sale)
		})
	})
	if err != nil {
		s.observeFailure(err)
		return nil, err
	}

	s.metrics.SalesTotal.WithLabelValues(domain.ActionUpdated).Inc()
	s.logAction(ctx, domain.ActionUpdated, "sale", sale.ID, logrus.Fields{"lines": len(sale.Items), "total": sale.Total.String()})
	s.changed(ctx, domain.ActionUpdated, sale.ID, domain.EventSalesChanged, domain.EventInventoryChanged)
	return &sale, nil
}

func (s *Service) DeleteSale(ctx context.Context, id string) error {
	existing, err := s.repo.GetSale(ctx, id)
	if err != nil {
		return wrapNotFound(err, "sale", id)
	}

	err = s.withLocks(ctx, saleProductIDs(existing), func() error {
		return s.repo.WithinTx(ctx, func(tx store.Tx) error {
			current, err := tx.LockSale(ctx, id)
			if err != nil {
				return wrapNotFound(err, "sale", id)
			}
			v, err := loadView(ctx, tx, viewRefs{products: saleProductIDs(current)})
			if err != nil {
				return err
			}
			reverseSale(v, current)
			if err := v.flush(ctx, tx, s.now()); err != nil {
				return err
			}
			return tx.DeleteSale(ctx, id)
		})
	})
	if err != nil {
		s.observeFailure(err)
		return err
	}

	s.metrics.SalesTotal.WithLabelValues(domain.ActionDeleted).Inc()
	s.logAction(ctx, domain.ActionDeleted, "sale", id, nil)
	s.changed(ctx, domain.ActionDeleted, id, domain.EventSalesChanged, domain.EventInventoryChanged)
	return nil
}

func buildSale(id string, draft domain.SaleDraft, plan salePlan, totals saleTotals, now time.Time) domain.Sale {
	saleDate := draft.SaleDate
	if saleDate.IsZero() {
		saleDate = now
	}
	return domain.Sale{
		ID:        id,
		BuyerID:   draft.BuyerID,
		Items:     plan.lines,
		SaleDate:  saleDate,
		Subtotal:  totals.subtotal,
		Discount:  draft.Discount,
		Tax:       draft.Tax,
		Shipping:  draft.Shipping,
		Other:     draft.Other,
		Total:     totals.total,
		Notes:     strings.TrimSpace(draft.Notes),
		UpdatedAt: now,
	}
}

func itemRefs(items []domain.SaleItem) viewRefs {
	var refs viewRefs
	for _, item := range items {
		switch ref := item.Ref.(type) {
		case domain.ProductRef:
			refs.products = append(refs.products, ref.ProductID)
		case domain.ComboRef:
			refs.combos = append(refs.combos, ref.ComboID)
		case domain.RTORef:
			refs.rows = append(refs.rows, ref.RTOProductID)
		}
	}
	return refs
}

// saleLockKeys resolves the products a sale mutation may touch so their locks
// can be held before the transaction starts. Unknown references are left for
// planning to report.
func (s *Service) saleLockKeys(ctx context.Context, items []domain.SaleItem, existing *domain.Sale) ([]string, error) {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		switch ref := item.Ref.(type) {
		case domain.ProductRef:
			ids = append(ids, ref.ProductID)
		case domain.ComboRef:
			combo, err := s.repo.GetCombo(ctx, ref.ComboID)
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			for _, member := range combo.Items {
				ids = append(ids, member.ProductID)
			}
		case domain.RTORef:
			row, err := s.repo.GetRTOProduct(ctx, ref.RTOProductID)
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			ids = append(ids, row.ProductID)
		}
	}
	if existing != nil {
		ids = append(ids, saleProductIDs(existing)...)
	}
	return uniqueStrings(ids), nil
}

// Scan resolves a barcode for sale entry. Shadow ledger rows win over the
// plain product so returned stock is offered first.
func (s *Service) Scan(ctx context.Context, barcode string) (*domain.ScanResult, error) {
	barcode = strings.TrimSpace(barcode)
	if barcode == "" {
		return nil, invalid("barcode is required")
	}

	row, err := s.repo.FindRTOProductByBarcode(ctx, barcode)
	switch {
	case err == nil:
		return &domain.ScanResult{Type: domain.SaleItemRTOProduct, RTOProduct: row, Price: row.Price, Barcode: barcode}, nil
	case !errors.Is(err, store.ErrNotFound):
		return nil, err
	}

	product, err := s.repo.GetProductByBarcode(ctx, barcode)
	switch {
	case err == nil:
		return &domain.ScanResult{Type: domain.SaleItemProduct, Product: product, Price: product.SellingPrice, Barcode: barcode}, nil
	case !errors.Is(err, store.ErrNotFound):
		return nil, err
	}

	combo, err := s.repo.GetComboByBarcode(ctx, barcode)
	if errors.Is(err, store.ErrNotFound) || (err == nil && !combo.IsActive) {
		return nil, fmt.Errorf("barcode %s %w", barcode, store.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	detail, err := s.comboDetail(ctx, *combo)
	if err != nil {
		return nil, err
	}
	if short := shortMembers(detail, 1); len(short) > 0 {
		return nil, &store.StockError{
			Kind:   "combo",
			Name:   combo.Name,
			Detail: "short members: " + strings.Join(short, ", "),
		}
	}
	return &domain.ScanResult{Type: domain.SaleItemCombo, Combo: detail, Price: combo.Price, Barcode: barcode}, nil
}
