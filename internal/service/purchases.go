package service

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"shopstock/internal/domain"
	"shopstock/internal/store"
	"shopstock/internal/xid"
)

func (s *Service) GetPurchase(ctx context.Context, id string) (*domain.Purchase, error) {
	purchase, err := s.repo.GetPurchase(ctx, id)
	if err != nil {
		return nil, wrapNotFound(err, "purchase", id)
	}
	return purchase, nil
}

func (s *Service) ListPurchases(ctx context.Context, r domain.DateRange) ([]domain.Purchase, error) {
	return s.repo.ListPurchases(ctx, r)
}

// CreatePurchase books goods received from a vendor. Received purchases add
// their quantities to stock and refresh product prices, last write wins.
func (s *Service) CreatePurchase(ctx context.Context, req domain.PurchaseRequest) (*domain.Purchase, error) {
	if err := validatePurchaseRequest(req); err != nil {
		return nil, err
	}

	var purchase domain.Purchase
	err := s.withLocks(ctx, purchaseProductIDs(req.Items), func() error {
		return s.repo.WithinTx(ctx, func(tx store.Tx) error {
			if _, err := tx.GetParty(ctx, store.Vendors, req.VendorID); err != nil {
				return wrapNotFound(err, "vendor", req.VendorID)
			}
			v, err := loadView(ctx, tx, viewRefs{products: purchaseProductIDs(req.Items)})
			if err != nil {
				return err
			}
			now := s.now()
			purchase, err = buildPurchase(v, req, xid.New("pur"), now)
			if err != nil {
				return err
			}
			purchase.CreatedAt = now
			if purchase.Status == domain.PurchaseStatusReceived {
				receivePurchase(v, purchase)
			}
			if err := v.flush(ctx, tx, now); err != nil {
				return err
			}
			return tx.InsertPurchase(ctx, purchase)
		})
	})
	if err != nil {
		s.observeFailure(err)
		return nil, err
	}

	s.logAction(ctx, domain.ActionCreated, "purchase", purchase.ID, logrus.Fields{"vendor": purchase.VendorID, "total": purchase.TotalAmount.String()})
	s.changed(ctx, domain.ActionCreated, purchase.ID, domain.EventPurchasesChanged, domain.EventInventoryChanged, domain.EventProductsChanged)
	return &purchase, nil
}

func (s *Service) UpdatePurchase(ctx context.Context, id string, req domain.PurchaseRequest) (*domain.Purchase, error) {
	if err := validatePurchaseRequest(req); err != nil {
		return nil, err
	}
	existing, err := s.repo.GetPurchase(ctx, id)
	if err != nil {
		return nil, wrapNotFound(err, "purchase", id)
	}
	keys := uniqueStrings(purchaseProductIDs(req.Items), purchaseLineProductIDs(existing.Items))

	var purchase domain.Purchase
	err = s.withLocks(ctx, keys, func() error {
		return s.repo.WithinTx(ctx, func(tx store.Tx) error {
			current, err := tx.LockPurchase(ctx, id)
			if err != nil {
				return wrapNotFound(err, "purchase", id)
			}
			if _, err := tx.GetParty(ctx, store.Vendors, req.VendorID); err != nil {
				return wrapNotFound(err, "vendor", req.VendorID)
			}
			v, err := loadView(ctx, tx, viewRefs{products: uniqueStrings(purchaseProductIDs(req.Items), purchaseLineProductIDs(current.Items))})
			if err != nil {
				return err
			}
			if current.Status == domain.PurchaseStatusReceived {
				reversePurchase(v, current)
			}
			now := s.now()
			if req.PurchaseDate == nil {
				d := current.PurchaseDate
				req.PurchaseDate = &d
			}
			purchase, err = buildPurchase(v, req, current.ID, now)
			if err != nil {
				return err
			}
			purchase.CreatedAt = current.CreatedAt
			if purchase.Status == domain.PurchaseStatusReceived {
				receivePurchase(v, purchase)
			}
			if err := v.flush(ctx, tx, now); err != nil {
				return err
			}
			return tx.UpdatePurchase(ctx, purchase)
		})
	})
	if err != nil {
		s.observeFailure(err)
		return nil, err
	}

	s.logAction(ctx, domain.ActionUpdated, "purchase", purchase.ID, logrus.Fields{"vendor": purchase.VendorID, "total": purchase.TotalAmount.String()})
	s.changed(ctx, domain.ActionUpdated, purchase.ID, domain.EventPurchasesChanged, domain.EventInventoryChanged, domain.EventProductsChanged)
	return &purchase, nil
}

// DeletePurchase takes received quantities back out of stock. Prices are left
// as they are.
func (s *Service) DeletePurchase(ctx context.Context, id string) error {
	existing, err := s.repo.GetPurchase(ctx, id)
	if err != nil {
		return wrapNotFound(err, "purchase", id)
	}

	err = s.withLocks(ctx, purchaseLineProductIDs(existing.Items), func() error {
		return s.repo.WithinTx(ctx, func(tx store.Tx) error {
			current, err := tx.LockPurchase(ctx, id)
			if err != nil {
				return wrapNotFound(err, "purchase", id)
			}
			if current.Status == domain.PurchaseStatusReceived {
				v, err := loadView(ctx, tx, viewRefs{products: purchaseLineProductIDs(current.Items)})
				if err != nil {
					return err
				}
				reversePurchase(v, current)
				if err := v.flush(ctx, tx, s.now()); err != nil {
					return err
				}
			}
			return tx.DeletePurchase(ctx, id)
		})
	})
	if err != nil {
		s.observeFailure(err)
		return err
	}

	s.logAction(ctx, domain.ActionDeleted, "purchase", id, nil)
	s.changed(ctx, domain.ActionDeleted, id, domain.EventPurchasesChanged, domain.EventInventoryChanged)
	return nil
}

func validatePurchaseRequest(req domain.PurchaseRequest) error {
	if strings.TrimSpace(req.VendorID) == "" {
		return invalid("vendor is required")
	}
	if len(req.Items) == 0 {
		return invalid("purchase needs at least one item")
	}
	for i, item := range req.Items {
		if item.Quantity < 1 || item.Quantity > domain.MaxQuantity {
			return invalid("items[%d]: quantity must be between 1 and %d", i, domain.MaxQuantity)
		}
		if item.UnitCost.IsNegative() {
			return invalid("items[%d]: unit cost must not be negative", i)
		}
		if item.SellingPrice != nil && item.SellingPrice.IsNegative() {
			return invalid("items[%d]: selling price must not be negative", i)
		}
	}
	switch req.Status {
	case "", domain.PurchaseStatusPending, domain.PurchaseStatusReceived:
	default:
		return invalid("unknown purchase status %q", req.Status)
	}
	return nil
}

func buildPurchase(v *stockView, req domain.PurchaseRequest, id string, now time.Time) (domain.Purchase, error) {
	purchase := domain.Purchase{
		ID:            id,
		VendorID:      req.VendorID,
		InvoiceNumber: strings.TrimSpace(req.InvoiceNumber),
		Items:         make([]domain.PurchaseLine, 0, len(req.Items)),
		Status:        req.Status,
		Notes:         strings.TrimSpace(req.Notes),
		PurchaseDate:  now,
		UpdatedAt:     now,
	}
	if purchase.Status == "" {
		purchase.Status = domain.PurchaseStatusReceived
	}
	if req.PurchaseDate != nil {
		purchase.PurchaseDate = req.PurchaseDate.UTC()
	}

	total := decimal.Zero
	for _, item := range req.Items {
		p, err := v.product(item.ProductID)
		if err != nil {
			return domain.Purchase{}, err
		}
		lineTotal := item.UnitCost.Mul(decimal.NewFromInt(int64(item.Quantity)))
		purchase.Items = append(purchase.Items, domain.PurchaseLine{
			ProductID:    p.ID,
			Name:         p.Name,
			Barcode:      p.Barcode,
			Quantity:     item.Quantity,
			UnitCost:     item.UnitCost,
			SellingPrice: item.SellingPrice,
			Total:        lineTotal,
		})
		total = total.Add(lineTotal)
	}
	purchase.TotalAmount = total
	return purchase, nil
}

func receivePurchase(v *stockView, purchase domain.Purchase) {
	for _, line := range purchase.Items {
		p := v.products[line.ProductID]
		v.adjustProduct(p, line.Quantity)
		p.CostPrice = line.UnitCost
		if line.SellingPrice != nil {
			p.SellingPrice = *line.SellingPrice
		}
	}
}

func reversePurchase(v *stockView, purchase *domain.Purchase) {
	for _, line := range purchase.Items {
		if p, ok := v.products[line.ProductID]; ok {
			v.adjustProduct(p, -line.Quantity)
		}
	}
}

func purchaseProductIDs(items []domain.PurchaseItemRequest) []string {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}
	return uniqueStrings(ids)
}

func purchaseLineProductIDs(lines []domain.PurchaseLine) []string {
	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.ProductID)
	}
	return uniqueStrings(ids)
}
