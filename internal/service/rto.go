package service

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"shopstock/internal/domain"
	"shopstock/internal/store"
	"shopstock/internal/xid"
)

func (s *Service) ListRTOProducts(ctx context.Context, filter domain.RTOProductFilter) ([]domain.RTOProduct, error) {
	filter.Search = strings.TrimSpace(filter.Search)
	if filter.StartDate != nil && filter.EndDate != nil && filter.EndDate.Before(*filter.StartDate) {
		return nil, invalid("endDate is before startDate")
	}
	return s.repo.ListRTOProducts(ctx, filter)
}

func (s *Service) GetRTOProduct(ctx context.Context, id string) (*domain.RTOProduct, error) {
	row, err := s.repo.GetRTOProduct(ctx, id)
	if err != nil {
		return nil, wrapNotFound(err, "rto product", id)
	}
	return row, nil
}

// AddRTOProduct records returned units by hand. The units become sellable
// stock and are tracked in the shadow ledger.
func (s *Service) AddRTOProduct(ctx context.Context, req domain.RTOProductCreateRequest) (*domain.RTOProduct, error) {
	if req.Quantity < 1 || req.Quantity > domain.MaxQuantity {
		return nil, invalid("quantity must be between 1 and %d", domain.MaxQuantity)
	}
	if req.Category != domain.RTOStatusRTO && req.Category != domain.RTOStatusRPU {
		return nil, invalid("category must be RTO or RPU")
	}
	if req.Price != nil && req.Price.IsNegative() {
		return nil, invalid("price must not be negative")
	}
	status := req.Status
	if status == "" {
		status = domain.RTOProductPending
	}

	var row domain.RTOProduct
	err := s.withLocks(ctx, []string{req.ProductID}, func() error {
		return s.repo.WithinTx(ctx, func(tx store.Tx) error {
			v, err := loadView(ctx, tx, viewRefs{products: []string{req.ProductID}})
			if err != nil {
				return err
			}
			p, err := v.product(req.ProductID)
			if err != nil {
				return err
			}

			now := s.now()
			price := p.SellingPrice
			if req.Price != nil {
				price = *req.Price
			}
			row = domain.RTOProduct{
				ID:              xid.New("rto"),
				ProductID:       p.ID,
				ProductName:     p.Name,
				Barcode:         p.Barcode,
				Category:        req.Category,
				Quantity:        req.Quantity,
				InitialQuantity: req.Quantity,
				Price:           price,
				Status:          status,
				Notes:           strings.TrimSpace(req.Notes),
				DateAdded:       now,
				UpdatedAt:       now,
			}
			v.adjustProduct(p, req.Quantity)
			v.addRow(row)
			return v.flush(ctx, tx, now)
		})
	})
	if err != nil {
		s.observeFailure(err)
		return nil, err
	}

	s.logAction(ctx, domain.ActionCreated, "rto_product", row.ID, logrus.Fields{"product": row.ProductID, "quantity": row.Quantity})
	s.changed(ctx, domain.ActionCreated, row.ID, domain.EventRTOChanged, domain.EventInventoryChanged)
	return &row, nil
}

func (s *Service) SetRTOStatus(ctx context.Context, id string, status string) (*domain.RTOProduct, error) {
	switch status {
	case domain.RTOProductPending, domain.RTOProductProcessing, domain.RTOProductCompleted, domain.RTOProductCancelled:
	default:
		return nil, invalid("unknown rto status %q", status)
	}

	var row *domain.RTOProduct
	err := s.repo.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		row, err = tx.LockRTOProduct(ctx, id)
		if err != nil {
			return wrapNotFound(err, "rto product", id)
		}
		row.Status = status
		row.UpdatedAt = s.now()
		return tx.SaveRTOProduct(ctx, *row)
	})
	if err != nil {
		return nil, err
	}

	s.logAction(ctx, domain.ActionUpdated, "rto_product", id, logrus.Fields{"status": status})
	s.changed(ctx, domain.ActionUpdated, id, domain.EventRTOChanged)
	return row, nil
}

// TransferRTO moves units out of the shadow ledger into plain stock. The
// product quantity already counts them, so only the ledger row shrinks.
func (s *Service) TransferRTO(ctx context.Context, id string, quantity int) (*domain.RTOProduct, error) {
	if quantity < 1 || quantity > domain.MaxQuantity {
		return nil, invalid("quantity must be between 1 and %d", domain.MaxQuantity)
	}
	existing, err := s.repo.GetRTOProduct(ctx, id)
	if err != nil {
		return nil, wrapNotFound(err, "rto product", id)
	}

	var row domain.RTOProduct
	err = s.withLocks(ctx, []string{existing.ProductID}, func() error {
		return s.repo.WithinTx(ctx, func(tx store.Tx) error {
			v, err := loadView(ctx, tx, viewRefs{rows: []string{id}})
			if err != nil {
				return err
			}
			current, ok := v.rows[id]
			if !ok {
				return notFound("rto product", id)
			}
			if quantity > current.Quantity {
				return &store.StockError{Kind: "rto-product", Name: current.ProductName, Required: quantity, Available: current.Quantity}
			}
			v.adjustRow(current, -quantity)
			if current.Quantity == 0 {
				current.Status = domain.RTOProductCompleted
			}
			if err := v.flush(ctx, tx, s.now()); err != nil {
				return err
			}
			row = *current
			return nil
		})
	})
	if err != nil {
		s.observeFailure(err)
		return nil, err
	}

	s.logAction(ctx, "transferred", "rto_product", id, logrus.Fields{"quantity": quantity, "remaining": row.Quantity})
	s.changed(ctx, domain.ActionUpdated, id, domain.EventRTOChanged, domain.EventInventoryChanged)
	return &row, nil
}

// DeleteRTOProduct removes a ledger row without touching product quantity.
func (s *Service) DeleteRTOProduct(ctx context.Context, id string) error {
	existing, err := s.repo.GetRTOProduct(ctx, id)
	if err != nil {
		return wrapNotFound(err, "rto product", id)
	}

	err = s.withLocks(ctx, []string{existing.ProductID}, func() error {
		return s.repo.WithinTx(ctx, func(tx store.Tx) error {
			v, err := loadView(ctx, tx, viewRefs{rows: []string{id}})
			if err != nil {
				return err
			}
			if _, ok := v.rows[id]; !ok {
				return notFound("rto product", id)
			}
			if err := tx.DeleteRTOProduct(ctx, id); err != nil {
				return err
			}
			v.dropRows(func(row *domain.RTOProduct) bool { return row.ID == id })
			return v.flush(ctx, tx, s.now())
		})
	})
	if err != nil {
		s.observeFailure(err)
		return err
	}

	s.logAction(ctx, domain.ActionDeleted, "rto_product", id, nil)
	s.changed(ctx, domain.ActionDeleted, id, domain.EventRTOChanged, domain.EventInventoryChanged)
	return nil
}
