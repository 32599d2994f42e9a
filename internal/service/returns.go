package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"shopstock/internal/domain"
	"shopstock/internal/store"
	"shopstock/internal/xid"
)

const returnIDPrefix = "RET-"

func (s *Service) GetReturn(ctx context.Context, id string) (*domain.Return, error) {
	ret, err := s.repo.GetReturn(ctx, id)
	if err != nil {
		return nil, wrapNotFound(err, "return", id)
	}
	return ret, nil
}

func (s *Service) ListReturns(ctx context.Context, r domain.DateRange) ([]domain.Return, error) {
	return s.repo.ListReturns(ctx, r)
}

// CreateReturn records a return. A processed RTO return puts its units back
// into sellable stock and opens one shadow ledger row per line; RPU returns
// never touch inventory.
func (s *Service) CreateReturn(ctx context.Context, req domain.ReturnRequest) (*domain.ReturnResponse, error) {
	if err := validateReturnRequest(req); err != nil {
		return nil, err
	}

	var ret domain.Return
	err := s.withLocks(ctx, returnProductIDs(req.Items), func() error {
		return s.repo.WithinTx(ctx, func(tx store.Tx) error {
			v, err := loadView(ctx, tx, viewRefs{products: returnProductIDs(req.Items)})
			if err != nil {
				return err
			}
			ids, err := tx.ListReturnIDs(ctx)
			if err != nil {
				return err
			}

			now := s.now()
			ret, err = buildReturn(v, req, nextReturnID(ids, now), now)
			if err != nil {
				return err
			}
			ret.CreatedAt = now
			if ret.HoldsStock() {
				applyReturn(v, ret, now)
			}
			if err := v.flush(ctx, tx, now); err != nil {
				return err
			}
			return tx.InsertReturn(ctx, ret)
		})
	})
	if err != nil {
		s.observeFailure(err)
		return nil, err
	}

	s.metrics.ReturnsTotal.WithLabelValues(ret.Category).Inc()
	s.logAction(ctx, domain.ActionCreated, "return", ret.ID, logrus.Fields{"category": ret.Category, "status": ret.Status})
	s.changed(ctx, domain.ActionCreated, ret.ID, returnEvents(ret.HoldsStock())...)
	return &domain.ReturnResponse{Message: returnMessage(ret), Return: ret, ReturnID: ret.ID}, nil
}

// UpdateReturn reverses the stored effects and applies the new ones in the
// same transaction.
func (s *Service) UpdateReturn(ctx context.Context, id string, req domain.ReturnRequest) (*domain.ReturnResponse, error) {
	if err := validateReturnRequest(req); err != nil {
		return nil, err
	}
	existing, err := s.repo.GetReturn(ctx, id)
	if err != nil {
		return nil, wrapNotFound(err, "return", id)
	}
	keys := uniqueStrings(returnProductIDs(req.Items), lineProductIDs(existing.Items))

	var ret domain.Return
	var stockMoved bool
	err = s.withLocks(ctx, keys, func() error {
		return s.repo.WithinTx(ctx, func(tx store.Tx) error {
			current, err := tx.LockReturn(ctx, id)
			if err != nil {
				return wrapNotFound(err, "return", id)
			}
			v, err := loadView(ctx, tx, viewRefs{products: uniqueStrings(returnProductIDs(req.Items), lineProductIDs(current.Items))})
			if err != nil {
				return err
			}

			now := s.now()
			if current.HoldsStock() {
				if err := reverseReturn(ctx, tx, v, current); err != nil {
					return err
				}
			}
			if req.ReturnDate == nil {
				d := current.ReturnDate
				req.ReturnDate = &d
			}
			ret, err = buildReturn(v, req, current.ID, now)
			if err != nil {
				return err
			}
			ret.CreatedAt = current.CreatedAt
			if ret.HoldsStock() {
				applyReturn(v, ret, now)
			}
			stockMoved = current.HoldsStock() || ret.HoldsStock()
			if err := v.flush(ctx, tx, now); err != nil {
				return err
			}
			return tx.UpdateReturn(ctx, ret)
		})
	})
	if err != nil {
		s.observeFailure(err)
		return nil, err
	}

	s.logAction(ctx, domain.ActionUpdated, "return", ret.ID, logrus.Fields{"category": ret.Category, "status": ret.Status})
	s.changed(ctx, domain.ActionUpdated, ret.ID, returnEvents(stockMoved)...)
	return &domain.ReturnResponse{Message: returnMessage(ret), Return: ret, ReturnID: ret.ID}, nil
}

// DeleteReturn removes a return. Stock-holding returns take their units back
// out of inventory and drop their ledger rows; this fails if those units were
// sold in the meantime.
func (s *Service) DeleteReturn(ctx context.Context, id string) error {
	existing, err := s.repo.GetReturn(ctx, id)
	if err != nil {
		return wrapNotFound(err, "return", id)
	}

	var stockMoved bool
	err = s.withLocks(ctx, lineProductIDs(existing.Items), func() error {
		return s.repo.WithinTx(ctx, func(tx store.Tx) error {
			current, err := tx.LockReturn(ctx, id)
			if err != nil {
				return wrapNotFound(err, "return", id)
			}
			stockMoved = current.HoldsStock()
			if stockMoved {
				v, err := loadView(ctx, tx, viewRefs{products: lineProductIDs(current.Items)})
				if err != nil {
					return err
				}
				if err := reverseReturn(ctx, tx, v, current); err != nil {
					return err
				}
				if err := v.flush(ctx, tx, s.now()); err != nil {
					return err
				}
			}
			return tx.DeleteReturn(ctx, id)
		})
	})
	if err != nil {
		s.observeFailure(err)
		return err
	}

	s.logAction(ctx, domain.ActionDeleted, "return", id, logrus.Fields{"category": existing.Category})
	s.changed(ctx, domain.ActionDeleted, id, returnEvents(stockMoved)...)
	return nil
}

func validateReturnRequest(req domain.ReturnRequest) error {
	if req.Category != domain.ReturnCategoryRTO && req.Category != domain.ReturnCategoryRPU {
		return invalid("category must be RTO or RPU")
	}
	if strings.TrimSpace(req.CustomerName) == "" {
		return invalid("customerName is required")
	}
	if len(req.Items) == 0 {
		return invalid("return needs at least one item")
	}
	for i, item := range req.Items {
		if item.Quantity < 1 || item.Quantity > domain.MaxQuantity {
			return invalid("items[%d]: quantity must be between 1 and %d", i, domain.MaxQuantity)
		}
		if item.UnitPrice.IsNegative() {
			return invalid("items[%d]: unit price must not be negative", i)
		}
	}
	if req.TotalAmount != nil && req.TotalAmount.IsNegative() {
		return invalid("totalAmount must not be negative")
	}
	switch req.Status {
	case "", domain.ReturnStatusPending, domain.ReturnStatusProcessed, domain.ReturnStatusRejected:
	default:
		return invalid("unknown return status %q", req.Status)
	}
	return nil
}

func buildReturn(v *stockView, req domain.ReturnRequest, id string, now time.Time) (domain.Return, error) {
	ret := domain.Return{
		ID:              id,
		Category:        req.Category,
		CustomerName:    strings.TrimSpace(req.CustomerName),
		CustomerPhone:   strings.TrimSpace(req.CustomerPhone),
		CustomerAddress: strings.TrimSpace(req.CustomerAddress),
		OrderNumber:     strings.TrimSpace(req.OrderNumber),
		Reason:          strings.TrimSpace(req.Reason),
		Items:           make([]domain.ReturnLine, 0, len(req.Items)),
		Status:          req.Status,
		ReturnDate:      now,
		UpdatedAt:       now,
	}
	if ret.Status == "" {
		ret.Status = domain.ReturnStatusProcessed
	}
	if req.ReturnDate != nil {
		ret.ReturnDate = req.ReturnDate.UTC()
	}

	total := decimal.Zero
	for _, item := range req.Items {
		p, err := v.product(item.ProductID)
		if err != nil {
			return domain.Return{}, err
		}
		lineTotal := item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
		ret.Items = append(ret.Items, domain.ReturnLine{
			ProductID: p.ID,
			Name:      p.Name,
			Barcode:   p.Barcode,
			Price:     p.SellingPrice,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Total:     lineTotal,
		})
		total = total.Add(lineTotal)
	}
	ret.TotalAmount = total
	if req.TotalAmount != nil {
		ret.TotalAmount = *req.TotalAmount
	}
	return ret, nil
}

func applyReturn(v *stockView, ret domain.Return, now time.Time) {
	for _, line := range ret.Items {
		p := v.products[line.ProductID]
		v.adjustProduct(p, line.Quantity)

		price := line.UnitPrice
		if price.IsZero() {
			price = p.SellingPrice
		}
		v.addRow(domain.RTOProduct{
			ID:              xid.New("rto"),
			ProductID:       p.ID,
			ProductName:     p.Name,
			Barcode:         p.Barcode,
			Category:        domain.RTOStatusRTO,
			Quantity:        line.Quantity,
			InitialQuantity: line.Quantity,
			Price:           price,
			Status:          domain.RTOProductPending,
			ReturnID:        ret.ID,
			DateAdded:       now,
			UpdatedAt:       now,
		})
	}
}

// reverseReturn takes the returned units back out of stock and deletes the
// ledger rows the return opened. Products removed since are skipped.
func reverseReturn(ctx context.Context, tx store.Tx, v *stockView, ret *domain.Return) error {
	for _, line := range ret.Items {
		if p, ok := v.products[line.ProductID]; ok {
			v.adjustProduct(p, -line.Quantity)
		}
	}
	if _, err := tx.DeleteRTOProductsByReturn(ctx, ret.ID); err != nil {
		return err
	}
	v.dropRows(func(row *domain.RTOProduct) bool { return row.ReturnID == ret.ID })
	return nil
}

// nextReturnID continues the RET-NNNN sequence from the highest numeric
// suffix. Without any parseable id it starts at RET-0001 on an empty table and
// falls back to a timestamp id otherwise.
func nextReturnID(ids []string, now time.Time) string {
	if len(ids) == 0 {
		return fmt.Sprintf("%s%04d", returnIDPrefix, 1)
	}
	highest := -1
	for _, id := range ids {
		suffix, ok := strings.CutPrefix(id, returnIDPrefix)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(suffix)
		if err != nil || n < 0 {
			continue
		}
		highest = max(highest, n)
	}
	if highest < 0 {
		return returnIDPrefix + now.Format("20060102150405")
	}
	return fmt.Sprintf("%s%04d", returnIDPrefix, highest+1)
}

func returnMessage(ret domain.Return) string {
	switch {
	case ret.HoldsStock():
		return fmt.Sprintf("RTO return %s processed: inventory restocked and shadow stock recorded", ret.ID)
	case ret.Category == domain.ReturnCategoryRPU:
		return fmt.Sprintf("RPU return %s recorded: no inventory changes were made", ret.ID)
	default:
		return fmt.Sprintf("RTO return %s saved as %s: inventory unchanged until processed", ret.ID, ret.Status)
	}
}

func returnEvents(stockMoved bool) []string {
	if stockMoved {
		return []string{domain.EventReturnsChanged, domain.EventInventoryChanged, domain.EventRTOChanged}
	}
	return []string{domain.EventReturnsChanged}
}

func returnProductIDs(items []domain.ReturnItemRequest) []string {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}
	return uniqueStrings(ids)
}

func lineProductIDs(lines []domain.ReturnLine) []string {
	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.ProductID)
	}
	return uniqueStrings(ids)
}
