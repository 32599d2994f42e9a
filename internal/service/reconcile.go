package service

import (
	"fmt"

	"github.com/shopspring/decimal"

	"shopstock/internal/domain"
	"shopstock/internal/store"
)

// deduction is one planned stock movement. Planning never mutates the view;
// applyPlan replays the deductions once every line has validated.
type deduction interface {
	isDeduction()
}

type productDeduction struct {
	productID string
	quantity  int
}

type comboMemberDeduction struct {
	comboID   string
	productID string
	quantity  int
}

// rtoDeduction moves units out of a shadow ledger row only. The matching
// product decrement is always planned separately.
type rtoDeduction struct {
	rtoProductID string
	quantity     int
}

func (productDeduction) isDeduction()     {}
func (comboMemberDeduction) isDeduction() {}
func (rtoDeduction) isDeduction()         {}

type salePlan struct {
	lines      []domain.SaleLine
	deductions []deduction
}

// planSale validates every line against the locked view. Demand is cumulative
// per product across product lines, combo members and rto-product lines, so
// repeated references in one sale are checked together.
func planSale(v *stockView, items []domain.SaleItem) (salePlan, error) {
	plan := salePlan{
		lines:      make([]domain.SaleLine, 0, len(items)),
		deductions: make([]deduction, 0, len(items)),
	}
	demand := make(map[string]int)
	rowDemand := make(map[string]int)

	take := func(p *domain.Product, qty int) error {
		need := demand[p.ID] + qty
		if need > p.Quantity {
			return &store.StockError{Kind: "product", Name: p.Name, Required: need, Available: p.Quantity}
		}
		demand[p.ID] = need
		return nil
	}

	for i, item := range items {
		if item.Quantity < 1 {
			return salePlan{}, invalid("items[%d]: quantity must be positive", i)
		}
		if item.Quantity > domain.MaxQuantity {
			return salePlan{}, invalid("items[%d]: quantity exceeds %d", i, domain.MaxQuantity)
		}

		switch ref := item.Ref.(type) {
		case domain.ProductRef:
			p, err := v.product(ref.ProductID)
			if err != nil {
				return salePlan{}, err
			}
			if err := take(p, item.Quantity); err != nil {
				return salePlan{}, err
			}
			price := p.SellingPrice
			if item.UnitPrice != nil {
				price = *item.UnitPrice
			}
			plan.lines = append(plan.lines, domain.SaleLine{
				Type:      domain.SaleItemProduct,
				ProductID: p.ID,
				Name:      p.Name,
				Barcode:   p.Barcode,
				Quantity:  item.Quantity,
				UnitPrice: price,
				UnitCost:  p.CostPrice,
				Total:     price.Mul(decimal.NewFromInt(int64(item.Quantity))),
			})
			plan.deductions = append(plan.deductions, productDeduction{productID: p.ID, quantity: item.Quantity})

		case domain.ComboRef:
			combo, ok := v.combos[ref.ComboID]
			if !ok {
				return salePlan{}, notFound("combo", ref.ComboID)
			}
			if !combo.IsActive {
				return salePlan{}, invalid("combo %s is not active", combo.Name)
			}
			unitCost := decimal.Zero
			for _, member := range combo.Items {
				p, err := v.product(member.ProductID)
				if err != nil {
					return salePlan{}, err
				}
				if member.Quantity < 1 {
					return salePlan{}, invalid("combo %s has a non-positive quantity for %s", combo.Name, p.Name)
				}
				if item.Quantity > domain.MaxQuantity/member.Quantity {
					return salePlan{}, invalid("items[%d]: combo %s needs more than %d units of %s", i, combo.Name, domain.MaxQuantity, p.Name)
				}
				qty := member.Quantity * item.Quantity
				if err := take(p, qty); err != nil {
					return salePlan{}, fmt.Errorf("combo %s: %w", combo.Name, err)
				}
				unitCost = unitCost.Add(p.CostPrice.Mul(decimal.NewFromInt(int64(member.Quantity))))
				plan.deductions = append(plan.deductions, comboMemberDeduction{comboID: combo.ID, productID: p.ID, quantity: qty})
			}
			price := combo.Price
			if item.UnitPrice != nil {
				price = *item.UnitPrice
			}
			components := make([]domain.ComboItem, len(combo.Items))
			copy(components, combo.Items)
			plan.lines = append(plan.lines, domain.SaleLine{
				Type:       domain.SaleItemCombo,
				ComboID:    combo.ID,
				Name:       combo.Name,
				Barcode:    combo.Barcode,
				Quantity:   item.Quantity,
				UnitPrice:  price,
				UnitCost:   unitCost,
				Total:      price.Mul(decimal.NewFromInt(int64(item.Quantity))),
				Components: components,
			})

		case domain.RTORef:
			row, ok := v.rows[ref.RTOProductID]
			if !ok {
				return salePlan{}, notFound("rto product", ref.RTOProductID)
			}
			need := rowDemand[row.ID] + item.Quantity
			if need > row.Quantity {
				return salePlan{}, &store.StockError{Kind: "rto-product", Name: row.ProductName, Required: need, Available: row.Quantity}
			}
			p, err := v.product(row.ProductID)
			if err != nil {
				return salePlan{}, err
			}
			if err := take(p, item.Quantity); err != nil {
				return salePlan{}, err
			}
			rowDemand[row.ID] = need
			plan.lines = append(plan.lines, domain.SaleLine{
				Type:         domain.SaleItemRTOProduct,
				ProductID:    p.ID,
				RTOProductID: row.ID,
				Name:         row.ProductName,
				Barcode:      row.Barcode,
				Quantity:     item.Quantity,
				UnitPrice:    row.Price,
				UnitCost:     p.CostPrice,
				Total:        row.Price.Mul(decimal.NewFromInt(int64(item.Quantity))),
				Allocations:  []domain.RTOAllocation{{RTOProductID: row.ID, Quantity: item.Quantity}},
			})
			plan.deductions = append(plan.deductions,
				productDeduction{productID: p.ID, quantity: item.Quantity},
				rtoDeduction{rtoProductID: row.ID, quantity: item.Quantity},
			)

		default:
			return salePlan{}, invalid("items[%d]: unsupported item type", i)
		}
	}

	// Plain units drain the shadow ledger oldest row first, after explicit
	// rto-product lines have claimed theirs.
	for i := range plan.lines {
		line := &plan.lines[i]
		switch line.Type {
		case domain.SaleItemProduct:
			plan.deductions = append(plan.deductions, allocateFIFO(v, rowDemand, line, line.ProductID, line.Quantity)...)
		case domain.SaleItemCombo:
			for _, member := range line.Components {
				plan.deductions = append(plan.deductions, allocateFIFO(v, rowDemand, line, member.ProductID, member.Quantity*line.Quantity)...)
			}
		}
	}
	return plan, nil
}

func allocateFIFO(v *stockView, rowDemand map[string]int, line *domain.SaleLine, productID string, qty int) []deduction {
	var out []deduction
	remaining := qty
	for _, row := range v.rowsByProduct[productID] {
		if remaining == 0 {
			break
		}
		free := row.Quantity - rowDemand[row.ID]
		if free <= 0 {
			continue
		}
		n := min(free, remaining)
		rowDemand[row.ID] += n
		remaining -= n
		line.Allocations = append(line.Allocations, domain.RTOAllocation{RTOProductID: row.ID, Quantity: n})
		out = append(out, rtoDeduction{rtoProductID: row.ID, quantity: n})
	}
	return out
}

func applyPlan(v *stockView, plan salePlan) {
	for _, d := range plan.deductions {
		switch d := d.(type) {
		case productDeduction:
			v.adjustProduct(v.products[d.productID], -d.quantity)
		case comboMemberDeduction:
			v.adjustProduct(v.products[d.productID], -d.quantity)
		case rtoDeduction:
			v.adjustRow(v.rows[d.rtoProductID], -d.quantity)
		}
	}
}

// reverseSale restores exactly what each line took, newest line and newest
// allocation first. Rows or products deleted since the sale are skipped.
func reverseSale(v *stockView, sale *domain.Sale) {
	for i := len(sale.Items) - 1; i >= 0; i-- {
		line := sale.Items[i]
		for j := len(line.Allocations) - 1; j >= 0; j-- {
			alloc := line.Allocations[j]
			if row, ok := v.rows[alloc.RTOProductID]; ok {
				v.adjustRow(row, alloc.Quantity)
			}
		}
		switch line.Type {
		case domain.SaleItemProduct, domain.SaleItemRTOProduct:
			if p, ok := v.products[line.ProductID]; ok {
				v.adjustProduct(p, line.Quantity)
			}
		case domain.SaleItemCombo:
			for _, member := range line.Components {
				if p, ok := v.products[member.ProductID]; ok {
					v.adjustProduct(p, member.Quantity*line.Quantity)
				}
			}
		}
	}
}

// saleProductIDs lists every product a stored sale touched.
func saleProductIDs(sale *domain.Sale) []string {
	ids := make([]string, 0, len(sale.Items))
	for _, line := range sale.Items {
		if line.ProductID != "" {
			ids = append(ids, line.ProductID)
		}
		for _, member := range line.Components {
			ids = append(ids, member.ProductID)
		}
	}
	return ids
}

type saleTotals struct {
	subtotal decimal.Decimal
	total    decimal.Decimal
}

func computeTotals(lines []domain.SaleLine, draft domain.SaleDraft) (saleTotals, error) {
	for name, amount := range map[string]decimal.Decimal{
		"discount": draft.Discount,
		"tax":      draft.Tax,
		"shipping": draft.Shipping,
		"other":    draft.Other,
	} {
		if amount.IsNegative() {
			return saleTotals{}, invalid("%s must not be negative", name)
		}
	}
	subtotal := decimal.Zero
	for _, line := range lines {
		subtotal = subtotal.Add(line.Total)
	}
	if draft.Discount.GreaterThan(subtotal) {
		return saleTotals{}, invalid("discount %s exceeds subtotal %s", draft.Discount, subtotal)
	}
	total := subtotal.Sub(draft.Discount).Add(draft.Tax).Add(draft.Shipping).Add(draft.Other)
	return saleTotals{subtotal: subtotal, total: total}, nil
}
