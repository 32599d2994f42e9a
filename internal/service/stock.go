package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"shopstock/internal/domain"
	"shopstock/internal/store"
)

// stockView is the locked working set of one reconciliation. Mutations stay
// in memory until flush writes every touched row back through the tx.
type stockView struct {
	products      map[string]*domain.Product
	combos        map[string]*domain.Combo
	rows          map[string]*domain.RTOProduct
	rowsByProduct map[string][]*domain.RTOProduct

	dirtyProducts map[string]bool
	dirtyRows     map[string]bool
	newRows       map[string]bool
}

type viewRefs struct {
	products []string
	combos   []string
	rows     []string
}

func loadView(ctx context.Context, tx store.Tx, refs viewRefs) (*stockView, error) {
	v := &stockView{
		products:      make(map[string]*domain.Product),
		combos:        make(map[string]*domain.Combo),
		rows:          make(map[string]*domain.RTOProduct),
		rowsByProduct: make(map[string][]*domain.RTOProduct),
		dirtyProducts: make(map[string]bool),
		dirtyRows:     make(map[string]bool),
		newRows:       make(map[string]bool),
	}

	productIDs := slices.Clone(refs.products)
	for _, id := range uniqueStrings(refs.combos) {
		combo, err := tx.GetCombo(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		v.combos[id] = combo
		for _, item := range combo.Items {
			productIDs = append(productIDs, item.ProductID)
		}
	}
	for _, id := range uniqueStrings(refs.rows) {
		row, err := tx.LockRTOProduct(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		productIDs = append(productIDs, row.ProductID)
	}

	productIDs = uniqueStrings(productIDs)
	if len(productIDs) == 0 {
		return v, nil
	}

	products, err := tx.LockProducts(ctx, productIDs)
	if err != nil {
		return nil, err
	}
	for id, p := range products {
		p := p
		v.products[id] = &p
	}

	rows, err := tx.LockRTOProductsByProduct(ctx, productIDs)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		row := row
		v.rows[row.ID] = &row
		v.rowsByProduct[row.ProductID] = append(v.rowsByProduct[row.ProductID], &row)
	}
	return v, nil
}

func (v *stockView) product(id string) (*domain.Product, error) {
	p, ok := v.products[id]
	if !ok {
		return nil, notFound("product", id)
	}
	return p, nil
}

func (v *stockView) adjustProduct(p *domain.Product, delta int) {
	p.Quantity += delta
	v.dirtyProducts[p.ID] = true
}

func (v *stockView) adjustRow(row *domain.RTOProduct, delta int) {
	row.Quantity += delta
	v.dirtyRows[row.ID] = true
}

func (v *stockView) addRow(row domain.RTOProduct) {
	r := row
	v.rows[r.ID] = &r
	v.rowsByProduct[r.ProductID] = append(v.rowsByProduct[r.ProductID], &r)
	v.newRows[r.ID] = true
}

// dropRows forgets rows already deleted through the tx.
func (v *stockView) dropRows(match func(*domain.RTOProduct) bool) {
	for pid, rows := range v.rowsByProduct {
		kept := rows[:0]
		for _, row := range rows {
			if match(row) {
				delete(v.rows, row.ID)
				delete(v.dirtyRows, row.ID)
				delete(v.newRows, row.ID)
				continue
			}
			kept = append(kept, row)
		}
		v.rowsByProduct[pid] = kept
	}
}

// syncShadow recomputes the denormalised rtoQuantity and rtoStatus of every
// product in the view from its ledger rows.
func (v *stockView) syncShadow() {
	for id, p := range v.products {
		total := 0
		status := domain.RTOStatusNone
		for _, row := range v.rowsByProduct[id] {
			if row.Quantity <= 0 {
				continue
			}
			total += row.Quantity
			if status == domain.RTOStatusNone {
				status = row.Category
			}
		}
		if p.RTOQuantity != total || p.RTOStatus != status {
			p.RTOQuantity = total
			p.RTOStatus = status
			v.dirtyProducts[id] = true
		}
	}
}

func (v *stockView) flush(ctx context.Context, tx store.Tx, now time.Time) error {
	v.syncShadow()

	productIDs := make([]string, 0, len(v.dirtyProducts))
	for id := range v.dirtyProducts {
		productIDs = append(productIDs, id)
	}
	slices.Sort(productIDs)
	for _, id := range productIDs {
		p := v.products[id]
		if p.Quantity < 0 {
			return &store.StockError{Kind: "product", Name: p.Name, Detail: fmt.Sprintf("quantity would drop to %d", p.Quantity)}
		}
		p.UpdatedAt = now
		if err := tx.SaveProduct(ctx, *p); err != nil {
			return err
		}
	}

	rowIDs := make([]string, 0, len(v.rows))
	for id := range v.rows {
		if v.dirtyRows[id] || v.newRows[id] {
			rowIDs = append(rowIDs, id)
		}
	}
	slices.Sort(rowIDs)
	for _, id := range rowIDs {
		row := v.rows[id]
		row.UpdatedAt = now
		var err error
		if v.newRows[id] {
			err = tx.InsertRTOProduct(ctx, *row)
		} else {
			err = tx.SaveRTOProduct(ctx, *row)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
