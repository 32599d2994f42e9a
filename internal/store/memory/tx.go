package memory

import (
	"context"
	"slices"
	"time"

	"shopstock/internal/domain"
	"shopstock/internal/store"
)

// memTx works on a staged copy of the state; WithinTx swaps it in on success.
type memTx struct {
	st *state
}

func (tx *memTx) LockProducts(_ context.Context, ids []string) (map[string]domain.Product, error) {
	return tx.st.productsByIDs(ids), nil
}

func (tx *memTx) LockRTOProductsByProduct(_ context.Context, productIDs []string) ([]domain.RTOProduct, error) {
	rows := make([]domain.RTOProduct, 0, 8)
	for _, row := range tx.st.rtoProducts {
		if slices.Contains(productIDs, row.ProductID) {
			rows = append(rows, row)
		}
	}
	slices.SortFunc(rows, compareRTOByDateAdded)
	return rows, nil
}

func (tx *memTx) LockRTOProduct(_ context.Context, id string) (*domain.RTOProduct, error) {
	return tx.st.rtoProduct(id)
}

func (tx *memTx) GetCombo(_ context.Context, id string) (*domain.Combo, error) {
	return tx.st.combo(id)
}

func (tx *memTx) GetCategory(_ context.Context, id string) (*domain.Category, error) {
	return tx.st.category(id)
}

func (tx *memTx) NextCategorySequence(_ context.Context, categoryID string) (domain.Category, error) {
	c, ok := tx.st.categories[categoryID]
	if !ok {
		return domain.Category{}, store.ErrNotFound
	}
	c.Sequence++
	c.UpdatedAt = time.Now().UTC()
	tx.st.categories[categoryID] = c
	return c, nil
}

func (tx *memTx) BarcodeTaken(_ context.Context, barcode string, exceptID string) (bool, error) {
	return tx.st.barcodeTaken(barcode, exceptID), nil
}

func (tx *memTx) InsertProduct(_ context.Context, product domain.Product) error {
	if _, exists := tx.st.products[product.ID]; exists {
		return store.ErrConflict
	}
	if tx.st.barcodeTaken(product.Barcode, "") {
		return store.ErrConflict
	}
	tx.st.products[product.ID] = product
	return nil
}

func (tx *memTx) SaveProduct(_ context.Context, product domain.Product) error {
	if _, ok := tx.st.products[product.ID]; !ok {
		return store.ErrNotFound
	}
	if tx.st.barcodeTaken(product.Barcode, product.ID) {
		return store.ErrConflict
	}
	tx.st.products[product.ID] = product
	return nil
}

func (tx *memTx) InsertRTOProduct(_ context.Context, row domain.RTOProduct) error {
	if _, exists := tx.st.rtoProducts[row.ID]; exists {
		return store.ErrConflict
	}
	tx.st.rtoProducts[row.ID] = row
	return nil
}

func (tx *memTx) SaveRTOProduct(_ context.Context, row domain.RTOProduct) error {
	if _, ok := tx.st.rtoProducts[row.ID]; !ok {
		return store.ErrNotFound
	}
	tx.st.rtoProducts[row.ID] = row
	return nil
}

func (tx *memTx) DeleteRTOProduct(_ context.Context, id string) error {
	if _, ok := tx.st.rtoProducts[id]; !ok {
		return store.ErrNotFound
	}
	delete(tx.st.rtoProducts, id)
	return nil
}

func (tx *memTx) DeleteRTOProductsByReturn(_ context.Context, returnID string) (int, error) {
	removed := 0
	for id, row := range tx.st.rtoProducts {
		if row.ReturnID == returnID {
			delete(tx.st.rtoProducts, id)
			removed++
		}
	}
	return removed, nil
}

func (tx *memTx) LockSale(_ context.Context, id string) (*domain.Sale, error) {
	return tx.st.sale(id)
}

func (tx *memTx) InsertSale(_ context.Context, sale domain.Sale) error {
	if _, exists := tx.st.sales[sale.ID]; exists {
		return store.ErrConflict
	}
	tx.st.sales[sale.ID] = *cloneSale(sale)
	return nil
}

func (tx *memTx) UpdateSale(_ context.Context, sale domain.Sale) error {
	if _, ok := tx.st.sales[sale.ID]; !ok {
		return store.ErrNotFound
	}
	tx.st.sales[sale.ID] = *cloneSale(sale)
	return nil
}

func (tx *memTx) DeleteSale(_ context.Context, id string) error {
	if _, ok := tx.st.sales[id]; !ok {
		return store.ErrNotFound
	}
	delete(tx.st.sales, id)
	return nil
}

func (tx *memTx) LockPurchase(_ context.Context, id string) (*domain.Purchase, error) {
	return tx.st.purchase(id)
}

func (tx *memTx) InsertPurchase(_ context.Context, purchase domain.Purchase) error {
	if _, exists := tx.st.purchases[purchase.ID]; exists {
		return store.ErrConflict
	}
	tx.st.purchases[purchase.ID] = *clonePurchase(purchase)
	return nil
}

func (tx *memTx) UpdatePurchase(_ context.Context, purchase domain.Purchase) error {
	if _, ok := tx.st.purchases[purchase.ID]; !ok {
		return store.ErrNotFound
	}
	tx.st.purchases[purchase.ID] = *clonePurchase(purchase)
	return nil
}

func (tx *memTx) DeletePurchase(_ context.Context, id string) error {
	if _, ok := tx.st.purchases[id]; !ok {
		return store.ErrNotFound
	}
	delete(tx.st.purchases, id)
	return nil
}

func (tx *memTx) LockReturn(_ context.Context, id string) (*domain.Return, error) {
	return tx.st.ret(id)
}

func (tx *memTx) ListReturnIDs(_ context.Context) ([]string, error) {
	ids := make([]string, 0, len(tx.st.returns))
	for id := range tx.st.returns {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

func (tx *memTx) InsertReturn(_ context.Context, ret domain.Return) error {
	if _, exists := tx.st.returns[ret.ID]; exists {
		return store.ErrConflict
	}
	tx.st.returns[ret.ID] = *cloneReturn(ret)
	return nil
}

func (tx *memTx) UpdateReturn(_ context.Context, ret domain.Return) error {
	if _, ok := tx.st.returns[ret.ID]; !ok {
		return store.ErrNotFound
	}
	tx.st.returns[ret.ID] = *cloneReturn(ret)
	return nil
}

func (tx *memTx) DeleteReturn(_ context.Context, id string) error {
	if _, ok := tx.st.returns[id]; !ok {
		return store.ErrNotFound
	}
	delete(tx.st.returns, id)
	return nil
}

func (tx *memTx) GetParty(_ context.Context, kind store.PartyKind, id string) (*domain.Party, error) {
	return tx.st.party(kind, id)
}
