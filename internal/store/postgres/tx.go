package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"shopstock/internal/domain"
	"shopstock/internal/store"
)

// pgTx implements store.Tx. Reads through the embedded reader see the
// transaction's snapshot; Lock* methods take row locks with FOR UPDATE.
type pgTx struct {
	reader
	tx *sql.Tx
}

func (t *pgTx) LockProducts(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	products, err := t.queryProducts(ctx, `
		SELECT `+productColumns+` FROM products WHERE id = ANY($1) ORDER BY id FOR UPDATE
	`, ids)
	if err != nil {
		return nil, err
	}
	for _, p := range products {
		result[p.ID] = p
	}
	return result, nil
}

func (t *pgTx) LockRTOProductsByProduct(ctx context.Context, productIDs []string) ([]domain.RTOProduct, error) {
	if len(productIDs) == 0 {
		return nil, nil
	}
	return t.queryRTO(ctx, `
		SELECT `+rtoColumns+`
		FROM rto_products
		WHERE product_id = ANY($1)
		ORDER BY date_added, id
		FOR UPDATE
	`, productIDs)
}

func (t *pgTx) LockRTOProduct(ctx context.Context, id string) (*domain.RTOProduct, error) {
	return scanRTO(t.tx.QueryRowContext(ctx, `SELECT `+rtoColumns+` FROM rto_products WHERE id = $1 FOR UPDATE`, id))
}

func (t *pgTx) NextCategorySequence(ctx context.Context, categoryID string) (domain.Category, error) {
	c, err := scanCategory(t.tx.QueryRowContext(ctx, `
		UPDATE categories SET sequence = sequence + 1, updated_at = now()
		WHERE id = $1
		RETURNING `+categoryColumns, categoryID))
	if err != nil {
		return domain.Category{}, err
	}
	return *c, nil
}

func (t *pgTx) BarcodeTaken(ctx context.Context, barcode string, exceptID string) (bool, error) {
	var taken bool
	err := t.tx.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM products WHERE barcode = $1 AND id <> $2)
			OR EXISTS (SELECT 1 FROM combos WHERE barcode = $1 AND id <> $2)
	`, barcode, exceptID).Scan(&taken)
	return taken, err
}

func (t *pgTx) InsertProduct(ctx context.Context, p domain.Product) error {
	taken, err := t.BarcodeTaken(ctx, p.Barcode, "")
	if err != nil {
		return err
	}
	if taken {
		return store.ErrConflict
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO products (`+productColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, p.ID, p.Name, p.Barcode, p.CategoryID, p.CostPrice, p.SellingPrice, p.Quantity, p.MinQuantity,
		p.RTOStatus, p.RTOQuantity, p.Description, p.CreatedAt, p.UpdatedAt)
	switch {
	case isUniqueViolation(err):
		return store.ErrConflict
	case isForeignKeyViolation(err):
		return fmt.Errorf("%w: category %s", store.ErrNotFound, p.CategoryID)
	}
	return err
}

func (t *pgTx) SaveProduct(ctx context.Context, p domain.Product) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE products SET
			name = $2, barcode = $3, category_id = $4, cost_price = $5, selling_price = $6,
			quantity = $7, min_quantity = $8, rto_status = $9, rto_quantity = $10,
			description = $11, updated_at = $12
		WHERE id = $1
	`, p.ID, p.Name, p.Barcode, p.CategoryID, p.CostPrice, p.SellingPrice, p.Quantity, p.MinQuantity,
		p.RTOStatus, p.RTOQuantity, p.Description, p.UpdatedAt)
	switch {
	case isUniqueViolation(err):
		return store.ErrConflict
	case isForeignKeyViolation(err):
		return fmt.Errorf("%w: category %s", store.ErrNotFound, p.CategoryID)
	}
	return expectAffected(res, err)
}

func (t *pgTx) InsertRTOProduct(ctx context.Context, r domain.RTOProduct) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO rto_products (`+rtoColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, r.ID, r.ProductID, r.ProductName, r.Barcode, r.Category, r.Quantity, r.InitialQuantity, r.Price,
		r.Status, nullIfEmpty(r.ReturnID), r.Notes, r.DateAdded, r.UpdatedAt)
	if isUniqueViolation(err) {
		return store.ErrConflict
	}
	return err
}

func (t *pgTx) SaveRTOProduct(ctx context.Context, r domain.RTOProduct) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE rto_products SET
			product_name = $2, barcode = $3, category = $4, quantity = $5, price = $6,
			status = $7, notes = $8, updated_at = $9
		WHERE id = $1
	`, r.ID, r.ProductName, r.Barcode, r.Category, r.Quantity, r.Price, r.Status, r.Notes, r.UpdatedAt)
	return expectAffected(res, err)
}

func (t *pgTx) DeleteRTOProduct(ctx context.Context, id string) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM rto_products WHERE id = $1`, id)
	return expectAffected(res, err)
}

func (t *pgTx) DeleteRTOProductsByReturn(ctx context.Context, returnID string) (int, error) {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM rto_products WHERE return_id = $1`, returnID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (t *pgTx) LockSale(ctx context.Context, id string) (*domain.Sale, error) {
	return t.getSale(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = $1 FOR UPDATE`, id)
}

func (t *pgTx) InsertSale(ctx context.Context, s domain.Sale) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO sales (`+saleColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, s.ID, s.BuyerID, s.SaleDate, s.Subtotal, s.Discount, s.Tax, s.Shipping, s.Other, s.Total, s.Notes,
		s.CreatedAt, s.UpdatedAt)
	switch {
	case isUniqueViolation(err):
		return store.ErrConflict
	case isForeignKeyViolation(err):
		return fmt.Errorf("%w: buyer %s", store.ErrNotFound, s.BuyerID)
	case err != nil:
		return err
	}
	return t.insertSaleItems(ctx, s)
}

func (t *pgTx) UpdateSale(ctx context.Context, s domain.Sale) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE sales SET
			buyer_id = $2, sale_date = $3, subtotal = $4, discount = $5, tax = $6,
			shipping = $7, other = $8, total = $9, notes = $10, updated_at = $11
		WHERE id = $1
	`, s.ID, s.BuyerID, s.SaleDate, s.Subtotal, s.Discount, s.Tax, s.Shipping, s.Other, s.Total, s.Notes, s.UpdatedAt)
	if isForeignKeyViolation(err) {
		return fmt.Errorf("%w: buyer %s", store.ErrNotFound, s.BuyerID)
	}
	if err := expectAffected(res, err); err != nil {
		return err
	}
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM sale_items WHERE sale_id = $1`, s.ID); err != nil {
		return err
	}
	return t.insertSaleItems(ctx, s)
}

func (t *pgTx) insertSaleItems(ctx context.Context, s domain.Sale) error {
	for pos, line := range s.Items {
		components, err := json.Marshal(line.Components)
		if err != nil {
			return err
		}
		if line.Components == nil {
			components = []byte("[]")
		}
		_, err = t.tx.ExecContext(ctx, `
			INSERT INTO sale_items (sale_id, position, type, product_id, combo_id, rto_product_id,
				name, barcode, quantity, unit_price, unit_cost, total, components)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13::jsonb)
		`, s.ID, pos, string(line.Type), nullIfEmpty(line.ProductID), nullIfEmpty(line.ComboID),
			nullIfEmpty(line.RTOProductID), line.Name, line.Barcode, line.Quantity, line.UnitPrice,
			line.UnitCost, line.Total, string(components))
		if err != nil {
			return err
		}
		for seq, alloc := range line.Allocations {
			_, err := t.tx.ExecContext(ctx, `
				INSERT INTO sale_allocations (sale_id, position, seq, rto_product_id, quantity)
				VALUES ($1,$2,$3,$4,$5)
			`, s.ID, pos, seq, alloc.RTOProductID, alloc.Quantity)
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func (t *pgTx) DeleteSale(ctx context.Context, id string) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM sales WHERE id = $1`, id)
	return expectAffected(res, err)
}

func (t *pgTx) LockPurchase(ctx context.Context, id string) (*domain.Purchase, error) {
	return t.getPurchase(ctx, `SELECT `+purchaseColumns+` FROM purchases WHERE id = $1 FOR UPDATE`, id)
}

func (t *pgTx) InsertPurchase(ctx context.Context, p domain.Purchase) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO purchases (`+purchaseColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, p.ID, p.VendorID, p.InvoiceNumber, p.TotalAmount, p.Status, p.Notes, p.PurchaseDate, p.CreatedAt, p.UpdatedAt)
	switch {
	case isUniqueViolation(err):
		return store.ErrConflict
	case isForeignKeyViolation(err):
		return fmt.Errorf("%w: vendor %s", store.ErrNotFound, p.VendorID)
	case err != nil:
		return err
	}
	return t.insertPurchaseItems(ctx, p)
}

func (t *pgTx) UpdatePurchase(ctx context.Context, p domain.Purchase) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE purchases SET
			vendor_id = $2, invoice_number = $3, total_amount = $4, status = $5,
			notes = $6, purchase_date = $7, updated_at = $8
		WHERE id = $1
	`, p.ID, p.VendorID, p.InvoiceNumber, p.TotalAmount, p.Status, p.Notes, p.PurchaseDate, p.UpdatedAt)
	if isForeignKeyViolation(err) {
		return fmt.Errorf("%w: vendor %s", store.ErrNotFound, p.VendorID)
	}
	if err := expectAffected(res, err); err != nil {
		return err
	}
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM purchase_items WHERE purchase_id = $1`, p.ID); err != nil {
		return err
	}
	return t.insertPurchaseItems(ctx, p)
}

func (t *pgTx) insertPurchaseItems(ctx context.Context, p domain.Purchase) error {
	for pos, line := range p.Items {
		var selling any
		if line.SellingPrice != nil {
			selling = *line.SellingPrice
		}
		_, err := t.tx.ExecContext(ctx, `
			INSERT INTO purchase_items (purchase_id, position, product_id, name, barcode, quantity, unit_cost, selling_price, total)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`, p.ID, pos, line.ProductID, line.Name, line.Barcode, line.Quantity, line.UnitCost, selling, line.Total)
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *pgTx) DeletePurchase(ctx context.Context, id string) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM purchases WHERE id = $1`, id)
	return expectAffected(res, err)
}

func (t *pgTx) LockReturn(ctx context.Context, id string) (*domain.Return, error) {
	return t.getReturn(ctx, `SELECT `+returnColumns+` FROM returns WHERE id = $1 FOR UPDATE`, id)
}

func (t *pgTx) ListReturnIDs(ctx context.Context) ([]string, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT id FROM returns ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]string, 0, 32)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (t *pgTx) InsertReturn(ctx context.Context, r domain.Return) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO returns (`+returnColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, r.ID, r.Category, r.CustomerName, r.CustomerPhone, r.CustomerAddress, r.OrderNumber, r.Reason,
		r.TotalAmount, r.Status, r.ReturnDate, r.CreatedAt, r.UpdatedAt)
	if isUniqueViolation(err) {
		return store.ErrConflict
	}
	if err != nil {
		return err
	}
	return t.insertReturnItems(ctx, r)
}

func (t *pgTx) UpdateReturn(ctx context.Context, r domain.Return) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE returns SET
			category = $2, customer_name = $3, customer_phone = $4, customer_address = $5,
			order_number = $6, reason = $7, total_amount = $8, status = $9, return_date = $10, updated_at = $11
		WHERE id = $1
	`, r.ID, r.Category, r.CustomerName, r.CustomerPhone, r.CustomerAddress, r.OrderNumber, r.Reason,
		r.TotalAmount, r.Status, r.ReturnDate, r.UpdatedAt)
	if err := expectAffected(res, err); err != nil {
		return err
	}
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM return_items WHERE return_id = $1`, r.ID); err != nil {
		return err
	}
	return t.insertReturnItems(ctx, r)
}

func (t *pgTx) insertReturnItems(ctx context.Context, r domain.Return) error {
	for pos, line := range r.Items {
		_, err := t.tx.ExecContext(ctx, `
			INSERT INTO return_items (return_id, position, product_id, name, barcode, price, quantity, unit_price, total)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`, r.ID, pos, line.ProductID, line.Name, line.Barcode, line.Price, line.Quantity, line.UnitPrice, line.Total)
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *pgTx) DeleteReturn(ctx context.Context, id string) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM returns WHERE id = $1`, id)
	return expectAffected(res, err)
}

// checkComboBarcode rejects a combo barcode already used by a product.
// Combo-to-combo clashes are caught by the unique index.
func (t *pgTx) checkComboBarcode(ctx context.Context, barcode string) error {
	var clash bool
	err := t.tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM products WHERE barcode = $1)`, barcode).Scan(&clash)
	if err != nil {
		return err
	}
	if clash {
		return fmt.Errorf("%w: barcode %s is used by a product", store.ErrConflict, barcode)
	}
	return nil
}

func (t *pgTx) insertComboItems(ctx context.Context, combo domain.Combo) error {
	for pos, item := range combo.Items {
		_, err := t.tx.ExecContext(ctx, `
			INSERT INTO combo_items (combo_id, position, product_id, quantity) VALUES ($1,$2,$3,$4)
		`, combo.ID, pos, item.ProductID, item.Quantity)
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: product %s", store.ErrNotFound, item.ProductID)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

var (
	_ store.Tx         = (*pgTx)(nil)
	_ store.Repository = (*Store)(nil)
)
