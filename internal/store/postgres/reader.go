package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"shopstock/internal/domain"
	"shopstock/internal/store"
)

const (
	categoryColumns = `id, name, prefix, sequence, description, created_at, updated_at`
	productColumns  = `id, name, barcode, category_id, cost_price, selling_price, quantity, min_quantity, rto_status, rto_quantity, description, created_at, updated_at`
	comboColumns    = `id, name, barcode, price, is_active, description, created_at, updated_at`
	rtoColumns      = `id, product_id, product_name, barcode, category, quantity, initial_quantity, price, status, return_id, notes, date_added, updated_at`
	partyColumns    = `id, name, phone, email, address, notes, created_at, updated_at`
	saleColumns     = `id, buyer_id, sale_date, subtotal, discount, tax, shipping, other, total, notes, created_at, updated_at`
	purchaseColumns = `id, vendor_id, invoice_number, total_amount, status, notes, purchase_date, created_at, updated_at`
	returnColumns   = `id, category, customer_name, customer_phone, customer_address, order_number, reason, total_amount, status, return_date, created_at, updated_at`
)

type rowScanner interface {
	Scan(dest ...any) error
}

// reader implements store.Reader over any querier.
type reader struct {
	q querier
}

func (r reader) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	return scanProduct(r.q.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
}

func (r reader) GetProductByBarcode(ctx context.Context, barcode string) (*domain.Product, error) {
	return scanProduct(r.q.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE barcode = $1`, barcode))
}

func (r reader) ListProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	var (
		where []string
		args  []any
	)
	if filter.CategoryID != "" {
		args = append(args, filter.CategoryID)
		where = append(where, fmt.Sprintf("category_id = $%d", len(args)))
	}
	if filter.LowStock {
		where = append(where, "quantity <= min_quantity")
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		args = append(args, likePattern(search))
		where = append(where, fmt.Sprintf("(name ILIKE $%d OR barcode ILIKE $%d)", len(args), len(args)))
	}

	query := `SELECT ` + productColumns + ` FROM products`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY name, id`

	return r.queryProducts(ctx, query, args...)
}

func (r reader) GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	products, err := r.queryProducts(ctx, `SELECT `+productColumns+` FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	for _, p := range products {
		result[p.ID] = p
	}
	return result, nil
}

func (r reader) queryProducts(ctx context.Context, query string, args ...any) ([]domain.Product, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 32)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, *p)
	}
	return products, rows.Err()
}

func (r reader) GetCategory(ctx context.Context, id string) (*domain.Category, error) {
	return scanCategory(r.q.QueryRowContext(ctx, `SELECT `+categoryColumns+` FROM categories WHERE id = $1`, id))
}

func (r reader) GetCombo(ctx context.Context, id string) (*domain.Combo, error) {
	combo, err := scanCombo(r.q.QueryRowContext(ctx, `SELECT `+comboColumns+` FROM combos WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	return combo, r.loadComboItems(ctx, []*domain.Combo{combo})
}

func (r reader) GetComboByBarcode(ctx context.Context, barcode string) (*domain.Combo, error) {
	combo, err := scanCombo(r.q.QueryRowContext(ctx, `SELECT `+comboColumns+` FROM combos WHERE barcode = $1`, barcode))
	if err != nil {
		return nil, err
	}
	return combo, r.loadComboItems(ctx, []*domain.Combo{combo})
}

func (r reader) ListCombos(ctx context.Context) ([]domain.Combo, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+comboColumns+` FROM combos ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ptrs []*domain.Combo
	for rows.Next() {
		c, err := scanCombo(rows)
		if err != nil {
			return nil, err
		}
		ptrs = append(ptrs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := r.loadComboItems(ctx, ptrs); err != nil {
		return nil, err
	}

	combos := make([]domain.Combo, 0, len(ptrs))
	for _, c := range ptrs {
		combos = append(combos, *c)
	}
	return combos, nil
}

func (r reader) loadComboItems(ctx context.Context, combos []*domain.Combo) error {
	if len(combos) == 0 {
		return nil
	}
	byID := make(map[string]*domain.Combo, len(combos))
	ids := make([]string, 0, len(combos))
	for _, c := range combos {
		c.Items = make([]domain.ComboItem, 0, 4)
		byID[c.ID] = c
		ids = append(ids, c.ID)
	}

	rows, err := r.q.QueryContext(ctx, `
		SELECT combo_id, product_id, quantity
		FROM combo_items
		WHERE combo_id = ANY($1)
		ORDER BY combo_id, position
	`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var comboID string
		var item domain.ComboItem
		if err := rows.Scan(&comboID, &item.ProductID, &item.Quantity); err != nil {
			return err
		}
		c := byID[comboID]
		c.Items = append(c.Items, item)
	}
	return rows.Err()
}

func (r reader) GetRTOProduct(ctx context.Context, id string) (*domain.RTOProduct, error) {
	return scanRTO(r.q.QueryRowContext(ctx, `SELECT `+rtoColumns+` FROM rto_products WHERE id = $1`, id))
}

func (r reader) FindRTOProductByBarcode(ctx context.Context, barcode string) (*domain.RTOProduct, error) {
	return scanRTO(r.q.QueryRowContext(ctx, `
		SELECT `+rtoColumns+`
		FROM rto_products
		WHERE barcode = $1 AND quantity > 0
		ORDER BY date_added, id
		LIMIT 1
	`, barcode))
}

func (r reader) ListRTOProducts(ctx context.Context, filter domain.RTOProductFilter) ([]domain.RTOProduct, error) {
	var (
		where []string
		args  []any
	)
	if filter.Category != "" {
		args = append(args, filter.Category)
		where = append(where, fmt.Sprintf("category = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		args = append(args, likePattern(search))
		n := len(args)
		where = append(where, fmt.Sprintf("(product_name ILIKE $%d OR barcode ILIKE $%d OR id ILIKE $%d)", n, n, n))
	}
	if filter.StartDate != nil {
		args = append(args, nullTime(filter.StartDate))
		where = append(where, fmt.Sprintf("date_added >= $%d", len(args)))
	}
	if filter.EndDate != nil {
		args = append(args, nullTime(filter.EndDate))
		where = append(where, fmt.Sprintf("date_added <= $%d", len(args)))
	}

	query := `SELECT ` + rtoColumns + ` FROM rto_products`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY date_added DESC, id DESC`
	return r.queryRTO(ctx, query, args...)
}

func (r reader) queryRTO(ctx context.Context, query string, args ...any) ([]domain.RTOProduct, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.RTOProduct, 0, 16)
	for rows.Next() {
		row, err := scanRTO(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *row)
	}
	return out, rows.Err()
}

func (r reader) GetParty(ctx context.Context, kind store.PartyKind, id string) (*domain.Party, error) {
	table, err := partyTable(kind)
	if err != nil {
		return nil, err
	}
	return scanParty(r.q.QueryRowContext(ctx, `SELECT `+partyColumns+` FROM `+table+` WHERE id = $1`, id))
}

func (r reader) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	return r.getSale(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = $1`, id)
}

func (r reader) getSale(ctx context.Context, query string, id string) (*domain.Sale, error) {
	sale, err := scanSale(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, err
	}
	if err := r.loadSaleItems(ctx, []*domain.Sale{sale}); err != nil {
		return nil, err
	}
	return sale, nil
}

func (r reader) ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	var (
		where []string
		args  []any
	)
	if filter.BuyerID != "" {
		args = append(args, filter.BuyerID)
		where = append(where, fmt.Sprintf("buyer_id = $%d", len(args)))
	}
	where, args = appendRange(where, args, "sale_date", filter.DateRange)

	query := `SELECT ` + saleColumns + ` FROM sales`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY sale_date DESC, id`

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var ptrs []*domain.Sale
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		ptrs = append(ptrs, sale)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := r.loadSaleItems(ctx, ptrs); err != nil {
		return nil, err
	}

	sales := make([]domain.Sale, 0, len(ptrs))
	for _, s := range ptrs {
		sales = append(sales, *s)
	}
	return sales, nil
}

func (r reader) loadSaleItems(ctx context.Context, sales []*domain.Sale) error {
	if len(sales) == 0 {
		return nil
	}
	byID := make(map[string]*domain.Sale, len(sales))
	ids := make([]string, 0, len(sales))
	for _, s := range sales {
		s.Items = make([]domain.SaleLine, 0, 4)
		byID[s.ID] = s
		ids = append(ids, s.ID)
	}

	rows, err := r.q.QueryContext(ctx, `
		SELECT sale_id, type, coalesce(product_id, ''), coalesce(combo_id, ''), coalesce(rto_product_id, ''),
			name, barcode, quantity, unit_price, unit_cost, total, components
		FROM sale_items
		WHERE sale_id = ANY($1)
		ORDER BY sale_id, position
	`, ids)
	if err != nil {
		return err
	}
	for rows.Next() {
		var (
			saleID     string
			line       domain.SaleLine
			components []byte
		)
		if err := rows.Scan(&saleID, &line.Type, &line.ProductID, &line.ComboID, &line.RTOProductID,
			&line.Name, &line.Barcode, &line.Quantity, &line.UnitPrice, &line.UnitCost, &line.Total, &components); err != nil {
			rows.Close()
			return err
		}
		if len(components) > 0 {
			if err := json.Unmarshal(components, &line.Components); err != nil {
				rows.Close()
				return err
			}
		}
		if len(line.Components) == 0 {
			line.Components = nil
		}
		s := byID[saleID]
		s.Items = append(s.Items, line)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	allocs, err := r.q.QueryContext(ctx, `
		SELECT sale_id, position, rto_product_id, quantity
		FROM sale_allocations
		WHERE sale_id = ANY($1)
		ORDER BY sale_id, position, seq
	`, ids)
	if err != nil {
		return err
	}
	defer allocs.Close()
	for allocs.Next() {
		var (
			saleID   string
			position int
			alloc    domain.RTOAllocation
		)
		if err := allocs.Scan(&saleID, &position, &alloc.RTOProductID, &alloc.Quantity); err != nil {
			return err
		}
		s := byID[saleID]
		if position < 0 || position >= len(s.Items) {
			return fmt.Errorf("sale %s: allocation for missing line %d", saleID, position)
		}
		s.Items[position].Allocations = append(s.Items[position].Allocations, alloc)
	}
	return allocs.Err()
}

func (r reader) GetPurchase(ctx context.Context, id string) (*domain.Purchase, error) {
	return r.getPurchase(ctx, `SELECT `+purchaseColumns+` FROM purchases WHERE id = $1`, id)
}

func (r reader) getPurchase(ctx context.Context, query string, id string) (*domain.Purchase, error) {
	p, err := scanPurchase(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, err
	}
	if err := r.loadPurchaseItems(ctx, []*domain.Purchase{p}); err != nil {
		return nil, err
	}
	return p, nil
}

func (r reader) ListPurchases(ctx context.Context, window domain.DateRange) ([]domain.Purchase, error) {
	where, args := appendRange(nil, nil, "purchase_date", window)
	query := `SELECT ` + purchaseColumns + ` FROM purchases`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY purchase_date DESC, id`

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var ptrs []*domain.Purchase
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		ptrs = append(ptrs, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := r.loadPurchaseItems(ctx, ptrs); err != nil {
		return nil, err
	}

	out := make([]domain.Purchase, 0, len(ptrs))
	for _, p := range ptrs {
		out = append(out, *p)
	}
	return out, nil
}

func (r reader) loadPurchaseItems(ctx context.Context, purchases []*domain.Purchase) error {
	if len(purchases) == 0 {
		return nil
	}
	byID := make(map[string]*domain.Purchase, len(purchases))
	ids := make([]string, 0, len(purchases))
	for _, p := range purchases {
		p.Items = make([]domain.PurchaseLine, 0, 4)
		byID[p.ID] = p
		ids = append(ids, p.ID)
	}

	rows, err := r.q.QueryContext(ctx, `
		SELECT purchase_id, product_id, name, barcode, quantity, unit_cost, selling_price, total
		FROM purchase_items
		WHERE purchase_id = ANY($1)
		ORDER BY purchase_id, position
	`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			purchaseID string
			line       domain.PurchaseLine
			selling    decimal.NullDecimal
		)
		if err := rows.Scan(&purchaseID, &line.ProductID, &line.Name, &line.Barcode, &line.Quantity, &line.UnitCost, &selling, &line.Total); err != nil {
			return err
		}
		if selling.Valid {
			v := selling.Decimal
			line.SellingPrice = &v
		}
		p := byID[purchaseID]
		p.Items = append(p.Items, line)
	}
	return rows.Err()
}

func (r reader) GetReturn(ctx context.Context, id string) (*domain.Return, error) {
	return r.getReturn(ctx, `SELECT `+returnColumns+` FROM returns WHERE id = $1`, id)
}

func (r reader) getReturn(ctx context.Context, query string, id string) (*domain.Return, error) {
	ret, err := scanReturn(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, err
	}
	if err := r.loadReturnItems(ctx, []*domain.Return{ret}); err != nil {
		return nil, err
	}
	return ret, nil
}

func (r reader) ListReturns(ctx context.Context, window domain.DateRange) ([]domain.Return, error) {
	where, args := appendRange(nil, nil, "return_date", window)
	query := `SELECT ` + returnColumns + ` FROM returns`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY id DESC`

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var ptrs []*domain.Return
	for rows.Next() {
		ret, err := scanReturn(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		ptrs = append(ptrs, ret)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := r.loadReturnItems(ctx, ptrs); err != nil {
		return nil, err
	}

	out := make([]domain.Return, 0, len(ptrs))
	for _, ret := range ptrs {
		out = append(out, *ret)
	}
	return out, nil
}

func (r reader) loadReturnItems(ctx context.Context, returns []*domain.Return) error {
	if len(returns) == 0 {
		return nil
	}
	byID := make(map[string]*domain.Return, len(returns))
	ids := make([]string, 0, len(returns))
	for _, ret := range returns {
		ret.Items = make([]domain.ReturnLine, 0, 4)
		byID[ret.ID] = ret
		ids = append(ids, ret.ID)
	}

	rows, err := r.q.QueryContext(ctx, `
		SELECT return_id, product_id, name, barcode, price, quantity, unit_price, total
		FROM return_items
		WHERE return_id = ANY($1)
		ORDER BY return_id, position
	`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			returnID string
			line     domain.ReturnLine
		)
		if err := rows.Scan(&returnID, &line.ProductID, &line.Name, &line.Barcode, &line.Price, &line.Quantity, &line.UnitPrice, &line.Total); err != nil {
			return err
		}
		ret := byID[returnID]
		ret.Items = append(ret.Items, line)
	}
	return rows.Err()
}

func appendRange(where []string, args []any, column string, window domain.DateRange) ([]string, []any) {
	if window.From != nil {
		args = append(args, nullTime(window.From))
		where = append(where, fmt.Sprintf("%s >= $%d", column, len(args)))
	}
	if window.To != nil {
		args = append(args, nullTime(window.To))
		where = append(where, fmt.Sprintf("%s <= $%d", column, len(args)))
	}
	return where, args
}

func likePattern(search string) string {
	escaper := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + escaper.Replace(search) + "%"
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

func scanCategory(row rowScanner) (*domain.Category, error) {
	var c domain.Category
	if err := row.Scan(&c.ID, &c.Name, &c.Prefix, &c.Sequence, &c.Description, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, notFound(err)
	}
	c.CreatedAt, c.UpdatedAt = c.CreatedAt.UTC(), c.UpdatedAt.UTC()
	return &c, nil
}

func scanProduct(row rowScanner) (*domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.Name, &p.Barcode, &p.CategoryID, &p.CostPrice, &p.SellingPrice, &p.Quantity,
		&p.MinQuantity, &p.RTOStatus, &p.RTOQuantity, &p.Description, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	p.CreatedAt, p.UpdatedAt = p.CreatedAt.UTC(), p.UpdatedAt.UTC()
	return &p, nil
}

func scanCombo(row rowScanner) (*domain.Combo, error) {
	var c domain.Combo
	if err := row.Scan(&c.ID, &c.Name, &c.Barcode, &c.Price, &c.IsActive, &c.Description, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, notFound(err)
	}
	c.CreatedAt, c.UpdatedAt = c.CreatedAt.UTC(), c.UpdatedAt.UTC()
	return &c, nil
}

func scanRTO(row rowScanner) (*domain.RTOProduct, error) {
	var (
		r        domain.RTOProduct
		returnID sql.NullString
	)
	err := row.Scan(&r.ID, &r.ProductID, &r.ProductName, &r.Barcode, &r.Category, &r.Quantity, &r.InitialQuantity,
		&r.Price, &r.Status, &returnID, &r.Notes, &r.DateAdded, &r.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	r.ReturnID = returnID.String
	r.DateAdded, r.UpdatedAt = r.DateAdded.UTC(), r.UpdatedAt.UTC()
	return &r, nil
}

func scanParty(row rowScanner) (*domain.Party, error) {
	var p domain.Party
	if err := row.Scan(&p.ID, &p.Name, &p.Phone, &p.Email, &p.Address, &p.Notes, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, notFound(err)
	}
	p.CreatedAt, p.UpdatedAt = p.CreatedAt.UTC(), p.UpdatedAt.UTC()
	return &p, nil
}

func scanSale(row rowScanner) (*domain.Sale, error) {
	var s domain.Sale
	err := row.Scan(&s.ID, &s.BuyerID, &s.SaleDate, &s.Subtotal, &s.Discount, &s.Tax, &s.Shipping, &s.Other,
		&s.Total, &s.Notes, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	s.SaleDate, s.CreatedAt, s.UpdatedAt = s.SaleDate.UTC(), s.CreatedAt.UTC(), s.UpdatedAt.UTC()
	return &s, nil
}

func scanPurchase(row rowScanner) (*domain.Purchase, error) {
	var p domain.Purchase
	err := row.Scan(&p.ID, &p.VendorID, &p.InvoiceNumber, &p.TotalAmount, &p.Status, &p.Notes, &p.PurchaseDate,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	p.PurchaseDate, p.CreatedAt, p.UpdatedAt = p.PurchaseDate.UTC(), p.CreatedAt.UTC(), p.UpdatedAt.UTC()
	return &p, nil
}

func scanReturn(row rowScanner) (*domain.Return, error) {
	var r domain.Return
	err := row.Scan(&r.ID, &r.Category, &r.CustomerName, &r.CustomerPhone, &r.CustomerAddress, &r.OrderNumber,
		&r.Reason, &r.TotalAmount, &r.Status, &r.ReturnDate, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	r.ReturnDate, r.CreatedAt, r.UpdatedAt = r.ReturnDate.UTC(), r.CreatedAt.UTC(), r.UpdatedAt.UTC()
	return &r, nil
}
