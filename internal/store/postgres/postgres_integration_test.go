package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"shopstock/internal/domain"
	"shopstock/internal/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	databaseURL := os.Getenv("SHOPSTOCK_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set SHOPSTOCK_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func TestSaleWithAllocationsRoundTrips(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	stamp := time.Now().UnixNano()
	now := time.Now().UTC().Truncate(time.Microsecond)
	categoryID := fmt.Sprintf("cat-it-%d", stamp)
	productID := fmt.Sprintf("prod-it-%d", stamp)
	rowID := fmt.Sprintf("rto-it-%d", stamp)
	buyerID := fmt.Sprintf("buyer-it-%d", stamp)
	saleID := fmt.Sprintf("sale-it-%d", stamp)
	prefix := fmt.Sprintf("IT%d", stamp%1_000_000)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sales WHERE id = $1`, saleID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM rto_products WHERE id = $1`, rowID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, productID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM buyers WHERE id = $1`, buyerID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM categories WHERE id = $1`, categoryID)
	})

	if err := s.CreateCategory(ctx, domain.Category{ID: categoryID, Name: "Integration", Prefix: prefix, CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("create category: %v", err)
	}
	if err := s.CreateParty(ctx, store.Buyers, domain.Party{ID: buyerID, Name: "Walk-in", CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("create buyer: %v", err)
	}

	err := s.WithinTx(ctx, func(tx store.Tx) error {
		c, err := tx.NextCategorySequence(ctx, categoryID)
		if err != nil {
			return err
		}
		if c.Sequence != 1 {
			return fmt.Errorf("expected sequence 1, got %d", c.Sequence)
		}
		if err := tx.InsertProduct(ctx, domain.Product{
			ID: productID, Name: "Kundan Set", Barcode: fmt.Sprintf("%s%04d", prefix, c.Sequence), CategoryID: categoryID,
			CostPrice: decimal.NewFromInt(450), SellingPrice: decimal.NewFromInt(899), Quantity: 3, MinQuantity: 1,
			RTOStatus: domain.RTOStatusRTO, RTOQuantity: 2, CreatedAt: now, UpdatedAt: now,
		}); err != nil {
			return err
		}
		return tx.InsertRTOProduct(ctx, domain.RTOProduct{
			ID: rowID, ProductID: productID, ProductName: "Kundan Set", Barcode: prefix + "0001", Category: domain.RTOStatusRTO,
			Quantity: 2, InitialQuantity: 2, Price: decimal.NewFromInt(899), Status: domain.RTOProductPending,
			DateAdded: now, UpdatedAt: now,
		})
	})
	if err != nil {
		t.Fatalf("seed product: %v", err)
	}

	sale := domain.Sale{
		ID: saleID, BuyerID: buyerID, SaleDate: now, Subtotal: decimal.NewFromInt(899), Total: decimal.NewFromInt(899),
		CreatedAt: now, UpdatedAt: now,
		Items: []domain.SaleLine{{
			Type: domain.SaleItemProduct, ProductID: productID, Name: "Kundan Set", Quantity: 1,
			UnitPrice: decimal.NewFromInt(899), UnitCost: decimal.NewFromInt(450), Total: decimal.NewFromInt(899),
			Allocations: []domain.RTOAllocation{{RTOProductID: rowID, Quantity: 1}},
		}},
	}
	if err := s.WithinTx(ctx, func(tx store.Tx) error { return tx.InsertSale(ctx, sale) }); err != nil {
		t.Fatalf("insert sale: %v", err)
	}

	got, err := s.GetSale(ctx, saleID)
	if err != nil {
		t.Fatalf("get sale: %v", err)
	}
	if len(got.Items) != 1 || len(got.Items[0].Allocations) != 1 || got.Items[0].Allocations[0].RTOProductID != rowID {
		t.Fatalf("expected allocation to round-trip, got %+v", got.Items)
	}
	if !got.Total.Equal(decimal.NewFromInt(899)) {
		t.Fatalf("expected total 899, got %s", got.Total)
	}

	if err := s.DeleteProduct(ctx, productID); !errors.Is(err, store.ErrInUse) {
		t.Fatalf("expected ErrInUse deleting a sold product, got %v", err)
	}

	row, err := s.FindRTOProductByBarcode(ctx, prefix+"0001")
	if err != nil {
		t.Fatalf("find rto row: %v", err)
	}
	if row.ID != rowID {
		t.Fatalf("expected row %s, got %s", rowID, row.ID)
	}
}

func TestProductQuantityCannotGoNegative(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	products, err := s.ListProducts(ctx, domain.ProductFilter{})
	if err != nil {
		t.Fatalf("list products: %v", err)
	}
	if len(products) == 0 {
		t.Skip("no products to probe")
	}

	p := products[0]
	p.Quantity = -1
	err = s.WithinTx(ctx, func(tx store.Tx) error { return tx.SaveProduct(ctx, p) })
	if err == nil {
		t.Fatalf("expected check constraint to reject negative quantity")
	}
}
