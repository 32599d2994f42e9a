package memory

import (
	"context"
	"errors"
	"testing"

	"shopstock/internal/domain"
	"shopstock/internal/store"
)

func TestWithinTxDiscardsStagedWritesOnError(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithinTx(ctx, func(tx store.Tx) error {
		products, err := tx.LockProducts(ctx, []string{"prod-IM001VP-0001"})
		if err != nil {
			return err
		}
		p := products["prod-IM001VP-0001"]
		p.Quantity = 0
		if err := tx.SaveProduct(ctx, p); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected staged error back, got %v", err)
	}

	p, err := s.GetProduct(ctx, "prod-IM001VP-0001")
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if p.Quantity != 10 {
		t.Fatalf("expected quantity 10 after rollback, got %d", p.Quantity)
	}
}

func TestListProductsLowStockAndSearch(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	low, err := s.ListProducts(ctx, domain.ProductFilter{LowStock: true})
	if err != nil {
		t.Fatalf("list low stock: %v", err)
	}
	if len(low) != 1 || low[0].Name != "Silk Stole" {
		t.Fatalf("expected only Silk Stole low, got %+v", low)
	}

	found, err := s.ListProducts(ctx, domain.ProductFilter{Search: "jhumka"})
	if err != nil {
		t.Fatalf("search products: %v", err)
	}
	if len(found) != 1 || found[0].Barcode != "IM001VP0002" {
		t.Fatalf("expected jhumka by name search, got %+v", found)
	}
}

func TestDeleteProductBlockedWhileReferenced(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	err := s.WithinTx(ctx, func(tx store.Tx) error {
		return tx.InsertPurchase(ctx, domain.Purchase{
			ID:       "pur-1",
			VendorID: "vendor-default",
			Items:    []domain.PurchaseLine{{ProductID: "prod-AP001VP-0001", Quantity: 1}},
			Status:   domain.PurchaseStatusPending,
		})
	})
	if err != nil {
		t.Fatalf("insert purchase: %v", err)
	}
	if err := s.DeleteProduct(ctx, "prod-AP001VP-0001"); !errors.Is(err, store.ErrInUse) {
		t.Fatalf("expected referenced product delete to be blocked, got %v", err)
	}
}

func TestDeleteProductDropsComboMembership(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	if err := s.DeleteProduct(ctx, "prod-IM001VP-0001"); err != nil {
		t.Fatalf("delete product: %v", err)
	}
	if _, err := s.GetProduct(ctx, "prod-IM001VP-0001"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected deleted product to be gone, got %v", err)
	}
	combo, err := s.GetCombo(ctx, "combo-bridal")
	if err != nil {
		t.Fatalf("get combo: %v", err)
	}
	if len(combo.Items) != 1 || combo.Items[0].ProductID != "prod-IM001VP-0002" {
		t.Fatalf("expected only jhumka left in combo, got %+v", combo.Items)
	}
}
