package service

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"

	"shopstock/internal/cache"
	"shopstock/internal/domain"
	"shopstock/internal/lock"
	"shopstock/internal/notify"
	"shopstock/internal/store"
	"shopstock/internal/store/memory"
)

const (
	kundanID = "prod-IM001VP-0001"
	jhumkaID = "prod-IM001VP-0002"
	bangleID = "prod-IM001VP-0003"
	stoleID  = "prod-AP001VP-0002"
)

func newTestService(t *testing.T) (*Service, *notify.Recorder) {
	t.Helper()
	events := &notify.Recorder{}
	svc := New(memory.NewSeeded(), Options{Locker: lock.NewLocal(), Bus: events})

	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return svc, events
}

func adminContext() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: "admin"})
}

func quantityOf(t *testing.T, svc *Service, id string) int {
	t.Helper()
	p, err := svc.GetProduct(context.Background(), id)
	if err != nil {
		t.Fatalf("get product %s: %v", id, err)
	}
	return p.Quantity
}

func sell(t *testing.T, svc *Service, items ...domain.SaleItem) *domain.Sale {
	t.Helper()
	sale, err := svc.CreateSale(adminContext(), domain.SaleDraft{BuyerID: "buyer-walkin", Items: items})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	return sale
}

func rtoReturn(productID string, qty int) domain.ReturnRequest {
	return domain.ReturnRequest{
		Category:     domain.ReturnCategoryRTO,
		CustomerName: "Asha",
		Items:        []domain.ReturnItemRequest{{ProductID: productID, Quantity: qty}},
	}
}

func TestCreateSaleDeductsStockAndRecomputesTotal(t *testing.T) {
	svc, events := newTestService(t)

	sale := sell(t, svc, domain.ProductItem(kundanID, 2), domain.ProductItem(jhumkaID, 1))

	if !sale.Total.Equal(decimal.NewFromInt(2097)) {
		t.Fatalf("expected total 2097, got %s", sale.Total)
	}
	if got := quantityOf(t, svc, kundanID); got != 8 {
		t.Fatalf("expected kundan quantity 8, got %d", got)
	}
	if got := quantityOf(t, svc, jhumkaID); got != 23 {
		t.Fatalf("expected jhumka quantity 23, got %d", got)
	}
	names := events.Names()
	if !slices.Contains(names, domain.EventSalesChanged) || !slices.Contains(names, domain.EventInventoryChanged) {
		t.Fatalf("expected sales and inventory events, got %v", names)
	}

	stored, err := svc.GetSale(context.Background(), sale.ID)
	if err != nil {
		t.Fatalf("get sale: %v", err)
	}
	if len(stored.Items) != 2 || stored.Items[0].UnitCost.String() != "450" {
		t.Fatalf("unexpected stored lines: %+v", stored.Items)
	}
}

func TestComboSaleRejectsShortMemberWithoutMutation(t *testing.T) {
	svc, events := newTestService(t)
	ctx := adminContext()

	a, err := svc.CreateProduct(ctx, domain.ProductCreateRequest{Name: "Anklet", CategoryID: "cat-imitation", SellingPrice: decimal.NewFromInt(150), Quantity: 3})
	if err != nil {
		t.Fatalf("create product a: %v", err)
	}
	b, err := svc.CreateProduct(ctx, domain.ProductCreateRequest{Name: "Toe Ring", CategoryID: "cat-imitation", SellingPrice: decimal.NewFromInt(80), Quantity: 0})
	if err != nil {
		t.Fatalf("create product b: %v", err)
	}
	combo, err := svc.CreateCombo(ctx, domain.ComboRequest{
		Name:  "Feet Set",
		Price: decimal.NewFromInt(250),
		Items: []domain.ComboItem{{ProductID: a.ID, Quantity: 2}, {ProductID: b.ID, Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("create combo: %v", err)
	}
	before := len(events.Names())

	_, err = svc.CreateSale(ctx, domain.SaleDraft{BuyerID: "buyer-walkin", Items: []domain.SaleItem{domain.ComboSaleItem(combo.ID, 1)}})
	var stockErr *store.StockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("expected stock error, got %v", err)
	}
	if stockErr.Name != "Toe Ring" || stockErr.Required != 1 || stockErr.Available != 0 {
		t.Fatalf("expected shortage on Toe Ring, got %+v", stockErr)
	}
	if got := quantityOf(t, svc, a.ID); got != 3 {
		t.Fatalf("expected anklet untouched at 3, got %d", got)
	}
	if len(events.Names()) != before {
		t.Fatalf("expected no events after a rejected sale")
	}
}

func TestRepeatedProductDemandIsCheckedTogether(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.CreateSale(adminContext(), domain.SaleDraft{
		BuyerID: "buyer-walkin",
		Items:   []domain.SaleItem{domain.ProductItem(stoleID, 2), domain.ProductItem(stoleID, 2)},
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	if got := quantityOf(t, svc, stoleID); got != 3 {
		t.Fatalf("expected silk stole untouched at 3, got %d", got)
	}
}

func TestProductAndComboLinesShareDemand(t *testing.T) {
	svc, _ := newTestService(t)

	// 20 jhumka plus 3 bridal sets (2 jhumka each) needs 26 of 24.
	_, err := svc.CreateSale(adminContext(), domain.SaleDraft{
		BuyerID: "buyer-walkin",
		Items:   []domain.SaleItem{domain.ProductItem(jhumkaID, 20), domain.ComboSaleItem("combo-bridal", 3)},
	})
	var stockErr *store.StockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("expected stock error, got %v", err)
	}
	if stockErr.Name != "Oxidised Jhumka" || stockErr.Required != 26 || stockErr.Available != 24 {
		t.Fatalf("unexpected shortage detail: %+v", stockErr)
	}
	if got := quantityOf(t, svc, jhumkaID); got != 24 {
		t.Fatalf("expected jhumka untouched at 24, got %d", got)
	}
	if got := quantityOf(t, svc, kundanID); got != 10 {
		t.Fatalf("expected kundan untouched at 10, got %d", got)
	}
}

func TestProductAndLedgerLinesShareDemand(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := adminContext()

	row, err := svc.AddRTOProduct(ctx, domain.RTOProductCreateRequest{ProductID: stoleID, Category: domain.RTOStatusRTO, Quantity: 2})
	if err != nil {
		t.Fatalf("add rto row: %v", err)
	}

	_, err = svc.CreateSale(ctx, domain.SaleDraft{
		BuyerID: "buyer-walkin",
		Items:   []domain.SaleItem{domain.ProductItem(stoleID, 4), domain.RTOItem(row.ID, 2)},
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	if got := quantityOf(t, svc, stoleID); got != 5 {
		t.Fatalf("expected stole untouched at 5, got %d", got)
	}
	current, _ := svc.GetRTOProduct(ctx, row.ID)
	if current.Quantity != 2 {
		t.Fatalf("expected ledger row untouched at 2, got %d", current.Quantity)
	}
}

func TestHugeComboQuantityIsRejected(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := adminContext()

	combo, err := svc.CreateCombo(ctx, domain.ComboRequest{
		Name:  "Four Sets",
		Price: decimal.NewFromInt(3000),
		Items: []domain.ComboItem{{ProductID: kundanID, Quantity: 4}},
	})
	if err != nil {
		t.Fatalf("create combo: %v", err)
	}

	for _, qty := range []int{(1 << 62) + 1, domain.MaxQuantity/4 + 1} {
		_, err = svc.CreateSale(ctx, domain.SaleDraft{BuyerID: "buyer-walkin", Items: []domain.SaleItem{domain.ComboSaleItem(combo.ID, qty)}})
		if !errors.Is(err, store.ErrValidation) {
			t.Fatalf("quantity %d: expected validation error, got %v", qty, err)
		}
	}
	_, err = svc.CreateSale(ctx, domain.SaleDraft{BuyerID: "buyer-walkin", Items: []domain.SaleItem{domain.ProductItem(kundanID, domain.MaxQuantity+1)}})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for huge product line, got %v", err)
	}
	if got := quantityOf(t, svc, kundanID); got != 10 {
		t.Fatalf("expected kundan untouched at 10, got %d", got)
	}
	sales, _ := svc.ListSales(ctx, domain.SaleFilter{})
	if len(sales) != 0 {
		t.Fatalf("expected no stored sales, got %d", len(sales))
	}
}

func TestHugeQuantitiesRejectedOutsideSales(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := adminContext()
	huge := domain.MaxQuantity + 1

	if _, err := svc.CreatePurchase(ctx, domain.PurchaseRequest{
		VendorID: "vendor-default",
		Status:   domain.PurchaseStatusReceived,
		Items:    []domain.PurchaseItemRequest{{ProductID: stoleID, Quantity: huge}},
	}); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("purchase: expected validation error, got %v", err)
	}
	if _, err := svc.CreateReturn(ctx, rtoReturn(stoleID, huge)); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("return: expected validation error, got %v", err)
	}
	if _, err := svc.AddRTOProduct(ctx, domain.RTOProductCreateRequest{ProductID: stoleID, Category: domain.RTOStatusRTO, Quantity: huge}); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("rto add: expected validation error, got %v", err)
	}
	if _, err := svc.CreateCombo(ctx, domain.ComboRequest{
		Name:  "Split",
		Items: []domain.ComboItem{{ProductID: stoleID, Quantity: domain.MaxQuantity}, {ProductID: stoleID, Quantity: 1}},
	}); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("combo: expected validation error, got %v", err)
	}
	if got := quantityOf(t, svc, stoleID); got != 3 {
		t.Fatalf("expected stole untouched at 3, got %d", got)
	}
}

func TestProductSaleDrainsLedgerOldestFirstAndDeleteRestoresExactly(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := adminContext()

	first, err := svc.AddRTOProduct(ctx, domain.RTOProductCreateRequest{ProductID: bangleID, Category: domain.RTOStatusRTO, Quantity: 2})
	if err != nil {
		t.Fatalf("add first rto batch: %v", err)
	}
	second, err := svc.AddRTOProduct(ctx, domain.RTOProductCreateRequest{ProductID: bangleID, Category: domain.RTOStatusRTO, Quantity: 3})
	if err != nil {
		t.Fatalf("add second rto batch: %v", err)
	}
	if got := quantityOf(t, svc, bangleID); got != 13 {
		t.Fatalf("expected bangle quantity 13 after rto batches, got %d", got)
	}

	sale := sell(t, svc, domain.ProductItem(bangleID, 4))
	allocs := sale.Items[0].Allocations
	if len(allocs) != 2 || allocs[0].RTOProductID != first.ID || allocs[0].Quantity != 2 || allocs[1].RTOProductID != second.ID || allocs[1].Quantity != 2 {
		t.Fatalf("unexpected allocations: %+v", allocs)
	}

	p, _ := svc.GetProduct(ctx, bangleID)
	if p.Quantity != 9 || p.RTOQuantity != 1 || p.RTOStatus != domain.RTOStatusRTO {
		t.Fatalf("unexpected product after sale: qty=%d rto=%d status=%s", p.Quantity, p.RTOQuantity, p.RTOStatus)
	}

	if err := svc.DeleteSale(ctx, sale.ID); err != nil {
		t.Fatalf("delete sale: %v", err)
	}
	for id, want := range map[string]int{first.ID: 2, second.ID: 3} {
		row, err := svc.GetRTOProduct(ctx, id)
		if err != nil {
			t.Fatalf("get rto row %s: %v", id, err)
		}
		if row.Quantity != want {
			t.Fatalf("expected row %s restored to %d, got %d", id, want, row.Quantity)
		}
	}
	p, _ = svc.GetProduct(ctx, bangleID)
	if p.Quantity != 13 || p.RTOQuantity != 5 {
		t.Fatalf("expected qty 13 and rto 5 after delete, got %d and %d", p.Quantity, p.RTOQuantity)
	}
}

func TestRTOProductLineSellsFromItsRow(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := adminContext()

	row, err := svc.AddRTOProduct(ctx, domain.RTOProductCreateRequest{ProductID: jhumkaID, Category: domain.RTOStatusRTO, Quantity: 2})
	if err != nil {
		t.Fatalf("add rto row: %v", err)
	}

	if _, err := svc.CreateSale(ctx, domain.SaleDraft{BuyerID: "buyer-walkin", Items: []domain.SaleItem{domain.RTOItem(row.ID, 3)}}); !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected row shortage, got %v", err)
	}

	sale := sell(t, svc, domain.RTOItem(row.ID, 2))
	if sale.Items[0].Type != domain.SaleItemRTOProduct || !sale.Total.Equal(decimal.NewFromInt(598)) {
		t.Fatalf("unexpected rto sale line: %+v total %s", sale.Items[0], sale.Total)
	}
	current, _ := svc.GetRTOProduct(ctx, row.ID)
	if current.Quantity != 0 {
		t.Fatalf("expected row drained, got %d", current.Quantity)
	}
	if got := quantityOf(t, svc, jhumkaID); got != 24 {
		t.Fatalf("expected jhumka back at 24, got %d", got)
	}
}

func TestRPUReturnLeavesInventoryAlone(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := adminContext()

	req := rtoReturn(jhumkaID, 2)
	req.Category = domain.ReturnCategoryRPU
	resp, err := svc.CreateReturn(ctx, req)
	if err != nil {
		t.Fatalf("create rpu return: %v", err)
	}
	if resp.ReturnID != "RET-0001" {
		t.Fatalf("expected RET-0001, got %s", resp.ReturnID)
	}
	if got := quantityOf(t, svc, jhumkaID); got != 24 {
		t.Fatalf("expected jhumka unchanged at 24, got %d", got)
	}
	rows, err := svc.ListRTOProducts(ctx, domain.RTOProductFilter{})
	if err != nil {
		t.Fatalf("list rto products: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected no ledger rows, got %d", len(rows))
	}
}

func TestRTOReturnOpensOneLedgerRow(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := adminContext()

	if _, err := svc.CreateReturn(ctx, rtoReturn(jhumkaID, 5)); err != nil {
		t.Fatalf("create rto return: %v", err)
	}
	if got := quantityOf(t, svc, jhumkaID); got != 29 {
		t.Fatalf("expected jhumka at 29, got %d", got)
	}
	rows, _ := svc.ListRTOProducts(ctx, domain.RTOProductFilter{})
	if len(rows) != 1 || rows[0].Quantity != 5 || rows[0].InitialQuantity != 5 {
		t.Fatalf("expected one row with 5 of 5, got %+v", rows)
	}
	if !rows[0].Price.Equal(decimal.NewFromInt(299)) {
		t.Fatalf("expected row priced at selling price 299, got %s", rows[0].Price)
	}
}

func TestRTOReturnRestocksAndDeleteRestores(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := adminContext()

	sell(t, svc, domain.ProductItem(kundanID, 6))

	resp, err := svc.CreateReturn(ctx, rtoReturn(kundanID, 2))
	if err != nil {
		t.Fatalf("create rto return: %v", err)
	}
	if got := quantityOf(t, svc, kundanID); got != 6 {
		t.Fatalf("expected kundan at 6 after return, got %d", got)
	}
	rows, _ := svc.ListRTOProducts(ctx, domain.RTOProductFilter{})
	if len(rows) != 1 || rows[0].ReturnID != resp.ReturnID || rows[0].Quantity != 2 {
		t.Fatalf("expected one ledger row for %s, got %+v", resp.ReturnID, rows)
	}

	if err := svc.DeleteReturn(ctx, resp.ReturnID); err != nil {
		t.Fatalf("delete return: %v", err)
	}
	if got := quantityOf(t, svc, kundanID); got != 4 {
		t.Fatalf("expected kundan back at 4, got %d", got)
	}
	rows, _ = svc.ListRTOProducts(ctx, domain.RTOProductFilter{})
	if len(rows) != 0 {
		t.Fatalf("expected ledger rows removed, got %d", len(rows))
	}
}

func TestDeleteReturnFailsOnceUnitsAreSold(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := adminContext()

	resp, err := svc.CreateReturn(ctx, rtoReturn(stoleID, 2))
	if err != nil {
		t.Fatalf("create rto return: %v", err)
	}
	sell(t, svc, domain.ProductItem(stoleID, 5))

	if err := svc.DeleteReturn(ctx, resp.ReturnID); !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	if _, err := svc.GetReturn(ctx, resp.ReturnID); err != nil {
		t.Fatalf("expected return kept after failed delete: %v", err)
	}
}

func TestPendingRTOReturnHoldsNoStockUntilProcessed(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := adminContext()

	req := rtoReturn(bangleID, 3)
	req.Status = domain.ReturnStatusPending
	resp, err := svc.CreateReturn(ctx, req)
	if err != nil {
		t.Fatalf("create pending return: %v", err)
	}
	if got := quantityOf(t, svc, bangleID); got != 8 {
		t.Fatalf("expected bangle unchanged at 8, got %d", got)
	}

	req.Status = domain.ReturnStatusProcessed
	if _, err := svc.UpdateReturn(ctx, resp.ReturnID, req); err != nil {
		t.Fatalf("process return: %v", err)
	}
	if got := quantityOf(t, svc, bangleID); got != 11 {
		t.Fatalf("expected bangle at 11 once processed, got %d", got)
	}

	next, err := svc.CreateReturn(ctx, rtoReturn(bangleID, 1))
	if err != nil {
		t.Fatalf("create second return: %v", err)
	}
	if next.ReturnID != "RET-0002" {
		t.Fatalf("expected RET-0002, got %s", next.ReturnID)
	}
}

func TestLowStockFollowsQuantity(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := adminContext()

	sell(t, svc, domain.ProductItem(kundanID, 3))
	p, _ := svc.GetProduct(ctx, kundanID)
	if p.Quantity != 7 || p.LowStock() {
		t.Fatalf("expected 7 units and not low, got %d low=%v", p.Quantity, p.LowStock())
	}

	sell(t, svc, domain.ProductItem(kundanID, 3))
	low, err := svc.ScanLowStock(ctx)
	if err != nil {
		t.Fatalf("scan low stock: %v", err)
	}
	ids := make([]string, 0, len(low))
	for _, item := range low {
		ids = append(ids, item.ID)
	}
	if !slices.Contains(ids, kundanID) || !slices.Contains(ids, stoleID) {
		t.Fatalf("expected kundan and silk stole in low stock, got %v", ids)
	}
}

func TestUpdateSalePlansAgainstRestoredStock(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := adminContext()

	sale := sell(t, svc, domain.ProductItem(stoleID, 3))
	if got := quantityOf(t, svc, stoleID); got != 0 {
		t.Fatalf("expected stole sold out, got %d", got)
	}

	updated, err := svc.UpdateSale(ctx, sale.ID, domain.SaleDraft{BuyerID: "buyer-walkin", Items: []domain.SaleItem{domain.ProductItem(stoleID, 2)}})
	if err != nil {
		t.Fatalf("update sale: %v", err)
	}
	if !updated.SaleDate.Equal(sale.SaleDate) {
		t.Fatalf("expected sale date kept, got %s", updated.SaleDate)
	}
	if got := quantityOf(t, svc, stoleID); got != 1 {
		t.Fatalf("expected stole at 1, got %d", got)
	}

	_, err = svc.UpdateSale(ctx, sale.ID, domain.SaleDraft{BuyerID: "buyer-walkin", Items: []domain.SaleItem{domain.ProductItem(stoleID, 4)}})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	if got := quantityOf(t, svc, stoleID); got != 1 {
		t.Fatalf("expected stole still at 1 after failed update, got %d", got)
	}
}

func TestUpdateSaleRestoresLedgerBeforeReplanning(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := adminContext()

	row, err := svc.AddRTOProduct(ctx, domain.RTOProductCreateRequest{ProductID: bangleID, Category: domain.RTOStatusRTO, Quantity: 2})
	if err != nil {
		t.Fatalf("add rto row: %v", err)
	}
	sale := sell(t, svc, domain.ProductItem(bangleID, 2))
	if current, _ := svc.GetRTOProduct(ctx, row.ID); current.Quantity != 0 {
		t.Fatalf("expected row drained by the product line, got %d", current.Quantity)
	}

	// Claiming the row directly only fits once the old allocation is back.
	updated, err := svc.UpdateSale(ctx, sale.ID, domain.SaleDraft{BuyerID: "buyer-walkin", Items: []domain.SaleItem{domain.RTOItem(row.ID, 2)}})
	if err != nil {
		t.Fatalf("update sale: %v", err)
	}
	if updated.Items[0].Type != domain.SaleItemRTOProduct {
		t.Fatalf("expected rto-product line, got %s", updated.Items[0].Type)
	}
	current, _ := svc.GetRTOProduct(ctx, row.ID)
	if current.Quantity != 0 {
		t.Fatalf("expected row claimed again, got %d", current.Quantity)
	}
	if got := quantityOf(t, svc, bangleID); got != 8 {
		t.Fatalf("expected bangle at 8, got %d", got)
	}

	if err := svc.DeleteSale(ctx, sale.ID); err != nil {
		t.Fatalf("delete sale: %v", err)
	}
	current, _ = svc.GetRTOProduct(ctx, row.ID)
	if current.Quantity != 2 || quantityOf(t, svc, bangleID) != 10 {
		t.Fatalf("expected row 2 and bangle 10 after delete, got %d and %d", current.Quantity, quantityOf(t, svc, bangleID))
	}
}

func TestStockRejectionsCountedOnEveryMutation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := adminContext()

	if _, err := svc.CreateSale(ctx, domain.SaleDraft{BuyerID: "buyer-walkin", Items: []domain.SaleItem{domain.ProductItem(stoleID, 9)}}); err == nil {
		t.Fatalf("expected oversell to fail")
	}
	row, err := svc.AddRTOProduct(ctx, domain.RTOProductCreateRequest{ProductID: stoleID, Category: domain.RTOStatusRTO, Quantity: 1})
	if err != nil {
		t.Fatalf("add rto row: %v", err)
	}
	if _, err := svc.TransferRTO(ctx, row.ID, 5); err == nil {
		t.Fatalf("expected transfer beyond row to fail")
	}
	resp, err := svc.CreateReturn(ctx, rtoReturn(stoleID, 1))
	if err != nil {
		t.Fatalf("create return: %v", err)
	}
	sell(t, svc, domain.ProductItem(stoleID, 5))
	if err := svc.DeleteReturn(ctx, resp.ReturnID); err == nil {
		t.Fatalf("expected return delete to fail")
	}

	if got := testutil.ToFloat64(svc.metrics.StockRejections); got != 3 {
		t.Fatalf("expected 3 stock rejections, got %v", got)
	}
}

type hookedRepo struct {
	*memory.Store
	beforeReturns func()
}

func (r *hookedRepo) ListReturns(ctx context.Context, window domain.DateRange) ([]domain.Return, error) {
	if r.beforeReturns != nil {
		r.beforeReturns()
	}
	return r.Store.ListReturns(ctx, window)
}

func TestProfitLossSkipsCacheWhenMutationLandsMidRead(t *testing.T) {
	repo := &hookedRepo{Store: memory.NewSeeded()}
	reports := cache.NewMemoryReportCache()
	svc := New(repo, Options{ReportCache: reports})
	ctx := adminContext()
	key := "pl:-:-"

	repo.beforeReturns = func() {
		svc.changed(ctx, domain.ActionCreated, "sale-x", domain.EventSalesChanged)
	}
	if _, err := svc.ProfitLoss(ctx, domain.DateRange{}); err != nil {
		t.Fatalf("profit loss: %v", err)
	}
	if _, ok, _ := reports.Get(ctx, key); ok {
		t.Fatalf("expected report computed across a mutation not to be cached")
	}

	repo.beforeReturns = nil
	if _, err := svc.ProfitLoss(ctx, domain.DateRange{}); err != nil {
		t.Fatalf("profit loss: %v", err)
	}
	if _, ok, _ := reports.Get(ctx, key); !ok {
		t.Fatalf("expected quiet report to be cached")
	}
}

func TestSaleRequiresKnownBuyer(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.CreateSale(adminContext(), domain.SaleDraft{BuyerID: "buyer-missing", Items: []domain.SaleItem{domain.ProductItem(kundanID, 1)}})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestReceivedPurchaseAddsStockAndRefreshesPrices(t *testing.T) {
	svc, events := newTestService(t)
	ctx := adminContext()

	price := decimal.NewFromInt(599)
	purchase, err := svc.CreatePurchase(ctx, domain.PurchaseRequest{
		VendorID: "vendor-default",
		Status:   domain.PurchaseStatusReceived,
		Items:    []domain.PurchaseItemRequest{{ProductID: stoleID, Quantity: 10, UnitCost: decimal.NewFromInt(250), SellingPrice: &price}},
	})
	if err != nil {
		t.Fatalf("create purchase: %v", err)
	}
	if !purchase.TotalAmount.Equal(decimal.NewFromInt(2500)) {
		t.Fatalf("expected total 2500, got %s", purchase.TotalAmount)
	}
	p, _ := svc.GetProduct(ctx, stoleID)
	if p.Quantity != 13 || !p.CostPrice.Equal(decimal.NewFromInt(250)) || !p.SellingPrice.Equal(price) {
		t.Fatalf("unexpected product after purchase: %+v", p)
	}
	if !slices.Contains(events.Names(), domain.EventPurchasesChanged) {
		t.Fatalf("expected purchases event, got %v", events.Names())
	}

	if err := svc.DeletePurchase(ctx, purchase.ID); err != nil {
		t.Fatalf("delete purchase: %v", err)
	}
	if got := quantityOf(t, svc, stoleID); got != 3 {
		t.Fatalf("expected stole back at 3, got %d", got)
	}
}

func TestScanResolvesLedgerProductAndCombo(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := adminContext()

	res, err := svc.Scan(ctx, "IM001VP0002")
	if err != nil || res.Type != domain.SaleItemProduct {
		t.Fatalf("expected product scan, got %+v err %v", res, err)
	}

	if _, err := svc.AddRTOProduct(ctx, domain.RTOProductCreateRequest{ProductID: jhumkaID, Category: domain.RTOStatusRTO, Quantity: 1}); err != nil {
		t.Fatalf("add rto row: %v", err)
	}
	res, err = svc.Scan(ctx, "IM001VP0002")
	if err != nil || res.Type != domain.SaleItemRTOProduct {
		t.Fatalf("expected ledger row to win, got %+v err %v", res, err)
	}

	res, err = svc.Scan(ctx, "CMB0001")
	if err != nil || res.Type != domain.SaleItemCombo || !res.Price.Equal(decimal.NewFromInt(1099)) {
		t.Fatalf("expected combo scan, got %+v err %v", res, err)
	}

	if _, err := svc.Scan(ctx, "NOPE0001"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCreateProductIssuesCategoryBarcode(t *testing.T) {
	svc, _ := newTestService(t)

	p, err := svc.CreateProduct(adminContext(), domain.ProductCreateRequest{Name: "Linen Scarf", CategoryID: "cat-apparel", Quantity: 4})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	if p.Barcode != "AP001VP0003" {
		t.Fatalf("expected AP001VP0003, got %s", p.Barcode)
	}

	_, err = svc.CreateProduct(adminContext(), domain.ProductCreateRequest{Name: "Dup", CategoryID: "cat-apparel", Barcode: "AP001VP0003"})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected barcode conflict, got %v", err)
	}
}

func TestNextReturnID(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	cases := []struct {
		ids  []string
		want string
	}{
		{nil, "RET-0001"},
		{[]string{"RET-0001", "RET-0009", "RET-0003"}, "RET-0010"},
		{[]string{"legacy-1"}, "RET-20260301093000"},
	}
	for _, tc := range cases {
		if got := nextReturnID(tc.ids, now); got != tc.want {
			t.Fatalf("nextReturnID(%v) = %s, want %s", tc.ids, got, tc.want)
		}
	}
}
