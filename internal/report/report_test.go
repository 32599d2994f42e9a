package report

import (
	"bytes"
	"errors"
	"strconv"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"shopstock/internal/domain"
)

func workbook(t *testing.T, rows [][]any) *bytes.Buffer {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for i, row := range rows {
		if err := f.SetSheetRow("Sheet1", "A"+strconv.Itoa(i+1), &row); err != nil {
			t.Fatalf("set row: %v", err)
		}
	}
	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		t.Fatalf("write workbook: %v", err)
	}
	return &buf
}

func TestWriteProfitLoss(t *testing.T) {
	pl := &domain.ProfitLoss{
		Sales:       2,
		Revenue:     decimal.NewFromInt(1798),
		CostOfGoods: decimal.NewFromInt(900),
		GrossProfit: decimal.NewFromInt(898),
		NetProfit:   decimal.NewFromInt(898),
		Lines: []domain.ProfitLossLine{{
			ProductID: "prod-1",
			Name:      "Kundan Necklace Set",
			Quantity:  2,
			Revenue:   decimal.NewFromInt(1798),
			Cost:      decimal.NewFromInt(900),
			Profit:    decimal.NewFromInt(898),
		}},
	}

	var buf bytes.Buffer
	if err := WriteProfitLoss(&buf, pl); err != nil {
		t.Fatalf("write: %v", err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	if got, _ := f.GetCellValue(profitLossSheet, "A1"); got != "Period" {
		t.Fatalf("expected summary header, got %q", got)
	}
	if got, _ := f.GetCellValue(profitLossSheet, "B1"); got != "all time" {
		t.Fatalf("expected all time period, got %q", got)
	}
	if got, _ := f.GetCellValue(profitLossSheet, "B10"); got != "Kundan Necklace Set" {
		t.Fatalf("expected product line name, got %q", got)
	}
	if got, _ := f.GetCellValue(profitLossSheet, "F10"); got != "898" {
		t.Fatalf("expected profit 898, got %q", got)
	}
}

func TestReadReconcileSheet(t *testing.T) {
	buf := workbook(t, [][]any{
		{"barcode", "quantity", "sale amount"},
		{"IM001VP0001", 2, "1,500.50"},
		{},
		{"CMB0001", "", 999},
	})

	rows, err := ReadReconcileSheet(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].Barcode != "IM001VP0001" || rows[0].Quantity != 2 || !rows[0].SaleAmount.Equal(decimal.RequireFromString("1500.50")) {
		t.Fatalf("unexpected first row: %+v", rows[0])
	}
	if rows[1].Row != 4 || rows[1].Quantity != 1 {
		t.Fatalf("expected default quantity on row 4, got %+v", rows[1])
	}
}

func TestReadReconcileSheetRejectsBadQuantity(t *testing.T) {
	buf := workbook(t, [][]any{
		{"barcode", "quantity", "sale amount"},
		{"IM001VP0001", "two", 10},
	})
	if _, err := ReadReconcileSheet(buf); !errors.Is(err, ErrInvalidSheet) {
		t.Fatalf("expected ErrInvalidSheet, got %v", err)
	}
}

func TestReadProductSheetCollectsRowErrors(t *testing.T) {
	buf := workbook(t, [][]any{
		{"name", "category", "cost", "selling", "quantity", "min"},
		{"Temple Earrings", "im001vp", 150, 349, 12, 3},
		{"", "IM001VP", 1, 2, 3, 4},
		{"Anklet", "IM001VP", "abc", 2, 3, 4},
	})

	rows, failed, err := ReadProductSheet(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(rows) != 1 || rows[0].CategoryCode != "IM001VP" || rows[0].Quantity != 12 {
		t.Fatalf("unexpected parsed rows: %+v", rows)
	}
	if len(failed) != 2 || failed[0].Row != 3 || failed[1].Row != 4 {
		t.Fatalf("unexpected failures: %+v", failed)
	}
}

func TestReadRejectsGarbage(t *testing.T) {
	if _, _, err := ReadProductSheet(bytes.NewBufferString("not a workbook")); !errors.Is(err, ErrInvalidSheet) {
		t.Fatalf("expected ErrInvalidSheet, got %v", err)
	}
}
