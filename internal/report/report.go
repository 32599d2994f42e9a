package report

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"shopstock/internal/domain"
)

const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

var ErrInvalidSheet = errors.New("invalid spreadsheet")

const profitLossSheet = "Profit and Loss"

// WriteProfitLoss renders a summary block followed by the per-product lines.
func WriteProfitLoss(w io.Writer, pl *domain.ProfitLoss) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", profitLossSheet); err != nil {
		return err
	}

	period := "all time"
	if pl.From != nil || pl.To != nil {
		period = fmt.Sprintf("%s to %s", formatDate(pl.From), formatDate(pl.To))
	}
	summary := [][]any{
		{"Period", period},
		{"Sales", pl.Sales},
		{"Revenue", pl.Revenue.InexactFloat64()},
		{"Cost of goods", pl.CostOfGoods.InexactFloat64()},
		{"Gross profit", pl.GrossProfit.InexactFloat64()},
		{"RPU write-off", pl.RPUWriteOff.InexactFloat64()},
		{"Net profit", pl.NetProfit.InexactFloat64()},
	}
	for i, row := range summary {
		if err := f.SetSheetRow(profitLossSheet, "A"+strconv.Itoa(i+1), &row); err != nil {
			return err
		}
	}

	start := len(summary) + 2
	header := []any{"Product", "Name", "Quantity", "Revenue", "Cost", "Profit"}
	if err := f.SetSheetRow(profitLossSheet, "A"+strconv.Itoa(start), &header); err != nil {
		return err
	}
	for i, line := range pl.Lines {
		row := []any{
			line.ProductID,
			line.Name,
			line.Quantity,
			line.Revenue.InexactFloat64(),
			line.Cost.InexactFloat64(),
			line.Profit.InexactFloat64(),
		}
		if err := f.SetSheetRow(profitLossSheet, "A"+strconv.Itoa(start+i+1), &row); err != nil {
			return err
		}
	}

	return f.Write(w)
}

func formatDate(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format("2006-01-02")
}

// ReconcileInput is one marketplace settlement row: barcode, quantity and the
// amount actually received.
type ReconcileInput struct {
	Row        int
	Barcode    string
	Quantity   int
	SaleAmount decimal.Decimal
}

// ReadReconcileSheet reads the first sheet with columns
// barcode | quantity | sale amount. The header row and blank rows are skipped.
func ReadReconcileSheet(r io.Reader) ([]ReconcileInput, error) {
	rows, err := firstSheetRows(r)
	if err != nil {
		return nil, err
	}

	out := make([]ReconcileInput, 0, len(rows))
	for i, cols := range rows {
		if i == 0 || blank(cols) {
			continue
		}
		rowNo := i + 1
		in := ReconcileInput{Row: rowNo, Barcode: cell(cols, 0), Quantity: 1}
		if in.Barcode == "" {
			return nil, fmt.Errorf("%w: row %d: barcode is empty", ErrInvalidSheet, rowNo)
		}
		if raw := cell(cols, 1); raw != "" {
			qty, err := strconv.Atoi(raw)
			if err != nil || qty < 1 {
				return nil, fmt.Errorf("%w: row %d: quantity %q", ErrInvalidSheet, rowNo, raw)
			}
			in.Quantity = qty
		}
		amount, err := parseAmount(cell(cols, 2))
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: sale amount: %v", ErrInvalidSheet, rowNo, err)
		}
		in.SaleAmount = amount
		out = append(out, in)
	}
	return out, nil
}

// ReadProductSheet reads name | category prefix | cost | selling | quantity |
// minQuantity. Rows that fail to parse are reported in the second slice and
// do not stop the import.
func ReadProductSheet(r io.Reader) ([]domain.ProductImportRow, []domain.ImportResult, error) {
	rows, err := firstSheetRows(r)
	if err != nil {
		return nil, nil, err
	}

	var (
		parsed []domain.ProductImportRow
		failed []domain.ImportResult
	)
	for i, cols := range rows {
		if i == 0 || blank(cols) {
			continue
		}
		rowNo := i + 1
		row, err := parseProductRow(rowNo, cols)
		if err != nil {
			failed = append(failed, domain.ImportResult{Row: rowNo, Error: err.Error()})
			continue
		}
		parsed = append(parsed, row)
	}
	return parsed, failed, nil
}

func parseProductRow(rowNo int, cols []string) (domain.ProductImportRow, error) {
	row := domain.ProductImportRow{
		Row:          rowNo,
		Name:         cell(cols, 0),
		CategoryCode: strings.ToUpper(cell(cols, 1)),
	}
	if row.Name == "" {
		return row, errors.New("name is empty")
	}
	if row.CategoryCode == "" {
		return row, errors.New("category prefix is empty")
	}
	var err error
	if row.CostPrice, err = parseAmount(cell(cols, 2)); err != nil {
		return row, fmt.Errorf("cost: %w", err)
	}
	if row.SellingPrice, err = parseAmount(cell(cols, 3)); err != nil {
		return row, fmt.Errorf("selling price: %w", err)
	}
	if row.Quantity, err = parseCount(cell(cols, 4)); err != nil {
		return row, fmt.Errorf("quantity: %w", err)
	}
	if row.MinQuantity, err = parseCount(cell(cols, 5)); err != nil {
		return row, fmt.Errorf("min quantity: %w", err)
	}
	return row, nil
}

func firstSheetRows(r io.Reader) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSheet, err)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	if sheet == "" {
		return nil, fmt.Errorf("%w: workbook has no sheets", ErrInvalidSheet)
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSheet, err)
	}
	return rows, nil
}

func cell(cols []string, i int) string {
	if i >= len(cols) {
		return ""
	}
	return strings.TrimSpace(cols[i])
}

func blank(cols []string) bool {
	for _, c := range cols {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func parseAmount(raw string) (decimal.Decimal, error) {
	raw = strings.ReplaceAll(raw, ",", "")
	if raw == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, err
	}
	if d.IsNegative() {
		return decimal.Zero, errors.New("must not be negative")
	}
	return d, nil
}

func parseCount(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, errors.New("must not be negative")
	}
	return n, nil
}
