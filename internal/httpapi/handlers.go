package httpapi

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"shopstock/internal/domain"
	"shopstock/internal/report"
	"shopstock/internal/store"
)

const dateOnly = "2006-01-02"

func (a *API) handleListCategories(c *gin.Context) {
	categories, err := a.service.ListCategories(c.Request.Context())
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"categories": categories})
}

func (a *API) handleGetCategory(c *gin.Context) {
	category, err := a.service.GetCategory(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, category)
}

func (a *API) handleCreateCategory(c *gin.Context) {
	var req domain.CategoryRequest
	if !bindJSON(c, &req) {
		return
	}
	category, err := a.service.CreateCategory(c.Request.Context(), req)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, category)
}

func (a *API) handleUpdateCategory(c *gin.Context) {
	var req domain.CategoryRequest
	if !bindJSON(c, &req) {
		return
	}
	category, err := a.service.UpdateCategory(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, category)
}

func (a *API) handleDeleteCategory(c *gin.Context) {
	if err := a.service.DeleteCategory(c.Request.Context(), c.Param("id")); err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "category deleted"})
}

func (a *API) handleListProducts(c *gin.Context) {
	products, err := a.service.ListProducts(c.Request.Context(), domain.ProductFilter{
		CategoryID: c.Query("category"),
		Search:     c.Query("search"),
	})
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": products})
}

func (a *API) handleLowStock(c *gin.Context) {
	products, err := a.service.LowStockProducts(c.Request.Context())
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": products})
}

func (a *API) handleProductByBarcode(c *gin.Context) {
	product, err := a.service.GetProductByBarcode(c.Request.Context(), c.Param("barcode"))
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

func (a *API) handleGetProduct(c *gin.Context) {
	product, err := a.service.GetProduct(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

func (a *API) handleCreateProduct(c *gin.Context) {
	var req domain.ProductCreateRequest
	if !bindJSON(c, &req) {
		return
	}
	product, err := a.service.CreateProduct(c.Request.Context(), req)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, product)
}

func (a *API) handleUpdateProduct(c *gin.Context) {
	var req domain.ProductUpdateRequest
	if !bindJSON(c, &req) {
		return
	}
	product, err := a.service.UpdateProduct(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

func (a *API) handleDeleteProduct(c *gin.Context) {
	if err := a.service.DeleteProduct(c.Request.Context(), c.Param("id")); err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "product deleted"})
}

func (a *API) handleImportProducts(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		abort(c, http.StatusBadRequest, "file is required")
		return
	}
	f, err := header.Open()
	if err != nil {
		a.writeError(c, err)
		return
	}
	defer f.Close()

	rows, failed, err := report.ReadProductSheet(f)
	if err != nil {
		a.writeError(c, err)
		return
	}
	results := a.service.ImportProducts(c.Request.Context(), rows, failed)

	imported := 0
	for _, r := range results {
		if r.Error == "" {
			imported++
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"imported": imported,
		"failed":   len(results) - imported,
		"results":  results,
	})
}

func (a *API) handleListCombos(c *gin.Context) {
	combos, err := a.service.ListCombos(c.Request.Context())
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"combos": combos})
}

func (a *API) handleGetCombo(c *gin.Context) {
	combo, err := a.service.GetCombo(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, combo)
}

func (a *API) handleCreateCombo(c *gin.Context) {
	var req domain.ComboRequest
	if !bindJSON(c, &req) {
		return
	}
	combo, err := a.service.CreateCombo(c.Request.Context(), req)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, combo)
}

func (a *API) handleUpdateCombo(c *gin.Context) {
	var req domain.ComboRequest
	if !bindJSON(c, &req) {
		return
	}
	combo, err := a.service.UpdateCombo(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, combo)
}

func (a *API) handleDeleteCombo(c *gin.Context) {
	if err := a.service.DeleteCombo(c.Request.Context(), c.Param("id")); err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "combo deleted"})
}

func (a *API) handleListParties(kind store.PartyKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		parties, err := a.service.ListParties(c.Request.Context(), kind)
		if err != nil {
			a.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{string(kind): parties})
	}
}

func (a *API) handleGetParty(kind store.PartyKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		party, err := a.service.GetParty(c.Request.Context(), kind, c.Param("id"))
		if err != nil {
			a.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, party)
	}
}

func (a *API) handleCreateParty(kind store.PartyKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req domain.PartyRequest
		if !bindJSON(c, &req) {
			return
		}
		party, err := a.service.CreateParty(c.Request.Context(), kind, req)
		if err != nil {
			a.writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, party)
	}
}

func (a *API) handleUpdateParty(kind store.PartyKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req domain.PartyRequest
		if !bindJSON(c, &req) {
			return
		}
		party, err := a.service.UpdateParty(c.Request.Context(), kind, c.Param("id"), req)
		if err != nil {
			a.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, party)
	}
}

func (a *API) handleDeleteParty(kind store.PartyKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := a.service.DeleteParty(c.Request.Context(), kind, c.Param("id")); err != nil {
			a.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": strings.TrimSuffix(string(kind), "s") + " deleted"})
	}
}

func (a *API) handleListPurchases(c *gin.Context) {
	window, err := parseDateRange(c)
	if err != nil {
		a.writeError(c, err)
		return
	}
	purchases, err := a.service.ListPurchases(c.Request.Context(), window)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"purchases": purchases})
}

func (a *API) handleGetPurchase(c *gin.Context) {
	purchase, err := a.service.GetPurchase(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, purchase)
}

func (a *API) handleCreatePurchase(c *gin.Context) {
	var req domain.PurchaseRequest
	if !bindJSON(c, &req) {
		return
	}
	purchase, err := a.service.CreatePurchase(c.Request.Context(), req)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, purchase)
}

func (a *API) handleUpdatePurchase(c *gin.Context) {
	var req domain.PurchaseRequest
	if !bindJSON(c, &req) {
		return
	}
	purchase, err := a.service.UpdatePurchase(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, purchase)
}

func (a *API) handleDeletePurchase(c *gin.Context) {
	if err := a.service.DeletePurchase(c.Request.Context(), c.Param("id")); err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "purchase deleted"})
}

func (a *API) handleListSales(c *gin.Context) {
	window, err := parseDateRange(c)
	if err != nil {
		a.writeError(c, err)
		return
	}
	sales, err := a.service.ListSales(c.Request.Context(), domain.SaleFilter{
		BuyerID:   c.Query("buyer"),
		DateRange: window,
	})
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sales": sales})
}

func (a *API) handleGetSale(c *gin.Context) {
	sale, err := a.service.GetSale(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.writeError(c, err)
		return
	}
	a.writeSale(c, http.StatusOK, sale)
}

func (a *API) handleCreateSale(c *gin.Context) {
	draft, ok := a.bindSale(c)
	if !ok {
		return
	}
	sale, err := a.service.CreateSale(c.Request.Context(), draft)
	if err != nil {
		a.writeError(c, err)
		return
	}
	a.writeSale(c, http.StatusCreated, sale)
}

func (a *API) handleUpdateSale(c *gin.Context) {
	draft, ok := a.bindSale(c)
	if !ok {
		return
	}
	sale, err := a.service.UpdateSale(c.Request.Context(), c.Param("id"), draft)
	if err != nil {
		a.writeError(c, err)
		return
	}
	a.writeSale(c, http.StatusOK, sale)
}

func (a *API) writeSale(c *gin.Context, status int, sale *domain.Sale) {
	detail, err := a.service.PopulateSale(c.Request.Context(), sale)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(status, detail)
}

func (a *API) bindSale(c *gin.Context) (domain.SaleDraft, bool) {
	var req domain.SaleRequest
	if !bindJSON(c, &req) {
		return domain.SaleDraft{}, false
	}
	draft, err := req.Draft()
	if err != nil {
		a.writeError(c, err)
		return domain.SaleDraft{}, false
	}
	return draft, true
}

func (a *API) handleDeleteSale(c *gin.Context) {
	if err := a.service.DeleteSale(c.Request.Context(), c.Param("id")); err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "sale deleted and inventory restored"})
}

func (a *API) handleScan(c *gin.Context) {
	var req domain.ScanRequest
	if !bindJSON(c, &req) {
		return
	}
	result, err := a.service.Scan(c.Request.Context(), strings.TrimSpace(req.Barcode))
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (a *API) handleListReturns(c *gin.Context) {
	window, err := parseDateRange(c)
	if err != nil {
		a.writeError(c, err)
		return
	}
	returns, err := a.service.ListReturns(c.Request.Context(), window)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"returns": returns})
}

func (a *API) handleGetReturn(c *gin.Context) {
	ret, err := a.service.GetReturn(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ret)
}

func (a *API) handleCreateReturn(c *gin.Context) {
	var req domain.ReturnRequest
	if !bindJSON(c, &req) {
		return
	}
	resp, err := a.service.CreateReturn(c.Request.Context(), req)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (a *API) handleUpdateReturn(c *gin.Context) {
	var req domain.ReturnRequest
	if !bindJSON(c, &req) {
		return
	}
	resp, err := a.service.UpdateReturn(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (a *API) handleDeleteReturn(c *gin.Context) {
	if err := a.service.DeleteReturn(c.Request.Context(), c.Param("id")); err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "return deleted"})
}

func (a *API) handleListRTO(c *gin.Context) {
	window, err := parseDateRange(c)
	if err != nil {
		a.writeError(c, err)
		return
	}
	rows, err := a.service.ListRTOProducts(c.Request.Context(), domain.RTOProductFilter{
		Category:  c.Query("category"),
		Status:    c.Query("status"),
		Search:    c.Query("search"),
		StartDate: window.From,
		EndDate:   window.To,
	})
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rtoProducts": rows})
}

func (a *API) handleGetRTO(c *gin.Context) {
	row, err := a.service.GetRTOProduct(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, row)
}

func (a *API) handleAddRTO(c *gin.Context) {
	var req domain.RTOProductCreateRequest
	if !bindJSON(c, &req) {
		return
	}
	row, err := a.service.AddRTOProduct(c.Request.Context(), req)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, row)
}

func (a *API) handleRTOStatus(c *gin.Context) {
	var req domain.RTOStatusRequest
	if !bindJSON(c, &req) {
		return
	}
	row, err := a.service.SetRTOStatus(c.Request.Context(), c.Param("id"), req.Status)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, row)
}

func (a *API) handleTransferRTO(c *gin.Context) {
	var req domain.RTOTransferRequest
	if !bindJSON(c, &req) {
		return
	}
	row, err := a.service.TransferRTO(c.Request.Context(), c.Param("id"), req.Quantity)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, row)
}

func (a *API) handleDeleteRTO(c *gin.Context) {
	if err := a.service.DeleteRTOProduct(c.Request.Context(), c.Param("id")); err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "rto product deleted"})
}

func (a *API) handleProfitLoss(c *gin.Context) {
	window, err := parseDateRange(c)
	if err != nil {
		a.writeError(c, err)
		return
	}
	pl, err := a.service.ProfitLoss(c.Request.Context(), window)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, pl)
}

func (a *API) handleExportProfitLoss(c *gin.Context) {
	window, err := parseDateRange(c)
	if err != nil {
		a.writeError(c, err)
		return
	}
	pl, err := a.service.ProfitLoss(c.Request.Context(), window)
	if err != nil {
		a.writeError(c, err)
		return
	}

	var buf bytes.Buffer
	if err := report.WriteProfitLoss(&buf, pl); err != nil {
		a.writeError(c, err)
		return
	}
	filename := fmt.Sprintf("profit-loss-%s.xlsx", time.Now().UTC().Format("20060102"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, report.ContentType, buf.Bytes())
}

func (a *API) handleReconcile(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		abort(c, http.StatusBadRequest, "file is required")
		return
	}
	f, err := header.Open()
	if err != nil {
		a.writeError(c, err)
		return
	}
	defer f.Close()

	rows, err := report.ReadReconcileSheet(f)
	if err != nil {
		a.writeError(c, err)
		return
	}
	result, err := a.service.ReconcileProfitLoss(c.Request.Context(), rows)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// parseDateRange reads startDate and endDate as RFC 3339 timestamps or plain
// dates. A plain endDate covers the whole day.
func parseDateRange(c *gin.Context) (domain.DateRange, error) {
	var window domain.DateRange
	from, err := parseDate(c.Query("startDate"), false)
	if err != nil {
		return window, fmt.Errorf("%w: startDate: %v", store.ErrValidation, err)
	}
	to, err := parseDate(c.Query("endDate"), true)
	if err != nil {
		return window, fmt.Errorf("%w: endDate: %v", store.ErrValidation, err)
	}
	if from != nil && to != nil && to.Before(*from) {
		return window, fmt.Errorf("%w: endDate is before startDate", store.ErrValidation)
	}
	window.From, window.To = from, to
	return window, nil
}

func parseDate(raw string, endOfDay bool) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		t = t.UTC()
		return &t, nil
	}
	t, err := time.Parse(dateOnly, raw)
	if err != nil {
		return nil, fmt.Errorf("expected YYYY-MM-DD or RFC 3339, got %q", raw)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}
