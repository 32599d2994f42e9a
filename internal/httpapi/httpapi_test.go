package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"shopstock/internal/domain"
	"shopstock/internal/metrics"
	"shopstock/internal/notify"
	"shopstock/internal/service"
	"shopstock/internal/store/memory"
)

const (
	testAdminPassword = "admin-pass-123"
	testStaffPassword = "staff-pass-123"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// newTestAPI builds a full API over the seeded memory store so handler tests
// exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	hub := notify.NewHub("*", logger)
	svc := service.New(memory.NewSeeded(), service.Options{Bus: hub, Metrics: m, Logger: logger})

	auth, err := NewAuthManager("test-secret-key-that-is-long-enough", time.Hour, testAdminPassword, testStaffPassword)
	if err != nil {
		t.Fatalf("auth manager: %v", err)
	}

	api, err := New(Options{
		Service:        svc,
		Auth:           auth,
		Hub:            hub,
		Metrics:        m,
		Gatherer:       reg,
		AllowedOrigin:  "http://127.0.0.1:3000",
		LoginRateLimit: "5-M",
		Logger:         logger,
	})
	if err != nil {
		t.Fatalf("new api: %v", err)
	}
	return api
}

func login(t *testing.T, api *API, username string, password string) string {
	t.Helper()

	rec := doJSON(t, api, http.MethodPost, "/api/auth/login", "", domain.LoginRequest{Username: username, Password: password})
	if rec.Code != http.StatusOK {
		t.Fatalf("%s login failed, status %d: %s", username, rec.Code, rec.Body.String())
	}
	var payload domain.LoginResponse
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("decode login response failed: %v", err)
	}
	if strings.TrimSpace(payload.AccessToken) == "" {
		t.Fatalf("expected access token in login response")
	}
	return payload.AccessToken
}

func doJSON(t *testing.T, api *API, method string, path string, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return body
}

func TestHealthSetsSecurityHeaders(t *testing.T) {
	api := newTestAPI(t)
	rec := doJSON(t, api, http.MethodGet, "/healthz", "", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("expected X-Content-Type-Options nosniff, got %q", got)
	}
	if got := rec.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Fatalf("expected X-Frame-Options DENY, got %q", got)
	}
	if body := decodeBody(t, rec); body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	api := newTestAPI(t)
	rec := doJSON(t, api, http.MethodPost, "/api/auth/login", "", domain.LoginRequest{Username: "admin", Password: "wrong-pass"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestLoginRateLimitReturns429(t *testing.T) {
	api := newTestAPI(t)
	body, _ := json.Marshal(domain.LoginRequest{Username: "admin", Password: "wrong-pass"})

	for i := 0; i < 6; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "192.0.2.1:1234"
		rec := httptest.NewRecorder()
		api.Handler().ServeHTTP(rec, req)

		if i < 5 && rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d expected 401 before limit, got %d", i+1, rec.Code)
		}
		if i == 5 && rec.Code != http.StatusTooManyRequests {
			t.Fatalf("attempt 6 expected 429, got %d", rec.Code)
		}
	}
}

func TestJSONBodyTooLargeRejected(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "admin", testAdminPassword)
	body := `{"name":"` + strings.Repeat("a", (1<<20)+1024) + `","prefix":"ZZ"}`

	rec := doJSON(t, api, http.MethodPost, "/api/categories", token, body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for too large body, got %d", rec.Code)
	}
}

func TestProductsRequireAuth(t *testing.T) {
	api := newTestAPI(t)
	rec := doJSON(t, api, http.MethodGet, "/api/products", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestStaffCannotDelete(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "staff", testStaffPassword)

	if rec := doJSON(t, api, http.MethodGet, "/api/products", token, nil); rec.Code != http.StatusOK {
		t.Fatalf("expected staff to list products, got %d", rec.Code)
	}
	if rec := doJSON(t, api, http.MethodDelete, "/api/products/prod-IM001VP-0001", token, nil); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for staff delete, got %d", rec.Code)
	}
}

func TestCreateSaleDeductsStock(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "staff", testStaffPassword)

	rec := doJSON(t, api, http.MethodPost, "/api/sales", token, map[string]any{
		"buyer": "buyer-walkin",
		"items": []map[string]any{
			{"type": "product", "product": "prod-IM001VP-0001", "quantity": 3},
			{"type": "combo", "combo": "combo-bridal", "quantity": 1},
		},
		"discount": 100,
		"total":    1, // recomputed server side
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	sale := decodeBody(t, rec)
	// 3 x 899 + 1099 - 100
	if sale["total"] != float64(3696) {
		t.Fatalf("expected total 3696, got %v", sale["total"])
	}
	buyer, _ := sale["buyer"].(map[string]any)
	if buyer["id"] != "buyer-walkin" || buyer["name"] != "Walk-in Customer" {
		t.Fatalf("expected populated buyer, got %v", sale["buyer"])
	}

	rec = doJSON(t, api, http.MethodGet, "/api/products/prod-IM001VP-0001", token, nil)
	product := decodeBody(t, rec)
	if product["quantity"] != float64(6) {
		t.Fatalf("expected quantity 10-3-1=6, got %v", product["quantity"])
	}
}

func TestCreateSaleInsufficientStockReportsDetail(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "staff", testStaffPassword)

	rec := doJSON(t, api, http.MethodPost, "/api/sales", token, map[string]any{
		"buyer": "buyer-walkin",
		"items": []map[string]any{{"type": "product", "product": "prod-AP001VP-0002", "quantity": 5}},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["name"] != "Silk Stole" || body["required"] != float64(5) || body["available"] != float64(3) {
		t.Fatalf("unexpected stock error body: %v", body)
	}
}

func TestCreateSaleRejectsMixedReference(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "staff", testStaffPassword)

	rec := doJSON(t, api, http.MethodPost, "/api/sales", token, map[string]any{
		"buyer": "buyer-walkin",
		"items": []map[string]any{{"type": "product", "product": "prod-IM001VP-0001", "combo": "combo-bridal", "quantity": 1}},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	fields, ok := body["errors"].(map[string]any)
	if !ok || fields["items[0].combo"] == nil {
		t.Fatalf("expected field error on items[0].combo, got %v", body)
	}
}

func TestCreateSaleRejectsHugeQuantity(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "staff", testStaffPassword)

	rec := doJSON(t, api, http.MethodPost, "/api/sales", token, map[string]any{
		"buyer": "buyer-walkin",
		"items": []map[string]any{{"type": "combo", "combo": "combo-bridal", "quantity": int64(1)<<62 + 1}},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
	fields, ok := decodeBody(t, rec)["errors"].(map[string]any)
	if !ok || fields["items[0].quantity"] == nil {
		t.Fatalf("expected field error on items[0].quantity, got %s", rec.Body.String())
	}
}

func TestScanCombo(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "staff", testStaffPassword)

	rec := doJSON(t, api, http.MethodPost, "/api/sales/scan", token, domain.ScanRequest{Barcode: "CMB0001"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if body := decodeBody(t, rec); body["type"] != string(domain.SaleItemCombo) {
		t.Fatalf("expected combo scan, got %v", body["type"])
	}

	rec = doJSON(t, api, http.MethodPost, "/api/sales/scan", token, domain.ScanRequest{Barcode: "NOPE"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown barcode, got %d", rec.Code)
	}
}

func TestCreateReturnRestocks(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "staff", testStaffPassword)

	rec := doJSON(t, api, http.MethodPost, "/api/returns", token, map[string]any{
		"category":     "RTO",
		"customerName": "Asha",
		"items":        []map[string]any{{"product": "prod-IM001VP-0003", "quantity": 2}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["returnId"] != "RET-0001" {
		t.Fatalf("expected RET-0001, got %v", body["returnId"])
	}

	rec = doJSON(t, api, http.MethodGet, "/api/rto-products?category=RTO", token, nil)
	rows, _ := decodeBody(t, rec)["rtoProducts"].([]any)
	if len(rows) != 1 {
		t.Fatalf("expected one ledger row, got %d", len(rows))
	}
}

func TestRTOListRejectsBadDate(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "staff", testStaffPassword)

	rec := doJSON(t, api, http.MethodGet, "/api/rto-products?startDate=yesterday", token, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestExportProfitLossReturnsWorkbook(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "admin", testAdminPassword)

	rec := doJSON(t, api, http.MethodGet, "/api/reports/profit-loss/export?startDate=2020-01-01", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); !strings.HasPrefix(got, "application/vnd.openxmlformats") {
		t.Fatalf("unexpected content type %q", got)
	}
	if !strings.HasPrefix(rec.Body.String(), "PK") {
		t.Fatalf("expected zip payload")
	}
}

func TestEventsRequireToken(t *testing.T) {
	api := newTestAPI(t)
	rec := doJSON(t, api, http.MethodGet, "/api/events/ws", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	api := newTestAPI(t)
	doJSON(t, api, http.MethodGet, "/healthz", "", nil)

	rec := doJSON(t, api, http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "http_requests_total") {
		t.Fatalf("expected http_requests_total in metrics output")
	}
}
