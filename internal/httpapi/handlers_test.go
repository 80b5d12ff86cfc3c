package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"myduka/backend/internal/domain"
	"myduka/backend/internal/report"
	"myduka/backend/internal/service"
	"myduka/backend/internal/store/memory"
)

const testSecret = "test-secret-key-with-at-least-32-chars"

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path. It seeds
// the account admin/admin123.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.New()
	err := repo.CreateUser(context.Background(), domain.UserAccount{
		Username: "admin",
		Email:    "admin@example.com",
		Password: mustHashPassword(t, "admin123"),
	})
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}

	reports := report.NewEngine(repo, nil, time.Minute, time.UTC)
	svc := service.New(repo, reports, time.UTC)
	auth := NewAuthManager(testSecret, time.Hour, repo)

	return New(svc, auth, "*")
}

// mustHashPassword generates a bcrypt hash of the given password or fails the test.
func mustHashPassword(t *testing.T, plain string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	return string(hash)
}

// doJSON sends payload as JSON with the bearer token when one is given.
func doJSON(t *testing.T, handler http.Handler, method string, path string, token string, payload any) *httptest.ResponseRecorder {
	t.Helper()

	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode body: %v (body: %s)", err, rec.Body.String())
	}
	return out
}

// seedSoap creates Soap (cost 10, price 15) with batches of 5 and 3 units.
func seedSoap(t *testing.T, handler http.Handler, token string) string {
	t.Helper()

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/products", token, map[string]any{
		"name":  "Soap",
		"cost":  "10",
		"price": "15",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create product: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	created := decodeBody[domain.ProductMutationResponse](t, rec)

	day1 := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	for i, qty := range []int{5, 3} {
		at := day1.AddDate(0, 0, i)
		rec := doJSON(t, handler, http.MethodPost, "/api/v1/stock", token, domain.StockAddRequest{
			ProductID:   created.Product.ID,
			Quantity:    qty,
			RestockedAt: &at,
		})
		if rec.Code != http.StatusCreated {
			t.Fatalf("add stock: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
		}
	}
	return created.Product.ID
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLogin_Success(t *testing.T) {
	api := newTestAPI(t)

	rec := doJSON(t, api.Handler(), http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"username": "admin",
		"password": "admin123",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	body := decodeBody[map[string]any](t, rec)
	if body["access_token"] == "" || body["access_token"] == nil {
		t.Fatalf("expected access_token in response, got %v", body)
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	api := newTestAPI(t)

	rec := doJSON(t, api.Handler(), http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"username": "admin",
		"password": "wrongpassword",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	body := decodeBody[map[string]string](t, rec)
	if body["error"] != "Invalid username or password." {
		t.Fatalf("unexpected error message %q", body["error"])
	}
}

func TestHandleRegisterThenLogin(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/auth/register", "", domain.RegisterRequest{
		Username:        "wanjiku",
		Email:           "wanjiku@example.com",
		Password:        "s3cret-pass",
		ConfirmPassword: "s3cret-pass",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/auth/register", "", domain.RegisterRequest{
		Username:        "wanjiku",
		Email:           "other@example.com",
		Password:        "s3cret-pass",
		ConfirmPassword: "s3cret-pass",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate username, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/auth/register", "", domain.RegisterRequest{
		Username:        "otieno",
		Email:           "otieno@example.com",
		Password:        "one",
		ConfirmPassword: "two",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for password mismatch, got %d", rec.Code)
	}

	long := strings.Repeat("p", 100)
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/auth/register", "", domain.RegisterRequest{
		Username:        "njeri",
		Email:           "njeri@example.com",
		Password:        long,
		ConfirmPassword: long,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for overlong password, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{
		Username: "wanjiku",
		Password: "s3cret-pass",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected login of new account to succeed, got %d", rec.Code)
	}
}

func TestHandleProducts_RequiresAuth(t *testing.T) {
	api := newTestAPI(t)

	for _, path := range []string{"/api/v1/products", "/api/v1/sales", "/api/v1/dashboard", "/api/v1/stock", "/api/v1/customers"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		api.Handler().ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", path, rec.Code)
		}
	}

	rec := doJSON(t, api.Handler(), http.MethodGet, "/api/v1/products", "not-a-token", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for garbage token, got %d", rec.Code)
	}
}

func TestHandleProducts_WithValidToken(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAsAdmin(t, api)
	productID := seedSoap(t, handler, token)

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/products", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	body := decodeBody[struct {
		Products []domain.ProductWithStock `json:"products"`
	}](t, rec)
	if len(body.Products) != 1 || body.Products[0].ID != productID || body.Products[0].Stock != 8 {
		t.Fatalf("unexpected products: %+v", body.Products)
	}
	if body.Products[0].PriceCents != 1500 {
		t.Fatalf("expected price 1500 cents, got %d", body.Products[0].PriceCents)
	}
}

func TestHandleProductValidationAndNotFound(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAsAdmin(t, api)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/products", token, map[string]any{
		"name":  "Soap",
		"cost":  "10.001",
		"price": "15",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for sub-cent cost, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodPatch, "/api/v1/products/prod-missing", token, map[string]any{"name": "x"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/products", token, map[string]any{
		"name":    "Soap",
		"cost":    "1",
		"price":   "2",
		"unknown": true,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", rec.Code)
	}
}

func TestRecordSaleContract(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAsAdmin(t, api)
	productID := seedSoap(t, handler, token)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/sales", token, domain.RecordSaleRequest{
		Items: []domain.SaleLine{{ProductID: productID, Quantity: 6}},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	result := decodeBody[domain.RecordSaleResult](t, rec)
	if !result.Success || result.SaleID == "" {
		t.Fatalf("unexpected result: %+v", result)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/sales/"+result.SaleID, token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get sale: expected 200, got %d", rec.Code)
	}
	got := decodeBody[struct {
		Sale domain.Sale `json:"sale"`
	}](t, rec)
	if got.Sale.TotalAmountCents != 9000 || got.Sale.TotalProfitCents != 3000 || len(got.Sale.Items) != 1 {
		t.Fatalf("unexpected sale: %+v", got.Sale)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/sales", token, domain.RecordSaleRequest{
		Items: []domain.SaleLine{{ProductID: productID, Quantity: 3}},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for insufficient stock, got %d", rec.Code)
	}
	failed := decodeBody[domain.RecordSaleResult](t, rec)
	if failed.Success || failed.Message != "Insufficient stock for Soap. Available: 2" {
		t.Fatalf("unexpected failure result: %+v", failed)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/sales", token, map[string]any{"items": "nope"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed body, got %d", rec.Code)
	}
	malformed := decodeBody[domain.RecordSaleResult](t, rec)
	if malformed.Success || malformed.Message == "" {
		t.Fatalf("expected failure contract for malformed body, got %+v", malformed)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/sales", token, domain.RecordSaleRequest{})
	empty := decodeBody[domain.RecordSaleResult](t, rec)
	if rec.Code != http.StatusBadRequest || empty.Message != "No items in sale." {
		t.Fatalf("unexpected empty cart response %d %+v", rec.Code, empty)
	}
}

func TestReceiptAndExport(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAsAdmin(t, api)
	productID := seedSoap(t, handler, token)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/sales", token, domain.RecordSaleRequest{
		Items: []domain.SaleLine{{ProductID: productID, Quantity: 2}},
	})
	result := decodeBody[domain.RecordSaleResult](t, rec)

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/sales/"+result.SaleID+"/receipt?format=text", token, nil)
	if rec.Code != http.StatusOK || !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/plain") {
		t.Fatalf("unexpected receipt response %d %q", rec.Code, rec.Header().Get("Content-Type"))
	}
	if !strings.Contains(rec.Body.String(), "Total : 30.00") {
		t.Fatalf("receipt missing total:\n%s", rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/sales/sale-missing/receipt", token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown sale receipt, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/sales/export", token, nil)
	if rec.Code != http.StatusOK || !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/csv") {
		t.Fatalf("unexpected export response %d %q", rec.Code, rec.Header().Get("Content-Type"))
	}
	if !strings.Contains(rec.Body.String(), result.SaleID) {
		t.Fatalf("export missing sale id:\n%s", rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/sales/export?from=yesterday", token, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad date, got %d", rec.Code)
	}
}

func TestDeleteSoldProductConflicts(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAsAdmin(t, api)
	productID := seedSoap(t, handler, token)

	doJSON(t, handler, http.MethodPost, "/api/v1/sales", token, domain.RecordSaleRequest{
		Items: []domain.SaleLine{{ProductID: productID, Quantity: 1}},
	})

	rec := doJSON(t, handler, http.MethodDelete, "/api/v1/products/"+productID, token, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestCustomerEndpoints(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAsAdmin(t, api)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/customers", token, domain.CustomerRequest{Name: "Amina", Email: "amina@example.com"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	created := decodeBody[struct {
		Customer domain.Customer `json:"customer"`
	}](t, rec)

	rec = doJSON(t, handler, http.MethodPatch, "/api/v1/customers/"+created.Customer.ID, token, domain.CustomerRequest{Name: "Amina W."})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/customers", token, domain.CustomerRequest{Name: ""})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing name, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodDelete, "/api/v1/customers/"+created.Customer.ID, token, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	rec = doJSON(t, handler, http.MethodDelete, "/api/v1/customers/"+created.Customer.ID, token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on second delete, got %d", rec.Code)
	}
}

func TestDashboardEndpoint(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAsAdmin(t, api)
	productID := seedSoap(t, handler, token)

	doJSON(t, handler, http.MethodPost, "/api/v1/sales", token, domain.RecordSaleRequest{
		Items: []domain.SaleLine{{ProductID: productID, Quantity: 6}},
	})

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/dashboard", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	dashboard := decodeBody[domain.Dashboard](t, rec)
	if dashboard.TotalSalesCents != 9000 || dashboard.TotalStock != 2 || len(dashboard.SevenDaySeries) != 7 {
		t.Fatalf("unexpected dashboard: %+v", dashboard)
	}
}

// TestMustHashPassword verifies that the test helper produces valid bcrypt hashes
// (used to confirm test infrastructure is sound).
func TestMustHashPassword(t *testing.T) {
	hash := mustHashPassword(t, "secret")
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte("secret")); err != nil {
		t.Fatalf("hash verification failed: %v", err)
	}
}
