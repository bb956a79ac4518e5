package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"puntoventa/backend/internal/duplicate"
	"puntoventa/backend/internal/offline"
	"puntoventa/backend/internal/remote"
	"puntoventa/backend/internal/sale"
	"puntoventa/backend/internal/sequencer"
	"puntoventa/backend/internal/store/memory"
)

func newTestAPI(t *testing.T) (http.Handler, *AuthManager) {
	t.Helper()

	repo := memory.NewSeeded()
	seq := sequencer.New(repo, "INV-", 4)
	detector := duplicate.New(repo, nil, 2*time.Minute)
	queue := offline.NewQueue(repo)
	committer := remote.NewLocalCommitter(nil)
	synchronizer := offline.NewSynchronizer(queue, committer, repo)
	orchestrator := sale.New(repo, seq, detector, queue, committer, nil, "main-store")
	auth := NewAuthManager("test-secret-test-secret-test-secret", time.Hour, repo)

	api := New(orchestrator, synchronizer, queue, seq, repo, auth,
		"http://127.0.0.1:3000", "main-store", 50)
	return api.Handler(), auth
}

func loginToken(t *testing.T, handler http.Handler, username string, password string) string {
	t.Helper()

	body, _ := json.Marshal(map[string]string{"username": username, "password": password})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("login failed with status %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad login response: %v", err)
	}
	if resp.AccessToken == "" {
		t.Fatal("empty access token")
	}
	return resp.AccessToken
}

func TestHealthz(t *testing.T) {
	handler, _ := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestProcessSaleRequiresAuth(t *testing.T) {
	handler, _ := newTestAPI(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sales/process", bytes.NewReader([]byte("{}")))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestProcessSaleEndToEnd(t *testing.T) {
	handler, _ := newTestAPI(t)
	token := loginToken(t, handler, "cashier", "cashier123")

	payload := map[string]any{
		"store_id":       "main-store",
		"terminal_id":    "caja-1",
		"customer_id":    "cust-1",
		"payment_method": "cash",
		"cart_items": []map[string]any{
			{"product_id": "prod-case-uni", "name": "Funda Universal", "unit_price_cents": 45000, "qty": 1},
		},
	}
	body, _ := json.Marshal(payload)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sales/process", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Result struct {
			Outcome       string `json:"outcome"`
			InvoiceNumber string `json:"invoice_number"`
		} `json:"result"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response: %v", err)
	}
	if resp.Result.Outcome != "committed" {
		t.Fatalf("expected committed, got %q: %s", resp.Result.Outcome, rec.Body.String())
	}
	if resp.Result.InvoiceNumber != "INV-0001" {
		t.Fatalf("expected INV-0001, got %q", resp.Result.InvoiceNumber)
	}
}

func TestAuditLogsForbiddenForCashier(t *testing.T) {
	handler, _ := newTestAPI(t)
	token := loginToken(t, handler, "cashier", "cashier123")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/audit-logs", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestInvoiceCounterEndpoint(t *testing.T) {
	handler, _ := newTestAPI(t)
	token := loginToken(t, handler, "admin", "admin123")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/invoices/counter", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		NextInvoice string `json:"next_invoice"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response: %v", err)
	}
	if resp.NextInvoice != "INV-0001" {
		t.Fatalf("expected next INV-0001, got %q", resp.NextInvoice)
	}
}

func TestRejectedTokenOnBadSignature(t *testing.T) {
	handler, _ := newTestAPI(t)
	other := NewAuthManager("another-secret-another-secret-12345", time.Hour, nil)
	token, err := other.sign("cashier", "cashier", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sales/offline", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for foreign signature, got %d", rec.Code)
	}
}
