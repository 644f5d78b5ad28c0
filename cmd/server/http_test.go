package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"tradepost/internal/bus"
	"tradepost/internal/observability"
	"tradepost/internal/realtime"
	"tradepost/internal/trading"
	"tradepost/internal/trading/saga"
)

type fixedPricer struct{ price float64 }

func (p fixedPricer) Price(context.Context, uuid.UUID) (float64, error) { return p.price, nil }

func testLogf(string, ...any) {}

func newTestAPI(t *testing.T) (*purchaseAPI, *saga.MemoryStore) {
	t.Helper()

	store := saga.NewMemoryStore(nil)
	localBus := bus.NewLocalBus(1, nil, testLogf)
	orchestrator := trading.NewOrchestrator(trading.NewMachine(fixedPricer{price: 3}, time.Now), store, testLogf)
	trading.Register(localBus, orchestrator)

	hub := realtime.NewHub()
	go hub.Run()

	return newPurchaseAPI(localBus, hub, observability.NewMetrics(), testLogf), store
}

func TestSubmitPurchase_Accepted(t *testing.T) {
	api, store := newTestAPI(t)
	mux := api.routes()

	userID := uuid.New()
	itemID := uuid.New()
	body := `{"userId":"` + userID.String() + `","itemId":"` + itemID.String() + `","quantity":2}`

	req := httptest.NewRequest(http.MethodPost, "/purchase", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("unexpected status: %d (%s)", rec.Code, rec.Body.String())
	}

	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	correlationID, err := uuid.Parse(resp["correlationId"])
	if err != nil {
		t.Fatalf("bad correlation id: %v", err)
	}
	if loc := rec.Header().Get("Location"); loc != "/purchase/status/"+correlationID.String() {
		t.Fatalf("unexpected location: %s", loc)
	}

	// The inline bus already drove the saga to Accepted.
	instance, err := store.Load(context.Background(), correlationID)
	if err != nil {
		t.Fatalf("load saga: %v", err)
	}
	if instance.CurrentState != saga.StateAccepted || instance.UserID != userID {
		t.Fatalf("unexpected saga: %+v", instance)
	}
}

func TestSubmitPurchase_IdempotencyIDBecomesCorrelationID(t *testing.T) {
	api, _ := newTestAPI(t)
	mux := api.routes()

	idempotencyID := uuid.New()
	body := `{"userId":"` + uuid.NewString() + `","itemId":"` + uuid.NewString() +
		`","quantity":1,"idempotencyId":"` + idempotencyID.String() + `"}`

	req := httptest.NewRequest(http.MethodPost, "/purchase", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	var resp map[string]string
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["correlationId"] != idempotencyID.String() {
		t.Fatalf("expected the idempotency id to be the correlation id, got %s", resp["correlationId"])
	}
}

func TestSubmitPurchase_Validation(t *testing.T) {
	api, _ := newTestAPI(t)
	mux := api.routes()

	cases := []struct {
		name string
		body string
	}{
		{"malformed body", `{`},
		{"missing item", `{"userId":"` + uuid.NewString() + `","quantity":1}`},
		{"zero quantity", `{"userId":"` + uuid.NewString() + `","itemId":"` + uuid.NewString() + `","quantity":0}`},
		{"negative quantity", `{"userId":"` + uuid.NewString() + `","itemId":"` + uuid.NewString() + `","quantity":-2}`},
		{"missing user", `{"itemId":"` + uuid.NewString() + `","quantity":1}`},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, "/purchase", strings.NewReader(tc.body))
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", tc.name, rec.Code)
		}
	}
}

func TestSubmitPurchase_UserIDFromHeader(t *testing.T) {
	api, store := newTestAPI(t)
	mux := api.routes()

	userID := uuid.New()
	body := `{"itemId":"` + uuid.NewString() + `","quantity":1}`
	req := httptest.NewRequest(http.MethodPost, "/purchase", strings.NewReader(body))
	req.Header.Set("X-User-Id", userID.String())
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("unexpected status: %d (%s)", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	instance, err := store.Load(context.Background(), uuid.MustParse(resp["correlationId"]))
	if err != nil {
		t.Fatalf("load saga: %v", err)
	}
	if instance.UserID != userID {
		t.Fatalf("expected the header identity, got %s", instance.UserID)
	}
}

func TestPurchaseStatus_Endpoint(t *testing.T) {
	api, _ := newTestAPI(t)
	mux := api.routes()

	// Unknown id answers 404.
	req := httptest.NewRequest(http.MethodGet, "/purchase/status/"+uuid.NewString(), nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown id, got %d", rec.Code)
	}

	// Malformed id answers 400.
	req = httptest.NewRequest(http.MethodGet, "/purchase/status/not-a-uuid", nil)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a bad id, got %d", rec.Code)
	}

	// Submit then query.
	body := `{"userId":"` + uuid.NewString() + `","itemId":"` + uuid.NewString() + `","quantity":2}`
	req = httptest.NewRequest(http.MethodPost, "/purchase", strings.NewReader(body))
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	var resp map[string]string
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)

	req = httptest.NewRequest(http.MethodGet, "/purchase/status/"+resp["correlationId"], nil)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}

	var status trading.PurchaseStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.State != string(saga.StateAccepted) {
		t.Fatalf("unexpected state: %s", status.State)
	}
	if status.PurchaseTotal == nil || *status.PurchaseTotal != 6 {
		t.Fatalf("unexpected total: %v", status.PurchaseTotal)
	}
}

func TestMetricsEndpoint_ServesSnapshot(t *testing.T) {
	api, _ := newTestAPI(t)
	mux := api.routes()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Fatalf("unexpected content type: %s", ct)
	}
}
