package observability

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestMetricsTracksHandledMessages(t *testing.T) {
	metrics := NewMetrics()
	span := metrics.Start("PurchaseRequested")
	time.Sleep(1 * time.Millisecond)
	span.End(nil)

	span = metrics.Start("PurchaseRequested")
	span.End(errors.New("fail"))

	snap := metrics.Snapshot()
	stats := snap.Handlers["PurchaseRequested"]
	if stats.Count != 2 {
		t.Fatalf("expected 2 handled messages, got %d", stats.Count)
	}
	if stats.Errors != 1 {
		t.Fatalf("expected 1 error, got %d", stats.Errors)
	}
	if stats.InFlight != 0 {
		t.Fatalf("expected 0 inflight, got %d", stats.InFlight)
	}
	if snap.TotalMessages != 2 || snap.TotalErrors != 1 {
		t.Fatalf("unexpected totals: %+v", snap)
	}
}

func TestMetricsTracksTransitions(t *testing.T) {
	metrics := NewMetrics()
	metrics.AddTransition("Accepted")
	metrics.AddTransition("ItemsGranted")
	metrics.AddTransition("Accepted")

	snap := metrics.Snapshot()
	if snap.Transitions["Accepted"] != 2 {
		t.Fatalf("expected 2 Accepted transitions, got %d", snap.Transitions["Accepted"])
	}
	if snap.Transitions["ItemsGranted"] != 1 {
		t.Fatalf("expected 1 ItemsGranted transition, got %d", snap.Transitions["ItemsGranted"])
	}
}

func TestMetricsMarkShutdown(t *testing.T) {
	metrics := NewMetrics()
	metrics.MarkShutdown(3)

	snap := metrics.Snapshot()
	if snap.Lifecycle == nil {
		t.Fatalf("expected lifecycle snapshot")
	}
	if snap.Lifecycle.InFlightAtShutdown != 3 {
		t.Fatalf("expected 3 inflight at shutdown, got %d", snap.Lifecycle.InFlightAtShutdown)
	}
}

func TestHandlerServesSnapshot(t *testing.T) {
	metrics := NewMetrics()
	span := metrics.Start("GilDebited")
	span.End(nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	Handler(metrics).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var snap Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.Handlers["GilDebited"].Count != 1 {
		t.Fatalf("expected 1 handled message, got %+v", snap.Handlers)
	}
}
