package main

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"tradepost/internal/bus"
	"tradepost/internal/observability"
	"tradepost/internal/realtime"
	"tradepost/internal/trading"
)

type purchaseAPI struct {
	bus      bus.Bus
	hub      *realtime.Hub
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
	logf     func(format string, args ...any)
}

func newPurchaseAPI(b bus.Bus, hub *realtime.Hub, metrics *observability.Metrics, logf func(format string, args ...any)) *purchaseAPI {
	if logf == nil {
		logf = log.Printf
	}
	return &purchaseAPI{
		bus:     b,
		hub:     hub,
		metrics: metrics,
		logf:    logf,
	}
}

func (a *purchaseAPI) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /purchase", a.submit)
	mux.HandleFunc("GET /purchase/status/{id}", a.status)
	mux.HandleFunc("GET /ws", a.websocket)
	mux.Handle("GET /metrics", observability.Handler(a.metrics))
	return mux
}

type submitPurchaseRequest struct {
	UserID        uuid.UUID `json:"userId"`
	ItemID        uuid.UUID `json:"itemId"`
	Quantity      int       `json:"quantity"`
	IdempotencyID uuid.UUID `json:"idempotencyId"`
}

// submit accepts a purchase, publishes PurchaseRequested, and answers 202
// with a status location. The caller's idempotency id becomes the saga
// correlation id, so a retried submit lands on the same saga.
func (a *purchaseAPI) submit(w http.ResponseWriter, r *http.Request) {
	var req submitPurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ItemID == uuid.Nil {
		writeError(w, http.StatusBadRequest, "itemId is required")
		return
	}
	if req.Quantity <= 0 {
		writeError(w, http.StatusBadRequest, "quantity must be positive")
		return
	}

	// Identity normally arrives via the auth layer; the header covers
	// deployments that terminate auth upstream.
	userID := req.UserID
	if raw := r.Header.Get("X-User-Id"); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid X-User-Id header")
			return
		}
		userID = parsed
	}
	if userID == uuid.Nil {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}

	correlationID := req.IdempotencyID
	if correlationID == uuid.Nil {
		correlationID = uuid.New()
	}

	env, err := trading.Encode(trading.PurchaseRequested{
		UserID:        userID,
		ItemID:        req.ItemID,
		Quantity:      req.Quantity,
		CorrelationID: correlationID,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "encode request")
		return
	}
	if err := a.bus.Publish(r.Context(), env); err != nil {
		a.logf("publish purchase request: %v", err)
		writeError(w, http.StatusServiceUnavailable, "bus unavailable")
		return
	}

	w.Header().Set("Location", "/purchase/status/"+correlationID.String())
	writeJSON(w, http.StatusAccepted, map[string]string{"correlationId": correlationID.String()})
}

func (a *purchaseAPI) status(w http.ResponseWriter, r *http.Request) {
	correlationID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid correlation id")
		return
	}

	status, found, err := trading.RequestStatus(r.Context(), a.bus, correlationID)
	if err != nil {
		a.logf("status query %s: %v", correlationID, err)
		writeError(w, http.StatusServiceUnavailable, "status query failed")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "purchase not found")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (a *purchaseAPI) websocket(w http.ResponseWriter, r *http.Request) {
	var userID uuid.UUID
	if raw := r.URL.Query().Get("userId"); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid userId")
			return
		}
		userID = parsed
	}

	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logf("websocket upgrade: %v", err)
		return
	}

	a.hub.Register <- realtime.Client{Conn: conn, UserID: userID}
	go func() {
		defer func() { a.hub.Unregister <- conn }()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
