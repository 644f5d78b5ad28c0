package realtime

import (
	"context"
	"encoding/json"
	"log"

	"github.com/google/uuid"

	"tradepost/internal/bus"
	"tradepost/internal/trading"
)

// StatusForwarder subscribes to purchase status transitions on the bus and
// pushes them to the hub, targeted at the purchasing user when known.
type StatusForwarder struct {
	hub  *Hub
	logf func(format string, args ...any)
}

// NewStatusForwarder constructs a StatusForwarder.
func NewStatusForwarder(hub *Hub, logf func(format string, args ...any)) *StatusForwarder {
	if logf == nil {
		logf = log.Printf
	}
	return &StatusForwarder{hub: hub, logf: logf}
}

// Register subscribes the forwarder on the bus.
func (f *StatusForwarder) Register(b bus.Bus) {
	b.Subscribe(trading.KindPurchaseStatusChanged, f.Handle)
}

// Handle pushes one status transition to connected clients.
func (f *StatusForwarder) Handle(ctx context.Context, env bus.Envelope) error {
	var change trading.PurchaseStatusChanged
	if err := json.Unmarshal(env.Payload, &change); err != nil {
		return err
	}

	payload, err := json.Marshal(struct {
		Type string `json:"type"`
		trading.PurchaseStatusChanged
	}{
		Type:                  "purchaseStatus",
		PurchaseStatusChanged: change,
	})
	if err != nil {
		return err
	}

	if change.UserID != uuid.Nil {
		f.hub.SendToUser(change.UserID, payload)
		return nil
	}
	f.hub.Broadcast <- payload
	return nil
}
