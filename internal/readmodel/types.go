package readmodel

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals an entity absent from a snapshot store or an owning
// service. It is non-retriable: callers fail fast instead of backing off.
var ErrNotFound = errors.New("unknown entity")

// CatalogItemSnapshot is a locally cached copy of a catalog item, owned by
// the sync component and read for pricing and display.
type CatalogItemSnapshot struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Price       float64   `json:"price"`
}

// SnapshotID returns the snapshot key.
func (c CatalogItemSnapshot) SnapshotID() uuid.UUID { return c.ID }

// InventoryItemSnapshot is a locally cached copy of a user's inventory line.
type InventoryItemSnapshot struct {
	ID            uuid.UUID `json:"id"`
	UserID        uuid.UUID `json:"userId"`
	CatalogItemID uuid.UUID `json:"catalogItemId"`
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	Quantity      int       `json:"quantity"`
	AcquiredAt    time.Time `json:"acquiredAt"`
}

// SnapshotID returns the snapshot key.
func (i InventoryItemSnapshot) SnapshotID() uuid.UUID { return i.ID }

// UserBalanceSnapshot is a locally cached copy of a user's gil balance.
type UserBalanceSnapshot struct {
	ID      uuid.UUID `json:"id"`
	Balance float64   `json:"balance"`
}

// SnapshotID returns the snapshot key.
func (u UserBalanceSnapshot) SnapshotID() uuid.UUID { return u.ID }

// Snapshot is any locally cached read-model row.
type Snapshot interface {
	SnapshotID() uuid.UUID
}
