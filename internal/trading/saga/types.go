package saga

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"tradepost/internal/outbox"
)

// State captures where a purchase saga is in its lifecycle.
type State string

const (
	StateInitial      State = "Initial"
	StateAccepted     State = "Accepted"
	StateItemsGranted State = "ItemsGranted"
	StateCompleted    State = "Completed"
	StateFaulted      State = "Faulted"
)

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFaulted
}

// PurchaseSaga is one durable purchase transaction, keyed by correlation id.
type PurchaseSaga struct {
	CorrelationID uuid.UUID
	UserID        uuid.UUID
	ItemID        uuid.UUID
	Quantity      int
	PurchaseTotal *float64
	CurrentState  State
	ErrorMessage  string
	Received      time.Time
	LastUpdated   time.Time
	Version       int64
}

// ErrNotFound signals an unknown correlation id.
var ErrNotFound = errors.New("purchase saga not found")

// ErrVersionConflict signals a concurrent write to the same saga instance.
var ErrVersionConflict = errors.New("purchase saga version conflict")

// Store persists saga instances with optimistic concurrency. Save writes
// the saga and its outbox entries in one unit of work: either both are
// durable or neither is. expectedVersion 0 means create; a mismatch (or a
// create racing an existing row) returns ErrVersionConflict so the caller
// can reload and re-apply.
type Store interface {
	Load(ctx context.Context, correlationID uuid.UUID) (PurchaseSaga, error)
	Save(ctx context.Context, s PurchaseSaga, expectedVersion int64, entries []outbox.Entry) error
}
