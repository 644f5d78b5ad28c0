package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Entry is a pending outbound message recorded alongside a saga write.
type Entry struct {
	ID            int64
	Kind          string
	CorrelationID uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
	SentAt        *time.Time
}

// Store lists and marks outbox entries. Appending happens inside the saga
// store's unit of work so the state change and its messages commit together.
type Store interface {
	ListUnsent(ctx context.Context, limit int) ([]Entry, error)
	MarkSent(ctx context.Context, ids []int64) error
}

// Publisher pushes a flushed entry onto the message bus.
type Publisher interface {
	Publish(ctx context.Context, kind string, correlationID uuid.UUID, payload []byte) error
}
