package bus

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Envelope is the wire frame for every message crossing the bus.
type Envelope struct {
	ID            string          `json:"id"`
	Kind          string          `json:"kind"`
	CorrelationID uuid.UUID       `json:"correlationId"`
	Payload       json.RawMessage `json:"payload"`
	ReplyTo       string          `json:"replyTo,omitempty"`
}

// NewEnvelope wraps a payload with a fresh message id.
func NewEnvelope(kind string, correlationID uuid.UUID, payload []byte) Envelope {
	return Envelope{
		ID:            uuid.NewString(),
		Kind:          kind,
		CorrelationID: correlationID,
		Payload:       payload,
	}
}

// Handler consumes a delivered envelope. Returning an error sends the
// envelope to the dead-letter channel; delivery is at-least-once.
type Handler func(ctx context.Context, env Envelope) error

// Responder answers a request envelope with a reply envelope.
type Responder func(ctx context.Context, env Envelope) (Envelope, error)

// Publisher is the outbound half of the bus.
type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
}

// Bus is a reliable at-least-once publish/consume transport with per-kind
// routing, a dead-letter channel, and request/reply for queries.
type Bus interface {
	Publisher
	Subscribe(kind string, h Handler)
	Respond(kind string, r Responder)
	Request(ctx context.Context, env Envelope) (Envelope, error)
}

// DeadLetter is a delivery that exhausted its handler.
type DeadLetter struct {
	Envelope Envelope  `json:"envelope"`
	Reason   string    `json:"reason"`
	At       time.Time `json:"at"`
}

// ErrNoResponder signals a request for a kind nobody answers.
var ErrNoResponder = errors.New("no responder registered for kind")

// ErrRequestTimeout signals a request that got no reply in time.
var ErrRequestTimeout = errors.New("request timed out waiting for reply")
