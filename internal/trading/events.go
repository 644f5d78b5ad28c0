package trading

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"tradepost/internal/trading/saga"
)

// Message kinds on the bus. Inbound events drive the saga; outbound
// commands and events leave through the outbox.
const (
	KindPurchaseRequested     = "PurchaseRequested"
	KindInventoryItemsGranted = "InventoryItemsGranted"
	KindGilDebited            = "GilDebited"
	KindGetPurchaseState      = "GetPurchaseState"
	KindPurchaseStateReply    = "PurchaseStateReply"

	KindGrantItems            = "GrantItems"
	KindDebitGil              = "DebitGil"
	KindSubtractItems         = "SubtractItems"
	KindPurchaseCompleted     = "PurchaseCompleted"
	KindPurchaseStatusChanged = "PurchaseStatusChanged"
)

const faultPrefix = "Fault:"

// FaultKind returns the kind of the fault wrapper around the given kind.
func FaultKind(kind string) string { return faultPrefix + kind }

// Message is anything that travels over the bus for the purchase workflow.
// Every type carries its correlation id directly; fault wrappers surface
// the id of the message they wrap.
type Message interface {
	Kind() string
	Correlation() uuid.UUID
}

// PurchaseRequested starts a purchase saga.
type PurchaseRequested struct {
	UserID        uuid.UUID `json:"userId"`
	ItemID        uuid.UUID `json:"itemId"`
	Quantity      int       `json:"quantity"`
	CorrelationID uuid.UUID `json:"correlationId"`
}

func (m PurchaseRequested) Kind() string           { return KindPurchaseRequested }
func (m PurchaseRequested) Correlation() uuid.UUID { return m.CorrelationID }

// InventoryItemsGranted reports the inventory service granted the items.
type InventoryItemsGranted struct {
	CorrelationID uuid.UUID `json:"correlationId"`
}

func (m InventoryItemsGranted) Kind() string           { return KindInventoryItemsGranted }
func (m InventoryItemsGranted) Correlation() uuid.UUID { return m.CorrelationID }

// GilDebited reports the identity service debited the purchase total.
type GilDebited struct {
	CorrelationID uuid.UUID `json:"correlationId"`
}

func (m GilDebited) Kind() string           { return KindGilDebited }
func (m GilDebited) Correlation() uuid.UUID { return m.CorrelationID }

// GetPurchaseState asks for the current saga snapshot.
type GetPurchaseState struct {
	CorrelationID uuid.UUID `json:"correlationId"`
}

func (m GetPurchaseState) Kind() string           { return KindGetPurchaseState }
func (m GetPurchaseState) Correlation() uuid.UUID { return m.CorrelationID }

// GrantItems commands the inventory service to grant purchased items.
type GrantItems struct {
	UserID        uuid.UUID `json:"userId"`
	ItemID        uuid.UUID `json:"itemId"`
	Quantity      int       `json:"quantity"`
	CorrelationID uuid.UUID `json:"correlationId"`
}

func (m GrantItems) Kind() string           { return KindGrantItems }
func (m GrantItems) Correlation() uuid.UUID { return m.CorrelationID }

// DebitGil commands the identity service to debit the purchase total.
type DebitGil struct {
	UserID        uuid.UUID `json:"userId"`
	Amount        float64   `json:"amount"`
	CorrelationID uuid.UUID `json:"correlationId"`
}

func (m DebitGil) Kind() string           { return KindDebitGil }
func (m DebitGil) Correlation() uuid.UUID { return m.CorrelationID }

// SubtractItems compensates a failed debit by taking granted items back.
type SubtractItems struct {
	UserID        uuid.UUID `json:"userId"`
	ItemID        uuid.UUID `json:"itemId"`
	Quantity      int       `json:"quantity"`
	CorrelationID uuid.UUID `json:"correlationId"`
}

func (m SubtractItems) Kind() string           { return KindSubtractItems }
func (m SubtractItems) Correlation() uuid.UUID { return m.CorrelationID }

// PurchaseCompleted announces a purchase that ran all the way through.
type PurchaseCompleted struct {
	UserID        uuid.UUID `json:"userId"`
	ItemID        uuid.UUID `json:"itemId"`
	Total         float64   `json:"total"`
	CorrelationID uuid.UUID `json:"correlationId"`
}

func (m PurchaseCompleted) Kind() string           { return KindPurchaseCompleted }
func (m PurchaseCompleted) Correlation() uuid.UUID { return m.CorrelationID }

// PurchaseStatusChanged signals a saga transition for push notification.
type PurchaseStatusChanged struct {
	CorrelationID uuid.UUID  `json:"correlationId"`
	UserID        uuid.UUID  `json:"userId"`
	State         saga.State `json:"state"`
	ErrorMessage  string     `json:"errorMessage,omitempty"`
}

func (m PurchaseStatusChanged) Kind() string           { return KindPurchaseStatusChanged }
func (m PurchaseStatusChanged) Correlation() uuid.UUID { return m.CorrelationID }

// Fault wraps a message a consumer rejected. The correlation id is read out
// of the wrapped message, so handlers extract it the same way for direct
// events and for fault wrappers.
type Fault struct {
	OriginalKind string          `json:"originalKind"`
	Original     json.RawMessage `json:"originalMessage"`
	Messages     []string        `json:"exceptionMessages"`
}

// NewFault wraps the original message with the given exception messages.
func NewFault(original Message, messages ...string) Fault {
	payload, err := json.Marshal(original)
	if err != nil {
		payload = []byte("{}")
	}
	return Fault{
		OriginalKind: original.Kind(),
		Original:     payload,
		Messages:     messages,
	}
}

func (f Fault) Kind() string { return FaultKind(f.OriginalKind) }

func (f Fault) Correlation() uuid.UUID {
	var probe struct {
		CorrelationID uuid.UUID `json:"correlationId"`
	}
	_ = json.Unmarshal(f.Original, &probe)
	return probe.CorrelationID
}

// Reason joins all contained exception messages.
func (f Fault) Reason() string { return strings.Join(f.Messages, ",") }

// PurchaseStatus is the saga snapshot answered to status queries and
// served on the REST status endpoint.
type PurchaseStatus struct {
	CorrelationID uuid.UUID `json:"correlationId"`
	UserID        uuid.UUID `json:"userId"`
	ItemID        uuid.UUID `json:"itemId"`
	PurchaseTotal *float64  `json:"purchaseTotal"`
	Quantity      int       `json:"quantity"`
	State         string    `json:"state"`
	Reason        string    `json:"reason,omitempty"`
	Received      time.Time `json:"received"`
	LastUpdated   time.Time `json:"lastUpdated"`
}

// PurchaseStatusReply is the request/reply body for GetPurchaseState.
// Found is false for a never-seen correlation id.
type PurchaseStatusReply struct {
	Found  bool            `json:"found"`
	Status *PurchaseStatus `json:"status,omitempty"`
}
