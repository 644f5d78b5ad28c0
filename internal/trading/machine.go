package trading

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"tradepost/internal/trading/saga"
)

// Pricer answers the price of a catalog item from the local read model.
type Pricer interface {
	Price(ctx context.Context, itemID uuid.UUID) (float64, error)
}

// Step is the result of feeding one event into the machine. Applied is
// false when the event was absorbed without effect (duplicate,
// out-of-order, or arrival in a terminal state).
type Step struct {
	Saga     saga.PurchaseSaga
	Outbound []Message
	Applied  bool
}

type stepKey struct {
	state saga.State
	kind  string
}

type stepFunc func(ctx context.Context, m *Machine, s saga.PurchaseSaga, msg Message) (saga.PurchaseSaga, []Message, error)

// Machine is the purchase transition table: a mapping from (state, event
// kind) to a pure function returning the next state and the messages to
// emit. States only advance along table edges; terminal states never
// transition.
type Machine struct {
	pricer Pricer
	now    func() time.Time
	table  map[stepKey]stepFunc
}

// NewMachine constructs a Machine with the given pricer and clock.
func NewMachine(pricer Pricer, now func() time.Time) *Machine {
	if now == nil {
		now = time.Now
	}
	m := &Machine{pricer: pricer, now: now}

	m.table = map[stepKey]stepFunc{
		{saga.StateInitial, KindPurchaseRequested}:           stepAccept,
		{saga.StateAccepted, KindInventoryItemsGranted}:      stepDebit,
		{saga.StateAccepted, FaultKind(KindGrantItems)}:      stepGrantFaulted,
		{saga.StateItemsGranted, KindGilDebited}:             stepComplete,
		{saga.StateItemsGranted, FaultKind(KindDebitGil)}:    stepDebitFaulted,
	}
	// Faults of inbound events are recorded in any non-terminal state
	// without moving the saga.
	for _, state := range []saga.State{saga.StateInitial, saga.StateAccepted, saga.StateItemsGranted} {
		m.table[stepKey{state, FaultKind(KindPurchaseRequested)}] = stepRecordFault
		m.table[stepKey{state, FaultKind(KindInventoryItemsGranted)}] = stepRecordFault
	}

	return m
}

// Apply feeds one event into the machine. Events with no table entry for
// the current state are absorbed, which covers duplicates, out-of-order
// deliveries, and anything arriving after a terminal state.
func (m *Machine) Apply(ctx context.Context, s saga.PurchaseSaga, msg Message) (Step, error) {
	fn, ok := m.table[stepKey{s.CurrentState, msg.Kind()}]
	if !ok {
		return Step{Saga: s}, nil
	}

	next, outbound, err := fn(ctx, m, s, msg)
	if err != nil {
		return Step{Saga: s}, err
	}

	next.LastUpdated = m.now()
	outbound = append(outbound, PurchaseStatusChanged{
		CorrelationID: next.CorrelationID,
		UserID:        next.UserID,
		State:         next.CurrentState,
		ErrorMessage:  next.ErrorMessage,
	})
	return Step{Saga: next, Outbound: outbound, Applied: true}, nil
}

func stepAccept(ctx context.Context, m *Machine, s saga.PurchaseSaga, msg Message) (saga.PurchaseSaga, []Message, error) {
	req, ok := msg.(PurchaseRequested)
	if !ok {
		return s, nil, fmt.Errorf("expected PurchaseRequested, got %T", msg)
	}

	s.UserID = req.UserID
	s.ItemID = req.ItemID
	s.Quantity = req.Quantity
	s.Received = m.now()

	price, err := m.pricer.Price(ctx, req.ItemID)
	if err != nil {
		// Pricing failure is a business fault, not a crash: stay in
		// Initial and surface it as a fault of the request. A retried
		// request re-prices once the read model has the item.
		return s, []Message{NewFault(req, err.Error())}, nil
	}

	total := price * float64(req.Quantity)
	s.PurchaseTotal = &total
	s.CurrentState = saga.StateAccepted

	return s, []Message{GrantItems{
		UserID:        req.UserID,
		ItemID:        req.ItemID,
		Quantity:      req.Quantity,
		CorrelationID: req.CorrelationID,
	}}, nil
}

func stepDebit(_ context.Context, _ *Machine, s saga.PurchaseSaga, _ Message) (saga.PurchaseSaga, []Message, error) {
	if s.PurchaseTotal == nil {
		return s, nil, fmt.Errorf("saga %s: no purchase total before debit", s.CorrelationID)
	}

	s.CurrentState = saga.StateItemsGranted
	return s, []Message{DebitGil{
		UserID:        s.UserID,
		Amount:        *s.PurchaseTotal,
		CorrelationID: s.CorrelationID,
	}}, nil
}

func stepComplete(_ context.Context, _ *Machine, s saga.PurchaseSaga, _ Message) (saga.PurchaseSaga, []Message, error) {
	total := 0.0
	if s.PurchaseTotal != nil {
		total = *s.PurchaseTotal
	}

	s.CurrentState = saga.StateCompleted
	return s, []Message{PurchaseCompleted{
		UserID:        s.UserID,
		ItemID:        s.ItemID,
		Total:         total,
		CorrelationID: s.CorrelationID,
	}}, nil
}

func stepGrantFaulted(_ context.Context, _ *Machine, s saga.PurchaseSaga, msg Message) (saga.PurchaseSaga, []Message, error) {
	fault, ok := msg.(Fault)
	if !ok {
		return s, nil, fmt.Errorf("expected Fault, got %T", msg)
	}

	// Nothing was granted, so nothing to compensate.
	s.ErrorMessage = fault.Reason()
	s.CurrentState = saga.StateFaulted
	return s, nil, nil
}

func stepDebitFaulted(_ context.Context, _ *Machine, s saga.PurchaseSaga, msg Message) (saga.PurchaseSaga, []Message, error) {
	fault, ok := msg.(Fault)
	if !ok {
		return s, nil, fmt.Errorf("expected Fault, got %T", msg)
	}

	s.ErrorMessage = fault.Reason()
	s.CurrentState = saga.StateFaulted
	// Items were already granted; take them back.
	return s, []Message{SubtractItems{
		UserID:        s.UserID,
		ItemID:        s.ItemID,
		Quantity:      s.Quantity,
		CorrelationID: s.CorrelationID,
	}}, nil
}

func stepRecordFault(_ context.Context, _ *Machine, s saga.PurchaseSaga, msg Message) (saga.PurchaseSaga, []Message, error) {
	fault, ok := msg.(Fault)
	if !ok {
		return s, nil, fmt.Errorf("expected Fault, got %T", msg)
	}

	s.ErrorMessage = fault.Reason()
	return s, nil, nil
}
