package trading

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	"tradepost/internal/bus"
	"tradepost/internal/outbox"
	"tradepost/internal/trading/saga"
)

// busPublisher bridges the outbox dispatcher onto the bus, the same way
// the server wires it.
type busPublisher struct {
	bus bus.Publisher
}

func (p busPublisher) Publish(ctx context.Context, kind string, correlationID uuid.UUID, payload []byte) error {
	return p.bus.Publish(ctx, bus.NewEnvelope(kind, correlationID, payload))
}

// fakeInventory acks every grant and takes note of compensations, standing
// in for the inventory service on the other side of the bus.
type fakeInventory struct {
	subtractions []SubtractItems
}

func (f *fakeInventory) register(b bus.Bus) {
	b.Subscribe(KindGrantItems, func(ctx context.Context, env bus.Envelope) error {
		msg, err := Decode(env)
		if err != nil {
			return err
		}
		grant := msg.(GrantItems)
		ack, err := Encode(InventoryItemsGranted{CorrelationID: grant.CorrelationID})
		if err != nil {
			return err
		}
		return b.Publish(ctx, ack)
	})
	b.Subscribe(KindSubtractItems, func(_ context.Context, env bus.Envelope) error {
		msg, err := Decode(env)
		if err != nil {
			return err
		}
		f.subtractions = append(f.subtractions, msg.(SubtractItems))
		return nil
	})
}

// fakeIdentity either acks debits or rejects them with a fault.
type fakeIdentity struct {
	rejectWith string
}

func (f *fakeIdentity) register(b bus.Bus) {
	b.Subscribe(KindDebitGil, func(ctx context.Context, env bus.Envelope) error {
		msg, err := Decode(env)
		if err != nil {
			return err
		}
		debit := msg.(DebitGil)

		var reply Message = GilDebited{CorrelationID: debit.CorrelationID}
		if f.rejectWith != "" {
			reply = NewFault(debit, f.rejectWith)
		}
		replyEnv, err := Encode(reply)
		if err != nil {
			return err
		}
		return b.Publish(ctx, replyEnv)
	})
}

func pumpOutbox(t *testing.T, d *outbox.Dispatcher) {
	t.Helper()
	// Handlers publish follow-up events synchronously on the unstarted
	// local bus, so a few passes settle the whole conversation.
	for i := 0; i < 10; i++ {
		if err := d.Flush(context.Background()); err != nil {
			t.Fatalf("flush: %v", err)
		}
	}
}

func TestPurchaseWorkflow_EndToEnd(t *testing.T) {
	store := saga.NewMemoryStore(nil)
	localBus := bus.NewLocalBus(1, nil, discardLogf)
	o := NewOrchestrator(NewMachine(stubPricer{price: 5}, time.Now), store, discardLogf)
	Register(localBus, o)

	inventory := &fakeInventory{}
	inventory.register(localBus)
	identity := &fakeIdentity{}
	identity.register(localBus)

	dispatcher := outbox.NewDispatcher(store, busPublisher{bus: localBus}, time.Millisecond, 100, discardLogf)

	req := PurchaseRequested{
		UserID:        uuid.New(),
		ItemID:        uuid.New(),
		Quantity:      2,
		CorrelationID: uuid.New(),
	}
	env, err := Encode(req)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := localBus.Publish(context.Background(), env); err != nil {
		t.Fatalf("publish: %v", err)
	}
	pumpOutbox(t, dispatcher)

	status, found, err := RequestStatus(context.Background(), localBus, req.CorrelationID)
	if err != nil {
		t.Fatalf("request status: %v", err)
	}
	if !found {
		t.Fatalf("expected the saga to exist")
	}
	if status.State != string(saga.StateCompleted) {
		t.Fatalf("unexpected final state: %s", status.State)
	}
	if status.PurchaseTotal == nil || *status.PurchaseTotal != 10 {
		t.Fatalf("unexpected total: %v", status.PurchaseTotal)
	}
	if len(inventory.subtractions) != 0 {
		t.Fatalf("a clean purchase must not compensate")
	}
}

func TestPurchaseWorkflow_DebitRejectionCompensates(t *testing.T) {
	store := saga.NewMemoryStore(nil)
	localBus := bus.NewLocalBus(1, nil, discardLogf)
	o := NewOrchestrator(NewMachine(stubPricer{price: 50}, time.Now), store, discardLogf)
	Register(localBus, o)

	inventory := &fakeInventory{}
	inventory.register(localBus)
	identity := &fakeIdentity{rejectWith: "insufficient funds"}
	identity.register(localBus)

	dispatcher := outbox.NewDispatcher(store, busPublisher{bus: localBus}, time.Millisecond, 100, discardLogf)

	req := PurchaseRequested{
		UserID:        uuid.New(),
		ItemID:        uuid.New(),
		Quantity:      3,
		CorrelationID: uuid.New(),
	}
	env, err := Encode(req)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := localBus.Publish(context.Background(), env); err != nil {
		t.Fatalf("publish: %v", err)
	}
	pumpOutbox(t, dispatcher)

	status, found, err := RequestStatus(context.Background(), localBus, req.CorrelationID)
	if err != nil {
		t.Fatalf("request status: %v", err)
	}
	if !found || status.State != string(saga.StateFaulted) {
		t.Fatalf("expected a faulted saga, got %+v", status)
	}
	if status.Reason != "insufficient funds" {
		t.Fatalf("unexpected reason: %q", status.Reason)
	}

	if len(inventory.subtractions) != 1 {
		t.Fatalf("expected exactly one compensation, got %d", len(inventory.subtractions))
	}
	got := inventory.subtractions[0]
	if got.UserID != req.UserID || got.ItemID != req.ItemID || got.Quantity != req.Quantity {
		t.Fatalf("compensation must mirror the grant: %+v", got)
	}
}

func TestRequestStatus_UnknownCorrelationID(t *testing.T) {
	store := saga.NewMemoryStore(nil)
	localBus := bus.NewLocalBus(1, nil, discardLogf)
	Register(localBus, NewOrchestrator(NewMachine(stubPricer{}, time.Now), store, discardLogf))

	_, found, err := RequestStatus(context.Background(), localBus, uuid.New())
	if err != nil {
		t.Fatalf("request status: %v", err)
	}
	if found {
		t.Fatalf("an unknown id must answer not-found")
	}

	// And the query itself never creates an instance.
	entries, _ := store.ListUnsent(context.Background(), 0)
	if len(entries) != 0 {
		t.Fatalf("a status query must not write anything")
	}
}

func TestRegister_ReplyEnvelopeShape(t *testing.T) {
	store := saga.NewMemoryStore(nil)
	localBus := bus.NewLocalBus(1, nil, discardLogf)
	o := NewOrchestrator(NewMachine(stubPricer{price: 2}, fixedClock), store, discardLogf)
	Register(localBus, o)

	req := PurchaseRequested{UserID: uuid.New(), ItemID: uuid.New(), Quantity: 1, CorrelationID: uuid.New()}
	if err := o.Handle(context.Background(), req); err != nil {
		t.Fatalf("handle: %v", err)
	}

	query, err := Encode(GetPurchaseState{CorrelationID: req.CorrelationID})
	if err != nil {
		t.Fatalf("encode query: %v", err)
	}
	replyEnv, err := localBus.Request(context.Background(), query)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if replyEnv.Kind != KindPurchaseStateReply || replyEnv.CorrelationID != req.CorrelationID {
		t.Fatalf("unexpected reply envelope: %+v", replyEnv)
	}

	var reply PurchaseStatusReply
	if err := json.Unmarshal(replyEnv.Payload, &reply); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if !reply.Found || reply.Status == nil || reply.Status.State != string(saga.StateAccepted) {
		t.Fatalf("unexpected reply: %+v", reply)
	}
}
