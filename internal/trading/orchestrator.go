package trading

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"

	"tradepost/internal/outbox"
	"tradepost/internal/trading/saga"
)

// Orchestrator drives purchase sagas: it consumes inbound events, loads or
// creates the instance for the correlation id, applies the transition
// machine, and persists the new state together with its outbound messages
// in one unit of work. Concurrent writes to the same instance are detected
// by the store's version check and resolved by reload-and-reapply.
type Orchestrator struct {
	machine      *Machine
	store        saga.Store
	logf         func(format string, args ...any)
	maxRetries   int
	onTransition func(state saga.State)
}

// NewOrchestrator constructs an Orchestrator.
func NewOrchestrator(machine *Machine, store saga.Store, logf func(format string, args ...any)) *Orchestrator {
	if logf == nil {
		logf = log.Printf
	}
	return &Orchestrator{
		machine:    machine,
		store:      store,
		logf:       logf,
		maxRetries: 5,
	}
}

// OnTransition registers a callback invoked after every persisted
// transition, e.g. to count states in metrics.
func (o *Orchestrator) OnTransition(fn func(state saga.State)) {
	o.onTransition = fn
}

// Handle processes one inbound event. Duplicates and out-of-order events
// are absorbed; an event for an unknown correlation id is an error unless
// it is the creating PurchaseRequested.
func (o *Orchestrator) Handle(ctx context.Context, msg Message) error {
	correlationID := msg.Correlation()
	if correlationID == uuid.Nil {
		return fmt.Errorf("%s event without correlation id", msg.Kind())
	}

	for attempt := 0; attempt < o.maxRetries; attempt++ {
		instance, err := o.store.Load(ctx, correlationID)
		var expected int64
		switch {
		case err == nil:
			expected = instance.Version
		case errors.Is(err, saga.ErrNotFound):
			if msg.Kind() != KindPurchaseRequested {
				return fmt.Errorf("no saga %s for %s event", correlationID, msg.Kind())
			}
			instance = saga.PurchaseSaga{
				CorrelationID: correlationID,
				CurrentState:  saga.StateInitial,
			}
		default:
			return err
		}

		// A repeated creation request never alters an existing saga.
		if msg.Kind() == KindPurchaseRequested && instance.CurrentState != saga.StateInitial {
			return nil
		}

		step, err := o.machine.Apply(ctx, instance, msg)
		if err != nil {
			return err
		}
		if !step.Applied {
			return nil
		}

		entries, err := outboxEntries(step.Outbound)
		if err != nil {
			return err
		}

		err = o.store.Save(ctx, step.Saga, expected, entries)
		if errors.Is(err, saga.ErrVersionConflict) {
			o.logf("saga %s: concurrent write on %s, retrying", correlationID, msg.Kind())
			continue
		}
		if err != nil {
			return err
		}
		if o.onTransition != nil {
			o.onTransition(step.Saga.CurrentState)
		}
		return nil
	}

	return fmt.Errorf("saga %s: gave up after %d conflicted attempts on %s", correlationID, o.maxRetries, msg.Kind())
}

// Status answers the current saga snapshot for a correlation id. Unknown
// ids return saga.ErrNotFound and never create an instance.
func (o *Orchestrator) Status(ctx context.Context, correlationID uuid.UUID) (PurchaseStatus, error) {
	instance, err := o.store.Load(ctx, correlationID)
	if err != nil {
		return PurchaseStatus{}, err
	}
	return PurchaseStatus{
		CorrelationID: instance.CorrelationID,
		UserID:        instance.UserID,
		ItemID:        instance.ItemID,
		PurchaseTotal: instance.PurchaseTotal,
		Quantity:      instance.Quantity,
		State:         string(instance.CurrentState),
		Reason:        instance.ErrorMessage,
		Received:      instance.Received,
		LastUpdated:   instance.LastUpdated,
	}, nil
}

func outboxEntries(outbound []Message) ([]outbox.Entry, error) {
	entries := make([]outbox.Entry, 0, len(outbound))
	for _, msg := range outbound {
		payload, err := json.Marshal(msg)
		if err != nil {
			return nil, fmt.Errorf("encode outbound %s: %w", msg.Kind(), err)
		}
		entries = append(entries, outbox.Entry{
			Kind:          msg.Kind(),
			CorrelationID: msg.Correlation(),
			Payload:       payload,
		})
	}
	return entries, nil
}
