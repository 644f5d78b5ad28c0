package trading

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"tradepost/internal/bus"
	"tradepost/internal/trading/saga"
)

// Register wires the orchestrator onto the bus: one subscription per
// inbound event kind and the responder for status queries.
func Register(b bus.Bus, o *Orchestrator) {
	handler := func(ctx context.Context, env bus.Envelope) error {
		msg, err := Decode(env)
		if err != nil {
			return err
		}
		return o.Handle(ctx, msg)
	}

	inbound := []string{
		KindPurchaseRequested,
		KindInventoryItemsGranted,
		KindGilDebited,
		FaultKind(KindGrantItems),
		FaultKind(KindDebitGil),
		FaultKind(KindPurchaseRequested),
		FaultKind(KindInventoryItemsGranted),
	}
	for _, kind := range inbound {
		b.Subscribe(kind, handler)
	}

	b.Respond(KindGetPurchaseState, func(ctx context.Context, env bus.Envelope) (bus.Envelope, error) {
		var query GetPurchaseState
		if err := json.Unmarshal(env.Payload, &query); err != nil {
			return bus.Envelope{}, fmt.Errorf("decode %s: %w", env.Kind, err)
		}

		reply := PurchaseStatusReply{}
		status, err := o.Status(ctx, query.CorrelationID)
		switch {
		case err == nil:
			reply.Found = true
			reply.Status = &status
		case errors.Is(err, saga.ErrNotFound):
			// Found stays false; querying never creates a saga.
		default:
			return bus.Envelope{}, err
		}

		payload, err := json.Marshal(reply)
		if err != nil {
			return bus.Envelope{}, err
		}
		return bus.NewEnvelope(KindPurchaseStateReply, query.CorrelationID, payload), nil
	})
}

// RequestStatus runs a synchronous status query over the bus. The second
// return is false when the correlation id has never been seen.
func RequestStatus(ctx context.Context, b bus.Bus, correlationID uuid.UUID) (PurchaseStatus, bool, error) {
	env, err := Encode(GetPurchaseState{CorrelationID: correlationID})
	if err != nil {
		return PurchaseStatus{}, false, err
	}

	replyEnv, err := b.Request(ctx, env)
	if err != nil {
		return PurchaseStatus{}, false, err
	}

	var reply PurchaseStatusReply
	if err := json.Unmarshal(replyEnv.Payload, &reply); err != nil {
		return PurchaseStatus{}, false, fmt.Errorf("decode status reply: %w", err)
	}
	if !reply.Found || reply.Status == nil {
		return PurchaseStatus{}, false, nil
	}
	return *reply.Status, true, nil
}
