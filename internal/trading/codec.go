package trading

import (
	"encoding/json"
	"fmt"
	"strings"

	"tradepost/internal/bus"
)

// Encode wraps a message in a bus envelope.
func Encode(msg Message) (bus.Envelope, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return bus.Envelope{}, fmt.Errorf("encode %s: %w", msg.Kind(), err)
	}
	return bus.NewEnvelope(msg.Kind(), msg.Correlation(), payload), nil
}

// Decode turns a bus envelope back into a typed message.
func Decode(env bus.Envelope) (Message, error) {
	if strings.HasPrefix(env.Kind, faultPrefix) {
		var f Fault
		if err := json.Unmarshal(env.Payload, &f); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Kind, err)
		}
		if f.OriginalKind == "" {
			f.OriginalKind = strings.TrimPrefix(env.Kind, faultPrefix)
		}
		return f, nil
	}

	switch env.Kind {
	case KindPurchaseRequested:
		return decodeAs[PurchaseRequested](env)
	case KindInventoryItemsGranted:
		return decodeAs[InventoryItemsGranted](env)
	case KindGilDebited:
		return decodeAs[GilDebited](env)
	case KindGetPurchaseState:
		return decodeAs[GetPurchaseState](env)
	case KindGrantItems:
		return decodeAs[GrantItems](env)
	case KindDebitGil:
		return decodeAs[DebitGil](env)
	case KindSubtractItems:
		return decodeAs[SubtractItems](env)
	case KindPurchaseCompleted:
		return decodeAs[PurchaseCompleted](env)
	case KindPurchaseStatusChanged:
		return decodeAs[PurchaseStatusChanged](env)
	default:
		return nil, fmt.Errorf("decode: unknown kind %q", env.Kind)
	}
}

func decodeAs[T Message](env bus.Envelope) (Message, error) {
	var m T
	if err := json.Unmarshal(env.Payload, &m); err != nil {
		return nil, fmt.Errorf("decode %s: %w", env.Kind, err)
	}
	return m, nil
}
