// Package delivery talks to the settlement service that transfers purchased
// items on chain.
package delivery

import (
	"context"
	"errors"
	"fmt"

	"nftstore/internal/model"
)

// State is the settlement service's own vocabulary for an operation.
type State string

const (
	StatePending    State = "pending"
	StateProcessing State = "processing"
	StateWaiting    State = "waiting"
	StateConfirmed  State = "confirmed"
	StateUnknown    State = "unknown"
	StateRejected   State = "rejected"
	StateFailed     State = "failed"
	StateLost       State = "lost"
	StateCanary     State = "canary"
)

// ErrRejected marks a transfer the settlement service answered with a
// refusal. Nothing was sent and the transfer may be requested again. Any other
// Transfer error leaves the outcome unknown.
var ErrRejected = errors.New("transfer rejected")

type Service interface {
	// Transfer starts sending itemIDs to destination and returns the
	// operation id per item.
	Transfer(ctx context.Context, itemIDs []uint64, destination string) (map[uint64]string, error)
	OperationState(ctx context.Context, operationID string) (State, error)
}

// ToDeliveryStatus maps a settlement state onto the status shown to buyers.
func ToDeliveryStatus(s State) (model.DeliveryStatus, error) {
	switch s {
	case StatePending:
		return model.DeliveryInitiating, nil
	case StateProcessing, StateWaiting:
		return model.DeliveryDelivering, nil
	case StateConfirmed:
		return model.DeliveryDelivered, nil
	case StateUnknown, StateRejected, StateFailed, StateLost, StateCanary:
		return model.DeliveryUnknown, nil
	default:
		return "", fmt.Errorf("unknown settlement state %q", s)
	}
}
