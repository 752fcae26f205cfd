package broker

import (
	"context"

	"github.com/Mindburn-Labs/tradegate/pkg/contracts"
)

// readOnlyVenue passes reads through and refuses every mutation of
// broker state. Market data and portfolio queries stay available so
// read-only deployments can still reconcile and monitor.
type readOnlyVenue struct {
	Broker
}

// ReadOnly wraps a venue so order mutations fail with ErrReadOnly.
func ReadOnly(b Broker) Broker {
	return &readOnlyVenue{Broker: b}
}

func (v *readOnlyVenue) SubmitOrder(context.Context, contracts.OrderIntent, string) (*contracts.SubmitResult, error) {
	return nil, ErrReadOnly
}

func (v *readOnlyVenue) CancelOrder(context.Context, string) error {
	return ErrReadOnly
}
