package order

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidTransition       = errors.New("invalid order status transition")
	ErrWholesalerPaymentUnpaid = errors.New("wholesaler payment not confirmed")
)

// Shipped orders walk the full chain; pickup orders collapse the middle
// states and go straight to delivered on pickup confirmation.
var shippedTransitions = map[Status]map[Status]bool{
	StatusPending:    {StatusProcessing: true, StatusInTransit: true, StatusCancelled: true},
	StatusProcessing: {StatusInTransit: true, StatusCancelled: true},
	StatusInTransit:  {StatusDelivered: true},
	StatusDelivered:  {},
	StatusCancelled:  {},
}

var pickupTransitions = map[Status]map[Status]bool{
	StatusPending:    {StatusDelivered: true, StatusCancelled: true},
	StatusProcessing: {StatusCancelled: true},
	StatusInTransit:  {},
	StatusDelivered:  {},
	StatusCancelled:  {},
}

// TransitionError reports a rejected status move. It matches
// errors.Is(err, ErrInvalidTransition).
type TransitionError struct {
	From, To Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid order status transition from %s to %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// ValidateTransition rejects any move the state machine does not allow:
// backward moves, cancellation past processing, and advancing a
// proxy-sourced order through the payment gate before the retailer has
// paid the wholesaler.
func (o *Order) ValidateTransition(to Status) error {
	transitions := shippedTransitions
	if o.FulfillmentType == FulfillmentOfflinePickup {
		transitions = pickupTransitions
	}
	if !transitions[o.Status][to] {
		return &TransitionError{From: o.Status, To: to}
	}
	if (to == StatusInTransit || to == StatusDelivered) && o.HasProxyItems() && !o.WholesalerPaymentMade {
		return fmt.Errorf("order %s: %w", o.ID, ErrWholesalerPaymentUnpaid)
	}
	return nil
}
