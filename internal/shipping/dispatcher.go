package shipping

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vendorhub/fulfillment-service/internal/actor"
	"github.com/vendorhub/fulfillment-service/internal/order"
)

var (
	ErrNotPermitted = errors.New("actor may not dispatch orders")
	ErrNotSeller    = errors.New("actor does not sell any item in this order")
)

// ShopDirectory resolves a retailer's registered shop address. Buyers
// without a shop are end customers.
type ShopDirectory interface {
	ShopAddress(ctx context.Context, retailerID uuid.UUID) (string, error)
}

// Dispatcher advances an order once its line items are ready. The acting
// party must be the seller of at least one item; destination and gating
// depend on the actor's role and the order's proxy state.
type Dispatcher struct {
	orders   order.Repository
	shops    ShopDirectory
	notifier order.StatusNotifier
	dwell    time.Duration
	now      func() time.Time
}

func NewDispatcher(orders order.Repository, shops ShopDirectory, notifier order.StatusNotifier, dwell time.Duration) *Dispatcher {
	if notifier == nil {
		notifier = order.NopNotifier{}
	}
	return &Dispatcher{orders: orders, shops: shops, notifier: notifier, dwell: dwell, now: time.Now}
}

// WithClock overrides the dispatcher's clock.
func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now
	return d
}

// Dispatch moves a shipped order to in_transit, or marks a pickup order
// ready at the store. Customers never dispatch; the role switch is
// exhaustive over the closed role set.
func (d *Dispatcher) Dispatch(ctx context.Context, act actor.Actor, orderID uuid.UUID) error {
	o, err := d.orders.GetByID(ctx, orderID)
	if err != nil {
		return err
	}

	switch act.Role {
	case actor.RoleCustomer:
		return ErrNotPermitted
	case actor.RoleRetailer, actor.RoleWholesaler:
		// Sellers dispatch below.
	default:
		return fmt.Errorf("shipping: unknown role %q: %w", act.Role, ErrNotPermitted)
	}

	if !o.OwnsItems(act.ID) {
		return ErrNotSeller
	}

	if o.FulfillmentType == order.FulfillmentOfflinePickup {
		return d.markReady(ctx, o)
	}

	destination, err := d.resolveDestination(ctx, act, o)
	if err != nil {
		return err
	}

	// Covers the monotonic check and the wholesaler payment gate.
	if err := o.ValidateTransition(order.StatusInTransit); err != nil {
		return err
	}

	shippedAt := d.now().UTC()
	if err := d.orders.MarkDispatched(ctx, o.ID, o.Status, shippedAt, destination); err != nil {
		return err
	}

	d.notifier.OrderStatusChanged(ctx, o.ID, o.Status, order.StatusInTransit)
	log.Info().Stringer("order_id", o.ID).Stringer("actor_id", act.ID).Str("role", act.Role.String()).
		Str("destination", destination).Msg("dispatcher: order dispatched")
	return nil
}

// resolveDestination picks where the shipment goes. A wholesaler
// shipping to a buyer with a registered shop ships to that shop (the
// retailer restocks a paid proxy purchase); everything else goes to the
// order's shipping address.
func (d *Dispatcher) resolveDestination(ctx context.Context, act actor.Actor, o *order.Order) (string, error) {
	if act.Role != actor.RoleWholesaler || o.Type == order.TypeDropshipInbound {
		return o.ShippingAddress, nil
	}

	addr, err := d.shops.ShopAddress(ctx, o.UserID)
	if err != nil {
		if errors.Is(err, ErrShopNotFound) {
			return o.ShippingAddress, nil
		}
		return "", fmt.Errorf("dispatcher: failed to resolve shop address for %s: %w", o.UserID, err)
	}
	return addr, nil
}

// markReady records the "ready at store" action for a pickup order. The
// status stays pending until the customer confirms collection.
func (d *Dispatcher) markReady(ctx context.Context, o *order.Order) error {
	if err := d.orders.MarkReadyForPickup(ctx, o.ID, d.now().UTC()); err != nil {
		return err
	}
	log.Info().Stringer("order_id", o.ID).Msg("dispatcher: pickup order ready at store")
	return nil
}

// CompleteDeliveries sweeps in_transit orders whose dispatch is older
// than the delivery dwell into delivered.
func (d *Dispatcher) CompleteDeliveries(ctx context.Context) (int, error) {
	ids, err := d.orders.SweepDelivered(ctx, d.now().UTC().Add(-d.dwell))
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		d.notifier.OrderStatusChanged(ctx, id, order.StatusInTransit, order.StatusDelivered)
	}
	if len(ids) > 0 {
		log.Info().Int("count", len(ids)).Msg("dispatcher: auto-completed deliveries")
	}
	return len(ids), nil
}
