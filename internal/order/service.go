package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vendorhub/fulfillment-service/internal/cart"
	"github.com/vendorhub/fulfillment-service/internal/catalog"
	"github.com/vendorhub/fulfillment-service/internal/inventory"
)

// restoreAttempts bounds the compensating stock-restore retries before
// the orphaned reservation is escalated to the integrity log.
const restoreAttempts = 3

type PlaceOrderInput struct {
	UserID          uuid.UUID
	ShippingAddress string
	FulfillmentType FulfillmentType
	ScheduledAt     *time.Time
}

type Service interface {
	// Checkout places a shipped order from the user's cart.
	Checkout(ctx context.Context, userID uuid.UUID, shippingAddress string) (*Order, error)
	// PlaceOrder runs the shared reserve -> create -> clear-cart saga.
	PlaceOrder(ctx context.Context, input PlaceOrderInput) (*Order, error)
	GetOrderByID(ctx context.Context, id uuid.UUID) (*Order, error)
	// ConfirmPickup is the customer's self-confirmation of an offline
	// pickup; it completes the order.
	ConfirmPickup(ctx context.Context, orderID, userID uuid.UUID) error
	// Cancel aborts an order that has not shipped and returns its
	// reserved stock.
	Cancel(ctx context.Context, orderID, userID uuid.UUID) error
}

type service struct {
	orders   Repository
	catalog  catalog.Repository
	carts    cart.Repository
	ledger   inventory.Ledger
	notifier StatusNotifier
}

func NewService(orders Repository, cat catalog.Repository, carts cart.Repository, ledger inventory.Ledger, notifier StatusNotifier) Service {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &service{orders: orders, catalog: cat, carts: carts, ledger: ledger, notifier: notifier}
}

func (s *service) Checkout(ctx context.Context, userID uuid.UUID, shippingAddress string) (*Order, error) {
	return s.PlaceOrder(ctx, PlaceOrderInput{
		UserID:          userID,
		ShippingAddress: shippingAddress,
		FulfillmentType: FulfillmentShipped,
	})
}

func (s *service) PlaceOrder(ctx context.Context, input PlaceOrderInput) (*Order, error) {
	cartItems, err := s.carts.ListItems(ctx, input.UserID)
	if err != nil {
		return nil, fmt.Errorf("service: failed to load cart: %w", err)
	}
	if len(cartItems) == 0 {
		return nil, ErrEmptyCart
	}

	o, reservation, err := s.buildOrder(ctx, input, cartItems)
	if err != nil {
		return nil, err
	}

	// Step 1: atomic stock reservation. Nothing was written yet, so a
	// failure here needs no compensation.
	if err := s.ledger.Reserve(ctx, o.ID, reservation); err != nil {
		if errors.Is(err, inventory.ErrInsufficientStock) {
			return nil, err
		}
		return nil, fmt.Errorf("service: failed to reserve stock: %w", err)
	}

	// Step 2: persist the order. From here on a failure leaves a
	// decremented stock with no order, so the reservation is restored.
	if err := s.orders.CreateOrder(ctx, o); err != nil {
		s.restoreReservation(ctx, o.ID)
		return nil, fmt.Errorf("service: failed to create order: %w", err)
	}

	// Step 3: clear the originating cart. The order exists and stock is
	// consistent, so a failure here is logged, not rolled back.
	if err := s.carts.Clear(ctx, input.UserID); err != nil {
		log.Warn().Err(err).Stringer("order_id", o.ID).Stringer("user_id", input.UserID).
			Msg("service: failed to clear cart after order creation")
	}

	s.notifier.OrderStatusChanged(ctx, o.ID, "", o.Status)
	log.Info().Stringer("order_id", o.ID).Stringer("user_id", o.UserID).
		Str("fulfillment_type", string(o.FulfillmentType)).Float64("total", o.TotalAmount).
		Msg("service: order placed")
	return o, nil
}

func (s *service) buildOrder(ctx context.Context, input PlaceOrderInput, cartItems []cart.Item) (*Order, []inventory.ReservationItem, error) {
	ids := make([]uuid.UUID, 0, len(cartItems))
	for _, it := range cartItems {
		if it.Quantity <= 0 {
			return nil, nil, fmt.Errorf("service: %w: quantity %d for product %s",
				inventory.ErrInvalidQuantity, it.Quantity, it.ProductID)
		}
		ids = append(ids, it.ProductID)
	}

	products, err := s.catalog.GetByIDs(ctx, ids)
	if err != nil {
		return nil, nil, fmt.Errorf("service: failed to load products: %w", err)
	}

	orderID, err := uuid.NewV4()
	if err != nil {
		return nil, nil, fmt.Errorf("service: failed to generate order ID: %w", err)
	}

	o := &Order{
		ID:              orderID,
		UserID:          input.UserID,
		Type:            TypeStandard,
		Status:          StatusPending,
		FulfillmentType: input.FulfillmentType,
		ShippingAddress: input.ShippingAddress,
		ScheduledAt:     input.ScheduledAt,
	}
	if input.FulfillmentType == FulfillmentOfflinePickup {
		o.PickupStatus = PickupPending
	}

	reservation := make([]inventory.ReservationItem, 0, len(cartItems))
	for _, it := range cartItems {
		p, ok := products[it.ProductID]
		if !ok {
			return nil, nil, fmt.Errorf("service: %w: %s", catalog.ErrProductNotFound, it.ProductID)
		}
		if err := p.ValidateLinkage(); err != nil {
			return nil, nil, fmt.Errorf("service: product %s: %w", p.ID, err)
		}

		o.Items = append(o.Items, OrderItem{
			ProductID:       p.ID,
			SellerID:        p.SellerID,
			Quantity:        it.Quantity,
			PriceAtPurchase: p.Price,
			IsProxy:         p.IsProxy,
			WholesalerPrice: p.WholesalerPrice,
		})
		o.TotalAmount += p.Price * float64(it.Quantity)
		reservation = append(reservation, inventory.ReservationItem{ProductID: p.ID, Quantity: it.Quantity})
	}

	return o, reservation, nil
}

// restoreReservation returns an order's reserved stock. Exhausting the
// retries leaves an orphaned reservation, which is logged as an
// integrity event for operator replay; Restore stays retryable because
// released rows are skipped.
func (s *service) restoreReservation(ctx context.Context, orderID uuid.UUID) {
	var err error
	for attempt := 1; attempt <= restoreAttempts; attempt++ {
		if err = s.ledger.Restore(ctx, orderID); err == nil {
			log.Info().Stringer("order_id", orderID).Int("attempt", attempt).
				Msg("service: reservation restored")
			return
		}
	}
	log.Error().Err(err).Stringer("order_id", orderID).
		Msg("service: integrity event: orphaned reservation could not be restored")
}

func (s *service) GetOrderByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("service: failed to fetch order by id: %w", err)
	}
	return o, nil
}

func (s *service) ConfirmPickup(ctx context.Context, orderID, userID uuid.UUID) error {
	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return ErrOrderNotFound
		}
		return fmt.Errorf("service: failed to fetch order for pickup confirmation: %w", err)
	}
	if o.UserID != userID {
		return ErrNotOrderOwner
	}
	if err := o.ValidateTransition(StatusDelivered); err != nil {
		return err
	}

	if err := s.orders.ConfirmPickup(ctx, orderID); err != nil {
		return fmt.Errorf("service: failed to confirm pickup: %w", err)
	}

	s.notifier.OrderStatusChanged(ctx, orderID, o.Status, StatusDelivered)
	log.Info().Stringer("order_id", orderID).Msg("service: pickup confirmed, order delivered")
	return nil
}

func (s *service) Cancel(ctx context.Context, orderID, userID uuid.UUID) error {
	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return ErrOrderNotFound
		}
		return fmt.Errorf("service: failed to fetch order for cancellation: %w", err)
	}
	if o.UserID != userID {
		return ErrNotOrderOwner
	}
	if err := o.ValidateTransition(StatusCancelled); err != nil {
		return err
	}

	// The guard on the previous status loses the race against a
	// concurrent dispatch instead of cancelling a shipped order.
	if err := s.orders.UpdateStatus(ctx, orderID, o.Status, StatusCancelled); err != nil {
		return err
	}
	s.restoreReservation(ctx, orderID)

	s.notifier.OrderStatusChanged(ctx, orderID, o.Status, StatusCancelled)
	log.Info().Stringer("order_id", orderID).Msg("service: order cancelled, stock returned")
	return nil
}
