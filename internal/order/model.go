package order

import (
	"context"
	"errors"
	"time"

	"github.com/gofrs/uuid"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusInTransit  Status = "in_transit"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
)

func (s Status) String() string {
	return string(s)
}

type FulfillmentType string

const (
	FulfillmentShipped       FulfillmentType = "shipped"
	FulfillmentOfflinePickup FulfillmentType = "offline_pickup"
)

// OrderType distinguishes customer-facing orders from the internal
// orders a proxy fulfillment creates for the wholesaler.
type OrderType string

const (
	TypeStandard        OrderType = "standard"
	TypeDropshipInbound OrderType = "dropship_inbound"
)

type PickupStatus string

const (
	PickupPending   PickupStatus = "pending"
	PickupCompleted PickupStatus = "completed"
)

var (
	ErrOrderNotFound           = errors.New("order not found")
	ErrEmptyCart               = errors.New("cart is empty")
	ErrNotOrderOwner           = errors.New("order belongs to another user")
	ErrStaleStatus             = errors.New("order status changed concurrently")
	ErrPaymentAlreadyConfirmed = errors.New("wholesaler payment already confirmed")
)

type OrderItem struct {
	ID              uuid.UUID `json:"id" db:"id"`
	OrderID         uuid.UUID `json:"order_id" db:"order_id"`
	ProductID       uuid.UUID `json:"product_id" db:"product_id"`
	SellerID        uuid.UUID `json:"seller_id" db:"seller_id"`
	Quantity        int       `json:"quantity" db:"quantity"`
	PriceAtPurchase float64   `json:"price_at_purchase" db:"price_at_purchase"`

	// Proxy capture at sale time. IsProxy and WholesalerPrice are frozen
	// here because the product's own fields may change after the sale.
	IsProxy         bool     `json:"is_proxy" db:"is_proxy"`
	WholesalerPrice *float64 `json:"wholesaler_price,omitempty" db:"wholesaler_price"`

	// FulfillmentOrderID links this line to the wholesaler order created
	// for it. Each proxy line fulfills independently, so the link lives
	// here rather than on the order.
	FulfillmentOrderID *uuid.UUID `json:"wholesaler_fulfillment_order_id,omitempty" db:"wholesaler_fulfillment_order_id"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type Order struct {
	ID              uuid.UUID       `json:"id" db:"id"`
	UserID          uuid.UUID       `json:"user_id" db:"user_id"`
	Type            OrderType       `json:"type" db:"type"`
	Status          Status          `json:"status" db:"status"`
	FulfillmentType FulfillmentType `json:"fulfillment_type" db:"fulfillment_type"`
	TotalAmount     float64         `json:"total_amount" db:"total_amount"`
	ShippingAddress string          `json:"shipping_address,omitempty" db:"shipping_address"`

	// Offline pickup only.
	ScheduledAt  *time.Time   `json:"scheduled_at,omitempty" db:"scheduled_at"`
	PickupStatus PickupStatus `json:"pickup_status,omitempty" db:"pickup_status"`

	// Shipped only.
	ShippedAt *time.Time `json:"shipped_at,omitempty" db:"shipped_at"`

	// Proxy fulfillment linkage. WholesalerPaymentMade gates the dropship
	// leg; on a dropship_inbound order WholesalerFulfillmentOrderID is
	// the back-link to the customer order it fulfills. Customer orders
	// link forward per line item instead.
	WholesalerPaymentMade        bool       `json:"wholesaler_payment_made" db:"wholesaler_payment_made"`
	WholesalerFulfillmentOrderID *uuid.UUID `json:"wholesaler_fulfillment_order_id,omitempty" db:"wholesaler_fulfillment_order_id"`

	Items []OrderItem `json:"items" db:"-"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// HasProxyItems reports whether any line item was sold off a proxy
// listing, which makes the whole order subject to the payment gate.
func (o *Order) HasProxyItems() bool {
	for _, it := range o.Items {
		if it.IsProxy {
			return true
		}
	}
	return false
}

// OwnsItems reports whether sellerID is the selling party of at least
// one line item.
func (o *Order) OwnsItems(sellerID uuid.UUID) bool {
	for _, it := range o.Items {
		if it.SellerID == sellerID {
			return true
		}
	}
	return false
}

// StatusNotifier receives authoritative status writes. Implementations
// are fire-and-forget; delivery is a collaborator concern.
type StatusNotifier interface {
	OrderStatusChanged(ctx context.Context, orderID uuid.UUID, from, to Status)
}

// NopNotifier discards notifications.
type NopNotifier struct{}

func (NopNotifier) OrderStatusChanged(context.Context, uuid.UUID, Status, Status) {}
