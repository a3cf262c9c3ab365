package proxy

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vendorhub/fulfillment-service/internal/catalog"
	"github.com/vendorhub/fulfillment-service/internal/inventory"
	"github.com/vendorhub/fulfillment-service/internal/order"
)

var (
	ErrAlreadyFulfilled     = errors.New("proxy fulfillment already completed for this order")
	ErrItemNotFound         = errors.New("order item not found")
	ErrNotProxyItem         = errors.New("order item is not proxy-sourced")
	ErrWholesalerOutOfStock = errors.New("wholesaler out of stock")
)

// DefaultMarkup is the fixed factor applied when a proxy listing is
// imported. Used only as a cost-basis fallback when the sale-time
// capture is missing.
const DefaultMarkup = 1.15

// costDivergenceTolerance is the relative gap between the stored cost
// basis and the derived one above which a divergence is flagged.
const costDivergenceTolerance = 0.01

// Deduper is the short-lived duplicate-suppression cache in front of
// the database-level idempotency check.
type Deduper interface {
	Seen(ctx context.Context, key string) (bool, error)
	Mark(ctx context.Context, key string) error
}

// Result reports the created wholesaler fulfillment order.
type Result struct {
	OrderItemID       uuid.UUID `json:"order_item_id"`
	WholesalerOrderID uuid.UUID `json:"wholesaler_order_id"`
}

// Orchestrator converts a retailer's payment-to-wholesaler confirmation
// into the source stock deduction and the linked dropship order the
// wholesaler fulfills. The wholesaler's internal order is never exposed
// to the end customer.
type Orchestrator struct {
	orders   order.Repository
	catalog  catalog.Repository
	repo     Repository
	dedup    Deduper
	notifier order.StatusNotifier
	markup   float64
}

func NewOrchestrator(orders order.Repository, cat catalog.Repository, repo Repository, dedup Deduper, notifier order.StatusNotifier, markup float64) *Orchestrator {
	if notifier == nil {
		notifier = order.NopNotifier{}
	}
	if markup <= 1 {
		markup = DefaultMarkup
	}
	return &Orchestrator{orders: orders, catalog: cat, repo: repo, dedup: dedup, notifier: notifier, markup: markup}
}

// ConfirmPayment records the retailer's payment on the customer order
// and fulfills every proxy line item. This is the payment gate: nothing
// proxy-sourced moves before this call. It is also the retry path: a
// repeated call keeps the already-set flag, skips lines that already
// fulfilled, and picks up the ones a transient failure left behind.
func (f *Orchestrator) ConfirmPayment(ctx context.Context, customerOrderID uuid.UUID) ([]Result, error) {
	if err := f.orders.MarkWholesalerPaymentMade(ctx, customerOrderID); err != nil {
		if !errors.Is(err, order.ErrPaymentAlreadyConfirmed) {
			return nil, err
		}
		log.Info().Stringer("order_id", customerOrderID).
			Msg("orchestrator: payment already confirmed, retrying unfulfilled lines")
	}

	o, err := f.orders.GetByID(ctx, customerOrderID)
	if err != nil {
		return nil, err
	}

	var results []Result
	for _, it := range o.Items {
		if !it.IsProxy {
			continue
		}
		res, err := f.Fulfill(ctx, customerOrderID, it.ID)
		if errors.Is(err, ErrAlreadyFulfilled) {
			continue
		}
		if err != nil {
			return results, err
		}
		results = append(results, *res)
	}
	return results, nil
}

// Fulfill runs the dropship leg for one proxy line item. A second
// invocation for the same (order item, customer order) pair is rejected
// without touching stock.
func (f *Orchestrator) Fulfill(ctx context.Context, customerOrderID, orderItemID uuid.UUID) (*Result, error) {
	dedupKey := fmt.Sprintf("proxy:%s:%s", customerOrderID, orderItemID)
	if f.dedup != nil {
		if seen, err := f.dedup.Seen(ctx, dedupKey); err == nil && seen {
			return nil, ErrAlreadyFulfilled
		}
	}

	o, err := f.orders.GetByID(ctx, customerOrderID)
	if err != nil {
		return nil, err
	}

	var item *order.OrderItem
	for i := range o.Items {
		if o.Items[i].ID == orderItemID {
			item = &o.Items[i]
			break
		}
	}
	if item == nil {
		return nil, fmt.Errorf("%w: %s in order %s", ErrItemNotFound, orderItemID, customerOrderID)
	}
	if !item.IsProxy {
		return nil, fmt.Errorf("%w: %s", ErrNotProxyItem, orderItemID)
	}
	if item.FulfillmentOrderID != nil {
		return nil, ErrAlreadyFulfilled
	}
	if !o.WholesalerPaymentMade {
		return nil, fmt.Errorf("order %s: %w", customerOrderID, order.ErrWholesalerPaymentUnpaid)
	}

	// Resolve and verify the proxy linkage before any mutation.
	p, err := f.catalog.GetByID(ctx, item.ProductID)
	if err != nil {
		return nil, err
	}
	if err := p.ValidateLinkage(); err != nil {
		return nil, fmt.Errorf("product %s: %w", p.ID, err)
	}
	source, err := f.catalog.GetByID(ctx, *p.WholesalerProductID)
	if err != nil {
		return nil, err
	}
	if source.IsProxy {
		return nil, fmt.Errorf("product %s: source %s is itself a proxy: %w",
			p.ID, source.ID, catalog.ErrLinkageInconsistency)
	}

	cost := f.costBasis(item, customerOrderID)

	fulfillmentID, err := f.repo.Fulfill(ctx, FulfillParams{
		CustomerOrderID: customerOrderID,
		OrderItemID:     orderItemID,
		RetailerID:      item.SellerID,
		WholesalerID:    *p.WholesalerID,
		SourceProductID: *p.WholesalerProductID,
		Quantity:        item.Quantity,
		CostBasis:       cost,
		CustomerAddress: o.ShippingAddress,
	})
	if err != nil {
		if errors.Is(err, inventory.ErrInsufficientStock) {
			return nil, fmt.Errorf("%w: %v", ErrWholesalerOutOfStock, err)
		}
		return nil, err
	}

	if f.dedup != nil {
		if err := f.dedup.Mark(ctx, dedupKey); err != nil {
			log.Warn().Err(err).Str("key", dedupKey).Msg("orchestrator: failed to mark dedup key")
		}
	}

	if o.Status != order.StatusInTransit {
		f.notifier.OrderStatusChanged(ctx, customerOrderID, o.Status, order.StatusInTransit)
	}
	f.notifier.OrderStatusChanged(ctx, fulfillmentID, "", order.StatusInTransit)
	log.Info().Stringer("order_id", customerOrderID).Stringer("order_item_id", orderItemID).
		Stringer("wholesaler_order_id", fulfillmentID).Float64("cost_basis", cost).
		Msg("orchestrator: proxy fulfillment committed")

	return &Result{OrderItemID: orderItemID, WholesalerOrderID: fulfillmentID}, nil
}

// costBasis prefers the cost captured on the order item at sale time.
// The import-markup formula is a fallback only; when both exist and
// disagree beyond tolerance the divergence is flagged, not trusted.
func (f *Orchestrator) costBasis(item *order.OrderItem, orderID uuid.UUID) float64 {
	derived := item.PriceAtPurchase / f.markup
	if item.WholesalerPrice == nil {
		return derived
	}

	stored := *item.WholesalerPrice
	if stored > 0 && math.Abs(stored-derived)/stored > costDivergenceTolerance {
		log.Warn().Stringer("order_id", orderID).Stringer("order_item_id", item.ID).
			Float64("stored", stored).Float64("derived", derived).
			Msg("orchestrator: cost basis divergence between sale-time capture and markup formula")
	}
	return stored
}
