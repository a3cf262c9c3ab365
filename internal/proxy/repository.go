package proxy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vendorhub/fulfillment-service/internal/inventory"
	"github.com/vendorhub/fulfillment-service/internal/order"
)

// FulfillParams is everything the single-transaction dropship commit
// needs: the source deduction, the wholesaler order to create, and the
// customer order line to link and advance.
type FulfillParams struct {
	CustomerOrderID uuid.UUID
	OrderItemID     uuid.UUID
	RetailerID      uuid.UUID
	WholesalerID    uuid.UUID
	SourceProductID uuid.UUID
	Quantity        int
	CostBasis       float64
	CustomerAddress string
}

type Repository interface {
	// Fulfill deducts the wholesaler's source stock, creates the linked
	// dropship order and links the customer order line, all in one
	// transaction. There is no window in which stock has moved without
	// the linked order existing.
	Fulfill(ctx context.Context, p FulfillParams) (uuid.UUID, error)
}

type postgresRepository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &postgresRepository{db: db}
}

func (r *postgresRepository) Fulfill(ctx context.Context, p FulfillParams) (uuid.UUID, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("repository: failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Lock the customer order so two payment confirmations for the same
	// order serialize here.
	var (
		status      string
		paymentMade bool
	)
	err = tx.QueryRow(ctx, `
		SELECT status, wholesaler_payment_made
		FROM orders WHERE id = $1
		FOR UPDATE`, p.CustomerOrderID).Scan(&status, &paymentMade)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, order.ErrOrderNotFound
		}
		return uuid.Nil, fmt.Errorf("repository: failed to lock order %s: %w", p.CustomerOrderID, err)
	}

	if !paymentMade {
		return uuid.Nil, fmt.Errorf("order %s: %w", p.CustomerOrderID, order.ErrWholesalerPaymentUnpaid)
	}
	// in_transit is allowed: an earlier proxy line may already have
	// advanced the order; the remaining lines still fulfill.
	from := order.Status(status)
	if from != order.StatusPending && from != order.StatusProcessing && from != order.StatusInTransit {
		return uuid.Nil, &order.TransitionError{From: from, To: order.StatusInTransit}
	}

	// Each proxy line fulfills exactly once; the link column under the
	// row lock is the idempotency key.
	var existingLink *uuid.UUID
	err = tx.QueryRow(ctx, `
		SELECT wholesaler_fulfillment_order_id
		FROM order_items WHERE id = $1 AND order_id = $2
		FOR UPDATE`, p.OrderItemID, p.CustomerOrderID).Scan(&existingLink)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, fmt.Errorf("%w: %s in order %s", ErrItemNotFound, p.OrderItemID, p.CustomerOrderID)
		}
		return uuid.Nil, fmt.Errorf("repository: failed to lock order item %s: %w", p.OrderItemID, err)
	}
	if existingLink != nil {
		return uuid.Nil, ErrAlreadyFulfilled
	}

	fulfillmentID, err := uuid.NewV4()
	if err != nil {
		return uuid.Nil, fmt.Errorf("repository: failed to generate fulfillment order ID: %w", err)
	}

	// Deduct the wholesaler's source stock. The reservation is keyed by
	// the fresh fulfillment order id, so it never collides with the
	// checkout reservation a customer may hold on the same source
	// product, and the dropship restore path stays independent.
	err = inventory.ReserveTx(ctx, tx, fulfillmentID, []inventory.ReservationItem{
		{ProductID: p.SourceProductID, Quantity: p.Quantity},
	})
	if err != nil {
		return uuid.Nil, err
	}

	now := time.Now().UTC()
	shippedAt := now
	fulfillment := &order.Order{
		ID:              fulfillmentID,
		UserID:          p.RetailerID,
		Type:            order.TypeDropshipInbound,
		Status:          order.StatusInTransit,
		FulfillmentType: order.FulfillmentShipped,
		TotalAmount:     p.CostBasis * float64(p.Quantity),
		ShippingAddress: p.CustomerAddress,
		ShippedAt:       &shippedAt,
		// The retailer has already paid; the dropship leg starts gated
		// open and links back to the customer order.
		WholesalerPaymentMade:        true,
		WholesalerFulfillmentOrderID: &p.CustomerOrderID,
		CreatedAt:                    now,
		UpdatedAt:                    now,
		Items: []order.OrderItem{{
			ProductID:       p.SourceProductID,
			SellerID:        p.WholesalerID,
			Quantity:        p.Quantity,
			PriceAtPurchase: p.CostBasis,
		}},
	}
	if err := order.InsertOrderTx(ctx, tx, fulfillment); err != nil {
		return uuid.Nil, err
	}

	ct, err := tx.Exec(ctx, `
		UPDATE order_items SET wholesaler_fulfillment_order_id = $1
		WHERE id = $2 AND wholesaler_fulfillment_order_id IS NULL`,
		fulfillmentID, p.OrderItemID,
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("repository: failed to link order item %s: %w", p.OrderItemID, err)
	}
	if ct.RowsAffected() == 0 {
		return uuid.Nil, ErrAlreadyFulfilled
	}

	if from != order.StatusInTransit {
		ct, err := tx.Exec(ctx, `
			UPDATE orders SET status = $1, shipped_at = $2, updated_at = $3
			WHERE id = $4 AND status = $5`,
			string(order.StatusInTransit), shippedAt, now, p.CustomerOrderID, status,
		)
		if err != nil {
			return uuid.Nil, fmt.Errorf("repository: failed to advance order %s: %w", p.CustomerOrderID, err)
		}
		if ct.RowsAffected() == 0 {
			return uuid.Nil, order.ErrStaleStatus
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, fmt.Errorf("repository: failed to commit fulfillment for order %s: %w", p.CustomerOrderID, err)
	}
	return fulfillmentID, nil
}
