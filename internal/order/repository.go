package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

type Repository interface {
	CreateOrder(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, id uuid.UUID) (*Order, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) error
	MarkDispatched(ctx context.Context, id uuid.UUID, from Status, shippedAt time.Time, destination string) error
	MarkReadyForPickup(ctx context.Context, id uuid.UUID, at time.Time) error
	ConfirmPickup(ctx context.Context, id uuid.UUID) error
	MarkWholesalerPaymentMade(ctx context.Context, id uuid.UUID) error
	SweepDelivered(ctx context.Context, shippedBefore time.Time) ([]uuid.UUID, error)
}

type postgresRepository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &postgresRepository{db: db}
}

const orderColumns = `id, user_id, type, status, fulfillment_type, total_amount, shipping_address,
	scheduled_at, pickup_status, shipped_at, wholesaler_payment_made, wholesaler_fulfillment_order_id,
	created_at, updated_at`

func (r *postgresRepository) CreateOrder(ctx context.Context, o *Order) (err error) {
	if o.ID == uuid.Nil {
		genID, genErr := uuid.NewV4()
		if genErr != nil {
			return fmt.Errorf("repository: failed to generate order ID: %w", genErr)
		}
		o.ID = genID
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("repository: failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				log.Error().Err(rbErr).Stringer("order_id", o.ID).Msg("repository: failed to rollback CreateOrder")
			}
			return
		}
		if commitErr := tx.Commit(ctx); commitErr != nil {
			err = fmt.Errorf("repository: failed to commit transaction: %w", commitErr)
		}
	}()

	now := time.Now().UTC()
	o.CreatedAt = now
	o.UpdatedAt = now

	if err = InsertOrderTx(ctx, tx, o); err != nil {
		return err
	}
	return nil
}

// InsertOrderTx writes the order and its items inside the caller's
// transaction. Shared with the proxy fulfillment repository, which joins
// the insert into a larger commit.
func InsertOrderTx(ctx context.Context, tx pgx.Tx, o *Order) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO orders (id, user_id, type, status, fulfillment_type, total_amount, shipping_address,
			scheduled_at, pickup_status, shipped_at, wholesaler_payment_made, wholesaler_fulfillment_order_id,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		o.ID, o.UserID, string(o.Type), string(o.Status), string(o.FulfillmentType), o.TotalAmount,
		o.ShippingAddress, o.ScheduledAt, nullableString(string(o.PickupStatus)), o.ShippedAt,
		o.WholesalerPaymentMade, o.WholesalerFulfillmentOrderID, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("repository: failed to insert order: %w", err)
	}

	for i := range o.Items {
		item := &o.Items[i]
		if item.ID == uuid.Nil {
			itemID, genErr := uuid.NewV4()
			if genErr != nil {
				return fmt.Errorf("repository: failed to generate order item ID: %w", genErr)
			}
			item.ID = itemID
		}
		item.OrderID = o.ID
		item.CreatedAt = o.CreatedAt

		_, err = tx.Exec(ctx, `
			INSERT INTO order_items (id, order_id, product_id, seller_id, quantity, price_at_purchase,
				is_proxy, wholesaler_price, wholesaler_fulfillment_order_id, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			item.ID, item.OrderID, item.ProductID, item.SellerID, item.Quantity, item.PriceAtPurchase,
			item.IsProxy, item.WholesalerPrice, item.FulfillmentOrderID, item.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("repository: failed to insert order item for order %s: %w", o.ID, err)
		}
	}
	return nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (r *postgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	return getOrderByID(ctx, r.db, id)
}

// querier covers both the pool and a transaction.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func getOrderByID(ctx context.Context, q querier, id uuid.UUID) (*Order, error) {
	var o Order
	var pickupStatus *string
	err := q.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id).Scan(
		&o.ID,
		&o.UserID,
		&o.Type,
		&o.Status,
		&o.FulfillmentType,
		&o.TotalAmount,
		&o.ShippingAddress,
		&o.ScheduledAt,
		&pickupStatus,
		&o.ShippedAt,
		&o.WholesalerPaymentMade,
		&o.WholesalerFulfillmentOrderID,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("repository: failed to select order %s: %w", id, err)
	}
	if pickupStatus != nil {
		o.PickupStatus = PickupStatus(*pickupStatus)
	}

	rows, err := q.Query(ctx, `
		SELECT id, order_id, product_id, seller_id, quantity, price_at_purchase, is_proxy,
			wholesaler_price, wholesaler_fulfillment_order_id, created_at
		FROM order_items
		WHERE order_id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query order items for order %s: %w", id, err)
	}
	defer rows.Close()

	items := make([]OrderItem, 0)
	for rows.Next() {
		var it OrderItem
		err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.SellerID, &it.Quantity,
			&it.PriceAtPurchase, &it.IsProxy, &it.WholesalerPrice, &it.FulfillmentOrderID, &it.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan order item for order %s: %w", id, err)
		}
		items = append(items, it)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating order items for order %s: %w", id, err)
	}
	o.Items = items

	return &o, nil
}

// UpdateStatus moves the order from one known status to another. The
// guard on the previous status turns a lost race into ErrStaleStatus
// instead of a silent backward write.
func (r *postgresRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) error {
	ct, err := r.db.Exec(ctx, `
		UPDATE orders SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`,
		string(to), time.Now().UTC(), id, string(from),
	)
	if err != nil {
		return fmt.Errorf("repository: failed to update status of order %s: %w", id, err)
	}
	if ct.RowsAffected() == 0 {
		return r.staleOrMissing(ctx, id)
	}
	return nil
}

func (r *postgresRepository) MarkDispatched(ctx context.Context, id uuid.UUID, from Status, shippedAt time.Time, destination string) error {
	ct, err := r.db.Exec(ctx, `
		UPDATE orders
		SET status = $1, shipped_at = $2, shipping_address = $3, updated_at = $4
		WHERE id = $5 AND status = $6`,
		string(StatusInTransit), shippedAt, destination, time.Now().UTC(), id, string(from),
	)
	if err != nil {
		return fmt.Errorf("repository: failed to mark order %s dispatched: %w", id, err)
	}
	if ct.RowsAffected() == 0 {
		return r.staleOrMissing(ctx, id)
	}
	return nil
}

// MarkReadyForPickup records the dispatcher action for a pickup order.
// The status stays pending; shipped_at carries the ready timestamp.
func (r *postgresRepository) MarkReadyForPickup(ctx context.Context, id uuid.UUID, at time.Time) error {
	ct, err := r.db.Exec(ctx, `
		UPDATE orders SET shipped_at = $1, updated_at = $2
		WHERE id = $3 AND fulfillment_type = $4 AND status = $5`,
		at, time.Now().UTC(), id, string(FulfillmentOfflinePickup), string(StatusPending),
	)
	if err != nil {
		return fmt.Errorf("repository: failed to mark order %s ready for pickup: %w", id, err)
	}
	if ct.RowsAffected() == 0 {
		return r.staleOrMissing(ctx, id)
	}
	return nil
}

func (r *postgresRepository) ConfirmPickup(ctx context.Context, id uuid.UUID) error {
	ct, err := r.db.Exec(ctx, `
		UPDATE orders
		SET pickup_status = $1, status = $2, updated_at = $3
		WHERE id = $4 AND fulfillment_type = $5 AND status = $6 AND pickup_status = $7`,
		string(PickupCompleted), string(StatusDelivered), time.Now().UTC(),
		id, string(FulfillmentOfflinePickup), string(StatusPending), string(PickupPending),
	)
	if err != nil {
		return fmt.Errorf("repository: failed to confirm pickup of order %s: %w", id, err)
	}
	if ct.RowsAffected() == 0 {
		return r.staleOrMissing(ctx, id)
	}
	return nil
}

func (r *postgresRepository) MarkWholesalerPaymentMade(ctx context.Context, id uuid.UUID) error {
	ct, err := r.db.Exec(ctx, `
		UPDATE orders SET wholesaler_payment_made = TRUE, updated_at = $1
		WHERE id = $2 AND wholesaler_payment_made = FALSE`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("repository: failed to mark wholesaler payment for order %s: %w", id, err)
	}
	if ct.RowsAffected() == 0 {
		var exists bool
		if qErr := r.db.QueryRow(ctx, `SELECT TRUE FROM orders WHERE id = $1`, id).Scan(&exists); qErr != nil {
			if errors.Is(qErr, pgx.ErrNoRows) {
				return ErrOrderNotFound
			}
			return fmt.Errorf("repository: failed to check order %s: %w", id, qErr)
		}
		return ErrPaymentAlreadyConfirmed
	}
	return nil
}

// SweepDelivered auto-completes shipped orders whose dispatch is older
// than the delivery dwell, and returns the ids it moved.
func (r *postgresRepository) SweepDelivered(ctx context.Context, shippedBefore time.Time) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx, `
		UPDATE orders SET status = $1, updated_at = $2
		WHERE status = $3 AND shipped_at IS NOT NULL AND shipped_at <= $4
		RETURNING id`,
		string(StatusDelivered), time.Now().UTC(), string(StatusInTransit), shippedBefore,
	)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to sweep delivered orders: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("repository: failed to scan swept order id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating swept orders: %w", err)
	}
	return ids, nil
}

func (r *postgresRepository) staleOrMissing(ctx context.Context, id uuid.UUID) error {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT TRUE FROM orders WHERE id = $1`, id).Scan(&exists)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrOrderNotFound
		}
		return fmt.Errorf("repository: failed to check order %s: %w", id, err)
	}
	return ErrStaleStatus
}
