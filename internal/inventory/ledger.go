package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrUnknownProduct    = errors.New("unknown product")
	ErrInvalidQuantity   = errors.New("invalid quantity")
)

// ReservationItem is one (product, quantity) pair of a reservation request.
type ReservationItem struct {
	ProductID uuid.UUID `json:"product_id"`
	Quantity  int       `json:"quantity"`
}

// Shortage reports a product that could not cover the requested quantity.
type Shortage struct {
	ProductID uuid.UUID `json:"product_id"`
	Requested int       `json:"requested"`
	Available int       `json:"available"`
}

// InsufficientStockError carries every shortage found in a reservation
// attempt. It matches errors.Is(err, ErrInsufficientStock).
type InsufficientStockError struct {
	Shortages []Shortage
}

func (e *InsufficientStockError) Error() string {
	parts := make([]string, 0, len(e.Shortages))
	for _, s := range e.Shortages {
		parts = append(parts, fmt.Sprintf("%s (requested %d, available %d)", s.ProductID, s.Requested, s.Available))
	}
	return "insufficient stock: " + strings.Join(parts, ", ")
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// AdjustMode selects the semantics of a single-product stock adjustment.
type AdjustMode string

const (
	AdjustAdd      AdjustMode = "add"
	AdjustSubtract AdjustMode = "subtract"
	AdjustSet      AdjustMode = "set"
)

func ParseAdjustMode(s string) (AdjustMode, error) {
	switch AdjustMode(s) {
	case AdjustAdd, AdjustSubtract, AdjustSet:
		return AdjustMode(s), nil
	default:
		return "", fmt.Errorf("inventory: unknown adjust mode %q", s)
	}
}

// Ledger is the single point of truth for stock changes. A multi-item
// Reserve either fully succeeds or leaves no visible change, and
// stock_quantity never goes below zero under any interleaving: the
// check-and-decrement runs under a row lock inside one transaction.
type Ledger interface {
	Reserve(ctx context.Context, orderID uuid.UUID, items []ReservationItem) error
	Restore(ctx context.Context, orderID uuid.UUID) error
	Adjust(ctx context.Context, productID uuid.UUID, quantity int, mode AdjustMode) error
}

type pgxLedger struct {
	db *pgxpool.Pool
}

func NewLedger(db *pgxpool.Pool) Ledger {
	return &pgxLedger{db: db}
}

func (l *pgxLedger) Reserve(ctx context.Context, orderID uuid.UUID, items []ReservationItem) error {
	if len(items) == 0 {
		return fmt.Errorf("ledger: %w: no items to reserve", ErrInvalidQuantity)
	}

	tx, err := l.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ledger: failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := ReserveTx(ctx, tx, orderID, items); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ledger: failed to commit reservation for order %s: %w", orderID, err)
	}
	return nil
}

// ReserveTx runs the atomic check-and-decrement inside the caller's
// transaction, so a higher-level write sequence can share one commit.
// Lines already reserved for the same order are skipped, which makes a
// retry of the same reservation a no-op.
func ReserveTx(ctx context.Context, tx pgx.Tx, orderID uuid.UUID, items []ReservationItem) error {
	var shortages []Shortage

	for _, it := range items {
		if it.Quantity <= 0 {
			return fmt.Errorf("ledger: %w: quantity %d for product %s", ErrInvalidQuantity, it.Quantity, it.ProductID)
		}

		ct, err := tx.Exec(ctx, `
			INSERT INTO reservations (order_id, product_id, quantity, status)
			VALUES ($1, $2, $3, 'reserved')
			ON CONFLICT (order_id, product_id) DO NOTHING`,
			orderID, it.ProductID, it.Quantity)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
				return fmt.Errorf("ledger: %w: %s", ErrUnknownProduct, it.ProductID)
			}
			return fmt.Errorf("ledger: failed to record reservation: %w", err)
		}
		if ct.RowsAffected() == 0 {
			// Already reserved for this order.
			continue
		}

		var stock int
		err = tx.QueryRow(ctx,
			`SELECT stock_quantity FROM products WHERE id = $1 FOR UPDATE`, it.ProductID).Scan(&stock)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("ledger: %w: %s", ErrUnknownProduct, it.ProductID)
			}
			return fmt.Errorf("ledger: failed to lock product %s: %w", it.ProductID, err)
		}

		if stock < it.Quantity {
			shortages = append(shortages, Shortage{ProductID: it.ProductID, Requested: it.Quantity, Available: stock})
			continue
		}

		if _, err := tx.Exec(ctx,
			`UPDATE products SET stock_quantity = stock_quantity - $2, updated_at = now() WHERE id = $1`,
			it.ProductID, it.Quantity); err != nil {
			return fmt.Errorf("ledger: failed to decrement stock for product %s: %w", it.ProductID, err)
		}
	}

	if len(shortages) > 0 {
		// The caller's rollback discards every decrement made above.
		return &InsufficientStockError{Shortages: shortages}
	}
	return nil
}

// Restore compensates a reservation: stock goes back and the reservation
// rows flip to released, all in one transaction, so a retry after a
// partial failure is safe.
func (l *pgxLedger) Restore(ctx context.Context, orderID uuid.UUID) error {
	tx, err := l.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ledger: failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT product_id, quantity FROM reservations
		WHERE order_id = $1 AND status = 'reserved'
		FOR UPDATE`, orderID)
	if err != nil {
		return fmt.Errorf("ledger: failed to query reservations for order %s: %w", orderID, err)
	}

	var items []ReservationItem
	for rows.Next() {
		var it ReservationItem
		if err := rows.Scan(&it.ProductID, &it.Quantity); err != nil {
			rows.Close()
			return fmt.Errorf("ledger: failed to scan reservation: %w", err)
		}
		items = append(items, it)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("ledger: error iterating reservations: %w", err)
	}

	for _, it := range items {
		if _, err := tx.Exec(ctx,
			`UPDATE products SET stock_quantity = stock_quantity + $2, updated_at = now() WHERE id = $1`,
			it.ProductID, it.Quantity); err != nil {
			return fmt.Errorf("ledger: failed to restore stock for product %s: %w", it.ProductID, err)
		}
	}
	if _, err := tx.Exec(ctx,
		`UPDATE reservations SET status = 'released' WHERE order_id = $1 AND status = 'reserved'`,
		orderID); err != nil {
		return fmt.Errorf("ledger: failed to release reservations for order %s: %w", orderID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ledger: failed to commit restore for order %s: %w", orderID, err)
	}
	return nil
}

// Adjust is the administrative single-product correction. Subtract fails
// rather than drive stock negative; set overwrites the current value.
func (l *pgxLedger) Adjust(ctx context.Context, productID uuid.UUID, quantity int, mode AdjustMode) error {
	if quantity < 0 || (quantity == 0 && mode != AdjustSet) {
		return fmt.Errorf("ledger: %w: quantity %d for mode %s", ErrInvalidQuantity, quantity, mode)
	}

	tx, err := l.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ledger: failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var stock int
	err = tx.QueryRow(ctx,
		`SELECT stock_quantity FROM products WHERE id = $1 FOR UPDATE`, productID).Scan(&stock)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("ledger: %w: %s", ErrUnknownProduct, productID)
		}
		return fmt.Errorf("ledger: failed to lock product %s: %w", productID, err)
	}

	var next int
	switch mode {
	case AdjustAdd:
		next = stock + quantity
	case AdjustSubtract:
		if stock < quantity {
			return &InsufficientStockError{Shortages: []Shortage{{ProductID: productID, Requested: quantity, Available: stock}}}
		}
		next = stock - quantity
	case AdjustSet:
		next = quantity
	default:
		return fmt.Errorf("inventory: unknown adjust mode %q", mode)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE products SET stock_quantity = $2, updated_at = now() WHERE id = $1`,
		productID, next); err != nil {
		return fmt.Errorf("ledger: failed to update stock for product %s: %w", productID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ledger: failed to commit adjustment for product %s: %w", productID, err)
	}
	return nil
}
