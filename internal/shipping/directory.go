package shipping

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrShopNotFound = errors.New("no registered shop for user")

type postgresShopDirectory struct {
	db *pgxpool.Pool
}

// NewShopDirectory returns a ShopDirectory backed by the shops table.
func NewShopDirectory(db *pgxpool.Pool) ShopDirectory {
	return &postgresShopDirectory{db: db}
}

func (d *postgresShopDirectory) ShopAddress(ctx context.Context, retailerID uuid.UUID) (string, error) {
	var addr string
	err := d.db.QueryRow(ctx, `SELECT address FROM shops WHERE retailer_id = $1`, retailerID).Scan(&addr)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrShopNotFound
		}
		return "", fmt.Errorf("repository: failed to select shop for retailer %s: %w", retailerID, err)
	}
	return addr, nil
}
