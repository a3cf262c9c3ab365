package catalog

import (
	"errors"
	"time"

	"github.com/gofrs/uuid"
)

var (
	ErrProductNotFound      = errors.New("product not found")
	ErrLinkageInconsistency = errors.New("proxy product missing wholesaler linkage")
)

// Product is the catalog read model. stock_quantity is the authoritative
// available-to-sell count and is mutated only through the inventory ledger.
type Product struct {
	ID            uuid.UUID `json:"id" db:"id"`
	SellerID      uuid.UUID `json:"seller_id" db:"seller_id"`
	Name          string    `json:"name" db:"name"`
	Price         float64   `json:"price" db:"price"`
	StockQuantity int       `json:"stock_quantity" db:"stock_quantity"`

	// Proxy linkage: a retailer-owned listing mirroring a wholesaler's
	// product. WholesalerPrice is the cost snapshot taken at import time
	// and may be stale; fulfillment math uses the per-order-item capture.
	IsProxy             bool       `json:"is_proxy" db:"is_proxy"`
	WholesalerProductID *uuid.UUID `json:"wholesaler_product_id,omitempty" db:"wholesaler_product_id"`
	WholesalerID        *uuid.UUID `json:"wholesaler_id,omitempty" db:"wholesaler_id"`
	WholesalerPrice     *float64   `json:"wholesaler_price,omitempty" db:"wholesaler_price"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// ValidateLinkage rejects a proxy product whose wholesaler references are
// incomplete. Must pass before any fulfillment mutation.
func (p *Product) ValidateLinkage() error {
	if !p.IsProxy {
		return nil
	}
	if p.WholesalerProductID == nil || p.WholesalerID == nil {
		return ErrLinkageInconsistency
	}
	return nil
}
