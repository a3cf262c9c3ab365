package proxy_test

import (
	"context"
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vendorhub/fulfillment-service/internal/catalog"
	"github.com/vendorhub/fulfillment-service/internal/inventory"
	"github.com/vendorhub/fulfillment-service/internal/order"
	"github.com/vendorhub/fulfillment-service/internal/proxy"
)

type mockOrderRepository struct {
	getByIDFunc     func(ctx context.Context, id uuid.UUID) (*order.Order, error)
	markPaymentFunc func(ctx context.Context, id uuid.UUID) error
}

func (m *mockOrderRepository) CreateOrder(ctx context.Context, o *order.Order) error { return nil }

func (m *mockOrderRepository) GetByID(ctx context.Context, id uuid.UUID) (*order.Order, error) {
	return m.getByIDFunc(ctx, id)
}

func (m *mockOrderRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to order.Status) error {
	return nil
}

func (m *mockOrderRepository) MarkDispatched(ctx context.Context, id uuid.UUID, from order.Status, shippedAt time.Time, destination string) error {
	return nil
}

func (m *mockOrderRepository) MarkReadyForPickup(ctx context.Context, id uuid.UUID, at time.Time) error {
	return nil
}

func (m *mockOrderRepository) ConfirmPickup(ctx context.Context, id uuid.UUID) error { return nil }

func (m *mockOrderRepository) MarkWholesalerPaymentMade(ctx context.Context, id uuid.UUID) error {
	return m.markPaymentFunc(ctx, id)
}

func (m *mockOrderRepository) SweepDelivered(ctx context.Context, shippedBefore time.Time) ([]uuid.UUID, error) {
	return nil, nil
}

type mockCatalogRepository struct {
	products map[uuid.UUID]*catalog.Product
}

func (m *mockCatalogRepository) GetByID(ctx context.Context, id uuid.UUID) (*catalog.Product, error) {
	p, ok := m.products[id]
	if !ok {
		return nil, catalog.ErrProductNotFound
	}
	return p, nil
}

func (m *mockCatalogRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*catalog.Product, error) {
	return m.products, nil
}

type mockFulfillRepository struct {
	fulfillFunc func(ctx context.Context, p proxy.FulfillParams) (uuid.UUID, error)
}

func (m *mockFulfillRepository) Fulfill(ctx context.Context, p proxy.FulfillParams) (uuid.UUID, error) {
	return m.fulfillFunc(ctx, p)
}

type memoryDeduper struct {
	seen map[string]bool
}

func newMemoryDeduper() *memoryDeduper { return &memoryDeduper{seen: make(map[string]bool)} }

func (d *memoryDeduper) Seen(ctx context.Context, key string) (bool, error) {
	return d.seen[key], nil
}

func (d *memoryDeduper) Mark(ctx context.Context, key string) error {
	d.seen[key] = true
	return nil
}

type fixture struct {
	customerOrderID uuid.UUID
	orderItemID     uuid.UUID
	retailerID      uuid.UUID
	wholesalerID    uuid.UUID
	proxyProductID  uuid.UUID
	sourceProductID uuid.UUID

	order    *order.Order
	products map[uuid.UUID]*catalog.Product
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{}
	for _, dst := range []*uuid.UUID{
		&f.customerOrderID, &f.orderItemID, &f.retailerID,
		&f.wholesalerID, &f.proxyProductID, &f.sourceProductID,
	} {
		id, err := uuid.NewV4()
		require.NoError(t, err)
		*dst = id
	}

	wholesalerPrice := 100.0
	f.order = &order.Order{
		ID:                    f.customerOrderID,
		Status:                order.StatusPending,
		FulfillmentType:       order.FulfillmentShipped,
		ShippingAddress:       "12 Main St",
		WholesalerPaymentMade: true,
		Items: []order.OrderItem{{
			ID:              f.orderItemID,
			OrderID:         f.customerOrderID,
			ProductID:       f.proxyProductID,
			SellerID:        f.retailerID,
			Quantity:        2,
			PriceAtPurchase: 115.0,
			IsProxy:         true,
			WholesalerPrice: &wholesalerPrice,
		}},
	}
	f.products = map[uuid.UUID]*catalog.Product{
		f.proxyProductID: {
			ID: f.proxyProductID, SellerID: f.retailerID, Price: 115.0, IsProxy: true,
			WholesalerProductID: &f.sourceProductID, WholesalerID: &f.wholesalerID,
			WholesalerPrice: &wholesalerPrice,
		},
		f.sourceProductID: {ID: f.sourceProductID, SellerID: f.wholesalerID, Price: 100.0, StockQuantity: 50},
	}
	return f
}

func (f *fixture) orchestrator(repo proxy.Repository, dedup proxy.Deduper) *proxy.Orchestrator {
	return proxy.NewOrchestrator(
		&mockOrderRepository{
			getByIDFunc: func(ctx context.Context, id uuid.UUID) (*order.Order, error) {
				return f.order, nil
			},
			markPaymentFunc: func(ctx context.Context, id uuid.UUID) error {
				f.order.WholesalerPaymentMade = true
				return nil
			},
		},
		&mockCatalogRepository{products: f.products},
		repo, dedup, nil, proxy.DefaultMarkup,
	)
}

func TestOrchestrator_Fulfill_Success(t *testing.T) {
	f := newFixture(t)
	fulfillmentID, err := uuid.NewV4()
	require.NoError(t, err)

	var got proxy.FulfillParams
	orch := f.orchestrator(&mockFulfillRepository{
		fulfillFunc: func(ctx context.Context, p proxy.FulfillParams) (uuid.UUID, error) {
			got = p
			return fulfillmentID, nil
		},
	}, nil)

	res, err := orch.Fulfill(context.Background(), f.customerOrderID, f.orderItemID)
	require.NoError(t, err)

	assert.Equal(t, f.orderItemID, res.OrderItemID)
	assert.Equal(t, fulfillmentID, res.WholesalerOrderID)

	assert.Equal(t, f.customerOrderID, got.CustomerOrderID)
	assert.Equal(t, f.orderItemID, got.OrderItemID)
	assert.Equal(t, f.retailerID, got.RetailerID)
	assert.Equal(t, f.wholesalerID, got.WholesalerID)
	assert.Equal(t, f.sourceProductID, got.SourceProductID)
	assert.Equal(t, 2, got.Quantity)
	assert.Equal(t, "12 Main St", got.CustomerAddress)
	// Sale-time capture wins over the markup formula.
	assert.InDelta(t, 100.0, got.CostBasis, 0.001)
}

func TestOrchestrator_Fulfill_CostBasisFallback(t *testing.T) {
	f := newFixture(t)
	f.order.Items[0].WholesalerPrice = nil

	var got proxy.FulfillParams
	orch := f.orchestrator(&mockFulfillRepository{
		fulfillFunc: func(ctx context.Context, p proxy.FulfillParams) (uuid.UUID, error) {
			got = p
			id, _ := uuid.NewV4()
			return id, nil
		},
	}, nil)

	_, err := orch.Fulfill(context.Background(), f.customerOrderID, f.orderItemID)
	require.NoError(t, err)
	assert.InDelta(t, 115.0/proxy.DefaultMarkup, got.CostBasis, 0.001)
}

func TestOrchestrator_Fulfill_AlreadyLinked(t *testing.T) {
	f := newFixture(t)
	link, err := uuid.NewV4()
	require.NoError(t, err)
	f.order.Items[0].FulfillmentOrderID = &link

	var repoCalled bool
	orch := f.orchestrator(&mockFulfillRepository{
		fulfillFunc: func(ctx context.Context, p proxy.FulfillParams) (uuid.UUID, error) {
			repoCalled = true
			return uuid.Nil, nil
		},
	}, nil)

	_, err = orch.Fulfill(context.Background(), f.customerOrderID, f.orderItemID)
	assert.ErrorIs(t, err, proxy.ErrAlreadyFulfilled)
	assert.False(t, repoCalled, "a linked line must never reach the stock deduction")
}

func TestOrchestrator_Fulfill_DeduperShortCircuits(t *testing.T) {
	f := newFixture(t)
	dedup := newMemoryDeduper()

	var repoCalls int
	orch := f.orchestrator(&mockFulfillRepository{
		fulfillFunc: func(ctx context.Context, p proxy.FulfillParams) (uuid.UUID, error) {
			repoCalls++
			id, _ := uuid.NewV4()
			return id, nil
		},
	}, dedup)

	_, err := orch.Fulfill(context.Background(), f.customerOrderID, f.orderItemID)
	require.NoError(t, err)

	_, err = orch.Fulfill(context.Background(), f.customerOrderID, f.orderItemID)
	assert.ErrorIs(t, err, proxy.ErrAlreadyFulfilled)
	assert.Equal(t, 1, repoCalls, "the retry must not deduct stock a second time")
}

func TestOrchestrator_Fulfill_PaymentGate(t *testing.T) {
	f := newFixture(t)
	f.order.WholesalerPaymentMade = false

	orch := f.orchestrator(&mockFulfillRepository{
		fulfillFunc: func(ctx context.Context, p proxy.FulfillParams) (uuid.UUID, error) {
			t.Fatal("stock must not move before payment confirmation")
			return uuid.Nil, nil
		},
	}, nil)

	_, err := orch.Fulfill(context.Background(), f.customerOrderID, f.orderItemID)
	assert.ErrorIs(t, err, order.ErrWholesalerPaymentUnpaid)
}

func TestOrchestrator_Fulfill_NotProxyItem(t *testing.T) {
	f := newFixture(t)
	f.order.Items[0].IsProxy = false

	orch := f.orchestrator(&mockFulfillRepository{}, nil)

	_, err := orch.Fulfill(context.Background(), f.customerOrderID, f.orderItemID)
	assert.ErrorIs(t, err, proxy.ErrNotProxyItem)
}

func TestOrchestrator_Fulfill_ItemNotFound(t *testing.T) {
	f := newFixture(t)
	orch := f.orchestrator(&mockFulfillRepository{}, nil)

	strayID, err := uuid.NewV4()
	require.NoError(t, err)
	_, err = orch.Fulfill(context.Background(), f.customerOrderID, strayID)
	assert.ErrorIs(t, err, proxy.ErrItemNotFound)
}

func TestOrchestrator_Fulfill_LinkageInconsistency(t *testing.T) {
	f := newFixture(t)
	f.products[f.proxyProductID].WholesalerProductID = nil

	orch := f.orchestrator(&mockFulfillRepository{}, nil)

	_, err := orch.Fulfill(context.Background(), f.customerOrderID, f.orderItemID)
	assert.ErrorIs(t, err, catalog.ErrLinkageInconsistency)
}

func TestOrchestrator_Fulfill_SourceIsProxy(t *testing.T) {
	f := newFixture(t)
	other, err := uuid.NewV4()
	require.NoError(t, err)
	f.products[f.sourceProductID].IsProxy = true
	f.products[f.sourceProductID].WholesalerProductID = &other
	f.products[f.sourceProductID].WholesalerID = &other

	orch := f.orchestrator(&mockFulfillRepository{}, nil)

	_, err = orch.Fulfill(context.Background(), f.customerOrderID, f.orderItemID)
	assert.ErrorIs(t, err, catalog.ErrLinkageInconsistency)
}

func TestOrchestrator_Fulfill_WholesalerOutOfStock(t *testing.T) {
	f := newFixture(t)

	orch := f.orchestrator(&mockFulfillRepository{
		fulfillFunc: func(ctx context.Context, p proxy.FulfillParams) (uuid.UUID, error) {
			return uuid.Nil, &inventory.InsufficientStockError{Shortages: []inventory.Shortage{
				{ProductID: p.SourceProductID, Requested: p.Quantity, Available: 0},
			}}
		},
	}, nil)

	_, err := orch.Fulfill(context.Background(), f.customerOrderID, f.orderItemID)
	assert.ErrorIs(t, err, proxy.ErrWholesalerOutOfStock)
}

func TestOrchestrator_ConfirmPayment_FulfillsOnlyProxyLines(t *testing.T) {
	f := newFixture(t)
	f.order.WholesalerPaymentMade = false

	plainItemID, err := uuid.NewV4()
	require.NoError(t, err)
	plainProductID, err := uuid.NewV4()
	require.NoError(t, err)
	f.order.Items = append(f.order.Items, order.OrderItem{
		ID: plainItemID, OrderID: f.customerOrderID, ProductID: plainProductID,
		SellerID: f.retailerID, Quantity: 1, PriceAtPurchase: 9.99,
	})

	var repoCalls int
	orch := f.orchestrator(&mockFulfillRepository{
		fulfillFunc: func(ctx context.Context, p proxy.FulfillParams) (uuid.UUID, error) {
			repoCalls++
			id, _ := uuid.NewV4()
			return id, nil
		},
	}, nil)

	results, err := orch.ConfirmPayment(context.Background(), f.customerOrderID)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, f.orderItemID, results[0].OrderItemID)
	assert.Equal(t, 1, repoCalls)
	assert.True(t, f.order.WholesalerPaymentMade)
}

func TestOrchestrator_ConfirmPayment_FulfillsEveryProxyLine(t *testing.T) {
	f := newFixture(t)
	f.order.WholesalerPaymentMade = false

	// Second proxy line against the same source listing.
	secondItemID, err := uuid.NewV4()
	require.NoError(t, err)
	wholesalerPrice := 100.0
	f.order.Items = append(f.order.Items, order.OrderItem{
		ID: secondItemID, OrderID: f.customerOrderID, ProductID: f.proxyProductID,
		SellerID: f.retailerID, Quantity: 3, PriceAtPurchase: 115.0,
		IsProxy: true, WholesalerPrice: &wholesalerPrice,
	})

	var gotItems []uuid.UUID
	orch := f.orchestrator(&mockFulfillRepository{
		fulfillFunc: func(ctx context.Context, p proxy.FulfillParams) (uuid.UUID, error) {
			gotItems = append(gotItems, p.OrderItemID)
			id, _ := uuid.NewV4()
			return id, nil
		},
	}, nil)

	results, err := orch.ConfirmPayment(context.Background(), f.customerOrderID)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, []uuid.UUID{f.orderItemID, secondItemID}, gotItems,
		"every proxy line gets its own dropship leg")
	assert.NotEqual(t, results[0].WholesalerOrderID, results[1].WholesalerOrderID)
}

func TestOrchestrator_ConfirmPayment_RetryAfterTransientFailure(t *testing.T) {
	f := newFixture(t)
	f.order.WholesalerPaymentMade = false

	var markCalls, repoCalls int
	orch := proxy.NewOrchestrator(
		&mockOrderRepository{
			getByIDFunc: func(ctx context.Context, id uuid.UUID) (*order.Order, error) {
				return f.order, nil
			},
			markPaymentFunc: func(ctx context.Context, id uuid.UUID) error {
				markCalls++
				if f.order.WholesalerPaymentMade {
					return order.ErrPaymentAlreadyConfirmed
				}
				f.order.WholesalerPaymentMade = true
				return nil
			},
		},
		&mockCatalogRepository{products: f.products},
		&mockFulfillRepository{
			fulfillFunc: func(ctx context.Context, p proxy.FulfillParams) (uuid.UUID, error) {
				repoCalls++
				if repoCalls == 1 {
					return uuid.Nil, &inventory.InsufficientStockError{Shortages: []inventory.Shortage{
						{ProductID: p.SourceProductID, Requested: p.Quantity, Available: 0},
					}}
				}
				id, _ := uuid.NewV4()
				return id, nil
			},
		},
		nil, nil, proxy.DefaultMarkup,
	)

	// The wholesaler is momentarily out of stock: payment is recorded
	// but the dropship leg fails.
	_, err := orch.ConfirmPayment(context.Background(), f.customerOrderID)
	assert.ErrorIs(t, err, proxy.ErrWholesalerOutOfStock)
	assert.True(t, f.order.WholesalerPaymentMade)

	// The retry must reach fulfillment despite the flag being set.
	results, err := orch.ConfirmPayment(context.Background(), f.customerOrderID)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 2, markCalls)
	assert.Equal(t, 2, repoCalls)
}

func TestOrchestrator_ConfirmPayment_SkipsFulfilledLines(t *testing.T) {
	f := newFixture(t)
	link, err := uuid.NewV4()
	require.NoError(t, err)
	f.order.Items[0].FulfillmentOrderID = &link

	pendingItemID, err := uuid.NewV4()
	require.NoError(t, err)
	wholesalerPrice := 100.0
	f.order.Items = append(f.order.Items, order.OrderItem{
		ID: pendingItemID, OrderID: f.customerOrderID, ProductID: f.proxyProductID,
		SellerID: f.retailerID, Quantity: 1, PriceAtPurchase: 115.0,
		IsProxy: true, WholesalerPrice: &wholesalerPrice,
	})

	var gotItems []uuid.UUID
	orch := f.orchestrator(&mockFulfillRepository{
		fulfillFunc: func(ctx context.Context, p proxy.FulfillParams) (uuid.UUID, error) {
			gotItems = append(gotItems, p.OrderItemID)
			id, _ := uuid.NewV4()
			return id, nil
		},
	}, nil)

	results, err := orch.ConfirmPayment(context.Background(), f.customerOrderID)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, pendingItemID, results[0].OrderItemID)
	assert.Equal(t, []uuid.UUID{pendingItemID}, gotItems,
		"fulfilled lines are skipped, not re-deducted")
}
