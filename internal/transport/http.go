package transport

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/vendorhub/fulfillment-service/internal/handler"
)

func NewRouter(orders *handler.OrderHandler, fulfillment *handler.FulfillmentHandler) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(middleware.Timeout(15 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	r.Post("/checkout", orders.Checkout)
	r.Post("/pickups", orders.SchedulePickup)
	r.Get("/orders/{id}", orders.GetOrderByID)
	r.Get("/orders/{id}/status", orders.GetOrderStatus)
	r.Post("/orders/{id}/pickup-confirm", orders.ConfirmPickup)
	r.Post("/orders/{id}/cancel", orders.Cancel)

	r.Post("/orders/{id}/payment", fulfillment.ConfirmPayment)
	r.Post("/orders/{id}/dispatch", fulfillment.Dispatch)
	r.Post("/products/{id}/stock", fulfillment.AdjustStock)

	return r
}
