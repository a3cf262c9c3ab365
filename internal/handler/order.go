package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vendorhub/fulfillment-service/internal/catalog"
	"github.com/vendorhub/fulfillment-service/internal/inventory"
	"github.com/vendorhub/fulfillment-service/internal/order"
	"github.com/vendorhub/fulfillment-service/internal/pickup"
	"github.com/vendorhub/fulfillment-service/internal/proxy"
	"github.com/vendorhub/fulfillment-service/internal/shipping"
)

// StatusCache is the optional read-aside cache for the status endpoint.
type StatusCache interface {
	Get(ctx context.Context, orderID string) (string, bool)
	Set(ctx context.Context, orderID, status string)
}

// PickupScheduler is the slice of the scheduler the handler needs.
type PickupScheduler interface {
	Schedule(ctx context.Context, userID uuid.UUID, requestedAt time.Time) (*order.Order, error)
}

// OrderHandler handles the customer-facing order endpoints.
type OrderHandler struct {
	svc       order.Service
	scheduler PickupScheduler
	cache     StatusCache
	validate  *validator.Validate
}

func NewOrderHandler(svc order.Service, scheduler PickupScheduler, cache StatusCache) *OrderHandler {
	return &OrderHandler{svc: svc, scheduler: scheduler, cache: cache, validate: validator.New()}
}

type checkoutRequest struct {
	UserID          string `json:"user_id" validate:"required,uuid4"`
	ShippingAddress string `json:"shipping_address" validate:"required"`
}

type schedulePickupRequest struct {
	UserID      string    `json:"user_id" validate:"required,uuid4"`
	RequestedAt time.Time `json:"requested_at" validate:"required"`
}

type confirmPickupRequest struct {
	UserID string `json:"user_id" validate:"required,uuid4"`
}

type cancelOrderRequest struct {
	UserID string `json:"user_id" validate:"required,uuid4"`
}

// Checkout places a shipped order from the user's cart.
func (h *OrderHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}
	userID, _ := uuid.FromString(req.UserID)

	o, err := h.svc.Checkout(r.Context(), userID, req.ShippingAddress)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

// SchedulePickup validates the requested slot and places an offline
// pickup order.
func (h *OrderHandler) SchedulePickup(w http.ResponseWriter, r *http.Request) {
	var req schedulePickupRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}
	userID, _ := uuid.FromString(req.UserID)

	o, err := h.scheduler.Schedule(r.Context(), userID, req.RequestedAt)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

// GetOrderByID returns the full order with its items.
func (h *OrderHandler) GetOrderByID(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	o, err := h.svc.GetOrderByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if h.cache != nil {
		h.cache.Set(r.Context(), id.String(), string(o.Status))
	}
	writeJSON(w, http.StatusOK, o)
}

// GetOrderStatus serves the status value the change feed would deliver,
// read-aside cached.
func (h *OrderHandler) GetOrderStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	if h.cache != nil {
		if s, hit := h.cache.Get(r.Context(), id.String()); hit {
			writeJSON(w, http.StatusOK, map[string]string{"status": s})
			return
		}
	}

	o, err := h.svc.GetOrderByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if h.cache != nil {
		h.cache.Set(r.Context(), id.String(), string(o.Status))
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(o.Status)})
}

// ConfirmPickup is the customer's collection confirmation for an
// offline pickup order.
func (h *OrderHandler) ConfirmPickup(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var req confirmPickupRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}
	userID, _ := uuid.FromString(req.UserID)

	if err := h.svc.ConfirmPickup(r.Context(), id, userID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(order.StatusDelivered)})
}

// Cancel aborts an order that has not shipped and returns its stock.
func (h *OrderHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var req cancelOrderRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}
	userID, _ := uuid.FromString(req.UserID)

	if err := h.svc.Cancel(r.Context(), id, userID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(order.StatusCancelled)})
}

func parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := chi.URLParam(r, "id")
	if raw == "" {
		http.Error(w, "id is required", http.StatusBadRequest)
		return uuid.Nil, false
	}
	id, err := uuid.FromString(raw)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func decodeAndValidate(w http.ResponseWriter, r *http.Request, validate *validator.Validate, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	if err := validate.Struct(dst); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			http.Error(w, validationErrors.Error(), http.StatusBadRequest)
			return false
		}
		http.Error(w, "invalid request", http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Info().Msgf("Failed to encode response: %v", err)
	}
}

// writeError maps domain errors onto HTTP codes. Internal defects get a
// generic 500 so the raw error never surfaces to users.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, order.ErrOrderNotFound), errors.Is(err, catalog.ErrProductNotFound),
		errors.Is(err, inventory.ErrUnknownProduct), errors.Is(err, proxy.ErrItemNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, inventory.ErrInsufficientStock), errors.Is(err, proxy.ErrWholesalerOutOfStock):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, proxy.ErrAlreadyFulfilled), errors.Is(err, order.ErrPaymentAlreadyConfirmed),
		errors.Is(err, order.ErrStaleStatus):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, order.ErrInvalidTransition), errors.Is(err, order.ErrWholesalerPaymentUnpaid):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, pickup.ErrInvalidWindow), errors.Is(err, order.ErrEmptyCart),
		errors.Is(err, inventory.ErrInvalidQuantity), errors.Is(err, proxy.ErrNotProxyItem):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, order.ErrNotOrderOwner), errors.Is(err, shipping.ErrNotPermitted),
		errors.Is(err, shipping.ErrNotSeller):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, catalog.ErrLinkageInconsistency):
		log.Error().Err(err).Msg("handler: linkage inconsistency")
		http.Error(w, "internal error", http.StatusInternalServerError)
	default:
		log.Error().Err(err).Msg("handler: internal error")
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
