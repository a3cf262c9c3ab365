package handler

import (
	"context"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid"
	"github.com/vendorhub/fulfillment-service/internal/actor"
	"github.com/vendorhub/fulfillment-service/internal/inventory"
	"github.com/vendorhub/fulfillment-service/internal/proxy"
)

// PaymentConfirmer is the orchestrator surface the handler needs.
type PaymentConfirmer interface {
	ConfirmPayment(ctx context.Context, customerOrderID uuid.UUID) ([]proxy.Result, error)
}

// OrderDispatcher is the dispatcher surface the handler needs.
type OrderDispatcher interface {
	Dispatch(ctx context.Context, act actor.Actor, orderID uuid.UUID) error
}

// FulfillmentHandler handles the seller-facing fulfillment endpoints.
type FulfillmentHandler struct {
	confirmer  PaymentConfirmer
	dispatcher OrderDispatcher
	ledger     inventory.Ledger
	validate   *validator.Validate
}

func NewFulfillmentHandler(confirmer PaymentConfirmer, dispatcher OrderDispatcher, ledger inventory.Ledger) *FulfillmentHandler {
	return &FulfillmentHandler{confirmer: confirmer, dispatcher: dispatcher, ledger: ledger, validate: validator.New()}
}

type dispatchRequest struct {
	ActorID string `json:"actor_id" validate:"required,uuid4"`
	Role    string `json:"role" validate:"required"`
}

type adjustStockRequest struct {
	Quantity int    `json:"quantity"`
	Mode     string `json:"mode" validate:"required,oneof=add subtract set"`
}

// ConfirmPayment records the retailer's payment to the wholesaler and
// triggers the dropship fulfillment of every proxy line item.
func (h *FulfillmentHandler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	results, err := h.confirmer.ConfirmPayment(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"fulfillments": results})
}

// Dispatch advances an order on behalf of the selling actor.
func (h *FulfillmentHandler) Dispatch(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var req dispatchRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	role, err := actor.ParseRole(req.Role)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	actorID, _ := uuid.FromString(req.ActorID)

	if err := h.dispatcher.Dispatch(r.Context(), actor.Actor{ID: actorID, Role: role}, id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "dispatched"})
}

// AdjustStock is the administrative single-product correction.
func (h *FulfillmentHandler) AdjustStock(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var req adjustStockRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	mode, err := inventory.ParseAdjustMode(req.Mode)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.ledger.Adjust(r.Context(), id, req.Quantity, mode); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "adjusted"})
}
