package bindings

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	bindingdomain "smartpot-app-go/internal/domain/binding"
	"smartpot-app-go/internal/transport/httpserver/handler/common"
	"smartpot-app-go/internal/transport/httpserver/middleware"
	"smartpot-app-go/pkg/logger"
)

type Enforcer interface {
	FlowerState(ctx context.Context, flowerID string) (*bindingdomain.Flower, bindingdomain.Outcome, error)
	PotState(ctx context.Context, serial string) (*bindingdomain.SmartPot, bindingdomain.Outcome, error)
	Unbind(ctx context.Context, flowerID string) (bindingdomain.Outcome, error)
	UnbindPot(ctx context.Context, serial string) (bindingdomain.Outcome, error)
	CheckMembership(ctx context.Context, userID string, householdIDs ...string) error
}

type Handlers struct {
	Bindings Enforcer
	log      logger.Logger
}

func New(bindings Enforcer, log logger.Logger) *Handlers {
	return &Handlers{
		Bindings: bindings,
		log:      logger.OrNop(log).Component("http"),
	}
}

type bindingResponse struct {
	FlowerID    string  `json:"flowerId"`
	HouseholdID string  `json:"householdId,omitempty"`
	State       string  `json:"state"`
	Serial      *string `json:"serial"`
	Repaired    bool    `json:"repaired"`
}

func (h *Handlers) GetFlowerBinding(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		common.WriteUnauthorized(w)
		return
	}
	flowerID := chi.URLParam(r, "id")

	flower, outcome, err := h.Bindings.FlowerState(r.Context(), flowerID)
	if err == nil {
		err = h.Bindings.CheckMembership(r.Context(), userID, flower.HouseholdID)
	}
	if err != nil {
		common.WriteDomainError(w, h.log, "bindings.get", err, "user_id", userID, "flower_id", flowerID)
		return
	}

	resp := toBindingResponse(outcome)
	resp.FlowerID = flower.ID
	resp.HouseholdID = flower.HouseholdID
	common.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handlers) DisconnectFlower(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		common.WriteUnauthorized(w)
		return
	}
	flowerID := chi.URLParam(r, "id")

	flower, _, err := h.Bindings.FlowerState(r.Context(), flowerID)
	if err == nil {
		err = h.Bindings.CheckMembership(r.Context(), userID, flower.HouseholdID)
	}
	var outcome bindingdomain.Outcome
	if err == nil {
		outcome, err = h.Bindings.Unbind(r.Context(), flowerID)
	}
	if err != nil {
		common.WriteDomainError(w, h.log, "bindings.disconnect_flower", err, "user_id", userID, "flower_id", flowerID)
		return
	}

	h.log.Info("bindings.disconnect_flower: done", "user_id", userID, "flower_id", flowerID)
	resp := toBindingResponse(outcome)
	resp.FlowerID = flowerID
	resp.HouseholdID = flower.HouseholdID
	common.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handlers) DisconnectSmartPot(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		common.WriteUnauthorized(w)
		return
	}
	serial := chi.URLParam(r, "serial")

	pot, _, err := h.Bindings.PotState(r.Context(), serial)
	if err == nil {
		err = h.Bindings.CheckMembership(r.Context(), userID, pot.Household())
	}
	var outcome bindingdomain.Outcome
	if err == nil {
		outcome, err = h.Bindings.UnbindPot(r.Context(), serial)
	}
	if err != nil {
		common.WriteDomainError(w, h.log, "bindings.disconnect_smart_pot", err, "user_id", userID, "serial", serial)
		return
	}

	h.log.Info("bindings.disconnect_smart_pot: done", "user_id", userID, "serial", serial, "flower_id", outcome.FlowerID)
	common.WriteJSON(w, http.StatusOK, map[string]any{
		"serial":      pot.SerialNumber,
		"householdId": pot.HouseholdID,
		"flowerId":    nil,
		"state":       bindingdomain.OutcomeUnbound.String(),
	})
}

func toBindingResponse(outcome bindingdomain.Outcome) bindingResponse {
	resp := bindingResponse{FlowerID: outcome.FlowerID, State: bindingdomain.OutcomeUnbound.String(), Repaired: outcome.Repaired}
	if pair, ok := outcome.Bound(); ok {
		serial := pair.SerialNumber
		resp.State = bindingdomain.OutcomeBound.String()
		resp.Serial = &serial
	}
	return resp
}
