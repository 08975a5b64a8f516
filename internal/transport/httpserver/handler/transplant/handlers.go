package transplant

import (
	"context"
	"net/http"
	"strings"

	transplantdomain "smartpot-app-go/internal/domain/transplant"
	"smartpot-app-go/internal/transport/httpserver/handler/common"
	"smartpot-app-go/internal/transport/httpserver/middleware"
	"smartpot-app-go/pkg/logger"
)

type Orchestrator interface {
	RebindSameHousehold(ctx context.Context, req transplantdomain.SameHouseholdRequest) (transplantdomain.SameHouseholdResult, error)
	TransplantFlower(ctx context.Context, req transplantdomain.FlowerTransplantRequest) (transplantdomain.FlowerTransplantResult, error)
	TransplantSmartPot(ctx context.Context, req transplantdomain.SmartPotTransplantRequest) (transplantdomain.SmartPotTransplantResult, error)
}

type Handlers struct {
	Transplants Orchestrator
	log         logger.Logger
}

func New(transplants Orchestrator, log logger.Logger) *Handlers {
	return &Handlers{
		Transplants: transplants,
		log:         logger.OrNop(log).Component("http"),
	}
}

type sameHouseholdRequest struct {
	FlowerID     string `json:"flowerId"`
	TargetSerial string `json:"targetSerial"`
}

type crossHouseholdRequest struct {
	FlowerID            string `json:"flowerId"`
	TargetHouseholdID   string `json:"targetHouseholdId"`
	KeepPot             bool   `json:"keepPot"`
	AssignVacatedPot    string `json:"assignVacatedPot,omitempty"`
	ReassignSourcePotTo string `json:"reassignSourcePotTo,omitempty"`
}

type smartPotTransplantRequest struct {
	Serial                 string `json:"serial"`
	TargetHouseholdID      string `json:"targetHouseholdId"`
	KeepFlower             bool   `json:"keepFlower"`
	AssignVacatedFlower    string `json:"assignVacatedFlower,omitempty"`
	ReassignSourceFlowerTo string `json:"reassignSourceFlowerTo,omitempty"`
}

type transplantReport struct {
	ID          string   `json:"id"`
	Protocol    string   `json:"protocol"`
	State       string   `json:"state"`
	Applied     []string `json:"applied"`
	Compensated []string `json:"compensated,omitempty"`
}

type sameHouseholdResponse struct {
	FlowerID   string           `json:"flowerId"`
	Serial     string           `json:"serial"`
	Transplant transplantReport `json:"transplant"`
}

type crossHouseholdResponse struct {
	FlowerID    string           `json:"flowerId"`
	HouseholdID string           `json:"householdId"`
	Serial      *string          `json:"serial"`
	Transplant  transplantReport `json:"transplant"`
}

type smartPotTransplantResponse struct {
	Serial      string           `json:"serial"`
	HouseholdID string           `json:"householdId"`
	FlowerID    *string          `json:"flowerId"`
	Transplant  transplantReport `json:"transplant"`
}

func (h *Handlers) SameHousehold(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		common.WriteUnauthorized(w)
		return
	}

	var req sameHouseholdRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteInvalidJSON(w)
		return
	}

	result, err := h.Transplants.RebindSameHousehold(r.Context(), transplantdomain.SameHouseholdRequest{
		ActorID:      userID,
		FlowerID:     strings.TrimSpace(req.FlowerID),
		TargetSerial: strings.TrimSpace(req.TargetSerial),
	})
	if err != nil {
		common.WriteDomainError(w, h.log, "transplant.same_household", err,
			"user_id", userID, "flower_id", req.FlowerID, "serial", req.TargetSerial, "transplant_id", result.Report.ID)
		return
	}

	common.WriteJSON(w, http.StatusOK, sameHouseholdResponse{
		FlowerID:   result.FlowerID,
		Serial:     result.Serial,
		Transplant: toReport(result.Report),
	})
}

func (h *Handlers) CrossHousehold(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		common.WriteUnauthorized(w)
		return
	}

	var req crossHouseholdRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteInvalidJSON(w)
		return
	}

	result, err := h.Transplants.TransplantFlower(r.Context(), transplantdomain.FlowerTransplantRequest{
		ActorID:             userID,
		FlowerID:            strings.TrimSpace(req.FlowerID),
		TargetHouseholdID:   strings.TrimSpace(req.TargetHouseholdID),
		KeepPot:             req.KeepPot,
		AssignVacatedPot:    strings.TrimSpace(req.AssignVacatedPot),
		ReassignSourcePotTo: strings.TrimSpace(req.ReassignSourcePotTo),
	})
	if err != nil {
		common.WriteDomainError(w, h.log, "transplant.cross_household", err,
			"user_id", userID, "flower_id", req.FlowerID, "household_id", req.TargetHouseholdID, "transplant_id", result.Report.ID)
		return
	}

	common.WriteJSON(w, http.StatusOK, crossHouseholdResponse{
		FlowerID:    result.FlowerID,
		HouseholdID: result.HouseholdID,
		Serial:      result.Serial,
		Transplant:  toReport(result.Report),
	})
}

func (h *Handlers) SmartPot(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		common.WriteUnauthorized(w)
		return
	}

	var req smartPotTransplantRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteInvalidJSON(w)
		return
	}

	result, err := h.Transplants.TransplantSmartPot(r.Context(), transplantdomain.SmartPotTransplantRequest{
		ActorID:                userID,
		Serial:                 strings.TrimSpace(req.Serial),
		TargetHouseholdID:      strings.TrimSpace(req.TargetHouseholdID),
		KeepFlower:             req.KeepFlower,
		AssignVacatedFlower:    strings.TrimSpace(req.AssignVacatedFlower),
		ReassignSourceFlowerTo: strings.TrimSpace(req.ReassignSourceFlowerTo),
	})
	if err != nil {
		common.WriteDomainError(w, h.log, "transplant.smart_pot", err,
			"user_id", userID, "serial", req.Serial, "household_id", req.TargetHouseholdID, "transplant_id", result.Report.ID)
		return
	}

	common.WriteJSON(w, http.StatusOK, smartPotTransplantResponse{
		Serial:      result.Serial,
		HouseholdID: result.HouseholdID,
		FlowerID:    result.FlowerID,
		Transplant:  toReport(result.Report),
	})
}

func toReport(report transplantdomain.Report) transplantReport {
	applied := report.Applied
	if applied == nil {
		applied = []string{}
	}
	return transplantReport{
		ID:          report.ID,
		Protocol:    string(report.Protocol),
		State:       string(report.State),
		Applied:     applied,
		Compensated: report.Compensated,
	}
}
