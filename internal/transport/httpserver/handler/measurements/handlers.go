package measurements

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	bindingdomain "smartpot-app-go/internal/domain/binding"
	measurementdomain "smartpot-app-go/internal/domain/measurement"
	"smartpot-app-go/internal/transport/httpserver/handler/common"
	"smartpot-app-go/internal/transport/httpserver/middleware"
	"smartpot-app-go/pkg/logger"
)

type Service interface {
	Record(ctx context.Context, reading measurementdomain.Reading) (*measurementdomain.Measurement, int, error)
	Update(ctx context.Context, id string, value float64) (*measurementdomain.Measurement, error)
	Delete(ctx context.Context, id string) (*measurementdomain.Measurement, error)
	Get(ctx context.Context, id string) (*measurementdomain.Measurement, error)
	History(ctx context.Context, flowerID string, filter measurementdomain.HistoryFilter) ([]measurementdomain.Measurement, error)
	Latest(ctx context.Context, flowerID string) ([]measurementdomain.Measurement, error)
}

// Flowers resolves the household a flower belongs to for access checks.
type Flowers interface {
	FlowerState(ctx context.Context, flowerID string) (*bindingdomain.Flower, bindingdomain.Outcome, error)
	CheckMembership(ctx context.Context, userID string, householdIDs ...string) error
}

type Handlers struct {
	Measurements Service
	Flowers      Flowers
	Batches      Ingestor
	log          logger.Logger
}

func New(measurements Service, flowers Flowers, ingest Ingestor, log logger.Logger) *Handlers {
	return &Handlers{
		Measurements: measurements,
		Flowers:      flowers,
		Batches:      ingest,
		log:          logger.OrNop(log).Component("http"),
	}
}

type ingestRequest struct {
	Serial     string     `json:"serial"`
	Type       string     `json:"type"`
	Value      *float64   `json:"value"`
	RecordedAt *time.Time `json:"recordedAt,omitempty"`
}

type updateRequest struct {
	Value *float64 `json:"value"`
}

type measurementResponse struct {
	ID        string    `json:"id"`
	FlowerID  string    `json:"flowerId"`
	Serial    string    `json:"serial"`
	Type      string    `json:"type"`
	Value     float64   `json:"value"`
	CreatedAt time.Time `json:"createdAt"`
}

type ingestResponse struct {
	Measurement measurementResponse `json:"measurement"`
	Delivered   int                 `json:"delivered"`
}

type listResponse struct {
	Items []measurementResponse `json:"items"`
}

func (h *Handlers) Ingest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteInvalidJSON(w)
		return
	}
	if req.Value == nil {
		common.WriteError(w, http.StatusBadRequest, "invalid_request", "value is required")
		return
	}

	reading := measurementdomain.Reading{
		SerialNumber: req.Serial,
		Type:         measurementdomain.Type(strings.ToLower(strings.TrimSpace(req.Type))),
		Value:        *req.Value,
	}
	if req.RecordedAt != nil {
		reading.RecordedAt = *req.RecordedAt
	}

	measurement, delivered, err := h.Measurements.Record(r.Context(), reading)
	if err != nil {
		common.WriteDomainError(w, h.log, "measurements.ingest", err, "serial", req.Serial, "type", req.Type)
		return
	}

	common.WriteJSON(w, http.StatusCreated, ingestResponse{
		Measurement: toMeasurementResponse(*measurement),
		Delivered:   delivered,
	})
}

func (h *Handlers) Update(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		common.WriteUnauthorized(w)
		return
	}
	id := chi.URLParam(r, "id")

	var req updateRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteInvalidJSON(w)
		return
	}
	if req.Value == nil {
		common.WriteError(w, http.StatusBadRequest, "invalid_request", "value is required")
		return
	}

	existing, err := h.Measurements.Get(r.Context(), id)
	if err == nil {
		err = h.authorizeFlower(r.Context(), userID, existing.FlowerID)
	}
	var updated *measurementdomain.Measurement
	if err == nil {
		updated, err = h.Measurements.Update(r.Context(), id, *req.Value)
	}
	if err != nil {
		common.WriteDomainError(w, h.log, "measurements.update", err, "user_id", userID, "measurement_id", id)
		return
	}

	common.WriteJSON(w, http.StatusOK, toMeasurementResponse(*updated))
}

func (h *Handlers) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		common.WriteUnauthorized(w)
		return
	}
	id := chi.URLParam(r, "id")

	existing, err := h.Measurements.Get(r.Context(), id)
	if err == nil {
		err = h.authorizeFlower(r.Context(), userID, existing.FlowerID)
	}
	if err == nil {
		_, err = h.Measurements.Delete(r.Context(), id)
	}
	if err != nil {
		common.WriteDomainError(w, h.log, "measurements.delete", err, "user_id", userID, "measurement_id", id)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) History(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		common.WriteUnauthorized(w)
		return
	}
	flowerID := chi.URLParam(r, "id")

	filter, err := parseHistoryFilter(r)
	if err != nil {
		common.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	var items []measurementdomain.Measurement
	err = h.authorizeFlower(r.Context(), userID, flowerID)
	if err == nil {
		items, err = h.Measurements.History(r.Context(), flowerID, filter)
	}
	if err != nil {
		common.WriteDomainError(w, h.log, "measurements.history", err, "user_id", userID, "flower_id", flowerID)
		return
	}

	common.WriteJSON(w, http.StatusOK, toListResponse(items))
}

func (h *Handlers) Latest(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		common.WriteUnauthorized(w)
		return
	}
	flowerID := chi.URLParam(r, "id")

	var items []measurementdomain.Measurement
	err := h.authorizeFlower(r.Context(), userID, flowerID)
	if err == nil {
		items, err = h.Measurements.Latest(r.Context(), flowerID)
	}
	if err != nil {
		common.WriteDomainError(w, h.log, "measurements.latest", err, "user_id", userID, "flower_id", flowerID)
		return
	}

	common.WriteJSON(w, http.StatusOK, toListResponse(items))
}

func (h *Handlers) authorizeFlower(ctx context.Context, userID, flowerID string) error {
	flower, _, err := h.Flowers.FlowerState(ctx, flowerID)
	if err != nil {
		return err
	}
	return h.Flowers.CheckMembership(ctx, userID, flower.HouseholdID)
}

func parseHistoryFilter(r *http.Request) (measurementdomain.HistoryFilter, error) {
	query := r.URL.Query()
	filter := measurementdomain.HistoryFilter{
		Type: measurementdomain.Type(strings.ToLower(strings.TrimSpace(query.Get("type")))),
	}

	var err error
	if filter.From, err = parseTimeParam(query.Get("dateFrom"), false); err != nil {
		return filter, fmt.Errorf("invalid dateFrom")
	}
	if filter.To, err = parseTimeParam(query.Get("dateTo"), true); err != nil {
		return filter, fmt.Errorf("invalid dateTo")
	}
	if value := strings.TrimSpace(query.Get("limit")); value != "" {
		limit, err := strconv.Atoi(value)
		if err != nil || limit < 0 {
			return filter, fmt.Errorf("invalid limit")
		}
		filter.Limit = limit
	}
	return filter, nil
}

// parseTimeParam accepts RFC 3339 or a plain date. A plain upper bound
// covers the whole day.
func parseTimeParam(value string, endOfDay bool) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	if parsed, err := time.Parse(time.RFC3339, value); err == nil {
		return parsed, nil
	}
	parsed, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		parsed = parsed.Add(24*time.Hour - time.Nanosecond)
	}
	return parsed, nil
}

func toListResponse(items []measurementdomain.Measurement) listResponse {
	resp := listResponse{Items: make([]measurementResponse, 0, len(items))}
	for _, item := range items {
		resp.Items = append(resp.Items, toMeasurementResponse(item))
	}
	return resp
}

func toMeasurementResponse(m measurementdomain.Measurement) measurementResponse {
	return measurementResponse{
		ID:        m.ID,
		FlowerID:  m.FlowerID,
		Serial:    m.SerialNumber,
		Type:      string(m.Type),
		Value:     m.Value,
		CreatedAt: m.CreatedAt,
	}
}
