package measurements

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	ingestdomain "smartpot-app-go/internal/domain/ingest"
	measurementdomain "smartpot-app-go/internal/domain/measurement"
	"smartpot-app-go/internal/transport/httpserver/handler/common"
	"smartpot-app-go/internal/transport/httpserver/middleware"
)

const (
	minIdempotencyKeyLength = 8
	maxIdempotencyKeyLength = 128
	maxReadingIDLength      = 128
)

type Ingestor interface {
	ProcessBatch(ctx context.Context, input ingestdomain.BatchInput) (*ingestdomain.BatchResponse, error)
}

type batchRequest struct {
	Readings []batchReadingRequest `json:"readings"`
}

type batchReadingRequest struct {
	ReadingID  string     `json:"readingId"`
	Serial     string     `json:"serial"`
	Type       string     `json:"type"`
	Value      *float64   `json:"value"`
	RecordedAt *time.Time `json:"recordedAt,omitempty"`
}

// IngestBatch accepts readings a gateway buffered while it was offline.
// The authenticated user is the gateway identity.
func (h *Handlers) IngestBatch(w http.ResponseWriter, r *http.Request) {
	startedAt := time.Now()

	if h.Batches == nil {
		common.WriteError(w, http.StatusNotImplemented, "not_supported", "batch ingest is not enabled")
		return
	}

	var req batchRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteInvalidJSON(w)
		return
	}
	if len(req.Readings) == 0 {
		common.WriteError(w, http.StatusBadRequest, "invalid_request", "readings are required")
		return
	}
	if len(req.Readings) > ingestdomain.MaxBatchReadings {
		common.WriteError(w, http.StatusRequestEntityTooLarge, "ingest_batch_too_large", "too many readings in one batch")
		return
	}

	idempotencyKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if idempotencyKey != "" && len(idempotencyKey) < minIdempotencyKeyLength {
		common.WriteError(w, http.StatusBadRequest, "invalid_request", "idempotency key is too short")
		return
	}
	if len(idempotencyKey) > maxIdempotencyKeyLength {
		common.WriteError(w, http.StatusBadRequest, "invalid_request", "idempotency key is too long")
		return
	}

	gatewayID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		common.WriteUnauthorized(w)
		return
	}

	readings := make([]ingestdomain.ReadingInput, 0, len(req.Readings))
	for i, item := range req.Readings {
		reading, ok := parseBatchReading(item)
		if !ok {
			common.WriteError(w, http.StatusBadRequest, "invalid_request", "invalid reading at index "+strconv.Itoa(i))
			return
		}
		readings = append(readings, reading)
	}

	response, err := h.Batches.ProcessBatch(r.Context(), ingestdomain.BatchInput{
		GatewayID:      gatewayID,
		IdempotencyKey: idempotencyKey,
		Readings:       readings,
	})
	if err != nil {
		logAttrs := []any{
			"gateway_id", gatewayID,
			"readings", len(readings),
			"has_idempotency_key", idempotencyKey != "",
			"duration_ms", time.Since(startedAt).Milliseconds(),
		}

		switch {
		case errors.Is(err, ingestdomain.ErrBatchTooLarge):
			h.log.BusinessError("ingest.batch: batch too large", err, logAttrs...)
			common.WriteError(w, http.StatusRequestEntityTooLarge, "ingest_batch_too_large", "too many readings in one batch")
		case errors.Is(err, ingestdomain.ErrIdempotencyKeyPayloadMismatch):
			h.log.BusinessError("ingest.batch: idempotency key payload mismatch", err, logAttrs...)
			common.WriteError(w, http.StatusConflict, "idempotency_key_payload_mismatch", "Idempotency-Key was already used with different payload")
		case errors.Is(err, ingestdomain.ErrBatchInProgress):
			h.log.BusinessError("ingest.batch: batch in progress", err, logAttrs...)
			common.WriteError(w, http.StatusConflict, "batch_in_progress", "ingest batch is already in progress")
		default:
			common.WriteDomainError(w, h.log, "ingest.batch", err, logAttrs...)
		}
		return
	}

	h.log.Info("ingest.batch: completed",
		"batch_id", response.BatchID,
		"gateway_id", gatewayID,
		"status", response.Status,
		"total", response.Summary.Total,
		"applied", response.Summary.Applied,
		"duplicate", response.Summary.Duplicate,
		"failed", response.Summary.Failed,
		"duration_ms", time.Since(startedAt).Milliseconds(),
	)

	common.WriteJSON(w, http.StatusOK, response)
}

func parseBatchReading(item batchReadingRequest) (ingestdomain.ReadingInput, bool) {
	readingID := strings.TrimSpace(item.ReadingID)
	if readingID == "" || len(readingID) > maxReadingIDLength || item.Value == nil {
		return ingestdomain.ReadingInput{}, false
	}

	reading := ingestdomain.ReadingInput{
		ReadingID: readingID,
		Serial:    strings.TrimSpace(item.Serial),
		Type:      measurementdomain.Type(strings.ToLower(strings.TrimSpace(item.Type))),
		Value:     *item.Value,
	}
	if item.RecordedAt != nil {
		reading.RecordedAt = item.RecordedAt.UTC()
	}
	return reading, true
}
