package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"smartpot-app-go/internal/domain/binding"
	"smartpot-app-go/internal/domain/measurement"
	"smartpot-app-go/pkg/logger"
)

// Recorder stores and relays a single reading.
type Recorder interface {
	Record(ctx context.Context, reading measurement.Reading) (*measurement.Measurement, int, error)
}

type Service struct {
	repo     Repository
	recorder Recorder
	log      logger.Logger
	newID    func() string
	now      func() time.Time
}

func NewService(repo Repository, recorder Recorder, log logger.Logger) *Service {
	return &Service{
		repo:     repo,
		recorder: recorder,
		log:      logger.OrNop(log).Component("ingest"),
		newID:    uuid.NewString,
		now:      time.Now,
	}
}

// ProcessBatch records every reading of a gateway upload. A reading id that
// was seen before is answered from its stored result instead of being
// recorded again. With an idempotency key the whole response is replayed.
func (s *Service) ProcessBatch(ctx context.Context, input BatchInput) (*BatchResponse, error) {
	if len(input.Readings) == 0 {
		return nil, ErrEmptyBatch
	}
	if len(input.Readings) > MaxBatchReadings {
		return nil, ErrBatchTooLarge
	}

	batchID := s.newID()
	requestHash, err := hashRequest(input.Readings)
	if err != nil {
		return nil, err
	}

	idempotencyKey := strings.TrimSpace(input.IdempotencyKey)
	batchCreated := false

	if idempotencyKey != "" {
		created, existing, err := s.repo.BeginBatch(ctx, &BatchRecord{
			ID:             batchID,
			GatewayID:      input.GatewayID,
			IdempotencyKey: &idempotencyKey,
			RequestHash:    requestHash,
			Status:         BatchStateProcessing,
		})
		if err != nil {
			return nil, err
		}
		if !created {
			if existing == nil {
				return nil, ErrBatchInProgress
			}
			if existing.RequestHash != requestHash {
				return nil, ErrIdempotencyKeyPayloadMismatch
			}
			if existing.Status == BatchStateCompleted && len(existing.ResponseJSON) > 0 {
				var cached BatchResponse
				if err := json.Unmarshal(existing.ResponseJSON, &cached); err == nil {
					s.log.Debug("ingest.batch: replayed", "batch_id", cached.BatchID, "gateway_id", input.GatewayID)
					return &cached, nil
				}
			}
			return nil, ErrBatchInProgress
		}
		batchCreated = true
	}

	response := BatchResponse{
		BatchID:    batchID,
		Results:    make([]ReadingResult, 0, len(input.Readings)),
		Summary:    BatchSummary{Total: len(input.Readings)},
		ServerTime: s.now().UTC(),
	}

	for _, reading := range input.Readings {
		result := s.processReading(ctx, input.GatewayID, reading)
		response.Results = append(response.Results, result)

		switch result.Status {
		case ResultStatusApplied:
			response.Summary.Applied++
		case ResultStatusDuplicate:
			response.Summary.Duplicate++
		default:
			response.Summary.Failed++
		}
	}
	response.Status = deriveBatchStatus(response.Summary)

	if batchCreated {
		encoded, err := json.Marshal(response)
		if err == nil {
			err = s.repo.CompleteBatch(ctx, batchID, BatchStateCompleted, encoded)
		}
		if err != nil {
			s.log.InternalError("ingest.batch: complete failed", err, "batch_id", batchID)
		}
	}

	return &response, nil
}

func (s *Service) processReading(ctx context.Context, gatewayID string, reading ReadingInput) ReadingResult {
	base := ReadingResult{ReadingID: reading.ReadingID}

	payloadHash, err := hashReading(reading)
	if err != nil {
		return failResult(base, ErrorCodeInternalError, "internal error", true)
	}

	reserved := &ReadingRecord{
		ID:          s.newID(),
		GatewayID:   gatewayID,
		ReadingID:   reading.ReadingID,
		PayloadHash: payloadHash,
		Status:      ReadingStatePending,
	}
	created, existing, err := s.repo.ReserveReading(ctx, reserved)
	if err != nil {
		s.log.InternalError("ingest.reading: reserve failed", err, "reading_id", reading.ReadingID)
		return failResult(base, ErrorCodeInternalError, "internal error", true)
	}
	if !created {
		if !retryableFailure(existing, payloadHash) {
			return resultFromExisting(base, existing, payloadHash)
		}
		reserved.ID = existing.ID
		s.log.Debug("ingest.reading: retrying failed reading", "reading_id", reading.ReadingID, "error_code", string(*existing.ErrorCode))
	}

	result := base
	stored, delivered, err := s.recorder.Record(ctx, measurement.Reading{
		SerialNumber: reading.Serial,
		Type:         reading.Type,
		Value:        reading.Value,
		RecordedAt:   reading.RecordedAt,
	})
	if err != nil {
		result = classifyFailure(result, err)
		if result.Error.Code == ErrorCodeInternalError {
			s.log.InternalError("ingest.reading: record failed", err, "reading_id", reading.ReadingID, "serial", reading.Serial)
		}
	} else {
		result.Status = ResultStatusApplied
		result.MeasurementID = &stored.ID
		result.FlowerID = &stored.FlowerID
		result.Delivered = delivered
	}

	update := *reserved
	if result.Status == ResultStatusApplied {
		update.Status = ReadingStateApplied
		update.MeasurementID = result.MeasurementID
		update.FlowerID = result.FlowerID
	} else {
		update.Status = ReadingStateFailed
		code, message, retryable := result.Error.Code, result.Error.Message, result.Error.Retryable
		update.ErrorCode = &code
		update.ErrorMessage = &message
		update.Retryable = &retryable
	}
	if err := s.repo.UpdateReading(ctx, &update); err != nil {
		s.log.InternalError("ingest.reading: update failed", err, "reading_id", reading.ReadingID)
		return failResult(base, ErrorCodeInternalError, "internal error", true)
	}

	return result
}

func classifyFailure(result ReadingResult, err error) ReadingResult {
	switch {
	case errors.Is(err, binding.ErrInvalidArgument):
		return failResult(result, ErrorCodeInvalidReading, err.Error(), false)
	case errors.Is(err, binding.ErrNotBound):
		return failResult(result, ErrorCodeNotBound, "smart pot serves no flower", false)
	case errors.Is(err, binding.ErrSmartPotNotFound):
		return failResult(result, ErrorCodeSmartPotNotFound, "smart pot not found", false)
	default:
		return failResult(result, ErrorCodeInternalError, "internal error", true)
	}
}

// retryableFailure reports whether an earlier attempt of the same reading
// failed transiently and may be recorded again.
func retryableFailure(existing *ReadingRecord, payloadHash string) bool {
	return existing != nil &&
		existing.Status == ReadingStateFailed &&
		existing.PayloadHash == payloadHash &&
		existing.ErrorCode != nil &&
		valueOr(existing.Retryable, false)
}

func resultFromExisting(base ReadingResult, existing *ReadingRecord, payloadHash string) ReadingResult {
	if existing == nil {
		return failResult(base, ErrorCodeBatchInProgress, "reading is being processed", true)
	}
	if existing.PayloadHash != payloadHash {
		return failResult(base, ErrorCodeReadingPayloadMismatch, "reading id already used with different payload", false)
	}

	switch existing.Status {
	case ReadingStatePending:
		return failResult(base, ErrorCodeBatchInProgress, "reading is being processed", true)
	case ReadingStateFailed:
		if existing.ErrorCode == nil {
			return failResult(base, ErrorCodeInternalError, "internal error", true)
		}
		return failResult(base, *existing.ErrorCode, valueOr(existing.ErrorMessage, "reading failed"), valueOr(existing.Retryable, false))
	}

	result := base
	result.Status = ResultStatusDuplicate
	result.MeasurementID = cloneString(existing.MeasurementID)
	result.FlowerID = cloneString(existing.FlowerID)
	return result
}

func failResult(base ReadingResult, code ErrorCode, message string, retryable bool) ReadingResult {
	base.Status = ResultStatusFailed
	base.Error = &ReadingError{Code: code, Message: message, Retryable: retryable}
	return base
}

func deriveBatchStatus(summary BatchSummary) BatchStatus {
	if summary.Failed == 0 {
		return BatchStatusSuccess
	}
	if summary.Applied > 0 || summary.Duplicate > 0 {
		return BatchStatusPartialSuccess
	}
	return BatchStatusFailed
}

func hashRequest(readings []ReadingInput) (string, error) {
	hashes := make([]string, 0, len(readings))
	for _, reading := range readings {
		hash, err := hashReading(reading)
		if err != nil {
			return "", err
		}
		hashes = append(hashes, hash)
	}
	return hashValue(hashes)
}

func hashReading(reading ReadingInput) (string, error) {
	value := struct {
		ReadingID  string  `json:"reading_id"`
		Serial     string  `json:"serial"`
		Type       string  `json:"type"`
		Value      float64 `json:"value"`
		RecordedAt string  `json:"recorded_at,omitempty"`
	}{
		ReadingID: reading.ReadingID,
		Serial:    strings.TrimSpace(reading.Serial),
		Type:      string(reading.Type),
		Value:     reading.Value,
	}
	if !reading.RecordedAt.IsZero() {
		value.RecordedAt = reading.RecordedAt.UTC().Format(time.RFC3339Nano)
	}
	return hashValue(value)
}

func hashValue(value any) (string, error) {
	encoded, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:]), nil
}

func cloneString(value *string) *string {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}

func valueOr[T any](value *T, fallback T) T {
	if value == nil {
		return fallback
	}
	return *value
}
