package ingest

import (
	"time"

	"smartpot-app-go/internal/domain/measurement"
)

const MaxBatchReadings = 500

type ResultStatus string

const (
	ResultStatusApplied   ResultStatus = "applied"
	ResultStatusDuplicate ResultStatus = "duplicate"
	ResultStatusFailed    ResultStatus = "failed"
)

type BatchStatus string

const (
	BatchStatusSuccess        BatchStatus = "success"
	BatchStatusPartialSuccess BatchStatus = "partial_success"
	BatchStatusFailed         BatchStatus = "failed"
)

type ErrorCode string

const (
	ErrorCodeInvalidReading         ErrorCode = "invalid_reading"
	ErrorCodeNotBound               ErrorCode = "not_bound"
	ErrorCodeSmartPotNotFound       ErrorCode = "smart_pot_not_found"
	ErrorCodeReadingPayloadMismatch ErrorCode = "reading_payload_mismatch"
	ErrorCodeBatchInProgress        ErrorCode = "batch_in_progress"
	ErrorCodeInternalError          ErrorCode = "internal_error"
)

type BatchState string

const (
	BatchStateProcessing BatchState = "processing"
	BatchStateCompleted  BatchState = "completed"
)

type ReadingState string

const (
	ReadingStatePending ReadingState = "pending"
	ReadingStateApplied ReadingState = "applied"
	ReadingStateFailed  ReadingState = "failed"
)

// BatchInput is a set of readings a gateway buffered while offline. Each
// reading carries a gateway-assigned id so replays are recognised.
type BatchInput struct {
	GatewayID      string
	IdempotencyKey string
	Readings       []ReadingInput
}

type ReadingInput struct {
	ReadingID  string
	Serial     string
	Type       measurement.Type
	Value      float64
	RecordedAt time.Time
}

type BatchResponse struct {
	BatchID    string          `json:"batchId"`
	Status     BatchStatus     `json:"status"`
	Summary    BatchSummary    `json:"summary"`
	Results    []ReadingResult `json:"results"`
	ServerTime time.Time       `json:"serverTime"`
}

type BatchSummary struct {
	Total     int `json:"total"`
	Applied   int `json:"applied"`
	Duplicate int `json:"duplicate"`
	Failed    int `json:"failed"`
}

type ReadingResult struct {
	ReadingID     string        `json:"readingId"`
	Status        ResultStatus  `json:"status"`
	MeasurementID *string       `json:"measurementId,omitempty"`
	FlowerID      *string       `json:"flowerId,omitempty"`
	Delivered     int           `json:"delivered"`
	Error         *ReadingError `json:"error,omitempty"`
}

type ReadingError struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
}

type BatchRecord struct {
	ID             string     `gorm:"type:uuid;primaryKey"`
	GatewayID      string     `gorm:"not null;uniqueIndex:idx_ingest_batches_gateway_key"`
	IdempotencyKey *string    `gorm:"column:idempotency_key;uniqueIndex:idx_ingest_batches_gateway_key"`
	RequestHash    string     `gorm:"not null"`
	Status         BatchState `gorm:"not null"`
	ResponseJSON   []byte     `gorm:"column:response_json"`
	CreatedAt      time.Time  `gorm:"autoCreateTime"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime"`
}

func (BatchRecord) TableName() string {
	return "ingest_batches"
}

type ReadingRecord struct {
	ID            string       `gorm:"type:uuid;primaryKey"`
	GatewayID     string       `gorm:"not null;uniqueIndex:idx_ingest_readings_gateway_reading"`
	ReadingID     string       `gorm:"not null;column:reading_id;uniqueIndex:idx_ingest_readings_gateway_reading"`
	PayloadHash   string       `gorm:"not null;column:payload_hash"`
	Status        ReadingState `gorm:"not null"`
	MeasurementID *string      `gorm:"column:measurement_id"`
	FlowerID      *string      `gorm:"column:flower_id"`
	ErrorCode     *ErrorCode   `gorm:"column:error_code"`
	ErrorMessage  *string      `gorm:"column:error_message"`
	Retryable     *bool        `gorm:"column:retryable"`
	CreatedAt     time.Time    `gorm:"autoCreateTime"`
	UpdatedAt     time.Time    `gorm:"autoUpdateTime"`
}

func (ReadingRecord) TableName() string {
	return "ingest_readings"
}
