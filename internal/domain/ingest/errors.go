package ingest

import (
	"fmt"

	"smartpot-app-go/internal/domain/binding"
)

var (
	ErrEmptyBatch                    = fmt.Errorf("readings are required: %w", binding.ErrInvalidArgument)
	ErrBatchTooLarge                 = fmt.Errorf("ingest batch too large: %w", binding.ErrInvalidArgument)
	ErrIdempotencyKeyPayloadMismatch = fmt.Errorf("idempotency key payload mismatch: %w", binding.ErrConflict)
	ErrBatchInProgress               = fmt.Errorf("ingest batch in progress: %w", binding.ErrConflict)
)
