package ingest

import "context"

// Repository records batches and readings so a replayed upload is answered
// from what was stored the first time. BeginBatch and ReserveReading report
// false with the existing record when the key is already taken.
type Repository interface {
	BeginBatch(ctx context.Context, batch *BatchRecord) (bool, *BatchRecord, error)
	CompleteBatch(ctx context.Context, batchID string, status BatchState, responseJSON []byte) error
	ReserveReading(ctx context.Context, reading *ReadingRecord) (bool, *ReadingRecord, error)
	UpdateReading(ctx context.Context, reading *ReadingRecord) error
}
