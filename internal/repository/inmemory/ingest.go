package inmemory

import (
	"context"
	"fmt"
	"sync"
	"time"

	ingestdomain "smartpot-app-go/internal/domain/ingest"
)

// IngestStore keeps batch and reading receipts for STORE_DRIVER=memory.
type IngestStore struct {
	mu       sync.Mutex
	batches  map[string]ingestdomain.BatchRecord
	readings map[string]ingestdomain.ReadingRecord
}

func NewIngestStore() *IngestStore {
	return &IngestStore{
		batches:  make(map[string]ingestdomain.BatchRecord),
		readings: make(map[string]ingestdomain.ReadingRecord),
	}
}

func (s *IngestStore) BeginBatch(ctx context.Context, batch *ingestdomain.BatchRecord) (bool, *ingestdomain.BatchRecord, error) {
	if batch.IdempotencyKey == nil {
		return false, nil, fmt.Errorf("idempotency key is required")
	}
	key := batch.GatewayID + "\x00" + *batch.IdempotencyKey

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.batches[key]; ok {
		existing.ResponseJSON = append([]byte(nil), existing.ResponseJSON...)
		return false, &existing, nil
	}

	now := time.Now().UTC()
	stored := *batch
	stored.CreatedAt, stored.UpdatedAt = now, now
	s.batches[key] = stored
	return true, nil, nil
}

func (s *IngestStore) CompleteBatch(ctx context.Context, batchID string, status ingestdomain.BatchState, responseJSON []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, batch := range s.batches {
		if batch.ID != batchID {
			continue
		}
		batch.Status = status
		batch.ResponseJSON = append([]byte(nil), responseJSON...)
		batch.UpdatedAt = time.Now().UTC()
		s.batches[key] = batch
		return nil
	}
	return nil
}

func (s *IngestStore) ReserveReading(ctx context.Context, reading *ingestdomain.ReadingRecord) (bool, *ingestdomain.ReadingRecord, error) {
	key := reading.GatewayID + "\x00" + reading.ReadingID

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.readings[key]; ok {
		return false, &existing, nil
	}

	now := time.Now().UTC()
	stored := *reading
	stored.CreatedAt, stored.UpdatedAt = now, now
	s.readings[key] = stored
	return true, nil, nil
}

func (s *IngestStore) UpdateReading(ctx context.Context, reading *ingestdomain.ReadingRecord) error {
	key := reading.GatewayID + "\x00" + reading.ReadingID

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.readings[key]
	if !ok || existing.ID != reading.ID {
		return nil
	}
	updated := *reading
	updated.CreatedAt = existing.CreatedAt
	updated.UpdatedAt = time.Now().UTC()
	s.readings[key] = updated
	return nil
}
