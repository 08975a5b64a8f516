package inmemory

import (
	"context"
	"sort"
	"sync"
	"time"

	measurementdomain "smartpot-app-go/internal/domain/measurement"
)

// MeasurementStore keeps readings in memory for STORE_DRIVER=memory and tests.
type MeasurementStore struct {
	mu    sync.RWMutex
	items map[string]measurementdomain.Measurement
}

func NewMeasurementStore() *MeasurementStore {
	return &MeasurementStore{items: make(map[string]measurementdomain.Measurement)}
}

func (s *MeasurementStore) Create(ctx context.Context, measurement *measurementdomain.Measurement) error {
	now := time.Now().UTC()
	if measurement.CreatedAt.IsZero() {
		measurement.CreatedAt = now
	}
	measurement.UpdatedAt = now

	s.mu.Lock()
	s.items[measurement.ID] = *measurement
	s.mu.Unlock()
	return nil
}

func (s *MeasurementStore) Get(ctx context.Context, id string) (*measurementdomain.Measurement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[id]
	if !ok {
		return nil, measurementdomain.ErrMeasurementNotFound
	}
	return &item, nil
}

func (s *MeasurementStore) UpdateValue(ctx context.Context, id string, value float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return measurementdomain.ErrMeasurementNotFound
	}
	item.Value = value
	item.UpdatedAt = time.Now().UTC()
	s.items[id] = item
	return nil
}

func (s *MeasurementStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[id]; !ok {
		return measurementdomain.ErrMeasurementNotFound
	}
	delete(s.items, id)
	return nil
}

func (s *MeasurementStore) ListByFlower(ctx context.Context, flowerID string, filter measurementdomain.HistoryFilter) ([]measurementdomain.Measurement, error) {
	s.mu.RLock()
	result := make([]measurementdomain.Measurement, 0)
	for _, item := range s.items {
		if item.FlowerID != flowerID {
			continue
		}
		if filter.Type != "" && item.Type != filter.Type {
			continue
		}
		if !filter.From.IsZero() && item.CreatedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && item.CreatedAt.After(filter.To) {
			continue
		}
		result = append(result, item)
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[len(result)-filter.Limit:]
	}
	return result, nil
}

func (s *MeasurementStore) Latest(ctx context.Context, flowerID string) ([]measurementdomain.Measurement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	latest := make(map[measurementdomain.Type]measurementdomain.Measurement)
	for _, item := range s.items {
		if item.FlowerID != flowerID {
			continue
		}
		current, ok := latest[item.Type]
		if !ok || item.CreatedAt.After(current.CreatedAt) {
			latest[item.Type] = item
		}
	}

	result := make([]measurementdomain.Measurement, 0, len(latest))
	for _, item := range latest {
		result = append(result, item)
	}
	return result, nil
}
