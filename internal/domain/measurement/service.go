package measurement

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"smartpot-app-go/pkg/logger"
)

const (
	defaultHistoryLimit   = 1000
	defaultLatestCacheTTL = 30 * time.Second
)

// Resolver maps a smart pot to the flower it currently serves.
type Resolver interface {
	OwningFlower(ctx context.Context, serial string) (string, error)
}

// Publisher fans an event out to the live subscribers of a flower and
// reports how many received it.
type Publisher interface {
	PublishMeasurement(ctx context.Context, flowerID string, event Event) int
}

type Config struct {
	HistoryLimit   int
	LatestCacheTTL time.Duration
}

// Service is the telemetry relay: it stores readings against the flower that
// owns the reporting pot and pushes every change to that flower's subscribers.
type Service struct {
	repo      Repository
	resolver  Resolver
	publisher Publisher
	cache     LatestCache
	cfg       Config
	log       logger.Logger
	now       func() time.Time

	// generations counts cache invalidations per flower so a Latest read
	// that raced a write does not store its stale result.
	mu          sync.Mutex
	generations map[string]uint64
}

func NewService(repo Repository, resolver Resolver, publisher Publisher, log logger.Logger) *Service {
	return NewServiceWithConfig(repo, resolver, publisher, nil, Config{}, log)
}

func NewServiceWithConfig(repo Repository, resolver Resolver, publisher Publisher, cache LatestCache, cfg Config, log logger.Logger) *Service {
	if cache == nil {
		cache = noopLatestCache{}
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	if cfg.LatestCacheTTL < 0 {
		cfg.LatestCacheTTL = 0
	} else if cfg.LatestCacheTTL == 0 {
		cfg.LatestCacheTTL = defaultLatestCacheTTL
	}
	return &Service{
		repo:      repo,
		resolver:  resolver,
		publisher: publisher,
		cache:     cache,
		cfg:       cfg,
		log:       logger.OrNop(log).Component("measurement"),
		now:       time.Now,

		generations: make(map[string]uint64),
	}
}

// Record stores a reading for the flower bound to the reporting pot at the
// moment of the call and relays it. It returns the number of subscribers
// reached.
func (s *Service) Record(ctx context.Context, reading Reading) (*Measurement, int, error) {
	reading.SerialNumber = strings.TrimSpace(reading.SerialNumber)
	if reading.SerialNumber == "" {
		return nil, 0, ErrInvalidSerial
	}
	if err := validate(reading.Type, reading.Value); err != nil {
		return nil, 0, err
	}

	flowerID, err := s.resolver.OwningFlower(ctx, reading.SerialNumber)
	if err != nil {
		return nil, 0, fmt.Errorf("resolve owner of %s: %w", reading.SerialNumber, err)
	}

	recordedAt := reading.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = s.now()
	}
	measurement := Measurement{
		ID:           uuid.NewString(),
		FlowerID:     flowerID,
		SerialNumber: reading.SerialNumber,
		Type:         reading.Type,
		Value:        reading.Value,
		CreatedAt:    recordedAt.UTC(),
	}
	if err := s.repo.Create(ctx, &measurement); err != nil {
		return nil, 0, err
	}

	delivered := s.relay(ctx, EventInserted, measurement)
	return &measurement, delivered, nil
}

func (s *Service) Update(ctx context.Context, id string, value float64) (*Measurement, error) {
	measurement, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := validate(measurement.Type, value); err != nil {
		return nil, err
	}
	if err := s.repo.UpdateValue(ctx, id, value); err != nil {
		return nil, err
	}
	measurement.Value = value

	s.relay(ctx, EventUpdated, *measurement)
	return measurement, nil
}

func (s *Service) Delete(ctx context.Context, id string) (*Measurement, error) {
	measurement, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return nil, err
	}

	s.relay(ctx, EventDeleted, *measurement)
	return measurement, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Measurement, error) {
	return s.repo.Get(ctx, id)
}

// History returns a flower's readings oldest first.
func (s *Service) History(ctx context.Context, flowerID string, filter HistoryFilter) ([]Measurement, error) {
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, ErrInvalidType
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.To.Before(filter.From) {
		return nil, fmt.Errorf("history range ends before it starts: %w", ErrInvalidValue)
	}
	if filter.Limit <= 0 || filter.Limit > s.cfg.HistoryLimit {
		filter.Limit = s.cfg.HistoryLimit
	}
	return s.repo.ListByFlower(ctx, flowerID, filter)
}

// Snapshot groups the most recent readings of a flower by type, newest
// first, as sent to a telemetry client asking for measurements.
func (s *Service) Snapshot(ctx context.Context, flowerID string) (map[Type][]Measurement, error) {
	grouped := make(map[Type][]Measurement, len(Types))
	for _, t := range Types {
		items, err := s.repo.ListByFlower(ctx, flowerID, HistoryFilter{Type: t, Limit: s.cfg.HistoryLimit})
		if err != nil {
			return nil, err
		}
		newest := make([]Measurement, 0, len(items))
		for i := len(items) - 1; i >= 0; i-- {
			newest = append(newest, items[i])
		}
		grouped[t] = newest
	}
	return grouped, nil
}

// Latest returns the newest reading of every type the flower has reported.
func (s *Service) Latest(ctx context.Context, flowerID string) ([]Measurement, error) {
	if cached, ok := s.cache.GetByFlowerID(flowerID); ok {
		return cached, nil
	}

	s.mu.Lock()
	generation := s.generations[flowerID]
	s.mu.Unlock()

	latest, err := s.repo.Latest(ctx, flowerID)
	if err != nil {
		return nil, err
	}
	sort.Slice(latest, func(i, j int) bool { return latest[i].Type < latest[j].Type })

	s.mu.Lock()
	if s.generations[flowerID] == generation {
		s.cache.SetByFlowerID(flowerID, latest, s.cfg.LatestCacheTTL)
	}
	s.mu.Unlock()
	return latest, nil
}

func (s *Service) invalidateLatest(flowerID string) {
	s.mu.Lock()
	s.generations[flowerID]++
	s.cache.DeleteByFlowerID(flowerID)
	s.mu.Unlock()
}

func (s *Service) relay(ctx context.Context, kind EventKind, measurement Measurement) int {
	s.invalidateLatest(measurement.FlowerID)
	if s.publisher == nil {
		return 0
	}

	delivered := s.publisher.PublishMeasurement(ctx, measurement.FlowerID, Event{Kind: kind, Measurement: measurement})
	s.log.Debug("measurement: relayed",
		"event", string(kind), "flower_id", measurement.FlowerID, "measurement_id", measurement.ID, "delivered", delivered)
	return delivered
}

func validate(t Type, value float64) error {
	if !t.Valid() {
		return ErrInvalidType
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return ErrInvalidValue
	}
	switch t {
	case TypeHumidity, TypeBattery, TypeWater:
		if value < 0 || value > 100 {
			return ErrInvalidValue
		}
	case TypeTemperature:
		if value < -60 || value > 90 {
			return ErrInvalidValue
		}
	case TypeLight:
		if value < 0 {
			return ErrInvalidValue
		}
	}
	return nil
}
