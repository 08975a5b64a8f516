package measurement

import "time"

// LatestCache keeps the newest reading per type for a flower.
type LatestCache interface {
	GetByFlowerID(flowerID string) ([]Measurement, bool)
	SetByFlowerID(flowerID string, latest []Measurement, ttl time.Duration)
	DeleteByFlowerID(flowerID string)
}

type noopLatestCache struct{}

func (noopLatestCache) GetByFlowerID(string) ([]Measurement, bool) {
	return nil, false
}

func (noopLatestCache) SetByFlowerID(string, []Measurement, time.Duration) {}

func (noopLatestCache) DeleteByFlowerID(string) {}
