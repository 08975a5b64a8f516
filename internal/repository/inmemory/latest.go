package inmemory

import (
	"sync"
	"time"

	measurementdomain "smartpot-app-go/internal/domain/measurement"
)

type InMemoryLatestCache struct {
	mu    sync.RWMutex
	items map[string]latestItem
}

type latestItem struct {
	value     []measurementdomain.Measurement
	expiresAt time.Time
}

func NewInMemoryLatestCache() *InMemoryLatestCache {
	return &InMemoryLatestCache{
		items: make(map[string]latestItem),
	}
}

func (c *InMemoryLatestCache) GetByFlowerID(flowerID string) ([]measurementdomain.Measurement, bool) {
	now := time.Now()

	c.mu.RLock()
	item, ok := c.items[flowerID]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}

	if !item.expiresAt.After(now) {
		c.mu.Lock()
		item, ok = c.items[flowerID]
		if ok && !item.expiresAt.After(now) {
			delete(c.items, flowerID)
		}
		c.mu.Unlock()
		return nil, false
	}

	return append([]measurementdomain.Measurement(nil), item.value...), true
}

func (c *InMemoryLatestCache) SetByFlowerID(flowerID string, latest []measurementdomain.Measurement, ttl time.Duration) {
	if ttl <= 0 {
		c.DeleteByFlowerID(flowerID)
		return
	}

	c.mu.Lock()
	c.items[flowerID] = latestItem{
		value:     append([]measurementdomain.Measurement(nil), latest...),
		expiresAt: time.Now().Add(ttl),
	}
	c.mu.Unlock()
}

func (c *InMemoryLatestCache) DeleteByFlowerID(flowerID string) {
	c.mu.Lock()
	delete(c.items, flowerID)
	c.mu.Unlock()
}
