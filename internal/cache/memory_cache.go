package cache

import (
	"context"
	"sync"
	"time"

	"shopstock/internal/domain"
)

type memoryEntry struct {
	value     domain.ProfitLoss
	expiresAt time.Time
}

// MemoryReportCache is a process-local TTL cache used when Redis is absent.
type MemoryReportCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryReportCache() *MemoryReportCache {
	return &MemoryReportCache{entries: make(map[string]memoryEntry), now: time.Now}
}

func (c *MemoryReportCache) Get(_ context.Context, key string) (*domain.ProfitLoss, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if c.now().After(e.expiresAt) {
		delete(c.entries, key)
		return nil, false, nil
	}
	value := e.value
	return &value, true, nil
}

func (c *MemoryReportCache) Set(_ context.Context, key string, value *domain.ProfitLoss, ttl time.Duration) error {
	if value == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = memoryEntry{value: *value, expiresAt: c.now().Add(ttl)}
	return nil
}

func (c *MemoryReportCache) Invalidate(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.entries)
	return nil
}
