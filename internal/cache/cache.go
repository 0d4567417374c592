package cache

import (
	"sync"
	"time"

	"github.com/Jacob-Jan/proof-of-heart/internal/models"
)

// Cache keeps recent aggregation results so every page view does not
// re-query the relay network. Entries are keyed by relay mode, so
// switching modes never serves data from the wrong backend. A refresh
// that races an in-flight one simply overwrites: last resolved wins.
type Cache struct {
	listEntries   map[string]*listEntry
	listMutex     sync.RWMutex
	insightsCache *insightsEntry
	insightsMutex sync.RWMutex
	ttl           time.Duration
}

type listEntry struct {
	charities []models.CharityProfile
	timestamp time.Time
}

type insightsEntry struct {
	insights  *models.Insights
	timestamp time.Time
}

// New creates a Cache with the given TTL and starts its cleanup routine.
func New(ttl time.Duration) *Cache {
	c := &Cache{
		listEntries: make(map[string]*listEntry),
		ttl:         ttl,
	}

	go c.cleanupRoutine()

	return c
}

// GetCharities returns the cached list for key or calls the loader.
func (c *Cache) GetCharities(key string, loader func() ([]models.CharityProfile, error)) ([]models.CharityProfile, error) {
	c.listMutex.RLock()
	if entry, exists := c.listEntries[key]; exists {
		if time.Since(entry.timestamp) < c.ttl {
			charities := entry.charities
			c.listMutex.RUnlock()
			return charities, nil
		}
	}
	c.listMutex.RUnlock()

	charities, err := loader()
	if err != nil {
		return nil, err
	}

	c.listMutex.Lock()
	c.listEntries[key] = &listEntry{
		charities: charities,
		timestamp: time.Now(),
	}
	c.listMutex.Unlock()

	return charities, nil
}

// GetInsights returns the cached insights or calls the loader.
func (c *Cache) GetInsights(loader func() (*models.Insights, error)) (*models.Insights, error) {
	c.insightsMutex.RLock()
	if c.insightsCache != nil && time.Since(c.insightsCache.timestamp) < c.ttl {
		insights := c.insightsCache.insights
		c.insightsMutex.RUnlock()
		return insights, nil
	}
	c.insightsMutex.RUnlock()

	insights, err := loader()
	if err != nil {
		return nil, err
	}

	c.insightsMutex.Lock()
	c.insightsCache = &insightsEntry{
		insights:  insights,
		timestamp: time.Now(),
	}
	c.insightsMutex.Unlock()

	return insights, nil
}

// Invalidate drops all cached results, forcing the next read to hit the
// network. Called after this instance publishes an event.
func (c *Cache) Invalidate() {
	c.listMutex.Lock()
	c.listEntries = make(map[string]*listEntry)
	c.listMutex.Unlock()

	c.insightsMutex.Lock()
	c.insightsCache = nil
	c.insightsMutex.Unlock()
}

func (c *Cache) cleanupRoutine() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		c.cleanup()
	}
}

func (c *Cache) cleanup() {
	now := time.Now()

	c.listMutex.Lock()
	for key, entry := range c.listEntries {
		if now.Sub(entry.timestamp) > c.ttl {
			delete(c.listEntries, key)
		}
	}
	c.listMutex.Unlock()

	c.insightsMutex.Lock()
	if c.insightsCache != nil && now.Sub(c.insightsCache.timestamp) > c.ttl {
		c.insightsCache = nil
	}
	c.insightsMutex.Unlock()
}
