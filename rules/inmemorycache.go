package rules

import (
	"context"
	"sync"
	"time"
)

type cacheEntry struct {
	rules    []*Rule
	cachedAt time.Time
}

// InMemoryRulesCache is a simple in-memory implementation of RulesCache
// Thread-safe for concurrent access
type InMemoryRulesCache struct {
	entries    map[string]cacheEntry
	generation uint64
	config     CacheConfig
	mu         sync.RWMutex
}

// NewInMemoryRulesCache creates a new in-memory rules cache
func NewInMemoryRulesCache(config CacheConfig) *InMemoryRulesCache {
	return &InMemoryRulesCache{
		entries: make(map[string]cacheEntry),
		config:  config,
	}
}

// Get retrieves cached rules for an event
func (c *InMemoryRulesCache) Get(_ context.Context, event string) ([]*Rule, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[event]
	if !ok {
		return nil, false
	}

	if c.config.TTL > 0 && time.Since(entry.cachedAt) > c.config.TTL {
		return nil, false
	}

	// Return copy to prevent external modifications
	rulesCopy := make([]*Rule, len(entry.rules))
	copy(rulesCopy, entry.rules)
	return rulesCopy, true
}

func (c *InMemoryRulesCache) Generation(_ context.Context) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generation
}

// Set stores rules for an event unless the cache was invalidated since
// generation was read
func (c *InMemoryRulesCache) Set(_ context.Context, generation uint64, event string, rules []*Rule) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if generation != c.generation {
		return false
	}
	stored := make([]*Rule, len(rules))
	copy(stored, rules)
	c.entries[event] = cacheEntry{rules: stored, cachedAt: time.Now()}
	return true
}

// Invalidate clears the cache
func (c *InMemoryRulesCache) Invalidate(_ context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]cacheEntry)
	c.generation++
}
