package rules

import (
	"context"
	"time"
)

// RulesCache caches the active rules of each trigger event.
// This allows swapping between in-memory, Redis, or other caching implementations.
type RulesCache interface {
	// Get retrieves cached rules for event; ok is false on a miss or expiry.
	// A hit may hold zero rules.
	Get(ctx context.Context, event string) (rules []*Rule, ok bool)

	// Generation identifies the cache contents; every Invalidate changes it
	Generation(ctx context.Context) uint64

	// Set stores the active rules for event only while the cache is still at
	// generation, so a store read that raced a rule change is dropped.
	// Reports whether the rules were stored.
	Set(ctx context.Context, generation uint64, event string, rules []*Rule) bool

	// Invalidate clears every event, forcing a refresh on next Get
	Invalidate(ctx context.Context)
}

// CacheConfig holds configuration for cache behavior
type CacheConfig struct {
	// TTL is the time-to-live for cached entries
	// Set to 0 for no expiration (manual invalidation only)
	TTL time.Duration
}

// DefaultCacheConfig returns sensible defaults for rule caching
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		TTL: 0, // No TTL - only invalidate on mutations
	}
}
