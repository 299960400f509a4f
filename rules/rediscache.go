package rules

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/go-redis/redis/v8"
)

// RedisRulesCache stores each event's active rules as a JSON document under
// "<prefix>:<event>". A counter under "<prefix>#generation" is bumped on every
// Invalidate so writes from stale store reads can be rejected across
// processes. Redis failures degrade to cache misses.
type RedisRulesCache struct {
	client redis.UniversalClient
	prefix string
	config CacheConfig
	logger *slog.Logger
}

// NewRedisRulesCache creates a cache whose keys are namespaced by prefix,
// typically "workflows:rules:<tenantID>"
func NewRedisRulesCache(client redis.UniversalClient, prefix string, config CacheConfig, logger *slog.Logger) *RedisRulesCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisRulesCache{
		client: client,
		prefix: prefix,
		config: config,
		logger: logger,
	}
}

func (c *RedisRulesCache) key(event string) string {
	return c.prefix + ":" + event
}

func (c *RedisRulesCache) generationKey() string {
	return c.prefix + "#generation"
}

type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (c *RedisRulesCache) readGeneration(ctx context.Context, cmd stringGetter) (uint64, error) {
	gen, err := cmd.Get(ctx, c.generationKey()).Uint64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

func (c *RedisRulesCache) Generation(ctx context.Context) uint64 {
	gen, err := c.readGeneration(ctx, c.client)
	if err != nil {
		c.logger.Warn("rules cache generation read failed", "prefix", c.prefix, "error", err)
	}
	return gen
}

func (c *RedisRulesCache) Get(ctx context.Context, event string) ([]*Rule, bool) {
	data, err := c.client.Get(ctx, c.key(event)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("rules cache read failed", "event", event, "error", err)
		}
		return nil, false
	}

	var cached []*Rule
	if err := json.Unmarshal(data, &cached); err != nil {
		c.logger.Warn("rules cache entry is corrupt", "event", event, "error", err)
		return nil, false
	}
	return cached, true
}

var errStaleGeneration = errors.New("rules cache generation changed")

// Set writes under WATCH on the generation key, so an Invalidate from any
// process between the generation read and the write aborts it
func (c *RedisRulesCache) Set(ctx context.Context, generation uint64, event string, rules []*Rule) bool {
	if rules == nil {
		rules = []*Rule{}
	}
	data, err := json.Marshal(rules)
	if err != nil {
		c.logger.Warn("rules cache encode failed", "event", event, "error", err)
		return false
	}

	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := c.readGeneration(ctx, tx)
		if err != nil {
			return err
		}
		if current != generation {
			return errStaleGeneration
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, c.key(event), data, c.config.TTL)
			return nil
		})
		return err
	}, c.generationKey())

	switch {
	case err == nil:
		return true
	case errors.Is(err, errStaleGeneration), errors.Is(err, redis.TxFailedErr):
		c.logger.Debug("rules cache write skipped after invalidate", "event", event)
	default:
		c.logger.Warn("rules cache write failed", "event", event, "error", err)
	}
	return false
}

// Invalidate bumps the generation, then deletes every key under the cache
// prefix
func (c *RedisRulesCache) Invalidate(ctx context.Context) {
	if err := c.client.Incr(ctx, c.generationKey()).Err(); err != nil {
		c.logger.Warn("rules cache generation bump failed", "prefix", c.prefix, "error", err)
	}

	iter := c.client.Scan(ctx, 0, c.prefix+":*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		c.logger.Warn("rules cache scan failed", "prefix", c.prefix, "error", err)
	}
	if len(keys) == 0 {
		return
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.logger.Warn("rules cache invalidate failed", "prefix", c.prefix, "error", err)
	}
}
