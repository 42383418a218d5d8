package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// CacheHelper provides common caching operations for repositories
type CacheHelper struct {
	client *redis.Client
	prefix string
}

// NewCacheHelper creates a new cache helper instance
func NewCacheHelper(client *redis.Client, prefix string) *CacheHelper {
	return &CacheHelper{
		client: client,
		prefix: prefix,
	}
}

// CacheConfig defines cache configuration for different data types
type CacheConfig struct {
	TTL    time.Duration
	Prefix string
}

var (
	// Profiles are invalidated on every write, the TTL only bounds staleness
	// when a writer outside this service touches the table
	ProfileCacheConfig = CacheConfig{
		TTL:    2 * time.Minute,
		Prefix: "profile:",
	}

	// Audit pages for the admin history screen
	AuditCacheConfig = CacheConfig{
		TTL:    30 * time.Second,
		Prefix: "audit:",
	}
)

// Cache errors
var (
	ErrCacheNotAvailable = errors.New("cache not available")
	ErrCacheNotFound     = errors.New("cache not found")

	errStaleWriteBack = errors.New("cache invalidated during fetch")
)

// Generation counters live under <prefix>gen and are bumped by every
// invalidation. A cache-aside write-back only lands when the counters it saw
// before fetching are unchanged.
const (
	generationNamespace = "gen"
	generationTTL       = 24 * time.Hour
)

// GetCacheKey generates a cache key with prefix
func (c *CacheHelper) GetCacheKey(key string) string {
	return fmt.Sprintf("%s%s", c.prefix, key)
}

func (c *CacheHelper) generationKey(key string) string {
	return c.prefix + generationNamespace + ":" + key
}

func (c *CacheHelper) patternGenerationKey() string {
	return c.prefix + generationNamespace + "-all"
}

func (c *CacheHelper) isGenerationKey(fullKey string) bool {
	return strings.HasPrefix(fullKey, c.prefix+generationNamespace)
}

// Available reports whether a redis client is wired
func (c *CacheHelper) Available() bool {
	return c != nil && c.client != nil
}

// Get retrieves and unmarshals data from cache
func (c *CacheHelper) Get(ctx context.Context, key string, dest interface{}) error {
	if !c.Available() {
		return ErrCacheNotAvailable
	}

	data, err := c.client.Get(ctx, c.GetCacheKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrCacheNotFound
		}
		return fmt.Errorf("cache get error for key type: %w", err)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("cache unmarshal error: %w", err)
	}

	return nil
}

// Set marshals and stores data in cache
func (c *CacheHelper) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if !c.Available() {
		return nil // Graceful degradation when cache not available
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache marshal error: %w", err)
	}

	return c.client.Set(ctx, c.GetCacheKey(key), data, ttl).Err()
}

// Delete removes keys and bumps their generation so in-flight fetches
// do not write the old value back
func (c *CacheHelper) Delete(ctx context.Context, keys ...string) error {
	if !c.Available() || len(keys) == 0 {
		return nil
	}

	cacheKeys := make([]string, len(keys))
	for i, key := range keys {
		cacheKeys[i] = c.GetCacheKey(key)
	}

	pipe := c.client.Pipeline()
	pipe.Del(ctx, cacheKeys...)
	for _, key := range keys {
		genKey := c.generationKey(key)
		pipe.Incr(ctx, genKey)
		pipe.Expire(ctx, genKey, generationTTL)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// InvalidatePattern removes all keys matching a pattern using SCAN instead of KEYS
func (c *CacheHelper) InvalidatePattern(ctx context.Context, pattern string) error {
	if !c.Available() {
		return nil
	}

	fullPattern := c.GetCacheKey(pattern)
	var cursor uint64
	var keys []string

	for {
		var scanKeys []string
		var err error
		scanKeys, cursor, err = c.client.Scan(ctx, cursor, fullPattern, 100).Result()
		if err != nil {
			return fmt.Errorf("cache scan pattern error: %w", err)
		}
		for _, key := range scanKeys {
			if !c.isGenerationKey(key) {
				keys = append(keys, key)
			}
		}
		if cursor == 0 {
			break
		}
	}

	pipe := c.client.Pipeline()
	patternGen := c.patternGenerationKey()
	pipe.Incr(ctx, patternGen)
	pipe.Expire(ctx, patternGen, generationTTL)

	const batchSize = 100
	for i := 0; i < len(keys); i += batchSize {
		end := i + batchSize
		if end > len(keys) {
			end = len(keys)
		}
		pipe.Del(ctx, keys[i:end]...)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache pipeline delete error: %w", err)
	}

	return nil
}

// CacheOrExecute implements cache-aside. The fetched value is written back
// only if no invalidation of key (or of the whole helper by pattern) ran
// while fetchFunc was loading it.
func (c *CacheHelper) CacheOrExecute(ctx context.Context, key string, dest interface{}, ttl time.Duration, fetchFunc func() (interface{}, error)) error {
	err := c.Get(ctx, key, dest)
	if err == nil {
		return nil
	}

	if !errors.Is(err, ErrCacheNotFound) && !errors.Is(err, ErrCacheNotAvailable) {
		slog.InfoContext(ctx, "Cache get error, proceeding to fetch", "error", err, "key", key)
	}

	var seen []interface{}
	var genErr error
	if c.Available() {
		seen, genErr = c.client.MGet(ctx, c.generationKeys(key)...).Result()
	}

	value, err := fetchFunc()
	if err != nil {
		return err
	}

	if c.Available() && genErr == nil {
		if err := c.setIfUnchanged(ctx, key, value, ttl, seen); err != nil && !errors.Is(err, errStaleWriteBack) {
			slog.ErrorContext(ctx, "Cache set error", "error", err, "key", key)
		}
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal result error: %w", err)
	}

	return json.Unmarshal(data, dest)
}

func (c *CacheHelper) generationKeys(key string) []string {
	return []string{c.generationKey(key), c.patternGenerationKey()}
}

// setIfUnchanged writes value under WATCH of the generation keys
func (c *CacheHelper) setIfUnchanged(ctx context.Context, key string, value interface{}, ttl time.Duration, seen []interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache marshal error: %w", err)
	}

	genKeys := c.generationKeys(key)
	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.MGet(ctx, genKeys...).Result()
		if err != nil {
			return err
		}
		if !sameGenerations(seen, current) {
			return errStaleWriteBack
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, c.GetCacheKey(key), data, ttl)
			return nil
		})
		return err
	}, genKeys...)
	if errors.Is(err, redis.TxFailedErr) {
		return errStaleWriteBack
	}
	return err
}

func sameGenerations(a, b []interface{}) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// CacheManager manages multiple cache helpers
type CacheManager struct {
	client  *redis.Client
	Profile *CacheHelper
	Audit   *CacheHelper
}

// NewCacheManager creates cache manager with all cache helpers; a nil client
// yields helpers that always miss
func NewCacheManager(client *redis.Client) *CacheManager {
	return &CacheManager{
		client:  client,
		Profile: NewCacheHelper(client, ProfileCacheConfig.Prefix),
		Audit:   NewCacheHelper(client, AuditCacheConfig.Prefix),
	}
}

// HealthCheck verifies cache connectivity
func (cm *CacheManager) HealthCheck(ctx context.Context) error {
	if cm.client == nil {
		return ErrCacheNotAvailable
	}

	if _, err := cm.client.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("cache health check failed: %w", err)
	}

	return nil
}
