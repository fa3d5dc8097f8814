package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultTTL bounds how long service metadata is trusted.
const DefaultTTL = 5 * time.Minute

var (
	// ErrCacheMiss is returned for absent and expired keys.
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry is returned when a stored value cannot be decoded.
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// Manager stores metadata documents in Redis. It implements
// capabilities.MetadataCache.
type Manager struct {
	redis  *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// NewManager creates a manager on redisClient. A ttl <= 0 selects
// DefaultTTL.
func NewManager(redisClient *redis.Client, ttl time.Duration) *Manager {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{
		redis:  redisClient,
		ttl:    ttl,
		logger: log.With().Str("component", "metadata-cache").Logger(),
	}
}

// TTL returns the lifetime given to stored metadata.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Get returns the entry stored under key, or ErrCacheMiss.
func (m *Manager) Get(ctx context.Context, key CacheKey) (*CacheEntry, error) {
	scope := key.scope()

	data, err := m.redis.Get(ctx, key.String()).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		lookupsTotal.WithLabelValues(scope, resultMiss).Inc()
		return nil, ErrCacheMiss
	case err != nil:
		errorsTotal.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		lookupsTotal.WithLabelValues(scope, resultInvalid).Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	// Redis expiry is authoritative; this catches clock skew between writers.
	if entry.IsExpired() {
		lookupsTotal.WithLabelValues(scope, resultExpired).Inc()
		if err := m.Delete(ctx, key); err != nil {
			m.logger.Debug().Err(err).Str("key", key.String()).Msg("Failed to drop expired entry")
		}
		return nil, ErrCacheMiss
	}

	lookupsTotal.WithLabelValues(scope, resultHit).Inc()
	return &entry, nil
}

// Set stores entry until its Expires time. Expired entries are ignored.
func (m *Manager) Set(ctx context.Context, key CacheKey, entry *CacheEntry) error {
	if entry == nil {
		return errors.New("cache entry cannot be nil")
	}
	ttl := entry.TTL()
	if ttl <= 0 {
		return nil
	}

	data, err := json.Marshal(entry)
	if err != nil {
		errorsTotal.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}
	if err := m.redis.Set(ctx, key.String(), data, ttl).Err(); err != nil {
		errorsTotal.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	storedBytesTotal.WithLabelValues(key.scope()).Add(float64(len(data)))
	m.logger.Debug().
		Str("key", key.String()).
		Dur("ttl", ttl).
		Int("bytes", len(data)).
		Msg("Metadata cached")
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (m *Manager) Delete(ctx context.Context, key CacheKey) error {
	if err := m.redis.Del(ctx, key.String()).Err(); err != nil {
		errorsTotal.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// LoadMetadata returns cached metadata for a layer. A miss is reported as
// found=false with a nil error.
func (m *Manager) LoadMetadata(ctx context.Context, serviceURL string, authenticated bool) ([]byte, bool, error) {
	entry, err := m.Get(ctx, CacheKey{ServiceURL: serviceURL, Authenticated: authenticated})
	if errors.Is(err, ErrCacheMiss) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return entry.Data, true, nil
}

// StoreMetadata caches metadata for a layer for the manager's TTL.
func (m *Manager) StoreMetadata(ctx context.Context, serviceURL string, authenticated bool, data []byte) error {
	return m.Set(ctx, CacheKey{ServiceURL: serviceURL, Authenticated: authenticated}, NewEntry(data, m.ttl))
}
