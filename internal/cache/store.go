package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Store defines the interface for entry persistence. Entries never expire;
// staleness is driven by callers asking for a refresh.
type Store interface {
	Get(ctx context.Context, key string) (*Entry, bool, error)
	Set(ctx context.Context, key string, entry *Entry) error
	Delete(ctx context.Context, key string) error
}

// MemoryStore keeps entries in process memory.
type MemoryStore struct {
	cache *gocache.Cache
}

// NewMemoryStore creates an in-memory store with no expiry.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cache: gocache.New(gocache.NoExpiration, 0),
	}
}

// Get retrieves an entry.
func (s *MemoryStore) Get(_ context.Context, key string) (*Entry, bool, error) {
	if val, found := s.cache.Get(key); found {
		return val.(*Entry), true, nil
	}
	return nil, false, nil
}

// Set stores an entry.
func (s *MemoryStore) Set(_ context.Context, key string, entry *Entry) error {
	s.cache.Set(key, entry, gocache.NoExpiration)
	return nil
}

// Delete removes an entry.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.cache.Delete(key)
	return nil
}

// DefaultRedisPrefix namespaces entry keys in redis.
const DefaultRedisPrefix = "threatpulse:score:"

// RedisStore keeps entries in redis as JSON so they survive restarts and
// can be shared between replicas.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore creates a redis-backed store.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

// Get retrieves an entry.
func (s *RedisStore) Get(ctx context.Context, key string) (*Entry, bool, error) {
	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, false, fmt.Errorf("decode entry %s: %w", key, err)
	}
	return &entry, true, nil
}

// Set stores an entry without a TTL.
func (s *RedisStore) Set(ctx context.Context, key string, entry *Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode entry %s: %w", key, err)
	}
	if err := s.client.Set(ctx, s.prefix+key, data, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Delete removes an entry.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// LayeredStore reads through a fast front store to a shared back store.
type LayeredStore struct {
	front  Store
	back   Store
	logger *zap.Logger
}

// NewLayeredStore creates a two-layer store. A nil logger discards output.
func NewLayeredStore(front, back Store, logger *zap.Logger) *LayeredStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LayeredStore{front: front, back: back, logger: logger}
}

// Get checks the front store first, then the back store, promoting hits.
func (s *LayeredStore) Get(ctx context.Context, key string) (*Entry, bool, error) {
	if entry, found, err := s.front.Get(ctx, key); err == nil && found {
		return entry, true, nil
	}

	entry, found, err := s.back.Get(ctx, key)
	if err != nil || !found {
		return nil, false, err
	}

	if err := s.front.Set(ctx, key, entry); err != nil {
		s.logger.Debug("Front store promote failed",
			zap.String("key", key),
			zap.Error(err),
		)
	}
	return entry, true, nil
}

// Set stores an entry in both layers. The front layer is always written.
func (s *LayeredStore) Set(ctx context.Context, key string, entry *Entry) error {
	if err := s.front.Set(ctx, key, entry); err != nil {
		return err
	}
	return s.back.Set(ctx, key, entry)
}

// Delete removes an entry from both layers.
func (s *LayeredStore) Delete(ctx context.Context, key string) error {
	return errors.Join(s.front.Delete(ctx, key), s.back.Delete(ctx, key))
}
