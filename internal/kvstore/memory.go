package kvstore

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

// MemoryStore keeps values in process memory. Values never expire.
type MemoryStore struct {
	items *cache.Cache
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: cache.New(cache.NoExpiration, 0)}
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := s.items.Get(key)
	if !ok {
		return "", false, nil
	}
	return v.(string), true, nil
}

func (s *MemoryStore) Set(_ context.Context, key, value string) error {
	s.items.Set(key, value, cache.NoExpiration)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.items.Delete(key)
	return nil
}

func (s *MemoryStore) Close() error {
	s.items.Flush()
	return nil
}

// CachedStore serves reads from a TTL cache in front of another store.
// Writes go to the backing store first and update the cache on success.
type CachedStore struct {
	backing Store
	cache   *cache.Cache
}

// NewCachedStore wraps backing with a read cache of the given TTL.
func NewCachedStore(backing Store, ttl time.Duration) *CachedStore {
	return &CachedStore{
		backing: backing,
		cache:   cache.New(ttl, ttl*2),
	}
}

// cachedMiss marks keys known to be absent.
type cachedMiss struct{}

func (s *CachedStore) Get(ctx context.Context, key string) (string, bool, error) {
	if v, ok := s.cache.Get(key); ok {
		if value, isString := v.(string); isString {
			return value, true, nil
		}
		return "", false, nil
	}

	value, ok, err := s.backing.Get(ctx, key)
	if err != nil {
		return "", false, err
	}
	if ok {
		s.cache.Set(key, value, cache.DefaultExpiration)
	} else {
		s.cache.Set(key, cachedMiss{}, cache.DefaultExpiration)
	}
	return value, ok, nil
}

func (s *CachedStore) Set(ctx context.Context, key, value string) error {
	if err := s.backing.Set(ctx, key, value); err != nil {
		s.cache.Delete(key)
		return err
	}
	s.cache.Set(key, value, cache.DefaultExpiration)
	return nil
}

func (s *CachedStore) Delete(ctx context.Context, key string) error {
	s.cache.Delete(key)
	return s.backing.Delete(ctx, key)
}

func (s *CachedStore) Close() error {
	s.cache.Flush()
	return s.backing.Close()
}
