package session

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

// MemoryStore keeps sessions in process memory. Sessions are lost on restart and are not
// shared between replicas; use RedisStore for that.
type MemoryStore struct {
	cache *cache.Cache
}

func NewMemoryStore(defaultTTL time.Duration) *MemoryStore {
	cleanup := defaultTTL
	if cleanup < time.Minute {
		cleanup = time.Minute
	}
	return &MemoryStore{cache: cache.New(defaultTTL, cleanup)}
}

func (s *MemoryStore) Get(_ context.Context, id string) (Values, error) {
	item, ok := s.cache.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	values, ok := item.(Values)
	if !ok {
		return nil, ErrNotFound
	}
	return values.clone(), nil
}

func (s *MemoryStore) Set(_ context.Context, id string, values Values, ttl time.Duration) error {
	s.cache.Set(id, values.clone(), ttl)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.cache.Delete(id)
	return nil
}

func (s *MemoryStore) Close() error {
	s.cache.Flush()
	return nil
}
