package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/allegro/bigcache/v3"
	"github.com/redis/go-redis/v9"
)

// RevocationStore remembers revoked session ids until they expire.
type RevocationStore interface {
	Revoke(ctx context.Context, sessionID string, ttl time.Duration) error
	IsRevoked(ctx context.Context, sessionID string) (bool, error)
}

type RedisRevocationStore struct {
	client *redis.Client
	prefix string
}

func NewRedisRevocationStore(client *redis.Client, prefix string) *RedisRevocationStore {
	if prefix == "" {
		prefix = "authportal"
	}
	return &RedisRevocationStore{client: client, prefix: prefix}
}

func (s *RedisRevocationStore) key(sessionID string) string {
	return s.prefix + ":revoked:" + sessionID
}

func (s *RedisRevocationStore) Revoke(ctx context.Context, sessionID string, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.key(sessionID), 1, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (s *RedisRevocationStore) IsRevoked(ctx context.Context, sessionID string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(sessionID)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n > 0, nil
}

// MemoryRevocationStore keeps revocations in process for a fixed window, which
// should be the session TTL. Revocations do not survive restarts.
type MemoryRevocationStore struct {
	cache *bigcache.BigCache
}

func NewMemoryRevocationStore(window time.Duration) (*MemoryRevocationStore, error) {
	cfg := bigcache.DefaultConfig(window)
	cfg.Shards = 64
	cfg.CleanWindow = time.Minute
	cfg.MaxEntriesInWindow = 10000
	cfg.MaxEntrySize = 8
	cfg.Verbose = false

	cache, err := bigcache.NewBigCache(cfg)
	if err != nil {
		return nil, fmt.Errorf("create revocation cache: %w", err)
	}
	return &MemoryRevocationStore{cache: cache}, nil
}

func (s *MemoryRevocationStore) Revoke(_ context.Context, sessionID string, _ time.Duration) error {
	return s.cache.Set(sessionID, []byte{1})
}

func (s *MemoryRevocationStore) IsRevoked(_ context.Context, sessionID string) (bool, error) {
	buf, err := s.cache.Get(sessionID)
	if err != nil {
		if errors.Is(err, bigcache.ErrEntryNotFound) {
			return false, nil
		}
		return false, err
	}
	return len(buf) > 0 && buf[0] == 1, nil
}
