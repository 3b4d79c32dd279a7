package captcha

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"time"

	"github.com/allegro/bigcache/v3"
)

// verdictCache keeps accepted verdicts for a short time, keyed by the token
// digest. Each entry can be consumed once.
type verdictCache struct {
	cache *bigcache.BigCache
}

func newVerdictCache(ttl time.Duration) (*verdictCache, error) {
	cfg := bigcache.DefaultConfig(ttl)
	cfg.Shards = 64
	cfg.CleanWindow = time.Second
	cfg.MaxEntriesInWindow = 10000
	cfg.MaxEntrySize = 16
	cfg.Verbose = false

	cache, err := bigcache.NewBigCache(cfg)
	if err != nil {
		return nil, fmt.Errorf("create verdict cache: %w", err)
	}
	return &verdictCache{cache: cache}, nil
}

func (c *verdictCache) store(token string, score float64) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, math.Float64bits(score))
	return c.cache.Set(tokenKey(token), buf)
}

func (c *verdictCache) consume(token string) (float64, bool) {
	key := tokenKey(token)
	buf, err := c.cache.Get(key)
	if err != nil || len(buf) != 8 {
		return 0, false
	}
	// Delete is serialized per shard, so only one caller wins a given entry.
	if err := c.cache.Delete(key); err != nil {
		return 0, false
	}
	return math.Float64frombits(binary.BigEndian.Uint64(buf)), true
}

func tokenKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
