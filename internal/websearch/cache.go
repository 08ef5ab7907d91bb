package websearch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Cached wraps a Client with a redis TTL cache keyed on (query, lang). Cache
// failures are invisible to callers; a broken redis only costs provider calls.
type Cached struct {
	inner  Client
	redis  *redis.Client
	ttl    time.Duration
	logger *logrus.Logger
}

func NewCached(inner Client, rdb *redis.Client, ttl time.Duration, logger *logrus.Logger) *Cached {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Cached{inner: inner, redis: rdb, ttl: ttl, logger: logger}
}

func (c *Cached) Search(ctx context.Context, query, lang string) Result {
	key := cacheKey(query, lang)

	if c.redis != nil {
		raw, err := c.redis.Get(ctx, key).Result()
		if err == nil {
			var cached Result
			if err := json.Unmarshal([]byte(raw), &cached); err == nil {
				return cached
			}
		} else if err != redis.Nil {
			c.logger.WithError(err).Debug("Web search cache read failed")
		}
	}

	result := c.inner.Search(ctx, query, lang)

	// Failed lookups are not cached so the provider gets another chance
	// once it recovers.
	if c.redis != nil && (len(result.Hits) > 0 || result.Summary != "") {
		if raw, err := json.Marshal(result); err == nil {
			if err := c.redis.Set(ctx, key, raw, c.ttl).Err(); err != nil {
				c.logger.WithError(err).Debug("Web search cache write failed")
			}
		}
	}

	return result
}

func cacheKey(query, lang string) string {
	sum := sha256.Sum256([]byte(lang + "\x00" + query))
	return fmt.Sprintf("web_search:%s:%s", lang, hex.EncodeToString(sum[:16]))
}
