package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/podsage/podsage/pkg/models"
)

type queryRunner interface {
	Run(ctx context.Context, query models.Query) (models.Response, *Trace, error)
}

// CachedRunner serves repeated identical queries from redis instead of
// re-running the pipeline. The key covers text, user and language, so a
// cached answer is only ever replayed to the request shape that produced it.
// Redis trouble falls through to the inner runner.
type CachedRunner struct {
	inner  queryRunner
	rdb    *redis.Client
	ttl    time.Duration
	logger *logrus.Logger
}

func NewCachedRunner(inner queryRunner, rdb *redis.Client, ttl time.Duration, logger *logrus.Logger) *CachedRunner {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedRunner{inner: inner, rdb: rdb, ttl: ttl, logger: logger}
}

func (c *CachedRunner) Run(ctx context.Context, query models.Query) (models.Response, *Trace, error) {
	key := cacheKey(query)

	data, err := c.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var resp models.Response
		if json.Unmarshal(data, &resp) == nil {
			resp.TraceID = query.ID.String()
			trace := NewTrace(resp.TraceID)
			trace.Append(TraceEntry{
				Stage:      "cache",
				Elapsed:    trace.Elapsed(),
				OutputSize: len(resp.Recommendations),
				Confidence: resp.Confidence,
			})
			return resp, trace, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		c.logger.WithError(err).Warn("Response cache read failed")
	}

	resp, trace, err := c.inner.Run(ctx, query)
	if err != nil {
		return resp, trace, err
	}

	// Default answers reflect transient backend conditions; caching them
	// would keep serving the apology after the backends recover.
	if resp.Source != models.SourceDefault {
		if payload, merr := json.Marshal(resp); merr == nil {
			if serr := c.rdb.Set(ctx, key, payload, c.ttl).Err(); serr != nil {
				c.logger.WithError(serr).Warn("Response cache write failed")
			}
		}
	}

	return resp, trace, nil
}

func cacheKey(q models.Query) string {
	sum := sha256.Sum256([]byte(q.Text + "\x00" + q.UserID + "\x00" + q.Lang))
	return "response:" + hex.EncodeToString(sum[:])
}
