// Package cache stores finished annotation results in Redis so identical
// documents with identical options are processed once.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/Entity-Annotation-Platform/internal/annotate"
	"github.com/Adithya-Monish-Kumar-K/Entity-Annotation-Platform/internal/entity"
	"github.com/Adithya-Monish-Kumar-K/Entity-Annotation-Platform/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Entity-Annotation-Platform/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/Entity-Annotation-Platform/pkg/redis"
)

const keyPrefix = "annotation:"

// Store is the subset of the Redis client the cache needs.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

// Compute produces a fresh result on a miss.
type Compute func() (*annotate.Query, *annotate.Report, error)

// Stats are the cache counters since start.
type Stats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hitRate"`
}

// ResultCache caches annotated queries. A nil *ResultCache computes every
// request.
type ResultCache struct {
	store   Store
	ttl     time.Duration
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

func New(store Store, ttl time.Duration, m *metrics.Metrics) *ResultCache {
	return &ResultCache{
		store:   store,
		ttl:     ttl,
		metrics: m,
		logger:  logger.WithComponent("result-cache"),
	}
}

// Key derives the cache key from the input bytes and every query field
// that influences the result. Without a language hint the query text
// decides the language, so it is part of the key.
func Key(kind string, input []byte, q *annotate.Query) string {
	lang := strings.ToLower(strings.TrimSpace(q.Lang()))
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%t\x00", kind, lang, q.OnlyNER)
	h.Write(input)
	h.Write([]byte{0})
	if lang == "" {
		h.Write([]byte(strings.TrimSpace(q.Text)))
	}
	h.Write([]byte{0})

	pinned := slices.Clone(q.Entities)
	entity.Sort(pinned)
	for _, e := range pinned {
		fmt.Fprintf(h, "%d:%d:%s:%s:%s\x00", e.Start, e.End, e.Text, e.Type, e.KnowledgeBaseRef)
	}
	return keyPrefix + hex.EncodeToString(h.Sum(nil)[:16])
}

// GetOrCompute returns the cached result for key or runs compute once for
// all concurrent callers of the same key. Only complete results (not
// degraded, no failed segment) are stored.
func (c *ResultCache) GetOrCompute(ctx context.Context, key string, compute Compute) (*annotate.Query, *annotate.Report, bool, error) {
	if c == nil {
		q, r, err := compute()
		return q, r, false, err
	}
	if q, ok := c.get(ctx, key); ok {
		return q, nil, true, nil
	}

	type shared struct {
		query  *annotate.Query
		report *annotate.Report
	}
	val, err, _ := c.group.Do(key, func() (any, error) {
		q, r, err := compute()
		if err != nil {
			return shared{report: r}, err
		}
		if r == nil || (!r.Degraded && r.SegmentsFailed == 0) {
			c.set(ctx, key, q)
		}
		return shared{query: q, report: r}, nil
	})
	res, _ := val.(shared)
	if err != nil {
		return nil, res.report, false, err
	}
	return cloneQuery(res.query), res.report, false, nil
}

func (c *ResultCache) get(ctx context.Context, key string) (*annotate.Query, bool) {
	data, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, pkgredis.ErrMiss) {
			c.logger.Warn("cache get failed", "key", key, "error", err)
		}
		c.miss()
		return nil, false
	}
	var q annotate.Query
	if err := json.Unmarshal(data, &q); err != nil {
		c.logger.Warn("cache entry unreadable", "key", key, "error", err)
		c.miss()
		return nil, false
	}
	c.hits.Add(1)
	c.metrics.CacheHitsTotal.Inc()
	return &q, true
}

func (c *ResultCache) set(ctx context.Context, key string, q *annotate.Query) {
	data, err := json.Marshal(q)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.store.Set(ctx, key, data, c.ttl); err != nil {
		c.logger.Warn("cache set failed", "key", key, "error", err)
	}
}

func (c *ResultCache) miss() {
	c.misses.Add(1)
	c.metrics.CacheMissesTotal.Inc()
}

// Invalidate removes every cached annotation.
func (c *ResultCache) Invalidate(ctx context.Context) (int64, error) {
	if c == nil {
		return 0, nil
	}
	deleted, err := c.store.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return deleted, fmt.Errorf("invalidating annotation cache: %w", err)
	}
	c.logger.Info("cache invalidated", "keys_deleted", deleted)
	return deleted, nil
}

// Stats returns the hit and miss counters.
func (c *ResultCache) Stats() Stats {
	if c == nil {
		return Stats{}
	}
	s := Stats{Hits: c.hits.Load(), Misses: c.misses.Load()}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}

// cloneQuery gives each singleflight caller its own copy.
func cloneQuery(q *annotate.Query) *annotate.Query {
	if q == nil {
		return nil
	}
	out := *q
	out.Entities = slices.Clone(q.Entities)
	if q.Language != nil {
		lang := *q.Language
		out.Language = &lang
	}
	return &out
}
