package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Entity-Annotation-Platform/internal/annotate"
	"github.com/Adithya-Monish-Kumar-K/Entity-Annotation-Platform/internal/entity"
	"github.com/Adithya-Monish-Kumar-K/Entity-Annotation-Platform/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/Entity-Annotation-Platform/pkg/redis"
)

type memoryStore struct {
	mu      sync.Mutex
	data    map[string][]byte
	getErr  error
	setCall int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: make(map[string][]byte)}
}

func (s *memoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	v, ok := s.data[key]
	if !ok {
		return nil, pkgredis.ErrMiss
	}
	return v, nil
}

func (s *memoryStore) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setCall++
	s.data[key] = value
	return nil
}

func (s *memoryStore) FlushByPattern(_ context.Context, pattern string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	var n int64
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			delete(s.data, k)
			n++
		}
	}
	return n, nil
}

func result() *annotate.Query {
	return &annotate.Query{
		Language: &annotate.Language{Lang: "en"},
		Entities: []entity.Entity{{Start: 0, End: 5, Text: "Paris", Origin: entity.OriginAutomatic, NerConfidence: 0.9}},
		Runtime:  12,
	}
}

func newCache(store Store) (*ResultCache, *metrics.Metrics) {
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	return New(store, time.Hour, m), m
}

func TestKeyDependsOnInputsThatMatter(t *testing.T) {
	q := &annotate.Query{Language: &annotate.Language{Lang: "en"}}
	base := Key("pdf", []byte("doc"), q)

	assert.True(t, strings.HasPrefix(base, keyPrefix))
	assert.Equal(t, base, Key("pdf", []byte("doc"), &annotate.Query{Language: &annotate.Language{Lang: " EN "}}))
	assert.NotEqual(t, base, Key("text", []byte("doc"), q))
	assert.NotEqual(t, base, Key("pdf", []byte("doc2"), q))
	assert.NotEqual(t, base, Key("pdf", []byte("doc"), &annotate.Query{Language: q.Language, OnlyNER: true}))

	a := &annotate.Query{Entities: []entity.Entity{{Start: 0, End: 5, Text: "Paris"}, {Start: 9, End: 12, Text: "Rome"}}}
	b := &annotate.Query{Entities: []entity.Entity{{Start: 9, End: 12, Text: "Rome"}, {Start: 0, End: 5, Text: "Paris"}}}
	assert.Equal(t, Key("pdf", nil, a), Key("pdf", nil, b), "caller entity order does not matter")
}

func TestKeyIncludesTextWhenLanguageIsIdentified(t *testing.T) {
	english := &annotate.Query{Text: "A study of rivers."}
	german := &annotate.Query{Text: "Eine Studie über Flüsse."}
	assert.NotEqual(t, Key("pdf", []byte("doc"), english), Key("pdf", []byte("doc"), german))

	english.Language = &annotate.Language{Lang: "en"}
	german.Language = &annotate.Language{Lang: "en"}
	assert.Equal(t, Key("pdf", []byte("doc"), english), Key("pdf", []byte("doc"), german), "a hint fixes the language")
}

func TestGetOrComputeCachesCompleteResults(t *testing.T) {
	store := newMemoryStore()
	c, m := newCache(store)
	ctx := context.Background()
	calls := 0
	compute := func() (*annotate.Query, *annotate.Report, error) {
		calls++
		return result(), &annotate.Report{}, nil
	}

	first, report, hit, err := c.GetOrCompute(ctx, "annotation:k", compute)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.NotNil(t, report)

	second, report, hit, err := c.GetOrCompute(ctx, "annotation:k", compute)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Nil(t, report)
	assert.Equal(t, first.Entities, second.Entities)
	assert.Equal(t, 1, calls)

	assert.Equal(t, Stats{Hits: 1, Misses: 1, HitRate: 0.5}, c.Stats())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheHitsTotal))
}

func TestGetOrComputeSkipsDegradedAndErrors(t *testing.T) {
	store := newMemoryStore()
	c, _ := newCache(store)
	ctx := context.Background()

	_, _, _, err := c.GetOrCompute(ctx, "annotation:a", func() (*annotate.Query, *annotate.Report, error) {
		return result(), &annotate.Report{Degraded: true}, nil
	})
	require.NoError(t, err)

	_, _, _, err = c.GetOrCompute(ctx, "annotation:b", func() (*annotate.Query, *annotate.Report, error) {
		return result(), &annotate.Report{SegmentsFailed: 1}, nil
	})
	require.NoError(t, err)

	boom := errors.New("boom")
	_, report, _, err := c.GetOrCompute(ctx, "annotation:c", func() (*annotate.Query, *annotate.Report, error) {
		return nil, &annotate.Report{DocumentID: "d"}, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "d", report.DocumentID)
	assert.Zero(t, store.setCall)
}

func TestGetOrComputeStoreFailureFallsThrough(t *testing.T) {
	store := newMemoryStore()
	store.getErr = errors.New("connection refused")
	c, _ := newCache(store)

	q, _, hit, err := c.GetOrCompute(context.Background(), "annotation:k", func() (*annotate.Query, *annotate.Report, error) {
		return result(), nil, nil
	})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Len(t, q.Entities, 1)
}

func TestGetOrComputeCollapsesConcurrentCalls(t *testing.T) {
	c, _ := newCache(newMemoryStore())
	var calls atomic.Int32
	release := make(chan struct{})

	var wg sync.WaitGroup
	results := make([]*annotate.Query, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			q, _, _, err := c.GetOrCompute(context.Background(), "annotation:same", func() (*annotate.Query, *annotate.Report, error) {
				calls.Add(1)
				<-release
				return result(), nil, nil
			})
			assert.NoError(t, err)
			results[i] = q
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.LessOrEqual(t, calls.Load(), int32(5))
	assert.GreaterOrEqual(t, calls.Load(), int32(1))
	for _, q := range results {
		require.NotNil(t, q)
		assert.Len(t, q.Entities, 1)
	}
	results[0].Entities[0].Text = "mutated"
	assert.Equal(t, "Paris", results[1].Entities[0].Text, "callers get independent copies")
}

func TestInvalidate(t *testing.T) {
	store := newMemoryStore()
	store.data["annotation:a"] = []byte("{}")
	store.data["annotation:b"] = []byte("{}")
	store.data["other:c"] = []byte("{}")
	c, _ := newCache(store)

	n, err := c.Invalidate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Len(t, store.data, 1)
}

func TestNilCacheComputes(t *testing.T) {
	var c *ResultCache
	q, _, hit, err := c.GetOrCompute(context.Background(), "k", func() (*annotate.Query, *annotate.Report, error) {
		return result(), nil, nil
	})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.NotNil(t, q)
	assert.Equal(t, Stats{}, c.Stats())
	n, err := c.Invalidate(context.Background())
	assert.NoError(t, err)
	assert.Zero(t, n)
}
