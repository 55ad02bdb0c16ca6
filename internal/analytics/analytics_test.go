package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Entity-Annotation-Platform/pkg/kafka"
)

type recordingPublisher struct {
	mu      sync.Mutex
	batches [][]kafka.Event
}

func (p *recordingPublisher) Publish(_ context.Context, events ...kafka.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batches = append(p.batches, append([]kafka.Event(nil), events...))
	return nil
}

func (p *recordingPublisher) published() []kafka.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var all []kafka.Event
	for _, b := range p.batches {
		all = append(all, b...)
	}
	return all
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, StatusOK, StatusFor(200, false))
	assert.Equal(t, StatusDegraded, StatusFor(200, true))
	assert.Equal(t, StatusRejected, StatusFor(400, false))
	assert.Equal(t, StatusRejected, StatusFor(406, false))
	assert.Equal(t, StatusUnavailable, StatusFor(503, false))
	assert.Equal(t, StatusError, StatusFor(500, false))
}

func TestCollectorFlushesOnBatchSize(t *testing.T) {
	pub := &recordingPublisher{}
	c := NewCollector(pub, 10, 2, time.Hour)
	c.Start(context.Background())

	c.Track(AnnotationEvent{DocumentID: "a"})
	c.Track(AnnotationEvent{DocumentID: "b"})

	require.Eventually(t, func() bool { return len(pub.published()) == 2 }, time.Second, 5*time.Millisecond)
	events := pub.published()
	assert.Equal(t, "a", events[0].Key)
	assert.Equal(t, "b", events[1].Key)

	c.Track(AnnotationEvent{RequestID: "req"})
	c.Close()
	events = pub.published()
	require.Len(t, events, 3)
	assert.Equal(t, "req", events[2].Key)
}

func TestCollectorFlushesOnCancel(t *testing.T) {
	pub := &recordingPublisher{}
	c := NewCollector(pub, 10, 100, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	c.Start(ctx)

	c.Track(AnnotationEvent{DocumentID: "a"})
	cancel()
	c.Close()
	assert.Len(t, pub.published(), 1)
}

func TestCollectorDropsWhenFull(t *testing.T) {
	c := NewCollector(&recordingPublisher{}, 1, 1, time.Hour)
	c.Track(AnnotationEvent{DocumentID: "a"})
	c.Track(AnnotationEvent{DocumentID: "b"})
	assert.Len(t, c.eventCh, 1)
}

func TestNilCollectorTrackIsNoop(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() { c.Track(AnnotationEvent{}) })
}

func TestAggregatorStats(t *testing.T) {
	agg := NewAggregator()
	start := agg.startTime
	agg.now = func() time.Time { return start.Add(2 * time.Minute) }

	for i, latency := range []int64{10, 20, 30, 40} {
		agg.Record(AnnotationEvent{
			Kind:              "pdf",
			Language:          "en",
			AutoEntities:      3,
			UserEntities:      1,
			SegmentsProcessed: 5,
			SegmentsFailed:    i % 2,
			LatencyMs:         latency,
			Status:            StatusOK,
		})
	}
	agg.Record(AnnotationEvent{Kind: "text", Language: "de", Degraded: true, CacheHit: true, LatencyMs: 50, Status: StatusDegraded})

	stats := agg.Stats()
	assert.Equal(t, int64(5), stats.TotalDocuments)
	assert.Equal(t, map[string]int64{"pdf": 4, "text": 1}, stats.ByKind)
	assert.Equal(t, int64(4), stats.ByStatus[StatusOK])
	assert.Equal(t, int64(1), stats.DegradedDocuments)
	assert.Equal(t, int64(1), stats.CacheHits)
	assert.Equal(t, int64(20), stats.SegmentsProcessed)
	assert.Equal(t, int64(2), stats.SegmentsFailed)
	assert.InDelta(t, 0.1, stats.SegmentFailureRate, 1e-9)
	assert.InDelta(t, 3.2, stats.AvgEntities, 1e-9)
	assert.InDelta(t, 30.0, stats.AvgLatencyMs, 1e-9)
	assert.Equal(t, int64(30), stats.P50LatencyMs)
	assert.Equal(t, int64(50), stats.P99LatencyMs)
	assert.InDelta(t, 2.5, stats.DocumentsPerMinute, 1e-9)
	assert.Equal(t, []LanguageCount{{"en", 4}, {"de", 1}}, stats.TopLanguages)
	require.NotNil(t, stats.LastEventAt)
}

func TestHandleEvent(t *testing.T) {
	agg := NewAggregator()
	var sunk []string
	sink := func(_ context.Context, e AnnotationEvent) error {
		sunk = append(sunk, e.EventID)
		return nil
	}
	handle := HandleEvent(agg, sink)

	value, err := json.Marshal(AnnotationEvent{EventID: "ev-1", Kind: "pdf", Status: StatusOK})
	require.NoError(t, err)
	require.NoError(t, handle(context.Background(), []byte("doc"), value))
	require.NoError(t, handle(context.Background(), nil, []byte("{not json")))

	assert.Equal(t, []string{"ev-1"}, sunk)
	assert.Equal(t, int64(1), agg.Stats().TotalDocuments)
}

func TestHandleEventSinkErrorIsRetried(t *testing.T) {
	agg := NewAggregator()
	boom := errors.New("ledger down")
	handle := HandleEvent(agg, func(context.Context, AnnotationEvent) error { return boom })

	value, _ := json.Marshal(AnnotationEvent{EventID: "ev-1"})
	assert.ErrorIs(t, handle(context.Background(), nil, value), boom)
	assert.Zero(t, agg.Stats().TotalDocuments, "not counted until the ledger accepts it")
}

type fakeRuns struct {
	runs  []AnnotationEvent
	limit int
	err   error
}

func (f *fakeRuns) RecentRuns(_ context.Context, limit int) ([]AnnotationEvent, error) {
	f.limit = limit
	return f.runs, f.err
}

func TestHandlerStats(t *testing.T) {
	agg := NewAggregator()
	agg.Record(AnnotationEvent{Kind: "text", Status: StatusOK})
	h := NewHandler(agg, nil)

	rec := httptest.NewRecorder()
	h.Stats(rec, httptest.NewRequest(http.MethodGet, "/api/v1/analytics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var stats AggregatedStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, int64(1), stats.TotalDocuments)
}

func TestHandlerRuns(t *testing.T) {
	runs := &fakeRuns{runs: []AnnotationEvent{{EventID: "ev-1"}}}
	h := NewHandler(NewAggregator(), runs)

	rec := httptest.NewRecorder()
	h.Runs(rec, httptest.NewRequest(http.MethodGet, "/api/v1/analytics/runs?limit=9999", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 500, runs.limit)
	assert.Contains(t, rec.Body.String(), "ev-1")

	rec = httptest.NewRecorder()
	h.Runs(rec, httptest.NewRequest(http.MethodGet, "/api/v1/analytics/runs?limit=zero", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	runs.err = errors.New("db down")
	rec = httptest.NewRecorder()
	h.Runs(rec, httptest.NewRequest(http.MethodGet, "/api/v1/analytics/runs", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, 50, runs.limit)

	rec = httptest.NewRecorder()
	NewHandler(NewAggregator(), nil).Runs(rec, httptest.NewRequest(http.MethodGet, "/api/v1/analytics/runs", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
