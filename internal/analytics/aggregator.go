package analytics

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Entity-Annotation-Platform/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Entity-Annotation-Platform/pkg/logger"
)

// maxLatencySamples bounds the latency window used for percentiles.
const maxLatencySamples = 10000

// AggregatedStats summarises the annotation events seen since start.
type AggregatedStats struct {
	TotalDocuments     int64            `json:"total_documents"`
	ByKind             map[string]int64 `json:"by_kind"`
	ByStatus           map[Status]int64 `json:"by_status"`
	CacheHits          int64            `json:"cache_hits"`
	DegradedDocuments  int64            `json:"degraded_documents"`
	SegmentsProcessed  int64            `json:"segments_processed"`
	SegmentsFailed     int64            `json:"segments_failed"`
	SegmentFailureRate float64          `json:"segment_failure_rate"`
	DroppedPinned      int64            `json:"dropped_pinned"`
	AvgEntities        float64          `json:"avg_entities"`
	AvgLatencyMs       float64          `json:"avg_latency_ms"`
	P50LatencyMs       int64            `json:"p50_latency_ms"`
	P95LatencyMs       int64            `json:"p95_latency_ms"`
	P99LatencyMs       int64            `json:"p99_latency_ms"`
	TopLanguages       []LanguageCount  `json:"top_languages"`
	DocumentsPerMinute float64          `json:"documents_per_minute"`
	LastEventAt        *time.Time       `json:"last_event_at,omitempty"`
}

type LanguageCount struct {
	Language string `json:"language"`
	Count    int64  `json:"count"`
}

// Aggregator folds annotation events into running totals.
type Aggregator struct {
	mu                sync.RWMutex
	total             int64
	byKind            map[string]int64
	byStatus          map[Status]int64
	languages         map[string]int64
	cacheHits         int64
	degraded          int64
	segmentsProcessed int64
	segmentsFailed    int64
	droppedPinned     int64
	entities          int64
	latencies         []int64
	lastEvent         time.Time
	startTime         time.Time

	now    func() time.Time
	logger *slog.Logger
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		byKind:    make(map[string]int64),
		byStatus:  make(map[Status]int64),
		languages: make(map[string]int64),
		latencies: make([]int64, 0, 1024),
		startTime: time.Now(),
		now:       time.Now,
		logger:    logger.WithComponent("analytics-aggregator"),
	}
}

// HandleEvent decodes Kafka messages into the aggregator. Undecodable
// messages are logged and skipped.
func HandleEvent(agg *Aggregator, sinks ...func(context.Context, AnnotationEvent) error) kafka.MessageHandler {
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[AnnotationEvent](value)
		if err != nil {
			agg.logger.Error("failed to decode analytics event", "key", string(key), "error", err)
			return nil
		}
		for _, sink := range sinks {
			if err := sink(ctx, event); err != nil {
				return err
			}
		}
		agg.Record(event)
		return nil
	}
}

// Record adds one event to the totals.
func (a *Aggregator) Record(event AnnotationEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.total++
	a.byKind[event.Kind]++
	a.byStatus[event.Status]++
	if event.Language != "" {
		a.languages[event.Language]++
	}
	if event.CacheHit {
		a.cacheHits++
	}
	if event.Degraded {
		a.degraded++
	}
	a.segmentsProcessed += int64(event.SegmentsProcessed)
	a.segmentsFailed += int64(event.SegmentsFailed)
	a.droppedPinned += int64(event.DroppedPinned)
	a.entities += int64(event.UserEntities + event.AutoEntities)

	if len(a.latencies) >= maxLatencySamples {
		a.latencies = a.latencies[1:]
	}
	a.latencies = append(a.latencies, event.LatencyMs)
	a.lastEvent = a.now()
}

func (a *Aggregator) Stats() AggregatedStats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	stats := AggregatedStats{
		TotalDocuments:    a.total,
		ByKind:            make(map[string]int64, len(a.byKind)),
		ByStatus:          make(map[Status]int64, len(a.byStatus)),
		CacheHits:         a.cacheHits,
		DegradedDocuments: a.degraded,
		SegmentsProcessed: a.segmentsProcessed,
		SegmentsFailed:    a.segmentsFailed,
		DroppedPinned:     a.droppedPinned,
		TopLanguages:      topN(a.languages, 10),
	}
	for k, v := range a.byKind {
		stats.ByKind[k] = v
	}
	for k, v := range a.byStatus {
		stats.ByStatus[k] = v
	}
	if a.segmentsProcessed > 0 {
		stats.SegmentFailureRate = float64(a.segmentsFailed) / float64(a.segmentsProcessed)
	}
	if a.total > 0 {
		stats.AvgEntities = float64(a.entities) / float64(a.total)
	}
	if len(a.latencies) > 0 {
		sorted := slices.Clone(a.latencies)
		slices.Sort(sorted)

		var sum int64
		for _, l := range sorted {
			sum += l
		}
		stats.AvgLatencyMs = float64(sum) / float64(len(sorted))
		stats.P50LatencyMs = percentile(sorted, 50)
		stats.P95LatencyMs = percentile(sorted, 95)
		stats.P99LatencyMs = percentile(sorted, 99)
	}
	if elapsed := a.now().Sub(a.startTime).Minutes(); elapsed > 0 {
		stats.DocumentsPerMinute = float64(a.total) / elapsed
	}
	if !a.lastEvent.IsZero() {
		last := a.lastEvent
		stats.LastEventAt = &last
	}
	return stats
}

func percentile(sorted []int64, pct int) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := (pct * len(sorted)) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func topN(counts map[string]int64, n int) []LanguageCount {
	result := make([]LanguageCount, 0, len(counts))
	for lang, count := range counts {
		result = append(result, LanguageCount{Language: lang, Count: count})
	}
	slices.SortFunc(result, func(a, b LanguageCount) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Language, b.Language)
	})
	if len(result) > n {
		result = result[:n]
	}
	return result
}
