// Package store keeps the PostgreSQL ledger of annotation runs and periodic
// snapshots of the aggregated analytics.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Entity-Annotation-Platform/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/Entity-Annotation-Platform/pkg/postgres"
)

const schema = `
CREATE TABLE IF NOT EXISTS annotation_runs (
    event_id           TEXT PRIMARY KEY,
    document_id        TEXT NOT NULL DEFAULT '',
    request_id         TEXT NOT NULL DEFAULT '',
    kind               TEXT NOT NULL,
    language           TEXT NOT NULL DEFAULT '',
    only_ner           BOOLEAN NOT NULL,
    user_entities      INTEGER NOT NULL,
    auto_entities      INTEGER NOT NULL,
    dropped_pinned     INTEGER NOT NULL,
    segments_processed INTEGER NOT NULL,
    segments_failed    INTEGER NOT NULL,
    degraded           BOOLEAN NOT NULL,
    cache_hit          BOOLEAN NOT NULL,
    latency_ms         BIGINT NOT NULL,
    status_code        INTEGER NOT NULL,
    status             TEXT NOT NULL,
    occurred_at        TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS annotation_runs_occurred_at ON annotation_runs (occurred_at DESC);
CREATE TABLE IF NOT EXISTS analytics_snapshots (
    id          BIGSERIAL PRIMARY KEY,
    data        JSONB NOT NULL,
    captured_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`

const insertRun = `
INSERT INTO annotation_runs (
    event_id, document_id, request_id, kind, language, only_ner,
    user_entities, auto_entities, dropped_pinned, segments_processed,
    segments_failed, degraded, cache_hit, latency_ms, status_code, status,
    occurred_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
ON CONFLICT (event_id) DO NOTHING`

// Store persists annotation runs and analytics snapshots.
type Store struct {
	db     *postgres.Client
	logger *slog.Logger
}

func New(db *postgres.Client) *Store {
	return &Store{
		db:     db,
		logger: slog.Default().With("component", "analytics-store"),
	}
}

// Migrate creates the ledger tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	return s.db.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, schema); err != nil {
			return fmt.Errorf("creating analytics schema: %w", err)
		}
		return nil
	})
}

// RecordRun appends one event to the ledger. Redelivered events are
// ignored.
func (s *Store) RecordRun(ctx context.Context, event analytics.AnnotationEvent) error {
	if event.EventID == "" {
		return fmt.Errorf("recording annotation run: event has no id")
	}
	if _, err := s.db.DB.ExecContext(ctx, insertRun, runArgs(event)...); err != nil {
		return fmt.Errorf("recording annotation run %s: %w", event.EventID, err)
	}
	return nil
}

func runArgs(e analytics.AnnotationEvent) []any {
	occurred := e.Timestamp
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}
	return []any{
		e.EventID, e.DocumentID, e.RequestID, e.Kind, e.Language, e.OnlyNER,
		e.UserEntities, e.AutoEntities, e.DroppedPinned, e.SegmentsProcessed,
		e.SegmentsFailed, e.Degraded, e.CacheHit, e.LatencyMs, e.StatusCode, string(e.Status),
		occurred,
	}
}

// RecentRuns returns the latest runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]analytics.AnnotationEvent, error) {
	rows, err := s.db.DB.QueryContext(ctx, `
SELECT event_id, document_id, request_id, kind, language, only_ner,
       user_entities, auto_entities, dropped_pinned, segments_processed,
       segments_failed, degraded, cache_hit, latency_ms, status_code, status,
       occurred_at
FROM annotation_runs ORDER BY occurred_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing annotation runs: %w", err)
	}
	defer rows.Close()

	var runs []analytics.AnnotationEvent
	for rows.Next() {
		var e analytics.AnnotationEvent
		var status string
		if err := rows.Scan(
			&e.EventID, &e.DocumentID, &e.RequestID, &e.Kind, &e.Language, &e.OnlyNER,
			&e.UserEntities, &e.AutoEntities, &e.DroppedPinned, &e.SegmentsProcessed,
			&e.SegmentsFailed, &e.Degraded, &e.CacheHit, &e.LatencyMs, &e.StatusCode, &status,
			&e.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("scanning annotation run: %w", err)
		}
		e.Status = analytics.Status(status)
		runs = append(runs, e)
	}
	return runs, rows.Err()
}

// SaveSnapshot persists a stats snapshot.
func (s *Store) SaveSnapshot(ctx context.Context, stats analytics.AggregatedStats) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("marshaling stats: %w", err)
	}

	_, err = s.db.DB.ExecContext(ctx,
		`INSERT INTO analytics_snapshots (data, captured_at) VALUES ($1, $2)`,
		data, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("saving analytics snapshot: %w", err)
	}

	s.logger.Info("analytics snapshot saved",
		"total_documents", stats.TotalDocuments,
		"degraded_documents", stats.DegradedDocuments,
	)
	return nil
}

// LatestSnapshot loads the most recent snapshot, or nil when none exists.
func (s *Store) LatestSnapshot(ctx context.Context) (*analytics.AggregatedStats, error) {
	var data []byte
	err := s.db.DB.QueryRowContext(ctx,
		`SELECT data FROM analytics_snapshots ORDER BY captured_at DESC LIMIT 1`,
	).Scan(&data)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying latest snapshot: %w", err)
	}

	var stats analytics.AggregatedStats
	if err := json.Unmarshal(data, &stats); err != nil {
		return nil, fmt.Errorf("unmarshaling snapshot: %w", err)
	}
	return &stats, nil
}

// StartPeriodicSave snapshots the aggregator every interval and once more
// when ctx is cancelled.
func (s *Store) StartPeriodicSave(ctx context.Context, agg *analytics.Aggregator, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := s.SaveSnapshot(ctx, agg.Stats()); err != nil {
					s.logger.Error("periodic snapshot failed", "error", err)
				}
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := s.SaveSnapshot(shutdownCtx, agg.Stats()); err != nil {
					s.logger.Error("final snapshot failed", "error", err)
				}
				return
			}
		}
	}()
	s.logger.Info("periodic snapshot started", "interval", interval)
}
