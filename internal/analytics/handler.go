package analytics

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
)

// RunLister reads recent annotation runs from the ledger.
type RunLister interface {
	RecentRuns(ctx context.Context, limit int) ([]AnnotationEvent, error)
}

type Handler struct {
	aggregator *Aggregator
	runs       RunLister
	logger     *slog.Logger
}

// NewHandler serves aggregated stats. runs may be nil when no ledger is
// configured.
func NewHandler(aggregator *Aggregator, runs RunLister) *Handler {
	return &Handler{
		aggregator: aggregator,
		runs:       runs,
		logger:     slog.Default().With("component", "analytics-handler"),
	}
}

// Stats serves the running totals as JSON.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.aggregator.Stats())
}

// Runs serves the latest ledger rows. The limit query parameter defaults
// to 50 and is capped at 500.
func (h *Handler) Runs(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		h.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "run ledger is disabled"})
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, 500)
	}
	runs, err := h.runs.RecentRuns(r.Context(), limit)
	if err != nil {
		h.logger.Error("listing runs failed", "error", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "listing runs failed"})
		return
	}
	if runs == nil {
		runs = []AnnotationEvent{}
	}
	h.writeJSON(w, http.StatusOK, runs)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write analytics response", "error", err)
	}
}
