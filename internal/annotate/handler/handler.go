// Package handler exposes the annotation pipeline over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/Entity-Annotation-Platform/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/Entity-Annotation-Platform/internal/annotate"
	"github.com/Adithya-Monish-Kumar-K/Entity-Annotation-Platform/internal/annotate/cache"
	"github.com/Adithya-Monish-Kumar-K/Entity-Annotation-Platform/internal/annotate/validator"
	"github.com/Adithya-Monish-Kumar-K/Entity-Annotation-Platform/internal/entity"
	apperrors "github.com/Adithya-Monish-Kumar-K/Entity-Annotation-Platform/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Entity-Annotation-Platform/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Entity-Annotation-Platform/pkg/middleware"
)

// multipartMemory is how much of an upload is held in memory before
// spilling to disk.
const multipartMemory = 8 << 20

type Annotator interface {
	ProcessPDF(ctx context.Context, q *annotate.Query, pdf []byte) (*annotate.Query, *annotate.Report, error)
	ProcessText(ctx context.Context, q *annotate.Query) (*annotate.Query, *annotate.Report, error)
}

type Handler struct {
	annotator      Annotator
	cache          *cache.ResultCache
	collector      *analytics.Collector
	maxUploadBytes int64
	logger         *slog.Logger
}

// New builds the handler. resultCache and collector may be nil.
func New(annotator Annotator, resultCache *cache.ResultCache, collector *analytics.Collector, maxUploadBytes int64) *Handler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 50 << 20
	}
	return &Handler{
		annotator:      annotator,
		cache:          resultCache,
		collector:      collector,
		maxUploadBytes: maxUploadBytes,
		logger:         logger.WithComponent("annotate-handler"),
	}
}

// Register mounts the annotation and cache routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/annotate/pdf", h.AnnotatePDF)
	mux.HandleFunc("POST /api/v1/annotate/text", h.AnnotateText)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
}

// AnnotatePDF expects a multipart form with the PDF in "file" and an
// optional JSON query in "query".
func (h *Handler) AnnotatePDF(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if !h.limitBody(w, r, annotate.KindPDF, start) {
		return
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		h.fail(w, r, annotate.KindPDF, start, uploadError(err))
		return
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	q := &annotate.Query{}
	if raw := r.FormValue("query"); raw != "" {
		if err := json.Unmarshal([]byte(raw), q); err != nil {
			h.fail(w, r, annotate.KindPDF, start, apperrors.InvalidInput("malformed query: %v", err))
			return
		}
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		h.fail(w, r, annotate.KindPDF, start, apperrors.InvalidInput("the form must carry the PDF in field \"file\""))
		return
	}
	defer file.Close()
	pdf, err := io.ReadAll(file)
	if err != nil {
		h.fail(w, r, annotate.KindPDF, start, uploadError(err))
		return
	}

	h.annotate(w, r, annotate.KindPDF, start, q, pdf, func(ctx context.Context) (*annotate.Query, *annotate.Report, error) {
		return h.annotator.ProcessPDF(ctx, q, pdf)
	})
}

// AnnotateText expects a JSON query whose text is annotated.
func (h *Handler) AnnotateText(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if !h.limitBody(w, r, annotate.KindText, start) {
		return
	}

	q := &annotate.Query{}
	if err := json.NewDecoder(r.Body).Decode(q); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.fail(w, r, annotate.KindText, start, uploadError(err))
			return
		}
		h.fail(w, r, annotate.KindText, start, apperrors.InvalidInput("malformed query: %v", err))
		return
	}

	h.annotate(w, r, annotate.KindText, start, q, []byte(q.Text), func(ctx context.Context) (*annotate.Query, *annotate.Report, error) {
		return h.annotator.ProcessText(ctx, q)
	})
}

// limitBody rejects declared oversize bodies up front and caps the rest
// while they are read.
func (h *Handler) limitBody(w http.ResponseWriter, r *http.Request, kind string, start time.Time) bool {
	if r.ContentLength > h.maxUploadBytes {
		h.fail(w, r, kind, start, uploadError(&http.MaxBytesError{Limit: h.maxUploadBytes}))
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	return true
}

func (h *Handler) annotate(w http.ResponseWriter, r *http.Request, kind string, start time.Time, q *annotate.Query, input []byte, run func(context.Context) (*annotate.Query, *annotate.Report, error)) {
	ctx := r.Context()
	if err := validator.ValidateQuery(kind, q); err != nil {
		h.fail(w, r, kind, start, err)
		return
	}

	key := cache.Key(kind, input, q)
	out, report, hit, err := h.cache.GetOrCompute(ctx, key, func() (*annotate.Query, *annotate.Report, error) {
		return run(ctx)
	})
	if err != nil {
		h.track(r, kind, start, apperrors.HTTPStatusCode(err), nil, report, false)
		h.writeError(w, r, err)
		return
	}
	if hit {
		out.Runtime = time.Since(start).Milliseconds()
	}

	logger.FromContext(ctx).Info("annotation completed",
		"kind", kind,
		"language", out.Lang(),
		"entities", len(out.Entities),
		"cache_hit", hit,
		"latency_ms", time.Since(start).Milliseconds(),
	)
	h.track(r, kind, start, http.StatusOK, out, report, hit)
	h.writeJSON(w, http.StatusOK, out)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, kind string, start time.Time, err error) {
	h.track(r, kind, start, apperrors.HTTPStatusCode(err), nil, nil, false)
	h.writeError(w, r, err)
}

// track publishes one analytics event for the request.
func (h *Handler) track(r *http.Request, kind string, start time.Time, status int, out *annotate.Query, report *annotate.Report, hit bool) {
	if h.collector == nil {
		return
	}
	event := analytics.AnnotationEvent{
		EventID:    uuid.NewString(),
		RequestID:  middleware.GetRequestID(r.Context()),
		Kind:       kind,
		CacheHit:   hit,
		LatencyMs:  time.Since(start).Milliseconds(),
		StatusCode: status,
		Timestamp:  time.Now().UTC(),
	}
	if report != nil {
		event.DocumentID = report.DocumentID
		event.Language = report.Language
		event.OnlyNER = report.OnlyNER
		event.UserEntities = report.UserEntities
		event.AutoEntities = report.AutoEntities
		event.DroppedPinned = report.DroppedPinned
		event.SegmentsProcessed = report.SegmentsProcessed
		event.SegmentsFailed = report.SegmentsFailed
		event.Degraded = report.Degraded
	}
	if out != nil && report == nil {
		counts := entity.ByOrigin(out.Entities)
		event.Language = out.Lang()
		event.OnlyNER = out.OnlyNER
		event.UserEntities = counts[entity.OriginUser]
		event.AutoEntities = counts[entity.OriginAutomatic]
	}
	event.Status = analytics.StatusFor(status, event.Degraded)
	h.collector.Track(event)
}

// CacheStats reports result cache counters.
func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}
	h.writeJSON(w, http.StatusOK, h.cache.Stats())
}

// CacheInvalidate drops every cached result.
func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "caching is disabled"})
		return
	}
	deleted, err := h.cache.Invalidate(r.Context())
	if err != nil {
		logger.FromContext(r.Context()).Error("cache invalidation failed", "error", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "cache invalidation failed"})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"status": "invalidated", "deleted": deleted})
}

func uploadError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return apperrors.Newf(apperrors.ErrInvalidInput, http.StatusRequestEntityTooLarge,
			"upload exceeds %d bytes", tooLarge.Limit)
	}
	return apperrors.InvalidInput("unreadable upload: %v", err)
}

type errorBody struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

// writeError answers with the status the error classifies as. Internal
// failures are logged with their cause and answered generically.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatusCode(err)
	body := errorBody{Error: err.Error()}

	var appErr *apperrors.AppError
	var valErr *validator.ValidationError
	switch {
	case errors.As(err, &valErr):
		body.Error = "invalid query"
		body.Fields = valErr.Fields
	case status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable:
		logger.FromContext(r.Context()).Error("annotation failed", "status", status, "error", err)
		body.Error = http.StatusText(status)
	case errors.As(err, &appErr):
		body.Error = appErr.Message
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	h.writeJSON(w, status, body)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}
