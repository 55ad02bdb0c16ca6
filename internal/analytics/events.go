package analytics

import "time"

// Status classifies how a document request ended.
type Status string

const (
	StatusOK          Status = "ok"
	StatusDegraded    Status = "degraded"
	StatusRejected    Status = "rejected"
	StatusUnavailable Status = "unavailable"
	StatusError       Status = "error"
)

// StatusFor maps a response code and the degraded flag to a Status.
func StatusFor(code int, degraded bool) Status {
	switch {
	case code >= 500 && code != 503:
		return StatusError
	case code == 503:
		return StatusUnavailable
	case code >= 400:
		return StatusRejected
	case degraded:
		return StatusDegraded
	default:
		return StatusOK
	}
}

// AnnotationEvent is published once per annotation request.
type AnnotationEvent struct {
	EventID           string    `json:"event_id"`
	DocumentID        string    `json:"document_id,omitempty"`
	RequestID         string    `json:"request_id,omitempty"`
	Kind              string    `json:"kind"`
	Language          string    `json:"language,omitempty"`
	OnlyNER           bool      `json:"only_ner"`
	UserEntities      int       `json:"user_entities"`
	AutoEntities      int       `json:"auto_entities"`
	DroppedPinned     int       `json:"dropped_pinned"`
	SegmentsProcessed int       `json:"segments_processed"`
	SegmentsFailed    int       `json:"segments_failed"`
	Degraded          bool      `json:"degraded"`
	CacheHit          bool      `json:"cache_hit"`
	LatencyMs         int64     `json:"latency_ms"`
	StatusCode        int       `json:"status_code"`
	Status            Status    `json:"status"`
	Timestamp         time.Time `json:"timestamp"`
}

// Key partitions events by document so a document's history stays ordered.
func (e AnnotationEvent) Key() string {
	if e.DocumentID != "" {
		return e.DocumentID
	}
	return e.RequestID
}
