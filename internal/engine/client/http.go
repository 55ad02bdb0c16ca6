// Package client implements the engine interfaces as JSON-over-HTTP calls
// to the layout, recognition and linking services, each guarded by retry
// and a circuit breaker.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Entity-Annotation-Platform/internal/engine"
	"github.com/Adithya-Monish-Kumar-K/Entity-Annotation-Platform/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Entity-Annotation-Platform/pkg/resilience"
)

const maxErrorBody = 512

// StatusError is returned when an upstream answers with a non-2xx status.
type StatusError struct {
	Service string
	Status  int
	Body    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned %d: %s", e.Service, e.Status, e.Body)
}

// Unwrap exposes engine.ErrRejected for client errors other than 429.
func (e *StatusError) Unwrap() error {
	if e.Status >= 400 && e.Status < 500 && e.Status != http.StatusTooManyRequests {
		return engine.ErrRejected
	}
	return nil
}

// Temporary reports whether the status is worth retrying.
func (e *StatusError) Temporary() bool {
	return e.Status >= 500 || e.Status == http.StatusTooManyRequests
}

// Settings configure one upstream service.
type Settings struct {
	BaseURL         string
	Timeout         time.Duration
	MaxRetries      int
	BreakerFailures int
	BreakerReset    time.Duration
}

// upstream is the shared transport of one service: every engine gets its
// own upstream value but all of them share the service's breaker.
type upstream struct {
	name    string
	baseURL string
	http    *http.Client
	breaker *resilience.CircuitBreaker
	retry   resilience.RetryConfig
	logger  *slog.Logger
}

// NewBreaker creates the circuit breaker for a service and exports its
// state to the circuit breaker gauge.
func NewBreaker(name string, s Settings, m *metrics.Metrics) *resilience.CircuitBreaker {
	gauge := m.CircuitBreakerState.WithLabelValues(name)
	gauge.Set(float64(resilience.StateClosed))
	return resilience.NewCircuitBreaker(name, resilience.CircuitBreakerConfig{
		FailureThreshold: s.BreakerFailures,
		ResetTimeout:     s.BreakerReset,
		OnStateChange: func(_ string, _, to resilience.State) {
			gauge.Set(float64(to))
		},
		IsFailure: isUpstreamFailure,
	})
}

func newUpstream(name string, s Settings, breaker *resilience.CircuitBreaker) upstream {
	return upstream{
		name:    name,
		baseURL: strings.TrimRight(s.BaseURL, "/"),
		http:    &http.Client{Timeout: s.Timeout},
		breaker: breaker,
		retry: resilience.RetryConfig{
			MaxAttempts:  s.MaxRetries + 1,
			InitialDelay: 100 * time.Millisecond,
			MaxDelay:     2 * time.Second,
		},
		logger: slog.Default().With("component", "engine-client", "service", name),
	}
}

// isUpstreamFailure keeps caller mistakes (4xx) and cancellations from
// tripping the breaker.
func isUpstreamFailure(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	return true
}

// postJSON sends in as JSON to path and decodes the response into out.
func (u *upstream) postJSON(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encoding %s request: %w", u.name, err)
	}
	return u.post(ctx, path, "application/json", body, out)
}

// post runs one logical call: retries around the breaker around a single
// HTTP exchange.
func (u *upstream) post(ctx context.Context, path, contentType string, body []byte, out any) error {
	url := u.baseURL + path
	return resilience.Retry(ctx, u.name+path, u.retry, func() error {
		err := u.breaker.Execute(func() error {
			return u.exchange(ctx, url, contentType, body, out)
		})
		if errors.Is(err, resilience.ErrCircuitOpen) || !isUpstreamFailure(err) {
			return resilience.Permanent(err)
		}
		return err
	})
}

func (u *upstream) exchange(ctx context.Context, url, contentType string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building %s request: %w", u.name, err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := u.http.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s: %w", u.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Service: u.name, Status: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", u.name, err)
	}
	return nil
}
