package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Entity-Annotation-Platform/internal/engine"
	"github.com/Adithya-Monish-Kumar-K/Entity-Annotation-Platform/internal/entity"
	"github.com/Adithya-Monish-Kumar-K/Entity-Annotation-Platform/internal/layout"
	"github.com/Adithya-Monish-Kumar-K/Entity-Annotation-Platform/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Entity-Annotation-Platform/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Entity-Annotation-Platform/pkg/resilience"
)

func testSettings(url string) Settings {
	return Settings{BaseURL: url, Timeout: time.Second, MaxRetries: 2, BreakerFailures: 3, BreakerReset: time.Minute}
}

func testMetrics() *metrics.Metrics {
	return metrics.NewWithRegistry(prometheus.NewRegistry())
}

func TestExtractorSendsTokensAndOptions(t *testing.T) {
	var got extractRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/extract", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(extractResponse{Mentions: []entity.Mention{{Start: 0, End: 5, Text: "Paris", Confidence: 0.9}}})
	}))
	defer srv.Close()

	s := testSettings(srv.URL)
	c := NewExtractorClient(s, NewBreaker("extractor", s, testMetrics()))
	tokens := layout.Tokenize("Paris is nice")

	mentions, err := c.ExtractExhaustive(context.Background(), tokens, engine.Options{Language: "en"})
	require.NoError(t, err)
	assert.True(t, got.Exhaustive)
	assert.Equal(t, "en", got.Language)
	assert.Len(t, got.Tokens, len(tokens))
	require.Len(t, mentions, 1)
	assert.Equal(t, "Paris", mentions[0].Text)
}

func TestRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "warming up", http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(extractResponse{})
	}))
	defer srv.Close()

	s := testSettings(srv.URL)
	c := NewExtractorClient(s, NewBreaker("extractor", s, testMetrics()))
	_, err := c.Extract(context.Background(), nil, engine.Options{})
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad tokens", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	s := testSettings(srv.URL)
	breaker := NewBreaker("extractor", s, testMetrics())
	c := NewExtractorClient(s, breaker)
	_, err := c.Extract(context.Background(), nil, engine.Options{})

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusUnprocessableEntity, se.Status)
	assert.Equal(t, "bad tokens", se.Body)
	assert.ErrorIs(t, err, engine.ErrRejected)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, resilience.StateClosed, breaker.GetState())
}

func TestBreakerOpensAndExportsState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	m := testMetrics()
	s := testSettings(srv.URL)
	s.MaxRetries = 0
	s.BreakerFailures = 2
	breaker := NewBreaker("linker", s, m)
	c := NewLinkerClient(s, breaker)

	for range 2 {
		_, err := c.Link(context.Background(), nil, nil, engine.Options{})
		require.Error(t, err)
	}
	assert.Equal(t, resilience.StateOpen, breaker.GetState())
	assert.Equal(t, float64(resilience.StateOpen), testutil.ToFloat64(m.CircuitBreakerState.WithLabelValues("linker")))

	_, err := c.Link(context.Background(), nil, nil, engine.Options{})
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
}

func TestLinkerSendsDocumentContext(t *testing.T) {
	var got linkRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		out := got.Entities
		for i := range out {
			out[i].KnowledgeBaseRef = "Q90"
			out[i].DisambiguationScore = 0.8
		}
		json.NewEncoder(w).Encode(linkResponse{Entities: out})
	}))
	defer srv.Close()

	docCtx := entity.NewDocumentContext()
	docCtx.Record("Paris", "Q90")
	docCtx.EnterSegment("BODY")

	s := testSettings(srv.URL)
	c := NewLinkerClient(s, NewBreaker("linker", s, testMetrics()))
	linked, err := c.Link(context.Background(), []entity.Entity{{Start: 0, End: 5, Text: "Paris"}}, docCtx, engine.Options{Language: "fr"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"paris": "Q90"}, got.Context.Decisions)
	assert.Equal(t, []string{"BODY"}, got.Context.Segments)
	assert.Equal(t, "fr", got.Language)
	require.Len(t, linked, 1)
	assert.Equal(t, "Q90", linked[0].KnowledgeBaseRef)
}

func TestSegmenterUploadsMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f, _, err := r.FormFile("input")
		if !assert.NoError(t, err) {
			return
		}
		data, _ := io.ReadAll(f)
		assert.Equal(t, "%PDF-1.4", string(data))
		json.NewEncoder(w).Encode(layout.Document{
			Tokens: layout.Tokenize("Hello world"),
			Pieces: []layout.Piece{{Kind: layout.KindBody, Start: 0, End: 3}},
		})
	}))
	defer srv.Close()

	s := testSettings(srv.URL)
	c := NewSegmenterClient(s, NewBreaker("segmenter", s, testMetrics()))
	doc, err := c.Segment(context.Background(), []byte("%PDF-1.4"))
	require.NoError(t, err)
	assert.Len(t, doc.Part(layout.KindBody), 1)
}

func TestSegmenterRejectsMalformedDocument(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(layout.Document{
			Pieces: []layout.Piece{{Kind: layout.KindBody, Start: 0, End: 3}},
		})
	}))
	defer srv.Close()

	s := testSettings(srv.URL)
	c := NewSegmenterClient(s, NewBreaker("segmenter", s, testMetrics()))
	_, err := c.Segment(context.Background(), []byte("%PDF"))
	assert.ErrorContains(t, err, "malformed")
}

func TestNewEngines(t *testing.T) {
	cfg := config.EngineConfig{PoolSize: 3, SegmenterURL: "http://a", ExtractorURL: "http://b", LinkerURL: "http://c", RequestTimeout: time.Second}
	engines := NewEngines(cfg, testMetrics())
	require.Len(t, engines, 3)
	assert.Equal(t, 2, engines[2].ID)
	assert.NotNil(t, engines[0].Linker)
}
