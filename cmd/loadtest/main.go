// Command loadtest drives concurrent annotation requests against a running
// annotator and reports throughput, latency percentiles, the cache hit
// share and the status code mix.
//
// Usage:
//
//	go run ./cmd/loadtest [-url http://localhost:8090] [-concurrency 8] [-duration 30s] [-pdf paper.pdf]
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

type Config struct {
	BaseURL     string
	Concurrency int
	Duration    time.Duration
	Texts       []string
	PDF         []byte
}

type Stats struct {
	totalRequests atomic.Int64
	successCount  atomic.Int64
	errorCount    atomic.Int64
	entities      atomic.Int64
	latencies     []time.Duration
	latenciesMu   sync.Mutex
	statusCodes   map[int]int64
	statusCodesMu sync.Mutex
}

func NewStats() *Stats {
	return &Stats{
		latencies:   make([]time.Duration, 0, 10000),
		statusCodes: make(map[int]int64),
	}
}

// RecordRequest adds one request outcome. Transport errors count as
// errors without a latency sample.
func (s *Stats) RecordRequest(duration time.Duration, statusCode, entities int, err error) {
	s.totalRequests.Add(1)
	if err != nil {
		s.errorCount.Add(1)
		return
	}
	if statusCode >= 200 && statusCode < 300 {
		s.successCount.Add(1)
		s.entities.Add(int64(entities))
	} else {
		s.errorCount.Add(1)
	}

	s.latenciesMu.Lock()
	s.latencies = append(s.latencies, duration)
	s.latenciesMu.Unlock()

	s.statusCodesMu.Lock()
	s.statusCodes[statusCode]++
	s.statusCodesMu.Unlock()
}

var sampleTexts = []string{
	"Paris is the capital and most populous city of France.",
	"Albert Einstein developed the theory of relativity while working in Bern.",
	"The Large Hadron Collider at CERN lies beneath the border between France and Switzerland.",
	"Marie Curie was the first woman to win a Nobel Prize.",
	"Berlin ist die Hauptstadt der Bundesrepublik Deutschland.",
	"Le Louvre est un musée situé à Paris.",
}

func main() {
	baseURL := flag.String("url", "http://localhost:8090", "base URL of the annotation service")
	concurrency := flag.Int("concurrency", 8, "number of concurrent workers")
	duration := flag.Duration("duration", 30*time.Second, "test duration")
	pdfPath := flag.String("pdf", "", "optional PDF to upload instead of text queries")
	flag.Parse()

	cfg := Config{
		BaseURL:     *baseURL,
		Concurrency: *concurrency,
		Duration:    *duration,
		Texts:       sampleTexts,
	}
	if *pdfPath != "" {
		pdf, err := os.ReadFile(*pdfPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "reading %s: %v\n", *pdfPath, err)
			os.Exit(1)
		}
		cfg.PDF = pdf
	}

	fmt.Println("=== Annotation Load Test ===")
	fmt.Printf("Target:      %s\n", cfg.BaseURL)
	fmt.Printf("Concurrency: %d\n", cfg.Concurrency)
	fmt.Printf("Duration:    %s\n", cfg.Duration)
	if cfg.PDF != nil {
		fmt.Printf("Payload:     PDF %s (%d bytes)\n", *pdfPath, len(cfg.PDF))
	} else {
		fmt.Printf("Payload:     %d distinct texts\n", len(cfg.Texts))
	}
	fmt.Println()

	stats := runLoadTest(cfg)
	if !printReport(os.Stdout, stats, cfg.Duration) {
		os.Exit(1)
	}
}

func runLoadTest(cfg Config) *Stats {
	stats := NewStats()
	client := &http.Client{
		Timeout: 2 * time.Minute,
		Transport: &http.Transport{
			MaxIdleConns:        cfg.Concurrency * 2,
			MaxIdleConnsPerHost: cfg.Concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	for w := range cfg.Concurrency {
		g.Go(func() error {
			for i := w; ctx.Err() == nil; i++ {
				req, err := buildRequest(ctx, cfg, i)
				if err != nil {
					return err
				}
				start := time.Now()
				resp, err := client.Do(req)
				elapsed := time.Since(start)
				if err != nil {
					if ctx.Err() == nil {
						stats.RecordRequest(elapsed, 0, 0, err)
					}
					continue
				}
				stats.RecordRequest(elapsed, resp.StatusCode, countEntities(resp.Body), nil)
				resp.Body.Close()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		fmt.Fprintf(os.Stderr, "load test aborted: %v\n", err)
	}
	return stats
}

// buildRequest returns the i-th request: a PDF upload when a PDF is
// configured, otherwise a text query cycling through cfg.Texts.
func buildRequest(ctx context.Context, cfg Config, i int) (*http.Request, error) {
	if cfg.PDF == nil {
		body, err := json.Marshal(map[string]string{"text": cfg.Texts[i%len(cfg.Texts)]})
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.BaseURL+"/api/v1/annotate/text", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("query", `{"text":"Load test document","language":{"lang":"en"}}`); err != nil {
		return nil, err
	}
	part, err := mw.CreateFormFile("file", "document.pdf")
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(cfg.PDF); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.BaseURL+"/api/v1/annotate/pdf", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req, nil
}

// countEntities reads an annotation response and returns its entity count,
// or 0 for error bodies.
func countEntities(body io.Reader) int {
	var resp struct {
		Entities []json.RawMessage `json:"entities"`
	}
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return 0
	}
	return len(resp.Entities)
}

// printReport writes the summary and reports whether any request completed.
func printReport(w io.Writer, stats *Stats, duration time.Duration) bool {
	total := stats.totalRequests.Load()
	success := stats.successCount.Load()
	errs := stats.errorCount.Load()

	fmt.Fprintln(w, "=== Results ===")
	fmt.Fprintf(w, "Total Requests:  %d\n", total)
	fmt.Fprintf(w, "Successful:      %d\n", success)
	fmt.Fprintf(w, "Errors:          %d\n", errs)
	if total > 0 {
		fmt.Fprintf(w, "Error Rate:      %.2f%%\n", float64(errs)/float64(total)*100)
		fmt.Fprintf(w, "Requests/sec:    %.2f\n", float64(total)/duration.Seconds())
	}
	if success > 0 {
		fmt.Fprintf(w, "Entities/doc:    %.2f\n", float64(stats.entities.Load())/float64(success))
	}

	stats.latenciesMu.Lock()
	latencies := slices.Clone(stats.latencies)
	stats.latenciesMu.Unlock()

	if len(latencies) > 0 {
		slices.Sort(latencies)
		var sum time.Duration
		for _, l := range latencies {
			sum += l
		}
		avg := sum / time.Duration(len(latencies))

		fmt.Fprintln(w)
		fmt.Fprintln(w, "=== Latency ===")
		fmt.Fprintf(w, "Min:    %s\n", latencies[0])
		fmt.Fprintf(w, "Avg:    %s\n", avg)
		fmt.Fprintf(w, "P50:    %s\n", percentile(latencies, 50))
		fmt.Fprintf(w, "P95:    %s\n", percentile(latencies, 95))
		fmt.Fprintf(w, "P99:    %s\n", percentile(latencies, 99))
		fmt.Fprintf(w, "Max:    %s\n", latencies[len(latencies)-1])
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "=== Status Codes ===")
	stats.statusCodesMu.Lock()
	codes := make([]int, 0, len(stats.statusCodes))
	for code := range stats.statusCodes {
		codes = append(codes, code)
	}
	slices.Sort(codes)
	for _, code := range codes {
		fmt.Fprintf(w, "  %d %s: %d\n", code, http.StatusText(code), stats.statusCodes[code])
	}
	stats.statusCodesMu.Unlock()

	if total == 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "WARNING: No requests completed. Is the service running?")
		return false
	}
	return true
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	idx = max(0, min(idx, len(sorted)-1))
	return sorted[idx]
}
