package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	apperrors "github.com/Adithya-Monish-Kumar-K/Entity-Annotation-Platform/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Entity-Annotation-Platform/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Entity-Annotation-Platform/pkg/metrics"
)

// Pool hands out a fixed set of engines. Engines are given out in
// least-recently-released order so load rotates across them.
type Pool struct {
	sem     *semaphore.Weighted
	mu      sync.Mutex
	idle    []*Engine
	size    int
	timeout time.Duration
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewPool creates a pool over engines. Acquire waits at most timeout.
func NewPool(engines []*Engine, timeout time.Duration, m *metrics.Metrics) (*Pool, error) {
	if len(engines) == 0 {
		return nil, errors.New("engine pool needs at least one engine")
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("engine acquire timeout must be positive, got %v", timeout)
	}
	idle := make([]*Engine, len(engines))
	copy(idle, engines)
	return &Pool{
		sem:     semaphore.NewWeighted(int64(len(engines))),
		idle:    idle,
		size:    len(engines),
		timeout: timeout,
		metrics: m,
		logger:  logger.WithComponent("engine-pool"),
	}, nil
}

// Acquire takes an engine, waiting up to the pool's timeout. Exhaustion is
// reported as apperrors.ErrEngineUnavailable; cancellation of ctx is
// returned as the context error.
func (p *Pool) Acquire(ctx context.Context) (*Engine, error) {
	start := time.Now()
	waitCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := p.sem.Acquire(waitCtx, 1)
	p.metrics.EngineAcquireWait.Observe(time.Since(start).Seconds())
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("acquiring engine: %w", ctx.Err())
		}
		p.metrics.EngineExhaustedTotal.Inc()
		p.logger.Warn("engine pool exhausted", "size", p.size, "waited", p.timeout)
		return nil, apperrors.Unavailable("no processing engine available within %v", p.timeout)
	}

	p.mu.Lock()
	e := p.idle[0]
	p.idle = p.idle[1:]
	p.mu.Unlock()
	p.metrics.EnginesInUse.Inc()
	return e, nil
}

// Release returns an engine to the pool.
func (p *Pool) Release(e *Engine) {
	if e == nil {
		return
	}
	p.mu.Lock()
	p.idle = append(p.idle, e)
	p.mu.Unlock()
	p.metrics.EnginesInUse.Dec()
	p.sem.Release(1)
}

// Do runs fn with an acquired engine and releases it on every exit path,
// including a panic in fn, which is re-raised after release.
func (p *Pool) Do(ctx context.Context, fn func(e *Engine) error) error {
	e, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer p.Release(e)
	return fn(e)
}

// Size returns the number of engines.
func (p *Pool) Size() int {
	return p.size
}

// InUse returns the number of engines currently acquired.
func (p *Pool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.size - len(p.idle)
}
