package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Adithya-Monish-Kumar-K/Entity-Annotation-Platform/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Entity-Annotation-Platform/pkg/metrics"
)

func newTestPool(t *testing.T, size int, timeout time.Duration) (*Pool, *metrics.Metrics) {
	t.Helper()
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	engines := make([]*Engine, size)
	for i := range engines {
		engines[i] = &Engine{ID: i}
	}
	p, err := NewPool(engines, timeout, m)
	require.NoError(t, err)
	return p, m
}

func TestNewPoolValidation(t *testing.T) {
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	_, err := NewPool(nil, time.Second, m)
	assert.Error(t, err)
	_, err = NewPool([]*Engine{{}}, 0, m)
	assert.Error(t, err)
}

func TestAcquireRotatesEngines(t *testing.T) {
	p, m := newTestPool(t, 2, time.Second)
	ctx := context.Background()

	var ids []int
	for range 4 {
		e, err := p.Acquire(ctx)
		require.NoError(t, err)
		ids = append(ids, e.ID)
		p.Release(e)
	}
	assert.Equal(t, []int{0, 1, 0, 1}, ids)
	assert.Equal(t, 0, p.InUse())
	assert.Equal(t, 0.0, testutil.ToFloat64(m.EnginesInUse))
}

func TestAcquireExhaustedIsUnavailable(t *testing.T) {
	p, m := newTestPool(t, 1, 20*time.Millisecond)
	ctx := context.Background()

	held, err := p.Acquire(ctx)
	require.NoError(t, err)
	defer p.Release(held)

	_, err = p.Acquire(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrEngineUnavailable)
	assert.Equal(t, 503, apperrors.HTTPStatusCode(err))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EngineExhaustedTotal))
}

func TestAcquireCancelledIsNotUnavailable(t *testing.T) {
	p, _ := newTestPool(t, 1, time.Second)
	held, err := p.Acquire(context.Background())
	require.NoError(t, err)
	defer p.Release(held)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Acquire(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, apperrors.ErrEngineUnavailable)
}

func TestDoReleasesOnErrorAndPanic(t *testing.T) {
	p, _ := newTestPool(t, 1, 20*time.Millisecond)
	boom := errors.New("boom")

	err := p.Do(context.Background(), func(*Engine) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, p.InUse())

	assert.Panics(t, func() {
		_ = p.Do(context.Background(), func(*Engine) error { panic("engine crashed") })
	})
	assert.Equal(t, 0, p.InUse())

	require.NoError(t, p.Do(context.Background(), func(*Engine) error { return nil }))
}

func TestReleaseWakesWaiter(t *testing.T) {
	p, _ := newTestPool(t, 1, time.Second)
	held, err := p.Acquire(context.Background())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		e, err := p.Acquire(context.Background())
		if err == nil {
			p.Release(e)
		}
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	p.Release(held)
	require.NoError(t, <-done)
	assert.Equal(t, 1, p.Size())
}
