package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry(reg)

	m.SegmentFailuresTotal.WithLabelValues("BODY").Inc()
	m.DisambiguationDegradations.Inc()
	m.EnginesInUse.Set(3)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SegmentFailuresTotal.WithLabelValues("BODY")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DisambiguationDegradations))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.EnginesInUse))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNewWithRegistryTwicePanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewWithRegistry(reg)
	assert.Panics(t, func() { NewWithRegistry(reg) })
}
