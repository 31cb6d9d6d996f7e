package jobmetrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunOutcomes(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	clock := time.Date(2026, 1, 10, 2, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return clock }

	require.NoError(t, m.Track("sessions:expire").End(nil))
	boom := errors.New("boom")
	assert.ErrorIs(t, m.Track("sessions:expire").End(boom), boom)
	m.AddAffected("sessions:expire", 3)
	m.AddAffected("sessions:expire", 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("sessions:expire", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("sessions:expire", "failure")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.affected.WithLabelValues("sessions:expire")))
	assert.Equal(t, float64(clock.Unix()), testutil.ToFloat64(m.lastSuccess.WithLabelValues("sessions:expire")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	boom := errors.New("boom")
	assert.ErrorIs(t, m.Track("schema:converge").End(boom), boom)
	m.AddAffected("schema:converge", 5)
}
