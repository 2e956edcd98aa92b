package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestTrackerRecordsOutcome(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	assert.NoError(t, m.Track("inventory:seed_daily").End(nil))
	err := errors.New("boom")
	assert.ErrorIs(t, m.Track("inventory:seed_daily").End(err), err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("inventory:seed_daily", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("inventory:seed_daily", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("inventory:seed_daily")))
}

func TestLocationsSeededIgnoresZero(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.AddLocationsSeeded("seeded", 3)
	m.AddLocationsSeeded("skipped", 0)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.seeded.WithLabelValues("seeded")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.seeded.WithLabelValues("skipped")))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.AddLocationsSeeded("seeded", 1)
	assert.NoError(t, m.Track("job").End(nil))
}
