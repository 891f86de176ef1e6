package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestTimer(t *testing.T) {
	timer := NewTimer()
	assert.False(t, timer.start.IsZero())

	time.Sleep(20 * time.Millisecond)
	first := timer.Duration()
	assert.GreaterOrEqual(t, first, 20*time.Millisecond)

	time.Sleep(5 * time.Millisecond)
	assert.Greater(t, timer.Duration(), first)
}

func TestTimerObserve(t *testing.T) {
	h := prometheus.NewHistogram(prometheus.HistogramOpts{Name: "test_task_seconds", Help: "test"})
	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "test_job_seconds", Help: "test"}, []string{"status"})

	timer := NewTimer()
	timer.ObserveDuration(h)
	timer.ObserveDurationVec(vec, "success")

	assert.Equal(t, 1, testutil.CollectAndCount(h))
	assert.Equal(t, 1, testutil.CollectAndCount(vec))
}
