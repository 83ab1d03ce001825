package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Counter(t *testing.T) {
	r := NewRegistry()

	r.Counter(MetricJobsCompleted, Labels{LabelJobType: "ping"})
	r.Counter(MetricJobsCompleted, Labels{LabelJobType: "ping"})
	r.Counter(MetricJobsCompleted, Labels{LabelJobType: "tcp"})

	assert.Equal(t, 2.0, r.Value(MetricJobsCompleted, Labels{LabelJobType: "ping"}))
	assert.Equal(t, 1.0, r.Value(MetricJobsCompleted, Labels{LabelJobType: "tcp"}))
	assert.Len(t, r.GetMetrics(), 2)
}

func TestRegistry_LabelOrderDoesNotMatter(t *testing.T) {
	r := NewRegistry()

	r.Counter("x", Labels{"a": "1", "b": "2"})
	r.Counter("x", Labels{"b": "2", "a": "1"})

	assert.Equal(t, 2.0, r.Value("x", Labels{"a": "1", "b": "2"}))
}

func TestRegistry_GaugeAndHistogram(t *testing.T) {
	r := NewRegistry()

	r.Gauge(MetricPoolActive, 4, nil)
	r.Gauge(MetricPoolActive, 2, nil)
	r.Histogram(MetricJobDuration, 0.5, nil)
	r.Histogram(MetricJobDuration, 1.5, nil)

	snapshot := r.GetMetrics()
	require.Contains(t, snapshot, MetricPoolActive)
	assert.Equal(t, 2.0, snapshot[MetricPoolActive].Value)
	assert.Equal(t, TypeGauge, snapshot[MetricPoolActive].Type)

	require.Contains(t, snapshot, MetricJobDuration)
	assert.Equal(t, 2.0, snapshot[MetricJobDuration].Value)
	assert.Equal(t, 2, snapshot[MetricJobDuration].Count)
}

func TestRegistry_Disabled(t *testing.T) {
	r := NewRegistry()
	r.SetEnabled(false)

	r.Counter("ignored", nil)

	assert.False(t, r.IsEnabled())
	assert.Empty(t, r.GetMetrics())
}

func TestRegistry_SnapshotIsCopy(t *testing.T) {
	r := NewRegistry()
	labels := Labels{LabelStage: "iw"}
	r.Counter(MetricStageFailures, labels)

	labels[LabelStage] = "mutated"
	for _, m := range r.GetMetrics() {
		m.Labels[LabelStage] = "changed"
	}

	assert.Equal(t, 1.0, r.Value(MetricStageFailures, Labels{LabelStage: "iw"}))
}

func TestRegistry_Reset(t *testing.T) {
	r := NewRegistry()
	r.Counter("a", nil)
	r.Reset()
	assert.Empty(t, r.GetMetrics())
}

func TestRegistry_Concurrent(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Counter(MetricJobsSubmitted, nil)
		}()
	}
	wg.Wait()
	assert.Equal(t, 50.0, r.Value(MetricJobsSubmitted, nil))
}

func TestTimer(t *testing.T) {
	r := NewRegistry()
	timer := NewTimerFor(r, MetricJobDuration, Labels{LabelJobType: "ping"})
	time.Sleep(5 * time.Millisecond)
	d := timer.Stop()

	assert.GreaterOrEqual(t, d, 5*time.Millisecond)
	assert.Greater(t, r.Value(MetricJobDuration, Labels{LabelJobType: "ping"}), 0.0)
}

func TestDefaultRegistry(t *testing.T) {
	original := Default()
	defer SetDefault(original)

	r := NewRegistry()
	SetDefault(r)
	Counter("c", nil)
	Gauge("g", 3, nil)
	Histogram("h", 1, nil)

	assert.Len(t, r.GetMetrics(), 3)
}
