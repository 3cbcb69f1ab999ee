package authcore

import (
	"sync"
	"testing"
	"time"
)

func TestMetricsIncAndSnapshot(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})

	m.Inc(MetricLoginSuccess)
	m.Inc(MetricLoginSuccess)
	m.Inc(MetricLoginFailure)
	m.Observe(MetricVerifyLatency, 3*time.Millisecond)
	m.Observe(MetricVerifyLatency, 70*time.Millisecond)
	m.Observe(MetricVerifyLatency, time.Second)

	if got := m.Value(MetricLoginSuccess); got != 2 {
		t.Fatalf("Value(MetricLoginSuccess) = %d, want 2", got)
	}

	s := m.Snapshot()
	if s.Counters[MetricLoginSuccess] != 2 || s.Counters[MetricLoginFailure] != 1 {
		t.Fatalf("snapshot counters wrong: %v", s.Counters)
	}
	buckets := s.Histograms[MetricVerifyLatency]
	if len(buckets) != histBucketCount {
		t.Fatalf("bucket count = %d, want %d", len(buckets), histBucketCount)
	}
	if buckets[0] != 1 || buckets[4] != 1 || buckets[7] != 1 {
		t.Fatalf("bucket distribution wrong: %v", buckets)
	}
}

func TestMetricsDisabledIsNoop(t *testing.T) {
	m := NewMetrics(MetricsConfig{})
	m.Inc(MetricLoginSuccess)
	m.Observe(MetricVerifyLatency, time.Millisecond)

	if m.Enabled() || m.LatencyEnabled() {
		t.Fatal("disabled metrics report enabled")
	}
	if m.Value(MetricLoginSuccess) != 0 {
		t.Fatal("disabled Inc mutated state")
	}
	if s := m.Snapshot(); len(s.Counters) != 0 || len(s.Histograms) != 0 {
		t.Fatalf("disabled snapshot not empty: %+v", s)
	}

	// A nil receiver behaves the same.
	var nilMetrics *Metrics
	nilMetrics.Inc(MetricLoginSuccess)
	nilMetrics.Observe(MetricVerifyLatency, time.Millisecond)
	if nilMetrics.Value(MetricLoginSuccess) != 0 {
		t.Fatal("nil receiver not a no-op")
	}
}

func TestMetricsHistogramRequiresOptIn(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	m.Observe(MetricVerifyLatency, time.Millisecond)

	if s := m.Snapshot(); len(s.Histograms) != 0 {
		t.Fatalf("histograms recorded without opt-in: %v", s.Histograms)
	}
}

func TestBucketIndexBoundaries(t *testing.T) {
	cases := []struct {
		d    time.Duration
		want int
	}{
		{0, 0},
		{5 * time.Millisecond, 0},
		{6 * time.Millisecond, 1},
		{10 * time.Millisecond, 1},
		{25 * time.Millisecond, 2},
		{50 * time.Millisecond, 3},
		{100 * time.Millisecond, 4},
		{250 * time.Millisecond, 5},
		{500 * time.Millisecond, 6},
		{501 * time.Millisecond, 7},
		{time.Minute, 7},
	}
	for _, tc := range cases {
		if got := bucketIndex(tc.d); got != tc.want {
			t.Errorf("bucketIndex(%v) = %d, want %d", tc.d, got, tc.want)
		}
	}
}

func TestMetricsConcurrentInc(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	const workers, perWorker = 8, 1000
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				m.Inc(MetricVerifySuccess)
			}
		}()
	}
	wg.Wait()

	if got := m.Value(MetricVerifySuccess); got != workers*perWorker {
		t.Fatalf("Value = %d, want %d", got, workers*perWorker)
	}
}
