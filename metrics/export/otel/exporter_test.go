package otel

import (
	"context"
	"errors"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/coursekit/authcore"
)

type fakeSource struct {
	snapshot authcore.MetricsSnapshot
	dropped  uint64
}

func (f *fakeSource) MetricsSnapshot() authcore.MetricsSnapshot { return f.snapshot }
func (f *fakeSource) AuditDropped() uint64                      { return f.dropped }

func testSource() *fakeSource {
	return &fakeSource{
		snapshot: authcore.MetricsSnapshot{
			Counters: map[authcore.MetricID]uint64{
				authcore.MetricLoginSuccess:  7,
				authcore.MetricVerifySuccess: 21,
			},
			Histograms: map[authcore.MetricID][]uint64{
				authcore.MetricVerifyLatency: {1, 0, 0, 0, 0, 0, 0, 1},
			},
		},
		dropped: 2,
	}
}

// collect pulls one reading through a manual reader and indexes datapoint
// values by instrument name.
func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	values := make(map[string]int64)
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					values[m.Name] = dp.Value
				}
			case metricdata.Gauge[int64]:
				for _, dp := range data.DataPoints {
					values[m.Name] = dp.Value
				}
			}
		}
	}
	return values
}

func TestExporterObservesSnapshot(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	exporter, err := NewExporterFromSource(provider.Meter("authcore-test"), testSource())
	if err != nil {
		t.Fatalf("NewExporterFromSource: %v", err)
	}
	t.Cleanup(func() { _ = exporter.Close() })

	values := collect(t, reader)

	cases := map[string]int64{
		"authcore_login_success_total":                    7,
		"authcore_verify_success_total":                   21,
		"authcore_register_success_total":                 0,
		"authcore_audit_dropped_total":                    2,
		"authcore_verify_latency_seconds_bucket_le_0_005": 1,
		"authcore_verify_latency_seconds_bucket_le_0_5":   1,
		"authcore_verify_latency_seconds_bucket_le_inf":   2,
		"authcore_verify_latency_seconds_count":           2,
	}
	for name, want := range cases {
		got, ok := values[name]
		if !ok {
			t.Fatalf("instrument %q not collected", name)
		}
		if got != want {
			t.Errorf("%s = %d, want %d", name, got, want)
		}
	}
}

func TestExporterTracksLiveSource(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	source := testSource()
	exporter, err := NewExporterFromSource(provider.Meter("authcore-test"), source)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = exporter.Close() })

	if got := collect(t, reader)["authcore_login_success_total"]; got != 7 {
		t.Fatalf("first reading = %d, want 7", got)
	}

	source.snapshot.Counters[authcore.MetricLoginSuccess] = 11
	if got := collect(t, reader)["authcore_login_success_total"]; got != 11 {
		t.Fatalf("second reading = %d, want 11", got)
	}
}

func TestExporterValidation(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	if _, err := NewExporterFromSource(nil, testSource()); !errors.Is(err, ErrNilMeter) {
		t.Fatalf("nil meter: err = %v", err)
	}
	if _, err := NewExporterFromSource(provider.Meter("authcore-test"), nil); !errors.Is(err, ErrNilSource) {
		t.Fatalf("nil source: err = %v", err)
	}

	var nilExporter *Exporter
	if err := nilExporter.Close(); err != nil {
		t.Fatalf("nil Close: %v", err)
	}
}
