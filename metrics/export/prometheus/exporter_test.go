package prometheus

import (
	"net/http/httptest"
	"strings"
	"testing"

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
				authcore.MetricLoginSuccess: 12,
				authcore.MetricLoginFailure: 3,
			},
			Histograms: map[authcore.MetricID][]uint64{
				// Buckets: <=5ms x2, <=100ms x1, +Inf x1.
				authcore.MetricVerifyLatency: {2, 0, 0, 0, 1, 0, 0, 1},
			},
		},
		dropped: 4,
	}
}

func TestRenderCounters(t *testing.T) {
	out := NewExporterFromSource(testSource()).Render()

	want := []string{
		"# HELP authcore_login_success_total Successful login attempts.",
		"# TYPE authcore_login_success_total counter",
		"authcore_login_success_total 12",
		"authcore_login_failure_total 3",
		// Zero-valued counters still render so scrapes see a stable set.
		"authcore_register_success_total 0",
		"authcore_audit_dropped_total 4",
	}
	for _, line := range want {
		if !strings.Contains(out, line+"\n") {
			t.Fatalf("output missing %q\n%s", line, out)
		}
	}
}

func TestRenderHistogramCumulative(t *testing.T) {
	out := NewExporterFromSource(testSource()).Render()

	want := []string{
		"# TYPE authcore_verify_latency_seconds histogram",
		`authcore_verify_latency_seconds_bucket{le="0.005"} 2`,
		`authcore_verify_latency_seconds_bucket{le="0.05"} 2`,
		`authcore_verify_latency_seconds_bucket{le="0.1"} 3`,
		`authcore_verify_latency_seconds_bucket{le="+Inf"} 4`,
		"authcore_verify_latency_seconds_count 4",
		"authcore_verify_latency_seconds_sum 0",
	}
	for _, line := range want {
		if !strings.Contains(out, line+"\n") {
			t.Fatalf("output missing %q\n%s", line, out)
		}
	}
}

func TestRenderEmptySource(t *testing.T) {
	empty := &fakeSource{snapshot: authcore.MetricsSnapshot{
		Counters:   map[authcore.MetricID]uint64{},
		Histograms: map[authcore.MetricID][]uint64{},
	}}
	if out := NewExporterFromSource(empty).Render(); out != "" {
		t.Fatalf("empty source rendered output:\n%s", out)
	}

	var nilExporter *Exporter
	if out := nilExporter.Render(); out != "" {
		t.Fatal("nil exporter rendered output")
	}
}

func TestHandler(t *testing.T) {
	exporter := NewExporterFromSource(testSource())

	rec := httptest.NewRecorder()
	exporter.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain; version=0.0.4") {
		t.Fatalf("Content-Type = %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "authcore_login_success_total 12") {
		t.Fatalf("body missing counter:\n%s", rec.Body.String())
	}
}
