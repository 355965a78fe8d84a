package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
	metricLoop:
		for _, m := range fam.GetMetric() {
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue metricLoop
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

func TestMetricsObserveHelpers(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWith(reg, "test")

	m.ObserveDroppedFrame("not_ready")
	m.ObserveDroppedFrame("not_ready")
	m.ObserveBackendError("invalid_request_error", "", false)
	m.ObserveFunctionCall("get_service_info", "ok", 20*time.Millisecond)
	m.ObserveBackendConnect(300 * time.Millisecond)

	if got := counterValue(t, reg, "test_dropped_frames_total", map[string]string{"reason": "not_ready"}); got != 2 {
		t.Fatalf("dropped_frames_total{not_ready} = %v, want 2", got)
	}
	if got := counterValue(t, reg, "test_backend_errors_total", map[string]string{"code": "none"}); got != 1 {
		t.Fatalf("backend_errors_total{code=none} = %v, want 1", got)
	}
	if got := counterValue(t, reg, "test_function_calls_total", map[string]string{"outcome": "ok"}); got != 1 {
		t.Fatalf("function_calls_total{ok} = %v, want 1", got)
	}

	snap := m.SnapshotStages()
	if len(snap.Stages) != 2 {
		t.Fatalf("len(Stages) = %d, want 2", len(snap.Stages))
	}
	if len(snap.Indicators) != 1 || snap.Indicators[0].Name != IndicatorFrameDropped {
		t.Fatalf("Indicators = %+v, want frame_dropped", snap.Indicators)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveDroppedFrame("not_ready")
	m.ObserveSessionEvent("started")
	m.AddActiveCalls(1)
	m.ResetStages()
	if snap := m.SnapshotStages(); len(snap.Stages) != 0 {
		t.Fatalf("nil metrics snapshot = %+v, want empty", snap)
	}
}
