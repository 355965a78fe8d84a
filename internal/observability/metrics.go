package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveCalls           prometheus.Gauge
	SessionEvents         *prometheus.CounterVec
	WSMessages            *prometheus.CounterVec
	DroppedFrames         *prometheus.CounterVec
	BackendErrors         *prometheus.CounterVec
	FunctionCalls         *prometheus.CounterVec
	BackendConnectLatency prometheus.Histogram
	FirstAudioLatency     prometheus.Histogram

	stages *StageWindow
}

// NewMetrics registers the instruments on the default Prometheus registry.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer, namespace)
}

func NewMetricsWith(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ActiveCalls: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_calls",
			Help:      "Number of calls currently relayed.",
		}),
		SessionEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Call session lifecycle events by type.",
		}, []string{"event"}),
		WSMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by leg, direction and type.",
		}, []string{"leg", "direction", "type"}),
		DroppedFrames: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_frames_total",
			Help:      "Inbound frames dropped before reaching the backend, by reason.",
		}, []string{"reason"}),
		BackendErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_errors_total",
			Help:      "Speech backend error events by type and code.",
		}, []string{"type", "code"}),
		FunctionCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "function_calls_total",
			Help:      "Function calls answered by name and outcome.",
		}, []string{"name", "outcome"}),
		BackendConnectLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_connect_latency_ms",
			Help:      "Latency from call start to backend configuration ack in milliseconds.",
			Buckets:   []float64{100, 200, 300, 500, 700, 1000, 1500, 2500, 5000},
		}),
		FirstAudioLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "first_audio_latency_ms",
			Help:      "Latency from session active to first assistant audio chunk in milliseconds.",
			Buckets:   []float64{100, 200, 300, 500, 700, 900, 1200, 2000},
		}),
		stages: NewStageWindow(256),
	}
}

// The helpers below are nil-safe so components can run without metrics.

func (m *Metrics) ObserveBackendConnect(d time.Duration) {
	if m == nil {
		return
	}
	m.BackendConnectLatency.Observe(float64(d.Milliseconds()))
	m.stages.Observe(StageBackendConnect, d)
}

func (m *Metrics) ObserveFirstAudioLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.FirstAudioLatency.Observe(float64(d.Milliseconds()))
	m.stages.Observe(StageFirstAudio, d)
}

func (m *Metrics) ObserveFunctionCall(name, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.FunctionCalls.WithLabelValues(name, outcome).Inc()
	m.stages.Observe(StageFunctionCall, d)
}

func (m *Metrics) ObserveSessionEvent(event string) {
	if m == nil {
		return
	}
	m.SessionEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) ObserveMessage(leg, direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(leg, direction, msgType).Inc()
}

func (m *Metrics) ObserveDroppedFrame(reason string) {
	if m == nil {
		return
	}
	m.DroppedFrames.WithLabelValues(reason).Inc()
	m.stages.ObserveIndicator(IndicatorFrameDropped)
}

func (m *Metrics) ObserveBackendError(errType, code string, fatal bool) {
	if m == nil {
		return
	}
	if code == "" {
		code = "none"
	}
	m.BackendErrors.WithLabelValues(errType, code).Inc()
	if fatal {
		m.stages.ObserveIndicator(IndicatorFatalBackendError)
	}
}

func (m *Metrics) ObserveIndicator(name string) {
	if m == nil {
		return
	}
	m.stages.ObserveIndicator(name)
}

func (m *Metrics) AddActiveCalls(delta int) {
	if m == nil {
		return
	}
	m.ActiveCalls.Add(float64(delta))
}

func (m *Metrics) SnapshotStages() StageSnapshot {
	if m == nil {
		return StageSnapshot{GeneratedAt: time.Now().UTC(), Stages: []StageStats{}}
	}
	return m.stages.Snapshot()
}

func (m *Metrics) ResetStages() {
	if m == nil {
		return
	}
	m.stages.Reset()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
