package observability

import (
	"math"
	"slices"
	"strings"
	"sync"
	"time"
)

// Stages timed per call.
const (
	StageBackendConnect = "backend_connect"
	StageFirstAudio     = "first_audio"
	StageFunctionCall   = "function_call"
)

// Indicators counted per event.
const (
	IndicatorBargeIn           = "barge_in"
	IndicatorFrameDropped      = "frame_dropped"
	IndicatorFatalBackendError = "fatal_backend_error"
)

var stageTargetsMS = map[string]float64{
	StageBackendConnect: 1500,
	StageFirstAudio:     1200,
	StageFunctionCall:   800,
}

type StageStats struct {
	Stage       string  `json:"stage"`
	Samples     int     `json:"samples"`
	LastMS      float64 `json:"last_ms"`
	AvgMS       float64 `json:"avg_ms"`
	P50MS       float64 `json:"p50_ms"`
	P95MS       float64 `json:"p95_ms"`
	P99MS       float64 `json:"p99_ms"`
	TargetP95MS float64 `json:"target_p95_ms,omitempty"`
}

type Indicator struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type StageSnapshot struct {
	GeneratedAt time.Time    `json:"generated_at"`
	WindowSize  int          `json:"window_size"`
	Stages      []StageStats `json:"stages"`
	Indicators  []Indicator  `json:"indicators,omitempty"`
}

// StageWindow holds the latest samples of each stage so /v1/perf/latency can
// report exact recent percentiles.
type StageWindow struct {
	mu         sync.RWMutex
	size       int
	rings      map[string]*ring
	indicators map[string]int
}

// ring is a fixed-size sample buffer that overwrites its oldest entry.
type ring struct {
	buf  []float64
	head int
	n    int
}

func (r *ring) add(v float64) {
	r.buf[r.head] = v
	r.head = (r.head + 1) % len(r.buf)
	if r.n < len(r.buf) {
		r.n++
	}
}

func (r *ring) last() float64 {
	return r.buf[(r.head-1+len(r.buf))%len(r.buf)]
}

func (r *ring) sorted() []float64 {
	out := slices.Clone(r.buf[:r.n])
	slices.Sort(out)
	return out
}

func NewStageWindow(size int) *StageWindow {
	if size <= 0 {
		size = 256
	}
	return &StageWindow{
		size:       size,
		rings:      make(map[string]*ring),
		indicators: make(map[string]int),
	}
}

// Observe records one sample. Empty stages and negative durations are ignored.
func (w *StageWindow) Observe(stage string, d time.Duration) {
	if w == nil || stage == "" || d < 0 {
		return
	}
	ms := float64(d) / float64(time.Millisecond)

	w.mu.Lock()
	defer w.mu.Unlock()
	r := w.rings[stage]
	if r == nil {
		r = &ring{buf: make([]float64, w.size)}
		w.rings[stage] = r
	}
	r.add(ms)
}

func (w *StageWindow) ObserveIndicator(name string) {
	name = strings.TrimSpace(name)
	if w == nil || name == "" {
		return
	}
	w.mu.Lock()
	w.indicators[name]++
	w.mu.Unlock()
}

func (w *StageWindow) Snapshot() StageSnapshot {
	snap := StageSnapshot{GeneratedAt: time.Now().UTC(), Stages: []StageStats{}}
	if w == nil {
		return snap
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	snap.WindowSize = w.size

	for _, stage := range sortedKeys(w.rings) {
		r := w.rings[stage]
		if r.n == 0 {
			continue
		}
		snap.Stages = append(snap.Stages, summarize(stage, r))
	}
	for _, name := range sortedKeys(w.indicators) {
		if count := w.indicators[name]; count > 0 {
			snap.Indicators = append(snap.Indicators, Indicator{Name: name, Count: count})
		}
	}
	return snap
}

func (w *StageWindow) Reset() {
	if w == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	clear(w.rings)
	clear(w.indicators)
}

func summarize(stage string, r *ring) StageStats {
	samples := r.sorted()
	var sum float64
	for _, v := range samples {
		sum += v
	}
	return StageStats{
		Stage:       stage,
		Samples:     len(samples),
		LastMS:      round2(r.last()),
		AvgMS:       round2(sum / float64(len(samples))),
		P50MS:       round2(percentile(samples, 0.50)),
		P95MS:       round2(percentile(samples, 0.95)),
		P99MS:       round2(percentile(samples, 0.99)),
		TargetP95MS: stageTargetsMS[stage],
	}
}

// percentile interpolates linearly between the closest ranks of sorted.
func percentile(sorted []float64, q float64) float64 {
	switch {
	case len(sorted) == 0:
		return 0
	case q <= 0:
		return sorted[0]
	case q >= 1:
		return sorted[len(sorted)-1]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(pos)
	if lo+1 >= len(sorted) {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[lo+1]-sorted[lo])*frac
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
