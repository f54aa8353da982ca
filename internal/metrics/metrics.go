// Package metrics collects per-run pipeline measurements. A CLI run is
// short lived, so the registry is exported to a node-exporter textfile
// instead of being scraped.
package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the pipeline collectors. A nil *Metrics discards every
// observation.
type Metrics struct {
	registry *prometheus.Registry

	stageSeconds *prometheus.HistogramVec
	attempts     *prometheus.CounterVec
	fallbacks    *prometheus.CounterVec
	frames       *prometheus.CounterVec
	frameRetries prometheus.Counter
	uploads      *prometheus.CounterVec
	runs         *prometheus.CounterVec
	runSeconds   prometheus.Gauge
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		stageSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mut_stage_duration_seconds",
			Help:    "Wall-clock time of each pipeline stage",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120, 300},
		}, []string{"stage"}),
		attempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mut_compose_attempts_total",
			Help: "Composite encode attempts by encoder and outcome",
		}, []string{"encoder", "result"}),
		fallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mut_encoder_fallbacks_total",
			Help: "Encoder downgrades during composition",
		}, []string{"from", "to"}),
		frames: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mut_frames_total",
			Help: "Extracted still frames by outcome",
		}, []string{"result"}),
		frameRetries: f.NewCounter(prometheus.CounterOpts{
			Name: "mut_frame_retries_total",
			Help: "Frame extraction attempts beyond the first",
		}),
		uploads: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mut_uploads_total",
			Help: "S3 uploads by outcome",
		}, []string{"result"}),
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mut_runs_total",
			Help: "Pipeline runs by outcome",
		}, []string{"result"}),
		runSeconds: f.NewGauge(prometheus.GaugeOpts{
			Name: "mut_last_run_duration_seconds",
			Help: "Total time of the most recent run",
		}),
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "failed"
}

func normalizeStageLabel(stage string) string {
	switch s := strings.ToLower(strings.TrimSpace(stage)); s {
	case "normalize", "enhance", "shadow", "compose", "frames", "upload", "qr":
		return s
	default:
		return "unknown"
	}
}

func normalizeEncoderLabel(enc string) string {
	switch s := strings.ToLower(strings.TrimSpace(enc)); s {
	case "software", "videotoolbox", "nvenc":
		return s
	default:
		return "unknown"
	}
}

// ObserveStage records the duration of one stage.
func (m *Metrics) ObserveStage(name string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageSeconds.WithLabelValues(normalizeStageLabel(name)).Observe(d.Seconds())
}

// ObserveAttempt records one composite attempt.
func (m *Metrics) ObserveAttempt(enc string, ok bool) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(normalizeEncoderLabel(enc), result(ok)).Inc()
}

// ObserveFallback records an encoder downgrade.
func (m *Metrics) ObserveFallback(from, to string) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(normalizeEncoderLabel(from), normalizeEncoderLabel(to)).Inc()
}

// ObserveFrame records one timestamp's extraction.
func (m *Metrics) ObserveFrame(ok bool, attempts int) {
	if m == nil {
		return
	}
	m.frames.WithLabelValues(result(ok)).Inc()
	if attempts > 1 {
		m.frameRetries.Add(float64(attempts - 1))
	}
}

// ObserveUpload records an upload outcome.
func (m *Metrics) ObserveUpload(ok bool) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(result(ok)).Inc()
}

// ObserveRun records a finished run.
func (m *Metrics) ObserveRun(ok bool, d time.Duration) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(result(ok)).Inc()
	m.runSeconds.Set(d.Seconds())
}

// WriteTextfile writes the registry in text exposition format. The file
// is replaced atomically.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}
