// Package metrics records per-run counters and stage timings in a private
// Prometheus registry and dumps them in text exposition format.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/jackzampolin/vidoc/internal/ocr"
	"github.com/jackzampolin/vidoc/internal/types"
)

const (
	Namespace = "vidoc"

	// TextFile is the metrics dump name in the analysis directory.
	TextFile = "metrics.prom"
)

// Stage names used with ObserveStage.
const (
	StageDecode   = "decode"
	StageOCR      = "ocr"
	StageDocument = "document"
	StageIndex    = "index"
	StageTotal    = "total"
)

// Recorder collects metrics for one conversion run. A nil Recorder
// discards everything.
type Recorder struct {
	reg *prometheus.Registry

	framesRead prometheus.Gauge
	decodeGaps prometheus.Gauge
	pages      *prometheus.CounterVec
	regions    *prometheus.CounterVec
	ocrRegions *prometheus.CounterVec
	ocrRetries prometheus.Counter
	outputs    *prometheus.CounterVec
	stages     *prometheus.HistogramVec
}

// NewRecorder creates a recorder whose series carry the run id as a
// constant label.
func NewRecorder(runID string) *Recorder {
	reg := prometheus.NewRegistry()
	f := promauto.With(prometheus.WrapRegistererWith(prometheus.Labels{"run_id": runID}, reg))

	return &Recorder{
		reg: reg,
		framesRead: f.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "frames_read",
			Help:      "Frames decoded from the source",
		}),
		decodeGaps: f.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "decode_gaps",
			Help:      "Frames the decoder failed to produce",
		}),
		pages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "pages_total",
			Help:      "Pages emitted, by dedup status",
		}, []string{"dedup"}),
		regions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "regions_total",
			Help:      "Regions segmented, by kind",
		}, []string{"kind"}),
		ocrRegions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "ocr_regions_total",
			Help:      "Text regions sent to OCR, by outcome",
		}, []string{"status"}),
		ocrRetries: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "ocr_retries_total",
			Help:      "OCR attempts beyond the first",
		}),
		outputs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "outputs_total",
			Help:      "Files written to the result directory, by format",
		}, []string{"format"}),
		stages: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "stage_duration_seconds",
			Help:      "Time spent per stage",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
		}, []string{"stage"}),
	}
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.reg
}

// SetFrames records decoder progress.
func (r *Recorder) SetFrames(read, gaps int) {
	if r == nil {
		return
	}
	r.framesRead.Set(float64(read))
	r.decodeGaps.Set(float64(gaps))
}

// ObservePage counts a page and its regions.
func (r *Recorder) ObservePage(p *types.PageRecord) {
	if r == nil || p == nil {
		return
	}
	r.pages.WithLabelValues(string(p.Dedup.Kind)).Inc()
	for _, reg := range p.Regions {
		r.regions.WithLabelValues(string(reg.Kind)).Inc()
	}
}

// ObserveOCR counts the recognition outcome of a page's regions.
func (r *Recorder) ObserveOCR(text ocr.PageText) {
	if r == nil {
		return
	}
	for _, rt := range text.Regions {
		status := "ok"
		if rt.Failed {
			status = "failed"
		}
		r.ocrRegions.WithLabelValues(status).Inc()
		if rt.Attempts > 1 {
			r.ocrRetries.Add(float64(rt.Attempts - 1))
		}
	}
}

// ObserveOutput counts files written for a format.
func (r *Recorder) ObserveOutput(format string, files int) {
	if r == nil || files <= 0 {
		return
	}
	r.outputs.WithLabelValues(format).Add(float64(files))
}

// ObserveStage records time spent in a stage.
func (r *Recorder) ObserveStage(stage string, d time.Duration) {
	if r == nil {
		return
	}
	r.stages.WithLabelValues(stage).Observe(d.Seconds())
}

// Time starts a stage timer; call the returned func when the stage ends.
func (r *Recorder) Time(stage string) func() {
	start := time.Now()
	return func() { r.ObserveStage(stage, time.Since(start)) }
}

// WriteTextfile dumps all series to path in Prometheus text format.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, r.reg); err != nil {
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	return nil
}
