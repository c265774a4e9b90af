// Package metrics exposes Prometheus instrumentation for liveness
// sessions and frame verification.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrCodeEU/facecheck/pkg/liveness"
	"github.com/MrCodeEU/facecheck/pkg/verify"
)

// Metrics provides observability for the verification pipeline.
type Metrics struct {
	registry *prometheus.Registry

	// Frames by result status and error code
	Frames *prometheus.CounterVec

	// SubmitFrame latency
	FrameLatency prometheus.Histogram

	// Cosine distance of accepted matches
	MatchDistance prometheus.Histogram

	// Live sessions and how they ended
	ActiveSessions prometheus.Gauge
	SessionsEnded  *prometheus.CounterVec

	// Liveness actions by type
	Actions *prometheus.CounterVec

	// Gallery size after the last reload
	GalleryTemplates prometheus.Gauge
}

// New creates a Metrics instance registered on its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		Frames: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "facecheck_frames_total",
			Help: "Total submitted frames by status and error code",
		}, []string{"status", "code"}),

		FrameLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "facecheck_frame_duration_seconds",
			Help:    "Duration of frame verification",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),

		MatchDistance: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "facecheck_match_distance",
			Help:    "Cosine distance of accepted matches",
			Buckets: []float64{0.05, 0.1, 0.15, 0.2, 0.25, 0.3, 0.35},
		}),

		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "facecheck_liveness_sessions_active",
			Help: "Liveness sessions currently held in memory",
		}),

		SessionsEnded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "facecheck_liveness_sessions_ended_total",
			Help: "Liveness sessions destroyed by reason",
		}, []string{"reason"}), // reason: "lighting", "timeout", "expired"

		Actions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "facecheck_liveness_actions_total",
			Help: "Liveness actions detected by type",
		}, []string{"action"}),

		GalleryTemplates: factory.NewGauge(prometheus.GaugeOpts{
			Name: "facecheck_gallery_templates",
			Help: "Usable templates in the current gallery snapshot",
		}),
	}
}

// Registry returns the registry metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// SessionStarted implements liveness.Recorder.
func (m *Metrics) SessionStarted() {
	if m != nil {
		m.ActiveSessions.Inc()
	}
}

// SessionEnded implements liveness.Recorder.
func (m *Metrics) SessionEnded(reason string) {
	if m != nil {
		m.ActiveSessions.Dec()
		m.SessionsEnded.WithLabelValues(reason).Inc()
	}
}

// ActionDetected implements liveness.Recorder.
func (m *Metrics) ActionDetected(a liveness.Action) {
	if m != nil {
		m.Actions.WithLabelValues(string(a)).Inc()
	}
}

// FrameProcessed implements verify.Recorder.
func (m *Metrics) FrameProcessed(status verify.Status, code verify.ErrorCode, elapsed time.Duration) {
	if m != nil {
		m.Frames.WithLabelValues(string(status), string(code)).Inc()
		m.FrameLatency.Observe(elapsed.Seconds())
	}
}

// ObserveMatchDistance implements verify.Recorder.
func (m *Metrics) ObserveMatchDistance(d float64) {
	if m != nil {
		m.MatchDistance.Observe(d)
	}
}

// SetGalleryTemplates records the size of a new gallery snapshot.
func (m *Metrics) SetGalleryTemplates(n int) {
	if m != nil {
		m.GalleryTemplates.Set(float64(n))
	}
}

var (
	_ liveness.Recorder = (*Metrics)(nil)
	_ verify.Recorder   = (*Metrics)(nil)
)
