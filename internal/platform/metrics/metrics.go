package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the kiosk. Every helper is safe to
// call on a nil *Metrics so components can run without instrumentation.
type Metrics struct {
	// Camera lifecycle
	CameraAcquisitions *prometheus.CounterVec
	CameraReleases     prometheus.Counter
	CameraActive       prometheus.Gauge

	// QR acquisition
	ScanAttempts *prometheus.CounterVec
	ScanNotices  *prometheus.CounterVec

	// Evidence and submission
	Captures           *prometheus.CounterVec
	SubmissionLatency  prometheus.Histogram
	SubmissionOutcomes *prometheus.CounterVec
	PointsAwarded      prometheus.Counter

	// Flow
	Transitions *prometheus.CounterVec
}

// New creates and registers all metrics on reg. A nil reg uses the default
// Prometheus registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		CameraAcquisitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cleanpoints_camera_acquisitions_total",
			Help: "Camera acquire attempts by mode and outcome",
		}, []string{"mode", "outcome"}),
		CameraReleases: f.NewCounter(prometheus.CounterOpts{
			Name: "cleanpoints_camera_releases_total",
			Help: "Camera handles released",
		}),
		CameraActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "cleanpoints_camera_active_handles",
			Help: "Camera handles currently held (0 or 1)",
		}),

		ScanAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cleanpoints_scan_attempts_total",
			Help: "QR decode attempts by outcome",
		}, []string{"outcome"}), // outcome: "decoded", "miss", "failure"
		ScanNotices: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cleanpoints_scan_notices_total",
			Help: "Scanner notices surfaced to the presentation layer",
		}, []string{"kind"}),

		Captures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cleanpoints_evidence_captures_total",
			Help: "Evidence photo captures by outcome",
		}, []string{"outcome"}),
		SubmissionLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "cleanpoints_submission_duration_seconds",
			Help:    "Duration of validation submissions",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30},
		}),
		SubmissionOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cleanpoints_submission_outcomes_total",
			Help: "Validation submissions by outcome",
		}, []string{"outcome"}), // outcome: "valid", "invalid", "network_error", "server_error"
		PointsAwarded: f.NewCounter(prometheus.CounterOpts{
			Name: "cleanpoints_points_awarded_total",
			Help: "CleanPoints awarded by accepted validations",
		}),

		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cleanpoints_flow_transitions_total",
			Help: "Flow state transitions",
		}, []string{"from", "to"}),
	}
}

func (m *Metrics) ObserveAcquire(mode, outcome string) {
	if m == nil {
		return
	}
	m.CameraAcquisitions.WithLabelValues(mode, outcome).Inc()
	if outcome == "ok" {
		m.CameraActive.Inc()
	}
}

func (m *Metrics) ObserveRelease() {
	if m == nil {
		return
	}
	m.CameraReleases.Inc()
	m.CameraActive.Dec()
}

func (m *Metrics) ObserveScanAttempt(outcome string) {
	if m != nil {
		m.ScanAttempts.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) ObserveScanNotice(kind string) {
	if m != nil {
		m.ScanNotices.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) ObserveCapture(outcome string) {
	if m != nil {
		m.Captures.WithLabelValues(outcome).Inc()
	}
}

// ObserveSubmission records one submission's latency and outcome.
func (m *Metrics) ObserveSubmission(outcome string, d time.Duration, points int) {
	if m == nil {
		return
	}
	m.SubmissionLatency.Observe(d.Seconds())
	m.SubmissionOutcomes.WithLabelValues(outcome).Inc()
	if points > 0 {
		m.PointsAwarded.Add(float64(points))
	}
}

func (m *Metrics) ObserveTransition(from, to string) {
	if m != nil {
		m.Transitions.WithLabelValues(from, to).Inc()
	}
}
