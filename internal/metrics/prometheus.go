package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recognition outcomes.
const (
	OutcomeMatched = "matched"
	OutcomeUnknown = "unknown"
	OutcomeSpoof   = "spoof"
	OutcomeSkipped = "skipped"
)

// Collaborators whose failures are counted.
const (
	CollaboratorFace     = "face"
	CollaboratorLiveness = "liveness"
	CollaboratorPPE      = "ppe"
	CollaboratorSource   = "source"
)

// latencyBuckets covers frame capture to delivery, in seconds.
var latencyBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10}

// Manager owns the pipeline's Prometheus metrics. A nil *Manager is valid and
// records nothing.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	registry         *prometheus.Registry

	framesProcessed    prometheus.Counter
	facesDetected      prometheus.Counter
	recognitions       *prometheus.CounterVec
	collaboratorErrors *prometheus.CounterVec
	deliveries         *prometheus.CounterVec
	ppeVerdicts        *prometheus.CounterVec
	frameDuration      prometheus.Histogram
	recognitionLatency prometheus.Histogram
	markedIdentities   prometheus.Gauge
	galleryEntries     prometheus.Gauge
}

// NewManager creates a metrics manager. Without WithPrometheusRegistry a fresh
// registry with Go and process collectors is used.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "face_attendance",
		subsystem:        "pipeline",
		histogramBuckets: latencyBuckets,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.registry == nil {
		m.registry = prometheus.NewRegistry()
		m.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	m.initializeMetrics()
	return m
}

func (m *Manager) initializeMetrics() {
	auto := promauto.With(m.registry)

	m.framesProcessed = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "frames_processed_total",
		Help:      "Total number of frames run through the pipeline",
	})

	m.facesDetected = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "faces_detected_total",
		Help:      "Total number of faces returned by the face detector",
	})

	m.recognitions = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "recognitions_total",
			Help:      "Per-face recognition outcomes",
		},
		[]string{"outcome"},
	)

	m.collaboratorErrors = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "collaborator_errors_total",
			Help:      "Failures of model servers and frame sources",
		},
		[]string{"collaborator"},
	)

	m.deliveries = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "deliveries_total",
			Help:      "Attendance record deliveries by result",
		},
		[]string{"result"},
	)

	m.ppeVerdicts = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "ppe_verdicts_total",
			Help:      "PPE verdicts computed for frames with a recognized identity",
		},
		[]string{"compliant"},
	)

	m.frameDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "frame_duration_seconds",
		Help:      "Wall time spent processing one frame",
		Buckets:   m.histogramBuckets,
	})

	m.recognitionLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "recognition_latency_seconds",
		Help:      "Time from frame capture to attendance record",
		Buckets:   m.histogramBuckets,
	})

	m.markedIdentities = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "marked_identities",
		Help:      "Identities marked present in this session",
	})

	m.galleryEntries = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "gallery_entries",
		Help:      "Reference embeddings in the loaded gallery",
	})
}

// Registry returns the registry metrics are registered on.
func (m *Manager) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Manager) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordFrame counts a processed frame and its duration.
func (m *Manager) RecordFrame(faces int, duration time.Duration) {
	if m == nil {
		return
	}
	m.framesProcessed.Inc()
	m.facesDetected.Add(float64(faces))
	m.frameDuration.Observe(duration.Seconds())
}

// RecordRecognition counts one face outcome.
func (m *Manager) RecordRecognition(outcome string) {
	if m == nil {
		return
	}
	m.recognitions.WithLabelValues(outcome).Inc()
}

// RecordCollaboratorError counts a failed call to a collaborator.
func (m *Manager) RecordCollaboratorError(collaborator string) {
	if m == nil {
		return
	}
	m.collaboratorErrors.WithLabelValues(collaborator).Inc()
}

// RecordDelivery counts a delivery attempt and, on success, its recognition latency.
func (m *Manager) RecordDelivery(success bool, latencySeconds float64) {
	if m == nil {
		return
	}
	if success {
		m.deliveries.WithLabelValues("success").Inc()
		m.recognitionLatency.Observe(latencySeconds)
		return
	}
	m.deliveries.WithLabelValues("failure").Inc()
}

// RecordPPEVerdict counts a verdict; unavailable verdicts get their own label.
func (m *Manager) RecordPPEVerdict(available, compliant bool) {
	if m == nil {
		return
	}
	label := "unavailable"
	if available {
		label = strconv.FormatBool(compliant)
	}
	m.ppeVerdicts.WithLabelValues(label).Inc()
}

// SetMarkedIdentities sets the number of marked identities.
func (m *Manager) SetMarkedIdentities(n int) {
	if m == nil {
		return
	}
	m.markedIdentities.Set(float64(n))
}

// SetGalleryEntries sets the gallery size.
func (m *Manager) SetGalleryEntries(n int) {
	if m == nil {
		return
	}
	m.galleryEntries.Set(float64(n))
}
