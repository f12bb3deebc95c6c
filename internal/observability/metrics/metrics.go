// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "screening_session"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Session metrics
	SessionsStarted prometheus.Counter
	SessionsActive  prometheus.Gauge
	SessionsClosed  *prometheus.CounterVec
	SessionDuration prometheus.Histogram

	// Transcript metrics
	TranscriptsInterim prometheus.Counter
	TranscriptsFinal   prometheus.Counter
	UtterancesEmitted  *prometheus.CounterVec

	// Interpretation metrics
	InterpretLatency prometheus.Histogram
	InterpretErrors  prometheus.Counter
	QueueDepth       prometheus.Gauge

	// Capture metrics
	CaptureTicks   prometheus.Counter
	CaptureErrors  *prometheus.CounterVec
	AffectLatency  prometheus.Histogram
	CaptureRunning prometheus.Gauge

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec

	// STT metrics
	STTErrors *prometheus.CounterVec

	// Backend HTTP metrics
	BackendRequests *prometheus.CounterVec
}

// DefaultMetrics is the global metrics instance registered with the default registry.
var DefaultMetrics = NewMetrics(prometheus.DefaultRegisterer)

// NewMetrics creates all metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SessionsStarted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Total number of screening sessions started",
		}),
		SessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of currently active screening sessions",
		}),
		SessionsClosed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_closed_total",
			Help:      "Total number of sessions closed, by outcome",
		}, []string{"outcome"}),
		SessionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Duration of screening sessions in seconds",
			Buckets:   []float64{10, 30, 60, 120, 300, 600, 1200, 1800},
		}),

		TranscriptsInterim: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_interim_total",
			Help:      "Total number of interim transcripts received",
		}),
		TranscriptsFinal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_final_total",
			Help:      "Total number of final transcripts received",
		}),
		UtterancesEmitted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterances_total",
			Help:      "Total number of finalized utterances",
		}, []string{"source"}),

		InterpretLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "interpret_latency_seconds",
			Help:      "Latency of utterance interpretation calls",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}),
		InterpretErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interpret_errors_total",
			Help:      "Total number of failed interpretation calls",
		}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "interpret_queue_depth",
			Help:      "Utterances waiting for interpretation",
		}),

		CaptureTicks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_ticks_total",
			Help:      "Total number of frame capture ticks",
		}),
		CaptureErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_errors_total",
			Help:      "Total number of failed capture ticks",
		}, []string{"stage"}),
		AffectLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "affect_latency_seconds",
			Help:      "Latency of affect inference calls",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}),
		CaptureRunning: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "capture_loops_running",
			Help:      "Number of running capture loops",
		}),

		KafkaPublishTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),

		STTErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stt_errors_total",
			Help:      "Total number of STT errors",
		}, []string{"provider", "error_type"}),

		BackendRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_requests_total",
			Help:      "Total number of backend HTTP calls",
		}, []string{"endpoint", "result"}),
	}
}

// RecordSessionStart records a session entering Active.
func (m *Metrics) RecordSessionStart() {
	m.SessionsStarted.Inc()
	m.SessionsActive.Inc()
}

// RecordSessionEnd records a session reaching Stopped.
func (m *Metrics) RecordSessionEnd(outcome string, durationSeconds float64) {
	m.SessionsActive.Dec()
	m.SessionDuration.Observe(durationSeconds)
	m.SessionsClosed.WithLabelValues(outcome).Inc()
}

// RecordInterimTranscript records an interim transcript received.
func (m *Metrics) RecordInterimTranscript() {
	m.TranscriptsInterim.Inc()
}

// RecordFinalTranscript records a final transcript received.
func (m *Metrics) RecordFinalTranscript() {
	m.TranscriptsFinal.Inc()
}

// RecordUtterance records a finalized utterance by source (voice, typed).
func (m *Metrics) RecordUtterance(source string) {
	m.UtterancesEmitted.WithLabelValues(source).Inc()
}

// RecordInterpret records one interpretation call.
func (m *Metrics) RecordInterpret(err error, latencySeconds float64) {
	m.InterpretLatency.Observe(latencySeconds)
	if err != nil {
		m.InterpretErrors.Inc()
	}
}

// SetQueueDepth reports the interpretation backlog.
func (m *Metrics) SetQueueDepth(n int) {
	m.QueueDepth.Set(float64(n))
}

// RecordCaptureTick records one capture tick.
func (m *Metrics) RecordCaptureTick() {
	m.CaptureTicks.Inc()
}

// RecordCaptureError records a capture failure at the given stage (frame, encode, infer).
func (m *Metrics) RecordCaptureError(stage string) {
	m.CaptureErrors.WithLabelValues(stage).Inc()
}

// RecordAffect records an affect inference latency.
func (m *Metrics) RecordAffect(latencySeconds float64) {
	m.AffectLatency.Observe(latencySeconds)
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}

// RecordSTTError records an STT error.
func (m *Metrics) RecordSTTError(provider, errorType string) {
	m.STTErrors.WithLabelValues(provider, errorType).Inc()
}

// RecordBackendRequest records a backend HTTP call outcome.
func (m *Metrics) RecordBackendRequest(endpoint string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.BackendRequests.WithLabelValues(endpoint, result).Inc()
}
