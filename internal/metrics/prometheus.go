package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the media service
type Metrics struct {
	// Session metrics
	ActiveSessions   prometheus.Gauge
	SessionsCreated  prometheus.Counter
	SessionsClosed   *prometheus.CounterVec
	SessionDuration  prometheus.Histogram
	StateTransitions *prometheus.CounterVec

	// Uplink metrics
	UplinkPackets     *prometheus.CounterVec
	TranscriptDeltas  prometheus.Counter

	// Playback metrics
	PlaybackBuffers prometheus.Counter
	PlaybackFlushes prometheus.Counter
	DecodeErrors    prometheus.Counter

	// Analysis metrics
	AnalysisRequests  prometheus.Counter
	AnalysisSuccesses prometheus.Counter
	AnalysisFailures  prometheus.Counter
	AnalysisDuration  prometheus.Histogram
	AnnotationRenders prometheus.Counter
	AnnotationSkips   prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		// Session metrics
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "kinetiq_active_sessions",
			Help: "Current number of active coaching sessions",
		}),
		SessionsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kinetiq_sessions_created_total",
			Help: "Total number of coaching sessions created",
		}),
		SessionsClosed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "kinetiq_sessions_closed_total",
			Help: "Total number of coaching sessions closed, by final state",
		}, []string{"state"}),
		SessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "kinetiq_session_duration_seconds",
			Help:    "Duration of coaching sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~68 minutes
		}),
		StateTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "kinetiq_state_transitions_total",
			Help: "Total number of session state transitions",
		}, []string{"state"}),

		// Uplink metrics
		UplinkPackets: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "kinetiq_uplink_packets_total",
			Help: "Total number of media packets sent to the agent",
		}, []string{"kind"}),
		TranscriptDeltas: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kinetiq_transcript_deltas_total",
			Help: "Total number of transcript deltas received",
		}),

		// Playback metrics
		PlaybackBuffers: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kinetiq_playback_buffers_total",
			Help: "Total number of playback buffers scheduled",
		}),
		PlaybackFlushes: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kinetiq_playback_flushes_total",
			Help: "Total number of playback flushes on interruption",
		}),
		DecodeErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kinetiq_decode_errors_total",
			Help: "Total number of malformed playback packets dropped",
		}),

		// Analysis metrics
		AnalysisRequests: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kinetiq_analysis_requests_total",
			Help: "Total number of analysis requests sent",
		}),
		AnalysisSuccesses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kinetiq_analysis_successes_total",
			Help: "Total number of successful analysis requests",
		}),
		AnalysisFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kinetiq_analysis_failures_total",
			Help: "Total number of failed analysis requests",
		}),
		AnalysisDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "kinetiq_analysis_duration_seconds",
			Help:    "Duration of analysis requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~2 minutes
		}),
		AnnotationRenders: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kinetiq_annotation_renders_total",
			Help: "Total number of annotated feedback frames rendered",
		}),
		AnnotationSkips: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kinetiq_annotation_skips_total",
			Help: "Total number of feedback frames served without annotations",
		}),

		// HTTP API metrics
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "kinetiq_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kinetiq_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "kinetiq_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordSessionCreated increments the sessions created counter
func (m *Metrics) RecordSessionCreated() {
	m.SessionsCreated.Inc()
}

// RecordSessionClosed records a closed session and its duration
func (m *Metrics) RecordSessionClosed(state string, duration time.Duration) {
	m.SessionsClosed.WithLabelValues(state).Inc()
	m.SessionDuration.Observe(duration.Seconds())
}

// RecordStateTransition increments the transition counter for a state
func (m *Metrics) RecordStateTransition(state string) {
	m.StateTransitions.WithLabelValues(state).Inc()
}

// SetActiveSessions sets the current number of active sessions
func (m *Metrics) SetActiveSessions(count int) {
	m.ActiveSessions.Set(float64(count))
}

// RecordUplinkPacket increments the uplink packet counter for a media kind
func (m *Metrics) RecordUplinkPacket(kind string) {
	m.UplinkPackets.WithLabelValues(kind).Inc()
}

// RecordTranscriptDelta increments the transcript delta counter
func (m *Metrics) RecordTranscriptDelta() {
	m.TranscriptDeltas.Inc()
}

// RecordPlaybackBuffer increments the playback buffers counter
func (m *Metrics) RecordPlaybackBuffer() {
	m.PlaybackBuffers.Inc()
}

// RecordPlaybackFlush increments the playback flushes counter
func (m *Metrics) RecordPlaybackFlush() {
	m.PlaybackFlushes.Inc()
}

// RecordDecodeError increments the decode errors counter
func (m *Metrics) RecordDecodeError() {
	m.DecodeErrors.Inc()
}

// RecordAnalysisRequest increments the analysis requests counter
func (m *Metrics) RecordAnalysisRequest() {
	m.AnalysisRequests.Inc()
}

// RecordAnalysisSuccess records a successful analysis request
func (m *Metrics) RecordAnalysisSuccess(durationSeconds float64) {
	m.AnalysisSuccesses.Inc()
	m.AnalysisDuration.Observe(durationSeconds)
}

// RecordAnalysisFailure records a failed analysis request
func (m *Metrics) RecordAnalysisFailure(durationSeconds float64) {
	m.AnalysisFailures.Inc()
	m.AnalysisDuration.Observe(durationSeconds)
}

// RecordAnnotationRender increments the annotation renders counter
func (m *Metrics) RecordAnnotationRender() {
	m.AnnotationRenders.Inc()
}

// RecordAnnotationSkip increments the annotation skips counter
func (m *Metrics) RecordAnnotationSkip() {
	m.AnnotationSkips.Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
