package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the transcription core
type Metrics struct {
	// Capture metrics
	ActiveRecordings  prometheus.Gauge
	ActiveSpeakers    prometheus.Gauge
	SegmentsCaptured  prometheus.Counter
	SegmentsDiscarded prometheus.Counter
	ForcedFlushes     prometheus.Counter
	SegmentDuration   prometheus.Histogram
	SegmentSize       prometheus.Histogram

	// Pipeline metrics
	QueueDepth     prometheus.Gauge
	QueueDrops     prometheus.Counter
	ChunksSent     prometheus.Counter
	BytesStreamed  prometheus.Counter
	ConvertLatency prometheus.Histogram
	SendLatency    prometheus.Histogram
	QualityAlerts  prometheus.Counter

	// Streaming client metrics
	Reconnects          prometheus.Counter
	ConnectionFailures  prometheus.Counter
	TranscriptsReceived *prometheus.CounterVec
	TranscriptLatency   prometheus.Histogram
	Confidence          prometheus.Histogram

	// Transcript store metrics
	SegmentRotations prometheus.Counter
	CompressionRatio prometheus.Histogram
	EstimatedCostUSD prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		// Capture metrics
		ActiveRecordings: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vox_active_recordings",
			Help: "Current number of active recording sessions",
		}),
		ActiveSpeakers: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vox_active_speakers",
			Help: "Current number of tracked speakers across all sessions",
		}),
		SegmentsCaptured: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vox_segments_captured_total",
			Help: "Total number of utterance segments emitted by capture",
		}),
		SegmentsDiscarded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vox_segments_discarded_total",
			Help: "Total number of utterances discarded below minimum speech duration",
		}),
		ForcedFlushes: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vox_forced_flushes_total",
			Help: "Total number of speaker buffers flushed early at the byte ceiling",
		}),
		SegmentDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "vox_segment_duration_seconds",
			Help:    "Duration of captured utterance segments",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10), // 250ms to ~2 minutes
		}),
		SegmentSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "vox_segment_size_bytes",
			Help:    "Size of captured utterance segments in bytes",
			Buckets: prometheus.ExponentialBuckets(4096, 2, 14), // 4KB to ~32MB
		}),

		// Pipeline metrics
		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vox_pipeline_queue_depth",
			Help: "Current number of segments awaiting conversion and send",
		}),
		QueueDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vox_pipeline_queue_drops_total",
			Help: "Total number of segments dropped at the backpressure boundary",
		}),
		ChunksSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vox_chunks_sent_total",
			Help: "Total number of audio chunks streamed to the transcription service",
		}),
		BytesStreamed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vox_bytes_streamed_total",
			Help: "Total converted audio bytes streamed to the transcription service",
		}),
		ConvertLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "vox_convert_latency_seconds",
			Help:    "Time spent converting one audio chunk",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 10), // 1ms to ~1s
		}),
		SendLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "vox_send_latency_seconds",
			Help:    "Time spent sending one audio chunk",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 10),
		}),
		QualityAlerts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vox_quality_alerts_total",
			Help: "Total number of quality alerts emitted by the pipeline",
		}),

		// Streaming client metrics
		Reconnects: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vox_reconnects_total",
			Help: "Total number of transcription service reconnect attempts",
		}),
		ConnectionFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vox_connection_failures_total",
			Help: "Total number of failed transcription service connections",
		}),
		TranscriptsReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vox_transcripts_received_total",
			Help: "Total number of transcripts received by kind",
		}, []string{"kind"}),
		TranscriptLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "vox_transcript_latency_seconds",
			Help:    "Pipeline latency per received transcript",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		}),
		Confidence: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "vox_transcript_confidence",
			Help:    "Confidence of accepted transcripts",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11), // 0.0 to 1.0
		}),

		// Transcript store metrics
		SegmentRotations: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vox_segment_rotations_total",
			Help: "Total number of transcript segment window rotations",
		}),
		CompressionRatio: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "vox_segment_compression_ratio",
			Help:    "Uncompressed-to-compressed size ratio of persisted segments",
			Buckets: prometheus.ExponentialBuckets(1, 1.5, 10), // 1x to ~38x
		}),
		EstimatedCostUSD: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vox_estimated_cost_usd_total",
			Help: "Accumulated estimated transcription service cost in USD",
		}),

		// HTTP API metrics
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vox_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vox_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vox_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// SetActiveRecordings sets the current recording session count
func (m *Metrics) SetActiveRecordings(count int) {
	m.ActiveRecordings.Set(float64(count))
}

// SetActiveSpeakers sets the current tracked speaker count
func (m *Metrics) SetActiveSpeakers(count int) {
	m.ActiveSpeakers.Set(float64(count))
}

// RecordSegmentCaptured records one emitted utterance segment
func (m *Metrics) RecordSegmentCaptured(durationSeconds float64, sizeBytes int) {
	m.SegmentsCaptured.Inc()
	m.SegmentDuration.Observe(durationSeconds)
	m.SegmentSize.Observe(float64(sizeBytes))
}

// RecordForcedFlush increments the byte-ceiling flush counter
func (m *Metrics) RecordForcedFlush() {
	m.ForcedFlushes.Inc()
}

// SetQueueDepth sets the current pipeline queue depth
func (m *Metrics) SetQueueDepth(depth int) {
	m.QueueDepth.Set(float64(depth))
}

// RecordChunkSent records one streamed audio chunk
func (m *Metrics) RecordChunkSent(sizeBytes int, convertSeconds, sendSeconds float64) {
	m.ChunksSent.Inc()
	m.BytesStreamed.Add(float64(sizeBytes))
	m.ConvertLatency.Observe(convertSeconds)
	m.SendLatency.Observe(sendSeconds)
}

// RecordQualityAlert increments the quality alert counter
func (m *Metrics) RecordQualityAlert() {
	m.QualityAlerts.Inc()
}

// RecordReconnect increments the reconnect attempt counter
func (m *Metrics) RecordReconnect() {
	m.Reconnects.Inc()
}

// RecordConnectionFailure increments the failed connection counter
func (m *Metrics) RecordConnectionFailure() {
	m.ConnectionFailures.Inc()
}

// RecordTranscript records one received transcript with its latency
func (m *Metrics) RecordTranscript(kind string, confidence, latencySeconds float64) {
	m.TranscriptsReceived.WithLabelValues(kind).Inc()
	m.Confidence.Observe(confidence)
	m.TranscriptLatency.Observe(latencySeconds)
}

// RecordSegmentRotation records one persisted transcript segment
func (m *Metrics) RecordSegmentRotation(compressionRatio float64) {
	m.SegmentRotations.Inc()
	if compressionRatio > 0 {
		m.CompressionRatio.Observe(compressionRatio)
	}
}

// AddEstimatedCost accumulates estimated service cost
func (m *Metrics) AddEstimatedCost(usd float64) {
	if usd > 0 {
		m.EstimatedCostUSD.Add(usd)
	}
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
