package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/RomanSlack/Discord-Note-Taker-sub000/internal/capture"
	"github.com/RomanSlack/Discord-Note-Taker-sub000/internal/config"
	"github.com/RomanSlack/Discord-Note-Taker-sub000/internal/metrics"
	"github.com/RomanSlack/Discord-Note-Taker-sub000/internal/pipeline"
	"github.com/RomanSlack/Discord-Note-Taker-sub000/internal/transcript"
)

// HTTPServer provides the read-only monitoring API. The command gateway
// that starts and stops recordings lives outside this process.
type HTTPServer struct {
	server    *http.Server
	logger    *slog.Logger
	config    *config.Config
	registry  *capture.Registry
	store     *transcript.Store
	pipelines *pipeline.Set
	metrics   *metrics.Metrics

	startTime time.Time
}

// NewHTTPServer creates the monitoring API server.
func NewHTTPServer(cfg config.HTTPConfig, logger *slog.Logger, appConfig *config.Config,
	registry *capture.Registry, store *transcript.Store, pipelines *pipeline.Set, m *metrics.Metrics) *HTTPServer {

	h := &HTTPServer{
		logger:    logger,
		config:    appConfig,
		registry:  registry,
		store:     store,
		pipelines: pipelines,
		metrics:   m,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))

	mux.HandleFunc("/sessions", h.withMetrics("/sessions", h.handleSessions))
	mux.HandleFunc("/sessions/", h.withMetrics("/sessions/{id}", h.handleSessionDetail))

	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))

	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))
	mux.HandleFunc("/stats/transcription", h.withMetrics("/stats/transcription", h.handleTranscriptionStats))

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: 200}
		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	uptime := time.Since(h.startTime)

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    uptime.String(),
		"service": map[string]interface{}{
			"name":    "voice-transcription-core",
			"version": "1.0.0",
		},
		"components": map[string]interface{}{
			"capture": map[string]interface{}{
				"status":          "running",
				"active_sessions": h.registry.GetActiveSessionCount(),
			},
			"pipelines": map[string]interface{}{
				"status":       "running",
				"active_count": h.pipelines.Count(),
			},
			"transcript_store": map[string]interface{}{
				"status":          "running",
				"active_sessions": h.store.GetActiveSessionCount(),
			},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(health)
}

// handleSessions implements the /sessions endpoint
func (h *HTTPServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	recordings := h.registry.GetAllStats()
	transcripts := h.store.GetAllSummaries()

	response := map[string]interface{}{
		"total_sessions": len(recordings),
		"timestamp":      time.Now().UTC(),
		"recordings":     recordings,
		"transcripts":    transcripts,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleSessionDetail implements the /sessions/{channel_id} endpoint
func (h *HTTPServer) handleSessionDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	channelID := r.URL.Path[len("/sessions/"):]
	if channelID == "" {
		http.Error(w, "Channel ID required", http.StatusBadRequest)
		return
	}

	detail := map[string]interface{}{
		"channel_id": channelID,
		"timestamp":  time.Now().UTC(),
	}
	found := false

	if session, exists := h.registry.GetSession(channelID); exists {
		detail["recording"] = session.GetStats()
		found = true
	}
	if session, exists := h.store.GetSession(channelID); exists {
		detail["transcript"] = session.GetSummary()
		found = true
	}
	if p, exists := h.pipelines.Get(channelID); exists {
		detail["pipeline"] = p.GetStats()
		found = true
	}

	if !found {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(detail)
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Return sanitized configuration (remove sensitive data)
	sanitizedConfig := map[string]interface{}{
		"http": map[string]interface{}{
			"port":    h.config.HTTP.Port,
			"address": h.config.HTTP.Address,
		},
		"capture": map[string]interface{}{
			"sample_rate":         h.config.Capture.SampleRate,
			"channels":            h.config.Capture.Channels,
			"bit_depth":           h.config.Capture.BitDepth,
			"silence_timeout":     h.config.Capture.SilenceTimeout,
			"min_speech_duration": h.config.Capture.MinSpeechDuration,
			"max_buffer_bytes":    h.config.Capture.MaxBufferBytes,
			"idle_timeout":        h.config.Capture.IdleTimeout,
		},
		"transcription": map[string]interface{}{
			"endpoint":               h.config.Transcription.Endpoint,
			"language":               h.config.Transcription.Language,
			"sample_rate":            h.config.Transcription.SampleRate,
			"confidence_threshold":   h.config.Transcription.ConfidenceThreshold,
			"max_reconnect_attempts": h.config.Transcription.MaxReconnectAttempts,
			"hourly_rate_usd":        h.config.Transcription.HourlyRateUSD,
			// Note: API key is intentionally omitted for security
		},
		"pipeline": map[string]interface{}{
			"queue_capacity":    h.config.Pipeline.QueueCapacity,
			"drain_interval_ms": h.config.Pipeline.DrainIntervalMs,
			"drain_batch":       h.config.Pipeline.DrainBatch,
			"quality_interval":  h.config.Pipeline.QualityInterval,
		},
		"transcript": map[string]interface{}{
			"storage_dir":          h.config.Transcript.StorageDir,
			"segment_window":       h.config.Transcript.SegmentWindow,
			"max_session_duration": h.config.Transcript.MaxSessionDuration,
		},
		"logging": map[string]interface{}{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sanitizedConfig)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := map[string]interface{}{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
		"capture": map[string]interface{}{
			"active_sessions": h.registry.GetActiveSessionCount(),
			"sessions":        h.registry.GetAllStats(),
		},
		"pipelines":   h.pipelines.AllStats(),
		"transcripts": h.store.GetAllSummaries(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// handleTranscriptionStats implements the /stats/transcription endpoint
func (h *HTTPServer) handleTranscriptionStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := map[string]interface{}{
		"timestamp": time.Now().UTC(),
		"pipelines": h.pipelines.AllStats(),
		"sessions":  h.store.GetAllSummaries(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]interface{}{
		"service": "Voice Transcription Core",
		"version": "1.0.0",
		"endpoints": map[string]interface{}{
			"GET /":                        "API documentation",
			"GET /health":                  "Service health check",
			"GET /sessions":                "List active recording and transcript sessions",
			"GET /sessions/{channel_id}":   "Get detailed session information",
			"GET /config":                  "Get service configuration",
			"GET /stats":                   "Get service statistics",
			"GET /stats/transcription":     "Get transcription statistics",
			"GET /metrics":                 "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(apiDoc)
}
