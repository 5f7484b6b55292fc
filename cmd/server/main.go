package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/RomanSlack/Discord-Note-Taker-sub000/internal/config"
	"github.com/RomanSlack/Discord-Note-Taker-sub000/internal/metrics"
	"github.com/RomanSlack/Discord-Note-Taker-sub000/internal/server"
	"github.com/RomanSlack/Discord-Note-Taker-sub000/internal/service"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "voice-transcription-core"
	serviceVersion    = "1.0.0"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger based on configuration
	logger := initLogger(cfg.Logging)

	// Log service startup
	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.Int("capture_sample_rate", cfg.Capture.SampleRate),
		slog.Int("capture_channels", cfg.Capture.Channels),
		slog.Float64("silence_timeout", cfg.Capture.SilenceTimeout),
		slog.Float64("min_speech_duration", cfg.Capture.MinSpeechDuration),
		slog.String("transcription_endpoint", cfg.Transcription.Endpoint),
		slog.Int("transcription_sample_rate", cfg.Transcription.SampleRate),
		slog.Int("queue_capacity", cfg.Pipeline.QueueCapacity),
		slog.String("storage_dir", cfg.Transcript.StorageDir),
		slog.Int("segment_window", cfg.Transcript.SegmentWindow),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Prometheus metrics
	appMetrics := metrics.NewMetrics()
	logger.Info("Prometheus metrics initialized")

	// Initialize the recording service (capture, pipeline, transcript store)
	svc, err := service.New(cfg, logger, appMetrics)
	if err != nil {
		logger.Error("Failed to create service", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Recording service initialized",
		slog.String("transcription_endpoint", cfg.Transcription.Endpoint),
		slog.String("storage_dir", cfg.Transcript.StorageDir),
	)

	// Initialize HTTP API server (if enabled)
	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg.HTTP, logger, cfg,
			svc.Registry(), svc.Store(), svc.Pipelines(), appMetrics)
		logger.Info("HTTP API server initialized",
			slog.String("address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
		)

		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...")

	// Wait for shutdown signal
	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled, shutting down")
	}

	logger.Info("Starting graceful shutdown...")

	// Stop HTTP server first (stop accepting new requests)
	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	// Snapshot session summaries before shutdown clears them
	summaries := svc.Store().GetAllSummaries()

	// Stop recordings, flush open utterances and finalize transcript sessions
	svc.Shutdown()

	// Get final statistics
	var totalWords, totalTranscripts int
	var totalCost float64
	for _, s := range summaries {
		totalWords += s.TotalWords
		totalTranscripts += s.TotalTranscripts
		totalCost += s.Cost.EstimatedCostUSD
	}
	logger.Info("Final service statistics",
		slog.Int("sessions", len(summaries)),
		slog.Int("total_transcripts", totalTranscripts),
		slog.Int("total_words", totalWords),
		slog.Float64("estimated_cost_usd", totalCost),
	)

	logger.Info("Service stopped")
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	// Parse log level
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo // default fallback
	}

	// Configure handler options
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug, // Add source info for debug level
	}

	// Determine output destination
	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	// Create handler based on format
	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	case "text", "":
		handler = slog.NewTextHandler(output, opts)
	default:
		// Default to text format
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
