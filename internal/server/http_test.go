package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/RomanSlack/Discord-Note-Taker-sub000/internal/capture"
	"github.com/RomanSlack/Discord-Note-Taker-sub000/internal/config"
	"github.com/RomanSlack/Discord-Note-Taker-sub000/internal/metrics"
	"github.com/RomanSlack/Discord-Note-Taker-sub000/internal/pipeline"
	"github.com/RomanSlack/Discord-Note-Taker-sub000/internal/transcript"
)

var testMetrics = metrics.NewMetrics()

func testServer(t *testing.T) (*httptest.Server, *capture.Registry, *transcript.Store) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	appConfig := &config.Config{
		HTTP: config.HTTPConfig{Port: 8080, Address: "127.0.0.1", Enabled: true},
		Capture: config.CaptureConfig{
			SampleRate: 48000, Channels: 2, BitDepth: 16,
			SilenceTimeout: 1, MinSpeechDuration: 0.25,
			MaxBufferBytes: 50 << 20, IdleTimeout: 600, SweepInterval: 30,
		},
		Transcription: config.TranscriptionConfig{
			Endpoint: "wss://example.test/v2/realtime/ws", APIKey: "secret-key",
			SampleRate: 16000, ConfidenceThreshold: 0.4,
		},
		Transcript: config.TranscriptConfig{
			StorageDir: t.TempDir(), SegmentWindow: 300, MaxSessionDuration: 28800,
		},
		Logging: config.LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
	}

	registry := capture.NewRegistry(capture.Config{
		SampleRate:         48000,
		Channels:           2,
		SilenceTimeout:     time.Second,
		MinSpeechDuration:  250 * time.Millisecond,
		MaxBufferBytes:     50 << 20,
		SilenceThresholdDB: -50,
		IdleTimeout:        10 * time.Minute,
		SweepInterval:      30 * time.Second,
	}, logger)

	store, err := transcript.NewStore(transcript.Config{
		StorageDir:         t.TempDir(),
		SegmentWindow:      5 * time.Minute,
		MaxSessionDuration: 8 * time.Hour,
	}, logger)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	h := NewHTTPServer(appConfig.HTTP, logger, appConfig, registry, store, pipeline.NewSet(), testMetrics)
	ts := httptest.NewServer(h.server.Handler)
	t.Cleanup(ts.Close)
	t.Cleanup(registry.StopAll)
	t.Cleanup(store.StopAll)

	return ts, registry, store
}

func getJSON(t *testing.T, url string) map[string]interface{} {
	t.Helper()

	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s failed: %v", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s returned %d", url, resp.StatusCode)
	}

	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Decoding %s failed: %v", url, err)
	}
	return body
}

func TestHealthEndpoint(t *testing.T) {
	ts, _, _ := testServer(t)

	health := getJSON(t, ts.URL+"/health")
	if health["status"] != "healthy" {
		t.Errorf("Expected healthy status, got %v", health["status"])
	}
	if _, ok := health["components"]; !ok {
		t.Error("Expected component breakdown")
	}
}

func TestSessionsEndpoint(t *testing.T) {
	ts, registry, store := testServer(t)

	if _, err := registry.StartSession("chan-1"); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	if _, err := store.StartSession("chan-1"); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	sessions := getJSON(t, ts.URL+"/sessions")
	if got := sessions["total_sessions"].(float64); got != 1 {
		t.Errorf("Expected 1 session, got %v", got)
	}

	detail := getJSON(t, ts.URL+"/sessions/chan-1")
	if _, ok := detail["recording"]; !ok {
		t.Error("Expected recording detail")
	}
	if _, ok := detail["transcript"]; !ok {
		t.Error("Expected transcript detail")
	}

	resp, err := http.Get(ts.URL + "/sessions/missing")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown channel, got %d", resp.StatusCode)
	}
}

func TestConfigEndpointOmitsAPIKey(t *testing.T) {
	ts, _, _ := testServer(t)

	resp, err := http.Get(ts.URL + "/config")
	if err != nil {
		t.Fatalf("GET /config failed: %v", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Reading body failed: %v", err)
	}

	if strings.Contains(string(raw), "secret-key") {
		t.Error("Config endpoint leaked the API key")
	}
	if !strings.Contains(string(raw), "confidence_threshold") {
		t.Error("Config endpoint missing expected fields")
	}
}

func TestStatsEndpoint(t *testing.T) {
	ts, _, _ := testServer(t)

	stats := getJSON(t, ts.URL+"/stats")
	if _, ok := stats["uptime"]; !ok {
		t.Error("Expected uptime in stats")
	}

	transcription := getJSON(t, ts.URL+"/stats/transcription")
	if _, ok := transcription["pipelines"]; !ok {
		t.Error("Expected pipelines in transcription stats")
	}
}

func TestMethodNotAllowed(t *testing.T) {
	ts, _, _ := testServer(t)

	resp, err := http.Post(ts.URL+"/health", "application/json", nil)
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", resp.StatusCode)
	}
}
