package transcribe

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/RomanSlack/Discord-Note-Taker-sub000/internal/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() Config {
	return Config{
		Endpoint:             "ws://localhost:9999/v2/realtime/ws",
		APIKey:               "test-key",
		SampleRate:           16000,
		ConfidenceThreshold:  0.4,
		ConnectTimeout:       time.Second,
		KeepAliveInterval:    30 * time.Second,
		SendInterval:         time.Millisecond,
		MaxReconnectAttempts: 5,
		ReconnectBaseDelay:   time.Second,
		ReconnectMaxDelay:    30 * time.Second,
	}
}

func TestNewClientValidation(t *testing.T) {
	cfg := testConfig()
	cfg.Endpoint = ""
	if _, err := NewClient(cfg, testLogger()); err == nil {
		t.Error("Expected error for empty endpoint")
	}

	cfg = testConfig()
	cfg.APIKey = ""
	if _, err := NewClient(cfg, testLogger()); err == nil {
		t.Error("Expected error for empty API key")
	}

	cfg = testConfig()
	client, err := NewClient(cfg, testLogger())
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if client.GetState() != StateDisconnected {
		t.Errorf("Expected initial state disconnected, got %s", client.GetState())
	}
}

func TestBackoffDelay(t *testing.T) {
	client, err := NewClient(testConfig(), testLogger())
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{10, 30 * time.Second},
		{0, time.Second},
	}

	for _, tt := range tests {
		if got := client.BackoffDelay(tt.attempt); got != tt.want {
			t.Errorf("BackoffDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestReconnectExhaustionEntersErrorState(t *testing.T) {
	client, err := NewClient(testConfig(), testLogger())
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	client.mu.Lock()
	client.reconnectAttempts = client.config.MaxReconnectAttempts
	client.mu.Unlock()

	client.scheduleReconnect(errors.New("connection refused"))

	if state := client.GetState(); state != StateError {
		t.Errorf("Expected StateError after exhaustion, got %v", state)
	}

	select {
	case err := <-client.Errors():
		if !strings.Contains(err.Error(), "reconnect attempts exhausted") {
			t.Errorf("Unexpected error: %v", err)
		}
	default:
		t.Error("Expected an emitted error after exhaustion")
	}

	// A further failure must not restart the backoff cycle.
	client.scheduleReconnect(errors.New("connection refused"))
	if state := client.GetState(); state != StateError {
		t.Errorf("Expected client to stay in StateError, got %v", state)
	}
}

func TestSendAudioWhenDisconnected(t *testing.T) {
	client, err := NewClient(testConfig(), testLogger())
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	if err := client.SendAudio(make([]byte, 640)); err == nil {
		t.Error("Expected error sending audio while disconnected")
	}
}

func TestHandleServerMessageSessionBegins(t *testing.T) {
	client, err := NewClient(testConfig(), testLogger())
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	raw, _ := json.Marshal(protocol.SessionBeginsMessage{
		MessageType: protocol.TypeSessionBegins,
		SessionID:   "sess-123",
	})
	client.handleServerMessage(raw)

	if client.GetSessionID() != "sess-123" {
		t.Errorf("Expected session id sess-123, got %q", client.GetSessionID())
	}
}

func TestHandleServerMessageConfidenceFilter(t *testing.T) {
	client, err := NewClient(testConfig(), testLogger())
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	low, _ := json.Marshal(protocol.TranscriptMessage{
		MessageType: protocol.TypeFinalTranscript,
		Confidence:  0.2,
		Text:        "low confidence",
	})
	client.handleServerMessage(low)

	select {
	case r := <-client.Results():
		t.Errorf("Expected low-confidence transcript to be dropped, got %q", r.Text)
	default:
	}

	high, _ := json.Marshal(protocol.TranscriptMessage{
		MessageType: protocol.TypeFinalTranscript,
		AudioStart:  1000,
		AudioEnd:    2500,
		Confidence:  0.92,
		Text:        "hello world",
	})
	client.handleServerMessage(high)

	select {
	case r := <-client.Results():
		if r.Kind != ResultFinal {
			t.Errorf("Expected final result, got %s", r.Kind)
		}
		if r.Text != "hello world" {
			t.Errorf("Expected text 'hello world', got %q", r.Text)
		}
		if r.AudioStart != 1000 || r.AudioEnd != 2500 {
			t.Errorf("Unexpected timing: %d-%d", r.AudioStart, r.AudioEnd)
		}
	default:
		t.Error("Expected high-confidence transcript to be emitted")
	}

	stats := client.GetStats()
	if stats.Transcripts != 1 {
		t.Errorf("Expected 1 transcript counted, got %d", stats.Transcripts)
	}
	if stats.AvgConfidence < 0.91 || stats.AvgConfidence > 0.93 {
		t.Errorf("Expected avg confidence ~0.92, got %f", stats.AvgConfidence)
	}
}

func TestHandleServerMessagePartialKind(t *testing.T) {
	client, err := NewClient(testConfig(), testLogger())
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	raw, _ := json.Marshal(protocol.TranscriptMessage{
		MessageType: protocol.TypePartialTranscript,
		Confidence:  0.8,
		Text:        "hel",
	})
	client.handleServerMessage(raw)

	select {
	case r := <-client.Results():
		if r.Kind != ResultPartial {
			t.Errorf("Expected partial result, got %s", r.Kind)
		}
	default:
		t.Error("Expected partial transcript to be emitted")
	}
}

func TestHandleServerMessageError(t *testing.T) {
	client, err := NewClient(testConfig(), testLogger())
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	raw, _ := json.Marshal(protocol.ErrorMessage{
		MessageType: protocol.TypeError,
		Error:       "audio too loud",
	})
	client.handleServerMessage(raw)

	select {
	case err := <-client.Errors():
		if !strings.Contains(err.Error(), "audio too loud") {
			t.Errorf("Unexpected error text: %v", err)
		}
	default:
		t.Error("Expected service error to be emitted")
	}

	if stats := client.GetStats(); stats.Errors != 1 {
		t.Errorf("Expected error count 1, got %d", stats.Errors)
	}
}

func TestHandleServerMessageGarbage(t *testing.T) {
	client, err := NewClient(testConfig(), testLogger())
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	// Must not panic or emit anything.
	client.handleServerMessage([]byte("not json"))
	client.handleServerMessage([]byte(`{"message_type":"Bogus"}`))

	select {
	case r := <-client.Results():
		t.Errorf("Unexpected result from garbage input: %q", r.Text)
	default:
	}
}

func TestDisconnectIdempotent(t *testing.T) {
	client, err := NewClient(testConfig(), testLogger())
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	if err := client.Disconnect(); err != nil {
		t.Errorf("First disconnect failed: %v", err)
	}
	if err := client.Disconnect(); err != nil {
		t.Errorf("Second disconnect failed: %v", err)
	}
	if client.GetState() != StateDisconnected {
		t.Errorf("Expected disconnected state, got %s", client.GetState())
	}
}

// echoTranscriptServer upgrades the connection, acknowledges the session and
// answers every audio frame with one final transcript.
func echoTranscriptServer(t *testing.T) *httptest.Server {
	t.Helper()

	upgrader := websocket.Upgrader{}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		// Expect the session-start message first.
		var start protocol.StartMessage
		if err := conn.ReadJSON(&start); err != nil {
			t.Errorf("Reading start message failed: %v", err)
			return
		}
		if start.MessageType != protocol.TypeStartTranscription {
			t.Errorf("Expected start message, got %s", start.MessageType)
		}
		if start.SampleRate != 16000 {
			t.Errorf("Expected sample rate 16000, got %d", start.SampleRate)
		}

		conn.WriteJSON(protocol.SessionBeginsMessage{
			MessageType: protocol.TypeSessionBegins,
			SessionID:   "it-session",
		})

		for {
			var audio protocol.AudioDataMessage
			if err := conn.ReadJSON(&audio); err != nil {
				return
			}
			if audio.MessageType == protocol.TypeTerminate {
				conn.WriteJSON(protocol.SessionTerminatedMessage{
					MessageType: protocol.TypeSessionTerminated,
				})
				return
			}

			pcm, err := base64.StdEncoding.DecodeString(audio.AudioData)
			if err != nil {
				t.Errorf("Audio frame not base64: %v", err)
				return
			}

			conn.WriteJSON(protocol.TranscriptMessage{
				MessageType: protocol.TypeFinalTranscript,
				AudioStart:  0,
				AudioEnd:    int64(len(pcm)) / 32, // 16kHz mono s16le, ms
				Confidence:  0.95,
				Text:        "integration test",
			})
		}
	}))
}

func TestClientIntegration(t *testing.T) {
	server := echoTranscriptServer(t)
	defer server.Close()

	cfg := testConfig()
	cfg.Endpoint = "ws" + strings.TrimPrefix(server.URL, "http")

	client, err := NewClient(cfg, testLogger())
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	defer client.Disconnect()

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	if client.GetState() != StateConnected {
		t.Fatalf("Expected connected state, got %s", client.GetState())
	}

	pcm := make([]byte, 640) // 20ms at 16kHz mono
	if err := client.SendAudio(pcm); err != nil {
		t.Fatalf("SendAudio failed: %v", err)
	}

	select {
	case r := <-client.Results():
		if r.Text != "integration test" {
			t.Errorf("Unexpected transcript: %q", r.Text)
		}
		if r.Kind != ResultFinal {
			t.Errorf("Expected final result, got %s", r.Kind)
		}
		if r.AudioEnd != 20 {
			t.Errorf("Expected 20ms audio end, got %d", r.AudioEnd)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for transcript")
	}

	// Session id should have been captured from SessionBegins.
	deadline := time.Now().Add(time.Second)
	for client.GetSessionID() != "it-session" {
		if time.Now().After(deadline) {
			t.Fatalf("Session id never recorded, got %q", client.GetSessionID())
		}
		time.Sleep(10 * time.Millisecond)
	}

	stats := client.GetStats()
	if stats.BytesSent != 640 {
		t.Errorf("Expected 640 bytes sent, got %d", stats.BytesSent)
	}
}
