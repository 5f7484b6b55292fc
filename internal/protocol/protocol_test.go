package protocol

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestNewStartMessage(t *testing.T) {
	msg := NewStartMessage("secret", 16000, "en", true, false)

	if msg.MessageType != TypeStartTranscription {
		t.Errorf("expected message type %q, got %q", TypeStartTranscription, msg.MessageType)
	}

	if msg.Encoding != "pcm_s16le" {
		t.Errorf("expected pcm_s16le encoding, got %q", msg.Encoding)
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if decoded["sample_rate"].(float64) != 16000 {
		t.Errorf("expected sample_rate 16000, got %v", decoded["sample_rate"])
	}
}

func TestAudioDataRoundTrip(t *testing.T) {
	pcm := []byte{0x01, 0x02, 0xFF, 0x7F, 0x00, 0x80}

	msg := NewAudioData(pcm)
	if msg.MessageType != TypeAudioData {
		t.Errorf("expected message type %q, got %q", TypeAudioData, msg.MessageType)
	}

	decoded, err := msg.DecodeAudio()
	if err != nil {
		t.Fatalf("DecodeAudio failed: %v", err)
	}

	if !bytes.Equal(decoded, pcm) {
		t.Errorf("audio round trip mismatch: sent %v, got %v", pcm, decoded)
	}
}

func TestDecodeAudioRejectsGarbage(t *testing.T) {
	msg := AudioDataMessage{MessageType: TypeAudioData, AudioData: "!!!not-base64!!!"}
	if _, err := msg.DecodeAudio(); err == nil {
		t.Error("expected error for invalid base64 payload")
	}
}

func TestParseSessionBegins(t *testing.T) {
	raw := []byte(`{"message_type":"SessionBegins","session_id":"abc-123","expires_at":"2025-01-01T00:00:00Z"}`)

	parsed, err := ParseMessage(raw)
	if err != nil {
		t.Fatalf("ParseMessage failed: %v", err)
	}

	msg, ok := parsed.(*SessionBeginsMessage)
	if !ok {
		t.Fatalf("expected *SessionBeginsMessage, got %T", parsed)
	}

	if msg.SessionID != "abc-123" {
		t.Errorf("expected session id abc-123, got %q", msg.SessionID)
	}
}

func TestParseTranscripts(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		final bool
	}{
		{
			"partial",
			`{"message_type":"PartialTranscript","audio_start":100,"audio_end":600,"confidence":0.55,"text":"hello wor"}`,
			false,
		},
		{
			"final",
			`{"message_type":"FinalTranscript","audio_start":100,"audio_end":900,"confidence":0.93,"text":"Hello world.","words":[{"start":100,"end":500,"confidence":0.95,"text":"Hello"},{"start":500,"end":900,"confidence":0.91,"text":"world."}]}`,
			true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed, err := ParseMessage([]byte(tt.raw))
			if err != nil {
				t.Fatalf("ParseMessage failed: %v", err)
			}

			msg, ok := parsed.(*TranscriptMessage)
			if !ok {
				t.Fatalf("expected *TranscriptMessage, got %T", parsed)
			}

			if msg.IsFinal() != tt.final {
				t.Errorf("expected IsFinal=%v", tt.final)
			}

			if msg.AudioStart != 100 {
				t.Errorf("expected audio_start 100, got %d", msg.AudioStart)
			}

			if tt.final && len(msg.Words) != 2 {
				t.Errorf("expected 2 words, got %d", len(msg.Words))
			}
		})
	}
}

func TestParseErrorMessage(t *testing.T) {
	parsed, err := ParseMessage([]byte(`{"message_type":"error","error":"rate limited"}`))
	if err != nil {
		t.Fatalf("ParseMessage failed: %v", err)
	}

	msg, ok := parsed.(*ErrorMessage)
	if !ok {
		t.Fatalf("expected *ErrorMessage, got %T", parsed)
	}

	if msg.Error != "rate limited" {
		t.Errorf("unexpected error text: %q", msg.Error)
	}
}

func TestParseRejectsUnknownAndMalformed(t *testing.T) {
	if _, err := ParseMessage([]byte(`{"message_type":"Bogus"}`)); err == nil {
		t.Error("expected error for unknown message type")
	}

	if _, err := ParseMessage([]byte(`{not json`)); err == nil {
		t.Error("expected error for malformed JSON")
	}
}
