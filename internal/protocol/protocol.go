package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Outbound control message types.
const (
	TypeStartTranscription = "StartRealTimeTranscription"
	TypeAudioData          = "AudioData"
	TypeTerminate          = "Terminate"
)

// Inbound message types.
const (
	TypeSessionBegins     = "SessionBegins"
	TypePartialTranscript = "PartialTranscript"
	TypeFinalTranscript   = "FinalTranscript"
	TypeSessionTerminated = "SessionTerminated"
	TypeError             = "error"
)

// StartMessage opens a transcription session with the audio format the
// service should expect on subsequent AudioData frames.
type StartMessage struct {
	MessageType string `json:"message_type"`
	Token       string `json:"token"`
	SampleRate  int    `json:"sample_rate"`
	Encoding    string `json:"encoding"` // "pcm_s16le"
	Language    string `json:"language,omitempty"`
	Punctuate   bool   `json:"punctuate"`
	FormatText  bool   `json:"format_text"`
}

// AudioDataMessage carries one chunk of base64-encoded PCM audio.
type AudioDataMessage struct {
	MessageType string `json:"message_type"`
	AudioData   string `json:"audio_data"`
}

// TerminateMessage requests a graceful session shutdown.
type TerminateMessage struct {
	MessageType string `json:"message_type"`
}

// SessionBeginsMessage acknowledges a started session.
type SessionBeginsMessage struct {
	MessageType string `json:"message_type"`
	SessionID   string `json:"session_id"`
	ExpiresAt   string `json:"expires_at,omitempty"`
}

// Word carries word-level timing within a transcript.
type Word struct {
	Start      int64   `json:"start"` // ms offset into the audio stream
	End        int64   `json:"end"`
	Confidence float64 `json:"confidence"`
	Text       string  `json:"text"`
}

// TranscriptMessage is a partial or final recognition result.
type TranscriptMessage struct {
	MessageType string  `json:"message_type"`
	AudioStart  int64   `json:"audio_start"` // ms offset into the audio stream
	AudioEnd    int64   `json:"audio_end"`
	Confidence  float64 `json:"confidence"` // [0, 1]
	Text        string  `json:"text"`
	Words       []Word  `json:"words,omitempty"`
	Created     string  `json:"created,omitempty"`
}

// IsFinal reports whether this transcript is a confirmed-complete result.
func (t *TranscriptMessage) IsFinal() bool {
	return t.MessageType == TypeFinalTranscript
}

// SessionTerminatedMessage confirms session shutdown with usage totals.
type SessionTerminatedMessage struct {
	MessageType          string  `json:"message_type"`
	AudioDurationSeconds float64 `json:"audio_duration_seconds,omitempty"`
}

// ErrorMessage reports a service-side error.
type ErrorMessage struct {
	MessageType string `json:"message_type"`
	Error       string `json:"error"`
}

// NewStartMessage builds the session-start control message.
func NewStartMessage(token string, sampleRate int, language string, punctuate, formatText bool) StartMessage {
	return StartMessage{
		MessageType: TypeStartTranscription,
		Token:       token,
		SampleRate:  sampleRate,
		Encoding:    "pcm_s16le",
		Language:    language,
		Punctuate:   punctuate,
		FormatText:  formatText,
	}
}

// NewAudioData wraps raw PCM bytes in an AudioData control message.
func NewAudioData(pcm []byte) AudioDataMessage {
	return AudioDataMessage{
		MessageType: TypeAudioData,
		AudioData:   base64.StdEncoding.EncodeToString(pcm),
	}
}

// DecodeAudio extracts the raw PCM bytes from an AudioData message.
func (a *AudioDataMessage) DecodeAudio() ([]byte, error) {
	pcm, err := base64.StdEncoding.DecodeString(a.AudioData)
	if err != nil {
		return nil, fmt.Errorf("invalid audio payload: %w", err)
	}
	return pcm, nil
}

// NewTerminate builds the session-terminate control message.
func NewTerminate() TerminateMessage {
	return TerminateMessage{MessageType: TypeTerminate}
}

// envelope is used to peek at the message type before full decoding.
type envelope struct {
	MessageType string `json:"message_type"`
}

// ParseMessage decodes an inbound service message into its concrete type.
// Unknown or malformed messages are a protocol error; callers log and drop
// them without tearing down the connection.
func ParseMessage(data []byte) (interface{}, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("malformed message: %w", err)
	}

	switch env.MessageType {
	case TypeSessionBegins:
		var msg SessionBeginsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("malformed %s message: %w", env.MessageType, err)
		}
		return &msg, nil

	case TypePartialTranscript, TypeFinalTranscript:
		var msg TranscriptMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("malformed %s message: %w", env.MessageType, err)
		}
		return &msg, nil

	case TypeSessionTerminated:
		var msg SessionTerminatedMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("malformed %s message: %w", env.MessageType, err)
		}
		return &msg, nil

	case TypeError:
		var msg ErrorMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("malformed error message: %w", err)
		}
		return &msg, nil

	default:
		return nil, fmt.Errorf("unknown message type %q", env.MessageType)
	}
}
