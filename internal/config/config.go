package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	HTTP          HTTPConfig          `yaml:"http"`
	Capture       CaptureConfig       `yaml:"capture"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Pipeline      PipelineConfig      `yaml:"pipeline"`
	Transcript    TranscriptConfig    `yaml:"transcript"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// HTTPConfig contains monitoring API server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// CaptureConfig contains per-speaker audio capture parameters. The voice
// transport delivers 48kHz stereo 16-bit PCM in ~20ms frames.
type CaptureConfig struct {
	SampleRate        int     `yaml:"sample_rate"`
	Channels          int     `yaml:"channels"`
	BitDepth          int     `yaml:"bit_depth"`
	SilenceTimeout    float64 `yaml:"silence_timeout"`     // seconds of trailing silence ending an utterance
	MinSpeechDuration float64 `yaml:"min_speech_duration"` // seconds below which segments are discarded
	MaxBufferBytes    int     `yaml:"max_buffer_bytes"`    // hard per-speaker buffer ceiling
	IdleTimeout       int     `yaml:"idle_timeout"`        // seconds before an inactive speaker is evicted
	SweepInterval     int     `yaml:"sweep_interval"`      // seconds between idle sweeps
	ArchiveDir        string  `yaml:"archive_dir"`         // optional WAV archival directory
}

// TranscriptionConfig contains streaming transcription service configuration
type TranscriptionConfig struct {
	Endpoint             string  `yaml:"endpoint"`
	APIKey               string  `yaml:"api_key"`
	Language             string  `yaml:"language"`
	Punctuate            bool    `yaml:"punctuate"`
	FormatText           bool    `yaml:"format_text"`
	SampleRate           int     `yaml:"sample_rate"` // rate audio is streamed at (16kHz mono)
	ConfidenceThreshold  float64 `yaml:"confidence_threshold"`
	ConnectTimeout       int     `yaml:"connect_timeout"`    // seconds
	KeepAliveInterval    int     `yaml:"keepalive_interval"` // seconds
	SendIntervalMs       int     `yaml:"send_interval_ms"`   // minimum delay between audio sends
	MaxReconnectAttempts int     `yaml:"max_reconnect_attempts"`
	ReconnectBaseDelay   int     `yaml:"reconnect_base_delay"` // seconds, doubles each attempt
	ReconnectMaxDelay    int     `yaml:"reconnect_max_delay"`  // seconds, backoff cap
	HourlyRateUSD        float64 `yaml:"hourly_rate_usd"`      // for cost accounting
}

// PipelineConfig contains transcription pipeline parameters
type PipelineConfig struct {
	QueueCapacity       int     `yaml:"queue_capacity"`
	DrainIntervalMs     int     `yaml:"drain_interval_ms"`
	DrainBatch          int     `yaml:"drain_batch"`
	QualityInterval     int     `yaml:"quality_interval"`     // seconds, 0 disables the monitor
	StalenessThreshold  int     `yaml:"staleness_threshold"`  // seconds without transcripts before alerting
	ConfidenceFloor     float64 `yaml:"confidence_floor"`     // quality alert threshold
	ConfidenceThreshold float64 `yaml:"confidence_threshold"` // pipeline-side result filter
	HighQualityResample bool    `yaml:"high_quality_resample"`
	Normalize           bool    `yaml:"normalize"`
}

// TranscriptConfig contains transcript session store configuration
type TranscriptConfig struct {
	StorageDir         string `yaml:"storage_dir"`
	SegmentWindow      int    `yaml:"segment_window"`       // seconds per rolling segment
	MaxSessionDuration int    `yaml:"max_session_duration"` // seconds
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	// Expand ${VAR} references so secrets can stay out of the file
	expanded := os.ExpandEnv(string(data))

	var config Config
	if err := yaml.Unmarshal([]byte(expanded), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Capture.Validate(); err != nil {
		return fmt.Errorf("capture config: %w", err)
	}

	if err := c.Transcription.Validate(); err != nil {
		return fmt.Errorf("transcription config: %w", err)
	}

	if err := c.Pipeline.Validate(); err != nil {
		return fmt.Errorf("pipeline config: %w", err)
	}

	if err := c.Transcript.Validate(); err != nil {
		return fmt.Errorf("transcript config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates capture configuration
func (c *CaptureConfig) Validate() error {
	if c.SampleRate != 48000 {
		return fmt.Errorf("sample_rate must be 48000 Hz for the voice transport, got %d", c.SampleRate)
	}

	if c.Channels != 1 && c.Channels != 2 {
		return fmt.Errorf("channels must be 1 or 2, got %d", c.Channels)
	}

	if c.BitDepth != 16 {
		return fmt.Errorf("bit_depth must be 16, got %d", c.BitDepth)
	}

	if c.SilenceTimeout <= 0 {
		return fmt.Errorf("silence_timeout must be positive, got %f", c.SilenceTimeout)
	}

	if c.MinSpeechDuration <= 0 {
		return fmt.Errorf("min_speech_duration must be positive, got %f", c.MinSpeechDuration)
	}

	if c.MaxBufferBytes < 1024 {
		return fmt.Errorf("max_buffer_bytes must be at least 1024, got %d", c.MaxBufferBytes)
	}

	if c.IdleTimeout < 1 {
		return fmt.Errorf("idle_timeout must be at least 1 second, got %d", c.IdleTimeout)
	}

	if c.SweepInterval < 1 {
		return fmt.Errorf("sweep_interval must be at least 1 second, got %d", c.SweepInterval)
	}

	return nil
}

// Validate validates transcription service configuration
func (t *TranscriptionConfig) Validate() error {
	if t.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if t.APIKey == "" {
		return fmt.Errorf("api_key cannot be empty")
	}

	if t.SampleRate != 16000 {
		return fmt.Errorf("sample_rate must be 16000 Hz for the transcription service, got %d", t.SampleRate)
	}

	if t.ConfidenceThreshold < 0 || t.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence_threshold must be between 0 and 1, got %f", t.ConfidenceThreshold)
	}

	if t.ConnectTimeout < 1 {
		return fmt.Errorf("connect_timeout must be at least 1 second, got %d", t.ConnectTimeout)
	}

	if t.KeepAliveInterval < 1 {
		return fmt.Errorf("keepalive_interval must be at least 1 second, got %d", t.KeepAliveInterval)
	}

	if t.SendIntervalMs < 0 {
		return fmt.Errorf("send_interval_ms cannot be negative, got %d", t.SendIntervalMs)
	}

	if t.MaxReconnectAttempts < 0 {
		return fmt.Errorf("max_reconnect_attempts cannot be negative, got %d", t.MaxReconnectAttempts)
	}

	if t.ReconnectBaseDelay < 1 {
		return fmt.Errorf("reconnect_base_delay must be at least 1 second, got %d", t.ReconnectBaseDelay)
	}

	if t.ReconnectMaxDelay < t.ReconnectBaseDelay {
		return fmt.Errorf("reconnect_max_delay (%d) must be at least reconnect_base_delay (%d)",
			t.ReconnectMaxDelay, t.ReconnectBaseDelay)
	}

	if t.HourlyRateUSD < 0 {
		return fmt.Errorf("hourly_rate_usd cannot be negative, got %f", t.HourlyRateUSD)
	}

	return nil
}

// Validate validates pipeline configuration
func (p *PipelineConfig) Validate() error {
	if p.QueueCapacity < 1 {
		return fmt.Errorf("queue_capacity must be at least 1, got %d", p.QueueCapacity)
	}

	if p.DrainIntervalMs < 1 {
		return fmt.Errorf("drain_interval_ms must be at least 1, got %d", p.DrainIntervalMs)
	}

	if p.DrainBatch < 1 {
		return fmt.Errorf("drain_batch must be at least 1, got %d", p.DrainBatch)
	}

	if p.QualityInterval < 0 {
		return fmt.Errorf("quality_interval cannot be negative, got %d", p.QualityInterval)
	}

	if p.StalenessThreshold < 1 {
		return fmt.Errorf("staleness_threshold must be at least 1 second, got %d", p.StalenessThreshold)
	}

	if p.ConfidenceFloor < 0 || p.ConfidenceFloor > 1 {
		return fmt.Errorf("confidence_floor must be between 0 and 1, got %f", p.ConfidenceFloor)
	}

	if p.ConfidenceThreshold < 0 || p.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence_threshold must be between 0 and 1, got %f", p.ConfidenceThreshold)
	}

	return nil
}

// Validate validates transcript store configuration
func (t *TranscriptConfig) Validate() error {
	if t.StorageDir == "" {
		return fmt.Errorf("storage_dir cannot be empty")
	}

	if t.SegmentWindow < 1 {
		return fmt.Errorf("segment_window must be at least 1 second, got %d", t.SegmentWindow)
	}

	if t.MaxSessionDuration < t.SegmentWindow {
		return fmt.Errorf("max_session_duration (%d) must be at least segment_window (%d)",
			t.MaxSessionDuration, t.SegmentWindow)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetSilenceTimeout returns the trailing-silence timeout as a time.Duration
func (c *CaptureConfig) GetSilenceTimeout() time.Duration {
	return time.Duration(c.SilenceTimeout * float64(time.Second))
}

// GetMinSpeechDuration returns the minimum speech duration as a time.Duration
func (c *CaptureConfig) GetMinSpeechDuration() time.Duration {
	return time.Duration(c.MinSpeechDuration * float64(time.Second))
}

// GetIdleTimeout returns the speaker idle timeout as a time.Duration
func (c *CaptureConfig) GetIdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeout) * time.Second
}

// GetSweepInterval returns the idle sweep interval as a time.Duration
func (c *CaptureConfig) GetSweepInterval() time.Duration {
	return time.Duration(c.SweepInterval) * time.Second
}

// GetConnectTimeout returns the connect timeout as a time.Duration
func (t *TranscriptionConfig) GetConnectTimeout() time.Duration {
	return time.Duration(t.ConnectTimeout) * time.Second
}

// GetKeepAliveInterval returns the keep-alive interval as a time.Duration
func (t *TranscriptionConfig) GetKeepAliveInterval() time.Duration {
	return time.Duration(t.KeepAliveInterval) * time.Second
}

// GetSendInterval returns the minimum inter-send interval as a time.Duration
func (t *TranscriptionConfig) GetSendInterval() time.Duration {
	return time.Duration(t.SendIntervalMs) * time.Millisecond
}

// GetReconnectBaseDelay returns the initial reconnect delay as a time.Duration
func (t *TranscriptionConfig) GetReconnectBaseDelay() time.Duration {
	return time.Duration(t.ReconnectBaseDelay) * time.Second
}

// GetReconnectMaxDelay returns the reconnect delay cap as a time.Duration
func (t *TranscriptionConfig) GetReconnectMaxDelay() time.Duration {
	return time.Duration(t.ReconnectMaxDelay) * time.Second
}

// GetDrainInterval returns the queue drain interval as a time.Duration
func (p *PipelineConfig) GetDrainInterval() time.Duration {
	return time.Duration(p.DrainIntervalMs) * time.Millisecond
}

// GetQualityInterval returns the quality monitor interval as a time.Duration
func (p *PipelineConfig) GetQualityInterval() time.Duration {
	return time.Duration(p.QualityInterval) * time.Second
}

// GetStalenessThreshold returns the staleness threshold as a time.Duration
func (p *PipelineConfig) GetStalenessThreshold() time.Duration {
	return time.Duration(p.StalenessThreshold) * time.Second
}

// GetSegmentWindow returns the segment window as a time.Duration
func (t *TranscriptConfig) GetSegmentWindow() time.Duration {
	return time.Duration(t.SegmentWindow) * time.Second
}

// GetMaxSessionDuration returns the session duration cap as a time.Duration
func (t *TranscriptConfig) GetMaxSessionDuration() time.Duration {
	return time.Duration(t.MaxSessionDuration) * time.Second
}
