package audio

import (
	"bytes"
	"fmt"
	"os/exec"
	"sync"
)

// Format describes a PCM audio format.
type Format struct {
	SampleRate int `json:"sample_rate"`
	Channels   int `json:"channels"`
	BitDepth   int `json:"bit_depth"`
}

// Validate checks that the format is one the converter can handle.
func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", f.SampleRate)
	}

	if f.Channels < 1 || f.Channels > 2 {
		return fmt.Errorf("channels must be 1 or 2, got %d", f.Channels)
	}

	if f.BitDepth != 16 {
		return fmt.Errorf("bit depth must be 16, got %d", f.BitDepth)
	}

	return nil
}

// FrameSize returns the number of bytes in one frame of this format.
func (f Format) FrameSize() int {
	return f.Channels * f.BitDepth / 8
}

// ConverterConfig contains configuration for the streaming format converter.
type ConverterConfig struct {
	Input  Format
	Output Format

	// ChunkSize is the number of input bytes buffered before a conversion
	// pass runs. Rounded down to a whole number of input frames.
	ChunkSize int

	// Normalize applies peak normalization to each converted chunk.
	Normalize     bool
	NormalizePeak float64

	// HighQuality forces the external resampler even for integer ratios.
	HighQuality bool

	// FFmpegPath overrides the ffmpeg binary used for the external path.
	FFmpegPath string
}

// ConverterStats represents converter statistics for introspection.
type ConverterStats struct {
	BytesIn     uint64  `json:"bytes_in"`
	BytesOut    uint64  `json:"bytes_out"`
	Chunks      uint64  `json:"chunks_converted"`
	FastPath    uint64  `json:"fast_path_chunks"`
	ExternalRun uint64  `json:"external_resampler_chunks"`
	Ratio       float64 `json:"output_input_ratio"`
}

// Converter is a stateful stream transform between two PCM formats. Input
// bytes are buffered until a chunk is complete, then channel mixing,
// resampling and optional normalization are applied in that order. Integer
// sample rate ratios use the in-process linear resampler; anything else is
// piped through ffmpeg.
type Converter struct {
	config ConverterConfig

	buf         []byte
	bytesIn     uint64
	bytesOut    uint64
	chunks      uint64
	fastPath    uint64
	externalRun uint64

	mu sync.Mutex
}

const defaultChunkSize = 3840 // 20ms at 48kHz stereo 16-bit

// NewConverter creates a converter for the given input/output formats.
func NewConverter(config ConverterConfig) (*Converter, error) {
	if err := config.Input.Validate(); err != nil {
		return nil, fmt.Errorf("input format: %w", err)
	}

	if err := config.Output.Validate(); err != nil {
		return nil, fmt.Errorf("output format: %w", err)
	}

	if config.ChunkSize <= 0 {
		config.ChunkSize = defaultChunkSize
	}

	// Chunks must contain whole input frames.
	frameSize := config.Input.FrameSize()
	config.ChunkSize -= config.ChunkSize % frameSize
	if config.ChunkSize == 0 {
		config.ChunkSize = frameSize
	}

	if config.NormalizePeak <= 0 || config.NormalizePeak > 1 {
		config.NormalizePeak = 0.95
	}

	if config.FFmpegPath == "" {
		config.FFmpegPath = "ffmpeg"
	}

	return &Converter{
		config: config,
		buf:    make([]byte, 0, config.ChunkSize*2),
	}, nil
}

// Write feeds input bytes into the converter and returns any converted output
// produced by completed chunks. Output may be empty while the converter is
// still buffering.
func (c *Converter) Write(data []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.bytesIn += uint64(len(data))
	c.buf = append(c.buf, data...)

	var out []byte
	for len(c.buf) >= c.config.ChunkSize {
		chunk := c.buf[:c.config.ChunkSize]
		converted, err := c.convertChunk(chunk)
		if err != nil {
			return nil, err
		}

		out = append(out, converted...)
		c.buf = c.buf[c.config.ChunkSize:]
	}

	c.bytesOut += uint64(len(out))
	return out, nil
}

// Flush converts any buffered partial chunk through the same path and resets
// the internal buffer. Called when the input stream ends.
func (c *Converter) Flush() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.buf) == 0 {
		return nil, nil
	}

	// Drop a trailing partial frame rather than emitting misaligned audio.
	frameSize := c.config.Input.FrameSize()
	usable := len(c.buf) - len(c.buf)%frameSize
	if usable == 0 {
		c.buf = c.buf[:0]
		return nil, nil
	}

	converted, err := c.convertChunk(c.buf[:usable])
	if err != nil {
		return nil, err
	}

	c.buf = c.buf[:0]
	c.bytesOut += uint64(len(converted))
	return converted, nil
}

// convertChunk applies channel mixing, resampling and normalization to one
// chunk. Caller holds the lock.
func (c *Converter) convertChunk(chunk []byte) ([]byte, error) {
	mixed, err := MixChannels(chunk, c.config.Input.Channels, c.config.Output.Channels)
	if err != nil {
		return nil, fmt.Errorf("channel conversion failed: %w", err)
	}

	var resampled []byte
	if c.useFastPath() {
		resampled, err = ResampleLinear(mixed, c.config.Input.SampleRate,
			c.config.Output.SampleRate, c.config.Output.Channels)
		if err != nil {
			return nil, fmt.Errorf("resampling failed: %w", err)
		}
		c.fastPath++
	} else {
		resampled, err = c.resampleExternal(mixed)
		if err != nil {
			return nil, fmt.Errorf("external resampling failed: %w", err)
		}
		c.externalRun++
	}

	if c.config.Normalize {
		resampled = Normalize(resampled, c.config.NormalizePeak)
	}

	c.chunks++
	return resampled, nil
}

// useFastPath reports whether the in-process linear resampler can serve this
// conversion: 16-bit PCM on both sides and an integer sample rate ratio.
func (c *Converter) useFastPath() bool {
	if c.config.HighQuality {
		return false
	}

	from := c.config.Input.SampleRate
	to := c.config.Output.SampleRate
	if from == to {
		return true
	}

	return from%to == 0 || to%from == 0
}

// resampleExternal pipes raw PCM through an ffmpeg process for arbitrary
// sample rate ratios and the high-quality filter option.
func (c *Converter) resampleExternal(pcm []byte) ([]byte, error) {
	args := []string{
		"-y", "-loglevel", "error",
		"-f", "s16le",
		"-ar", fmt.Sprintf("%d", c.config.Input.SampleRate),
		"-ac", fmt.Sprintf("%d", c.config.Output.Channels),
		"-i", "pipe:0",
		"-ar", fmt.Sprintf("%d", c.config.Output.SampleRate),
		"-ac", fmt.Sprintf("%d", c.config.Output.Channels),
	}

	if c.config.HighQuality {
		args = append(args, "-af", "aresample=resampler=soxr,afftdn")
	}

	args = append(args, "-f", "s16le", "pipe:1")

	cmd := exec.Command(c.config.FFmpegPath, args...)
	cmd.Stdin = bytes.NewReader(pcm)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg failed: %w, stderr: %s", err, stderr.String())
	}

	return stdout.Bytes(), nil
}

// GetStats returns cumulative converter statistics.
func (c *Converter) GetStats() ConverterStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	ratio := float64(0)
	if c.bytesIn > 0 {
		ratio = float64(c.bytesOut) / float64(c.bytesIn)
	}

	return ConverterStats{
		BytesIn:     c.bytesIn,
		BytesOut:    c.bytesOut,
		Chunks:      c.chunks,
		FastPath:    c.fastPath,
		ExternalRun: c.externalRun,
		Ratio:       ratio,
	}
}

// Buffered returns the number of input bytes awaiting conversion.
func (c *Converter) Buffered() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buf)
}
