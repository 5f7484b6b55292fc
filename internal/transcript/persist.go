package transcript

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

// segmentWriter persists segments as zstd-compressed JSON under one
// directory per session, plus an uncompressed session summary.
type segmentWriter struct {
	baseDir string
	encoder *zstd.Encoder
}

func newSegmentWriter(baseDir string) *segmentWriter {
	// EncodeAll with a nil-source encoder never fails to construct with
	// default options.
	encoder, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	return &segmentWriter{baseDir: baseDir, encoder: encoder}
}

// sessionDir returns the session's storage directory, creating it on demand.
func (w *segmentWriter) sessionDir(sessionID string) (string, error) {
	dir := filepath.Join(w.baseDir, sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create session directory: %w", err)
	}
	return dir, nil
}

// writeSegment serializes, compresses and writes one finalized segment,
// recording the achieved sizes and ratio on the segment.
func (w *segmentWriter) writeSegment(sessionID string, seg *Segment) error {
	dir, err := w.sessionDir(sessionID)
	if err != nil {
		return err
	}

	raw, err := json.Marshal(seg)
	if err != nil {
		return fmt.Errorf("failed to serialize segment: %w", err)
	}

	compressed := w.encoder.EncodeAll(raw, nil)

	seg.UncompressedSize = len(raw)
	seg.CompressedSize = len(compressed)
	if len(compressed) > 0 {
		seg.CompressionRatio = float64(len(raw)) / float64(len(compressed))
	}

	path := filepath.Join(dir, fmt.Sprintf("segment_%03d.json.zst", seg.WindowIndex))
	if err := os.WriteFile(path, compressed, 0o644); err != nil {
		return fmt.Errorf("failed to write segment file: %w", err)
	}

	return nil
}

// writeSummary writes the session-level summary metadata.
func (w *segmentWriter) writeSummary(sessionID string, summary Summary) error {
	dir, err := w.sessionDir(sessionID)
	if err != nil {
		return err
	}

	raw, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize summary: %w", err)
	}

	path := filepath.Join(dir, "session.json")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write summary file: %w", err)
	}

	return nil
}

// ReadSegment loads and decompresses one persisted segment, used by tests
// and offline tooling.
func ReadSegment(path string) (*Segment, error) {
	compressed, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read segment file: %w", err)
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create decompressor: %w", err)
	}
	defer decoder.Close()

	raw, err := decoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress segment: %w", err)
	}

	var seg Segment
	if err := json.Unmarshal(raw, &seg); err != nil {
		return nil, fmt.Errorf("failed to parse segment: %w", err)
	}

	return &seg, nil
}
