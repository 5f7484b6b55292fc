package transcript

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/RomanSlack/Discord-Note-Taker-sub000/internal/transcribe"
)

// SessionState represents the transcript session lifecycle.
type SessionState int

const (
	SessionIdle SessionState = iota
	SessionStarting
	SessionActive
	SessionPaused
	SessionStopping
	SessionStopped
	SessionError
)

// String returns a human-readable session state name.
func (s SessionState) String() string {
	switch s {
	case SessionIdle:
		return "idle"
	case SessionStarting:
		return "starting"
	case SessionActive:
		return "active"
	case SessionPaused:
		return "paused"
	case SessionStopping:
		return "stopping"
	case SessionStopped:
		return "stopped"
	case SessionError:
		return "error"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Segment is one fixed-duration rolling window of a transcript session.
// Immutable once finalized and persisted.
type Segment struct {
	ID          string             `json:"id"`
	SessionID   string             `json:"session_id"`
	WindowIndex int                `json:"window_index"`
	StartTime   time.Time          `json:"start_time"`
	EndTime     time.Time          `json:"end_time,omitempty"`
	Results     []transcribe.Result `json:"results"`

	// Aggregates, derived on finalization
	Words            int     `json:"words"`
	Transcripts      int     `json:"transcripts"`
	AvgConfidence    float64 `json:"avg_confidence"`
	SpeechTimeMs     int64   `json:"speech_time_ms"`
	UncompressedSize int     `json:"uncompressed_size,omitempty"`
	CompressedSize   int     `json:"compressed_size,omitempty"`
	CompressionRatio float64 `json:"compression_ratio,omitempty"`

	confidenceSum float64
}

// CostStats tracks service usage accounting for one session.
type CostStats struct {
	APICalls          uint64  `json:"api_calls"`
	AudioMinutes      float64 `json:"audio_minutes"`
	EstimatedCostUSD  float64 `json:"estimated_cost_usd"`
	HourlyRateUSD     float64 `json:"hourly_rate_usd"`
}

// Summary is the persisted session-level metadata.
type Summary struct {
	ID               string    `json:"id"`
	ChannelID        string    `json:"channel_id"`
	State            string    `json:"state"`
	StartTime        time.Time `json:"start_time"`
	EndTime          time.Time `json:"end_time,omitempty"`
	SegmentCount     int       `json:"segment_count"`
	TotalWords       int       `json:"total_words"`
	TotalTranscripts int       `json:"total_transcripts"`
	AvgConfidence    float64   `json:"avg_confidence"`
	SpeechTimeMs     int64     `json:"speech_time_ms"`
	Cost             CostStats `json:"cost"`

	// Aggregate storage savings across persisted segments
	UncompressedBytes int     `json:"uncompressed_bytes"`
	CompressedBytes   int     `json:"compressed_bytes"`
	CompressionRatio  float64 `json:"compression_ratio"`
}

// SegmentCompleted announces a finalized, persisted segment.
type SegmentCompleted struct {
	SessionID string
	ChannelID string
	Segment   *Segment
}

// Session is one transcription run for a voice channel. It appends incoming
// results to the current window segment and rotates segments on a timer.
type Session struct {
	ID        string
	ChannelID string
	StartTime time.Time

	config Config
	logger *slog.Logger
	writer *segmentWriter

	state     SessionState
	current   *Segment
	finalized []*Segment

	// Session-level aggregates
	totalWords       int
	totalTranscripts int
	confidenceSum    float64
	speechTimeMs     int64
	cost             CostStats

	// Rotation timer state
	rotation       *time.Timer
	windowDeadline time.Time
	pauseRemaining time.Duration

	completed chan SegmentCompleted

	mu sync.Mutex
}

func newSession(channelID string, config Config, logger *slog.Logger) *Session {
	now := time.Now()

	s := &Session{
		ID:        uuid.New().String(),
		ChannelID: channelID,
		StartTime: now,
		config:    config,
		logger:    logger,
		writer:    newSegmentWriter(config.StorageDir),
		state:     SessionActive,
		cost:      CostStats{HourlyRateUSD: config.HourlyRateUSD},
		completed: make(chan SegmentCompleted, 16),
	}

	s.current = s.newSegment(0, now)
	s.armRotationLocked(config.SegmentWindow)
	return s
}

func (s *Session) newSegment(index int, start time.Time) *Segment {
	return &Segment{
		ID:          uuid.New().String(),
		SessionID:   s.ID,
		WindowIndex: index,
		StartTime:   start,
		Results:     make([]transcribe.Result, 0),
	}
}

// Completed returns the channel announcing finalized segments.
func (s *Session) Completed() <-chan SegmentCompleted {
	return s.completed
}

// GetState returns the session's current state.
func (s *Session) GetState() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// armRotationLocked arms the window rotation timer. Caller holds the lock.
func (s *Session) armRotationLocked(d time.Duration) {
	s.windowDeadline = time.Now().Add(d)
	s.rotation = time.AfterFunc(d, s.rotate)
}

// AddTranscript appends a result to the current segment and updates segment
// and session aggregates, including estimated service cost.
func (s *Session) AddTranscript(result transcribe.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != SessionActive && s.state != SessionPaused {
		return fmt.Errorf("session %s is %s, not accepting transcripts", s.ID, s.state)
	}

	seg := s.current
	seg.Results = append(seg.Results, result)
	seg.Transcripts++
	seg.confidenceSum += result.Confidence

	words := countWords(result)
	seg.Words += words

	speechMs := result.AudioEnd - result.AudioStart
	if speechMs > 0 {
		seg.SpeechTimeMs += speechMs
	}

	s.totalTranscripts++
	s.totalWords += words
	s.confidenceSum += result.Confidence
	if speechMs > 0 {
		s.speechTimeMs += speechMs
	}

	s.cost.APICalls++
	if speechMs > 0 {
		hours := float64(speechMs) / 3600000.0
		s.cost.AudioMinutes += hours * 60
		s.cost.EstimatedCostUSD += hours * s.config.HourlyRateUSD
	}

	return nil
}

func countWords(result transcribe.Result) int {
	if len(result.Words) > 0 {
		return len(result.Words)
	}

	n := 0
	inWord := false
	for _, r := range result.Text {
		if r == ' ' || r == '\t' || r == '\n' {
			inWord = false
			continue
		}
		if !inWord {
			n++
			inWord = true
		}
	}
	return n
}

// rotate finalizes the current segment and opens the next window.
func (s *Session) rotate() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != SessionActive {
		return
	}

	now := time.Now()
	s.finalizeCurrentLocked(now)
	s.current = s.newSegment(s.current.WindowIndex+1, now)
	s.armRotationLocked(s.config.SegmentWindow)
}

// finalizeCurrentLocked computes derived metadata, persists the current
// segment and announces it. Caller holds the lock.
func (s *Session) finalizeCurrentLocked(end time.Time) {
	seg := s.current
	seg.EndTime = end
	if seg.Transcripts > 0 {
		seg.AvgConfidence = seg.confidenceSum / float64(seg.Transcripts)
	}

	if err := s.writer.writeSegment(s.ID, seg); err != nil {
		s.logger.Error("Segment persistence failed",
			slog.String("session_id", s.ID),
			slog.Int("window_index", seg.WindowIndex),
			slog.String("error", err.Error()),
		)
	} else {
		s.logger.Info("Transcript segment persisted",
			slog.String("session_id", s.ID),
			slog.Int("window_index", seg.WindowIndex),
			slog.Int("transcripts", seg.Transcripts),
			slog.Int("words", seg.Words),
			slog.Float64("compression_ratio", seg.CompressionRatio),
		)
	}

	s.finalized = append(s.finalized, seg)

	select {
	case s.completed <- SegmentCompleted{SessionID: s.ID, ChannelID: s.ChannelID, Segment: seg}:
	default:
		s.logger.Warn("Completed-segment channel full, dropping notification",
			slog.String("session_id", s.ID),
			slog.Int("window_index", seg.WindowIndex),
		)
	}
}

// Pause suspends the rotation timer. Already-finalized segments are
// unaffected and transcripts continue to accumulate.
func (s *Session) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != SessionActive {
		return
	}

	s.state = SessionPaused
	if s.rotation != nil {
		s.rotation.Stop()
	}
	s.pauseRemaining = time.Until(s.windowDeadline)
	if s.pauseRemaining < 0 {
		s.pauseRemaining = 0
	}

	s.logger.Info("Transcript session paused", slog.String("session_id", s.ID))
}

// Resume re-arms the rotation timer with the window time left at pause.
func (s *Session) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != SessionPaused {
		return
	}

	s.state = SessionActive
	remaining := s.pauseRemaining
	if remaining <= 0 {
		remaining = time.Millisecond
	}
	s.armRotationLocked(remaining)

	s.logger.Info("Transcript session resumed",
		slog.String("session_id", s.ID),
		slog.Duration("window_remaining", remaining),
	)
}

// Stop cancels the rotation timer, finalizes and persists the current
// segment and the session summary, and returns the summary. Safe to call
// more than once.
func (s *Session) Stop() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == SessionStopped {
		return s.summaryLocked()
	}

	s.state = SessionStopping
	if s.rotation != nil {
		s.rotation.Stop()
		s.rotation = nil
	}

	s.finalizeCurrentLocked(time.Now())
	s.state = SessionStopped

	summary := s.summaryLocked()
	if err := s.writer.writeSummary(s.ID, summary); err != nil {
		s.logger.Error("Session summary persistence failed",
			slog.String("session_id", s.ID),
			slog.String("error", err.Error()),
		)
	}

	close(s.completed)

	s.logger.Info("Transcript session stopped",
		slog.String("session_id", s.ID),
		slog.Int("segments", len(s.finalized)),
		slog.Int("total_words", s.totalWords),
		slog.Float64("estimated_cost_usd", s.cost.EstimatedCostUSD),
	)

	return summary
}

// summaryLocked builds the session summary. Caller holds the lock.
func (s *Session) summaryLocked() Summary {
	avgConfidence := float64(0)
	if s.totalTranscripts > 0 {
		avgConfidence = s.confidenceSum / float64(s.totalTranscripts)
	}

	uncompressed, compressed := 0, 0
	for _, seg := range s.finalized {
		uncompressed += seg.UncompressedSize
		compressed += seg.CompressedSize
	}
	ratio := float64(0)
	if compressed > 0 {
		ratio = float64(uncompressed) / float64(compressed)
	}

	endTime := time.Time{}
	if s.state == SessionStopped || s.state == SessionStopping {
		endTime = time.Now()
	}

	return Summary{
		ID:                s.ID,
		ChannelID:         s.ChannelID,
		State:             s.state.String(),
		StartTime:         s.StartTime,
		EndTime:           endTime,
		SegmentCount:      len(s.finalized),
		TotalWords:        s.totalWords,
		TotalTranscripts:  s.totalTranscripts,
		AvgConfidence:     avgConfidence,
		SpeechTimeMs:      s.speechTimeMs,
		Cost:              s.cost,
		UncompressedBytes: uncompressed,
		CompressedBytes:   compressed,
		CompressionRatio:  ratio,
	}
}

// GetSummary returns a live snapshot of the session's aggregates.
func (s *Session) GetSummary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summaryLocked()
}

// SegmentCount returns the number of finalized segments.
func (s *Session) SegmentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.finalized)
}
