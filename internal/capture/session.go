package capture

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/RomanSlack/Discord-Note-Taker-sub000/internal/audio"
)

// SessionState represents the recording session lifecycle.
type SessionState int

const (
	SessionIdle SessionState = iota
	SessionStarting
	SessionRecording
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
	case SessionRecording:
		return "recording"
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

// EventKind identifies a capture event.
type EventKind int

const (
	EventSpeakerJoined EventKind = iota
	EventSpeakerEvicted
	EventForcedFlush
)

// Event is a capture lifecycle notification for collaborators.
type Event struct {
	Kind        EventKind
	SpeakerID   string
	SpeakerName string
	Time        time.Time
}

// Config contains per-speaker capture configuration.
type Config struct {
	SampleRate        int
	Channels          int
	SilenceTimeout    time.Duration
	MinSpeechDuration time.Duration
	MaxBufferBytes    int

	// SilenceThresholdDB marks segments below this level as silent.
	SilenceThresholdDB float64

	IdleTimeout   time.Duration
	SweepInterval time.Duration

	// ArchiveDir, when set, receives one WAV file per emitted segment.
	ArchiveDir string
}

// SessionStats represents recording session statistics.
type SessionStats struct {
	ChannelID         string        `json:"channel_id"`
	State             string        `json:"state"`
	StartTime         time.Time     `json:"start_time"`
	Duration          time.Duration `json:"duration"`
	TrackCount        int           `json:"track_count"`
	SegmentsEmitted   uint64        `json:"segments_emitted"`
	SegmentsDiscarded uint64        `json:"segments_discarded"`
	ForcedFlushes     uint64        `json:"forced_flushes"`
	BytesCaptured     uint64        `json:"bytes_captured"`
	Tracks            []TrackInfo   `json:"tracks"`
}

// Session records one voice channel: it turns speaker start/stop signals and
// per-speaker PCM chunks into finalized utterance Segments, evicting speakers
// that go quiet for too long.
type Session struct {
	ChannelID string
	StartTime time.Time

	config Config
	logger *slog.Logger

	state  SessionState
	tracks map[string]*SpeakerTrack

	segmentsEmitted   uint64
	segmentsDiscarded uint64
	forcedFlushes     uint64
	bytesCaptured     uint64

	segments       chan Segment
	segmentsClosed bool
	segMu          sync.Mutex
	events         chan Event
	eventsClosed   bool
	evMu           sync.Mutex

	sweepStop chan struct{}
	sweepDone chan struct{}

	mu sync.RWMutex
}

// NewSession creates a recording session for one voice channel and starts
// its idle sweep.
func NewSession(channelID string, config Config, logger *slog.Logger) *Session {
	s := &Session{
		ChannelID: channelID,
		StartTime: time.Now(),
		config:    config,
		logger:    logger,
		state:     SessionRecording,
		tracks:    make(map[string]*SpeakerTrack),
		segments:  make(chan Segment, 64),
		events:    make(chan Event, 64),
		sweepStop: make(chan struct{}),
		sweepDone: make(chan struct{}),
	}

	go s.sweepLoop()

	logger.Info("Recording session started",
		slog.String("channel_id", channelID),
		slog.Int("sample_rate", config.SampleRate),
		slog.Int("channels", config.Channels),
	)

	return s
}

// Segments returns the channel carrying finalized utterance segments.
func (s *Session) Segments() <-chan Segment {
	return s.segments
}

// Events returns the channel carrying capture lifecycle events.
func (s *Session) Events() <-chan Event {
	return s.events
}

// GetState returns the session's current state.
func (s *Session) GetState() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// emitEvent delivers a lifecycle event without blocking. Sends are
// serialized with channel close so late timers cannot hit a closed channel.
func (s *Session) emitEvent(kind EventKind, speakerID, speakerName string) {
	s.evMu.Lock()
	defer s.evMu.Unlock()

	if s.eventsClosed {
		return
	}

	select {
	case s.events <- Event{Kind: kind, SpeakerID: speakerID, SpeakerName: speakerName, Time: time.Now()}:
	default:
	}
}

// SpeakerStarted handles a speaking-start signal from the voice transport.
// It creates the speaker's track on first sight and opens a new utterance,
// force-closing any utterance left open by a missed stop signal.
func (s *Session) SpeakerStarted(speakerID, displayName string) {
	s.mu.Lock()
	if s.state != SessionRecording {
		s.mu.Unlock()
		return
	}

	track, exists := s.tracks[speakerID]
	if !exists {
		track = newSpeakerTrack(speakerID, displayName, s.config.SampleRate, s.config.Channels)
		s.tracks[speakerID] = track
	}
	s.mu.Unlock()

	if !exists {
		s.logger.Info("Speaker joined",
			slog.String("channel_id", s.ChannelID),
			slog.String("speaker_id", speakerID),
			slog.String("speaker_name", displayName),
		)
		s.emitEvent(EventSpeakerJoined, speakerID, displayName)
	}

	track.stopSilenceTimer()
	pcm, start, hadOpen := track.openUtterance()
	if hadOpen {
		s.logger.Warn("Speaker restarted with an open utterance, closing the previous one",
			slog.String("speaker_id", speakerID),
		)
		s.finalizeUtterance(track, pcm, start, time.Now())
	}
}

// PushAudio appends one PCM chunk to the speaker's open utterance, re-arming
// the trailing-silence timer. Chunks for unknown or closed speakers are
// dropped. When the buffer exceeds the byte ceiling the utterance is flushed
// early to bound memory.
func (s *Session) PushAudio(speakerID string, chunk []byte) {
	s.mu.RLock()
	if s.state != SessionRecording {
		s.mu.RUnlock()
		return
	}
	track, exists := s.tracks[speakerID]
	s.mu.RUnlock()

	if !exists {
		return
	}

	buffered, open := track.append(chunk)
	if !open {
		return
	}

	s.mu.Lock()
	s.bytesCaptured += uint64(len(chunk))
	s.mu.Unlock()

	if buffered > s.config.MaxBufferBytes {
		s.logger.Warn("Speaker buffer exceeded ceiling, flushing early",
			slog.String("speaker_id", speakerID),
			slog.Int("buffered_bytes", buffered),
			slog.Int("ceiling", s.config.MaxBufferBytes),
		)

		s.mu.Lock()
		s.forcedFlushes++
		s.mu.Unlock()

		s.emitEvent(EventForcedFlush, track.ID, track.DisplayName)
		s.SpeakerStopped(speakerID)
		return
	}

	track.setSilenceTimer(time.AfterFunc(s.config.SilenceTimeout, func() {
		s.SpeakerStopped(speakerID)
	}))
}

// SpeakerStopped handles a speaking-stop signal: the open utterance, if any,
// is finalized into a Segment. Safe to call for unknown speakers or closed
// utterances.
func (s *Session) SpeakerStopped(speakerID string) {
	s.mu.RLock()
	track, exists := s.tracks[speakerID]
	s.mu.RUnlock()

	if !exists {
		return
	}

	track.stopSilenceTimer()

	pcm, start, open := track.closeUtterance()
	if !open {
		return
	}

	s.finalizeUtterance(track, pcm, start, time.Now())
}

// finalizeUtterance applies the minimum speech duration filter and emits the
// utterance as a Segment.
func (s *Session) finalizeUtterance(track *SpeakerTrack, pcm []byte, start, end time.Time) {
	duration := time.Duration(len(pcm)) * time.Second / time.Duration(track.bytesPerSecond())

	if duration < s.config.MinSpeechDuration {
		s.mu.Lock()
		s.segmentsDiscarded++
		s.mu.Unlock()

		s.logger.Debug("Discarding sub-minimum utterance",
			slog.String("speaker_id", track.ID),
			slog.Duration("duration", duration),
			slog.Duration("minimum", s.config.MinSpeechDuration),
		)
		return
	}

	segment := buildSegment(track, pcm, start, end, s.config.SilenceThresholdDB)
	track.recordUtterance(duration)

	s.mu.Lock()
	s.segmentsEmitted++
	s.mu.Unlock()

	s.logger.Info("Utterance segment emitted",
		slog.String("channel_id", s.ChannelID),
		slog.String("speaker_id", track.ID),
		slog.String("segment_id", segment.ID),
		slog.Duration("duration", duration),
		slog.Float64("level_db", segment.LevelDB),
		slog.Bool("silent", segment.Silent),
	)

	if s.config.ArchiveDir != "" {
		if err := s.archiveSegment(segment); err != nil {
			s.logger.Warn("Segment archival failed",
				slog.String("segment_id", segment.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	s.emitSegment(segment)
}

// emitSegment delivers a segment without blocking. Sends are serialized with
// channel close so a late silence timer cannot hit a closed channel.
func (s *Session) emitSegment(segment Segment) {
	s.segMu.Lock()
	defer s.segMu.Unlock()

	if s.segmentsClosed {
		return
	}

	select {
	case s.segments <- segment:
	default:
		s.logger.Warn("Segment channel full, dropping segment",
			slog.String("segment_id", segment.ID),
			slog.String("speaker_id", segment.SpeakerID),
		)
	}
}

// archiveSegment writes the segment to the archive directory as a WAV file.
func (s *Session) archiveSegment(segment Segment) error {
	dir := filepath.Join(s.config.ArchiveDir, s.ChannelID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create archive directory: %w", err)
	}

	wav, err := audio.EncodeWAV(segment.PCM, segment.SampleRate, segment.Channels)
	if err != nil {
		return fmt.Errorf("failed to encode WAV: %w", err)
	}

	name := fmt.Sprintf("%s_%s_%s.wav",
		segment.StartTime.UTC().Format("20060102T150405"), segment.SpeakerID, segment.ID)

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, wav, 0o644); err != nil {
		return fmt.Errorf("failed to write archive file: %w", err)
	}

	return nil
}

// sweepLoop periodically evicts speaker tracks that have gone idle.
func (s *Session) sweepLoop() {
	defer close(s.sweepDone)

	ticker := time.NewTicker(s.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.sweepStop:
			return
		case <-ticker.C:
			s.evictIdleTracks()
		}
	}
}

// evictIdleTracks removes tracks inactive beyond the idle timeout, flushing
// anything still buffered.
func (s *Session) evictIdleTracks() {
	now := time.Now()

	s.mu.RLock()
	idle := make([]*SpeakerTrack, 0)
	for _, track := range s.tracks {
		if now.Sub(track.idleSince()) > s.config.IdleTimeout {
			idle = append(idle, track)
		}
	}
	s.mu.RUnlock()

	for _, track := range idle {
		s.logger.Info("Evicting idle speaker track",
			slog.String("channel_id", s.ChannelID),
			slog.String("speaker_id", track.ID),
			slog.Duration("idle", now.Sub(track.idleSince())),
		)

		track.stopSilenceTimer()
		if pcm, start, open := track.closeUtterance(); open {
			s.finalizeUtterance(track, pcm, start, now)
		}

		s.mu.Lock()
		delete(s.tracks, track.ID)
		s.mu.Unlock()

		s.emitEvent(EventSpeakerEvicted, track.ID, track.DisplayName)
	}
}

// Pause suspends segment production without tearing down speaker tracks.
func (s *Session) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == SessionRecording {
		s.state = SessionPaused
		s.logger.Info("Recording session paused", slog.String("channel_id", s.ChannelID))
	}
}

// Resume restores segment production after a pause.
func (s *Session) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == SessionPaused {
		s.state = SessionRecording
		s.logger.Info("Recording session resumed", slog.String("channel_id", s.ChannelID))
	}
}

// Stop flushes every open utterance, stops the idle sweep and closes the
// segment channel. Safe to call more than once.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.state == SessionStopped || s.state == SessionStopping {
		s.mu.Unlock()
		return
	}
	s.state = SessionStopping

	tracks := make([]*SpeakerTrack, 0, len(s.tracks))
	for _, track := range s.tracks {
		tracks = append(tracks, track)
	}
	s.mu.Unlock()

	for _, track := range tracks {
		track.stopSilenceTimer()
		if pcm, start, open := track.closeUtterance(); open {
			s.finalizeUtterance(track, pcm, start, time.Now())
		}
	}

	close(s.sweepStop)
	<-s.sweepDone

	s.mu.Lock()
	s.state = SessionStopped
	emitted := s.segmentsEmitted
	discarded := s.segmentsDiscarded
	s.mu.Unlock()

	s.segMu.Lock()
	s.segmentsClosed = true
	close(s.segments)
	s.segMu.Unlock()

	s.evMu.Lock()
	s.eventsClosed = true
	close(s.events)
	s.evMu.Unlock()

	s.logger.Info("Recording session stopped",
		slog.String("channel_id", s.ChannelID),
		slog.Duration("duration", time.Since(s.StartTime)),
		slog.Uint64("segments_emitted", emitted),
		slog.Uint64("segments_discarded", discarded),
	)
}

// GetStats returns a snapshot of session statistics including per-track
// speaking time.
func (s *Session) GetStats() SessionStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tracks := make([]TrackInfo, 0, len(s.tracks))
	for _, track := range s.tracks {
		tracks = append(tracks, track.GetInfo())
	}

	return SessionStats{
		ChannelID:         s.ChannelID,
		State:             s.state.String(),
		StartTime:         s.StartTime,
		Duration:          time.Since(s.StartTime),
		TrackCount:        len(s.tracks),
		SegmentsEmitted:   s.segmentsEmitted,
		SegmentsDiscarded: s.segmentsDiscarded,
		ForcedFlushes:     s.forcedFlushes,
		BytesCaptured:     s.bytesCaptured,
		Tracks:            tracks,
	}
}
