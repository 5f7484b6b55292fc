package capture

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/RomanSlack/Discord-Note-Taker-sub000/internal/audio"
)

// Segment is one speaker's contiguous utterance, bounded by silence on both
// ends, ready for transcription.
type Segment struct {
	ID          string        `json:"id"`
	SpeakerID   string        `json:"speaker_id"`
	SpeakerName string        `json:"speaker_name"`
	PCM         []byte        `json:"-"`
	StartTime   time.Time     `json:"start_time"`
	EndTime     time.Time     `json:"end_time"`
	Duration    time.Duration `json:"duration"`
	SampleRate  int           `json:"sample_rate"`
	Channels    int           `json:"channels"`
	LevelDB     float64       `json:"level_db"`
	Silent      bool          `json:"silent"`
}

// SpeakerTrack holds per-speaker capture state for one session. A track is
// created on the speaker's first speaking-start event and torn down on
// session stop or prolonged inactivity.
type SpeakerTrack struct {
	ID          string
	DisplayName string

	sampleRate int
	channels   int

	// Open utterance state
	open           bool
	buffer         []byte
	utteranceStart time.Time
	silenceTimer   *time.Timer

	// Activity tracking
	createdAt        time.Time
	lastActivity     time.Time
	speakingDuration time.Duration
	samplesCaptured  uint64
	utterances       uint64

	mu sync.Mutex
}

// TrackInfo represents per-speaker statistics for monitoring APIs.
type TrackInfo struct {
	SpeakerID        string        `json:"speaker_id"`
	DisplayName      string        `json:"display_name"`
	Open             bool          `json:"open"`
	BufferedBytes    int           `json:"buffered_bytes"`
	CreatedAt        time.Time     `json:"created_at"`
	LastActivity     time.Time     `json:"last_activity"`
	SpeakingDuration time.Duration `json:"speaking_duration"`
	SamplesCaptured  uint64        `json:"samples_captured"`
	Utterances       uint64        `json:"utterances"`
}

func newSpeakerTrack(id, displayName string, sampleRate, channels int) *SpeakerTrack {
	now := time.Now()
	return &SpeakerTrack{
		ID:           id,
		DisplayName:  displayName,
		sampleRate:   sampleRate,
		channels:     channels,
		createdAt:    now,
		lastActivity: now,
	}
}

// bytesPerSecond returns the PCM byte rate for this track's format.
func (t *SpeakerTrack) bytesPerSecond() int {
	return t.sampleRate * t.channels * 2
}

// openUtterance begins accumulating a new utterance. If one is already open
// it is closed first, so a speaker never has two open subscriptions.
func (t *SpeakerTrack) openUtterance() (pcm []byte, start time.Time, hadOpen bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.open {
		pcm = t.buffer
		start = t.utteranceStart
		hadOpen = true
	}

	t.open = true
	t.buffer = nil
	t.utteranceStart = time.Now()
	t.lastActivity = t.utteranceStart
	return pcm, start, hadOpen
}

// append adds one audio chunk to the open utterance buffer. It reports the
// buffered size so the caller can enforce the byte ceiling.
func (t *SpeakerTrack) append(chunk []byte) (buffered int, open bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.open {
		return 0, false
	}

	t.buffer = append(t.buffer, chunk...)
	t.samplesCaptured += uint64(len(chunk) / 2)
	t.lastActivity = time.Now()
	return len(t.buffer), true
}

// closeUtterance ends the open utterance and returns its accumulated PCM and
// start time. Returns open=false if no utterance was open.
func (t *SpeakerTrack) closeUtterance() (pcm []byte, start time.Time, open bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.open {
		return nil, time.Time{}, false
	}

	pcm = t.buffer
	start = t.utteranceStart
	t.open = false
	t.buffer = nil
	t.lastActivity = time.Now()
	return pcm, start, true
}

// recordUtterance updates the track's cumulative speaking statistics.
func (t *SpeakerTrack) recordUtterance(duration time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.utterances++
	t.speakingDuration += duration
}

// idleSince returns the track's last activity time.
func (t *SpeakerTrack) idleSince() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastActivity
}

// setSilenceTimer replaces the trailing-silence timer, stopping any previous
// one.
func (t *SpeakerTrack) setSilenceTimer(timer *time.Timer) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.silenceTimer != nil {
		t.silenceTimer.Stop()
	}
	t.silenceTimer = timer
}

// stopSilenceTimer cancels the trailing-silence timer if armed.
func (t *SpeakerTrack) stopSilenceTimer() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.silenceTimer != nil {
		t.silenceTimer.Stop()
		t.silenceTimer = nil
	}
}

// GetInfo returns a snapshot of the track's statistics.
func (t *SpeakerTrack) GetInfo() TrackInfo {
	t.mu.Lock()
	defer t.mu.Unlock()

	return TrackInfo{
		SpeakerID:        t.ID,
		DisplayName:      t.DisplayName,
		Open:             t.open,
		BufferedBytes:    len(t.buffer),
		CreatedAt:        t.createdAt,
		LastActivity:     t.lastActivity,
		SpeakingDuration: t.speakingDuration,
		SamplesCaptured:  t.samplesCaptured,
		Utterances:       t.utterances,
	}
}

// buildSegment materializes an utterance into a Segment with computed level
// and silence flag.
func buildSegment(track *SpeakerTrack, pcm []byte, start, end time.Time, silenceThresholdDB float64) Segment {
	level := audio.ComputeLevelDB(pcm)

	return Segment{
		ID:          uuid.New().String(),
		SpeakerID:   track.ID,
		SpeakerName: track.DisplayName,
		PCM:         pcm,
		StartTime:   start,
		EndTime:     end,
		Duration:    end.Sub(start),
		SampleRate:  track.sampleRate,
		Channels:    track.channels,
		LevelDB:     level,
		Silent:      level < silenceThresholdDB,
	}
}
