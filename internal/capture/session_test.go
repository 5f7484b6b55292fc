package capture

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testCaptureConfig() Config {
	return Config{
		SampleRate:         48000,
		Channels:           2,
		SilenceTimeout:     50 * time.Millisecond,
		MinSpeechDuration:  250 * time.Millisecond,
		MaxBufferBytes:     1 << 20,
		SilenceThresholdDB: -50,
		IdleTimeout:        10 * time.Minute,
		SweepInterval:      time.Hour,
	}
}

// pcmOfDuration builds non-silent 48kHz stereo PCM of the given duration.
func pcmOfDuration(d time.Duration) []byte {
	bytes := int(d) * 48000 * 2 * 2 / int(time.Second)
	bytes -= bytes % 4
	data := make([]byte, bytes)
	for i := 0; i < len(data); i += 2 {
		data[i] = 0x00
		data[i+1] = 0x20 // 8192, about -12 dBFS
	}
	return data
}

func TestSegmentEmission(t *testing.T) {
	session := NewSession("chan-1", testCaptureConfig(), testLogger())
	defer session.Stop()

	session.SpeakerStarted("user-1", "Alice")
	session.PushAudio("user-1", pcmOfDuration(500*time.Millisecond))
	session.SpeakerStopped("user-1")

	select {
	case seg := <-session.Segments():
		if seg.SpeakerID != "user-1" || seg.SpeakerName != "Alice" {
			t.Errorf("Unexpected speaker identity: %s/%s", seg.SpeakerID, seg.SpeakerName)
		}
		if seg.SampleRate != 48000 || seg.Channels != 2 {
			t.Errorf("Unexpected format: %dHz %dch", seg.SampleRate, seg.Channels)
		}
		if len(seg.PCM) == 0 {
			t.Error("Segment has no audio")
		}
		if seg.Silent {
			t.Errorf("Non-silent audio flagged silent at %f dB", seg.LevelDB)
		}
		if seg.ID == "" {
			t.Error("Segment has no id")
		}
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for segment")
	}
}

func TestMinimumSpeechDuration(t *testing.T) {
	session := NewSession("chan-1", testCaptureConfig(), testLogger())
	defer session.Stop()

	session.SpeakerStarted("user-1", "Alice")
	session.PushAudio("user-1", pcmOfDuration(100*time.Millisecond))
	session.SpeakerStopped("user-1")

	select {
	case seg := <-session.Segments():
		t.Errorf("Expected no segment for 100ms utterance, got %v", seg.Duration)
	case <-time.After(100 * time.Millisecond):
	}

	if stats := session.GetStats(); stats.SegmentsDiscarded != 1 {
		t.Errorf("Expected 1 discarded segment, got %d", stats.SegmentsDiscarded)
	}
}

func TestSilenceTimeoutClosesUtterance(t *testing.T) {
	session := NewSession("chan-1", testCaptureConfig(), testLogger())
	defer session.Stop()

	session.SpeakerStarted("user-1", "Alice")
	session.PushAudio("user-1", pcmOfDuration(500*time.Millisecond))

	// No explicit stop signal: the trailing-silence timer must finalize.
	select {
	case seg := <-session.Segments():
		if seg.SpeakerID != "user-1" {
			t.Errorf("Unexpected speaker: %s", seg.SpeakerID)
		}
	case <-time.After(time.Second):
		t.Fatal("Silence timeout never finalized the utterance")
	}
}

func TestBufferCeilingForcesFlush(t *testing.T) {
	cfg := testCaptureConfig()
	cfg.MaxBufferBytes = 200000 // ~1s of 48kHz stereo
	session := NewSession("chan-1", cfg, testLogger())
	defer session.Stop()

	session.SpeakerStarted("user-1", "Alice")
	session.PushAudio("user-1", pcmOfDuration(600*time.Millisecond))
	session.PushAudio("user-1", pcmOfDuration(600*time.Millisecond))

	select {
	case <-session.Segments():
	case <-time.After(time.Second):
		t.Fatal("Ceiling overflow never flushed a segment")
	}

	if stats := session.GetStats(); stats.ForcedFlushes != 1 {
		t.Errorf("Expected 1 forced flush, got %d", stats.ForcedFlushes)
	}
}

func TestSpeakerRestartClosesPriorUtterance(t *testing.T) {
	session := NewSession("chan-1", testCaptureConfig(), testLogger())
	defer session.Stop()

	session.SpeakerStarted("user-1", "Alice")
	session.PushAudio("user-1", pcmOfDuration(500*time.Millisecond))

	// A second start without a stop must close the first utterance.
	session.SpeakerStarted("user-1", "Alice")

	select {
	case <-session.Segments():
	case <-time.After(time.Second):
		t.Fatal("Restart never closed the prior utterance")
	}
}

func TestStopFlushesOpenUtterances(t *testing.T) {
	session := NewSession("chan-1", testCaptureConfig(), testLogger())

	session.SpeakerStarted("user-1", "Alice")
	session.PushAudio("user-1", pcmOfDuration(500*time.Millisecond))

	session.Stop()
	session.Stop() // idempotent

	if session.GetState() != SessionStopped {
		t.Errorf("Expected stopped state, got %s", session.GetState())
	}

	found := false
	for seg := range session.Segments() {
		if seg.SpeakerID == "user-1" {
			found = true
		}
	}
	if !found {
		t.Error("Stop did not flush the open utterance")
	}
}

func TestPauseDropsAudio(t *testing.T) {
	session := NewSession("chan-1", testCaptureConfig(), testLogger())
	defer session.Stop()

	session.SpeakerStarted("user-1", "Alice")
	session.Pause()

	session.PushAudio("user-1", pcmOfDuration(500*time.Millisecond))
	if stats := session.GetStats(); stats.BytesCaptured != 0 {
		t.Errorf("Expected no bytes captured while paused, got %d", stats.BytesCaptured)
	}

	session.Resume()
	session.PushAudio("user-1", pcmOfDuration(500*time.Millisecond))
	if stats := session.GetStats(); stats.BytesCaptured == 0 {
		t.Error("Expected bytes captured after resume")
	}
}

func TestSpeakerJoinedEvent(t *testing.T) {
	session := NewSession("chan-1", testCaptureConfig(), testLogger())
	defer session.Stop()

	session.SpeakerStarted("user-1", "Alice")

	select {
	case ev := <-session.Events():
		if ev.Kind != EventSpeakerJoined || ev.SpeakerID != "user-1" {
			t.Errorf("Unexpected event: %+v", ev)
		}
	default:
		t.Error("Expected a speaker-joined event")
	}

	// Second start for the same speaker must not re-announce.
	session.SpeakerStarted("user-1", "Alice")
	select {
	case ev := <-session.Events():
		t.Errorf("Unexpected second event: %+v", ev)
	default:
	}
}

func TestIdleEviction(t *testing.T) {
	cfg := testCaptureConfig()
	cfg.IdleTimeout = 50 * time.Millisecond
	cfg.SweepInterval = 20 * time.Millisecond
	session := NewSession("chan-1", cfg, testLogger())
	defer session.Stop()

	session.SpeakerStarted("user-1", "Alice")
	<-session.Events() // joined

	deadline := time.Now().Add(time.Second)
	for session.GetStats().TrackCount > 0 {
		if time.Now().After(deadline) {
			t.Fatal("Idle track never evicted")
		}
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case ev := <-session.Events():
		if ev.Kind != EventSpeakerEvicted {
			t.Errorf("Expected eviction event, got %+v", ev)
		}
	default:
		t.Error("Expected an eviction event")
	}
}

func TestWAVArchival(t *testing.T) {
	cfg := testCaptureConfig()
	cfg.ArchiveDir = t.TempDir()
	session := NewSession("chan-1", cfg, testLogger())
	defer session.Stop()

	session.SpeakerStarted("user-1", "Alice")
	session.PushAudio("user-1", pcmOfDuration(500*time.Millisecond))
	session.SpeakerStopped("user-1")
	<-session.Segments()

	entries, err := os.ReadDir(filepath.Join(cfg.ArchiveDir, "chan-1"))
	if err != nil {
		t.Fatalf("Archive directory missing: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("Expected 1 archived file, got %d", len(entries))
	}
	if !strings.HasSuffix(entries[0].Name(), ".wav") {
		t.Errorf("Expected a .wav file, got %s", entries[0].Name())
	}
}

func TestRegistrySingleSessionPerChannel(t *testing.T) {
	registry := NewRegistry(testCaptureConfig(), testLogger())

	session, err := registry.StartSession("chan-1")
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	if _, err := registry.StartSession("chan-1"); err == nil {
		t.Error("Expected error starting a second session for the same channel")
	}

	if _, err := registry.StartSession("chan-2"); err != nil {
		t.Errorf("Unexpected error for a different channel: %v", err)
	}

	if got := registry.GetActiveSessionCount(); got != 2 {
		t.Errorf("Expected 2 sessions, got %d", got)
	}

	session.Stop()
	if _, err := registry.StartSession("chan-1"); err != nil {
		t.Errorf("Expected restart after stop to succeed: %v", err)
	}

	registry.StopAll()
	if got := registry.GetActiveSessionCount(); got != 0 {
		t.Errorf("Expected 0 sessions after StopAll, got %d", got)
	}
}

func TestRegistryStopSession(t *testing.T) {
	registry := NewRegistry(testCaptureConfig(), testLogger())

	if registry.StopSession("missing") {
		t.Error("Expected StopSession on unknown channel to return false")
	}

	if _, err := registry.StartSession("chan-1"); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	if !registry.StopSession("chan-1") {
		t.Error("Expected StopSession to return true")
	}
	if _, exists := registry.GetSession("chan-1"); exists {
		t.Error("Expected session to be removed")
	}
}
