package transcript

import (
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/RomanSlack/Discord-Note-Taker-sub000/internal/transcribe"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testStoreConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		StorageDir:         t.TempDir(),
		SegmentWindow:      5 * time.Minute,
		MaxSessionDuration: 8 * time.Hour,
		HourlyRateUSD:      0.47,
	}
}

func finalResult(start, end int64, text string, confidence float64) transcribe.Result {
	return transcribe.Result{
		Kind:       transcribe.ResultFinal,
		AudioStart: start,
		AudioEnd:   end,
		Confidence: confidence,
		Text:       text,
		ReceivedAt: time.Now(),
	}
}

func TestStoreValidation(t *testing.T) {
	if _, err := NewStore(Config{}, testLogger()); err == nil {
		t.Error("Expected error for empty storage dir")
	}

	cfg := testStoreConfig(t)
	cfg.MaxSessionDuration = time.Minute
	if _, err := NewStore(cfg, testLogger()); err == nil {
		t.Error("Expected error for max duration below segment window")
	}
}

func TestSingleSessionPerChannel(t *testing.T) {
	store, err := NewStore(testStoreConfig(t), testLogger())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	if _, err := store.StartSession("chan-1"); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	if _, err := store.StartSession("chan-1"); err == nil {
		t.Error("Expected error starting a second session for the same channel")
	}

	if _, err := store.StopSession("chan-1"); err != nil {
		t.Errorf("StopSession failed: %v", err)
	}

	if _, err := store.StartSession("chan-1"); err != nil {
		t.Errorf("Expected restart after stop to succeed: %v", err)
	}

	store.StopAll()
}

func TestCostAccounting(t *testing.T) {
	store, err := NewStore(testStoreConfig(t), testLogger())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	session, err := store.StartSession("chan-1")
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	// 90 seconds of audio across two results.
	session.AddTranscript(finalResult(0, 60000, "first minute of speech", 0.9))
	session.AddTranscript(finalResult(60000, 90000, "thirty more seconds", 0.8))

	summary := session.GetSummary()
	if summary.Cost.APICalls != 2 {
		t.Errorf("Expected 2 API calls, got %d", summary.Cost.APICalls)
	}
	if math.Abs(summary.Cost.AudioMinutes-1.5) > 1e-9 {
		t.Errorf("Expected 1.5 audio minutes, got %f", summary.Cost.AudioMinutes)
	}
	wantCost := 90000.0 / 3600000.0 * 0.47
	if math.Abs(summary.Cost.EstimatedCostUSD-wantCost) > 1e-9 {
		t.Errorf("Expected cost %f, got %f", wantCost, summary.Cost.EstimatedCostUSD)
	}
	if summary.TotalWords != 7 {
		t.Errorf("Expected 7 words, got %d", summary.TotalWords)
	}
	if math.Abs(summary.AvgConfidence-0.85) > 1e-9 {
		t.Errorf("Expected avg confidence 0.85, got %f", summary.AvgConfidence)
	}
}

func TestSegmentRotation(t *testing.T) {
	cfg := testStoreConfig(t)
	cfg.SegmentWindow = 300 * time.Millisecond
	cfg.MaxSessionDuration = time.Hour

	store, err := NewStore(cfg, testLogger())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	session, err := store.StartSession("chan-1")
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	stop := time.After(1050 * time.Millisecond)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()

	offset := int64(0)
loop:
	for {
		select {
		case <-stop:
			break loop
		case <-tick.C:
			session.AddTranscript(finalResult(offset, offset+100, "tick", 0.9))
			offset += 100
		}
	}

	summary, err := store.StopSession("chan-1")
	if err != nil {
		t.Fatalf("StopSession failed: %v", err)
	}

	// Three full windows plus the partial final one.
	if summary.SegmentCount != 4 {
		t.Fatalf("Expected 4 segments, got %d", summary.SegmentCount)
	}

	completed := make([]*Segment, 0, 4)
	for ev := range session.Completed() {
		completed = append(completed, ev.Segment)
	}
	if len(completed) != 4 {
		t.Fatalf("Expected 4 completed events, got %d", len(completed))
	}

	for i, seg := range completed {
		if seg.WindowIndex != i {
			t.Errorf("Expected window index %d, got %d", i, seg.WindowIndex)
		}
		if i > 0 && seg.StartTime.Before(completed[i-1].EndTime) {
			t.Errorf("Segment %d overlaps its predecessor", i)
		}
	}
}

func TestSegmentPersistence(t *testing.T) {
	cfg := testStoreConfig(t)
	store, err := NewStore(cfg, testLogger())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	session, err := store.StartSession("chan-1")
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	session.AddTranscript(finalResult(0, 5000, "persisted transcript text", 0.9))
	summary, err := store.StopSession("chan-1")
	if err != nil {
		t.Fatalf("StopSession failed: %v", err)
	}

	dir := filepath.Join(cfg.StorageDir, session.ID)

	seg, err := ReadSegment(filepath.Join(dir, "segment_000.json.zst"))
	if err != nil {
		t.Fatalf("ReadSegment failed: %v", err)
	}
	if len(seg.Results) != 1 || seg.Results[0].Text != "persisted transcript text" {
		t.Errorf("Unexpected persisted results: %+v", seg.Results)
	}
	if seg.Words != 3 {
		t.Errorf("Expected 3 words, got %d", seg.Words)
	}

	if _, err := os.Stat(filepath.Join(dir, "session.json")); err != nil {
		t.Errorf("Session summary missing: %v", err)
	}

	if summary.CompressedBytes <= 0 || summary.UncompressedBytes <= 0 {
		t.Errorf("Expected recorded sizes, got %d/%d",
			summary.UncompressedBytes, summary.CompressedBytes)
	}
	if summary.CompressionRatio <= 0 {
		t.Errorf("Expected positive compression ratio, got %f", summary.CompressionRatio)
	}
}

func TestIdempotentStop(t *testing.T) {
	cfg := testStoreConfig(t)
	store, err := NewStore(cfg, testLogger())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	session, err := store.StartSession("chan-1")
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	session.AddTranscript(finalResult(0, 1000, "one", 0.9))

	first := session.Stop()
	second := session.Stop()

	if first.SegmentCount != second.SegmentCount {
		t.Errorf("Second stop changed segment count: %d vs %d",
			first.SegmentCount, second.SegmentCount)
	}

	entries, err := os.ReadDir(filepath.Join(cfg.StorageDir, session.ID))
	if err != nil {
		t.Fatalf("Reading session dir failed: %v", err)
	}
	// One segment file plus the summary, no duplicates.
	if len(entries) != 2 {
		t.Errorf("Expected 2 files, got %d", len(entries))
	}
}

func TestPauseSuspendsRotation(t *testing.T) {
	cfg := testStoreConfig(t)
	cfg.SegmentWindow = 100 * time.Millisecond
	cfg.MaxSessionDuration = time.Hour

	store, err := NewStore(cfg, testLogger())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	session, err := store.StartSession("chan-1")
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	session.Pause()
	time.Sleep(300 * time.Millisecond)

	if got := session.SegmentCount(); got != 0 {
		t.Errorf("Expected no rotations while paused, got %d", got)
	}

	// Transcripts still accumulate while paused.
	if err := session.AddTranscript(finalResult(0, 1000, "paused speech", 0.9)); err != nil {
		t.Errorf("AddTranscript while paused failed: %v", err)
	}

	session.Resume()
	deadline := time.Now().Add(time.Second)
	for session.SegmentCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Rotation never resumed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	session.Stop()
}

func TestExpiredSessions(t *testing.T) {
	cfg := testStoreConfig(t)
	cfg.SegmentWindow = 10 * time.Millisecond
	cfg.MaxSessionDuration = 20 * time.Millisecond

	store, err := NewStore(cfg, testLogger())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	session, err := store.StartSession("chan-1")
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	if got := store.Expired(); len(got) != 0 {
		t.Errorf("Expected no expired sessions yet, got %d", len(got))
	}

	time.Sleep(50 * time.Millisecond)

	expired := store.Expired()
	if len(expired) != 1 || expired[0].ID != session.ID {
		t.Errorf("Expected the session to be expired, got %d", len(expired))
	}

	store.StopAll()
}

func TestAddTranscriptAfterStop(t *testing.T) {
	store, err := NewStore(testStoreConfig(t), testLogger())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	session, err := store.StartSession("chan-1")
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	session.Stop()

	if err := session.AddTranscript(finalResult(0, 1000, "late", 0.9)); err == nil {
		t.Error("Expected error adding transcript to a stopped session")
	}
}
