package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/RomanSlack/Discord-Note-Taker-sub000/internal/audio"
	"github.com/RomanSlack/Discord-Note-Taker-sub000/internal/capture"
	"github.com/RomanSlack/Discord-Note-Taker-sub000/internal/config"
	"github.com/RomanSlack/Discord-Note-Taker-sub000/internal/metrics"
	"github.com/RomanSlack/Discord-Note-Taker-sub000/internal/pipeline"
	"github.com/RomanSlack/Discord-Note-Taker-sub000/internal/transcribe"
	"github.com/RomanSlack/Discord-Note-Taker-sub000/internal/transcript"
)

// Service is the composition glue consumed by the external command gateway:
// it starts and stops recordings, wiring capture sessions to pipelines and
// bridging their events into metrics.
type Service struct {
	config  *config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	registry  *capture.Registry
	store     *transcript.Store
	pipelines *pipeline.Set

	gaugeStop chan struct{}
	gaugeDone chan struct{}
	wg        sync.WaitGroup

	// Last-seen per-channel counter values for metrics deltas
	lastDrops     map[string]uint64
	lastDiscarded map[string]uint64

	mu sync.Mutex
}

// counterDelta returns how much a per-channel total advanced since the last
// observation and moves the baseline forward.
func counterDelta(baselines map[string]uint64, channelID string, current uint64) uint64 {
	prev := baselines[channelID]
	baselines[channelID] = current
	if current <= prev {
		return 0
	}
	return current - prev
}

// New creates the service and starts its gauge updater.
func New(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*Service, error) {
	registry := capture.NewRegistry(capture.Config{
		SampleRate:         cfg.Capture.SampleRate,
		Channels:           cfg.Capture.Channels,
		SilenceTimeout:     cfg.Capture.GetSilenceTimeout(),
		MinSpeechDuration:  cfg.Capture.GetMinSpeechDuration(),
		MaxBufferBytes:     cfg.Capture.MaxBufferBytes,
		SilenceThresholdDB: -50,
		IdleTimeout:        cfg.Capture.GetIdleTimeout(),
		SweepInterval:      cfg.Capture.GetSweepInterval(),
		ArchiveDir:         cfg.Capture.ArchiveDir,
	}, logger)

	store, err := transcript.NewStore(transcript.Config{
		StorageDir:         cfg.Transcript.StorageDir,
		SegmentWindow:      cfg.Transcript.GetSegmentWindow(),
		MaxSessionDuration: cfg.Transcript.GetMaxSessionDuration(),
		HourlyRateUSD:      cfg.Transcription.HourlyRateUSD,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create transcript store: %w", err)
	}

	s := &Service{
		config:    cfg,
		logger:    logger,
		metrics:   m,
		registry:  registry,
		store:     store,
		pipelines:     pipeline.NewSet(),
		gaugeStop:     make(chan struct{}),
		gaugeDone:     make(chan struct{}),
		lastDrops:     make(map[string]uint64),
		lastDiscarded: make(map[string]uint64),
	}

	go s.gaugeLoop()
	return s, nil
}

// Registry exposes the capture registry for the monitoring API.
func (s *Service) Registry() *capture.Registry {
	return s.registry
}

// Store exposes the transcript store for the monitoring API.
func (s *Service) Store() *transcript.Store {
	return s.store
}

// Pipelines exposes the pipeline set for the monitoring API.
func (s *Service) Pipelines() *pipeline.Set {
	return s.pipelines
}

// StartRecording opens the full capture-to-transcript chain for a channel.
func (s *Service) StartRecording(ctx context.Context, channelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	client, err := transcribe.NewClient(transcribe.Config{
		Endpoint:             s.config.Transcription.Endpoint,
		APIKey:               s.config.Transcription.APIKey,
		SampleRate:           s.config.Transcription.SampleRate,
		Language:             s.config.Transcription.Language,
		Punctuate:            s.config.Transcription.Punctuate,
		FormatText:           s.config.Transcription.FormatText,
		ConfidenceThreshold:  s.config.Transcription.ConfidenceThreshold,
		ConnectTimeout:       s.config.Transcription.GetConnectTimeout(),
		KeepAliveInterval:    s.config.Transcription.GetKeepAliveInterval(),
		SendInterval:         s.config.Transcription.GetSendInterval(),
		MaxReconnectAttempts: s.config.Transcription.MaxReconnectAttempts,
		ReconnectBaseDelay:   s.config.Transcription.GetReconnectBaseDelay(),
		ReconnectMaxDelay:    s.config.Transcription.GetReconnectMaxDelay(),
	}, s.logger)
	if err != nil {
		return fmt.Errorf("failed to create transcription client: %w", err)
	}

	p, err := pipeline.New(channelID, pipeline.Config{
		QueueCapacity:       s.config.Pipeline.QueueCapacity,
		DrainInterval:       s.config.Pipeline.GetDrainInterval(),
		DrainBatch:          s.config.Pipeline.DrainBatch,
		QualityInterval:     s.config.Pipeline.GetQualityInterval(),
		StalenessThreshold:  s.config.Pipeline.GetStalenessThreshold(),
		ConfidenceFloor:     s.config.Pipeline.ConfidenceFloor,
		ConfidenceThreshold: s.config.Pipeline.ConfidenceThreshold,
		InputFormat: audio.Format{
			SampleRate: s.config.Capture.SampleRate,
			Channels:   s.config.Capture.Channels,
			BitDepth:   s.config.Capture.BitDepth,
		},
		OutputFormat: audio.Format{
			SampleRate: s.config.Transcription.SampleRate,
			Channels:   1,
			BitDepth:   16,
		},
		HighQuality: s.config.Pipeline.HighQualityResample,
		Normalize:   s.config.Pipeline.Normalize,
	}, client, s.store, s.logger)
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}

	if err := s.pipelines.Add(channelID, p); err != nil {
		return err
	}

	captureSession, err := s.registry.StartSession(channelID)
	if err != nil {
		s.pipelines.Remove(channelID)
		return err
	}

	if err := p.Start(ctx); err != nil {
		s.registry.StopSession(channelID)
		s.pipelines.Remove(channelID)
		return err
	}

	s.wg.Add(3)
	go func() {
		defer s.wg.Done()
		s.feedSegments(captureSession, p)
	}()
	go func() {
		defer s.wg.Done()
		s.observeEvents(p)
	}()
	go func() {
		defer s.wg.Done()
		s.observeCapture(captureSession)
	}()

	go s.observeClientState(client)

	s.logger.Info("Recording chain started", slog.String("channel_id", channelID))
	return nil
}

// StopRecording tears the channel's chain down, flushing capture first so
// nothing buffered is lost, and returns the completed transcript summary.
func (s *Service) StopRecording(channelID string) (transcript.Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, exists := s.pipelines.Get(channelID)
	if !exists {
		return transcript.Summary{}, fmt.Errorf("no recording for channel %s", channelID)
	}

	captureSession, hasCapture := s.registry.GetSession(channelID)
	s.registry.StopSession(channelID)

	summary, err := p.Stop()

	// Record the counter movement since the last gauge sweep, then retire
	// the channel's baselines so a future session starts fresh.
	if hasCapture {
		stats := captureSession.GetStats()
		if d := counterDelta(s.lastDiscarded, channelID, stats.SegmentsDiscarded); d > 0 {
			s.metrics.SegmentsDiscarded.Add(float64(d))
		}
	}
	if d := counterDelta(s.lastDrops, channelID, p.GetStats().QueueDrops); d > 0 {
		s.metrics.QueueDrops.Add(float64(d))
	}
	delete(s.lastDiscarded, channelID)
	delete(s.lastDrops, channelID)

	s.pipelines.Remove(channelID)
	if err != nil {
		return summary, err
	}

	s.metrics.AddEstimatedCost(summary.Cost.EstimatedCostUSD)

	s.logger.Info("Recording chain stopped",
		slog.String("channel_id", channelID),
		slog.Int("segments", summary.SegmentCount),
		slog.Float64("estimated_cost_usd", summary.Cost.EstimatedCostUSD),
	)

	return summary, nil
}

// PauseRecording pauses the channel's capture session and pipeline.
func (s *Service) PauseRecording(channelID string) error {
	captureSession, exists := s.registry.GetSession(channelID)
	if !exists {
		return fmt.Errorf("no recording for channel %s", channelID)
	}
	captureSession.Pause()

	if p, ok := s.pipelines.Get(channelID); ok {
		p.Pause()
	}
	return nil
}

// ResumeRecording resumes the channel's capture session and pipeline.
func (s *Service) ResumeRecording(channelID string) error {
	captureSession, exists := s.registry.GetSession(channelID)
	if !exists {
		return fmt.Errorf("no recording for channel %s", channelID)
	}
	captureSession.Resume()

	if p, ok := s.pipelines.Get(channelID); ok {
		p.Resume()
	}
	return nil
}

// feedSegments forwards captured segments into the pipeline, recording
// capture metrics per segment.
func (s *Service) feedSegments(captureSession *capture.Session, p *pipeline.Pipeline) {
	for segment := range captureSession.Segments() {
		s.metrics.RecordSegmentCaptured(segment.Duration.Seconds(), len(segment.PCM))
		p.ProcessAudioSegment(segment)
	}
}

// observeCapture bridges capture lifecycle events into metrics until the
// session closes its event channel on stop.
func (s *Service) observeCapture(captureSession *capture.Session) {
	for ev := range captureSession.Events() {
		if ev.Kind == capture.EventForcedFlush {
			s.metrics.RecordForcedFlush()
		}
	}
}

// observeClientState bridges streaming client state transitions into
// metrics for the lifetime of the process.
func (s *Service) observeClientState(client *transcribe.Client) {
	for {
		select {
		case <-s.gaugeStop:
			return
		case state, ok := <-client.StateChanges():
			if !ok {
				return
			}
			switch state {
			case transcribe.StateReconnecting:
				s.metrics.RecordReconnect()
			case transcribe.StateError:
				s.metrics.RecordConnectionFailure()
			}
		}
	}
}

// observeEvents bridges pipeline events into metrics until the pipeline's
// event channel drains after stop.
func (s *Service) observeEvents(p *pipeline.Pipeline) {
	for ev := range p.Events() {
		switch ev.Kind {
		case pipeline.EventAudioProcessed:
			s.metrics.RecordChunkSent(ev.ByteCount,
				ev.ConvertLatency.Seconds(), ev.SendLatency.Seconds())

		case pipeline.EventTranscriptReceived:
			if ev.Result != nil {
				s.metrics.RecordTranscript(ev.Result.Kind.String(), ev.Result.Confidence,
					time.Since(ev.Result.ReceivedAt).Seconds())
			}

		case pipeline.EventQualityAlert:
			s.metrics.RecordQualityAlert()

		case pipeline.EventSegmentCompleted:
			if ev.Completed != nil && ev.Completed.Segment != nil {
				s.metrics.RecordSegmentRotation(ev.Completed.Segment.CompressionRatio)
			}

		case pipeline.EventStopped:
			return
		}
	}
}

// gaugeLoop refreshes gauge metrics from component statistics.
func (s *Service) gaugeLoop() {
	defer close(s.gaugeDone)

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.gaugeStop:
			return
		case <-ticker.C:
			s.updateGauges()
		}
	}
}

func (s *Service) updateGauges() {
	s.metrics.SetActiveRecordings(s.registry.GetActiveSessionCount())

	// Baselines are tracked per channel so a stopped session does not
	// mask drops from its successor on the same channel.
	s.mu.Lock()
	speakers := 0
	for _, stats := range s.registry.GetAllStats() {
		speakers += stats.TrackCount
		if d := counterDelta(s.lastDiscarded, stats.ChannelID, stats.SegmentsDiscarded); d > 0 {
			s.metrics.SegmentsDiscarded.Add(float64(d))
		}
	}

	depth := 0
	for _, stats := range s.pipelines.AllStats() {
		depth += stats.QueueDepth
		if d := counterDelta(s.lastDrops, stats.ChannelID, stats.QueueDrops); d > 0 {
			s.metrics.QueueDrops.Add(float64(d))
		}
	}
	s.mu.Unlock()

	s.metrics.SetActiveSpeakers(speakers)
	s.metrics.SetQueueDepth(depth)
}

// Shutdown stops every recording chain and the gauge updater.
func (s *Service) Shutdown() {
	s.mu.Lock()
	s.registry.StopAll()
	s.pipelines.StopAll()
	s.store.StopAll()
	s.mu.Unlock()

	s.wg.Wait()

	close(s.gaugeStop)
	<-s.gaugeDone

	s.logger.Info("Service shut down")
}
