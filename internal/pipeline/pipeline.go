package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/RomanSlack/Discord-Note-Taker-sub000/internal/audio"
	"github.com/RomanSlack/Discord-Note-Taker-sub000/internal/capture"
	"github.com/RomanSlack/Discord-Note-Taker-sub000/internal/transcribe"
	"github.com/RomanSlack/Discord-Note-Taker-sub000/internal/transcript"
)

// State represents the pipeline lifecycle.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateRunning
	StatePaused
	StateStopping
	StateStopped
	StateError
)

// String returns a human-readable pipeline state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// EventKind identifies a pipeline event.
type EventKind int

const (
	EventStarted EventKind = iota
	EventStopped
	EventPaused
	EventResumed
	EventTranscriptReceived
	EventQualityAlert
	EventAudioProcessed
	EventSegmentCompleted
)

// Event is a pipeline notification for collaborators.
type Event struct {
	Kind      EventKind
	ChannelID string
	Time      time.Time

	// Set per kind
	Result         *transcribe.Result
	Alert          *QualityAlert
	ByteCount      int
	ConvertLatency time.Duration
	SendLatency    time.Duration
	Completed      *transcript.SegmentCompleted
}

// QualityAlert carries breached quality thresholds. It is advisory, not a
// failure.
type QualityAlert struct {
	LossPercent         float64       `json:"loss_percent"`
	SinceLastTranscript time.Duration `json:"since_last_transcript"`
	AvgConfidence       float64       `json:"avg_confidence"`
	Reasons             []string      `json:"reasons"`
}

// Config contains pipeline configuration.
type Config struct {
	QueueCapacity int
	DrainInterval time.Duration
	DrainBatch    int

	// QualityInterval enables the quality monitor when positive.
	QualityInterval    time.Duration
	StalenessThreshold time.Duration
	ConfidenceFloor    float64

	// ConfidenceThreshold filters accepted results a second time beyond the
	// client's own filter.
	ConfidenceThreshold float64

	InputFormat  audio.Format
	OutputFormat audio.Format
	HighQuality  bool
	Normalize    bool
}

// Stats represents live pipeline statistics.
type Stats struct {
	ChannelID           string    `json:"channel_id"`
	State               string    `json:"state"`
	QueueDepth          int       `json:"queue_depth"`
	QueueDrops          uint64    `json:"queue_drops"`
	SegmentsQueued      uint64    `json:"segments_queued"`
	SilentSkipped       uint64    `json:"silent_skipped"`
	ChunksSent          uint64    `json:"chunks_sent"`
	SendFailures        uint64    `json:"send_failures"`
	BytesProcessed      uint64    `json:"bytes_processed"`
	AvgConvertLatencyMs float64   `json:"avg_convert_latency_ms"`
	AvgSendLatencyMs    float64   `json:"avg_send_latency_ms"`
	AvgResultLatencyMs  float64   `json:"avg_result_latency_ms"`
	AvgConfidence       float64   `json:"avg_confidence"`
	TranscriptsAccepted uint64    `json:"transcripts_accepted"`
	TranscriptsFiltered uint64    `json:"transcripts_filtered"`
	LastTranscriptAt    time.Time `json:"last_transcript_at,omitempty"`
}

// queuedChunk is one captured segment awaiting conversion and send.
type queuedChunk struct {
	pcm      []byte
	enqueued time.Time
}

// Pipeline glues capture to the streaming client: captured segments are
// queued under backpressure, drained on a timer through the format
// converter, and streamed out; returned transcripts are filtered and
// forwarded to the transcript session.
type Pipeline struct {
	channelID string
	config    Config
	logger    *slog.Logger

	client    *transcribe.Client
	store     *transcript.Store
	session   *transcript.Session
	converter *audio.Converter

	state State
	queue []queuedChunk

	// Statistics
	queueDrops          uint64
	segmentsQueued      uint64
	silentSkipped       uint64
	chunksSent          uint64
	sendFailures        uint64
	bytesProcessed      uint64
	convertLatencySum   time.Duration
	convertLatencyCount uint64
	sendLatencySum      time.Duration
	sendLatencyCount    uint64
	resultLatencySum    time.Duration
	resultLatencyCount  uint64
	confidenceSum       float64
	transcriptsAccepted uint64
	transcriptsFiltered uint64
	lastTranscript      time.Time

	events chan Event

	ctx           context.Context
	cancel        context.CancelFunc
	group         *errgroup.Group
	completedDone chan struct{}

	mu sync.Mutex
}

// New creates an idle pipeline for one voice channel.
func New(channelID string, config Config, client *transcribe.Client, store *transcript.Store, logger *slog.Logger) (*Pipeline, error) {
	if config.QueueCapacity <= 0 {
		config.QueueCapacity = 1000
	}
	if config.DrainInterval <= 0 {
		config.DrainInterval = 50 * time.Millisecond
	}
	if config.DrainBatch <= 0 {
		config.DrainBatch = 5
	}

	if err := config.InputFormat.Validate(); err != nil {
		return nil, fmt.Errorf("invalid input format: %w", err)
	}
	if err := config.OutputFormat.Validate(); err != nil {
		return nil, fmt.Errorf("invalid output format: %w", err)
	}

	return &Pipeline{
		channelID: channelID,
		config:    config,
		logger:    logger,
		client:    client,
		store:     store,
		state:     StateIdle,
		queue:     make([]queuedChunk, 0, config.QueueCapacity),
		events:    make(chan Event, 256),
	}, nil
}

// Events returns the channel carrying pipeline events for collaborators.
func (p *Pipeline) Events() <-chan Event {
	return p.events
}

// GetState returns the pipeline's current state.
func (p *Pipeline) GetState() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// emitEvent delivers an event without blocking.
func (p *Pipeline) emitEvent(ev Event) {
	ev.ChannelID = p.channelID
	ev.Time = time.Now()
	select {
	case p.events <- ev:
	default:
	}
}

// Start opens the transcript session, connects the streaming client and
// begins the drain, result and quality loops.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.state != StateIdle {
		state := p.state
		p.mu.Unlock()
		return fmt.Errorf("cannot start pipeline while %s", state)
	}
	p.state = StateStarting
	p.mu.Unlock()

	converter, err := audio.NewConverter(audio.ConverterConfig{
		Input:       p.config.InputFormat,
		Output:      p.config.OutputFormat,
		Normalize:   p.config.Normalize,
		HighQuality: p.config.HighQuality,
	})
	if err != nil {
		p.setError()
		return fmt.Errorf("failed to create converter: %w", err)
	}

	session, err := p.store.StartSession(p.channelID)
	if err != nil {
		p.setError()
		return fmt.Errorf("failed to start transcript session: %w", err)
	}

	if err := p.client.Connect(ctx); err != nil {
		// The client keeps reconnecting on its own; the pipeline starts
		// anyway and queues audio until it succeeds or gives up.
		p.logger.Warn("Initial transcription connect failed, relying on reconnect",
			slog.String("channel_id", p.channelID),
			slog.String("error", err.Error()),
		)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	group, groupCtx := errgroup.WithContext(runCtx)
	completedDone := make(chan struct{})

	p.mu.Lock()
	p.converter = converter
	p.session = session
	p.ctx = groupCtx
	p.cancel = cancel
	p.group = group
	p.completedDone = completedDone
	p.state = StateRunning
	p.mu.Unlock()

	group.Go(func() error { return p.drainLoop(groupCtx) })
	group.Go(func() error { return p.resultLoop(groupCtx) })
	if p.config.QualityInterval > 0 {
		group.Go(func() error { return p.qualityLoop(groupCtx) })
	}

	// Runs outside the cancelled group: the segment finalized during stop
	// must still be forwarded, so this loop ends only when the session
	// closes its channel.
	go func() {
		defer close(completedDone)
		p.forwardCompleted(session)
	}()

	p.logger.Info("Pipeline started",
		slog.String("channel_id", p.channelID),
		slog.String("session_id", session.ID),
		slog.Duration("drain_interval", p.config.DrainInterval),
		slog.Int("queue_capacity", p.config.QueueCapacity),
	)

	p.emitEvent(Event{Kind: EventStarted})
	return nil
}

func (p *Pipeline) setError() {
	p.mu.Lock()
	p.state = StateError
	p.mu.Unlock()
}

// ProcessAudioSegment queues a captured segment's audio for conversion and
// send. Never blocks: when the queue is full the oldest entry is dropped and
// counted as loss. Silent segments are skipped.
func (p *Pipeline) ProcessAudioSegment(segment capture.Segment) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StateRunning {
		return
	}

	if segment.Silent {
		p.silentSkipped++
		return
	}

	if len(p.queue) >= p.config.QueueCapacity {
		p.queue = p.queue[1:]
		p.queueDrops++
	}

	p.queue = append(p.queue, queuedChunk{pcm: segment.PCM, enqueued: time.Now()})
	p.segmentsQueued++
}

// ConsumeSegments feeds a capture session's segment channel into the
// pipeline until the channel closes or the pipeline stops.
func (p *Pipeline) ConsumeSegments(segments <-chan capture.Segment) {
	for segment := range segments {
		p.ProcessAudioSegment(segment)
	}
}

// drainLoop pops a small batch per tick, converts and sends it.
func (p *Pipeline) drainLoop(ctx context.Context) error {
	ticker := time.NewTicker(p.config.DrainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.drainBatch()
		}
	}
}

// drainBatch converts and sends up to the configured batch size.
func (p *Pipeline) drainBatch() {
	p.mu.Lock()
	if p.state != StateRunning || len(p.queue) == 0 {
		p.mu.Unlock()
		return
	}

	n := p.config.DrainBatch
	if n > len(p.queue) {
		n = len(p.queue)
	}
	batch := make([]queuedChunk, n)
	copy(batch, p.queue[:n])
	p.queue = p.queue[n:]
	converter := p.converter
	p.mu.Unlock()

	for _, chunk := range batch {
		convertStart := time.Now()

		converted, err := converter.Write(chunk.pcm)
		if err != nil {
			p.logger.Error("Audio conversion failed",
				slog.String("channel_id", p.channelID),
				slog.String("error", err.Error()),
			)
			continue
		}

		tail, err := converter.Flush()
		if err != nil {
			p.logger.Error("Audio conversion flush failed",
				slog.String("channel_id", p.channelID),
				slog.String("error", err.Error()),
			)
			continue
		}
		converted = append(converted, tail...)
		convertLatency := time.Since(convertStart)

		if len(converted) == 0 {
			continue
		}

		p.mu.Lock()
		p.convertLatencySum += convertLatency
		p.convertLatencyCount++
		p.bytesProcessed += uint64(len(converted))
		p.mu.Unlock()

		if p.client.GetState() != transcribe.StateConnected {
			p.mu.Lock()
			p.sendFailures++
			p.mu.Unlock()
			continue
		}

		sendStart := time.Now()
		if err := p.client.SendAudio(converted); err != nil {
			p.mu.Lock()
			p.sendFailures++
			p.mu.Unlock()

			p.logger.Warn("Audio send failed",
				slog.String("channel_id", p.channelID),
				slog.String("error", err.Error()),
			)
			continue
		}
		sendLatency := time.Since(sendStart)

		p.mu.Lock()
		p.sendLatencySum += sendLatency
		p.sendLatencyCount++
		p.chunksSent++
		p.mu.Unlock()

		p.emitEvent(Event{
			Kind:           EventAudioProcessed,
			ByteCount:      len(converted),
			ConvertLatency: convertLatency,
			SendLatency:    sendLatency,
		})
	}
}

// resultLoop consumes transcripts and errors from the streaming client.
func (p *Pipeline) resultLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil

		case result, ok := <-p.client.Results():
			if !ok {
				return nil
			}
			p.handleResult(result)

		case err, ok := <-p.client.Errors():
			if !ok {
				return nil
			}
			p.handleClientError(err)
		}
	}
}

// handleResult applies the pipeline's confidence filter and forwards the
// result to the transcript session.
func (p *Pipeline) handleResult(result transcribe.Result) {
	latency := time.Since(result.ReceivedAt)

	p.mu.Lock()
	p.resultLatencySum += latency
	p.resultLatencyCount++

	if result.Confidence < p.config.ConfidenceThreshold {
		p.transcriptsFiltered++
		p.mu.Unlock()
		return
	}

	p.transcriptsAccepted++
	p.confidenceSum += result.Confidence
	p.lastTranscript = time.Now()
	session := p.session
	p.mu.Unlock()

	if session != nil {
		if err := session.AddTranscript(result); err != nil {
			p.logger.Warn("Transcript ingestion failed",
				slog.String("channel_id", p.channelID),
				slog.String("error", err.Error()),
			)
		}
	}

	r := result
	p.emitEvent(Event{Kind: EventTranscriptReceived, Result: &r})
}

// handleClientError classifies a streaming client error. A terminal client
// state fails the pipeline; anything else is absorbed into statistics.
func (p *Pipeline) handleClientError(err error) {
	if p.client.GetState() != transcribe.StateError {
		p.logger.Warn("Transient transcription error",
			slog.String("channel_id", p.channelID),
			slog.String("error", err.Error()),
		)
		return
	}

	p.logger.Error("Transcription client failed terminally",
		slog.String("channel_id", p.channelID),
		slog.String("error", err.Error()),
	)

	p.mu.Lock()
	alreadyStopping := p.state == StateStopping || p.state == StateStopped
	if !alreadyStopping {
		p.state = StateError
	}
	session := p.session
	p.mu.Unlock()

	// Finalize with whatever was captured rather than discarding it.
	if !alreadyStopping && session != nil {
		p.store.StopSession(p.channelID)
	}
}

// forwardCompleted forwards finalized transcript segments as pipeline
// events until the session closes its channel on stop.
func (p *Pipeline) forwardCompleted(session *transcript.Session) {
	for completed := range session.Completed() {
		c := completed
		p.emitEvent(Event{Kind: EventSegmentCompleted, Completed: &c})
	}
}

// qualityLoop periodically checks loss, staleness and confidence thresholds.
func (p *Pipeline) qualityLoop(ctx context.Context) error {
	ticker := time.NewTicker(p.config.QualityInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.checkQuality()
		}
	}
}

// checkQuality emits a quality alert when any threshold is breached.
func (p *Pipeline) checkQuality() {
	p.mu.Lock()
	if p.state != StateRunning {
		p.mu.Unlock()
		return
	}

	lossPercent := float64(0)
	if p.segmentsQueued > 0 {
		lossPercent = float64(p.queueDrops) / float64(p.segmentsQueued) * 100
	}

	sinceLast := time.Duration(0)
	if !p.lastTranscript.IsZero() {
		sinceLast = time.Since(p.lastTranscript)
	}

	avgConfidence := float64(0)
	if p.transcriptsAccepted > 0 {
		avgConfidence = p.confidenceSum / float64(p.transcriptsAccepted)
	}
	accepted := p.transcriptsAccepted
	p.mu.Unlock()

	reasons := make([]string, 0)
	if lossPercent > 0 {
		reasons = append(reasons, fmt.Sprintf("audio loss %.1f%%", lossPercent))
	}
	if sinceLast > p.config.StalenessThreshold {
		reasons = append(reasons, fmt.Sprintf("no transcripts for %s", sinceLast.Round(time.Second)))
	}
	if accepted > 0 && avgConfidence < p.config.ConfidenceFloor {
		reasons = append(reasons, fmt.Sprintf("avg confidence %.2f below floor %.2f",
			avgConfidence, p.config.ConfidenceFloor))
	}

	if len(reasons) == 0 {
		return
	}

	p.logger.Warn("Transcription quality degraded",
		slog.String("channel_id", p.channelID),
		slog.String("reasons", strings.Join(reasons, "; ")),
	)

	p.emitEvent(Event{Kind: EventQualityAlert, Alert: &QualityAlert{
		LossPercent:         lossPercent,
		SinceLastTranscript: sinceLast,
		AvgConfidence:       avgConfidence,
		Reasons:             reasons,
	}})
}

// Pause suspends queue draining without tearing down the connection or the
// transcript session.
func (p *Pipeline) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StateRunning {
		return
	}

	p.state = StatePaused
	if p.session != nil {
		p.session.Pause()
	}

	p.logger.Info("Pipeline paused", slog.String("channel_id", p.channelID))
	p.emitEvent(Event{Kind: EventPaused})
}

// Resume restarts queue draining after a pause.
func (p *Pipeline) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StatePaused {
		return
	}

	p.state = StateRunning
	if p.session != nil {
		p.session.Resume()
	}

	p.logger.Info("Pipeline resumed", slog.String("channel_id", p.channelID))
	p.emitEvent(Event{Kind: EventResumed})
}

// Stop stops the loops, disconnects the client and finalizes the transcript
// session. Safe to call more than once.
func (p *Pipeline) Stop() (transcript.Summary, error) {
	p.mu.Lock()
	if p.state == StateStopped || p.state == StateStopping {
		session := p.session
		p.mu.Unlock()
		if session != nil {
			return session.GetSummary(), nil
		}
		return transcript.Summary{}, nil
	}

	wasIdle := p.state == StateIdle
	p.state = StateStopping
	cancel := p.cancel
	group := p.group
	p.mu.Unlock()

	if wasIdle {
		p.mu.Lock()
		p.state = StateStopped
		p.mu.Unlock()
		return transcript.Summary{}, nil
	}

	// Push anything still queued before tearing down.
	p.drainRemaining()

	if cancel != nil {
		cancel()
	}
	if group != nil {
		group.Wait()
	}

	if err := p.client.Disconnect(); err != nil {
		p.logger.Warn("Client disconnect failed",
			slog.String("channel_id", p.channelID),
			slog.String("error", err.Error()),
		)
	}

	summary, err := p.store.StopSession(p.channelID)
	if err != nil {
		// The session may already be finalized after a terminal error;
		// its data is still real, so report the summary it holds.
		p.logger.Debug("Transcript session already finalized",
			slog.String("channel_id", p.channelID),
			slog.String("error", err.Error()),
		)
		p.mu.Lock()
		session := p.session
		p.mu.Unlock()
		if session != nil {
			summary = session.GetSummary()
		}
	}

	p.mu.Lock()
	completedDone := p.completedDone
	p.mu.Unlock()

	// Finalizing the session closed its completed channel; wait for the
	// forwarder so the last segment event precedes the stop event.
	if completedDone != nil {
		<-completedDone
	}

	p.mu.Lock()
	p.state = StateStopped
	stats := p.statsLocked()
	p.mu.Unlock()

	p.logger.Info("Pipeline stopped",
		slog.String("channel_id", p.channelID),
		slog.Uint64("segments_queued", stats.SegmentsQueued),
		slog.Uint64("chunks_sent", stats.ChunksSent),
		slog.Uint64("queue_drops", stats.QueueDrops),
		slog.Uint64("transcripts_accepted", stats.TranscriptsAccepted),
		slog.Float64("avg_confidence", stats.AvgConfidence),
	)

	p.emitEvent(Event{Kind: EventStopped})
	return summary, nil
}

// drainRemaining flushes the queue synchronously during stop. The state gate
// in drainBatch is bypassed on purpose: stop must not lose queued audio.
func (p *Pipeline) drainRemaining() {
	for {
		p.mu.Lock()
		if len(p.queue) == 0 {
			p.mu.Unlock()
			return
		}
		p.state = StateRunning
		p.mu.Unlock()

		p.drainBatch()

		p.mu.Lock()
		p.state = StateStopping
		p.mu.Unlock()
	}
}

// GetStats returns a snapshot of pipeline statistics.
func (p *Pipeline) GetStats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.statsLocked()
}

func (p *Pipeline) statsLocked() Stats {
	avg := func(sum time.Duration, count uint64) float64 {
		if count == 0 {
			return 0
		}
		return float64(sum.Milliseconds()) / float64(count)
	}

	avgConfidence := float64(0)
	if p.transcriptsAccepted > 0 {
		avgConfidence = p.confidenceSum / float64(p.transcriptsAccepted)
	}

	return Stats{
		ChannelID:           p.channelID,
		State:               p.state.String(),
		QueueDepth:          len(p.queue),
		QueueDrops:          p.queueDrops,
		SegmentsQueued:      p.segmentsQueued,
		SilentSkipped:       p.silentSkipped,
		ChunksSent:          p.chunksSent,
		SendFailures:        p.sendFailures,
		BytesProcessed:      p.bytesProcessed,
		AvgConvertLatencyMs: avg(p.convertLatencySum, p.convertLatencyCount),
		AvgSendLatencyMs:    avg(p.sendLatencySum, p.sendLatencyCount),
		AvgResultLatencyMs:  avg(p.resultLatencySum, p.resultLatencyCount),
		AvgConfidence:       avgConfidence,
		TranscriptsAccepted: p.transcriptsAccepted,
		TranscriptsFiltered: p.transcriptsFiltered,
		LastTranscriptAt:    p.lastTranscript,
	}
}
