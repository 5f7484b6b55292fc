package transcribe

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/RomanSlack/Discord-Note-Taker-sub000/internal/protocol"
)

// State represents the connection state of the streaming client.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateError
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// ResultKind distinguishes partial from final transcripts.
type ResultKind int

const (
	ResultPartial ResultKind = iota
	ResultFinal
)

// String returns a human-readable result kind.
func (k ResultKind) String() string {
	if k == ResultFinal {
		return "final"
	}
	return "partial"
}

// Result is one partial-or-final utterance received from the service.
type Result struct {
	Kind       ResultKind      `json:"kind"`
	AudioStart int64           `json:"audio_start"` // ms offset into the audio stream
	AudioEnd   int64           `json:"audio_end"`
	Confidence float64         `json:"confidence"`
	Text       string          `json:"text"`
	Words      []protocol.Word `json:"words,omitempty"`
	ReceivedAt time.Time       `json:"received_at"`
}

// Config contains streaming client configuration.
type Config struct {
	Endpoint   string
	APIKey     string
	SampleRate int
	Language   string
	Punctuate  bool
	FormatText bool

	// ConfidenceThreshold drops transcripts below this confidence.
	ConfidenceThreshold float64

	ConnectTimeout    time.Duration
	KeepAliveInterval time.Duration

	// SendInterval is the minimum delay between consecutive audio sends.
	SendInterval time.Duration

	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
}

// ClientStats represents live client statistics.
type ClientStats struct {
	State             string  `json:"state"`
	SessionID         string  `json:"session_id,omitempty"`
	BytesSent         uint64  `json:"bytes_sent"`
	Transcripts       uint64  `json:"transcripts_received"`
	Errors            uint64  `json:"errors"`
	AvgConfidence     float64 `json:"avg_confidence"`
	ReconnectAttempts int     `json:"reconnect_attempts"`
}

// Client is a streaming transcription protocol client. It maintains a
// persistent WebSocket to the service, streams audio under a rate limit,
// emits transcripts on a typed channel, and reconnects with exponential
// backoff on unintended disconnects.
type Client struct {
	config Config
	logger *slog.Logger

	// Connection state
	state       State
	conn        *websocket.Conn
	sessionID   string
	intentional bool

	// Reconnection tracking
	reconnectAttempts int
	reconnectTimer    *time.Timer

	// Rate limiting
	lastSend time.Time
	sendMu   sync.Mutex

	// Statistics
	bytesSent       uint64
	transcripts     uint64
	errorCount      uint64
	confidenceSum   float64
	confidenceCount uint64

	// Outbound event channels, owned by the client
	results chan Result
	errs    chan error
	states  chan State

	keepAliveStop chan struct{}

	mu sync.Mutex
}

// NewClient creates a streaming transcription client.
func NewClient(config Config, logger *slog.Logger) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	if config.APIKey == "" {
		return nil, fmt.Errorf("API key cannot be empty")
	}

	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = 30 * time.Second
	}

	if config.KeepAliveInterval <= 0 {
		config.KeepAliveInterval = 30 * time.Second
	}

	if config.SendInterval <= 0 {
		config.SendInterval = 10 * time.Millisecond
	}

	if config.MaxReconnectAttempts <= 0 {
		config.MaxReconnectAttempts = 5
	}

	if config.ReconnectBaseDelay <= 0 {
		config.ReconnectBaseDelay = time.Second
	}

	if config.ReconnectMaxDelay <= 0 {
		config.ReconnectMaxDelay = 30 * time.Second
	}

	return &Client{
		config:  config,
		logger:  logger,
		state:   StateDisconnected,
		results: make(chan Result, 256),
		errs:    make(chan error, 16),
		states:  make(chan State, 16),
	}, nil
}

// Results returns the channel carrying accepted transcription results.
func (c *Client) Results() <-chan Result {
	return c.results
}

// Errors returns the channel carrying service and transport errors for the
// pipeline to classify.
func (c *Client) Errors() <-chan error {
	return c.errs
}

// StateChanges returns the channel carrying connection state transitions.
func (c *Client) StateChanges() <-chan State {
	return c.states
}

// GetState returns the current connection state.
func (c *Client) GetState() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// setState transitions the state machine and emits the new state. Caller
// holds the lock.
func (c *Client) setState(s State) {
	if c.state == s {
		return
	}

	c.logger.Debug("Transcription client state change",
		slog.String("from", c.state.String()),
		slog.String("to", s.String()),
	)

	c.state = s
	select {
	case c.states <- s:
	default:
	}
}

// Connect opens the WebSocket, authenticates and starts the session. On
// failure the client schedules a reconnect unless it was intentionally
// disconnected.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnected || c.state == StateConnecting {
		c.mu.Unlock()
		return fmt.Errorf("already %s", c.state)
	}
	c.intentional = false
	c.setState(StateConnecting)
	c.mu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: c.config.ConnectTimeout}

	dialCtx, cancel := context.WithTimeout(ctx, c.config.ConnectTimeout)
	defer cancel()

	conn, _, err := dialer.DialContext(dialCtx, c.config.Endpoint, nil)
	if err != nil {
		c.logger.Error("Transcription service connect failed",
			slog.String("endpoint", c.config.Endpoint),
			slog.String("error", err.Error()),
		)
		c.handleConnectionFailure(fmt.Errorf("connect failed: %w", err))
		return err
	}

	start := protocol.NewStartMessage(c.config.APIKey, c.config.SampleRate,
		c.config.Language, c.config.Punctuate, c.config.FormatText)
	if err := conn.WriteJSON(start); err != nil {
		conn.Close()
		c.handleConnectionFailure(fmt.Errorf("session start failed: %w", err))
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.reconnectAttempts = 0
	c.keepAliveStop = make(chan struct{})
	c.setState(StateConnected)
	stop := c.keepAliveStop
	c.mu.Unlock()

	c.logger.Info("Transcription service connected",
		slog.String("endpoint", c.config.Endpoint),
		slog.Int("sample_rate", c.config.SampleRate),
	)

	go c.readLoop(conn)
	go c.keepAliveLoop(conn, stop)

	return nil
}

// SendAudio streams one chunk of PCM audio, enforcing the minimum inter-send
// interval by delaying when called too soon after the previous send.
func (c *Client) SendAudio(pcm []byte) error {
	c.mu.Lock()
	if c.state != StateConnected {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("cannot send audio while %s", state)
	}
	conn := c.conn
	c.mu.Unlock()

	c.sendMu.Lock()
	if wait := c.config.SendInterval - time.Since(c.lastSend); wait > 0 {
		time.Sleep(wait)
	}
	c.lastSend = time.Now()
	c.sendMu.Unlock()

	msg := protocol.NewAudioData(pcm)
	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("audio send failed: %w", err)
	}

	c.mu.Lock()
	c.bytesSent += uint64(len(pcm))
	c.mu.Unlock()

	return nil
}

// readLoop consumes inbound service messages until the connection drops.
func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleDisconnect(err)
			return
		}

		c.handleServerMessage(data)
	}
}

// handleServerMessage dispatches one inbound message. Malformed or unknown
// messages are logged and dropped without tearing down the connection.
func (c *Client) handleServerMessage(data []byte) {
	parsed, err := protocol.ParseMessage(data)
	if err != nil {
		c.logger.Warn("Dropping unparseable service message", slog.String("error", err.Error()))
		return
	}

	switch msg := parsed.(type) {
	case *protocol.SessionBeginsMessage:
		c.mu.Lock()
		c.sessionID = msg.SessionID
		c.mu.Unlock()

		c.logger.Info("Transcription session started", slog.String("session_id", msg.SessionID))

	case *protocol.TranscriptMessage:
		c.handleTranscript(msg)

	case *protocol.SessionTerminatedMessage:
		c.mu.Lock()
		c.sessionID = ""
		c.mu.Unlock()

		c.logger.Info("Transcription session terminated",
			slog.Float64("audio_duration_sec", msg.AudioDurationSeconds),
		)

	case *protocol.ErrorMessage:
		c.mu.Lock()
		c.errorCount++
		c.mu.Unlock()

		c.logger.Warn("Transcription service error", slog.String("error", msg.Error))

		select {
		case c.errs <- fmt.Errorf("service error: %s", msg.Error):
		default:
		}
	}
}

// handleTranscript filters a transcript by the confidence threshold and emits
// it as a Result.
func (c *Client) handleTranscript(msg *protocol.TranscriptMessage) {
	if msg.Text == "" {
		return
	}

	if msg.Confidence < c.config.ConfidenceThreshold {
		c.logger.Debug("Dropping low-confidence transcript",
			slog.Float64("confidence", msg.Confidence),
			slog.Float64("threshold", c.config.ConfidenceThreshold),
		)
		return
	}

	kind := ResultPartial
	if msg.IsFinal() {
		kind = ResultFinal
	}

	result := Result{
		Kind:       kind,
		AudioStart: msg.AudioStart,
		AudioEnd:   msg.AudioEnd,
		Confidence: msg.Confidence,
		Text:       msg.Text,
		Words:      msg.Words,
		ReceivedAt: time.Now(),
	}

	c.mu.Lock()
	c.transcripts++
	c.confidenceSum += msg.Confidence
	c.confidenceCount++
	c.mu.Unlock()

	select {
	case c.results <- result:
	default:
		c.logger.Warn("Result channel full, dropping transcript",
			slog.String("kind", kind.String()),
		)
	}
}

// keepAliveLoop sends periodic pings until the connection closes.
func (c *Client) keepAliveLoop(conn *websocket.Conn, stop chan struct{}) {
	ticker := time.NewTicker(c.config.KeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			deadline := time.Now().Add(5 * time.Second)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.logger.Debug("Keep-alive ping failed", slog.String("error", err.Error()))
				return
			}
		}
	}
}

// handleDisconnect reacts to a dropped connection: a clean intentional close
// ends in Disconnected, anything else schedules a reconnect.
func (c *Client) handleDisconnect(err error) {
	c.mu.Lock()
	c.stopKeepAliveLocked()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}

	if c.intentional {
		c.setState(StateDisconnected)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.logger.Warn("Transcription connection lost", slog.String("error", err.Error()))
	c.scheduleReconnect(err)
}

// handleConnectionFailure reacts to a failed connect attempt.
func (c *Client) handleConnectionFailure(err error) {
	c.mu.Lock()
	if c.intentional {
		c.setState(StateDisconnected)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.scheduleReconnect(err)
}

// scheduleReconnect arms the backoff timer for the next attempt, or enters
// the terminal Error state once attempts are exhausted.
func (c *Client) scheduleReconnect(cause error) {
	c.mu.Lock()

	c.reconnectAttempts++
	if c.reconnectAttempts > c.config.MaxReconnectAttempts {
		c.setState(StateError)
		attempts := c.reconnectAttempts - 1
		c.mu.Unlock()

		c.logger.Error("Reconnect attempts exhausted",
			slog.Int("attempts", attempts),
			slog.String("cause", cause.Error()),
		)

		select {
		case c.errs <- fmt.Errorf("reconnect attempts exhausted after %d tries: %w", attempts, cause):
		default:
		}
		return
	}

	attempt := c.reconnectAttempts
	delay := c.BackoffDelay(attempt)
	c.setState(StateReconnecting)

	c.reconnectTimer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		if c.intentional {
			c.setState(StateDisconnected)
			c.mu.Unlock()
			return
		}
		// Reset to Disconnected so Connect accepts the transition.
		c.state = StateDisconnected
		c.mu.Unlock()

		if err := c.Connect(context.Background()); err != nil {
			c.logger.Debug("Reconnect attempt failed", slog.String("error", err.Error()))
		}
	})
	c.mu.Unlock()

	c.logger.Info("Reconnect scheduled",
		slog.Int("attempt", attempt),
		slog.Duration("delay", delay),
	)
}

// BackoffDelay returns the reconnect delay for the given attempt number
// (1-based): the base delay doubled per attempt, capped at the maximum.
func (c *Client) BackoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := c.config.ReconnectBaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.config.ReconnectMaxDelay {
			return c.config.ReconnectMaxDelay
		}
	}

	if delay > c.config.ReconnectMaxDelay {
		delay = c.config.ReconnectMaxDelay
	}
	return delay
}

// Disconnect marks the disconnect intentional, cancels timers, sends a
// terminate message when connected, and closes the connection. Safe to call
// more than once.
func (c *Client) Disconnect() error {
	c.mu.Lock()

	c.intentional = true
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	c.stopKeepAliveLocked()

	conn := c.conn
	c.conn = nil
	connected := c.state == StateConnected
	c.setState(StateDisconnected)
	c.mu.Unlock()

	if conn == nil {
		return nil
	}

	if connected {
		if err := conn.WriteJSON(protocol.NewTerminate()); err == nil {
			// Give the service a moment to acknowledge before force-closing.
			deadline := time.Now().Add(2 * time.Second)
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			time.Sleep(100 * time.Millisecond)
		}
	}

	conn.Close()

	c.logger.Info("Transcription client disconnected")
	return nil
}

// stopKeepAliveLocked stops the keep-alive loop. Caller holds the lock.
func (c *Client) stopKeepAliveLocked() {
	if c.keepAliveStop != nil {
		close(c.keepAliveStop)
		c.keepAliveStop = nil
	}
}

// GetStats returns live client statistics.
func (c *Client) GetStats() ClientStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	avgConfidence := float64(0)
	if c.confidenceCount > 0 {
		avgConfidence = c.confidenceSum / float64(c.confidenceCount)
	}

	return ClientStats{
		State:             c.state.String(),
		SessionID:         c.sessionID,
		BytesSent:         c.bytesSent,
		Transcripts:       c.transcripts,
		Errors:            c.errorCount,
		AvgConfidence:     avgConfidence,
		ReconnectAttempts: c.reconnectAttempts,
	}
}

// GetSessionID returns the service-assigned session id, if any.
func (c *Client) GetSessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}
