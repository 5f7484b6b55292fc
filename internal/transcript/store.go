package transcript

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Config contains transcript store configuration.
type Config struct {
	// StorageDir is the root directory receiving one subdirectory per
	// session.
	StorageDir string

	// SegmentWindow is the rolling window duration per segment.
	SegmentWindow time.Duration

	// MaxSessionDuration bounds a session's total runtime. Exceeding it is
	// reported through Expired; stopping is the caller's responsibility.
	MaxSessionDuration time.Duration

	// HourlyRateUSD is the transcription service rate for cost accounting.
	HourlyRateUSD float64
}

// Store owns transcript sessions, at most one active per voice channel.
type Store struct {
	sessions map[string]*Session
	config   Config
	logger   *slog.Logger
	mu       sync.RWMutex
}

// NewStore creates an empty transcript session store.
func NewStore(config Config, logger *slog.Logger) (*Store, error) {
	if config.StorageDir == "" {
		return nil, fmt.Errorf("storage directory cannot be empty")
	}

	if config.SegmentWindow <= 0 {
		return nil, fmt.Errorf("segment window must be positive")
	}

	if config.MaxSessionDuration < config.SegmentWindow {
		return nil, fmt.Errorf("max session duration must be at least the segment window")
	}

	return &Store{
		sessions: make(map[string]*Session),
		config:   config,
		logger:   logger,
	}, nil
}

// StartSession opens a transcript session for the channel with its first
// window segment. Refuses if a session is already active for the channel.
func (st *Store) StartSession(channelID string) (*Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if existing, exists := st.sessions[channelID]; exists {
		if existing.GetState() != SessionStopped {
			return nil, fmt.Errorf("transcript session already active for channel %s", channelID)
		}
		delete(st.sessions, channelID)
	}

	session := newSession(channelID, st.config, st.logger)
	st.sessions[channelID] = session

	st.logger.Info("Transcript session started",
		slog.String("session_id", session.ID),
		slog.String("channel_id", channelID),
		slog.Duration("segment_window", st.config.SegmentWindow),
	)

	return session, nil
}

// GetSession retrieves the channel's session.
func (st *Store) GetSession(channelID string) (*Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	session, exists := st.sessions[channelID]
	return session, exists
}

// StopSession stops the channel's session and returns its summary.
func (st *Store) StopSession(channelID string) (Summary, error) {
	st.mu.Lock()
	session, exists := st.sessions[channelID]
	if exists {
		delete(st.sessions, channelID)
	}
	st.mu.Unlock()

	if !exists {
		return Summary{}, fmt.Errorf("no transcript session for channel %s", channelID)
	}

	return session.Stop(), nil
}

// Expired returns sessions that have exceeded the maximum session duration.
// The caller decides whether to stop them.
func (st *Store) Expired() []*Session {
	st.mu.RLock()
	defer st.mu.RUnlock()

	now := time.Now()
	expired := make([]*Session, 0)
	for _, session := range st.sessions {
		if now.Sub(session.StartTime) > st.config.MaxSessionDuration {
			expired = append(expired, session)
		}
	}
	return expired
}

// GetActiveSessionCount returns the number of sessions currently held.
func (st *Store) GetActiveSessionCount() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// GetAllSummaries returns live summaries for every held session.
func (st *Store) GetAllSummaries() []Summary {
	st.mu.RLock()
	defer st.mu.RUnlock()

	summaries := make([]Summary, 0, len(st.sessions))
	for _, session := range st.sessions {
		summaries = append(summaries, session.GetSummary())
	}
	return summaries
}

// StopAll stops every session, used during process shutdown.
func (st *Store) StopAll() {
	st.mu.Lock()
	sessions := make([]*Session, 0, len(st.sessions))
	for _, session := range st.sessions {
		sessions = append(sessions, session)
	}
	st.sessions = make(map[string]*Session)
	st.mu.Unlock()

	for _, session := range sessions {
		session.Stop()
	}

	st.logger.Info("All transcript sessions stopped", slog.Int("count", len(sessions)))
}
