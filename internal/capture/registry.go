package capture

import (
	"fmt"
	"log/slog"
	"sync"
)

// Registry owns the recording sessions, one per voice channel at most. It is
// created by the composition root and handed to components that start and
// stop recordings.
type Registry struct {
	sessions map[string]*Session
	config   Config
	logger   *slog.Logger
	mu       sync.RWMutex
}

// NewRegistry creates an empty session registry.
func NewRegistry(config Config, logger *slog.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		config:   config,
		logger:   logger,
	}
}

// StartSession creates a recording session for the channel. Starting a
// second session for the same channel is an error.
func (r *Registry) StartSession(channelID string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, exists := r.sessions[channelID]; exists {
		if existing.GetState() != SessionStopped {
			return nil, fmt.Errorf("recording session already active for channel %s", channelID)
		}
		delete(r.sessions, channelID)
	}

	session := NewSession(channelID, r.config, r.logger)
	r.sessions[channelID] = session
	return session, nil
}

// GetSession retrieves the session for a channel.
func (r *Registry) GetSession(channelID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, exists := r.sessions[channelID]
	return session, exists
}

// StopSession stops and removes the channel's session. Returns false if no
// session exists.
func (r *Registry) StopSession(channelID string) bool {
	r.mu.Lock()
	session, exists := r.sessions[channelID]
	if exists {
		delete(r.sessions, channelID)
	}
	r.mu.Unlock()

	if !exists {
		return false
	}

	session.Stop()
	return true
}

// GetActiveSessionCount returns the number of sessions currently held.
func (r *Registry) GetActiveSessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// GetAllStats returns statistics for every held session.
func (r *Registry) GetAllStats() []SessionStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := make([]SessionStats, 0, len(r.sessions))
	for _, session := range r.sessions {
		stats = append(stats, session.GetStats())
	}
	return stats
}

// StopAll stops every session, used during process shutdown.
func (r *Registry) StopAll() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, session := range r.sessions {
		sessions = append(sessions, session)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, session := range sessions {
		session.Stop()
	}

	r.logger.Info("All recording sessions stopped", slog.Int("count", len(sessions)))
}
