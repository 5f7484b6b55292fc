package pipeline

import (
	"fmt"
	"sync"
)

// Set holds the active pipelines, one per voice channel. The composition
// root owns it and hands it to the components that start recordings and to
// the monitoring API.
type Set struct {
	pipelines map[string]*Pipeline
	mu        sync.RWMutex
}

// NewSet creates an empty pipeline set.
func NewSet() *Set {
	return &Set{pipelines: make(map[string]*Pipeline)}
}

// Add registers a pipeline for its channel. A channel can hold one pipeline
// at a time unless the previous one has stopped.
func (s *Set) Add(channelID string, p *Pipeline) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, exists := s.pipelines[channelID]; exists {
		if st := existing.GetState(); st != StateStopped && st != StateError {
			return fmt.Errorf("pipeline already active for channel %s", channelID)
		}
	}

	s.pipelines[channelID] = p
	return nil
}

// Get retrieves the channel's pipeline.
func (s *Set) Get(channelID string) (*Pipeline, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, exists := s.pipelines[channelID]
	return p, exists
}

// Remove forgets the channel's pipeline without stopping it.
func (s *Set) Remove(channelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pipelines, channelID)
}

// Count returns the number of held pipelines.
func (s *Set) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pipelines)
}

// AllStats returns statistics for every held pipeline.
func (s *Set) AllStats() []Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := make([]Stats, 0, len(s.pipelines))
	for _, p := range s.pipelines {
		stats = append(stats, p.GetStats())
	}
	return stats
}

// StopAll stops every pipeline, used during process shutdown.
func (s *Set) StopAll() {
	s.mu.Lock()
	pipelines := make([]*Pipeline, 0, len(s.pipelines))
	for _, p := range s.pipelines {
		pipelines = append(pipelines, p)
	}
	s.pipelines = make(map[string]*Pipeline)
	s.mu.Unlock()

	for _, p := range pipelines {
		p.Stop()
	}
}
