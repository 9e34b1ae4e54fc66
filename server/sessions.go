package server

import (
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"stories/feeds"
)

var activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "stories_sessions_active",
	Help: "Number of feed sessions currently held by the server",
})

// EngineFactory builds the engine backing a new session.
type EngineFactory func() (*feeds.Engine, error)

// Sessions holds one feed engine per client session
type Sessions struct {
	sync.RWMutex
	factory EngineFactory
	engines map[string]*feeds.Engine
}

func NewSessions(factory EngineFactory) *Sessions {
	return &Sessions{
		factory: factory,
		engines: make(map[string]*feeds.Engine),
	}
}

// Create registers a fresh engine under a new random key.
func (s *Sessions) Create() (string, *feeds.Engine, error) {
	engine, err := s.factory()
	if err != nil {
		return "", nil, err
	}

	key := uuid.New().String()

	s.Lock()
	s.engines[key] = engine
	count := len(s.engines)
	s.Unlock()

	activeSessions.Inc()
	log.WithFields(log.Fields{
		"key":   key,
		"count": count,
	}).Info("Created feed session")
	return key, engine, nil
}

func (s *Sessions) Get(key string) (*feeds.Engine, bool) {
	s.RLock()
	defer s.RUnlock()
	engine, ok := s.engines[key]
	return engine, ok
}

// Remove resets and forgets the session. It reports whether the key existed.
func (s *Sessions) Remove(key string) bool {
	s.Lock()
	engine, ok := s.engines[key]
	delete(s.engines, key)
	count := len(s.engines)
	s.Unlock()

	if !ok {
		return false
	}

	engine.Reset()
	activeSessions.Dec()
	log.WithFields(log.Fields{
		"key":   key,
		"count": count,
	}).Info("Removed feed session")
	return true
}

func (s *Sessions) Len() int {
	s.RLock()
	defer s.RUnlock()
	return len(s.engines)
}

// Shutdown resets every session so loads still in flight are discarded.
func (s *Sessions) Shutdown() {
	log.Info("Shutting down feed sessions")
	s.Lock()
	defer s.Unlock()
	for key, engine := range s.engines {
		engine.Reset()
		delete(s.engines, key)
		activeSessions.Dec()
	}
}
