package transport

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/inbox/pkg/chat"
	"github.com/go-go-golems/inbox/pkg/chat/metrics"
)

// Manager owns at most one live session. It replaces a process-wide singleton:
// whoever needs the connection gets the manager injected and goes through
// Acquire/Release.
type Manager struct {
	cfg     Config
	metrics *metrics.Metrics

	mu      sync.Mutex
	session *Session
}

func NewManager(cfg Config, m *metrics.Metrics) *Manager {
	return &Manager{cfg: cfg, metrics: m}
}

// Acquire returns the current session when it is connected and was opened for
// the same identity. Otherwise the previous session, if any, is closed and a new
// one is opened. Acquire does not wait for the new connection to come up.
func (m *Manager) Acquire(ctx context.Context, identity chat.Identity, hooks Hooks) (*Session, error) {
	if err := identity.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	prev := m.session
	if prev != nil && prev.Connected() && prev.Identity() == identity {
		m.mu.Unlock()
		return prev, nil
	}
	m.session = nil
	m.mu.Unlock()

	if prev != nil {
		log.Info().Str("component", "transport").Str("session_id", prev.ID()).Msg("replacing live session")
		_ = prev.Close()
	}

	s, err := NewSession(m.cfg, identity, hooks, m.metrics)
	if err != nil {
		return nil, err
	}
	if err := s.Open(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.session = s
	m.mu.Unlock()
	return s, nil
}

// Release disconnects the current session and forgets it, so the next Acquire
// builds a fresh one.
func (m *Manager) Release() error {
	m.mu.Lock()
	s := m.session
	m.session = nil
	m.mu.Unlock()
	if s == nil {
		return nil
	}
	return s.Close()
}

// Session returns the current session or nil.
func (m *Manager) Session() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}
