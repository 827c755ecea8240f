package checkin

import (
	"context"
	"log"
	"sync"
	"time"
)

// Manager tracks live sessions and expires abandoned ones, so a forgotten
// session cannot keep a device stream open forever.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	ttl      time.Duration
}

func NewManager(ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Manager{sessions: make(map[string]*Session), ttl: ttl}
}

// Put registers a session.
func (m *Manager) Put(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
}

// Get returns a live session by id.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Remove closes and forgets a session. A no-op for unknown ids.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if ok {
		s.Close()
	}
}

// StartJanitor expires idle sessions until ctx is done.
func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.expire()
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (m *Manager) expire() {
	m.mu.Lock()
	var stale []*Session
	for id, s := range m.sessions {
		if s.expired(m.ttl) {
			stale = append(stale, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()
	for _, s := range stale {
		log.Printf("session %s: expired, closing", s.ID)
		s.Close()
	}
}
