package connector

import (
	"context"
	"sort"
	"sync"

	"github.com/onnwee/chatmux/backend/message"
)

// Manager is the registry of supervisors, one per enabled platform. It is
// the status-reporting read side and the target of lifecycle controls.
type Manager struct {
	mu   sync.RWMutex
	sups map[message.Platform]*Supervisor
}

// NewManager returns an empty registry.
func NewManager() *Manager {
	return &Manager{sups: make(map[message.Platform]*Supervisor)}
}

// Add registers a supervisor. Last registration per platform wins.
func (m *Manager) Add(s *Supervisor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sups[s.Platform()] = s
}

// Start launches all registered supervisors under ctx.
func (m *Manager) Start(ctx context.Context) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.sups {
		s.Start(ctx)
	}
}

// Get returns the supervisor for a platform.
func (m *Manager) Get(p message.Platform) (*Supervisor, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sups[p]
	return s, ok
}

// Statuses returns supervision snapshots sorted by platform for stable
// status output.
func (m *Manager) Statuses() []Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Status, 0, len(m.sups))
	for _, s := range m.sups {
		out = append(out, s.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Platform < out[j].Platform })
	return out
}

// Wait blocks until every supervisor's loop has stopped. Call after
// cancelling the context passed to Start.
func (m *Manager) Wait() {
	m.mu.RLock()
	sups := make([]*Supervisor, 0, len(m.sups))
	for _, s := range m.sups {
		sups = append(sups, s)
	}
	m.mu.RUnlock()
	for _, s := range sups {
		<-s.Done()
	}
}
