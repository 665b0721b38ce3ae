package session

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/brightclass/backend/internal/media"
	"github.com/brightclass/backend/internal/models"
	"github.com/brightclass/backend/internal/screenshare"
)

// Provider supplies the per-session transport resources a coordinator
// composes: the capture backend behind the local media controllers and the
// screen capture source behind the arbitrator.
type Provider interface {
	MediaBackend(sessionID uuid.UUID) media.Backend
	ShareSource(sessionID uuid.UUID) screenshare.Source
}

// Manager maps session ids to live coordinators, creating them on first use.
type Manager struct {
	mu       sync.RWMutex
	coords   map[uuid.UUID]*Coordinator
	provider Provider
	cfg      Config
	log      *zap.Logger

	onSnapshot  func(models.SessionView)
	onCompleted func(models.ClassSession)
}

// NewManager creates an empty manager.
func NewManager(provider Provider, cfg Config, log *zap.Logger) *Manager {
	return &Manager{
		coords:   make(map[uuid.UUID]*Coordinator),
		provider: provider,
		cfg:      cfg,
		log:      log,
	}
}

// SetSnapshotHandler registers the fanout callback wired into every
// coordinator this manager creates.
func (m *Manager) SetSnapshotHandler(fn func(models.SessionView)) {
	m.mu.Lock()
	m.onSnapshot = fn
	m.mu.Unlock()
}

// SetCompletionHandler registers the hook invoked when any managed session
// completes.
func (m *Manager) SetCompletionHandler(fn func(models.ClassSession)) {
	m.mu.Lock()
	m.onCompleted = fn
	m.mu.Unlock()
}

// GetOrCreate returns the coordinator for sess, creating and wiring one if
// this is the first activity for the session.
func (m *Manager) GetOrCreate(sess models.ClassSession) *Coordinator {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.coords[sess.ID]; ok {
		return c
	}
	c := NewCoordinator(sess, m.provider.ShareSource(sess.ID), m.provider.MediaBackend(sess.ID), m.cfg, m.log)
	if m.onSnapshot != nil {
		c.SetSnapshotHandler(m.onSnapshot)
	}
	if m.onCompleted != nil {
		c.SetCompletionHandler(m.onCompleted)
	}
	m.coords[sess.ID] = c
	m.log.Info("session coordinator created", zap.String("session_id", sess.ID.String()))
	return c
}

// Get returns the coordinator for a session already seen by the manager.
func (m *Manager) Get(sessionID uuid.UUID) (*Coordinator, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.coords[sessionID]
	return c, ok
}

// Remove drops a coordinator, typically after its session completed.
func (m *Manager) Remove(sessionID uuid.UUID) {
	m.mu.Lock()
	delete(m.coords, sessionID)
	m.mu.Unlock()
}
