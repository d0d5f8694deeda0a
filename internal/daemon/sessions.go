// Package daemon implements the per-node HTTP surface and child-agent
// supervisor (spec §4.5): active session bookkeeping, inbox file delivery,
// and the agent launcher that spawns and streams a child coding agent.
package daemon

import (
	"sync"
	"time"

	"github.com/intercom-mesh/intercom/internal/domain"
)

// SessionRegistry holds this daemon's active sessions in an in-process map
// (spec §5 shared-resource policy: single owner per process, mutex-guarded).
type SessionRegistry struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
}

// NewSessionRegistry creates an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]*domain.Session)}
}

// Register adds or replaces a session. Per spec §3, at most one session per
// project is authoritative for chat routing; registering a new one for an
// already-occupied project displaces the previous entry (most recent wins).
func (r *SessionRegistry) Register(s domain.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.RegisteredAt.IsZero() {
		s.RegisteredAt = time.Now()
	}
	if s.Status == "" {
		s.Status = domain.SessionStatusActive
	}
	for id, other := range r.sessions {
		if id != s.ID && other.ProjectID == s.ProjectID {
			delete(r.sessions, id)
		}
	}
	session := s
	r.sessions[s.ID] = &session
}

// Unregister removes a session by id. No-op if absent.
func (r *SessionRegistry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// Get returns the session for id, pruning it first if its pid has died.
func (r *SessionRegistry) Get(id string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, domain.NewSubSystemError("session", "SessionRegistry.Get", domain.ErrNotFound, id)
	}
	if !isAlive(s.PID) {
		delete(r.sessions, id)
		return nil, domain.NewSubSystemError("session", "SessionRegistry.Get", domain.ErrNoActiveSession, id)
	}
	return s, nil
}

// FindByProject returns the first live session registered against projectID
// (spec §4.5: "resolve the session by explicit session_id or by project,
// first match"), pruning any dead session it encounters along the way.
func (r *SessionRegistry) FindByProject(projectID string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, s := range r.sessions {
		if s.ProjectID != projectID {
			continue
		}
		if !isAlive(s.PID) {
			delete(r.sessions, id)
			continue
		}
		return s, nil
	}
	return nil, domain.NewSubSystemError("session", "SessionRegistry.FindByProject", domain.ErrNoActiveSession, projectID)
}

// List returns a snapshot of every live session, pruning dead ones first.
func (r *SessionRegistry) List() []domain.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Session, 0, len(r.sessions))
	for id, s := range r.sessions {
		if !isAlive(s.PID) {
			delete(r.sessions, id)
			continue
		}
		out = append(out, *s)
	}
	return out
}

// PushActivity records an activity entry against a session, if it still exists.
func (r *SessionRegistry) PushActivity(id string, e domain.ActivityEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		s.PushActivity(e)
	}
}
