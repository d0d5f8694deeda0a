package domain

import "time"

// SessionStatus is the lifecycle state of an active agent session.
type SessionStatus string

const (
	SessionStatusActive  SessionStatus = "active"
	SessionStatusWorking SessionStatus = "working"
	SessionStatusIdle    SessionStatus = "idle"
)

// ActivityEntry is one entry in a session's short rolling activity list.
type ActivityEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Summary   string    `json:"summary"`
}

// Session is an active agent process on some machine/project (spec §3).
// At most one session per (machine, project) is authoritative for chat
// routing; on conflict the most recently registered wins.
type Session struct {
	ID          string          `json:"session_id"`
	ProjectID   string          `json:"project_id"`
	PID         int             `json:"pid"`
	InboxPath   string          `json:"inbox_path"`
	RegisteredAt time.Time      `json:"registered_at"`
	Status      SessionStatus   `json:"status"`
	Summary     string          `json:"summary,omitempty"`
	Recent      []ActivityEntry `json:"recent,omitempty"`
	Stale       bool            `json:"stale,omitempty"`
}

const maxRecentActivity = 10

// PushActivity appends an activity entry, keeping only the most recent entries.
func (s *Session) PushActivity(e ActivityEntry) {
	s.Recent = append(s.Recent, e)
	if len(s.Recent) > maxRecentActivity {
		s.Recent = s.Recent[len(s.Recent)-maxRecentActivity:]
	}
}

// InboxMessage is one JSON line in a session's append-only inbox file (spec §6).
type InboxMessage struct {
	ThreadID  string    `json:"thread_id"`
	FromAgent string    `json:"from_agent"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
	Read      bool      `json:"read"`
}
