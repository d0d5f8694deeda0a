package router

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/intercom-mesh/intercom/internal/domain"
)

// missionStore holds the Hub's in-memory mission ledger. Single owner per
// process: all access goes through its mutex (spec §5 shared-resource
// policy). Missions are process-lifetime state; loss on Hub restart is
// acceptable (spec §9 open question).
type missionStore struct {
	mu       sync.Mutex
	missions map[string]*domain.Mission
}

func newMissionStore() *missionStore {
	return &missionStore{missions: make(map[string]*domain.Mission)}
}

// Create allocates a new mission with a fresh UUID and strict-FIFO message log.
func (s *missionStore) Create(from, to string, msgType domain.MessageType, payload string) *domain.Mission {
	m := &domain.Mission{
		ID:        uuid.NewString(),
		From:      from,
		To:        to,
		Type:      msgType,
		Payload:   payload,
		CreatedAt: time.Now(),
		Status:    domain.MissionPendingApproval,
	}
	s.mu.Lock()
	s.missions[m.ID] = m
	s.mu.Unlock()
	return m
}

// Get returns the mission for id, or ErrNotFound.
func (s *missionStore) Get(id string) (*domain.Mission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.missions[id]
	if !ok {
		return nil, domain.NewSubSystemError("mission", "missionStore.Get", domain.ErrNotFound, id)
	}
	return m, nil
}

// WithLock runs fn holding the store's lock, so callers can make
// read-modify-write updates (status transitions, appends) atomically and in
// strict arrival order within a single mission — the store is the single
// serialisation point messages sharing a mission_id pass through.
func (s *missionStore) WithLock(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
}

// threadMap remembers {thread_id -> (participant_a, participant_b, mission_id)}
// so that `reply` without an explicit recipient resolves correctly (spec §3).
type threadMap struct {
	mu      sync.Mutex
	threads map[string]*domain.Thread
}

func newThreadMap() *threadMap {
	return &threadMap{threads: make(map[string]*domain.Thread)}
}

// GetOrCreate returns the existing thread for id, or creates one between a and b.
func (t *threadMap) GetOrCreate(id, a, b, missionID string) *domain.Thread {
	t.mu.Lock()
	defer t.mu.Unlock()
	if th, ok := t.threads[id]; ok {
		return th
	}
	th := &domain.Thread{ID: id, ParticipantA: a, ParticipantB: b, MissionID: missionID}
	t.threads[id] = th
	return th
}

// Get returns the thread for id, or ErrNotFound.
func (t *threadMap) Get(id string) (*domain.Thread, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	th, ok := t.threads[id]
	if !ok {
		return nil, domain.NewSubSystemError("thread", "threadMap.Get", domain.ErrNotFound, id)
	}
	return th, nil
}

// NewThreadID generates a thread id in the t-<6hex> form spec §3 defines.
func NewThreadID() string {
	return "t-" + shortHex()
}

func shortHex() string {
	id := uuid.New()
	b := id[:]
	const hexDigits = "0123456789abcdef"
	out := make([]byte, 6)
	for i := 0; i < 6; i++ {
		out[i] = hexDigits[b[i]%16]
	}
	return string(out)
}
