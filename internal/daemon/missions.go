package daemon

import (
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/intercom-mesh/intercom/internal/domain"
)

// missionStore holds this daemon's local mission records — a second,
// daemon-side mission ledger distinct from the Hub's (spec §4.4: "record
// returned mission_id local to the daemon and bind to Hub mission id").
type missionStore struct {
	mu       sync.Mutex
	missions map[string]*domain.Mission
}

func newMissionStore() *missionStore {
	return &missionStore{missions: make(map[string]*domain.Mission)}
}

func (s *missionStore) create(fromAgent, toProject, prompt string) *domain.Mission {
	m := &domain.Mission{
		ID:        newULID(),
		From:      fromAgent,
		To:        toProject,
		Type:      domain.MessageStartAgent,
		Payload:   prompt,
		CreatedAt: time.Now(),
		Status:    domain.MissionRunning,
	}
	s.mu.Lock()
	s.missions[m.ID] = m
	s.mu.Unlock()
	return m
}

func (s *missionStore) get(id string) (*domain.Mission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.missions[id]
	if !ok {
		return nil, domain.NewSubSystemError("mission", "missionStore.get", domain.ErrNotFound, id)
	}
	return m, nil
}

func (s *missionStore) withLock(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
}

// newULID mints a sortable id, grounded on the teacher's process.Manager
// session-id scheme (ulid.Monotonic seeded from the wall clock).
func newULID() string {
	t := time.Now()
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}
