package router

import (
	"testing"

	"github.com/intercom-mesh/intercom/internal/domain"
)

func TestMissionStoreCreateAndGet(t *testing.T) {
	s := newMissionStore()
	m := s.Create("box1/home", "box2/home", domain.MessageAsk, "run the tests")

	got, err := s.Get(m.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.From != "box1/home" || got.To != "box2/home" {
		t.Fatalf("got = %+v", got)
	}
	if got.Status != domain.MissionPendingApproval {
		t.Fatalf("status = %v, want pending_approval", got.Status)
	}
}

func TestMissionStoreGetUnknownReturnsNotFound(t *testing.T) {
	s := newMissionStore()
	_, err := s.Get("nonexistent")
	if domain.ErrorCodeOf(err) != domain.CodeNotFoundMission {
		t.Fatalf("ErrorCodeOf(err) = %v, want CodeNotFoundMission", domain.ErrorCodeOf(err))
	}
}

func TestThreadMapGetOrCreateIsIdempotent(t *testing.T) {
	tm := newThreadMap()
	first := tm.GetOrCreate("t-abc123", "box1/home", "box2/home", "")
	second := tm.GetOrCreate("t-abc123", "box3/home", "box4/home", "")

	if first != second {
		t.Fatal("GetOrCreate should return the same thread for the same id")
	}
	if second.ParticipantA != "box1/home" {
		t.Fatalf("second call should not overwrite the original thread: got %+v", second)
	}
}

func TestNewThreadIDFormatAndUniqueness(t *testing.T) {
	a := NewThreadID()
	b := NewThreadID()
	if a[:2] != "t-" || b[:2] != "t-" {
		t.Fatalf("ids should be prefixed t-: %s, %s", a, b)
	}
	if a == b {
		t.Fatal("expected distinct thread ids")
	}
}
