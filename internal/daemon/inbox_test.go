package daemon

import (
	"testing"
	"time"

	"github.com/intercom-mesh/intercom/internal/domain"
)

func testInbox(t *testing.T) *InboxStore {
	t.Helper()
	store, err := NewInboxStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewInboxStore() error = %v", err)
	}
	return store
}

func TestInboxAppendAndPending(t *testing.T) {
	store := testInbox(t)

	if err := store.Append("s1", domain.InboxMessage{ThreadID: "t1", FromAgent: "a", Message: "hi", Timestamp: time.Now()}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := store.Append("s1", domain.InboxMessage{ThreadID: "t1", FromAgent: "a", Message: "hi again", Timestamp: time.Now()}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	n, err := store.Pending("s1")
	if err != nil {
		t.Fatalf("Pending() error = %v", err)
	}
	if n != 2 {
		t.Fatalf("Pending() = %d, want 2", n)
	}
}

func TestInboxDrainMarksReadAndIsIdempotent(t *testing.T) {
	store := testInbox(t)
	store.Append("s1", domain.InboxMessage{ThreadID: "t1", FromAgent: "a", Message: "hi", Timestamp: time.Now()})

	drained, err := store.Drain("s1")
	if err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
	if len(drained) != 1 || drained[0].Message != "hi" {
		t.Fatalf("Drain() = %+v, want one message", drained)
	}

	again, err := store.Drain("s1")
	if err != nil {
		t.Fatalf("second Drain() error = %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("second Drain() = %+v, want empty", again)
	}

	n, err := store.Pending("s1")
	if err != nil {
		t.Fatalf("Pending() error = %v", err)
	}
	if n != 0 {
		t.Fatalf("Pending() = %d, want 0 after drain", n)
	}
}

func TestInboxPendingOnMissingFileIsZero(t *testing.T) {
	store := testInbox(t)
	n, err := store.Pending("never-seen")
	if err != nil {
		t.Fatalf("Pending() error = %v", err)
	}
	if n != 0 {
		t.Fatalf("Pending() = %d, want 0", n)
	}
}
