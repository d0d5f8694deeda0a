package console

import (
	"context"
	"io"
	"log/slog"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTelegramResolveApproveWithScope(t *testing.T) {
	tg := NewTelegram("tok", 1, 42, testLogger())
	ch := tg.registerWaiter("msg:a>b:1")

	tg.handleUpdate(telegramUpdate{Message: &telegramMessage{
		Text: "/approve msg:a>b:1 mission",
		From: &telegramUser{ID: 42},
	}})

	select {
	case r := <-ch:
		if r.scope != ScopeMission {
			t.Fatalf("scope = %v, want mission", r.scope)
		}
	default:
		t.Fatal("expected a reply to be delivered")
	}
}

func TestTelegramResolveDenyDefaultsNoScope(t *testing.T) {
	tg := NewTelegram("tok", 1, 42, testLogger())
	ch := tg.registerWaiter("msg:a>b:2")

	tg.handleUpdate(telegramUpdate{Message: &telegramMessage{
		Text: "/deny msg:a>b:2",
		From: &telegramUser{ID: 42},
	}})

	select {
	case r := <-ch:
		if r.scope != ScopeDenied {
			t.Fatalf("scope = %v, want denied", r.scope)
		}
	default:
		t.Fatal("expected a reply to be delivered")
	}
}

func TestTelegramIgnoresNonOwner(t *testing.T) {
	tg := NewTelegram("tok", 1, 42, testLogger())
	ch := tg.registerWaiter("msg:a>b:3")

	tg.handleUpdate(telegramUpdate{Message: &telegramMessage{
		Text: "/approve msg:a>b:3",
		From: &telegramUser{ID: 999},
	}})

	select {
	case r := <-ch:
		t.Fatalf("unexpected reply from non-owner: %v", r)
	default:
	}
}

func TestNoopApprovesJoinsAndGrantsOnce(t *testing.T) {
	n := NewNoop()
	ctx := context.Background()
	ok, err := n.AnnounceJoin(ctx, "m1", "Box", "10.0.0.1")
	if err != nil || !ok {
		t.Fatalf("AnnounceJoin() = %v, %v", ok, err)
	}
	scope, err := n.AskApproval(ctx, "a", "b", "ask", "preview", []ApprovalScope{ScopeOnce})
	if err != nil || scope != ScopeOnce {
		t.Fatalf("AskApproval() = %v, %v", scope, err)
	}
}
