// Package console defines the operator-console adapter (spec §4.6) — the
// only place the core depends on the external chat-based approval surface.
package console

import "context"

// ApprovalScope is a choice the operator can pick when asked to approve a message.
type ApprovalScope string

const (
	ScopeOnce        ApprovalScope = "once"
	ScopeMission     ApprovalScope = "mission"
	ScopeSession     ApprovalScope = "session"
	ScopeAlwaysAllow ApprovalScope = "always_allow"
	ScopeDenied      ApprovalScope = "denied"
)

// Adapter is the abstract outbound interface to the operator-facing chat
// surface. Implementations may be replaced by a no-op in tests.
type Adapter interface {
	// AnnounceJoin blocks until the operator approves or denies a join
	// request, or the implementation-defined timeout elapses leaving the
	// join pending.
	AnnounceJoin(ctx context.Context, machineID, displayName, overlayIP string) (approved bool, err error)

	// AskApproval blocks until the operator picks a scope or denies, or the
	// approval times out.
	AskApproval(ctx context.Context, from, to, msgType, preview string, scopes []ApprovalScope) (ApprovalScope, error)

	// PostToMission posts a non-blocking visibility line to a mission's
	// thread, creating the thread/topic on first call.
	PostToMission(ctx context.Context, missionID, text string)

	// NotifyFeedback posts a one-shot notification not tied to any mission.
	NotifyFeedback(ctx context.Context, kind, text string)
}
