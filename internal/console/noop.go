package console

import "context"

// Noop is an Adapter that auto-approves everything and drops notifications.
// Used in tests and in standalone mode where no operator is configured.
type Noop struct {
	// ApproveJoins, when false, denies every join request instead of approving it.
	ApproveJoins bool
	// DefaultScope is returned from AskApproval; empty means ScopeOnce.
	DefaultScope ApprovalScope
}

// NewNoop creates a Noop adapter that approves joins and grants "once" scope.
func NewNoop() *Noop {
	return &Noop{ApproveJoins: true, DefaultScope: ScopeOnce}
}

func (n *Noop) AnnounceJoin(_ context.Context, _, _, _ string) (bool, error) {
	return n.ApproveJoins, nil
}

func (n *Noop) AskApproval(_ context.Context, _, _, _, _ string, _ []ApprovalScope) (ApprovalScope, error) {
	if n.DefaultScope == "" {
		return ScopeOnce, nil
	}
	return n.DefaultScope, nil
}

func (n *Noop) PostToMission(_ context.Context, _, _ string) {}

func (n *Noop) NotifyFeedback(_ context.Context, _, _ string) {}
