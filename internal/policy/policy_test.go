package policy

import (
	"testing"

	"github.com/intercom-mesh/intercom/internal/domain"
)

func TestDecideNeverAutoAllowsWithoutNotify(t *testing.T) {
	p := domain.Policy{Rules: []domain.Rule{
		{From: "a/*", To: "b/*", Approval: domain.ApprovalNever, Label: "trusted pair"},
	}}
	e := New(p)

	d := e.Decide(domain.Message{From: "a/home", To: "b/p", Type: domain.MessageChat})
	if d.Decision != domain.DecisionAutoAllow || d.Notify {
		t.Fatalf("got %+v, want auto-allow without notify", d)
	}
}

func TestDecideAlwaysAllowNotifies(t *testing.T) {
	p := domain.Policy{Rules: []domain.Rule{
		{From: "*", To: "*", Approval: domain.ApprovalAlwaysAllow, Label: "visible"},
	}}
	e := New(p)

	d := e.Decide(domain.Message{From: "a/home", To: "b/p", Type: domain.MessageAsk})
	if d.Decision != domain.DecisionAutoAllow || !d.Notify {
		t.Fatalf("got %+v, want auto-allow with notify", d)
	}
}

func TestDecideOnceAsksOperator(t *testing.T) {
	p := domain.Policy{Rules: []domain.Rule{
		{From: "*", To: "*", Approval: domain.ApprovalOnce, Label: "ask every time"},
	}}
	e := New(p)

	d := e.Decide(domain.Message{From: "a/home", To: "b/p", Type: domain.MessageAsk})
	if d.Decision != domain.DecisionAskOperator {
		t.Fatalf("got %+v, want ask_operator", d)
	}
}

func TestFirstRuleWins(t *testing.T) {
	p := domain.Policy{Rules: []domain.Rule{
		{From: "a/*", To: "*", Approval: domain.ApprovalNever, Label: "first"},
		{From: "*", To: "*", Approval: domain.ApprovalOnce, Label: "second"},
	}}
	e := New(p)

	d := e.Decide(domain.Message{From: "a/home", To: "b/p", Type: domain.MessageChat})
	if d.Decision != domain.DecisionAutoAllow {
		t.Fatalf("got %+v, want first rule (auto-allow) to win", d)
	}
}

func TestMissionGrantShortCircuitsFurtherPrompts(t *testing.T) {
	p := domain.Policy{Rules: []domain.Rule{
		{From: "*", To: "*", Approval: domain.ApprovalMission, Label: "ask once per mission"},
	}}
	e := New(p)
	msg := domain.Message{From: "a/home", To: "b/p", Type: domain.MessageAsk, MissionID: "mx"}

	first := e.Decide(msg)
	if first.Decision != domain.DecisionAskOperator {
		t.Fatalf("first Decide() = %+v, want ask_operator", first)
	}
	e.Record(domain.ScopeMission, msg.From, msg.To, msg.MissionID, true)

	second := e.Decide(msg)
	if second.Decision != domain.DecisionAutoAllow {
		t.Fatalf("second Decide() = %+v, want auto_allow after mission grant", second)
	}
}

func TestSessionGrantAppliesToPairRegardlessOfMission(t *testing.T) {
	p := domain.Policy{Rules: []domain.Rule{
		{From: "*", To: "*", Approval: domain.ApprovalSession, Label: "ask once per pair"},
	}}
	e := New(p)
	e.Record(domain.ScopeSession, "a/home", "b/p", "", true)

	d := e.Decide(domain.Message{From: "a/home", To: "b/p", Type: domain.MessageChat, MissionID: "different-mission"})
	if d.Decision != domain.DecisionAutoAllow {
		t.Fatalf("got %+v, want auto_allow from session grant", d)
	}
}

func TestNegativeGrantShortCircuitsToDeny(t *testing.T) {
	p := domain.Policy{}
	e := New(p)
	e.Record(domain.ScopeMission, "a/home", "b/p", "mx", false)

	d := e.Decide(domain.Message{From: "a/home", To: "b/p", Type: domain.MessageAsk, MissionID: "mx"})
	if d.Decision != domain.DecisionAutoDeny {
		t.Fatalf("got %+v, want auto_deny", d)
	}
}

func TestMissingRuleTreatedAsAskOnce(t *testing.T) {
	e := New(domain.Policy{})
	d := e.Decide(domain.Message{From: "a/home", To: "b/p", Type: domain.MessageAsk})
	if d.Decision != domain.DecisionAskOperator {
		t.Fatalf("got %+v, want ask_operator for missing rule", d)
	}
}

func TestMessagePatternMustMatch(t *testing.T) {
	p := domain.Policy{Rules: []domain.Rule{
		{From: "*", To: "*", MessagePattern: `^disk `, Approval: domain.ApprovalNever, Label: "disk ops"},
	}}
	e := New(p)

	allowed := e.Decide(domain.Message{From: "a/home", To: "b/p", Type: domain.MessageAsk, Payload: domain.Payload{Prompt: "disk usage"}})
	if allowed.Decision != domain.DecisionAutoAllow {
		t.Fatalf("matching pattern: got %+v", allowed)
	}

	e2 := New(domain.Policy{Rules: p.Rules, Defaults: domain.Defaults{RequireApproval: domain.ApprovalOnce}})
	notMatching := e2.Decide(domain.Message{From: "a/home", To: "b/p", Type: domain.MessageAsk, Payload: domain.Payload{Prompt: "list network"}})
	if notMatching.Decision != domain.DecisionAskOperator {
		t.Fatalf("non-matching pattern should fall through to default: got %+v", notMatching)
	}
}
