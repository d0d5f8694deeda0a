// Package policy implements the stateless rule matcher and runtime-grant
// cache described in spec §4.3. Decide is pure (no I/O); Record mutates the
// in-memory grant cache.
package policy

import (
	"path/filepath"
	"regexp"
	"sync"

	"github.com/intercom-mesh/intercom/internal/domain"
)

// Engine evaluates messages against an ordered rule list plus a runtime
// grant cache. Safe for concurrent use.
type Engine struct {
	mu     sync.RWMutex
	policy domain.Policy
	grants map[grantKey]bool // true = allow, false = deny
}

type grantKey struct {
	scope     domain.GrantScope
	from      string
	to        string
	missionID string
}

// New creates an Engine from a parsed policy file.
func New(p domain.Policy) *Engine {
	return &Engine{
		policy: p,
		grants: make(map[grantKey]bool),
	}
}

// SetPolicy atomically replaces the rule set (e.g. on config reload).
// Existing runtime grants are preserved.
func (e *Engine) SetPolicy(p domain.Policy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.policy = p
}

// Decide evaluates msg against the rules and runtime grants. It performs no
// I/O and has no side effects; callers pass the decision to Record once the
// message is actually dispatched or the operator responds.
func (e *Engine) Decide(msg domain.Message) domain.PolicyDecision {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if msg.MissionID != "" {
		if allow, ok := e.grants[grantKey{scope: domain.ScopeMission, missionID: msg.MissionID}]; ok {
			if allow {
				return domain.PolicyDecision{Decision: domain.DecisionAutoAllow}
			}
			return domain.PolicyDecision{Decision: domain.DecisionAutoDeny}
		}
	}
	if allow, ok := e.grants[grantKey{scope: domain.ScopeSession, from: msg.From, to: msg.To}]; ok {
		if allow {
			return domain.PolicyDecision{Decision: domain.DecisionAutoAllow}
		}
		return domain.PolicyDecision{Decision: domain.DecisionAutoDeny}
	}

	rule, ok := matchRule(e.policy.Rules, msg)
	mode := e.policy.Defaults.RequireApproval
	label := "default policy"
	if ok {
		mode = rule.Approval
		label = rule.Label
	} else if mode == "" {
		// Missing target rule: spec §4.4 failure policy — treat as ask once.
		mode = domain.ApprovalOnce
		label = "no matching rule"
	}

	switch mode {
	case domain.ApprovalNever:
		return domain.PolicyDecision{Decision: domain.DecisionAutoAllow}
	case domain.ApprovalAlwaysAllow:
		return domain.PolicyDecision{Decision: domain.DecisionAutoAllow, Notify: true}
	case domain.ApprovalOnce, domain.ApprovalMission, domain.ApprovalSession:
		return domain.PolicyDecision{Decision: domain.DecisionAskOperator, Label: label}
	default:
		return domain.PolicyDecision{Decision: domain.DecisionAskOperator, Label: label}
	}
}

// Record stores a runtime grant or denial for the given scope. allow=false
// records a negative grant that short-circuits future Decide calls for the
// same scope to AutoDeny.
func (e *Engine) Record(scope domain.GrantScope, from, to, missionID string, allow bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var key grantKey
	switch scope {
	case domain.ScopeMission:
		key = grantKey{scope: scope, missionID: missionID}
	case domain.ScopeSession:
		key = grantKey{scope: scope, from: from, to: to}
	default:
		return
	}
	e.grants[key] = allow
}

// matchRule finds the first rule matching msg, in declaration order.
func matchRule(rules []domain.Rule, msg domain.Message) (domain.Rule, bool) {
	for _, r := range rules {
		if r.From != "" && !globMatch(r.From, msg.From) {
			continue
		}
		if r.To != "" && !globMatch(r.To, msg.To) {
			continue
		}
		if r.Type != "" && r.Type != "any" && !typeMatches(r.Type, msg.Type) {
			continue
		}
		if r.MessagePattern != "" {
			re, err := regexp.Compile(r.MessagePattern)
			if err != nil || !re.MatchString(msg.Payload.Message+msg.Payload.Prompt) {
				continue
			}
		}
		return r, true
	}
	return domain.Rule{}, false
}

func typeMatches(ruleType string, msgType domain.MessageType) bool {
	return ruleType == string(msgType)
}

// globMatch reports whether pattern (a filepath.Match-style glob) matches s.
// A bare "*" matches every agent address; inside a longer pattern "*" stops
// at '/', so "box1/*" matches "box1/home". An invalid pattern never matches.
func globMatch(pattern, s string) bool {
	if pattern == "*" {
		return true
	}
	ok, err := filepath.Match(pattern, s)
	if err != nil {
		return false
	}
	return ok
}
