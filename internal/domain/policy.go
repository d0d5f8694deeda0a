package domain

// ApprovalMode is the action a matched policy rule prescribes (spec §4.3).
type ApprovalMode string

const (
	ApprovalNever       ApprovalMode = "never"
	ApprovalAlwaysAllow ApprovalMode = "always_allow"
	ApprovalOnce        ApprovalMode = "once"
	ApprovalMission     ApprovalMode = "mission"
	ApprovalSession     ApprovalMode = "session"
)

// Rule is one ordered entry of the policy file's rules list. First match wins.
type Rule struct {
	From            string       `yaml:"from"`
	To              string       `yaml:"to"`
	Type            string       `yaml:"type,omitempty"` // any/ask/send/chat/... empty = any
	MessagePattern  string       `yaml:"message_pattern,omitempty"`
	Approval        ApprovalMode `yaml:"approval"`
	Label           string       `yaml:"label"`
}

// Defaults is the policy file's top-level default rule, applied when no
// rule matches.
type Defaults struct {
	RequireApproval ApprovalMode `yaml:"require_approval"`
}

// Policy is the parsed contents of the YAML policy file (spec §6).
type Policy struct {
	Defaults Defaults `yaml:"defaults"`
	Rules    []Rule   `yaml:"rules"`
}

// GrantScope is the key space a runtime grant is recorded under.
type GrantScope string

const (
	ScopeMission GrantScope = "mission"
	ScopeSession GrantScope = "session"
)

// Decision is the result of evaluating a message against the policy.
type Decision string

const (
	DecisionAutoAllow   Decision = "auto_allow"
	DecisionAutoDeny    Decision = "auto_deny"
	DecisionAskOperator Decision = "ask_operator"
)

// PolicyDecision is the outcome of policy.Decide: what to do, and — when
// AskOperator — the label/prompt to show the operator.
type PolicyDecision struct {
	Decision Decision
	Label    string
	Notify   bool // true for always_allow: auto-allow but still notify
}
