// Package router implements the Hub's message classification and dispatch
// logic (spec §4.4): it decides whether an inbound message auto-proceeds or
// parks for operator approval, and forwards approved messages to the target
// daemon over a signed, circuit-broken HTTP client.
package router

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/intercom-mesh/intercom/internal/console"
	"github.com/intercom-mesh/intercom/internal/domain"
	"github.com/intercom-mesh/intercom/internal/policy"
)

// MachineLookup resolves a machine id to its daemon URL and shared token, as
// the Registry does. Kept as an interface so tests can substitute a fake.
type MachineLookup interface {
	GetMachine(ctx context.Context, machineID string) (domain.Machine, error)
}

// Router is the Hub's single routing entry point. One Router instance per Hub
// process; all of its fields are safe for concurrent use.
type Router struct {
	registry MachineLookup
	policy   *policy.Engine
	console  console.Adapter

	missions *missionStore
	threads  *threadMap

	mu          sync.Mutex
	clients     map[string]*DaemonClient
	limiters    map[string]*rate.Limiter
	approvalAge time.Duration // how long AskApproval is allowed to block before ErrApprovalTimeout

	routeTimeout   time.Duration
	rateLimitPerS  float64
	rateLimitBurst int
}

// Config bundles the Router's tunables, mirroring spec §5's per-operation
// timeout table.
type Config struct {
	RouteTimeout   time.Duration // default 10s, upper bound on daemon dispatch
	ApprovalWindow time.Duration // default 0 = no timeout (operator may take as long as needed)
	RateLimitPerS  float64       // per-machine token bucket rate on /api/route
	RateLimitBurst int
}

// New creates a Router. registry resolves machine addresses to daemon URLs and
// tokens; pol is the policy engine; consoleAdapter is the operator-facing
// approval surface.
func New(registry MachineLookup, pol *policy.Engine, consoleAdapter console.Adapter, cfg Config) *Router {
	if cfg.RouteTimeout == 0 {
		cfg.RouteTimeout = 10 * time.Second
	}
	if cfg.RateLimitPerS == 0 {
		cfg.RateLimitPerS = 5
	}
	if cfg.RateLimitBurst == 0 {
		cfg.RateLimitBurst = 10
	}
	return &Router{
		registry:       registry,
		policy:         pol,
		console:        consoleAdapter,
		missions:       newMissionStore(),
		threads:        newThreadMap(),
		clients:        make(map[string]*DaemonClient),
		limiters:       make(map[string]*rate.Limiter),
		approvalAge:    cfg.ApprovalWindow,
		routeTimeout:   cfg.RouteTimeout,
		rateLimitPerS:  cfg.RateLimitPerS,
		rateLimitBurst: cfg.RateLimitBurst,
	}
}

// Allow reports whether a message from machineID is within its rate budget.
// Called by the Hub's /api/route handler before Route.
func (r *Router) Allow(machineID string) bool {
	r.mu.Lock()
	lim, ok := r.limiters[machineID]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(r.rateLimitPerS), r.rateLimitBurst)
		r.limiters[machineID] = lim
	}
	r.mu.Unlock()
	return lim.Allow()
}

// Route classifies and dispatches msg, per spec §4.4's exhaustive switch over
// MessageType. It is the Hub's only entry point for POST /api/route.
func (r *Router) Route(ctx context.Context, msg domain.Message) (domain.RouteResult, error) {
	switch msg.Type {
	case domain.MessageAsk, domain.MessageSend, domain.MessageStartAgent:
		return r.routeMission(ctx, msg)
	case domain.MessageChat, domain.MessageReply:
		return r.routeChat(ctx, msg)
	case domain.MessageStatus, domain.MessageResponse, domain.MessageHistory:
		return r.routeQuery(ctx, msg)
	default:
		return domain.RouteResult{Status: domain.RouteError}, domain.NewDomainError("Router.Route", domain.ErrBadEnvelope, string(msg.Type))
	}
}

// routeMission handles ask/send/start_agent: these create a new mission and
// may park for approval before dispatch.
func (r *Router) routeMission(ctx context.Context, msg domain.Message) (domain.RouteResult, error) {
	decision := r.policy.Decide(msg)

	mission := r.missions.Create(msg.From, msg.To, msg.Type, msg.Payload.Prompt)

	switch decision.Decision {
	case domain.DecisionAutoDeny:
		r.missions.WithLock(func() {
			mission.Status = domain.MissionDenied
			mission.FailReason = "denied by policy"
		})
		return domain.RouteResult{Status: domain.RouteDenied, MissionID: mission.ID}, nil

	case domain.DecisionAutoAllow:
		if decision.Notify {
			r.console.NotifyFeedback(ctx, "auto_allow", fmt.Sprintf("%s -> %s (%s) auto-allowed", msg.From, msg.To, msg.Type))
		}
		return r.dispatchMission(ctx, mission, msg)

	default: // ask_operator
		approved, scope, err := r.askOperator(ctx, msg, decision.Label)
		if err != nil {
			r.missions.WithLock(func() {
				mission.Status = domain.MissionFailed
				mission.FailReason = err.Error()
			})
			return domain.RouteResult{Status: domain.RouteError, MissionID: mission.ID}, err
		}
		if !approved {
			r.missions.WithLock(func() {
				mission.Status = domain.MissionDenied
				mission.FailReason = "denied by operator"
			})
			r.recordGrant(scope, msg, mission.ID, false)
			return domain.RouteResult{Status: domain.RouteDenied, MissionID: mission.ID}, nil
		}
		r.recordGrant(scope, msg, mission.ID, true)
		return r.dispatchMission(ctx, mission, msg)
	}
}

// routeChat handles chat/reply: delivered to the target's active session
// inbox if one exists, else reported as no_active_session. A Mission is
// created for every chat/reply so the operator console has something to
// post visibility notes against (spec §3, §4.4 step 6).
func (r *Router) routeChat(ctx context.Context, msg domain.Message) (domain.RouteResult, error) {
	decision := r.policy.Decide(msg)

	threadID := msg.Payload.ThreadID
	if threadID == "" {
		threadID = NewThreadID()
	}
	thread := r.threads.GetOrCreate(threadID, msg.From, msg.To, msg.MissionID)

	resolved := msg
	if resolved.To == "" {
		resolved.To = thread.OtherParticipant(resolved.From)
	}

	mission := r.missions.Create(resolved.From, resolved.To, resolved.Type, resolved.Payload.Message)

	switch decision.Decision {
	case domain.DecisionAutoDeny:
		r.missions.WithLock(func() {
			mission.Status = domain.MissionDenied
			mission.FailReason = "denied by policy"
		})
		return domain.RouteResult{Status: domain.RouteDenied, MissionID: mission.ID, ThreadID: thread.ID}, nil
	case domain.DecisionAutoAllow:
		if decision.Notify {
			r.console.NotifyFeedback(ctx, "auto_allow", fmt.Sprintf("%s -> %s chat auto-allowed", resolved.From, resolved.To))
		}
	default:
		approved, scope, err := r.askOperator(ctx, resolved, decision.Label)
		if err != nil {
			r.missions.WithLock(func() {
				mission.Status = domain.MissionFailed
				mission.FailReason = err.Error()
			})
			return domain.RouteResult{Status: domain.RouteError, MissionID: mission.ID, ThreadID: thread.ID}, err
		}
		if !approved {
			r.missions.WithLock(func() {
				mission.Status = domain.MissionDenied
				mission.FailReason = "denied by operator"
			})
			r.recordGrant(scope, resolved, mission.ID, false)
			return domain.RouteResult{Status: domain.RouteDenied, MissionID: mission.ID, ThreadID: thread.ID}, nil
		}
		r.recordGrant(scope, resolved, mission.ID, true)
	}

	status, err := r.deliverChat(ctx, resolved, thread.ID)
	r.missions.WithLock(func() {
		if status == domain.RouteDelivered {
			mission.Status = domain.MissionCompleted
			return
		}
		mission.Status = domain.MissionFailed
		mission.FailReason = string(status)
	})
	note := fmt.Sprintf("%s -> %s chat: %s", resolved.From, resolved.To, status)
	if err != nil {
		note = fmt.Sprintf("%s: %s", note, err.Error())
	}
	r.console.PostToMission(ctx, mission.ID, note)
	return domain.RouteResult{Status: status, MissionID: mission.ID, ThreadID: thread.ID}, err
}

// routeQuery handles status/response/history: these read mission state and
// never require operator approval (spec §4.4 — queries are not actions).
func (r *Router) routeQuery(_ context.Context, msg domain.Message) (domain.RouteResult, error) {
	mission, err := r.missions.Get(msg.MissionID)
	if err != nil {
		return domain.RouteResult{Status: domain.RouteError}, err
	}
	return domain.RouteResult{Status: domain.RouteDelivered, MissionID: mission.ID}, nil
}

// Mission returns the mission record for id, used by GET /api/missions/{id}.
func (r *Router) Mission(id string) (*domain.Mission, error) {
	return r.missions.Get(id)
}

func (r *Router) askOperator(ctx context.Context, msg domain.Message, label string) (approved bool, scope domain.GrantScope, err error) {
	if r.approvalAge > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.approvalAge)
		defer cancel()
	}
	preview := msg.Payload.Message
	if preview == "" {
		preview = msg.Payload.Prompt
	}
	scopes := []console.ApprovalScope{console.ScopeOnce, console.ScopeMission, console.ScopeSession, console.ScopeAlwaysAllow}

	opScope, err := r.console.AskApproval(ctx, msg.From, msg.To, string(msg.Type), label+": "+preview, scopes)
	if err != nil {
		return false, "", domain.NewDomainError("Router.askOperator", domain.ErrApprovalTimeout, err.Error())
	}
	switch opScope {
	case console.ScopeDenied:
		return false, "", nil
	case console.ScopeMission:
		return true, domain.ScopeMission, nil
	case console.ScopeSession, console.ScopeAlwaysAllow:
		return true, domain.ScopeSession, nil
	default: // once
		return true, "", nil
	}
}

// recordGrant stores the operator's scope decision under missionID — the
// mission/thread's own freshly allocated id, never msg.MissionID, since the
// caller-supplied mission id is empty on the very first ask/chat and only
// becomes meaningful once echoed back in a later message (spec invariant:
// a second ask citing the same mission id must not re-prompt).
func (r *Router) recordGrant(scope domain.GrantScope, msg domain.Message, missionID string, allow bool) {
	if scope == "" {
		return
	}
	r.policy.Record(scope, msg.From, msg.To, missionID, allow)
}

func (r *Router) dispatchMission(ctx context.Context, mission *domain.Mission, msg domain.Message) (domain.RouteResult, error) {
	machineID, projectID, ok := splitAddress(msg.To)
	if !ok {
		r.failMission(mission, "malformed recipient address")
		return domain.RouteResult{Status: domain.RouteError, MissionID: mission.ID}, domain.NewDomainError("Router.dispatchMission", domain.ErrBadEnvelope, msg.To)
	}

	client, err := r.clientFor(ctx, machineID)
	if err != nil {
		r.failMission(mission, err.Error())
		return domain.RouteResult{Status: domain.RouteUnreachable, MissionID: mission.ID}, err
	}

	dctx, cancel := context.WithTimeout(ctx, r.routeTimeout)
	defer cancel()

	resp, err := client.StartAgent(dctx, startAgentRequest{
		MissionID:    mission.ID,
		FromAgent:    msg.From,
		ToProject:    projectID,
		Prompt:       msg.Payload.Prompt,
		Cwd:          msg.Payload.Cwd,
		AllowedPaths: msg.Payload.AllowedPaths,
	})
	if err != nil {
		r.failMission(mission, err.Error())
		return domain.RouteResult{Status: domain.RouteUnreachable, MissionID: mission.ID}, err
	}

	r.missions.WithLock(func() {
		mission.Status = domain.MissionRunning
		mission.DaemonMissionID = resp.MissionID
	})
	r.console.PostToMission(ctx, mission.ID, fmt.Sprintf("%s -> %s: mission started", msg.From, msg.To))
	return domain.RouteResult{Status: domain.RouteDelivered, MissionID: mission.ID}, nil
}

// deliverChat attempts delivery with one retry on transient failure — chat
// delivery is idempotent (spec §5: "a single retry after 1s backoff is
// permitted only for idempotent chat delivery").
func (r *Router) deliverChat(ctx context.Context, msg domain.Message, threadID string) (domain.RouteStatus, error) {
	machineID, projectID, ok := splitAddress(msg.To)
	if !ok {
		return domain.RouteError, domain.NewDomainError("Router.deliverChat", domain.ErrBadEnvelope, msg.To)
	}

	client, err := r.clientFor(ctx, machineID)
	if err != nil {
		return domain.RouteUnreachable, err
	}

	req := deliverRequest{ToProject: projectID, FromAgent: msg.From, ThreadID: threadID, Message: msg.Payload.Message}

	dctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	resp, err := client.Deliver(dctx, req)
	cancel()
	if err != nil {
		time.Sleep(1 * time.Second)
		dctx2, cancel2 := context.WithTimeout(ctx, 2*time.Second)
		resp, err = client.Deliver(dctx2, req)
		cancel2()
		if err != nil {
			return domain.RouteUnreachable, err
		}
	}
	if resp.Status == "" {
		return domain.RouteDelivered, nil
	}
	return resp.Status, nil
}

func (r *Router) failMission(mission *domain.Mission, reason string) {
	r.missions.WithLock(func() {
		mission.Status = domain.MissionFailed
		mission.FailReason = reason
	})
}

func (r *Router) clientFor(ctx context.Context, machineID string) (*DaemonClient, error) {
	r.mu.Lock()
	client, ok := r.clients[machineID]
	r.mu.Unlock()
	if ok {
		return client, nil
	}

	m, err := r.registry.GetMachine(ctx, machineID)
	if err != nil {
		return nil, domain.NewDomainError("Router.clientFor", domain.ErrUnreachable, err.Error())
	}
	if m.Status != domain.MachineStatusApproved || m.Token == "" {
		return nil, domain.NewDomainError("Router.clientFor", domain.ErrUnreachable, "machine not approved")
	}

	client = NewDaemonClient(machineID, m.Token, m.DaemonURL, 10*time.Second)
	r.mu.Lock()
	r.clients[machineID] = client
	r.mu.Unlock()
	return client, nil
}

// splitAddress parses a "machine_id/project_id" agent address.
func splitAddress(addr string) (machineID, projectID string, ok bool) {
	i := strings.IndexByte(addr, '/')
	if i < 0 {
		return "", "", false
	}
	return addr[:i], addr[i+1:], true
}
