package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/intercom-mesh/intercom/internal/console"
	"github.com/intercom-mesh/intercom/internal/domain"
	"github.com/intercom-mesh/intercom/internal/policy"
)

type fakeRegistry struct {
	machines map[string]domain.Machine
}

func (f *fakeRegistry) GetMachine(_ context.Context, machineID string) (domain.Machine, error) {
	m, ok := f.machines[machineID]
	if !ok {
		return domain.Machine{}, domain.NewSubSystemError("machine", "fakeRegistry.GetMachine", domain.ErrNotFound, machineID)
	}
	return m, nil
}

func testDaemon(t *testing.T, startStatus int) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/mission/start", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(startStatus)
		_ = json.NewEncoder(w).Encode(startAgentResponse{MissionID: "daemon-m-1"})
	})
	mux.HandleFunc("/session/deliver", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(deliverResponse{Status: domain.RouteDelivered})
	})
	return httptest.NewServer(mux)
}

func testRouter(t *testing.T, pol domain.Policy, consoleAdapter console.Adapter, daemonURL string) *Router {
	t.Helper()
	reg := &fakeRegistry{machines: map[string]domain.Machine{
		"box2": {ID: "box2", Status: domain.MachineStatusApproved, Token: "shared-secret", DaemonURL: daemonURL},
	}}
	return New(reg, policy.New(pol), consoleAdapter, Config{RouteTimeout: 2 * time.Second})
}

func TestRouteAskAutoAllowDispatchesMission(t *testing.T) {
	srv := testDaemon(t, http.StatusOK)
	defer srv.Close()

	pol := domain.Policy{Defaults: domain.Defaults{RequireApproval: domain.ApprovalNever}}
	r := testRouter(t, pol, console.NewNoop(), srv.URL)

	result, err := r.Route(context.Background(), domain.Message{
		From: "box1/home", To: "box2/home", Type: domain.MessageAsk,
		Payload: domain.Payload{Prompt: "run the tests"},
	})
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if result.Status != domain.RouteDelivered {
		t.Fatalf("status = %v, want delivered", result.Status)
	}
	mission, err := r.Mission(result.MissionID)
	if err != nil {
		t.Fatalf("Mission() error = %v", err)
	}
	if mission.Status != domain.MissionRunning {
		t.Fatalf("mission status = %v, want running", mission.Status)
	}
}

func TestRouteAskOperatorDenyNeverDispatches(t *testing.T) {
	pol := domain.Policy{Defaults: domain.Defaults{RequireApproval: domain.ApprovalOnce}}
	r := testRouter(t, pol, console.NewNoop(), "http://unused.invalid")

	noop := console.NewNoop()
	noop.ApproveJoins = false
	noop.DefaultScope = console.ScopeDenied
	r.console = noop

	result, err := r.Route(context.Background(), domain.Message{
		From: "box1/home", To: "box2/home", Type: domain.MessageAsk,
		Payload: domain.Payload{Prompt: "do something"},
	})
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if result.Status != domain.RouteDenied {
		t.Fatalf("status = %v, want denied", result.Status)
	}
	mission, err := r.Mission(result.MissionID)
	if err != nil {
		t.Fatalf("Mission() error = %v", err)
	}
	if mission.Status != domain.MissionDenied {
		t.Fatalf("mission status = %v, want denied", mission.Status)
	}
}

func TestRouteChatDeliversToActiveSession(t *testing.T) {
	srv := testDaemon(t, http.StatusOK)
	defer srv.Close()

	pol := domain.Policy{Defaults: domain.Defaults{RequireApproval: domain.ApprovalNever}}
	r := testRouter(t, pol, console.NewNoop(), srv.URL)

	result, err := r.Route(context.Background(), domain.Message{
		From: "box1/home", To: "box2/home", Type: domain.MessageChat,
		Payload: domain.Payload{Message: "hey, status?"},
	})
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if result.Status != domain.RouteDelivered {
		t.Fatalf("status = %v, want delivered", result.Status)
	}
	if result.ThreadID == "" {
		t.Fatal("expected a thread id to be assigned")
	}
}

// countingConsole wraps Noop, counting AskApproval calls and recording every
// PostToMission text so tests can assert on operator-visibility behaviour
// without a real chat backend.
type countingConsole struct {
	*console.Noop
	askCalls int
	posts    []string
}

func newCountingConsole(scope console.ApprovalScope) *countingConsole {
	n := console.NewNoop()
	n.DefaultScope = scope
	return &countingConsole{Noop: n}
}

func (c *countingConsole) AskApproval(ctx context.Context, from, to, msgType, preview string, scopes []console.ApprovalScope) (console.ApprovalScope, error) {
	c.askCalls++
	return c.Noop.AskApproval(ctx, from, to, msgType, preview, scopes)
}

func (c *countingConsole) PostToMission(ctx context.Context, missionID, text string) {
	c.posts = append(c.posts, text)
}

func TestRouteAskMissionScopeGrantSkipsSecondPrompt(t *testing.T) {
	srv := testDaemon(t, http.StatusOK)
	defer srv.Close()

	pol := domain.Policy{Defaults: domain.Defaults{RequireApproval: domain.ApprovalOnce}}
	cc := newCountingConsole(console.ScopeMission)
	r := testRouter(t, pol, cc, srv.URL)

	first, err := r.Route(context.Background(), domain.Message{
		From: "box1/home", To: "box2/home", Type: domain.MessageAsk,
		Payload: domain.Payload{Prompt: "run the tests"},
	})
	if err != nil {
		t.Fatalf("first Route() error = %v", err)
	}
	if first.Status != domain.RouteDelivered {
		t.Fatalf("first status = %v, want delivered", first.Status)
	}
	if cc.askCalls != 1 {
		t.Fatalf("askCalls after first ask = %d, want 1", cc.askCalls)
	}

	second, err := r.Route(context.Background(), domain.Message{
		From: "box1/home", To: "box2/home", Type: domain.MessageAsk,
		Payload:   domain.Payload{Prompt: "run them again"},
		MissionID: first.MissionID,
	})
	if err != nil {
		t.Fatalf("second Route() error = %v", err)
	}
	if second.Status != domain.RouteDelivered {
		t.Fatalf("second status = %v, want delivered", second.Status)
	}
	if cc.askCalls != 1 {
		t.Fatalf("askCalls after second ask citing the same mission id = %d, want 1 (no re-prompt)", cc.askCalls)
	}
}

func TestRouteChatCreatesMissionAndNotifiesConsole(t *testing.T) {
	srv := testDaemon(t, http.StatusOK)
	defer srv.Close()

	pol := domain.Policy{Defaults: domain.Defaults{RequireApproval: domain.ApprovalNever}}
	cc := newCountingConsole(console.ScopeOnce)
	r := testRouter(t, pol, cc, srv.URL)

	result, err := r.Route(context.Background(), domain.Message{
		From: "box1/home", To: "box2/home", Type: domain.MessageChat,
		Payload: domain.Payload{Message: "hey, status?"},
	})
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if result.MissionID == "" {
		t.Fatal("expected a mission id to be assigned to a routed chat")
	}
	mission, err := r.Mission(result.MissionID)
	if err != nil {
		t.Fatalf("Mission() error = %v", err)
	}
	if mission.Status != domain.MissionCompleted {
		t.Fatalf("mission status = %v, want completed", mission.Status)
	}
	if len(cc.posts) == 0 {
		t.Fatal("expected a visibility note posted to the console for the chat delivery")
	}
}

func TestRouteReplyResolvesRecipientFromThread(t *testing.T) {
	srv := testDaemon(t, http.StatusOK)
	defer srv.Close()

	pol := domain.Policy{Defaults: domain.Defaults{RequireApproval: domain.ApprovalNever}}
	reg := &fakeRegistry{machines: map[string]domain.Machine{
		"box1": {ID: "box1", Status: domain.MachineStatusApproved, Token: "shared-secret", DaemonURL: srv.URL},
		"box2": {ID: "box2", Status: domain.MachineStatusApproved, Token: "shared-secret", DaemonURL: srv.URL},
	}}
	r := New(reg, policy.New(pol), console.NewNoop(), Config{RouteTimeout: 2 * time.Second})

	opened, err := r.Route(context.Background(), domain.Message{
		From: "box1/home", To: "box2/home", Type: domain.MessageChat,
		Payload: domain.Payload{Message: "ping"},
	})
	if err != nil {
		t.Fatalf("Route() chat error = %v", err)
	}

	reply, err := r.Route(context.Background(), domain.Message{
		From: "box2/home", Type: domain.MessageReply,
		Payload: domain.Payload{Message: "pong", ThreadID: opened.ThreadID},
	})
	if err != nil {
		t.Fatalf("Route() reply error = %v", err)
	}
	if reply.Status != domain.RouteDelivered {
		t.Fatalf("reply status = %v, want delivered (recipient should resolve via the thread)", reply.Status)
	}
	if reply.ThreadID != opened.ThreadID {
		t.Fatalf("reply thread id = %s, want %s", reply.ThreadID, opened.ThreadID)
	}
}

func TestRouteUnreachableDaemonFailsMission(t *testing.T) {
	pol := domain.Policy{Defaults: domain.Defaults{RequireApproval: domain.ApprovalNever}}
	r := testRouter(t, pol, console.NewNoop(), "http://127.0.0.1:1") // nothing listens here

	result, err := r.Route(context.Background(), domain.Message{
		From: "box1/home", To: "box2/home", Type: domain.MessageAsk,
		Payload: domain.Payload{Prompt: "run the tests"},
	})
	if err == nil {
		t.Fatal("expected an error from an unreachable daemon")
	}
	if result.Status != domain.RouteUnreachable {
		t.Fatalf("status = %v, want unreachable", result.Status)
	}
	mission, merr := r.Mission(result.MissionID)
	if merr != nil {
		t.Fatalf("Mission() error = %v", merr)
	}
	if mission.Status != domain.MissionFailed {
		t.Fatalf("mission status = %v, want failed", mission.Status)
	}
}

func TestRouteStatusQueryReturnsExistingMission(t *testing.T) {
	srv := testDaemon(t, http.StatusOK)
	defer srv.Close()
	pol := domain.Policy{Defaults: domain.Defaults{RequireApproval: domain.ApprovalNever}}
	r := testRouter(t, pol, console.NewNoop(), srv.URL)

	created, err := r.Route(context.Background(), domain.Message{
		From: "box1/home", To: "box2/home", Type: domain.MessageAsk,
		Payload: domain.Payload{Prompt: "go"},
	})
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}

	result, err := r.Route(context.Background(), domain.Message{
		From: "box1/home", To: "box2/home", Type: domain.MessageStatus,
		MissionID: created.MissionID,
	})
	if err != nil {
		t.Fatalf("Route() status query error = %v", err)
	}
	if result.MissionID != created.MissionID {
		t.Fatalf("mission id = %s, want %s", result.MissionID, created.MissionID)
	}
}

func TestAllowRateLimitsPerMachine(t *testing.T) {
	pol := domain.Policy{Defaults: domain.Defaults{RequireApproval: domain.ApprovalNever}}
	r := testRouter(t, pol, console.NewNoop(), "http://unused.invalid")
	r.rateLimitPerS = 1
	r.rateLimitBurst = 1

	if !r.Allow("box1") {
		t.Fatal("first call should be allowed")
	}
	if r.Allow("box1") {
		t.Fatal("second immediate call should be rate-limited")
	}
	if !r.Allow("box2") {
		t.Fatal("a different machine should have its own budget")
	}
}
